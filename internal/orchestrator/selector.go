package orchestrator

// SelectOutput chooses the next OutputStream to advance:
//
//  1. Scan all OutputStreams in iteration order.
//  2. If any stream is not yet initialized, not finished, and has no
//     pending input completion, pick it immediately (first-pass priming).
//  3. Otherwise compute opts() per stream.
//  4. Among non-finished streams, select the smallest opts (earliest in
//     media time); ties resolve by iteration order.
//  5. If no candidate exists, return ErrEndOfFile.
//  6. If the chosen stream's Unavailable flag is set, return ErrAgain.
func SelectOutput(files []*OutputFile) (*OutputStream, error) {
	all := AllOutputs(files)

	for _, os := range all {
		if !os.Finished.Any() && !os.Initialized && !os.InputsDone {
			return os, nil
		}
	}

	var best *OutputStream
	var bestOpts int64
	for _, os := range all {
		if os.Finished.Any() {
			continue
		}
		v := os.opts()
		if best == nil || v < bestOpts {
			best = os
			bestOpts = v
		}
	}

	if best == nil {
		return nil, ErrEndOfFile
	}
	if best.Unavailable {
		return nil, ErrAgain
	}
	return best, nil
}

// ClearRetryState clears every InputFile's Eagain flag and every
// OutputStream's Unavailable flag. The main loop calls this before its
// backpressure sleep and after every transcode step that succeeds: eagain
// is transient per input file, cleared at the top of any scheduling round
// that makes progress.
func ClearRetryState(inputs []*InputFile, outputs []*OutputFile) {
	for _, f := range inputs {
		f.Eagain = false
	}
	for _, os := range AllOutputs(outputs) {
		os.Unavailable = false
	}
}
