package orchestrator

import "context"

// TranscodeStep advances a single OutputStream chosen by the selector by
// exactly enough upstream work to make progress.
type TranscodeStep struct {
	driver *InputDriver
	collab *Collaborators
	inputs []*InputFile

	// onDupDrop folds the frames decoded by this step plus any per-reap
	// duplicate/drop counts into the owning Orchestrator's cumulative
	// totals. Nil is a valid no-op.
	onDupDrop func(decoded int64, dup, drop int)
}

func newTranscodeStep(d *InputDriver, c *Collaborators, inputs []*InputFile) *TranscodeStep {
	return &TranscodeStep{driver: d, collab: c, inputs: inputs}
}

// Run advances os. On ErrAgain from the input driver: if the owning file's
// Eagain is already set, os is marked Unavailable so the selector skips it
// next round, and Run returns ErrAgain for the caller to yield on. EOF is
// treated as success.
func (t *TranscodeStep) Run(ctx context.Context, os *OutputStream, graphByIndex map[int]*FilterGraph) error {
	var targetFileIndex int

	if os.HasFilter {
		fg := t.graphForOutput(os, graphByIndex)
		if fg == nil {
			return nil
		}
		neededInput, ok, err := t.collab.Graphs.TranscodeStep(ctx, fg)
		if err != nil {
			return err
		}
		if !ok {
			// Some other OutputStream sharing this graph may have been
			// advanced instead; yield without error.
			return nil
		}
		targetFileIndex = neededInput
	} else if os.Input != nil {
		targetFileIndex = os.Input.FileIndex
	} else {
		// Attachment stream: nothing upstream to advance.
		return nil
	}

	f := t.inputs[targetFileIndex]
	decodedBefore := sumFramesDecoded(f)
	err := t.driver.ProcessInputFile(ctx, f)
	switch {
	case err == ErrAgain:
		if f.Eagain {
			os.Unavailable = true
		}
		return ErrAgain
	case err == ErrEndOfFile:
		// treated as success
	case err != nil:
		return err
	}

	// Having taken at least one successful step, os leaves first-pass
	// priming; the selector now ranks it by opts() like every other
	// initialized stream.
	os.Initialized = true

	decoded := sumFramesDecoded(f) - decodedBefore

	if os.HasFilter {
		fg := t.graphForOutput(os, graphByIndex)
		if fg != nil {
			dup, drop, rerr := t.collab.Graphs.Reap(ctx, fg)
			if rerr != nil {
				return rerr
			}
			if t.onDupDrop != nil {
				t.onDupDrop(decoded, dup, drop)
			}
			return nil
		}
	}
	if t.onDupDrop != nil {
		t.onDupDrop(decoded, 0, 0)
	}
	return nil
}

// sumFramesDecoded totals FramesDecoded across every stream of f, used to
// measure how many frames a single ProcessInputFile call just decoded.
func sumFramesDecoded(f *InputFile) int64 {
	var total int64
	for _, is := range f.Streams {
		total += is.FramesDecoded
	}
	return total
}

func (t *TranscodeStep) graphForOutput(os *OutputStream, graphByIndex map[int]*FilterGraph) *FilterGraph {
	for _, fg := range graphByIndex {
		for _, o := range fg.Outputs {
			if o == os {
				return fg
			}
		}
	}
	return nil
}
