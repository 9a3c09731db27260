// Package orchestrator implements the single-threaded cooperative scheduler
// at the heart of a transcoder: it pulls demuxed packets from inputs, routes
// them through decoders, filter graphs and encoders (all external
// collaborators), and drives muxed packets to outputs. See DESIGN.md for how
// this package's pieces are grounded in the example corpus.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Options carries the subset of global configuration the Orchestrator
// itself consults. Command-line/config parsing is an external collaborator
// (internal/config); this struct is the translation boundary.
type Options struct {
	CopyTS        bool
	StartAtZero   bool
	StatsPeriod   time.Duration
	Benchmark     bool
	BenchmarkAll  bool
	MaxErrorRate  float64
	XError        bool
	ExitOnError   bool
	Interactive   bool

	ProgressSink io.Writer // optional -progress destination
	VStatsSink   io.Writer // optional -vstats_file destination
	Human        io.Writer // typically os.Stderr

	TerminalFD int
}

// Orchestrator owns every piece of mutable scheduling state for one
// transcode run and ties the Input Driver, Output Selector, Transcode Step,
// Progress Reporter and Cleanup stages together into the main loop. It is
// constructed once per run; there is no supported way to reuse one across
// runs.
type Orchestrator struct {
	log    zerolog.Logger
	collab *Collaborators
	opts   Options

	inputs  []*InputFile
	outputs []*OutputFile
	graphs  []*FilterGraph

	graphByIndex map[int]*FilterGraph

	driver *InputDriver
	step   *TranscodeStep
	subs   *SubtitleBridge
	prog   *ProgressReporter
	vstats *vstatsWriter
	bench  *BenchmarkRecorder
	sig    *SignalMonitor
	term   *TerminalControl

	allDumped func() bool

	errRateExceeded bool
}

// New assembles an Orchestrator. inputs/outputs/graphs must already be
// fully constructed: the file and graph sets are fixed after construction,
// and Orchestrator never adds or removes one.
func New(log zerolog.Logger, collab *Collaborators, inputs []*InputFile, outputs []*OutputFile, graphs []*FilterGraph, opts Options) (*Orchestrator, error) {
	if len(inputs) == 0 {
		return nil, ErrNoInputs
	}
	if len(outputs) == 0 {
		return nil, ErrNoOutputs
	}

	byIdx := make(map[int]*FilterGraph, len(graphs))
	for _, fg := range graphs {
		byIdx[fg.Index] = fg
	}

	// Every run gets its own id so log lines from concurrent runs (or runs
	// replayed from a log archive) can be correlated, the way each go-vod
	// manager instance threads a generated session id through its logging.
	log = log.With().Str("run_id", uuid.NewString()).Logger()

	o := &Orchestrator{
		log:          log,
		collab:       collab,
		opts:         opts,
		inputs:       inputs,
		outputs:      outputs,
		graphs:       graphs,
		graphByIndex: byIdx,
	}

	outputsByIndex := make(map[int]*OutputFile, len(outputs))
	for _, of := range outputs {
		outputsByIndex[of.Index] = of
	}

	o.subs = newSubtitleBridge(collab.Subs)
	o.driver = newInputDriver(collab, log, loopConfig{CopyTS: opts.CopyTS, StartAtZero: opts.StartAtZero, ExitOnError: opts.ExitOnError}, outputsByIndex, o.subs)
	o.step = newTranscodeStep(o.driver, collab, inputs)
	o.step.onDupDrop = func(decoded int64, dup, drop int) {
		if o.prog != nil {
			o.prog.AddFrames(decoded, dup, drop)
		}
	}

	o.allDumped = func() bool { return true } // overridden by SetDumpedProbe once the muxer collaborator is wired

	o.vstats = newVStatsWriter(opts.VStatsSink)
	var vstatsOut io.Writer
	if o.vstats != nil {
		vstatsOut = o.vstats
	}
	o.prog = NewProgressReporter(opts.Human, opts.ProgressSink, vstatsOut, opts.StatsPeriod, opts.CopyTS, func() bool { return o.allDumped() })

	bench, err := NewBenchmarkRecorder(opts.Benchmark, opts.BenchmarkAll)
	if err != nil {
		return nil, err
	}
	o.bench = bench

	term, err := NewTerminalControl(opts.TerminalFD, opts.Interactive)
	if err != nil {
		return nil, err
	}
	o.term = term

	o.sig = NewSignalMonitor()

	return o, nil
}

// SetDumpedProbe overrides the "every output file has been dumped" predicate
// the Progress Reporter suppresses its first report on. The muxer
// collaborator is the source of truth for this; tests may supply a fixed
// true/false.
func (o *Orchestrator) SetDumpedProbe(f func() bool) {
	o.allDumped = f
}

// Run executes the main loop to completion and returns the terminal error,
// if any, after cleanup has run. The returned error is already folded
// through the trailer-write merge rule.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer o.sig.Stop()
	defer o.term.Restore()

	o.log.Info().Msg(o.streamMap())

	MarkTranscodeInitDone()
	o.bench.Start()

	start := time.Now()
	o.prog.Start(start)

	var loopErr error
loop:
	for {
		if o.sig.ReceivedSigterm() {
			break
		}

		now := time.Now()

		if o.opts.Interactive {
			if o.pollQuit() {
				break
			}
		}

		os, err := SelectOutput(o.outputs)
		switch {
		case errors.Is(err, ErrAgain):
			ClearRetryState(o.inputs, o.outputs)
			time.Sleep(10 * time.Millisecond)
			continue
		case errors.Is(err, ErrEndOfFile):
			o.log.Info().Msg("no more outputs")
			break loop
		case err != nil:
			loopErr = err
			break loop
		}

		if stepErr := o.step.Run(ctx, os, o.graphByIndex); stepErr != nil && !errors.Is(stepErr, ErrEndOfFile) {
			if errors.Is(stepErr, ErrAgain) {
				continue
			}
			o.log.Error().Err(stepErr).Msg("transcode step failed")
			loopErr = stepErr
			break loop
		}
		ClearRetryState(o.inputs, o.outputs)

		o.prog.Report(now, o.outputs)
		if o.opts.BenchmarkAll {
			o.bench.Sample()
		}
	}

	// Step 5: flush decoders for every input stream whose file did not
	// reach EOF.
	for _, f := range o.inputs {
		if f.EOFReached {
			continue
		}
		for _, is := range f.Streams {
			if _, err := o.driver.ProcessInputPacket(ctx, f, is, nil, true); err != nil && !errors.Is(err, ErrEndOfFile) {
				o.log.Warn().Err(err).Int("file", f.Index).Msg("flush on exit failed")
			}
		}
	}

	// Step 6: decode-error-rate ceiling.
	if o.opts.MaxErrorRate > 0 {
		for _, is := range AllInputs(o.inputs) {
			if rate := is.ErrorRate(); rate > o.opts.MaxErrorRate {
				o.errRateExceeded = true
				if loopErr == nil {
					loopErr = &ErrorRateExceeded{Rate: rate, Max: o.opts.MaxErrorRate}
				}
			}
		}
	}

	// Step 7: drain remaining encoder state.
	if o.collab.Enc != nil {
		if err := o.collab.Enc.Flush(ctx); err != nil && loopErr == nil {
			loopErr = &FatalError{Component: "encoder", Err: err}
		}
	}

	// Step 8: restore terminal (also deferred above; explicit call here
	// keeps the ordering visible even though Restore is idempotent).
	_ = o.term.Restore()

	// Step 9: write trailers, folding per-file errors with the
	// first-hard-failure-wins rule.
	var trailerErrs []error
	for _, of := range o.outputs {
		if o.collab.Mux == nil {
			continue
		}
		if err := o.collab.Mux.WriteTrailer(ctx, of); err != nil {
			o.log.Error().Err(err).Int("file", of.Index).Msg("write trailer failed")
			trailerErrs = append(trailerErrs, err)
		}
	}
	if merged := mergeTrailerErrors(trailerErrs); merged != nil && loopErr == nil {
		loopErr = merged
	}

	// Step 10: final progress report.
	o.prog.ReportFinal(time.Now(), o.outputs)

	cleanup := newCleanup(o.collab, o.log, o.graphs, o.outputs, o.inputs, o.vstats, nil)
	if err := cleanup.Run(ctx); err != nil && loopErr == nil {
		loopErr = err
	}

	if o.opts.Benchmark {
		o.log.Info().Msg(o.bench.Report())
	}

	return loopErr
}

// ExitCode translates the error Run returned into the process exit code.
func (o *Orchestrator) ExitCode(err error) int {
	return ExitCode(err, o.sig.ReceivedSigterm())
}

func (o *Orchestrator) pollQuit() bool {
	return o.term.PollQuit()
}

// streamMap renders the per-output-stream wiring, one line per OutputStream,
// the way print_stream_maps logs "Stream #a:b -> #c:d (copy)" once per
// output at startup.
func (o *Orchestrator) streamMap() string {
	var b strings.Builder
	b.WriteString("Stream mapping:")
	for _, of := range o.outputs {
		for _, os := range of.Streams {
			b.WriteByte('\n')
			if os.Input != nil {
				fmt.Fprintf(&b, "  Stream #%d:%d -> #%d:%d", os.Input.FileIndex, os.Input.Index, os.FileIndex, os.Index)
			} else {
				fmt.Fprintf(&b, "  Stream #%d:%d (attachment: %s)", os.FileIndex, os.Index, os.AttachmentFilename)
			}
			switch os.Kind {
			case KindStreamCopy:
				b.WriteString(" (copy)")
			case KindEncoded:
				b.WriteString(" (encode)")
			}
		}
	}
	return b.String()
}
