package orchestrator

import (
	"context"
	"io"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Cleanup performs the ordered teardown, strictly inverse to construction:
// filter graphs, output files (which drains and closes muxers), input
// files, statistics files, the hardware device registry, miscellaneous
// option storage, then the network subsystem. Every step is idempotent and
// safe to call regardless of how far construction reached, matching the
// exit-hook contract.
type Cleanup struct {
	collab *Collaborators
	log    zerolog.Logger

	graphs  []*FilterGraph
	outputs []*OutputFile
	inputs  []*InputFile

	vstats     *vstatsWriter
	progressOut closer

	done bool
}

type closer interface {
	Close() error
}

func newCleanup(c *Collaborators, log zerolog.Logger, graphs []*FilterGraph, outputs []*OutputFile, inputs []*InputFile, vstats *vstatsWriter, progressOut closer) *Cleanup {
	return &Cleanup{collab: c, log: log, graphs: graphs, outputs: outputs, inputs: inputs, vstats: vstats, progressOut: progressOut}
}

// Run executes the teardown. It is safe to call more than once; only the
// first call does anything. Errors from independent output files are
// gathered concurrently via an errgroup and folded with mergeTrailerErrors,
// since closing N independent muxers has no ordering requirement among
// themselves (only relative to the stages before and after it).
func (cu *Cleanup) Run(ctx context.Context) error {
	if cu.done {
		return nil
	}
	cu.done = true

	// 1. Filter graphs carry no collaborator-visible close step beyond
	// dropping references; the FilterGraphEngine owns their lifetime.
	cu.graphs = nil

	// 2. Output files: drain sync queues, write trailers already happened
	// in the main loop's step 9; here we just Close each muxer.
	var eg errgroup.Group
	for _, of := range cu.outputs {
		of := of
		eg.Go(func() error {
			if cu.collab.Mux == nil {
				return nil
			}
			if err := cu.collab.Mux.Close(ctx, of); err != nil {
				cu.log.Warn().Err(err).Int("file", of.Index).Msg("close output failed")
				return err
			}
			return nil
		})
	}
	outputsErr := eg.Wait()

	// 3. Input files carry nothing further to release beyond the demuxer's
	// own lifetime, owned by the collaborator.
	cu.inputs = nil

	// 4. Statistics files.
	var vstatsErr error
	if cu.vstats != nil {
		vstatsErr = cu.vstats.Close()
	}
	var progressErr error
	if cu.progressOut != nil {
		progressErr = cu.progressOut.Close()
	}

	// 5. Hardware device registry.
	if cu.collab.HWDevices != nil {
		cu.collab.HWDevices()
	}

	// 6. Miscellaneous option storage: nothing process-global to release in
	// this implementation (configuration is owned by value, not by a
	// global allocator).

	// 7. Network subsystem.
	if cu.collab.NetworkFin != nil {
		cu.collab.NetworkFin()
	}

	return mergeTrailerErrors([]error{outputsErr, vstatsErr, progressErr})
}

// vstatsWriter is the -vstats_file sink. It implements io.Writer itself so
// it can be handed to ProgressReporter directly, and Close so Cleanup can
// close the underlying file uniformly alongside the progress sink.
type vstatsWriter struct {
	w io.Writer
}

// newVStatsWriter wraps w, or returns nil if w is nil so callers can treat
// "no -vstats_file configured" and "wrap it" uniformly.
func newVStatsWriter(w io.Writer) *vstatsWriter {
	if w == nil {
		return nil
	}
	return &vstatsWriter{w: w}
}

func (v *vstatsWriter) Write(p []byte) (int, error) {
	if v == nil || v.w == nil {
		return len(p), nil
	}
	return v.w.Write(p)
}

func (v *vstatsWriter) Close() error {
	if v == nil || v.w == nil {
		return nil
	}
	if c, ok := v.w.(closer); ok {
		return c.Close()
	}
	return nil
}
