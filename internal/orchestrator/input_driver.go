package orchestrator

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

// InputDriver pulls packets from one input file and dispatches them to
// decode or stream-copy.
type InputDriver struct {
	collab *Collaborators
	log    zerolog.Logger
	cfg    loopConfig

	outputsByIndex map[int]*OutputFile
	subs           *SubtitleBridge
}

// loopConfig carries the subset of global options the input driver and
// transcode step need (copy-ts, start-at-zero, exit-on-error). Kept
// separate from config.Config so this package has no import-cycle back to
// internal/config.
type loopConfig struct {
	CopyTS      bool
	StartAtZero bool
	ExitOnError bool
}

func newInputDriver(c *Collaborators, log zerolog.Logger, cfg loopConfig, outputsByIndex map[int]*OutputFile, subs *SubtitleBridge) *InputDriver {
	return &InputDriver{collab: c, log: log, cfg: cfg, outputsByIndex: outputsByIndex, subs: subs}
}

// ProcessInputFile is the top-level dispatch for one input file: pulls
// exactly one packet and routes it.
func (d *InputDriver) ProcessInputFile(ctx context.Context, f *InputFile) error {
	dmx := d.collab.Demuxers[f.Index]
	pkt, sig, err := dmx.GetPacket(ctx)

	switch sig {
	case PullAgain:
		f.Eagain = true
		return ErrAgain

	case PullLoop:
		for _, is := range f.Streams {
			if err := d.flushDecoder(ctx, is); err != nil {
				return err
			}
		}
		return ErrAgain

	case PullEOF:
		for _, is := range f.Streams {
			if is.Discard {
				continue
			}
			if _, err := d.ProcessInputPacket(ctx, f, is, nil, false); err != nil && !errors.Is(err, ErrEndOfFile) {
				return err
			}
		}
		for _, is := range f.Streams {
			for _, os := range is.RawOutputs {
				// Stream-copy outputs have no separate encoder stage, so
				// both bits are set together.
				os.Finished |= MuxerFinished | EncoderFinished
			}
		}
		f.EOFReached = true
		return ErrEndOfFile
	}

	if err != nil {
		d.log.Error().Err(err).Int("file", f.Index).Msg("demuxer error")
		if d.cfg.ExitOnError {
			return &FatalError{Component: "demuxer", Err: err}
		}
		return nil
	}

	// Success: sub2video heartbeat to every subtitle stream in the file,
	// then dispatch to the addressed stream.
	if d.collab.Subs != nil {
		for _, is := range f.Streams {
			if is.Discard || !is.IsSubtitle {
				continue
			}
			_ = d.collab.Subs.Sub2VideoHeartbeat(ctx, is, pkt.PTS)
		}
	}

	is := f.Streams[pkt.StreamIndex]
	_, err = d.ProcessInputPacket(ctx, f, is, pkt, false)
	return err
}

func (d *InputDriver) flushDecoder(ctx context.Context, is *InputStream) error {
	if !is.DecodingNeeded {
		return nil
	}
	dec := d.collab.Decoders[StreamKey(is.FileIndex, is.Index)]
	if dec == nil {
		return nil
	}
	_, err := dec.Flush(ctx)
	return err
}

// ProcessInputPacket implements the process_input_packet(stream, pkt,
// no_eof) contract. pkt is nil to flush decoders at true EOF. It returns
// ErrEndOfFile when the decoder signalled EOF (or a nil packet was given
// without decoding needed).
func (d *InputDriver) ProcessInputPacket(ctx context.Context, f *InputFile, is *InputStream, pkt *Packet, noEOF bool) (bool, error) {
	if is.DecodingNeeded {
		dec := d.collab.Decoders[StreamKey(is.FileIndex, is.Index)]
		if dec != nil {
			var err error
			if pkt == nil {
				_, err = dec.Flush(ctx)
			} else {
				_, err = dec.Decode(ctx, pkt)
			}
			if err != nil {
				is.DecodeErrors++
				d.log.Debug().Err(err).Int("file", is.FileIndex).Int("stream", is.Index).Msg("decode error")
			} else if pkt != nil {
				is.FramesDecoded++
			}
		}
	}

	durationExceeded := pkt != nil && CheckRecordingLimit(f, pkt.DtsEst, d.cfg.CopyTS, d.cfg.StartAtZero)

	for _, os := range is.RawOutputs {
		if durationExceeded {
			os.Finished |= MuxerFinished | EncoderFinished
			continue
		}
		if pkt != nil {
			if err := d.collab.Mux.StreamCopy(ctx, os, pkt); err != nil {
				return false, &FatalError{Component: "muxer", Err: err}
			}
			os.LastMuxDTS = pkt.DTS
			os.HasMuxDTS = true
			os.PacketsWritten.Add(1)

			if d.subs != nil {
				if of := d.outputsByIndex[os.FileIndex]; of != nil {
					if err := d.subs.TriggerFixSubDurationHeartbeat(ctx, of, os, pkt); err != nil {
						return false, &FatalError{Component: "subtitle", Err: err}
					}
				}
			}
		}
	}

	if pkt == nil && !noEOF {
		return true, ErrEndOfFile
	}
	return false, nil
}

// CheckRecordingLimit folds the recording-time-limit check into a
// standalone helper so InputDriver callers (and tests) don't need to
// duplicate the copy-ts-aware arithmetic. StartTime and EffectiveStart are
// both container/copy-ts adjustments: they only apply when copyTS is
// active, and EffectiveStart additionally only applies when startAtZero is
// not set (mirroring ffmpeg.c's "if (copy_ts) { ... if (!start_at_zero)
// ... }" nesting).
func CheckRecordingLimit(f *InputFile, dtsEst int64, copyTS, startAtZero bool) bool {
	if f.RecordingTime <= 0 {
		return false
	}
	limit := f.RecordingTime
	if copyTS {
		limit += f.StartTime
		if !startAtZero {
			limit += f.EffectiveStart
		}
	}
	return dtsEst >= limit
}
