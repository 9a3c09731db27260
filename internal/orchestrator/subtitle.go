package orchestrator

import "context"

// SubtitleBridge implements three subtitle bridges: sub2video (re-rasterize
// the last subtitle at every new input pts so a subtitle-to-video filter
// sees continuous frames), the newly-decoded-subtitle duration extension
// (extend a subtitle's end display time to the pts of the next one in the
// same stream, once it is known), and the fix-sub-duration heartbeat
// (re-emit the last subtitle at the pts of any output keyframe so a
// subtitle stream with a long gap between cues does not stall downstream
// consumers).
type SubtitleBridge struct {
	subs SubtitleProcessor
}

func newSubtitleBridge(subs SubtitleProcessor) *SubtitleBridge {
	return &SubtitleBridge{subs: subs}
}

// Sub2VideoHeartbeat re-emits the last subtitle seen on is, at pts, to every
// downstream sub2video filter input. It is a no-op when is has never carried
// a subtitle (LastSubtitle is nil) since there is nothing to rasterize yet.
func (b *SubtitleBridge) Sub2VideoHeartbeat(ctx context.Context, is *InputStream, pts int64) error {
	if b.subs == nil || is.LastSubtitle == nil {
		return nil
	}
	return b.subs.Sub2VideoHeartbeat(ctx, is, pts)
}

// extendPriorDuration extends the end display time of is's previously-held
// subtitle to newPTS, the pts of the subtitle that just arrived. It replaces
// LastSubtitle with a deep copy of incoming so later mutation of the
// caller's subtitle (e.g. its own buffer being reused by the collaborator)
// cannot alias state the core still holds.
func (b *SubtitleBridge) extendPriorDuration(is *InputStream, incoming *Subtitle) {
	if is.LastSubtitle != nil && uint32(incoming.PTS) > is.LastSubtitle.StartDisplay {
		is.LastSubtitle.EndDisplay = uint32(incoming.PTS)
	}
	is.LastSubtitle = incoming.DeepCopy()
}

// ProcessSubtitle routes a freshly-decoded subtitle through the prior-
// duration extension and then the collaborator's filter chain.
func (b *SubtitleBridge) ProcessSubtitle(ctx context.Context, is *InputStream, sub *Subtitle) error {
	b.extendPriorDuration(is, sub)
	if b.subs == nil {
		return nil
	}
	return b.subs.Process(ctx, is, sub)
}

// TriggerFixSubDurationHeartbeat implements the fix-sub-duration heartbeat:
// on a keyframe in an output packet, every sibling OutputStream in the same
// OutputFile whose input is a decoded subtitle stream gets its last
// emitted subtitle deep-copied, re-pts'd to signalPTS, and fed back through
// the subtitle-processing collaborator. The stream that generated the
// heartbeat is skipped, as is any sibling with nothing yet to re-emit or a
// subtitle that wouldn't actually advance (signalPTS <= prior pts).
func (b *SubtitleBridge) TriggerFixSubDurationHeartbeat(ctx context.Context, of *OutputFile, source *OutputStream, pkt *Packet) error {
	if b.subs == nil || pkt == nil || !pkt.KeyFrame {
		return nil
	}
	for _, sibling := range of.Streams {
		if sibling == source {
			continue
		}
		is := sibling.Input
		if is == nil || !is.DecodingNeeded || !is.IsSubtitle {
			continue
		}
		if err := b.fixSubDurationHeartbeat(ctx, is, pkt.PTS); err != nil {
			return err
		}
	}
	return nil
}

func (b *SubtitleBridge) fixSubDurationHeartbeat(ctx context.Context, is *InputStream, signalPTS int64) error {
	prev := is.LastSubtitle
	if prev == nil || len(prev.Rects) == 0 || signalPTS <= prev.PTS {
		return nil
	}
	sub := prev.DeepCopy()
	sub.PTS = signalPTS
	return b.subs.Process(ctx, is, sub)
}
