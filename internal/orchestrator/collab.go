package orchestrator

import "context"

// Packet is one demuxed access unit, plus the dts estimate the demuxer
// collaborator attaches in its opaque metadata.
type Packet struct {
	StreamIndex int
	PTS         int64
	DTS         int64
	DtsEst      int64
	Data        []byte
	KeyFrame    bool
	Duration    int64
}

// Frame is one decoded frame handed to a filter-graph input.
type Frame struct {
	StreamIndex int
	PTS         int64
	Data        []byte
	KeyFrame    bool
}

// Subtitle is a deep-copyable subtitle snapshot, used by the sub2video and
// fix-sub-duration heartbeats.
type Subtitle struct {
	Format        int
	PTS           int64
	StartDisplay  uint32
	EndDisplay    uint32
	Rects         []SubtitleRect
	// ASS is the raw ASS event payload, when present.
	ASS string
}

// SubtitleRect is one rendered region of a subtitle frame. Palette is only
// populated for bitmap rects (format 0) and is always fixed-size (256 BGRA
// entries) when present, matching libavcodec's AVSubtitleRect layout.
type SubtitleRect struct {
	X, Y, W, H int
	Palette    []byte
	Pict       []byte
	Text       string
}

// DeepCopy returns an independent copy of s. Copying preserves format, pts,
// display times, rect count and per-rect geometry/palette/text/ASS bytes. A
// nil subtitle copies to a nil subtitle.
func (s *Subtitle) DeepCopy() *Subtitle {
	if s == nil {
		return nil
	}
	out := &Subtitle{
		Format:       s.Format,
		PTS:          s.PTS,
		StartDisplay: s.StartDisplay,
		EndDisplay:   s.EndDisplay,
		ASS:          s.ASS,
	}
	if len(s.Rects) > 0 {
		out.Rects = make([]SubtitleRect, len(s.Rects))
		for i, r := range s.Rects {
			cr := SubtitleRect{X: r.X, Y: r.Y, W: r.W, H: r.H, Text: r.Text}
			if r.Palette != nil {
				cr.Palette = append([]byte(nil), r.Palette...)
			}
			if r.Pict != nil {
				cr.Pict = append([]byte(nil), r.Pict...)
			}
			out.Rects[i] = cr
		}
	}
	return out
}

// PullSignal classifies the result of one demuxer pull.
type PullSignal int

const (
	// PullOK means a packet was returned.
	PullOK PullSignal = iota
	// PullAgain means no packet is available right now; try later.
	PullAgain
	// PullLoop means the input looped back to its start; flush decoders.
	PullLoop
	// PullEOF means the input file is exhausted.
	PullEOF
)

// Demuxer pulls packets from one open input file (ifile_get_packet).
type Demuxer interface {
	GetPacket(ctx context.Context) (*Packet, PullSignal, error)
}

// Decoder turns packets for one input stream into zero or more frames,
// pushed to downstream filter-graph inputs.
type Decoder interface {
	Decode(ctx context.Context, pkt *Packet) ([]Frame, error)
	// Flush is called with a nil packet to drain trailing frames, both at
	// end-of-stream and during the post-loop-exit flush of every
	// not-yet-EOF input.
	Flush(ctx context.Context) ([]Frame, error)
}

// FilterGraphEngine advances one filter graph by exactly enough to make
// progress (fg_transcode_step) and reaps ready frames toward
// encoders/muxers (reap_filters).
type FilterGraphEngine interface {
	// TranscodeStep asks the graph to advance. needsInput is the index of
	// the InputStream the graph most needs fed to unblock; ok is false when
	// the graph has nothing more to do this round (some other output on the
	// graph may have advanced instead).
	TranscodeStep(ctx context.Context, fg *FilterGraph) (needsInput int, ok bool, err error)
	// Reap pushes any ready frames into encoders and muxers, returning how
	// many frames were duplicated or dropped by rate conversion.
	Reap(ctx context.Context, fg *FilterGraph) (dup, drop int, err error)
}

// Muxer performs output-file-side operations (of_streamcopy,
// of_output_packet, of_write_trailer, of_close, of_filesize).
type Muxer interface {
	StreamCopy(ctx context.Context, os *OutputStream, pkt *Packet) error
	OutputPacket(ctx context.Context, os *OutputStream, pkt *Packet) error
	WriteTrailer(ctx context.Context, of *OutputFile) error
	Close(ctx context.Context, of *OutputFile) error
	FileSize(of *OutputFile) int64
	// SendSyncQueueNull terminates a sync-queue slot; once sent it is never
	// reopened.
	SendSyncQueueNull(of *OutputFile, sqIdx int) error
}

// Encoders drains remaining encoder state at loop exit (enc_flush) and
// finalizes any per-output encoder stats sink.
type Encoders interface {
	Flush(ctx context.Context) error
	EncStatsClose(of *OutputFile) error
}

// SubtitleProcessor pushes a subtitle through its filter chain
// (process_subtitle) and re-emits sub2video heartbeats.
type SubtitleProcessor interface {
	Process(ctx context.Context, is *InputStream, sub *Subtitle) error
	Sub2VideoHeartbeat(ctx context.Context, is *InputStream, pts int64) error
}

// Collaborators bundles every external collaborator interface the core
// needs. Exactly one implementation is wired into an Orchestrator at
// construction; the scheduler never branches on which one.
type Collaborators struct {
	Demuxers   map[int]Demuxer // keyed by InputFile index
	Decoders   map[streamKey]Decoder
	Graphs     FilterGraphEngine
	Mux        Muxer
	Enc        Encoders
	Subs       SubtitleProcessor
	HWDevices  func()
	NetworkFin func()
}

type streamKey struct {
	file, stream int
}

func StreamKey(file, stream int) streamKey { return streamKey{file, stream} }
