package orchestrator

import (
	"sync/atomic"
	"time"
)

// OutputFinished is a monotonic bitfield: once a bit is set it is never
// cleared.
type OutputFinished uint8

const (
	EncoderFinished OutputFinished = 1 << iota
	MuxerFinished
)

func (f OutputFinished) Done() bool {
	return f&EncoderFinished != 0 && f&MuxerFinished != 0
}

// Any reports whether either stage has finished. The selector uses this,
// not Done, to decide whether a stream is still schedulable: once either
// its encoder or its muxer side is finished there is nothing further this
// stream can produce, so it drops out of contention even if the other bit
// never follows.
func (f OutputFinished) Any() bool {
	return f != 0
}

// InputFile is one open input container.
type InputFile struct {
	Index int
	Path  string

	Streams []*InputStream

	Eagain        bool
	EOFReached    bool
	RecordingTime int64 // 0 means unlimited
	StartTime     int64
	EffectiveStart int64 // start time adjusted for -copyts

	// DurationHints carries last-frame-duration hints back to the demuxer
	// collaborator. A buffered channel models a thread-message-queue; a
	// full queue is itself a form of backpressure the Input Driver must
	// tolerate.
	DurationHints chan time.Duration
}

// InputStream is one demuxed stream of an InputFile.
type InputStream struct {
	FileIndex  int
	Index      int
	FilterIns  []int // filter-graph input indices this stream feeds
	RawOutputs []*OutputStream // stream-copy consumers

	FramesDecoded int64
	DecodeErrors  int64

	Discard        bool
	DecodingNeeded bool
	IsSubtitle     bool // true when this stream decodes to subtitle rects

	LastSubtitle *Subtitle // last-emitted subtitle, for the heartbeat bridges
}

// ErrorRate returns the decode error rate: errors / (frames + errors). It
// is 0 when nothing has been decoded yet.
func (is *InputStream) ErrorRate() float64 {
	total := is.FramesDecoded + is.DecodeErrors
	if total == 0 {
		return 0
	}
	return float64(is.DecodeErrors) / float64(total)
}

// OutputFile is one open output container.
type OutputFile struct {
	Index   int
	Path    string
	Streams []*OutputStream

	SyncQueue    bool // whether this file has a cross-stream sync queue
	Size         int64
}

// OutputStream is one muxed stream, represented as a tagged variant over
// {stream-copy, encoded, attachment}.
type OutputStream struct {
	FileIndex int
	Index     int

	// Input is the (file,stream) this output is wired from, or nil for an
	// attachment stream with no upstream media.
	Input *InputStream

	Kind OutputKind

	HasFilter     bool
	FilterLastPTS int64 // filter.last_pts; only meaningful when HasFilter
	HasFilterPTS  bool

	LastMuxDTS int64
	HasMuxDTS  bool

	Finished    OutputFinished
	Initialized bool
	InputsDone  bool
	Unavailable bool

	PacketsWritten atomic.Uint64
	Quality        int
	LastDropped    bool

	SqIdxEncode int // negative if this stream has no sync-queue slot

	AttachmentFilename string
}

// OutputKind tags the OutputStream variant.
type OutputKind int

const (
	KindStreamCopy OutputKind = iota
	KindEncoded
	KindAttachment
)

// opts returns the selector's notion of "how far behind in media time" this
// stream is. The exact sentinel value for "unknown" is not contract; any
// real dts must beat it.
func (os *OutputStream) opts() int64 {
	if os.HasFilter && os.HasFilterPTS {
		return os.FilterLastPTS
	}
	if os.HasMuxDTS {
		return os.LastMuxDTS
	}
	return minOpts
}

// minOpts is the "nothing observed yet" floor for opts(); any real dts is
// greater than this by construction (int64 dts values never approach the
// type's minimum in practice).
const minOpts = int64(-1) << 62

// FilterGraph is the core's view of an external filter-graph collaborator:
// an index, a possibly-uninitialized handle, and whether it is "simple"
// (one input, one output).
type FilterGraph struct {
	Index    int
	Graph    any // opaque handle owned by the FilterGraphEngine collaborator
	IsSimple bool
	Inputs   []int // InputStream indices feeding this graph
	Outputs  []*OutputStream
}
