// Package fakebus is an in-memory, deterministic implementation of the
// orchestrator's demuxer, decoder, filter-graph, muxer and encoder
// collaborator interfaces; it provides no SubtitleProcessor. It exists so the scheduler core can
// be exercised end-to-end in tests without a real ffmpeg process, the way
// go-vod's own tests stub the filesystem instead of touching a real disk.
package fakebus

import (
	"context"
	"sync"

	"github.com/praetorian-labs/ffcore/internal/orchestrator"
)

// Bus wires a closed set of packets through stream-copy and a trivial
// pass-through filter graph. One Bus backs exactly one InputFile/OutputFile
// pair; tests construct one Bus per scenario.
type Bus struct {
	mu      sync.Mutex
	packets []orchestrator.Packet
	pos     int
	looped  bool
	loopsLeft int

	decodeFailEvery int // 0 disables; N means every Nth Decode call fails
	decodeCalls     int

	eofSent bool

	fileSize int64

	dumped bool
}

// NewBus builds a Bus that will replay packets in order, then signal EOF.
// loops is the number of additional passes after the first ("input marked
// for two loops" means loops=1 here).
func NewBus(packets []orchestrator.Packet, loops int) *Bus {
	return &Bus{packets: packets, loopsLeft: loops}
}

// FailDecodeEvery makes every Nth Decode call return an error, modelling a
// corrupt-input scenario for the error-rate gate end-to-end test.
func (b *Bus) FailDecodeEvery(n int) { b.decodeFailEvery = n }

// GetPacket implements orchestrator.Demuxer.
func (b *Bus) GetPacket(ctx context.Context) (*orchestrator.Packet, orchestrator.PullSignal, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pos >= len(b.packets) {
		if b.loopsLeft > 0 {
			b.loopsLeft--
			b.pos = 0
			b.looped = true
			return nil, orchestrator.PullLoop, nil
		}
		b.eofSent = true
		return nil, orchestrator.PullEOF, nil
	}

	pkt := b.packets[b.pos]
	b.pos++
	return &pkt, orchestrator.PullOK, nil
}

// Decode backs the orchestrator.Decoder returned by AsDecoder. It returns one
// frame per packet, or an error every decodeFailEvery-th call when configured.
func (b *Bus) Decode(ctx context.Context, pkt *orchestrator.Packet) ([]orchestrator.Frame, error) {
	b.mu.Lock()
	b.decodeCalls++
	calls := b.decodeCalls
	b.mu.Unlock()

	if b.decodeFailEvery > 0 && calls%b.decodeFailEvery == 0 {
		return nil, errDecode
	}
	return []orchestrator.Frame{{StreamIndex: pkt.StreamIndex, PTS: pkt.PTS, KeyFrame: pkt.KeyFrame}}, nil
}

// AsDecoder returns b as an orchestrator.Decoder. Bus itself cannot carry
// the decoder's Flush, since its Flush implements orchestrator.Encoders.
func (b *Bus) AsDecoder() orchestrator.Decoder { return busDecoder{b} }

type busDecoder struct{ b *Bus }

func (d busDecoder) Decode(ctx context.Context, pkt *orchestrator.Packet) ([]orchestrator.Frame, error) {
	return d.b.Decode(ctx, pkt)
}

// Flush implements orchestrator.Decoder; the fake holds no trailing frames.
func (d busDecoder) Flush(ctx context.Context) ([]orchestrator.Frame, error) {
	return nil, nil
}

// TranscodeStep implements orchestrator.FilterGraphEngine as an identity
// pass-through: the graph always "needs" its sole configured input, and
// Reap always reports zero dup/drop (no rate conversion in the fake bus).
func (b *Bus) TranscodeStep(ctx context.Context, fg *orchestrator.FilterGraph) (int, bool, error) {
	if len(fg.Inputs) == 0 {
		return 0, false, nil
	}
	return fg.Inputs[0], true, nil
}

// Reap implements orchestrator.FilterGraphEngine.
func (b *Bus) Reap(ctx context.Context, fg *orchestrator.FilterGraph) (int, int, error) {
	return 0, 0, nil
}

// StreamCopy implements orchestrator.Muxer: it just accounts bytes written.
func (b *Bus) StreamCopy(ctx context.Context, os *orchestrator.OutputStream, pkt *orchestrator.Packet) error {
	b.mu.Lock()
	b.fileSize += int64(len(pkt.Data))
	b.dumped = true
	b.mu.Unlock()
	return nil
}

// OutputPacket implements orchestrator.Muxer.
func (b *Bus) OutputPacket(ctx context.Context, os *orchestrator.OutputStream, pkt *orchestrator.Packet) error {
	return b.StreamCopy(ctx, os, pkt)
}

// WriteTrailer implements orchestrator.Muxer.
func (b *Bus) WriteTrailer(ctx context.Context, of *orchestrator.OutputFile) error {
	of.Size = b.fileSize
	return nil
}

// Close implements orchestrator.Muxer.
func (b *Bus) Close(ctx context.Context, of *orchestrator.OutputFile) error { return nil }

// FileSize implements orchestrator.Muxer.
func (b *Bus) FileSize(of *orchestrator.OutputFile) int64 { return b.fileSize }

// SendSyncQueueNull implements orchestrator.Muxer.
func (b *Bus) SendSyncQueueNull(of *orchestrator.OutputFile, sqIdx int) error { return nil }

// Flush implements orchestrator.Encoders.
func (b *Bus) Flush(ctx context.Context) error { return nil }

// EncStatsClose implements orchestrator.Encoders.
func (b *Bus) EncStatsClose(of *orchestrator.OutputFile) error { return nil }

// Dumped reports whether at least one packet has been muxed, standing in
// for the real muxer's "output file opened" signal.
func (b *Bus) Dumped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dumped
}

type decodeError struct{ s string }

func (e *decodeError) Error() string { return e.s }

var errDecode = &decodeError{"fakebus: simulated decode failure"}
