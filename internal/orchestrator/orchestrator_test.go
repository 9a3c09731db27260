package orchestrator

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeBus mirrors internal/fakebus.Bus but lives in this package (not
// imported) to avoid a dependency cycle, since fakebus imports orchestrator
// for its interface types.
type fakeBus struct {
	packets         []Packet
	pos             int
	loopsLeft       int
	decodeFailEvery int
	decodeCalls     int
	fileSize        int64
	dumped          bool
}

func (b *fakeBus) GetPacket(ctx context.Context) (*Packet, PullSignal, error) {
	if b.pos >= len(b.packets) {
		if b.loopsLeft > 0 {
			b.loopsLeft--
			b.pos = 0
			return nil, PullLoop, nil
		}
		return nil, PullEOF, nil
	}
	pkt := b.packets[b.pos]
	b.pos++
	return &pkt, PullOK, nil
}

func (b *fakeBus) Decode(ctx context.Context, pkt *Packet) ([]Frame, error) {
	b.decodeCalls++
	if b.decodeFailEvery > 0 && b.decodeCalls%b.decodeFailEvery == 0 {
		return nil, errFakeDecode
	}
	return []Frame{{StreamIndex: pkt.StreamIndex, PTS: pkt.PTS}}, nil
}

func (b *fakeBus) Flush(ctx context.Context) ([]Frame, error) { return nil, nil }

func (b *fakeBus) TranscodeStep(ctx context.Context, fg *FilterGraph) (int, bool, error) {
	if len(fg.Inputs) == 0 {
		return 0, false, nil
	}
	return fg.Inputs[0], true, nil
}

func (b *fakeBus) Reap(ctx context.Context, fg *FilterGraph) (int, int, error) { return 0, 0, nil }

func (b *fakeBus) StreamCopy(ctx context.Context, os *OutputStream, pkt *Packet) error {
	b.fileSize += int64(len(pkt.Data)) + 1
	b.dumped = true
	return nil
}

func (b *fakeBus) OutputPacket(ctx context.Context, os *OutputStream, pkt *Packet) error {
	return b.StreamCopy(ctx, os, pkt)
}

func (b *fakeBus) WriteTrailer(ctx context.Context, of *OutputFile) error {
	of.Size = b.fileSize
	return nil
}

func (b *fakeBus) Close(ctx context.Context, of *OutputFile) error { return nil }

func (b *fakeBus) FileSize(of *OutputFile) int64 { return b.fileSize }

func (b *fakeBus) SendSyncQueueNull(of *OutputFile, sqIdx int) error { return nil }

func (b *fakeBus) FlushEnc(ctx context.Context) error { return nil }
func (b *fakeBus) EncStatsClose(of *OutputFile) error { return nil }

type encAdapter struct{ b *fakeBus }

func (e encAdapter) Flush(ctx context.Context) error            { return e.b.FlushEnc(ctx) }
func (e encAdapter) EncStatsClose(of *OutputFile) error { return e.b.EncStatsClose(of) }

type decodeErr struct{}

func (decodeErr) Error() string { return "fake decode failure" }

var errFakeDecode error = decodeErr{}

func buildScenario(t *testing.T, packets []Packet, loops int) (*Orchestrator, *fakeBus, *InputFile, *OutputFile) {
	t.Helper()

	bus := &fakeBus{packets: packets, loopsLeft: loops}

	videoIn := &InputStream{FileIndex: 0, Index: 0}
	audioIn := &InputStream{FileIndex: 0, Index: 1}
	inFile := &InputFile{Index: 0, Path: "in.mp4", Streams: []*InputStream{videoIn, audioIn}}

	videoOut := &OutputStream{FileIndex: 0, Index: 0, Input: videoIn, Kind: KindStreamCopy}
	audioOut := &OutputStream{FileIndex: 0, Index: 1, Input: audioIn, Kind: KindStreamCopy}
	outFile := &OutputFile{Index: 0, Path: "out.mp4", Streams: []*OutputStream{videoOut, audioOut}}

	videoIn.RawOutputs = []*OutputStream{videoOut}
	audioIn.RawOutputs = []*OutputStream{audioOut}

	collab := &Collaborators{
		Demuxers: map[int]Demuxer{0: bus},
		Decoders: map[streamKey]Decoder{
			StreamKey(0, 0): bus,
			StreamKey(0, 1): bus,
		},
		Mux: bus,
		Enc: encAdapter{bus},
	}

	var progressBuf bytes.Buffer
	opts := Options{
		StatsPeriod:  time.Millisecond,
		ProgressSink: &progressBuf,
		MaxErrorRate: 1.0,
	}

	o, err := New(testLogger(), collab, []*InputFile{inFile}, []*OutputFile{outFile}, nil, opts)
	require.NoError(t, err)
	o.SetDumpedProbe(bus.isDumped)

	return o, bus, inFile, outFile
}

func (b *fakeBus) isDumped() bool { return b.dumped }

func TestScenario1_StreamCopyNoFiltering(t *testing.T) {
	packets := []Packet{
		{StreamIndex: 0, PTS: 0, DTS: 0, DtsEst: 0, Data: []byte{1}},
		{StreamIndex: 1, PTS: 0, DTS: 0, DtsEst: 0, Data: []byte{2}},
		{StreamIndex: 0, PTS: 1000, DTS: 1000, DtsEst: 1000, Data: []byte{3}},
		{StreamIndex: 1, PTS: 1000, DTS: 1000, DtsEst: 1000, Data: []byte{4}},
	}

	o, bus, _, outFile := buildScenario(t, packets, 0)
	err := o.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, ExitOK, o.ExitCode(err))

	require.Equal(t, int64(len(packets))+int64(4), bus.fileSize) // 4 bytes of data + 4 one-byte markers

	for _, os := range outFile.Streams {
		require.Greater(t, os.PacketsWritten.Load(), uint64(0))
	}
}

func TestScenario2_RecordingTimeTruncation(t *testing.T) {
	packets := []Packet{
		{StreamIndex: 0, DtsEst: 1_000_000, Data: []byte{1}},
		{StreamIndex: 0, DtsEst: 2_000_000, Data: []byte{1}},
		{StreamIndex: 0, DtsEst: 3_000_000, Data: []byte{1}},
		{StreamIndex: 0, DtsEst: 4_000_000, Data: []byte{1}},
	}

	o, _, inFile, outFile := buildScenario(t, packets, 0)
	inFile.RecordingTime = 3_000_000

	err := o.Run(context.Background())
	require.NoError(t, err)

	// The video stream (index 0) should have closed at the packet whose
	// dts_est first reached the recording-time boundary; audio never saw
	// any packets in this scenario and simply hits EOF.
	require.True(t, outFile.Streams[0].Finished&MuxerFinished != 0)
}

func TestScenario4_ErrorRateGateExceeded(t *testing.T) {
	var packets []Packet
	for i := 0; i < 10; i++ {
		packets = append(packets, Packet{StreamIndex: 0, DtsEst: int64(i) * 1000, Data: []byte{byte(i)}})
	}

	bus := &fakeBus{packets: packets}

	videoIn := &InputStream{FileIndex: 0, Index: 0, DecodingNeeded: true}
	inFile := &InputFile{Index: 0, Streams: []*InputStream{videoIn}}
	videoOut := &OutputStream{FileIndex: 0, Index: 0, Input: videoIn, Kind: KindStreamCopy}
	outFile := &OutputFile{Index: 0, Streams: []*OutputStream{videoOut}}
	videoIn.RawOutputs = []*OutputStream{videoOut}

	// 6 of 10 decode calls fail: a 60% error rate against a 50% ceiling.
	failPattern := []bool{true, true, true, false, true, true, false, true, false, false}
	callIdx := 0

	collab := &Collaborators{
		Demuxers: map[int]Demuxer{0: bus},
		Decoders: map[streamKey]Decoder{StreamKey(0, 0): decodeFunc(func(ctx context.Context, pkt *Packet) ([]Frame, error) {
			idx := callIdx
			callIdx++
			if idx < len(failPattern) && failPattern[idx] {
				return nil, errFakeDecode
			}
			return []Frame{{StreamIndex: pkt.StreamIndex, PTS: pkt.PTS}}, nil
		})},
		Mux: bus,
		Enc: encAdapter{bus},
	}

	opts := Options{StatsPeriod: time.Millisecond, MaxErrorRate: 0.5}
	o, err := New(testLogger(), collab, []*InputFile{inFile}, []*OutputFile{outFile}, nil, opts)
	require.NoError(t, err)
	o.SetDumpedProbe(func() bool { return true })

	runErr := o.Run(context.Background())
	require.Error(t, runErr)
	var rateErr *ErrorRateExceeded
	require.ErrorAs(t, runErr, &rateErr)
	require.Equal(t, ExitErrorRate, o.ExitCode(runErr))
}

// decodeFunc adapts a plain function to the Decoder interface for tests
// that need per-call control finer than fakeBus offers.
type decodeFunc func(ctx context.Context, pkt *Packet) ([]Frame, error)

func (f decodeFunc) Decode(ctx context.Context, pkt *Packet) ([]Frame, error) { return f(ctx, pkt) }
func (f decodeFunc) Flush(ctx context.Context) ([]Frame, error)               { return nil, nil }

func TestScenario6_ProgressToFile(t *testing.T) {
	var packets []Packet
	for i := 0; i < 50; i++ {
		packets = append(packets, Packet{StreamIndex: 0, DtsEst: int64(i) * 40_000, Data: []byte{0}})
	}

	bus := &fakeBus{packets: packets}
	videoIn := &InputStream{FileIndex: 0, Index: 0}
	inFile := &InputFile{Index: 0, Streams: []*InputStream{videoIn}}
	videoOut := &OutputStream{FileIndex: 0, Index: 0, Input: videoIn, Kind: KindStreamCopy}
	outFile := &OutputFile{Index: 0, Streams: []*OutputStream{videoOut}}
	videoIn.RawOutputs = []*OutputStream{videoOut}

	var sink bytes.Buffer
	collab := &Collaborators{
		Demuxers: map[int]Demuxer{0: bus},
		Decoders: map[streamKey]Decoder{StreamKey(0, 0): bus},
		Mux:      bus,
		Enc:      encAdapter{bus},
	}
	opts := Options{StatsPeriod: 500 * time.Microsecond, ProgressSink: &sink, MaxErrorRate: 1.0}
	o, err := New(testLogger(), collab, []*InputFile{inFile}, []*OutputFile{outFile}, nil, opts)
	require.NoError(t, err)
	o.SetDumpedProbe(bus.isDumped)

	require.NoError(t, o.Run(context.Background()))

	out := sink.String()
	require.Contains(t, out, "progress=end")
	require.GreaterOrEqual(t, countSubstr(out, "progress=continue")+countSubstr(out, "progress=end"), 1)
}

func countSubstr(s, sub string) int {
	count := 0
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			count++
		}
	}
	return count
}
