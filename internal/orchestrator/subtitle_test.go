package orchestrator

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestSubtitleDeepCopy_RoundTrip(t *testing.T) {
	orig := &Subtitle{
		Format:       0,
		PTS:          1000,
		StartDisplay: 1000,
		EndDisplay:   2000,
		ASS:          "Dialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,Hello",
		Rects: []SubtitleRect{
			{X: 1, Y: 2, W: 10, H: 20, Palette: []byte{1, 2, 3, 4}, Pict: []byte{5, 6}, Text: "hi"},
		},
	}

	cp := orig.DeepCopy()
	if diff := cmp.Diff(orig, cp); diff != "" {
		t.Fatalf("deep copy mismatch (-orig +copy):\n%s", diff)
	}

	// Mutating the copy must not affect the original (independence half of
	// the round-trip law).
	cp.Rects[0].Palette[0] = 99
	cp.ASS = "mutated"
	require.Equal(t, byte(1), orig.Rects[0].Palette[0])
	require.Equal(t, "Dialogue: 0,0:00:01.00,0:00:02.00,Default,,0,0,0,,Hello", orig.ASS)
}

func TestSubtitleDeepCopy_Nil(t *testing.T) {
	var s *Subtitle
	require.Nil(t, s.DeepCopy())
}

type fakeSubs struct {
	processed []*Subtitle
	heartbeats []int64
}

func (f *fakeSubs) Process(ctx context.Context, is *InputStream, sub *Subtitle) error {
	f.processed = append(f.processed, sub)
	return nil
}

func (f *fakeSubs) Sub2VideoHeartbeat(ctx context.Context, is *InputStream, pts int64) error {
	f.heartbeats = append(f.heartbeats, pts)
	return nil
}

func TestSubtitleBridge_FixSubDuration_ExtendsPriorEnd(t *testing.T) {
	fs := &fakeSubs{}
	b := newSubtitleBridge(fs)

	is := &InputStream{LastSubtitle: &Subtitle{PTS: 100, StartDisplay: 100, EndDisplay: 150}}
	prior := is.LastSubtitle
	next := &Subtitle{PTS: 500, StartDisplay: 500, EndDisplay: 900}

	require.NoError(t, b.ProcessSubtitle(context.Background(), is, next))

	require.Equal(t, uint32(500), prior.EndDisplay)
	require.Len(t, fs.processed, 1)
	require.Equal(t, uint32(500), is.LastSubtitle.StartDisplay)
}

func TestSubtitleBridge_Sub2VideoHeartbeat_NoOpWithoutPriorSubtitle(t *testing.T) {
	fs := &fakeSubs{}
	b := newSubtitleBridge(fs)

	is := &InputStream{}
	require.NoError(t, b.Sub2VideoHeartbeat(context.Background(), is, 42))
	require.Empty(t, fs.heartbeats)
}

func TestSubtitleBridge_Sub2VideoHeartbeat_RepeatsLastSubtitle(t *testing.T) {
	fs := &fakeSubs{}
	b := newSubtitleBridge(fs)

	is := &InputStream{LastSubtitle: &Subtitle{PTS: 10}}
	require.NoError(t, b.Sub2VideoHeartbeat(context.Background(), is, 99))
	require.Equal(t, []int64{99}, fs.heartbeats)
}

func TestSubtitleBridge_TriggerFixSubDurationHeartbeat_FeedsSiblingSubtitleStreams(t *testing.T) {
	fs := &fakeSubs{}
	b := newSubtitleBridge(fs)

	subIn := &InputStream{DecodingNeeded: true, IsSubtitle: true, LastSubtitle: &Subtitle{PTS: 100, Rects: []SubtitleRect{{Text: "hi"}}}}
	videoIn := &InputStream{DecodingNeeded: true}

	videoOut := &OutputStream{FileIndex: 0, Index: 0, Input: videoIn, Kind: KindEncoded}
	subOut := &OutputStream{FileIndex: 0, Index: 1, Input: subIn, Kind: KindEncoded}
	of := &OutputFile{Index: 0, Streams: []*OutputStream{videoOut, subOut}}

	pkt := &Packet{PTS: 500, KeyFrame: true}
	require.NoError(t, b.TriggerFixSubDurationHeartbeat(context.Background(), of, videoOut, pkt))

	require.Len(t, fs.processed, 1)
	require.Equal(t, int64(500), fs.processed[0].PTS)
}

func TestSubtitleBridge_TriggerFixSubDurationHeartbeat_SkipsNonKeyframes(t *testing.T) {
	fs := &fakeSubs{}
	b := newSubtitleBridge(fs)

	subIn := &InputStream{DecodingNeeded: true, IsSubtitle: true, LastSubtitle: &Subtitle{PTS: 100, Rects: []SubtitleRect{{Text: "hi"}}}}
	videoOut := &OutputStream{FileIndex: 0, Index: 0, Kind: KindEncoded}
	subOut := &OutputStream{FileIndex: 0, Index: 1, Input: subIn, Kind: KindEncoded}
	of := &OutputFile{Index: 0, Streams: []*OutputStream{videoOut, subOut}}

	pkt := &Packet{PTS: 500, KeyFrame: false}
	require.NoError(t, b.TriggerFixSubDurationHeartbeat(context.Background(), of, videoOut, pkt))
	require.Empty(t, fs.processed)
}

func TestSubtitleBridge_TriggerFixSubDurationHeartbeat_SkipsStaleOrEmptySubtitle(t *testing.T) {
	fs := &fakeSubs{}
	b := newSubtitleBridge(fs)

	subIn := &InputStream{DecodingNeeded: true, IsSubtitle: true, LastSubtitle: &Subtitle{PTS: 900, Rects: []SubtitleRect{{Text: "hi"}}}}
	subOut := &OutputStream{FileIndex: 0, Index: 1, Input: subIn, Kind: KindEncoded}
	source := &OutputStream{FileIndex: 0, Index: 0, Kind: KindEncoded}
	of := &OutputFile{Index: 0, Streams: []*OutputStream{source, subOut}}

	// signalPTS (500) does not advance past the prior subtitle's pts (900).
	require.NoError(t, b.TriggerFixSubDurationHeartbeat(context.Background(), of, source, &Packet{PTS: 500, KeyFrame: true}))
	require.Empty(t, fs.processed)

	// No rects yet to re-emit.
	subIn.LastSubtitle = &Subtitle{PTS: 100}
	require.NoError(t, b.TriggerFixSubDurationHeartbeat(context.Background(), of, source, &Packet{PTS: 500, KeyFrame: true}))
	require.Empty(t, fs.processed)
}
