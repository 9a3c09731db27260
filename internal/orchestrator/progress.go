package orchestrator

import (
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// ProgressReporter assembles the human-readable status line and the
// machine-parseable key=value progress record. It is paced by stats_period
// via a token-bucket limiter so the main loop can call Report() on every
// iteration without flooding stderr or the progress sink.
type ProgressReporter struct {
	human  io.Writer
	sink   io.Writer
	vstats io.Writer

	limiter *rate.Limiter

	startedAt      time.Time
	allDumped      func() bool
	copyTS         bool
	copyTSFirstPTS int64
	haveFirstPTS   bool

	frameNumber int64
	dupFrames   int64
	dropFrames  int64
}

// NewProgressReporter builds a reporter. human is typically os.Stderr; sink
// is the optional -progress destination (nil disables the machine stream);
// vstats is the optional -vstats_file destination (nil disables per-stream
// video statistics). period is stats_period, already clamped by config.
func NewProgressReporter(human, sink, vstats io.Writer, period time.Duration, copyTS bool, allDumped func() bool) *ProgressReporter {
	if period <= 0 {
		period = time.Second
	}
	return &ProgressReporter{
		human:     human,
		sink:      sink,
		vstats:    vstats,
		limiter:   rate.NewLimiter(rate.Every(period), 1),
		allDumped: allDumped,
		copyTS:    copyTS,
	}
}

// Start records the loop's timer-start instant.
func (p *ProgressReporter) Start(now time.Time) {
	p.startedAt = now
}

// AddFrames folds dup/drop counts reaped from a filter graph into the
// reporter's running totals (nb_frames_dup / nb_frames_drop).
func (p *ProgressReporter) AddFrames(decoded int64, dup, drop int) {
	p.frameNumber += decoded
	p.dupFrames += int64(dup)
	p.dropFrames += int64(drop)
}

// Report emits one progress record if paced to fire (final=false) or
// unconditionally (final=true). A non-final report is suppressed entirely
// until every output file has been dumped.
func (p *ProgressReporter) Report(now time.Time, outputs []*OutputFile) {
	p.report(now, outputs, false)
}

// ReportFinal emits the unconditional terminal report.
func (p *ProgressReporter) ReportFinal(now time.Time, outputs []*OutputFile) {
	p.report(now, outputs, true)
}

func (p *ProgressReporter) report(now time.Time, outputs []*OutputFile, final bool) {
	if !final {
		if p.allDumped != nil && !p.allDumped() {
			return
		}
		if !p.limiter.Allow() {
			return
		}
	}

	elapsed := now.Sub(p.startedAt).Seconds()
	if elapsed <= 0 {
		elapsed = 1e-6
	}

	pts := p.maxLastMuxDTS(outputs)
	if p.copyTS {
		if !p.haveFirstPTS && pts > 1 {
			p.copyTSFirstPTS = pts
			p.haveFirstPTS = true
		}
		if p.haveFirstPTS {
			pts -= p.copyTSFirstPTS
		}
	}

	totalSize := p.totalSize(outputs)

	fps := 0.0
	if elapsed > 1 {
		fps = float64(p.frameNumber) / elapsed
	}

	speed := -1.0
	if pts > 0 {
		speed = (float64(pts) / 1e6) / elapsed
	}

	bitrate := -1.0
	ptsMs := pts / 1000
	if ptsMs > 0 {
		bitrate = float64(totalSize*8) / float64(ptsMs)
	}

	p.writeHuman(fps, totalSize, pts, bitrate, speed, final, outputs)
	p.writeMachine(fps, totalSize, pts, bitrate, speed, final, outputs)
	p.writeVStats(outputs)
}

func (p *ProgressReporter) maxLastMuxDTS(outputs []*OutputFile) int64 {
	var max int64
	for _, os := range AllOutputs(outputs) {
		if os.HasMuxDTS && os.LastMuxDTS > max {
			max = os.LastMuxDTS
		}
	}
	return max
}

func (p *ProgressReporter) totalSize(outputs []*OutputFile) int64 {
	var total int64
	for _, of := range outputs {
		total += of.Size
	}
	return total
}

func (p *ProgressReporter) writeHuman(fps float64, totalSize, pts int64, bitrate, speed float64, final bool, outputs []*OutputFile) {
	if p.human == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "frame=%6d fps=%3.0f", p.frameNumber, fps)
	for _, os := range AllOutputs(outputs) {
		if os.Kind == KindEncoded {
			fmt.Fprintf(&b, " q=%.1f", float64(os.Quality)/10)
		}
	}
	fmt.Fprintf(&b, " size=%8dkB time=%s bitrate=%6.1fkbits/s dup=%d drop=%d speed=%4.3gx",
		totalSize/1024, formatOutTime(pts), bitrate, p.dupFrames, p.dropFrames, speed)
	if final {
		b.WriteByte('\n')
	} else {
		b.WriteByte('\r')
	}
	io.WriteString(p.human, b.String())
}

func (p *ProgressReporter) writeMachine(fps float64, totalSize, pts int64, bitrate, speed float64, final bool, outputs []*OutputFile) {
	if p.sink == nil {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "frame=%d\n", p.frameNumber)
	fmt.Fprintf(&b, "fps=%.2f\n", fps)
	for _, os := range AllOutputs(outputs) {
		if os.Kind == KindEncoded {
			fmt.Fprintf(&b, "stream_%d_%d_q=%.1f\n", os.FileIndex, os.Index, float64(os.Quality)/10)
		}
	}
	fmt.Fprintf(&b, "bitrate=%.1fkbits/s\n", bitrate)
	fmt.Fprintf(&b, "total_size=%d\n", totalSize)
	fmt.Fprintf(&b, "out_time_us=%d\n", pts)
	fmt.Fprintf(&b, "out_time_ms=%d\n", pts)
	fmt.Fprintf(&b, "out_time=%s\n", formatOutTime(pts))
	fmt.Fprintf(&b, "dup_frames=%d\n", p.dupFrames)
	fmt.Fprintf(&b, "drop_frames=%d\n", p.dropFrames)
	fmt.Fprintf(&b, "speed=%.3gx\n", speed)
	if final {
		b.WriteString("progress=end\n")
	} else {
		b.WriteString("progress=continue\n")
	}
	io.WriteString(p.sink, b.String())
	if f, ok := p.sink.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}

// writeVStats emits one per-frame-statistics line per encoded output
// stream, the -vstats_file analogue of do_video_stats: a compact record of
// the running frame count, quality and muxed time for each stream, since
// those are the only per-stream fields this core's encoder collaborator
// surfaces back to it.
func (p *ProgressReporter) writeVStats(outputs []*OutputFile) {
	if p.vstats == nil {
		return
	}
	for _, os := range AllOutputs(outputs) {
		if os.Kind != KindEncoded {
			continue
		}
		fmt.Fprintf(p.vstats, "frame= %5d q= %2.1f stream= %d:%d time= %s packets= %d\n",
			p.frameNumber, float64(os.Quality)/10, os.FileIndex, os.Index, formatOutTime(os.LastMuxDTS), os.PacketsWritten.Load())
	}
}

func formatOutTime(us int64) string {
	d := time.Duration(us) * time.Microsecond
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second
	d -= s * time.Second
	ms := d / time.Millisecond
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}
