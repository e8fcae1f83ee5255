package mpegts

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"
)

// DefaultBitrateWindow is the period over which per-PID bitrates are measured.
const DefaultBitrateWindow = time.Second

// PIDStats is a point-in-time copy of the counters for one PID.
type PIDStats struct {
	PID                   uint16
	PacketCount           uint64
	ByteCount             uint64
	ContinuityErrorCount  uint64
	TransportErrorCount   uint64
	ScrambledCount        uint64
	LastContinuityCounter uint8
	CCSeen                bool // false until a payload-carrying packet arrives
	BitrateBps            float64
	FirstSeenAt           time.Time
	LastSeenAt            time.Time
}

type pidAccum struct {
	PIDStats
	windowStart time.Time
	windowBytes uint64
}

// Statistics accumulates per-PID packet, byte and continuity-error counts
// and a periodic bitrate estimate. It runs until Reset is called and has
// no completion semantics.
type Statistics struct {
	log     *slog.Logger
	verbose bool
	now     func() time.Time
	window  time.Duration

	pids          map[uint16]*pidAccum
	framingErrors uint64
	totalPkts     uint64
	streamStart   time.Time
	streamBytes   uint64
	streamBps     float64
}

// NewStatistics creates a statistics collector. verbose logs each Write
// and Reset at Info and adds timing columns to Report.
func NewStatistics(verbose bool, opts ...func(*Statistics)) *Statistics {
	s := &Statistics{
		log:     slog.Default(),
		verbose: verbose,
		now:     time.Now,
		window:  DefaultBitrateWindow,
		pids:    make(map[uint16]*pidAccum),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "statistics")
	return s
}

// StatisticsOptLogger sets the logger. A nil logger keeps slog.Default().
func StatisticsOptLogger(l *slog.Logger) func(*Statistics) {
	return func(s *Statistics) {
		if l != nil {
			s.log = l
		}
	}
}

// StatisticsOptClock replaces time.Now as the bitrate clock.
func StatisticsOptClock(now func() time.Time) func(*Statistics) {
	return func(s *Statistics) {
		s.now = now
	}
}

// StatisticsOptWindow sets the bitrate measurement period.
func StatisticsOptWindow(d time.Duration) func(*Statistics) {
	return func(s *Statistics) {
		if d > 0 {
			s.window = d
		}
	}
}

// Write accounts packetCount packets from buf.
func (s *Statistics) Write(buf []byte, packetCount int) {
	if s.verbose {
		s.log.Info("write", "packets", packetCount)
	}
	now := s.now()
	n := 0
	forEachPacket(buf, packetCount, func(raw []byte) {
		s.account(raw, now)
		n++
	})
	s.updateStreamBitrate(now, n)
}

func (s *Statistics) account(raw []byte, now time.Time) {
	s.totalPkts++
	p, err := ParsePacket(raw)
	if err != nil {
		s.framingErrors++
		s.log.Debug("skipping packet", "error", err)
		return
	}

	pid := p.Header.PID
	acc, ok := s.pids[pid]
	if !ok {
		acc = &pidAccum{PIDStats: PIDStats{PID: pid, FirstSeenAt: now}, windowStart: now}
		s.pids[pid] = acc
	}
	acc.PacketCount++
	acc.ByteCount += PacketSize
	acc.windowBytes += PacketSize
	acc.LastSeenAt = now
	if p.Header.TransportErrorIndicator {
		acc.TransportErrorCount++
	}
	if p.Header.TransportScramblingControl != 0 {
		acc.ScrambledCount++
	}

	if elapsed := now.Sub(acc.windowStart); elapsed >= s.window {
		acc.BitrateBps = float64(acc.windowBytes*8) / elapsed.Seconds()
		acc.windowStart = now
		acc.windowBytes = 0
	}

	// Adaptation-only packets do not advance the continuity counter, and
	// the null PID has none.
	if !p.Header.HasPayload || pid == PIDNull {
		return
	}
	cc := p.Header.ContinuityCounter
	if acc.CCSeen && !p.Header.DiscontinuityIndicator && cc != (acc.LastContinuityCounter+1)&0x0F {
		acc.ContinuityErrorCount++
		s.log.Debug("continuity error", "pid", pid, "expected", (acc.LastContinuityCounter+1)&0x0F, "got", cc)
	}
	acc.LastContinuityCounter = cc
	acc.CCSeen = true
}

func (s *Statistics) updateStreamBitrate(now time.Time, packetCount int) {
	if s.streamStart.IsZero() {
		s.streamStart = now
	}
	s.streamBytes += uint64(packetCount) * PacketSize
	if elapsed := now.Sub(s.streamStart); elapsed >= s.window {
		s.streamBps = float64(s.streamBytes*8) / elapsed.Seconds()
		s.streamStart = now
		s.streamBytes = 0
	}
}

// Reset zeroes every counter. It may be called at any time.
func (s *Statistics) Reset() {
	if s.verbose {
		s.log.Info("reset", "pids", len(s.pids))
	}
	s.pids = make(map[uint16]*pidAccum)
	s.framingErrors = 0
	s.totalPkts = 0
	s.streamStart = time.Time{}
	s.streamBytes = 0
	s.streamBps = 0
}

// Snapshot returns a copy of the per-PID counters sorted by PID.
func (s *Statistics) Snapshot() []PIDStats {
	out := make([]PIDStats, 0, len(s.pids))
	for _, acc := range s.pids {
		out = append(out, acc.PIDStats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PID < out[j].PID })
	return out
}

// PID returns the counters for one PID.
func (s *Statistics) PID(pid uint16) (PIDStats, bool) {
	acc, ok := s.pids[pid]
	if !ok {
		return PIDStats{}, false
	}
	return acc.PIDStats, true
}

// FramingErrors returns the number of packets rejected by the framer.
func (s *Statistics) FramingErrors() uint64 { return s.framingErrors }

// TotalPackets returns the number of packets written, including rejected ones.
func (s *Statistics) TotalPackets() uint64 { return s.totalPkts }

// BitrateBps returns the stream-wide bitrate of the last completed window.
func (s *Statistics) BitrateBps() float64 { return s.streamBps }

// Report writes one line per PID in ascending PID order with packet, byte
// and continuity error counts, followed by a stream total.
func (s *Statistics) Report(w io.Writer) error {
	var b strings.Builder
	var totalBytes, totalCC uint64
	for _, st := range s.Snapshot() {
		fmt.Fprintf(&b, "pid 0x%04x: packets %d, bytes %d, cc errors %d, bitrate %.0f bps",
			st.PID, st.PacketCount, st.ByteCount, st.ContinuityErrorCount, st.BitrateBps)
		if st.TransportErrorCount > 0 {
			fmt.Fprintf(&b, ", tei %d", st.TransportErrorCount)
		}
		if st.ScrambledCount > 0 {
			fmt.Fprintf(&b, ", scrambled %d", st.ScrambledCount)
		}
		if s.verbose {
			fmt.Fprintf(&b, ", first %s, last %s",
				st.FirstSeenAt.Format(time.RFC3339), st.LastSeenAt.Format(time.RFC3339))
		}
		b.WriteByte('\n')
		totalBytes += st.ByteCount
		totalCC += st.ContinuityErrorCount
	}
	fmt.Fprintf(&b, "total: pids %d, packets %d, bytes %d, cc errors %d, framing errors %d, bitrate %.0f bps\n",
		len(s.pids), s.totalPkts, totalBytes, totalCC, s.framingErrors, s.streamBps)
	_, err := io.WriteString(w, b.String())
	return err
}
