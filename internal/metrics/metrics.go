// Package metrics exports PID statistics snapshots in the Prometheus text
// format. Snapshots are pushed in with Publish and served from a private
// registry that carries no process or Go runtime metrics.
package metrics

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zsiec/tsprobe/internal/mpegts"
)

const namespace = "tsprobe"

// Snapshot is one published view of a statistics collector.
type Snapshot struct {
	PIDs          []mpegts.PIDStats
	TotalPackets  uint64
	FramingErrors uint64
	BitrateBps    float64
}

// Collector is a prometheus.Collector serving the most recent Snapshot for
// one input. Publish and Collect may run concurrently.
type Collector struct {
	mu   sync.Mutex
	snap Snapshot

	pidPackets  *prometheus.Desc
	pidBytes    *prometheus.Desc
	pidCCErrors *prometheus.Desc
	pidTEI      *prometheus.Desc
	pidBitrate  *prometheus.Desc
	packets     *prometheus.Desc
	framing     *prometheus.Desc
	bitrate     *prometheus.Desc
}

// NewCollector creates a collector whose series carry an input label.
func NewCollector(input string) *Collector {
	labels := prometheus.Labels{"input": input}
	pidDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pid", name), help, []string{"pid"}, labels)
	}
	streamDesc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "stream", name), help, nil, labels)
	}
	return &Collector{
		pidPackets:  pidDesc("packets_total", "Transport packets seen on the PID."),
		pidBytes:    pidDesc("bytes_total", "Bytes seen on the PID."),
		pidCCErrors: pidDesc("continuity_errors_total", "Continuity counter errors on the PID."),
		pidTEI:      pidDesc("transport_errors_total", "Packets with transport_error_indicator set."),
		pidBitrate:  pidDesc("bitrate_bps", "PID bitrate over the last completed window."),
		packets:     streamDesc("packets_total", "Transport packets written, including rejected ones."),
		framing:     streamDesc("framing_errors_total", "Packets rejected by the framer."),
		bitrate:     streamDesc("bitrate_bps", "Stream bitrate over the last completed window."),
	}
}

// Publish replaces the snapshot served on the next scrape.
func (c *Collector) Publish(s Snapshot) {
	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.pidPackets, c.pidBytes, c.pidCCErrors, c.pidTEI, c.pidBitrate,
		c.packets, c.framing, c.bitrate,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	snap := c.snap
	c.mu.Unlock()

	for _, st := range snap.PIDs {
		pid := fmt.Sprintf("0x%04x", st.PID)
		ch <- prometheus.MustNewConstMetric(c.pidPackets, prometheus.CounterValue, float64(st.PacketCount), pid)
		ch <- prometheus.MustNewConstMetric(c.pidBytes, prometheus.CounterValue, float64(st.ByteCount), pid)
		ch <- prometheus.MustNewConstMetric(c.pidCCErrors, prometheus.CounterValue, float64(st.ContinuityErrorCount), pid)
		ch <- prometheus.MustNewConstMetric(c.pidTEI, prometheus.CounterValue, float64(st.TransportErrorCount), pid)
		ch <- prometheus.MustNewConstMetric(c.pidBitrate, prometheus.GaugeValue, st.BitrateBps, pid)
	}
	ch <- prometheus.MustNewConstMetric(c.packets, prometheus.CounterValue, float64(snap.TotalPackets))
	ch <- prometheus.MustNewConstMetric(c.framing, prometheus.CounterValue, float64(snap.FramingErrors))
	ch <- prometheus.MustNewConstMetric(c.bitrate, prometheus.GaugeValue, snap.BitrateBps)
}

// FromStatistics builds a Snapshot from a statistics collector. It must be
// called from the goroutine that owns s.
func FromStatistics(s *mpegts.Statistics) Snapshot {
	return Snapshot{
		PIDs:          s.Snapshot(),
		TotalPackets:  s.TotalPackets(),
		FramingErrors: s.FramingErrors(),
		BitrateBps:    s.BitrateBps(),
	}
}

// NewRegistry returns a registry holding only the given collectors.
func NewRegistry(cs ...prometheus.Collector) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering collector: %w", err)
		}
	}
	return reg, nil
}

type promErrorLogger struct {
	log *slog.Logger
}

func (l promErrorLogger) Println(v ...any) {
	l.log.Warn("metrics error", "message", fmt.Sprint(v...))
}

// Handler serves g in the Prometheus exposition format. Gather errors are
// logged and the remaining metrics are still served.
func Handler(g prometheus.Gatherer, log *slog.Logger) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{
		ErrorLog:      promErrorLogger{log: log.With("component", "metrics")},
		ErrorHandling: promhttp.ContinueOnError,
	})
}
