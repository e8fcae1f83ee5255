package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tsprobe/internal/ingest"
	"github.com/zsiec/tsprobe/internal/metrics"
	"github.com/zsiec/tsprobe/internal/mpegts"
)

const (
	publishInterval = time.Second
	shutdownTimeout = 5 * time.Second
)

func newStatsCmd(opts *options) *cobra.Command {
	var (
		interval    time.Duration
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count packets, bytes and continuity errors per PID",
		Long: "stats reads each input to the end and prints per-PID packet, byte, continuity error and bitrate " +
			"figures. --interval also prints a report periodically; --metrics-addr serves them to Prometheus.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := newApp(cmd.OutOrStdout(), opts)
			return a.runStats(cmd.Context(), interval, metricsAddr)
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 0, "print a report at this interval while reading (0 disables)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9100")
	return cmd
}

func (a *app) runStats(ctx context.Context, interval time.Duration, metricsAddr string) error {
	if metricsAddr == "" {
		return a.eachInput(ctx, func(ctx context.Context, s *ingest.Stream) error {
			return a.statsInput(ctx, s, interval, nil)
		})
	}

	collectors := make(map[string]*metrics.Collector, len(a.opts.inputs))
	cs := make([]prometheus.Collector, 0, len(a.opts.inputs))
	for _, in := range a.opts.inputs {
		if _, dup := collectors[in]; !dup {
			collectors[in] = metrics.NewCollector(in)
			cs = append(cs, collectors[in])
		}
	}
	reg, err := metrics.NewRegistry(cs...)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:              metricsAddr,
		Handler:           metrics.Handler(reg, a.log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	inputsDone := make(chan struct{})
	g.Go(func() error {
		a.log.Info("metrics server listening", "component", "metrics", "addr", metricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		select {
		case <-gctx.Done():
		case <-inputsDone:
		}
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
	g.Go(func() error {
		defer close(inputsDone)
		return a.eachInput(gctx, func(ctx context.Context, s *ingest.Stream) error {
			return a.statsInput(ctx, s, interval, collectors[s.Key])
		})
	})
	return g.Wait()
}

// statsInput runs one Statistics engine over s. Periodic reports and metric
// publishing happen on the feeding goroutine, between writes.
func (a *app) statsInput(ctx context.Context, s *ingest.Stream, interval time.Duration, c *metrics.Collector) error {
	log := a.log.With("input", s.Key)
	st := mpegts.NewStatistics(a.opts.verbose, mpegts.StatisticsOptLogger(log))

	var (
		nextReport  = time.Now().Add(interval)
		nextPublish = time.Now()
		reportErr   error
	)
	err := a.feed(ctx, s, func(buf []byte, n int) bool {
		st.Write(buf, n)
		now := time.Now()
		if c != nil && !now.Before(nextPublish) {
			c.Publish(metrics.FromStatistics(st))
			nextPublish = now.Add(publishInterval)
		}
		if interval > 0 && !now.Before(nextReport) {
			reportErr = a.report(s.Key, st)
			nextReport = now.Add(interval)
		}
		return reportErr == nil
	})

	if c != nil {
		c.Publish(metrics.FromStatistics(st))
	}
	if st.FramingErrors() > 0 {
		log.Warn("framing errors", "count", st.FramingErrors())
	}
	return errors.Join(err, reportErr, a.report(s.Key, st))
}

func (a *app) report(key string, st *mpegts.Statistics) error {
	var b bytes.Buffer
	b.WriteString(a.header(key))
	if err := st.Report(&b); err != nil {
		return err
	}
	_, err := a.out.Write(b.Bytes())
	return err
}
