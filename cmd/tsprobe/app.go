package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/tsprobe/internal/ingest"
)

// app runs one engine per input. Each engine is owned by the goroutine
// feeding it; only output is shared.
type app struct {
	log      *slog.Logger
	out      *syncWriter
	registry *ingest.Registry
	opts     *options
}

func newApp(w io.Writer, opts *options) *app {
	return &app{
		log:      slog.Default(),
		out:      &syncWriter{w: w},
		registry: ingest.NewRegistry(),
		opts:     opts,
	}
}

// eachInput opens every input and runs fn on it concurrently. Each input
// is unregistered and closed once fn returns; inputs still open are closed
// when ctx is cancelled or any input fails. Cancellation is not reported
// as an error.
func (a *app) eachInput(ctx context.Context, fn func(ctx context.Context, s *ingest.Stream) error) error {
	if len(a.opts.inputs) == 0 {
		return errors.New("at least one --input is required")
	}

	g, gctx := errgroup.WithContext(ctx)
	stop := context.AfterFunc(gctx, func() {
		for _, st := range a.registry.Stats() {
			a.logInput("closing input", st)
		}
		a.registry.CloseAll()
	})
	defer stop()

	for _, uri := range a.opts.inputs {
		g.Go(func() error {
			s, err := a.registry.Open(gctx, uri, a.log)
			if err != nil {
				return err
			}
			err = fn(gctx, s)
			a.logInput("input closed", s.IngestStats())
			a.registry.Unregister(s.Key)
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *app) logInput(msg string, st ingest.IngestStats) {
	a.log.Info(msg, "input", st.Key, "remote", st.RemoteAddr,
		"bytes", st.BytesReceived, "reads", st.ReadCount, "uptime_ms", st.UptimeMs)
}

// feed pumps s into handler in packet-aligned batches and logs what the
// aligner had to skip.
func (a *app) feed(ctx context.Context, s *ingest.Stream, handler func(buf []byte, packetCount int) bool) error {
	stats, err := ingest.Feed(ctx, s, ingest.DefaultBatch, handler)
	if stats.Resyncs > 0 || stats.SkippedBytes > 0 {
		a.log.Warn("input lost packet alignment", "input", s.Key,
			"resyncs", stats.Resyncs, "skipped_bytes", stats.SkippedBytes)
	}
	a.log.Debug("input drained", "input", s.Key, "packets", stats.Packets)
	return err
}

// header returns a per-input heading when several inputs share stdout.
func (a *app) header(key string) string {
	if len(a.opts.inputs) < 2 {
		return ""
	}
	return "input " + key + ":\n"
}

// syncWriter serializes whole writes from concurrent inputs.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.w.Write(p)
}
