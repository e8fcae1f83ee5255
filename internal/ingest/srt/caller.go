// Package srt opens SRT (Secure Reliable Transport) inputs, either by
// dialing a remote listener (caller mode) or by accepting the first
// publisher on a local port (listener mode).
package srt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	srtgo "github.com/zsiec/srtgo"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

const dialTimeout = 10 * time.Second

// Conn is an SRT connection carrying an MPEG-TS stream.
type Conn struct {
	c *srtgo.Conn
}

// Read reads the next SRT payload into p.
func (c *Conn) Read(p []byte) (int, error) {
	return c.c.Read(p)
}

// Close closes the connection, unblocking a pending Read.
func (c *Conn) Close() error {
	c.c.Close()
	return nil
}

// Dial connects to a remote SRT listener. It fails if the connection is
// not established within ten seconds or ctx is cancelled first.
func Dial(ctx context.Context, address, streamID string, log *slog.Logger) (*Conn, error) {
	if address == "" {
		return nil, errors.New("srt: address is required")
	}
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-caller")
	log.Info("dialing", "address", address, "stream_id", streamID)

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	if streamID != "" {
		cfg.StreamID = streamID
	}

	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(address, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(dialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, fmt.Errorf("SRT dial failed: %w", res.err)
		}
		log.Info("connected", "address", address)
		return &Conn{c: res.conn}, nil
	case <-timer.C:
		go drainDial(ch)
		return nil, fmt.Errorf("SRT dial timed out after %s", dialTimeout)
	case <-ctx.Done():
		go drainDial(ch)
		return nil, ctx.Err()
	}
}

type dialResult struct {
	conn *srtgo.Conn
	err  error
}

// drainDial closes a connection that completed after the caller gave up.
func drainDial(ch <-chan dialResult) {
	if res := <-ch; res.conn != nil {
		res.conn.Close()
	}
}
