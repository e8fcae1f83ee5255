package srt

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	srtgo "github.com/zsiec/srtgo"
)

// Accept listens on addr and returns the first publisher whose stream key
// matches want, or the first publisher at all when want is empty. The
// listener is closed before Accept returns. The returned key is the
// publisher's stream id without a leading "/" or "live/".
func Accept(ctx context.Context, addr, want string, log *slog.Logger) (*Conn, string, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "srt-server")

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(addr, cfg)
	if err != nil {
		return nil, "", fmt.Errorf("SRT listen on %s: %w", addr, err)
	}
	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if !keyAccepted(want, req.StreamID) {
			return srtgo.RejPeer
		}
		return 0
	})
	log.Info("listening", "addr", addr, "stream_key", want)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		l.Close()
	}()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			log.Warn("accept error", "error", err)
			continue
		}
		key := extractStreamKey(conn.StreamID())
		log.Info("publish", "stream_key", key, "remote", conn.RemoteAddr())
		return &Conn{c: conn}, key, nil
	}
}

func keyAccepted(want, streamID string) bool {
	if want == "" {
		return true
	}
	return extractStreamKey(streamID) == extractStreamKey(want)
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
