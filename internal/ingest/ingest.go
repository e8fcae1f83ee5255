// Package ingest opens transport stream inputs (files, stdin, UDP and SRT),
// tracks them in a registry with per-input read statistics, and feeds
// their bytes to the analysis engines in whole-packet batches.
package ingest

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// IngestStats captures connection-level metrics for one input.
type IngestStats struct {
	Key           string `json:"key"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream is an open input. Reads are counted so the CLI can report
// source health next to the analysis results.
type Stream struct {
	Key       string
	StartedAt time.Time
	input     io.ReadCloser
	closeOnce sync.Once

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

func newStream(key string, input io.ReadCloser) *Stream {
	s := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		input:     input,
	}
	s.remoteAddr.Store("")
	return s
}

// Read reads from the underlying input and records the byte count.
func (s *Stream) Read(p []byte) (int, error) {
	n, err := s.input.Read(p)
	if n > 0 {
		s.RecordRead(n)
	}
	return n, err
}

// Close closes the input. It is safe to call more than once; blocked
// Reads return once the input is closed.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.input.Close()
	})
	return err
}

// RecordRead increments the byte and read counters.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the input for diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// IngestStats returns a snapshot of the input's read metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		Key:           s.Key,
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

// Registry tracks open inputs by key.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{streams: make(map[string]*Stream)}
}

// Register wraps input in a Stream stored under key. Keys must be unique
// among open streams.
func (r *Registry) Register(key string, input io.ReadCloser) (*Stream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.streams[key]; exists {
		return nil, fmt.Errorf("input %q already registered", key)
	}
	s := newStream(key, input)
	r.streams[key] = s
	return s, nil
}

// Unregister removes a stream by key and closes it.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	s, ok := r.streams[key]
	if ok {
		delete(r.streams, key)
	}
	r.mu.Unlock()

	if ok {
		s.Close()
	}
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// CloseAll closes every registered stream, unblocking their readers.
// Streams stay registered so their statistics remain available.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, s := range r.streams {
		s.Close()
	}
}

// Stats returns the ingest statistics of every registered stream, sorted
// by key.
func (r *Registry) Stats() []IngestStats {
	r.mu.RLock()
	out := make([]IngestStats, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s.IngestStats())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
