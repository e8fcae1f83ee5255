package ingest

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/zsiec/tsprobe/internal/mpegts"
)

// DefaultBatch is the number of packets handed to the engines per call,
// matching the 7-packet payload of a typical UDP or SRT datagram.
const DefaultBatch = 7

// readSize leaves room for a full UDP datagram on every read.
const readSize = 64 << 10

// FeedStats counts what Feed read and how often it had to resynchronize.
type FeedStats struct {
	Packets      uint64
	Resyncs      uint64
	SkippedBytes uint64
}

// Feed reads r until EOF, cancellation or a handler stop and calls handler
// with runs of up to batch whole packets. When the input loses packet
// alignment, bytes are skipped up to the next sync byte. handler returning
// false stops Feed without error. The buffer passed to handler is reused
// after it returns.
func Feed(ctx context.Context, r io.Reader, batch int, handler func(buf []byte, packetCount int) bool) (FeedStats, error) {
	if batch <= 0 {
		batch = DefaultBatch
	}
	f := &feeder{
		buf:     make([]byte, 0, readSize+mpegts.PacketSize),
		batch:   batch,
		handler: handler,
	}

	for {
		if err := ctx.Err(); err != nil {
			return f.stats, err
		}
		n, err := r.Read(f.buf[len(f.buf):cap(f.buf)])
		f.buf = f.buf[:len(f.buf)+n]
		if !f.deliver() {
			return f.stats, nil
		}
		if err != nil {
			f.stats.SkippedBytes += uint64(len(f.buf))
			if errors.Is(err, io.EOF) {
				return f.stats, nil
			}
			if ctx.Err() != nil {
				return f.stats, ctx.Err()
			}
			return f.stats, err
		}
	}
}

type feeder struct {
	buf     []byte
	batch   int
	handler func([]byte, int) bool
	synced  bool
	stats   FeedStats
}

// deliver hands every aligned packet in buf to the handler and keeps the
// tail that is shorter than a packet. It reports false once the handler
// asks to stop.
func (f *feeder) deliver() bool {
	off := 0
	for off+mpegts.PacketSize <= len(f.buf) {
		run := 0
		for p := off; p+mpegts.PacketSize <= len(f.buf) && f.packetAt(p); p += mpegts.PacketSize {
			run++
		}
		if run == 0 {
			off += f.skip(f.buf[off:])
			continue
		}
		f.synced = true
		for run > 0 {
			k := min(run, f.batch)
			f.stats.Packets += uint64(k)
			if !f.handler(f.buf[off:off+k*mpegts.PacketSize], k) {
				return false
			}
			off += k * mpegts.PacketSize
			run -= k
		}
	}
	rest := copy(f.buf, f.buf[off:])
	f.buf = f.buf[:rest]
	return true
}

// packetAt reports whether a packet starts at p. When the following packet
// is already buffered its sync byte must line up too.
func (f *feeder) packetAt(p int) bool {
	if f.buf[p] != mpegts.SyncByte {
		return false
	}
	next := p + mpegts.PacketSize
	return next >= len(f.buf) || f.buf[next] == mpegts.SyncByte
}

// skip drops b[0] and everything up to the next sync byte and returns the
// number of bytes dropped.
func (f *feeder) skip(b []byte) int {
	if f.synced {
		f.stats.Resyncs++
		f.synced = false
	}
	n := len(b)
	if i := bytes.IndexByte(b[1:], mpegts.SyncByte); i >= 0 {
		n = 1 + i
	}
	f.stats.SkippedBytes += uint64(n)
	return n
}
