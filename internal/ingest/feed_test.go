package ingest

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"testing/iotest"

	"github.com/zsiec/tsprobe/internal/mpegts"
)

type feedRecorder struct {
	calls   int
	packets int
	pids    []byte
}

func (r *feedRecorder) handle(buf []byte, n int) bool {
	r.calls++
	r.packets += n
	if len(buf) != n*mpegts.PacketSize {
		panic("buffer and packet count disagree")
	}
	for i := range n {
		r.pids = append(r.pids, buf[i*mpegts.PacketSize+2])
	}
	return true
}

func TestFeedBatches(t *testing.T) {
	t.Parallel()
	var rec feedRecorder
	stats, err := Feed(context.Background(), bytes.NewReader(tsPackets(20)), 7, rec.handle)
	if err != nil {
		t.Fatal(err)
	}
	if rec.packets != 20 || stats.Packets != 20 {
		t.Errorf("packets = %d (stats %d), want 20", rec.packets, stats.Packets)
	}
	if rec.calls != 3 {
		t.Errorf("calls = %d, want 3 (7+7+6)", rec.calls)
	}
	if stats.Resyncs != 0 || stats.SkippedBytes != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestFeedSmallReads(t *testing.T) {
	t.Parallel()
	var rec feedRecorder
	r := iotest.OneByteReader(bytes.NewReader(tsPackets(5)))
	if _, err := Feed(context.Background(), r, 0, rec.handle); err != nil {
		t.Fatal(err)
	}
	if rec.packets != 5 {
		t.Errorf("packets = %d, want 5", rec.packets)
	}
}

func TestFeedResync(t *testing.T) {
	t.Parallel()
	data := append([]byte{0x00, 0x11, 0x22}, tsPackets(2)...) // leading junk
	data = append(data, 0x47, 0x00, 0x00)                       // partial packet
	data = append(data, 0x99, 0x98)                             // junk mid-stream
	data = append(data, tsPackets(3)...)
	data = append(data, 0x47, 0x01) // trailing partial

	var rec feedRecorder
	stats, err := Feed(context.Background(), bytes.NewReader(data), 0, rec.handle)
	if err != nil {
		t.Fatal(err)
	}
	if rec.packets != 5 {
		t.Errorf("packets = %d, want 5", rec.packets)
	}
	if stats.Resyncs != 1 {
		t.Errorf("resyncs = %d, want 1", stats.Resyncs)
	}
	if want := uint64(3 + 5 + 2); stats.SkippedBytes != want {
		t.Errorf("skipped = %d, want %d", stats.SkippedBytes, want)
	}
}

func TestFeedHandlerStops(t *testing.T) {
	t.Parallel()
	calls := 0
	stats, err := Feed(context.Background(), bytes.NewReader(tsPackets(30)), 5, func([]byte, int) bool {
		calls++
		return calls < 2
	})
	if err != nil {
		t.Fatal(err)
	}
	if calls != 2 || stats.Packets != 10 {
		t.Errorf("calls %d packets %d, want 2 and 10", calls, stats.Packets)
	}
}

func TestFeedReadError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	r := iotest.TimeoutReader(bytes.NewReader(tsPackets(1)))
	_, err := Feed(context.Background(), r, 0, func([]byte, int) bool { return true })
	if !errors.Is(err, iotest.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}

	_, err = Feed(context.Background(), iotest.ErrReader(boom), 0, func([]byte, int) bool { return true })
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestFeedCancelled(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Feed(ctx, bytes.NewReader(tsPackets(1)), 0, func([]byte, int) bool { return true }); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
