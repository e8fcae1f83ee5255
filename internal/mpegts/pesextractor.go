package mpegts

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultMaxPESBuffer bounds a single in-progress PES assembly.
const DefaultMaxPESBuffer = 4 << 20

type pesState int

const (
	pesIdle pesState = iota
	pesAssembling
	// pesDiscarding holds bytes that followed a bad start code until the
	// next payload unit start. They are kept for diagnostics only.
	pesDiscarding
)

// PESCounters counts PES packets emitted and the conditions that caused
// packets to be dropped.
type PESCounters struct {
	Packets         uint64
	FramingErrors   uint64
	Emitted         uint64
	Filtered        uint64
	BadStartCodes   uint64
	LengthErrors    uint64
	Discontinuities uint64
	Overflows       uint64
	TransportErrors uint64
}

// PESExtractor reassembles PES packets carried on one PID and hands them
// to a sink, optionally keeping only one stream id.
type PESExtractor struct {
	log       *slog.Logger
	verbose   bool
	pid       uint16
	streamID  uint8
	filterID  bool
	sink      PESSink
	maxBuffer int

	state    pesState
	buf      []byte
	unproven bool // start code prefix not yet buffered
	lastCC   int
	lastDrop []byte
	counters PESCounters
}

// NewPESExtractor creates a reassembler for pid that delivers completed
// packets to sink. It fails with ErrInvalidFilter for a PID outside
// 0x0000-0x1FFE, an invalid stream id filter, a nil sink or a non-positive
// buffer limit.
func NewPESExtractor(pid uint16, sink PESSink, opts ...func(*PESExtractor)) (*PESExtractor, error) {
	pe := &PESExtractor{
		log:       slog.Default(),
		pid:       pid,
		sink:      sink,
		maxBuffer: DefaultMaxPESBuffer,
		lastCC:    -1,
	}
	for _, opt := range opts {
		opt(pe)
	}

	switch {
	case pid >= PIDNull:
		return nil, fmt.Errorf("%w: pid 0x%04X", ErrInvalidFilter, pid)
	case pe.filterID && pe.streamID < 0xBC:
		return nil, fmt.Errorf("%w: stream id 0x%02X is not a PES stream id", ErrInvalidFilter, pe.streamID)
	case sink == nil:
		return nil, fmt.Errorf("%w: nil sink", ErrInvalidFilter)
	case pe.maxBuffer <= 0:
		return nil, fmt.Errorf("%w: buffer limit %d", ErrInvalidFilter, pe.maxBuffer)
	}

	pe.log = pe.log.With("component", "pes-extractor", "pid", pid)
	return pe, nil
}

// PESExtractorOptStreamID emits only PES packets with the given stream id.
// Packets with other ids on the PID are still consumed.
func PESExtractorOptStreamID(id uint8) func(*PESExtractor) {
	return func(pe *PESExtractor) {
		pe.streamID = id
		pe.filterID = true
	}
}

// PESExtractorOptLogger sets the logger. A nil logger keeps slog.Default().
func PESExtractorOptLogger(l *slog.Logger) func(*PESExtractor) {
	return func(pe *PESExtractor) {
		if l != nil {
			pe.log = l
		}
	}
}

// PESExtractorOptVerbose logs every emitted packet at Info.
func PESExtractorOptVerbose(verbose bool) func(*PESExtractor) {
	return func(pe *PESExtractor) {
		pe.verbose = verbose
	}
}

// PESExtractorOptMaxBuffer overrides DefaultMaxPESBuffer.
func PESExtractorOptMaxBuffer(n int) func(*PESExtractor) {
	return func(pe *PESExtractor) {
		pe.maxBuffer = n
	}
}

// Write feeds packetCount packets from buf. Packets on other PIDs are
// ignored. Completed PES packets are passed to the sink before Write
// returns.
func (pe *PESExtractor) Write(buf []byte, packetCount int) {
	forEachPacket(buf, packetCount, func(raw []byte) {
		p, err := ParsePacket(raw)
		if err != nil {
			pe.counters.FramingErrors++
			pe.log.Debug("skipping packet", "error", err)
			return
		}
		if p.Header.PID != pe.pid {
			return
		}
		pe.counters.Packets++
		pe.push(p)
	})
}

// Flush completes an unbounded PES packet still in progress, as at end of
// input. A bounded packet that has not reached its declared length is
// dropped.
func (pe *PESExtractor) Flush() {
	pe.finishAtBoundary()
	pe.state = pesIdle
}

// Counters returns the accumulated counters.
func (pe *PESExtractor) Counters() PESCounters {
	return pe.counters
}

// LastDiscarded returns the bytes of the most recent PES assembly that was
// dropped for a bad start code, for diagnostics.
func (pe *PESExtractor) LastDiscarded() []byte {
	return append([]byte(nil), pe.lastDrop...)
}

func (pe *PESExtractor) push(p *Packet) {
	if p.Header.TransportErrorIndicator {
		pe.counters.TransportErrors++
		pe.drop(fmt.Errorf("%w: transport_error_indicator set", ErrMalformed))
		return
	}
	if !p.Header.HasPayload {
		return
	}

	cc := int(p.Header.ContinuityCounter)
	if pe.lastCC >= 0 && !p.Header.DiscontinuityIndicator {
		if cc == pe.lastCC {
			return // duplicate packet
		}
		if cc != (pe.lastCC+1)&0x0F {
			if pe.state == pesAssembling {
				pe.counters.Discontinuities++
			}
			pe.drop(fmt.Errorf("%w: cc %d after %d", ErrPESDiscontinuity, cc, pe.lastCC))
		}
	}
	pe.lastCC = cc

	if p.Header.PayloadUnitStartIndicator {
		pe.finishAtBoundary()
		pe.start(p.Payload)
		return
	}

	switch pe.state {
	case pesAssembling:
		pe.buf = append(pe.buf, p.Payload...)
		pe.checkComplete()
	case pesDiscarding:
		if len(pe.buf)+len(p.Payload) <= pe.maxBuffer {
			pe.buf = append(pe.buf, p.Payload...)
		}
	}
}

func (pe *PESExtractor) start(payload []byte) {
	pe.buf = append(pe.buf[:0], payload...)
	pe.state = pesAssembling
	pe.unproven = true
	pe.checkComplete()
}

// checkStartCode validates the start code prefix once three bytes are
// buffered, which may take more than one packet when a large adaptation
// field precedes it. It reports false while the assembly cannot proceed.
func (pe *PESExtractor) checkStartCode() bool {
	if !pe.unproven {
		return true
	}
	if len(pe.buf) < 3 {
		return false
	}
	pe.unproven = false
	if !isPESPayload(pe.buf) {
		pe.counters.BadStartCodes++
		pe.state = pesDiscarding
		pe.log.Debug("dropping PES", "error", ErrBadStartCode)
		return false
	}
	return true
}

// finishAtBoundary closes the current assembly at a payload unit start or
// end of input. Only an unbounded packet completes this way.
func (pe *PESExtractor) finishAtBoundary() {
	switch pe.state {
	case pesDiscarding:
		pe.lastDrop = append(pe.lastDrop[:0], pe.buf...)
		pe.reset()
	case pesAssembling:
		if len(pe.buf) >= pesFixedHeaderSize && pe.declaredLength() == 0 {
			pe.emit(pe.buf)
			pe.reset()
			return
		}
		pe.counters.LengthErrors++
		pe.drop(fmt.Errorf("%w: %d bytes buffered at next start", ErrPESLength, len(pe.buf)))
	}
}

func (pe *PESExtractor) checkComplete() {
	if !pe.checkStartCode() {
		return
	}
	if len(pe.buf) > pe.maxBuffer {
		pe.counters.Overflows++
		pe.drop(fmt.Errorf("%w: %d bytes", ErrBufferOverflow, len(pe.buf)))
		return
	}
	if len(pe.buf) < pesFixedHeaderSize {
		return
	}
	declared := pe.declaredLength()
	if declared == 0 || len(pe.buf) < pesFixedHeaderSize+declared {
		return
	}
	pe.emit(pe.buf[:pesFixedHeaderSize+declared])
	pe.reset()
}

func (pe *PESExtractor) declaredLength() int {
	return int(pe.buf[4])<<8 | int(pe.buf[5])
}

func (pe *PESExtractor) emit(raw []byte) {
	pes, err := parsePES(raw, pe.pid)
	if err != nil {
		if errors.Is(err, ErrPESLength) {
			pe.counters.LengthErrors++
		}
		pe.log.Debug("dropping PES", "error", err)
		return
	}
	if pe.filterID && pes.StreamID != pe.streamID {
		pe.counters.Filtered++
		return
	}
	pe.counters.Emitted++
	if pe.verbose {
		pe.log.Info("PES complete", "stream_id", pes.StreamID, "bytes", len(pes.Payload))
	}
	pe.sink(pes)
}

// drop abandons the in-flight assembly and waits for the next start.
func (pe *PESExtractor) drop(reason error) {
	if pe.state != pesIdle {
		pe.log.Debug("dropping PES", "error", reason)
	}
	pe.reset()
}

func (pe *PESExtractor) reset() {
	pe.buf = pe.buf[:0]
	pe.state = pesIdle
	pe.unproven = false
}
