// Package mpegts implements incremental MPEG-TS analysis engines. It
// provides a packet framer, a PSI section assembler, a PAT/PMT stream model
// builder, a PES reassembler filtered by PID and stream id, and a per-PID
// statistics collector.
//
// Every engine is a single-owner state machine advanced only by Write calls.
// Engines share no state, so independent instances may run on separate
// goroutines without locking.
package mpegts

// Packet is a parsed 188-byte MPEG-TS transport stream packet. Payload
// aliases the buffer passed to ParsePacket and is only valid until that
// buffer is reused.
type Packet struct {
	Header          PacketHeader
	AdaptationField *AdaptationField
	Payload         []byte
}

// PacketHeader contains the parsed header fields of a transport stream packet.
type PacketHeader struct {
	PID                        uint16
	ContinuityCounter          uint8
	TransportScramblingControl uint8
	HasAdaptationField         bool
	HasPayload                 bool
	PayloadUnitStartIndicator  bool
	TransportErrorIndicator    bool
	TransportPriority          bool
	DiscontinuityIndicator     bool
}

// AdaptationField holds the adaptation field flags the engines care about.
type AdaptationField struct {
	Length                 int
	DiscontinuityIndicator bool
	RandomAccessIndicator  bool
	PCR                    *ClockReference
}

// ClockReference holds an MPEG-TS timestamp. Base is the 33-bit 90 kHz
// value; Extension is the 9-bit 27 MHz remainder and is only set for PCRs.
type ClockReference struct {
	Base      int64
	Extension int64
}

// Ticks27MHz returns the full clock value in 27 MHz units.
func (c *ClockReference) Ticks27MHz() int64 {
	return c.Base*300 + c.Extension
}

// Descriptor is an opaque MPEG descriptor. Consumers interpret Data by Tag.
type Descriptor struct {
	Tag  uint8
	Data []byte
}

// PESPacket is a reassembled Packetized Elementary Stream packet. The
// receiving sink owns it and may retain it.
type PESPacket struct {
	PID                    uint16
	StreamID               uint8
	PacketLength           int
	ScramblingControl      uint8
	DataAlignmentIndicator bool
	PTS                    *ClockReference
	DTS                    *ClockReference
	Header                 []byte
	Payload                []byte
}

// HasPTS reports whether the packet carried a presentation timestamp.
func (p *PESPacket) HasPTS() bool { return p.PTS != nil }

// HasDTS reports whether the packet carried a decoding timestamp.
func (p *PESPacket) HasDTS() bool { return p.DTS != nil }

// PESSink receives completed PES packets synchronously from
// PESExtractor.Write, in the order their final byte arrived.
type PESSink func(pes *PESPacket)
