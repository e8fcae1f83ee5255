package mpegts

import (
	"bytes"
	"fmt"

	"github.com/32bitkid/bitreader"
)

const (
	// PacketSize is the size of one transport stream packet.
	PacketSize = 188
	// SyncByte is the value every packet must start with.
	SyncByte = 0x47
	// PIDNull is the stuffing PID; its continuity counter is undefined.
	PIDNull = 0x1FFF

	headerSize = 4
)

// ParsePacket validates one 188-byte packet and indexes its header,
// adaptation field and payload. It has no side effects. The returned
// Payload aliases buf.
func ParsePacket(buf []byte) (*Packet, error) {
	if len(buf) != PacketSize {
		return nil, fmt.Errorf("%w: packet size %d, expected %d", ErrMalformed, len(buf), PacketSize)
	}
	if buf[0] != SyncByte {
		return nil, fmt.Errorf("%w: 0x%02X", ErrBadSync, buf[0])
	}

	p := &Packet{}
	p.Header.TransportErrorIndicator = buf[1]&0x80 != 0
	p.Header.PayloadUnitStartIndicator = buf[1]&0x40 != 0
	p.Header.TransportPriority = buf[1]&0x20 != 0
	p.Header.PID = uint16(buf[1]&0x1F)<<8 | uint16(buf[2])
	p.Header.TransportScramblingControl = buf[3] >> 6 & 0x03
	p.Header.HasAdaptationField = buf[3]&0x20 != 0
	p.Header.HasPayload = buf[3]&0x10 != 0
	p.Header.ContinuityCounter = buf[3] & 0x0F

	if !p.Header.HasAdaptationField && !p.Header.HasPayload {
		return nil, &PacketError{PID: p.Header.PID, Err: fmt.Errorf("%w: reserved adaptation_field_control", ErrMalformed)}
	}

	offset := headerSize
	if p.Header.HasAdaptationField {
		af, err := parseAdaptationField(buf[offset:])
		if err != nil {
			return nil, &PacketError{PID: p.Header.PID, Err: err}
		}
		p.AdaptationField = af
		p.Header.DiscontinuityIndicator = af.DiscontinuityIndicator
		offset += 1 + af.Length
	}

	if p.Header.HasPayload {
		p.Payload = buf[offset:PacketSize]
	}
	return p, nil
}

// parseAdaptationField parses the adaptation field starting at its length byte.
func parseAdaptationField(b []byte) (*AdaptationField, error) {
	afLen := int(b[0])
	if 1+afLen > len(b) {
		return nil, fmt.Errorf("%w: adaptation_field_length %d exceeds packet", ErrMalformed, afLen)
	}
	af := &AdaptationField{Length: afLen}
	if afLen == 0 {
		return af, nil
	}

	flags := b[1]
	af.DiscontinuityIndicator = flags&0x80 != 0
	af.RandomAccessIndicator = flags&0x40 != 0
	if flags&0x10 != 0 && afLen >= 7 {
		af.PCR = parsePCR(b[2:8])
	}
	return af, nil
}

// parsePCR extracts the 33-bit base and 9-bit extension from 6 PCR bytes.
func parsePCR(bs []byte) *ClockReference {
	r := &fieldReader{br: bitreader.NewReader(bytes.NewReader(bs))}
	hi := int64(r.read(1))
	lo := int64(r.read(32))
	r.read(6) // reserved
	ext := int64(r.read(9))
	return &ClockReference{Base: hi<<32 | lo, Extension: ext}
}

// forEachPacket walks packetCount packets of buf, stopping early if buf is
// shorter than packetCount*PacketSize. Partial trailing packets are ignored.
func forEachPacket(buf []byte, packetCount int, fn func(raw []byte)) {
	if n := len(buf) / PacketSize; packetCount > n || packetCount < 0 {
		packetCount = n
	}
	for i := 0; i < packetCount; i++ {
		fn(buf[i*PacketSize : (i+1)*PacketSize])
	}
}
