package mpegts

import (
	"errors"
	"fmt"
)

const (
	// maxPSISectionLength is the largest section_length allowed for
	// PAT/PMT sections.
	maxPSISectionLength = 1021
	stuffingByte        = 0xFF
)

// sectionAssembler reconstructs PSI sections carried on a single PID.
// Sections may span several packets and a packet may finish one section
// and start the next.
type sectionAssembler struct {
	pid    uint16
	buf    []byte
	active bool
	lastCC int
}

func newSectionAssembler(pid uint16) *sectionAssembler {
	return &sectionAssembler{pid: pid, lastCC: -1}
}

// push feeds one packet for the assembler's PID. emit is called with every
// complete, CRC-valid section; the slice is only valid during the call.
// The returned error collects the non-fatal problems seen in this packet.
func (sa *sectionAssembler) push(p *Packet, emit func(section []byte)) error {
	var errs []error

	if p.Header.TransportErrorIndicator {
		if sa.active {
			errs = append(errs, ErrSectionTruncated)
		}
		sa.reset()
		return sa.wrap(append(errs, fmt.Errorf("%w: transport_error_indicator set", ErrMalformed)))
	}

	// Adaptation-only packets do not advance the continuity counter.
	if !p.Header.HasPayload {
		return nil
	}

	cc := int(p.Header.ContinuityCounter)
	if sa.lastCC >= 0 && !p.Header.DiscontinuityIndicator {
		if cc == sa.lastCC {
			return nil // duplicate packet
		}
		if cc != (sa.lastCC+1)&0x0F && sa.active {
			errs = append(errs, ErrSectionDiscontinuity)
			sa.reset()
		}
	}
	sa.lastCC = cc

	payload := p.Payload
	if !p.Header.PayloadUnitStartIndicator {
		if sa.active {
			sa.buf = append(sa.buf, payload...)
			sa.drain(emit, &errs)
		}
		return sa.wrap(errs)
	}

	if len(payload) == 0 {
		sa.reset()
		return sa.wrap(append(errs, fmt.Errorf("%w: empty payload with pointer field", ErrSectionMalformed)))
	}
	pointer := int(payload[0])
	if 1+pointer > len(payload) {
		sa.reset()
		return sa.wrap(append(errs, fmt.Errorf("%w: pointer_field %d out of range", ErrSectionMalformed, pointer)))
	}

	// Bytes ahead of the pointer target finish the previous section.
	if sa.active {
		sa.buf = append(sa.buf, payload[1:1+pointer]...)
		sa.drain(emit, &errs)
		if sa.active {
			errs = append(errs, ErrSectionTruncated)
		}
	}

	sa.buf = append(sa.buf[:0], payload[1+pointer:]...)
	sa.active = true
	sa.drain(emit, &errs)
	return sa.wrap(errs)
}

// drain emits every complete section at the head of the buffer.
func (sa *sectionAssembler) drain(emit func([]byte), errs *[]error) {
	for sa.active {
		if len(sa.buf) > 0 && sa.buf[0] == stuffingByte {
			sa.reset()
			return
		}
		if len(sa.buf) < 3 {
			return
		}
		if sa.buf[1]&0x80 == 0 {
			*errs = append(*errs, fmt.Errorf("%w: section_syntax_indicator not set", ErrSectionMalformed))
			sa.reset()
			return
		}
		sectionLength := int(sa.buf[1]&0x0F)<<8 | int(sa.buf[2])
		if sectionLength > maxPSISectionLength {
			*errs = append(*errs, fmt.Errorf("%w: section_length %d", ErrSectionMalformed, sectionLength))
			sa.reset()
			return
		}
		total := 3 + sectionLength
		if len(sa.buf) < total {
			return
		}

		if sectionCRCValid(sa.buf[:total]) {
			emit(sa.buf[:total])
		} else {
			*errs = append(*errs, ErrCRCMismatch)
		}

		rest := copy(sa.buf, sa.buf[total:])
		sa.buf = sa.buf[:rest]
		if rest == 0 {
			sa.active = false
		}
	}
}

func (sa *sectionAssembler) reset() {
	sa.buf = sa.buf[:0]
	sa.active = false
}

func (sa *sectionAssembler) wrap(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &PacketError{PID: sa.pid, Err: errors.Join(errs...)}
}
