package mpegts

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/32bitkid/bitreader"
)

const (
	pesFixedHeaderSize    = 6
	pesOptionalHeaderSize = 3
)

// isPESPayload checks for the PES start code prefix (0x000001).
func isPESPayload(data []byte) bool {
	return len(data) >= 3 && data[0] == 0x00 && data[1] == 0x00 && data[2] == 0x01
}

// hasOptionalPESHeader reports whether packets of this stream id carry the
// optional PES header. program_stream_map (0xBC), padding_stream (0xBE),
// private_stream_2 (0xBF), ECM (0xF0), EMM (0xF1), DSMCC (0xF2),
// ITU-T Rec. H.222.1 type E (0xF8) and program_stream_directory (0xFF)
// do not.
func hasOptionalPESHeader(streamID uint8) bool {
	switch streamID {
	case 0xBC, 0xBE, 0xBF, 0xF0, 0xF1, 0xF2, 0xF8, 0xFF:
		return false
	}
	return true
}

// pesOptionalHeader is the decoded optional PES header.
type pesOptionalHeader struct {
	scrambling       uint8
	dataAlignment    bool
	pts, dts         *ClockReference
	headerDataLength int
}

// parsePES decodes one complete PES packet. raw starts at the start code
// and ends at the last byte of the packet; header and payload are copied.
func parsePES(raw []byte, pid uint16) (*PESPacket, error) {
	if len(raw) < pesFixedHeaderSize {
		return nil, fmt.Errorf("%w: PES packet too short (%d bytes)", ErrPESLength, len(raw))
	}
	if !isPESPayload(raw) {
		return nil, ErrBadStartCode
	}

	pes := &PESPacket{
		PID:          pid,
		StreamID:     raw[3],
		PacketLength: int(raw[4])<<8 | int(raw[5]),
	}

	dataStart := pesFixedHeaderSize
	if hasOptionalPESHeader(pes.StreamID) {
		if len(raw) < pesFixedHeaderSize+pesOptionalHeaderSize {
			return nil, fmt.Errorf("%w: PES optional header too short", ErrPESLength)
		}
		opt, err := parsePESOptionalHeader(raw[pesFixedHeaderSize:])
		if err != nil {
			return nil, err
		}
		dataStart += pesOptionalHeaderSize + opt.headerDataLength
		if dataStart > len(raw) {
			return nil, fmt.Errorf("%w: PES_header_data_length %d exceeds packet", ErrPESLength, opt.headerDataLength)
		}
		pes.ScramblingControl = opt.scrambling
		pes.DataAlignmentIndicator = opt.dataAlignment
		pes.PTS = opt.pts
		pes.DTS = opt.dts
	}

	pes.Header = append([]byte(nil), raw[:dataStart]...)
	pes.Payload = append([]byte(nil), raw[dataStart:]...)
	return pes, nil
}

// parsePESOptionalHeader reads the optional header that follows
// PES_packet_length:
//
//	'10'(2) scrambling(2) priority(1) alignment(1) copyright(1) original(1)
//	PTS_DTS_flags(2) ESCR(1) ES_rate(1) trick_mode(1) copy_info(1) CRC(1) extension(1)
//	PES_header_data_length(8)
//	PTS(40) DTS(40) ...
func parsePESOptionalHeader(b []byte) (*pesOptionalHeader, error) {
	r := &fieldReader{br: bitreader.NewReader(bytes.NewReader(b))}

	var opt pesOptionalHeader
	marker := r.read(2)
	opt.scrambling = uint8(r.read(2))
	r.read(1) // priority
	opt.dataAlignment = r.read(1) == 1
	r.read(2) // copyright, original_or_copy
	ptsDTSFlags := r.read(2)
	r.read(6) // ESCR, ES_rate, DSM_trick_mode, additional_copy_info, CRC, extension
	opt.headerDataLength = int(r.read(8))
	if r.err != nil {
		return nil, fmt.Errorf("%w: PES header truncated", ErrPESLength)
	}
	if marker != 0x02 {
		return nil, fmt.Errorf("%w: PES header marker bits", ErrMalformed)
	}
	if len(b) < pesOptionalHeaderSize+opt.headerDataLength {
		return nil, fmt.Errorf("%w: PES_header_data_length %d exceeds packet", ErrPESLength, opt.headerDataLength)
	}

	if ptsDTSFlags >= 0x02 && opt.headerDataLength < 5*int(ptsDTSFlags-1) {
		return nil, fmt.Errorf("%w: PES_header_data_length %d too short for timestamps", ErrPESLength, opt.headerDataLength)
	}

	switch ptsDTSFlags {
	case 0x01:
		return nil, fmt.Errorf("%w: forbidden PTS_DTS_flags value", ErrMalformed)
	case 0x02:
		opt.pts = r.timestamp()
	case 0x03:
		opt.pts = r.timestamp()
		opt.dts = r.timestamp()
	}
	if r.err != nil {
		return nil, fmt.Errorf("%w: PES timestamps truncated", ErrPESLength)
	}
	return &opt, nil
}

// fieldReader reads big-endian bit fields and remembers the first error,
// after which every read returns zero.
type fieldReader struct {
	br  bitreader.BitReader
	err error
}

func (r *fieldReader) read(bits uint) uint32 {
	if r.err != nil {
		return 0
	}
	v, err := r.br.Read32(bits)
	if err != nil {
		r.err = err
		return 0
	}
	return v
}

// timestamp decodes a 33-bit PTS/DTS spread over 40 bits with marker bits.
func (r *fieldReader) timestamp() *ClockReference {
	r.read(4) // '0010', '0011' or '0001'
	hi := int64(r.read(3))
	r.read(1)
	mid := int64(r.read(15))
	r.read(1)
	lo := int64(r.read(15))
	r.read(1)
	return &ClockReference{Base: hi<<30 | mid<<15 | lo}
}

// String renders a one-line summary of the PES packet.
func (p *PESPacket) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "PES pid 0x%04x stream_id 0x%02x length %d", p.PID, p.StreamID, p.PacketLength)
	if p.PTS != nil {
		fmt.Fprintf(&b, " pts %d", p.PTS.Base)
	}
	if p.DTS != nil {
		fmt.Fprintf(&b, " dts %d", p.DTS.Base)
	}
	fmt.Fprintf(&b, " payload %d bytes", len(p.Payload))
	return b.String()
}
