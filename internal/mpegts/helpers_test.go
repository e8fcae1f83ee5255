package mpegts

import (
	"encoding/binary"
)

func makePacket(pid uint16, cc uint8, pusi bool, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = SyncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	buf[3] = 0x10 | (cc & 0x0F) // payload only
	if pusi {
		buf[1] |= 0x40
	}
	copy(buf[4:], payload)
	return buf
}

func makePacketWithAF(pid uint16, cc uint8, afLen int, payload []byte) []byte {
	buf := make([]byte, PacketSize)
	buf[0] = SyncByte
	buf[1] = byte(pid>>8) & 0x1F
	buf[2] = byte(pid)
	if len(payload) > 0 {
		buf[3] = 0x30 | (cc & 0x0F) // adaptation + payload
	} else {
		buf[3] = 0x20 | (cc & 0x0F) // adaptation only
	}
	buf[4] = byte(afLen)
	// AF body is zeros (no flags set)
	offset := 5 + afLen
	if offset < PacketSize {
		copy(buf[offset:], payload)
	}
	return buf
}

type programEntry struct{ num, pid uint16 }

// buildPAT constructs a valid single-section PAT with CRC32.
func buildPAT(tsID uint16, version uint8, programs []programEntry) []byte {
	entryLen := len(programs) * 4
	sectionLength := 5 + entryLen + 4 // 5 fixed header bytes after section_length + entries + CRC

	data := make([]byte, 3+sectionLength)
	data[0] = tableIDPAT
	data[1] = 0xB0 | byte(sectionLength>>8)&0x0F // section_syntax_indicator=1
	data[2] = byte(sectionLength)
	data[3] = byte(tsID >> 8)
	data[4] = byte(tsID)
	data[5] = 0xC1 | (version&0x1F)<<1 // reserved(2) + version + current_next(1)
	data[6] = 0x00                     // section_number
	data[7] = 0x00                     // last_section_number

	offset := 8
	for _, p := range programs {
		data[offset] = byte(p.num >> 8)
		data[offset+1] = byte(p.num)
		data[offset+2] = 0xE0 | byte(p.pid>>8)&0x1F // reserved(3) + PID
		data[offset+3] = byte(p.pid)
		offset += 4
	}

	binary.BigEndian.PutUint32(data[offset:], CRC32(data[:offset]))
	return data
}

type streamEntry struct {
	streamType  uint8
	pid         uint16
	descriptors []Descriptor
}

func encodeDescriptors(ds []Descriptor) []byte {
	var b []byte
	for _, d := range ds {
		b = append(b, d.Tag, byte(len(d.Data)))
		b = append(b, d.Data...)
	}
	return b
}

// buildPMT constructs a valid PMT section with CRC32.
func buildPMT(programNum uint16, version uint8, pcrPID uint16, programInfo []Descriptor, streams []streamEntry) []byte {
	body := []byte{
		0xE0 | byte(pcrPID>>8)&0x1F, byte(pcrPID),
	}
	info := encodeDescriptors(programInfo)
	body = append(body, 0xF0|byte(len(info)>>8)&0x0F, byte(len(info)))
	body = append(body, info...)
	for _, s := range streams {
		es := encodeDescriptors(s.descriptors)
		body = append(body,
			s.streamType,
			0xE0|byte(s.pid>>8)&0x1F, byte(s.pid),
			0xF0|byte(len(es)>>8)&0x0F, byte(len(es)))
		body = append(body, es...)
	}

	sectionLength := 5 + len(body) + 4
	data := make([]byte, 0, 3+sectionLength)
	data = append(data,
		tableIDPMT,
		0xB0|byte(sectionLength>>8)&0x0F, byte(sectionLength),
		byte(programNum>>8), byte(programNum),
		0xC1|(version&0x1F)<<1,
		0x00, 0x00)
	data = append(data, body...)
	return binary.BigEndian.AppendUint32(data, CRC32(data))
}

// psiPackets splits a section (behind a zero pointer field) into TS
// packets, padding the last one with 0xFF stuffing.
func psiPackets(pid uint16, cc uint8, section []byte) [][]byte {
	data := append([]byte{0x00}, section...)
	var pkts [][]byte
	for first := true; len(data) > 0; first = false {
		n := min(len(data), PacketSize-4)
		chunk := make([]byte, PacketSize-4)
		for i := range chunk {
			chunk[i] = 0xFF
		}
		copy(chunk, data[:n])
		pkts = append(pkts, makePacket(pid, cc, first, chunk))
		cc = (cc + 1) & 0x0F
		data = data[n:]
	}
	return pkts
}

// pesPackets splits a PES packet into TS packets. The last packet is
// filled exactly with adaptation-field stuffing.
func pesPackets(pid uint16, cc uint8, pes []byte) [][]byte {
	var pkts [][]byte
	for first := true; len(pes) > 0; first = false {
		var pkt []byte
		if len(pes) >= PacketSize-4 {
			pkt = makePacket(pid, cc, first, pes[:PacketSize-4])
			pes = pes[PacketSize-4:]
		} else {
			afLen := PacketSize - 4 - 1 - len(pes)
			pkt = makePacketWithAF(pid, cc, afLen, pes)
			for i := 6; i < 5+afLen; i++ {
				pkt[i] = 0xFF
			}
			if first {
				pkt[1] |= 0x40
			}
			pes = nil
		}
		pkts = append(pkts, pkt)
		cc = (cc + 1) & 0x0F
	}
	return pkts
}

func concatPackets(groups ...[][]byte) []byte {
	var out []byte
	for _, g := range groups {
		for _, p := range g {
			out = append(out, p...)
		}
	}
	return out
}

// encodePTS encodes a 33-bit PTS/DTS value into 5 bytes with marker bits.
func encodePTS(marker byte, value int64) []byte {
	bs := make([]byte, 5)
	bs[0] = marker<<4 | byte((value>>29)&0x0E) | 0x01
	bs[1] = byte(value >> 22)
	bs[2] = byte((value>>14)&0xFE) | 0x01
	bs[3] = byte(value >> 7)
	bs[4] = byte((value<<1)&0xFE) | 0x01
	return bs
}

// buildPESPacket builds a PES packet. bounded sets PES_packet_length to
// the real size; otherwise it is zero.
func buildPESPacket(streamID byte, pts, dts int64, hasPTS, hasDTS, bounded bool, data []byte) []byte {
	var optHeader []byte
	ptsDTSIndicator := byte(0)
	if hasPTS && hasDTS {
		ptsDTSIndicator = 3
		optHeader = append(optHeader, encodePTS(0x03, pts)...)
		optHeader = append(optHeader, encodePTS(0x01, dts)...)
	} else if hasPTS {
		ptsDTSIndicator = 2
		optHeader = append(optHeader, encodePTS(0x02, pts)...)
	}

	packetLength := 0
	if bounded {
		packetLength = 3 + len(optHeader) + len(data)
	}

	buf := make([]byte, 0, 9+len(optHeader)+len(data))
	buf = append(buf, 0x00, 0x00, 0x01) // start code
	buf = append(buf, streamID)
	buf = append(buf, byte(packetLength>>8), byte(packetLength))
	buf = append(buf, 0x84)                 // marker bits + data_alignment_indicator
	buf = append(buf, ptsDTSIndicator<<6)   // PTS_DTS_indicator
	buf = append(buf, byte(len(optHeader))) // PES_header_data_length
	buf = append(buf, optHeader...)
	buf = append(buf, data...)
	return buf
}
