package mpegts

import "fmt"

const (
	// PIDPAT is the PID carrying the Program Association Table.
	PIDPAT = 0x0000

	tableIDPAT = 0x00
	tableIDPMT = 0x02
)

// PAT is a parsed Program Association Table.
type PAT struct {
	TransportStreamID uint16
	Version           uint8
	// NetworkPID is the NIT PID announced by program 0, or zero if absent.
	NetworkPID uint16
	Programs   []PATProgram
}

// PATProgram maps a program number to its PMT PID.
type PATProgram struct {
	ProgramNumber uint16
	PMTPID        uint16
}

// PMT is a parsed Program Map Table for one program.
type PMT struct {
	ProgramNumber uint16
	Version       uint8
	PCRPID        uint16
	Descriptors   []Descriptor
	Streams       []ElementaryStream
}

// ElementaryStream describes a single elementary stream in a PMT.
type ElementaryStream struct {
	StreamType  uint8
	PID         uint16
	Descriptors []Descriptor
}

// psiHeader holds the long-form section header shared by PAT and PMT.
//
// data layout:
// [0]    table_id
// [1-2]  section_syntax_indicator(1) + zero(1) + reserved(2) + section_length(12)
// [3-4]  table_id_extension (transport_stream_id or program_number)
// [5]    reserved(2) + version(5) + current_next(1)
// [6]    section_number
// [7]    last_section_number
type psiHeader struct {
	tableID           uint8
	sectionLength     int
	tableIDExtension  uint16
	version           uint8
	currentNext       bool
	sectionNumber     uint8
	lastSectionNumber uint8
}

const psiHeaderSize = 8

func parsePSIHeader(data []byte) (psiHeader, error) {
	var h psiHeader
	if len(data) < psiHeaderSize+4 {
		return h, fmt.Errorf("%w: section too short (%d bytes)", ErrSectionMalformed, len(data))
	}
	h.tableID = data[0]
	h.sectionLength = int(data[1]&0x0F)<<8 | int(data[2])
	if 3+h.sectionLength > len(data) {
		return h, fmt.Errorf("%w: section_length %d exceeds %d bytes", ErrSectionMalformed, h.sectionLength, len(data))
	}
	h.tableIDExtension = uint16(data[3])<<8 | uint16(data[4])
	h.version = data[5] >> 1 & 0x1F
	h.currentNext = data[5]&0x01 != 0
	h.sectionNumber = data[6]
	h.lastSectionNumber = data[7]
	return h, nil
}

// patSection is one section of a possibly multi-section PAT.
type patSection struct {
	psiHeader
	networkPID uint16
	programs   []PATProgram
}

func parsePATSection(data []byte) (*patSection, error) {
	h, err := parsePSIHeader(data)
	if err != nil {
		return nil, fmt.Errorf("PAT: %w", err)
	}
	if h.tableID != tableIDPAT {
		return nil, fmt.Errorf("PAT: %w: table_id 0x%02X", ErrSectionMalformed, h.tableID)
	}

	s := &patSection{psiHeader: h}
	entryEnd := 3 + h.sectionLength - 4 // CRC32
	for i := psiHeaderSize; i+4 <= entryEnd; i += 4 {
		programNumber := uint16(data[i])<<8 | uint16(data[i+1])
		pid := uint16(data[i+2]&0x1F)<<8 | uint16(data[i+3])
		if programNumber == 0 {
			s.networkPID = pid
			continue
		}
		s.programs = append(s.programs, PATProgram{ProgramNumber: programNumber, PMTPID: pid})
	}
	return s, nil
}

func parsePMTSection(data []byte) (*PMT, psiHeader, error) {
	h, err := parsePSIHeader(data)
	if err != nil {
		return nil, h, fmt.Errorf("PMT: %w", err)
	}
	if h.tableID != tableIDPMT {
		return nil, h, fmt.Errorf("PMT: %w: table_id 0x%02X", ErrSectionMalformed, h.tableID)
	}

	// [8-9]   reserved(3) + PCR_PID(13)
	// [10-11] reserved(4) + program_info_length(12)
	// [...]   program descriptors, then elementary stream entries, then CRC32
	sectionEnd := 3 + h.sectionLength - 4
	if sectionEnd < 12 {
		return nil, h, fmt.Errorf("PMT: %w: section_length %d", ErrSectionMalformed, h.sectionLength)
	}

	pmt := &PMT{
		ProgramNumber: h.tableIDExtension,
		Version:       h.version,
		PCRPID:        uint16(data[8]&0x1F)<<8 | uint16(data[9]),
	}

	programInfoLength := int(data[10]&0x0F)<<8 | int(data[11])
	offset := 12 + programInfoLength
	if offset > sectionEnd {
		return nil, h, fmt.Errorf("PMT: %w: program_info_length %d", ErrSectionMalformed, programInfoLength)
	}
	if pmt.Descriptors, err = parseDescriptors(data[12:offset]); err != nil {
		return nil, h, fmt.Errorf("PMT program info: %w", err)
	}

	for offset+5 <= sectionEnd {
		esInfoLength := int(data[offset+3]&0x0F)<<8 | int(data[offset+4])
		end := offset + 5 + esInfoLength
		if end > sectionEnd {
			return nil, h, fmt.Errorf("PMT: %w: ES_info_length %d", ErrSectionMalformed, esInfoLength)
		}
		es := ElementaryStream{
			StreamType: data[offset],
			PID:        uint16(data[offset+1]&0x1F)<<8 | uint16(data[offset+2]),
		}
		if es.Descriptors, err = parseDescriptors(data[offset+5 : end]); err != nil {
			return nil, h, fmt.Errorf("PMT ES 0x%04X: %w", es.PID, err)
		}
		pmt.Streams = append(pmt.Streams, es)
		offset = end
	}
	return pmt, h, nil
}

// parseDescriptors splits a descriptor loop into tag/data pairs. The data
// is copied so the result outlives the section buffer.
func parseDescriptors(b []byte) ([]Descriptor, error) {
	var ds []Descriptor
	for len(b) > 0 {
		if len(b) < 2 {
			return nil, fmt.Errorf("%w: dangling descriptor byte", ErrSectionMalformed)
		}
		n := int(b[1])
		if 2+n > len(b) {
			return nil, fmt.Errorf("%w: descriptor 0x%02X length %d exceeds loop", ErrSectionMalformed, b[0], n)
		}
		ds = append(ds, Descriptor{Tag: b[0], Data: append([]byte(nil), b[2:2+n]...)})
		b = b[2+n:]
	}
	return ds, nil
}

// patCollector gathers the sections of one PAT version until every
// section_number up to last_section_number has been seen.
type patCollector struct {
	version  uint8
	last     uint8
	sections map[uint8]*patSection
}

func (c *patCollector) add(s *patSection) *PAT {
	if c.sections == nil || s.version != c.version || s.lastSectionNumber != c.last {
		c.sections = make(map[uint8]*patSection)
		c.version = s.version
		c.last = s.lastSectionNumber
	}
	if s.sectionNumber > c.last {
		return nil
	}
	c.sections[s.sectionNumber] = s
	if len(c.sections) != int(c.last)+1 {
		return nil
	}

	pat := &PAT{TransportStreamID: s.tableIDExtension, Version: s.version}
	seen := make(map[uint16]bool)
	for i := 0; i <= int(c.last); i++ {
		part := c.sections[uint8(i)]
		if part.networkPID != 0 {
			pat.NetworkPID = part.networkPID
		}
		for _, p := range part.programs {
			if seen[p.ProgramNumber] {
				continue
			}
			seen[p.ProgramNumber] = true
			pat.Programs = append(pat.Programs, p)
		}
	}
	return pat
}

// sameAs reports whether two PATs describe the same program set and version.
func (pat *PAT) sameAs(other *PAT) bool {
	if other == nil || pat.Version != other.Version ||
		pat.TransportStreamID != other.TransportStreamID ||
		len(pat.Programs) != len(other.Programs) {
		return false
	}
	for i := range pat.Programs {
		if pat.Programs[i] != other.Programs[i] {
			return false
		}
	}
	return true
}
