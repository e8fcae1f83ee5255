package mpegts

import (
	"errors"
	"testing"
)

func TestParsePATSection(t *testing.T) {
	t.Parallel()
	data := buildPAT(0x1234, 3, []programEntry{{0, 0x10}, {1, 0x100}, {2, 0x200}})

	s, err := parsePATSection(data)
	if err != nil {
		t.Fatal(err)
	}
	if s.tableIDExtension != 0x1234 {
		t.Errorf("transport_stream_id = 0x%X, want 0x1234", s.tableIDExtension)
	}
	if s.version != 3 {
		t.Errorf("version = %d, want 3", s.version)
	}
	if !s.currentNext {
		t.Error("current_next should be set")
	}
	if s.networkPID != 0x10 {
		t.Errorf("network PID = 0x%X, want 0x10", s.networkPID)
	}
	if len(s.programs) != 2 {
		t.Fatalf("programs = %d, want 2", len(s.programs))
	}
	if s.programs[1] != (PATProgram{ProgramNumber: 2, PMTPID: 0x200}) {
		t.Errorf("programs[1] = %+v", s.programs[1])
	}
}

func TestParsePATSection_WrongTableID(t *testing.T) {
	t.Parallel()
	data := buildPMT(1, 0, 0x100, nil, nil)
	if _, err := parsePATSection(data); !errors.Is(err, ErrSectionMalformed) {
		t.Errorf("err = %v, want ErrSectionMalformed", err)
	}
}

func TestParsePMTSection(t *testing.T) {
	t.Parallel()
	reg := Descriptor{Tag: DescriptorTagRegistration, Data: []byte("CUEI")}
	lang := Descriptor{Tag: DescriptorTagISO639, Data: []byte("eng\x00spa\x01")}
	data := buildPMT(7, 5, 0x101, []Descriptor{reg}, []streamEntry{
		{0x1B, 0x101, nil},
		{0x0F, 0x102, []Descriptor{lang}},
		{0x86, 0x103, nil},
	})

	pmt, h, err := parsePMTSection(data)
	if err != nil {
		t.Fatal(err)
	}
	if !h.currentNext {
		t.Error("current_next should be set")
	}
	if pmt.ProgramNumber != 7 || pmt.Version != 5 || pmt.PCRPID != 0x101 {
		t.Errorf("pmt = %+v", pmt)
	}
	if len(pmt.Descriptors) != 1 || pmt.Descriptors[0].Tag != DescriptorTagRegistration {
		t.Fatalf("program descriptors = %+v", pmt.Descriptors)
	}
	if len(pmt.Streams) != 3 {
		t.Fatalf("streams = %d, want 3", len(pmt.Streams))
	}
	audio := pmt.Streams[1]
	if audio.StreamType != 0x0F || audio.PID != 0x102 {
		t.Errorf("stream[1] = type 0x%02X pid 0x%X", audio.StreamType, audio.PID)
	}
	if got := audio.Descriptors[0].Languages(); len(got) != 2 || got[0] != "eng" || got[1] != "spa" {
		t.Errorf("languages = %v", got)
	}
}

func TestParsePMTSection_ESInfoOverrun(t *testing.T) {
	t.Parallel()
	data := buildPMT(1, 0, 0x100, nil, []streamEntry{{0x1B, 0x100, nil}})
	// Claim more ES_info bytes than the section holds.
	data[12+4] = 0x20
	if _, _, err := parsePMTSection(data); !errors.Is(err, ErrSectionMalformed) {
		t.Errorf("err = %v, want ErrSectionMalformed", err)
	}
}

func TestParseDescriptors_Truncated(t *testing.T) {
	t.Parallel()
	if _, err := parseDescriptors([]byte{0x0A, 0x08, 'e', 'n'}); !errors.Is(err, ErrSectionMalformed) {
		t.Errorf("err = %v, want ErrSectionMalformed", err)
	}
	if _, err := parseDescriptors([]byte{0x0A}); !errors.Is(err, ErrSectionMalformed) {
		t.Errorf("err = %v, want ErrSectionMalformed", err)
	}
}

func TestParseDescriptors_CopiesData(t *testing.T) {
	t.Parallel()
	b := []byte{0x05, 0x04, 'C', 'U', 'E', 'I'}
	ds, err := parseDescriptors(b)
	if err != nil {
		t.Fatal(err)
	}
	b[2] = 'X'
	if id, _ := ds[0].FormatIdentifier(); id != "CUEI" {
		t.Errorf("descriptor aliases the section buffer: %q", id)
	}
}

func patSectionN(t *testing.T, version, number, last uint8, programs []programEntry) *patSection {
	t.Helper()
	data := buildPAT(1, version, programs)
	data[6] = number
	data[7] = last
	s, err := parsePATSection(data)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestPATCollector_MultiSection(t *testing.T) {
	t.Parallel()
	var c patCollector

	if pat := c.add(patSectionN(t, 0, 1, 1, []programEntry{{2, 0x200}})); pat != nil {
		t.Fatal("PAT completed with one of two sections")
	}
	pat := c.add(patSectionN(t, 0, 0, 1, []programEntry{{1, 0x100}, {2, 0x200}}))
	if pat == nil {
		t.Fatal("PAT not completed after both sections")
	}
	if len(pat.Programs) != 2 {
		t.Errorf("programs = %+v, want 2 distinct entries", pat.Programs)
	}
	if pat.Programs[0].ProgramNumber != 1 || pat.Programs[1].ProgramNumber != 2 {
		t.Errorf("programs not in section order: %+v", pat.Programs)
	}
}

func TestPATCollector_VersionChangeRestarts(t *testing.T) {
	t.Parallel()
	var c patCollector
	c.add(patSectionN(t, 0, 0, 1, []programEntry{{1, 0x100}}))
	if pat := c.add(patSectionN(t, 1, 1, 1, []programEntry{{2, 0x200}})); pat != nil {
		t.Fatal("sections of different versions were merged")
	}
}

func TestPATSameAs(t *testing.T) {
	t.Parallel()
	a := &PAT{TransportStreamID: 1, Version: 0, Programs: []PATProgram{{1, 0x100}}}
	b := &PAT{TransportStreamID: 1, Version: 0, Programs: []PATProgram{{1, 0x100}}}
	if !a.sameAs(b) {
		t.Error("identical PATs should compare equal")
	}
	b.Version = 1
	if a.sameAs(b) {
		t.Error("version change should compare unequal")
	}
	if a.sameAs(nil) {
		t.Error("nil should compare unequal")
	}
}
