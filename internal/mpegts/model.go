package mpegts

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Program is one PAT entry together with its parsed PMT.
type Program struct {
	Number      uint16
	PMTPID      uint16
	PMTVersion  uint8
	PCRPID      uint16
	Descriptors []Descriptor
	Streams     []ElementaryStream
}

func (p Program) clone() Program {
	p.Descriptors = cloneDescriptors(p.Descriptors)
	streams := make([]ElementaryStream, len(p.Streams))
	for i, es := range p.Streams {
		es.Descriptors = cloneDescriptors(es.Descriptors)
		streams[i] = es
	}
	p.Streams = streams
	return p
}

func cloneDescriptors(ds []Descriptor) []Descriptor {
	if ds == nil {
		return nil
	}
	out := make([]Descriptor, len(ds))
	for i, d := range ds {
		out[i] = Descriptor{Tag: d.Tag, Data: append([]byte(nil), d.Data...)}
	}
	return out
}

// ProgramModel is an immutable snapshot of a fully acquired PAT and the
// PMT of every program it references. Accessors return copies.
type ProgramModel struct {
	transportStreamID uint16
	patVersion        uint8
	networkPID        uint16
	programs          []Program
}

func newProgramModel(pat *PAT, pmts map[uint16]*PMT) *ProgramModel {
	m := &ProgramModel{
		transportStreamID: pat.TransportStreamID,
		patVersion:        pat.Version,
		networkPID:        pat.NetworkPID,
		programs:          make([]Program, 0, len(pat.Programs)),
	}
	for _, entry := range pat.Programs {
		pmt := pmts[entry.ProgramNumber]
		m.programs = append(m.programs, Program{
			Number:      entry.ProgramNumber,
			PMTPID:      entry.PMTPID,
			PMTVersion:  pmt.Version,
			PCRPID:      pmt.PCRPID,
			Descriptors: cloneDescriptors(pmt.Descriptors),
			Streams:     Program{Streams: pmt.Streams}.clone().Streams,
		})
	}
	return m
}

// TransportStreamID returns the PAT transport_stream_id.
func (m *ProgramModel) TransportStreamID() uint16 { return m.transportStreamID }

// PATVersion returns the PAT version_number.
func (m *ProgramModel) PATVersion() uint8 { return m.patVersion }

// NetworkPID returns the NIT PID if the PAT announced one.
func (m *ProgramModel) NetworkPID() (uint16, bool) {
	return m.networkPID, m.networkPID != 0
}

// ProgramCount returns the number of programs in the PAT.
func (m *ProgramModel) ProgramCount() int { return len(m.programs) }

// Programs returns the programs in PAT order.
func (m *ProgramModel) Programs() []Program {
	out := make([]Program, len(m.programs))
	for i, p := range m.programs {
		out[i] = p.clone()
	}
	return out
}

// Program looks up a program by program_number.
func (m *ProgramModel) Program(number uint16) (Program, bool) {
	for _, p := range m.programs {
		if p.Number == number {
			return p.clone(), true
		}
	}
	return Program{}, false
}

// PMTPIDs returns the distinct PMT PIDs in ascending order.
func (m *ProgramModel) PMTPIDs() []uint16 {
	seen := make(map[uint16]bool)
	var pids []uint16
	for _, p := range m.programs {
		if !seen[p.PMTPID] {
			seen[p.PMTPID] = true
			pids = append(pids, p.PMTPID)
		}
	}
	sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	return pids
}

// Dump writes the PAT, PMT, stream and descriptor tree to w. Descriptors
// are included only when verbose is set.
func (m *ProgramModel) Dump(w io.Writer, verbose bool) error {
	var b strings.Builder
	fmt.Fprintf(&b, "PAT: transport_stream_id 0x%04x, version %d, programs %d\n",
		m.transportStreamID, m.patVersion, len(m.programs))
	if pid, ok := m.NetworkPID(); ok {
		fmt.Fprintf(&b, "  network pid 0x%04x\n", pid)
	}
	for _, p := range m.programs {
		fmt.Fprintf(&b, "  program %d -> PMT pid 0x%04x\n", p.Number, p.PMTPID)
		fmt.Fprintf(&b, "    PMT: version %d, pcr_pid 0x%04x, streams %d\n", p.PMTVersion, p.PCRPID, len(p.Streams))
		if verbose {
			for _, d := range p.Descriptors {
				fmt.Fprintf(&b, "      descriptor %s\n", d)
			}
		}
		for _, es := range p.Streams {
			fmt.Fprintf(&b, "      pid 0x%04x stream_type 0x%02x (%s)\n", es.PID, es.StreamType, StreamTypeName(es.StreamType))
			if verbose {
				for _, d := range es.Descriptors {
					fmt.Fprintf(&b, "        descriptor %s\n", d)
				}
			}
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
