package mpegts

import (
	"errors"
	"log/slog"
)

type modelState int

const (
	stateAwaitingPAT modelState = iota
	stateCollectingPMTs
	stateComplete
)

func (s modelState) String() string {
	switch s {
	case stateAwaitingPAT:
		return "awaiting-pat"
	case stateCollectingPMTs:
		return "collecting-pmts"
	case stateComplete:
		return "complete"
	}
	return "unknown"
}

// ModelCounters counts the non-fatal conditions a StreamModel absorbed.
type ModelCounters struct {
	Packets          uint64
	FramingErrors    uint64
	CRCErrors        uint64
	TruncatedSection uint64
	Discontinuities  uint64
	MalformedSection uint64
	Completions      uint64
}

// StreamModel builds a ProgramModel from the PAT and every PMT it
// references. It moves from awaiting-pat to collecting-pmts to complete,
// and with tracking enabled starts a new acquisition when the PAT or a PMT
// version changes.
type StreamModel struct {
	log      *slog.Logger
	verbose  bool
	tracking bool

	state    modelState
	patAsm   *sectionAssembler
	patParts patCollector
	pmtAsms  map[uint16]*sectionAssembler

	pat      *PAT
	pmts     map[uint16]*PMT // by program_number
	snapshot *ProgramModel

	completedNow bool
	counters     ModelCounters
}

// NewStreamModel creates a stream model builder. verbose raises state
// transition logs from Debug to Info.
func NewStreamModel(verbose bool, opts ...func(*StreamModel)) *StreamModel {
	sm := &StreamModel{
		log:      slog.Default(),
		verbose:  verbose,
		tracking: true,
		patAsm:   newSectionAssembler(PIDPAT),
	}
	for _, opt := range opts {
		opt(sm)
	}
	sm.log = sm.log.With("component", "streammodel")
	return sm
}

// StreamModelOptLogger sets the logger. A nil logger keeps slog.Default().
func StreamModelOptLogger(l *slog.Logger) func(*StreamModel) {
	return func(sm *StreamModel) {
		if l != nil {
			sm.log = l
		}
	}
}

// StreamModelOptTracking controls whether the builder keeps following PAT
// and PMT changes after the first completion. With tracking disabled the
// first complete model is final and later writes are ignored.
func StreamModelOptTracking(enabled bool) func(*StreamModel) {
	return func(sm *StreamModel) {
		sm.tracking = enabled
	}
}

// Write feeds packetCount packets from buf. It reports true when this call
// completed a model acquisition; that happens exactly once per acquisition.
func (sm *StreamModel) Write(buf []byte, packetCount int) bool {
	if sm.state == stateComplete && !sm.tracking {
		return false
	}
	sm.completedNow = false

	forEachPacket(buf, packetCount, func(raw []byte) {
		sm.counters.Packets++
		p, err := ParsePacket(raw)
		if err != nil {
			sm.counters.FramingErrors++
			sm.log.Debug("skipping packet", "error", err)
			return
		}
		sm.route(p)
	})
	return sm.completedNow
}

// QueryModel returns the most recently completed model. Before the first
// completion it returns ErrModelNotReady. The snapshot is never modified
// by later writes.
func (sm *StreamModel) QueryModel() (*ProgramModel, error) {
	if sm.snapshot == nil {
		return nil, ErrModelNotReady
	}
	return sm.snapshot, nil
}

// Counters returns the accumulated error and completion counters.
func (sm *StreamModel) Counters() ModelCounters {
	return sm.counters
}

func (sm *StreamModel) route(p *Packet) {
	pid := p.Header.PID
	if pid == PIDPAT {
		sm.noteSectionError(sm.patAsm.push(p, sm.handlePATSection))
		return
	}
	if sm.state == stateAwaitingPAT {
		return
	}
	if asm, ok := sm.pmtAsms[pid]; ok {
		sm.noteSectionError(asm.push(p, func(section []byte) {
			sm.handlePMTSection(pid, section)
		}))
	}
}

func (sm *StreamModel) handlePATSection(section []byte) {
	s, err := parsePATSection(section)
	if err != nil {
		sm.noteSectionError(err)
		return
	}
	if !s.currentNext {
		return
	}
	pat := sm.patParts.add(s)
	if pat == nil {
		return
	}
	pat = sm.routablePrograms(pat)

	switch sm.state {
	case stateAwaitingPAT:
		sm.beginAcquisition(pat)
	case stateCollectingPMTs:
		if !pat.sameAs(sm.pat) {
			sm.logState("PAT changed during acquisition", "version", pat.Version)
			sm.beginAcquisition(pat)
		}
	case stateComplete:
		if !pat.sameAs(sm.pat) {
			sm.logState("PAT changed, resetting model", "version", pat.Version, "programs", len(pat.Programs))
			sm.state = stateAwaitingPAT
			sm.beginAcquisition(pat)
		}
	}
}

// routablePrograms drops PAT entries whose PMT PID can never carry a PMT,
// the PAT PID itself and the null PID, so the remaining programs can
// still complete.
func (sm *StreamModel) routablePrograms(pat *PAT) *PAT {
	kept := make([]PATProgram, 0, len(pat.Programs))
	for _, p := range pat.Programs {
		if p.PMTPID == PIDPAT || p.PMTPID == PIDNull {
			sm.log.Debug("ignoring program with unusable PMT pid",
				"program", p.ProgramNumber, "pmt_pid", p.PMTPID)
			continue
		}
		kept = append(kept, p)
	}
	if len(kept) == len(pat.Programs) {
		return pat
	}
	out := *pat
	out.Programs = kept
	return &out
}

func (sm *StreamModel) beginAcquisition(pat *PAT) {
	sm.pat = pat
	sm.pmts = make(map[uint16]*PMT, len(pat.Programs))

	asms := make(map[uint16]*sectionAssembler, len(pat.Programs))
	for _, p := range pat.Programs {
		if asm, ok := sm.pmtAsms[p.PMTPID]; ok {
			asms[p.PMTPID] = asm
		} else if _, ok := asms[p.PMTPID]; !ok {
			asms[p.PMTPID] = newSectionAssembler(p.PMTPID)
		}
	}
	sm.pmtAsms = asms
	sm.state = stateCollectingPMTs
	sm.logState("PAT acquired", "transport_stream_id", pat.TransportStreamID,
		"version", pat.Version, "programs", len(pat.Programs))

	if len(pat.Programs) == 0 {
		sm.complete()
	}
}

func (sm *StreamModel) handlePMTSection(pid uint16, section []byte) {
	pmt, h, err := parsePMTSection(section)
	if err != nil {
		sm.noteSectionError(&PacketError{PID: pid, Err: err})
		return
	}
	if !h.currentNext || !sm.referencesProgram(pid, pmt.ProgramNumber) {
		return
	}

	prev, seen := sm.pmts[pmt.ProgramNumber]
	switch sm.state {
	case stateCollectingPMTs:
		sm.pmts[pmt.ProgramNumber] = pmt
		if !seen && len(sm.pmts) == len(sm.pat.Programs) {
			sm.complete()
		}
	case stateComplete:
		if seen && prev.Version == pmt.Version {
			return
		}
		sm.logState("PMT version changed", "program", pmt.ProgramNumber, "pid", pid, "version", pmt.Version)
		next := make(map[uint16]*PMT, len(sm.pmts))
		for k, v := range sm.pmts {
			next[k] = v
		}
		next[pmt.ProgramNumber] = pmt
		sm.pmts = next
		sm.state = stateCollectingPMTs
		sm.complete()
	}
}

func (sm *StreamModel) referencesProgram(pid, number uint16) bool {
	for _, p := range sm.pat.Programs {
		if p.ProgramNumber == number && p.PMTPID == pid {
			return true
		}
	}
	return false
}

func (sm *StreamModel) complete() {
	sm.snapshot = newProgramModel(sm.pat, sm.pmts)
	sm.state = stateComplete
	sm.completedNow = true
	sm.counters.Completions++
	sm.logState("model complete", "programs", sm.snapshot.ProgramCount(),
		"completions", sm.counters.Completions)
}

func (sm *StreamModel) noteSectionError(err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, ErrCRCMismatch):
		sm.counters.CRCErrors++
	case errors.Is(err, ErrSectionDiscontinuity):
		sm.counters.Discontinuities++
	case errors.Is(err, ErrSectionTruncated):
		sm.counters.TruncatedSection++
	default:
		sm.counters.MalformedSection++
	}
	sm.log.Debug("section error", "state", sm.state, "error", err)
}

func (sm *StreamModel) logState(msg string, args ...any) {
	args = append(args, "state", sm.state)
	if sm.verbose {
		sm.log.Info(msg, args...)
		return
	}
	sm.log.Debug(msg, args...)
}
