package mpegts

import (
	"errors"
	"fmt"
)

// Framing errors returned by ParsePacket.
var (
	ErrBadSync   = errors.New("mpegts: invalid sync byte")
	ErrMalformed = errors.New("mpegts: malformed packet")
)

// Section errors reported by the section assembler. They are never fatal:
// the in-flight section is discarded and assembly restarts at the next
// payload unit start.
var (
	ErrSectionTruncated     = errors.New("mpegts: section truncated")
	ErrCRCMismatch          = errors.New("mpegts: CRC32 mismatch")
	ErrSectionDiscontinuity = errors.New("mpegts: continuity gap in section")
	ErrSectionMalformed     = errors.New("mpegts: malformed section")
)

// PES errors reported by PESExtractor. The affected PES packet is dropped.
var (
	ErrBadStartCode     = errors.New("mpegts: missing PES start code")
	ErrPESLength        = errors.New("mpegts: unexpected PES length")
	ErrPESDiscontinuity = errors.New("mpegts: continuity gap in PES")
	ErrBufferOverflow   = errors.New("mpegts: assembly buffer limit exceeded")
)

// Construction and query errors.
var (
	ErrInvalidFilter = errors.New("mpegts: invalid filter configuration")
	ErrModelNotReady = errors.New("mpegts: stream model not complete")
)

// PacketError attaches the PID on which a non-fatal error was detected.
type PacketError struct {
	PID uint16
	Err error
}

func (e *PacketError) Error() string {
	return fmt.Sprintf("pid 0x%04X: %v", e.PID, e.Err)
}

func (e *PacketError) Unwrap() error {
	return e.Err
}
