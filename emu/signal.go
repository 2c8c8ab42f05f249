package emu

import (
	"errors"
	"fmt"
)

// Hard errors. They reach callers wrapped in a *Signal with the
// AccessInvalid bit set, so errors.Is works on the returned error.
var (
	ErrDecodeUndefined    = errors.New("undefined instruction")
	ErrMisalignedPC       = errors.New("misaligned PC")
	ErrOutOfBounds        = errors.New("out of bounds access")
	ErrPrivilegeViolation = errors.New("privilege violation")
	ErrInvalidModeBits    = errors.New("invalid mode bits")
	ErrNoSPSRInUserMode   = errors.New("no SPSR in User mode")
)

// Source identifies what raised a Signal.
type Source uint8

// Signal sources.
const (
	SourceRegister Source = iota
	SourceMemory
	SourceFlag
	SourceAssert
	SourcePC
)

func (s Source) String() string {
	switch s {
	case SourceRegister:
		return "register"
	case SourceMemory:
		return "memory"
	case SourceFlag:
		return "flag"
	case SourceAssert:
		return "assert"
	case SourcePC:
		return "pc"
	default:
		return "unknown"
	}
}

// AccessMode is a breakpoint mask. The low three bits match the breakpoint
// masks stored in memory and registers.
type AccessMode uint8

// Access bits.
const (
	AccessExec    AccessMode = 1 << 0
	AccessWrite   AccessMode = 1 << 1
	AccessRead    AccessMode = 1 << 2
	AccessInvalid AccessMode = 1 << 3
)

func (m AccessMode) String() string {
	s := ""
	for _, b := range []struct {
		bit  AccessMode
		name string
	}{{AccessRead, "r"}, {AccessWrite, "w"}, {AccessExec, "x"}, {AccessInvalid, "!"}} {
		if m&b.bit != 0 {
			s += b.name
		}
	}
	if s == "" {
		return "-"
	}
	return s
}

// Signal interrupts a cycle. Without AccessInvalid it is a breakpoint and
// only pauses execution; with it, it carries a hard error in Err.
//
// Location is a byte address for memory and pc signals, a physical register
// slot for register signals and a Flag for flag signals.
type Signal struct {
	Source      Source
	Mode        AccessMode
	Location    uint32
	Description string
	Err         error
}

func (s *Signal) Error() string {
	if s.Err != nil {
		return fmt.Sprintf("%s: %s", s.Description, s.Err)
	}
	return fmt.Sprintf("%s breakpoint (%s): %s", s.Source, s.Mode, s.Description)
}

// Unwrap returns the underlying sentinel, if any.
func (s *Signal) Unwrap() error {
	return s.Err
}

// IsError reports whether the signal is a hard error rather than a
// breakpoint.
func (s *Signal) IsError() bool {
	return s.Mode&AccessInvalid != 0
}

// IsBreakpoint reports whether the signal comes from a user breakpoint.
func (s *Signal) IsBreakpoint() bool {
	return !s.IsError() && s.Source != SourceAssert
}

func breakpointSignal(src Source, mode AccessMode, loc uint32, format string, args ...any) *Signal {
	return &Signal{
		Source:      src,
		Mode:        mode,
		Location:    loc,
		Description: fmt.Sprintf(format, args...),
	}
}

func errorSignal(src Source, loc uint32, err error, format string, args ...any) *Signal {
	return &Signal{
		Source:      src,
		Mode:        AccessInvalid,
		Location:    loc,
		Description: fmt.Sprintf(format, args...),
		Err:         err,
	}
}

// AsSignal extracts a *Signal from err.
func AsSignal(err error) (*Signal, bool) {
	var sig *Signal
	if errors.As(err, &sig) {
		return sig, true
	}
	return nil, false
}
