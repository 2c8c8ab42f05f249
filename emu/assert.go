package emu

import (
	"fmt"
	"strconv"
	"strings"
)

// Phase says when an assertion is checked relative to the instruction at
// its address.
type Phase uint8

// Assertion phases.
const (
	PhaseBefore Phase = iota
	PhaseAfter
)

func (p Phase) String() string {
	if p == PhaseAfter {
		return "AFTER"
	}
	return "BEFORE"
}

// ParsePhase accepts "BEFORE" or "AFTER", in any case.
func ParsePhase(s string) (Phase, error) {
	switch strings.ToUpper(s) {
	case "BEFORE":
		return PhaseBefore, nil
	case "AFTER":
		return PhaseAfter, nil
	default:
		return 0, fmt.Errorf("unknown assertion phase %q", s)
	}
}

// CheckKind selects what a Check compares.
type CheckKind uint8

// Check kinds.
const (
	CheckRegister CheckKind = iota
	CheckMemory
	CheckFlag
)

// Check is one expected equality.
type Check struct {
	Kind CheckKind
	// Register is the index in the current bank for CheckRegister.
	Register int
	// Address is the byte compared by CheckMemory.
	Address uint32
	// Flag is the flag compared by CheckFlag.
	Flag Flag
	// Value is the expected register word, memory byte, or 0/1 flag.
	Value uint32
}

func (c Check) String() string {
	switch c.Kind {
	case CheckMemory:
		return fmt.Sprintf("%#x=%#x", c.Address, c.Value)
	case CheckFlag:
		return fmt.Sprintf("%s=%d", c.Flag, c.Value)
	default:
		return fmt.Sprintf("%s=%#x", regName(c.Register), c.Value)
	}
}

// Assertion is a conjunction of checks bound to an instruction address.
type Assertion struct {
	Address uint32
	Phase   Phase
	Line    int
	Checks  []Check
}

// NewAssertion parses expr into an Assertion.
func NewAssertion(addr uint32, phase Phase, line int, expr string) (Assertion, error) {
	checks, err := ParseAssertion(expr)
	if err != nil {
		return Assertion{}, fmt.Errorf("line %d: %w", line, err)
	}
	return Assertion{Address: addr, Phase: phase, Line: line, Checks: checks}, nil
}

// AssertionFailure reports one failed check.
type AssertionFailure struct {
	Line    int
	Address uint32
	Phase   Phase
	Message string
}

func (f AssertionFailure) String() string {
	return fmt.Sprintf("line %d (%s %#08x): %s", f.Line, f.Phase, f.Address, f.Message)
}

// ParseAssertion parses a comma separated list of checks such as
// "R0=5,SP=0x100,Z=1,0x1000=-3". Registers are R0-R15, SP, LR and PC;
// flags are N, Z, C and V; any other left-hand side is a memory address
// whose byte is compared. Values may be negative and use a 0x prefix.
func ParseAssertion(expr string) ([]Check, error) {
	var checks []Check
	for _, term := range strings.Split(expr, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}

		lhs, rhs, ok := strings.Cut(term, "=")
		if !ok {
			return nil, fmt.Errorf("missing '=' in %q", term)
		}
		lhs = strings.ToUpper(strings.TrimSpace(lhs))
		rhs = strings.TrimSpace(rhs)

		value, err := strconv.ParseInt(rhs, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("bad value in %q: %w", term, err)
		}

		check, err := parseTarget(lhs, value)
		if err != nil {
			return nil, fmt.Errorf("bad check %q: %w", term, err)
		}
		checks = append(checks, check)
	}

	if len(checks) == 0 {
		return nil, fmt.Errorf("empty assertion")
	}
	return checks, nil
}

func parseTarget(lhs string, value int64) (Check, error) {
	if reg, ok := parseRegister(lhs); ok {
		if value < -(1<<31) || value > 0xFFFFFFFF {
			return Check{}, fmt.Errorf("value %d does not fit a register", value)
		}
		return Check{Kind: CheckRegister, Register: reg, Value: uint32(value)}, nil
	}

	if f, ok := ParseFlag(lhs); ok && f != FlagI && f != FlagF {
		if value != 0 && value != 1 {
			return Check{}, fmt.Errorf("flag value must be 0 or 1")
		}
		return Check{Kind: CheckFlag, Flag: f, Value: uint32(value)}, nil
	}

	addr, err := strconv.ParseUint(lhs, 0, 32)
	if err != nil {
		return Check{}, fmt.Errorf("unknown target %q", lhs)
	}
	if value < -128 || value > 0xFF {
		return Check{}, fmt.Errorf("value %d does not fit a byte", value)
	}
	return Check{Kind: CheckMemory, Address: uint32(addr), Value: uint32(uint8(value))}, nil
}

func parseRegister(name string) (int, bool) {
	switch name {
	case "SP":
		return RegSP, true
	case "LR":
		return RegLR, true
	case "PC":
		return RegPC, true
	}
	if !strings.HasPrefix(name, "R") {
		return 0, false
	}
	n, err := strconv.Atoi(name[1:])
	if err != nil || n < 0 || n > 15 {
		return 0, false
	}
	return n, true
}

// evaluate runs every check of a without triggering breakpoints. PC is
// compared against the address of the instruction about to execute.
func (e *Emulator) evaluate(a Assertion) []AssertionFailure {
	var failures []AssertionFailure
	fail := func(format string, args ...any) {
		failures = append(failures, AssertionFailure{
			Line:    a.Line,
			Address: a.Address,
			Phase:   a.Phase,
			Message: fmt.Sprintf(format, args...),
		})
	}

	regs := e.regFile.Snapshot().Current()
	for _, c := range a.Checks {
		switch c.Kind {
		case CheckRegister:
			got := regs[c.Register]
			if c.Register == RegPC {
				got -= e.config.PCReadOffset
			}
			if got != c.Value {
				fail("%s is %#x, expected %#x", regName(c.Register), got, c.Value)
			}
		case CheckFlag:
			got := e.regFile.FlagValue(c.Flag)
			if got != (c.Value == 1) {
				fail("flag %s is %d, expected %d", c.Flag, boolToInt(got), c.Value)
			}
		case CheckMemory:
			b, err := e.memory.Read(c.Address, 1, false, false)
			if err != nil {
				fail("memory %#x is not mapped", c.Address)
				continue
			}
			if uint32(b[0]) != c.Value {
				fail("memory %#x is %#x, expected %#x", c.Address, b[0], c.Value)
			}
		}
	}
	return failures
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
