package emu

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// InterruptKind selects the interrupt line.
type InterruptKind uint8

// Interrupt lines.
const (
	InterruptIRQ InterruptKind = iota
	InterruptFIQ
)

func (k InterruptKind) String() string {
	if k == InterruptFIQ {
		return "FIQ"
	}
	return "IRQ"
}

// ParseInterruptKind accepts "IRQ" or "FIQ".
func ParseInterruptKind(s string) (InterruptKind, error) {
	switch s {
	case "IRQ", "irq":
		return InterruptIRQ, nil
	case "FIQ", "fiq":
		return InterruptFIQ, nil
	default:
		return 0, fmt.Errorf("unknown interrupt kind %q", s)
	}
}

func (k InterruptKind) mode() Mode {
	if k == InterruptFIQ {
		return ModeFIQ
	}
	return ModeIRQ
}

func (k InterruptKind) vector() uint32 {
	if k == InterruptFIQ {
		return VectorFIQ
	}
	return VectorIRQ
}

func (k InterruptKind) mask() Flag {
	if k == InterruptFIQ {
		return FlagF
	}
	return FlagI
}

// InterruptParams describes a periodic interrupt source. The first
// interrupt is raised once DelayBeforeFirst cycles have passed since
// Origin; the following ones every Period cycles after the last one.
type InterruptParams struct {
	DelayBeforeFirst uint64
	Period           uint64
	Origin           uint64
	Kind             InterruptKind
}

// interruptSource tracks when an interrupt last fired.
type interruptSource struct {
	params InterruptParams
	active bool
	// fired lists the cycles at which the interrupt was taken, oldest
	// first, so that stepping back can forget them.
	fired []uint64
}

// due reports whether the interrupt should fire at cycle.
func (s *interruptSource) due(cycle uint64) bool {
	if !s.active {
		return false
	}
	if len(s.fired) == 0 {
		return cycle >= s.params.DelayBeforeFirst &&
			cycle-s.params.DelayBeforeFirst >= s.params.Origin
	}
	last := s.fired[len(s.fired)-1]
	return cycle >= last && cycle-last >= s.params.Period
}

// rewind forgets firings after cycle.
func (s *interruptSource) rewind(cycle uint64) {
	n := len(s.fired)
	for n > 0 && s.fired[n-1] > cycle {
		n--
	}
	s.fired = s.fired[:n]
}

// SetInterrupt arms a periodic interrupt, replacing any previous one.
func (e *Emulator) SetInterrupt(params InterruptParams) {
	e.interrupt = interruptSource{params: params, active: true}
}

// ClearInterrupt disarms the interrupt source.
func (e *Emulator) ClearInterrupt() {
	e.interrupt = interruptSource{}
}

// checkInterrupt takes the interrupt if it is due and not masked. It runs
// after PC has moved to the next instruction.
func (e *Emulator) checkInterrupt() (bool, error) {
	cycle := e.history.Cycle()
	if !e.interrupt.due(cycle) {
		return false, nil
	}

	kind := e.interrupt.params.Kind
	if e.regFile.FlagValue(kind.mask()) {
		return false, nil
	}

	e.regFile.SuspendBreakpoints()
	defer e.regFile.ResumeBreakpoints()

	pc := e.regFile.PC()
	err := e.psrUnit.enterException(kind.mode(), kind.vector()+e.config.PCReadOffset, pc-4)
	if err != nil {
		return false, fmt.Errorf("failed to enter %s: %w", kind, err)
	}

	e.interrupt.fired = append(e.interrupt.fired, cycle)
	e.logger.WithFields(logrus.Fields{
		"kind":   kind.String(),
		"cycle":  cycle,
		"return": pc - 4,
	}).Debug("interrupt taken")
	e.InvokeHook(hookCtx(e, HookPosInterrupt, kind))
	return true, nil
}
