package emu

import (
	"github.com/sarchlab/akita/v4/sim"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/armsim/insts"
)

// Hook positions invoked by the Emulator.
var (
	// HookPosInstRetired fires after every completed cycle. The item is
	// the executed instruction; the detail is a TraceDetail.
	HookPosInstRetired = &sim.HookPos{Name: "InstRetired"}

	// HookPosBreakpoint fires when a cycle stops on a breakpoint or a hard
	// error. The item is the *Signal.
	HookPosBreakpoint = &sim.HookPos{Name: "Breakpoint"}

	// HookPosInterrupt fires when an interrupt is taken. The item is the
	// InterruptKind.
	HookPosInterrupt = &sim.HookPos{Name: "Interrupt"}

	// HookPosAssertion fires for every failed assertion. The item is the
	// AssertionFailure.
	HookPosAssertion = &sim.HookPos{Name: "Assertion"}
)

// TraceDetail is attached to hook contexts. Address is the instruction the
// engine executes next.
type TraceDetail struct {
	Cycle   uint64
	Address uint32
	Mode    Mode
}

func hookCtx(e *Emulator, pos *sim.HookPos, item interface{}) sim.HookCtx {
	return sim.HookCtx{
		Domain: e,
		Pos:    pos,
		Item:   item,
		Detail: TraceDetail{
			Cycle:   e.history.Cycle(),
			Address: e.regFile.PC() - e.config.PCReadOffset,
			Mode:    e.regFile.Mode(),
		},
	}
}

// Tracer is a hook that writes emulator events to a logrus logger.
type Tracer struct {
	logger logrus.FieldLogger
}

// NewTracer creates a Tracer writing to logger.
func NewTracer(logger logrus.FieldLogger) *Tracer {
	return &Tracer{logger: logger}
}

// Func implements sim.Hook.
func (t *Tracer) Func(ctx sim.HookCtx) {
	detail, _ := ctx.Detail.(TraceDetail)
	entry := t.logger.WithFields(logrus.Fields{
		"cycle": detail.Cycle,
		"mode":  detail.Mode.String(),
	})

	switch ctx.Pos {
	case HookPosInstRetired:
		inst, ok := ctx.Item.(insts.Instruction)
		if !ok {
			return
		}
		entry.WithField("inst", insts.Disassemble(inst)).Trace("retired")
	case HookPosBreakpoint:
		entry.WithField("signal", ctx.Item).Info("stopped")
	case HookPosInterrupt:
		entry.WithFields(logrus.Fields{
			"kind":   ctx.Item,
			"vector": detail.Address,
		}).Info("interrupt")
	case HookPosAssertion:
		entry.WithField("failure", ctx.Item).Warn("assertion failed")
	}
}
