package emu

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/sirupsen/logrus"

	"github.com/sarchlab/armsim/history"
	"github.com/sarchlab/armsim/insts"
)

// ErrNotReset is returned when stepping an emulator that was never reset.
var ErrNotReset = errors.New("emulator has not been reset")

// StepMode selects how far Step runs.
type StepMode uint8

// Step modes.
const (
	// StepInto executes one instruction.
	StepInto StepMode = iota
	// StepOver executes one instruction, or a whole call if it is a BL.
	StepOver
	// StepOut runs until the current function returns.
	StepOut
	// StepRun runs until a breakpoint, an error or RunMaxIterations.
	StepRun
)

func (m StepMode) String() string {
	switch m {
	case StepInto:
		return "into"
	case StepOver:
		return "over"
	case StepOut:
		return "out"
	default:
		return "run"
	}
}

// ParseStepMode accepts "into", "over" (or "forward"), "out" and "run".
func ParseStepMode(s string) (StepMode, error) {
	switch s {
	case "into":
		return StepInto, nil
	case "over", "forward":
		return StepOver, nil
	case "out":
		return StepOut, nil
	case "run":
		return StepRun, nil
	default:
		return 0, fmt.Errorf("unknown step mode %q", s)
	}
}

func (m StepMode) state() State {
	switch m {
	case StepInto:
		return StateSteppingInto
	case StepOver:
		return StateSteppingOver
	case StepOut:
		return StateSteppingOut
	default:
		return StateRunning
	}
}

// State is the engine state.
type State uint8

// Engine states.
const (
	StateIdle State = iota
	StateReady
	StateSteppingInto
	StateSteppingOver
	StateSteppingOut
	StateRunning
	StateHalted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateReady:
		return "Ready"
	case StateSteppingInto:
		return "SteppingInto"
	case StateSteppingOver:
		return "SteppingOver"
	case StateSteppingOut:
		return "SteppingOut"
	case StateRunning:
		return "Running"
	default:
		return "Halted"
	}
}

// StepResult represents the result of a Step call.
type StepResult struct {
	// Cycles is the number of cycles executed.
	Cycles uint64

	// Signal is the breakpoint or hard error that stopped the step, if any.
	Signal *Signal

	// Err is set if an error occurred. A breakpoint is not an error.
	Err error

	// AssertionFailures collects every failed check of the step.
	AssertionFailures []AssertionFailure
}

type assertKey struct {
	addr  uint32
	phase Phase
}

// engineState is the part of the engine that is not in the register file
// or memory but still has to follow a step back. One is saved per cycle.
type engineState struct {
	callStack     []uint32
	returnAsserts map[int]bool
	swiAsserts    map[uint32]uint32
}

// Emulator executes ARM instructions functionally, one cycle at a time,
// with breakpoints, reversible history and simulated interrupts.
type Emulator struct {
	*sim.HookableBase

	config  *Config
	logger  logrus.FieldLogger
	history *history.Log
	regFile *RegFile
	memory  *Memory
	decoder *insts.Decoder

	// Execution units
	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit
	multiplier *Multiplier
	psrUnit    *PSRUnit

	// Program
	segments   []Segment
	entry      uint32
	lines      map[uint32][]int
	assertions map[assertKey][]Assertion

	// returnAsserts holds the call depths whose caller has an AFTER
	// assertion waiting for the return.
	returnAsserts map[int]bool
	// swiAsserts maps a return address to the SWI whose AFTER assertion
	// waits for it.
	swiAsserts map[uint32]uint32
	states     []engineState

	interrupt interruptSource

	// Execution state
	state       State
	currentInst insts.Instruction
	callDelta   int
	lastSignal  *Signal

	// resumeSkip holds the breakpoint that stopped the last step. It is
	// ignored during the first cycle of the next step.
	resumeSkip *Signal
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithConfig sets the configuration. The emulator keeps a copy. An invalid
// configuration is replaced by DefaultConfig.
func WithConfig(config *Config) EmulatorOption {
	return func(e *Emulator) {
		e.config = config.Clone()
	}
}

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger logrus.FieldLogger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = logger
	}
}

// WithDecoder sets a custom decoder.
func WithDecoder(decoder *insts.Decoder) EmulatorOption {
	return func(e *Emulator) {
		e.decoder = decoder
	}
}

// WithSegments sets the memory layout and initial contents.
func WithSegments(segments ...Segment) EmulatorOption {
	return func(e *Emulator) {
		e.segments = segments
	}
}

// WithEntry sets the address of the first instruction.
func WithEntry(addr uint32) EmulatorOption {
	return func(e *Emulator) {
		e.entry = addr
	}
}

// WithLineMap sets the source lines of every instruction address.
func WithLineMap(lines map[uint32][]int) EmulatorOption {
	return func(e *Emulator) {
		e.lines = lines
	}
}

// WithAssertions adds assertions.
func WithAssertions(assertions ...Assertion) EmulatorOption {
	return func(e *Emulator) {
		for _, a := range assertions {
			k := assertKey{addr: a.Address, phase: a.Phase}
			e.assertions[k] = append(e.assertions[k], a)
		}
	}
}

// NewEmulator creates a new emulator. It starts Idle; call Reset before
// stepping.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	discard := logrus.New()
	discard.SetOutput(io.Discard)

	e := &Emulator{
		HookableBase:  sim.NewHookableBase(),
		config:        DefaultConfig(),
		logger:        discard,
		entry:         CodeBase,
		assertions:    make(map[assertKey][]Assertion),
		returnAsserts: make(map[int]bool),
		swiAsserts:    make(map[uint32]uint32),
		state:         StateIdle,
	}

	for _, opt := range opts {
		opt(e)
	}

	if err := e.config.Validate(); err != nil {
		e.logger.WithError(err).Warn("invalid config, using defaults")
		e.config = DefaultConfig()
	}
	if e.segments == nil {
		e.segments = DefaultSegments(nil, nil, nil)
	}
	if e.decoder == nil {
		e.decoder = insts.NewDecoder(insts.WithCache(e.config.NewDecodeCache()))
	}

	e.history = history.NewLog(e.config.MaxHistoryDepth)
	e.regFile = NewRegFile(e.history)
	e.memory = NewMemory(e.history, e.segments...)

	// Create execution units
	e.alu = NewALU(e.regFile, e.config)
	e.lsu = NewLoadStoreUnit(e.regFile, e.memory, e.config)
	e.branchUnit = NewBranchUnit(e.regFile, e.config)
	e.multiplier = NewMultiplier(e.regFile)
	e.psrUnit = NewPSRUnit(e.regFile, e.config)

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// Config returns a copy of the configuration.
func (e *Emulator) Config() *Config {
	return e.config.Clone()
}

// Reset restores registers and memory to their initial contents, clears
// the history and loads the entry instruction. Breakpoints and the
// interrupt parameters are kept.
func (e *Emulator) Reset() error {
	e.resumeSkip = nil

	e.regFile.Reset()
	e.memory.Reset()
	e.branchUnit.Reset()
	e.history.Clear()
	e.interrupt.fired = nil
	e.states = nil
	e.returnAsserts = make(map[int]bool)
	e.swiAsserts = make(map[uint32]uint32)
	e.lastSignal = nil

	e.regFile.SetPC(e.entry + e.config.PCReadOffset)
	e.history.Checkpoint()
	e.state = StateReady

	if err := e.fetch(false); err != nil {
		e.halt(err)
		return err
	}
	return nil
}

// FetchAndDecode loads the instruction at PC. It fails on a misaligned
// PC, an unmapped address or an exec breakpoint.
func (e *Emulator) FetchAndDecode() error {
	return e.fetch(true)
}

func (e *Emulator) fetch(mayTrigger bool) error {
	e.currentInst = nil

	addr := e.regFile.PC() - e.config.PCReadOffset
	if addr%4 != 0 {
		return errorSignal(SourcePC, addr, ErrMisalignedPC,
			"PC value %#08x is not a multiple of 4", addr)
	}

	word, err := e.memory.ReadWord(addr, true, mayTrigger)
	if err != nil {
		return err
	}

	e.currentInst = e.decoder.Decode(word)
	return nil
}

// NextInstruction executes one cycle: the current instruction, the
// assertions around it, a pending interrupt, and the fetch of the next
// instruction.
//
// A breakpoint or hard error raised while executing aborts the cycle
// without advancing PC; the effects committed before the signal stay. An
// undefined instruction is skipped and reported after the cycle completes.
func (e *Emulator) NextInstruction() ([]AssertionFailure, error) {
	if e.currentInst == nil {
		if err := e.FetchAndDecode(); err != nil {
			return nil, err
		}
	}

	e.history.NewCycle()
	e.saveState()

	inst := e.currentInst
	pc := e.regFile.PC()
	keeppc := pc - e.config.PCReadOffset
	depth := e.branchUnit.CallDepth()
	e.branchUnit.clearDelta()
	e.callDelta = 0

	executed, pcWritten, err := e.execute(inst, keeppc)
	var undefined error
	switch {
	case errors.Is(err, ErrDecodeUndefined):
		undefined = err
	case err != nil:
		if e.regFile.PC() != pc {
			e.regFile.SetPC(pc)
		}
		e.branchUnit.truncate(depth)
		e.branchUnit.clearDelta()
		return nil, err
	}
	e.callDelta = e.branchUnit.clearDelta()

	if pcWritten {
		e.regFile.SetPC(e.regFile.PC() + e.config.PCReadOffset)
	} else {
		e.regFile.SetPC(e.regFile.PC() + 4)
	}
	newpc := e.regFile.PC() - e.config.PCReadOffset

	failures := e.afterAssertions(inst, executed, pcWritten, keeppc, newpc, depth)
	failures = append(failures, e.runAssertions(newpc, PhaseBefore)...)
	for _, f := range failures {
		e.InvokeHook(hookCtx(e, HookPosAssertion, f))
	}

	if _, err := e.checkInterrupt(); err != nil {
		return failures, err
	}

	fetchErr := e.FetchAndDecode()
	e.InvokeHook(hookCtx(e, HookPosInstRetired, inst))
	if fetchErr != nil {
		return failures, fetchErr
	}
	return failures, undefined
}

// execute dispatches an instruction to its unit. It reports whether the
// condition held and whether PC was written.
func (e *Emulator) execute(inst insts.Instruction, addr uint32) (executed, pcWritten bool, err error) {
	if u, ok := inst.(insts.Undefined); ok {
		e.logger.WithFields(logrus.Fields{
			"addr": addr,
			"word": u.Raw,
		}).Debug("undefined instruction")
		return false, false, errorSignal(SourcePC, addr, ErrDecodeUndefined,
			"undefined instruction %#08x at %#08x (%s)", u.Raw, addr, u.Reason)
	}

	ok, err := e.branchUnit.CheckCondition(inst.Condition())
	if err != nil || !ok {
		return false, false, err
	}

	switch op := inst.(type) {
	case insts.DataOp:
		pcWritten, err = e.alu.Execute(op)
	case insts.MemOp:
		pcWritten, err = e.lsu.ExecuteMemOp(op)
	case insts.HalfSignedMemOp:
		pcWritten, err = e.lsu.ExecuteHalfSignedMemOp(op)
	case insts.MultipleMemOp:
		pcWritten, err = e.lsu.ExecuteMultipleMemOp(op)
	case insts.Branch:
		pcWritten, err = e.branchUnit.Execute(op)
	case insts.Multiply:
		pcWritten, err = e.multiplier.Execute(op)
	case insts.MultiplyLong:
		pcWritten, err = e.multiplier.ExecuteLong(op)
	case insts.Swap:
		pcWritten, err = e.lsu.ExecuteSwap(op)
	case insts.PSRTransfer:
		pcWritten, err = e.psrUnit.Execute(op)
	case insts.SoftInterrupt:
		pcWritten, err = e.psrUnit.SoftwareInterrupt(op)
	case insts.Nop:
	}
	return true, pcWritten, err
}

// afterAssertions runs the AFTER assertions completed by this cycle. An
// AFTER assertion on a call or an SWI waits for the matching return.
func (e *Emulator) afterAssertions(
	inst insts.Instruction,
	executed, pcWritten bool,
	keeppc, newpc uint32,
	depth int,
) []AssertionFailure {
	if len(e.assertions) == 0 {
		return nil
	}

	var failures []AssertionFailure
	now := e.branchUnit.CallDepth()
	switch {
	case !pcWritten:
		failures = e.runAssertions(keeppc, PhaseAfter)
	case now < depth:
		if e.returnAsserts[now] {
			delete(e.returnAsserts, now)
			failures = e.runAssertions(newpc-4, PhaseAfter)
		}
	case now > depth:
		if e.hasAssertions(keeppc, PhaseAfter) {
			e.returnAsserts[depth] = true
		}
	}

	if site, ok := e.swiAsserts[newpc]; ok {
		delete(e.swiAsserts, newpc)
		failures = append(failures, e.runAssertions(site, PhaseAfter)...)
	}
	if _, ok := inst.(insts.SoftInterrupt); ok && executed && e.hasAssertions(keeppc, PhaseAfter) {
		e.swiAsserts[keeppc+4] = keeppc
	}
	return failures
}

func (e *Emulator) hasAssertions(addr uint32, phase Phase) bool {
	return len(e.assertions[assertKey{addr: addr, phase: phase}]) > 0
}

func (e *Emulator) runAssertions(addr uint32, phase Phase) []AssertionFailure {
	var failures []AssertionFailure
	for _, a := range e.assertions[assertKey{addr: addr, phase: phase}] {
		failures = append(failures, e.evaluate(a)...)
	}
	return failures
}

// saveState records the engine state at the start of a cycle, bounded like
// the history log.
func (e *Emulator) saveState() {
	s := engineState{
		callStack:     e.branchUnit.CallStack(),
		returnAsserts: make(map[int]bool, len(e.returnAsserts)),
		swiAsserts:    make(map[uint32]uint32, len(e.swiAsserts)),
	}
	for k, v := range e.returnAsserts {
		s.returnAsserts[k] = v
	}
	for k, v := range e.swiAsserts {
		s.swiAsserts[k] = v
	}

	e.states = append(e.states, s)
	if len(e.states) > e.history.MaxDepth() {
		e.states[0] = engineState{}
		e.states = e.states[1:]
	}
}

// Step executes cycles until the step mode is satisfied, a signal is
// raised, ctx is done or RunMaxIterations cycles have run. At least one
// cycle runs unless ctx is already done.
//
// The breakpoint that stopped the previous step is ignored during the first
// cycle, so resuming does not hit it again.
func (e *Emulator) Step(ctx context.Context, mode StepMode) StepResult {
	switch e.state {
	case StateIdle:
		return StepResult{Err: ErrNotReset}
	case StateHalted:
		res := StepResult{Signal: e.lastSignal}
		if e.lastSignal != nil {
			res.Err = e.lastSignal
		}
		return res
	}

	e.lastSignal = nil
	e.state = mode.state()
	skip := e.resumeSkip
	e.resumeSkip = nil
	e.suppress(skip)

	var res StepResult
	start := e.history.Cycle()
	// balance counts calls minus returns since the start of the step; a
	// step out ends once it drops below outLevel.
	balance, outLevel := 0, 0
	for {
		if err := ctx.Err(); err != nil {
			res.Err = err
			break
		}

		failures, err := e.NextInstruction()
		res.AssertionFailures = append(res.AssertionFailures, failures...)
		e.clearSuppressed()
		skip = nil

		if err != nil {
			e.stop(&res, err)
			break
		}

		balance += e.callDelta
		if e.stepDone(&mode, &outLevel, balance, e.history.Cycle()-start) {
			break
		}
	}
	e.clearSuppressed()
	if skip != nil && e.resumeSkip == nil {
		// No cycle ran.
		e.resumeSkip = skip
	}

	res.Cycles = e.history.Cycle() - start
	if e.state != StateHalted {
		e.state = StateReady
	}
	return res
}

func (e *Emulator) stepDone(mode *StepMode, outLevel *int, balance int, cycles uint64) bool {
	switch *mode {
	case StepInto:
		return true
	case StepOver:
		if balance <= 0 {
			return true
		}
		// The instruction was a call: finish it as a step out.
		*mode = StepOut
		*outLevel = 1
		e.state = StateSteppingOut
	case StepOut:
		if balance < *outLevel {
			return true
		}
	}
	return cycles >= e.config.RunMaxIterations
}

// stop records the signal that ended a step. A breakpoint is ignored
// during the first cycle of the next step.
func (e *Emulator) stop(res *StepResult, err error) {
	sig, ok := AsSignal(err)
	if !ok {
		res.Err = err
		return
	}

	res.Signal = sig
	e.lastSignal = sig
	e.InvokeHook(hookCtx(e, HookPosBreakpoint, sig))

	if sig.IsBreakpoint() {
		e.logger.WithFields(logrus.Fields{
			"source":   sig.Source.String(),
			"mode":     sig.Mode.String(),
			"location": sig.Location,
		}).Debug("breakpoint")
		e.resumeSkip = sig
		return
	}

	res.Err = sig
	e.logger.WithError(sig).Debug("execution error")
	if e.currentInst == nil {
		e.halt(sig)
	}
}

// halt enters the Halted state after an error that leaves no instruction
// to execute.
func (e *Emulator) halt(err error) {
	if sig, ok := AsSignal(err); ok {
		e.lastSignal = sig
	}
	e.state = StateHalted
}

// suppress makes the access checks ignore the breakpoint that raised sig
// until clearSuppressed. The breakpoint masks are left as the user set
// them.
func (e *Emulator) suppress(sig *Signal) {
	if sig == nil {
		return
	}
	switch sig.Source {
	case SourceMemory:
		e.memory.suppress(sig.Location, sig.Mode)
	case SourceRegister:
		e.regFile.suppressSlot(int(sig.Location), sig.Mode)
	case SourceFlag:
		e.regFile.suppressFlag(Flag(sig.Location), sig.Mode)
	}
}

func (e *Emulator) clearSuppressed() {
	e.memory.clearSuppressed()
	e.regFile.clearSuppressed()
}

// StepBack undoes the last n cycles. It fails without changing anything
// if fewer than n cycles are recorded.
func (e *Emulator) StepBack(n int) error {
	if e.state == StateIdle {
		return ErrNotReset
	}
	if err := e.history.StepBack(n); err != nil {
		return fmt.Errorf("failed to step back %d cycles: %w", n, err)
	}
	if n == 0 {
		return nil
	}

	s := e.states[len(e.states)-n]
	for i := len(e.states) - n; i < len(e.states); i++ {
		e.states[i] = engineState{}
	}
	e.states = e.states[:len(e.states)-n]

	e.branchUnit.Reset()
	for _, addr := range s.callStack {
		e.branchUnit.push(addr)
	}
	e.returnAsserts = s.returnAsserts
	e.swiAsserts = s.swiAsserts
	e.interrupt.rewind(e.history.Cycle())

	e.resumeSkip = nil
	e.lastSignal = nil
	e.state = StateReady

	if err := e.fetch(false); err != nil {
		e.halt(err)
		return err
	}
	return nil
}

// Registers returns every bank without triggering breakpoints.
func (e *Emulator) Registers() RegisterSnapshot {
	return e.regFile.Snapshot()
}

// ReadMemory returns n bytes at addr without triggering breakpoints.
func (e *Emulator) ReadMemory(addr uint32, n int) ([]byte, error) {
	return e.memory.Read(addr, n, false, false)
}

// Flags returns every CPSR flag without triggering breakpoints.
func (e *Emulator) Flags() map[Flag]bool {
	flags := make(map[Flag]bool, len(Flags))
	for _, f := range Flags {
		flags[f] = e.regFile.FlagValue(f)
	}
	return flags
}

// ChangesSinceCheckpoint returns what changed since SetCheckpoint.
func (e *Emulator) ChangesSinceCheckpoint() history.Frame {
	return e.history.DiffSinceCheckpoint()
}

// SetCheckpoint starts a new change accumulation.
func (e *Emulator) SetCheckpoint() {
	e.history.Checkpoint()
}

// SetMemoryBreakpoint replaces the breakpoint mask at addr.
func (e *Emulator) SetMemoryBreakpoint(addr uint32, mask AccessMode) {
	e.memory.SetBreakpoint(addr, mask)
}

// ToggleMemoryBreakpoint flips bits of the breakpoint at addr.
func (e *Emulator) ToggleMemoryBreakpoint(addr uint32, mask AccessMode) {
	e.memory.ToggleBreakpoint(addr, mask)
}

// RemoveMemoryBreakpoint clears the breakpoint at addr.
func (e *Emulator) RemoveMemoryBreakpoint(addr uint32) {
	e.memory.RemoveBreakpoint(addr)
}

// SetRegisterBreakpoint replaces the breakpoint mask of register i as seen
// by mode m.
func (e *Emulator) SetRegisterBreakpoint(m Mode, i int, mask AccessMode) error {
	return e.regFile.SetBreakpoint(m, i, mask)
}

// ToggleRegisterBreakpoint flips bits of a register breakpoint.
func (e *Emulator) ToggleRegisterBreakpoint(m Mode, i int, mask AccessMode) error {
	return e.regFile.ToggleBreakpoint(m, i, mask)
}

// RemoveRegisterBreakpoint clears a register breakpoint.
func (e *Emulator) RemoveRegisterBreakpoint(m Mode, i int) error {
	return e.regFile.RemoveBreakpoint(m, i)
}

// SetFlagBreakpoint replaces the breakpoint mask of a flag.
func (e *Emulator) SetFlagBreakpoint(f Flag, mask AccessMode) {
	e.regFile.SetFlagBreakpoint(f, mask)
}

// ToggleFlagBreakpoint flips bits of a flag breakpoint.
func (e *Emulator) ToggleFlagBreakpoint(f Flag, mask AccessMode) {
	e.regFile.ToggleFlagBreakpoint(f, mask)
}

// RemoveFlagBreakpoint clears a flag breakpoint.
func (e *Emulator) RemoveFlagBreakpoint(f Flag) {
	e.regFile.RemoveFlagBreakpoint(f)
}

// CurrentLine returns the source line of the instruction at PC. When
// several lines map to the address, the last one is the instruction.
func (e *Emulator) CurrentLine() (int, bool) {
	lines := e.lines[e.regFile.PC()-e.config.PCReadOffset]
	if len(lines) == 0 {
		return 0, false
	}
	return lines[len(lines)-1], true
}

// CurrentBreakpoint returns the signal that stopped the last step, or nil.
func (e *Emulator) CurrentBreakpoint() *Signal {
	return e.lastSignal
}

// Cycle returns the number of cycles executed since Reset, minus those
// stepped back.
func (e *Emulator) Cycle() uint64 {
	return e.history.Cycle()
}

// State returns the engine state.
func (e *Emulator) State() State {
	return e.state
}

// CurrentInstruction returns the decoded instruction at PC, or nil if it
// could not be fetched.
func (e *Emulator) CurrentInstruction() insts.Instruction {
	return e.currentInst
}

// CallDepth returns the number of calls not yet returned from.
func (e *Emulator) CallDepth() int {
	return e.branchUnit.CallDepth()
}

// DecoderStats returns the decode cache statistics.
func (e *Emulator) DecoderStats() insts.CacheStats {
	return e.decoder.Stats()
}
