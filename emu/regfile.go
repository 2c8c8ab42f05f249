// Package emu provides functional ARM7TDMI-class emulation: the banked
// register file, segmented memory, and the fetch-decode-execute engine.
package emu

import (
	"fmt"

	"github.com/sarchlab/armsim/history"
)

// Mode is a processor mode, as stored in the low five bits of the CPSR.
type Mode uint32

// Supported processor modes.
const (
	ModeUser Mode = 0b10000
	ModeFIQ  Mode = 0b10001
	ModeIRQ  Mode = 0b10010
	ModeSVC  Mode = 0b10011
)

// Modes lists the supported modes in bank order.
var Modes = [...]Mode{ModeUser, ModeFIQ, ModeIRQ, ModeSVC}

const modeMask = 0x1F

func (m Mode) String() string {
	switch m {
	case ModeUser:
		return "User"
	case ModeFIQ:
		return "FIQ"
	case ModeIRQ:
		return "IRQ"
	case ModeSVC:
		return "SVC"
	default:
		return fmt.Sprintf("Mode(%#x)", uint32(m))
	}
}

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	return m >= ModeUser && m <= ModeSVC
}

// bank returns the index of the mode in Modes.
func (m Mode) bank() int {
	return int(m - ModeUser)
}

// Flag is a CPSR status bit, named by its bit position.
type Flag uint8

// CPSR flags.
const (
	FlagN Flag = 31 // Negative
	FlagZ Flag = 30 // Zero
	FlagC Flag = 29 // Carry
	FlagV Flag = 28 // Overflow
	FlagI Flag = 7  // IRQ disabled
	FlagF Flag = 6  // FIQ disabled
)

// Flags lists every flag in display order.
var Flags = [...]Flag{FlagN, FlagZ, FlagC, FlagV, FlagI, FlagF}

func (f Flag) String() string {
	switch f {
	case FlagN:
		return "N"
	case FlagZ:
		return "Z"
	case FlagC:
		return "C"
	case FlagV:
		return "V"
	case FlagI:
		return "I"
	case FlagF:
		return "F"
	default:
		return fmt.Sprintf("Flag(%d)", uint8(f))
	}
}

// ParseFlag returns the flag named by a single letter.
func ParseFlag(name string) (Flag, bool) {
	for _, f := range Flags {
		if f.String() == name {
			return f, true
		}
	}
	return 0, false
}

// Register indices with special roles.
const (
	RegSP = 13
	RegLR = 14
	RegPC = 15
)

// History indices past the sixteen general registers.
const (
	historySPSR = 16
	historyCPSR = 17
)

// historyAllBanks is the bank of CPSR history keys, which is shared.
const historyAllBanks = -1

// Physical register slots. R0-R7 and PC are shared by every bank; R8-R12
// are shared by all banks but FIQ; SP and LR are private to each
// privileged bank.
const (
	slotPC      = 15
	slotFIQR8   = 16
	slotIRQSP   = 23
	slotSVCSP   = 25
	numSlots    = 27
	numBanks    = len(Modes)
	numRegsBank = 16
)

// slots maps (bank, register) to its physical slot.
var slots = func() (t [numBanks][numRegsBank]int) {
	for b := 0; b < numBanks; b++ {
		for r := 0; r < numRegsBank; r++ {
			t[b][r] = r
		}
	}
	for r := 8; r <= 14; r++ {
		t[ModeFIQ.bank()][r] = slotFIQR8 + r - 8
	}
	for r := 13; r <= 14; r++ {
		t[ModeIRQ.bank()][r] = slotIRQSP + r - 13
		t[ModeSVC.bank()][r] = slotSVCSP + r - 13
	}
	return t
}()

// slotViews lists, for every slot, the (bank, register) pairs that see it.
var slotViews = func() (v [numSlots][]bankReg) {
	for b := 0; b < numBanks; b++ {
		for r := 0; r < numRegsBank; r++ {
			s := slots[b][r]
			v[s] = append(v[s], bankReg{bank: b, reg: r})
		}
	}
	return v
}()

type bankReg struct {
	bank int
	reg  int
}

// RegFile is the banked ARM register file. Accesses through Read, Write,
// Flag and SetFlag honour register and flag breakpoints; every committed
// change is recorded in the history log.
type RegFile struct {
	log *history.Log

	phys [numSlots]uint32
	// spsr is indexed by bank; the User entry is unused.
	spsr [numBanks]uint32
	cpsr uint32

	regBkpt  [numSlots]AccessMode
	flagBkpt [32]AccessMode
	// regSkip and flagSkip hold breakpoint bits ignored until
	// clearSuppressed.
	regSkip  [numSlots]AccessMode
	flagSkip [32]AccessMode
	// suspend counts nested SuspendBreakpoints calls.
	suspend int
}

// NewRegFile creates a register file in User mode with every register and
// flag cleared. It registers itself as the restorer of register history.
func NewRegFile(log *history.Log) *RegFile {
	r := &RegFile{
		log:  log,
		cpsr: uint32(ModeUser),
	}
	log.Register(history.ComponentRegisters, r)
	return r
}

// Reset clears every register and returns to User mode. Breakpoints are
// kept.
func (r *RegFile) Reset() {
	r.phys = [numSlots]uint32{}
	r.spsr = [numBanks]uint32{}
	r.cpsr = uint32(ModeUser)
}

// Mode returns the current processor mode.
func (r *RegFile) Mode() Mode {
	return Mode(r.cpsr & modeMask)
}

func (r *RegFile) checking() bool {
	return r.suspend == 0
}

// SuspendBreakpoints disables register and flag breakpoints until the
// matching ResumeBreakpoints. Calls nest.
func (r *RegFile) SuspendBreakpoints() {
	r.suspend++
}

// ResumeBreakpoints undoes one SuspendBreakpoints.
func (r *RegFile) ResumeBreakpoints() {
	if r.suspend > 0 {
		r.suspend--
	}
}

func (r *RegFile) regSignal(slot int, mode AccessMode, bank, reg int) error {
	if !r.checking() || r.regBkpt[slot]&^r.regSkip[slot]&mode == 0 {
		return nil
	}
	return breakpointSignal(SourceRegister, mode, uint32(slot),
		"%s accessed in %s mode", regName(reg), Modes[bank])
}

// Read returns register i of the current bank.
func (r *RegFile) Read(i int) (uint32, error) {
	return r.ReadBank(r.Mode(), i)
}

// Write sets register i of the current bank.
func (r *RegFile) Write(i int, value uint32) error {
	return r.WriteBank(r.Mode(), i, value)
}

func invalidMode(m Mode) error {
	return errorSignal(SourceRegister, uint32(m), ErrInvalidModeBits,
		"no register bank for mode bits %#02x", uint32(m))
}

// ReadBank returns register i as seen by the given mode.
func (r *RegFile) ReadBank(m Mode, i int) (uint32, error) {
	if !m.Valid() {
		return 0, invalidMode(m)
	}
	b := m.bank()
	slot := slots[b][i&0xF]
	if err := r.regSignal(slot, AccessRead, b, i); err != nil {
		return 0, err
	}
	return r.phys[slot], nil
}

// WriteBank sets register i as seen by the given mode.
func (r *RegFile) WriteBank(m Mode, i int, value uint32) error {
	if !m.Valid() {
		return invalidMode(m)
	}
	b := m.bank()
	slot := slots[b][i&0xF]
	if err := r.regSignal(slot, AccessWrite, b, i); err != nil {
		return err
	}
	r.setSlot(slot, value)
	return nil
}

// setSlot commits a physical register write, recording one history key per
// bank that sees the slot.
func (r *RegFile) setSlot(slot int, value uint32) {
	old := r.phys[slot]
	r.phys[slot] = value
	for _, v := range slotViews[slot] {
		r.log.Record(history.Key{
			Component: history.ComponentRegisters,
			Bank:      v.bank,
			Index:     uint32(v.reg),
		}, old, value)
	}
}

// PC returns the program counter without checking breakpoints.
func (r *RegFile) PC() uint32 {
	return r.phys[slotPC]
}

// SetPC sets the program counter without checking breakpoints.
func (r *RegFile) SetPC(value uint32) {
	r.setSlot(slotPC, value)
}

// CPSR returns the current program status register.
func (r *RegFile) CPSR() uint32 {
	return r.cpsr
}

// SetCPSR replaces the CPSR. The mode bits must name a supported mode;
// the active bank follows them immediately.
func (r *RegFile) SetCPSR(value uint32) error {
	if !Mode(value & modeMask).Valid() {
		return errorSignal(SourceRegister, historyCPSR, ErrInvalidModeBits,
			"CPSR value %#08x has invalid mode bits %#02x", value, value&modeMask)
	}
	r.setCPSR(value)
	return nil
}

func (r *RegFile) setCPSR(value uint32) {
	old := r.cpsr
	r.cpsr = value
	r.log.Record(history.Key{
		Component: history.ComponentRegisters,
		Bank:      historyAllBanks,
		Index:     historyCPSR,
	}, old, value)
}

// SetMode switches to mode m.
func (r *RegFile) SetMode(m Mode) error {
	return r.SetCPSR(r.cpsr&^modeMask | uint32(m))
}

// SPSR returns the saved program status register of the current mode.
func (r *RegFile) SPSR() (uint32, error) {
	m := r.Mode()
	if m == ModeUser {
		return 0, errorSignal(SourceRegister, historySPSR, ErrNoSPSRInUserMode,
			"SPSR read in User mode")
	}
	return r.spsr[m.bank()], nil
}

// SetSPSR sets the saved program status register of the current mode.
func (r *RegFile) SetSPSR(value uint32) error {
	m := r.Mode()
	if m == ModeUser {
		return errorSignal(SourceRegister, historySPSR, ErrNoSPSRInUserMode,
			"SPSR written in User mode")
	}
	if !Mode(value & modeMask).Valid() {
		return errorSignal(SourceRegister, historySPSR, ErrInvalidModeBits,
			"SPSR value %#08x has invalid mode bits %#02x", value, value&modeMask)
	}
	b := m.bank()
	old := r.spsr[b]
	r.spsr[b] = value
	r.log.Record(history.Key{
		Component: history.ComponentRegisters,
		Bank:      b,
		Index:     historySPSR,
	}, old, value)
	return nil
}

// Flag returns a CPSR flag.
func (r *RegFile) Flag(f Flag) (bool, error) {
	if r.checking() && r.flagBkpt[f]&^r.flagSkip[f]&AccessRead != 0 {
		return false, breakpointSignal(SourceFlag, AccessRead, uint32(f), "flag %s read", f)
	}
	return r.cpsr&(1<<f) != 0, nil
}

// SetFlag sets or clears a CPSR flag.
func (r *RegFile) SetFlag(f Flag, value bool) error {
	if r.checking() && r.flagBkpt[f]&^r.flagSkip[f]&AccessWrite != 0 {
		return breakpointSignal(SourceFlag, AccessWrite, uint32(f), "flag %s written", f)
	}
	cpsr := r.cpsr &^ (1 << f)
	if value {
		cpsr |= 1 << f
	}
	if cpsr != r.cpsr {
		r.setCPSR(cpsr)
	}
	return nil
}

// FlagValue returns a flag without checking breakpoints.
func (r *RegFile) FlagValue(f Flag) bool {
	return r.cpsr&(1<<f) != 0
}

// SetBreakpoint sets the breakpoint mask (AccessRead, AccessWrite) on the
// physical register that mode m sees as register i.
func (r *RegFile) SetBreakpoint(m Mode, i int, mask AccessMode) error {
	if !m.Valid() {
		return invalidMode(m)
	}
	r.regBkpt[slots[m.bank()][i&0xF]] = mask & (AccessRead | AccessWrite)
	return nil
}

// ToggleBreakpoint flips the given bits of a register breakpoint.
func (r *RegFile) ToggleBreakpoint(m Mode, i int, mask AccessMode) error {
	if !m.Valid() {
		return invalidMode(m)
	}
	r.regBkpt[slots[m.bank()][i&0xF]] ^= mask & (AccessRead | AccessWrite)
	return nil
}

// RemoveBreakpoint clears a register breakpoint.
func (r *RegFile) RemoveBreakpoint(m Mode, i int) error {
	if !m.Valid() {
		return invalidMode(m)
	}
	r.regBkpt[slots[m.bank()][i&0xF]] = 0
	return nil
}

// Breakpoint returns the breakpoint mask of a register. Invalid modes have
// none.
func (r *RegFile) Breakpoint(m Mode, i int) AccessMode {
	if !m.Valid() {
		return 0
	}
	return r.regBkpt[slots[m.bank()][i&0xF]]
}

// suppressSlot ignores the given breakpoint bits of a physical register
// until clearSuppressed.
func (r *RegFile) suppressSlot(slot int, mode AccessMode) {
	r.regSkip[slot] |= mode
}

// suppressFlag ignores the given breakpoint bits of a flag until
// clearSuppressed.
func (r *RegFile) suppressFlag(f Flag, mode AccessMode) {
	r.flagSkip[f] |= mode
}

func (r *RegFile) clearSuppressed() {
	r.regSkip = [numSlots]AccessMode{}
	r.flagSkip = [32]AccessMode{}
}

// SetFlagBreakpoint sets the breakpoint mask of a flag.
func (r *RegFile) SetFlagBreakpoint(f Flag, mask AccessMode) {
	r.flagBkpt[f] = mask & (AccessRead | AccessWrite)
}

// ToggleFlagBreakpoint flips the given bits of a flag breakpoint.
func (r *RegFile) ToggleFlagBreakpoint(f Flag, mask AccessMode) {
	r.flagBkpt[f] ^= mask & (AccessRead | AccessWrite)
}

// RemoveFlagBreakpoint clears a flag breakpoint.
func (r *RegFile) RemoveFlagBreakpoint(f Flag) {
	r.flagBkpt[f] = 0
}

// FlagBreakpoint returns the breakpoint mask of a flag.
func (r *RegFile) FlagBreakpoint(f Flag) AccessMode {
	return r.flagBkpt[f]
}

// Restore implements history.Restorer.
func (r *RegFile) Restore(key history.Key, value uint32) {
	switch {
	case key.Index == historyCPSR:
		r.cpsr = value
	case key.Index == historySPSR:
		r.spsr[key.Bank] = value
	default:
		r.phys[slots[key.Bank][key.Index]] = value
	}
}

// RegisterSnapshot is a copy of every bank for display.
type RegisterSnapshot struct {
	Mode  Mode
	CPSR  uint32
	Banks map[Mode][numRegsBank]uint32
	SPSR  map[Mode]uint32
}

// Snapshot copies every bank without checking breakpoints.
func (r *RegFile) Snapshot() RegisterSnapshot {
	s := RegisterSnapshot{
		Mode:  r.Mode(),
		CPSR:  r.cpsr,
		Banks: make(map[Mode][numRegsBank]uint32, numBanks),
		SPSR:  make(map[Mode]uint32, numBanks-1),
	}
	for b, m := range Modes {
		var regs [numRegsBank]uint32
		for i := range regs {
			regs[i] = r.phys[slots[b][i]]
		}
		s.Banks[m] = regs
		if m != ModeUser {
			s.SPSR[m] = r.spsr[b]
		}
	}
	return s
}

// Current returns the registers of the active bank.
func (s RegisterSnapshot) Current() [numRegsBank]uint32 {
	return s.Banks[s.Mode]
}

func regName(i int) string {
	switch i {
	case RegSP:
		return "SP"
	case RegLR:
		return "LR"
	case RegPC:
		return "PC"
	default:
		return fmt.Sprintf("R%d", i)
	}
}
