package emu

import (
	"github.com/sarchlab/armsim/insts"
)

// BranchUnit implements condition checks and branches, and tracks the call
// stack used by step over and step out.
type BranchUnit struct {
	regFile *RegFile
	config  *Config

	// callStack holds the addresses of the BL instructions not yet
	// returned from.
	callStack []uint32
	// delta is +1 after a BL and -1 after a BX, until clearDelta. A BX
	// with an empty call stack still counts as a return.
	delta int
}

// NewBranchUnit creates a new BranchUnit connected to the given register file.
func NewBranchUnit(regFile *RegFile, config *Config) *BranchUnit {
	return &BranchUnit{regFile: regFile, config: config}
}

// CheckCondition evaluates a condition code against the CPSR flags. Each
// flag the condition depends on counts as a read for flag breakpoints.
func (b *BranchUnit) CheckCondition(cond insts.Cond) (bool, error) {
	for _, name := range cond.ReadsFlags() {
		f, _ := ParseFlag(string(name))
		if _, err := b.regFile.Flag(f); err != nil {
			return false, err
		}
	}

	r := b.regFile
	return cond.Holds(r.FlagValue(FlagN), r.FlagValue(FlagZ), r.FlagValue(FlagC), r.FlagValue(FlagV)), nil
}

// Execute runs B, BL or BX. It always writes PC.
func (b *BranchUnit) Execute(op insts.Branch) (bool, error) {
	pc, err := b.regFile.Read(RegPC)
	if err != nil {
		return false, err
	}
	addr := pc - b.config.PCReadOffset

	if op.Exchange {
		target, err := b.regFile.Read(int(op.Rm))
		if err != nil {
			return false, err
		}
		if err := b.regFile.Write(RegPC, target); err != nil {
			return false, err
		}
		b.pop()
		b.delta--
		return true, nil
	}

	if op.Link {
		// Save return address (next instruction) to LR
		if err := b.regFile.Write(RegLR, addr+4); err != nil {
			return false, err
		}
		b.push(addr)
		b.delta++
	}

	if err := b.regFile.Write(RegPC, uint32(int64(pc)+int64(op.Offset))); err != nil {
		return false, err
	}
	return true, nil
}

func (b *BranchUnit) push(addr uint32) {
	b.callStack = append(b.callStack, addr)
}

func (b *BranchUnit) pop() {
	if n := len(b.callStack); n > 0 {
		b.callStack = b.callStack[:n-1]
	}
}

// CallDepth returns the number of calls not yet returned from.
func (b *BranchUnit) CallDepth() int {
	return len(b.callStack)
}

// CallStack returns the call sites, outermost first.
func (b *BranchUnit) CallStack() []uint32 {
	return append([]uint32(nil), b.callStack...)
}

// truncate restores the call stack to a previous depth after a step back.
func (b *BranchUnit) truncate(depth int) {
	if depth < len(b.callStack) {
		b.callStack = b.callStack[:depth]
	}
}

func (b *BranchUnit) clearDelta() int {
	d := b.delta
	b.delta = 0
	return d
}

// Reset empties the call stack.
func (b *BranchUnit) Reset() {
	b.callStack = nil
	b.delta = 0
}
