package emu

import (
	"github.com/sarchlab/armsim/insts"
)

// LoadStoreUnit implements single, halfword, block and swap transfers.
type LoadStoreUnit struct {
	regFile *RegFile
	memory  *Memory
	config  *Config
}

// NewLoadStoreUnit creates a new LoadStoreUnit connected to the given
// register file and memory.
func NewLoadStoreUnit(regFile *RegFile, memory *Memory, config *Config) *LoadStoreUnit {
	return &LoadStoreUnit{
		regFile: regFile,
		memory:  memory,
		config:  config,
	}
}

// address computes the transfer address and the written-back base.
func address(base, offset uint32, pre, up bool) (addr, newBase uint32) {
	if up {
		newBase = base + offset
	} else {
		newBase = base - offset
	}
	if pre {
		return newBase, newBase
	}
	return base, newBase
}

// ExecuteMemOp runs LDR, STR, LDRB or STRB. It reports whether the
// instruction wrote PC.
func (lsu *LoadStoreUnit) ExecuteMemOp(op insts.MemOp) (bool, error) {
	base, err := lsu.regFile.Read(int(op.Rn))
	if err != nil {
		return false, err
	}

	offset := op.Offset
	if !op.Immediate {
		rm, err := lsu.regFile.Read(int(op.Rm))
		if err != nil {
			return false, err
		}
		offset, _ = ShiftImmediate(rm, op.Shift.Type, uint32(op.Shift.Amount),
			lsu.regFile.FlagValue(FlagC))
	}

	addr, newBase := address(base, offset, op.Pre, op.Up)

	size := 4
	if op.Byte {
		size = 1
	}

	if op.Load {
		value, err := lsu.memory.ReadValue(addr, size)
		if err != nil {
			return false, err
		}
		if op.Writeback && op.Rn != op.Rd {
			if err := lsu.regFile.Write(int(op.Rn), newBase); err != nil {
				return false, err
			}
		}
		if err := lsu.regFile.Write(int(op.Rd), value); err != nil {
			return false, err
		}
		return op.Rd == RegPC || (op.Writeback && op.Rn == RegPC), nil
	}

	value, err := lsu.regFile.Read(int(op.Rd))
	if err != nil {
		return false, err
	}
	if op.Rd == RegPC && lsu.config.PCSpecialBehavior {
		value += 4
	}
	if err := lsu.memory.Write(addr, value, size); err != nil {
		return false, err
	}
	if op.Writeback {
		if err := lsu.regFile.Write(int(op.Rn), newBase); err != nil {
			return false, err
		}
	}
	return op.Writeback && op.Rn == RegPC, nil
}

// ExecuteHalfSignedMemOp runs LDRH, STRH, LDRSB or LDRSH.
func (lsu *LoadStoreUnit) ExecuteHalfSignedMemOp(op insts.HalfSignedMemOp) (bool, error) {
	base, err := lsu.regFile.Read(int(op.Rn))
	if err != nil {
		return false, err
	}

	offset := op.Offset
	if !op.Immediate {
		if offset, err = lsu.regFile.Read(int(op.Rm)); err != nil {
			return false, err
		}
	}

	addr, newBase := address(base, offset, op.Pre, op.Up)
	size := op.Kind.Size()

	if op.Load {
		value, err := lsu.memory.ReadValue(addr, size)
		if err != nil {
			return false, err
		}
		switch op.Kind {
		case insts.KindSignedByte:
			value = uint32(int32(int8(value)))
		case insts.KindSignedHalf:
			value = uint32(int32(int16(value)))
		}
		if op.Writeback && op.Rn != op.Rd {
			if err := lsu.regFile.Write(int(op.Rn), newBase); err != nil {
				return false, err
			}
		}
		if err := lsu.regFile.Write(int(op.Rd), value); err != nil {
			return false, err
		}
		return op.Rd == RegPC || (op.Writeback && op.Rn == RegPC), nil
	}

	value, err := lsu.regFile.Read(int(op.Rd))
	if err != nil {
		return false, err
	}
	if err := lsu.memory.Write(addr, value, size); err != nil {
		return false, err
	}
	if op.Writeback {
		if err := lsu.regFile.Write(int(op.Rn), newBase); err != nil {
			return false, err
		}
	}
	return op.Writeback && op.Rn == RegPC, nil
}

// ExecuteMultipleMemOp runs LDM or STM in any of the eight addressing
// modes. The lowest register always maps to the lowest address.
//
// With the S bit, an STM, or an LDM without PC, transfers the User bank;
// an LDM with PC also copies SPSR into CPSR. An empty list transfers PC
// and moves the base by 0x40.
func (lsu *LoadStoreUnit) ExecuteMultipleMemOp(op insts.MultipleMemOp) (bool, error) {
	base, err := lsu.regFile.Read(int(op.Rn))
	if err != nil {
		return false, err
	}

	regs := op.Registers()
	span := uint32(4 * len(regs))
	if len(regs) == 0 {
		regs = []uint8{RegPC}
		span = 0x40
	}
	hasPC := regs[len(regs)-1] == RegPC

	var start, newBase uint32
	switch {
	case op.Up && !op.Pre: // IA
		start, newBase = base, base+span
	case op.Up && op.Pre: // IB
		start, newBase = base+4, base+span
	case !op.Up && !op.Pre: // DA
		start, newBase = base-span+4, base-span
	default: // DB
		start, newBase = base-span, base-span
	}
	start &^= 3

	bank := lsu.regFile.Mode()
	if op.PSR && (!op.Load || !hasPC) {
		bank = ModeUser
	}

	if op.Load {
		return lsu.loadMultiple(op, regs, start, newBase, bank, hasPC)
	}
	return lsu.storeMultiple(op, regs, start, newBase, bank)
}

func (lsu *LoadStoreUnit) loadMultiple(
	op insts.MultipleMemOp,
	regs []uint8,
	start, newBase uint32,
	bank Mode,
	hasPC bool,
) (bool, error) {
	baseInList := false
	for i, r := range regs {
		value, err := lsu.memory.ReadValue(start+uint32(4*i), 4)
		if err != nil {
			return false, err
		}
		if err := lsu.regFile.WriteBank(bank, int(r), value); err != nil {
			return false, err
		}
		if r == op.Rn {
			baseInList = true
		}
	}

	// A loaded base wins over the written-back one.
	if op.Writeback && !baseInList {
		if err := lsu.regFile.Write(int(op.Rn), newBase); err != nil {
			return false, err
		}
	}

	if hasPC && op.PSR {
		spsr, err := lsu.regFile.SPSR()
		if err != nil {
			return false, err
		}
		if err := lsu.regFile.SetCPSR(spsr); err != nil {
			return false, err
		}
	}

	return hasPC || (op.Writeback && op.Rn == RegPC), nil
}

func (lsu *LoadStoreUnit) storeMultiple(
	op insts.MultipleMemOp,
	regs []uint8,
	start, newBase uint32,
	bank Mode,
) (bool, error) {
	for i, r := range regs {
		value, err := lsu.regFile.ReadBank(bank, int(r))
		if err != nil {
			return false, err
		}
		switch {
		case r == RegPC:
			value += 4
		case r == op.Rn && op.Writeback && i > 0:
			// the base is written back after the first transfer
			value = newBase
		}
		if err := lsu.memory.Write(start+uint32(4*i), value, 4); err != nil {
			return false, err
		}
	}

	if op.Writeback {
		if err := lsu.regFile.Write(int(op.Rn), newBase); err != nil {
			return false, err
		}
	}
	return op.Writeback && op.Rn == RegPC, nil
}

// ExecuteSwap runs SWP or SWPB: the old memory value is read, Rm is
// stored, then the old value lands in Rd.
func (lsu *LoadStoreUnit) ExecuteSwap(op insts.Swap) (bool, error) {
	addr, err := lsu.regFile.Read(int(op.Rn))
	if err != nil {
		return false, err
	}

	size := 4
	if op.Byte {
		size = 1
	}

	old, err := lsu.memory.ReadValue(addr, size)
	if err != nil {
		return false, err
	}

	value, err := lsu.regFile.Read(int(op.Rm))
	if err != nil {
		return false, err
	}
	if err := lsu.memory.Write(addr, value, size); err != nil {
		return false, err
	}

	if err := lsu.regFile.Write(int(op.Rd), old); err != nil {
		return false, err
	}
	return op.Rd == RegPC, nil
}
