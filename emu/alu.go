package emu

import (
	"math/bits"

	"github.com/sarchlab/armsim/insts"
)

// ALU implements the barrel shifter and the data processing instructions.
type ALU struct {
	regFile *RegFile
	config  *Config
}

// NewALU creates a new ALU connected to the given register file.
func NewALU(regFile *RegFile, config *Config) *ALU {
	return &ALU{regFile: regFile, config: config}
}

// Shift applies a shift by a non-zero amount the way a register-specified
// shift does: amounts of 32 and above are meaningful. An amount of zero
// returns the value and carry unchanged.
func Shift(value uint32, t insts.ShiftType, amount uint32, carry bool) (uint32, bool) {
	if amount == 0 {
		return value, carry
	}

	switch t {
	case insts.ShiftLSL:
		switch {
		case amount < 32:
			return value << amount, value&(1<<(32-amount)) != 0
		case amount == 32:
			return 0, value&1 != 0
		default:
			return 0, false
		}
	case insts.ShiftLSR:
		switch {
		case amount < 32:
			return value >> amount, value&(1<<(amount-1)) != 0
		case amount == 32:
			return 0, value&0x80000000 != 0
		default:
			return 0, false
		}
	case insts.ShiftASR:
		if amount >= 32 {
			if value&0x80000000 != 0 {
				return 0xFFFFFFFF, true
			}
			return 0, false
		}
		return uint32(int32(value) >> amount), value&(1<<(amount-1)) != 0
	default: // ROR
		rot := amount & 31
		if rot == 0 {
			return value, value&0x80000000 != 0
		}
		result := bits.RotateLeft32(value, -int(rot))
		return result, result&0x80000000 != 0
	}
}

// ShiftImmediate applies a shift encoded with a 5-bit immediate amount,
// where LSR #0 and ASR #0 mean a shift by 32 and ROR #0 means RRX.
func ShiftImmediate(value uint32, t insts.ShiftType, amount uint32, carry bool) (uint32, bool) {
	if amount != 0 {
		return Shift(value, t, amount, carry)
	}

	switch t {
	case insts.ShiftLSR, insts.ShiftASR:
		return Shift(value, t, 32, carry)
	case insts.ShiftROR:
		// RRX
		result := value >> 1
		if carry {
			result |= 0x80000000
		}
		return result, value&1 != 0
	default:
		return value, carry
	}
}

// AddWithCarry returns a + b + carry with the resulting carry and overflow
// flags.
func AddWithCarry(a, b uint32, carry bool) (result uint32, c, v bool) {
	var cin uint64
	if carry {
		cin = 1
	}
	sum := uint64(a) + uint64(b) + cin
	result = uint32(sum)
	c = sum>>32 != 0
	v = (a^result)&(b^result)&0x80000000 != 0
	return result, c, v
}

// shiftedRegister evaluates a register operand with its shift. The carry
// flag is only read as a real access when the shift consumes it (RRX).
func (a *ALU) shiftedRegister(rm uint8, s insts.Shift) (uint32, bool, error) {
	value, err := a.regFile.Read(int(rm))
	if err != nil {
		return 0, false, err
	}

	carry := a.regFile.FlagValue(FlagC)

	if s.ByRegister {
		if rm == RegPC && a.config.PCSpecialBehavior {
			value += 4
		}
		amount, err := a.regFile.Read(int(s.Rs))
		if err != nil {
			return 0, false, err
		}
		value, carry = Shift(value, s.Type, amount&0xFF, carry)
		return value, carry, nil
	}

	if s.Type == insts.ShiftROR && s.Amount == 0 {
		if carry, err = a.regFile.Flag(FlagC); err != nil {
			return 0, false, err
		}
	}
	value, carry = ShiftImmediate(value, s.Type, uint32(s.Amount), carry)
	return value, carry, nil
}

// operand2 evaluates the second operand of a data processing instruction.
func (a *ALU) operand2(op insts.DataOp) (uint32, bool, error) {
	if op.Immediate {
		if op.ImmRotate != 0 {
			return op.Imm, op.ImmCarry, nil
		}
		return op.Imm, a.regFile.FlagValue(FlagC), nil
	}
	return a.shiftedRegister(op.Rm, op.Shift)
}

// Execute runs a data processing instruction. It reports whether the
// instruction wrote PC.
func (a *ALU) Execute(op insts.DataOp) (bool, error) {
	var op1 uint32
	var err error
	if !op.Opcode.IsUnary() {
		if op1, err = a.regFile.Read(int(op.Rn)); err != nil {
			return false, err
		}
	}

	op2, carry, err := a.operand2(op)
	if err != nil {
		return false, err
	}

	overflow := a.regFile.FlagValue(FlagV)

	var carryIn bool
	switch op.Opcode {
	case insts.OpADC, insts.OpSBC, insts.OpRSC:
		if carryIn, err = a.regFile.Flag(FlagC); err != nil {
			return false, err
		}
	}

	var res uint32
	switch op.Opcode {
	case insts.OpAND, insts.OpTST:
		res = op1 & op2
	case insts.OpEOR, insts.OpTEQ:
		res = op1 ^ op2
	case insts.OpORR:
		res = op1 | op2
	case insts.OpBIC:
		res = op1 &^ op2
	case insts.OpMOV:
		res = op2
	case insts.OpMVN:
		res = ^op2
	case insts.OpADD, insts.OpCMN:
		res, carry, overflow = AddWithCarry(op1, op2, false)
	case insts.OpSUB, insts.OpCMP:
		res, carry, overflow = AddWithCarry(op1, ^op2, true)
	case insts.OpRSB:
		res, carry, overflow = AddWithCarry(^op1, op2, true)
	case insts.OpADC:
		res, carry, overflow = AddWithCarry(op1, op2, carryIn)
	case insts.OpSBC:
		res, carry, overflow = AddWithCarry(op1, ^op2, carryIn)
	case insts.OpRSC:
		res, carry, overflow = AddWithCarry(^op1, op2, carryIn)
	}

	if op.SetFlags {
		if op.Rd == RegPC && !op.Opcode.IsTest() {
			if err := a.restoreCPSR(); err != nil {
				return false, err
			}
		} else if err := setNZCV(a.regFile, res&0x80000000 != 0, res == 0, carry, overflow); err != nil {
			return false, err
		}
	}

	if op.Opcode.IsTest() {
		return false, nil
	}

	if err := a.regFile.Write(int(op.Rd), res); err != nil {
		return false, err
	}
	return op.Rd == RegPC, nil
}

// restoreCPSR copies the SPSR into the CPSR, the exception return idiom.
func (a *ALU) restoreCPSR() error {
	if a.regFile.Mode() == ModeUser {
		return errorSignal(SourceRegister, RegPC, ErrPrivilegeViolation,
			"PC written with the S bit set in User mode")
	}
	spsr, err := a.regFile.SPSR()
	if err != nil {
		return err
	}
	return a.regFile.SetCPSR(spsr)
}

// setNZCV writes the four condition flags, stopping at the first flag
// write breakpoint.
func setNZCV(r *RegFile, n, z, c, v bool) error {
	for _, f := range []struct {
		flag  Flag
		value bool
	}{{FlagN, n}, {FlagZ, z}, {FlagC, c}, {FlagV, v}} {
		if err := r.SetFlag(f.flag, f.value); err != nil {
			return err
		}
	}
	return nil
}
