package emu

import (
	"github.com/sarchlab/armsim/insts"
)

// Multiplier implements MUL, MLA and the long multiplies.
type Multiplier struct {
	regFile *RegFile
}

// NewMultiplier creates a new Multiplier connected to the given register
// file.
func NewMultiplier(regFile *RegFile) *Multiplier {
	return &Multiplier{regFile: regFile}
}

func (m *Multiplier) read(regs ...uint8) ([]uint32, error) {
	vals := make([]uint32, len(regs))
	for i, r := range regs {
		v, err := m.regFile.Read(int(r))
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}
	return vals, nil
}

// Execute runs MUL or MLA. With the S bit, N and Z follow the result, C is
// cleared and V is left alone.
func (m *Multiplier) Execute(op insts.Multiply) (bool, error) {
	vals, err := m.read(op.Rm, op.Rs)
	if err != nil {
		return false, err
	}
	res := vals[0] * vals[1]

	if op.Accumulate {
		acc, err := m.regFile.Read(int(op.Rn))
		if err != nil {
			return false, err
		}
		res += acc
	}

	if err := m.regFile.Write(int(op.Rd), res); err != nil {
		return false, err
	}

	if op.SetFlags {
		if err := setNZCV(m.regFile, res&0x80000000 != 0, res == 0, false,
			m.regFile.FlagValue(FlagV)); err != nil {
			return false, err
		}
	}
	return op.Rd == RegPC, nil
}

// ExecuteLong runs UMULL, UMLAL, SMULL or SMLAL. With the S bit, N and Z
// follow the 64-bit result and C and V are cleared.
func (m *Multiplier) ExecuteLong(op insts.MultiplyLong) (bool, error) {
	vals, err := m.read(op.Rm, op.Rs)
	if err != nil {
		return false, err
	}

	var res uint64
	if op.Signed {
		res = uint64(int64(int32(vals[0])) * int64(int32(vals[1])))
	} else {
		res = uint64(vals[0]) * uint64(vals[1])
	}

	if op.Accumulate {
		acc, err := m.read(op.RdHi, op.RdLo)
		if err != nil {
			return false, err
		}
		res += uint64(acc[0])<<32 | uint64(acc[1])
	}

	if err := m.regFile.Write(int(op.RdLo), uint32(res)); err != nil {
		return false, err
	}
	if err := m.regFile.Write(int(op.RdHi), uint32(res>>32)); err != nil {
		return false, err
	}

	if op.SetFlags {
		if err := setNZCV(m.regFile, res&(1<<63) != 0, res == 0, false, false); err != nil {
			return false, err
		}
	}
	return op.RdHi == RegPC || op.RdLo == RegPC, nil
}
