package emu

import (
	"github.com/sarchlab/armsim/insts"
)

// Exception vectors.
const (
	VectorSWI uint32 = 0x08
	VectorIRQ uint32 = 0x18
	VectorFIQ uint32 = 0x1C
)

const flagsMask = 0xF0000000

// PSRUnit implements MRS, MSR and SWI.
type PSRUnit struct {
	regFile *RegFile
	config  *Config
}

// NewPSRUnit creates a new PSRUnit connected to the given register file.
func NewPSRUnit(regFile *RegFile, config *Config) *PSRUnit {
	return &PSRUnit{regFile: regFile, config: config}
}

// Execute runs MRS or MSR.
func (p *PSRUnit) Execute(op insts.PSRTransfer) (bool, error) {
	r := p.regFile

	if !op.Write {
		value := r.CPSR()
		if op.UseSPSR {
			var err error
			if value, err = r.SPSR(); err != nil {
				return false, err
			}
		}
		if err := r.Write(int(op.Rd), value); err != nil {
			return false, err
		}
		return op.Rd == RegPC, nil
	}

	value := op.Imm
	if !op.Immediate {
		var err error
		if value, err = r.Read(int(op.Rm)); err != nil {
			return false, err
		}
	}

	current := r.CPSR()
	if op.UseSPSR {
		var err error
		if current, err = r.SPSR(); err != nil {
			return false, err
		}
	}
	if op.FlagsOnly {
		value = value&flagsMask | current&^flagsMask
	}

	if op.UseSPSR {
		return false, r.SetSPSR(value)
	}

	if !Mode(value & modeMask).Valid() {
		return false, errorSignal(SourceRegister, historyCPSR, ErrInvalidModeBits,
			"MSR value %#08x has invalid mode bits %#02x", value, value&modeMask)
	}
	if r.Mode() == ModeUser && !p.config.AllowUserModeSwitch && value&modeMask != current&modeMask {
		return false, errorSignal(SourceRegister, historyCPSR, ErrPrivilegeViolation,
			"mode change from User mode to %s", Mode(value&modeMask))
	}
	return false, r.SetCPSR(value)
}

// SoftwareInterrupt enters SVC mode at the SWI vector. The CPSR is saved
// in SPSR_svc, IRQs are disabled and LR_svc holds the next instruction.
func (p *PSRUnit) SoftwareInterrupt(op insts.SoftInterrupt) (bool, error) {
	next := p.regFile.PC() - p.config.PCReadOffset + 4
	return true, p.enterException(ModeSVC, VectorSWI, next)
}

// enterException switches to mode m, saves the CPSR in the new SPSR,
// masks interrupts, stores lr in the new bank's LR and writes the vector
// to PC. FIQ entry masks both IRQ and FIQ.
func (p *PSRUnit) enterException(m Mode, vector, lr uint32) error {
	r := p.regFile

	saved := r.CPSR()
	cpsr := saved&^modeMask | uint32(m) | 1<<FlagI
	if m == ModeFIQ {
		cpsr |= 1 << FlagF
	}
	if err := r.SetCPSR(cpsr); err != nil {
		return err
	}
	if err := r.SetSPSR(saved); err != nil {
		return err
	}
	if err := r.Write(RegLR, lr); err != nil {
		return err
	}
	return r.Write(RegPC, vector)
}
