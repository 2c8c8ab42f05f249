package insts

import (
	"fmt"
	"strings"
)

var regNames = [...]string{
	"R0", "R1", "R2", "R3", "R4", "R5", "R6", "R7",
	"R8", "R9", "R10", "R11", "R12", "SP", "LR", "PC",
}

// RegName returns the assembly name of register r (SP, LR and PC for
// R13-R15).
func RegName(r uint8) string {
	return regNames[r&0xF]
}

// Disassemble renders an instruction in assembly syntax. Branch targets are
// printed as offsets since the instruction address is unknown here.
func Disassemble(inst Instruction) string {
	switch i := inst.(type) {
	case DataOp:
		return disasmDataOp(i)
	case MemOp:
		return disasmMemOp(i)
	case HalfSignedMemOp:
		return disasmHalfSignedMemOp(i)
	case MultipleMemOp:
		return disasmMultipleMemOp(i)
	case Branch:
		if i.Exchange {
			return fmt.Sprintf("BX%s %s", i.Cond.Suffix(), RegName(i.Rm))
		}
		name := "B"
		if i.Link {
			name = "BL"
		}
		return fmt.Sprintf("%s%s #%d", name, i.Cond.Suffix(), i.Offset)
	case Multiply:
		if i.Accumulate {
			return fmt.Sprintf("MLA%s%s %s, %s, %s, %s", i.Cond.Suffix(), sFlag(i.SetFlags),
				RegName(i.Rd), RegName(i.Rm), RegName(i.Rs), RegName(i.Rn))
		}
		return fmt.Sprintf("MUL%s%s %s, %s, %s", i.Cond.Suffix(), sFlag(i.SetFlags),
			RegName(i.Rd), RegName(i.Rm), RegName(i.Rs))
	case MultiplyLong:
		name := "U"
		if i.Signed {
			name = "S"
		}
		if i.Accumulate {
			name += "MLAL"
		} else {
			name += "MULL"
		}
		return fmt.Sprintf("%s%s%s %s, %s, %s, %s", name, i.Cond.Suffix(), sFlag(i.SetFlags),
			RegName(i.RdLo), RegName(i.RdHi), RegName(i.Rm), RegName(i.Rs))
	case Swap:
		b := ""
		if i.Byte {
			b = "B"
		}
		return fmt.Sprintf("SWP%s%s %s, %s, [%s]", i.Cond.Suffix(), b, RegName(i.Rd), RegName(i.Rm), RegName(i.Rn))
	case PSRTransfer:
		return disasmPSRTransfer(i)
	case SoftInterrupt:
		return fmt.Sprintf("SWI%s #0x%X", i.Cond.Suffix(), i.Comment)
	case Nop:
		return "NOP" + i.Cond.Suffix()
	case Undefined:
		return fmt.Sprintf("UNDEFINED 0x%08X", i.Raw)
	default:
		return "???"
	}
}

func sFlag(set bool) string {
	if set {
		return "S"
	}
	return ""
}

func disasmShift(rm uint8, s Shift) string {
	if s.IsIdentity() {
		return RegName(rm)
	}
	if s.ByRegister {
		return fmt.Sprintf("%s, %s %s", RegName(rm), s.Type, RegName(s.Rs))
	}
	if s.Type == ShiftROR && s.Amount == 0 {
		return fmt.Sprintf("%s, RRX", RegName(rm))
	}
	amount := uint32(s.Amount)
	if amount == 0 {
		// LSR #0 and ASR #0 encode a shift by 32
		amount = 32
	}
	return fmt.Sprintf("%s, %s #%d", RegName(rm), s.Type, amount)
}

func disasmDataOp(i DataOp) string {
	var b strings.Builder
	b.WriteString(i.Opcode.String())
	b.WriteString(i.Cond.Suffix())
	if i.SetFlags && !i.Opcode.IsTest() {
		b.WriteString("S")
	}
	b.WriteString(" ")

	switch {
	case i.Opcode.IsUnary():
		b.WriteString(RegName(i.Rd) + ", ")
	case i.Opcode.IsTest():
		b.WriteString(RegName(i.Rn) + ", ")
	default:
		b.WriteString(RegName(i.Rd) + ", " + RegName(i.Rn) + ", ")
	}

	if i.Immediate {
		fmt.Fprintf(&b, "#0x%X", i.Imm)
	} else {
		b.WriteString(disasmShift(i.Rm, i.Shift))
	}
	return b.String()
}

func signPrefix(up bool) string {
	if up {
		return ""
	}
	return "-"
}

func disasmAddress(rn uint8, pre, writeback bool, offset string) string {
	if offset == "" {
		return fmt.Sprintf("[%s]", RegName(rn))
	}
	if !pre {
		return fmt.Sprintf("[%s], %s", RegName(rn), offset)
	}
	wb := ""
	if writeback {
		wb = "!"
	}
	return fmt.Sprintf("[%s, %s]%s", RegName(rn), offset, wb)
}

func disasmMemOp(i MemOp) string {
	name := "STR"
	if i.Load {
		name = "LDR"
	}
	if i.Byte {
		name += "B"
	}

	offset := ""
	if i.Immediate {
		if i.Offset != 0 {
			offset = fmt.Sprintf("#%s0x%X", signPrefix(i.Up), i.Offset)
		}
	} else {
		offset = signPrefix(i.Up) + disasmShift(i.Rm, i.Shift)
	}

	return fmt.Sprintf("%s%s %s, %s", name, i.Cond.Suffix(), RegName(i.Rd),
		disasmAddress(i.Rn, i.Pre, i.Writeback, offset))
}

func disasmHalfSignedMemOp(i HalfSignedMemOp) string {
	name := "STR"
	if i.Load {
		name = "LDR"
	}
	switch i.Kind {
	case KindHalf:
		name += "H"
	case KindSignedByte:
		name += "SB"
	case KindSignedHalf:
		name += "SH"
	}

	offset := ""
	if i.Immediate {
		if i.Offset != 0 {
			offset = fmt.Sprintf("#%s0x%X", signPrefix(i.Up), i.Offset)
		}
	} else {
		offset = signPrefix(i.Up) + RegName(i.Rm)
	}

	return fmt.Sprintf("%s%s %s, %s", name, i.Cond.Suffix(), RegName(i.Rd),
		disasmAddress(i.Rn, i.Pre, i.Writeback, offset))
}

func disasmRegList(list uint16) string {
	parts := make([]string, 0, 16)
	for r := 0; r < 16; r++ {
		if list&(1<<r) == 0 {
			continue
		}
		end := r
		for end+1 < 16 && list&(1<<(end+1)) != 0 {
			end++
		}
		switch {
		case end == r:
			parts = append(parts, RegName(uint8(r)))
		case end == r+1:
			parts = append(parts, RegName(uint8(r)), RegName(uint8(end)))
		default:
			parts = append(parts, RegName(uint8(r))+"-"+RegName(uint8(end)))
		}
		r = end
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func disasmMultipleMemOp(i MultipleMemOp) string {
	caret := ""
	if i.PSR {
		caret = "^"
	}

	if i.Rn == 13 && i.Writeback {
		if i.Load && i.Mode() == LDMIA {
			return fmt.Sprintf("POP%s %s%s", i.Cond.Suffix(), disasmRegList(i.RegList), caret)
		}
		if !i.Load && i.Mode() == STMDB {
			return fmt.Sprintf("PUSH%s %s%s", i.Cond.Suffix(), disasmRegList(i.RegList), caret)
		}
	}

	name := i.Mode().String()
	wb := ""
	if i.Writeback {
		wb = "!"
	}
	return fmt.Sprintf("%s%s %s%s, %s%s", name, i.Cond.Suffix(),
		RegName(i.Rn), wb, disasmRegList(i.RegList), caret)
}

func disasmPSRTransfer(i PSRTransfer) string {
	psr := "CPSR"
	if i.UseSPSR {
		psr = "SPSR"
	}
	if !i.Write {
		return fmt.Sprintf("MRS%s %s, %s", i.Cond.Suffix(), RegName(i.Rd), psr)
	}
	if i.FlagsOnly {
		psr += "_flg"
	}
	if i.Immediate {
		return fmt.Sprintf("MSR%s %s, #0x%X", i.Cond.Suffix(), psr, i.Imm)
	}
	return fmt.Sprintf("MSR%s %s, %s", i.Cond.Suffix(), psr, RegName(i.Rm))
}
