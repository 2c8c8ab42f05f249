// Package insts provides ARM (ARMv4, ARM7TDMI-class) instruction definitions
// and decoding.
//
// This package turns raw 32-bit machine words into typed, immutable
// instruction values. It supports:
//   - Data processing: AND, EOR, SUB, RSB, ADD, ADC, SBC, RSC, TST, TEQ, CMP,
//     CMN, ORR, MOV, BIC, MVN with immediate or shifted register operands
//   - Single data transfer: LDR, STR, LDRB, STRB
//   - Halfword and signed transfer: LDRH, STRH, LDRSB, LDRSH
//   - Block data transfer: LDM, STM (all addressing modes, S bit)
//   - Branches: B, BL, BX
//   - Multiply: MUL, MLA, UMULL, UMLAL, SMULL, SMLAL
//   - Swap: SWP, SWPB
//   - PSR transfer: MRS, MSR
//   - Software interrupt: SWI
//   - NOP
//
// Any other bit pattern decodes to Undefined; decoding never fails.
//
// Usage:
//
//	decoder := insts.NewDecoder()
//	inst := decoder.Decode(0xE0810002) // ADD R0, R1, R2
//	if op, ok := inst.(insts.DataOp); ok {
//		fmt.Printf("Op: %v, Rd: %d, Rn: %d, Rm: %d\n", op.Opcode, op.Rd, op.Rn, op.Rm)
//	}
package insts

// Category identifies the variant of a decoded instruction.
type Category uint8

// Instruction categories.
const (
	CategoryUndefined Category = iota
	CategoryDataOp
	CategoryMemOp
	CategoryHalfSignedMemOp
	CategoryMultipleMemOp
	CategoryBranch
	CategoryMultiply
	CategoryMultiplyLong
	CategorySwap
	CategoryPSRTransfer
	CategorySoftInterrupt
	CategoryNop
)

var categoryNames = [...]string{
	CategoryUndefined:       "Undefined",
	CategoryDataOp:          "DataOp",
	CategoryMemOp:           "MemOp",
	CategoryHalfSignedMemOp: "HalfSignedMemOp",
	CategoryMultipleMemOp:   "MultipleMemOp",
	CategoryBranch:          "Branch",
	CategoryMultiply:        "Multiply",
	CategoryMultiplyLong:    "MultiplyLong",
	CategorySwap:            "Swap",
	CategoryPSRTransfer:     "PSRTransfer",
	CategorySoftInterrupt:   "SoftInterrupt",
	CategoryNop:             "Nop",
}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "Category(?)"
}

// Instruction is a decoded ARM instruction. The set of implementations is
// closed: DataOp, MemOp, HalfSignedMemOp, MultipleMemOp, Branch, Multiply,
// MultiplyLong, Swap, PSRTransfer, SoftInterrupt, Nop and Undefined.
//
// Implementations are plain values and are safe to copy and share.
type Instruction interface {
	// Category returns the variant tag.
	Category() Category
	// Condition returns the condition field.
	Condition() Cond
	// Word returns the raw machine word the instruction was decoded from.
	Word() uint32

	isInstruction()
}

// ShiftType represents a barrel shifter operation.
type ShiftType uint8

// Shift types.
const (
	ShiftLSL ShiftType = 0b00 // Logical shift left
	ShiftLSR ShiftType = 0b01 // Logical shift right
	ShiftASR ShiftType = 0b10 // Arithmetic shift right
	ShiftROR ShiftType = 0b11 // Rotate right (RRX when the amount is 0)
)

func (s ShiftType) String() string {
	return [...]string{"LSL", "LSR", "ASR", "ROR"}[s&3]
}

// Shift describes the shift applied to a register operand.
type Shift struct {
	Type ShiftType
	// Amount is the immediate shift amount (0-31). Unused when ByRegister.
	Amount uint8
	// ByRegister is set when the amount comes from the low byte of Rs.
	ByRegister bool
	Rs         uint8
}

// IsIdentity reports whether the shift leaves the operand and carry alone
// (LSL #0).
func (s Shift) IsIdentity() bool {
	return !s.ByRegister && s.Type == ShiftLSL && s.Amount == 0
}

// DataOpcode is the 4-bit data processing opcode.
type DataOpcode uint8

// Data processing opcodes.
const (
	OpAND DataOpcode = iota
	OpEOR
	OpSUB
	OpRSB
	OpADD
	OpADC
	OpSBC
	OpRSC
	OpTST
	OpTEQ
	OpCMP
	OpCMN
	OpORR
	OpMOV
	OpBIC
	OpMVN
)

var dataOpcodeNames = [...]string{
	"AND", "EOR", "SUB", "RSB", "ADD", "ADC", "SBC", "RSC",
	"TST", "TEQ", "CMP", "CMN", "ORR", "MOV", "BIC", "MVN",
}

func (o DataOpcode) String() string {
	return dataOpcodeNames[o&0xF]
}

// IsTest reports whether the opcode only updates flags (TST, TEQ, CMP, CMN).
func (o DataOpcode) IsTest() bool {
	return o >= OpTST && o <= OpCMN
}

// IsLogical reports whether the opcode is a logical operation, for which
// the carry flag comes from the barrel shifter and V is preserved.
func (o DataOpcode) IsLogical() bool {
	switch o {
	case OpAND, OpEOR, OpTST, OpTEQ, OpORR, OpMOV, OpBIC, OpMVN:
		return true
	}
	return false
}

// IsUnary reports whether Rn is ignored (MOV, MVN).
func (o DataOpcode) IsUnary() bool {
	return o == OpMOV || o == OpMVN
}

// DataOp is a data processing instruction.
type DataOp struct {
	Raw  uint32
	Cond Cond

	Opcode   DataOpcode
	SetFlags bool
	Rd       uint8
	Rn       uint8

	// Immediate selects the rotated 8-bit immediate as second operand.
	Immediate bool
	// Imm is the immediate already rotated into place.
	Imm uint32
	// ImmRotate is the rotation applied to the 8-bit immediate.
	ImmRotate uint8
	// ImmCarry is the shifter carry-out of the rotation. Only meaningful
	// when ImmRotate != 0; otherwise the carry flag is preserved.
	ImmCarry bool

	Rm    uint8
	Shift Shift
}

// MemOp is a single data transfer (LDR, STR, LDRB, STRB).
type MemOp struct {
	Raw  uint32
	Cond Cond

	Load bool
	Byte bool
	// Pre selects pre-indexed addressing; post-indexed always writes back.
	Pre bool
	// Up adds the offset to the base; otherwise it is subtracted.
	Up        bool
	Writeback bool
	Rn        uint8
	Rd        uint8

	// Immediate selects the 12-bit immediate offset.
	Immediate bool
	Offset    uint32
	Rm        uint8
	Shift     Shift
}

// HalfSignedKind is the transfer kind of a HalfSignedMemOp.
type HalfSignedKind uint8

// Halfword and signed transfer kinds (bits 6-5).
const (
	KindHalf       HalfSignedKind = 0b01
	KindSignedByte HalfSignedKind = 0b10
	KindSignedHalf HalfSignedKind = 0b11
)

// Size returns the access size in bytes.
func (k HalfSignedKind) Size() int {
	if k == KindSignedByte {
		return 1
	}
	return 2
}

// Signed reports whether loads sign-extend.
func (k HalfSignedKind) Signed() bool {
	return k == KindSignedByte || k == KindSignedHalf
}

// HalfSignedMemOp is a halfword or signed data transfer (LDRH, STRH,
// LDRSB, LDRSH).
type HalfSignedMemOp struct {
	Raw  uint32
	Cond Cond

	Load      bool
	Kind      HalfSignedKind
	Pre       bool
	Up        bool
	Writeback bool
	Rn        uint8
	Rd        uint8

	// Immediate selects the split 8-bit immediate offset.
	Immediate bool
	Offset    uint32
	Rm        uint8
}

// UpdateMode is one of the eight LDM/STM addressing modes.
type UpdateMode uint8

// LDM/STM addressing modes.
const (
	LDMDA UpdateMode = iota
	LDMIA
	LDMDB
	LDMIB
	STMDA
	STMIA
	STMDB
	STMIB
)

var updateModeNames = [...]string{
	"LDMDA", "LDMIA", "LDMDB", "LDMIB", "STMDA", "STMIA", "STMDB", "STMIB",
}

// stack aliases, same order as updateModeNames
var updateModeStackNames = [...]string{
	"LDMFA", "LDMFD", "LDMEA", "LDMED", "STMED", "STMEA", "STMFD", "STMFA",
}

func (m UpdateMode) String() string {
	return updateModeNames[m&7]
}

// StackAlias returns the stack-oriented name (e.g. LDMIA is LDMFD).
func (m UpdateMode) StackAlias() string {
	return updateModeStackNames[m&7]
}

// MultipleMemOp is a block data transfer (LDM, STM).
type MultipleMemOp struct {
	Raw  uint32
	Cond Cond

	Load bool
	Pre  bool
	Up   bool
	// PSR is the S bit: user bank transfer, or SPSR restore when loading PC.
	PSR       bool
	Writeback bool
	Rn        uint8
	RegList   uint16
}

// Mode returns the addressing mode.
func (m MultipleMemOp) Mode() UpdateMode {
	mode := UpdateMode(0)
	if m.Up {
		mode |= 1
	}
	if m.Pre {
		mode |= 2
	}
	if !m.Load {
		mode |= 4
	}
	return mode
}

// Registers returns the transferred registers in ascending order.
func (m MultipleMemOp) Registers() []uint8 {
	regs := make([]uint8, 0, 16)
	for i := uint8(0); i < 16; i++ {
		if m.RegList&(1<<i) != 0 {
			regs = append(regs, i)
		}
	}
	return regs
}

// Branch is B, BL or BX.
type Branch struct {
	Raw  uint32
	Cond Cond

	Link bool
	// Exchange marks BX: the target comes from Rm.
	Exchange bool
	// Offset is the signed byte offset relative to the PC read value.
	Offset int32
	Rm     uint8
}

// Multiply is MUL or MLA.
type Multiply struct {
	Raw  uint32
	Cond Cond

	Accumulate bool
	SetFlags   bool
	Rd         uint8
	Rn         uint8
	Rs         uint8
	Rm         uint8
}

// MultiplyLong is UMULL, UMLAL, SMULL or SMLAL.
type MultiplyLong struct {
	Raw  uint32
	Cond Cond

	Signed     bool
	Accumulate bool
	SetFlags   bool
	RdHi       uint8
	RdLo       uint8
	Rs         uint8
	Rm         uint8
}

// Swap is SWP or SWPB.
type Swap struct {
	Raw  uint32
	Cond Cond

	Byte bool
	Rn   uint8
	Rd   uint8
	Rm   uint8
}

// PSRTransfer is MRS or MSR.
type PSRTransfer struct {
	Raw  uint32
	Cond Cond

	// UseSPSR targets the SPSR of the current mode instead of the CPSR.
	UseSPSR bool
	// Write is MSR; otherwise MRS.
	Write bool
	// FlagsOnly restricts an MSR to the condition flag bits.
	FlagsOnly bool
	Immediate bool
	Imm       uint32
	Rm        uint8
	Rd        uint8
}

// SoftInterrupt is SWI.
type SoftInterrupt struct {
	Raw  uint32
	Cond Cond

	Comment uint32
}

// Nop is the architectural no-op hint.
type Nop struct {
	Raw  uint32
	Cond Cond
}

// Undefined is any bit pattern that matches no supported instruction.
type Undefined struct {
	Raw    uint32
	Cond   Cond
	Reason string
}

func (DataOp) Category() Category          { return CategoryDataOp }
func (MemOp) Category() Category           { return CategoryMemOp }
func (HalfSignedMemOp) Category() Category { return CategoryHalfSignedMemOp }
func (MultipleMemOp) Category() Category   { return CategoryMultipleMemOp }
func (Branch) Category() Category          { return CategoryBranch }
func (Multiply) Category() Category        { return CategoryMultiply }
func (MultiplyLong) Category() Category    { return CategoryMultiplyLong }
func (Swap) Category() Category            { return CategorySwap }
func (PSRTransfer) Category() Category     { return CategoryPSRTransfer }
func (SoftInterrupt) Category() Category   { return CategorySoftInterrupt }
func (Nop) Category() Category             { return CategoryNop }
func (Undefined) Category() Category       { return CategoryUndefined }

func (i DataOp) Condition() Cond          { return i.Cond }
func (i MemOp) Condition() Cond           { return i.Cond }
func (i HalfSignedMemOp) Condition() Cond { return i.Cond }
func (i MultipleMemOp) Condition() Cond   { return i.Cond }
func (i Branch) Condition() Cond          { return i.Cond }
func (i Multiply) Condition() Cond        { return i.Cond }
func (i MultiplyLong) Condition() Cond    { return i.Cond }
func (i Swap) Condition() Cond            { return i.Cond }
func (i PSRTransfer) Condition() Cond     { return i.Cond }
func (i SoftInterrupt) Condition() Cond   { return i.Cond }
func (i Nop) Condition() Cond             { return i.Cond }
func (i Undefined) Condition() Cond       { return i.Cond }

func (i DataOp) Word() uint32          { return i.Raw }
func (i MemOp) Word() uint32           { return i.Raw }
func (i HalfSignedMemOp) Word() uint32 { return i.Raw }
func (i MultipleMemOp) Word() uint32   { return i.Raw }
func (i Branch) Word() uint32          { return i.Raw }
func (i Multiply) Word() uint32        { return i.Raw }
func (i MultiplyLong) Word() uint32    { return i.Raw }
func (i Swap) Word() uint32            { return i.Raw }
func (i PSRTransfer) Word() uint32     { return i.Raw }
func (i SoftInterrupt) Word() uint32   { return i.Raw }
func (i Nop) Word() uint32             { return i.Raw }
func (i Undefined) Word() uint32       { return i.Raw }

func (DataOp) isInstruction()          {}
func (MemOp) isInstruction()           {}
func (HalfSignedMemOp) isInstruction() {}
func (MultipleMemOp) isInstruction()   {}
func (Branch) isInstruction()          {}
func (Multiply) isInstruction()        {}
func (MultiplyLong) isInstruction()    {}
func (Swap) isInstruction()            {}
func (PSRTransfer) isInstruction()     {}
func (SoftInterrupt) isInstruction()   {}
func (Nop) isInstruction()             {}
func (Undefined) isInstruction()       {}
