package insts_test

import (
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsim/insts"
)

var _ = Describe("Decoder", func() {
	var decoder *insts.Decoder

	BeforeEach(func() {
		decoder = insts.NewDecoder()
	})

	Describe("Data processing", func() {
		// MOV R1, #10 -> 0xE3A0100A
		// Encoding: cond=AL, 00, I=1, opcode=1101, S=0, Rn=0, Rd=1, rot=0, imm=10
		It("should decode MOV R1, #10", func() {
			inst := decoder.Decode(0xE3A0100A)

			Expect(inst.Category()).To(Equal(insts.CategoryDataOp))
			op := inst.(insts.DataOp)
			Expect(op.Opcode).To(Equal(insts.OpMOV))
			Expect(op.Cond).To(Equal(insts.CondAL))
			Expect(op.Immediate).To(BeTrue())
			Expect(op.Imm).To(Equal(uint32(10)))
			Expect(op.ImmRotate).To(Equal(uint8(0)))
			Expect(op.Rd).To(Equal(uint8(1)))
			Expect(op.SetFlags).To(BeFalse())
		})

		// MOV R0, #0xFF000000 -> 0xE3A004FF (imm=0xFF, rot=4 -> ROR #8)
		It("should rotate immediates at decode time", func() {
			op := decoder.Decode(0xE3A004FF).(insts.DataOp)

			Expect(op.Imm).To(Equal(uint32(0xFF000000)))
			Expect(op.ImmRotate).To(Equal(uint8(8)))
			Expect(op.ImmCarry).To(BeTrue())
		})

		// ADD R2, R0, R1 -> 0xE0802001
		It("should decode ADD R2, R0, R1", func() {
			op := decoder.Decode(0xE0802001).(insts.DataOp)

			Expect(op.Opcode).To(Equal(insts.OpADD))
			Expect(op.Immediate).To(BeFalse())
			Expect(op.Rd).To(Equal(uint8(2)))
			Expect(op.Rn).To(Equal(uint8(0)))
			Expect(op.Rm).To(Equal(uint8(1)))
			Expect(op.Shift.IsIdentity()).To(BeTrue())
		})

		// CMP R0, R1 -> 0xE1500001
		It("should decode CMP R0, R1 with the S bit", func() {
			op := decoder.Decode(0xE1500001).(insts.DataOp)

			Expect(op.Opcode).To(Equal(insts.OpCMP))
			Expect(op.SetFlags).To(BeTrue())
			Expect(op.Rn).To(Equal(uint8(0)))
			Expect(op.Rm).To(Equal(uint8(1)))
		})

		// MOV R0, R1, LSL #2 -> 0xE1A00101
		It("should decode an immediate shift", func() {
			op := decoder.Decode(0xE1A00101).(insts.DataOp)

			Expect(op.Shift.Type).To(Equal(insts.ShiftLSL))
			Expect(op.Shift.Amount).To(Equal(uint8(2)))
			Expect(op.Shift.ByRegister).To(BeFalse())
		})

		// MOV R0, R1, ASR R2 -> 0xE1A00251
		It("should decode a register shift", func() {
			op := decoder.Decode(0xE1A00251).(insts.DataOp)

			Expect(op.Shift.Type).To(Equal(insts.ShiftASR))
			Expect(op.Shift.ByRegister).To(BeTrue())
			Expect(op.Shift.Rs).To(Equal(uint8(2)))
			Expect(op.Rm).To(Equal(uint8(1)))
		})

		// ADDNE R0, R1, #1 -> 0x12810001
		It("should decode the condition field", func() {
			op := decoder.Decode(0x12810001).(insts.DataOp)

			Expect(op.Cond).To(Equal(insts.CondNE))
			Expect(op.Condition()).To(Equal(insts.CondNE))
		})
	})

	Describe("Single data transfer", func() {
		// LDR R0, [R1] -> 0xE5910000
		It("should decode LDR R0, [R1]", func() {
			op := decoder.Decode(0xE5910000).(insts.MemOp)

			Expect(op.Load).To(BeTrue())
			Expect(op.Byte).To(BeFalse())
			Expect(op.Pre).To(BeTrue())
			Expect(op.Up).To(BeTrue())
			Expect(op.Writeback).To(BeFalse())
			Expect(op.Immediate).To(BeTrue())
			Expect(op.Offset).To(Equal(uint32(0)))
			Expect(op.Rn).To(Equal(uint8(1)))
			Expect(op.Rd).To(Equal(uint8(0)))
		})

		// LDR R0, [R1, #4]! -> 0xE5B10004
		It("should decode pre-indexed writeback", func() {
			op := decoder.Decode(0xE5B10004).(insts.MemOp)

			Expect(op.Pre).To(BeTrue())
			Expect(op.Writeback).To(BeTrue())
			Expect(op.Offset).To(Equal(uint32(4)))
		})

		// LDR R0, [R1], #-4 -> 0xE4110004
		It("should force writeback on post-indexed transfers", func() {
			op := decoder.Decode(0xE4110004).(insts.MemOp)

			Expect(op.Pre).To(BeFalse())
			Expect(op.Up).To(BeFalse())
			Expect(op.Writeback).To(BeTrue())
		})

		// LDRB R0, [R1, R2, LSL #2] -> 0xE7D10102
		It("should decode a scaled register offset", func() {
			op := decoder.Decode(0xE7D10102).(insts.MemOp)

			Expect(op.Byte).To(BeTrue())
			Expect(op.Immediate).To(BeFalse())
			Expect(op.Rm).To(Equal(uint8(2)))
			Expect(op.Shift.Type).To(Equal(insts.ShiftLSL))
			Expect(op.Shift.Amount).To(Equal(uint8(2)))
		})

		// STR R0, [R1] -> 0xE5810000
		It("should decode STR", func() {
			op := decoder.Decode(0xE5810000).(insts.MemOp)
			Expect(op.Load).To(BeFalse())
		})

		It("should reject register offsets with bit 4 set", func() {
			Expect(decoder.Decode(0xE6000010).Category()).To(Equal(insts.CategoryUndefined))
		})
	})

	Describe("Halfword and signed transfer", func() {
		// LDRH R0, [R1, #2] -> 0xE1D100B2
		It("should decode LDRH with a split immediate", func() {
			op := decoder.Decode(0xE1D100B2).(insts.HalfSignedMemOp)

			Expect(op.Load).To(BeTrue())
			Expect(op.Kind).To(Equal(insts.KindHalf))
			Expect(op.Immediate).To(BeTrue())
			Expect(op.Offset).To(Equal(uint32(2)))
			Expect(op.Kind.Size()).To(Equal(2))
			Expect(op.Kind.Signed()).To(BeFalse())
		})

		// LDRSB R0, [R1] -> 0xE1D100D0, LDRSH R0, [R1] -> 0xE1D100F0
		It("should decode signed loads", func() {
			sb := decoder.Decode(0xE1D100D0).(insts.HalfSignedMemOp)
			sh := decoder.Decode(0xE1D100F0).(insts.HalfSignedMemOp)

			Expect(sb.Kind).To(Equal(insts.KindSignedByte))
			Expect(sb.Kind.Size()).To(Equal(1))
			Expect(sh.Kind).To(Equal(insts.KindSignedHalf))
			Expect(sh.Kind.Signed()).To(BeTrue())
		})

		// STRH R0, [R1, #0x12] -> 0xE1C101B2
		It("should join the offset nibbles", func() {
			op := decoder.Decode(0xE1C101B2).(insts.HalfSignedMemOp)

			Expect(op.Load).To(BeFalse())
			Expect(op.Offset).To(Equal(uint32(0x12)))
		})
	})

	Describe("Block data transfer", func() {
		// LDMIA R0!, {R1-R3} -> 0xE8B0000E
		It("should decode LDMIA with writeback", func() {
			op := decoder.Decode(0xE8B0000E).(insts.MultipleMemOp)

			Expect(op.Load).To(BeTrue())
			Expect(op.Writeback).To(BeTrue())
			Expect(op.Mode()).To(Equal(insts.LDMIA))
			Expect(op.Registers()).To(Equal([]uint8{1, 2, 3}))
		})

		// STMDB SP!, {R4, LR} -> 0xE92D4010
		It("should decode PUSH as STMDB", func() {
			op := decoder.Decode(0xE92D4010).(insts.MultipleMemOp)

			Expect(op.Mode()).To(Equal(insts.STMDB))
			Expect(op.Rn).To(Equal(uint8(13)))
			Expect(op.RegList).To(Equal(uint16(0x4010)))
			Expect(insts.Disassemble(op)).To(Equal("PUSH {R4, LR}"))
		})

		// LDMIB R0, {R1}^ -> 0xE9D00002
		It("should decode the S bit", func() {
			op := decoder.Decode(0xE9D00002).(insts.MultipleMemOp)

			Expect(op.PSR).To(BeTrue())
			Expect(op.Mode()).To(Equal(insts.LDMIB))
		})
	})

	Describe("Branches", func() {
		// B #+8 -> 0xEA000002
		It("should decode a forward branch", func() {
			op := decoder.Decode(0xEA000002).(insts.Branch)

			Expect(op.Link).To(BeFalse())
			Expect(op.Exchange).To(BeFalse())
			Expect(op.Offset).To(Equal(int32(8)))
		})

		// BL #-8 -> 0xEBFFFFFE
		It("should sign-extend backward branches", func() {
			op := decoder.Decode(0xEBFFFFFE).(insts.Branch)

			Expect(op.Link).To(BeTrue())
			Expect(op.Offset).To(Equal(int32(-8)))
		})

		// BX LR -> 0xE12FFF1E
		It("should decode BX", func() {
			op := decoder.Decode(0xE12FFF1E).(insts.Branch)

			Expect(op.Exchange).To(BeTrue())
			Expect(op.Rm).To(Equal(uint8(14)))
		})
	})

	Describe("Multiply", func() {
		// MUL R0, R1, R2 -> 0xE0000291
		It("should decode MUL", func() {
			op := decoder.Decode(0xE0000291).(insts.Multiply)

			Expect(op.Accumulate).To(BeFalse())
			Expect(op.Rd).To(Equal(uint8(0)))
			Expect(op.Rm).To(Equal(uint8(1)))
			Expect(op.Rs).To(Equal(uint8(2)))
		})

		// MLA R0, R1, R2, R3 -> 0xE0203291
		It("should decode MLA", func() {
			op := decoder.Decode(0xE0203291).(insts.Multiply)

			Expect(op.Accumulate).To(BeTrue())
			Expect(op.Rn).To(Equal(uint8(3)))
		})

		// UMULL R0, R1, R2, R3 -> 0xE0810392, SMULL -> 0xE0C10392
		It("should decode long multiplies", func() {
			u := decoder.Decode(0xE0810392).(insts.MultiplyLong)
			s := decoder.Decode(0xE0C10392).(insts.MultiplyLong)

			Expect(u.Signed).To(BeFalse())
			Expect(u.RdLo).To(Equal(uint8(0)))
			Expect(u.RdHi).To(Equal(uint8(1)))
			Expect(u.Rm).To(Equal(uint8(2)))
			Expect(u.Rs).To(Equal(uint8(3)))
			Expect(s.Signed).To(BeTrue())
		})
	})

	Describe("Swap", func() {
		// SWP R0, R1, [R2] -> 0xE1020091, SWPB -> 0xE1420091
		It("should decode SWP and SWPB", func() {
			w := decoder.Decode(0xE1020091).(insts.Swap)
			b := decoder.Decode(0xE1420091).(insts.Swap)

			Expect(w.Byte).To(BeFalse())
			Expect(w.Rn).To(Equal(uint8(2)))
			Expect(w.Rd).To(Equal(uint8(0)))
			Expect(w.Rm).To(Equal(uint8(1)))
			Expect(b.Byte).To(BeTrue())
		})
	})

	Describe("PSR transfer", func() {
		// MRS R0, CPSR -> 0xE10F0000
		It("should decode MRS", func() {
			op := decoder.Decode(0xE10F0000).(insts.PSRTransfer)

			Expect(op.Write).To(BeFalse())
			Expect(op.UseSPSR).To(BeFalse())
			Expect(op.Rd).To(Equal(uint8(0)))
		})

		// MSR CPSR_fc, R0 -> 0xE129F000
		It("should decode MSR from a register", func() {
			op := decoder.Decode(0xE129F000).(insts.PSRTransfer)

			Expect(op.Write).To(BeTrue())
			Expect(op.FlagsOnly).To(BeFalse())
			Expect(op.Immediate).To(BeFalse())
			Expect(op.Rm).To(Equal(uint8(0)))
		})

		// MSR CPSR_f, #0xF0000000 -> 0xE328F20F
		It("should decode MSR flags from an immediate", func() {
			op := decoder.Decode(0xE328F20F).(insts.PSRTransfer)

			Expect(op.FlagsOnly).To(BeTrue())
			Expect(op.Immediate).To(BeTrue())
			Expect(op.Imm).To(Equal(uint32(0xF0000000)))
		})

		// MRS R0, SPSR -> 0xE14F0000
		It("should decode SPSR access", func() {
			op := decoder.Decode(0xE14F0000).(insts.PSRTransfer)
			Expect(op.UseSPSR).To(BeTrue())
		})
	})

	Describe("Software interrupt and NOP", func() {
		// SWI 0x11 -> 0xEF000011
		It("should decode SWI", func() {
			op := decoder.Decode(0xEF000011).(insts.SoftInterrupt)
			Expect(op.Comment).To(Equal(uint32(0x11)))
		})

		// NOP -> 0xE320F000
		It("should decode NOP", func() {
			Expect(decoder.Decode(0xE320F000).Category()).To(Equal(insts.CategoryNop))
		})
	})

	Describe("Undefined", func() {
		It("should reject the reserved condition code", func() {
			inst := decoder.Decode(0xF3A00000)
			Expect(inst.Category()).To(Equal(insts.CategoryUndefined))
			Expect(inst.(insts.Undefined).Reason).To(ContainSubstring("condition"))
		})

		It("should reject coprocessor instructions", func() {
			Expect(decoder.Decode(0xEE000000).Category()).To(Equal(insts.CategoryUndefined))
			Expect(decoder.Decode(0xEC000000).Category()).To(Equal(insts.CategoryUndefined))
		})
	})

	Describe("Totality", func() {
		It("should decode every word without panicking", func() {
			rng := rand.New(rand.NewSource(42))
			words := []uint32{0x00000000, 0xFFFFFFFF, 0x0FFFFFFF, 0xE0000090}
			for i := 0; i < 20000; i++ {
				words = append(words, rng.Uint32())
			}

			for _, w := range words {
				var inst insts.Instruction
				Expect(func() { inst = insts.Decode(w) }).NotTo(Panic())
				Expect(inst).NotTo(BeNil())
				Expect(inst.Word()).To(Equal(w))
				Expect(insts.Disassemble(inst)).NotTo(BeEmpty())
			}
		})

		It("should be deterministic", func() {
			for _, w := range []uint32{0xE3A0100A, 0xE1D100B2, 0xE92D4010, 0xEF000011} {
				Expect(insts.Decode(w)).To(Equal(insts.Decode(w)))
			}
		})
	})

	Describe("Caching", func() {
		It("should serve repeated words from the cache", func() {
			first := decoder.Decode(0xE0802001)
			second := decoder.Decode(0xE0802001)

			Expect(second).To(Equal(first))
			stats := decoder.Stats()
			Expect(stats.Misses).To(Equal(uint64(1)))
			Expect(stats.Hits).To(Equal(uint64(1)))
		})

		It("should work without a cache", func() {
			d := insts.NewDecoder(insts.WithCache(nil))
			Expect(d.Decode(0xE0802001).Category()).To(Equal(insts.CategoryDataOp))
			Expect(d.Stats()).To(Equal(insts.CacheStats{}))
		})
	})

	Describe("Disassemble", func() {
		DescribeTable("renders assembly",
			func(word uint32, text string) {
				Expect(insts.Disassemble(insts.Decode(word))).To(Equal(text))
			},
			Entry("MOV", uint32(0xE3A0100A), "MOV R1, #0xA"),
			Entry("ADD", uint32(0xE0802001), "ADD R2, R0, R1"),
			Entry("CMP", uint32(0xE1500001), "CMP R0, R1"),
			Entry("LDR", uint32(0xE5910000), "LDR R0, [R1]"),
			Entry("LDR pre writeback", uint32(0xE5B10004), "LDR R0, [R1, #0x4]!"),
			Entry("LDR post", uint32(0xE4110004), "LDR R0, [R1], #-0x4"),
			Entry("BX", uint32(0xE12FFF1E), "BX LR"),
			Entry("POP", uint32(0xE8BD8010), "POP {R4, PC}"),
			Entry("LDMIA", uint32(0xE8B0000E), "LDMIA R0!, {R1-R3}"),
			Entry("MUL", uint32(0xE0000291), "MUL R0, R1, R2"),
			Entry("SWI", uint32(0xEF000011), "SWI #0x11"),
			Entry("MRS", uint32(0xE10F0000), "MRS R0, CPSR"),
			Entry("shift by register", uint32(0xE1A00251), "MOV R0, R1, ASR R2"),
		)
	})
})
