package emu_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsim/emu"
	"github.com/sarchlab/armsim/insts"
)

// stepN steps into n instructions and fails on any error.
func stepN(e *emu.Emulator, n int) {
	for i := 0; i < n; i++ {
		res := e.Step(context.Background(), emu.StepInto)
		ExpectWithOffset(1, res.Err).NotTo(HaveOccurred())
	}
}

var _ = Describe("ALU", func() {
	Describe("Shift", func() {
		DescribeTable("register-specified shifts",
			func(t insts.ShiftType, value, amount uint32, carryIn bool, want uint32, wantCarry bool) {
				got, carry := emu.Shift(value, t, amount, carryIn)
				Expect(got).To(Equal(want))
				Expect(carry).To(Equal(wantCarry))
			},
			Entry("LSL #0 keeps the carry", insts.ShiftLSL, uint32(5), uint32(0), true, uint32(5), true),
			Entry("LSL #1", insts.ShiftLSL, uint32(0x80000001), uint32(1), false, uint32(2), true),
			Entry("LSL #32", insts.ShiftLSL, uint32(1), uint32(32), false, uint32(0), true),
			Entry("LSL #33", insts.ShiftLSL, uint32(1), uint32(33), true, uint32(0), false),
			Entry("LSR #4", insts.ShiftLSR, uint32(0x18), uint32(4), false, uint32(1), true),
			Entry("LSR #32", insts.ShiftLSR, uint32(0x80000000), uint32(32), false, uint32(0), true),
			Entry("ASR #1 negative", insts.ShiftASR, uint32(0x80000000), uint32(1), false, uint32(0xC0000000), false),
			Entry("ASR #40 negative", insts.ShiftASR, uint32(0x80000000), uint32(40), false, uint32(0xFFFFFFFF), true),
			Entry("ROR #8", insts.ShiftROR, uint32(0x000000FF), uint32(8), false, uint32(0xFF000000), true),
			Entry("ROR #32", insts.ShiftROR, uint32(0x80000000), uint32(32), false, uint32(0x80000000), true),
		)

		DescribeTable("immediate shifts",
			func(t insts.ShiftType, value, amount uint32, carryIn bool, want uint32, wantCarry bool) {
				got, carry := emu.ShiftImmediate(value, t, amount, carryIn)
				Expect(got).To(Equal(want))
				Expect(carry).To(Equal(wantCarry))
			},
			Entry("LSR #0 means #32", insts.ShiftLSR, uint32(0x80000000), uint32(0), false, uint32(0), true),
			Entry("ASR #0 means #32", insts.ShiftASR, uint32(0x80000000), uint32(0), false, uint32(0xFFFFFFFF), true),
			Entry("ROR #0 is RRX", insts.ShiftROR, uint32(0x3), uint32(0), true, uint32(0x80000001), true),
			Entry("LSL #0 is identity", insts.ShiftLSL, uint32(7), uint32(0), true, uint32(7), true),
		)
	})

	Describe("AddWithCarry", func() {
		It("should set carry on unsigned overflow", func() {
			r, c, v := emu.AddWithCarry(0xFFFFFFFF, 1, false)
			Expect(r).To(Equal(uint32(0)))
			Expect(c).To(BeTrue())
			Expect(v).To(BeFalse())
		})

		It("should set overflow on signed overflow", func() {
			r, c, v := emu.AddWithCarry(0x7FFFFFFF, 1, false)
			Expect(r).To(Equal(uint32(0x80000000)))
			Expect(c).To(BeFalse())
			Expect(v).To(BeTrue())
		})
	})

	Describe("data processing", func() {
		// ADD without S leaves NZCV alone
		It("should add without touching flags", func() {
			e := newEmulator([]uint32{movR0Imm0, movR1Imm10, addR2R0R1})
			stepN(e, 3)

			Expect(reg(e, 0)).To(Equal(uint32(0)))
			Expect(reg(e, 1)).To(Equal(uint32(10)))
			Expect(reg(e, 2)).To(Equal(uint32(10)))
			for _, f := range []emu.Flag{emu.FlagN, emu.FlagZ, emu.FlagC, emu.FlagV} {
				Expect(e.Flags()[f]).To(BeFalse())
			}
		})

		// CMP sets Z and C without writing Rd
		It("should compare without writing a destination", func() {
			e := newEmulator([]uint32{movR0Imm5, movR1Imm5, cmpR0R1})
			stepN(e, 2)
			e.SetCheckpoint()
			stepN(e, 1)

			flags := e.Flags()
			Expect(flags[emu.FlagZ]).To(BeTrue())
			Expect(flags[emu.FlagC]).To(BeTrue())
			Expect(flags[emu.FlagN]).To(BeFalse())
			Expect(flags[emu.FlagV]).To(BeFalse())
			Expect(reg(e, 0)).To(Equal(uint32(5)))
			Expect(reg(e, 1)).To(Equal(uint32(5)))

			for key := range e.ChangesSinceCheckpoint() {
				Expect(key.Index).NotTo(BeNumerically("<", emu.RegPC))
			}
		})

		DescribeTable("flag results",
			func(code []uint32, want uint32, n, z, c, v bool) {
				e := newEmulator(code)
				stepN(e, len(code))

				Expect(reg(e, 2)).To(Equal(want))
				flags := e.Flags()
				Expect(flags[emu.FlagN]).To(Equal(n))
				Expect(flags[emu.FlagZ]).To(Equal(z))
				Expect(flags[emu.FlagC]).To(Equal(c))
				Expect(flags[emu.FlagV]).To(Equal(v))
			},
			// MVN R0, #0x80000000 (0x7FFFFFFF); MOV R1, #1; ADDS R2, R0, R1
			Entry("ADDS signed overflow",
				[]uint32{0xE3E00102, 0xE3A01001, 0xE0902001}, uint32(0x80000000), true, false, false, true),
			// MOV R0, #1; MOV R1, #2; SUBS R2, R0, R1
			Entry("SUBS borrow",
				[]uint32{0xE3A00001, 0xE3A01002, 0xE0502001}, uint32(0xFFFFFFFF), true, false, false, false),
			// MOV R0, #2; MOV R1, #1; RSBS R2, R1, R0
			Entry("RSBS",
				[]uint32{0xE3A00002, 0xE3A01001, 0xE0712000}, uint32(1), false, false, true, false),
			// MOVS R2, #0xFF000000 takes the carry from the rotation
			Entry("MOVS rotated immediate",
				[]uint32{0xE3B024FF}, uint32(0xFF000000), true, false, true, false),
			// MOV R0, #3; MOVS R2, R0, LSR #1
			Entry("MOVS shifter carry",
				[]uint32{0xE3A00003, 0xE1B020A0}, uint32(1), false, false, true, false),
			// MOV R0, #0xF0; ANDS R2, R0, #0x0F
			Entry("ANDS zero",
				[]uint32{0xE3A000F0, 0xE210200F}, uint32(0), false, true, false, false),
		)

		It("should add the carry with ADC", func() {
			// MOV R0, #-1 (MVN R0, #0); ADDS R1, R0, #1 sets C; ADC R2, R0, #1
			e := newEmulator([]uint32{0xE3E00000, 0xE2901001, 0xE2A02001})
			stepN(e, 3)
			Expect(reg(e, 2)).To(Equal(uint32(1)))
		})

		It("should shift by a register", func() {
			// MOV R1, #0x80; MOV R2, #4; MOV R0, R1, ASR R2
			e := newEmulator([]uint32{0xE3A01080, 0xE3A02004, 0xE1A00251})
			stepN(e, 3)
			Expect(reg(e, 0)).To(Equal(uint32(8)))
		})

		It("should read PC as the instruction address plus 8", func() {
			// MOV R0, PC
			e := newEmulator([]uint32{0xE1A0000F})
			stepN(e, 1)
			Expect(reg(e, 0)).To(Equal(uint32(0x88)))
		})

		It("should add 4 to a register-shifted PC with the special behavior", func() {
			config := emu.DefaultConfig()
			config.PCSpecialBehavior = true
			// MOV R2, #0; MOV R0, PC, LSL R2
			e := newEmulator([]uint32{0xE3A02000, 0xE1A0021F}, emu.WithConfig(config))
			stepN(e, 2)
			Expect(reg(e, 0)).To(Equal(uint32(0x84 + 8 + 4)))
		})

		It("should branch when writing PC", func() {
			// MOV PC, #0x90
			e := newEmulator([]uint32{0xE3A0F090, movR0R0, movR0R0, movR0R0, movR0Imm5})
			stepN(e, 1)
			Expect(addr(e)).To(Equal(uint32(0x90)))
		})

		It("should reject an exception return in User mode", func() {
			e := newEmulator([]uint32{movsPCLR})
			res := e.Step(context.Background(), emu.StepInto)
			Expect(errors.Is(res.Err, emu.ErrPrivilegeViolation)).To(BeTrue())
			Expect(addr(e)).To(Equal(uint32(0x80)))
		})
	})
})
