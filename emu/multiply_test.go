package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsim/emu"
)

var _ = Describe("Multiplier", func() {
	It("should multiply", func() {
		// MUL R0, R1, R2
		e := withRegs(newEmulator([]uint32{0xE0000291}), map[int]uint32{1: 3, 2: 4})
		stepN(e, 1)
		Expect(reg(e, 0)).To(Equal(uint32(12)))
	})

	It("should multiply and accumulate", func() {
		// MLA R0, R1, R2, R3
		e := withRegs(newEmulator([]uint32{0xE0203291}), map[int]uint32{1: 3, 2: 4, 3: 5})
		stepN(e, 1)
		Expect(reg(e, 0)).To(Equal(uint32(17)))
	})

	It("should clear C and keep V when setting flags", func() {
		// MULS R0, R1, R2
		e := withRegs(newEmulator([]uint32{0xE0100291}), map[int]uint32{1: 0, 2: 4})
		Expect(e.RegFile().SetFlag(emu.FlagC, true)).To(Succeed())
		Expect(e.RegFile().SetFlag(emu.FlagV, true)).To(Succeed())
		stepN(e, 1)

		flags := e.Flags()
		Expect(flags[emu.FlagZ]).To(BeTrue())
		Expect(flags[emu.FlagC]).To(BeFalse())
		Expect(flags[emu.FlagV]).To(BeTrue())
	})

	DescribeTable("long multiplies",
		func(word uint32, regs map[int]uint32, lo, hi uint32) {
			e := withRegs(newEmulator([]uint32{word}), regs)
			stepN(e, 1)

			Expect(reg(e, 0)).To(Equal(lo))
			Expect(reg(e, 1)).To(Equal(hi))
		},
		Entry("UMULL R0, R1, R2, R3", uint32(0xE0810392),
			map[int]uint32{2: 0xFFFFFFFF, 3: 2}, uint32(0xFFFFFFFE), uint32(1)),
		Entry("SMULL R0, R1, R2, R3", uint32(0xE0C10392),
			map[int]uint32{2: 0xFFFFFFFF, 3: 2}, uint32(0xFFFFFFFE), uint32(0xFFFFFFFF)),
		Entry("UMLAL R0, R1, R2, R3", uint32(0xE0A10392),
			map[int]uint32{0: 0xFFFFFFFF, 1: 0, 2: 1, 3: 1}, uint32(0), uint32(1)),
	)

	It("should take N from bit 63 of a long result", func() {
		// SMULLS R0, R1, R2, R3
		e := withRegs(newEmulator([]uint32{0xE0D10392}), map[int]uint32{2: 0xFFFFFFFF, 3: 2})
		Expect(e.RegFile().SetFlag(emu.FlagV, true)).To(Succeed())
		stepN(e, 1)

		flags := e.Flags()
		Expect(flags[emu.FlagN]).To(BeTrue())
		Expect(flags[emu.FlagZ]).To(BeFalse())
		Expect(flags[emu.FlagV]).To(BeFalse())
	})
})
