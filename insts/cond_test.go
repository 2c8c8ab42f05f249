package insts_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/armsim/insts"
)

// failsWhen is an independent oracle: each condition is expressed as the
// flag pattern that makes it fail.
func failsWhen(c insts.Cond, n, z, carry, v bool) bool {
	switch c {
	case insts.CondEQ:
		return !z
	case insts.CondNE:
		return z
	case insts.CondCS:
		return !carry
	case insts.CondCC:
		return carry
	case insts.CondMI:
		return !n
	case insts.CondPL:
		return n
	case insts.CondVS:
		return !v
	case insts.CondVC:
		return v
	case insts.CondHI:
		return !carry || z
	case insts.CondLS:
		return carry && !z
	case insts.CondGE:
		return n != v
	case insts.CondLT:
		return n == v
	case insts.CondGT:
		return z || n != v
	case insts.CondLE:
		return !z && n == v
	}
	return false
}

var _ = Describe("Cond", func() {
	It("should agree with the failure oracle for every flag combination", func() {
		for c := insts.CondEQ; c <= insts.CondAL; c++ {
			for nzcv := 0; nzcv < 16; nzcv++ {
				n := nzcv&8 != 0
				z := nzcv&4 != 0
				carry := nzcv&2 != 0
				v := nzcv&1 != 0

				Expect(c.Holds(n, z, carry, v)).To(Equal(!failsWhen(c, n, z, carry, v)),
					"cond %s with NZCV=%04b", c, nzcv)
			}
		}
	})

	It("should never hold for NV", func() {
		Expect(insts.CondNV.Holds(true, true, true, true)).To(BeFalse())
		Expect(insts.CondNV.Holds(false, false, false, false)).To(BeFalse())
	})

	DescribeTable("flags read by each condition",
		func(c insts.Cond, flags string) {
			Expect(c.ReadsFlags()).To(Equal(flags))
		},
		Entry("EQ", insts.CondEQ, "Z"),
		Entry("CC", insts.CondCC, "C"),
		Entry("HI", insts.CondHI, "CZ"),
		Entry("LT", insts.CondLT, "NV"),
		Entry("GT", insts.CondGT, "NZV"),
		Entry("AL", insts.CondAL, ""),
	)

	It("should omit the suffix for AL", func() {
		Expect(insts.CondAL.Suffix()).To(Equal(""))
		Expect(insts.CondGE.Suffix()).To(Equal("GE"))
	})
})
