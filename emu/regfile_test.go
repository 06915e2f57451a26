package emu_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/insts"
)

var _ = Describe("RegFile", func() {
	It("should hardwire x0 to zero", func() {
		r := emu.NewRegFile(64, true)
		r.SetX(0, 42)
		Expect(r.GetX(0)).To(BeZero())
	})

	It("should truncate writes on RV32 and sign-extend on request", func() {
		r := emu.NewRegFile(32, false)
		r.SetX(5, 0xFFFFFFFF_FFFFFFFF)
		Expect(r.GetX(5)).To(Equal(uint64(0xFFFFFFFF)))
		Expect(r.SignedX(5)).To(Equal(int64(-1)))
	})

	It("should NaN-box singles when doubles are present", func() {
		r := emu.NewRegFile(64, true)
		r.SetF32(1, 0x3F800000)
		Expect(r.GetF64(1)).To(Equal(uint64(0xFFFFFFFF3F800000)))
		Expect(r.GetF32(1)).To(Equal(uint32(0x3F800000)))

		r.SetF64(2, 0x3FF0000000000000)
		Expect(r.GetF32(2)).To(Equal(uint32(0x7FC00000)))
	})

	It("should not box singles without doubles", func() {
		r := emu.NewRegFile(32, false)
		r.SetF32(1, 0x3F800000)
		Expect(r.GetF64(1)).To(Equal(uint64(0x3F800000)))
		Expect(r.GetF32(1)).To(Equal(uint32(0x3F800000)))
	})

	It("should pack frm and fflags into fcsr", func() {
		r := emu.NewRegFile(64, true)
		r.SetFRM(emu.RoundUp)
		r.OrFFlags(emu.FlagNX)
		r.OrFFlags(emu.FlagDZ)
		Expect(r.FRM()).To(Equal(emu.RoundUp))
		Expect(r.FFlags()).To(Equal(emu.FlagNX | emu.FlagDZ))
		Expect(r.FCSR).To(Equal(uint32(0b011_01001)))

		r.SetFFlags(0)
		Expect(r.FCSR).To(Equal(uint32(0b011_00000)))
	})

	Describe("Scoreboard", func() {
		It("should track busy bits per register class", func() {
			r := emu.NewRegFile(64, true)
			r.SetBusy(insts.RegGPR, 5)
			Expect(r.IsBusy(insts.RegGPR, 5)).To(BeTrue())
			Expect(r.IsBusy(insts.RegFloat, 5)).To(BeFalse())

			r.ClearBusy(insts.RegGPR, 5)
			Expect(r.IsBusy(insts.RegGPR, 5)).To(BeFalse())
			Expect(r.AnyBusy()).To(BeFalse())
		})

		It("should never mark x0 busy", func() {
			r := emu.NewRegFile(64, true)
			r.SetBusy(insts.RegGPR, 0)
			Expect(r.IsBusy(insts.RegGPR, 0)).To(BeFalse())
			Expect(r.BusyMask(insts.RegGPR)).To(BeZero())

			r.SetBusy(insts.RegFloat, 0)
			Expect(r.IsBusy(insts.RegFloat, 0)).To(BeTrue())
		})

		It("should clone architectural state without in-flight state", func() {
			r := emu.NewRegFile(64, true)
			r.SetX(10, 7)
			r.PC = 0x1000
			r.SetBusy(insts.RegGPR, 10)
			r.Cost = 3
			r.Trigger = true

			c := r.Clone()
			Expect(c.GetX(10)).To(Equal(uint64(7)))
			Expect(c.PC).To(Equal(uint64(0x1000)))
			Expect(c.AnyBusy()).To(BeFalse())
			Expect(c.Cost).To(BeZero())
			Expect(c.Trigger).To(BeFalse())

			c.SetX(10, 8)
			Expect(r.GetX(10)).To(Equal(uint64(7)))
		})
	})
})
