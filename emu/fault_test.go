package emu_test

import (
	"math/bits"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/insts"
)

var _ = Describe("FaultInjector", func() {
	It("should parse fault kind lists", func() {
		k, err := emu.ParseFaultKinds("crack, ALU")
		Expect(err).NotTo(HaveOccurred())
		Expect(k).To(Equal(emu.FaultCrack | emu.FaultALU))
		Expect(k.String()).To(Equal("crack,alu"))

		k, err = emu.ParseFaultKinds("all")
		Expect(err).NotTo(HaveOccurred())
		Expect(k).To(Equal(emu.FaultAll))

		_, err = emu.ParseFaultKinds("cosmic")
		Expect(err).To(HaveOccurred())
	})

	It("should validate its parameters", func() {
		_, err := emu.NewFaultInjector(0, 1, 0, 1)
		Expect(err).To(HaveOccurred())
		_, err = emu.NewFaultInjector(emu.FaultMem, 65, 0, 1)
		Expect(err).To(HaveOccurred())
	})

	It("should fire once at the trigger cycle", func() {
		f, err := emu.NewFaultInjector(emu.FaultMem, 1, 10, 7)
		Expect(err).NotTo(HaveOccurred())

		Expect(f.Tick(9)).To(BeZero())
		Expect(f.Tick(10)).To(Equal(emu.FaultMem))
		Expect(f.Tick(11)).To(BeZero())
	})

	It("should flip exactly width bits of a cracked word", func() {
		f, err := emu.NewFaultInjector(emu.FaultCrack, 5, 0, 3)
		Expect(err).NotTo(HaveOccurred())

		Expect(f.CrackWord(0)).To(BeZero())
		Expect(f.Tick(0)).To(Equal(emu.FaultCrack))

		w := f.CrackWord(0)
		Expect(bits.OnesCount32(w)).To(Equal(5))
		Expect(f.CrackWord(0)).To(BeZero())
	})

	It("should corrupt one result", func() {
		f, err := emu.NewFaultInjector(emu.FaultALU, 64, 0, 3)
		Expect(err).NotTo(HaveOccurred())
		regs := emu.NewRegFile(64, true)

		f.Tick(0)
		Expect(f.CorruptResult(regs, insts.RegGPR, 5)).To(BeTrue())
		Expect(regs.GetX(5)).To(Equal(^uint64(0)))
		Expect(f.CorruptResult(regs, insts.RegGPR, 6)).To(BeFalse())
		Expect(regs.GetX(6)).To(BeZero())
	})

	It("should leave x0 alone when corrupting registers", func() {
		f, err := emu.NewFaultInjector(emu.FaultReg, 32, 0, 11)
		Expect(err).NotTo(HaveOccurred())
		regs := emu.NewRegFile(32, false)

		reg := f.CorruptRegister(regs)
		Expect(reg).To(BeNumerically(">=", 1))
		Expect(bits.OnesCount64(regs.GetX(reg))).To(Equal(32))
		Expect(regs.GetX(0)).To(BeZero())
	})
})
