package emu_test

import (
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/feature"
)

const (
	opImm  = 0b0010011
	opOp32 = 0b0111011
)

var _ = Describe("Bit manipulation", func() {
	run := func(machine string, words []uint32) (int64, *emu.Thread) {
		m := newTestMemory()
		f, err := feature.Parse(machine, 1, 1)
		Expect(err).NotTo(HaveOccurred())
		loadProgram(m, append(words, exitWith()...))

		e, err := emu.NewEmulator(f, m)
		Expect(err).NotTo(HaveOccurred())
		root := e.Start(codeBase, stackTop(m))
		return e.Run(), root
	}

	It("should scale an index before adding it", func() {
		code, root := run("RV64IMB", []uint32{
			addi(a0, zero, 3),
			addi(a1, zero, 100),
			encR(opOp, 0b100, 0b0010000, a0, a0, a1), // sh2add a0, a0, a1
			addi(a1, zero, -1),
			encR(opOp32, 0b000, 0b0000100, a2, a1, zero), // add.uw a2, a1, zero
		})

		Expect(code).To(Equal(int64(112)))
		Expect(root.Regs.GetX(a2)).To(Equal(uint64(0xFFFFFFFF)))
	})

	It("should count and compare at XLEN 64", func() {
		code, root := run("RV64IB", []uint32{
			addi(a1, zero, 1),
			encI(opImm, 0b001, a0, a1, 0x600), // clz a0, a1
			addi(a2, zero, -1),
			encR(opOp, 0b111, 0b0000101, s0, a2, a1), // maxu s0, a2, a1
			encR(opOp, 0b110, 0b0000101, a2, a2, a1), // max a2, a2, a1
		})

		Expect(code).To(Equal(int64(63)))
		Expect(root.Regs.GetX(s0)).To(Equal(uint64(math.MaxUint64)))
		Expect(root.Regs.GetX(a2)).To(Equal(uint64(1)))
	})

	It("should work on 32-bit registers at XLEN 32", func() {
		code, root := run("RV32IB", []uint32{
			addi(a1, zero, -1),
			encI(opImm, 0b001, a0, a1, 0x602), // cpop a0, a1
			addi(a2, zero, 0x100),
			encI(opImm, 0b101, a2, a2, 0x287), // orc.b a2, a2
			encI(opImm, 0b101, s0, a2, 0x698), // rev8 s0, a2
		})

		Expect(code).To(Equal(int64(32)))
		Expect(root.Regs.GetX(a2)).To(Equal(uint64(0xFF00)))
		Expect(root.Regs.GetX(s0)).To(Equal(uint64(0x00FF0000)))
	})

	It("should zero conditionally and set single bits", func() {
		code, root := run("RV64I_Zicond_Zbs", []uint32{
			addi(a1, zero, 9),
			encR(opOp, 0b101, 0b0000111, a0, a1, zero), // czero.eqz a0, a1, zero
			encR(opOp, 0b111, 0b0000111, a2, a1, zero), // czero.nez a2, a1, zero
			encI(opImm, 0b001, s0, zero, 0x2A8),        // bseti s0, zero, 40
		})

		Expect(code).To(BeZero())
		Expect(root.Regs.GetX(a2)).To(Equal(uint64(9)))
		Expect(root.Regs.GetX(s0)).To(Equal(uint64(1) << 40))
	})
})
