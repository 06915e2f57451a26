package emu_test

import (
	"bytes"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/insts"
	"github.com/sarchlab/revsim/mem"
)

const (
	opOp  = 0b0110011
	opFP  = 0b1010011
	opAMO = 0b0101111
	opLUI = 0b0110111
)

var _ = Describe("Emulator", func() {
	var (
		m      *mem.Memory
		stdout *bytes.Buffer
	)

	BeforeEach(func() {
		m = newTestMemory()
		stdout = new(bytes.Buffer)
	})

	start := func(machine string, words []uint32, opts ...emu.EmulatorOption) (*emu.Emulator, *emu.Thread) {
		f, err := feature.Parse(machine, 1, 1)
		Expect(err).NotTo(HaveOccurred())
		loadProgram(m, words)

		opts = append([]emu.EmulatorOption{emu.WithStdout(stdout), emu.WithStderr(stdout)}, opts...)
		e, err := emu.NewEmulator(f, m, opts...)
		Expect(err).NotTo(HaveOccurred())
		return e, e.Start(codeBase, stackTop(m))
	}

	runUntilError := func(e *emu.Emulator) error {
		for i := 0; i < 1000; i++ {
			res := e.Step()
			if res.Err != nil {
				return res.Err
			}
			Expect(res.Exited).To(BeFalse())
		}
		Fail("program did not fail")
		return nil
	}

	It("should multiply and exit with the product", func() {
		e, _ := start("RV64IM", append([]uint32{
			addi(a0, zero, 6),
			addi(a1, zero, 7),
			encR(opOp, 0b000, 0b0000001, a0, a0, a1), // mul a0, a0, a1
		}, exitWith()...))

		Expect(e.Run()).To(Equal(int64(42)))
		Expect(e.InstructionCount()).To(Equal(uint64(5)))
	})

	It("should run a backward branch loop", func() {
		e, _ := start("RV64I", append([]uint32{
			addi(a0, zero, 0),
			addi(a1, zero, 10),
			encR(opOp, 0b000, 0, a0, a0, a1), // add a0, a0, a1
			addi(a1, a1, -1),
			encB(0b001, a1, zero, -8), // bne a1, zero, loop
		}, exitWith()...))

		Expect(e.Run()).To(Equal(int64(55)))
	})

	It("should write to stdout through the ecall layer", func() {
		Expect(m.Write(mem.NoHart, dataBase, []byte("hi\n"))).To(Succeed())

		e, _ := start("RV64I", append([]uint32{
			addi(a0, zero, 1),
			encU(opLUI, a1, dataBase),
			addi(a2, zero, 3),
			addi(a7, zero, 64),
			ecallWord(),
			addi(a0, zero, 0),
		}, exitWith()...))

		Expect(e.Run()).To(BeZero())
		Expect(stdout.String()).To(Equal("hi\n"))
	})

	It("should run a cloned child to completion before its parent reaps it", func() {
		e, root := start("RV64I", []uint32{
			addi(a0, zero, 0),
			addi(a1, zero, 0),
			addi(a7, zero, 220),
			ecallWord(),
			encB(0b001, a0, zero, 16), // parent skips the child body
			addi(a0, zero, 7),
			addi(a7, zero, 93),
			ecallWord(),
			addi(s0, a0, 0),
			encU(opLUI, a1, dataBase),
			addi(a2, zero, 0),
			addi(a7, zero, 260),
			ecallWord(),
			encR(opOp, 0b000, 0b0100000, a0, a0, s0), // sub a0, a0, s0
			encB(0b001, a0, zero, 8),
			encI(0b0000011, 0b010, a0, a1, 0), // lw a0, 0(a1)
			addi(a7, zero, 93),
			ecallWord(),
		})

		Expect(e.Run()).To(Equal(int64(7 << 8)))
		Expect(root.State).To(Equal(emu.ThreadDone))
		Expect(root.Regs.GetX(s0)).To(Equal(uint64(root.ID + 1)))
	})

	It("should accrue fflags from a dynamically rounded divide", func() {
		e, root := start("RV64GC", append([]uint32{
			addi(a0, zero, 1),
			encR(opFP, 0b111, 0b1101000, 0, a0, 0), // fcvt.s.w f0, a0
			addi(a1, zero, 3),
			encR(opFP, 0b111, 0b1101000, 1, a1, 0), // fcvt.s.w f1, a1
			encR(opFP, 0b111, 0b0001100, 2, 0, 1),  // fdiv.s f2, f0, f1
			encI(0b1110011, 0b010, a0, zero, 1),    // csrrs a0, fflags, zero
		}, exitWith()...))

		Expect(e.Run()).To(Equal(int64(emu.FlagNX)))
		Expect(root.Regs.GetF32(2)).To(Equal(uint32(0x3EAAAAAB)))
		Expect(root.Regs.GetF64(2) >> 32).To(Equal(uint64(math.MaxUint32)))
	})

	It("should fail a second store-conditional", func() {
		e, root := start("RV64IA", append([]uint32{
			encU(opLUI, a1, dataBase),
			encR(opAMO, 0b010, 0b00010<<2, a0, a1, 0), // lr.w a0, (a1)
			addi(a0, a0, 1),
			encR(opAMO, 0b010, 0b00011<<2, a2, a1, a0), // sc.w a2, a0, (a1)
			encR(opAMO, 0b010, 0b00011<<2, 13, a1, a0), // sc.w a3, a0, (a1)
		}, exitWith()...))

		e.Run()
		Expect(root.Regs.GetX(a2)).To(BeZero())
		Expect(root.Regs.GetX(13)).To(Equal(uint64(1)))

		v, err := m.ReadUint(dataBase, 4)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(Equal(uint64(1)))
	})

	It("should mix compressed and standard instructions", func() {
		e, _ := start("RV64GC", append([]uint32{
			0x4515, // c.li a0, 5
			0x050D, // c.addi a0, 3
		}, exitWith()...))

		Expect(e.Run()).To(Equal(int64(8)))
	})

	It("should follow RV32 division semantics", func() {
		e, root := start("RV32IM", append([]uint32{
			addi(a0, zero, 5),
			addi(a1, zero, 0),
			encR(opOp, 0b100, 0b0000001, a2, a0, a1), // div a2, a0, a1
			encR(opOp, 0b110, 0b0000001, a0, a0, a1), // rem a0, a0, a1
		}, exitWith()...))

		Expect(e.Run()).To(Equal(int64(5)))
		Expect(root.Regs.GetX(a2)).To(Equal(uint64(0xFFFFFFFF)))
	})

	It("should link and skip over a jal target", func() {
		e, root := start("RV64I", append([]uint32{
			encJ(1, 8), // jal ra, +8
			addi(a0, zero, 99),
			addi(a0, zero, 1),
		}, exitWith()...))

		Expect(e.Run()).To(Equal(int64(1)))
		Expect(root.Regs.GetX(1)).To(Equal(uint64(codeBase + 4)))
	})

	It("should exit a thread that returns to address zero", func() {
		e, _ := start("RV64I", []uint32{
			addi(a0, zero, 3),
			encI(0b1100111, 0, zero, zero, 0), // jalr zero, 0(zero)
		})

		Expect(e.Run()).To(Equal(int64(3)))
	})

	Describe("Errors", func() {
		It("should stop on an unknown ecall", func() {
			e, _ := start("RV64I", []uint32{addi(a7, zero, 999), ecallWord()})
			Expect(errors.Is(runUntilError(e), emu.ErrUnknownEcall)).To(BeTrue())
		})

		It("should stop on an illegal instruction", func() {
			e, _ := start("RV64I", []uint32{0xFFFFFFFF})

			var illegal *insts.IllegalInstructionError
			Expect(errors.As(runUntilError(e), &illegal)).To(BeTrue())
			Expect(illegal.PC).To(Equal(uint64(codeBase)))
		})

		It("should reject a misaligned jump without compressed support", func() {
			e, _ := start("RV64I", []uint32{encJ(zero, 2)})
			Expect(errors.Is(runUntilError(e), emu.ErrMisalignedJump)).To(BeTrue())
		})

		It("should report a segmentation fault", func() {
			e, _ := start("RV64I", []uint32{encI(0b0000011, 0b010, a0, zero, 0)})

			var fault *mem.SegFaultError
			Expect(errors.As(runUntilError(e), &fault)).To(BeTrue())
		})

		It("should enforce the instruction limit", func() {
			e, _ := start("RV64I", []uint32{encJ(zero, 0)}, emu.WithMaxInstructions(10))
			Expect(errors.Is(runUntilError(e), emu.ErrMaxInstructions)).To(BeTrue())
			Expect(e.InstructionCount()).To(Equal(uint64(10)))
		})
	})
})
