package emu_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/mem"
)

var _ = Describe("SyscallTable", func() {
	var (
		m      *mem.Memory
		out    *bytes.Buffer
		table  *emu.SyscallTable
		thread *emu.Thread
		ctx    *emu.ExecContext
	)

	BeforeEach(func() {
		m = newTestMemory()
		out = new(bytes.Buffer)
		fds := emu.NewFDTable(bytes.NewBufferString("input"), out, out)
		table = emu.NewSyscallTable(m, fds, emu.NewTIDAllocator())

		regs := emu.NewRegFile(64, true)
		thread = emu.NewThread(1, 0, regs)
		ctx = &emu.ExecContext{Regs: regs, Mem: m, NextPC: codeBase + 4}
	})

	call := func(num uint64, args ...uint64) (emu.SyscallResult, error) {
		for i, v := range args {
			ctx.Regs.SetX(uint8(a0+i), v)
		}
		ctx.Regs.SetX(a7, num)
		return table.Handle(&emu.SyscallCall{Ctx: ctx, Thread: thread, PC: codeBase})
	}

	ret := func() int64 { return ctx.Regs.SignedX(a0) }

	putString := func(addr uint64, s string) {
		Expect(m.Write(mem.NoHart, addr, append([]byte(s), 0))).To(Succeed())
	}

	It("should reject unknown syscall numbers", func() {
		_, err := call(4242)
		Expect(errors.Is(err, emu.ErrUnknownEcall)).To(BeTrue())
	})

	It("should write guest memory to stdout", func() {
		Expect(m.Write(mem.NoHart, dataBase, []byte("hello"))).To(Succeed())
		_, err := call(emu.SyscallWrite, 1, dataBase, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(Equal(int64(5)))
		Expect(out.String()).To(Equal("hello"))
	})

	It("should read stdin into guest memory", func() {
		_, err := call(emu.SyscallRead, 0, dataBase, 16)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(Equal(int64(5)))

		s, err := m.ReadString(dataBase, 16)
		Expect(err).NotTo(HaveOccurred())
		Expect(s).To(Equal("input"))
	})

	It("should fail writes to a closed descriptor", func() {
		_, err := call(emu.SyscallWrite, 7, dataBase, 1)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(Equal(int64(-emu.EBADF)))
	})

	It("should report a missing file", func() {
		putString(dataBase, filepath.Join(GinkgoT().TempDir(), "missing"))
		_, err := call(emu.SyscallOpenat, uint64(0xFFFFFFFFFFFFFF9C), dataBase, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(Equal(int64(-emu.ENOENT)))
	})

	It("should round-trip a host file", func() {
		path := filepath.Join(GinkgoT().TempDir(), "data.txt")
		putString(dataBase, path)
		Expect(m.Write(mem.NoHart, dataBase+0x100, []byte("abcdef"))).To(Succeed())

		_, err := call(emu.SyscallOpenat, uint64(0xFFFFFFFFFFFFFF9C), dataBase, 0x42, 0o644)
		Expect(err).NotTo(HaveOccurred())
		fd := uint64(ret())
		Expect(fd).To(Equal(uint64(3)))

		_, err = call(emu.SyscallWrite, fd, dataBase+0x100, 6)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(Equal(int64(6)))

		_, err = call(emu.SyscallLseek, fd, 2, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(Equal(int64(2)))

		_, err = call(emu.SyscallRead, fd, dataBase+0x200, 16)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(Equal(int64(4)))
		s, _ := m.ReadString(dataBase+0x200, 16)
		Expect(s).To(Equal("cdef"))

		_, err = call(emu.SyscallClose, fd)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(BeZero())
		Expect(table.FDs().IsOpen(fd)).To(BeFalse())

		host, err := os.ReadFile(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(string(host)).To(Equal("abcdef"))
	})

	It("should not seek the standard streams", func() {
		_, err := call(emu.SyscallLseek, 1, 0, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(Equal(int64(-emu.EINVAL)))
	})

	It("should move the program break", func() {
		_, err := call(emu.SyscallBrk, 0)
		Expect(err).NotTo(HaveOccurred())
		start := uint64(ret())
		Expect(start).To(Equal(m.HeapStart()))

		_, err = call(emu.SyscallBrk, start+0x2000)
		Expect(err).NotTo(HaveOccurred())
		Expect(uint64(ret())).To(BeNumerically(">=", start+0x2000))
		Expect(m.WriteUint(mem.NoHart, start+0x1FF8, 8, 1)).To(Succeed())
	})

	It("should keep the old break when the heap is exhausted", func() {
		_, _ = call(emu.SyscallBrk, 0)
		start := uint64(ret())
		_, err := call(emu.SyscallBrk, start+(64<<20))
		Expect(err).NotTo(HaveOccurred())
		Expect(uint64(ret())).To(Equal(start))
	})

	It("should map zeroed anonymous memory and unmap it", func() {
		_, err := call(emu.SyscallMmap, 0, 0x1000, 3, 0x22, ^uint64(0), 0)
		Expect(err).NotTo(HaveOccurred())
		addr := uint64(ret())
		Expect(addr).NotTo(BeZero())

		v, err := m.ReadUint(addr+0x800, 8)
		Expect(err).NotTo(HaveOccurred())
		Expect(v).To(BeZero())

		_, err = call(emu.SyscallMunmap, addr, 0x1000)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(BeZero())
		Expect(m.IsValidHeapAddr(addr)).To(BeFalse())
	})

	It("should reject file-backed mappings", func() {
		_, err := call(emu.SyscallMmap, 0, 0x1000, 3, 0x02, 3, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(ret()).To(Equal(int64(-emu.EINVAL)))
	})

	It("should report thread identity", func() {
		thread = emu.NewThread(5, 3, ctx.Regs)
		_, _ = call(emu.SyscallGettid)
		Expect(ret()).To(Equal(int64(5)))
		_, _ = call(emu.SyscallGetppid)
		Expect(ret()).To(Equal(int64(3)))
	})

	It("should describe exits", func() {
		res, err := call(emu.SyscallExitGroup, 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Exited).To(BeTrue())
		Expect(res.ExitGroup).To(BeTrue())
		Expect(res.ExitCode).To(Equal(int64(3)))
	})

	Describe("Threads", func() {
		It("should clone a child onto its own stack", func() {
			ctx.Regs.SetX(sp, 0x5000)
			res, err := call(emu.SyscallClone, 0, 0, 0, 0, 0)
			Expect(err).NotTo(HaveOccurred())

			child := res.NewThread
			Expect(child).NotTo(BeNil())
			Expect(res.JoinTID).To(Equal(child.ID))
			Expect(ret()).To(Equal(int64(child.ID)))
			Expect(child.ParentID).To(Equal(thread.ID))
			Expect(child.OwnsStack).To(BeTrue())
			Expect(child.Regs.PC).To(Equal(uint64(codeBase + 4)))
			Expect(child.Regs.GetX(a0)).To(BeZero())
			Expect(child.Stack.Contains(child.Regs.GetX(sp) - 8)).To(BeTrue())
		})

		It("should honor a caller stack and TLS pointer", func() {
			res, err := call(emu.SyscallClone, 0x80000, 0x9000, 0, 0x7000, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(res.NewThread.OwnsStack).To(BeFalse())
			Expect(res.NewThread.Regs.GetX(sp)).To(Equal(uint64(0x9000)))
			Expect(res.NewThread.Regs.GetX(4)).To(Equal(uint64(0x7000)))
		})

		It("should report no children", func() {
			_, err := call(emu.SyscallWait4, ^uint64(0), 0, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ret()).To(Equal(int64(-emu.ECHILD)))
		})

		It("should reap a finished child", func() {
			child := emu.NewThread(9, thread.ID, emu.NewRegFile(64, true))
			child.ExitCode = 3
			table.RecordExit(child)

			_, err := call(emu.SyscallWait4, 9, dataBase, 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(ret()).To(Equal(int64(9)))

			status, err := m.ReadUint(dataBase, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(status).To(Equal(uint64(3 << 8)))

			_, _ = call(emu.SyscallWait4, 9, 0, 0)
			Expect(ret()).To(Equal(int64(-emu.ECHILD)))
		})
	})
})
