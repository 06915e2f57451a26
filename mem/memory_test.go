package mem_test

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/mem"
)

func newMemory(tlbSize int) *mem.Memory {
	m, err := mem.New(mem.Config{
		MemSize:     64 << 20,
		PageSize:    4096,
		TLBSize:     tlbSize,
		MaxHeapSize: 1 << 20,
	})
	Expect(err).NotTo(HaveOccurred())
	return m
}

var _ = Describe("Memory", func() {
	var m *mem.Memory

	BeforeEach(func() {
		m = newMemory(2)
		m.AddMemSeg(0x10000, 0x10000)
	})

	Describe("Construction", func() {
		It("should reject a page size that is not a power of two", func() {
			_, err := mem.New(mem.Config{MemSize: 64 << 20, PageSize: 3000, TLBSize: 4, MaxHeapSize: 4096})
			Expect(err).To(HaveOccurred())
		})

		It("should reject an empty TLB", func() {
			_, err := mem.New(mem.Config{MemSize: 64 << 20, PageSize: 4096, MaxHeapSize: 4096})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Translation", func() {
		It("should evict the oldest page from a two-entry TLB", func() {
			a, b, c := uint64(0x10000), uint64(0x11000), uint64(0x12000)
			for _, addr := range []uint64{a, b, c} {
				_, err := m.ReadUint(addr, 4)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(m.Stats().TLBMisses).To(Equal(uint64(3)))

			_, err := m.ReadUint(a, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Stats().TLBMisses).To(Equal(uint64(4)))

			_, err = m.ReadUint(c, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(m.Stats().TLBHits).To(Equal(uint64(1)))
		})

		It("should count hits for repeated pages", func() {
			Expect(m.WriteUint(0, 0x10010, 8, 42)).To(Succeed())
			v, err := m.ReadUint(0x10010, 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint64(42)))
			Expect(m.Stats().TLBHits).To(Equal(uint64(1)))
		})

		It("should refetch after a flush", func() {
			_, _ = m.ReadUint(0x10000, 4)
			m.FlushTLB()
			_, _ = m.ReadUint(0x10000, 4)
			Expect(m.Stats().TLBMisses).To(Equal(uint64(2)))
		})

		It("should report segfaults with the live segments", func() {
			_, err := m.ReadUint(0x90000, 4)
			var sf *mem.SegFaultError
			Expect(errors.As(err, &sf)).To(BeTrue())
			Expect(sf.Addr).To(Equal(uint64(0x90000)))
			Expect(sf.Segments).To(HaveLen(1))
			Expect(err.Error()).To(ContainSubstring("0x10000"))
		})
	})

	Describe("Access", func() {
		It("should split accesses that straddle a page", func() {
			Expect(m.WriteUint(0, 0x10FFC, 8, 0x1122334455667788)).To(Succeed())
			v, err := m.ReadUint(0x10FFC, 8)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint64(0x1122334455667788)))

			lo, err := m.ReadUint(0x11000, 4)
			Expect(err).NotTo(HaveOccurred())
			Expect(lo).To(Equal(uint64(0x11223344)))
		})

		It("should copy byte slices", func() {
			Expect(m.Write(0, 0x10100, []byte("hello\x00"))).To(Succeed())
			s, err := m.ReadString(0x10100, 64)
			Expect(err).NotTo(HaveOccurred())
			Expect(s).To(Equal("hello"))

			buf := make([]byte, 3)
			Expect(m.Read(0x10101, buf)).To(Succeed())
			Expect(string(buf)).To(Equal("ell"))
		})

		It("should zero-extend narrow reads", func() {
			Expect(m.WriteUint(0, 0x10000, 8, ^uint64(0))).To(Succeed())
			v, err := m.ReadUint(0x10000, 2)
			Expect(err).NotTo(HaveOccurred())
			Expect(v).To(Equal(uint64(0xFFFF)))
		})

		It("should count bytes and floating-point traffic", func() {
			Expect(m.WriteFloat(0, 0x10000, 4, 0x3F800000)).To(Succeed())
			Expect(m.WriteFloat(0, 0x10008, 8, 0x3FF0000000000000)).To(Succeed())
			_, _ = m.ReadFloat(0x10000, 4)
			_, _ = m.ReadFloat(0x10008, 8)

			s := m.Stats()
			Expect(s.FloatsWritten).To(Equal(uint64(1)))
			Expect(s.DoublesWritten).To(Equal(uint64(1)))
			Expect(s.FloatsRead).To(Equal(uint64(1)))
			Expect(s.DoublesRead).To(Equal(uint64(1)))
			Expect(s.BytesWritten).To(Equal(uint64(12)))
			Expect(s.BytesRead).To(Equal(uint64(12)))
		})

		It("should corrupt exactly one read after a fault is armed", func() {
			Expect(m.WriteUint(0, 0x10000, 8, 0)).To(Succeed())
			m.InjectFault(64)
			first, _ := m.ReadUint(0x10000, 8)
			second, _ := m.ReadUint(0x10000, 8)
			Expect(second).To(Equal(uint64(0)))
			Expect(first).NotTo(Equal(uint64(0)))
		})
	})

	Describe("Static segments", func() {
		It("should merge overlapping rounded segments", func() {
			base := m.AddRoundedMemSeg(0x20010, 0x100, 0x1000)
			Expect(base).To(Equal(uint64(0x20000)))

			m.AddRoundedMemSeg(0x20800, 0x1000, 0x1000)
			segs := m.Segments(mem.SegStatic)
			Expect(segs).To(ContainElement(mem.Segment{Base: 0x20000, Size: 0x2000}))
			Expect(segs).To(HaveLen(2))
		})
	})

	Describe("Thread memory", func() {
		It("should carve disjoint stacks downward", func() {
			s1, h1, err := m.AddThreadMem()
			Expect(err).NotTo(HaveOccurred())
			s2, _, err := m.AddThreadMem()
			Expect(err).NotTo(HaveOccurred())

			Expect(s2.Top()).To(BeNumerically("<=", s1.Base))
			Expect(s1.Size).To(BeNumerically(">=", uint64(mem.StackSize+mem.TLSSize)))
			Expect(mem.StackPointer(s1) % 16).To(Equal(uint64(0)))
			Expect(s1.Contains(mem.StackPointer(s1) - 8)).To(BeTrue())

			Expect(m.WriteUint(0, mem.StackPointer(s1)-8, 8, 7)).To(Succeed())
			m.RemoveThreadMem(h1)
			_, err = m.ReadUint(mem.StackPointer(s1)-8, 8)
			Expect(err).To(HaveOccurred())
		})
	})
})
