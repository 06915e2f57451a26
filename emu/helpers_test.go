package emu_test

import (
	"encoding/binary"

	. "github.com/onsi/gomega"

	"github.com/sarchlab/revsim/mem"
)

const (
	codeBase = 0x10000
	dataBase = 0x20000
)

// Register numbers used by the test programs.
const (
	zero = 0
	sp   = 2
	s0   = 8
	a0   = 10
	a1   = 11
	a2   = 12
	a7   = 17
)

func encR(op, f3, f7, rd, rs1, rs2 uint32) uint32 {
	return f7<<25 | rs2<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encI(op, f3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm&0xFFF)<<20 | rs1<<15 | f3<<12 | rd<<7 | op
}

func encS(op, f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | f3<<12 | (u&0x1F)<<7 | op
}

func encB(f3, rs1, rs2 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 | f3<<12 |
		(u>>1&0xF)<<8 | (u>>11&1)<<7 | 0b1100011
}

func encU(op, rd, imm uint32) uint32 { return imm&0xFFFFF000 | rd<<7 | op }

func encJ(rd uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 | (u>>12&0xFF)<<12 | rd<<7 | 0b1101111
}

func addi(rd, rs1 uint32, imm int32) uint32 { return encI(0b0010011, 0, rd, rs1, imm) }

func ecallWord() uint32 { return 0x00000073 }

// exitWith loads a7 with the exit syscall and traps.
func exitWith() []uint32 {
	return []uint32{addi(a7, zero, 93), ecallWord()}
}

func newTestMemory() *mem.Memory {
	cfg := mem.DefaultConfig()
	cfg.MemSize = 64 << 20
	cfg.MaxHeapSize = 1 << 20
	m, err := mem.New(cfg)
	Expect(err).NotTo(HaveOccurred())

	m.AddRoundedMemSeg(codeBase, 0x1000, m.PageSize())
	m.AddRoundedMemSeg(dataBase, 0x1000, m.PageSize())
	m.SetHeapStart(0x100000)
	return m
}

// loadProgram writes instructions at codeBase. Compressed parcels take two
// bytes.
func loadProgram(m *mem.Memory, words []uint32) {
	var buf []byte
	for _, w := range words {
		if w&0b11 != 0b11 {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(w))
			continue
		}
		buf = binary.LittleEndian.AppendUint32(buf, w)
	}
	Expect(m.Write(mem.NoHart, codeBase, buf)).To(Succeed())
}

func stackTop(m *mem.Memory) uint64 {
	seg, _, err := m.AddThreadMem()
	Expect(err).NotTo(HaveOccurred())
	return mem.StackPointer(seg)
}
