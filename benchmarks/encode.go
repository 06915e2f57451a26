package benchmarks

import "encoding/binary"

// Integer registers by ABI name.
const (
	Zero uint32 = 0
	RA   uint32 = 1
	SP   uint32 = 2
	T0   uint32 = 5
	T1   uint32 = 6
	T2   uint32 = 7
	S0   uint32 = 8
	S1   uint32 = 9
	A0   uint32 = 10
	A1   uint32 = 11
	A2   uint32 = 12
	A7   uint32 = 17
)

// Linux ecall numbers used by the benchmarks.
const (
	SysExit  = 93
	SysWait4 = 260
)

const (
	opImm    = 0b0010011
	opOp     = 0b0110011
	opLoad   = 0b0000011
	opStore  = 0b0100011
	opBranch = 0b1100011
	opJAL    = 0b1101111
	opJALR   = 0b1100111
	opLUI    = 0b0110111
)

// BuildProgram assembles instruction words into little-endian bytes.
func BuildProgram(instrs ...uint32) []byte {
	program := make([]byte, 4*len(instrs))
	for i, inst := range instrs {
		binary.LittleEndian.PutUint32(program[4*i:], inst)
	}
	return program
}

func encodeI(op, funct3, rd, rs1 uint32, imm int32) uint32 {
	return uint32(imm&0xFFF)<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

func encodeR(op, funct3, funct7, rd, rs1, rs2 uint32) uint32 {
	return funct7<<25 | rs2<<20 | rs1<<15 | funct3<<12 | rd<<7 | op
}

// EncodeADDI encodes addi rd, rs1, imm.
func EncodeADDI(rd, rs1 uint32, imm int32) uint32 { return encodeI(opImm, 0b000, rd, rs1, imm) }

// EncodeSRLI encodes srli rd, rs1, shamt.
func EncodeSRLI(rd, rs1, shamt uint32) uint32 {
	return encodeI(opImm, 0b101, rd, rs1, int32(shamt&0x3F))
}

// EncodeADD encodes add rd, rs1, rs2.
func EncodeADD(rd, rs1, rs2 uint32) uint32 { return encodeR(opOp, 0b000, 0, rd, rs1, rs2) }

// EncodeMUL encodes mul rd, rs1, rs2.
func EncodeMUL(rd, rs1, rs2 uint32) uint32 { return encodeR(opOp, 0b000, 1, rd, rs1, rs2) }

// EncodeLUI encodes lui rd, imm where imm is the full 32-bit value.
func EncodeLUI(rd, imm uint32) uint32 { return imm&0xFFFFF000 | rd<<7 | opLUI }

// EncodeLW encodes lw rd, imm(rs1).
func EncodeLW(rd, rs1 uint32, imm int32) uint32 { return encodeI(opLoad, 0b010, rd, rs1, imm) }

// EncodeLD encodes ld rd, imm(rs1).
func EncodeLD(rd, rs1 uint32, imm int32) uint32 { return encodeI(opLoad, 0b011, rd, rs1, imm) }

// EncodeSD encodes sd rs2, imm(rs1).
func EncodeSD(rs2, rs1 uint32, imm int32) uint32 {
	u := uint32(imm)
	return (u>>5&0x7F)<<25 | rs2<<20 | rs1<<15 | 0b011<<12 | (u&0x1F)<<7 | opStore
}

// EncodeBNE encodes bne rs1, rs2, offset.
func EncodeBNE(rs1, rs2 uint32, offset int32) uint32 {
	u := uint32(offset)
	return (u>>12&1)<<31 | (u>>5&0x3F)<<25 | rs2<<20 | rs1<<15 | 0b001<<12 |
		(u>>1&0xF)<<8 | (u>>11&1)<<7 | opBranch
}

// EncodeJAL encodes jal rd, offset.
func EncodeJAL(rd uint32, offset int32) uint32 {
	u := uint32(offset)
	return (u>>20&1)<<31 | (u>>1&0x3FF)<<21 | (u>>11&1)<<20 | (u>>12&0xFF)<<12 | rd<<7 | opJAL
}

// EncodeJALR encodes jalr rd, imm(rs1).
func EncodeJALR(rd, rs1 uint32, imm int32) uint32 { return encodeI(opJALR, 0b000, rd, rs1, imm) }

// EncodeECALL encodes ecall.
func EncodeECALL() uint32 { return 0x00000073 }

// Exit returns the instructions that exit with the value in a0.
func Exit() []uint32 {
	return []uint32{EncodeADDI(A7, Zero, SysExit), EncodeECALL()}
}

// ExitWith returns the instructions that exit with code.
func ExitWith(code int32) []uint32 {
	return append([]uint32{EncodeADDI(A0, Zero, code)}, Exit()...)
}
