package emu

import (
	"math/bits"

	"github.com/sarchlab/revsim/insts"
)

func shadd(n uint) aluFn {
	return func(_ *RegFile, a, b uint64) uint64 { return a<<n + b }
}

func shaddUW(n uint) aluFn {
	return func(_ *RegFile, a, b uint64) uint64 { return (a&0xFFFFFFFF)<<n + b }
}

func slliUW(_ *RegFile, a, b uint64) uint64 { return (a & 0xFFFFFFFF) << (b & 63) }

func andn(_ *RegFile, a, b uint64) uint64 { return a &^ b }
func orn(_ *RegFile, a, b uint64) uint64  { return a | ^b }
func xnor(_ *RegFile, a, b uint64) uint64 { return ^(a ^ b) }

func clz(r *RegFile, a, _ uint64) uint64 {
	if r.XLEN() == 32 {
		return uint64(bits.LeadingZeros32(uint32(a)))
	}
	return uint64(bits.LeadingZeros64(a))
}

func ctz(r *RegFile, a, _ uint64) uint64 {
	if r.XLEN() == 32 {
		return uint64(bits.TrailingZeros32(uint32(a)))
	}
	return uint64(bits.TrailingZeros64(a))
}

func cpop(r *RegFile, a, _ uint64) uint64 {
	return uint64(bits.OnesCount64(unsignedX(r, a)))
}

func clzw(_ *RegFile, a, _ uint64) uint64  { return uint64(bits.LeadingZeros32(uint32(a))) }
func ctzw(_ *RegFile, a, _ uint64) uint64  { return uint64(bits.TrailingZeros32(uint32(a))) }
func cpopw(_ *RegFile, a, _ uint64) uint64 { return uint64(bits.OnesCount32(uint32(a))) }

func maxS(r *RegFile, a, b uint64) uint64 {
	if signed(r, a) < signed(r, b) {
		return b
	}
	return a
}

func minS(r *RegFile, a, b uint64) uint64 {
	if signed(r, a) < signed(r, b) {
		return a
	}
	return b
}

func maxU(r *RegFile, a, b uint64) uint64 {
	if unsignedX(r, a) < unsignedX(r, b) {
		return b
	}
	return a
}

func minU(r *RegFile, a, b uint64) uint64 {
	if unsignedX(r, a) < unsignedX(r, b) {
		return a
	}
	return b
}

func sextB(_ *RegFile, a, _ uint64) uint64 { return sext(a, 8) }
func sextH(_ *RegFile, a, _ uint64) uint64 { return sext(a, 16) }
func zextH(_ *RegFile, a, _ uint64) uint64 { return a & 0xFFFF }

func rol(r *RegFile, a, b uint64) uint64 {
	if r.XLEN() == 32 {
		return uint64(bits.RotateLeft32(uint32(a), int(b&31)))
	}
	return bits.RotateLeft64(a, int(b&63))
}

func ror(r *RegFile, a, b uint64) uint64 {
	if r.XLEN() == 32 {
		return uint64(bits.RotateLeft32(uint32(a), -int(b&31)))
	}
	return bits.RotateLeft64(a, -int(b&63))
}

func rolw(_ *RegFile, a, b uint64) uint64 {
	return sext32(uint64(bits.RotateLeft32(uint32(a), int(b&31))))
}

func rorw(_ *RegFile, a, b uint64) uint64 {
	return sext32(uint64(bits.RotateLeft32(uint32(a), -int(b&31))))
}

// orcB sets every nonzero byte of a to 0xFF.
func orcB(r *RegFile, a, _ uint64) uint64 {
	var out uint64
	for i := 0; i < r.XLEN(); i += 8 {
		if (a>>i)&0xFF != 0 {
			out |= 0xFF << i
		}
	}
	return out
}

func rev8(r *RegFile, a, _ uint64) uint64 {
	if r.XLEN() == 32 {
		return uint64(bits.ReverseBytes32(uint32(a)))
	}
	return bits.ReverseBytes64(a)
}

func bclr(r *RegFile, a, b uint64) uint64 { return a &^ (1 << shamt(r, b)) }
func bext(r *RegFile, a, b uint64) uint64 { return (a >> shamt(r, b)) & 1 }
func binv(r *RegFile, a, b uint64) uint64 { return a ^ (1 << shamt(r, b)) }
func bset(r *RegFile, a, b uint64) uint64 { return a | (1 << shamt(r, b)) }

func czeroEqz(_ *RegFile, a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return a
}

func czeroNez(_ *RegFile, a, b uint64) uint64 {
	if b != 0 {
		return 0
	}
	return a
}

// shiftFunct returns the funct field of an immediate shift-class encoding
// as the decoder keys it: all seven bits on RV32, the upper six on RV64.
func shiftFunct(rv64 bool, funct7 uint8) uint8 {
	if rv64 {
		return funct7 >> 1
	}
	return funct7
}

func unary(mnemonic string, opcode, funct3, funct7 uint8, imm uint16, fn aluFn) def {
	return iDef(mnemonic, opcode, funct3, regImm(fn)).f7(funct7).imm12(imm)
}

func addressGen(rv64 bool) Extension {
	defs := []def{
		rDef("sh1add %rd, %rs1, %rs2", insts.OpOp, 0b010, 0b0010000, regReg(shadd(1))),
		rDef("sh2add %rd, %rs1, %rs2", insts.OpOp, 0b100, 0b0010000, regReg(shadd(2))),
		rDef("sh3add %rd, %rs1, %rs2", insts.OpOp, 0b110, 0b0010000, regReg(shadd(3))),
	}

	name := "RV32Zba"
	if rv64 {
		name = "RV64Zba"
		defs = append(defs,
			rDef("add.uw %rd, %rs1, %rs2", insts.OpOp32, 0b000, 0b0000100, regReg(shaddUW(0))),
			rDef("sh1add.uw %rd, %rs1, %rs2", insts.OpOp32, 0b010, 0b0010000, regReg(shaddUW(1))),
			rDef("sh2add.uw %rd, %rs1, %rs2", insts.OpOp32, 0b100, 0b0010000, regReg(shaddUW(2))),
			rDef("sh3add.uw %rd, %rs1, %rs2", insts.OpOp32, 0b110, 0b0010000, regReg(shaddUW(3))),
			iDef("slli.uw %rd, %rs1, $imm", insts.OpImm32, 0b001, regImm(slliUW)).f7(0b000010),
		)
	}
	return &extension{name: name, defs: defs}
}

func basicBits(rv64 bool) Extension {
	count := shiftFunct(rv64, 0b0110000)
	orc, rev := shiftFunct(rv64, 0b0010100), shiftFunct(rv64, 0b0110100)
	revImm, zext := uint16(0x698), insts.OpOp
	if rv64 {
		revImm, zext = 0x6B8, insts.OpOp32
	}

	defs := []def{
		rDef("andn %rd, %rs1, %rs2", insts.OpOp, 0b111, 0b0100000, regReg(andn)),
		rDef("orn %rd, %rs1, %rs2", insts.OpOp, 0b110, 0b0100000, regReg(orn)),
		rDef("xnor %rd, %rs1, %rs2", insts.OpOp, 0b100, 0b0100000, regReg(xnor)),

		unary("clz %rd, %rs1", insts.OpImm, 0b001, count, 0x600, clz),
		unary("ctz %rd, %rs1", insts.OpImm, 0b001, count, 0x601, ctz),
		unary("cpop %rd, %rs1", insts.OpImm, 0b001, count, 0x602, cpop),
		unary("sext.b %rd, %rs1", insts.OpImm, 0b001, count, 0x604, sextB),
		unary("sext.h %rd, %rs1", insts.OpImm, 0b001, count, 0x605, sextH),
		unary("orc.b %rd, %rs1", insts.OpImm, 0b101, orc, 0x287, orcB),
		unary("rev8 %rd, %rs1", insts.OpImm, 0b101, rev, revImm, rev8),
		rDef("zext.h %rd, %rs1", zext, 0b100, 0b0000100, regReg(zextH)).
			regs(insts.RegGPR, insts.RegGPR, insts.RegUnused, insts.RegUnused).imm12(0x080),

		rDef("min %rd, %rs1, %rs2", insts.OpOp, 0b100, 0b0000101, regReg(minS)),
		rDef("minu %rd, %rs1, %rs2", insts.OpOp, 0b101, 0b0000101, regReg(minU)),
		rDef("max %rd, %rs1, %rs2", insts.OpOp, 0b110, 0b0000101, regReg(maxS)),
		rDef("maxu %rd, %rs1, %rs2", insts.OpOp, 0b111, 0b0000101, regReg(maxU)),

		rDef("rol %rd, %rs1, %rs2", insts.OpOp, 0b001, 0b0110000, regReg(rol)),
		rDef("ror %rd, %rs1, %rs2", insts.OpOp, 0b101, 0b0110000, regReg(ror)),
		iDef("rori %rd, %rs1, $imm", insts.OpImm, 0b101, regImm(ror)).f7(count),
	}

	name := "RV32Zbb"
	if rv64 {
		name = "RV64Zbb"
		defs = append(defs,
			unary("clzw %rd, %rs1", insts.OpImm32, 0b001, 0b0110000, 0x600, clzw),
			unary("ctzw %rd, %rs1", insts.OpImm32, 0b001, 0b0110000, 0x601, ctzw),
			unary("cpopw %rd, %rs1", insts.OpImm32, 0b001, 0b0110000, 0x602, cpopw),
			rDef("rolw %rd, %rs1, %rs2", insts.OpOp32, 0b001, 0b0110000, regReg(rolw)),
			rDef("rorw %rd, %rs1, %rs2", insts.OpOp32, 0b101, 0b0110000, regReg(rorw)),
			iDef("roriw %rd, %rs1, $imm", insts.OpImm32, 0b101, regImm(rorw)).f7(0b0110000),
		)
	}
	return &extension{name: name, defs: defs}
}

func singleBit(rv64 bool) Extension {
	defs := []def{
		rDef("bclr %rd, %rs1, %rs2", insts.OpOp, 0b001, 0b0100100, regReg(bclr)),
		rDef("bext %rd, %rs1, %rs2", insts.OpOp, 0b101, 0b0100100, regReg(bext)),
		rDef("binv %rd, %rs1, %rs2", insts.OpOp, 0b001, 0b0110100, regReg(binv)),
		rDef("bset %rd, %rs1, %rs2", insts.OpOp, 0b001, 0b0010100, regReg(bset)),
		iDef("bclri %rd, %rs1, $imm", insts.OpImm, 0b001, regImm(bclr)).f7(shiftFunct(rv64, 0b0100100)),
		iDef("bexti %rd, %rs1, $imm", insts.OpImm, 0b101, regImm(bext)).f7(shiftFunct(rv64, 0b0100100)),
		iDef("binvi %rd, %rs1, $imm", insts.OpImm, 0b001, regImm(binv)).f7(shiftFunct(rv64, 0b0110100)),
		iDef("bseti %rd, %rs1, $imm", insts.OpImm, 0b001, regImm(bset)).f7(shiftFunct(rv64, 0b0010100)),
	}

	name := "RV32Zbs"
	if rv64 {
		name = "RV64Zbs"
	}
	return &extension{name: name, defs: defs}
}

func conditionalZero() Extension {
	return &extension{name: "Zicond", defs: []def{
		rDef("czero.eqz %rd, %rs1, %rs2", insts.OpOp, 0b101, 0b0000111, regReg(czeroEqz)),
		rDef("czero.nez %rd, %rs1, %rs2", insts.OpOp, 0b111, 0b0000111, regReg(czeroNez)),
	}}
}
