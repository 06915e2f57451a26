package emu

import (
	"math"
	"math/bits"

	"github.com/sarchlab/revsim/insts"
)

// mulhs returns the high XLEN bits of a signed by signed product.
func mulhs(r *RegFile, a, b uint64) uint64 {
	if r.XLEN() == 32 {
		return uint64((signed(r, a) * signed(r, b)) >> 32)
	}
	hi, _ := bits.Mul64(a, b)
	if int64(a) < 0 {
		hi -= b
	}
	if int64(b) < 0 {
		hi -= a
	}
	return hi
}

func mulhu(r *RegFile, a, b uint64) uint64 {
	if r.XLEN() == 32 {
		return (a & 0xFFFFFFFF) * (b & 0xFFFFFFFF) >> 32
	}
	hi, _ := bits.Mul64(a, b)
	return hi
}

func mulhsu(r *RegFile, a, b uint64) uint64 {
	if r.XLEN() == 32 {
		return uint64((signed(r, a) * int64(b&0xFFFFFFFF)) >> 32)
	}
	hi, _ := bits.Mul64(a, b)
	if int64(a) < 0 {
		hi -= b
	}
	return hi
}

func mul(_ *RegFile, a, b uint64) uint64 { return a * b }

func minSigned(r *RegFile) int64 {
	if r.XLEN() == 32 {
		return math.MinInt32
	}
	return math.MinInt64
}

func div(r *RegFile, a, b uint64) uint64 {
	x, y := signed(r, a), signed(r, b)
	switch {
	case y == 0:
		return ^uint64(0)
	case y == -1 && x == minSigned(r):
		return uint64(x)
	}
	return uint64(x / y)
}

func divu(r *RegFile, a, b uint64) uint64 {
	x, y := unsignedX(r, a), unsignedX(r, b)
	if y == 0 {
		return ^uint64(0)
	}
	return x / y
}

func rem(r *RegFile, a, b uint64) uint64 {
	x, y := signed(r, a), signed(r, b)
	switch {
	case y == 0:
		return uint64(x)
	case y == -1 && x == minSigned(r):
		return 0
	}
	return uint64(x % y)
}

func remu(r *RegFile, a, b uint64) uint64 {
	x, y := unsignedX(r, a), unsignedX(r, b)
	if y == 0 {
		return x
	}
	return x % y
}

func mulw(_ *RegFile, a, b uint64) uint64 { return sext32(uint64(uint32(a) * uint32(b))) }

func divw(_ *RegFile, a, b uint64) uint64 {
	x, y := int32(a), int32(b)
	switch {
	case y == 0:
		return ^uint64(0)
	case y == -1 && x == math.MinInt32:
		return uint64(int64(x))
	}
	return uint64(int64(x / y))
}

func divuw(_ *RegFile, a, b uint64) uint64 {
	x, y := uint32(a), uint32(b)
	if y == 0 {
		return ^uint64(0)
	}
	return sext32(uint64(x / y))
}

func remw(_ *RegFile, a, b uint64) uint64 {
	x, y := int32(a), int32(b)
	switch {
	case y == 0:
		return uint64(int64(x))
	case y == -1 && x == math.MinInt32:
		return 0
	}
	return uint64(int64(x % y))
}

func remuw(_ *RegFile, a, b uint64) uint64 {
	x, y := uint32(a), uint32(b)
	if y == 0 {
		return sext32(uint64(x))
	}
	return sext32(uint64(x % y))
}

func multiply(rv64 bool) Extension {
	const m = 0b0000001
	defs := []def{
		rDef("mul %rd, %rs1, %rs2", insts.OpOp, 0b000, m, regReg(mul)),
		rDef("mulh %rd, %rs1, %rs2", insts.OpOp, 0b001, m, regReg(mulhs)),
		rDef("mulhsu %rd, %rs1, %rs2", insts.OpOp, 0b010, m, regReg(mulhsu)),
		rDef("mulhu %rd, %rs1, %rs2", insts.OpOp, 0b011, m, regReg(mulhu)),
		rDef("div %rd, %rs1, %rs2", insts.OpOp, 0b100, m, regReg(div)),
		rDef("divu %rd, %rs1, %rs2", insts.OpOp, 0b101, m, regReg(divu)),
		rDef("rem %rd, %rs1, %rs2", insts.OpOp, 0b110, m, regReg(rem)),
		rDef("remu %rd, %rs1, %rs2", insts.OpOp, 0b111, m, regReg(remu)),
	}

	name := "RV32M"
	if rv64 {
		name = "RV64M"
		defs = append(defs,
			rDef("mulw %rd, %rs1, %rs2", insts.OpOp32, 0b000, m, regReg(mulw)),
			rDef("divw %rd, %rs1, %rs2", insts.OpOp32, 0b100, m, regReg(divw)),
			rDef("divuw %rd, %rs1, %rs2", insts.OpOp32, 0b101, m, regReg(divuw)),
			rDef("remw %rd, %rs1, %rs2", insts.OpOp32, 0b110, m, regReg(remw)),
			rDef("remuw %rd, %rs1, %rs2", insts.OpOp32, 0b111, m, regReg(remuw)),
		)
	}
	return &extension{name: name, defs: defs}
}
