package emu

import (
	"fmt"

	"github.com/sarchlab/revsim/insts"
)

type aluFn func(r *RegFile, a, b uint64) uint64

func sext(v uint64, bits uint) uint64 {
	s := 64 - bits
	return uint64(int64(v<<s) >> s)
}

func sext32(v uint64) uint64 { return sext(v, 32) }

// signed interprets v as an XLEN-wide two's complement value.
func signed(r *RegFile, v uint64) int64 {
	if r.XLEN() == 32 {
		return int64(int32(v))
	}
	return int64(v)
}

func shamt(r *RegFile, v uint64) uint64 { return v & uint64(r.XLEN()-1) }

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func regReg(fn aluFn) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		r.SetX(inst.Rd, fn(r, r.GetX(inst.Rs1), r.GetX(inst.Rs2)))
		return nil
	}
}

func regImm(fn aluFn) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		r.SetX(inst.Rd, fn(r, r.GetX(inst.Rs1), uint64(inst.Imm)))
		return nil
	}
}

func load(size int, signExtend bool) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		v, err := ctx.Mem.ReadUint(ctx.addr(inst.Rs1, inst.Imm), size)
		if err != nil {
			return err
		}
		ctx.chargeMem()
		if signExtend {
			v = sext(v, uint(size*8))
		}
		ctx.Regs.SetX(inst.Rd, v)
		return nil
	}
}

func store(size int) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		err := ctx.Mem.WriteUint(ctx.Hart, ctx.addr(inst.Rs1, inst.Imm), size, ctx.Regs.GetX(inst.Rs2))
		if err != nil {
			return err
		}
		ctx.chargeMem()
		return nil
	}
}

func branch(cond func(r *RegFile, a, b uint64) bool) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		if cond(r, r.GetX(inst.Rs1), r.GetX(inst.Rs2)) {
			return ctx.jump(r.PC + uint64(inst.Imm))
		}
		return nil
	}
}

func add(_ *RegFile, a, b uint64) uint64  { return a + b }
func sub(_ *RegFile, a, b uint64) uint64  { return a - b }
func xor(_ *RegFile, a, b uint64) uint64  { return a ^ b }
func or(_ *RegFile, a, b uint64) uint64   { return a | b }
func and(_ *RegFile, a, b uint64) uint64  { return a & b }
func sll(r *RegFile, a, b uint64) uint64  { return a << shamt(r, b) }
func srl(r *RegFile, a, b uint64) uint64  { return a >> shamt(r, b) }
func sra(r *RegFile, a, b uint64) uint64  { return uint64(signed(r, a) >> shamt(r, b)) }
func slt(r *RegFile, a, b uint64) uint64  { return b2u(signed(r, a) < signed(r, b)) }
func sltu(r *RegFile, a, b uint64) uint64 { return b2u(unsignedX(r, a) < unsignedX(r, b)) }

func unsignedX(r *RegFile, v uint64) uint64 {
	if r.XLEN() == 32 {
		return v & 0xFFFFFFFF
	}
	return v
}

func addw(_ *RegFile, a, b uint64) uint64 { return sext32(uint64(uint32(a) + uint32(b))) }
func subw(_ *RegFile, a, b uint64) uint64 { return sext32(uint64(uint32(a) - uint32(b))) }
func sllw(_ *RegFile, a, b uint64) uint64 { return sext32(uint64(uint32(a) << (b & 31))) }
func srlw(_ *RegFile, a, b uint64) uint64 { return sext32(uint64(uint32(a) >> (b & 31))) }
func sraw(_ *RegFile, a, b uint64) uint64 { return uint64(int64(int32(a) >> (b & 31))) }

func lui(ctx *ExecContext, inst *insts.Instruction) error {
	ctx.Regs.SetX(inst.Rd, uint64(inst.Imm))
	return nil
}

func auipc(ctx *ExecContext, inst *insts.Instruction) error {
	ctx.Regs.SetX(inst.Rd, ctx.Regs.PC+uint64(inst.Imm))
	return nil
}

func jal(ctx *ExecContext, inst *insts.Instruction) error {
	link := ctx.NextPC
	if err := ctx.jump(ctx.Regs.PC + uint64(inst.Imm)); err != nil {
		return err
	}
	ctx.Regs.SetX(inst.Rd, link)
	return nil
}

func jalr(ctx *ExecContext, inst *insts.Instruction) error {
	link := ctx.NextPC
	target := unsignedX(ctx.Regs, ctx.Regs.GetX(inst.Rs1)+uint64(inst.Imm)) &^ 1
	if err := ctx.jump(target); err != nil {
		return err
	}
	ctx.Regs.SetX(inst.Rd, link)
	return nil
}

func nop(*ExecContext, *insts.Instruction) error { return nil }

func ecall(ctx *ExecContext, inst *insts.Instruction) error {
	if ctx.Ecall == nil {
		return fmt.Errorf("ecall at pc 0x%x: no handler", inst.PC)
	}
	return ctx.Ecall(ctx)
}

func ebreak(ctx *ExecContext, inst *insts.Instruction) error {
	if ctx.Logger != nil {
		ctx.Logger.Warn("ebreak", "pc", fmt.Sprintf("0x%x", inst.PC), "hart", ctx.Hart)
	}
	return nil
}

func baseInteger(rv64 bool) Extension {
	none := insts.RegUnused
	defs := []def{
		uDef("lui %rd, $imm", insts.OpLUI, lui),
		uDef("auipc %rd, $imm", insts.OpAUIPC, auipc),
		jDef("jal %rd, $imm", jal),
		iDef("jalr %rd, %rs1, $imm", insts.OpJALR, 0b000, jalr),

		bDef("beq %rs1, %rs2, $imm", 0b000, branch(func(_ *RegFile, a, b uint64) bool { return a == b })),
		bDef("bne %rs1, %rs2, $imm", 0b001, branch(func(_ *RegFile, a, b uint64) bool { return a != b })),
		bDef("blt %rs1, %rs2, $imm", 0b100, branch(func(r *RegFile, a, b uint64) bool { return signed(r, a) < signed(r, b) })),
		bDef("bge %rs1, %rs2, $imm", 0b101, branch(func(r *RegFile, a, b uint64) bool { return signed(r, a) >= signed(r, b) })),
		bDef("bltu %rs1, %rs2, $imm", 0b110, branch(func(_ *RegFile, a, b uint64) bool { return a < b })),
		bDef("bgeu %rs1, %rs2, $imm", 0b111, branch(func(_ *RegFile, a, b uint64) bool { return a >= b })),

		iDef("lb %rd, $imm(%rs1)", insts.OpLoad, 0b000, load(1, true)).memory(),
		iDef("lh %rd, $imm(%rs1)", insts.OpLoad, 0b001, load(2, true)).memory(),
		iDef("lw %rd, $imm(%rs1)", insts.OpLoad, 0b010, load(4, true)).memory(),
		iDef("lbu %rd, $imm(%rs1)", insts.OpLoad, 0b100, load(1, false)).memory(),
		iDef("lhu %rd, $imm(%rs1)", insts.OpLoad, 0b101, load(2, false)).memory(),
		sDef("sb %rs2, $imm(%rs1)", insts.OpStore, 0b000, store(1)).memory(),
		sDef("sh %rs2, $imm(%rs1)", insts.OpStore, 0b001, store(2)).memory(),
		sDef("sw %rs2, $imm(%rs1)", insts.OpStore, 0b010, store(4)).memory(),

		iDef("addi %rd, %rs1, $imm", insts.OpImm, 0b000, regImm(add)),
		iDef("slti %rd, %rs1, $imm", insts.OpImm, 0b010, regImm(slt)),
		iDef("sltiu %rd, %rs1, $imm", insts.OpImm, 0b011, regImm(sltu)),
		iDef("xori %rd, %rs1, $imm", insts.OpImm, 0b100, regImm(xor)),
		iDef("ori %rd, %rs1, $imm", insts.OpImm, 0b110, regImm(or)),
		iDef("andi %rd, %rs1, $imm", insts.OpImm, 0b111, regImm(and)),
		iDef("slli %rd, %rs1, $imm", insts.OpImm, 0b001, regImm(sll)),
		iDef("srli %rd, %rs1, $imm", insts.OpImm, 0b101, regImm(srl)),
		iDef("srai %rd, %rs1, $imm", insts.OpImm, 0b101, regImm(sra)).f7(shiftFunct(rv64, 0b0100000)),

		rDef("add %rd, %rs1, %rs2", insts.OpOp, 0b000, 0b0000000, regReg(add)),
		rDef("sub %rd, %rs1, %rs2", insts.OpOp, 0b000, 0b0100000, regReg(sub)),
		rDef("sll %rd, %rs1, %rs2", insts.OpOp, 0b001, 0b0000000, regReg(sll)),
		rDef("slt %rd, %rs1, %rs2", insts.OpOp, 0b010, 0b0000000, regReg(slt)),
		rDef("sltu %rd, %rs1, %rs2", insts.OpOp, 0b011, 0b0000000, regReg(sltu)),
		rDef("xor %rd, %rs1, %rs2", insts.OpOp, 0b100, 0b0000000, regReg(xor)),
		rDef("srl %rd, %rs1, %rs2", insts.OpOp, 0b101, 0b0000000, regReg(srl)),
		rDef("sra %rd, %rs1, %rs2", insts.OpOp, 0b101, 0b0100000, regReg(sra)),
		rDef("or %rd, %rs1, %rs2", insts.OpOp, 0b110, 0b0000000, regReg(or)),
		rDef("and %rd, %rs1, %rs2", insts.OpOp, 0b111, 0b0000000, regReg(and)),

		iDef("fence", insts.OpMiscMem, 0b000, nop).regs(none, none, none, none),
		iDef("ecall", insts.OpSystem, 0b000, ecall).regs(none, none, none, none).imm12(0),
		iDef("ebreak", insts.OpSystem, 0b000, ebreak).regs(none, none, none, none).imm12(1),
	}

	name := "RV32I"
	if rv64 {
		name = "RV64I"
		defs = append(defs,
			iDef("ld %rd, $imm(%rs1)", insts.OpLoad, 0b011, load(8, false)).memory(),
			iDef("lwu %rd, $imm(%rs1)", insts.OpLoad, 0b110, load(4, false)).memory(),
			sDef("sd %rs2, $imm(%rs1)", insts.OpStore, 0b011, store(8)).memory(),

			iDef("addiw %rd, %rs1, $imm", insts.OpImm32, 0b000, regImm(addw)),
			iDef("slliw %rd, %rs1, $imm", insts.OpImm32, 0b001, regImm(sllw)),
			iDef("srliw %rd, %rs1, $imm", insts.OpImm32, 0b101, regImm(srlw)),
			iDef("sraiw %rd, %rs1, $imm", insts.OpImm32, 0b101, regImm(sraw)).f7(0b0100000),

			rDef("addw %rd, %rs1, %rs2", insts.OpOp32, 0b000, 0b0000000, regReg(addw)),
			rDef("subw %rd, %rs1, %rs2", insts.OpOp32, 0b000, 0b0100000, regReg(subw)),
			rDef("sllw %rd, %rs1, %rs2", insts.OpOp32, 0b001, 0b0000000, regReg(sllw)),
			rDef("srlw %rd, %rs1, %rs2", insts.OpOp32, 0b101, 0b0000000, regReg(srlw)),
			rDef("sraw %rd, %rs1, %rs2", insts.OpOp32, 0b101, 0b0100000, regReg(sraw)),
		)
	}
	return &extension{name: name, defs: defs}
}
