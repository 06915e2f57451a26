package emu

import (
	"github.com/sarchlab/revsim/insts"
	"github.com/sarchlab/revsim/mem"
)

func loadReserved(size int) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		v, err := ctx.Mem.LoadReserved(ctx.Hart, ctx.addr(inst.Rs1, 0), size)
		if err != nil {
			return err
		}
		ctx.chargeMem()
		ctx.Regs.SetX(inst.Rd, sext(v, uint(size*8)))
		return nil
	}
}

func storeConditional(size int) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		ok, err := ctx.Mem.StoreConditional(ctx.Hart, ctx.addr(inst.Rs1, 0), size, ctx.Regs.GetX(inst.Rs2))
		if err != nil {
			return err
		}
		ctx.chargeMem()
		ctx.Regs.SetX(inst.Rd, b2u(!ok))
		return nil
	}
}

func amo(size int, op mem.AMOOp) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		old, err := ctx.Mem.AMO(ctx.Hart, ctx.addr(inst.Rs1, 0), size, op, ctx.Regs.GetX(inst.Rs2))
		if err != nil {
			return err
		}
		ctx.chargeMem()
		ctx.Regs.SetX(inst.Rd, old)
		return nil
	}
}

var amoOps = []struct {
	name   string
	funct5 uint8
	op     mem.AMOOp
}{
	{"amoswap", 0b00001, mem.AMOSwap},
	{"amoadd", 0b00000, mem.AMOAdd},
	{"amoxor", 0b00100, mem.AMOXor},
	{"amoand", 0b01100, mem.AMOAnd},
	{"amoor", 0b01000, mem.AMOOr},
	{"amomin", 0b10000, mem.AMOMin},
	{"amomax", 0b10100, mem.AMOMax},
	{"amominu", 0b11000, mem.AMOMinU},
	{"amomaxu", 0b11100, mem.AMOMaxU},
}

func atomicDefs(suffix string, funct3 uint8, size int) []def {
	gpr, none := insts.RegGPR, insts.RegUnused
	defs := []def{
		rDef("lr."+suffix+" %rd, (%rs1)", insts.OpAMO, funct3, 0b00010, loadReserved(size)).
			regs(gpr, gpr, none, none).memory(),
		rDef("sc."+suffix+" %rd, %rs2, (%rs1)", insts.OpAMO, funct3, 0b00011, storeConditional(size)).memory(),
	}
	for _, a := range amoOps {
		defs = append(defs,
			rDef(a.name+"."+suffix+" %rd, %rs2, (%rs1)", insts.OpAMO, funct3, a.funct5, amo(size, a.op)).memory())
	}
	return defs
}

func atomics(rv64 bool) Extension {
	defs := atomicDefs("w", 0b010, 4)
	name := "RV32A"
	if rv64 {
		name = "RV64A"
		defs = append(defs, atomicDefs("d", 0b011, 8)...)
	}
	return &extension{name: name, defs: defs}
}
