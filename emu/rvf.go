package emu

import "github.com/sarchlab/revsim/insts"

// fpRegs reads and writes FP registers in one format.
type fpRegs struct {
	f   FloatFormat
	get func(r *RegFile, reg uint8) uint64
	set func(r *RegFile, reg uint8, v uint64)
}

var (
	singleRegs = fpRegs{
		f:   single,
		get: func(r *RegFile, reg uint8) uint64 { return uint64(r.GetF32(reg)) },
		set: func(r *RegFile, reg uint8, v uint64) { r.SetF32(reg, uint32(v)) },
	}
	doubleRegs = fpRegs{
		f:   double,
		get: (*RegFile).GetF64,
		set: (*RegFile).SetF64,
	}
)

func fpBinary(p fpRegs, op func(e *FPEnv, f FloatFormat, a, b uint64) uint64) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		p.set(r, inst.Rd, op(&ctx.Env, p.f, p.get(r, inst.Rs1), p.get(r, inst.Rs2)))
		return nil
	}
}

func fpSqrt(p fpRegs) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		p.set(r, inst.Rd, ctx.Env.Sqrt(p.f, p.get(r, inst.Rs1)))
		return nil
	}
}

func fpFused(p fpRegs, negProd, negAdd bool) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		v := ctx.Env.FMA(p.f, p.get(r, inst.Rs1), p.get(r, inst.Rs2), p.get(r, inst.Rs3), negProd, negAdd)
		p.set(r, inst.Rd, v)
		return nil
	}
}

// fpSignInject implements fsgnj, fsgnjn and fsgnjx.
func fpSignInject(p fpRegs, mode uint8) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		sign := p.f.sign()
		a, b := p.get(r, inst.Rs1), p.get(r, inst.Rs2)

		var v uint64
		switch mode {
		case 0b000:
			v = a&^sign | b&sign
		case 0b001:
			v = a&^sign | ^b&sign
		default:
			v = a ^ b&sign
		}
		p.set(r, inst.Rd, v)
		return nil
	}
}

func fpMinMax(p fpRegs, isMax bool) Impl {
	return fpBinary(p, func(e *FPEnv, f FloatFormat, a, b uint64) uint64 {
		return e.MinMax(f, a, b, isMax)
	})
}

func fpCompare(p fpRegs, cmp func(e *FPEnv, f FloatFormat, a, b uint64) bool) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		r.SetX(inst.Rd, b2u(cmp(&ctx.Env, p.f, p.get(r, inst.Rs1), p.get(r, inst.Rs2))))
		return nil
	}
}

func fpClass(p fpRegs) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		r.SetX(inst.Rd, Class(p.f, p.get(r, inst.Rs1)))
		return nil
	}
}

// fpToInt converts to a bits-wide integer, sign-extending 32-bit results.
func fpToInt(p fpRegs, bits uint, signedResult bool) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		v := ctx.Env.ToInt(p.f, p.get(r, inst.Rs1), bits, signedResult)
		if bits == 32 {
			v = sext32(v)
		}
		r.SetX(inst.Rd, v)
		return nil
	}
}

func intToFP(p fpRegs, bits uint, signedSource bool) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		x := r.GetX(inst.Rs1)
		switch {
		case bits == 32 && signedSource:
			x = sext32(x)
		case bits == 32:
			x &= 0xFFFFFFFF
		}
		p.set(r, inst.Rd, ctx.Env.FromInt(p.f, x, signedSource))
		return nil
	}
}

func fpConvert(from, to fpRegs) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		to.set(r, inst.Rd, ctx.Env.Convert(from.f, to.f, from.get(r, inst.Rs1)))
		return nil
	}
}

func fpLoad(p fpRegs, size int) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		v, err := ctx.Mem.ReadFloat(ctx.addr(inst.Rs1, inst.Imm), size)
		if err != nil {
			return err
		}
		ctx.chargeMem()
		p.set(ctx.Regs, inst.Rd, v)
		return nil
	}
}

// fpStore writes the low size bytes of the raw register.
func fpStore(size int) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		v := ctx.Regs.F[inst.Rs2&0x1F]
		if err := ctx.Mem.WriteFloat(ctx.Hart, ctx.addr(inst.Rs1, inst.Imm), size, v&mask64(uint(size*8))); err != nil {
			return err
		}
		ctx.chargeMem()
		return nil
	}
}

// floatDefs builds the entries shared by F and D. fmtBit is the format bit
// of funct7 and the R4 funct2 field.
func floatDefs(p fpRegs, s string, fmtBit uint8, width int, memFunct3 uint8, rv64 bool) []def {
	fp, gpr, none := insts.RegFloat, insts.RegGPR, insts.RegUnused
	op := func(funct7 uint8) uint8 { return funct7 | fmtBit }

	defs := []def{
		iDef("fl"+s+" %rd, $imm(%rs1)", insts.OpLoadFP, memFunct3, fpLoad(p, width)).
			regs(fp, gpr, none, none).memory(),
		sDef("fs"+s+" %rs2, $imm(%rs1)", insts.OpStoreFP, memFunct3, fpStore(width)).
			regs(none, gpr, fp, none).memory(),

		r4Def("fmadd."+s+" %rd, %rs1, %rs2, %rs3", insts.OpMAdd, fmtBit, fpFused(p, false, false)),
		r4Def("fmsub."+s+" %rd, %rs1, %rs2, %rs3", insts.OpMSub, fmtBit, fpFused(p, false, true)),
		r4Def("fnmsub."+s+" %rd, %rs1, %rs2, %rs3", insts.OpNMSub, fmtBit, fpFused(p, true, false)),
		r4Def("fnmadd."+s+" %rd, %rs1, %rs2, %rs3", insts.OpNMAdd, fmtBit, fpFused(p, true, true)),

		rDef("fadd."+s+" %rd, %rs1, %rs2", insts.OpFP, 0, op(0b0000000), fpBinary(p, (*FPEnv).Add)).
			regs(fp, fp, fp, none).rm(),
		rDef("fsub."+s+" %rd, %rs1, %rs2", insts.OpFP, 0, op(0b0000100), fpBinary(p, (*FPEnv).Sub)).
			regs(fp, fp, fp, none).rm(),
		rDef("fmul."+s+" %rd, %rs1, %rs2", insts.OpFP, 0, op(0b0001000), fpBinary(p, (*FPEnv).Mul)).
			regs(fp, fp, fp, none).rm(),
		rDef("fdiv."+s+" %rd, %rs1, %rs2", insts.OpFP, 0, op(0b0001100), fpBinary(p, (*FPEnv).Div)).
			regs(fp, fp, fp, none).rm(),
		rDef("fsqrt."+s+" %rd, %rs1", insts.OpFP, 0, op(0b0101100), fpSqrt(p)).
			regs(fp, fp, none, none).rm(),

		rDef("fsgnj."+s+" %rd, %rs1, %rs2", insts.OpFP, 0b000, op(0b0010000), fpSignInject(p, 0b000)).
			regs(fp, fp, fp, none),
		rDef("fsgnjn."+s+" %rd, %rs1, %rs2", insts.OpFP, 0b001, op(0b0010000), fpSignInject(p, 0b001)).
			regs(fp, fp, fp, none),
		rDef("fsgnjx."+s+" %rd, %rs1, %rs2", insts.OpFP, 0b010, op(0b0010000), fpSignInject(p, 0b010)).
			regs(fp, fp, fp, none),
		rDef("fmin."+s+" %rd, %rs1, %rs2", insts.OpFP, 0b000, op(0b0010100), fpMinMax(p, false)).
			regs(fp, fp, fp, none).fpe(),
		rDef("fmax."+s+" %rd, %rs1, %rs2", insts.OpFP, 0b001, op(0b0010100), fpMinMax(p, true)).
			regs(fp, fp, fp, none).fpe(),

		rDef("feq."+s+" %rd, %rs1, %rs2", insts.OpFP, 0b010, op(0b1010000), fpCompare(p, (*FPEnv).Eq)).
			regs(gpr, fp, fp, none).fpe(),
		rDef("flt."+s+" %rd, %rs1, %rs2", insts.OpFP, 0b001, op(0b1010000), fpCompare(p, (*FPEnv).Lt)).
			regs(gpr, fp, fp, none).fpe(),
		rDef("fle."+s+" %rd, %rs1, %rs2", insts.OpFP, 0b000, op(0b1010000), fpCompare(p, (*FPEnv).Le)).
			regs(gpr, fp, fp, none).fpe(),
		rDef("fclass."+s+" %rd, %rs1", insts.OpFP, 0b001, op(0b1110000), fpClass(p)).
			regs(gpr, fp, none, none),

		rDef("fcvt.w."+s+" %rd, %rs1", insts.OpFP, 0, op(0b1100000), fpToInt(p, 32, true)).
			regs(gpr, fp, none, none).fcvt(0).rm(),
		rDef("fcvt.wu."+s+" %rd, %rs1", insts.OpFP, 0, op(0b1100000), fpToInt(p, 32, false)).
			regs(gpr, fp, none, none).fcvt(1).rm(),
		rDef("fcvt."+s+".w %rd, %rs1", insts.OpFP, 0, op(0b1101000), intToFP(p, 32, true)).
			regs(fp, gpr, none, none).fcvt(0).rm(),
		rDef("fcvt."+s+".wu %rd, %rs1", insts.OpFP, 0, op(0b1101000), intToFP(p, 32, false)).
			regs(fp, gpr, none, none).fcvt(1).rm(),
	}

	if rv64 {
		defs = append(defs,
			rDef("fcvt.l."+s+" %rd, %rs1", insts.OpFP, 0, op(0b1100000), fpToInt(p, 64, true)).
				regs(gpr, fp, none, none).fcvt(2).rm(),
			rDef("fcvt.lu."+s+" %rd, %rs1", insts.OpFP, 0, op(0b1100000), fpToInt(p, 64, false)).
				regs(gpr, fp, none, none).fcvt(3).rm(),
			rDef("fcvt."+s+".l %rd, %rs1", insts.OpFP, 0, op(0b1101000), intToFP(p, 64, true)).
				regs(fp, gpr, none, none).fcvt(2).rm(),
			rDef("fcvt."+s+".lu %rd, %rs1", insts.OpFP, 0, op(0b1101000), intToFP(p, 64, false)).
				regs(fp, gpr, none, none).fcvt(3).rm(),
		)
	}
	return defs
}

func fmvXW(ctx *ExecContext, inst *insts.Instruction) error {
	ctx.Regs.SetX(inst.Rd, sext32(ctx.Regs.F[inst.Rs1&0x1F]&0xFFFFFFFF))
	return nil
}

func fmvWX(ctx *ExecContext, inst *insts.Instruction) error {
	ctx.Regs.SetF32(inst.Rd, uint32(ctx.Regs.GetX(inst.Rs1)))
	return nil
}

func fmvXD(ctx *ExecContext, inst *insts.Instruction) error {
	ctx.Regs.SetX(inst.Rd, ctx.Regs.GetF64(inst.Rs1))
	return nil
}

func fmvDX(ctx *ExecContext, inst *insts.Instruction) error {
	ctx.Regs.SetF64(inst.Rd, ctx.Regs.GetX(inst.Rs1))
	return nil
}

func singleFloat(rv64 bool) Extension {
	fp, gpr, none := insts.RegFloat, insts.RegGPR, insts.RegUnused
	defs := floatDefs(singleRegs, "s", 0b00, 4, 0b010, rv64)
	defs = append(defs,
		rDef("fmv.x.w %rd, %rs1", insts.OpFP, 0b000, 0b1110000, fmvXW).regs(gpr, fp, none, none),
		rDef("fmv.w.x %rd, %rs1", insts.OpFP, 0b000, 0b1111000, fmvWX).regs(fp, gpr, none, none),
	)

	name := "RV32F"
	if rv64 {
		name = "RV64F"
	}
	return &extension{name: name, defs: defs}
}

func doubleFloat(rv64 bool) Extension {
	fp, gpr, none := insts.RegFloat, insts.RegGPR, insts.RegUnused
	defs := floatDefs(doubleRegs, "d", 0b01, 8, 0b011, rv64)
	defs = append(defs,
		rDef("fcvt.s.d %rd, %rs1", insts.OpFP, 0, 0b0100000, fpConvert(doubleRegs, singleRegs)).
			regs(fp, fp, none, none).fcvt(1).rm(),
		rDef("fcvt.d.s %rd, %rs1", insts.OpFP, 0, 0b0100001, fpConvert(singleRegs, doubleRegs)).
			regs(fp, fp, none, none).fcvt(0).rm(),
	)

	name := "RV32D"
	if rv64 {
		name = "RV64D"
		defs = append(defs,
			rDef("fmv.x.d %rd, %rs1", insts.OpFP, 0b000, 0b1110001, fmvXD).regs(gpr, fp, none, none),
			rDef("fmv.d.x %rd, %rs1", insts.OpFP, 0b000, 0b1111001, fmvDX).regs(fp, gpr, none, none),
		)
	}
	return &extension{name: name, defs: defs}
}
