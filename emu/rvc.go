package emu

import (
	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/insts"
)

const (
	q0 uint8 = 0b00
	q1 uint8 = 0b01
	q2 uint8 = 0b10
)

func rdField(w uint32) uint32  { return (w >> 7) & 0x1F }
func rs2Field(w uint32) uint32 { return (w >> 2) & 0x1F }

func compressed(f *feature.Feature) Extension {
	rv64 := f.IsRV64()
	hasF := f.Has(feature.FlagF)
	hasD := f.Has(feature.FlagD)

	gpr, fp, none := insts.RegGPR, insts.RegFloat, insts.RegUnused

	defs := []def{
		cDef("c.addi4spn %rd, $imm", insts.FormatCIW, q0, 0b000, regImm(add)).
			regs(gpr, gpr, none, none).
			when(func(w uint32) bool { return (w>>5)&0xFF != 0 }),
		cDef("c.lw %rd, $imm(%rs1)", insts.FormatCL, q0, 0b010, load(4, true)).
			regs(gpr, gpr, none, none).memory(),
		cDef("c.sw %rs2, $imm(%rs1)", insts.FormatCS, q0, 0b110, store(4)).
			regs(none, gpr, gpr, none).memory(),

		cDef("c.addi %rd, $imm", insts.FormatCI, q1, 0b000, regImm(add)).
			regs(gpr, gpr, none, none),
		cDef("c.li %rd, $imm", insts.FormatCI, q1, 0b010, regImm(add)).
			regs(gpr, none, none, none),
		cDef("c.addi16sp $imm", insts.FormatCI, q1, 0b011, regImm(add)).
			regs(gpr, gpr, none, none).
			when(func(w uint32) bool { return rdField(w) == 2 }),
		cDef("c.lui %rd, $imm", insts.FormatCI, q1, 0b011, lui).
			regs(gpr, none, none, none).
			when(func(w uint32) bool { return rdField(w) != 2 }),
		cDef("c.srli %rd, $imm", insts.FormatCB, q1, 0b100, regImm(srl)).
			regs(gpr, gpr, none, none).cfunct(0b00, 0, 0),
		cDef("c.srai %rd, $imm", insts.FormatCB, q1, 0b100, regImm(sra)).
			regs(gpr, gpr, none, none).cfunct(0b01, 0, 0),
		cDef("c.andi %rd, $imm", insts.FormatCB, q1, 0b100, regImm(and)).
			regs(gpr, gpr, none, none).cfunct(0b10, 0, 0),
		cDef("c.sub %rd, %rs2", insts.FormatCA, q1, 0, regReg(sub)).
			regs(gpr, gpr, gpr, none).cfunct(0b00, 0, 0b100011),
		cDef("c.xor %rd, %rs2", insts.FormatCA, q1, 0, regReg(xor)).
			regs(gpr, gpr, gpr, none).cfunct(0b01, 0, 0b100011),
		cDef("c.or %rd, %rs2", insts.FormatCA, q1, 0, regReg(or)).
			regs(gpr, gpr, gpr, none).cfunct(0b10, 0, 0b100011),
		cDef("c.and %rd, %rs2", insts.FormatCA, q1, 0, regReg(and)).
			regs(gpr, gpr, gpr, none).cfunct(0b11, 0, 0b100011),
		cDef("c.j $imm", insts.FormatCJ, q1, 0b101, jal),
		cDef("c.beqz %rs1, $imm", insts.FormatCB, q1, 0b110,
			branch(func(_ *RegFile, a, _ uint64) bool { return a == 0 })).
			regs(none, gpr, none, none),
		cDef("c.bnez %rs1, $imm", insts.FormatCB, q1, 0b111,
			branch(func(_ *RegFile, a, _ uint64) bool { return a != 0 })).
			regs(none, gpr, none, none),

		cDef("c.slli %rd, $imm", insts.FormatCI, q2, 0b000, regImm(sll)).
			regs(gpr, gpr, none, none),
		cDef("c.lwsp %rd, $imm", insts.FormatCI, q2, 0b010, load(4, true)).
			regs(gpr, gpr, none, none).memory(),
		cDef("c.swsp %rs2, $imm", insts.FormatCSS, q2, 0b110, store(4)).
			regs(none, gpr, gpr, none).memory(),
		cDef("c.jr %rs1", insts.FormatCR, q2, 0, jalr).
			regs(none, gpr, none, none).cfunct(0, 0b1000, 0).
			when(func(w uint32) bool { return rs2Field(w) == 0 }),
		cDef("c.mv %rd, %rs2", insts.FormatCR, q2, 0, regReg(add)).
			regs(gpr, none, gpr, none).cfunct(0, 0b1000, 0).
			when(func(w uint32) bool { return rs2Field(w) != 0 }),
		cDef("c.ebreak", insts.FormatCR, q2, 0, ebreak).
			regs(none, none, none, none).cfunct(0, 0b1001, 0).
			when(func(w uint32) bool { return rdField(w) == 0 && rs2Field(w) == 0 }),
		cDef("c.jalr %rs1", insts.FormatCR, q2, 0, jalr).
			regs(gpr, gpr, none, none).cfunct(0, 0b1001, 0).
			when(func(w uint32) bool { return rs2Field(w) == 0 }),
		cDef("c.add %rd, %rs2", insts.FormatCR, q2, 0, regReg(add)).
			regs(gpr, gpr, gpr, none).cfunct(0, 0b1001, 0).
			when(func(w uint32) bool { return rs2Field(w) != 0 }),
	}

	for i := range defs {
		if defs[i].entry.Format == insts.FormatCR {
			defs[i].entry.Imm = insts.ImmNone
		}
	}

	if rv64 {
		defs = append(defs,
			cDef("c.ld %rd, $imm(%rs1)", insts.FormatCL, q0, 0b011, load(8, false)).
				regs(gpr, gpr, none, none).memory(),
			cDef("c.sd %rs2, $imm(%rs1)", insts.FormatCS, q0, 0b111, store(8)).
				regs(none, gpr, gpr, none).memory(),
			cDef("c.addiw %rd, $imm", insts.FormatCI, q1, 0b001, regImm(addw)).
				regs(gpr, gpr, none, none),
			cDef("c.subw %rd, %rs2", insts.FormatCA, q1, 0, regReg(subw)).
				regs(gpr, gpr, gpr, none).cfunct(0b00, 0, 0b100111),
			cDef("c.addw %rd, %rs2", insts.FormatCA, q1, 0, regReg(addw)).
				regs(gpr, gpr, gpr, none).cfunct(0b01, 0, 0b100111),
			cDef("c.ldsp %rd, $imm", insts.FormatCI, q2, 0b011, load(8, false)).
				regs(gpr, gpr, none, none).memory(),
			cDef("c.sdsp %rs2, $imm", insts.FormatCSS, q2, 0b111, store(8)).
				regs(none, gpr, gpr, none).memory(),
		)
	} else {
		defs = append(defs,
			cDef("c.jal $imm", insts.FormatCJ, q1, 0b001, jal).
				regs(gpr, none, none, none),
		)
		if hasF {
			defs = append(defs,
				cDef("c.flw %rd, $imm(%rs1)", insts.FormatCL, q0, 0b011, fpLoad(singleRegs, 4)).
					regs(fp, gpr, none, none).memory(),
				cDef("c.fsw %rs2, $imm(%rs1)", insts.FormatCS, q0, 0b111, fpStore(4)).
					regs(none, gpr, fp, none).memory(),
				cDef("c.flwsp %rd, $imm", insts.FormatCI, q2, 0b011, fpLoad(singleRegs, 4)).
					regs(fp, gpr, none, none).memory(),
				cDef("c.fswsp %rs2, $imm", insts.FormatCSS, q2, 0b111, fpStore(4)).
					regs(none, gpr, fp, none).memory(),
			)
		}
	}

	if hasD {
		defs = append(defs,
			cDef("c.fld %rd, $imm(%rs1)", insts.FormatCL, q0, 0b001, fpLoad(doubleRegs, 8)).
				regs(fp, gpr, none, none).memory(),
			cDef("c.fsd %rs2, $imm(%rs1)", insts.FormatCS, q0, 0b101, fpStore(8)).
				regs(none, gpr, fp, none).memory(),
			cDef("c.fldsp %rd, $imm", insts.FormatCI, q2, 0b001, fpLoad(doubleRegs, 8)).
				regs(fp, gpr, none, none).memory(),
			cDef("c.fsdsp %rs2, $imm", insts.FormatCSS, q2, 0b101, fpStore(8)).
				regs(none, gpr, fp, none).memory(),
		)
	}

	return &extension{name: "C", defs: defs}
}
