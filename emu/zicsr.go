package emu

import (
	"fmt"

	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/insts"
)

// CSR addresses.
const (
	CSRFFlags   uint16 = 0x001
	CSRFrm      uint16 = 0x002
	CSRFcsr     uint16 = 0x003
	CSRCycle    uint16 = 0xC00
	CSRTime     uint16 = 0xC01
	CSRInstret  uint16 = 0xC02
	CSRCycleH   uint16 = 0xC80
	CSRTimeH    uint16 = 0xC81
	CSRInstretH uint16 = 0xC82
)

// CSRError reports an access to a CSR that does not exist or may not be
// written.
type CSRError struct {
	PC     uint64
	CSR    uint16
	Reason string
}

func (e *CSRError) Error() string {
	return fmt.Sprintf("csr 0x%03x at pc 0x%x: %s", e.CSR, e.PC, e.Reason)
}

func readOnlyCSR(csr uint16) bool { return csr>>10 == 0b11 }

func (c *ExecContext) readCSR(csr uint16) (uint64, bool) {
	r := c.Regs
	fp := c.Feature.Has(feature.FlagF)
	rv32 := r.XLEN() == 32

	switch {
	case csr == CSRFFlags && fp:
		return uint64(r.FFlags()), true
	case csr == CSRFrm && fp:
		return uint64(r.FRM()), true
	case csr == CSRFcsr && fp:
		return uint64(r.FCSR & 0xFF), true
	case csr == CSRCycle:
		return c.Cycle, true
	case csr == CSRTime:
		return c.Time, true
	case csr == CSRInstret:
		return c.Instret, true
	case csr == CSRCycleH && rv32:
		return c.Cycle >> 32, true
	case csr == CSRTimeH && rv32:
		return c.Time >> 32, true
	case csr == CSRInstretH && rv32:
		return c.Instret >> 32, true
	}
	return 0, false
}

func (c *ExecContext) writeCSR(csr uint16, v uint64) {
	r := c.Regs
	switch csr {
	case CSRFFlags:
		r.SetFFlags(uint8(v))
	case CSRFrm:
		r.SetFRM(uint8(v))
	case CSRFcsr:
		r.FCSR = uint32(v) & 0xFF
	}
}

type csrOp uint8

const (
	csrWrite csrOp = iota
	csrSet
	csrClear
)

// csrInst implements the six csrr* instructions. With imm set the rs1
// field is a 5-bit unsigned immediate.
func csrInst(op csrOp, imm bool) Impl {
	return func(ctx *ExecContext, inst *insts.Instruction) error {
		r := ctx.Regs
		csr := inst.Imm12

		field := uint8((inst.Raw >> 15) & 0x1F)
		src := uint64(field)
		if !imm {
			src = r.GetX(field)
		}

		old, ok := ctx.readCSR(csr)
		if !ok {
			return &CSRError{PC: inst.PC, CSR: csr, Reason: "no such csr"}
		}

		write := op == csrWrite || field != 0
		if write {
			if readOnlyCSR(csr) {
				return &CSRError{PC: inst.PC, CSR: csr, Reason: "write to read-only csr"}
			}
			v := src
			switch op {
			case csrSet:
				v = old | src
			case csrClear:
				v = old &^ src
			}
			ctx.writeCSR(csr, v)
		}

		r.SetX(inst.Rd, old)
		return nil
	}
}

func csrAccess() Extension {
	gpr, none := insts.RegGPR, insts.RegUnused
	csrDef := func(mnemonic string, funct3 uint8, op csrOp, imm bool) def {
		d := iDef(mnemonic, insts.OpSystem, funct3, csrInst(op, imm))
		d.entry.Imm = insts.ImmEncoding
		if imm {
			return d.regs(gpr, none, none, none)
		}
		return d
	}

	return &extension{name: "Zicsr", defs: []def{
		csrDef("csrrw %rd, $csr, %rs1", 0b001, csrWrite, false),
		csrDef("csrrs %rd, $csr, %rs1", 0b010, csrSet, false),
		csrDef("csrrc %rd, $csr, %rs1", 0b011, csrClear, false),
		csrDef("csrrwi %rd, $csr, $imm", 0b101, csrWrite, true),
		csrDef("csrrsi %rd, $csr, $imm", 0b110, csrSet, true),
		csrDef("csrrci %rd, $csr, $imm", 0b111, csrClear, true),
	}}
}

func fenceI() Extension {
	none := insts.RegUnused
	return &extension{name: "Zifencei", defs: []def{
		iDef("fence.i", insts.OpMiscMem, 0b001, func(ctx *ExecContext, _ *insts.Instruction) error {
			if ctx.FenceI != nil {
				ctx.FenceI()
			}
			return nil
		}).regs(none, none, none, none),
	}}
}
