package emu

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/insts"
	"github.com/sarchlab/revsim/mem"
)

// ErrMisalignedJump is returned when a control transfer targets an address
// the fetch unit cannot reach.
var ErrMisalignedJump = errors.New("misaligned jump target")

// Memory is the view of the memory subsystem the instruction semantics
// need. *mem.Memory implements it.
type Memory interface {
	ReadUint(addr uint64, size int) (uint64, error)
	FetchUint(addr uint64, size int) (uint64, error)
	WriteUint(hart int, addr uint64, size int, v uint64) error
	ReadFloat(addr uint64, size int) (uint64, error)
	WriteFloat(hart int, addr uint64, size int, v uint64) error
	LoadReserved(hart int, addr uint64, size int) (uint64, error)
	StoreConditional(hart int, addr uint64, size int, v uint64) (bool, error)
	AMO(hart int, addr uint64, size int, op mem.AMOOp, operand uint64) (uint64, error)
}

// ExecContext binds an instruction implementation to the thread it runs on.
type ExecContext struct {
	Feature *feature.Feature
	Regs    *RegFile
	Mem     Memory
	// Hart is the global hart number used for LR/SC reservations.
	Hart int
	Env  FPEnv

	// Counters backing the cycle, time and instret CSRs.
	Cycle   uint64
	Time    uint64
	Instret uint64

	// NextPC is PC+size on entry; control transfers overwrite it.
	NextPC uint64
	// ExtraCost accumulates memory latency charged by the instruction.
	ExtraCost uint32

	// Ecall services an environment call.
	Ecall func(ctx *ExecContext) error
	// FenceI invalidates fetched instruction words.
	FenceI func()
	// MemCost draws the latency of one memory access.
	MemCost func() uint32

	Logger *slog.Logger
}

func (c *ExecContext) chargeMem() {
	if c.MemCost != nil {
		c.ExtraCost += c.MemCost()
	}
}

func (c *ExecContext) jump(target uint64) error {
	align := uint64(3)
	if c.Feature.HasCompressed() {
		align = 1
	}
	if target&align != 0 {
		return fmt.Errorf("%w: 0x%x from pc 0x%x", ErrMisalignedJump, target, c.Regs.PC)
	}
	c.NextPC = target
	return nil
}

// addr computes a base plus offset effective address wrapped to XLEN.
func (c *ExecContext) addr(base uint8, offset int64) uint64 {
	a := c.Regs.GetX(base) + uint64(offset)
	if c.Regs.XLEN() == 32 {
		a &= 0xFFFFFFFF
	}
	return a
}

// Impl is the semantics of one instruction.
type Impl func(ctx *ExecContext, inst *insts.Instruction) error

// Extension is a named group of instructions.
type Extension interface {
	Name() string
	Entries() []insts.Entry
	Execute(local int, ctx *ExecContext, inst *insts.Instruction) error
}

type def struct {
	entry insts.Entry
	impl  Impl
}

type extension struct {
	name string
	defs []def
}

func (e *extension) Name() string { return e.name }

func (e *extension) Entries() []insts.Entry {
	entries := make([]insts.Entry, len(e.defs))
	for i, d := range e.defs {
		entries[i] = d.entry
	}
	return entries
}

func (e *extension) Execute(local int, ctx *ExecContext, inst *insts.Instruction) error {
	if local < 0 || local >= len(e.defs) {
		return fmt.Errorf("extension %s has no entry %d", e.name, local)
	}
	return e.defs[local].impl(ctx, inst)
}

func newDef(mnemonic string, format insts.Format, opcode uint8, impl Impl) def {
	return def{
		entry: insts.Entry{Mnemonic: mnemonic, Format: format, Opcode: opcode},
		impl:  impl,
	}
}

func rDef(mnemonic string, opcode, funct3, funct7 uint8, impl Impl) def {
	d := newDef(mnemonic, insts.FormatR, opcode, impl)
	d.entry.Funct3 = funct3
	d.entry.Funct2or7 = funct7
	return d.regs(insts.RegGPR, insts.RegGPR, insts.RegGPR, insts.RegUnused)
}

func iDef(mnemonic string, opcode, funct3 uint8, impl Impl) def {
	d := newDef(mnemonic, insts.FormatI, opcode, impl)
	d.entry.Funct3 = funct3
	d.entry.Imm = insts.ImmValue
	return d.regs(insts.RegGPR, insts.RegGPR, insts.RegUnused, insts.RegUnused)
}

func sDef(mnemonic string, opcode, funct3 uint8, impl Impl) def {
	d := newDef(mnemonic, insts.FormatS, opcode, impl)
	d.entry.Funct3 = funct3
	d.entry.Imm = insts.ImmValue
	return d.regs(insts.RegUnused, insts.RegGPR, insts.RegGPR, insts.RegUnused)
}

func bDef(mnemonic string, funct3 uint8, impl Impl) def {
	d := newDef(mnemonic, insts.FormatB, insts.OpBranch, impl)
	d.entry.Funct3 = funct3
	d.entry.Imm = insts.ImmValue
	return d.regs(insts.RegUnused, insts.RegGPR, insts.RegGPR, insts.RegUnused)
}

func uDef(mnemonic string, opcode uint8, impl Impl) def {
	d := newDef(mnemonic, insts.FormatU, opcode, impl)
	d.entry.Imm = insts.ImmValue
	return d.regs(insts.RegGPR, insts.RegUnused, insts.RegUnused, insts.RegUnused)
}

func jDef(mnemonic string, impl Impl) def {
	d := newDef(mnemonic, insts.FormatJ, insts.OpJAL, impl)
	d.entry.Imm = insts.ImmValue
	return d.regs(insts.RegGPR, insts.RegUnused, insts.RegUnused, insts.RegUnused)
}

func r4Def(mnemonic string, opcode, funct2 uint8, impl Impl) def {
	d := newDef(mnemonic, insts.FormatR4, opcode, impl)
	d.entry.Funct2or7 = funct2
	return d.regs(insts.RegFloat, insts.RegFloat, insts.RegFloat, insts.RegFloat).rm()
}

// cDef creates a compressed entry keyed by quadrant and funct3.
func cDef(mnemonic string, format insts.Format, quadrant, funct3 uint8, impl Impl) def {
	d := newDef(mnemonic, format, quadrant, impl)
	d.entry.Compressed = true
	d.entry.Funct3 = funct3
	d.entry.Imm = insts.ImmValue
	return d
}

func (d def) regs(rd, rs1, rs2, rs3 insts.RegClass) def {
	d.entry.RdClass = rd
	d.entry.Rs1Class = rs1
	d.entry.Rs2Class = rs2
	d.entry.Rs3Class = rs3
	return d
}

func (d def) f7(funct7 uint8) def {
	d.entry.Funct2or7 = funct7
	return d
}

func (d def) imm12(v uint16) def {
	d.entry.Imm12 = v
	d.entry.Imm = insts.ImmEncoding
	return d
}

func (d def) fcvt(op uint8) def {
	d.entry.FcvtOp = op
	return d
}

// rm marks the funct3 field as a rounding mode.
func (d def) rm() def {
	d.entry.Funct3 = 0
	d.entry.HasRM = true
	d.entry.RaisesFPE = true
	return d
}

func (d def) fpe() def {
	d.entry.RaisesFPE = true
	return d
}

func (d def) memory() def {
	d.entry.Memory = true
	return d
}

func (d def) cfunct(funct2, funct4, funct6 uint8) def {
	d.entry.Funct2 = funct2
	d.entry.Funct4 = funct4
	d.entry.Funct6 = funct6
	return d
}

func (d def) when(p func(word uint32) bool) def {
	d.entry.Predicate = p
	return d
}

// Extensions returns the extensions enabled by f in table order.
func Extensions(f *feature.Feature) []Extension {
	rv64 := f.IsRV64()

	exts := []Extension{baseInteger(rv64)}
	if f.Has(feature.FlagM) {
		exts = append(exts, multiply(rv64))
	}
	if f.Has(feature.FlagA) {
		exts = append(exts, atomics(rv64))
	}
	if f.Has(feature.FlagF) {
		exts = append(exts, singleFloat(rv64))
	}
	if f.Has(feature.FlagD) {
		exts = append(exts, doubleFloat(rv64))
	}
	if f.Has(feature.FlagZicsr) || f.Has(feature.FlagZicntr) {
		exts = append(exts, csrAccess())
	}
	if f.Has(feature.FlagZifencei) {
		exts = append(exts, fenceI())
	}
	if f.Has(feature.FlagZicond) {
		exts = append(exts, conditionalZero())
	}
	if f.Has(feature.FlagZba) {
		exts = append(exts, addressGen(rv64))
	}
	if f.Has(feature.FlagZbb) {
		exts = append(exts, basicBits(rv64))
	}
	if f.Has(feature.FlagZbs) {
		exts = append(exts, singleBit(rv64))
	}
	if f.HasCompressed() {
		exts = append(exts, compressed(f))
	}
	return exts
}

// BuildTable merges the entries of every enabled extension into a master
// table. Index i of the returned slice is extension id i of the table's
// dispatch records.
func BuildTable(f *feature.Feature) (*insts.Table, []Extension, error) {
	table := insts.NewTable()
	exts := Extensions(f)
	for i, ext := range exts {
		if err := table.Add(i, ext.Entries()); err != nil {
			return nil, nil, fmt.Errorf("failed to add extension %s: %w", ext.Name(), err)
		}
	}
	return table, exts, nil
}

// Exec runs inst against ctx. Floating-point instructions run inside the
// emulated environment and their flags accrue into fcsr. The PC advances
// to ctx.NextPC on success.
func Exec(table *insts.Table, exts []Extension, ctx *ExecContext, inst *insts.Instruction) error {
	d := table.Dispatch(inst.Entry)
	if d.Ext < 0 || d.Ext >= len(exts) {
		return fmt.Errorf("%s: no extension %d", inst.Mnemonic(), d.Ext)
	}

	regs := ctx.Regs
	ctx.NextPC = regs.PC + uint64(inst.Size)
	ctx.ExtraCost = 0

	fpe := inst.Def != nil && inst.Def.RaisesFPE
	if fpe {
		rm := RoundNearestEven
		if inst.Def.HasRM {
			rm = inst.RM
			if rm == RoundDynamic {
				rm = regs.FRM()
			}
		}
		if !ctx.Env.Begin(rm) {
			return &insts.IllegalInstructionError{
				PC: inst.PC, Word: inst.Raw, Opcode: inst.Opcode, Funct3: inst.Funct3,
				Funct2or7: inst.Funct2or7,
			}
		}
	}

	if err := exts[d.Ext].Execute(d.Local, ctx, inst); err != nil {
		return err
	}

	if fpe {
		regs.OrFFlags(ctx.Env.Flags())
	}
	regs.PC = ctx.NextPC
	return nil
}
