package insts

import (
	"fmt"

	"github.com/sarchlab/revsim/feature"
)

// Major opcodes referenced by the key builder and the field extractors.
const (
	OpLoad    uint8 = 0b0000011
	OpLoadFP  uint8 = 0b0000111
	OpMiscMem uint8 = 0b0001111
	OpImm     uint8 = 0b0010011
	OpAUIPC   uint8 = 0b0010111
	OpImm32   uint8 = 0b0011011
	OpStore   uint8 = 0b0100011
	OpStoreFP uint8 = 0b0100111
	OpAMO     uint8 = 0b0101111
	OpOp      uint8 = 0b0110011
	OpLUI     uint8 = 0b0110111
	OpOp32    uint8 = 0b0111011
	OpMAdd    uint8 = 0b1000011
	OpMSub    uint8 = 0b1000111
	OpNMSub   uint8 = 0b1001011
	OpNMAdd   uint8 = 0b1001111
	OpFP      uint8 = 0b1010011
	OpBranch  uint8 = 0b1100011
	OpJALR    uint8 = 0b1100111
	OpJAL     uint8 = 0b1101111
	OpSystem  uint8 = 0b1110011
)

// fcvtFunct7 lists the OP-FP funct7 values whose rs2 field selects the
// conversion variant.
var fcvtFunct7 = map[uint8]bool{
	0b1100000: true, // fcvt.{w,wu,l,lu}.s
	0b1101000: true, // fcvt.s.{w,wu,l,lu}
	0b0100000: true, // fcvt.s.d
	0b0100001: true, // fcvt.d.s
	0b1100001: true, // fcvt.{w,wu,l,lu}.d
	0b1101001: true, // fcvt.d.{w,wu,l,lu}
}

// IllegalInstructionError reports an encoding with no table entry.
type IllegalInstructionError struct {
	PC        uint64
	Word      uint32
	Opcode    uint8
	Funct3    uint8
	Funct2or7 uint8
	Imm12     uint16
	FcvtOp    uint8
}

func (e *IllegalInstructionError) Error() string {
	return fmt.Sprintf("illegal instruction 0x%08x at pc 0x%x "+
		"(opcode=0b%07b funct3=0b%03b funct2or7=0b%07b imm12=0x%03x fcvtOp=%d)",
		e.Word, e.PC, e.Opcode, e.Funct3, e.Funct2or7, e.Imm12, e.FcvtOp)
}

// Decoder decodes raw instruction words against a Table.
type Decoder struct {
	table      *Table
	xlen       int
	compressed bool
}

// NewDecoder creates a decoder for the given table and feature set.
func NewDecoder(table *Table, f *feature.Feature) *Decoder {
	return &Decoder{
		table:      table,
		xlen:       f.XLEN(),
		compressed: f.HasCompressed(),
	}
}

// Table returns the table the decoder resolves against.
func (d *Decoder) Table() *Table { return d.table }

// IsCompressed reports whether word starts with a 16-bit instruction.
func IsCompressed(word uint32) bool {
	return word&0b11 != 0b11
}

// Decode decodes the instruction starting in the low bits of word.
func (d *Decoder) Decode(word uint32, pc uint64) (*Instruction, error) {
	if IsCompressed(word) {
		return d.decodeCompressed(uint16(word), pc)
	}
	return d.decodeStandard(word, pc)
}

// standardKey derives the lookup fields of a 32-bit word. Which funct bits
// take part in the key depends on the opcode group and, for immediate
// shifts, on xlen.
func standardKey(w uint32, xlen int) (opcode, funct3, funct2or7 uint8, imm12 uint16, fcvtOp uint8) {
	opcode = uint8(w & 0x7F)
	funct3 = uint8((w >> 12) & 0b111)
	inst42 := (w >> 2) & 0b111
	inst65 := (w >> 5) & 0b11

	// U and J formats have no funct3.
	if inst42 == 0b101 || (inst65 == 0b11 && inst42 == 0b011) {
		funct3 = 0
	}

	switch {
	case inst65 == 0b01 && (inst42 == 0b011 || inst42 == 0b100 || inst42 == 0b110):
		funct2or7 = uint8((w >> 25) & 0x7F)
		if opcode == OpAMO {
			funct2or7 = (funct2or7 & 0b1111100) >> 2
		}
	case inst65 == 0b10 && inst42 < 0b100:
		funct2or7 = uint8((w >> 25) & 0b11)
	case inst65 == 0b10 && inst42 == 0b100:
		funct2or7 = uint8((w >> 25) & 0x7F)
	case inst65 == 0b00 && inst42 == 0b110 && funct3 != 0:
		funct2or7 = uint8((w >> 25) & 0x7F)
		if funct3 == 0b001 && funct2or7>>1 == 0b000010 {
			// slli.uw carries a 6-bit shamt.
			funct2or7 >>= 1
		}
	case inst65 == 0b00 && inst42 == 0b100 && (funct3 == 0b001 || funct3 == 0b101):
		if xlen == 32 {
			funct2or7 = uint8((w >> 25) & 0x7F)
		} else {
			funct2or7 = uint8((w >> 26) & 0x3F)
		}
	}

	if unaryImm(w, opcode, funct3) {
		imm12 = uint16(w >> 20)
	}

	if opcode == OpFP && fcvtFunct7[funct2or7] {
		fcvtOp = uint8((w >> 20) & 0x1F)
	}

	if opcode == OpSystem && funct3 == 0 {
		imm12 = uint16(w >> 20)
	}

	return opcode, funct3, funct2or7, imm12, fcvtOp
}

// unaryImm reports whether the upper twelve bits of w select a
// single-operand bit-manipulation operation rather than an immediate.
func unaryImm(w uint32, opcode, funct3 uint8) bool {
	hi := w >> 20
	switch {
	case (opcode == OpImm || opcode == OpImm32) && funct3 == 0b001:
		return hi>>5 == 0b0110000
	case opcode == OpImm && funct3 == 0b101:
		return hi == 0x287 || hi == 0x698 || hi == 0x6B8
	case (opcode == OpOp || opcode == OpOp32) && funct3 == 0b100:
		return hi>>5 == 0b0000100
	}
	return false
}

func (d *Decoder) decodeStandard(w uint32, pc uint64) (*Instruction, error) {
	opcode, funct3, funct2or7, imm12, fcvtOp := standardKey(w, d.xlen)

	idx, ok := d.table.Lookup(EncodingKey(opcode, funct3, funct2or7, imm12, fcvtOp))
	if !ok && funct3 != 0 {
		// Rounding-mode instructions are registered with funct3 == 0.
		if alt, found := d.table.Lookup(EncodingKey(opcode, 0, funct2or7, imm12, fcvtOp)); found &&
			d.table.Entry(alt).HasRM {
			idx, ok = alt, true
		}
	}
	if !ok {
		return nil, &IllegalInstructionError{
			PC: pc, Word: w, Opcode: opcode, Funct3: funct3,
			Funct2or7: funct2or7, Imm12: imm12, FcvtOp: fcvtOp,
		}
	}

	e := d.table.Entry(idx)
	inst := &Instruction{
		Entry:     idx,
		Def:       e,
		Raw:       w,
		PC:        pc,
		Size:      4,
		Format:    e.Format,
		Opcode:    opcode,
		Funct3:    funct3,
		Funct2or7: funct2or7,
		Imm12:     uint16(w >> 20),
		Cost:      e.Cost,
	}

	rd := uint8((w >> 7) & 0x1F)
	rs1 := uint8((w >> 15) & 0x1F)
	rs2 := uint8((w >> 20) & 0x1F)

	switch e.Format {
	case FormatR:
		d.setRegs(inst, rd, rs1, rs2, 0)
		if opcode == OpAMO {
			inst.Aq = (w>>26)&1 == 1
			inst.Rl = (w>>25)&1 == 1
		}
	case FormatI:
		d.setRegs(inst, rd, rs1, 0, 0)
		inst.Imm = signExtend(uint64(w>>20), 12)
	case FormatS:
		d.setRegs(inst, 0, rs1, rs2, 0)
		inst.Imm = signExtend(uint64((w>>25)<<5|(w>>7)&0x1F), 12)
	case FormatB:
		d.setRegs(inst, 0, rs1, rs2, 0)
		imm := (w>>31)<<12 |
			((w>>7)&0x1)<<11 |
			((w>>25)&0x3F)<<5 |
			((w>>8)&0xF)<<1
		inst.Imm = signExtend(uint64(imm), 13)
	case FormatU:
		d.setRegs(inst, rd, 0, 0, 0)
		inst.Imm = signExtend(uint64(w&0xFFFFF000), 32)
	case FormatJ:
		d.setRegs(inst, rd, 0, 0, 0)
		imm := (w>>31)<<20 |
			((w>>12)&0xFF)<<12 |
			((w>>20)&0x1)<<11 |
			((w>>21)&0x3FF)<<1
		inst.Imm = signExtend(uint64(imm), 21)
	case FormatR4:
		d.setRegs(inst, rd, rs1, rs2, uint8(w>>27))
	}

	if e.HasRM {
		inst.RM = uint8((w >> 12) & 0b111)
	}

	return inst, nil
}

// setRegs copies register fields into inst for the slots the entry uses.
func (d *Decoder) setRegs(inst *Instruction, rd, rs1, rs2, rs3 uint8) {
	e := inst.Def
	if e.RdClass != RegUnused {
		inst.Rd = rd
	}
	if e.Rs1Class != RegUnused {
		inst.Rs1 = rs1
	}
	if e.Rs2Class != RegUnused {
		inst.Rs2 = rs2
	}
	if e.Rs3Class != RegUnused {
		inst.Rs3 = rs3
	}
}

// signExtend sign-extends the low bits of v.
func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}
