package insts

// Compressed quadrants.
const (
	quadrant0 uint8 = 0b00
	quadrant1 uint8 = 0b01
	quadrant2 uint8 = 0b10
)

// compressedKey derives the lookup key of a 16-bit word.
func compressedKey(w uint32) uint64 {
	opc := uint8(w & 0b11)
	funct3 := uint8((w >> 13) & 0b111)
	funct4 := uint8((w >> 12) & 0xF)
	funct6 := uint8((w >> 10) & 0x3F)
	funct2 := uint8((w >> 5) & 0b11)

	switch {
	case opc == quadrant2 && funct3 == 0b100:
		// CR: c.jr, c.mv, c.ebreak, c.jalr, c.add
		return CompressedKey(opc, 0, 0, funct4, 0)
	case opc == quadrant1 && funct3 == 0b100 && funct6&0b11 == 0b11:
		// CA: c.sub, c.xor, c.or, c.and, c.subw, c.addw
		return CompressedKey(opc, funct2, 0, 0, funct6)
	case opc == quadrant1 && funct3 == 0b100:
		// CB with bits 11:10 selecting c.srli, c.srai, c.andi
		return CompressedKey(opc, uint8((w>>10)&0b11), funct3, 0, 0)
	default:
		return CompressedKey(opc, 0, funct3, 0, 0)
	}
}

func (d *Decoder) decodeCompressed(h uint16, pc uint64) (*Instruction, error) {
	w := uint32(h)
	opc := uint8(w & 0b11)
	funct3 := uint8((w >> 13) & 0b111)

	illegal := &IllegalInstructionError{PC: pc, Word: w, Opcode: opc, Funct3: funct3}
	if !d.compressed || h == 0 {
		return nil, illegal
	}

	idx, ok := d.table.LookupCompressed(compressedKey(w), w)
	if !ok {
		return nil, illegal
	}

	e := d.table.Entry(idx)
	inst := &Instruction{
		Entry:      idx,
		Def:        e,
		Raw:        w,
		PC:         pc,
		Size:       2,
		Format:     e.Format,
		Compressed: true,
		Opcode:     opc,
		Funct3:     funct3,
		Cost:       e.Cost,
	}

	full := uint8((w >> 7) & 0x1F)  // rd/rs1 in CR, CI
	rs2 := uint8((w >> 2) & 0x1F)   // rs2 in CR, CSS
	rdp := 8 + uint8((w>>2)&0b111)  // rd'/rs2' in CIW, CL, CS, CA
	rs1p := 8 + uint8((w>>7)&0b111) // rs1'/rd' in CL, CS, CA, CB
	const sp, ra, zero = 2, 1, 0

	switch e.Format {
	case FormatCR:
		switch {
		case (w>>12)&1 == 0 && rs2 == 0: // c.jr
			d.setRegs(inst, zero, full, 0, 0)
		case (w>>12)&1 == 0: // c.mv
			d.setRegs(inst, full, zero, rs2, 0)
		case full == 0 && rs2 == 0: // c.ebreak
		case rs2 == 0: // c.jalr
			d.setRegs(inst, ra, full, 0, 0)
		default: // c.add
			d.setRegs(inst, full, full, rs2, 0)
		}
	case FormatCI:
		if opc == quadrant2 && funct3 != 0b000 {
			// stack-relative loads
			d.setRegs(inst, full, sp, 0, 0)
		} else {
			d.setRegs(inst, full, full, 0, 0)
		}
	case FormatCSS:
		d.setRegs(inst, 0, sp, rs2, 0)
	case FormatCIW:
		d.setRegs(inst, rdp, sp, 0, 0)
	case FormatCL:
		d.setRegs(inst, rdp, rs1p, 0, 0)
	case FormatCS:
		d.setRegs(inst, 0, rs1p, rdp, 0)
	case FormatCA:
		d.setRegs(inst, rs1p, rs1p, rdp, 0)
	case FormatCB:
		d.setRegs(inst, rs1p, rs1p, zero, 0)
	case FormatCJ:
		if funct3 == 0b001 { // c.jal
			d.setRegs(inst, ra, 0, 0, 0)
		}
	}

	inst.Imm = d.compressedImm(w, opc, funct3, full)
	return inst, nil
}

// compressedImm assembles the immediate of a 16-bit instruction. The bit
// scatter depends on the specific instruction, not only on the format.
func (d *Decoder) compressedImm(w uint32, opc, funct3, rd uint8) int64 {
	rv64 := d.xlen == 64

	switch opc {
	case quadrant0:
		switch funct3 {
		case 0b000: // c.addi4spn
			return int64((w>>7)&0x30 | (w>>1)&0x3C0 | (w>>4)&0x4 | (w>>2)&0x8)
		case 0b001, 0b101: // c.fld, c.fsd
			return int64(dwordOffset(w))
		case 0b010, 0b110: // c.lw, c.sw
			return int64(wordOffset(w))
		case 0b011, 0b111: // c.ld, c.sd on RV64; c.flw, c.fsw on RV32
			if rv64 {
				return int64(dwordOffset(w))
			}
			return int64(wordOffset(w))
		}

	case quadrant1:
		switch funct3 {
		case 0b000, 0b010: // c.addi, c.li
			return ciImm(w)
		case 0b001: // c.addiw on RV64, c.jal on RV32
			if rv64 {
				return ciImm(w)
			}
			return cjImm(w)
		case 0b011:
			if rd == 2 { // c.addi16sp
				imm := (w>>3)&0x200 |
					(w>>2)&0x10 |
					(w<<1)&0x40 |
					(w<<4)&0x180 |
					(w<<3)&0x20
				return signExtend(uint64(imm), 10)
			}
			// c.lui
			return signExtend(uint64((w<<5)&0x20000|(w<<10)&0x1F000), 18)
		case 0b100:
			if (w>>10)&0b11 == 0b10 { // c.andi
				return ciImm(w)
			}
			return int64(shamt(w))
		case 0b101: // c.j
			return cjImm(w)
		case 0b110, 0b111: // c.beqz, c.bnez
			imm := (w>>4)&0x100 |
				(w>>7)&0x18 |
				(w<<1)&0xC0 |
				(w>>2)&0x6 |
				(w<<3)&0x20
			return signExtend(uint64(imm), 9)
		}

	case quadrant2:
		switch funct3 {
		case 0b000: // c.slli
			return int64(shamt(w))
		case 0b001: // c.fldsp
			return int64(dwordSPLoad(w))
		case 0b010: // c.lwsp
			return int64(wordSPLoad(w))
		case 0b011: // c.ldsp on RV64, c.flwsp on RV32
			if rv64 {
				return int64(dwordSPLoad(w))
			}
			return int64(wordSPLoad(w))
		case 0b101: // c.fsdsp
			return int64(dwordSPStore(w))
		case 0b110: // c.swsp
			return int64(wordSPStore(w))
		case 0b111: // c.sdsp on RV64, c.fswsp on RV32
			if rv64 {
				return int64(dwordSPStore(w))
			}
			return int64(wordSPStore(w))
		}
	}
	return 0
}

// ciImm is the 6-bit signed immediate imm[5] = w[12], imm[4:0] = w[6:2].
func ciImm(w uint32) int64 {
	return signExtend(uint64((w>>7)&0x20|(w>>2)&0x1F), 6)
}

// shamt is the unsigned 6-bit shift amount of c.slli, c.srli, c.srai.
func shamt(w uint32) uint32 {
	return (w>>7)&0x20 | (w>>2)&0x1F
}

// cjImm is the 12-bit jump offset imm[11|4|9:8|10|6|7|3:1|5].
func cjImm(w uint32) int64 {
	imm := (w>>1)&0x800 |
		(w>>7)&0x10 |
		(w>>1)&0x300 |
		(w<<2)&0x400 |
		(w>>1)&0x40 |
		(w<<1)&0x80 |
		(w>>2)&0xE |
		(w<<3)&0x20
	return signExtend(uint64(imm), 12)
}

// wordOffset is uimm[5:3] = w[12:10], uimm[2] = w[6], uimm[6] = w[5].
func wordOffset(w uint32) uint32 {
	return (w>>7)&0x38 | (w>>4)&0x4 | (w<<1)&0x40
}

// dwordOffset is uimm[5:3] = w[12:10], uimm[7:6] = w[6:5].
func dwordOffset(w uint32) uint32 {
	return (w>>7)&0x38 | (w<<1)&0xC0
}

// wordSPLoad is uimm[5] = w[12], uimm[4:2] = w[6:4], uimm[7:6] = w[3:2].
func wordSPLoad(w uint32) uint32 {
	return (w>>7)&0x20 | (w>>2)&0x1C | (w<<4)&0xC0
}

// dwordSPLoad is uimm[5] = w[12], uimm[4:3] = w[6:5], uimm[8:6] = w[4:2].
func dwordSPLoad(w uint32) uint32 {
	return (w>>7)&0x20 | (w>>2)&0x18 | (w<<4)&0x1C0
}

// wordSPStore is uimm[5:2] = w[12:9], uimm[7:6] = w[8:7].
func wordSPStore(w uint32) uint32 {
	return (w>>7)&0x3C | (w>>1)&0xC0
}

// dwordSPStore is uimm[5:3] = w[12:10], uimm[8:6] = w[9:7].
func dwordSPStore(w uint32) uint32 {
	return (w>>7)&0x38 | (w>>1)&0x1C0
}
