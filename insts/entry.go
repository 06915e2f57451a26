package insts

import "strings"

// RegClass identifies which register file an operand slot reads or writes.
type RegClass uint8

// Register classes.
const (
	RegUnused RegClass = iota
	RegGPR
	RegFloat
	RegCSR
)

// ImmKind describes how an entry uses its immediate field.
type ImmKind uint8

// Immediate kinds.
const (
	ImmNone     ImmKind = iota
	ImmValue            // the immediate is an operand
	ImmEncoding         // the immediate is part of the encoding key
)

// Format represents an instruction encoding format.
type Format uint8

// Instruction formats.
const (
	FormatUnknown Format = iota
	FormatR
	FormatI
	FormatS
	FormatU
	FormatB
	FormatJ
	FormatR4
	FormatCR
	FormatCI
	FormatCSS
	FormatCIW
	FormatCL
	FormatCS
	FormatCA
	FormatCB
	FormatCJ
)

var formatNames = [...]string{
	"unknown", "R", "I", "S", "U", "B", "J", "R4",
	"CR", "CI", "CSS", "CIW", "CL", "CS", "CA", "CB", "CJ",
}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// DefaultCost is the cost of an entry that does not set one.
const DefaultCost uint32 = 1

// Entry is the metadata for one instruction.
type Entry struct {
	// Mnemonic is the assembly template, e.g. "addi %rd, %rs1, $imm".
	Mnemonic string
	// Cost is the number of cycles before the instruction retires.
	Cost uint32

	Opcode    uint8
	Funct3    uint8
	Funct2or7 uint8
	Imm12     uint16
	FcvtOp    uint8

	// Compressed-only key fields.
	Funct2 uint8
	Funct4 uint8
	Funct6 uint8

	Compressed bool
	Format     Format

	RdClass  RegClass
	Rs1Class RegClass
	Rs2Class RegClass
	Rs3Class RegClass
	Imm      ImmKind

	// HasRM marks entries whose funct3 field is a rounding mode.
	HasRM bool
	// RaisesFPE marks entries that run inside the floating-point environment.
	RaisesFPE bool
	// Memory marks loads, stores and atomics.
	Memory bool

	// Predicate disambiguates compressed entries sharing a key.
	Predicate func(word uint32) bool
}

// Name returns the first token of the mnemonic.
func (e *Entry) Name() string {
	name, _, _ := strings.Cut(e.Mnemonic, " ")
	return name
}

// Key returns the packed encoding key the entry is indexed by.
func (e *Entry) Key() uint64 {
	if e.Compressed {
		return CompressedKey(e.Opcode, e.Funct2, e.Funct3, e.Funct4, e.Funct6)
	}
	return EncodingKey(e.Opcode, e.Funct3, e.Funct2or7, e.Imm12, e.FcvtOp)
}

// EncodingKey packs the fields that identify a 32-bit instruction.
func EncodingKey(opcode, funct3, funct2or7 uint8, imm12 uint16, fcvtOp uint8) uint64 {
	return uint64(opcode) |
		uint64(funct3)<<8 |
		uint64(funct2or7)<<11 |
		uint64(imm12)<<18 |
		uint64(fcvtOp)<<30
}

// CompressedKey packs the fields that identify a 16-bit instruction.
func CompressedKey(opc, funct2, funct3, funct4, funct6 uint8) uint64 {
	return uint64(opc) |
		uint64(funct2)<<2 |
		uint64(funct3)<<4 |
		uint64(funct4)<<8 |
		uint64(funct6)<<12
}

// Instruction is a decoded instruction.
type Instruction struct {
	// Entry is the master table index.
	Entry int
	// Def is the metadata the instruction was decoded against.
	Def *Entry

	Raw  uint32
	PC   uint64
	Size uint8

	Format     Format
	Compressed bool

	Opcode    uint8
	Funct3    uint8
	Funct2or7 uint8

	Rd  uint8
	Rs1 uint8
	Rs2 uint8
	Rs3 uint8

	// Imm is the sign-extended (or, for compressed forms, scaled) immediate.
	Imm int64
	// Imm12 is the raw bits 31:20, used as the CSR address.
	Imm12 uint16

	RM uint8
	Aq bool
	Rl bool

	Cost uint32
}

// Mnemonic returns the short instruction name.
func (i *Instruction) Mnemonic() string {
	if i.Def == nil {
		return "unknown"
	}
	return i.Def.Name()
}
