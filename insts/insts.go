// Package insts provides RISC-V instruction metadata tables and decoding.
//
// Extensions contribute Entry slices to a Table. The Table indexes them by
// packed encoding keys so the Decoder can resolve a raw instruction word to
// its entry with a single map lookup before extracting operand fields.
// Both 32-bit standard encodings (R, I, S, U, B, J, R4) and 16-bit compressed
// encodings (CR, CI, CSS, CIW, CL, CS, CA, CB, CJ) are supported.
//
// Usage:
//
//	table := insts.NewTable()
//	_ = table.Add(0, entries)
//	decoder := insts.NewDecoder(table, feat)
//	inst, err := decoder.Decode(0x00000013, pc) // addi x0, x0, 0
package insts
