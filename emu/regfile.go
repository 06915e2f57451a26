// Package emu provides functional RISC-V execution: register state, the
// floating-point environment, instruction extensions, the ecall layer and
// a stand-alone emulator.
package emu

import "github.com/sarchlab/revsim/insts"

const (
	// boxMask fills the upper half of an FP register holding a single.
	boxMask uint64 = 0xFFFFFFFF00000000
	// canonicalNaN32 is what an improperly boxed single reads as.
	canonicalNaN32 uint32 = 0x7FC00000
)

// FCSR field layout.
const (
	fflagsMask uint32 = 0x1F
	frmShift          = 5
	frmMask    uint32 = 0b111 << frmShift
)

// RegFile is the architectural state of one thread together with its
// scoreboard and in-flight decode bookkeeping.
type RegFile struct {
	xlen int
	boxF bool

	// X holds the integer registers. RV32 values are kept zero-extended.
	X [32]uint64
	// F holds raw floating-point register bits.
	F [32]uint64

	PC   uint64
	FCSR uint32

	busy [4]uint32

	// Cost is the number of cycles left before the next fetch.
	Cost uint32
	// Trigger is set once the in-flight instruction has executed.
	Trigger bool
	// Inst is the in-flight decoded instruction.
	Inst *insts.Instruction
}

// NewRegFile creates a register file. hasD enables NaN boxing of singles.
func NewRegFile(xlen int, hasD bool) *RegFile {
	return &RegFile{xlen: xlen, boxF: hasD}
}

// XLEN returns the integer register width.
func (r *RegFile) XLEN() int { return r.xlen }

// GetX reads an integer register.
func (r *RegFile) GetX(reg uint8) uint64 {
	return r.X[reg&0x1F]
}

// SignedX reads an integer register sign-extended from XLEN.
func (r *RegFile) SignedX(reg uint8) int64 {
	v := r.X[reg&0x1F]
	if r.xlen == 32 {
		return int64(int32(v))
	}
	return int64(v)
}

// SetX writes an integer register. Writes to x0 are dropped.
func (r *RegFile) SetX(reg uint8, v uint64) {
	if reg == 0 {
		return
	}
	if r.xlen == 32 {
		v &= 0xFFFFFFFF
	}
	r.X[reg&0x1F] = v
}

// GetF32 reads a single from an FP register.
func (r *RegFile) GetF32(reg uint8) uint32 {
	v := r.F[reg&0x1F]
	if r.boxF && v&boxMask != boxMask {
		return canonicalNaN32
	}
	return uint32(v)
}

// SetF32 writes a single into an FP register, boxing it when doubles are
// supported.
func (r *RegFile) SetF32(reg uint8, v uint32) {
	raw := uint64(v)
	if r.boxF {
		raw |= boxMask
	}
	r.F[reg&0x1F] = raw
}

// GetF64 reads a double from an FP register.
func (r *RegFile) GetF64(reg uint8) uint64 { return r.F[reg&0x1F] }

// SetF64 writes a double into an FP register.
func (r *RegFile) SetF64(reg uint8, v uint64) { r.F[reg&0x1F] = v }

// FRM returns the dynamic rounding mode.
func (r *RegFile) FRM() uint8 { return uint8((r.FCSR & frmMask) >> frmShift) }

// SetFRM sets the dynamic rounding mode.
func (r *RegFile) SetFRM(rm uint8) {
	r.FCSR = r.FCSR&^frmMask | uint32(rm&0b111)<<frmShift
}

// FFlags returns the accrued exception flags.
func (r *RegFile) FFlags() uint8 { return uint8(r.FCSR & fflagsMask) }

// SetFFlags replaces the accrued exception flags.
func (r *RegFile) SetFFlags(flags uint8) {
	r.FCSR = r.FCSR&^fflagsMask | uint32(flags)&fflagsMask
}

// OrFFlags accrues exception flags.
func (r *RegFile) OrFFlags(flags uint8) {
	r.FCSR |= uint32(flags) & fflagsMask
}

func busyIndex(class insts.RegClass) (int, bool) {
	switch class {
	case insts.RegGPR, insts.RegFloat, insts.RegCSR:
		return int(class), true
	}
	return 0, false
}

// IsBusy reports whether reg of class has a pending write. x0 never does.
func (r *RegFile) IsBusy(class insts.RegClass, reg uint8) bool {
	idx, ok := busyIndex(class)
	if !ok || (class == insts.RegGPR && reg == 0) {
		return false
	}
	return r.busy[idx]&(1<<(reg&0x1F)) != 0
}

// SetBusy marks reg of class as having a pending write.
func (r *RegFile) SetBusy(class insts.RegClass, reg uint8) {
	idx, ok := busyIndex(class)
	if !ok || (class == insts.RegGPR && reg == 0) {
		return
	}
	r.busy[idx] |= 1 << (reg & 0x1F)
}

// ClearBusy clears the pending write of reg.
func (r *RegFile) ClearBusy(class insts.RegClass, reg uint8) {
	idx, ok := busyIndex(class)
	if !ok {
		return
	}
	r.busy[idx] &^= 1 << (reg & 0x1F)
}

// BusyMask returns the scoreboard bits of class.
func (r *RegFile) BusyMask(class insts.RegClass) uint32 {
	idx, ok := busyIndex(class)
	if !ok {
		return 0
	}
	return r.busy[idx]
}

// AnyBusy reports whether any register of any class has a pending write.
func (r *RegFile) AnyBusy() bool {
	for _, b := range r.busy {
		if b != 0 {
			return true
		}
	}
	return false
}

// Clone copies the architectural state into a fresh register file with an
// empty scoreboard and nothing in flight.
func (r *RegFile) Clone() *RegFile {
	c := *r
	c.busy = [4]uint32{}
	c.Cost = 0
	c.Trigger = false
	c.Inst = nil
	return &c
}
