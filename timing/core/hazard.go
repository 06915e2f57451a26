package core

import (
	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/insts"
)

// ecallArgs are a0 through a7, read by the ecall layer.
var ecallArgs = [...]uint8{10, 11, 12, 13, 14, 15, 16, 17}

// hasHazard reports whether inst reads or writes a register with a pending
// write in regs.
func hasHazard(regs *emu.RegFile, inst *insts.Instruction) bool {
	d := inst.Def
	switch {
	case regs.IsBusy(d.Rs1Class, inst.Rs1),
		regs.IsBusy(d.Rs2Class, inst.Rs2),
		regs.IsBusy(d.Rs3Class, inst.Rs3),
		regs.IsBusy(d.RdClass, inst.Rd):
		return true
	}

	if isEcall(inst) {
		for _, r := range ecallArgs {
			if regs.IsBusy(insts.RegGPR, r) {
				return true
			}
		}
	}
	return false
}

func isEcall(inst *insts.Instruction) bool {
	return inst.Def.Name() == "ecall"
}

// writesRd reports whether inst has a destination tracked by the
// scoreboard.
func writesRd(inst *insts.Instruction) bool {
	d := inst.Def
	if d.RdClass == insts.RegUnused {
		return false
	}
	return !(d.RdClass == insts.RegGPR && inst.Rd == 0)
}

func touchesFloat(inst *insts.Instruction) bool {
	d := inst.Def
	return d.RdClass == insts.RegFloat || d.Rs1Class == insts.RegFloat ||
		d.Rs2Class == insts.RegFloat || d.Rs3Class == insts.RegFloat
}
