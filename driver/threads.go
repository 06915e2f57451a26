package driver

import (
	"fmt"
	"slices"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/loader"
	"github.com/sarchlab/revsim/mem"
)

const (
	regSP = 2
	regGP = 3
	regTP = 4
	regA0 = 10
	regA1 = 11
)

// Spawn creates a READY thread at pc on a fresh stack.
func (d *Driver) Spawn(pc uint64, parent uint32) (*emu.Thread, error) {
	seg, h, err := d.memory.AddThreadMem()
	if err != nil {
		return nil, fmt.Errorf("failed to allocate thread stack: %w", err)
	}

	regs := emu.NewRegFile(d.feature.XLEN(), d.feature.Has(feature.FlagD))
	regs.PC = pc
	regs.SetX(regSP, mem.StackPointer(seg))
	regs.SetX(regTP, mem.ThreadPointer(seg))

	t := emu.NewThread(d.tids.Next(), parent, regs)
	t.Stack, t.StackHandle, t.OwnsStack = seg, h, true
	t.State = emu.ThreadReady

	d.threads[t.ID] = t
	d.ready = append(d.ready, t)
	d.logger.Debug("thread spawned", "tid", t.ID, "parent", parent, "pc", fmt.Sprintf("0x%x", pc))
	return t, nil
}

// Boot loads prog and spawns its root thread with argv on the stack. a0 and
// a1 hold argc and argv, and gp is set from the global pointer symbol.
func (d *Driver) Boot(prog *loader.Program, argv []string) (*emu.Thread, error) {
	if prog.XLEN != d.feature.XLEN() {
		return nil, fmt.Errorf("program is RV%d but the machine is RV%d", prog.XLEN, d.feature.XLEN())
	}
	if err := prog.LoadInto(d.memory); err != nil {
		return nil, err
	}

	t, err := d.Spawn(prog.EntryPoint, 0)
	if err != nil {
		return nil, err
	}
	sp, err := prog.SetupStack(d.memory, t.Regs.GetX(regSP), argv)
	if err != nil {
		return nil, err
	}

	regs := t.Regs
	regs.SetX(regSP, sp)
	regs.SetX(regA0, uint64(len(argv)))
	regs.SetX(regA1, sp+uint64(prog.XLEN/8))
	if gp, ok := prog.Symbol(loader.GlobalPointerSymbol); ok {
		regs.SetX(regGP, gp)
	}
	return t, nil
}

// Alive implements emu.ThreadEnv across every core.
func (d *Driver) Alive(tid uint32) bool {
	t, ok := d.threads[tid]
	return ok && t.State != emu.ThreadDone
}

// LiveChild implements emu.ThreadEnv across every core.
func (d *Driver) LiveChild(parent uint32) (uint32, bool) {
	var best uint32
	for id, t := range d.threads {
		if t.ParentID == parent && t.State != emu.ThreadDone && (best == 0 || id < best) {
			best = id
		}
	}
	return best, best != 0
}

// transfer applies the state changes reported by a core.
func (d *Driver) transfer(changes []*emu.Thread) {
	for _, t := range changes {
		d.ready = slices.DeleteFunc(d.ready, func(x *emu.Thread) bool { return x == t })
		d.blocked = slices.DeleteFunc(d.blocked, func(x *emu.Thread) bool { return x == t })
		d.threads[t.ID] = t

		switch t.State {
		case emu.ThreadReady:
			d.ready = append(d.ready, t)
		case emu.ThreadBlocked:
			if d.Alive(t.WaitingToJoinTID) {
				d.blocked = append(d.blocked, t)
			} else {
				d.wake(t)
			}
		case emu.ThreadDone:
			delete(d.threads, t.ID)
			d.unblock(t.ID)
		}
	}
}

// unblock wakes every thread joining tid.
func (d *Driver) unblock(tid uint32) {
	var still []*emu.Thread
	for _, t := range d.blocked {
		if t.WaitingToJoinTID == tid {
			d.wake(t)
			continue
		}
		still = append(still, t)
	}
	d.blocked = still
}

func (d *Driver) wake(t *emu.Thread) {
	t.State = emu.ThreadReady
	t.WaitingToJoinTID = 0
	d.ready = append(d.ready, t)
}

// assign places READY threads on idle harts, lowest core first.
func (d *Driver) assign() {
	for len(d.ready) > 0 {
		placed := false
		for _, c := range d.cores {
			i, ok := c.FindIdleHart()
			if !ok {
				continue
			}
			t := d.ready[0]
			d.ready = d.ready[1:]
			for _, other := range d.cores {
				if other != c {
					other.EvictThread(t.ID)
				}
			}
			if err := c.AssignThread(i, t); err != nil {
				d.stop(err)
				return
			}
			placed = true
			break
		}
		if !placed {
			return
		}
	}
}
