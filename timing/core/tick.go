package core

import (
	"fmt"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/insts"
)

const regA0 = 10

// ClockTick advances the core by one cycle. It returns whether the core
// still has work. Errors are fatal to the run.
func (c *Core) ClockTick(cycle uint64) (bool, error) {
	if c.halted {
		return false, nil
	}
	c.cycle = cycle
	c.stats.Cycles++

	c.retireHead()
	c.injectFaults(cycle)
	for _, h := range c.harts {
		h.prefetch.Tick()
	}
	c.advanceSwitches()

	executed := false
	n := len(c.harts)
	for i := 0; i < n; i++ {
		h := c.harts[(c.next+i)%n]
		did, err := c.tickHart(h, !executed)
		if err != nil {
			return false, fmt.Errorf("core %d hart %d: %w", c.config.ID, h.id, err)
		}
		executed = executed || did
	}
	c.next = (c.next + 1) % n

	if !executed {
		c.stats.CyclesIdleTotal++
	}
	return !c.halted && !c.HasNoWork(), nil
}

// retireHead ages the oldest queued write and pops every completed entry
// at the head.
func (c *Core) retireHead() {
	if len(c.retire) == 0 {
		return
	}
	if c.retire[0].cost > 0 {
		c.retire[0].cost--
	}
	for len(c.retire) > 0 && c.retire[0].cost == 0 {
		e := c.retire[0]
		e.regs.ClearBusy(e.class, e.rd)
		c.retire = c.retire[1:]
	}
}

func (c *Core) injectFaults(cycle uint64) {
	if c.faults == nil {
		return
	}
	switch c.faults.Tick(cycle) {
	case emu.FaultMem:
		c.memory.InjectFault(c.faults.Width())
		c.logger.Info("fault injected", "kind", "mem", "cycle", cycle)
	case emu.FaultReg:
		for _, h := range c.harts {
			if h.thread != nil {
				reg := c.faults.CorruptRegister(h.thread.Regs)
				c.logger.Info("fault injected", "kind", "reg", "cycle", cycle,
					"hart", h.id, "reg", reg)
				break
			}
		}
	case emu.FaultCrack:
		c.logger.Info("fault armed", "kind", "crack", "cycle", cycle)
	case emu.FaultALU:
		c.logger.Info("fault armed", "kind", "alu", "cycle", cycle)
	}
}

func (c *Core) queued(tid uint32) bool {
	for _, e := range c.retire {
		if e.tid == tid {
			return true
		}
	}
	return false
}

func (c *Core) advanceSwitches() {
	for _, h := range c.harts {
		if h.switchSt == SwitchRequested {
			h.switchSt = SwitchDraining
		}
		if h.switchSt == SwitchDraining && !c.queued(h.thread.ID) {
			c.swap(h)
		}
	}
}

// swap replaces the outgoing thread of h. The incoming thread is reported
// before the outgoing one.
func (c *Core) swap(h *Hart) {
	out, in := h.thread, h.switchTo
	out.Regs.Inst = nil
	out.Regs.Cost = 0
	out.Regs.Trigger = false

	h.thread, h.switchTo, h.switchSt = in, nil, SwitchNormal

	attrs := []any{"core", c.config.ID, "hart", h.id, "from", out.ID, "state", out.State}
	if in != nil {
		c.stats.ContextSwitches++
		in.State = emu.ThreadRunning
		c.threads[in.ID] = in
		c.changes = append(c.changes, in)
		attrs = append(attrs, "to", in.ID)
	}
	c.changes = append(c.changes, out)
	c.logger.Debug("context switch", attrs...)
}

// tickHart fetches, issues and, if allowed, executes on h. It reports
// whether h used the execute slot.
func (c *Core) tickHart(h *Hart, canExec bool) (bool, error) {
	t := h.thread
	if t == nil || h.switchSt != SwitchNormal {
		return false, nil
	}
	regs := t.Regs

	if regs.Inst == nil {
		if c.config.FirmwareJump != 0 && regs.PC == c.config.FirmwareJump {
			c.stats.SpinCycles++
			return false, nil
		}
		if regs.PC == 0 {
			if !regs.AnyBusy() {
				c.exitThread(h, regs.SignedX(regA0), false)
			}
			return false, nil
		}

		inst, ok, err := c.fetch(h, regs.PC)
		if err != nil || !ok {
			return false, err
		}
		if hasHazard(regs, inst) {
			c.stats.CyclesIdlePipeline++
			return false, nil
		}
		regs.Inst = inst
		regs.Cost = max(inst.Cost, 1)
		regs.Trigger = false
	}

	executed := false
	if !regs.Trigger {
		if !canExec {
			return false, nil
		}
		if err := c.execute(h, t, regs.Inst); err != nil {
			return false, err
		}
		regs.Trigger = true
		executed = true
	}

	if regs.Cost > 0 {
		regs.Cost--
	}
	if regs.Cost == 0 {
		regs.Inst = nil
		regs.Trigger = false
	}
	return executed, nil
}

func (c *Core) fetch(h *Hart, pc uint64) (*insts.Instruction, bool, error) {
	word, ok, err := h.prefetch.IsAvail(pc)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		c.stats.FetchStalls++
		return nil, false, nil
	}
	if c.faults != nil {
		if cracked := c.faults.CrackWord(word); cracked != word {
			c.logger.Info("fault injected", "kind", "crack", "pc", fmt.Sprintf("0x%x", pc),
				"word", fmt.Sprintf("0x%08x", word), "cracked", fmt.Sprintf("0x%08x", cracked))
			word = cracked
		}
	}
	inst, err := c.decoder.Decode(word, pc)
	if err != nil {
		return nil, false, err
	}
	return inst, true, nil
}

func (c *Core) execute(h *Hart, t *emu.Thread, inst *insts.Instruction) error {
	regs := t.Regs

	var res emu.SyscallResult
	ctx := &emu.ExecContext{
		Feature: c.feature,
		Regs:    regs,
		Mem:     c.memory,
		Hart:    h.id,
		Cycle:   c.cycle,
		Time:    c.cycle,
		Instret: c.stats.Retired,
		Logger:  c.logger,
		Ecall: func(ctx *emu.ExecContext) error {
			r, err := c.syscalls.Handle(&emu.SyscallCall{Ctx: ctx, Thread: t, Env: c.env, PC: inst.PC})
			res = r
			return err
		},
		FenceI: c.invalidateFetch,
	}
	if c.memCost != nil {
		ctx.MemCost = c.memCost.RandCost
	}

	if err := emu.Exec(c.table, c.exts, ctx, inst); err != nil {
		return err
	}
	regs.Cost += ctx.ExtraCost
	c.stats.Retired++
	if touchesFloat(inst) {
		c.stats.FloatsExec++
	}

	if c.faults != nil && inst.Def.RdClass != insts.RegUnused &&
		c.faults.CorruptResult(regs, inst.Def.RdClass, inst.Rd) {
		c.logger.Info("fault injected", "kind", "alu", "hart", h.id, "rd", inst.Rd)
	}

	if c.tracer != nil {
		c.tracer.Trace(TraceRecord{
			Cycle: c.cycle, Core: c.config.ID, Hart: h.id, TID: t.ID,
			PC: inst.PC, Raw: inst.Raw, Size: inst.Size, Mnemonic: inst.Mnemonic(),
		})
	}

	switch {
	case res.Exited:
		c.exitThread(h, res.ExitCode, res.ExitGroup)
	case res.NewThread != nil:
		child := res.NewThread
		c.threads[child.ID] = child
		t.State = emu.ThreadBlocked
		t.WaitingToJoinTID = child.ID
		h.requestSwitch(child)
	case res.JoinTID != 0:
		t.State = emu.ThreadBlocked
		t.WaitingToJoinTID = res.JoinTID
		h.requestSwitch(nil)
	}

	if h.switchSt == SwitchNormal && writesRd(inst) {
		regs.SetBusy(inst.Def.RdClass, inst.Rd)
		c.retire = append(c.retire, retireEntry{
			hart: h.id, tid: t.ID, regs: regs,
			class: inst.Def.RdClass, rd: inst.Rd, cost: regs.Cost,
		})
	}
	return nil
}

// exitThread finishes the thread on h. A parent waiting on it takes over
// the hart.
func (c *Core) exitThread(h *Hart, code int64, group bool) {
	t := h.thread
	t.State = emu.ThreadDone
	t.ExitCode = code
	c.syscalls.RecordExit(t)
	if t.OwnsStack {
		c.memory.RemoveThreadMem(t.StackHandle)
	}

	c.logger.Debug("thread exited", "core", c.config.ID, "hart", h.id, "tid", t.ID, "code", code)

	if group || t.IsRoot() {
		c.drainRetire()
		c.halted = true
		c.exitCode = code
		h.requestSwitch(nil)
		c.swap(h)
		return
	}

	// A parent still held by a hart is woken by the driver once both
	// changes are transferred.
	var next *emu.Thread
	if p, ok := c.threads[t.ParentID]; ok && !c.bound(p.ID) &&
		p.State == emu.ThreadBlocked && p.WaitingToJoinTID == t.ID {
		p.WaitingToJoinTID = 0
		next = p
	}
	h.requestSwitch(next)
}

// bound reports whether tid is the thread of a hart or the target of a
// pending switch.
func (c *Core) bound(tid uint32) bool {
	for _, h := range c.harts {
		if (h.thread != nil && h.thread.ID == tid) || (h.switchTo != nil && h.switchTo.ID == tid) {
			return true
		}
	}
	return false
}

// drainRetire completes every queued write.
func (c *Core) drainRetire() {
	for _, e := range c.retire {
		e.regs.ClearBusy(e.class, e.rd)
		c.stats.DrainedWrites++
	}
	c.retire = c.retire[:0]
}
