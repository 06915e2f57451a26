package core

import (
	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/timing/prefetch"
)

// SwitchState tracks a pending context switch on a hart.
type SwitchState uint8

// Context switch states.
const (
	SwitchNormal SwitchState = iota
	SwitchRequested
	SwitchDraining
)

func (s SwitchState) String() string {
	switch s {
	case SwitchNormal:
		return "normal"
	case SwitchRequested:
		return "requested"
	case SwitchDraining:
		return "draining"
	}
	return "unknown"
}

// Hart is one hardware thread context of a core.
type Hart struct {
	id    int
	local int

	thread   *emu.Thread
	switchTo *emu.Thread
	switchSt SwitchState

	prefetch *prefetch.Prefetcher
}

// ID returns the global hart number.
func (h *Hart) ID() int { return h.id }

// Thread returns the bound thread, or nil.
func (h *Hart) Thread() *emu.Thread { return h.thread }

// SwitchState returns the context switch state.
func (h *Hart) SwitchState() SwitchState { return h.switchSt }

// Prefetcher returns the hart's instruction prefetcher.
func (h *Hart) Prefetcher() *prefetch.Prefetcher { return h.prefetch }

// Idle reports whether the hart has no thread and no switch in progress.
func (h *Hart) Idle() bool {
	return h.thread == nil && h.switchSt == SwitchNormal
}

// requestSwitch schedules the swap of the bound thread for next. A nil
// next leaves the hart idle.
func (h *Hart) requestSwitch(next *emu.Thread) {
	h.switchTo = next
	h.switchSt = SwitchRequested
}
