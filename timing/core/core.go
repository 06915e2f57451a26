// Package core provides the cycle-level execution engine of one RISC-V core.
// A core holds several harts. Each tick every hart may fetch and decode,
// exactly one hart executes, and a shared FIFO retires register writes.
package core

import (
	"fmt"
	"log/slog"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/insts"
	"github.com/sarchlab/revsim/mem"
	"github.com/sarchlab/revsim/timing/latency"
	"github.com/sarchlab/revsim/timing/prefetch"
)

// Config sets the shape of a Core.
type Config struct {
	// ID identifies the core in logs and errors.
	ID int
	// NumHarts is the number of hardware threads.
	NumHarts int
	// FirstHart is the global number of hart 0, used for LR/SC
	// reservations shared across cores.
	FirstHart int
	// Prefetch is the geometry of each hart's prefetcher.
	Prefetch prefetch.Config
	// FirmwareJump is the spin address of idle harts; zero disables it.
	FirmwareJump uint64
}

// Stats holds performance statistics for the core.
type Stats struct {
	// Cycles is the total number of cycles simulated.
	Cycles uint64
	// Retired is the number of instructions executed.
	Retired uint64
	// FloatsExec counts executed instructions touching FP registers.
	FloatsExec uint64
	// CyclesIdlePipeline counts issue attempts lost to hazards.
	CyclesIdlePipeline uint64
	// CyclesIdleTotal counts cycles in which no hart executed.
	CyclesIdleTotal uint64
	// SpinCycles counts hart cycles spent at the firmware jump address.
	SpinCycles uint64
	// FetchStalls counts hart cycles waiting on the prefetcher.
	FetchStalls uint64
	// ContextSwitches counts swaps that bound a new thread to a hart.
	ContextSwitches uint64
	// DrainedWrites counts queued writes completed when the program
	// ended.
	DrainedWrites uint64
}

type retireEntry struct {
	hart  int
	tid   uint32
	regs  *emu.RegFile
	class insts.RegClass
	rd    uint8
	cost  uint32
}

// Core is one multi-hart core.
type Core struct {
	config  Config
	feature *feature.Feature
	memory  *mem.Memory

	table    *insts.Table
	exts     []emu.Extension
	decoder  *insts.Decoder
	syscalls *emu.SyscallTable
	tids     *emu.TIDAllocator
	env      emu.ThreadEnv
	memCost  *latency.MemCost
	faults   *emu.FaultInjector
	tracer   Tracer
	logger   *slog.Logger

	harts   []*Hart
	threads map[uint32]*emu.Thread
	changes []*emu.Thread
	retire  []retireEntry
	next    int
	cycle   uint64

	halted   bool
	exitCode int64
	stats    Stats
}

// Option configures a Core.
type Option func(*Core)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Core) {
		c.logger = l
	}
}

// WithTable supplies a prebuilt instruction table and its extensions, for
// example one with cost overrides applied.
func WithTable(t *insts.Table, exts []emu.Extension) Option {
	return func(c *Core) {
		c.table = t
		c.exts = exts
	}
}

// WithSyscallTable shares an ecall layer between cores.
func WithSyscallTable(s *emu.SyscallTable) Option {
	return func(c *Core) {
		c.syscalls = s
	}
}

// WithTIDAllocator shares the thread id allocator of a run.
func WithTIDAllocator(a *emu.TIDAllocator) Option {
	return func(c *Core) {
		c.tids = a
	}
}

// WithThreadEnv answers wait4 queries about threads outside this core.
func WithThreadEnv(env emu.ThreadEnv) Option {
	return func(c *Core) {
		c.env = env
	}
}

// WithMemCost draws memory latencies for data accesses and fetch fills.
func WithMemCost(m *latency.MemCost) Option {
	return func(c *Core) {
		c.memCost = m
	}
}

// WithFaultInjector enables fault injection.
func WithFaultInjector(f *emu.FaultInjector) Option {
	return func(c *Core) {
		c.faults = f
	}
}

// WithTracer records every executed instruction.
func WithTracer(t Tracer) Option {
	return func(c *Core) {
		c.tracer = t
	}
}

// New creates a core for machine f over memory m.
func New(config Config, f *feature.Feature, m *mem.Memory, opts ...Option) (*Core, error) {
	if config.NumHarts <= 0 {
		return nil, fmt.Errorf("core %d: hart count must be positive, got %d", config.ID, config.NumHarts)
	}
	if config.FirmwareJump&1 != 0 {
		return nil, fmt.Errorf("core %d: firmware jump 0x%x is not halfword aligned",
			config.ID, config.FirmwareJump)
	}

	c := &Core{
		config:  config,
		feature: f,
		memory:  m,
		logger:  slog.Default(),
		threads: make(map[uint32]*emu.Thread),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.table == nil {
		table, exts, err := emu.BuildTable(f)
		if err != nil {
			return nil, fmt.Errorf("core %d: %w", config.ID, err)
		}
		c.table, c.exts = table, exts
	}
	c.decoder = insts.NewDecoder(c.table, f)
	if c.tids == nil {
		c.tids = emu.NewTIDAllocator()
	}
	if c.syscalls == nil {
		fds := emu.NewFDTable(nil, nil, nil)
		c.syscalls = emu.NewSyscallTable(m, fds, c.tids, emu.WithSyscallLogger(c.logger))
	}
	if c.env == nil {
		c.env = c
	}

	var cost func() uint32
	if c.memCost != nil {
		cost = c.memCost.RandCost
	}
	for i := 0; i < config.NumHarts; i++ {
		pf, err := prefetch.New(config.Prefetch, m, cost)
		if err != nil {
			return nil, fmt.Errorf("core %d hart %d: %w", config.ID, i, err)
		}
		c.harts = append(c.harts, &Hart{id: config.FirstHart + i, local: i, prefetch: pf})
	}

	return c, nil
}

// ID returns the core id.
func (c *Core) ID() int { return c.config.ID }

// Stats returns performance statistics for the core.
func (c *Core) Stats() Stats { return c.stats }

// Table returns the instruction table the core decodes against.
func (c *Core) Table() *insts.Table { return c.table }

// NumHarts returns the number of harts.
func (c *Core) NumHarts() int { return len(c.harts) }

// Hart returns local hart i.
func (c *Core) Hart(i int) *Hart { return c.harts[i] }

// Halted reports whether a root thread or exit_group ended the program.
func (c *Core) Halted() bool { return c.halted }

// Pending returns the number of writes waiting to retire.
func (c *Core) Pending() int { return len(c.retire) }

// ExitCode returns the exit code once the core has halted.
func (c *Core) ExitCode() int64 { return c.exitCode }

// IdleHarts returns the local indices of harts with no thread bound.
func (c *Core) IdleHarts() []int {
	var idle []int
	for i, h := range c.harts {
		if h.Idle() {
			idle = append(idle, i)
		}
	}
	return idle
}

// FindIdleHart returns the lowest idle hart.
func (c *Core) FindIdleHart() (int, bool) {
	for i, h := range c.harts {
		if h.Idle() {
			return i, true
		}
	}
	return 0, false
}

// AssignThread binds t to idle hart i and marks it running.
func (c *Core) AssignThread(i int, t *emu.Thread) error {
	if i < 0 || i >= len(c.harts) {
		return fmt.Errorf("core %d: no hart %d", c.config.ID, i)
	}
	h := c.harts[i]
	if !h.Idle() {
		return fmt.Errorf("core %d: hart %d is busy with thread %d", c.config.ID, i, h.thread.ID)
	}

	t.State = emu.ThreadRunning
	t.Regs.Inst = nil
	t.Regs.Cost = 0
	t.Regs.Trigger = false
	c.threads[t.ID] = t
	h.thread = t

	c.logger.Debug("thread assigned", "core", c.config.ID, "hart", h.id, "tid", t.ID)
	return nil
}

// Thread returns a thread owned by the core.
func (c *Core) Thread(tid uint32) (*emu.Thread, bool) {
	t, ok := c.threads[tid]
	return t, ok
}

// TransferStateChanges returns the threads whose state changed since the
// last call. DONE threads leave the thread table.
func (c *Core) TransferStateChanges() []*emu.Thread {
	out := c.changes
	c.changes = nil
	for _, t := range out {
		if t.State == emu.ThreadDone {
			delete(c.threads, t.ID)
		}
	}
	return out
}

// HasNoWork reports whether every hart is idle and nothing is left to
// retire.
func (c *Core) HasNoWork() bool {
	if len(c.retire) > 0 {
		return false
	}
	for _, h := range c.harts {
		if !h.Idle() {
			return false
		}
	}
	return true
}

// Alive implements emu.ThreadEnv over the core's own threads.
func (c *Core) Alive(tid uint32) bool {
	t, ok := c.threads[tid]
	return ok && t.State != emu.ThreadDone
}

// LiveChild implements emu.ThreadEnv over the core's own threads.
func (c *Core) LiveChild(parent uint32) (uint32, bool) {
	var best uint32
	for id, t := range c.threads {
		if t.ParentID == parent && t.State != emu.ThreadDone && (best == 0 || id < best) {
			best = id
		}
	}
	return best, best != 0
}

// Redirect points the thread bound to hart i at pc. It injects work into a
// hart spinning at the firmware jump address.
func (c *Core) Redirect(i int, pc uint64) error {
	if i < 0 || i >= len(c.harts) {
		return fmt.Errorf("core %d: no hart %d", c.config.ID, i)
	}
	h := c.harts[i]
	if h.thread == nil {
		return fmt.Errorf("core %d: hart %d has no thread: %w", c.config.ID, i, emu.ErrNoSuchThread)
	}
	regs := h.thread.Regs
	regs.PC = pc
	regs.Inst = nil
	regs.Cost = 0
	regs.Trigger = false
	return nil
}

// invalidateFetch drops every prefetched word of the core.
func (c *Core) invalidateFetch() {
	for _, h := range c.harts {
		h.prefetch.InvalidateAll()
	}
}

// EvictThread drops tid from the thread table unless it is bound to a
// hart. The driver calls it when the thread moves to another core.
func (c *Core) EvictThread(tid uint32) {
	if !c.bound(tid) {
		delete(c.threads, tid)
	}
}
