// Package driver runs the cores of a simulation under the akita event
// engine. It owns the READY and BLOCKED thread queues and places threads on
// idle harts.
package driver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/insts"
	"github.com/sarchlab/revsim/mem"
	"github.com/sarchlab/revsim/timing/core"
	"github.com/sarchlab/revsim/timing/latency"
	"github.com/sarchlab/revsim/timing/prefetch"
)

// ErrMaxCycles stops a run that reaches its cycle limit.
var ErrMaxCycles = errors.New("max cycles reached")

// ErrDeadlock stops a run whose remaining threads all wait on each other.
var ErrDeadlock = errors.New("all threads blocked")

// Config sets the shape of a run.
type Config struct {
	NumCores     int
	NumHarts     int
	Prefetch     prefetch.Config
	FirmwareJump uint64
	// Freq is the core clock.
	Freq sim.Freq
	// MaxCycles stops the run; zero means no limit.
	MaxCycles uint64
}

// Stats aggregates the counters of a run.
type Stats struct {
	Cycles uint64
	Cores  []core.Stats
	Memory mem.Stats
}

// Retired sums the retired instructions of every core.
func (s Stats) Retired() uint64 {
	var n uint64
	for _, c := range s.Cores {
		n += c.Retired
	}
	return n
}

// Driver ticks every core once per cycle.
type Driver struct {
	*sim.TickingComponent

	engine  sim.Engine
	config  Config
	feature *feature.Feature
	memory  *mem.Memory

	cores    []*core.Core
	syscalls *emu.SyscallTable
	tids     *emu.TIDAllocator

	threads map[uint32]*emu.Thread
	ready   []*emu.Thread
	blocked []*emu.Thread

	cycle    uint64
	done     bool
	halted   bool
	exitCode int64
	err      error

	table   *insts.Table
	exts    []emu.Extension
	memCost *latency.MemCost
	faults  *emu.FaultInjector
	tracer  core.Tracer
	stdin   io.Reader
	stdout  io.Writer
	stderr  io.Writer
	logger  *slog.Logger
}

// Option configures a Driver.
type Option func(*Driver)

// WithLogger sets the logger shared with the cores.
func WithLogger(l *slog.Logger) Option {
	return func(d *Driver) {
		d.logger = l
	}
}

// WithTable supplies the instruction table every core decodes against.
func WithTable(t *insts.Table, exts []emu.Extension) Option {
	return func(d *Driver) {
		d.table = t
		d.exts = exts
	}
}

// WithMemCost sets the random memory latency.
func WithMemCost(m *latency.MemCost) Option {
	return func(d *Driver) {
		d.memCost = m
	}
}

// WithFaultInjector enables fault injection on every core.
func WithFaultInjector(f *emu.FaultInjector) Option {
	return func(d *Driver) {
		d.faults = f
	}
}

// WithTracer records executed instructions.
func WithTracer(t core.Tracer) Option {
	return func(d *Driver) {
		d.tracer = t
	}
}

// WithStdio binds the guest's standard descriptors.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(d *Driver) {
		d.stdin, d.stdout, d.stderr = stdin, stdout, stderr
	}
}

// New creates a driver and its cores.
func New(name string, engine sim.Engine, config Config, f *feature.Feature, m *mem.Memory,
	opts ...Option) (*Driver, error) {
	if config.NumCores <= 0 {
		return nil, fmt.Errorf("core count must be positive, got %d", config.NumCores)
	}
	if err := validName(name); err != nil {
		return nil, err
	}
	if config.Freq <= 0 {
		config.Freq = 1 * sim.GHz
	}

	d := &Driver{
		engine:  engine,
		config:  config,
		feature: f,
		memory:  m,
		tids:    emu.NewTIDAllocator(),
		threads: make(map[uint32]*emu.Thread),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	if d.table == nil {
		table, exts, err := emu.BuildTable(f)
		if err != nil {
			return nil, err
		}
		d.table, d.exts = table, exts
	}

	fds := emu.NewFDTable(d.stdin, d.stdout, d.stderr)
	d.syscalls = emu.NewSyscallTable(m, fds, d.tids, emu.WithSyscallLogger(d.logger))

	for i := 0; i < config.NumCores; i++ {
		coreOpts := []core.Option{
			core.WithLogger(d.logger),
			core.WithTable(d.table, d.exts),
			core.WithSyscallTable(d.syscalls),
			core.WithTIDAllocator(d.tids),
			core.WithThreadEnv(d),
		}
		if d.memCost != nil {
			coreOpts = append(coreOpts, core.WithMemCost(d.memCost))
		}
		if d.faults != nil {
			coreOpts = append(coreOpts, core.WithFaultInjector(d.faults))
		}
		if d.tracer != nil {
			coreOpts = append(coreOpts, core.WithTracer(d.tracer))
		}

		c, err := core.New(core.Config{
			ID:           i,
			NumHarts:     config.NumHarts,
			FirstHart:    i * config.NumHarts,
			Prefetch:     config.Prefetch,
			FirmwareJump: config.FirmwareJump,
		}, f, m, coreOpts...)
		if err != nil {
			return nil, err
		}
		d.cores = append(d.cores, c)
	}

	d.TickingComponent = sim.NewTickingComponent(name, engine, config.Freq, d)
	return d, nil
}

// Cores returns the simulated cores.
func (d *Driver) Cores() []*core.Core { return d.cores }

// Memory returns the shared memory.
func (d *Driver) Memory() *mem.Memory { return d.memory }

// Syscalls returns the shared ecall layer.
func (d *Driver) Syscalls() *emu.SyscallTable { return d.syscalls }

// Cycle returns the number of cycles ticked.
func (d *Driver) Cycle() uint64 { return d.cycle }

// Halted reports whether the program exited.
func (d *Driver) Halted() bool { return d.halted }

// ExitCode returns the program exit code once halted.
func (d *Driver) ExitCode() int64 { return d.exitCode }

// Err returns the error that stopped the run, if any.
func (d *Driver) Err() error { return d.err }

// Ready returns the threads waiting for a hart.
func (d *Driver) Ready() []*emu.Thread { return d.ready }

// Blocked returns the threads waiting to join another thread.
func (d *Driver) Blocked() []*emu.Thread { return d.blocked }

// Stats returns the counters of every core and of memory.
func (d *Driver) Stats() Stats {
	s := Stats{Cycles: d.cycle, Memory: d.memory.Stats()}
	for _, c := range d.cores {
		s.Cores = append(s.Cores, c.Stats())
	}
	return s
}

// Run ticks the cores until the program exits, the run fails or nothing is
// left to do.
func (d *Driver) Run() error {
	d.TickLater()
	if err := d.engine.Run(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return d.err
}

// Tick implements sim.Ticker. It advances every core by one cycle.
func (d *Driver) Tick() bool {
	if d.done {
		return false
	}
	d.assign()

	busy := false
	for _, c := range d.cores {
		more, err := c.ClockTick(d.cycle)
		d.transfer(c.TransferStateChanges())
		if err != nil {
			return d.stop(err)
		}
		if c.Halted() {
			d.halted = true
			d.exitCode = c.ExitCode()
			d.logger.Info("program exited", "core", c.ID(), "code", d.exitCode, "cycle", d.cycle)
			return d.stop(nil)
		}
		busy = busy || more
	}
	d.cycle++
	d.assign()

	if d.config.MaxCycles > 0 && d.cycle >= d.config.MaxCycles {
		return d.stop(fmt.Errorf("%w after %d cycles", ErrMaxCycles, d.cycle))
	}
	if !busy && len(d.ready) == 0 && d.idle() {
		if len(d.blocked) > 0 {
			return d.stop(fmt.Errorf("%w: %d threads waiting", ErrDeadlock, len(d.blocked)))
		}
		return d.stop(nil)
	}
	return true
}

func (d *Driver) stop(err error) bool {
	d.done = true
	d.err = err
	return false
}

func (d *Driver) idle() bool {
	for _, c := range d.cores {
		if !c.HasNoWork() {
			return false
		}
	}
	return true
}

// validName turns the panic of an invalid akita component name into an
// error.
func validName(name string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("invalid component name %q: %v", name, r)
		}
	}()
	sim.NameMustBeValid(name)
	return nil
}
