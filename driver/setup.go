package driver

import (
	"fmt"
	"log/slog"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/revsim/config"
	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/mem"
	"github.com/sarchlab/revsim/timing/latency"
)

// FromConfig builds the memory, instruction table, latency model and fault
// injector that cfg describes, then a driver over them. Extra options are
// applied after the ones derived from cfg.
func FromConfig(name string, engine sim.Engine, cfg *config.Config, logger *slog.Logger,
	opts ...Option) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	f, err := cfg.Feature()
	if err != nil {
		return nil, err
	}
	m, err := mem.New(cfg.MemConfig(), mem.WithLogger(logger), mem.WithSeed(cfg.Seed))
	if err != nil {
		return nil, err
	}

	table, exts, err := emu.BuildTable(f)
	if err != nil {
		return nil, err
	}
	if cfg.Costs != nil {
		cfg.Costs.Apply(table)
	}
	if err := latency.LoadOverrides(cfg.Table, table); err != nil {
		return nil, err
	}

	base := []Option{
		WithLogger(logger),
		WithTable(table, exts),
		WithMemCost(latency.NewMemCost(cfg.MemCostMin, cfg.MemCostMax, cfg.Seed)),
	}

	kinds, err := cfg.FaultKinds()
	if err != nil {
		return nil, err
	}
	if kinds != 0 {
		fi, err := emu.NewFaultInjector(kinds, cfg.Faults.Width, cfg.Faults.Cycle, cfg.Seed)
		if err != nil {
			return nil, fmt.Errorf("failed to create fault injector: %w", err)
		}
		base = append(base, WithFaultInjector(fi))
		logger.Info("fault injection enabled", "kinds", kinds.String(), "cycle", cfg.Faults.Cycle)
	}

	return New(name, engine, Config{
		NumCores:     cfg.NumCores,
		NumHarts:     cfg.NumHarts,
		Prefetch:     cfg.PrefetchConfig(),
		FirmwareJump: cfg.FirmwareJump,
		Freq:         sim.Freq(cfg.ClockMHz) * sim.MHz,
		MaxCycles:    cfg.MaxCycles,
	}, f, m, append(base, opts...)...)
}
