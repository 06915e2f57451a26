// Package config holds the run configuration of the simulator. Files are
// JSON, or YAML when the name ends in .yaml or .yml.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/mem"
	"github.com/sarchlab/revsim/timing/latency"
	"github.com/sarchlab/revsim/timing/prefetch"
)

// FaultConfig selects injected faults. An empty Kinds disables injection.
type FaultConfig struct {
	// Kinds is a comma separated list of crack, mem, reg, alu or all.
	Kinds string `json:"kinds" yaml:"kinds"`
	// Width is the number of bits each fault flips.
	Width uint `json:"width" yaml:"width"`
	// Cycle is the first cycle at which the fault may fire.
	Cycle uint64 `json:"cycle" yaml:"cycle"`
}

// Config describes one simulation run.
type Config struct {
	// Machine is the ISA string, e.g. "RV64GC".
	Machine  string `json:"machine" yaml:"machine"`
	NumCores int    `json:"num_cores" yaml:"num_cores"`
	NumHarts int    `json:"num_harts" yaml:"num_harts"`

	// MemCostMin and MemCostMax bound the random memory cost in cycles.
	MemCostMin uint32 `json:"mem_cost_min" yaml:"mem_cost_min"`
	MemCostMax uint32 `json:"mem_cost_max" yaml:"mem_cost_max"`

	PrefetchDepth   int `json:"prefetch_depth" yaml:"prefetch_depth"`
	PrefetchStreams int `json:"prefetch_streams" yaml:"prefetch_streams"`

	// Table is the cost-override file; empty or _REV_INTERNAL_ means none.
	Table string `json:"table" yaml:"table"`

	TLBSize     int    `json:"tlb_size" yaml:"tlb_size"`
	MaxHeapSize uint64 `json:"max_heap_size" yaml:"max_heap_size"`
	PageSize    uint64 `json:"page_size" yaml:"page_size"`
	MemSize     uint64 `json:"mem_size" yaml:"mem_size"`

	// FirmwareJump is the spin address of idle harts; zero disables it.
	FirmwareJump uint64 `json:"firmware_jump" yaml:"firmware_jump"`

	ClockMHz float64 `json:"clock_mhz" yaml:"clock_mhz"`

	Faults FaultConfig `json:"faults" yaml:"faults"`

	// MaxCycles stops the run after this many cycles; zero means no limit.
	MaxCycles uint64 `json:"max_cycles" yaml:"max_cycles"`

	// Seed seeds the memory cost and fault generators.
	Seed uint64 `json:"seed" yaml:"seed"`

	Costs *latency.CostConfig `json:"costs" yaml:"costs"`
}

// DefaultConfig returns a single-core, single-hart RV64GC machine.
func DefaultConfig() *Config {
	memCfg := mem.DefaultConfig()
	pfCfg := prefetch.DefaultConfig()
	return &Config{
		Machine:         "RV64GC",
		NumCores:        1,
		NumHarts:        1,
		MemCostMin:      1,
		MemCostMax:      1,
		PrefetchDepth:   pfCfg.Depth,
		PrefetchStreams: pfCfg.Streams,
		Table:           latency.Internal,
		TLBSize:         memCfg.TLBSize,
		MaxHeapSize:     memCfg.MaxHeapSize,
		PageSize:        memCfg.PageSize,
		MemSize:         memCfg.MemSize,
		ClockMHz:        1000,
		Faults:          FaultConfig{Width: 1},
		Seed:            1,
		Costs:           latency.DefaultCostConfig(),
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig reads a configuration file. Missing fields keep their default
// values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if isYAML(path) {
		err = yaml.Unmarshal(data, cfg)
	} else {
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if cfg.Costs == nil {
		cfg.Costs = latency.DefaultCostConfig()
	}

	return cfg, nil
}

// SaveConfig writes the configuration in the format implied by path.
func (c *Config) SaveConfig(path string) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Feature parses the machine string with the memory cost bounds.
func (c *Config) Feature() (*feature.Feature, error) {
	return feature.Parse(c.Machine, c.MemCostMin, c.MemCostMax)
}

// FaultKinds parses the fault selection.
func (c *Config) FaultKinds() (emu.FaultKind, error) {
	return emu.ParseFaultKinds(c.Faults.Kinds)
}

// MemConfig returns the memory geometry.
func (c *Config) MemConfig() mem.Config {
	return mem.Config{
		MemSize:     c.MemSize,
		PageSize:    c.PageSize,
		TLBSize:     c.TLBSize,
		MaxHeapSize: c.MaxHeapSize,
	}
}

// PrefetchConfig returns the prefetcher geometry.
func (c *Config) PrefetchConfig() prefetch.Config {
	return prefetch.Config{Depth: c.PrefetchDepth, Streams: c.PrefetchStreams}
}

// Validate checks the configuration for values the simulator cannot run.
func (c *Config) Validate() error {
	if _, err := c.Feature(); err != nil {
		return fmt.Errorf("invalid machine: %w", err)
	}
	if c.NumCores < 1 {
		return fmt.Errorf("num_cores must be >= 1")
	}
	if c.NumHarts < 1 || c.NumHarts > 32 {
		return fmt.Errorf("num_harts must be in [1, 32]")
	}
	if c.PrefetchDepth < 1 {
		return fmt.Errorf("prefetch_depth must be > 0")
	}
	if c.PrefetchStreams < 2 {
		return fmt.Errorf("prefetch_streams must be >= 2")
	}
	if c.TLBSize < 1 {
		return fmt.Errorf("tlb_size must be > 0")
	}
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page_size must be a power of two")
	}
	if c.MaxHeapSize < mem.ChunkSize {
		return fmt.Errorf("max_heap_size must be >= %d", mem.ChunkSize)
	}
	if c.MemSize <= c.MaxHeapSize {
		return fmt.Errorf("mem_size must exceed max_heap_size")
	}
	if c.FirmwareJump%2 != 0 {
		return fmt.Errorf("firmware_jump must be 2-byte aligned")
	}
	if c.ClockMHz <= 0 {
		return fmt.Errorf("clock_mhz must be > 0")
	}
	if _, err := c.FaultKinds(); err != nil {
		return fmt.Errorf("invalid faults: %w", err)
	}
	if c.Faults.Kinds != "" && (c.Faults.Width < 1 || c.Faults.Width > 64) {
		return fmt.Errorf("faults.width must be in [1, 64]")
	}
	if c.Costs != nil {
		if err := c.Costs.Validate(); err != nil {
			return fmt.Errorf("invalid costs: %w", err)
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	if c.Costs != nil {
		clone.Costs = c.Costs.Clone()
	}
	return &clone
}
