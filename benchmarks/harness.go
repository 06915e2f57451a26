// Package benchmarks provides the microbenchmark harness used to compare
// the timing model across core and hart counts.
package benchmarks

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/revsim/config"
	"github.com/sarchlab/revsim/driver"
	"github.com/sarchlab/revsim/mem"
	"github.com/sarchlab/revsim/util/logger"
)

// Where benchmark code and data live in the guest.
const (
	CodeBase   = 0x10000
	DataBase   = 0x20000
	workerSize = 0x400
	dataSize   = 0x1000
	heapBase   = 0x100000
)

// BenchmarkResult holds the timing results for a single benchmark run.
type BenchmarkResult struct {
	Name        string `json:"name"`
	Description string `json:"description"`

	Cores int `json:"cores"`
	Harts int `json:"harts"`

	SimulatedCycles     uint64  `json:"simulated_cycles"`
	InstructionsRetired uint64  `json:"instructions_retired"`
	CPI                 float64 `json:"cpi"`

	// IdlePipelineCycles counts cycles in which no hart could issue.
	IdlePipelineCycles uint64 `json:"idle_pipeline_cycles"`
	IdleCycles         uint64 `json:"idle_cycles"`
	ContextSwitches    uint64 `json:"context_switches"`

	TLBHits   uint64 `json:"tlb_hits"`
	TLBMisses uint64 `json:"tlb_misses"`

	ExitCode int64 `json:"exit_code"`
	// Err is the reason the run failed, if it did.
	Err string `json:"error,omitempty"`

	WallTime time.Duration `json:"wall_time_ns"`
}

// Benchmark defines a single benchmark program.
type Benchmark struct {
	Name        string
	Description string

	// Program is the RV64 machine code of the root thread, loaded at
	// CodeBase.
	Program []byte

	// Workers are spawned as children of the root thread. Worker i is
	// loaded at CodeBase + (i+1)*0x400.
	Workers [][]byte

	// ExpectedExit is the exit code of a correct run.
	ExpectedExit int64
}

// HarnessConfig configures the benchmark harness.
type HarnessConfig struct {
	// Machine is the base configuration; nil means config.DefaultConfig.
	Machine *config.Config

	// Output is where to write results (default: os.Stdout).
	Output io.Writer

	// Logger receives simulator logs; nil discards them.
	Logger *slog.Logger
}

// DefaultConfig returns a default harness configuration.
func DefaultConfig() HarnessConfig {
	return HarnessConfig{
		Machine: config.DefaultConfig(),
		Output:  os.Stdout,
	}
}

// Harness runs timing benchmarks and reports results.
type Harness struct {
	config     HarnessConfig
	benchmarks []Benchmark
}

// NewHarness creates a new benchmark harness.
func NewHarness(config HarnessConfig) *Harness {
	if config.Output == nil {
		config.Output = os.Stdout
	}
	if config.Machine == nil {
		config.Machine = DefaultConfig().Machine
	}
	if config.Logger == nil {
		config.Logger = slog.New(logger.NewHandler(nil, nil, nil, false))
	}
	return &Harness{config: config}
}

// AddBenchmark adds a benchmark to the harness.
func (h *Harness) AddBenchmark(b Benchmark) {
	h.benchmarks = append(h.benchmarks, b)
}

// AddBenchmarks adds multiple benchmarks to the harness.
func (h *Harness) AddBenchmarks(benchmarks []Benchmark) {
	h.benchmarks = append(h.benchmarks, benchmarks...)
}

// RunAll executes all benchmarks and returns results. A failing benchmark
// is recorded in its result and does not stop the others.
func (h *Harness) RunAll() []BenchmarkResult {
	results := make([]BenchmarkResult, 0, len(h.benchmarks))
	for _, bench := range h.benchmarks {
		results = append(results, h.Run(bench))
	}
	return results
}

// Run executes one benchmark on a fresh machine.
func (h *Harness) Run(bench Benchmark) BenchmarkResult {
	cfg := h.config.Machine
	result := BenchmarkResult{
		Name:        bench.Name,
		Description: bench.Description,
		Cores:       cfg.NumCores,
		Harts:       cfg.NumHarts,
		ExitCode:    -1,
	}

	d, err := h.load(bench)
	if err != nil {
		result.Err = err.Error()
		return result
	}

	start := time.Now()
	err = d.Run()
	result.WallTime = time.Since(start)
	if err != nil {
		result.Err = err.Error()
	}

	stats := d.Stats()
	result.SimulatedCycles = stats.Cycles
	result.InstructionsRetired = stats.Retired()
	if result.InstructionsRetired > 0 {
		result.CPI = float64(stats.Cycles) / float64(result.InstructionsRetired)
	}
	for _, c := range stats.Cores {
		result.IdlePipelineCycles += c.CyclesIdlePipeline
		result.IdleCycles += c.CyclesIdleTotal
		result.ContextSwitches += c.ContextSwitches
	}
	result.TLBHits = stats.Memory.TLBHits
	result.TLBMisses = stats.Memory.TLBMisses
	if d.Halted() {
		result.ExitCode = d.ExitCode()
	}
	return result
}

func (h *Harness) load(bench Benchmark) (*driver.Driver, error) {
	if len(bench.Workers)*workerSize+workerSize > DataBase-CodeBase {
		return nil, fmt.Errorf("benchmark %s has too many workers", bench.Name)
	}

	d, err := driver.FromConfig(ComponentName(bench.Name), sim.NewSerialEngine(),
		h.config.Machine, h.config.Logger)
	if err != nil {
		return nil, err
	}

	m := d.Memory()
	m.AddRoundedMemSeg(CodeBase, DataBase-CodeBase, m.PageSize())
	m.AddRoundedMemSeg(DataBase, dataSize, m.PageSize())
	m.SetHeapStart(heapBase)

	if err := m.Write(mem.NoHart, CodeBase, bench.Program); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", bench.Name, err)
	}
	root, err := d.Spawn(CodeBase, 0)
	if err != nil {
		return nil, err
	}

	for i, w := range bench.Workers {
		if len(w) > workerSize {
			return nil, fmt.Errorf("worker %d of %s exceeds %d bytes", i, bench.Name, workerSize)
		}
		pc := uint64(CodeBase + (i+1)*workerSize)
		if err := m.Write(mem.NoHart, pc, w); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", bench.Name, err)
		}
		if _, err := d.Spawn(pc, root.ID); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// ComponentName turns a benchmark label such as "fork_join" into the akita
// component name "Bench.ForkJoin".
func ComponentName(label string) string {
	var sb strings.Builder
	sb.WriteString("Bench.")
	upper := true
	for _, r := range label {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if sb.Len() == len("Bench.") && unicode.IsDigit(r) {
				sb.WriteRune('N')
			}
			if upper {
				r = unicode.ToUpper(r)
			}
			sb.WriteRune(r)
			upper = false
		default:
			upper = true
		}
	}
	if sb.Len() == len("Bench.") {
		sb.WriteString("Unnamed")
	}
	return sb.String()
}

// PrintResults outputs benchmark results in a human-readable format.
func (h *Harness) PrintResults(results []BenchmarkResult) {
	out := h.config.Output
	_, _ = fmt.Fprintln(out, "=== revsim Timing Benchmark Results ===")
	_, _ = fmt.Fprintln(out, "")

	for _, r := range results {
		_, _ = fmt.Fprintf(out, "Benchmark: %s\n", r.Name)
		_, _ = fmt.Fprintf(out, "  Description: %s\n", r.Description)
		_, _ = fmt.Fprintf(out, "  Machine: %d cores x %d harts\n", r.Cores, r.Harts)
		_, _ = fmt.Fprintf(out, "  Exit Code: %d\n", r.ExitCode)
		if r.Err != "" {
			_, _ = fmt.Fprintf(out, "  Error: %s\n", r.Err)
		}
		_, _ = fmt.Fprintln(out, "  --- Timing ---")
		_, _ = fmt.Fprintf(out, "  Simulated Cycles:     %d\n", r.SimulatedCycles)
		_, _ = fmt.Fprintf(out, "  Instructions Retired: %d\n", r.InstructionsRetired)
		_, _ = fmt.Fprintf(out, "  CPI:                  %.3f\n", r.CPI)
		_, _ = fmt.Fprintf(out, "  Idle Pipeline:        %d\n", r.IdlePipelineCycles)
		_, _ = fmt.Fprintf(out, "  Idle Core:            %d\n", r.IdleCycles)
		if r.ContextSwitches > 0 {
			_, _ = fmt.Fprintf(out, "  Context Switches:     %d\n", r.ContextSwitches)
		}
		_, _ = fmt.Fprintln(out, "  --- TLB ---")
		_, _ = fmt.Fprintf(out, "  Hits:   %d\n", r.TLBHits)
		_, _ = fmt.Fprintf(out, "  Misses: %d\n", r.TLBMisses)
		_, _ = fmt.Fprintf(out, "  Wall Time: %v\n", r.WallTime)
		_, _ = fmt.Fprintln(out, "")
	}
}

// PrintCSV outputs benchmark results in CSV format for easy comparison.
func (h *Harness) PrintCSV(results []BenchmarkResult) {
	out := h.config.Output
	_, _ = fmt.Fprintln(out,
		"name,cores,harts,cycles,instructions,cpi,idle_pipeline,idle,switches,tlb_hits,tlb_misses,exit_code")

	for _, r := range results {
		_, _ = fmt.Fprintf(out, "%s,%d,%d,%d,%d,%.3f,%d,%d,%d,%d,%d,%d\n",
			r.Name,
			r.Cores,
			r.Harts,
			r.SimulatedCycles,
			r.InstructionsRetired,
			r.CPI,
			r.IdlePipelineCycles,
			r.IdleCycles,
			r.ContextSwitches,
			r.TLBHits,
			r.TLBMisses,
			r.ExitCode,
		)
	}
}

// BenchmarkReport is the complete output format for benchmark results.
type BenchmarkReport struct {
	Metadata ReportMetadata    `json:"metadata"`
	Results  []BenchmarkResult `json:"results"`
	Summary  ReportSummary     `json:"summary"`
}

// ReportMetadata contains information about the benchmark run.
type ReportMetadata struct {
	Timestamp string `json:"timestamp"`
	Machine   string `json:"machine"`
	Cores     int    `json:"cores"`
	Harts     int    `json:"harts"`
}

// ReportSummary contains aggregate statistics across all benchmarks.
type ReportSummary struct {
	TotalBenchmarks   int           `json:"total_benchmarks"`
	Failed            int           `json:"failed"`
	TotalCycles       uint64        `json:"total_cycles"`
	TotalInstructions uint64        `json:"total_instructions"`
	AverageCPI        float64       `json:"average_cpi"`
	TotalWallTime     time.Duration `json:"total_wall_time_ns"`
}

// Summarize aggregates results.
func Summarize(results []BenchmarkResult) ReportSummary {
	s := ReportSummary{TotalBenchmarks: len(results)}
	for _, r := range results {
		s.TotalCycles += r.SimulatedCycles
		s.TotalInstructions += r.InstructionsRetired
		s.TotalWallTime += r.WallTime
		if r.Err != "" {
			s.Failed++
		}
	}
	if s.TotalInstructions > 0 {
		s.AverageCPI = float64(s.TotalCycles) / float64(s.TotalInstructions)
	}
	return s
}

// PrintJSON outputs benchmark results in JSON format for automated comparison.
func (h *Harness) PrintJSON(results []BenchmarkResult) error {
	cfg := h.config.Machine
	report := BenchmarkReport{
		Metadata: ReportMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Machine:   cfg.Machine,
			Cores:     cfg.NumCores,
			Harts:     cfg.NumHarts,
		},
		Results: results,
		Summary: Summarize(results),
	}

	encoder := json.NewEncoder(h.config.Output)
	encoder.SetIndent("", "  ")
	return encoder.Encode(report)
}
