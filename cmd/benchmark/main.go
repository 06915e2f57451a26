// Command benchmark runs the revsim microbenchmark harness.
//
// Usage:
//
//	go run ./cmd/benchmark [flags]
//
// Flags:
//
//	--csv       Output results in CSV format (default: human-readable)
//	--json      Output results as a JSON report
//	--cores     Number of cores
//	--harts     Harts per core
//	--core      Run only the core benchmark set
//	-c          Machine configuration file
//
// Example:
//
//	# Compare one hart against four on a single core
//	go run ./cmd/benchmark --harts 1 --csv > one.csv
//	go run ./cmd/benchmark --harts 4 --csv > four.csv
package main

import (
	"fmt"
	"os"

	getopt "github.com/pborman/getopt/v2"

	"github.com/sarchlab/revsim/benchmarks"
	"github.com/sarchlab/revsim/config"
)

func main() {
	csvOutput := getopt.BoolLong("csv", 0, "Output results in CSV format")
	jsonOutput := getopt.BoolLong("json", 0, "Output results as a JSON report")
	coreOnly := getopt.BoolLong("core", 0, "Run only the core benchmark set")
	cfgPath := getopt.StringLong("config", 'c', "", "Machine configuration file")
	cores := getopt.IntLong("cores", 0, 0, "Number of cores")
	harts := getopt.IntLong("harts", 0, 0, "Harts per core")
	help := getopt.BoolLong("help", 'h', "Help")
	getopt.Parse()

	if *help {
		getopt.Usage()
		os.Exit(0)
	}

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*cfgPath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
	if *cores > 0 {
		cfg.NumCores = *cores
	}
	if *harts > 0 {
		cfg.NumHarts = *harts
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	harness := benchmarks.NewHarness(benchmarks.HarnessConfig{Machine: cfg, Output: os.Stdout})
	if *coreOnly {
		harness.AddBenchmarks(benchmarks.GetCoreBenchmarks())
	} else {
		harness.AddBenchmarks(benchmarks.GetMicrobenchmarks())
	}

	if !*csvOutput && !*jsonOutput {
		fmt.Println("revsim Timing Benchmark Harness")
		fmt.Println("===============================")
		fmt.Printf("Machine: %s, %d cores x %d harts\n", cfg.Machine, cfg.NumCores, cfg.NumHarts)
		fmt.Println("")
	}

	results := harness.RunAll()

	switch {
	case *jsonOutput:
		if err := harness.PrintJSON(results); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	case *csvOutput:
		harness.PrintCSV(results)
	default:
		harness.PrintResults(results)
		s := benchmarks.Summarize(results)
		fmt.Println("=== Summary ===")
		fmt.Printf("Benchmarks: %d (%d failed)\n", s.TotalBenchmarks, s.Failed)
		fmt.Printf("Cycles: %d, Instructions: %d, CPI: %.3f\n",
			s.TotalCycles, s.TotalInstructions, s.AverageCPI)
	}

	if benchmarks.Summarize(results).Failed > 0 {
		os.Exit(1)
	}
}
