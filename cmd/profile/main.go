// Package main provides a profiling wrapper that runs a program on the
// timing model under pprof.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/pprof"
	"time"

	getopt "github.com/pborman/getopt/v2"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/revsim/config"
	"github.com/sarchlab/revsim/driver"
	"github.com/sarchlab/revsim/loader"
	"github.com/sarchlab/revsim/util/logger"
)

func main() {
	os.Exit(start())
}

func start() int {
	cfgPath := getopt.StringLong("config", 'c', "", "Configuration file")
	cpuProfile := getopt.StringLong("cpuprofile", 0, "", "Write a CPU profile to file")
	memProfile := getopt.StringLong("memprofile", 0, "", "Write a heap profile to file")
	maxCycles := getopt.IntLong("max-cycles", 0, 1000000, "Stop after this many cycles (0 = unlimited)")
	debug := getopt.BoolLong("debug", 'd', "Log debug to console")
	help := getopt.BoolLong("help", 'h', "Help")
	getopt.SetParameters("program [args...]")
	getopt.Parse()

	if *help || getopt.NArgs() < 1 {
		getopt.Usage()
		if *help {
			return 0
		}
		return 2
	}

	log := slog.New(logger.NewHandler(nil, os.Stderr, nil, *debug))
	slog.SetDefault(log)

	cfg := config.DefaultConfig()
	if *cfgPath != "" {
		var err error
		if cfg, err = config.LoadConfig(*cfgPath); err != nil {
			log.Error(err.Error())
			return 1
		}
	}
	if *maxCycles > 0 {
		cfg.MaxCycles = uint64(*maxCycles)
	}

	argv := getopt.Args()
	prog, err := loader.Load(argv[0])
	if err != nil {
		log.Error(err.Error())
		return 1
	}

	d, err := driver.FromConfig("RevSim", sim.NewSerialEngine(), cfg, log,
		driver.WithStdio(os.Stdin, os.Stdout, os.Stderr))
	if err != nil {
		log.Error(err.Error())
		return 1
	}
	if _, err := d.Boot(prog, argv); err != nil {
		log.Error(err.Error())
		return 1
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Error("failed to create CPU profile", "err", err)
			return 1
		}
		defer func() { _ = f.Close() }()

		if err := pprof.StartCPUProfile(f); err != nil {
			log.Error("failed to start CPU profile", "err", err)
			return 1
		}
		defer pprof.StopCPUProfile()
	}

	begin := time.Now()
	runErr := d.Run()
	elapsed := time.Since(begin)

	if *memProfile != "" {
		f, err := os.Create(*memProfile)
		if err != nil {
			log.Error("failed to create heap profile", "err", err)
			return 1
		}
		defer func() { _ = f.Close() }()

		if err := pprof.WriteHeapProfile(f); err != nil {
			log.Error("failed to write heap profile", "err", err)
		}
	}

	stats := d.Stats()
	fmt.Printf("\nProfiling Results:\n")
	fmt.Printf("Exit code: %d\n", d.ExitCode())
	fmt.Printf("Instructions retired: %d\n", stats.Retired())
	fmt.Printf("Cycles simulated: %d\n", stats.Cycles)
	fmt.Printf("Elapsed time: %v\n", elapsed)
	if secs := elapsed.Seconds(); secs > 0 {
		fmt.Printf("Instructions/second: %.0f\n", float64(stats.Retired())/secs)
		fmt.Printf("Cycles/second: %.0f\n", float64(stats.Cycles)/secs)
	}

	if runErr != nil {
		log.Error(runErr.Error())
		return 1
	}
	return 0
}
