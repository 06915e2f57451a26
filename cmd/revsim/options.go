package main

import (
	"errors"
	"fmt"
	"io"

	getopt "github.com/pborman/getopt/v2"

	"github.com/sarchlab/revsim/config"
)

var errHelp = errors.New("help requested")

type options struct {
	config     string
	machine    string
	table      string
	trace      string
	logFile    string
	cores      int
	harts      int
	maxCycles  uint64
	debug      bool
	functional bool

	program string
	argv    []string
}

func newOptionSet(o *options) (*getopt.Set, *bool) {
	set := getopt.New()
	set.SetProgram("revsim")
	set.SetParameters("program [args...]")

	set.FlagLong(&o.config, "config", 'c', "Configuration file (JSON or YAML)")
	set.FlagLong(&o.machine, "machine", 'm', "Machine string, e.g. RV64GC")
	set.FlagLong(&o.cores, "cores", 0, "Number of cores")
	set.FlagLong(&o.harts, "harts", 0, "Harts per core")
	set.FlagLong(&o.table, "table", 0, "Instruction cost override file")
	set.FlagLong(&o.maxCycles, "max-cycles", 0, "Stop after this many cycles")
	set.FlagLong(&o.trace, "trace", 't', "Write an instruction trace to file")
	set.FlagLong(&o.logFile, "log", 'l', "Log file")
	set.FlagLong(&o.debug, "debug", 'd', "Log debug to console")
	set.FlagLong(&o.functional, "functional", 'f', "Run without the timing model")
	help := set.BoolLong("help", 'h', "Help")
	return set, help
}

// parseArgs parses the command line. args[0] is the program name. Usage
// is written to usage when parsing fails or help is requested.
func parseArgs(args []string, usage io.Writer) (*options, error) {
	o := &options{}
	set, help := newOptionSet(o)

	if err := set.Getopt(args, nil); err != nil {
		set.PrintUsage(usage)
		return nil, err
	}
	if *help {
		set.PrintUsage(usage)
		return nil, errHelp
	}

	rest := set.Args()
	if len(rest) == 0 {
		set.PrintUsage(usage)
		return nil, errors.New("no program given")
	}
	o.program = rest[0]
	o.argv = rest
	return o, nil
}

// loadConfig reads the configuration file, if any, and applies the
// command-line overrides to it.
func (o *options) loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if o.config != "" {
		var err error
		cfg, err = config.LoadConfig(o.config)
		if err != nil {
			return nil, err
		}
	}

	if o.machine != "" {
		cfg.Machine = o.machine
	}
	if o.cores > 0 {
		cfg.NumCores = o.cores
	}
	if o.harts > 0 {
		cfg.NumHarts = o.harts
	}
	if o.table != "" {
		cfg.Table = o.table
	}
	if o.maxCycles > 0 {
		cfg.MaxCycles = o.maxCycles
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
