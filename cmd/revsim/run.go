package main

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/revsim/config"
	"github.com/sarchlab/revsim/driver"
	"github.com/sarchlab/revsim/emu"
	"github.com/sarchlab/revsim/loader"
	"github.com/sarchlab/revsim/mem"
	"github.com/sarchlab/revsim/timing/core"
)

const (
	regGP = 3
	regTP = 4
	regA0 = 10
	regA1 = 11
)

// streams are the guest's standard descriptors. Statistics go to err.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

// run loads the program named in opts and runs it to completion. It
// returns the guest exit code.
func run(opts *options, log *slog.Logger, s streams) (int64, error) {
	cfg, err := opts.loadConfig()
	if err != nil {
		return -1, err
	}

	prog, err := loader.Load(opts.program)
	if err != nil {
		return -1, err
	}
	log.Info("program loaded", "path", opts.program,
		"entry", fmt.Sprintf("0x%x", prog.EntryPoint), "xlen", prog.XLEN, "segments", len(prog.Segments))

	if opts.functional {
		return runFunctional(cfg, opts, log, s, prog)
	}
	return runTiming(cfg, opts, log, s, prog)
}

func runTiming(cfg *config.Config, opts *options, log *slog.Logger, s streams,
	prog *loader.Program) (int64, error) {
	driverOpts := []driver.Option{driver.WithStdio(s.in, s.out, s.err)}

	var tracer *core.TextTracer
	if opts.trace != "" {
		f, err := os.Create(opts.trace)
		if err != nil {
			return -1, fmt.Errorf("failed to create trace file: %w", err)
		}
		defer f.Close()
		w := bufio.NewWriter(f)
		defer w.Flush()
		tracer = core.NewTextTracer(w)
		driverOpts = append(driverOpts, driver.WithTracer(tracer))
	}

	d, err := driver.FromConfig("RevSim", sim.NewSerialEngine(), cfg, log, driverOpts...)
	if err != nil {
		return -1, err
	}
	if _, err := d.Boot(prog, opts.argv); err != nil {
		return -1, err
	}
	log.Info("simulation started", "machine", cfg.Machine, "cores", cfg.NumCores, "harts", cfg.NumHarts)

	runErr := d.Run()

	fmt.Fprintf(s.err, "\nProgram: %s\n", opts.program)
	fmt.Fprintf(s.err, "Exit code: %d\n", d.ExitCode())
	if err := d.Stats().Report(s.err); err != nil {
		return -1, err
	}

	if runErr != nil {
		return -1, runErr
	}
	if tracer != nil && tracer.Err() != nil {
		return -1, fmt.Errorf("failed to write trace: %w", tracer.Err())
	}
	return d.ExitCode(), nil
}

func runFunctional(cfg *config.Config, opts *options, log *slog.Logger, s streams,
	prog *loader.Program) (int64, error) {
	f, err := cfg.Feature()
	if err != nil {
		return -1, err
	}
	if prog.XLEN != f.XLEN() {
		return -1, fmt.Errorf("program is RV%d but the machine is RV%d", prog.XLEN, f.XLEN())
	}

	m, err := mem.New(cfg.MemConfig(), mem.WithLogger(log), mem.WithSeed(cfg.Seed))
	if err != nil {
		return -1, err
	}
	if err := prog.LoadInto(m); err != nil {
		return -1, err
	}

	e, err := emu.NewEmulator(f, m,
		emu.WithStdin(s.in),
		emu.WithStdout(s.out),
		emu.WithStderr(s.err),
		emu.WithLogger(log),
		emu.WithMaxInstructions(cfg.MaxCycles),
	)
	if err != nil {
		return -1, err
	}

	seg, h, err := m.AddThreadMem()
	if err != nil {
		return -1, err
	}
	sp, err := prog.SetupStack(m, mem.StackPointer(seg), opts.argv)
	if err != nil {
		return -1, err
	}

	t := e.Start(prog.EntryPoint, sp)
	t.Stack, t.StackHandle, t.OwnsStack = seg, h, true
	t.Regs.SetX(regTP, mem.ThreadPointer(seg))
	t.Regs.SetX(regA0, uint64(len(opts.argv)))
	t.Regs.SetX(regA1, sp+uint64(prog.XLEN/8))
	if gp, ok := prog.Symbol(loader.GlobalPointerSymbol); ok {
		t.Regs.SetX(regGP, gp)
	}

	for {
		res := e.Step()
		if res.Err != nil {
			return -1, res.Err
		}
		if res.Exited {
			fmt.Fprintf(s.err, "\nProgram: %s\n", opts.program)
			fmt.Fprintf(s.err, "Exit code: %d\n", res.ExitCode)
			fmt.Fprintf(s.err, "Instructions executed: %d\n", e.InstructionCount())
			return res.ExitCode, nil
		}
	}
}
