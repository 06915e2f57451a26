// Package main is the revsim command. It runs a RISC-V ELF program on the
// cycle-level multi-hart model, or functionally with -f.
package main

import (
	"errors"
	"io"
	"log/slog"
	"os"

	"github.com/sarchlab/revsim/util/logger"
)

func main() {
	os.Exit(start())
}

func start() int {
	opts, err := parseArgs(os.Args, os.Stderr)
	if errors.Is(err, errHelp) {
		return 0
	}
	if err != nil {
		return 2
	}

	var file io.Writer
	if opts.logFile != "" {
		f, err := os.Create(opts.logFile)
		if err != nil {
			slog.Error("failed to create log file", "err", err)
			return 1
		}
		defer f.Close()
		file = f
	}
	programLevel := new(slog.LevelVar)
	programLevel.Set(slog.LevelInfo)
	log := slog.New(logger.NewHandler(file, os.Stderr,
		&slog.HandlerOptions{Level: programLevel}, opts.debug))
	slog.SetDefault(log)

	code, err := run(opts, log, streams{in: os.Stdin, out: os.Stdout, err: os.Stderr})
	if err != nil {
		log.Error(err.Error())
		return 1
	}
	return int(code)
}
