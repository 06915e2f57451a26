package emu

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"

	"github.com/sarchlab/revsim/feature"
	"github.com/sarchlab/revsim/insts"
	"github.com/sarchlab/revsim/mem"
)

// ErrMaxInstructions is returned by Step once the instruction limit is hit.
var ErrMaxInstructions = errors.New("max instructions reached")

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the program terminated.
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set if an error occurred during execution.
	Err error
}

// Emulator executes RISC-V programs functionally, one instruction per
// step and without timing. Threads created by clone run to completion
// before their parent resumes.
type Emulator struct {
	feature  *feature.Feature
	memory   *mem.Memory
	table    *insts.Table
	exts     []Extension
	decoder  *insts.Decoder
	syscalls *SyscallTable
	tids     *TIDAllocator
	logger   *slog.Logger

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	threads map[uint32]*Thread
	current *Thread
	pending SyscallResult

	instructionCount uint64
	maxInstructions  uint64 // 0 means no limit

	halted   bool
	exitCode int64
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdin sets the reader behind descriptor 0.
func WithStdin(r io.Reader) EmulatorOption {
	return func(e *Emulator) {
		e.stdin = r
	}
}

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallTable replaces the default ecall layer.
func WithSyscallTable(s *SyscallTable) EmulatorOption {
	return func(e *Emulator) {
		e.syscalls = s
	}
}

// WithTIDAllocator shares a thread id allocator with other components.
func WithTIDAllocator(a *TIDAllocator) EmulatorOption {
	return func(e *Emulator) {
		e.tids = a
	}
}

// WithLogger sets the emulator logger.
func WithLogger(l *slog.Logger) EmulatorOption {
	return func(e *Emulator) {
		e.logger = l
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(limit uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = limit
	}
}

// NewEmulator creates an emulator for machine f over memory m.
func NewEmulator(f *feature.Feature, m *mem.Memory, opts ...EmulatorOption) (*Emulator, error) {
	table, exts, err := BuildTable(f)
	if err != nil {
		return nil, err
	}

	e := &Emulator{
		feature: f,
		memory:  m,
		table:   table,
		exts:    exts,
		decoder: insts.NewDecoder(table, f),
		logger:  slog.Default(),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
		threads: make(map[uint32]*Thread),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.tids == nil {
		e.tids = NewTIDAllocator()
	}
	if e.syscalls == nil {
		fds := NewFDTable(e.stdin, e.stdout, e.stderr)
		e.syscalls = NewSyscallTable(m, fds, e.tids, WithSyscallLogger(e.logger))
	}

	return e, nil
}

// Start creates the root thread at entry with stack pointer sp.
func (e *Emulator) Start(entry, sp uint64) *Thread {
	regs := NewRegFile(e.feature.XLEN(), e.feature.Has(feature.FlagD))
	regs.PC = entry
	regs.SetX(regSP, sp)

	t := NewThread(e.tids.Next(), 0, regs)
	t.State = ThreadRunning
	e.threads[t.ID] = t
	e.current = t
	return t
}

// RegFile returns the register file of the running thread.
func (e *Emulator) RegFile() *RegFile {
	if e.current == nil {
		return nil
	}
	return e.current.Regs
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *mem.Memory { return e.memory }

// Table returns the instruction table.
func (e *Emulator) Table() *insts.Table { return e.table }

// Current returns the running thread.
func (e *Emulator) Current() *Thread { return e.current }

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 { return e.instructionCount }

// Alive implements ThreadEnv.
func (e *Emulator) Alive(tid uint32) bool {
	t, ok := e.threads[tid]
	return ok && t.State != ThreadDone
}

// LiveChild implements ThreadEnv.
func (e *Emulator) LiveChild(parent uint32) (uint32, bool) {
	for _, id := range e.threadIDs() {
		if t := e.threads[id]; t.ParentID == parent && t.State != ThreadDone {
			return id, true
		}
	}
	return 0, false
}

func (e *Emulator) threadIDs() []uint32 {
	ids := make([]uint32, 0, len(e.threads))
	for id := range e.threads {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Fetch reads the instruction word at pc without faulting on a trailing
// 16-bit instruction.
func Fetch(m Memory, pc uint64) (uint32, error) {
	lo, err := m.FetchUint(pc, 2)
	if err != nil {
		return 0, err
	}
	if insts.IsCompressed(uint32(lo)) {
		return uint32(lo), nil
	}
	w, err := m.FetchUint(pc, 4)
	return uint32(w), err
}

// Step executes a single instruction of the running thread.
func (e *Emulator) Step() StepResult {
	if e.halted {
		return StepResult{Exited: true, ExitCode: e.exitCode}
	}
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: ErrMaxInstructions}
	}

	t := e.current
	if t == nil {
		return StepResult{Err: fmt.Errorf("no runnable thread: %w", ErrNoSuchThread)}
	}
	regs := t.Regs

	if regs.PC == 0 {
		return e.finish(t, SyscallResult{Exited: true, ExitCode: regs.SignedX(regA0)})
	}

	word, err := Fetch(e.memory, regs.PC)
	if err != nil {
		return StepResult{Err: err}
	}
	inst, err := e.decoder.Decode(word, regs.PC)
	if err != nil {
		return StepResult{Err: err}
	}

	e.pending = SyscallResult{}
	ctx := &ExecContext{
		Feature: e.feature,
		Regs:    regs,
		Mem:     e.memory,
		Hart:    0,
		Cycle:   e.instructionCount,
		Time:    e.instructionCount,
		Instret: e.instructionCount,
		Logger:  e.logger,
		Ecall: func(ctx *ExecContext) error {
			res, err := e.syscalls.Handle(&SyscallCall{Ctx: ctx, Thread: t, Env: e, PC: inst.PC})
			e.pending = res
			return err
		},
	}

	if err := Exec(e.table, e.exts, ctx, inst); err != nil {
		return StepResult{Err: err}
	}
	e.instructionCount++

	return e.finish(t, e.pending)
}

// finish applies the thread-level effects of an ecall.
func (e *Emulator) finish(t *Thread, res SyscallResult) StepResult {
	switch {
	case res.Exited:
		return e.exit(t, res)
	case res.NewThread != nil:
		child := res.NewThread
		e.threads[child.ID] = child
		t.State = ThreadBlocked
		t.WaitingToJoinTID = child.ID
		child.State = ThreadRunning
		e.current = child
	case res.JoinTID != 0:
		t.State = ThreadBlocked
		t.WaitingToJoinTID = res.JoinTID
		if err := e.schedule(t); err != nil {
			return StepResult{Err: err}
		}
	}
	return StepResult{}
}

func (e *Emulator) exit(t *Thread, res SyscallResult) StepResult {
	t.State = ThreadDone
	t.ExitCode = res.ExitCode
	e.syscalls.RecordExit(t)
	if t.OwnsStack {
		e.memory.RemoveThreadMem(t.StackHandle)
	}
	delete(e.threads, t.ID)

	for _, other := range e.threads {
		if other.State == ThreadBlocked && other.WaitingToJoinTID == t.ID {
			other.State = ThreadReady
			other.WaitingToJoinTID = 0
		}
	}

	e.logger.Debug("thread exited", "tid", t.ID, "code", res.ExitCode)

	if res.ExitGroup || t.IsRoot() {
		e.halted = true
		e.exitCode = res.ExitCode
		e.current = nil
		return StepResult{Exited: true, ExitCode: res.ExitCode}
	}

	if err := e.schedule(t); err != nil {
		return StepResult{Err: err}
	}
	return StepResult{}
}

// schedule picks the next thread after prev stops running, preferring its
// parent.
func (e *Emulator) schedule(prev *Thread) error {
	e.current = nil
	if p, ok := e.threads[prev.ParentID]; ok && p.State == ThreadReady {
		e.current = p
	} else {
		for _, id := range e.threadIDs() {
			if t := e.threads[id]; t.State == ThreadReady {
				e.current = t
				break
			}
		}
	}

	if e.current == nil {
		return fmt.Errorf("all threads blocked after thread %d: %w", prev.ID, ErrNoSuchThread)
	}
	e.current.State = ThreadRunning
	return nil
}

// Run executes instructions until the program exits or an error occurs.
// Returns the exit code (-1 if error).
func (e *Emulator) Run() int64 {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode
		}
		if result.Err != nil {
			_, _ = fmt.Fprintf(e.stderr, "Emulation error: %v\n", result.Err)
			return -1
		}
	}
}
