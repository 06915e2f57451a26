package emu

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"

	"github.com/sarchlab/revsim/mem"
)

// ErrUnknownEcall is returned for an ecall number with no handler.
var ErrUnknownEcall = errors.New("unknown ecall")

// RISC-V Linux syscall numbers.
const (
	SyscallOpenat    uint64 = 56
	SyscallClose     uint64 = 57
	SyscallLseek     uint64 = 62
	SyscallRead      uint64 = 63
	SyscallWrite     uint64 = 64
	SyscallExit      uint64 = 93
	SyscallExitGroup uint64 = 94
	SyscallGetpid    uint64 = 172
	SyscallGetppid   uint64 = 173
	SyscallGettid    uint64 = 178
	SyscallBrk       uint64 = 214
	SyscallMunmap    uint64 = 215
	SyscallClone     uint64 = 220
	SyscallMmap      uint64 = 222
	SyscallWait4     uint64 = 260
)

// Linux error codes.
const (
	ENOENT = 2
	EIO    = 5
	EBADF  = 9
	ECHILD = 10
	ENOMEM = 12
	EACCES = 13
	EEXIST = 17
	EINVAL = 22
	ENOSYS = 38
)

// Linux flag values understood by the handlers.
const (
	atFDCWD      = -100
	oAccMode     = 0x3
	oCreat       = 0x40
	oExcl        = 0x80
	oTrunc       = 0x200
	oAppend      = 0x400
	mapAnonymous = 0x20
	cloneSetTLS  = 0x80000
	wNoHang      = 1
)

// Argument and return registers.
const (
	regSP = 2
	regTP = 4
	regA0 = 10
	regA7 = 17
)

// SyscallResult describes the effects of an ecall beyond the caller's
// registers.
type SyscallResult struct {
	// Exited is true if the calling thread terminated.
	Exited bool
	// ExitGroup is true if the whole program terminated.
	ExitGroup bool
	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// NewThread is the thread created by clone.
	NewThread *Thread
	// JoinTID is the thread the caller now waits on, or zero.
	JoinTID uint32
}

// ThreadEnv answers questions about the other threads of a run.
type ThreadEnv interface {
	// Alive reports whether tid names a thread that has not finished.
	Alive(tid uint32) bool
	// LiveChild returns an unfinished child of parent.
	LiveChild(parent uint32) (uint32, bool)
}

// SyscallCall is one environment call in flight.
type SyscallCall struct {
	Ctx    *ExecContext
	Thread *Thread
	Env    ThreadEnv
	// PC is the address of the ecall instruction.
	PC uint64
}

func (c *SyscallCall) arg(i uint8) uint64 { return c.Ctx.Regs.GetX(regA0 + i) }

func (c *SyscallCall) ret(v int64) { c.Ctx.Regs.SetX(regA0, uint64(v)) }

func (c *SyscallCall) fail(errno int) { c.ret(-int64(errno)) }

type syscallFn func(c *SyscallCall) (SyscallResult, error)

type zombie struct {
	tid  uint32
	code int64
}

// SyscallTable services ecalls with a map from syscall number to handler.
type SyscallTable struct {
	mem     *mem.Memory
	fds     *FDTable
	tids    *TIDAllocator
	logger  *slog.Logger
	zombies map[uint32][]zombie

	handlers map[uint64]syscallFn
}

// SyscallOption configures a SyscallTable.
type SyscallOption func(*SyscallTable)

// WithSyscallLogger sets the logger for ecall tracing.
func WithSyscallLogger(l *slog.Logger) SyscallOption {
	return func(s *SyscallTable) {
		s.logger = l
	}
}

// NewSyscallTable creates the ecall layer over memory m.
func NewSyscallTable(m *mem.Memory, fds *FDTable, tids *TIDAllocator, opts ...SyscallOption) *SyscallTable {
	s := &SyscallTable{
		mem:     m,
		fds:     fds,
		tids:    tids,
		logger:  slog.Default(),
		zombies: make(map[uint32][]zombie),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.handlers = map[uint64]syscallFn{
		SyscallOpenat:    s.openat,
		SyscallClose:     s.close,
		SyscallLseek:     s.lseek,
		SyscallRead:      s.read,
		SyscallWrite:     s.write,
		SyscallExit:      s.exit(false),
		SyscallExitGroup: s.exit(true),
		SyscallGetpid:    s.getpid,
		SyscallGetppid:   s.getppid,
		SyscallGettid:    s.getpid,
		SyscallBrk:       s.brk,
		SyscallMunmap:    s.munmap,
		SyscallClone:     s.clone,
		SyscallMmap:      s.mmap,
		SyscallWait4:     s.wait4,
	}
	return s
}

// FDs returns the descriptor table.
func (s *SyscallTable) FDs() *FDTable { return s.fds }

// Handle dispatches the ecall selected by a7.
func (s *SyscallTable) Handle(c *SyscallCall) (SyscallResult, error) {
	num := c.Ctx.Regs.GetX(regA7)
	fn, ok := s.handlers[num]
	if !ok {
		return SyscallResult{}, fmt.Errorf("%w %d at pc 0x%x (thread %d)",
			ErrUnknownEcall, num, c.PC, c.Thread.ID)
	}

	s.logger.Debug("ecall", "num", num, "tid", c.Thread.ID, "a0", c.arg(0), "a1", c.arg(1))
	return fn(c)
}

// RecordExit remembers a finished child so that its parent can reap it.
func (s *SyscallTable) RecordExit(t *Thread) {
	if t.IsRoot() {
		return
	}
	s.zombies[t.ParentID] = append(s.zombies[t.ParentID], zombie{tid: t.ID, code: t.ExitCode})
}

func errnoOf(err error) int {
	switch {
	case errors.Is(err, ErrBadFD):
		return EBADF
	case errors.Is(err, fs.ErrNotExist):
		return ENOENT
	case errors.Is(err, fs.ErrPermission):
		return EACCES
	case errors.Is(err, fs.ErrExist):
		return EEXIST
	case errors.Is(err, fs.ErrInvalid):
		return EINVAL
	}
	return EIO
}

func hostFlags(flags uint64) int {
	var f int
	switch flags & oAccMode {
	case 1:
		f = os.O_WRONLY
	case 2:
		f = os.O_RDWR
	default:
		f = os.O_RDONLY
	}
	if flags&oCreat != 0 {
		f |= os.O_CREATE
	}
	if flags&oExcl != 0 {
		f |= os.O_EXCL
	}
	if flags&oTrunc != 0 {
		f |= os.O_TRUNC
	}
	if flags&oAppend != 0 {
		f |= os.O_APPEND
	}
	return f
}

func (s *SyscallTable) openat(c *SyscallCall) (SyscallResult, error) {
	dirfd := c.Ctx.Regs.SignedX(regA0)
	path, err := s.mem.ReadString(c.arg(1), 4096)
	if err != nil {
		return SyscallResult{}, fmt.Errorf("openat: %w", err)
	}

	if dirfd != atFDCWD && (len(path) == 0 || path[0] != '/') {
		c.fail(EBADF)
		return SyscallResult{}, nil
	}

	fd, err := s.fds.Open(path, hostFlags(c.arg(2)), os.FileMode(c.arg(3)&0o777))
	if err != nil {
		c.fail(errnoOf(err))
		return SyscallResult{}, nil
	}
	c.ret(int64(fd))
	return SyscallResult{}, nil
}

func (s *SyscallTable) close(c *SyscallCall) (SyscallResult, error) {
	if err := s.fds.Close(c.arg(0)); err != nil {
		c.fail(errnoOf(err))
		return SyscallResult{}, nil
	}
	c.ret(0)
	return SyscallResult{}, nil
}

func (s *SyscallTable) lseek(c *SyscallCall) (SyscallResult, error) {
	pos, err := s.fds.Seek(c.arg(0), c.Ctx.Regs.SignedX(regA0+1), int(c.arg(2)))
	if err != nil {
		c.fail(errnoOf(err))
		return SyscallResult{}, nil
	}
	c.ret(pos)
	return SyscallResult{}, nil
}

func (s *SyscallTable) read(c *SyscallCall) (SyscallResult, error) {
	buf := make([]byte, c.arg(2))
	n, err := s.fds.Read(c.arg(0), buf)
	if err != nil && !errors.Is(err, io.EOF) && n == 0 {
		c.fail(errnoOf(err))
		return SyscallResult{}, nil
	}

	if n > 0 {
		if err := s.mem.Write(c.Ctx.Hart, c.arg(1), buf[:n]); err != nil {
			return SyscallResult{}, fmt.Errorf("read: %w", err)
		}
	}
	c.ret(int64(n))
	return SyscallResult{}, nil
}

func (s *SyscallTable) write(c *SyscallCall) (SyscallResult, error) {
	buf := make([]byte, c.arg(2))
	if err := s.mem.Read(c.arg(1), buf); err != nil {
		return SyscallResult{}, fmt.Errorf("write: %w", err)
	}

	n, err := s.fds.Write(c.arg(0), buf)
	if err != nil {
		c.fail(errnoOf(err))
		return SyscallResult{}, nil
	}
	c.ret(int64(n))
	return SyscallResult{}, nil
}

func (s *SyscallTable) exit(group bool) syscallFn {
	return func(c *SyscallCall) (SyscallResult, error) {
		code := c.Ctx.Regs.SignedX(regA0)
		return SyscallResult{Exited: true, ExitGroup: group, ExitCode: code}, nil
	}
}

func (s *SyscallTable) getpid(c *SyscallCall) (SyscallResult, error) {
	c.ret(int64(c.Thread.ID))
	return SyscallResult{}, nil
}

func (s *SyscallTable) getppid(c *SyscallCall) (SyscallResult, error) {
	c.ret(int64(c.Thread.ParentID))
	return SyscallResult{}, nil
}

func (s *SyscallTable) brk(c *SyscallCall) (SyscallResult, error) {
	cur := s.mem.HeapEnd()
	want := c.arg(0)
	if want <= cur {
		c.ret(int64(cur))
		return SyscallResult{}, nil
	}

	end, err := s.mem.ExpandHeap(want - cur)
	if err != nil {
		s.logger.Debug("brk failed", "want", want, "err", err)
		end = cur
	}
	c.ret(int64(end))
	return SyscallResult{}, nil
}

func (s *SyscallTable) mmap(c *SyscallCall) (SyscallResult, error) {
	hint, length, flags := c.arg(0), c.arg(1), c.arg(3)
	if length == 0 || flags&mapAnonymous == 0 {
		c.fail(EINVAL)
		return SyscallResult{}, nil
	}

	var addr uint64
	var err error
	if hint != 0 {
		addr, err = s.mem.AllocMemAt(hint, length)
	}
	if hint == 0 || err != nil {
		addr, err = s.mem.AllocMem(length)
	}
	if err != nil {
		c.fail(ENOMEM)
		return SyscallResult{}, nil
	}

	if err := s.mem.Write(c.Ctx.Hart, addr, make([]byte, length)); err != nil {
		return SyscallResult{}, fmt.Errorf("mmap: %w", err)
	}
	c.ret(int64(addr))
	return SyscallResult{}, nil
}

func (s *SyscallTable) munmap(c *SyscallCall) (SyscallResult, error) {
	if err := s.mem.DeallocMem(c.arg(0), c.arg(1)); err != nil {
		s.logger.Debug("munmap failed", "err", err)
		c.fail(EINVAL)
		return SyscallResult{}, nil
	}
	c.ret(0)
	return SyscallResult{}, nil
}

// clone creates a child that runs while the parent waits for it to exit.
func (s *SyscallTable) clone(c *SyscallCall) (SyscallResult, error) {
	flags, newSP, tls := c.arg(0), c.arg(1), c.arg(3)
	parent := c.Thread

	regs := c.Ctx.Regs.Clone()
	regs.PC = c.Ctx.NextPC
	child := NewThread(s.tids.Next(), parent.ID, regs)

	if newSP != 0 {
		regs.SetX(regSP, newSP)
	} else {
		seg, h, err := s.mem.AddThreadMem()
		if err != nil {
			return SyscallResult{}, fmt.Errorf("clone: %w", err)
		}
		child.Stack, child.StackHandle, child.OwnsStack = seg, h, true
		regs.SetX(regSP, mem.StackPointer(seg))
		regs.SetX(regTP, mem.ThreadPointer(seg))
	}
	if flags&cloneSetTLS != 0 {
		regs.SetX(regTP, tls)
	}

	regs.SetX(regA0, 0)
	c.ret(int64(child.ID))

	s.logger.Debug("clone", "parent", parent.ID, "child", child.ID)
	return SyscallResult{NewThread: child, JoinTID: child.ID}, nil
}

// wait4 reaps a finished child. When the child is still running the caller
// blocks and the ecall re-executes once it is woken.
func (s *SyscallTable) wait4(c *SyscallCall) (SyscallResult, error) {
	pid := c.Ctx.Regs.SignedX(regA0)
	status := c.arg(1)
	options := c.arg(2)
	self := c.Thread.ID

	list := s.zombies[self]
	for i, z := range list {
		if pid != -1 && uint32(pid) != z.tid {
			continue
		}
		s.zombies[self] = append(list[:i], list[i+1:]...)
		if status != 0 {
			code := uint64(z.code&0xFF) << 8
			if err := s.mem.WriteUint(c.Ctx.Hart, status, 4, code); err != nil {
				return SyscallResult{}, fmt.Errorf("wait4: %w", err)
			}
		}
		c.ret(int64(z.tid))
		return SyscallResult{}, nil
	}

	var target uint32
	switch {
	case c.Env == nil:
	case pid == -1:
		target, _ = c.Env.LiveChild(self)
	case pid > 0 && c.Env.Alive(uint32(pid)):
		target = uint32(pid)
	}
	if target == 0 {
		c.fail(ECHILD)
		return SyscallResult{}, nil
	}
	if options&wNoHang != 0 {
		c.ret(0)
		return SyscallResult{}, nil
	}

	c.Ctx.NextPC = c.PC
	return SyscallResult{JoinTID: target}, nil
}
