package emu

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/revsim/mem"
)

// ErrNoSuchThread is returned when a thread id does not resolve.
var ErrNoSuchThread = errors.New("no such thread")

// ThreadState is the lifecycle state of a thread.
type ThreadState uint8

// Thread states.
const (
	ThreadStart ThreadState = iota
	ThreadReady
	ThreadRunning
	ThreadBlocked
	ThreadDone
)

var threadStateNames = [...]string{"START", "READY", "RUNNING", "BLOCKED", "DONE"}

func (s ThreadState) String() string {
	if int(s) < len(threadStateNames) {
		return threadStateNames[s]
	}
	return fmt.Sprintf("ThreadState(%d)", uint8(s))
}

// Thread is a software thread with its own architectural state.
type Thread struct {
	ID       uint32
	ParentID uint32
	State    ThreadState
	Regs     *RegFile

	// Stack is the stack and TLS segment owned by the thread.
	Stack       mem.Segment
	StackHandle mem.Handle
	OwnsStack   bool

	// WaitingToJoinTID is the child the thread is blocked on, or zero.
	WaitingToJoinTID uint32
	ExitCode         int64
}

// NewThread creates a thread in the START state.
func NewThread(id, parent uint32, regs *RegFile) *Thread {
	return &Thread{ID: id, ParentID: parent, State: ThreadStart, Regs: regs}
}

// IsRoot reports a thread without a parent.
func (t *Thread) IsRoot() bool { return t.ParentID == 0 }

func (t *Thread) String() string {
	return fmt.Sprintf("thread %d (parent %d, %s, pc 0x%x)", t.ID, t.ParentID, t.State, t.Regs.PC)
}

// TIDAllocator hands out thread ids shared by every core of a run. Ids
// start at 1 so that zero can mean "no thread".
type TIDAllocator struct {
	next atomic.Uint32
}

// NewTIDAllocator creates an allocator whose first id is 1.
func NewTIDAllocator() *TIDAllocator {
	return &TIDAllocator{}
}

// Next returns a fresh id.
func (a *TIDAllocator) Next() uint32 {
	return a.next.Add(1)
}
