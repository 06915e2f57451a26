package emu

import (
	"errors"
	"io"
	"os"
	"sync"
)

// ErrBadFD is returned for a descriptor that is not open.
var ErrBadFD = errors.New("bad file descriptor")

// FileDescriptor is one open guest descriptor. Standard streams are backed
// by host readers and writers, everything else by a host file.
type FileDescriptor struct {
	Path  string
	Flags int

	file *os.File
	in   io.Reader
	out  io.Writer
}

// FDTable maps guest descriptors to host streams. It is shared by every
// thread of a run.
type FDTable struct {
	mu  sync.Mutex
	fds map[uint64]*FileDescriptor
}

// NewFDTable creates a table with descriptors 0, 1 and 2 bound to the given
// streams. A nil stream reads as EOF or discards writes.
func NewFDTable(stdin io.Reader, stdout, stderr io.Writer) *FDTable {
	if stdin == nil {
		stdin = eofReader{}
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	return &FDTable{fds: map[uint64]*FileDescriptor{
		0: {Path: "stdin", in: stdin},
		1: {Path: "stdout", out: stdout},
		2: {Path: "stderr", out: stderr},
	}}
}

type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

// Open opens a host file on the lowest free descriptor.
func (t *FDTable) Open(path string, flags int, mode os.FileMode) (uint64, error) {
	f, err := os.OpenFile(path, flags, mode)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	fd := uint64(0)
	for t.fds[fd] != nil {
		fd++
	}
	t.fds[fd] = &FileDescriptor{Path: path, Flags: flags, file: f, in: f, out: f}
	return fd, nil
}

// Close releases a descriptor. Standard streams are detached, not closed.
func (t *FDTable) Close(fd uint64) error {
	t.mu.Lock()
	entry, ok := t.fds[fd]
	delete(t.fds, fd)
	t.mu.Unlock()

	if !ok {
		return ErrBadFD
	}
	if entry.file != nil {
		return entry.file.Close()
	}
	return nil
}

// CloseAll closes every host file still open.
func (t *FDTable) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for fd, entry := range t.fds {
		if entry.file != nil {
			_ = entry.file.Close()
		}
		delete(t.fds, fd)
	}
}

// IsOpen checks if a file descriptor is open.
func (t *FDTable) IsOpen(fd uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	_, ok := t.fds[fd]
	return ok
}

func (t *FDTable) get(fd uint64) (*FileDescriptor, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.fds[fd]
	return entry, ok
}

// Read reads from a descriptor.
func (t *FDTable) Read(fd uint64, buf []byte) (int, error) {
	entry, ok := t.get(fd)
	if !ok || entry.in == nil {
		return 0, ErrBadFD
	}
	return entry.in.Read(buf)
}

// Write writes to a descriptor.
func (t *FDTable) Write(fd uint64, buf []byte) (int, error) {
	entry, ok := t.get(fd)
	if !ok || entry.out == nil {
		return 0, ErrBadFD
	}
	return entry.out.Write(buf)
}

// Seek repositions a file descriptor. Standard streams cannot seek.
func (t *FDTable) Seek(fd uint64, offset int64, whence int) (int64, error) {
	entry, ok := t.get(fd)
	if !ok {
		return 0, ErrBadFD
	}
	if entry.file == nil {
		return 0, os.ErrInvalid
	}
	return entry.file.Seek(offset, whence)
}
