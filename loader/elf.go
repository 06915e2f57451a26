// Package loader loads RISC-V ELF executables into simulated memory and
// lays out the initial stack.
package loader

import (
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/sarchlab/revsim/mem"
)

// SegmentFlags represents memory protection flags for a segment.
type SegmentFlags uint32

const (
	// SegmentFlagExecute indicates the segment is executable.
	SegmentFlagExecute SegmentFlags = 1 << iota
	// SegmentFlagWrite indicates the segment is writable.
	SegmentFlagWrite
	// SegmentFlagRead indicates the segment is readable.
	SegmentFlagRead
)

// GlobalPointerSymbol is the linker symbol gp is initialized from.
const GlobalPointerSymbol = "__global_pointer$"

// Segment represents a loadable segment from an ELF binary.
type Segment struct {
	// VirtAddr is the virtual address where this segment should be loaded.
	VirtAddr uint64
	// Data contains the segment contents from the file.
	Data []byte
	// MemSize is the size in memory (may be larger than len(Data) for BSS).
	MemSize uint64
	// Flags contains the segment protection flags.
	Flags SegmentFlags
}

// Program is a parsed RISC-V executable.
type Program struct {
	// EntryPoint is the virtual address where execution should begin.
	EntryPoint uint64
	// XLEN is 32 or 64, from the ELF class.
	XLEN int
	// Segments contains all loadable segments from the ELF file.
	Segments []Segment
	// Symbols maps symbol names to values.
	Symbols map[string]uint64
	// StaticEnd is the first address past every loadable segment.
	StaticEnd uint64
}

// Load parses a RISC-V ELF32 or ELF64 executable.
func Load(path string) (*Program, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ELF file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if f.Machine != elf.EM_RISCV {
		return nil, fmt.Errorf("not a RISC-V ELF file (machine type: %v)", f.Machine)
	}
	if f.Data != elf.ELFDATA2LSB {
		return nil, fmt.Errorf("not a little-endian ELF file")
	}

	prog := &Program{
		EntryPoint: f.Entry,
		Symbols:    make(map[string]uint64),
	}
	switch f.Class {
	case elf.ELFCLASS32:
		prog.XLEN = 32
	case elf.ELFCLASS64:
		prog.XLEN = 64
	default:
		return nil, fmt.Errorf("unsupported ELF class %v", f.Class)
	}

	for _, phdr := range f.Progs {
		if phdr.Type != elf.PT_LOAD {
			continue
		}

		data := make([]byte, phdr.Filesz)
		if phdr.Filesz > 0 {
			n, err := phdr.ReadAt(data, 0)
			if err != nil && err != io.EOF {
				return nil, fmt.Errorf("failed to read segment at 0x%x: %w", phdr.Vaddr, err)
			}
			if uint64(n) != phdr.Filesz {
				return nil, fmt.Errorf("short read for segment at 0x%x: got %d bytes, expected %d",
					phdr.Vaddr, n, phdr.Filesz)
			}
		}

		var flags SegmentFlags
		if phdr.Flags&elf.PF_X != 0 {
			flags |= SegmentFlagExecute
		}
		if phdr.Flags&elf.PF_W != 0 {
			flags |= SegmentFlagWrite
		}
		if phdr.Flags&elf.PF_R != 0 {
			flags |= SegmentFlagRead
		}

		prog.Segments = append(prog.Segments, Segment{
			VirtAddr: phdr.Vaddr,
			Data:     data,
			MemSize:  max(phdr.Memsz, phdr.Filesz),
			Flags:    flags,
		})
		prog.StaticEnd = max(prog.StaticEnd, phdr.Vaddr+max(phdr.Memsz, phdr.Filesz))
	}

	syms, err := f.Symbols()
	if err != nil && !errors.Is(err, elf.ErrNoSymbols) {
		return nil, fmt.Errorf("failed to read symbols: %w", err)
	}
	for _, s := range syms {
		if s.Name != "" {
			prog.Symbols[s.Name] = s.Value
		}
	}

	return prog, nil
}

// Symbol looks up a symbol value.
func (p *Program) Symbol(name string) (uint64, bool) {
	v, ok := p.Symbols[name]
	return v, ok
}

// LoadInto maps every segment into m, copies its contents and places the
// heap after the static data. Memory beyond the file contents reads as
// zero.
func (p *Program) LoadInto(m *mem.Memory) error {
	for _, seg := range p.Segments {
		if seg.MemSize == 0 {
			continue
		}
		m.AddRoundedMemSeg(seg.VirtAddr, seg.MemSize, m.PageSize())
		if len(seg.Data) == 0 {
			continue
		}
		if err := m.Write(mem.NoHart, seg.VirtAddr, seg.Data); err != nil {
			return fmt.Errorf("failed to load segment at 0x%x: %w", seg.VirtAddr, err)
		}
	}
	m.SetHeapStart(p.StaticEnd)
	return nil
}

// SetupStack writes argc, the argv pointers, a NULL, an empty envp and then
// the argument strings below top. It returns the new stack pointer, which
// points at argc and is 16-byte aligned.
func (p *Program) SetupStack(m *mem.Memory, top uint64, argv []string) (uint64, error) {
	word := uint64(p.XLEN / 8)

	strs := make([]uint64, len(argv))
	addr := top
	for i := len(argv) - 1; i >= 0; i-- {
		addr -= uint64(len(argv[i]) + 1)
		strs[i] = addr
	}

	// argc, argv[0..n-1], NULL, envp NULL
	n := uint64(len(argv)) + 3
	sp := (addr - n*word) &^ 15

	block := make([]byte, 0, n*word)
	put := func(v uint64) {
		if word == 4 {
			block = binary.LittleEndian.AppendUint32(block, uint32(v))
		} else {
			block = binary.LittleEndian.AppendUint64(block, v)
		}
	}
	put(uint64(len(argv)))
	for _, s := range strs {
		put(s)
	}
	put(0)
	put(0)

	if err := m.Write(mem.NoHart, sp, block); err != nil {
		return 0, fmt.Errorf("failed to write argv: %w", err)
	}
	for i, s := range argv {
		if err := m.Write(mem.NoHart, strs[i], append([]byte(s), 0)); err != nil {
			return 0, fmt.Errorf("failed to write argument %d: %w", i, err)
		}
	}
	return sp, nil
}
