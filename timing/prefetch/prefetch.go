// Package prefetch provides the instruction prefetcher. Stream buffers of
// consecutive instruction words are the ways of a fully associative akita
// cache directory with LRU replacement.
package prefetch

import (
	"fmt"

	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// DefaultFirmwareJump is the conventional spin address of an idle hart.
const DefaultFirmwareJump uint64 = 0x10000

// Config sets the geometry of a Prefetcher.
type Config struct {
	// Depth is the number of 32-bit words per stream.
	Depth int
	// Streams is the number of stream buffers.
	Streams int
}

// DefaultConfig returns 16-word streams, four of them.
func DefaultConfig() Config {
	return Config{Depth: 16, Streams: 4}
}

// Memory is the instruction memory a Prefetcher fills from.
type Memory interface {
	FetchUint(addr uint64, size int) (uint64, error)
}

// Stats counts prefetcher activity.
type Stats struct {
	Hits   uint64
	Misses uint64
	Fills  uint64
	Stalls uint64
}

type stream struct {
	halves  []uint16
	valid   []bool
	pending uint32
}

// Prefetcher fetches instruction words for one hart.
type Prefetcher struct {
	config     Config
	blockBytes uint64

	directory *akitacache.DirectoryImpl
	streams   []stream

	memory Memory
	cost   func() uint32
	stats  Stats
}

// New creates a Prefetcher over memory. cost returns the cycles a fill
// takes; nil means fills complete immediately.
func New(config Config, memory Memory, cost func() uint32) (*Prefetcher, error) {
	if config.Depth <= 0 {
		return nil, fmt.Errorf("prefetch depth must be positive, got %d", config.Depth)
	}
	// An instruction straddling two streams needs both resident.
	if config.Streams < 2 {
		return nil, fmt.Errorf("prefetcher needs at least 2 streams, got %d", config.Streams)
	}

	p := &Prefetcher{
		config:     config,
		blockBytes: uint64(config.Depth) * 4,
		directory: akitacache.NewDirectory(
			1,
			config.Streams,
			config.Depth*4,
			akitacache.NewLRUVictimFinder(),
		),
		streams: make([]stream, config.Streams),
		memory:  memory,
		cost:    cost,
	}
	for i := range p.streams {
		p.streams[i].halves = make([]uint16, config.Depth*2)
		p.streams[i].valid = make([]bool, config.Depth*2)
	}
	return p, nil
}

// Config returns the prefetcher geometry.
func (p *Prefetcher) Config() Config { return p.config }

// Stats returns the prefetcher counters.
func (p *Prefetcher) Stats() Stats { return p.stats }

func (p *Prefetcher) base(addr uint64) uint64 {
	return addr / p.blockBytes * p.blockBytes
}

// IsAvail returns the instruction at pc once it is in a stream. A miss
// starts a fill and reports false, as does a fill still in flight. A 32-bit
// instruction at the end of a stream also needs the following stream.
func (p *Prefetcher) IsAvail(pc uint64) (uint32, bool, error) {
	lo, ok, err := p.half(pc)
	if !ok || err != nil {
		return 0, false, err
	}
	if lo&0b11 != 0b11 {
		return uint32(lo), true, nil
	}

	hi, ok, err := p.half(pc + 2)
	if !ok || err != nil {
		return 0, false, err
	}
	return uint32(lo) | uint32(hi)<<16, true, nil
}

// half returns the halfword at addr.
func (p *Prefetcher) half(addr uint64) (uint16, bool, error) {
	base := p.base(addr)
	block := p.directory.Lookup(0, base)
	if block == nil || !block.IsValid {
		p.stats.Misses++
		p.fill(base)
		return 0, false, nil
	}

	s := &p.streams[p.index(block)]
	if s.pending > 0 {
		p.stats.Stalls++
		return 0, false, nil
	}

	off := (addr - base) / 2
	if !s.valid[off] {
		// Past the end of readable memory; report the fault directly.
		_, err := p.memory.FetchUint(addr, 2)
		if err == nil {
			err = fmt.Errorf("instruction at 0x%x not filled", addr)
		}
		return 0, false, err
	}

	p.stats.Hits++
	p.directory.Visit(block)

	h := s.halves[off]
	if off == uint64(len(s.halves)-1) {
		p.prefill(base + p.blockBytes)
	}
	return h, true, nil
}

func (p *Prefetcher) index(block *akitacache.Block) int {
	return block.SetID*p.config.Streams + block.WayID
}

// prefill starts filling the stream at base unless it is already present.
func (p *Prefetcher) prefill(base uint64) {
	if block := p.directory.Lookup(0, base); block != nil && block.IsValid {
		return
	}
	p.fill(base)
}

// fill loads the stream starting at base into the least recently used way.
func (p *Prefetcher) fill(base uint64) {
	victim := p.directory.FindVictim(base)
	s := &p.streams[p.index(victim)]

	for w := 0; w < p.config.Depth; w++ {
		addr := base + uint64(w)*4
		lo, hi := 2*w, 2*w+1
		s.valid[lo], s.valid[hi] = false, false

		if v, err := p.memory.FetchUint(addr, 4); err == nil {
			s.halves[lo], s.halves[hi] = uint16(v), uint16(v>>16)
			s.valid[lo], s.valid[hi] = true, true
			continue
		}
		if v, err := p.memory.FetchUint(addr, 2); err == nil {
			s.halves[lo] = uint16(v)
			s.valid[lo] = true
		}
	}

	s.pending = 0
	if p.cost != nil {
		s.pending = p.cost()
	}

	victim.Tag = base
	victim.IsValid = true
	p.directory.Visit(victim)
	p.stats.Fills++
}

// Tick advances in-flight fills by one cycle.
func (p *Prefetcher) Tick() {
	for i := range p.streams {
		if p.streams[i].pending > 0 {
			p.streams[i].pending--
		}
	}
}

// InvalidateAll drops every stream.
func (p *Prefetcher) InvalidateAll() {
	p.directory.Reset()
	for i := range p.streams {
		p.streams[i].pending = 0
	}
}
