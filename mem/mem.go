// Package mem provides the simulated virtual memory: demand-paged
// translation through an LRU TLB, lazily backed physical pages, segment
// lists, a first-fit heap, and LR/SC and AMO support.
package mem

import (
	"fmt"
	"log/slog"
	"math/bits"
	"math/rand/v2"
	"sync"
)

// Default layout parameters.
const (
	DefaultPageSize    = 4096
	DefaultTLBSize     = 32
	DefaultMaxHeapSize = 32 << 20
	DefaultMemSize     = 1 << 30

	// StackSize is the size of each thread stack.
	StackSize = 1 << 20
	// TLSSize is the size of the thread-local block above each stack.
	TLSSize = 64
	// topGuard is left unused at the top of the address space.
	topGuard = 1024
)

// Config sets the geometry of a Memory.
type Config struct {
	MemSize     uint64
	PageSize    uint64
	TLBSize     int
	MaxHeapSize uint64
}

// DefaultConfig returns the default geometry.
func DefaultConfig() Config {
	return Config{
		MemSize:     DefaultMemSize,
		PageSize:    DefaultPageSize,
		TLBSize:     DefaultTLBSize,
		MaxHeapSize: DefaultMaxHeapSize,
	}
}

// Stats counts memory activity.
type Stats struct {
	TLBHits        uint64
	TLBMisses      uint64
	BytesRead      uint64
	BytesWritten   uint64
	FloatsRead     uint64
	FloatsWritten  uint64
	DoublesRead    uint64
	DoublesWritten uint64
}

type pageEntry struct {
	phys uint64
	used bool
}

type reservation struct {
	addr uint64
	size uint64
}

// Memory is the address space shared by every hart of one or more cores.
// All exported methods serialize on one mutex.
type Memory struct {
	mu sync.Mutex

	cfg       Config
	pageShift uint

	pageMap map[uint64]pageEntry
	pages   [][]byte
	tlb     *TLB

	segs arena

	heapStart  uint64
	heapEnd    uint64
	heapMap    *heapMap
	threadTop  uint64
	reserved   map[int]reservation
	faultArmed bool
	faultWidth uint

	rng    *rand.Rand
	stats  Stats
	logger *slog.Logger
}

// Option configures a Memory.
type Option func(*Memory)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Memory) {
		m.logger = l
	}
}

// WithSeed seeds the random source used for injected faults.
func WithSeed(seed uint64) Option {
	return func(m *Memory) {
		m.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// New creates a Memory.
func New(cfg Config, opts ...Option) (*Memory, error) {
	if cfg.PageSize == 0 || cfg.PageSize&(cfg.PageSize-1) != 0 {
		return nil, fmt.Errorf("page size %d is not a power of two", cfg.PageSize)
	}
	if cfg.TLBSize <= 0 {
		return nil, fmt.Errorf("tlb size must be positive, got %d", cfg.TLBSize)
	}
	if cfg.MaxHeapSize < ChunkSize {
		return nil, fmt.Errorf("max heap size must be at least %d bytes, got %d",
			ChunkSize, cfg.MaxHeapSize)
	}
	if cfg.MemSize < StackSize+TLSSize+topGuard {
		return nil, fmt.Errorf("memory size %d cannot hold a thread stack", cfg.MemSize)
	}

	cfg.MaxHeapSize &^= ChunkSize - 1

	m := &Memory{
		cfg:       cfg,
		pageShift: uint(bits.TrailingZeros64(cfg.PageSize)),
		pageMap:   make(map[uint64]pageEntry),
		tlb:       NewTLB(cfg.TLBSize, cfg.PageSize),
		heapMap:   newHeapMap(0),
		threadTop: cfg.MemSize - topGuard,
		reserved:  make(map[int]reservation),
		rng:       rand.New(rand.NewPCG(1, 2)),
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(m)
	}

	return m, nil
}

// Config returns the geometry the memory was built with.
func (m *Memory) Config() Config { return m.cfg }

// PageSize returns the page size in bytes.
func (m *Memory) PageSize() uint64 { return m.cfg.PageSize }

// Stats returns a snapshot of the counters.
func (m *Memory) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// TLB exposes the translation cache for inspection.
func (m *Memory) TLB() *TLB { return m.tlb }

// FlushTLB invalidates every cached translation.
func (m *Memory) FlushTLB() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tlb.Flush()
}

// InjectFault arms a one-shot fault that ORs width random bits into the
// next data read. Instruction fetches do not take it.
func (m *Memory) InjectFault(width uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faultArmed = true
	m.faultWidth = width
}

// Segments lists every segment of kind in address order.
func (m *Memory) Segments(kind SegKind) []Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segs.sorted(kind)
}

// IsValidHeapAddr reports whether addr lies in an allocated heap chunk.
func (m *Memory) IsValidHeapAddr(addr uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heapMap.valid(addr)
}
