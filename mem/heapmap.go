package mem

// ChunkSize is the granularity of the heap occupancy bitmap.
const ChunkSize = 64

// heapMap tracks which 64-byte chunks of the heap region are allocated.
// It grows with sbrk and answers validity queries independently of the
// segment lists.
type heapMap struct {
	base uint64
	bits []uint64
	n    uint64
}

func newHeapMap(base uint64) *heapMap {
	return &heapMap{base: base}
}

// sbrk grows or shrinks the tracked region by increment bytes, rounded up
// to whole chunks when growing.
func (m *heapMap) sbrk(increment int64) {
	switch {
	case increment > 0:
		m.resize(m.n + (uint64(increment)+ChunkSize-1)/ChunkSize)
	case increment < 0:
		drop := uint64(-increment) / ChunkSize
		if drop > m.n {
			drop = m.n
		}
		m.resize(m.n - drop)
	}
}

func (m *heapMap) resize(n uint64) {
	words := (n + 63) / 64
	for uint64(len(m.bits)) < words {
		m.bits = append(m.bits, 0)
	}
	m.bits = m.bits[:words]
	if n < m.n && n%64 != 0 {
		m.bits[words-1] &= (1 << (n % 64)) - 1
	}
	m.n = n
}

func (m *heapMap) chunks(addr, size uint64) (first, last uint64, ok bool) {
	if addr < m.base || size == 0 {
		return 0, 0, false
	}
	first = (addr - m.base) / ChunkSize
	last = (addr + size - 1 - m.base) / ChunkSize
	if last >= m.n {
		return 0, 0, false
	}
	return first, last, true
}

// mark sets or clears the chunks covering [addr, addr+size).
func (m *heapMap) mark(addr, size uint64, used bool) {
	first, last, ok := m.chunks(addr, size)
	if !ok {
		return
	}
	for c := first; c <= last; c++ {
		if used {
			m.bits[c/64] |= 1 << (c % 64)
		} else {
			m.bits[c/64] &^= 1 << (c % 64)
		}
	}
}

// valid reports whether the chunk holding addr is allocated.
func (m *heapMap) valid(addr uint64) bool {
	c, _, ok := m.chunks(addr, 1)
	if !ok {
		return false
	}
	return m.bits[c/64]&(1<<(c%64)) != 0
}

// size returns the tracked region in bytes.
func (m *heapMap) size() uint64 { return m.n * ChunkSize }
