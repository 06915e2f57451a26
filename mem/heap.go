package mem

import (
	"fmt"
	"sort"
)

func roundUp(v, to uint64) uint64 { return (v + to - 1) &^ (to - 1) }

func roundDown(v, to uint64) uint64 { return v &^ (to - 1) }

// AddMemSeg registers a static segment.
func (m *Memory) AddMemSeg(base, size uint64) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.segs.add(SegStatic, Segment{Base: base, Size: size})
}

// AddRoundedMemSeg registers a static segment widened to multiples of
// roundTo. A range that overlaps existing static segments is merged into
// them instead of duplicating them. It returns the rounded base.
func (m *Memory) AddRoundedMemSeg(base, size, roundTo uint64) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if roundTo == 0 {
		roundTo = m.cfg.PageSize
	}
	seg := Segment{Base: roundDown(base, roundTo)}
	seg.Size = roundUp(base+size, roundTo) - seg.Base

	merged := false
	for {
		var hit Handle = -1
		for _, h := range m.segs.list(SegStatic) {
			if m.segs.get(h).Overlaps(seg) {
				hit = h
				break
			}
		}
		if hit < 0 {
			break
		}
		old := m.segs.get(hit)
		lo, hi := min(old.Base, seg.Base), max(old.Top(), seg.Top())
		seg = Segment{Base: lo, Size: hi - lo}
		m.segs.remove(hit)
		merged = true
	}

	m.segs.add(SegStatic, seg)
	m.logger.Debug("static segment", "segment", seg.String(), "merged", merged)
	return seg.Base
}

// SetHeapStart places the start of the heap, typically at the end of
// static data. The address is rounded up to the chunk size.
func (m *Memory) SetHeapStart(addr uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	addr = roundUp(addr, ChunkSize)
	m.heapStart = addr
	m.heapEnd = addr
	m.heapMap = newHeapMap(addr)
}

// HeapStart returns the first heap address.
func (m *Memory) HeapStart() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heapStart
}

// HeapEnd returns the current program break.
func (m *Memory) HeapEnd() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.heapEnd
}

func (m *Memory) grow(size uint64) (uint64, error) {
	if m.heapEnd+size-m.heapStart > m.cfg.MaxHeapSize {
		return 0, fmt.Errorf("growing heap by %d bytes past 0x%x (limit %d): %w",
			size, m.heapEnd, m.cfg.MaxHeapSize, ErrHeapExhausted)
	}
	base := m.heapEnd
	m.heapEnd += size
	m.heapMap.sbrk(int64(size))
	return base, nil
}

// growTo moves the program break past a hinted range that reaches above
// it inside the heap region. Skipped space below the range becomes free.
func (m *Memory) growTo(seg Segment) error {
	ceiling := m.heapStart + m.cfg.MaxHeapSize
	if seg.Base < m.heapStart || seg.Base >= ceiling || seg.Top() <= m.heapEnd {
		return nil
	}
	if seg.Top() > ceiling {
		return &HeapError{Op: "AllocMemAt", Addr: seg.Base, Size: seg.Size,
			Reason: "range crosses the heap ceiling"}
	}

	old := m.heapEnd
	if _, err := m.grow(roundUp(seg.Top(), ChunkSize) - old); err != nil {
		return err
	}
	if seg.Base > old {
		m.insertFree(Segment{Base: old, Size: seg.Base - old})
	}
	if m.heapEnd > seg.Top() {
		m.insertFree(Segment{Base: seg.Top(), Size: m.heapEnd - seg.Top()})
	}
	return nil
}

// ExpandHeap moves the program break up by size bytes and returns the new
// break. The grown range becomes one live heap segment.
func (m *Memory) ExpandHeap(size uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size = roundUp(size, ChunkSize)
	if size == 0 {
		return m.heapEnd, nil
	}

	base, err := m.grow(size)
	if err != nil {
		return 0, err
	}
	m.segs.add(SegHeap, Segment{Base: base, Size: size})
	m.heapMap.mark(base, size, true)
	return m.heapEnd, nil
}

// freeByAddr returns the free handles ordered by base address.
func (m *Memory) freeByAddr() []Handle {
	hs := append([]Handle(nil), m.segs.list(SegFree)...)
	sort.Slice(hs, func(i, j int) bool {
		return m.segs.get(hs[i]).Base < m.segs.get(hs[j]).Base
	})
	return hs
}

// AllocMem allocates size bytes. The lowest free segment that fits is
// split or consumed; otherwise the heap is extended.
func (m *Memory) AllocMem(size uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size = roundUp(max(size, 1), ChunkSize)

	for _, h := range m.freeByAddr() {
		free := m.segs.get(h)
		switch {
		case free.Size == size:
			m.segs.remove(h)
		case free.Size > size:
			m.segs.set(h, Segment{Base: free.Base + size, Size: free.Size - size})
		default:
			continue
		}
		m.segs.add(SegHeap, Segment{Base: free.Base, Size: size})
		m.heapMap.mark(free.Base, size, true)
		return free.Base, nil
	}

	base, err := m.grow(size)
	if err != nil {
		return 0, err
	}
	m.segs.add(SegHeap, Segment{Base: base, Size: size})
	m.heapMap.mark(base, size, true)
	return base, nil
}

// AllocMemAt allocates [addr, addr+size), carving it out of any free
// segments it overlaps. It fails when the range touches a live segment.
func (m *Memory) AllocMemAt(addr, size uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size = roundUp(max(size, 1), ChunkSize)
	seg := Segment{Base: addr, Size: size}

	if seg.Top() > m.cfg.MemSize || seg.Top() < addr {
		return 0, &HeapError{Op: "AllocMemAt", Addr: addr, Size: size,
			Reason: "range exceeds the address space"}
	}
	if m.segs.overlapsLive(seg) {
		return 0, &HeapError{Op: "AllocMemAt", Addr: addr, Size: size,
			Reason: "range overlaps a live segment"}
	}
	if err := m.growTo(seg); err != nil {
		return 0, err
	}

	for _, h := range m.freeByAddr() {
		free := m.segs.get(h)
		if !free.Overlaps(seg) {
			continue
		}
		m.segs.remove(h)
		if free.Base < seg.Base {
			m.segs.add(SegFree, Segment{Base: free.Base, Size: seg.Base - free.Base})
		}
		if free.Top() > seg.Top() {
			m.segs.add(SegFree, Segment{Base: seg.Top(), Size: free.Top() - seg.Top()})
		}
	}

	m.segs.add(SegHeap, seg)
	m.heapMap.mark(addr, size, true)
	return addr, nil
}

// DeallocMem frees [addr, addr+size). The range must start at the base of
// a heap segment and must not run past it. The segment shrinks from the
// front or disappears, and the freed range joins abutting free segments.
func (m *Memory) DeallocMem(addr, size uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	size = roundUp(max(size, 1), ChunkSize)

	var h Handle = -1
	for _, x := range m.segs.list(SegHeap) {
		if m.segs.get(x).Base == addr {
			h = x
			break
		}
	}
	if h < 0 {
		reason := "no segment at address"
		if _, ok := m.segs.findLive(addr, 1); ok {
			reason = "address is not the base of a heap segment"
		}
		return &HeapError{Op: "DeallocMem", Addr: addr, Size: size, Reason: reason}
	}

	seg := m.segs.get(h)
	if size > seg.Size {
		return &HeapError{Op: "DeallocMem", Addr: addr, Size: size,
			Reason: fmt.Sprintf("range spans past segment %s", seg)}
	}
	if size == seg.Size {
		m.segs.remove(h)
	} else {
		m.segs.set(h, Segment{Base: addr + size, Size: seg.Size - size})
	}

	m.insertFree(Segment{Base: addr, Size: size})
	m.heapMap.mark(addr, size, false)
	m.dropPages(addr, size)
	return nil
}

// insertFree adds seg to the free list, merging it with the free segments
// that end at its base or begin at its top.
func (m *Memory) insertFree(seg Segment) {
	prev, next := Handle(-1), Handle(-1)
	for _, h := range m.segs.list(SegFree) {
		s := m.segs.get(h)
		if s.Top() == seg.Base {
			prev = h
		}
		if s.Base == seg.Top() {
			next = h
		}
	}

	switch {
	case prev >= 0 && next >= 0:
		p, n := m.segs.get(prev), m.segs.get(next)
		m.segs.set(prev, Segment{Base: p.Base, Size: p.Size + seg.Size + n.Size})
		m.segs.remove(next)
	case prev >= 0:
		p := m.segs.get(prev)
		m.segs.set(prev, Segment{Base: p.Base, Size: p.Size + seg.Size})
	case next >= 0:
		n := m.segs.get(next)
		m.segs.set(next, Segment{Base: seg.Base, Size: seg.Size + n.Size})
	default:
		m.segs.add(SegFree, seg)
	}
}

// dropPages removes cached translations of every page the range touches so
// that the next access revalidates against the segment lists.
func (m *Memory) dropPages(addr, size uint64) {
	if size == 0 {
		return
	}
	first := addr >> m.pageShift
	last := roundUp(addr+size, m.cfg.PageSize) >> m.pageShift
	for p := first; p < last; p++ {
		m.tlb.Invalidate(p)
	}
}

// AddThreadMem carves a stack and TLS block below the previous one,
// starting from the top of the address space.
func (m *Memory) AddThreadMem() (Segment, Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := roundUp(StackSize+TLSSize, m.cfg.PageSize)
	if m.threadTop < size {
		return Segment{}, -1, fmt.Errorf("no room for a %d byte thread segment", size)
	}

	seg := Segment{Base: roundDown(m.threadTop-size, m.cfg.PageSize), Size: size}
	if seg.Base < m.heapStart+m.cfg.MaxHeapSize || m.segs.overlapsLive(seg) {
		return Segment{}, -1, fmt.Errorf("thread segment %s collides with other memory", seg)
	}

	m.threadTop = seg.Base - m.cfg.PageSize
	return seg, m.segs.add(SegThread, seg), nil
}

// RemoveThreadMem releases a thread segment.
func (m *Memory) RemoveThreadMem(h Handle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.segs.valid(h) && m.segs.slots[h].kind == SegThread {
		seg := m.segs.get(h)
		m.segs.remove(h)
		m.dropPages(seg.Base, seg.Size)
	}
}

// ThreadPointer returns the TLS base of a thread segment.
func ThreadPointer(seg Segment) uint64 { return seg.Top() - TLSSize }

// StackPointer returns the initial 16-byte aligned stack pointer of a thread
// segment, directly below its TLS block.
func StackPointer(seg Segment) uint64 { return ThreadPointer(seg) &^ 15 }
