package mem

import (
	"fmt"
	"sort"
)

// Segment is a contiguous range of virtual addresses.
type Segment struct {
	Base uint64
	Size uint64
}

// Top returns the first address past the segment.
func (s Segment) Top() uint64 { return s.Base + s.Size }

// Contains reports whether addr lies in the segment.
func (s Segment) Contains(addr uint64) bool {
	return addr >= s.Base && addr < s.Top()
}

// ContainsRange reports whether [addr, addr+size) lies in the segment.
func (s Segment) ContainsRange(addr, size uint64) bool {
	if size == 0 {
		return s.Contains(addr)
	}
	return s.Contains(addr) && s.Contains(addr+size-1)
}

// Overlaps reports whether the two segments share an address.
func (s Segment) Overlaps(o Segment) bool {
	return s.Base < o.Top() && o.Base < s.Top()
}

func (s Segment) String() string {
	return fmt.Sprintf("[0x%x, 0x%x) %d bytes", s.Base, s.Top(), s.Size)
}

// Handle addresses a segment in the arena.
type Handle int

// SegKind classifies the list a segment belongs to.
type SegKind int

// Segment kinds.
const (
	SegStatic SegKind = iota
	SegThread
	SegHeap
	SegFree
)

func (k SegKind) String() string {
	switch k {
	case SegStatic:
		return "static"
	case SegThread:
		return "thread"
	case SegHeap:
		return "heap"
	case SegFree:
		return "free"
	}
	return "unknown"
}

type slot struct {
	seg  Segment
	kind SegKind
	live bool
}

// arena stores segments by handle. Resizing a segment is an update by
// handle; released slots are recycled.
type arena struct {
	slots   []slot
	recycle []Handle
	lists   [4][]Handle
}

func (a *arena) add(kind SegKind, seg Segment) Handle {
	var h Handle
	if n := len(a.recycle); n > 0 {
		h = a.recycle[n-1]
		a.recycle = a.recycle[:n-1]
		a.slots[h] = slot{seg: seg, kind: kind, live: true}
	} else {
		h = Handle(len(a.slots))
		a.slots = append(a.slots, slot{seg: seg, kind: kind, live: true})
	}
	a.lists[kind] = append(a.lists[kind], h)
	return h
}

func (a *arena) remove(h Handle) {
	s := &a.slots[h]
	if !s.live {
		return
	}
	list := a.lists[s.kind]
	for i, x := range list {
		if x == h {
			a.lists[s.kind] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.live = false
	a.recycle = append(a.recycle, h)
}

func (a *arena) get(h Handle) Segment { return a.slots[h].seg }

func (a *arena) set(h Handle, seg Segment) { a.slots[h].seg = seg }

func (a *arena) valid(h Handle) bool {
	return h >= 0 && int(h) < len(a.slots) && a.slots[h].live
}

func (a *arena) list(kind SegKind) []Handle { return a.lists[kind] }

// sorted returns the segments of kind ordered by base address.
func (a *arena) sorted(kind SegKind) []Segment {
	out := make([]Segment, 0, len(a.lists[kind]))
	for _, h := range a.lists[kind] {
		out = append(out, a.slots[h].seg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Base < out[j].Base })
	return out
}

// findLive returns the live, non-free segment containing [addr, addr+size).
func (a *arena) findLive(addr, size uint64) (Handle, bool) {
	for _, kind := range []SegKind{SegStatic, SegThread, SegHeap} {
		for _, h := range a.lists[kind] {
			if a.slots[h].seg.ContainsRange(addr, size) {
				return h, true
			}
		}
	}
	return -1, false
}

// overlapsLive reports whether seg overlaps any non-free segment.
func (a *arena) overlapsLive(seg Segment) bool {
	for _, kind := range []SegKind{SegStatic, SegThread, SegHeap} {
		for _, h := range a.lists[kind] {
			if a.slots[h].seg.Overlaps(seg) {
				return true
			}
		}
	}
	return false
}
