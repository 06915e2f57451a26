package mem

import (
	akitacache "github.com/sarchlab/akita/v4/mem/cache"
)

// TLB caches page translations in a fully associative akita directory with
// strict LRU replacement. Tags hold the page-aligned virtual address; the
// physical page of each way lives in a parallel slice.
type TLB struct {
	directory *akitacache.DirectoryImpl
	phys      []uint64
	pageSize  uint64
	ways      int
}

// NewTLB creates a TLB with capacity entries for pages of pageSize bytes.
func NewTLB(capacity int, pageSize uint64) *TLB {
	return &TLB{
		directory: akitacache.NewDirectory(
			1,
			capacity,
			int(pageSize),
			akitacache.NewLRUVictimFinder(),
		),
		phys:     make([]uint64, capacity),
		pageSize: pageSize,
		ways:     capacity,
	}
}

func (t *TLB) index(block *akitacache.Block) int {
	return block.SetID*t.ways + block.WayID
}

// Lookup returns the physical page of vPage and marks it most recently used.
func (t *TLB) Lookup(vPage uint64) (uint64, bool) {
	block := t.directory.Lookup(0, vPage*t.pageSize)
	if block == nil || !block.IsValid {
		return 0, false
	}
	t.directory.Visit(block)
	return t.phys[t.index(block)], true
}

// Insert maps vPage to pPage, evicting the least recently used entry when
// the TLB is full. It returns the evicted virtual page, if any.
func (t *TLB) Insert(vPage, pPage uint64) (evicted uint64, didEvict bool) {
	addr := vPage * t.pageSize
	victim := t.directory.FindVictim(addr)
	if victim.IsValid {
		evicted, didEvict = victim.Tag/t.pageSize, true
	}
	victim.Tag = addr
	victim.IsValid = true
	t.phys[t.index(victim)] = pPage
	t.directory.Visit(victim)
	return evicted, didEvict
}

// Invalidate drops the entry for vPage.
func (t *TLB) Invalidate(vPage uint64) {
	block := t.directory.Lookup(0, vPage*t.pageSize)
	if block != nil && block.IsValid {
		block.IsValid = false
	}
}

// Resident returns the number of valid entries.
func (t *TLB) Resident() int {
	n := 0
	for _, set := range t.directory.GetSets() {
		for _, block := range set.Blocks {
			if block.IsValid {
				n++
			}
		}
	}
	return n
}

// Capacity returns the number of entries.
func (t *TLB) Capacity() int { return t.ways }

// Flush invalidates every entry.
func (t *TLB) Flush() {
	t.directory.Reset()
}
