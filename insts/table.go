package insts

import "fmt"

// Dispatch locates the implementation of a master table entry.
type Dispatch struct {
	// Ext is the index of the owning extension.
	Ext int
	// Local is the index of the entry within that extension's table.
	Local int
}

// Table is the master instruction table of one core.
type Table struct {
	entries  []Entry
	dispatch []Dispatch

	encToEntry  map[uint64]int
	cEncToEntry map[uint64][]int
	nameToEntry map[string]int
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{
		encToEntry:  make(map[uint64]int),
		cEncToEntry: make(map[uint64][]int),
		nameToEntry: make(map[string]int),
	}
}

// Add merges the entries of extension ext into the table. Two standard
// entries with the same key are an error; compressed entries may share a key
// when they carry predicates.
func (t *Table) Add(ext int, entries []Entry) error {
	for local := range entries {
		e := entries[local]
		if e.Cost == 0 {
			e.Cost = DefaultCost
		}

		idx := len(t.entries)
		key := e.Key()

		if e.Compressed {
			t.cEncToEntry[key] = append(t.cEncToEntry[key], idx)
		} else {
			if prev, dup := t.encToEntry[key]; dup {
				return fmt.Errorf("duplicate encoding for %s: already used by %s",
					e.Name(), t.entries[prev].Name())
			}
			t.encToEntry[key] = idx
		}

		if _, seen := t.nameToEntry[e.Name()]; !seen {
			t.nameToEntry[e.Name()] = idx
		}

		t.entries = append(t.entries, e)
		t.dispatch = append(t.dispatch, Dispatch{Ext: ext, Local: local})
	}
	return nil
}

// Len returns the number of entries.
func (t *Table) Len() int { return len(t.entries) }

// Entry returns the entry at master index i.
func (t *Table) Entry(i int) *Entry { return &t.entries[i] }

// Dispatch returns the implementation location of master index i.
func (t *Table) Dispatch(i int) Dispatch { return t.dispatch[i] }

// Lookup resolves a 32-bit encoding key.
func (t *Table) Lookup(key uint64) (int, bool) {
	idx, ok := t.encToEntry[key]
	return idx, ok
}

// LookupCompressed resolves a compressed key. When several entries share the
// key, the first one whose predicate accepts word wins.
func (t *Table) LookupCompressed(key uint64, word uint32) (int, bool) {
	for _, idx := range t.cEncToEntry[key] {
		p := t.entries[idx].Predicate
		if p == nil || p(word) {
			return idx, true
		}
	}
	return 0, false
}

// ByName resolves the first entry with the given short mnemonic.
func (t *Table) ByName(name string) (int, bool) {
	idx, ok := t.nameToEntry[name]
	return idx, ok
}

// SetCost overrides the cost of every entry whose short mnemonic is name.
// It returns false when no entry matches.
func (t *Table) SetCost(name string, cost uint32) bool {
	found := false
	for i := range t.entries {
		if t.entries[i].Name() == name {
			t.entries[i].Cost = cost
			found = true
		}
	}
	return found
}
