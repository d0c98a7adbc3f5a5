package compiler

import "github.com/chazu/baseline/asm"

// Entry records compiled code at a bytecode index that other paths merge
// into: the frame the code was compiled under and the label bound at its
// start.
type Entry struct {
	BCI      int
	Frame    *Frame
	Label    asm.Label
	CodeSize int // code size when the entry was created

	owner uint64 // serial of the continuation that created it
}

// EntryTable maps bytecode indices to entries. It is created lazily, the
// first time a bytecode index turns out to need one.
type EntryTable struct {
	entries []*Entry
	count   int
}

// NewEntryTable returns an empty table for a method of codeLength bytes.
func NewEntryTable(codeLength int) *EntryTable {
	return &EntryTable{entries: make([]*Entry, codeLength)}
}

// At returns the entry for bci, or nil.
func (t *EntryTable) At(bci int) *Entry {
	if t == nil || bci < 0 || bci >= len(t.entries) {
		return nil
	}
	return t.entries[bci]
}

// Set records e, replacing any earlier entry at the same index.
func (t *EntryTable) Set(e *Entry) {
	invariant(e.BCI >= 0 && e.BCI < len(t.entries), "entry at bci %d outside method of %d bytes", e.BCI, len(t.entries))
	if t.entries[e.BCI] == nil {
		t.count++
	}
	t.entries[e.BCI] = e
}

// Len returns the number of bytecode indices with an entry.
func (t *EntryTable) Len() int {
	if t == nil {
		return 0
	}
	return t.count
}

// All returns the entries in bytecode order.
func (t *EntryTable) All() []*Entry {
	if t == nil {
		return nil
	}
	out := make([]*Entry, 0, t.count)
	for _, e := range t.entries {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}
