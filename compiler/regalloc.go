package compiler

import (
	"fmt"

	"github.com/chazu/baseline/asm"
)

// RegisterAllocator is the single source of truth for register occupancy.
//
// A register is busy while it has references. Each frame slot mapping a
// register holds one reference, and so does every value a stepper has popped
// and not yet pushed back or freed.
type RegisterAllocator interface {
	// File describes the registers being arbitrated.
	File() asm.RegisterFile

	// Allocate returns a free register of class c with one reference.
	Allocate(c asm.RegisterClass) (asm.Register, error)

	// Reference adds a reference to r.
	Reference(r asm.Register)

	// Release drops a reference to r.
	Release(r asm.Register)

	// References returns the reference count of r.
	References(r asm.Register) int

	// IsFree reports whether r has no references.
	IsFree(r asm.Register) bool

	// SpillCandidate proposes busy registers of class c, one per call, in
	// the allocator's preferred eviction order. ok is false when the class
	// has no registers.
	SpillCandidate(c asm.RegisterClass) (r asm.Register, ok bool)

	// Reset forgets every reference. Allocation order state is kept so a
	// compilation that is suspended and resumed allocates the same
	// registers as one that ran straight through.
	Reset()
}

// RoundRobinAllocator hands out registers of each class in rotating order,
// so that consecutive values land in different registers and a later spill
// is less likely to hit a register that was just loaded.
type RoundRobinAllocator struct {
	file  asm.RegisterFile
	refs  []int
	next  [2]int // per class, offset within the class
	spill [2]int
}

// NewRoundRobinAllocator returns an allocator for f.
func NewRoundRobinAllocator(f asm.RegisterFile) *RoundRobinAllocator {
	return &RoundRobinAllocator{
		file: f,
		refs: make([]int, f.Count()),
	}
}

func (a *RoundRobinAllocator) File() asm.RegisterFile { return a.file }

func (a *RoundRobinAllocator) Allocate(c asm.RegisterClass) (asm.Register, error) {
	first, n := a.file.Range(c)
	for i := 0; i < n; i++ {
		off := (a.next[c] + i) % n
		r := first + asm.Register(off)
		if a.refs[r] == 0 {
			a.refs[r] = 1
			a.next[c] = (off + 1) % n
			return r, nil
		}
	}
	return asm.NoRegister, fmt.Errorf("%w: all %d %s registers busy", ErrNoFreeRegister, n, c)
}

func (a *RoundRobinAllocator) Reference(r asm.Register) {
	invariant(a.file.Contains(r), "reference to unknown register %d", r)
	a.refs[r]++
}

func (a *RoundRobinAllocator) Release(r asm.Register) {
	invariant(a.file.Contains(r), "release of unknown register %d", r)
	invariant(a.refs[r] > 0, "release of free register %s", a.file.Name(r))
	if a.refs[r] > 0 {
		a.refs[r]--
	}
}

func (a *RoundRobinAllocator) References(r asm.Register) int {
	if !a.file.Contains(r) {
		return 0
	}
	return a.refs[r]
}

func (a *RoundRobinAllocator) IsFree(r asm.Register) bool {
	return a.file.Contains(r) && a.refs[r] == 0
}

func (a *RoundRobinAllocator) SpillCandidate(c asm.RegisterClass) (asm.Register, bool) {
	first, n := a.file.Range(c)
	if n == 0 {
		return asm.NoRegister, false
	}
	off := a.spill[c]
	a.spill[c] = (off + 1) % n
	return first + asm.Register(off), true
}

func (a *RoundRobinAllocator) Reset() {
	for i := range a.refs {
		a.refs[i] = 0
	}
}

// Busy returns the registers that currently have references.
func (a *RoundRobinAllocator) Busy() []asm.Register {
	var out []asm.Register
	for i, n := range a.refs {
		if n > 0 {
			out = append(out, asm.Register(i))
		}
	}
	return out
}
