package compiler

import "github.com/chazu/baseline/asm"

type regMove struct {
	dst, src asm.Register
}

// conformPlan is the code needed to make one frame match another, split
// into the three phases that must run in order.
type conformPlan struct {
	stores  []asm.Instr // phase 1: values to memory
	moves   []regMove   // phase 2: register to register, unordered
	loads   []asm.Instr // phase 3: memory and constants to registers
	discard []bool      // per slot: forced to unknown
	spDelta int
}

func (p *conformPlan) empty() bool {
	return len(p.stores) == 0 && len(p.moves) == 0 && len(p.loads) == 0 && p.spDelta == 0
}

// IsConformantTo reports whether f already satisfies target, so that a jump
// to code compiled under target needs no merge code.
func (f *Frame) IsConformantTo(target *Frame) bool {
	p := f.plan(target)
	return p.empty()
}

// ConformTo emits the code that makes f's physical state match target and
// then adopts target's descriptors. f must be attached.
//
// Phases run in a fixed order so that no value is overwritten before it is
// read: first all memory writes, then register to register moves (with
// cycles broken through a spare register or a swap), then register loads
// from memory and constants.
func (f *Frame) ConformTo(target *Frame) {
	invariant(f.IsAttached(), "conforming a detached frame")
	p := f.plan(target)

	for _, in := range p.stores {
		f.emit(in)
	}
	f.parallelMove(p.moves, target)
	for _, in := range p.loads {
		f.emit(in)
	}
	if p.spDelta != 0 {
		f.emit(asm.AdjustSP(p.spDelta))
	}

	// Adopt target's descriptors, claims first so no register is free in
	// between.
	n := max(f.Len(), target.Len())
	next := make([]Location, n)
	for i := 0; i < n; i++ {
		switch {
		case i >= target.Len():
			next[i] = nowhere()
		case p.discard[i]:
			next[i] = nowhere()
		default:
			next[i] = target.locs[i]
		}
		f.claim(next[i])
	}
	for i := 0; i < f.Len(); i++ {
		f.unclaim(f.locs[i])
	}
	for i := 0; i < n; i++ {
		f.locs[i] = next[i]
	}
	for i := n; i < len(f.locs); i++ {
		f.locs[i] = nowhere()
	}
	f.sp = target.sp
	f.rsp = target.rsp
	f.checkClaims(false)
}

func (f *Frame) plan(target *Frame) conformPlan {
	invariant(f.maxLocals == target.maxLocals, "merging frames with %d and %d locals", f.maxLocals, target.maxLocals)
	invariant(f.sp == target.sp, "merging frames with stack pointers %d and %d", f.sp, target.sp)
	invariant(f.base == target.base, "merging frames with different bases")

	n := target.Len()
	p := conformPlan{
		discard: make([]bool, max(n, f.Len())),
		spDelta: target.rsp - f.rsp,
	}
	if debugChecks {
		target.checkUniqueRegisters()
	}

	for i := 0; i < n; i++ {
		d := target.locs[i]
		if d.high {
			continue
		}
		var s Location
		if i < f.Len() {
			s = f.locs[i]
		} else {
			s = nowhere()
		}
		if !f.unitMatches(s, d) {
			p.discard[i] = true
			if d.Type.IsTwoWord() {
				p.discard[i+1] = true
			}
			continue
		}
		invariant(d.factsSubsetOf(s), "slot %d: target facts %s not implied by source %s", i, d, s)

		two := d.Type.IsTwoWord()
		switch d.Where {
		case Immediate:
			if !d.Dirty {
				p.storeIfDirty(f, i, s)
			}
		case InMemory:
			p.storeIfDirty(f, i, s)
		case InRegister:
			if !d.Dirty {
				p.storeIfDirty(f, i, s)
			}
			switch s.Where {
			case InRegister:
				p.moves = append(p.moves, regMove{d.Lo, s.Lo})
				if two {
					p.moves = append(p.moves, regMove{d.Hi, s.Hi})
				}
			case Immediate:
				if two {
					lo, hi := SplitWords(s.Imm)
					p.loads = append(p.loads, asm.LoadImm(d.Lo, lo), asm.LoadImm(d.Hi, hi))
				} else {
					p.loads = append(p.loads, asm.LoadImm(d.Lo, s.Imm))
				}
			case InMemory:
				p.loads = append(p.loads, asm.Load(d.Lo, f.mem(i)))
				if two {
					p.loads = append(p.loads, asm.Load(d.Hi, f.mem(i+1)))
				}
			}
		}
	}

	// Identity moves need no code.
	moves := p.moves[:0]
	for _, m := range p.moves {
		if m.src != m.dst {
			moves = append(moves, m)
		}
	}
	p.moves = moves
	return p
}

// unitMatches decides whether source value s can be reconciled with target
// value d or must be discarded.
func (f *Frame) unitMatches(s, d Location) bool {
	switch {
	case d.Where == Nowhere:
		return false
	case s.high, s.Where == Nowhere, s.Type != d.Type:
		return false
	case d.Where == Immediate:
		ok := s.Where == Immediate && s.Imm == d.Imm
		invariant(ok, "target constant %s not matched by source %s", d, s)
		return ok
	}
	return true
}

// storeIfDirty schedules the memory write that makes slot i's memory hold
// source value s.
func (p *conformPlan) storeIfDirty(f *Frame, i int, s Location) {
	if !s.Dirty {
		return
	}
	two := s.Type.IsTwoWord()
	switch s.Where {
	case InRegister:
		p.stores = append(p.stores, asm.Store(f.mem(i), s.Lo))
		if two {
			p.stores = append(p.stores, asm.Store(f.mem(i+1), s.Hi))
		}
	case Immediate:
		if two {
			lo, hi := SplitWords(s.Imm)
			p.stores = append(p.stores, asm.StoreImm(f.mem(i), lo), asm.StoreImm(f.mem(i+1), hi))
		} else {
			p.stores = append(p.stores, asm.StoreImm(f.mem(i), s.Imm))
		}
	}
}

// parallelMove emits moves so that every destination ends up with the value
// its source held before any of them ran. Destinations are distinct;
// a source may feed several destinations.
func (f *Frame) parallelMove(moves []regMove, target *Frame) {
	pending := append([]regMove(nil), moves...)

	for len(pending) > 0 {
		progress := false
		for i := 0; i < len(pending); i++ {
			m := pending[i]
			if isSourceExcept(pending, m.dst, i) {
				continue
			}
			f.emit(asm.Move(m.dst, m.src))
			pending = append(pending[:i], pending[i+1:]...)
			i--
			progress = true
		}
		if progress || len(pending) == 0 {
			continue
		}

		// Only cycles remain. Break the first one at its first move a -> b:
		// b still holds a value somebody needs.
		m := pending[0]
		if spare := f.spareRegister(m.dst, pending, target); spare.IsValid() {
			f.emit(asm.Move(spare, m.dst))
			for j := range pending {
				if pending[j].src == m.dst {
					pending[j].src = spare
				}
			}
			continue
		}
		f.emit(asm.Swap(m.dst, m.src))
		pending = pending[1:]
		for j := range pending {
			switch pending[j].src {
			case m.dst:
				pending[j].src = m.src
			case m.src:
				pending[j].src = m.dst
			}
		}
		kept := pending[:0]
		for _, pm := range pending {
			if pm.src != pm.dst {
				kept = append(kept, pm)
			}
		}
		pending = kept
	}
}

// moveRegisters emits a parallel move outside of a merge.
func (f *Frame) moveRegisters(moves []regMove) {
	kept := make([]regMove, 0, len(moves))
	for _, m := range moves {
		if m.src != m.dst {
			kept = append(kept, m)
		}
	}
	f.parallelMove(kept, nil)
}

func isSourceExcept(pending []regMove, r asm.Register, skip int) bool {
	for j, m := range pending {
		if j != skip && m.src == r {
			return true
		}
	}
	return false
}

// spareRegister finds a register of like's class that is free in the
// allocator, feeds no pending move and is not part of target's mapping, if
// there is a target.
func (f *Frame) spareRegister(like asm.Register, pending []regMove, target *Frame) asm.Register {
	rf := f.alloc.File()
	first, n := rf.Range(rf.Class(like))
	for r := first; r < first+asm.Register(n); r++ {
		if !f.alloc.IsFree(r) || (target != nil && target.mappings(r) > 0) {
			continue
		}
		busy := false
		for _, m := range pending {
			if m.src == r || m.dst == r {
				busy = true
				break
			}
		}
		if !busy {
			return r
		}
	}
	return asm.NoRegister
}

// checkUniqueRegisters verifies that no register is mapped by two values.
func (f *Frame) checkUniqueRegisters() {
	seen := make(map[asm.Register]int)
	for i := 0; i < f.Len(); i++ {
		for _, r := range f.locs[i].Registers() {
			prev, dup := seen[r]
			invariant(!dup, "register %d mapped by slots %d and %d of a merge target", r, prev, i)
			seen[r] = i
		}
	}
}

// ConformanceEntry prepares the live frame to become a merge target that
// other frames can be conformed to: constants are written back to memory,
// registers shared by several slots are split so each register maps one
// value, and status facts are dropped.
func (f *Frame) ConformanceEntry() {
	seen := make(map[asm.Register]bool)
	for i := 0; i < f.Len(); i++ {
		l := f.locs[i]
		if l.high {
			continue
		}
		switch l.Where {
		case Immediate:
			f.Spill(i)
		case InRegister:
			shared := false
			for _, r := range l.Registers() {
				if seen[r] {
					shared = true
				}
			}
			if shared {
				f.Spill(i)
				break
			}
			for _, r := range l.Registers() {
				seen[r] = true
			}
		}
		f.locs[i] = f.locs[i].clearFacts()
	}
}
