package compiler

import "github.com/chazu/baseline/asm"

// Push places l on top of the operand stack. The frame takes over the
// caller's references to l's registers.
func (f *Frame) Push(l Location) {
	w := l.Type.Words()
	invariant(w > 0, "push of %s", l.Type)
	invariant(f.sp+w <= f.MaxStack(), "operand stack overflow: sp=%d max=%d", f.sp, f.MaxStack())
	i := f.maxLocals + f.sp
	f.sp += w
	f.put(i, l)
}

// PushRegister pushes a value held in register(s).
func (f *Frame) PushRegister(t BasicType, lo, hi asm.Register) {
	f.Push(RegisterValue(t, lo, hi))
}

// PushImmediate pushes a constant.
func (f *Frame) PushImmediate(t BasicType, v int64) {
	f.Push(ImmediateValue(t, v))
}

// Pop removes the top value, which must be of type t, and hands its
// register references to the caller. A memory-only result still refers to
// the vacated stack slot; use PopToRegister to get it into a register.
func (f *Frame) Pop(t BasicType) Location {
	w := t.Words()
	invariant(w > 0 && f.sp >= w, "pop of %s with sp=%d", t, f.sp)
	i := f.maxLocals + f.sp - w
	l := f.locs[i]
	invariant(!l.high && l.Type.Words() == w, "pop(%s) found %s", t, l)
	invariant(l.Type == t || (t == TypeObject && l.Type == TypeReturnAddress), "pop(%s) found %s", t, l.Type)
	f.locs[i] = nowhere()
	if w == 2 {
		f.locs[i+1] = nowhere()
	}
	f.sp -= w
	return l
}

// PopToRegister pops a value of type t into register(s) held by the caller.
func (f *Frame) PopToRegister(t BasicType) (lo, hi asm.Register, err error) {
	i := f.maxLocals + f.sp - t.Words()
	l := f.Pop(t)
	switch l.Where {
	case InRegister:
		return l.Lo, l.Hi, nil
	case Immediate, InMemory:
		lo, hi, err = f.allocateFor(t)
		if err != nil {
			return asm.NoRegister, asm.NoRegister, err
		}
		f.materialize(l, i, lo, hi)
		return lo, hi, nil
	}
	invariant(false, "pop of unmapped value")
	return asm.NoRegister, asm.NoRegister, nil
}

// materialize loads a constant or memory value originally at slot i into
// lo/hi.
func (f *Frame) materialize(l Location, i int, lo, hi asm.Register) {
	two := l.Type.IsTwoWord()
	if l.Where == Immediate {
		if two {
			a, b := SplitWords(l.Imm)
			f.emit(asm.LoadImm(lo, a))
			f.emit(asm.LoadImm(hi, b))
		} else {
			f.emit(asm.LoadImm(lo, l.Imm))
		}
		return
	}
	f.emit(asm.Load(lo, f.mem(i)))
	if two {
		f.emit(asm.Load(hi, f.mem(i+1)))
	}
}

// LoadLocal pushes a copy of local i, which must be of type t.
func (f *Frame) LoadLocal(i int, t BasicType) error {
	l := f.locs[i]
	invariant(!l.high && l.Type == t, "load_local(%d, %s) found %s", i, t, l)
	switch l.Where {
	case InRegister:
		f.claim(l)
	case InMemory:
		lo, hi, err := f.allocateFor(t)
		if err != nil {
			return err
		}
		f.materialize(l, i, lo, hi)
		// The local now lives in the register too, and memory stays valid.
		r := RegisterValue(t, lo, hi)
		r.Dirty = false
		r.Flags, r.MinLength, r.ClassID, r.Snippet = l.Flags, l.MinLength, l.ClassID, l.Snippet
		f.locs[i] = r
		f.claim(r)
		l = r
	case Nowhere:
		invariant(false, "load of unmapped local %d", i)
	}
	l.Dirty = true
	f.Push(l)
	return nil
}

// StoreLocal pops a value of type t into local i.
func (f *Frame) StoreLocal(i int, t BasicType) error {
	src := f.maxLocals + f.sp - t.Words()
	l := f.Pop(t)
	if l.Where == InMemory {
		lo, hi, err := f.allocateFor(t)
		if err != nil {
			return err
		}
		f.materialize(l, src, lo, hi)
		r := RegisterValue(t, lo, hi)
		r.Flags, r.MinLength, r.ClassID, r.Snippet = l.Flags, l.MinLength, l.ClassID, l.Snippet
		l = r
	}
	l.Dirty = true
	f.put(i, l)
	return nil
}

// ---------------------------------------------------------------------------
// Stack permutations
// ---------------------------------------------------------------------------

// A permutation rewrites the top n words. Pattern lists, bottom to top,
// which original word (0 = top of stack) ends up in each result position.
type permutation struct {
	n       int
	pattern []int
}

var (
	permPop    = permutation{1, nil}
	permPop2   = permutation{2, nil}
	permDup    = permutation{1, []int{0, 0}}
	permDupX1  = permutation{2, []int{0, 1, 0}}
	permDupX2  = permutation{3, []int{0, 2, 1, 0}}
	permDup2   = permutation{2, []int{1, 0, 1, 0}}
	permDup2X1 = permutation{3, []int{1, 0, 2, 1, 0}}
	permDup2X2 = permutation{4, []int{1, 0, 3, 2, 1, 0}}
	permSwap   = permutation{2, []int{0, 1}}
)

// Pop1 discards the top word.
func (f *Frame) Pop1() error { return f.permute(permPop) }

// Pop2 discards the top two words.
func (f *Frame) Pop2() error { return f.permute(permPop2) }

// Dup duplicates the top word.
func (f *Frame) Dup() error { return f.permute(permDup) }

// DupX1 copies the top word below the second word.
func (f *Frame) DupX1() error { return f.permute(permDupX1) }

// DupX2 copies the top word below the third word.
func (f *Frame) DupX2() error { return f.permute(permDupX2) }

// Dup2 duplicates the top two words.
func (f *Frame) Dup2() error { return f.permute(permDup2) }

// Dup2X1 copies the top two words below the third word.
func (f *Frame) Dup2X1() error { return f.permute(permDup2X1) }

// Dup2X2 copies the top two words below the fourth word.
func (f *Frame) Dup2X2() error { return f.permute(permDup2X2) }

// Swap exchanges the top two words.
func (f *Frame) Swap() error { return f.permute(permSwap) }

func (f *Frame) permute(p permutation) error {
	invariant(f.sp >= p.n, "stack permutation needs %d words, have %d", p.n, f.sp)
	invariant(f.sp-p.n+len(p.pattern) <= f.MaxStack(), "stack permutation overflows")
	base := f.maxLocals + f.sp - p.n
	origin := func(k int) int { return base + p.n - 1 - k } // slot of word k

	words := make([]Location, p.n)
	for k := range words {
		words[k] = f.locs[origin(k)]
	}
	// A two-word value whose lower half falls outside the window cannot be
	// moved as a unit.
	invariant(!words[p.n-1].high, "stack permutation splits a two-word value")

	occurrences := make([]int, p.n)
	moved := make([]bool, p.n)
	for pos, k := range p.pattern {
		occurrences[k]++
		if pos != p.n-1-k {
			moved[k] = true
		}
	}
	if debugChecks {
		for pos, k := range p.pattern {
			if words[k].high {
				invariant(pos > 0 && p.pattern[pos-1] == k+1, "stack permutation splits a two-word value")
			} else if words[k].Type.IsTwoWord() {
				invariant(pos+1 < len(p.pattern) && p.pattern[pos+1] == k-1, "stack permutation splits a two-word value")
			}
		}
	}

	// Memory-only values that change position are loaded first: their memory
	// word belongs to the old position. The window's registers are held
	// meanwhile so that allocation never spills a value copied into words.
	held := f.holdWindow(words)
	var loaded []Location
	for k, l := range words {
		if l.high || l.Where != InMemory || !moved[k] {
			continue
		}
		lo, hi, err := f.allocateFor(l.Type)
		if err != nil {
			f.releaseAll(held)
			for _, r := range loaded {
				f.unclaim(r)
			}
			return err
		}
		f.materialize(l, origin(k), lo, hi)
		r := RegisterValue(l.Type, lo, hi)
		r.Dirty = false
		r.Flags, r.MinLength, r.ClassID, r.Snippet = l.Flags, l.MinLength, l.ClassID, l.Snippet
		words[k] = r
		loaded = append(loaded, r)
	}
	f.releaseAll(held)

	// Mirror the change in copies: each extra copy is a new claim, a value
	// with no copy left gives its claim up.
	for k, l := range words {
		if l.high {
			continue
		}
		switch occurrences[k] {
		case 0:
			f.unclaim(l)
		case 1:
		default:
			for c := 1; c < occurrences[k]; c++ {
				f.claim(l)
			}
		}
	}

	for i := base; i < base+p.n; i++ {
		f.locs[i] = nowhere()
	}
	for pos, k := range p.pattern {
		l := words[k]
		if pos != p.n-1-k && !l.high {
			l.Dirty = true
		}
		f.locs[base+pos] = l
	}
	f.sp += len(p.pattern) - p.n
	return nil
}

// holdWindow takes one extra reference on every register named by words.
func (f *Frame) holdWindow(words []Location) []asm.Register {
	if f.alloc == nil {
		return nil
	}
	var held []asm.Register
	for _, l := range words {
		if l.high {
			continue
		}
		for _, r := range l.Registers() {
			f.alloc.Reference(r)
			held = append(held, r)
		}
	}
	return held
}

func (f *Frame) releaseAll(regs []asm.Register) {
	for _, r := range regs {
		f.alloc.Release(r)
	}
}
