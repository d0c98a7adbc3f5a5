package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/baseline/asm"
)

// Frame is the virtual stack frame: the symbolic state of a method's locals
// and operand stack.
//
// Slots [0, MaxLocals) are locals and the operand stack grows upward from
// MaxLocals. Slot i lives in machine frame word Base()+i when it is in
// memory.
//
// A frame is either attached (the live frame of a Context, which may emit
// code and mirrors every register claim in the allocator) or detached (a
// frozen snapshot owned by an Element or an Entry). Detached frames never
// touch the allocator.
type Frame struct {
	locs       []Location
	maxLocals  int
	base       int
	sp         int // virtual stack pointer: stack words in use
	rsp        int // real stack pointer: stack words present on the machine stack
	flushCount int

	alloc RegisterAllocator
	code  Emitter
}

// NewFrame returns a detached frame with every slot unmapped.
func NewFrame(maxLocals, maxStack int) *Frame {
	f := &Frame{
		locs:      make([]Location, maxLocals+maxStack),
		maxLocals: maxLocals,
	}
	for i := range f.locs {
		f.locs[i] = nowhere()
	}
	return f
}

// MaxLocals returns the number of local slots.
func (f *Frame) MaxLocals() int { return f.maxLocals }

// MaxStack returns the capacity of the operand stack in words.
func (f *Frame) MaxStack() int { return len(f.locs) - f.maxLocals }

// Base returns the machine frame word of slot 0.
func (f *Frame) Base() int { return f.base }

// StackPointer returns the number of operand stack words in use.
func (f *Frame) StackPointer() int { return f.sp }

// RealStackPointer returns the number of stack words materialized on the
// machine stack.
func (f *Frame) RealStackPointer() int { return f.rsp }

// FlushCount returns how often the frame was flushed since the current
// straight-line run began.
func (f *Frame) FlushCount() int { return f.flushCount }

// Len returns the number of slots in use: all locals plus the stack.
func (f *Frame) Len() int { return f.maxLocals + f.sp }

// Slot returns the descriptor of slot i.
func (f *Frame) Slot(i int) Location { return f.locs[i] }

// Local returns the descriptor of local i.
func (f *Frame) Local(i int) Location { return f.locs[i] }

// Top returns the descriptor of the value whose topmost word is depth words
// below the top of stack. For a two-word value that is its lower slot.
func (f *Frame) Top(depth int) Location {
	i := f.maxLocals + f.sp - 1 - depth
	invariant(i >= f.maxLocals, "stack underflow peeking %d", depth)
	if f.locs[i].high {
		return f.locs[i-1]
	}
	return f.locs[i]
}

// IsAttached reports whether f is the live frame of a context.
func (f *Frame) IsAttached() bool { return f.alloc != nil }

// Clone returns a detached deep copy of f.
func (f *Frame) Clone() *Frame {
	c := &Frame{}
	c.CopyFrom(f)
	return c
}

// CopyFrom overwrites f's slots and pointers with src's, reusing f's
// storage. Attachment is not copied.
func (f *Frame) CopyFrom(src *Frame) {
	if cap(f.locs) < len(src.locs) {
		f.locs = make([]Location, len(src.locs))
	}
	f.locs = f.locs[:len(src.locs)]
	copy(f.locs, src.locs)
	f.maxLocals = src.maxLocals
	f.base = src.base
	f.sp = src.sp
	f.rsp = src.rsp
	f.flushCount = src.flushCount
}

// attach makes f live. The allocator forgets every reference and then
// receives one claim per register mapping in f.
func (f *Frame) attach(alloc RegisterAllocator, code Emitter) {
	f.alloc, f.code = alloc, code
	alloc.Reset()
	for i := 0; i < f.Len(); i++ {
		for _, r := range f.locs[i].Registers() {
			alloc.Reference(r)
		}
	}
}

func (f *Frame) detach() { f.alloc, f.code = nil, nil }

func (f *Frame) emit(in asm.Instr) {
	invariant(f.code != nil, "detached frame emitting %s", in.Op)
	if f.code != nil {
		f.code.Emit(in)
	}
}

func (f *Frame) file() asm.RegisterFile {
	if f.alloc != nil {
		return f.alloc.File()
	}
	return asm.DefaultRegisterFile()
}

// mem returns the machine frame word of slot i.
func (f *Frame) mem(i int) int { return f.base + i }

// ---------------------------------------------------------------------------
// Claims
// ---------------------------------------------------------------------------

func (f *Frame) claim(l Location) {
	if f.alloc == nil {
		return
	}
	for _, r := range l.Registers() {
		f.alloc.Reference(r)
	}
}

func (f *Frame) unclaim(l Location) {
	if f.alloc == nil {
		return
	}
	for _, r := range l.Registers() {
		f.alloc.Release(r)
	}
}

// mappings counts the slots mapping r.
func (f *Frame) mappings(r asm.Register) int {
	n := 0
	for i := 0; i < f.Len(); i++ {
		if f.locs[i].Uses(r) {
			n++
		}
	}
	return n
}

// checkClaims verifies the allocator holds at least one reference per
// mapping, and exactly that many when exact is set.
func (f *Frame) checkClaims(exact bool) {
	if !debugChecks || f.alloc == nil {
		return
	}
	rf := f.alloc.File()
	for r := asm.Register(0); int(r) < rf.Count(); r++ {
		m, refs := f.mappings(r), f.alloc.References(r)
		invariant(refs >= m, "%s mapped %d times but has %d references", rf.Name(r), m, refs)
		invariant(!exact || refs == m, "%s has %d references for %d mappings", rf.Name(r), refs, m)
	}
}

// ---------------------------------------------------------------------------
// Slot operations
// ---------------------------------------------------------------------------

// unitStart returns the lower slot of the value covering slot i.
func (f *Frame) unitStart(i int) int {
	if f.locs[i].high {
		return i - 1
	}
	return i
}

// drop unmaps the value covering slot i without write-back.
func (f *Frame) drop(i int) {
	i = f.unitStart(i)
	l := f.locs[i]
	f.unclaim(l)
	f.locs[i] = nowhere()
	if l.IsTwoWord() && i+1 < len(f.locs) {
		f.locs[i+1] = nowhere()
	}
}

// put installs l at slot i, replacing whatever overlapped it. The frame
// takes over the caller's references to l's registers.
func (f *Frame) put(i int, l Location) {
	invariant(!l.high, "installing a high half at slot %d", i)
	if f.locs[i].Where != Nowhere || f.locs[i].high {
		f.drop(i)
	}
	if l.Type.IsTwoWord() {
		invariant(i+1 < len(f.locs), "two-word value at last slot %d", i)
		if f.locs[i+1].Where != Nowhere || f.locs[i+1].high {
			f.drop(i + 1)
		}
		f.locs[i+1] = highHalf(l.Type)
	}
	f.locs[i] = l
}

// SetRegister binds slot i to register(s). The frame takes over the
// caller's references.
func (f *Frame) SetRegister(i int, t BasicType, lo, hi asm.Register) {
	f.put(i, RegisterValue(t, lo, hi))
}

// SetImmediate binds slot i to a constant.
func (f *Frame) SetImmediate(i int, t BasicType, v int64) {
	f.put(i, ImmediateValue(t, v))
}

// SetMemory records that slot i's value is in its memory word(s) only.
func (f *Frame) SetMemory(i int, t BasicType) {
	f.put(i, MemoryValue(t))
}

// SetFacts replaces the status information of the value at slot i.
func (f *Frame) SetFacts(i int, flags Flags, minLength, classID int32, s Snippet) {
	i = f.unitStart(i)
	l := &f.locs[i]
	l.Flags, l.MinLength, l.ClassID, l.Snippet = flags, minLength, classID, s
}

// MarkChanged records that slot i's memory no longer holds its value.
func (f *Frame) MarkChanged(i int) {
	i = f.unitStart(i)
	if w := f.locs[i].Where; w == InRegister || w == Immediate {
		f.locs[i].Dirty = true
	}
}

// Commit writes a dirty value at slot i to memory and keeps its mapping.
func (f *Frame) Commit(i int) {
	i = f.unitStart(i)
	l := &f.locs[i]
	if !l.Dirty {
		return
	}
	switch l.Where {
	case InRegister:
		f.emit(asm.Store(f.mem(i), l.Lo))
		if l.Type.IsTwoWord() {
			f.emit(asm.Store(f.mem(i+1), l.Hi))
		}
	case Immediate:
		if l.Type.IsTwoWord() {
			lo, hi := SplitWords(l.Imm)
			f.emit(asm.StoreImm(f.mem(i), lo))
			f.emit(asm.StoreImm(f.mem(i+1), hi))
		} else {
			f.emit(asm.StoreImm(f.mem(i), l.Imm))
		}
	}
	l.Dirty = false
}

// Spill commits slot i and drops its register or constant mapping.
func (f *Frame) Spill(i int) {
	i = f.unitStart(i)
	l := f.locs[i]
	if l.Where != InRegister && l.Where != Immediate {
		return
	}
	f.Commit(i)
	f.unclaim(l)
	m := MemoryValue(l.Type)
	m.Flags, m.MinLength, m.ClassID, m.Snippet = l.Flags, l.MinLength, l.ClassID, l.Snippet
	f.locs[i] = m
}

// Clear unmaps slot i without write-back. The value must be dead.
func (f *Frame) Clear(i int) {
	if f.locs[i].Where == Nowhere && !f.locs[i].high {
		return
	}
	f.drop(i)
}

// SpillRegister spills every slot mapping r.
func (f *Frame) SpillRegister(r asm.Register) {
	for i := 0; i < f.Len(); i++ {
		if f.locs[i].Uses(r) {
			f.Spill(i)
		}
	}
}

// Flush writes every dirty value to memory and materializes the whole
// operand stack on the machine stack. Register mappings survive.
func (f *Frame) Flush() {
	for i := 0; i < f.Len(); i++ {
		if !f.locs[i].high {
			f.Commit(i)
		}
	}
	if f.rsp != f.sp {
		f.emit(asm.AdjustSP(f.sp - f.rsp))
		f.rsp = f.sp
	}
	f.flushCount++
}

// dropRegisters turns every register mapping into a memory mapping. The
// frame must be flushed, so memory already holds the values.
func (f *Frame) dropRegisters() {
	for i := 0; i < f.Len(); i++ {
		l := f.locs[i]
		if l.high || l.Where != InRegister {
			continue
		}
		invariant(!l.Dirty, "dropping dirty register mapping at slot %d", i)
		f.unclaim(l)
		m := MemoryValue(l.Type)
		m.Flags, m.MinLength, m.ClassID, m.Snippet = l.Flags, l.MinLength, l.ClassID, l.Snippet
		f.locs[i] = m
	}
}

// MarkAsFlushed describes the frame as the interpreter leaves it: every
// value in memory and the whole stack on the machine stack. Constants stay
// known.
func (f *Frame) MarkAsFlushed() {
	for i := 0; i < f.Len(); i++ {
		l := &f.locs[i]
		switch {
		case l.high:
		case l.Where == InRegister:
			f.unclaim(*l)
			t := l.Type
			*l = MemoryValue(t)
		case l.Where == Immediate:
			l.Dirty = false
		}
	}
	f.rsp = f.sp
}

// ClearStack drops every operand stack value.
func (f *Frame) ClearStack() {
	for i := f.maxLocals + f.sp - 1; i >= f.maxLocals; i-- {
		f.Clear(i)
	}
	f.sp = 0
	if f.rsp > 0 {
		if f.code != nil {
			f.emit(asm.AdjustSP(-f.rsp))
		}
		f.rsp = 0
	}
}

// AllocateRegister returns a register of class c holding one reference for
// the caller. Under pressure a register mapped only by frame slots is
// spilled.
func (f *Frame) AllocateRegister(c asm.RegisterClass) (asm.Register, error) {
	r, err := f.alloc.Allocate(c)
	if err == nil {
		return r, nil
	}
	_, n := f.alloc.File().Range(c)
	for tries := 0; tries < n; tries++ {
		cand, ok := f.alloc.SpillCandidate(c)
		if !ok {
			break
		}
		m := f.mappings(cand)
		if m == 0 || f.alloc.References(cand) != m {
			continue // held by someone in flight
		}
		f.SpillRegister(cand)
		return f.alloc.Allocate(c)
	}
	return asm.NoRegister, fmt.Errorf("%w: %w", ReservationFailed, err)
}

// allocateFor returns registers for a value of type t.
func (f *Frame) allocateFor(t BasicType) (lo, hi asm.Register, err error) {
	lo, err = f.AllocateRegister(t.Class())
	if err != nil {
		return asm.NoRegister, asm.NoRegister, err
	}
	hi = asm.NoRegister
	if t.IsTwoWord() {
		if hi, err = f.AllocateRegister(t.Class()); err != nil {
			f.alloc.Release(lo)
			return asm.NoRegister, asm.NoRegister, err
		}
	}
	return lo, hi, nil
}

// ---------------------------------------------------------------------------
// Debug output
// ---------------------------------------------------------------------------

func (f *Frame) String() string {
	rf := f.file()
	var b strings.Builder
	fmt.Fprintf(&b, "frame sp=%d rsp=%d flushes=%d\n", f.sp, f.rsp, f.flushCount)
	for i := 0; i < f.Len(); i++ {
		kind := "L"
		n := i
		if i >= f.maxLocals {
			kind, n = "S", i-f.maxLocals
		}
		fmt.Fprintf(&b, "  %s%d: %s\n", kind, n, f.locs[i].Format(rf))
	}
	return b.String()
}

// Equal reports whether f and o describe the same symbolic state.
func (f *Frame) Equal(o *Frame) bool {
	if f.maxLocals != o.maxLocals || f.sp != o.sp || f.rsp != o.rsp || f.base != o.base {
		return false
	}
	for i := 0; i < f.Len(); i++ {
		if f.locs[i] != o.locs[i] {
			return false
		}
	}
	return true
}
