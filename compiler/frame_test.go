package compiler

import (
	"testing"

	"github.com/chazu/baseline/asm"
)

// liveFrame returns an attached frame over a fresh allocator and buffer.
func liveFrame(t *testing.T, rf asm.RegisterFile, maxLocals, maxStack int) (*Frame, *RoundRobinAllocator, *asm.Buffer) {
	t.Helper()
	alloc := NewRoundRobinAllocator(rf)
	buf := asm.NewBuffer(0)
	f := NewFrame(maxLocals, maxStack)
	f.attach(alloc, buf)
	return f, alloc, buf
}

// mapInt binds slot i of a live frame to register r as a dirty int.
func mapInt(f *Frame, alloc RegisterAllocator, i int, r asm.Register) {
	alloc.Reference(r)
	f.SetRegister(i, TypeInt, r, asm.NoRegister)
}

func stackImms(f *Frame) []int64 {
	var out []int64
	for i := f.MaxLocals(); i < f.Len(); i++ {
		out = append(out, f.Slot(i).Imm)
	}
	return out
}

func TestStackPermutations(t *testing.T) {
	tests := []struct {
		name string
		in   []int64
		op   func(*Frame) error
		want []int64
	}{
		{"pop", []int64{1, 2}, (*Frame).Pop1, []int64{1}},
		{"pop2", []int64{1, 2, 3}, (*Frame).Pop2, []int64{1}},
		{"dup", []int64{1}, (*Frame).Dup, []int64{1, 1}},
		{"dup_x1", []int64{1, 2}, (*Frame).DupX1, []int64{2, 1, 2}},
		{"dup_x2", []int64{1, 2, 3}, (*Frame).DupX2, []int64{3, 1, 2, 3}},
		{"dup2", []int64{1, 2}, (*Frame).Dup2, []int64{1, 2, 1, 2}},
		{"dup2_x1", []int64{1, 2, 3}, (*Frame).Dup2X1, []int64{2, 3, 1, 2, 3}},
		{"dup2_x2", []int64{1, 2, 3, 4}, (*Frame).Dup2X2, []int64{3, 4, 1, 2, 3, 4}},
		{"swap", []int64{1, 2}, (*Frame).Swap, []int64{2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _, buf := liveFrame(t, asm.DefaultRegisterFile(), 1, 6)
			for _, v := range tt.in {
				f.PushImmediate(TypeInt, v)
			}
			if err := tt.op(f); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			got := stackImms(f)
			if len(got) != len(tt.want) {
				t.Fatalf("stack = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("stack = %v, want %v", got, tt.want)
				}
			}
			if n := len(buf.Instrs()); n != 0 {
				t.Errorf("permutation emitted %d instructions", n)
			}
		})
	}
}

func TestDupClaims(t *testing.T) {
	f, alloc, _ := liveFrame(t, asm.DefaultRegisterFile(), 1, 4)
	alloc.Reference(3)
	f.PushRegister(TypeInt, 3, asm.NoRegister)
	if err := f.Dup(); err != nil {
		t.Fatal(err)
	}
	if got := alloc.References(3); got != 2 {
		t.Fatalf("references after dup = %d, want 2", got)
	}
	if err := f.Pop1(); err != nil {
		t.Fatal(err)
	}
	if err := f.Pop1(); err != nil {
		t.Fatal(err)
	}
	if got := alloc.References(3); got != 0 {
		t.Errorf("references after popping both = %d, want 0", got)
	}
	f.checkClaims(true)
}

func TestTwoWordValues(t *testing.T) {
	f, _, _ := liveFrame(t, asm.DefaultRegisterFile(), 0, 4)
	f.PushImmediate(TypeLong, 1<<40+5)
	if err := f.Dup2(); err != nil {
		t.Fatal(err)
	}
	if f.StackPointer() != 4 {
		t.Fatalf("sp = %d, want 4", f.StackPointer())
	}
	for _, i := range []int{0, 2} {
		l := f.Slot(i)
		if l.Type != TypeLong || l.Imm != 1<<40+5 || l.IsHigh() {
			t.Errorf("slot %d = %s, want the long", i, l)
		}
		if !f.Slot(i + 1).IsHigh() {
			t.Errorf("slot %d is not a high half", i+1)
		}
	}
	if l := f.Pop(TypeLong); l.Imm != 1<<40+5 {
		t.Errorf("popped %s", l)
	}
	if f.StackPointer() != 2 {
		t.Errorf("sp = %d after pop, want 2", f.StackPointer())
	}
}

func TestSplitJoinWords(t *testing.T) {
	for _, v := range []int64{0, 1, -1, 1 << 40, -1 << 40, 0x7fffffff, -0x80000000} {
		lo, hi := SplitWords(v)
		if got := JoinWords(lo, hi); got != v {
			t.Errorf("JoinWords(SplitWords(%d)) = %d", v, got)
		}
	}
}

func TestLoadStoreLocal(t *testing.T) {
	f, alloc, buf := liveFrame(t, asm.DefaultRegisterFile(), 2, 2)
	f.SetMemory(0, TypeInt)

	if err := f.LoadLocal(0, TypeInt); err != nil {
		t.Fatal(err)
	}
	local, top := f.Local(0), f.Top(0)
	if !local.Is(InRegister) || local.Dirty {
		t.Fatalf("local after load = %s, want clean register", local)
	}
	if !top.Is(InRegister) || top.Lo != local.Lo || !top.Dirty {
		t.Fatalf("pushed copy = %s, want dirty %s", top, local)
	}
	if got := alloc.References(local.Lo); got != 2 {
		t.Errorf("references = %d, want 2", got)
	}
	if got := buf.Instrs(); len(got) != 1 || got[0] != asm.Load(local.Lo, 0) {
		t.Errorf("code = %v, want one load", got)
	}

	if err := f.StoreLocal(1, TypeInt); err != nil {
		t.Fatal(err)
	}
	if l := f.Local(1); !l.Is(InRegister) || l.Lo != local.Lo || !l.Dirty {
		t.Errorf("local 1 = %s, want dirty %s", l, local)
	}
	if f.StackPointer() != 0 {
		t.Errorf("sp = %d, want 0", f.StackPointer())
	}
	f.checkClaims(true)
}

func TestFlushAndSpill(t *testing.T) {
	f, alloc, buf := liveFrame(t, asm.DefaultRegisterFile(), 1, 2)
	mapInt(f, alloc, 0, 2)
	f.PushImmediate(TypeInt, 9)

	f.Flush()
	want := []asm.Instr{asm.Store(0, 2), asm.StoreImm(1, 9), asm.AdjustSP(1)}
	got := buf.Instrs()
	if len(got) != len(want) {
		t.Fatalf("flush emitted %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("instr %d = %v, want %v", i, got[i], want[i])
		}
	}
	if f.RealStackPointer() != 1 || f.FlushCount() != 1 {
		t.Errorf("rsp=%d flushes=%d, want 1 and 1", f.RealStackPointer(), f.FlushCount())
	}
	if l := f.Local(0); !l.Is(InRegister) || l.Dirty {
		t.Errorf("local after flush = %s, want clean register", l)
	}

	f.SpillRegister(2)
	if l := f.Local(0); !l.Is(InMemory) {
		t.Errorf("local after spill = %s, want memory", l)
	}
	if !alloc.IsFree(2) {
		t.Error("spilled register still referenced")
	}
}

func TestAllocateRegisterSpills(t *testing.T) {
	rf := asm.RegisterFile{IntCount: 2, Return: 0}
	f, alloc, buf := liveFrame(t, rf, 2, 0)
	mapInt(f, alloc, 0, 0)
	mapInt(f, alloc, 1, 1)

	r, err := f.AllocateRegister(asm.ClassInt)
	if err != nil {
		t.Fatalf("AllocateRegister: %v", err)
	}
	if f.mappings(r) != 0 || alloc.References(r) != 1 {
		t.Errorf("allocated %d with %d mappings and %d references", r, f.mappings(r), alloc.References(r))
	}
	if len(buf.Instrs()) != 1 || buf.Instrs()[0].Op != asm.OpStore {
		t.Errorf("spill code = %v, want one store", buf.Instrs())
	}

	if _, err := f.AllocateRegister(asm.ClassInt); err != nil {
		t.Fatalf("second AllocateRegister: %v", err)
	}
	// Both registers are held by the caller now: nothing left to spill.
	if _, err := f.AllocateRegister(asm.ClassInt); FailureOf(err) != ReservationFailed {
		t.Errorf("allocation with every register held = %v, want %v", err, ReservationFailed)
	}
}

func TestCloneIsDetached(t *testing.T) {
	f, alloc, _ := liveFrame(t, asm.DefaultRegisterFile(), 1, 1)
	mapInt(f, alloc, 0, 4)
	c := f.Clone()
	if c.IsAttached() {
		t.Fatal("clone is attached")
	}
	if !c.Equal(f) {
		t.Fatal("clone differs from original")
	}
	c.Clear(0)
	if alloc.References(4) != 1 {
		t.Error("detached frame touched the allocator")
	}
	if c.Equal(f) {
		t.Error("clone shares storage with original")
	}
}

// stackValue describes one operand stack value set up for a permutation.
type stackValue struct {
	t     BasicType
	where Where
	v     int64
}

// seedStack pushes values onto f and records their contents in m.
func seedStack(t *testing.T, f *Frame, alloc RegisterAllocator, m *asm.Machine, vals []stackValue) {
	t.Helper()
	for _, sv := range vals {
		i := f.Len()
		lo, hi := SplitWords(sv.v)
		switch sv.where {
		case Immediate:
			f.PushImmediate(sv.t, sv.v)
		case InMemory:
			m.Frame[f.mem(i)] = lo
			if sv.t.IsTwoWord() {
				m.Frame[f.mem(i+1)] = hi
			}
			f.Push(MemoryValue(sv.t))
		case InRegister:
			rlo, err := alloc.Allocate(sv.t.Class())
			if err != nil {
				t.Fatal(err)
			}
			rhi := asm.NoRegister
			if sv.t.IsTwoWord() {
				if rhi, err = alloc.Allocate(sv.t.Class()); err != nil {
					t.Fatal(err)
				}
				m.Regs[rlo], m.Regs[rhi] = lo, hi
			} else {
				m.Regs[rlo] = sv.v
			}
			f.PushRegister(sv.t, rlo, rhi)
		}
	}
}

// slotValue reads the value mapped at slot i out of m.
func slotValue(f *Frame, m *asm.Machine, i int) int64 {
	l := f.Slot(i)
	two := l.Type.IsTwoWord()
	switch l.Where {
	case Immediate:
		return l.Imm
	case InRegister:
		if two {
			return JoinWords(m.Regs[l.Lo], m.Regs[l.Hi])
		}
		return m.Regs[l.Lo]
	case InMemory:
		if two {
			return JoinWords(m.Frame[f.mem(i)], m.Frame[f.mem(i+1)])
		}
		return m.Frame[f.mem(i)]
	}
	return 0
}

// stackValues runs the code emitted so far on m and returns the operand
// stack values, one per value.
func stackValues(t *testing.T, f *Frame, buf *asm.Buffer, m *asm.Machine) []int64 {
	t.Helper()
	if _, _, err := m.Run(buf.Instrs()); err != nil {
		t.Fatalf("running emitted code: %v", err)
	}
	var out []int64
	for i := f.MaxLocals(); i < f.Len(); i++ {
		if f.Slot(i).IsHigh() {
			continue
		}
		out = append(out, slotValue(f, m, i))
	}
	return out
}

func TestStackPermutationsMixed(t *testing.T) {
	const (
		long1 = 1<<40 + 3
		long2 = -1 << 36
	)
	tests := []struct {
		name string
		in   []stackValue
		op   func(*Frame) error
		want []int64
	}{
		{"swap registers", []stackValue{{TypeInt, InRegister, 11}, {TypeInt, InRegister, 22}}, (*Frame).Swap, []int64{22, 11}},
		{"swap memory", []stackValue{{TypeInt, InMemory, 11}, {TypeInt, InMemory, 22}}, (*Frame).Swap, []int64{22, 11}},
		{"dup memory", []stackValue{{TypeInt, InMemory, 7}}, (*Frame).Dup, []int64{7, 7}},
		{"dup_x1 mixed", []stackValue{{TypeInt, InRegister, 1}, {TypeInt, InMemory, 2}}, (*Frame).DupX1, []int64{2, 1, 2}},
		{"dup_x2 mixed", []stackValue{{TypeInt, Immediate, 1}, {TypeInt, InMemory, 2}, {TypeInt, InRegister, 3}}, (*Frame).DupX2, []int64{3, 1, 2, 3}},
		{"dup2 long register", []stackValue{{TypeLong, InRegister, long1}}, (*Frame).Dup2, []int64{long1, long1}},
		{"dup2 long memory", []stackValue{{TypeLong, InMemory, long2}}, (*Frame).Dup2, []int64{long2, long2}},
		{"dup2 two ints", []stackValue{{TypeInt, InMemory, 4}, {TypeInt, InRegister, 5}}, (*Frame).Dup2, []int64{4, 5, 4, 5}},
		{"dup2_x1 long", []stackValue{{TypeInt, InMemory, 5}, {TypeLong, InRegister, long1}}, (*Frame).Dup2X1, []int64{long1, 5, long1}},
		{"dup2_x2 long over long", []stackValue{{TypeLong, InMemory, long2}, {TypeLong, InRegister, long1}}, (*Frame).Dup2X2, []int64{long1, long2, long1}},
		{"dup2_x2 long over ints", []stackValue{{TypeInt, InRegister, 1}, {TypeInt, InMemory, 2}, {TypeLong, Immediate, long2}}, (*Frame).Dup2X2, []int64{long2, 1, 2, long2}},
		{"pop2 long", []stackValue{{TypeInt, InMemory, 1}, {TypeLong, InRegister, long1}}, (*Frame).Pop2, []int64{1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, alloc, buf := liveFrame(t, asm.DefaultRegisterFile(), 1, 8)
			m := asm.NewMachine(alloc.File(), f.Len()+8)
			seedStack(t, f, alloc, m, tt.in)
			if err := tt.op(f); err != nil {
				t.Fatalf("%s: %v", tt.name, err)
			}
			got := stackValues(t, f, buf, m)
			if len(got) != len(tt.want) {
				t.Fatalf("stack = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Fatalf("stack = %v, want %v", got, tt.want)
				}
			}
			f.checkClaims(true)
		})
	}
}

func TestStackPermutationUnderPressure(t *testing.T) {
	rf := asm.RegisterFile{IntCount: 2, Return: 0}

	t.Run("window registers are not spilled", func(t *testing.T) {
		f, alloc, buf := liveFrame(t, rf, 0, 3)
		m := asm.NewMachine(rf, 3)
		seedStack(t, f, alloc, m, []stackValue{{TypeInt, InRegister, 11}, {TypeInt, InMemory, 22}})
		other, err := alloc.Allocate(asm.ClassInt)
		if err != nil {
			t.Fatal(err)
		}
		before := f.Clone()

		if err := f.Swap(); FailureOf(err) != ReservationFailed {
			t.Fatalf("swap with every register busy = %v, want %v", err, ReservationFailed)
		}
		if !f.Equal(before) {
			t.Errorf("frame changed by a failed swap:\n%s\nwant\n%s", f, before)
		}
		if n := len(buf.Instrs()); n != 0 {
			t.Errorf("failed swap emitted %d instructions", n)
		}
		top := f.Top(1)
		if alloc.References(top.Lo) != 1 || alloc.References(other) != 1 {
			t.Errorf("references = %d and %d, want 1 and 1", alloc.References(top.Lo), alloc.References(other))
		}
		f.checkClaims(false)
	})

	t.Run("locals are spilled", func(t *testing.T) {
		f, alloc, buf := liveFrame(t, rf, 1, 2)
		m := asm.NewMachine(rf, 3)
		seedStack(t, f, alloc, m, []stackValue{{TypeInt, InRegister, 11}})
		local, err := alloc.Allocate(asm.ClassInt)
		if err != nil {
			t.Fatal(err)
		}
		f.SetRegister(0, TypeInt, local, asm.NoRegister)
		m.Regs[local] = 33
		seedStack(t, f, alloc, m, []stackValue{{TypeInt, InMemory, 22}})

		if err := f.Swap(); err != nil {
			t.Fatalf("swap: %v", err)
		}
		got := stackValues(t, f, buf, m)
		if len(got) != 2 || got[0] != 22 || got[1] != 11 {
			t.Errorf("stack = %v, want [22 11]", got)
		}
		if l := f.Local(0); !l.Is(InMemory) || slotValue(f, m, 0) != 33 {
			t.Errorf("local = %s holding %d, want 33 in memory", l, slotValue(f, m, 0))
		}
		f.checkClaims(true)
	})
}
