package compiler

import (
	"fmt"

	"github.com/chazu/baseline/asm"
)

// Context is the compilation state of one method: the live frame, the
// worklist, the entry table and the shared throw stubs. Inlining pushes a
// child context for the callee; only the innermost context is active.
type Context struct {
	comp    *Compiler
	parent  *Context
	method  Method
	frame   *Frame
	entries *EntryTable
	queue   *Element
	current *Element
	shared  [numRuntimeExceptions]*Element

	bci         int
	inLoop      bool
	depth       int
	returnLabel asm.Label // inlined callees return here

	osrBCI     int
	osrPending bool
}

func newContext(comp *Compiler, parent *Context, m Method) *Context {
	c := &Context{
		comp:   comp,
		parent: parent,
		method: m,
		frame:  NewFrame(m.MaxLocals(), m.MaxStack()),
		osrBCI: -1,
	}
	if parent != nil {
		c.depth = parent.depth + 1
	}
	i := 0
	for _, t := range m.Parameters() {
		invariant(i+t.Words() <= m.MaxLocals(), "parameters of %s exceed %d locals", m.Name(), m.MaxLocals())
		c.frame.SetMemory(i, t)
		i += t.Words()
	}
	return c
}

// Method returns the method being compiled.
func (c *Context) Method() Method { return c.method }

// Frame returns the live frame.
func (c *Context) Frame() *Frame { return c.frame }

// Code returns the code emitter shared by all contexts of a compilation.
func (c *Context) Code() Emitter { return c.comp.code }

// Registers returns the target register file.
func (c *Context) Registers() asm.RegisterFile { return c.comp.alloc.File() }

// Config returns the compiler settings.
func (c *Context) Config() Config { return c.comp.cfg }

// BCI returns the bytecode index being compiled.
func (c *Context) BCI() int { return c.bci }

// Depth returns the inlining depth, 0 for the method being compiled.
func (c *Context) Depth() int { return c.depth }

// IsInlined reports whether c compiles an inlined callee.
func (c *Context) IsInlined() bool { return c.parent != nil }

// Entries returns the entry table, which may be empty.
func (c *Context) Entries() *EntryTable { return c.entries }

// Emit appends an instruction.
func (c *Context) Emit(in asm.Instr) { c.comp.code.Emit(in) }

// ---------------------------------------------------------------------------
// Registers
// ---------------------------------------------------------------------------

// AllocateRegister returns a register of class cls held by the caller.
func (c *Context) AllocateRegister(cls asm.RegisterClass) (asm.Register, error) {
	return c.frame.AllocateRegister(cls)
}

// AllocateFor returns registers for a value of type t, held by the caller.
func (c *Context) AllocateFor(t BasicType) (lo, hi asm.Register, err error) {
	return c.frame.allocateFor(t)
}

// Free drops the caller's hold on the given registers.
func (c *Context) Free(regs ...asm.Register) {
	for _, r := range regs {
		if r.IsValid() {
			c.comp.alloc.Release(r)
		}
	}
}

// returnRegisters returns the registers a value of type t is returned in.
func (c *Context) returnRegisters(t BasicType) (lo, hi asm.Register) {
	rf := c.Registers()
	lo = rf.Return
	if t.Class() == asm.ClassFloat {
		lo = rf.FloatReturn
	}
	hi = asm.NoRegister
	if t.IsTwoWord() {
		hi = lo + 1
	}
	return lo, hi
}

// ---------------------------------------------------------------------------
// Queue elements
// ---------------------------------------------------------------------------

// Allocate returns a reset element of the given kind that owns a private
// copy of the live frame. The element is not queued yet.
func (c *Context) Allocate(kind Kind, bci int) (*Element, error) {
	e, err := c.comp.pool.Get()
	if err != nil {
		return nil, err
	}
	c.comp.owned[e] = struct{}{}
	e.kind = kind
	e.bci = bci
	e.serial = c.comp.nextSerial()
	if e.frame == nil {
		e.frame = c.frame.Clone()
	} else {
		e.frame.CopyFrom(c.frame)
	}
	return e, nil
}

// Insert pushes e on the head of the worklist. The most recently created
// task is compiled first.
func (c *Context) Insert(e *Element) {
	e.next = c.queue
	c.queue = e
}

func (c *Context) dequeue() *Element {
	e := c.queue
	if e != nil {
		c.queue = e.next
		e.next = nil
	}
	return e
}

// Continuation queues compilation of the bytecodes starting at bci under
// the current frame and returns the label to branch to.
func (c *Context) Continuation(bci int, flags ContinuationFlags) (asm.Label, error) {
	e, err := c.Allocate(KindContinuation, bci)
	if err != nil {
		return asm.NoLabel, err
	}
	if c.bci < bci {
		flags |= ForwardBranchTarget
	}
	e.flags = flags
	e.entryLabel = c.comp.code.NewLabel()
	c.Insert(e)
	return e.entryLabel, nil
}

// Branch emits a conditional branch comparing a with b to bytecode target.
func (c *Context) Branch(cond asm.Cond, a, b asm.Register, target int) error {
	l, err := c.Continuation(target, 0)
	if err != nil {
		return err
	}
	c.Emit(asm.Branch(cond, a, b, l))
	return nil
}

// BranchImm emits a conditional branch comparing a with imm to bytecode
// target.
func (c *Context) BranchImm(cond asm.Cond, a asm.Register, imm int64, target int) error {
	l, err := c.Continuation(target, 0)
	if err != nil {
		return err
	}
	c.Emit(asm.BranchImm(cond, a, imm, l))
	return nil
}

func (c *Context) allocateStub(kind Kind, withReturn bool) (*Element, error) {
	e, err := c.Allocate(kind, c.bci)
	if err != nil {
		return nil, err
	}
	e.entryLabel = c.comp.code.NewLabel()
	if withReturn {
		e.returnLabel = c.comp.code.NewLabel()
	}
	c.Insert(e)
	return e, nil
}

// ThrowStub returns the label of a stub that raises rte at the current
// bytecode. Sites without a local handler in methods without monitors
// share one stub per exception kind.
func (c *Context) ThrowStub(rte RuntimeException) (asm.Label, error) {
	_, handled := c.method.HandlerFor(c.bci, rte)
	share := c.comp.cfg.ShareThrowStubs && !handled && !c.method.HasMonitors()
	if share && c.shared[rte] != nil {
		return c.shared[rte].entryLabel, nil
	}
	e, err := c.allocateStub(KindThrowException, false)
	if err != nil {
		return asm.NoLabel, err
	}
	e.rte = rte
	if share {
		e.persistent = true
		c.shared[rte] = e
	}
	return e.entryLabel, nil
}

// CheckCastStub queues the slow path of a checkcast of obj against
// classID. The caller branches to entry when the fast check fails and
// binds ret after it.
func (c *Context) CheckCastStub(obj asm.Register, classID int32) (entry, ret asm.Label, err error) {
	e, err := c.allocateStub(KindCheckCast, true)
	if err != nil {
		return asm.NoLabel, asm.NoLabel, err
	}
	e.reg0, e.classID = obj, classID
	return e.entryLabel, e.returnLabel, nil
}

// InstanceOfStub queues the slow path of an instanceof test of obj; the
// stub leaves its answer in result.
func (c *Context) InstanceOfStub(obj, result asm.Register, classID int32) (entry, ret asm.Label, err error) {
	e, err := c.allocateStub(KindInstanceOf, true)
	if err != nil {
		return asm.NoLabel, asm.NoLabel, err
	}
	e.reg0, e.reg1, e.classID = result, obj, classID
	return e.entryLabel, e.returnLabel, nil
}

// NewObjectStub queues the slow path of an allocation of classID into
// result.
func (c *Context) NewObjectStub(result asm.Register, classID int32) (entry, ret asm.Label, err error) {
	e, err := c.allocateStub(KindNewObject, true)
	if err != nil {
		return asm.NoLabel, asm.NoLabel, err
	}
	e.reg0, e.classID = result, classID
	return e.entryLabel, e.returnLabel, nil
}

// NewTypeArrayStub queues the slow path of allocating an array of length
// elements of type t into result.
func (c *Context) NewTypeArrayStub(result, length asm.Register, t BasicType) (entry, ret asm.Label, err error) {
	e, err := c.allocateStub(KindNewTypeArray, true)
	if err != nil {
		return asm.NoLabel, asm.NoLabel, err
	}
	e.reg0, e.reg1, e.elemType = result, length, t
	return e.entryLabel, e.returnLabel, nil
}

// TypeCheckStub queues the slow path of an array store check.
func (c *Context) TypeCheckStub(array, value asm.Register) (entry, ret asm.Label, err error) {
	e, err := c.allocateStub(KindTypeCheck, true)
	if err != nil {
		return asm.NoLabel, asm.NoLabel, err
	}
	e.reg0, e.reg1 = array, value
	return e.entryLabel, e.returnLabel, nil
}

// TimerTickStub queues a call into the runtime's timer tick handler.
func (c *Context) TimerTickStub() (entry, ret asm.Label, err error) {
	e, err := c.allocateStub(KindTimerTick, true)
	if err != nil {
		return asm.NoLabel, asm.NoLabel, err
	}
	return e.entryLabel, e.returnLabel, nil
}

// QuickCatchStub queues a transfer to the local handler at handlerBCI
// with exception as the only stack value. The caller jumps to the returned
// label.
func (c *Context) QuickCatchStub(handlerBCI int, exception asm.Register) (asm.Label, error) {
	e, err := c.allocateStub(KindQuickCatch, false)
	if err != nil {
		return asm.NoLabel, err
	}
	e.handlerBCI = handlerBCI
	e.reg0 = exception
	return e.entryLabel, nil
}

// osrStub queues the transition from the interpreter into the code at the
// entry just recorded for bci.
func (c *Context) osrStub(ent *Entry) error {
	e, err := c.Allocate(KindOSR, ent.BCI)
	if err != nil {
		return err
	}
	e.returnLabel = ent.Label
	c.Insert(e)
	return nil
}

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------

// Return returns a value of type t from the method. In an inlined callee
// it jumps to the caller's continuation instead.
func (c *Context) Return(t BasicType) error {
	if t != TypeVoid {
		lo, hi, err := c.frame.PopToRegister(t)
		if err != nil {
			return err
		}
		rlo, rhi := c.returnRegisters(t)
		moves := []regMove{{rlo, lo}}
		if t.IsTwoWord() {
			moves = append(moves, regMove{rhi, hi})
		}
		c.frame.moveRegisters(moves)
		c.Free(lo, hi)
	}
	if c.IsInlined() {
		if f := c.frame; f.rsp > 0 {
			c.Emit(asm.AdjustSP(-f.rsp))
		}
		c.Emit(asm.Jump(c.returnLabel))
	} else {
		c.Emit(asm.Return())
	}
	return nil
}

// Invoke emits an out-of-line call of callee. Arguments are taken from the
// stack and the result, if any, is pushed.
func (c *Context) Invoke(callee Method) error {
	f := c.frame
	f.Flush()
	f.dropRegisters()
	c.popArguments(callee)
	f.rsp = f.sp

	rt := callee.ReturnType()
	lo, _ := c.returnRegisters(rt)
	if rt == TypeVoid {
		lo = asm.NoRegister
	}
	c.Emit(asm.Call(EntryInvoke+":"+callee.Name(), lo, asm.NoRegister, asm.NoRegister))
	c.pushResult(rt)
	return nil
}

// CanInline reports whether callee may be compiled inline here.
func (c *Context) CanInline(callee Method) bool {
	cfg := c.comp.cfg
	return c.depth < cfg.MaxInlineDepth && callee.CodeLength() <= cfg.InlineSizeLimit
}

// Inline compiles callee in place of a call. The callee's locals overlay
// the argument words on the caller's stack.
func (c *Context) Inline(callee Method) error {
	if c.depth >= c.comp.cfg.MaxInlineDepth {
		return fmt.Errorf("%w: inlining %s at depth %d", OutOfStack, callee.Name(), c.depth+1)
	}
	f := c.frame
	f.Flush()
	f.dropRegisters()
	words := c.popArguments(callee)

	child := newContext(c.comp, c, callee)
	child.frame.base = f.base + f.maxLocals + f.sp
	child.returnLabel = c.comp.code.NewLabel()
	c.comp.log.Debugf("inline %s into %s at bci %d (depth %d)", callee.Name(), c.method.Name(), c.bci, child.depth)

	f.detach()
	err := c.comp.compileInline(child)
	f.attach(c.comp.alloc, c.comp.code)
	if err != nil {
		return err
	}

	c.comp.code.Bind(child.returnLabel)
	if words > 0 {
		c.Emit(asm.AdjustSP(-words))
	}
	f.rsp = f.sp
	c.pushResult(callee.ReturnType())
	return nil
}

func (c *Context) popArguments(callee Method) int {
	params := callee.Parameters()
	words := 0
	for i := len(params) - 1; i >= 0; i-- {
		l := c.frame.Pop(params[i])
		invariant(l.Where != InRegister, "argument still in a register after flush")
		words += params[i].Words()
	}
	return words
}

func (c *Context) pushResult(t BasicType) {
	if t == TypeVoid {
		return
	}
	lo, hi := c.returnRegisters(t)
	c.comp.alloc.Reference(lo)
	if hi.IsValid() {
		c.comp.alloc.Reference(hi)
	}
	c.frame.PushRegister(t, lo, hi)
}
