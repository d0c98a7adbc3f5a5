package compiler

import "github.com/chazu/baseline/asm"

// Stubs are compiled out of line, after the main path that branches to
// them, with the frame snapshot taken at the branch.

func (c *Context) compileThrow(e *Element) error {
	code := c.comp.code
	f := c.frame
	code.Bind(e.entryLabel)

	handler, ok := c.method.HandlerFor(e.bci, e.rte)
	if !ok || e.persistent {
		if c.method.HasMonitors() {
			f.Flush()
			in := asm.Call(EntryMonitorExitThrow, asm.NoRegister, asm.NoRegister, asm.NoRegister)
			in.Imm = int64(e.rte)
			c.Emit(in)
		} else {
			c.Emit(asm.Call(e.rte.ThrowEntry(), asm.NoRegister, asm.NoRegister, asm.NoRegister))
		}
		return nil
	}

	f.ClearStack()
	if c.method.HandlerDiscardsException(handler) {
		f.PushImmediate(TypeObject, 0)
		f.SetFacts(f.maxLocals, FlagNull, 0, 0, Snippet{})
	} else {
		f.Flush()
		f.dropRegisters()
		r := c.Registers().Return
		in := asm.Call(EntryAllocException, r, asm.NoRegister, asm.NoRegister)
		in.Imm = int64(e.rte)
		c.Emit(in)
		c.comp.alloc.Reference(r)
		f.PushRegister(TypeObject, r, asm.NoRegister)
		f.SetFacts(f.maxLocals, FlagNonNull, 0, 0, Snippet{})
	}

	if ent := c.entries.At(handler); ent != nil && f.IsConformantTo(ent.Frame) {
		c.Emit(asm.Jump(ent.Label))
		return nil
	}
	l, err := c.Continuation(handler, ExceptionHandler)
	if err != nil {
		return err
	}
	c.Emit(asm.Jump(l))
	return nil
}

// compileRuntimeCall emits a call that returns to the main path. Registers
// mapped by the frame do not survive the call; they are reloaded from
// memory afterwards, leaving result alone.
func (c *Context) compileRuntimeCall(e *Element, entry string, result, arg0, arg1 asm.Register, imm int64) {
	f := c.frame
	c.comp.code.Bind(e.entryLabel)
	saved := f.Clone()
	f.Flush()

	dst := asm.NoRegister
	if result.IsValid() {
		dst = c.Registers().Return
	}
	in := asm.Call(entry, dst, arg0, arg1)
	in.Imm = imm
	c.Emit(in)
	if result.IsValid() {
		c.comp.alloc.Reference(result)
		if result != dst {
			c.Emit(asm.Move(result, dst))
		}
	}

	f.reload(saved, result)
	if result.IsValid() {
		c.comp.alloc.Release(result)
	}
	c.Emit(asm.Jump(e.returnLabel))
}

// reload restores the registers mapped by saved from their memory words and
// the real stack pointer saved had. The frame must be flushed.
func (f *Frame) reload(saved *Frame, keep asm.Register) {
	for i := 0; i < saved.Len(); i++ {
		l := saved.locs[i]
		if l.high || l.Where != InRegister {
			continue
		}
		invariant(!l.Uses(keep), "slot %d maps result register %d", i, keep)
		f.emit(asm.Load(l.Lo, f.mem(i)))
		if l.Type.IsTwoWord() {
			f.emit(asm.Load(l.Hi, f.mem(i+1)))
		}
	}
	if saved.rsp != f.rsp {
		f.emit(asm.AdjustSP(saved.rsp - f.rsp))
		f.rsp = saved.rsp
	}
}

// compileOSR builds the transition from an interpreter frame, where every
// value is in memory, to the frame recorded at the entry.
func (c *Context) compileOSR(e *Element) error {
	f := c.frame
	c.comp.code.Bind(c.comp.osrLabel)
	c.Emit(asm.OSREntry(e.bci))
	target := f.Clone()
	f.MarkAsFlushed()
	f.ConformTo(target)
	c.Emit(asm.Jump(e.returnLabel))
	return nil
}

func (c *Context) compileStackOverflow(e *Element) {
	c.comp.code.Bind(e.entryLabel)
	c.Emit(asm.Call(EntryStackOverflow, asm.NoRegister, asm.NoRegister, asm.NoRegister))
}

func (c *Context) compileQuickCatch(e *Element) error {
	f := c.frame
	c.comp.code.Bind(e.entryLabel)
	c.comp.alloc.Reference(e.reg0)
	f.ClearStack()
	f.PushRegister(TypeObject, e.reg0, asm.NoRegister)
	f.SetFacts(f.maxLocals, FlagNonNull, 0, 0, Snippet{})
	l, err := c.Continuation(e.handlerBCI, ExceptionHandler)
	if err != nil {
		return err
	}
	c.Emit(asm.Jump(l))
	return nil
}
