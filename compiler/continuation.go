package compiler

import (
	"fmt"
	"time"

	"github.com/chazu/baseline/asm"
)

// compileContinuation compiles the straight-line run of bytecodes starting
// at e.bci until the stepper reports Terminal, the run reaches code that
// already exists, or a checkpoint suspends it. In the last case e keeps
// the frame and the next bytecode and finished is false.
func (c *Context) compileContinuation(e *Element) (finished bool, err error) {
	comp := c.comp
	code := comp.code
	f := c.frame

	if !e.suspended {
		e.startBCI = e.bci
		e.codeBefore = code.CodeSize()
		f.flushCount = 0
		c.inLoop = false
		if e.flags&NeedOSREntry != 0 {
			c.Emit(asm.OSREntry(e.bci))
		}
	}
	e.suspended = false

	for {
		bci := e.bci
		c.bci = bci

		if ent := c.entries.At(bci); ent != nil {
			if !c.canPeel(e, ent) {
				c.merge(e, ent)
				break
			}
			c.inLoop = true
			inc(&comp.stats.loopsPeeled)
			comp.log.Debugf("%s: peeling loop at bci %d", comp.id, bci)
		}

		if c.needsEntry(bci) {
			if err := c.recordEntry(e, bci); err != nil {
				return true, err
			}
		}

		next, err := comp.stepper.Step(c, bci)
		if err != nil {
			return true, err
		}
		inc(&comp.stats.bytecodes)
		comp.steps++
		if err := code.Err(); err != nil {
			return true, fmt.Errorf("%w: %w", ReservationFailed, err)
		}
		f.checkClaims(true)
		if next == Terminal {
			break
		}
		invariant(next >= 0 && next < c.method.CodeLength(), "step at bci %d continues at %d", bci, next)
		e.bci = next

		suspend, err := c.checkpoint()
		if err != nil {
			return true, err
		}
		if suspend {
			e.suspended = true
			e.frame.CopyFrom(f)
			return false, nil
		}
	}

	if !code.IsBound(e.entryLabel) {
		code.BindAt(e.entryLabel, e.codeBefore)
	}
	return true, nil
}

// canPeel reports whether the run may compile the loop at ent once more
// instead of jumping back to it: only the run that created the entry,
// only once, only for small loops and never across a flush.
func (c *Context) canPeel(e *Element, ent *Entry) bool {
	cfg := c.comp.cfg
	return cfg.LoopPeeling &&
		e.flags&ForwardBranchTarget == 0 &&
		!c.inLoop &&
		ent.owner == e.serial &&
		c.frame.flushCount == ent.Frame.flushCount &&
		c.comp.code.CodeSize()-ent.CodeSize <= cfg.LoopPeelingSizeLimit
}

// merge conforms the live frame to ent and transfers control to it.
func (c *Context) merge(e *Element, ent *Entry) {
	code := c.comp.code
	c.frame.ConformTo(ent.Frame)
	inc(&c.comp.stats.merges)
	if code.CodeSize() == e.codeBefore && !code.IsBound(e.entryLabel) {
		if off, ok := code.LabelOffset(ent.Label); ok {
			code.BindAt(e.entryLabel, off)
			c.inLoop = false
			return
		}
	}
	c.Emit(asm.Jump(ent.Label))
	c.inLoop = false
}

func (c *Context) needsEntry(bci int) bool {
	return c.method.EntryCount(bci) > 1 || (c.osrPending && bci == c.osrBCI)
}

// recordEntry turns the live frame into a merge target at bci.
func (c *Context) recordEntry(e *Element, bci int) error {
	code := c.comp.code
	if c.entries == nil {
		c.entries = NewEntryTable(c.method.CodeLength())
	}
	c.frame.ConformanceEntry()
	l := code.NewLabel()
	code.Bind(l)
	ent := &Entry{
		BCI:      bci,
		Frame:    c.frame.Clone(),
		Label:    l,
		CodeSize: code.CodeSize(),
		owner:    e.serial,
	}
	c.entries.Set(ent)
	inc(&c.comp.stats.entries)
	c.comp.log.Debugf("%s: entry at bci %d (%s)", c.comp.id, bci, l)

	if c.osrPending && bci == c.osrBCI {
		c.osrPending = false
		return c.osrStub(ent)
	}
	return nil
}

// checkpoint runs between complete bytecodes. It reports a cancelled or
// expired context and decides whether the compilation suspends here.
func (c *Context) checkpoint() (suspend bool, err error) {
	comp := c.comp
	if ctx := comp.goctx; ctx != nil {
		if err := ctx.Err(); err != nil {
			return false, fmt.Errorf("%w: %w", OutOfTime, err)
		}
	}
	if c.depth > 0 {
		return false, nil
	}
	cfg := comp.cfg
	if cfg.SuspendEvery > 0 && comp.steps%cfg.SuspendEvery == 0 {
		return true, nil
	}
	return cfg.TimeSlice > 0 && time.Since(comp.sliceStart) >= cfg.TimeSlice, nil
}
