package compiler

import (
	"fmt"

	"github.com/chazu/baseline/asm"
)

// Kind discriminates the deferred tasks on a compilation queue.
type Kind uint8

const (
	KindContinuation Kind = iota
	KindThrowException
	KindTypeCheck
	KindCheckCast
	KindInstanceOf
	KindNewObject
	KindNewTypeArray
	KindOSR
	KindStackOverflow
	KindTimerTick
	KindQuickCatch
	numKinds
)

var kindNames = [...]string{
	KindContinuation:   "continuation",
	KindThrowException: "throw_exception_stub",
	KindTypeCheck:      "type_check_stub",
	KindCheckCast:      "check_cast_stub",
	KindInstanceOf:     "instance_of_stub",
	KindNewObject:      "new_object_stub",
	KindNewTypeArray:   "new_type_array_stub",
	KindOSR:            "osr_stub",
	KindStackOverflow:  "stack_overflow_stub",
	KindTimerTick:      "timer_tick_stub",
	KindQuickCatch:     "quick_catch_stub",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// IsStub reports whether k is compiled atomically.
func (k Kind) IsStub() bool { return k != KindContinuation }

// ContinuationFlags qualify a Continuation.
type ContinuationFlags uint8

const (
	NeedOSREntry        ContinuationFlags = 1 << iota // emit an OSR entry marker first
	ExceptionHandler                                  // starts an exception handler
	RunImmediately                                    // the creator falls into it
	ForwardBranchTarget                               // reached by a forward branch; never peeled
)

// Element is a pooled deferred compilation task. While queued or being
// compiled it exclusively owns its frame snapshot.
type Element struct {
	next   *Element
	kind   Kind
	serial uint64
	frame  *Frame
	bci    int

	entryLabel  asm.Label
	returnLabel asm.Label
	reg0, reg1  asm.Register

	// Kind payloads. Only the fields of the element's kind are meaningful.
	rte        RuntimeException  // KindThrowException
	classID    int32             // KindCheckCast, KindInstanceOf, KindNewObject
	elemType   BasicType         // KindNewTypeArray
	handlerBCI int               // KindQuickCatch
	flags      ContinuationFlags // KindContinuation

	// Continuation progress, kept across suspension.
	suspended  bool
	startBCI   int
	codeBefore int
	entryBound bool

	persistent bool
	pooled     bool
}

// reset clears everything but the frame storage.
func (e *Element) reset() {
	frame := e.frame
	*e = Element{
		frame: frame,
		reg0:  asm.NoRegister,
		reg1:  asm.NoRegister,
	}
}

// Kind returns the task kind.
func (e *Element) Kind() Kind { return e.kind }

// BCI returns the bytecode index the task belongs to. For a suspended
// Continuation it is the next bytecode to compile.
func (e *Element) BCI() int { return e.bci }

// Frame returns the element's frame snapshot.
func (e *Element) Frame() *Frame { return e.frame }

// EntryLabel is where code branching to this task jumps.
func (e *Element) EntryLabel() asm.Label { return e.entryLabel }

// ReturnLabel is where a stub resumes the main code.
func (e *Element) ReturnLabel() asm.Label { return e.returnLabel }

// Registers returns the two register reservations.
func (e *Element) Registers() (asm.Register, asm.Register) { return e.reg0, e.reg1 }

// Flags returns the continuation flags.
func (e *Element) Flags() ContinuationFlags { return e.flags }

// IsSuspended reports whether the task stopped at a checkpoint.
func (e *Element) IsSuspended() bool { return e.suspended }

// IsPersistent reports whether the task is shared and outlives its own
// compilation.
func (e *Element) IsPersistent() bool { return e.persistent }

func (e *Element) String() string {
	return fmt.Sprintf("%s@%d#%d", e.kind, e.bci, e.serial)
}

// compile dispatches on the kind. Only a Continuation can report that it is
// not finished.
func (e *Element) compile(c *Context) (finished bool, err error) {
	switch e.kind {
	case KindContinuation:
		return c.compileContinuation(e)
	case KindThrowException:
		err = c.compileThrow(e)
	case KindTypeCheck:
		c.compileRuntimeCall(e, EntryTypeCheck, asm.NoRegister, e.reg0, e.reg1, 0)
	case KindCheckCast:
		c.compileRuntimeCall(e, EntryCheckCast, asm.NoRegister, e.reg0, asm.NoRegister, int64(e.classID))
	case KindInstanceOf:
		c.compileRuntimeCall(e, EntryInstanceOf, e.reg0, e.reg1, asm.NoRegister, int64(e.classID))
	case KindNewObject:
		c.compileRuntimeCall(e, EntryNewObject, e.reg0, asm.NoRegister, asm.NoRegister, int64(e.classID))
	case KindNewTypeArray:
		c.compileRuntimeCall(e, EntryNewTypeArray, e.reg0, e.reg1, asm.NoRegister, int64(e.elemType))
	case KindOSR:
		err = c.compileOSR(e)
	case KindStackOverflow:
		c.compileStackOverflow(e)
	case KindTimerTick:
		c.compileRuntimeCall(e, EntryTimerTick, asm.NoRegister, asm.NoRegister, asm.NoRegister, 0)
	case KindQuickCatch:
		err = c.compileQuickCatch(e)
	default:
		invariant(false, "compile of unknown element kind %d", e.kind)
	}
	return true, err
}
