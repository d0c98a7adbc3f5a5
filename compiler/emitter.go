package compiler

import "github.com/chazu/baseline/asm"

// Emitter accepts abstract instructions. asm.Buffer is the reference
// implementation.
//
// Errors are sticky: once Emit or a bind fails, later calls are ignored and
// Err reports the first failure. The compiler checks Err between bytecodes
// and after every stub.
type Emitter interface {
	Emit(in asm.Instr)
	NewLabel() asm.Label
	Bind(l asm.Label)
	BindAt(l asm.Label, offset int)
	IsBound(l asm.Label) bool
	LabelOffset(l asm.Label) (int, bool)
	CodeSize() int
	Err() error
}

var _ Emitter = (*asm.Buffer)(nil)

// Runtime entry points called from stubs.
const (
	EntryThrow            = "throw_exception"
	EntryNewObject        = "new_object"
	EntryNewTypeArray     = "new_type_array"
	EntryCheckCast        = "checkcast"
	EntryInstanceOf       = "instanceof"
	EntryTypeCheck        = "array_store_type_check"
	EntryStackOverflow    = "stack_overflow"
	EntryTimerTick        = "timer_tick"
	EntryInvoke           = "invoke"
	EntryAllocException   = "allocate_exception"
	EntryThrowPrefix      = "throw_"
	EntryMonitorExitThrow = "unlock_and_throw"
)
