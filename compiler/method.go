package compiler

import "fmt"

// Method is the metadata the core needs about the method being compiled.
type Method interface {
	Name() string
	MaxLocals() int
	MaxStack() int
	CodeLength() int

	// Parameters returns the types of the incoming arguments, which occupy
	// the first locals.
	Parameters() []BasicType
	ReturnType() BasicType

	// EntryCount returns the number of static predecessors of bci,
	// counting fallthrough, branches and exception edges.
	EntryCount(bci int) int

	// HandlerFor returns the exception handler covering bci for exceptions
	// of kind rte.
	HandlerFor(bci int, rte RuntimeException) (handler int, ok bool)

	// HandlerDiscardsException reports whether the handler at bci starts by
	// popping the exception object.
	HandlerDiscardsException(bci int) bool

	// HasMonitors reports whether the method acquires monitors.
	HasMonitors() bool
}

// Stepper translates one bytecode at a time into the active context.
//
// Step compiles the bytecode at bci and returns the bci to continue with,
// or Terminal when the straight-line run ends (return, throw, or a jump to
// an already compiled entry). Step must leave no registers held when it
// returns.
type Stepper interface {
	Step(c *Context, bci int) (next int, err error)
}

// StepFunc adapts a function to the Stepper interface.
type StepFunc func(c *Context, bci int) (int, error)

func (f StepFunc) Step(c *Context, bci int) (int, error) { return f(c, bci) }

// Terminal is returned by a Stepper when compilation of the current
// straight-line run is complete.
const Terminal = -1

// RuntimeException identifies exceptions raised by compiled code checks.
type RuntimeException uint8

const (
	NullPointerException RuntimeException = iota
	ArrayIndexOutOfBoundsException
	IllegalMonitorStateException
	DivisionByZeroException
	IncompatibleClassChangeException
	numRuntimeExceptions
)

var rteNames = [...]string{
	NullPointerException:             "null_pointer",
	ArrayIndexOutOfBoundsException:   "array_index_out_of_bounds",
	IllegalMonitorStateException:     "illegal_monitor_state",
	DivisionByZeroException:          "division_by_zero",
	IncompatibleClassChangeException: "incompatible_class_change",
}

func (r RuntimeException) String() string {
	if int(r) < len(rteNames) {
		return rteNames[r]
	}
	return fmt.Sprintf("rte(%d)", uint8(r))
}

// ThrowEntry is the runtime entry that throws r without further setup.
func (r RuntimeException) ThrowEntry() string { return EntryThrowPrefix + r.String() }

// ParseRuntimeException returns the exception named s, as printed by String.
func ParseRuntimeException(s string) (RuntimeException, error) {
	for r, name := range rteNames {
		if name == s {
			return RuntimeException(r), nil
		}
	}
	return 0, fmt.Errorf("unknown runtime exception %q", s)
}
