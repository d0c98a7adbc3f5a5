package compiler

import (
	"errors"
	"fmt"
)

// Failure is the closed set of reasons a compilation is abandoned. A failed
// method keeps running in the interpreter; no partial code is installed.
type Failure uint8

const (
	FailureNone       Failure = iota // compiled
	ReservationFailed                // code buffer full or register pressure unresolvable
	OutOfTime                        // caller's deadline or cancellation
	OutOfMemory                      // element pool exhausted
	OutOfStack                       // inlining nested too deep
)

var failureNames = [...]string{
	FailureNone:       "none",
	ReservationFailed: "reservation failed",
	OutOfTime:         "out of time",
	OutOfMemory:       "out of memory",
	OutOfStack:        "out of stack",
}

func (f Failure) String() string {
	if int(f) < len(failureNames) {
		return failureNames[f]
	}
	return fmt.Sprintf("failure(%d)", uint8(f))
}

// Error makes a Failure usable as a sentinel with errors.Is.
func (f Failure) Error() string { return "compilation failed: " + f.String() }

var (
	// ErrNoFreeRegister is returned by allocators when every register of a
	// class is referenced.
	ErrNoFreeRegister = errors.New("no free register")

	// ErrPoolExhausted is returned when the element pool is at capacity.
	ErrPoolExhausted = errors.New("compilation queue pool exhausted")

	// ErrSuspended is returned by Compile while another compilation is
	// suspended and has been neither resumed nor aborted.
	ErrSuspended = errors.New("a suspended compilation is pending")

	// ErrNothingToResume is returned by Resume when no compilation is
	// suspended.
	ErrNothingToResume = errors.New("no suspended compilation")
)

// CompileError reports why a method could not be compiled.
type CompileError struct {
	Failure Failure
	Method  string
	BCI     int
	Err     error
}

func (e *CompileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("compile %s at bci %d: %s: %v", e.Method, e.BCI, e.Failure, e.Err)
	}
	return fmt.Sprintf("compile %s at bci %d: %s", e.Method, e.BCI, e.Failure)
}

// Unwrap exposes both the failure kind and the underlying cause.
func (e *CompileError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Failure}
	}
	return []error{e.Failure, e.Err}
}

// FailureOf classifies err. Errors that carry no Failure map to
// ReservationFailed, the catch-all for resources the compiler could not get.
func FailureOf(err error) Failure {
	if err == nil {
		return FailureNone
	}
	var ce *CompileError
	if errors.As(err, &ce) {
		return ce.Failure
	}
	for _, f := range []Failure{ReservationFailed, OutOfTime, OutOfMemory, OutOfStack} {
		if errors.Is(err, f) {
			return f
		}
	}
	if errors.Is(err, ErrPoolExhausted) {
		return OutOfMemory
	}
	return ReservationFailed
}

// InvariantError is the panic value of a failed internal consistency check.
// Checks are compiled out with the jitrelease build tag.
type InvariantError struct {
	Msg string
}

func (e *InvariantError) Error() string { return "compiler invariant violated: " + e.Msg }
