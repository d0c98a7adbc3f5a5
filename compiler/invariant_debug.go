//go:build !jitrelease

package compiler

import "fmt"

const debugChecks = true

func invariant(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
	}
}
