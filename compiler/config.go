package compiler

import (
	"fmt"
	"time"

	"github.com/chazu/baseline/asm"
)

// Config tunes a Compiler.
type Config struct {
	Registers asm.RegisterFile

	// Allocator arbitrates register occupancy. It must describe Registers
	// and is reset at the start of every compilation. When nil, each
	// compilation gets a fresh RoundRobinAllocator.
	Allocator RegisterAllocator

	// CodeBufferSize caps the code of one compilation in bytes. Zero means
	// unbounded.
	CodeBufferSize int

	// Pool supplies queue elements. When nil, a private pool of
	// PoolCapacity elements is created, or the process-wide pool is used
	// when PoolCapacity is zero.
	Pool         *Pool
	PoolCapacity int

	// Loop peeling compiles the first iteration of a loop twice before
	// merging, as long as the first copy produced at most
	// LoopPeelingSizeLimit bytes.
	LoopPeeling          bool
	LoopPeelingSizeLimit int

	// Callees of at most InlineSizeLimit bytecodes are inlined up to
	// MaxInlineDepth levels.
	MaxInlineDepth  int
	InlineSizeLimit int

	// A compilation suspends after every SuspendEvery bytecodes or once
	// TimeSlice has elapsed, whichever comes first. Zero disables each.
	SuspendEvery int
	TimeSlice    time.Duration

	// ShareThrowStubs lets all throw sites without a local handler reuse
	// one stub per exception kind.
	ShareThrowStubs bool

	// StackCheck emits a stack overflow check in the method prologue.
	StackCheck bool

	// Trace logs every compiled element at debug level.
	Trace bool
}

// DefaultConfig returns the settings used by the jitc tool.
func DefaultConfig() Config {
	return Config{
		Registers:            asm.DefaultRegisterFile(),
		CodeBufferSize:       64 * 1024,
		LoopPeeling:          true,
		LoopPeelingSizeLimit: 256,
		MaxInlineDepth:       2,
		InlineSizeLimit:      16,
		ShareThrowStubs:      true,
		StackCheck:           true,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	if err := c.Registers.Validate(); err != nil {
		return fmt.Errorf("registers: %w", err)
	}
	if c.Allocator != nil && c.Allocator.File() != c.Registers {
		return fmt.Errorf("allocator arbitrates %+v, not the configured registers %+v", c.Allocator.File(), c.Registers)
	}
	switch {
	case c.CodeBufferSize < 0:
		return fmt.Errorf("code buffer size %d is negative", c.CodeBufferSize)
	case c.PoolCapacity < 0:
		return fmt.Errorf("pool capacity %d is negative", c.PoolCapacity)
	case c.LoopPeelingSizeLimit < 0:
		return fmt.Errorf("loop peeling size limit %d is negative", c.LoopPeelingSizeLimit)
	case c.MaxInlineDepth < 0:
		return fmt.Errorf("max inline depth %d is negative", c.MaxInlineDepth)
	case c.SuspendEvery < 0:
		return fmt.Errorf("suspend-every %d is negative", c.SuspendEvery)
	case c.TimeSlice < 0:
		return fmt.Errorf("time slice %s is negative", c.TimeSlice)
	}
	return nil
}
