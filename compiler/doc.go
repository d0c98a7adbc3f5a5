// Package compiler is the symbolic-state core of a baseline JIT for a
// stack-based bytecode VM.
//
// A Frame tracks, for every local variable and operand stack slot, where the
// value currently lives: a register (or register pair), a memory slot of the
// machine frame, a known constant, or nowhere. Bytecode translation mutates
// the live Frame of the active Context in place. Deferred work (the main
// "keep compiling" task and the out-of-line stubs) is captured in pooled
// Elements that own a private Frame snapshot. When control flow joins, the
// arriving Frame is conformed to the Frame recorded in the EntryTable and
// the code jumps to the already compiled entry.
//
// The Compiler drives the worklist cooperatively: a compilation may suspend
// between two complete bytecodes and be resumed later, and it can be
// aborted as a whole.
//
// The core never encodes machine instructions. It talks to four
// collaborators: an Emitter for abstract instructions, a RegisterAllocator
// for register occupancy, a Method for metadata, and a Stepper that
// translates one bytecode at a time.
package compiler
