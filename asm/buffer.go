package asm

import (
	"errors"
	"fmt"
	"strings"
)

// ErrBufferFull is recorded when an instruction would exceed the buffer
// limit.
var ErrBufferFull = errors.New("code buffer full")

// Buffer collects instructions for one compilation. Errors are sticky: after
// the first failure every Emit is dropped and Err reports the cause, so
// callers check once at a convenient point instead of after each
// instruction.
type Buffer struct {
	instrs  []Instr
	offsets []int // code offset of each instruction
	size    int
	limit   int
	labels  LabelTable
	err     error
}

// NewBuffer returns a buffer holding at most limit bytes of code. A limit of
// zero means unbounded.
func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: limit}
}

// Emit appends in.
func (b *Buffer) Emit(in Instr) {
	if b.err != nil {
		return
	}
	if b.limit > 0 && b.size+in.Size() > b.limit {
		b.err = fmt.Errorf("%w: %d of %d bytes used, %s needs %d",
			ErrBufferFull, b.size, b.limit, in.Op, in.Size())
		return
	}
	b.instrs = append(b.instrs, in)
	b.offsets = append(b.offsets, b.size)
	b.size += in.Size()
}

// NewLabel allocates an unbound label.
func (b *Buffer) NewLabel() Label { return b.labels.New() }

// Bind binds l to the current code offset.
func (b *Buffer) Bind(l Label) { b.BindAt(l, b.size) }

// BindAt binds l to an earlier code offset.
func (b *Buffer) BindAt(l Label, offset int) {
	if b.err != nil {
		return
	}
	if err := b.labels.Bind(l, offset); err != nil {
		b.err = err
	}
}

// IsBound reports whether l has been bound.
func (b *Buffer) IsBound(l Label) bool { return b.labels.IsBound(l) }

// LabelOffset returns the offset l is bound to.
func (b *Buffer) LabelOffset(l Label) (int, bool) { return b.labels.Offset(l) }

// CodeSize returns the number of bytes emitted so far.
func (b *Buffer) CodeSize() int { return b.size }

// Err returns the first error recorded by the buffer.
func (b *Buffer) Err() error { return b.err }

// Instrs returns the emitted instructions. The slice is owned by the buffer.
func (b *Buffer) Instrs() []Instr { return b.instrs }

// Labels returns the label table.
func (b *Buffer) Labels() *LabelTable { return &b.labels }

// Since returns the instructions emitted at or after code offset from.
func (b *Buffer) Since(from int) []Instr {
	for i, off := range b.offsets {
		if off >= from {
			return b.instrs[i:]
		}
	}
	return nil
}

// Reset discards all code and labels but keeps the limit.
func (b *Buffer) Reset() {
	b.instrs = b.instrs[:0]
	b.offsets = b.offsets[:0]
	b.size = 0
	b.labels.Reset()
	b.err = nil
}

// Disassemble renders the buffer one instruction per line, with bound
// labels printed before the instruction at their offset.
func (b *Buffer) Disassemble(f RegisterFile) string {
	at := make(map[int][]Label)
	for i := 0; i < b.labels.Len(); i++ {
		l := Label(i + 1)
		if off, ok := b.labels.Offset(l); ok {
			at[off] = append(at[off], l)
		}
	}

	var sb strings.Builder
	for i, in := range b.instrs {
		for _, l := range at[b.offsets[i]] {
			fmt.Fprintf(&sb, "%s:\n", l)
		}
		delete(at, b.offsets[i])
		fmt.Fprintf(&sb, "%6d  %s\n", b.offsets[i], in.Format(f))
	}
	// Labels bound at the end of the code.
	for _, l := range at[b.size] {
		fmt.Fprintf(&sb, "%s:\n", l)
	}
	return sb.String()
}
