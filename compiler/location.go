package compiler

import (
	"fmt"
	"strings"

	"github.com/chazu/baseline/asm"
)

// Where is the physical representation of a slot's value.
type Where uint8

const (
	Nowhere    Where = iota // unmapped, value unknown or dead
	Immediate               // known constant
	InRegister              // register or register pair
	InMemory                // only in the slot's memory word(s)
)

func (w Where) String() string {
	switch w {
	case Nowhere:
		return "nowhere"
	case Immediate:
		return "imm"
	case InRegister:
		return "reg"
	case InMemory:
		return "mem"
	default:
		return fmt.Sprintf("where(%d)", uint8(w))
	}
}

// Flags are facts known about a value independent of where it lives.
type Flags uint8

const (
	FlagNonNull   Flags = 1 << iota // must not be null
	FlagNull                        // must be null
	FlagMinLength                   // MinLength is a lower bound on array length
	FlagClassID                     // ClassID is exact
)

// Snippet is the bytecode range [Start, End) whose execution produced a
// value. The zero Snippet means no tag.
type Snippet struct {
	Start, End int
}

// IsSet reports whether the snippet carries a range.
func (s Snippet) IsSet() bool { return s.End > s.Start }

// Location describes one logical frame slot.
//
// A two-word value occupies two consecutive slots. The lower slot carries the
// whole descriptor, including both registers, and the upper slot is a marker
// (see IsHigh). Both halves are always changed together.
//
// Dirty applies to Immediate and InRegister: a clean value is also present
// in the slot's memory word(s), a dirty one is not.
type Location struct {
	Type  BasicType
	Where Where
	Dirty bool

	Imm    int64        // Where == Immediate
	Lo, Hi asm.Register // Where == InRegister; Hi only for two-word values

	Flags     Flags
	MinLength int32
	ClassID   int32
	Snippet   Snippet

	high bool
}

// IsHigh reports whether l is the upper half marker of a two-word value.
func (l Location) IsHigh() bool { return l.high }

// IsTwoWord reports whether l is the lower half of a two-word value.
func (l Location) IsTwoWord() bool { return !l.high && l.Type.IsTwoWord() }

// Is reports whether l has representation w.
func (l Location) Is(w Where) bool { return !l.high && l.Where == w }

// InMemoryToo reports whether the slot's memory holds the value.
func (l Location) InMemoryToo() bool {
	switch l.Where {
	case InMemory:
		return true
	case Immediate, InRegister:
		return !l.Dirty
	}
	return false
}

// Uses reports whether l maps register r.
func (l Location) Uses(r asm.Register) bool {
	if l.high || l.Where != InRegister || !r.IsValid() {
		return false
	}
	return l.Lo == r || (l.Type.IsTwoWord() && l.Hi == r)
}

// Registers returns the registers mapped by l, in slot order.
func (l Location) Registers() []asm.Register {
	if l.high || l.Where != InRegister {
		return nil
	}
	if l.Type.IsTwoWord() {
		return []asm.Register{l.Lo, l.Hi}
	}
	return []asm.Register{l.Lo}
}

// HasFlag reports whether all of f are set.
func (l Location) HasFlag(f Flags) bool { return l.Flags&f == f }

// IsNonNull reports whether the value is known to be a non-null object.
func (l Location) IsNonNull() bool {
	return l.HasFlag(FlagNonNull) || (l.Where == Immediate && l.Type == TypeObject && l.Imm != 0)
}

// IsNull reports whether the value is known to be null.
func (l Location) IsNull() bool {
	return l.HasFlag(FlagNull) || (l.Where == Immediate && l.Type == TypeObject && l.Imm == 0)
}

// sameFacts reports whether l and o carry equal status information.
func (l Location) sameFacts(o Location) bool {
	return l.Flags == o.Flags && l.MinLength == o.MinLength &&
		l.ClassID == o.ClassID && l.Snippet == o.Snippet
}

// factsSubsetOf reports whether every fact l claims is also claimed by o.
func (l Location) factsSubsetOf(o Location) bool {
	if l.Flags&^o.Flags != 0 {
		return false
	}
	if l.HasFlag(FlagMinLength) && l.MinLength > o.MinLength {
		return false
	}
	if l.HasFlag(FlagClassID) && l.ClassID != o.ClassID {
		return false
	}
	return true
}

func (l Location) clearFacts() Location {
	l.Flags, l.MinLength, l.ClassID, l.Snippet = 0, 0, 0, Snippet{}
	return l
}

// Format renders l using register names from f.
func (l Location) Format(f asm.RegisterFile) string {
	if l.high {
		return "(hi)"
	}
	var b strings.Builder
	b.WriteString(l.Type.String())
	switch l.Where {
	case Nowhere:
		b.WriteString(" -")
	case Immediate:
		fmt.Fprintf(&b, " #%d", l.Imm)
	case InRegister:
		b.WriteString(" " + f.Name(l.Lo))
		if l.Type.IsTwoWord() {
			b.WriteString(":" + f.Name(l.Hi))
		}
	case InMemory:
		b.WriteString(" mem")
	}
	if l.Dirty {
		b.WriteString("*")
	}
	if l.HasFlag(FlagNonNull) {
		b.WriteString(" nonnull")
	}
	if l.HasFlag(FlagNull) {
		b.WriteString(" null")
	}
	if l.HasFlag(FlagMinLength) {
		fmt.Fprintf(&b, " len>=%d", l.MinLength)
	}
	if l.HasFlag(FlagClassID) {
		fmt.Fprintf(&b, " class=%d", l.ClassID)
	}
	if l.Snippet.IsSet() {
		fmt.Fprintf(&b, " @[%d,%d)", l.Snippet.Start, l.Snippet.End)
	}
	return b.String()
}

func (l Location) String() string { return l.Format(asm.DefaultRegisterFile()) }

// Constructors used by steppers and tests.

// RegisterValue returns a dirty register location.
func RegisterValue(t BasicType, lo, hi asm.Register) Location {
	return Location{Type: t, Where: InRegister, Dirty: true, Lo: lo, Hi: hi}
}

// ImmediateValue returns a dirty constant location.
func ImmediateValue(t BasicType, v int64) Location {
	return Location{Type: t, Where: Immediate, Dirty: true, Imm: v, Lo: asm.NoRegister, Hi: asm.NoRegister}
}

// MemoryValue returns a memory-only location.
func MemoryValue(t BasicType) Location {
	return Location{Type: t, Where: InMemory, Lo: asm.NoRegister, Hi: asm.NoRegister}
}

func nowhere() Location {
	return Location{Where: Nowhere, Lo: asm.NoRegister, Hi: asm.NoRegister}
}

func highHalf(t BasicType) Location {
	return Location{Type: t, Where: Nowhere, Lo: asm.NoRegister, Hi: asm.NoRegister, high: true}
}
