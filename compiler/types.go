package compiler

import (
	"fmt"

	"github.com/chazu/baseline/asm"
)

// BasicType is the VM-level type of a value held in a frame slot.
type BasicType uint8

const (
	TypeVoid BasicType = iota // no value
	TypeInt
	TypeLong
	TypeFloat
	TypeDouble
	TypeObject
	TypeReturnAddress
)

var typeNames = [...]string{
	TypeVoid:          "void",
	TypeInt:           "int",
	TypeLong:          "long",
	TypeFloat:         "float",
	TypeDouble:        "double",
	TypeObject:        "object",
	TypeReturnAddress: "retaddr",
}

func (t BasicType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// IsTwoWord reports whether values of t occupy two slots.
func (t BasicType) IsTwoWord() bool { return t == TypeLong || t == TypeDouble }

// Words returns the number of frame slots a value of t occupies.
func (t BasicType) Words() int {
	switch {
	case t == TypeVoid:
		return 0
	case t.IsTwoWord():
		return 2
	default:
		return 1
	}
}

// Class returns the register class used to hold values of t.
func (t BasicType) Class() asm.RegisterClass {
	if t == TypeFloat || t == TypeDouble {
		return asm.ClassFloat
	}
	return asm.ClassInt
}

// SplitWords returns the low and high halves of a two-word immediate in the
// order they occupy frame slots.
func SplitWords(v int64) (lo, hi int64) {
	return int64(int32(v)), v >> 32
}

// JoinWords is the inverse of SplitWords.
func JoinWords(lo, hi int64) int64 {
	return hi<<32 | int64(uint32(lo))
}

// ParseBasicType returns the type named s, as printed by String.
func ParseBasicType(s string) (BasicType, error) {
	for t, name := range typeNames {
		if name == s {
			return BasicType(t), nil
		}
	}
	return TypeVoid, fmt.Errorf("unknown type %q", s)
}
