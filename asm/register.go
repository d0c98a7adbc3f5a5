// Package asm is the abstract target layer of the baseline compiler: register
// ids, labels, instruction records, a bounded code buffer and a small
// simulator that executes straight-line instruction sequences.
//
// Nothing in this package encodes real machine opcodes. Instructions are
// records with a nominal encoded size so that code-size budgets and label
// offsets behave the way they would on a fixed-width target.
package asm

import "fmt"

// Register is a machine register id. Integer and float registers share one
// dense numbering described by a RegisterFile.
type Register int8

// NoRegister marks an absent register.
const NoRegister Register = -1

// IsValid reports whether r names a register.
func (r Register) IsValid() bool { return r >= 0 }

// RegisterClass separates integer and floating point registers.
type RegisterClass uint8

const (
	ClassInt   RegisterClass = iota // general purpose
	ClassFloat                      // floating point
)

func (c RegisterClass) String() string {
	switch c {
	case ClassInt:
		return "int"
	case ClassFloat:
		return "float"
	default:
		return fmt.Sprintf("class(%d)", uint8(c))
	}
}

// RegisterFile describes the registers of a target.
type RegisterFile struct {
	IntCount   int // r0..r(IntCount-1)
	FloatCount int // numbered after the integer registers

	// Return is the integer result register. Two-word integer results use
	// Return and Return+1.
	Return Register

	// FloatReturn is the float result register. Doubles use FloatReturn and
	// FloatReturn+1.
	FloatReturn Register
}

// DefaultRegisterFile is a small embedded-style target: eight integer and
// four float registers.
func DefaultRegisterFile() RegisterFile {
	return RegisterFile{
		IntCount:    8,
		FloatCount:  4,
		Return:      0,
		FloatReturn: 8,
	}
}

// Count returns the number of registers of all classes.
func (f RegisterFile) Count() int { return f.IntCount + f.FloatCount }

// Class returns the class of r.
func (f RegisterFile) Class(r Register) RegisterClass {
	if int(r) >= f.IntCount {
		return ClassFloat
	}
	return ClassInt
}

// Range returns the first register and the number of registers in class c.
func (f RegisterFile) Range(c RegisterClass) (first Register, n int) {
	if c == ClassFloat {
		return Register(f.IntCount), f.FloatCount
	}
	return 0, f.IntCount
}

// Contains reports whether r is a register of this file.
func (f RegisterFile) Contains(r Register) bool {
	return r >= 0 && int(r) < f.Count()
}

// Validate checks that the return registers fit in the file and that each
// class has room for a two-word value.
func (f RegisterFile) Validate() error {
	if f.IntCount < 2 {
		return fmt.Errorf("register file needs at least 2 integer registers, have %d", f.IntCount)
	}
	if f.FloatCount != 0 && f.FloatCount < 2 {
		return fmt.Errorf("register file needs 0 or at least 2 float registers, have %d", f.FloatCount)
	}
	if f.Return < 0 || int(f.Return)+1 >= f.IntCount {
		return fmt.Errorf("return register %d does not leave room for a register pair", f.Return)
	}
	if f.FloatCount > 0 {
		first, n := f.Range(ClassFloat)
		if f.FloatReturn < first || int(f.FloatReturn)+1 >= int(first)+n {
			return fmt.Errorf("float return register %d outside float registers", f.FloatReturn)
		}
	}
	return nil
}

// Name returns the assembly name of r under this file.
func (f RegisterFile) Name(r Register) string {
	switch {
	case !r.IsValid():
		return "-"
	case int(r) < f.IntCount:
		return fmt.Sprintf("r%d", int(r))
	default:
		return fmt.Sprintf("f%d", int(r)-f.IntCount)
	}
}
