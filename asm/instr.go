package asm

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Op is an abstract target operation.
type Op uint8

// Data movement
const (
	OpNop      Op = iota // no operation
	OpMove               // Dst <- Src
	OpSwap               // Dst <-> Src
	OpLoadImm            // Dst <- Imm
	OpLoad               // Dst <- frame[Slot]
	OpStore              // frame[Slot] <- Src
	OpStoreImm           // frame[Slot] <- Imm
	OpAdjustSP           // sp += Imm (words)
)

// Arithmetic. The right operand is Src2, or Imm when Src2 is NoRegister.
const (
	OpAdd       Op = iota + 0x10 // Dst <- Src + rhs
	OpSub                        // Dst <- Src - rhs
	OpMul                        // Dst <- Src * rhs
	OpDiv                        // Dst <- Src / rhs
	OpRem                        // Dst <- Src % rhs
	OpAnd                        // Dst <- Src & rhs
	OpOr                         // Dst <- Src | rhs
	OpXor                        // Dst <- Src ^ rhs
	OpNeg                        // Dst <- -Src
	OpLoadField                  // Dst <- heap[Src + Imm]
)

// Control flow
const (
	OpJump       Op = iota + 0x20 // goto Label
	OpBranch                      // if Src Cond rhs goto Label
	OpCall                        // Dst <- runtime Call(Src, Src2)
	OpReturn                      // return
	OpOSREntry                    // on-stack replacement entry for bci Imm
	OpComment                     // Call holds the text
	OpStackCheck                  // if sp + Imm words exceeds the stack limit goto Label
)

// OpInfo holds metadata about an operation.
type OpInfo struct {
	Name string // mnemonic
	Size int    // nominal encoded size in bytes
}

var opTable = map[Op]OpInfo{
	OpNop:      {"nop", 4},
	OpMove:     {"mov", 4},
	OpSwap:     {"swap", 4},
	OpLoadImm:  {"li", 8},
	OpLoad:     {"ld", 4},
	OpStore:    {"st", 4},
	OpStoreImm: {"sti", 8},
	OpAdjustSP: {"adjsp", 4},

	OpAdd:       {"add", 4},
	OpSub:       {"sub", 4},
	OpMul:       {"mul", 4},
	OpDiv:       {"div", 4},
	OpRem:       {"rem", 4},
	OpAnd:       {"and", 4},
	OpOr:        {"or", 4},
	OpXor:       {"xor", 4},
	OpNeg:       {"neg", 4},
	OpLoadField: {"ldf", 4},

	OpJump:     {"b", 4},
	OpBranch:   {"bc", 4},
	OpCall:     {"call", 8},
	OpReturn:   {"ret", 4},
	OpOSREntry: {"osr", 8},
	OpComment:  {";", 0},

	OpStackCheck: {"stkchk", 8},
}

// Info returns metadata for the operation.
func (o Op) Info() OpInfo {
	if info, ok := opTable[o]; ok {
		return info
	}
	return OpInfo{Name: fmt.Sprintf("op(0x%02x)", uint8(o)), Size: 4}
}

func (o Op) String() string { return o.Info().Name }

// IsArith reports whether o is a register arithmetic operation.
func (o Op) IsArith() bool { return o >= OpAdd && o <= OpNeg }

// ---------------------------------------------------------------------------
// Conditions
// ---------------------------------------------------------------------------

// Cond is a branch condition comparing Src with the right operand.
type Cond uint8

const (
	CondEQ Cond = iota
	CondNE
	CondLT
	CondGE
	CondGT
	CondLE
)

var condNames = [...]string{"eq", "ne", "lt", "ge", "gt", "le"}

func (c Cond) String() string {
	if int(c) < len(condNames) {
		return condNames[c]
	}
	return fmt.Sprintf("cond(%d)", uint8(c))
}

// Negate returns the opposite condition.
func (c Cond) Negate() Cond {
	switch c {
	case CondEQ:
		return CondNE
	case CondNE:
		return CondEQ
	case CondLT:
		return CondGE
	case CondGE:
		return CondLT
	case CondGT:
		return CondLE
	default:
		return CondGT
	}
}

// Holds evaluates the condition.
func (c Cond) Holds(a, b int64) bool {
	switch c {
	case CondEQ:
		return a == b
	case CondNE:
		return a != b
	case CondLT:
		return a < b
	case CondGE:
		return a >= b
	case CondGT:
		return a > b
	default:
		return a <= b
	}
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instr is one abstract instruction. Unused register fields hold NoRegister.
type Instr struct {
	Op    Op
	Cond  Cond
	Dst   Register
	Src   Register
	Src2  Register
	Imm   int64
	Slot  int32
	Label Label
	Call  string
}

// Size returns the nominal encoded size of the instruction.
func (in Instr) Size() int { return in.Op.Info().Size }

func blank(op Op) Instr {
	return Instr{Op: op, Dst: NoRegister, Src: NoRegister, Src2: NoRegister}
}

// Move returns dst <- src.
func Move(dst, src Register) Instr {
	in := blank(OpMove)
	in.Dst, in.Src = dst, src
	return in
}

// Swap exchanges the contents of a and b.
func Swap(a, b Register) Instr {
	in := blank(OpSwap)
	in.Dst, in.Src = a, b
	return in
}

// LoadImm returns dst <- imm.
func LoadImm(dst Register, imm int64) Instr {
	in := blank(OpLoadImm)
	in.Dst, in.Imm = dst, imm
	return in
}

// Load returns dst <- frame[slot].
func Load(dst Register, slot int) Instr {
	in := blank(OpLoad)
	in.Dst, in.Slot = dst, int32(slot)
	return in
}

// Store returns frame[slot] <- src.
func Store(slot int, src Register) Instr {
	in := blank(OpStore)
	in.Slot, in.Src = int32(slot), src
	return in
}

// StoreImm returns frame[slot] <- imm.
func StoreImm(slot int, imm int64) Instr {
	in := blank(OpStoreImm)
	in.Slot, in.Imm = int32(slot), imm
	return in
}

// AdjustSP moves the machine stack pointer by delta words.
func AdjustSP(delta int) Instr {
	in := blank(OpAdjustSP)
	in.Imm = int64(delta)
	return in
}

// Arith returns dst <- a op b.
func Arith(op Op, dst, a, b Register) Instr {
	in := blank(op)
	in.Dst, in.Src, in.Src2 = dst, a, b
	return in
}

// ArithImm returns dst <- a op imm.
func ArithImm(op Op, dst, a Register, imm int64) Instr {
	in := blank(op)
	in.Dst, in.Src, in.Imm = dst, a, imm
	return in
}

// LoadField returns dst <- heap[base+offset].
func LoadField(dst, base Register, offset int64) Instr {
	in := blank(OpLoadField)
	in.Dst, in.Src, in.Imm = dst, base, offset
	return in
}

// Jump returns an unconditional branch to l.
func Jump(l Label) Instr {
	in := blank(OpJump)
	in.Label = l
	return in
}

// Branch returns a conditional branch comparing a with b.
func Branch(c Cond, a, b Register, l Label) Instr {
	in := blank(OpBranch)
	in.Cond, in.Src, in.Src2, in.Label = c, a, b, l
	return in
}

// BranchImm returns a conditional branch comparing a with imm.
func BranchImm(c Cond, a Register, imm int64, l Label) Instr {
	in := blank(OpBranch)
	in.Cond, in.Src, in.Imm, in.Label = c, a, imm, l
	return in
}

// Call invokes a runtime entry with up to two register arguments. The result,
// if any, lands in dst.
func Call(entry string, dst, arg0, arg1 Register) Instr {
	in := blank(OpCall)
	in.Call, in.Dst, in.Src, in.Src2 = entry, dst, arg0, arg1
	return in
}

// StackCheck branches to l when words more stack words would overflow.
func StackCheck(words int, l Label) Instr {
	in := blank(OpStackCheck)
	in.Imm, in.Label = int64(words), l
	return in
}

// Return leaves the compiled method.
func Return() Instr { return blank(OpReturn) }

// OSREntry marks the on-stack replacement entry for bci.
func OSREntry(bci int) Instr {
	in := blank(OpOSREntry)
	in.Imm = int64(bci)
	return in
}

// Comment is a zero-size annotation.
func Comment(format string, args ...interface{}) Instr {
	in := blank(OpComment)
	in.Call = fmt.Sprintf(format, args...)
	return in
}

// Format renders the instruction using register names from f.
func (in Instr) Format(f RegisterFile) string {
	r := f.Name
	var b strings.Builder
	b.WriteString(in.Op.String())
	switch in.Op {
	case OpMove, OpSwap:
		fmt.Fprintf(&b, " %s, %s", r(in.Dst), r(in.Src))
	case OpLoadImm:
		fmt.Fprintf(&b, " %s, #%d", r(in.Dst), in.Imm)
	case OpLoad:
		fmt.Fprintf(&b, " %s, [fp+%d]", r(in.Dst), in.Slot)
	case OpStore:
		fmt.Fprintf(&b, " [fp+%d], %s", in.Slot, r(in.Src))
	case OpStoreImm:
		fmt.Fprintf(&b, " [fp+%d], #%d", in.Slot, in.Imm)
	case OpAdjustSP:
		fmt.Fprintf(&b, " %+d", in.Imm)
	case OpNeg:
		fmt.Fprintf(&b, " %s, %s", r(in.Dst), r(in.Src))
	case OpLoadField:
		fmt.Fprintf(&b, " %s, [%s+%d]", r(in.Dst), r(in.Src), in.Imm)
	case OpJump:
		fmt.Fprintf(&b, " %s", in.Label)
	case OpBranch:
		fmt.Fprintf(&b, ".%s %s, %s, %s", in.Cond, r(in.Src), in.rhs(f), in.Label)
	case OpCall:
		fmt.Fprintf(&b, " %s(%s, %s) -> %s", in.Call, r(in.Src), r(in.Src2), r(in.Dst))
	case OpOSREntry:
		fmt.Fprintf(&b, " bci=%d", in.Imm)
	case OpStackCheck:
		fmt.Fprintf(&b, " %d, %s", in.Imm, in.Label)
	case OpComment:
		b.WriteString(" " + in.Call)
	case OpReturn, OpNop:
	default:
		if in.Op.IsArith() {
			fmt.Fprintf(&b, " %s, %s, %s", r(in.Dst), r(in.Src), in.rhs(f))
		}
	}
	return b.String()
}

func (in Instr) rhs(f RegisterFile) string {
	if in.Src2.IsValid() {
		return f.Name(in.Src2)
	}
	return fmt.Sprintf("#%d", in.Imm)
}
