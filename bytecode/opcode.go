package bytecode

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode is a single bytecode instruction. The set is a small JVM-like
// subset: enough to drive every kind of compiler task.
type Opcode byte

// Constants
const (
	OpNop        Opcode = 0x00 // no operation
	OpIConst     Opcode = 0x01 // push int (32-bit operand)
	OpLConst     Opcode = 0x02 // push long (64-bit operand)
	OpAConstNull Opcode = 0x03 // push null
)

// Locals
const (
	OpILoad  Opcode = 0x10 // push int local (8-bit index)
	OpLLoad  Opcode = 0x11 // push long local (8-bit index)
	OpALoad  Opcode = 0x12 // push object local (8-bit index)
	OpIStore Opcode = 0x13 // pop int into local (8-bit index)
	OpLStore Opcode = 0x14 // pop long into local (8-bit index)
	OpAStore Opcode = 0x15 // pop object into local (8-bit index)
	OpIInc   Opcode = 0x16 // add to int local (8-bit index, 8-bit signed delta)
)

// Stack
const (
	OpPop    Opcode = 0x20
	OpPop2   Opcode = 0x21
	OpDup    Opcode = 0x22
	OpDupX1  Opcode = 0x23
	OpDupX2  Opcode = 0x24
	OpDup2   Opcode = 0x25
	OpDup2X1 Opcode = 0x26
	OpDup2X2 Opcode = 0x27
	OpSwap   Opcode = 0x28
)

// Integer arithmetic
const (
	OpIAdd Opcode = 0x30
	OpISub Opcode = 0x31
	OpIMul Opcode = 0x32
	OpIDiv Opcode = 0x33 // throws division_by_zero
	OpIRem Opcode = 0x34 // throws division_by_zero
	OpIAnd Opcode = 0x35
	OpIOr  Opcode = 0x36
	OpIXor Opcode = 0x37
	OpINeg Opcode = 0x38
)

// Control flow. Branch operands are signed 16-bit offsets from the start of
// the instruction.
const (
	OpIfEQ      Opcode = 0x40 // pop int, branch if == 0
	OpIfNE      Opcode = 0x41
	OpIfLT      Opcode = 0x42
	OpIfGE      Opcode = 0x43
	OpIfGT      Opcode = 0x44
	OpIfLE      Opcode = 0x45
	OpIfICmpEQ  Opcode = 0x46 // pop two ints, branch if a == b
	OpIfICmpNE  Opcode = 0x47
	OpIfICmpLT  Opcode = 0x48
	OpIfICmpGE  Opcode = 0x49
	OpIfICmpGT  Opcode = 0x4A
	OpIfICmpLE  Opcode = 0x4B
	OpIfNull    Opcode = 0x4C // pop object, branch if null
	OpIfNonNull Opcode = 0x4D
	OpGoto      Opcode = 0x4E
)

// Returns
const (
	OpIReturn Opcode = 0x50
	OpLReturn Opcode = 0x51
	OpAReturn Opcode = 0x52
	OpReturn  Opcode = 0x53
)

// Objects
const (
	OpNew         Opcode = 0x60 // allocate instance (16-bit class id)
	OpNewArray    Opcode = 0x61 // pop length, allocate array (8-bit element type)
	OpArrayLength Opcode = 0x62 // throws null_pointer
	OpCheckCast   Opcode = 0x63 // 16-bit class id
	OpInstanceOf  Opcode = 0x64 // 16-bit class id
	OpAThrow      Opcode = 0x65
)

// Calls
const (
	OpInvokeStatic Opcode = 0x70 // 8-bit callee index
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name         string // assembler mnemonic
	OperandBytes int
	Flow         Flow
}

// Flow describes how control leaves an instruction.
type Flow uint8

const (
	FlowNext   Flow = iota // falls through
	FlowBranch             // conditional branch; falls through too
	FlowGoto               // unconditional branch
	FlowExit               // return or throw
)

var opcodeTable = map[Opcode]OpcodeInfo{
	OpNop:        {"nop", 0, FlowNext},
	OpIConst:     {"iconst", 4, FlowNext},
	OpLConst:     {"lconst", 8, FlowNext},
	OpAConstNull: {"aconst_null", 0, FlowNext},

	OpILoad:  {"iload", 1, FlowNext},
	OpLLoad:  {"lload", 1, FlowNext},
	OpALoad:  {"aload", 1, FlowNext},
	OpIStore: {"istore", 1, FlowNext},
	OpLStore: {"lstore", 1, FlowNext},
	OpAStore: {"astore", 1, FlowNext},
	OpIInc:   {"iinc", 2, FlowNext},

	OpPop:    {"pop", 0, FlowNext},
	OpPop2:   {"pop2", 0, FlowNext},
	OpDup:    {"dup", 0, FlowNext},
	OpDupX1:  {"dup_x1", 0, FlowNext},
	OpDupX2:  {"dup_x2", 0, FlowNext},
	OpDup2:   {"dup2", 0, FlowNext},
	OpDup2X1: {"dup2_x1", 0, FlowNext},
	OpDup2X2: {"dup2_x2", 0, FlowNext},
	OpSwap:   {"swap", 0, FlowNext},

	OpIAdd: {"iadd", 0, FlowNext},
	OpISub: {"isub", 0, FlowNext},
	OpIMul: {"imul", 0, FlowNext},
	OpIDiv: {"idiv", 0, FlowNext},
	OpIRem: {"irem", 0, FlowNext},
	OpIAnd: {"iand", 0, FlowNext},
	OpIOr:  {"ior", 0, FlowNext},
	OpIXor: {"ixor", 0, FlowNext},
	OpINeg: {"ineg", 0, FlowNext},

	OpIfEQ:      {"ifeq", 2, FlowBranch},
	OpIfNE:      {"ifne", 2, FlowBranch},
	OpIfLT:      {"iflt", 2, FlowBranch},
	OpIfGE:      {"ifge", 2, FlowBranch},
	OpIfGT:      {"ifgt", 2, FlowBranch},
	OpIfLE:      {"ifle", 2, FlowBranch},
	OpIfICmpEQ:  {"if_icmpeq", 2, FlowBranch},
	OpIfICmpNE:  {"if_icmpne", 2, FlowBranch},
	OpIfICmpLT:  {"if_icmplt", 2, FlowBranch},
	OpIfICmpGE:  {"if_icmpge", 2, FlowBranch},
	OpIfICmpGT:  {"if_icmpgt", 2, FlowBranch},
	OpIfICmpLE:  {"if_icmple", 2, FlowBranch},
	OpIfNull:    {"ifnull", 2, FlowBranch},
	OpIfNonNull: {"ifnonnull", 2, FlowBranch},
	OpGoto:      {"goto", 2, FlowGoto},

	OpIReturn: {"ireturn", 0, FlowExit},
	OpLReturn: {"lreturn", 0, FlowExit},
	OpAReturn: {"areturn", 0, FlowExit},
	OpReturn:  {"return", 0, FlowExit},

	OpNew:         {"new", 2, FlowNext},
	OpNewArray:    {"newarray", 1, FlowNext},
	OpArrayLength: {"arraylength", 0, FlowNext},
	OpCheckCast:   {"checkcast", 2, FlowNext},
	OpInstanceOf:  {"instanceof", 2, FlowNext},
	OpAThrow:      {"athrow", 0, FlowExit},

	OpInvokeStatic: {"invokestatic", 1, FlowNext},
}

var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeTable))
	for op, info := range opcodeTable {
		m[info.Name] = op
	}
	return m
}()

// Info returns the metadata for an opcode.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("unknown_%02x", byte(op))}
}

// IsValid reports whether op is a known opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeTable[op]
	return ok
}

// Len returns the encoded length of the instruction, opcode included.
func (op Opcode) Len() int { return 1 + op.Info().OperandBytes }

func (op Opcode) String() string { return op.Info().Name }

// Lookup returns the opcode with the given mnemonic.
func Lookup(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}
