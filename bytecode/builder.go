package bytecode

import (
	"encoding/binary"
	"fmt"
)

// ---------------------------------------------------------------------------
// Builder: helper for constructing bytecode
// ---------------------------------------------------------------------------

// Builder constructs bytecode sequences.
type Builder struct {
	bytes  []byte
	labels []*Label
}

// NewBuilder creates a new bytecode builder.
func NewBuilder() *Builder {
	return &Builder{bytes: make([]byte, 0, 64)}
}

// Bytes returns the constructed bytecode. It fails if a label was used but
// never marked.
func (b *Builder) Bytes() ([]byte, error) {
	for _, l := range b.labels {
		if !l.resolved && len(l.refs) > 0 {
			return nil, fmt.Errorf("label %q used but never marked", l.name)
		}
	}
	return b.bytes, nil
}

// Len returns the current length.
func (b *Builder) Len() int { return len(b.bytes) }

// Emit appends an opcode with no operands.
func (b *Builder) Emit(op Opcode) {
	b.bytes = append(b.bytes, byte(op))
}

// EmitU8 appends an opcode with an 8-bit operand.
func (b *Builder) EmitU8(op Opcode, v uint8) {
	b.bytes = append(b.bytes, byte(op), v)
}

// EmitU16 appends an opcode with a 16-bit operand (little-endian).
func (b *Builder) EmitU16(op Opcode, v uint16) {
	b.bytes = append(b.bytes, byte(op), byte(v), byte(v>>8))
}

// EmitIInc appends an iinc of local by delta.
func (b *Builder) EmitIInc(local uint8, delta int8) {
	b.bytes = append(b.bytes, byte(OpIInc), local, byte(delta))
}

// EmitInt32 appends an opcode with a 32-bit operand.
func (b *Builder) EmitInt32(op Opcode, v int32) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint32(b.bytes, uint32(v))
}

// EmitInt64 appends an opcode with a 64-bit operand.
func (b *Builder) EmitInt64(op Opcode, v int64) {
	b.bytes = append(b.bytes, byte(op))
	b.bytes = binary.LittleEndian.AppendUint64(b.bytes, uint64(v))
}

// ---------------------------------------------------------------------------
// Label management for jumps
// ---------------------------------------------------------------------------

// Label is a branch target in bytecode.
type Label struct {
	name     string
	resolved bool
	position int
	refs     []int // instruction starts that branch here
}

// NewLabel creates an unresolved label.
func (b *Builder) NewLabel(name string) *Label {
	l := &Label{name: name}
	b.labels = append(b.labels, l)
	return l
}

// Mark resolves a label to the current position and patches earlier
// branches to it.
func (b *Builder) Mark(l *Label) error {
	if l.resolved {
		return fmt.Errorf("label %q marked twice", l.name)
	}
	l.resolved = true
	l.position = len(b.bytes)
	for _, at := range l.refs {
		if err := b.patch(at, l.position); err != nil {
			return err
		}
	}
	l.refs = nil
	return nil
}

// EmitJump emits a branch instruction to l.
func (b *Builder) EmitJump(op Opcode, l *Label) error {
	at := len(b.bytes)
	b.bytes = append(b.bytes, byte(op), 0, 0)
	if l.resolved {
		return b.patch(at, l.position)
	}
	l.refs = append(l.refs, at)
	return nil
}

func (b *Builder) patch(at, target int) error {
	off := target - at
	if off < -1<<15 || off >= 1<<15 {
		return fmt.Errorf("branch at %d to %d out of range", at, target)
	}
	binary.LittleEndian.PutUint16(b.bytes[at+1:], uint16(int16(off)))
	return nil
}

// ---------------------------------------------------------------------------
// Reader
// ---------------------------------------------------------------------------

// Instruction is one decoded bytecode.
type Instruction struct {
	BCI     int
	Op      Opcode
	Operand int64 // index, constant, class id or element type
	Delta   int64 // iinc delta
	Target  int   // branch target
}

// Next returns the bci of the following instruction.
func (in Instruction) Next() int { return in.BCI + in.Op.Len() }

func (in Instruction) String() string {
	info := in.Op.Info()
	switch {
	case in.Op == OpIInc:
		return fmt.Sprintf("%s %d %d", info.Name, in.Operand, in.Delta)
	case info.Flow == FlowBranch || info.Flow == FlowGoto:
		return fmt.Sprintf("%s @%d", info.Name, in.Target)
	case info.OperandBytes > 0:
		return fmt.Sprintf("%s %d", info.Name, in.Operand)
	}
	return info.Name
}

// Decode reads the instruction at bci.
func Decode(code []byte, bci int) (Instruction, error) {
	if bci < 0 || bci >= len(code) {
		return Instruction{}, fmt.Errorf("bci %d outside %d bytes of code", bci, len(code))
	}
	op := Opcode(code[bci])
	if !op.IsValid() {
		return Instruction{}, fmt.Errorf("bci %d: unknown opcode 0x%02x", bci, byte(op))
	}
	if bci+op.Len() > len(code) {
		return Instruction{}, fmt.Errorf("bci %d: truncated %s", bci, op)
	}
	in := Instruction{BCI: bci, Op: op}
	operand := code[bci+1 : bci+op.Len()]
	switch info := op.Info(); {
	case info.Flow == FlowBranch || info.Flow == FlowGoto:
		in.Target = bci + int(int16(binary.LittleEndian.Uint16(operand)))
	case op == OpIInc:
		in.Operand, in.Delta = int64(operand[0]), int64(int8(operand[1]))
	case info.OperandBytes == 1:
		in.Operand = int64(operand[0])
	case info.OperandBytes == 2:
		in.Operand = int64(binary.LittleEndian.Uint16(operand))
	case info.OperandBytes == 4:
		in.Operand = int64(int32(binary.LittleEndian.Uint32(operand)))
	case info.OperandBytes == 8:
		in.Operand = int64(binary.LittleEndian.Uint64(operand))
	}
	return in, nil
}

// Reader walks bytecode in order.
type Reader struct {
	code []byte
	pos  int
}

// NewReader creates a reader for code.
func NewReader(code []byte) *Reader { return &Reader{code: code} }

// HasMore returns true if there are more instructions to read.
func (r *Reader) HasMore() bool { return r.pos < len(r.code) }

// Next decodes the next instruction.
func (r *Reader) Next() (Instruction, error) {
	in, err := Decode(r.code, r.pos)
	if err != nil {
		return in, err
	}
	r.pos = in.Next()
	return in, nil
}

// Disassemble renders code one instruction per line.
func Disassemble(code []byte) (string, error) {
	var out []byte
	r := NewReader(code)
	for r.HasMore() {
		in, err := r.Next()
		if err != nil {
			return string(out), err
		}
		out = fmt.Appendf(out, "%4d: %s\n", in.BCI, in)
	}
	return string(out), nil
}
