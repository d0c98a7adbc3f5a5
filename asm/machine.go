package asm

import "fmt"

// Machine executes straight-line instruction sequences over a register file
// and a frame of word slots. It exists to check that emitted merge code moves
// values where the compiler claims they end up.
type Machine struct {
	Regs  []int64
	Frame []int64
	SP    int
	Heap  map[int64]int64
}

// NewMachine returns a machine for f with a frame of slots words.
func NewMachine(f RegisterFile, slots int) *Machine {
	return &Machine{
		Regs:  make([]int64, f.Count()),
		Frame: make([]int64, slots),
		Heap:  make(map[int64]int64),
	}
}

// Run executes code until it ends or reaches a control transfer, which is
// returned. ok is false when the code ran off its end.
func (m *Machine) Run(code []Instr) (stop Instr, ok bool, err error) {
	for _, in := range code {
		switch in.Op {
		case OpNop, OpComment, OpOSREntry, OpStackCheck:
		case OpMove:
			m.Regs[in.Dst] = m.Regs[in.Src]
		case OpSwap:
			m.Regs[in.Dst], m.Regs[in.Src] = m.Regs[in.Src], m.Regs[in.Dst]
		case OpLoadImm:
			m.Regs[in.Dst] = in.Imm
		case OpLoad:
			if err := m.checkSlot(in.Slot); err != nil {
				return in, false, err
			}
			m.Regs[in.Dst] = m.Frame[in.Slot]
		case OpStore:
			if err := m.checkSlot(in.Slot); err != nil {
				return in, false, err
			}
			m.Frame[in.Slot] = m.Regs[in.Src]
		case OpStoreImm:
			if err := m.checkSlot(in.Slot); err != nil {
				return in, false, err
			}
			m.Frame[in.Slot] = in.Imm
		case OpAdjustSP:
			m.SP += int(in.Imm)
		case OpLoadField:
			var base int64
			if in.Src.IsValid() {
				base = m.Regs[in.Src]
			}
			m.Regs[in.Dst] = m.Heap[base+in.Imm]
		case OpJump, OpBranch, OpCall, OpReturn:
			return in, true, nil
		default:
			if !in.Op.IsArith() {
				return in, false, fmt.Errorf("machine: unsupported %s", in.Op)
			}
			if err := m.arith(in); err != nil {
				return in, false, err
			}
		}
	}
	return Instr{}, false, nil
}

func (m *Machine) arith(in Instr) error {
	a := m.Regs[in.Src]
	b := in.Imm
	if in.Src2.IsValid() {
		b = m.Regs[in.Src2]
	}
	var v int64
	switch in.Op {
	case OpAdd:
		v = a + b
	case OpSub:
		v = a - b
	case OpMul:
		v = a * b
	case OpDiv, OpRem:
		if b == 0 {
			return fmt.Errorf("machine: division by zero")
		}
		if in.Op == OpDiv {
			v = a / b
		} else {
			v = a % b
		}
	case OpAnd:
		v = a & b
	case OpOr:
		v = a | b
	case OpXor:
		v = a ^ b
	case OpNeg:
		v = -a
	}
	m.Regs[in.Dst] = v
	return nil
}

func (m *Machine) checkSlot(slot int32) error {
	if slot < 0 || int(slot) >= len(m.Frame) {
		return fmt.Errorf("machine: frame slot %d out of range [0,%d)", slot, len(m.Frame))
	}
	return nil
}
