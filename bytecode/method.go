package bytecode

import (
	"fmt"

	"github.com/chazu/baseline/compiler"
)

// Handler is an exception table row: exceptions raised in [Start, End) of
// kind Catch, or of any kind when CatchAll is set, transfer to Target.
type Handler struct {
	Start, End int
	Target     int
	Catch      compiler.RuntimeException
	CatchAll   bool
}

// covers reports whether h handles rte raised at bci.
func (h Handler) covers(bci int, rte compiler.RuntimeException) bool {
	return bci >= h.Start && bci < h.End && (h.CatchAll || h.Catch == rte)
}

// Method is a verified bytecode method. It implements compiler.Method.
type Method struct {
	name         string
	code         []byte
	maxLocals    int
	maxStack     int
	params       []compiler.BasicType
	ret          compiler.BasicType
	handlers     []Handler
	synchronized bool
	callees      []*Method

	starts []bool // instruction boundaries
	preds  []int
}

// MethodSpec describes a method to build.
type MethodSpec struct {
	Name         string
	Code         []byte
	MaxLocals    int
	MaxStack     int
	Params       []compiler.BasicType
	Returns      compiler.BasicType
	Handlers     []Handler
	Synchronized bool
	Callees      []*Method
}

// NewMethod verifies the code of s and computes the static predecessor
// count of every instruction.
func NewMethod(s MethodSpec) (*Method, error) {
	m := &Method{
		name:         s.Name,
		code:         s.Code,
		maxLocals:    s.MaxLocals,
		maxStack:     s.MaxStack,
		params:       s.Params,
		ret:          s.Returns,
		handlers:     s.Handlers,
		synchronized: s.Synchronized,
		callees:      s.Callees,
		starts:       make([]bool, len(s.Code)),
		preds:        make([]int, len(s.Code)),
	}
	if len(s.Code) == 0 {
		return nil, fmt.Errorf("method %s: no code", s.Name)
	}
	words := 0
	for _, t := range s.Params {
		words += t.Words()
	}
	if words > s.MaxLocals {
		return nil, fmt.Errorf("method %s: %d parameter words exceed %d locals", s.Name, words, s.MaxLocals)
	}

	var instrs []Instruction
	r := NewReader(s.Code)
	for r.HasMore() {
		in, err := r.Next()
		if err != nil {
			return nil, fmt.Errorf("method %s: %w", s.Name, err)
		}
		m.starts[in.BCI] = true
		instrs = append(instrs, in)
	}

	m.preds[0]++ // method entry
	for _, in := range instrs {
		if err := m.check(in); err != nil {
			return nil, fmt.Errorf("method %s: bci %d: %w", s.Name, in.BCI, err)
		}
		switch in.Op.Info().Flow {
		case FlowNext:
			if in.Next() >= len(s.Code) {
				return nil, fmt.Errorf("method %s: falls off the end at bci %d", s.Name, in.BCI)
			}
			m.preds[in.Next()]++
		case FlowBranch:
			if in.Next() >= len(s.Code) {
				return nil, fmt.Errorf("method %s: falls off the end at bci %d", s.Name, in.BCI)
			}
			m.preds[in.Next()]++
			m.preds[in.Target]++
		case FlowGoto:
			m.preds[in.Target]++
		}
	}
	for _, h := range s.Handlers {
		if h.Start < 0 || h.End > len(s.Code) || h.Start >= h.End {
			return nil, fmt.Errorf("method %s: bad handler range [%d, %d)", s.Name, h.Start, h.End)
		}
		if h.Target < 0 || h.Target >= len(s.Code) || !m.starts[h.Target] {
			return nil, fmt.Errorf("method %s: handler target %d is not an instruction", s.Name, h.Target)
		}
		m.preds[h.Target]++
	}
	return m, nil
}

func (m *Method) check(in Instruction) error {
	info := in.Op.Info()
	if info.Flow == FlowBranch || info.Flow == FlowGoto {
		if in.Target < 0 || in.Target >= len(m.code) || !m.starts[in.Target] {
			return fmt.Errorf("%s targets %d, not an instruction", in.Op, in.Target)
		}
	}
	switch in.Op {
	case OpILoad, OpALoad, OpIStore, OpAStore, OpIInc:
		if int(in.Operand) >= m.maxLocals {
			return fmt.Errorf("%s of local %d, method has %d", in.Op, in.Operand, m.maxLocals)
		}
	case OpLLoad, OpLStore:
		if int(in.Operand)+1 >= m.maxLocals {
			return fmt.Errorf("%s of local %d, method has %d", in.Op, in.Operand, m.maxLocals)
		}
	case OpInvokeStatic:
		if int(in.Operand) >= len(m.callees) {
			return fmt.Errorf("invokestatic of callee %d, method has %d", in.Operand, len(m.callees))
		}
	case OpNewArray:
		switch compiler.BasicType(in.Operand) {
		case compiler.TypeInt, compiler.TypeLong, compiler.TypeFloat, compiler.TypeDouble, compiler.TypeObject:
		default:
			return fmt.Errorf("newarray of type %d", in.Operand)
		}
	}
	return nil
}

func (m *Method) Name() string                     { return m.name }
func (m *Method) MaxLocals() int                   { return m.maxLocals }
func (m *Method) MaxStack() int                    { return m.maxStack }
func (m *Method) CodeLength() int                  { return len(m.code) }
func (m *Method) Parameters() []compiler.BasicType { return m.params }
func (m *Method) ReturnType() compiler.BasicType   { return m.ret }
func (m *Method) HasMonitors() bool                { return m.synchronized }

// Code returns the method's bytecode.
func (m *Method) Code() []byte { return m.code }

// Callee returns the i-th entry of the method's call table.
func (m *Method) Callee(i int) *Method { return m.callees[i] }

// Handlers returns the exception table.
func (m *Method) Handlers() []Handler { return m.handlers }

// EntryCount returns the number of static predecessors of bci.
func (m *Method) EntryCount(bci int) int {
	if bci < 0 || bci >= len(m.preds) {
		return 0
	}
	return m.preds[bci]
}

// HandlerFor returns the first handler covering rte at bci.
func (m *Method) HandlerFor(bci int, rte compiler.RuntimeException) (int, bool) {
	for _, h := range m.handlers {
		if h.covers(bci, rte) {
			return h.Target, true
		}
	}
	return 0, false
}

// CatchAllHandler returns the first catch-all handler covering bci. Thrown
// objects of unknown class can only be caught there.
func (m *Method) CatchAllHandler(bci int) (int, bool) {
	for _, h := range m.handlers {
		if h.CatchAll && bci >= h.Start && bci < h.End {
			return h.Target, true
		}
	}
	return 0, false
}

// HandlerDiscardsException reports whether the handler at bci starts by
// popping the exception.
func (m *Method) HandlerDiscardsException(bci int) bool {
	return bci >= 0 && bci < len(m.code) && Opcode(m.code[bci]) == OpPop
}

// Decode returns the instruction at bci.
func (m *Method) Decode(bci int) (Instruction, error) {
	if bci < 0 || bci >= len(m.starts) || !m.starts[bci] {
		return Instruction{}, fmt.Errorf("method %s: bci %d is not an instruction", m.name, bci)
	}
	return Decode(m.code, bci)
}

var _ compiler.Method = (*Method)(nil)
