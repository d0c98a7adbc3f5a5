package bytecode

import (
	"fmt"

	"github.com/chazu/baseline/asm"
	"github.com/chazu/baseline/compiler"
)

// Runtime layout the templates compile against.
const (
	TimerTickAddress = 0x100 // heap word polled on backward branches
	AllocTopAddress  = 0x108 // heap word holding the next free object, 0 when a slow allocation is needed
	LengthOffset     = 0     // array length field
	ClassOffset      = 8     // class id field
)

// Templates translates bytecodes one at a time. It implements
// compiler.Stepper.
//
// Templates allocate every register they need before they request a stub
// or a continuation, so the frame snapshot the stub sees matches the
// machine state at the branch.
type Templates struct{}

var _ compiler.Stepper = Templates{}

var ifConds = map[Opcode]asm.Cond{
	OpIfEQ: asm.CondEQ, OpIfNE: asm.CondNE, OpIfLT: asm.CondLT,
	OpIfGE: asm.CondGE, OpIfGT: asm.CondGT, OpIfLE: asm.CondLE,
	OpIfICmpEQ: asm.CondEQ, OpIfICmpNE: asm.CondNE, OpIfICmpLT: asm.CondLT,
	OpIfICmpGE: asm.CondGE, OpIfICmpGT: asm.CondGT, OpIfICmpLE: asm.CondLE,
}

var arithOps = map[Opcode]asm.Op{
	OpIAdd: asm.OpAdd, OpISub: asm.OpSub, OpIMul: asm.OpMul,
	OpIDiv: asm.OpDiv, OpIRem: asm.OpRem,
	OpIAnd: asm.OpAnd, OpIOr: asm.OpOr, OpIXor: asm.OpXor,
}

// Step compiles the bytecode at bci.
func (t Templates) Step(c *compiler.Context, bci int) (int, error) {
	m, ok := c.Method().(*Method)
	if !ok {
		return 0, fmt.Errorf("templates: cannot compile %T", c.Method())
	}
	in, err := m.Decode(bci)
	if err != nil {
		return 0, err
	}
	if c.Config().Trace {
		c.Emit(asm.Comment("%d: %s", bci, in))
	}
	f := c.Frame()
	next := in.Next()

	switch in.Op {
	case OpNop:
	case OpIConst:
		f.PushImmediate(compiler.TypeInt, in.Operand)
	case OpLConst:
		f.PushImmediate(compiler.TypeLong, in.Operand)
	case OpAConstNull:
		f.PushImmediate(compiler.TypeObject, 0)
		f.SetFacts(top(f), compiler.FlagNull, 0, 0, compiler.Snippet{})

	case OpILoad:
		err = f.LoadLocal(int(in.Operand), compiler.TypeInt)
	case OpLLoad:
		err = f.LoadLocal(int(in.Operand), compiler.TypeLong)
	case OpALoad:
		err = f.LoadLocal(int(in.Operand), compiler.TypeObject)
	case OpIStore:
		err = f.StoreLocal(int(in.Operand), compiler.TypeInt)
	case OpLStore:
		err = f.StoreLocal(int(in.Operand), compiler.TypeLong)
	case OpAStore:
		err = f.StoreLocal(int(in.Operand), compiler.TypeObject)
	case OpIInc:
		err = t.iinc(c, int(in.Operand), in.Delta)

	case OpPop:
		err = f.Pop1()
	case OpPop2:
		err = f.Pop2()
	case OpDup:
		err = f.Dup()
	case OpDupX1:
		err = f.DupX1()
	case OpDupX2:
		err = f.DupX2()
	case OpDup2:
		err = f.Dup2()
	case OpDup2X1:
		err = f.Dup2X1()
	case OpDup2X2:
		err = f.Dup2X2()
	case OpSwap:
		err = f.Swap()

	case OpIAdd, OpISub, OpIMul, OpIDiv, OpIRem, OpIAnd, OpIOr, OpIXor:
		err = t.arith(c, arithOps[in.Op])
	case OpINeg:
		err = t.neg(c)

	case OpIfEQ, OpIfNE, OpIfLT, OpIfGE, OpIfGT, OpIfLE:
		return t.ifZero(c, in)
	case OpIfICmpEQ, OpIfICmpNE, OpIfICmpLT, OpIfICmpGE, OpIfICmpGT, OpIfICmpLE:
		return t.ifCompare(c, in)
	case OpIfNull, OpIfNonNull:
		return t.ifNull(c, in)
	case OpGoto:
		return t.jump(c, in)

	case OpIReturn:
		return compiler.Terminal, c.Return(compiler.TypeInt)
	case OpLReturn:
		return compiler.Terminal, c.Return(compiler.TypeLong)
	case OpAReturn:
		return compiler.Terminal, c.Return(compiler.TypeObject)
	case OpReturn:
		return compiler.Terminal, c.Return(compiler.TypeVoid)

	case OpNew:
		err = t.newObject(c, int32(in.Operand))
	case OpNewArray:
		err = t.newArray(c, compiler.BasicType(in.Operand))
	case OpArrayLength:
		err = t.arrayLength(c)
	case OpCheckCast:
		err = t.checkCast(c, int32(in.Operand))
	case OpInstanceOf:
		err = t.instanceOf(c, int32(in.Operand))
	case OpAThrow:
		return compiler.Terminal, t.athrow(c, m, bci)

	case OpInvokeStatic:
		callee := m.Callee(int(in.Operand))
		if c.CanInline(callee) {
			err = c.Inline(callee)
		} else {
			err = c.Invoke(callee)
		}

	default:
		return 0, fmt.Errorf("templates: %s at bci %d not supported", in.Op, bci)
	}
	if err != nil {
		return 0, err
	}
	return next, nil
}

// top returns the slot of the single-word value on top of the stack.
func top(f *compiler.Frame) int { return f.MaxLocals() + f.StackPointer() - 1 }

// jump continues at the target of an unconditional branch. Backward
// branches poll the timer tick first.
func (t Templates) jump(c *compiler.Context, in Instruction) (int, error) {
	if in.Target <= in.BCI {
		if err := t.pollTick(c); err != nil {
			return 0, err
		}
	}
	return in.Target, nil
}

func (t Templates) pollTick(c *compiler.Context) error {
	r, err := c.AllocateRegister(asm.ClassInt)
	if err != nil {
		return err
	}
	defer c.Free(r)
	entry, ret, err := c.TimerTickStub()
	if err != nil {
		return err
	}
	c.Emit(asm.LoadField(r, asm.NoRegister, TimerTickAddress))
	c.Emit(asm.BranchImm(asm.CondNE, r, 0, entry))
	c.Code().Bind(ret)
	return nil
}

func fold(op asm.Op, a, b int64) (int64, bool) {
	x, y := int32(a), int32(b)
	var v int32
	switch op {
	case asm.OpAdd:
		v = x + y
	case asm.OpSub:
		v = x - y
	case asm.OpMul:
		v = x * y
	case asm.OpDiv:
		if y == 0 {
			return 0, false
		}
		v = x / y
	case asm.OpRem:
		if y == 0 {
			return 0, false
		}
		v = x % y
	case asm.OpAnd:
		v = x & y
	case asm.OpOr:
		v = x | y
	case asm.OpXor:
		v = x ^ y
	default:
		return 0, false
	}
	return int64(v), true
}

func (t Templates) arith(c *compiler.Context, op asm.Op) error {
	f := c.Frame()
	b, a := f.Top(0), f.Top(1)
	if a.Is(compiler.Immediate) && b.Is(compiler.Immediate) {
		if v, ok := fold(op, a.Imm, b.Imm); ok {
			f.Pop(compiler.TypeInt)
			f.Pop(compiler.TypeInt)
			f.PushImmediate(compiler.TypeInt, v)
			return nil
		}
	}
	divides := op == asm.OpDiv || op == asm.OpRem

	if b.Is(compiler.Immediate) && !(divides && b.Imm == 0) {
		f.Pop(compiler.TypeInt)
		ra, _, err := f.PopToRegister(compiler.TypeInt)
		if err != nil {
			return err
		}
		defer c.Free(ra)
		d, err := c.AllocateRegister(asm.ClassInt)
		if err != nil {
			return err
		}
		c.Emit(asm.ArithImm(op, d, ra, b.Imm))
		f.PushRegister(compiler.TypeInt, d, asm.NoRegister)
		return nil
	}

	rb, _, err := f.PopToRegister(compiler.TypeInt)
	if err != nil {
		return err
	}
	defer c.Free(rb)
	ra, _, err := f.PopToRegister(compiler.TypeInt)
	if err != nil {
		return err
	}
	defer c.Free(ra)
	d, err := c.AllocateRegister(asm.ClassInt)
	if err != nil {
		return err
	}
	if divides {
		l, err := c.ThrowStub(compiler.DivisionByZeroException)
		if err != nil {
			c.Free(d)
			return err
		}
		c.Emit(asm.BranchImm(asm.CondEQ, rb, 0, l))
	}
	c.Emit(asm.Arith(op, d, ra, rb))
	f.PushRegister(compiler.TypeInt, d, asm.NoRegister)
	return nil
}

func (t Templates) neg(c *compiler.Context) error {
	f := c.Frame()
	if a := f.Top(0); a.Is(compiler.Immediate) {
		f.Pop(compiler.TypeInt)
		f.PushImmediate(compiler.TypeInt, int64(-int32(a.Imm)))
		return nil
	}
	ra, _, err := f.PopToRegister(compiler.TypeInt)
	if err != nil {
		return err
	}
	defer c.Free(ra)
	d, err := c.AllocateRegister(asm.ClassInt)
	if err != nil {
		return err
	}
	c.Emit(asm.Arith(asm.OpNeg, d, ra, asm.NoRegister))
	f.PushRegister(compiler.TypeInt, d, asm.NoRegister)
	return nil
}

func (t Templates) iinc(c *compiler.Context, local int, delta int64) error {
	f := c.Frame()
	if l := f.Local(local); l.Is(compiler.Immediate) {
		f.SetImmediate(local, compiler.TypeInt, int64(int32(l.Imm+delta)))
		return nil
	}
	if err := f.LoadLocal(local, compiler.TypeInt); err != nil {
		return err
	}
	ra, _, err := f.PopToRegister(compiler.TypeInt)
	if err != nil {
		return err
	}
	defer c.Free(ra)
	d, err := c.AllocateRegister(asm.ClassInt)
	if err != nil {
		return err
	}
	c.Emit(asm.ArithImm(asm.OpAdd, d, ra, delta))
	f.PushRegister(compiler.TypeInt, d, asm.NoRegister)
	return f.StoreLocal(local, compiler.TypeInt)
}

func (t Templates) ifZero(c *compiler.Context, in Instruction) (int, error) {
	f := c.Frame()
	cond := ifConds[in.Op]
	if v := f.Top(0); v.Is(compiler.Immediate) {
		f.Pop(compiler.TypeInt)
		if cond.Holds(v.Imm, 0) {
			return t.jump(c, in)
		}
		return in.Next(), nil
	}
	r, _, err := f.PopToRegister(compiler.TypeInt)
	if err != nil {
		return 0, err
	}
	defer c.Free(r)
	if err := c.BranchImm(cond, r, 0, in.Target); err != nil {
		return 0, err
	}
	return in.Next(), nil
}

func (t Templates) ifCompare(c *compiler.Context, in Instruction) (int, error) {
	f := c.Frame()
	cond := ifConds[in.Op]
	b, a := f.Top(0), f.Top(1)
	if a.Is(compiler.Immediate) && b.Is(compiler.Immediate) {
		f.Pop(compiler.TypeInt)
		f.Pop(compiler.TypeInt)
		if cond.Holds(a.Imm, b.Imm) {
			return t.jump(c, in)
		}
		return in.Next(), nil
	}
	if b.Is(compiler.Immediate) {
		f.Pop(compiler.TypeInt)
		ra, _, err := f.PopToRegister(compiler.TypeInt)
		if err != nil {
			return 0, err
		}
		defer c.Free(ra)
		if err := c.BranchImm(cond, ra, b.Imm, in.Target); err != nil {
			return 0, err
		}
		return in.Next(), nil
	}
	rb, _, err := f.PopToRegister(compiler.TypeInt)
	if err != nil {
		return 0, err
	}
	defer c.Free(rb)
	ra, _, err := f.PopToRegister(compiler.TypeInt)
	if err != nil {
		return 0, err
	}
	defer c.Free(ra)
	if err := c.Branch(cond, ra, rb, in.Target); err != nil {
		return 0, err
	}
	return in.Next(), nil
}

func (t Templates) ifNull(c *compiler.Context, in Instruction) (int, error) {
	f := c.Frame()
	wantNull := in.Op == OpIfNull
	if v := f.Top(0); v.IsNull() || v.IsNonNull() {
		f.Pop(compiler.TypeObject)
		if v.IsNull() == wantNull {
			return t.jump(c, in)
		}
		return in.Next(), nil
	}
	r, _, err := f.PopToRegister(compiler.TypeObject)
	if err != nil {
		return 0, err
	}
	defer c.Free(r)
	cond := asm.CondNE
	if wantNull {
		cond = asm.CondEQ
	}
	if err := c.BranchImm(cond, r, 0, in.Target); err != nil {
		return 0, err
	}
	return in.Next(), nil
}

func (t Templates) newObject(c *compiler.Context, classID int32) error {
	f := c.Frame()
	r, err := c.AllocateRegister(asm.ClassInt)
	if err != nil {
		return err
	}
	entry, ret, err := c.NewObjectStub(r, classID)
	if err != nil {
		c.Free(r)
		return err
	}
	c.Emit(asm.LoadField(r, asm.NoRegister, AllocTopAddress))
	c.Emit(asm.BranchImm(asm.CondEQ, r, 0, entry))
	c.Code().Bind(ret)
	f.PushRegister(compiler.TypeObject, r, asm.NoRegister)
	f.SetFacts(top(f), compiler.FlagNonNull|compiler.FlagClassID, 0, classID, compiler.Snippet{})
	return nil
}

func (t Templates) newArray(c *compiler.Context, elem compiler.BasicType) error {
	f := c.Frame()
	length := f.Top(0)
	rl, _, err := f.PopToRegister(compiler.TypeInt)
	if err != nil {
		return err
	}
	defer c.Free(rl)
	r, err := c.AllocateRegister(asm.ClassInt)
	if err != nil {
		return err
	}
	entry, ret, err := c.NewTypeArrayStub(r, rl, elem)
	if err != nil {
		c.Free(r)
		return err
	}
	c.Emit(asm.BranchImm(asm.CondLT, rl, 0, entry))
	c.Emit(asm.LoadField(r, asm.NoRegister, AllocTopAddress))
	c.Emit(asm.BranchImm(asm.CondEQ, r, 0, entry))
	c.Code().Bind(ret)
	f.PushRegister(compiler.TypeObject, r, asm.NoRegister)
	flags, minLength := compiler.FlagNonNull, int32(0)
	if length.Is(compiler.Immediate) && length.Imm >= 0 {
		flags |= compiler.FlagMinLength
		minLength = int32(length.Imm)
	}
	f.SetFacts(top(f), flags, minLength, 0, compiler.Snippet{})
	return nil
}

// nullCheck branches to the null pointer stub unless v is known non-null.
func nullCheck(c *compiler.Context, v compiler.Location, r asm.Register) error {
	if v.IsNonNull() {
		return nil
	}
	l, err := c.ThrowStub(compiler.NullPointerException)
	if err != nil {
		return err
	}
	c.Emit(asm.BranchImm(asm.CondEQ, r, 0, l))
	return nil
}

func (t Templates) arrayLength(c *compiler.Context) error {
	f := c.Frame()
	v := f.Top(0)
	ra, _, err := f.PopToRegister(compiler.TypeObject)
	if err != nil {
		return err
	}
	defer c.Free(ra)
	d, err := c.AllocateRegister(asm.ClassInt)
	if err != nil {
		return err
	}
	if err := nullCheck(c, v, ra); err != nil {
		c.Free(d)
		return err
	}
	c.Emit(asm.LoadField(d, ra, LengthOffset))
	f.PushRegister(compiler.TypeInt, d, asm.NoRegister)
	return nil
}

func (t Templates) checkCast(c *compiler.Context, classID int32) error {
	f := c.Frame()
	v := f.Top(0)
	if v.IsNull() || (v.HasFlag(compiler.FlagClassID) && v.ClassID == classID) {
		return nil
	}
	ra, _, err := f.PopToRegister(compiler.TypeObject)
	if err != nil {
		return err
	}
	tmp, err := c.AllocateRegister(asm.ClassInt)
	if err != nil {
		c.Free(ra)
		return err
	}
	defer c.Free(tmp)
	entry, ret, err := c.CheckCastStub(ra, classID)
	if err != nil {
		c.Free(ra)
		return err
	}
	if !v.IsNonNull() {
		c.Emit(asm.BranchImm(asm.CondEQ, ra, 0, ret))
	}
	c.Emit(asm.LoadField(tmp, ra, ClassOffset))
	c.Emit(asm.BranchImm(asm.CondNE, tmp, int64(classID), entry))
	c.Code().Bind(ret)
	f.PushRegister(compiler.TypeObject, ra, asm.NoRegister)
	f.SetFacts(top(f), v.Flags|compiler.FlagClassID, v.MinLength, classID, v.Snippet)
	return nil
}

func (t Templates) instanceOf(c *compiler.Context, classID int32) error {
	f := c.Frame()
	v := f.Top(0)
	if v.IsNull() {
		f.Pop(compiler.TypeObject)
		f.PushImmediate(compiler.TypeInt, 0)
		return nil
	}
	ra, _, err := f.PopToRegister(compiler.TypeObject)
	if err != nil {
		return err
	}
	defer c.Free(ra)
	d, err := c.AllocateRegister(asm.ClassInt)
	if err != nil {
		return err
	}
	entry, ret, err := c.InstanceOfStub(ra, d, classID)
	if err != nil {
		c.Free(d)
		return err
	}
	c.Emit(asm.LoadImm(d, 0))
	if !v.IsNonNull() {
		c.Emit(asm.BranchImm(asm.CondEQ, ra, 0, ret))
	}
	c.Emit(asm.LoadField(d, ra, ClassOffset))
	c.Emit(asm.BranchImm(asm.CondNE, d, int64(classID), entry))
	c.Emit(asm.LoadImm(d, 1))
	c.Code().Bind(ret)
	f.PushRegister(compiler.TypeInt, d, asm.NoRegister)
	return nil
}

func (t Templates) athrow(c *compiler.Context, m *Method, bci int) error {
	f := c.Frame()
	v := f.Top(0)
	ra, _, err := f.PopToRegister(compiler.TypeObject)
	if err != nil {
		return err
	}
	defer c.Free(ra)
	if err := nullCheck(c, v, ra); err != nil {
		return err
	}
	if handler, ok := m.CatchAllHandler(bci); ok {
		l, err := c.QuickCatchStub(handler, ra)
		if err != nil {
			return err
		}
		c.Emit(asm.Jump(l))
		return nil
	}
	f.Flush()
	c.Emit(asm.Call(compiler.EntryThrow, asm.NoRegister, ra, asm.NoRegister))
	return nil
}
