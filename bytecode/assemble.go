package bytecode

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/chazu/baseline/compiler"
)

// Assemble translates assembler text into bytecode. Each line holds one
// instruction, a label definition ("name:") or nothing; ";" starts a
// comment. Branch operands name labels. newarray takes an element type
// name.
//
//	    iconst 0
//	    istore 1
//	loop:
//	    iload 1
//	    iload 0
//	    if_icmpge done
//	    iinc 1 1
//	    goto loop
//	done:
//	    iload 1
//	    ireturn
//
// The returned map gives the bci of every label.
func Assemble(src string) ([]byte, map[string]int, error) {
	b := NewBuilder()
	labels := make(map[string]*Label)
	label := func(name string) *Label {
		if l, ok := labels[name]; ok {
			return l
		}
		l := b.NewLabel(name)
		labels[name] = l
		return l
	}

	sc := bufio.NewScanner(strings.NewReader(src))
	for n := 1; sc.Scan(); n++ {
		line := sc.Text()
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if name, ok := strings.CutSuffix(fields[0], ":"); ok {
			if err := b.Mark(label(name)); err != nil {
				return nil, nil, fmt.Errorf("line %d: %w", n, err)
			}
			fields = fields[1:]
			if len(fields) == 0 {
				continue
			}
		}
		if err := assembleLine(b, fields, label); err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", n, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, err
	}
	code, err := b.Bytes()
	if err != nil {
		return nil, nil, err
	}
	at := make(map[string]int, len(labels))
	for name, l := range labels {
		at[name] = l.position
	}
	return code, at, nil
}

func assembleLine(b *Builder, fields []string, label func(string) *Label) error {
	op, ok := Lookup(fields[0])
	if !ok {
		return fmt.Errorf("unknown instruction %q", fields[0])
	}
	args := fields[1:]
	want := 1
	switch info := op.Info(); {
	case info.OperandBytes == 0:
		want = 0
	case op == OpIInc:
		want = 2
	}
	if len(args) != want {
		return fmt.Errorf("%s takes %d operand(s), got %d", op, want, len(args))
	}

	switch info := op.Info(); {
	case info.OperandBytes == 0:
		b.Emit(op)
	case info.Flow == FlowBranch || info.Flow == FlowGoto:
		return b.EmitJump(op, label(args[0]))
	case op == OpIInc:
		local, err := parseInt(args[0], 8, false)
		if err != nil {
			return err
		}
		delta, err := parseInt(args[1], 8, true)
		if err != nil {
			return err
		}
		b.EmitIInc(uint8(local), int8(delta))
	case op == OpNewArray:
		t, err := compiler.ParseBasicType(args[0])
		if err != nil {
			return err
		}
		b.EmitU8(op, uint8(t))
	case info.OperandBytes == 1:
		v, err := parseInt(args[0], 8, false)
		if err != nil {
			return err
		}
		b.EmitU8(op, uint8(v))
	case info.OperandBytes == 2:
		v, err := parseInt(args[0], 16, false)
		if err != nil {
			return err
		}
		b.EmitU16(op, uint16(v))
	case info.OperandBytes == 4:
		v, err := parseInt(args[0], 32, true)
		if err != nil {
			return err
		}
		b.EmitInt32(op, int32(v))
	case info.OperandBytes == 8:
		v, err := parseInt(args[0], 64, true)
		if err != nil {
			return err
		}
		b.EmitInt64(op, v)
	}
	return nil
}

func parseInt(s string, bits int, signed bool) (int64, error) {
	if signed {
		v, err := strconv.ParseInt(s, 0, bits)
		if err != nil {
			return 0, fmt.Errorf("operand %q: %w", s, err)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return 0, fmt.Errorf("operand %q: %w", s, err)
	}
	return int64(v), nil
}
