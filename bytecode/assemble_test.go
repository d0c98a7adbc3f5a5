package bytecode

import (
	"strings"
	"testing"
)

const countLoop = `
	iconst 0
	istore 1
loop:
	iload 1
	iload 0
	if_icmpge done   ; exit when the counter reaches the argument
	iinc 1 1
	goto loop
done:
	iload 1
	ireturn
`

func TestAssembleLabels(t *testing.T) {
	code, labels, err := Assemble(countLoop)
	if err != nil {
		t.Fatal(err)
	}
	if len(code) != 23 {
		t.Errorf("len(code) = %d, want 23", len(code))
	}
	if labels["loop"] != 7 || labels["done"] != 20 {
		t.Errorf("labels = %v, want loop=7 done=20", labels)
	}

	branch, err := Decode(code, 11)
	if err != nil {
		t.Fatal(err)
	}
	if branch.Op != OpIfICmpGE || branch.Target != 20 {
		t.Errorf("bci 11 = %s, want if_icmpge @20", branch)
	}
	back, err := Decode(code, 17)
	if err != nil {
		t.Fatal(err)
	}
	if back.Op != OpGoto || back.Target != 7 {
		t.Errorf("bci 17 = %s, want goto @7", back)
	}
	inc, err := Decode(code, 14)
	if err != nil {
		t.Fatal(err)
	}
	if inc.Operand != 1 || inc.Delta != 1 {
		t.Errorf("bci 14 = %s, want iinc 1 1", inc)
	}
}

func TestAssembleOperands(t *testing.T) {
	code, _, err := Assemble(`
		iconst -5
		lconst 0x100000000
		newarray long
		new 300
		iinc 2 -1
		return`)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct {
		op      Opcode
		operand int64
	}{
		{OpIConst, -5},
		{OpLConst, 1 << 32},
		{OpNewArray, 2},
		{OpNew, 300},
		{OpIInc, 2},
		{OpReturn, 0},
	}
	r := NewReader(code)
	for i, w := range want {
		in, err := r.Next()
		if err != nil {
			t.Fatalf("instruction %d: %v", i, err)
		}
		if in.Op != w.op || in.Operand != w.operand {
			t.Errorf("instruction %d = %s, want %s %d", i, in, w.op, w.operand)
		}
		if in.Op == OpIInc && in.Delta != -1 {
			t.Errorf("iinc delta = %d, want -1", in.Delta)
		}
	}
	if r.HasMore() {
		t.Error("trailing bytes after return")
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"unknown", "frobnicate", "unknown instruction"},
		{"missing operand", "iload", "takes 1 operand"},
		{"extra operand", "return 1", "takes 0 operand"},
		{"undefined label", "goto nowhere", "never marked"},
		{"duplicate label", "a:\na:\nreturn", "marked twice"},
		{"operand range", "iload 300", "operand"},
		{"bad type", "newarray string", "unknown type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Assemble(tt.src)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Assemble(%q) error = %v, want one containing %q", tt.src, err, tt.want)
			}
		})
	}
}

func TestDisassemble(t *testing.T) {
	code, _, err := Assemble(countLoop)
	if err != nil {
		t.Fatal(err)
	}
	text, err := Disassemble(code)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) != 9 {
		t.Fatalf("%d lines, want 9:\n%s", len(lines), text)
	}
	if got := strings.TrimSpace(lines[6]); got != "17: goto @7" {
		t.Errorf("line 6 = %q, want %q", got, "17: goto @7")
	}

	if _, err := Disassemble([]byte{byte(OpIConst), 1}); err == nil {
		t.Error("truncated instruction disassembled without error")
	}
	if _, err := Decode([]byte{0xff}, 0); err == nil {
		t.Error("unknown opcode decoded without error")
	}
}

func TestLookup(t *testing.T) {
	for op, info := range opcodeTable {
		got, ok := Lookup(info.Name)
		if !ok || got != op {
			t.Errorf("Lookup(%q) = %v, %v, want %v", info.Name, got, ok, op)
		}
	}
	if _, ok := Lookup("nonsense"); ok {
		t.Error("Lookup of unknown mnemonic succeeded")
	}
}
