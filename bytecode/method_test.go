package bytecode

import (
	"strings"
	"testing"

	"github.com/chazu/baseline/compiler"
)

func mustAssemble(t *testing.T, src string) ([]byte, map[string]int) {
	t.Helper()
	code, labels, err := Assemble(src)
	if err != nil {
		t.Fatal(err)
	}
	return code, labels
}

func loopMethod(t *testing.T) (*Method, map[string]int) {
	t.Helper()
	code, labels := mustAssemble(t, countLoop)
	m, err := NewMethod(MethodSpec{
		Name:      "count",
		Code:      code,
		MaxLocals: 2,
		MaxStack:  2,
		Params:    []compiler.BasicType{compiler.TypeInt},
		Returns:   compiler.TypeInt,
	})
	if err != nil {
		t.Fatal(err)
	}
	return m, labels
}

func TestEntryCounts(t *testing.T) {
	m, labels := loopMethod(t)
	tests := []struct {
		bci  int
		want int
	}{
		{0, 1},
		{labels["loop"], 2},
		{labels["done"], 1},
		{14, 1},
		{8, 0}, // inside an instruction
		{-1, 0},
	}
	for _, tt := range tests {
		if got := m.EntryCount(tt.bci); got != tt.want {
			t.Errorf("EntryCount(%d) = %d, want %d", tt.bci, got, tt.want)
		}
	}
	if _, err := m.Decode(8); err == nil {
		t.Error("Decode inside an instruction succeeded")
	}
}

func TestHandlers(t *testing.T) {
	code, labels := mustAssemble(t, `
	start:
		aload 0
		athrow
	discard:
		pop
		return
	keep:
		astore 0
		return
	`)
	m, err := NewMethod(MethodSpec{
		Name:      "handlers",
		Code:      code,
		MaxLocals: 1,
		MaxStack:  1,
		Params:    []compiler.BasicType{compiler.TypeObject},
		Handlers: []Handler{
			{Start: 0, End: labels["discard"], Target: labels["keep"], Catch: compiler.DivisionByZeroException},
			{Start: 0, End: labels["discard"], Target: labels["discard"], CatchAll: true},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	if h, ok := m.HandlerFor(2, compiler.DivisionByZeroException); !ok || h != labels["keep"] {
		t.Errorf("HandlerFor(division) = %d, %v, want %d", h, ok, labels["keep"])
	}
	if h, ok := m.HandlerFor(2, compiler.NullPointerException); !ok || h != labels["discard"] {
		t.Errorf("HandlerFor(null) = %d, %v, want catch-all %d", h, ok, labels["discard"])
	}
	if _, ok := m.HandlerFor(labels["discard"], compiler.NullPointerException); ok {
		t.Error("handler covers its own target")
	}
	if h, ok := m.CatchAllHandler(2); !ok || h != labels["discard"] {
		t.Errorf("CatchAllHandler(2) = %d, %v", h, ok)
	}
	if !m.HandlerDiscardsException(labels["discard"]) || m.HandlerDiscardsException(labels["keep"]) {
		t.Error("HandlerDiscardsException misreports")
	}
	if got := m.EntryCount(labels["keep"]); got != 1 {
		t.Errorf("handler target has %d predecessors, want 1", got)
	}
}

func TestNewMethodErrors(t *testing.T) {
	// A branch into the middle of iconst's operand.
	b := NewBuilder()
	b.EmitInt32(OpIConst, 0)
	b.Emit(OpPop)
	b.bytes = append(b.bytes, byte(OpGoto), 0xfb, 0xff) // -5: bci 1
	midBranch, _ := b.Bytes()

	tests := []struct {
		name string
		spec MethodSpec
		want string
	}{
		{"empty", MethodSpec{Name: "m"}, "no code"},
		{"falls off", MethodSpec{Name: "m", Code: []byte{byte(OpNop)}}, "falls off the end"},
		{"mid instruction", MethodSpec{Name: "m", Code: midBranch, MaxStack: 1}, "not an instruction"},
		{"local range", MethodSpec{Name: "m", Code: []byte{byte(OpILoad), 3, byte(OpIReturn)}, MaxLocals: 2}, "local 3"},
		{"long local range", MethodSpec{Name: "m", Code: []byte{byte(OpLLoad), 1, byte(OpLReturn)}, MaxLocals: 2}, "local 1"},
		{"callee", MethodSpec{Name: "m", Code: []byte{byte(OpInvokeStatic), 0, byte(OpReturn)}}, "callee 0"},
		{"params", MethodSpec{Name: "m", Code: []byte{byte(OpReturn)}, Params: []compiler.BasicType{compiler.TypeLong}, MaxLocals: 1}, "parameter words"},
		{"array type", MethodSpec{Name: "m", Code: []byte{byte(OpNewArray), 0, byte(OpReturn)}}, "newarray of type"},
		{"handler range", MethodSpec{Name: "m", Code: []byte{byte(OpReturn)}, Handlers: []Handler{{Start: 1, End: 1}}}, "bad handler range"},
		{"unknown opcode", MethodSpec{Name: "m", Code: []byte{0xee}}, "unknown opcode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewMethod(tt.spec)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("NewMethod error = %v, want one containing %q", err, tt.want)
			}
		})
	}
}
