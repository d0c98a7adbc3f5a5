package bytecode

import (
	"context"
	"testing"

	"github.com/chazu/baseline/asm"
	"github.com/chazu/baseline/compiler"
)

func testConfig() compiler.Config {
	cfg := compiler.DefaultConfig()
	cfg.Pool = compiler.NewPool(0)
	return cfg
}

func compile(t *testing.T, cfg compiler.Config, m *Method, activeBCI int) (*compiler.Compiler, *compiler.Result) {
	t.Helper()
	comp, err := compiler.New(cfg, Templates{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := comp.Compile(context.Background(), m, activeBCI)
	if err != nil {
		t.Fatal(err)
	}
	if res.Suspended {
		t.Fatal("compilation suspended")
	}
	if n := cfg.Pool.Outstanding(); n != 0 {
		t.Errorf("%d elements outstanding after compiling %s", n, m.Name())
	}
	if unbound := res.Code.Labels().Unbound(); len(unbound) != 0 {
		t.Errorf("unbound labels %v:\n%s", unbound, res.Code.Disassemble(cfg.Registers))
	}
	return comp, res
}

func calls(code *asm.Buffer) map[string]int {
	out := make(map[string]int)
	for _, in := range code.Instrs() {
		if in.Op == asm.OpCall {
			out[in.Call]++
		}
	}
	return out
}

func TestLoopPeeling(t *testing.T) {
	m, labels := loopMethod(t)

	comp, peeled := compile(t, testConfig(), m, 0)
	if got := comp.Stats().LoopsPeeled; got != 1 {
		t.Errorf("LoopsPeeled = %d, want 1", got)
	}
	if len(peeled.Entries) != 1 || peeled.Entries[0].BCI != labels["loop"] {
		t.Fatalf("entries = %v, want one at bci %d", peeled.Entries, labels["loop"])
	}
	if !peeled.Code.IsBound(peeled.Entries[0].Label) {
		t.Error("loop entry label is not bound")
	}

	cfg := testConfig()
	cfg.LoopPeeling = false
	comp, plain := compile(t, cfg, m, 0)
	if got := comp.Stats().LoopsPeeled; got != 0 {
		t.Errorf("LoopsPeeled with peeling off = %d", got)
	}
	if plain.CodeSize >= peeled.CodeSize {
		t.Errorf("unpeeled code is %d bytes, peeled %d; want it smaller", plain.CodeSize, peeled.CodeSize)
	}
	if calls(plain.Code)[compiler.EntryTimerTick] != 1 {
		t.Errorf("timer tick stubs = %v, want one per back edge", calls(plain.Code))
	}
}

func TestOSREntry(t *testing.T) {
	m, labels := loopMethod(t)
	_, res := compile(t, testConfig(), m, labels["loop"])

	if !res.OSRLabel.IsValid() || !res.Code.IsBound(res.OSRLabel) {
		t.Fatalf("OSR label %v not bound", res.OSRLabel)
	}
	found := false
	for _, in := range res.Code.Instrs() {
		if in.Op == asm.OpOSREntry && in.Imm == int64(labels["loop"]) {
			found = true
		}
	}
	if !found {
		t.Errorf("no OSR entry marker for bci %d:\n%s", labels["loop"], res.Code.Disassemble(asm.DefaultRegisterFile()))
	}

	_, normal := compile(t, testConfig(), m, 0)
	if normal.OSRLabel.IsValid() {
		t.Error("OSR label set for a normal compilation")
	}
}

func inlineMethods(t *testing.T) *Method {
	t.Helper()
	add1, err := NewMethod(MethodSpec{
		Name:      "add1",
		Code:      must(mustAssemble(t, "iload 0\niconst 1\niadd\nireturn")),
		MaxLocals: 1,
		MaxStack:  2,
		Params:    []compiler.BasicType{compiler.TypeInt},
		Returns:   compiler.TypeInt,
	})
	if err != nil {
		t.Fatal(err)
	}
	main, err := NewMethod(MethodSpec{
		Name:     "main",
		Code:     must(mustAssemble(t, "iconst 41\ninvokestatic 0\nireturn")),
		MaxStack: 1,
		Returns:  compiler.TypeInt,
		Callees:  []*Method{add1},
	})
	if err != nil {
		t.Fatal(err)
	}
	return main
}

func must(code []byte, _ map[string]int) []byte { return code }

func TestInlining(t *testing.T) {
	rf := asm.DefaultRegisterFile()

	cfg := testConfig()
	cfg.StackCheck = false
	_, res := compile(t, cfg, inlineMethods(t), 0)
	if n := calls(res.Code)[compiler.EntryInvoke+":add1"]; n != 0 {
		t.Errorf("inlined callee still called:\n%s", res.Code.Disassemble(rf))
	}
	m := asm.NewMachine(rf, 4)
	stop, ok, err := m.Run(res.Code.Instrs())
	if err != nil || !ok || stop.Op != asm.OpJump {
		t.Fatalf("run stopped at %v, %v, %v", stop, ok, err)
	}
	if got := m.Regs[rf.Return]; got != 42 {
		t.Errorf("inlined result = %d, want 42\n%s", got, res.Code.Disassemble(rf))
	}

	cfg = testConfig()
	cfg.MaxInlineDepth = 0
	_, res = compile(t, cfg, inlineMethods(t), 0)
	if n := calls(res.Code)[compiler.EntryInvoke+":add1"]; n != 1 {
		t.Errorf("%d calls of add1, want 1:\n%s", n, res.Code.Disassemble(rf))
	}
}

func TestRuntimeStubs(t *testing.T) {
	code, _ := mustAssemble(t, `
		aload 0
		arraylength      ; null check
		iload 1
		idiv             ; division check
		pop
		new 3
		pop
		aload 0
		checkcast 5
		pop
		aload 0
		instanceof 5
		pop
		iload 1
		newarray int
		pop
		return
	`)
	m, err := NewMethod(MethodSpec{
		Name:      "stubs",
		Code:      code,
		MaxLocals: 2,
		MaxStack:  2,
		Params:    []compiler.BasicType{compiler.TypeObject, compiler.TypeInt},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, res := compile(t, testConfig(), m, 0)

	got := calls(res.Code)
	for _, entry := range []string{
		compiler.NullPointerException.ThrowEntry(),
		compiler.DivisionByZeroException.ThrowEntry(),
		compiler.EntryNewObject,
		compiler.EntryCheckCast,
		compiler.EntryInstanceOf,
		compiler.EntryNewTypeArray,
		compiler.EntryStackOverflow,
	} {
		if got[entry] != 1 {
			t.Errorf("%d calls of %s, want 1\n%s", got[entry], entry, res.Code.Disassemble(asm.DefaultRegisterFile()))
		}
	}
}

func TestKnownFactsSkipChecks(t *testing.T) {
	code, _ := mustAssemble(t, `
		new 3
		checkcast 3      ; class is exact
		arraylength      ; receiver is known non-null
		pop
		aconst_null
		instanceof 7     ; null is never an instance
		pop
		return
	`)
	m, err := NewMethod(MethodSpec{Name: "facts", Code: code, MaxStack: 1})
	if err != nil {
		t.Fatal(err)
	}
	_, res := compile(t, testConfig(), m, 0)
	got := calls(res.Code)
	for _, entry := range []string{
		compiler.EntryCheckCast,
		compiler.EntryInstanceOf,
		compiler.NullPointerException.ThrowEntry(),
	} {
		if got[entry] != 0 {
			t.Errorf("%s called although the facts decide it", entry)
		}
	}
}

func TestQuickCatch(t *testing.T) {
	code, labels := mustAssemble(t, `
		aload 0
		athrow
	handler:
		pop
		return
	`)
	m, err := NewMethod(MethodSpec{
		Name:      "catcher",
		Code:      code,
		MaxLocals: 1,
		MaxStack:  1,
		Params:    []compiler.BasicType{compiler.TypeObject},
		Handlers:  []Handler{{Start: 0, End: labels["handler"], Target: labels["handler"], CatchAll: true}},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, res := compile(t, testConfig(), m, 0)
	got := calls(res.Code)
	if got[compiler.EntryThrow] != 0 || got[compiler.NullPointerException.ThrowEntry()] != 0 {
		t.Errorf("exception left the method although a local handler catches it: %v", got)
	}
}

func TestSuspendedTemplatesMatch(t *testing.T) {
	m, _ := loopMethod(t)
	rf := asm.DefaultRegisterFile()
	_, straight := compile(t, testConfig(), m, 0)

	cfg := testConfig()
	cfg.SuspendEvery = 2
	comp, err := compiler.New(cfg, Templates{})
	if err != nil {
		t.Fatal(err)
	}
	res, err := comp.Compile(context.Background(), m, 0)
	for err == nil && res.Suspended {
		res, err = comp.Resume(context.Background())
	}
	if err != nil {
		t.Fatal(err)
	}
	if got, want := res.Code.Disassemble(rf), straight.Code.Disassemble(rf); got != want {
		t.Errorf("suspended compilation differs:\n%s\nstraight:\n%s", got, want)
	}
}
