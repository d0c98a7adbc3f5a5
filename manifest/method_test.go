package manifest

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/baseline/compiler"
)

const add1File = `
params = ["int"]
returns = "int"
max-locals = 1
max-stack = 2
code = """
	iload 0
	iconst 1
	iadd
	ireturn
"""
`

func TestMethodLoader(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "lib", "add1.jm.toml"), add1File)
	writeFile(t, filepath.Join(dir, "main.jm.toml"), `
name = "main"
returns = "int"
max-stack = 1
callees = ["lib/add1.jm.toml"]
code = """
	iconst 41
	invokestatic 0
	ireturn
"""
`)
	writeFile(t, filepath.Join(dir, "twice.jm.toml"), `
returns = "int"
max-stack = 1
callees = ["lib/add1.jm.toml"]
code = """
	iconst 40
	invokestatic 0
	invokestatic 0
	ireturn
"""
`)

	l := NewMethodLoader()
	caller, err := l.Load(filepath.Join(dir, "main.jm.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if caller.Name() != "main" || caller.ReturnType() != compiler.TypeInt {
		t.Errorf("loaded %s returning %s", caller.Name(), caller.ReturnType())
	}
	add1 := caller.Callee(0)
	if add1.Name() != "add1" {
		t.Errorf("callee name = %q, want the file name add1", add1.Name())
	}
	if p := add1.Parameters(); len(p) != 1 || p[0] != compiler.TypeInt {
		t.Errorf("add1 parameters = %v", p)
	}

	twice, err := l.Load(filepath.Join(dir, "twice.jm.toml"))
	if err != nil {
		t.Fatal(err)
	}
	if twice.Callee(0) != add1 {
		t.Error("shared callee loaded twice")
	}
	if twice.Name() != "twice" {
		t.Errorf("name = %q, want twice", twice.Name())
	}
}

func TestMethodHandlers(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guarded.jm.toml")
	writeFile(t, path, `
params = ["object", "int"]
max-locals = 2
max-stack = 2
code = """
try:
	aload 0
	arraylength
	iload 1
	idiv
	pop
	return
handler:
	pop
	return
"""

[[handlers]]
end = "handler"
target = "handler"
catch = "division_by_zero"

[[handlers]]
end = "handler"
target = "handler"
`)
	m, err := NewMethodLoader().Load(path)
	if err != nil {
		t.Fatal(err)
	}
	hs := m.Handlers()
	if len(hs) != 2 {
		t.Fatalf("%d handlers, want 2", len(hs))
	}
	if hs[0].Catch != compiler.DivisionByZeroException || hs[0].CatchAll {
		t.Errorf("first handler = %+v", hs[0])
	}
	if !hs[1].CatchAll {
		t.Errorf("second handler = %+v, want catch-all", hs[1])
	}
	if h, ok := m.HandlerFor(1, compiler.NullPointerException); !ok || h != hs[1].Target {
		t.Errorf("HandlerFor(1, null) = %d, %v", h, ok)
	}
}

func TestMethodLoaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "code = ", "parse error"},
		{"assembler", "code = \"frobnicate\"", "unknown instruction"},
		{"param type", "params = [\"string\"]\ncode = \"return\"", "unknown type"},
		{"return type", "returns = \"bool\"\ncode = \"return\"", "unknown type"},
		{"label", "code = \"return\"\n[[handlers]]\ntarget = \"nowhere\"", "unknown label"},
		{"target", "code = \"return\"\n[[handlers]]\nend = \"\"", "no target"},
		{"exception", "code = \"a:\\nreturn\"\n[[handlers]]\ntarget = \"a\"\ncatch = \"oops\"", "unknown runtime exception"},
		{"missing callee", "callees = [\"gone.jm.toml\"]\ncode = \"return\"", "cannot read"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "m.jm.toml")
			writeFile(t, path, tt.content)
			_, err := NewMethodLoader().Load(path)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want one containing %q", err, tt.want)
			}
		})
	}
}

func TestMethodLoaderCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.jm.toml"), "callees = [\"b.jm.toml\"]\ncode = \"return\"")
	writeFile(t, filepath.Join(dir, "b.jm.toml"), "callees = [\"a.jm.toml\"]\ncode = \"return\"")

	_, err := NewMethodLoader().Load(filepath.Join(dir, "a.jm.toml"))
	if err == nil || !strings.Contains(err.Error(), "recursive methods") {
		t.Errorf("Load error = %v, want a recursion error", err)
	}
}
