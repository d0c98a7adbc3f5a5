package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chazu/baseline/asm"
	"github.com/chazu/baseline/compiler"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
[compiler]
code-buffer-size = 4096
pool-capacity = 32
loop-peeling = false
max-inline-depth = 1
suspend-every = 10
time-slice = "5ms"
share-throw-stubs = false
trace = true

[registers]
int = 4
float = 0
return = 2

[log]
verbosity = 2
file = "jit.log"

[methods]
dirs = ["src", "/opt/methods"]
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg, err := m.Config()
	if err != nil {
		t.Fatal(err)
	}

	want := compiler.DefaultConfig()
	want.Registers = asm.RegisterFile{IntCount: 4, Return: 2, FloatReturn: want.Registers.FloatReturn}
	want.CodeBufferSize = 4096
	want.PoolCapacity = 32
	want.LoopPeeling = false
	want.MaxInlineDepth = 1
	want.SuspendEvery = 10
	want.TimeSlice = 5 * time.Millisecond
	want.ShareThrowStubs = false
	want.Trace = true
	if cfg != want {
		t.Errorf("Config() = %+v\nwant %+v", cfg, want)
	}

	if m.Log.Verbosity != 2 || m.Log.File != "jit.log" {
		t.Errorf("log = %+v", m.Log)
	}
	paths := m.MethodDirPaths()
	if len(paths) != 2 || paths[0] != filepath.Join(m.Dir, "src") || paths[1] != "/opt/methods" {
		t.Errorf("method dirs = %v", paths)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, FileName), `
[compiler]
max-inline-depth = 0
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg, err := m.Config()
	if err != nil {
		t.Fatal(err)
	}
	want := compiler.DefaultConfig()
	want.MaxInlineDepth = 0
	if cfg != want {
		t.Errorf("Config() = %+v\nwant %+v", cfg, want)
	}
	if len(m.Methods.Dirs) != 1 || m.Methods.Dirs[0] != "methods" {
		t.Errorf("default method dirs = %v, want [methods]", m.Methods.Dirs)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[compiler\n", "parse error"},
		{"duration", "[compiler]\ntime-slice = \"soon\"\n", "parse error"},
		{"negative", "[compiler]\nmax-inline-depth = -1\n", "max inline depth -1"},
		{"registers", "[registers]\nint = 1\n", "at least 2 integer registers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, filepath.Join(dir, FileName), tt.content)
			_, err := Load(dir)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Load error = %v, want one containing %q", err, tt.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(dir, FileName), "[compiler]\nsuspend-every = 3\n")

	// Should find the manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Compiler.SuspendEvery != 3 {
		t.Errorf("suspend-every = %d, want 3", m.Compiler.SuspendEvery)
	}
	abs, _ := filepath.Abs(dir)
	if m.Dir != abs {
		t.Errorf("Dir = %q, want %q", m.Dir, abs)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no jit.toml exists")
	}
}

func TestMethodFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "methods", "b.jm.toml"), "")
	writeFile(t, filepath.Join(dir, "methods", "a.jm.toml"), "")
	writeFile(t, filepath.Join(dir, "methods", "notes.toml"), "")

	m := Default()
	m.Dir = dir
	files, err := m.MethodFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "a.jm.toml" || filepath.Base(files[1]) != "b.jm.toml" {
		t.Errorf("MethodFiles() = %v", files)
	}

	for _, arg := range []string{"a", "a.jm.toml", filepath.Join(dir, "methods", "a.jm.toml")} {
		path, err := m.FindMethod(arg)
		if err != nil || filepath.Base(path) != "a.jm.toml" {
			t.Errorf("FindMethod(%q) = %q, %v", arg, path, err)
		}
	}
	if _, err := m.FindMethod("missing"); err == nil {
		t.Error("FindMethod of a missing method succeeded")
	}
}
