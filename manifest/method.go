package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/chazu/baseline/bytecode"
	"github.com/chazu/baseline/compiler"
)

// MethodExt is the suffix of method description files.
const MethodExt = ".jm.toml"

// MethodFile is the on-disk description of one method. Code is assembler
// text as accepted by bytecode.Assemble; handler bounds name its labels.
type MethodFile struct {
	Name         string        `toml:"name"`
	Params       []string      `toml:"params"`
	Returns      string        `toml:"returns"`
	MaxLocals    int           `toml:"max-locals"`
	MaxStack     int           `toml:"max-stack"`
	Synchronized bool          `toml:"synchronized"`
	Callees      []string      `toml:"callees"`
	Code         string        `toml:"code"`
	Handlers     []HandlerFile `toml:"handlers"`
}

// HandlerFile is one exception table row. An empty Start means the first
// instruction; an empty Catch catches everything.
type HandlerFile struct {
	Start  string `toml:"start"`
	End    string `toml:"end"`
	Target string `toml:"target"`
	Catch  string `toml:"catch"`
}

// ReadMethodFile parses a method file without resolving its callees.
func ReadMethodFile(path string) (*MethodFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}
	var f MethodFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(path), MethodExt)
	}
	return &f, nil
}

// MethodLoader turns method files into verified methods. Callees are
// paths relative to the naming file; each file is loaded once and shared
// by every caller.
type MethodLoader struct {
	loaded  map[string]*bytecode.Method
	loading map[string]bool
}

// NewMethodLoader creates an empty loader.
func NewMethodLoader() *MethodLoader {
	return &MethodLoader{
		loaded:  make(map[string]*bytecode.Method),
		loading: make(map[string]bool),
	}
}

// Load returns the method described by the file at path, loading its
// callees first.
func (l *MethodLoader) Load(path string) (*bytecode.Method, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path %q: %w", path, err)
	}
	if m, ok := l.loaded[abs]; ok {
		return m, nil
	}
	if l.loading[abs] {
		return nil, fmt.Errorf("%s is reached again through its own callees; recursive methods cannot be described", abs)
	}
	l.loading[abs] = true
	defer delete(l.loading, abs)

	f, err := ReadMethodFile(abs)
	if err != nil {
		return nil, err
	}
	callees := make([]*bytecode.Method, 0, len(f.Callees))
	for _, c := range f.Callees {
		if !filepath.IsAbs(c) {
			c = filepath.Join(filepath.Dir(abs), c)
		}
		callee, err := l.Load(c)
		if err != nil {
			return nil, fmt.Errorf("resolving callee of %s: %w", f.Name, err)
		}
		callees = append(callees, callee)
	}

	m, err := f.Method(callees)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", abs, err)
	}
	l.loaded[abs] = m
	return m, nil
}

// Method assembles f into a verified method with the given callees.
func (f *MethodFile) Method(callees []*bytecode.Method) (*bytecode.Method, error) {
	code, labels, err := bytecode.Assemble(f.Code)
	if err != nil {
		return nil, err
	}

	spec := bytecode.MethodSpec{
		Name:         f.Name,
		Code:         code,
		MaxLocals:    f.MaxLocals,
		MaxStack:     f.MaxStack,
		Synchronized: f.Synchronized,
		Callees:      callees,
	}
	for _, p := range f.Params {
		t, err := compiler.ParseBasicType(p)
		if err != nil {
			return nil, fmt.Errorf("parameter: %w", err)
		}
		spec.Params = append(spec.Params, t)
	}
	if f.Returns != "" {
		if spec.Returns, err = compiler.ParseBasicType(f.Returns); err != nil {
			return nil, fmt.Errorf("return type: %w", err)
		}
	}

	label := func(name string, dflt int) (int, error) {
		if name == "" {
			return dflt, nil
		}
		bci, ok := labels[name]
		if !ok {
			return 0, fmt.Errorf("handler refers to unknown label %q", name)
		}
		return bci, nil
	}
	for i, hf := range f.Handlers {
		var h bytecode.Handler
		if h.Start, err = label(hf.Start, 0); err != nil {
			return nil, err
		}
		if h.End, err = label(hf.End, len(code)); err != nil {
			return nil, err
		}
		if hf.Target == "" {
			return nil, fmt.Errorf("handler %d has no target", i)
		}
		if h.Target, err = label(hf.Target, 0); err != nil {
			return nil, err
		}
		if hf.Catch == "" {
			h.CatchAll = true
		} else if h.Catch, err = compiler.ParseRuntimeException(hf.Catch); err != nil {
			return nil, fmt.Errorf("handler %d: %w", i, err)
		}
		spec.Handlers = append(spec.Handlers, h)
	}

	return bytecode.NewMethod(spec)
}
