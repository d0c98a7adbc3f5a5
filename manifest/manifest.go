// Package manifest handles jit.toml compiler configuration and method
// description files.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/chazu/baseline/asm"
	"github.com/chazu/baseline/compiler"
)

// FileName is the name of the configuration file looked up by Load.
const FileName = "jit.toml"

// Manifest represents a jit.toml configuration.
type Manifest struct {
	Compiler  CompilerSection `toml:"compiler"`
	Registers RegisterSection `toml:"registers"`
	Log       LogSection      `toml:"log"`
	Methods   MethodsSection  `toml:"methods"`

	// Dir is the directory containing the jit.toml file (set at load time).
	Dir string `toml:"-"`
}

// CompilerSection mirrors compiler.Config.
type CompilerSection struct {
	CodeBufferSize       int      `toml:"code-buffer-size"`
	PoolCapacity         int      `toml:"pool-capacity"`
	LoopPeeling          bool     `toml:"loop-peeling"`
	LoopPeelingSizeLimit int      `toml:"loop-peeling-size-limit"`
	MaxInlineDepth       int      `toml:"max-inline-depth"`
	InlineSizeLimit      int      `toml:"inline-size-limit"`
	SuspendEvery         int      `toml:"suspend-every"`
	TimeSlice            Duration `toml:"time-slice"`
	ShareThrowStubs      bool     `toml:"share-throw-stubs"`
	StackCheck           bool     `toml:"stack-check"`
	Trace                bool     `toml:"trace"`
}

// RegisterSection describes the target register file.
type RegisterSection struct {
	Int         int `toml:"int"`
	Float       int `toml:"float"`
	Return      int `toml:"return"`
	FloatReturn int `toml:"float-return"`
}

// LogSection configures commonlog.
type LogSection struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// MethodsSection lists where method files live.
type MethodsSection struct {
	Dirs []string `toml:"dirs"`
}

// Duration is a time.Duration written as a string such as "5ms".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Default returns the manifest used when no jit.toml exists.
func Default() *Manifest {
	c := compiler.DefaultConfig()
	return &Manifest{
		Compiler: CompilerSection{
			CodeBufferSize:       c.CodeBufferSize,
			PoolCapacity:         c.PoolCapacity,
			LoopPeeling:          c.LoopPeeling,
			LoopPeelingSizeLimit: c.LoopPeelingSizeLimit,
			MaxInlineDepth:       c.MaxInlineDepth,
			InlineSizeLimit:      c.InlineSizeLimit,
			SuspendEvery:         c.SuspendEvery,
			TimeSlice:            Duration(c.TimeSlice),
			ShareThrowStubs:      c.ShareThrowStubs,
			StackCheck:           c.StackCheck,
			Trace:                c.Trace,
		},
		Registers: RegisterSection{
			Int:         c.Registers.IntCount,
			Float:       c.Registers.FloatCount,
			Return:      int(c.Registers.Return),
			FloatReturn: int(c.Registers.FloatReturn),
		},
		Methods: MethodsSection{Dirs: []string{"methods"}},
	}
}

// Load parses a jit.toml file from the given directory. Keys the file
// leaves out keep their Default values.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	if err := toml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if len(m.Methods.Dirs) == 0 {
		m.Methods.Dirs = []string{"."}
	}
	if _, err := m.Config(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a jit.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Config converts the manifest into a validated compiler configuration.
// The element pool is left nil so the compiler picks it by PoolCapacity.
func (m *Manifest) Config() (compiler.Config, error) {
	s := m.Compiler
	cfg := compiler.Config{
		Registers: asm.RegisterFile{
			IntCount:    m.Registers.Int,
			FloatCount:  m.Registers.Float,
			Return:      asm.Register(m.Registers.Return),
			FloatReturn: asm.Register(m.Registers.FloatReturn),
		},
		CodeBufferSize:       s.CodeBufferSize,
		PoolCapacity:         s.PoolCapacity,
		LoopPeeling:          s.LoopPeeling,
		LoopPeelingSizeLimit: s.LoopPeelingSizeLimit,
		MaxInlineDepth:       s.MaxInlineDepth,
		InlineSizeLimit:      s.InlineSizeLimit,
		SuspendEvery:         s.SuspendEvery,
		TimeSlice:            time.Duration(s.TimeSlice),
		ShareThrowStubs:      s.ShareThrowStubs,
		StackCheck:           s.StackCheck,
		Trace:                s.Trace,
	}
	if err := cfg.Validate(); err != nil {
		return compiler.Config{}, err
	}
	return cfg, nil
}

// MethodDirPaths returns absolute paths for the configured method directories.
func (m *Manifest) MethodDirPaths() []string {
	var paths []string
	for _, d := range m.Methods.Dirs {
		if filepath.IsAbs(d) {
			paths = append(paths, d)
			continue
		}
		paths = append(paths, filepath.Join(m.Dir, d))
	}
	return paths
}

// MethodFiles lists every method file in the method directories, sorted.
func (m *Manifest) MethodFiles() ([]string, error) {
	var files []string
	for _, dir := range m.MethodDirPaths() {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+MethodExt))
		if err != nil {
			return nil, err
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}

// FindMethod resolves a method argument: an existing path is used as is,
// anything else names a method file in the method directories.
func (m *Manifest) FindMethod(arg string) (string, error) {
	if _, err := os.Stat(arg); err == nil {
		return arg, nil
	}
	name := arg
	if !strings.HasSuffix(name, MethodExt) {
		name += MethodExt
	}
	for _, dir := range m.MethodDirPaths() {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("method %q not found in %s", arg, strings.Join(m.MethodDirPaths(), ", "))
}
