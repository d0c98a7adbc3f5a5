// jitc compiles method description files with the baseline compiler and
// prints the generated code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tliron/commonlog"

	"github.com/chazu/baseline/bytecode"
	"github.com/chazu/baseline/compiler"
	"github.com/chazu/baseline/manifest"

	_ "github.com/tliron/commonlog/simple"
)

func main() {
	verbose := flag.Int("v", -1, "Log verbosity (overrides [log] verbosity)")
	configDir := flag.String("C", ".", "Directory to search upwards for jit.toml")
	all := flag.Bool("all", false, "Compile every method file in the method directories")
	suspendEvery := flag.Int("suspend-every", -1, "Suspend after this many bytecodes and resume (overrides [compiler])")
	osr := flag.Int("osr", 0, "Compile an on-stack replacement entry at this bytecode index")
	timeout := flag.Duration("timeout", 0, "Give up on a compilation after this long")
	showBytecodes := flag.Bool("bytecodes", false, "Print the bytecodes before the generated code")
	showStats := flag.Bool("stats", false, "Print compiler statistics at the end")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: jitc [options] [methods...]\n\n")
		fmt.Fprintf(os.Stderr, "Compiles methods given as %s files or as names found in the\n", manifest.MethodExt)
		fmt.Fprintf(os.Stderr, "method directories of the nearest %s.\n\n", manifest.FileName)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  jitc count                   # Compile methods/count%s\n", manifest.MethodExt)
		fmt.Fprintf(os.Stderr, "  jitc -osr 7 count            # Compile an OSR entry at bci 7\n")
		fmt.Fprintf(os.Stderr, "  jitc -suspend-every 1 -all   # Compile everything one bytecode at a time\n")
	}
	flag.Parse()

	m, err := manifest.FindAndLoad(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if m == nil {
		m = manifest.Default()
		if m.Dir, err = os.Getwd(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	verbosity := m.Log.Verbosity
	if *verbose >= 0 {
		verbosity = *verbose
	}
	var logPath *string
	if m.Log.File != "" {
		logPath = &m.Log.File
	}
	commonlog.Configure(verbosity, logPath)

	if *suspendEvery >= 0 {
		m.Compiler.SuspendEvery = *suspendEvery
	}
	cfg, err := m.Config()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	paths, err := methodPaths(m, flag.Args(), *all)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if len(paths) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	comp, err := compiler.New(cfg, bytecode.Templates{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	loader := manifest.NewMethodLoader()
	failed := false
	for _, path := range paths {
		method, err := loader.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			failed = true
			continue
		}
		if *showBytecodes {
			text, err := bytecode.Disassemble(method.Code())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			}
			fmt.Printf("; bytecodes of %s\n%s\n", method.Name(), text)
		}
		if err := compileOne(comp, method, *osr, *timeout); err != nil {
			fmt.Fprintf(os.Stderr, "Error compiling %s: %v\n", method.Name(), err)
			failed = true
		}
	}

	if *showStats {
		printStats(comp.Stats(), comp.Pool())
	}
	if failed {
		os.Exit(1)
	}
}

func methodPaths(m *manifest.Manifest, args []string, all bool) ([]string, error) {
	var paths []string
	if all {
		files, err := m.MethodFiles()
		if err != nil {
			return nil, err
		}
		paths = append(paths, files...)
	}
	for _, arg := range args {
		path, err := m.FindMethod(arg)
		if err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// compileOne runs one compilation to completion, resuming it for as long
// as it suspends.
func compileOne(comp *compiler.Compiler, method *bytecode.Method, osr int, timeout time.Duration) error {
	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := comp.Compile(ctx, method, osr)
	resumes := 0
	for err == nil && res.Suspended {
		resumes++
		res, err = comp.Resume(ctx)
	}
	if err != nil {
		return err
	}

	rf := comp.Config().Registers
	fmt.Printf("; %s compiled in %s as %s: %s", res.Method, time.Since(start).Round(time.Microsecond),
		res.ID, humanize.Bytes(uint64(res.CodeSize)))
	if resumes > 0 {
		fmt.Printf(", %d resumes", resumes)
	}
	fmt.Println()
	fmt.Print(res.Code.Disassemble(rf))
	if res.OSRLabel.IsValid() {
		if off, ok := res.Code.LabelOffset(res.OSRLabel); ok {
			fmt.Printf("; OSR entry at bci %d, offset %d\n", osr, off)
		}
	}
	for _, e := range res.Entries {
		off, _ := res.Code.LabelOffset(e.Label)
		fmt.Printf("; entry bci %d at offset %d: %s\n", e.BCI, off, e.Frame)
	}
	fmt.Println()
	return nil
}

func printStats(s compiler.Stats, pool *compiler.Pool) {
	fmt.Printf("methods compiled:   %s (%s failed)\n", humanize.Comma(int64(s.MethodsCompiled)), humanize.Comma(int64(s.MethodsFailed)))
	fmt.Printf("bytecodes:          %s\n", humanize.Comma(int64(s.Bytecodes)))
	fmt.Printf("elements:           %s\n", humanize.Comma(int64(s.Elements)))
	fmt.Printf("entries:            %s (%d merges, %d loops peeled)\n", humanize.Comma(int64(s.Entries)), s.Merges, s.LoopsPeeled)
	fmt.Printf("suspensions:        %d (%d resumes, %d aborts)\n", s.Suspensions, s.Resumes, s.Aborts)
	fmt.Printf("code:               %s\n", humanize.Bytes(s.CodeBytes))
	fmt.Printf("pool:               %d created, %d free, %d outstanding\n", pool.Created(), pool.Free(), pool.Outstanding())
}
