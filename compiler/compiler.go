package compiler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/baseline/asm"
)

// Compiler drives compilations of one method at a time. It is not safe for
// concurrent use; a runtime keeps one per compiler thread.
//
// A compilation may stop at a checkpoint before it is complete. It is then
// suspended: Resume continues it and AbortSuspended discards it, and no
// other method can be compiled until one of the two happens.
type Compiler struct {
	cfg     Config
	pool    *Pool
	alloc   RegisterAllocator
	stepper Stepper
	log     commonlog.Logger
	stats   counters

	// Per compilation.
	id         uuid.UUID
	root       *Context
	contexts   []*Context // root first, innermost inlined callee last
	code       *asm.Buffer
	owned      map[*Element]struct{}
	serial     uint64
	steps      int
	goctx      context.Context
	sliceStart time.Time
	started    time.Time
	entryLabel asm.Label
	osrLabel   asm.Label
}

// Result is the output of a finished compilation, or the status of a
// suspended one.
type Result struct {
	ID     uuid.UUID
	Method string

	// Suspended is set when a checkpoint stopped the compilation. The other
	// fields are only meaningful once it has finished.
	Suspended bool

	Code       *asm.Buffer
	CodeSize   int
	EntryLabel asm.Label
	OSRLabel   asm.Label // NoLabel unless compiled for on-stack replacement
	Entries    []*Entry
}

// New returns a compiler translating bytecodes with stepper.
func New(cfg Config, stepper Stepper) (*Compiler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("compiler config: %w", err)
	}
	if stepper == nil {
		return nil, fmt.Errorf("compiler config: no stepper")
	}
	pool := cfg.Pool
	switch {
	case pool != nil:
	case cfg.PoolCapacity > 0:
		pool = NewPool(cfg.PoolCapacity)
	default:
		pool = DefaultPool()
	}
	return &Compiler{
		cfg:     cfg,
		pool:    pool,
		stepper: stepper,
		log:     commonlog.GetLogger("baseline.compiler"),
	}, nil
}

// Config returns the compiler's settings.
func (comp *Compiler) Config() Config { return comp.cfg }

// Pool returns the element pool the compiler draws from.
func (comp *Compiler) Pool() *Pool { return comp.pool }

// Suspended reports whether a compilation is waiting to be resumed.
func (comp *Compiler) Suspended() bool { return comp.root != nil }

// Compile translates m. When activeBCI is positive the method is running
// in the interpreter at that bytecode and an on-stack replacement entry is
// compiled for it.
func (comp *Compiler) Compile(ctx context.Context, m Method, activeBCI int) (*Result, error) {
	if comp.root != nil {
		return nil, ErrSuspended
	}
	comp.id = uuid.New()
	comp.code = asm.NewBuffer(comp.cfg.CodeBufferSize)
	if a := comp.cfg.Allocator; a != nil {
		a.Reset()
		comp.alloc = a
	} else {
		comp.alloc = NewRoundRobinAllocator(comp.cfg.Registers)
	}
	comp.owned = make(map[*Element]struct{})
	comp.serial = 0
	comp.steps = 0
	comp.osrLabel = asm.NoLabel
	comp.started = time.Now()

	root := newContext(comp, nil, m)
	comp.root = root
	comp.contexts = []*Context{root}
	comp.log.Infof("%s: compiling %s (%d bytes, %d locals, %d stack)",
		comp.id, m.Name(), m.CodeLength(), m.MaxLocals(), m.MaxStack())

	if err := comp.prologue(root, activeBCI); err != nil {
		return nil, comp.fail(err)
	}
	return comp.run(ctx)
}

// Resume continues a suspended compilation.
func (comp *Compiler) Resume(ctx context.Context) (*Result, error) {
	if comp.root == nil {
		return nil, ErrNothingToResume
	}
	inc(&comp.stats.resumes)
	comp.log.Debugf("%s: resuming %s", comp.id, comp.root.method.Name())
	return comp.run(ctx)
}

// AbortSuspended discards a suspended compilation. The method stays
// uncompiled.
func (comp *Compiler) AbortSuspended() error {
	if comp.root == nil {
		return ErrNothingToResume
	}
	comp.log.Warningf("%s: aborting suspended compilation of %s", comp.id, comp.root.method.Name())
	comp.abort()
	return nil
}

func (comp *Compiler) prologue(c *Context, activeBCI int) error {
	code := comp.code
	c.frame.attach(comp.alloc, code)
	defer c.frame.detach()

	comp.entryLabel = code.NewLabel()
	code.Bind(comp.entryLabel)

	if comp.cfg.StackCheck {
		e, err := c.allocateStub(KindStackOverflow, false)
		if err != nil {
			return err
		}
		c.Emit(asm.StackCheck(c.method.MaxLocals()+c.method.MaxStack(), e.entryLabel))
	}
	if activeBCI > 0 {
		invariant(activeBCI < c.method.CodeLength(), "active bci %d outside %s", activeBCI, c.method.Name())
		c.osrBCI = activeBCI
		c.osrPending = true
		comp.osrLabel = code.NewLabel()
	}
	if _, err := c.Continuation(0, RunImmediately); err != nil {
		return err
	}
	if err := code.Err(); err != nil {
		return fmt.Errorf("%w: %w", ReservationFailed, err)
	}
	return nil
}

func (comp *Compiler) run(ctx context.Context) (*Result, error) {
	comp.goctx = ctx
	comp.sliceStart = time.Now()
	defer func() { comp.goctx = nil }()

	if err := ctx.Err(); err != nil {
		return nil, comp.fail(fmt.Errorf("%w: %w", OutOfTime, err))
	}
	finished, err := comp.drain(comp.root)
	if err != nil {
		return nil, comp.fail(err)
	}
	if !finished {
		inc(&comp.stats.suspensions)
		comp.log.Debugf("%s: suspended %s at %d bytes", comp.id, comp.root.method.Name(), comp.code.CodeSize())
		return &Result{ID: comp.id, Method: comp.root.method.Name(), Suspended: true}, nil
	}
	return comp.finish(), nil
}

// drain compiles c's queue until it is empty or an element suspends.
func (comp *Compiler) drain(c *Context) (finished bool, err error) {
	for {
		e := c.dequeue()
		if e == nil {
			return true, nil
		}
		c.current = e
		done, err := comp.compileElement(c, e)
		c.current = nil
		if err != nil {
			comp.release(e)
			return true, err
		}
		if !done {
			// Resumed before anything queued while it ran.
			c.Insert(e)
			return false, nil
		}
		if !e.persistent {
			comp.release(e)
		}
	}
}

func (comp *Compiler) compileElement(c *Context, e *Element) (finished bool, err error) {
	inc(&comp.stats.elements)
	if comp.cfg.Trace {
		comp.log.Debugf("%s: %s depth=%d\n%s", comp.id, e, c.depth, e.frame)
	}
	c.frame.CopyFrom(e.frame)
	c.frame.attach(comp.alloc, comp.code)
	defer c.frame.detach()
	c.bci = e.bci

	finished, err = e.compile(c)
	if err == nil {
		if cerr := comp.code.Err(); cerr != nil {
			err = fmt.Errorf("%w: %w", ReservationFailed, cerr)
		}
	}
	return finished, err
}

// compileInline compiles an inlined callee to completion. The caller's
// frame is detached while it runs.
func (comp *Compiler) compileInline(child *Context) error {
	comp.contexts = append(comp.contexts, child)
	defer func() {
		comp.contexts = comp.contexts[:len(comp.contexts)-1]
		comp.releaseShared(child)
	}()

	child.frame.attach(comp.alloc, comp.code)
	_, err := child.Continuation(0, RunImmediately)
	child.frame.detach()
	if err != nil {
		return err
	}
	finished, err := comp.drain(child)
	if err != nil {
		return err
	}
	invariant(finished, "inlined callee %s suspended", child.method.Name())
	return nil
}

func (comp *Compiler) nextSerial() uint64 {
	comp.serial++
	return comp.serial
}

func (comp *Compiler) release(e *Element) {
	if _, ok := comp.owned[e]; !ok {
		return
	}
	delete(comp.owned, e)
	comp.pool.Put(e)
}

func (comp *Compiler) releaseShared(c *Context) {
	for i, e := range c.shared {
		if e != nil {
			comp.release(e)
			c.shared[i] = nil
		}
	}
}

func (comp *Compiler) finish() *Result {
	root := comp.root
	comp.releaseShared(root)
	invariant(len(comp.owned) == 0, "%d elements outstanding after compiling %s", len(comp.owned), root.method.Name())

	if root.osrPending {
		comp.log.Warningf("%s: active bci %d of %s was never reached", comp.id, root.osrBCI, root.method.Name())
		comp.osrLabel = asm.NoLabel
	}
	r := &Result{
		ID:         comp.id,
		Method:     root.method.Name(),
		Code:       comp.code,
		CodeSize:   comp.code.CodeSize(),
		EntryLabel: comp.entryLabel,
		OSRLabel:   comp.osrLabel,
		Entries:    root.entries.All(),
	}
	inc(&comp.stats.methodsCompiled)
	add(&comp.stats.codeBytes, uint64(r.CodeSize))
	comp.log.Infof("%s: compiled %s: %d bytes, %d entries in %s",
		comp.id, r.Method, r.CodeSize, len(r.Entries), time.Since(comp.started))

	comp.reset()
	return r
}

// fail abandons the compilation and wraps err with its failure kind.
func (comp *Compiler) fail(err error) error {
	c := comp.active()
	ce := &CompileError{
		Failure: FailureOf(err),
		Method:  c.method.Name(),
		BCI:     c.bci,
		Err:     err,
	}
	inc(&comp.stats.methodsFailed)
	comp.log.Warningf("%s: %s", comp.id, ce)
	comp.abort()
	return ce
}

func (comp *Compiler) active() *Context {
	return comp.contexts[len(comp.contexts)-1]
}

// abort returns every element of every context to the pool and drops the
// code.
func (comp *Compiler) abort() {
	inc(&comp.stats.aborts)
	for e := range comp.owned {
		comp.pool.Put(e)
	}
	comp.owned = nil
	comp.reset()
}

func (comp *Compiler) reset() {
	comp.root = nil
	comp.contexts = nil
	comp.code = nil
	comp.owned = nil
}
