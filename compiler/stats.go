package compiler

import "sync/atomic"

// Stats holds compiler statistics.
type Stats struct {
	MethodsCompiled uint64
	MethodsFailed   uint64
	Suspensions     uint64
	Resumes         uint64
	Aborts          uint64
	Bytecodes       uint64
	Elements        uint64
	Entries         uint64
	LoopsPeeled     uint64
	Merges          uint64
	CodeBytes       uint64
}

type counters struct {
	methodsCompiled uint64
	methodsFailed   uint64
	suspensions     uint64
	resumes         uint64
	aborts          uint64
	bytecodes       uint64
	elements        uint64
	entries         uint64
	loopsPeeled     uint64
	merges          uint64
	codeBytes       uint64
}

func inc(p *uint64) { atomic.AddUint64(p, 1) }

func add(p *uint64, n uint64) { atomic.AddUint64(p, n) }

// Stats returns a snapshot of the compiler's counters.
func (comp *Compiler) Stats() Stats {
	s := &comp.stats
	return Stats{
		MethodsCompiled: atomic.LoadUint64(&s.methodsCompiled),
		MethodsFailed:   atomic.LoadUint64(&s.methodsFailed),
		Suspensions:     atomic.LoadUint64(&s.suspensions),
		Resumes:         atomic.LoadUint64(&s.resumes),
		Aborts:          atomic.LoadUint64(&s.aborts),
		Bytecodes:       atomic.LoadUint64(&s.bytecodes),
		Elements:        atomic.LoadUint64(&s.elements),
		Entries:         atomic.LoadUint64(&s.entries),
		LoopsPeeled:     atomic.LoadUint64(&s.loopsPeeled),
		Merges:          atomic.LoadUint64(&s.merges),
		CodeBytes:       atomic.LoadUint64(&s.codeBytes),
	}
}
