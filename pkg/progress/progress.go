// Package progress tracks dispatch and completion counters for a run and
// fires the one-shot "drained" callback, grounded on Progress.java in
// original_source and kept in the teacher's atomic-counter style (see
// go.uber.org/atomic usage across resmgr).
package progress

import (
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// ErrAlreadyInitialized is returned by SetTotal when called a second time.
var ErrAlreadyInitialized = errors.New("progress: total already set")

// Progress counts dispatched and completed jobs against a fixed total and
// fires callbacks exactly once each when those milestones are reached.
type Progress struct {
	mu          sync.Mutex
	total       int64
	initialized bool

	dispatched atomic.Int64
	done       atomic.Int64

	lastDispatchFired bool
	allFinishedFired  bool

	onLastDispatch func()
	onAllFinished  func()
}

// New returns an uninitialized Progress; SetTotal must be called before use.
func New() *Progress {
	return &Progress{}
}

// SetTotal fixes the number of jobs this run expects to see. One-shot: a
// second call returns ErrAlreadyInitialized without changing state.
func (p *Progress) SetTotal(n int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.initialized {
		return ErrAlreadyInitialized
	}
	p.total = n
	p.initialized = true
	return nil
}

// OnLastDispatch registers fn to run exactly once, when dispatched reaches
// total.
func (p *Progress) OnLastDispatch(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onLastDispatch = fn
}

// OnAllJobsFinished registers fn to run exactly once, when done reaches
// total.
func (p *Progress) OnAllJobsFinished(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onAllFinished = fn
}

// RegisterDispatch records that one more job reached a VM.
func (p *Progress) RegisterDispatch() {
	n := p.dispatched.Inc()
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == p.total && !p.lastDispatchFired {
		p.lastDispatchFired = true
		if p.onLastDispatch != nil {
			p.onLastDispatch()
		}
	}
}

// RegisterCompletion records that one more job finished running.
func (p *Progress) RegisterCompletion() {
	n := p.done.Inc()
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == p.total && !p.allFinishedFired {
		p.allFinishedFired = true
		if p.onAllFinished != nil {
			p.onAllFinished()
		}
	}
}

// DoneCount is a monotonic read of the number of completed jobs.
func (p *Progress) DoneCount() int64 {
	return p.done.Load()
}

// DispatchedCount is a monotonic read of the number of dispatched jobs.
func (p *Progress) DispatchedCount() int64 {
	return p.dispatched.Load()
}
