package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jmylchreest/sheetqa/pkg/config"
	"github.com/jmylchreest/sheetqa/pkg/table"
)

var runnerLog = log.New(os.Stderr, "[sheetqa:runner] ", log.Ltime)

// Scope selects what a run validates: the whole table, or a set of columns.
type Scope struct {
	Full    bool
	Columns []string
}

// FullScope selects the whole table.
func FullScope() Scope { return Scope{Full: true} }

// ColumnScope selects the given columns.
func ColumnScope(columns ...string) Scope { return Scope{Columns: columns} }

// Empty reports whether the scope selects nothing.
func (s Scope) Empty() bool { return !s.Full && len(s.Columns) == 0 }

// Union widens s with o. Column order is s first, then new columns of o.
func (s Scope) Union(o Scope) Scope {
	if s.Full || o.Full {
		return FullScope()
	}
	seen := make(map[string]bool, len(s.Columns)+len(o.Columns))
	var cols []string
	for _, c := range append(append([]string(nil), s.Columns...), o.Columns...) {
		if !seen[c] {
			seen[c] = true
			cols = append(cols, c)
		}
	}
	return Scope{Columns: cols}
}

func (s Scope) String() string {
	if s.Full {
		return "<table>"
	}
	return "[" + strings.Join(s.Columns, ", ") + "]"
}

// Request is one unit of background validation. Table must be a snapshot
// the caller no longer mutates; Version is the owner's table version at the
// time the snapshot was taken.
type Request struct {
	Table   table.Table
	Config  *config.Resolved
	Version uint64
	Scope   Scope
}

// ApplyFunc hands a finished result back to the owner. It returns false when
// the result is stale (the live table moved past req.Version) and was
// discarded.
type ApplyFunc func(req Request, res *Result) bool

// Status describes the runner's most recent activity.
type Status struct {
	State        string
	Scope        Scope
	Version      uint64
	LastRun      time.Time
	LastDuration time.Duration
	Issues       int
	Superseded   int
	Stale        int
	Error        string
}

type activeRun struct {
	cancel  context.CancelFunc
	done    chan struct{}
	started time.Time
	id      int64
	scope   Scope
}

// Runner keeps at most one validation in flight for one table. Submitting a
// new request cancels the running one and widens the new scope to cover it,
// so nothing that was requested is lost.
type Runner struct {
	engine *Engine
	apply  ApplyFunc

	mu       sync.Mutex
	active   *activeRun
	carry    Scope // scope of discarded results, folded into the next run
	status   Status
	runIDGen int64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRunner creates a runner that validates with e and delivers results to
// apply.
func NewRunner(e *Engine, apply ApplyFunc) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		engine: e,
		apply:  apply,
		status: Status{State: StateIdle},
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit starts validating req, superseding any run in flight. It blocks
// until a superseded run has exited, so callers must not hold locks that
// apply needs.
func (r *Runner) Submit(req Request) {
	r.mu.Lock()

	for r.active != nil {
		existing := r.active
		existing.cancel()
		req.Scope = req.Scope.Union(existing.scope)
		r.status.Superseded++
		runnerLog.Printf("superseding run %d on %s", existing.id, existing.scope)
		r.mu.Unlock()
		<-existing.done
		r.mu.Lock()
	}

	if !r.carry.Empty() {
		req.Scope = req.Scope.Union(r.carry)
		r.carry = Scope{}
	}
	if req.Scope.Empty() {
		r.mu.Unlock()
		return
	}
	if err := r.ctx.Err(); err != nil {
		r.mu.Unlock()
		runnerLog.Printf("runner stopped, dropping request on %s", req.Scope)
		return
	}

	ctx, cancel := context.WithCancel(r.ctx)
	done := make(chan struct{})
	r.runIDGen++
	runID := r.runIDGen
	r.active = &activeRun{
		cancel:  cancel,
		done:    done,
		started: time.Now(),
		id:      runID,
		scope:   req.Scope,
	}
	r.status.State = StateRunning
	r.status.Scope = req.Scope
	r.status.Version = req.Version
	r.wg.Add(1)

	r.mu.Unlock()

	go func() {
		defer close(done)
		defer r.wg.Done()
		defer cancel()
		defer func() {
			r.mu.Lock()
			if r.active != nil && r.active.id == runID {
				r.active = nil
			}
			r.mu.Unlock()
		}()

		start := time.Now()
		res, err := r.validate(ctx, req)
		duration := time.Since(start)

		if ctx.Err() != nil {
			runnerLog.Printf("run %d on %s: cancelled", runID, req.Scope)
			return
		}
		if err != nil {
			runnerLog.Printf("run %d on %s: failed: %v (keeping old issues)", runID, req.Scope, err)
			r.finish(StateError, req.Scope, 0, duration, err.Error(), false)
			return
		}
		if !r.apply(req, res) {
			runnerLog.Printf("run %d on %s: stale at version %d, discarded", runID, req.Scope, req.Version)
			r.finish(StateIdle, req.Scope, 0, duration, "", true)
			return
		}

		runnerLog.Printf("run %d on %s: %d issues in %v", runID, req.Scope, len(res.Issues), duration)
		r.finish(StateIdle, req.Scope, len(res.Issues), duration, "", false)
	}()
}

func (r *Runner) validate(ctx context.Context, req Request) (*Result, error) {
	if req.Table == nil {
		return nil, fmt.Errorf("request has no table")
	}
	if req.Scope.Full {
		return r.engine.ValidateFull(ctx, req.Table, req.Config)
	}
	return r.engine.ValidatePartial(ctx, req.Table, req.Config, req.Scope.Columns)
}

func (r *Runner) finish(state string, scope Scope, issues int, duration time.Duration, errStr string, stale bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stale || state == StateError {
		r.carry = r.carry.Union(scope)
	}
	if stale {
		r.status.Stale++
	}
	r.status.State = state
	r.status.LastRun = time.Now()
	r.status.LastDuration = duration
	r.status.Issues = issues
	r.status.Error = errStr
}

// Pending returns the scope of discarded results still owed a run.
func (r *Runner) Pending() Scope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.carry
}

// Status returns a copy of the runner status.
func (r *Runner) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Wait blocks until no run is in flight.
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop cancels any run in flight and waits up to DefaultStopTimeout for it
// to exit. Later submissions are dropped.
func (r *Runner) Stop() {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(DefaultStopTimeout):
		runnerLog.Printf("timeout waiting for validation to stop")
	}
}
