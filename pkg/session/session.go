// Package session owns one loaded table and everything derived from it: the
// resolved configuration, the issue store and the undo history. Every
// mutation goes through a Session, which keeps issues consistent with cells.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/jmylchreest/sheetqa/pkg/config"
	"github.com/jmylchreest/sheetqa/pkg/engine"
	"github.com/jmylchreest/sheetqa/pkg/history"
	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/rules"
	"github.com/jmylchreest/sheetqa/pkg/table"
	"github.com/oklog/ulid/v2"
)

var sessionLog = log.New(os.Stderr, "[sheetqa:session] ", log.Ltime)

var (
	ErrClosed       = errors.New("session closed")
	ErrNoSuggestion = errors.New("issue has no suggestion")
	ErrNotCellIssue = errors.New("issue does not address a single cell")
)

// Outcome reports what a mutation did. Applied is false when there was
// nothing to do; Message then says why.
type Outcome struct {
	Applied     bool     `json:"applied"`
	Description string   `json:"description,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	Message     string   `json:"message,omitempty"`
}

// Session is the single owner of a table's mutable state. Its methods are
// safe for concurrent use; they serialise in call order.
type Session struct {
	mu sync.Mutex

	id       string
	tbl      table.Mutable
	meta     table.Meta
	doc      *config.Document
	resolved *config.Resolved
	engine   *engine.Engine
	runner   *engine.Runner
	issues   *issue.Store
	history  *history.History
	opts     options
	version  uint64
	runDiags []config.Diagnostic
	closed   bool
}

// New creates a session over tbl configured by doc. reg selects the rules
// (the built-in set when nil) unless WithEngine is given. The table is not
// validated until ValidateFull or ScheduleFull is called.
func New(tbl table.Mutable, doc *config.Document, reg *rules.Registry, opts ...Option) (*Session, error) {
	if tbl == nil {
		return nil, fmt.Errorf("session needs a table")
	}
	o := options{autoRevalidate: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.engine == nil {
		o.engine = engine.New(reg)
	}
	if doc == nil {
		doc = config.NewDocument()
	}

	s := &Session{
		id:      ulid.Make().String(),
		tbl:     tbl,
		meta:    o.meta,
		doc:     doc,
		engine:  o.engine,
		issues:  issue.NewStore(tbl.Columns()),
		history: history.New(o.depth),
		opts:    o,
	}
	s.resolved = config.Resolve(doc, tbl.Columns(), s.engine.Registry().IDs())

	if o.statuses != nil {
		remembered, err := o.statuses.LoadStatuses()
		if err != nil {
			sessionLog.Printf("load remembered statuses: %v", err)
		} else {
			s.issues.Remember(remembered)
		}
	}
	if o.async {
		s.runner = engine.NewRunner(s.engine, s.applyAsync)
	}
	return s, nil
}

// ID identifies the session in logs.
func (s *Session) ID() string { return s.id }

// Meta returns the loader metadata.
func (s *Session) Meta() table.Meta { return s.meta }

func (s *Session) target() *history.Target {
	return &history.Target{
		Table:   s.tbl,
		Issues:  s.issues,
		Patches: s.opts.patches,
		Actions: s.opts.actions,
		Now:     s.opts.now,
	}
}

// =============================================================================
// Validation
// =============================================================================

// ValidateFull validates every column and the table-wide rules, replacing
// all issues.
func (s *Session) ValidateFull(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.revalidateLocked(ctx, engine.FullScope())
}

// ValidatePartial revalidates the per-column rules of columns, replacing
// only their issues.
func (s *Session) ValidatePartial(ctx context.Context, columns ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.revalidateLocked(ctx, engine.ColumnScope(columns...))
}

// ScheduleFull queues a full validation. Without WithAsync it runs before
// returning.
func (s *Session) ScheduleFull() {
	s.schedule(engine.FullScope())
}

// SchedulePartial queues revalidation of columns.
func (s *Session) SchedulePartial(columns ...string) {
	s.schedule(engine.ColumnScope(columns...))
}

// Wait blocks until scheduled validation has finished.
func (s *Session) Wait() {
	if s.runner != nil {
		s.runner.Wait()
	}
}

// RunnerStatus reports background validation activity. ok is false for a
// synchronous session.
func (s *Session) RunnerStatus() (st engine.Status, ok bool) {
	if s.runner == nil {
		return engine.Status{}, false
	}
	return s.runner.Status(), true
}

func (s *Session) schedule(scope engine.Scope) {
	if scope.Empty() {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.runner == nil {
		if err := s.revalidateLocked(context.Background(), scope); err != nil {
			sessionLog.Printf("revalidate %s: %v", scope, err)
		}
		s.mu.Unlock()
		return
	}
	req := engine.Request{
		Table:   table.Snapshot(s.tbl),
		Config:  s.resolved,
		Version: s.version,
		Scope:   scope,
	}
	s.mu.Unlock()

	// Submit waits for a superseded run, whose apply takes s.mu.
	s.runner.Submit(req)
}

func (s *Session) revalidateLocked(ctx context.Context, scope engine.Scope) error {
	var (
		res *engine.Result
		err error
	)
	if scope.Full {
		res, err = s.engine.ValidateFull(ctx, s.tbl, s.resolved)
	} else {
		res, err = s.engine.ValidatePartial(ctx, s.tbl, s.resolved, scope.Columns)
	}
	if err != nil {
		return err
	}
	s.applyLocked(res)
	return nil
}

func (s *Session) applyAsync(req engine.Request, res *engine.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || req.Version != s.version || req.Config != s.resolved {
		return false
	}
	s.applyLocked(res)
	return true
}

func (s *Session) applyLocked(res *engine.Result) {
	if res.Full {
		s.issues.ReplaceAll(res.Issues)
		s.runDiags = append([]config.Diagnostic(nil), res.Diagnostics...)
	} else {
		s.issues.ReplaceForColumns(res.Columns, res.Issues)
		s.runDiags = mergeDiagnostics(s.runDiags, res.Columns, res.Diagnostics)
	}
	s.publishLocked()
}

// mergeDiagnostics replaces the diagnostics of the revalidated columns and
// keeps the rest.
func mergeDiagnostics(prev []config.Diagnostic, columns []string, fresh []config.Diagnostic) []config.Diagnostic {
	touched := make(map[string]bool, len(columns))
	for _, c := range columns {
		touched[c] = true
	}
	out := make([]config.Diagnostic, 0, len(prev)+len(fresh))
	for _, d := range prev {
		if d.Column != "" && touched[d.Column] {
			continue
		}
		out = append(out, d)
	}
	return append(out, fresh...)
}

// publishLocked pushes statuses and the issue snapshot to the persistence
// collaborators. Failures are logged; the in-memory state stays valid.
func (s *Session) publishLocked() {
	if s.opts.statuses != nil {
		if err := s.opts.statuses.SaveStatuses(s.issues.Remembered()); err != nil {
			sessionLog.Printf("save statuses: %v", err)
		}
	}
	if s.opts.snapshot != nil {
		if err := s.opts.snapshot.ReplaceIssues(s.issues.All()); err != nil {
			sessionLog.Printf("publish issue snapshot: %v", err)
		}
	}
}

// Reconfigure swaps the template and revalidates everything.
func (s *Session) Reconfigure(ctx context.Context, doc *config.Document) error {
	if doc == nil {
		doc = config.NewDocument()
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.doc = doc
	s.resolved = config.Resolve(doc, s.tbl.Columns(), s.engine.Registry().IDs())
	for _, d := range s.resolved.Diagnostics {
		sessionLog.Printf("config: %s", d)
	}
	if s.runner == nil {
		defer s.mu.Unlock()
		return s.revalidateLocked(ctx, engine.FullScope())
	}
	s.mu.Unlock()
	s.ScheduleFull()
	return nil
}

// =============================================================================
// Mutations
// =============================================================================

// ApplyFix replaces one cell value.
func (s *Session) ApplyFix(ctx context.Context, f history.Fix) (Outcome, error) {
	return s.push(ctx, history.NewApplyCellFix(f))
}

// ApplySuggestion applies the suggestion of an issue to its cell.
func (s *Session) ApplySuggestion(ctx context.Context, issueID string) (Outcome, error) {
	s.mu.Lock()
	i, ok := s.issues.Get(issueID)
	s.mu.Unlock()
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", issue.ErrNotFound, issueID)
	}
	f, err := suggestionFix(i)
	if err != nil {
		return Outcome{}, err
	}
	return s.push(ctx, history.NewApplyCellFix(f))
}

// ApplyBulk replaces several cells as one undoable step.
func (s *Session) ApplyBulk(ctx context.Context, label string, fixes []history.Fix) (Outcome, error) {
	if len(fixes) == 0 {
		return Outcome{Message: "Nothing to fix"}, nil
	}
	return s.push(ctx, history.NewBulkCellFix(label, fixes))
}

// ApplySuggestions applies the suggestion of every open issue matching f as
// one bulk step. Only the first suggestion per cell is used.
func (s *Session) ApplySuggestions(ctx context.Context, label string, f issue.Filter) (Outcome, error) {
	f.Status = issue.StatusOpen
	s.mu.Lock()
	candidates := s.issues.Find(f)
	s.mu.Unlock()

	seen := make(map[issue.Cell]bool)
	var fixes []history.Fix
	for _, i := range candidates {
		fix, err := suggestionFix(i)
		if err != nil || seen[i.Cell()] {
			continue
		}
		seen[i.Cell()] = true
		fixes = append(fixes, fix)
	}
	return s.ApplyBulk(ctx, label, fixes)
}

func suggestionFix(i *issue.Issue) (history.Fix, error) {
	if i.Column == issue.WholeRow {
		return history.Fix{}, fmt.Errorf("%w: %s", ErrNotCellIssue, i.ID)
	}
	if i.Suggestion == nil {
		return history.Fix{}, fmt.Errorf("%w: %s", ErrNoSuggestion, i.ID)
	}
	return history.Fix{
		Row:     i.Row,
		Column:  i.Column,
		Old:     i.Original,
		New:     *i.Suggestion,
		IssueID: i.ID,
	}, nil
}

// SetStatus changes an issue's status. Status changes never revalidate.
func (s *Session) SetStatus(ctx context.Context, issueID string, status issue.Status) (Outcome, error) {
	return s.push(ctx, history.NewSetIssueStatus(issueID, status))
}

func (s *Session) push(ctx context.Context, cmd history.Command) (Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	if err := s.history.Push(s.target(), cmd); err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	return s.afterMutation(ctx, cmd)
}

// Undo reverts the most recent mutation. With nothing to undo it reports
// Applied false and no error.
func (s *Session) Undo(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	if !s.history.CanUndo() {
		s.mu.Unlock()
		return Outcome{Message: "Nothing to undo"}, nil
	}
	cmd, err := s.history.Undo(s.target())
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	out, err := s.afterMutation(ctx, cmd)
	out.Description = "Undo " + cmd.Description()
	return out, err
}

// Redo re-applies the most recently undone mutation.
func (s *Session) Redo(ctx context.Context) (Outcome, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Outcome{}, ErrClosed
	}
	if !s.history.CanRedo() {
		s.mu.Unlock()
		return Outcome{Message: "Nothing to redo"}, nil
	}
	cmd, err := s.history.Redo(s.target())
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	out, err := s.afterMutation(ctx, cmd)
	out.Description = "Redo " + cmd.Description()
	return out, err
}

// afterMutation bumps the table version, publishes state and revalidates
// the touched columns. It is entered with s.mu held and releases it.
func (s *Session) afterMutation(ctx context.Context, cmd history.Command) (Outcome, error) {
	cols := cmd.Columns()
	out := Outcome{Applied: true, Description: cmd.Description(), Columns: cols}
	if len(cols) > 0 {
		s.version++
	}

	if len(cols) == 0 || !s.opts.autoRevalidate {
		s.publishLocked()
		s.mu.Unlock()
		return out, nil
	}
	if s.runner == nil {
		// applyLocked publishes on success.
		err := s.revalidateLocked(ctx, engine.ColumnScope(cols...))
		if err != nil {
			s.publishLocked()
		}
		s.mu.Unlock()
		if err != nil {
			return out, fmt.Errorf("revalidate %v: %w", cols, err)
		}
		return out, nil
	}
	s.publishLocked()
	s.mu.Unlock()
	s.SchedulePartial(cols...)
	return out, nil
}

// =============================================================================
// Queries
// =============================================================================

// Issues returns every issue in display order.
func (s *Session) Issues() []*issue.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues.All()
}

// Find returns the issues matching f.
func (s *Session) Find(f issue.Filter) []*issue.Issue {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues.Find(f)
}

// Issue returns one issue by id.
func (s *Session) Issue(id string) (*issue.Issue, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues.Get(id)
}

// Summary counts the current issues.
func (s *Session) Summary() issue.Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues.Summary()
}

// Diagnostics returns configuration diagnostics followed by those of the
// validation runs behind the current issues.
func (s *Session) Diagnostics() []config.Diagnostic {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]config.Diagnostic, 0, len(s.resolved.Diagnostics)+len(s.runDiags))
	out = append(out, s.resolved.Diagnostics...)
	return append(out, s.runDiags...)
}

// Table returns a copy of the current table.
func (s *Session) Table() *table.Grid {
	s.mu.Lock()
	defer s.mu.Unlock()
	return table.Snapshot(s.tbl)
}

// Version counts cell-changing mutations, including undo and redo.
func (s *Session) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

func (s *Session) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanUndo()
}

func (s *Session) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.CanRedo()
}

// UndoDescription describes what Undo would revert.
func (s *Session) UndoDescription() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.UndoDescription()
}

// RedoDescription describes what Redo would re-apply.
func (s *Session) RedoDescription() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.RedoDescription()
}

// Close stops background validation and publishes the final state. Later
// mutations return ErrClosed.
func (s *Session) Close() error {
	if s.runner != nil {
		s.runner.Stop()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.publishLocked()
	s.closed = true
	sessionLog.Printf("session %s closed at version %d (%d issues)", s.id, s.version, s.issues.Len())
	return nil
}
