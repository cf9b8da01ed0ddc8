package session

import (
	"time"

	"github.com/jmylchreest/sheetqa/pkg/engine"
	"github.com/jmylchreest/sheetqa/pkg/history"
	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/table"
)

// StatusMemory persists remembered dismissals between sessions.
type StatusMemory interface {
	LoadStatuses() (map[string]issue.Status, error)
	SaveStatuses(statuses map[string]issue.Status) error
}

// IssueSink receives the current issue list after every change, for
// offline inspection.
type IssueSink interface {
	ReplaceIssues(issues []*issue.Issue) error
}

type options struct {
	patches        history.PatchSink
	actions        history.ActionLog
	statuses       StatusMemory
	snapshot       IssueSink
	depth          int
	engine         *engine.Engine
	autoRevalidate bool
	async          bool
	now            func() time.Time
	meta           table.Meta
}

// Option configures a Session.
type Option func(*options)

// WithPatchSink records every cell patch.
func WithPatchSink(p history.PatchSink) Option {
	return func(o *options) { o.patches = p }
}

// WithActionLog records an audit entry per execute, undo and redo.
func WithActionLog(l history.ActionLog) Option {
	return func(o *options) { o.actions = l }
}

// WithStatusMemory seeds remembered dismissals on creation and saves them
// after every change.
func WithStatusMemory(m StatusMemory) Option {
	return func(o *options) { o.statuses = m }
}

// WithIssueSnapshot publishes the issue list after every change.
func WithIssueSnapshot(s IssueSink) Option {
	return func(o *options) { o.snapshot = s }
}

// WithHistoryDepth caps the undo and redo stacks.
func WithHistoryDepth(n int) Option {
	return func(o *options) { o.depth = n }
}

// WithEngine replaces the engine built from the registry passed to New.
func WithEngine(e *engine.Engine) Option {
	return func(o *options) { o.engine = e }
}

// WithAutoRevalidate controls whether mutations revalidate the columns they
// touch. It is on by default.
func WithAutoRevalidate(on bool) Option {
	return func(o *options) { o.autoRevalidate = on }
}

// WithAsync moves revalidation after mutations onto a background runner.
// Results are applied only if the table has not changed since.
func WithAsync(on bool) Option {
	return func(o *options) { o.async = on }
}

// WithClock sets the time source for patches and the action log.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMeta attaches loader metadata to the session.
func WithMeta(m table.Meta) Option {
	return func(o *options) { o.meta = m }
}
