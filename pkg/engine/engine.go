// Package engine runs the rule set over a table. Validation is a pure
// function of (table contents, resolved configuration, registry): the same
// inputs always produce the same issues in the same order, whatever the
// concurrency.
package engine

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jmylchreest/sheetqa/pkg/config"
	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/rules"
	"github.com/jmylchreest/sheetqa/pkg/table"
	"golang.org/x/sync/errgroup"
)

var engineLog = log.New(os.Stderr, "[sheetqa:engine] ", log.Ltime)

// Result is the output of one validation run.
type Result struct {
	Issues      []*issue.Issue
	Diagnostics []config.Diagnostic
	// Columns are the columns that were validated, in table order.
	Columns []string
	// Full is true when table-wide rules ran too and the result replaces
	// every issue.
	Full     bool
	Duration time.Duration
}

// Engine evaluates a rule registry.
type Engine struct {
	registry    *rules.Registry
	concurrency int
}

// Option configures an Engine.
type Option func(*Engine)

// WithConcurrency bounds the number of tasks evaluated in parallel.
func WithConcurrency(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// New creates an engine over reg. A nil registry means the built-in rules.
func New(reg *rules.Registry, opts ...Option) *Engine {
	if reg == nil {
		reg = rules.Builtin()
	}
	e := &Engine{registry: reg, concurrency: DefaultConcurrency}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Registry returns the rule set the engine evaluates.
func (e *Engine) Registry() *rules.Registry { return e.registry }

// ValidateFull runs every enabled rule on every column plus the table-wide
// rules.
func (e *Engine) ValidateFull(ctx context.Context, tbl table.Table, res *config.Resolved) (*Result, error) {
	return e.run(ctx, tbl, res, tbl.Columns(), true, nil)
}

// ValidatePartial runs the per-column rules on columns only. Table-wide rules
// are skipped; unknown columns are reported as diagnostics.
func (e *Engine) ValidatePartial(ctx context.Context, tbl table.Table, res *config.Resolved, columns []string) (*Result, error) {
	known := make(map[string]bool)
	for _, c := range tbl.Columns() {
		known[c] = true
	}
	want := make(map[string]bool)
	var diags []config.Diagnostic
	for _, c := range columns {
		if !known[c] {
			diags = append(diags, config.Diagnostic{
				Level:   config.LevelWarning,
				Column:  c,
				Message: "cannot revalidate unknown column",
			})
			continue
		}
		want[c] = true
	}
	// Keep table order so results do not depend on the caller's order.
	var ordered []string
	for _, c := range tbl.Columns() {
		if want[c] {
			ordered = append(ordered, c)
		}
	}
	return e.run(ctx, tbl, res, ordered, false, diags)
}

type task struct {
	rule   rules.Rule
	column string // empty for table-wide rules
}

type taskResult struct {
	issues []*issue.Issue
	diags  []config.Diagnostic
}

func (e *Engine) run(ctx context.Context, tbl table.Table, res *config.Resolved, columns []string, full bool, diags []config.Diagnostic) (*Result, error) {
	start := time.Now()
	if res == nil {
		res = config.Resolve(nil, tbl.Columns(), e.registry.IDs())
	}

	var tasks []task
	for _, rule := range e.registry.All() {
		if !rule.PerColumn() {
			if full {
				tasks = append(tasks, task{rule: rule})
			}
			continue
		}
		for _, col := range columns {
			tasks = append(tasks, task{rule: rule, column: col})
		}
	}

	// Each task writes its own slot; merging in task order keeps the output
	// independent of scheduling.
	slots := make([]taskResult, len(tasks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, t := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			slots[i] = runTask(tbl, res, t)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows := tbl.Len()
	seen := make(map[string]bool)
	var issues []*issue.Issue
	for i, slot := range slots {
		diags = append(diags, slot.diags...)
		t := tasks[i]
		for _, is := range slot.issues {
			if is == nil {
				continue
			}
			if msg := checkPlacement(tbl, t, is, rows); msg != "" {
				diags = append(diags, config.Diagnostic{Level: config.LevelError, Source: t.rule.ID(), Column: is.Column, Message: msg})
				continue
			}
			if seen[is.ID] {
				diags = append(diags, config.Diagnostic{
					Level:   config.LevelWarning,
					Source:  t.rule.ID(),
					Column:  is.Column,
					Message: fmt.Sprintf("duplicate issue id %s on row %d dropped", is.ID, is.Row),
				})
				continue
			}
			seen[is.ID] = true
			issues = append(issues, is)
		}
	}
	issue.Sort(issues, tbl.Columns())

	out := &Result{
		Issues:      issues,
		Diagnostics: diags,
		Columns:     append([]string(nil), columns...),
		Full:        full,
		Duration:    time.Since(start),
	}
	engineLog.Printf("validated %d columns (full=%v): %d issues, %d diagnostics in %v",
		len(columns), full, len(issues), len(diags), out.Duration)
	return out, nil
}

// checkPlacement returns a non-empty message when an issue does not point at
// a cell the task was allowed to report on.
func checkPlacement(tbl table.Table, t task, is *issue.Issue, rows int) string {
	if is.Row < 0 || is.Row >= rows {
		return fmt.Sprintf("issue row %d out of range (table has %d rows)", is.Row, rows)
	}
	if t.column != "" {
		if is.Column != t.column {
			return fmt.Sprintf("issue reported on column %q while checking %q", is.Column, t.column)
		}
		return ""
	}
	if is.Column != issue.WholeRow && !table.HasColumn(tbl, is.Column) {
		return fmt.Sprintf("issue reported on unknown column %q", is.Column)
	}
	return ""
}

// runTask evaluates one rule on one column. A failing or panicking rule is
// contained: its problem becomes a diagnostic and the run continues.
func runTask(tbl table.Table, res *config.Resolved, t task) (out taskResult) {
	id := t.rule.ID()
	params := res.Global(id)
	if t.column != "" {
		params = res.For(id, t.column)
	}
	if !params.Enabled() {
		return out
	}

	sev, err := params.Severity(t.rule.DefaultSeverity())
	if err != nil {
		out.diags = append(out.diags, config.Diagnostic{
			Level:   config.LevelWarning,
			Source:  id,
			Column:  t.column,
			Message: fmt.Sprintf("%v; using %s", err, sev),
		})
	}

	defer func() {
		if p := recover(); p != nil {
			engineLog.Printf("rule %s on %q panicked: %v", id, t.column, p)
			out.issues = nil
			out.diags = append(out.diags, config.Diagnostic{
				Level:   config.LevelError,
				Source:  id,
				Column:  t.column,
				Message: fmt.Sprintf("rule failed: %v", p),
			})
		}
	}()

	issues, err := t.rule.Check(rules.Input{Table: tbl, Column: t.column, Params: params, Severity: sev})
	if err != nil {
		out.diags = append(out.diags, config.Diagnostic{
			Level:   config.LevelError,
			Source:  id,
			Column:  t.column,
			Message: err.Error(),
		})
	}
	out.issues = issues
	return out
}
