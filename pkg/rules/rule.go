// Package rules holds the validation rule set. Rules are stateless: every
// check is a pure function of the table contents and the merged parameters it
// is handed, so any subset of columns can be revalidated in any order.
package rules

import (
	"log"
	"os"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/config"
	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/table"
)

var rulesLog = log.New(os.Stderr, "[sheetqa:rules] ", log.Ltime)

// Rule is one validation check.
type Rule interface {
	ID() string
	Name() string
	DefaultSeverity() issue.Severity
	// PerColumn is false for rules that run once over the whole table.
	PerColumn() bool
	// Check returns the findings for one column (or the whole table). A
	// non-nil error reports a configuration problem; findings returned
	// alongside it are still used.
	Check(in Input) ([]*issue.Issue, error)
}

// Input is everything a rule may read. Column is empty for table-wide rules.
type Input struct {
	Table    table.Table
	Column   string
	Params   config.Params
	Severity issue.Severity
}

// VocabularyProvider supplies controlled vocabularies by name. It is the
// only external collaborator rules consume.
type VocabularyProvider interface {
	AllowedValues(name string) ([]string, error)
}

type base struct {
	id        string
	name      string
	severity  issue.Severity
	perColumn bool
}

func (b base) ID() string                      { return b.id }
func (b base) Name() string                    { return b.name }
func (b base) DefaultSeverity() issue.Severity { return b.severity }
func (b base) PerColumn() bool                 { return b.perColumn }

func perColumn(id, name string, sev issue.Severity) base {
	return base{id: id, name: name, severity: sev, perColumn: true}
}

// finding builds an issue for the cell at row of the input column.
func (b base) finding(in Input, row int, original, message string, discriminator ...string) *issue.Issue {
	return &issue.Issue{
		ID:       issue.NewID(b.id, in.Column, row, original, discriminator...),
		RuleID:   b.id,
		Severity: in.Severity,
		Status:   issue.StatusOpen,
		Row:      row,
		Column:   in.Column,
		Original: original,
		Message:  message,
	}
}

// cell is one non-empty value of a column.
type cell struct {
	row   int
	value string
}

// cells returns the column values that are not blank after trimming.
func cells(in Input) []cell {
	vals, ok := table.ColumnValues(in.Table, in.Column)
	if !ok {
		return nil
	}
	out := make([]cell, 0, len(vals))
	for r, v := range vals {
		if strings.TrimSpace(v) == "" {
			continue
		}
		out = append(out, cell{row: r, value: v})
	}
	return out
}

// rawCells returns every non-empty value, whitespace-only ones included.
func rawCells(in Input) []cell {
	vals, ok := table.ColumnValues(in.Table, in.Column)
	if !ok {
		return nil
	}
	out := make([]cell, 0, len(vals))
	for r, v := range vals {
		if v != "" {
			out = append(out, cell{row: r, value: v})
		}
	}
	return out
}

func suggest(s string) *string { return &s }

// truncate shortens s to n runes with an ellipsis, for messages.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

// stringSet builds a membership set.
func stringSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}
