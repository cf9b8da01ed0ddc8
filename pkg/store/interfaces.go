package store

import (
	"github.com/jmylchreest/sheetqa/pkg/history"
	"github.com/jmylchreest/sheetqa/pkg/issue"
)

// DefaultSearchLimit caps issue listings and searches when no limit is given.
const DefaultSearchLimit = 100

// PatchStore keeps cell patches. Undone patches live in their own namespace
// until redone.
type PatchStore interface {
	history.PatchSink
	GetPatch(patchID string) (issue.Patch, bool, error)
	ListPatches(undone bool) ([]issue.Patch, error)
}

// ActionStore is the append-only audit log.
type ActionStore interface {
	history.ActionLog
	ListActions(limit int) ([]issue.ActionLogEntry, error)
}

// StatusStore remembers user dismissals across sessions.
type StatusStore interface {
	LoadStatuses() (map[string]issue.Status, error)
	SaveStatuses(statuses map[string]issue.Status) error
}

// IssueStore keeps the latest issue snapshot for offline inspection.
type IssueStore interface {
	ReplaceIssues(issues []*issue.Issue) error
	GetIssue(id string) (*issue.Issue, error)
	ListIssues(opts SearchOptions) ([]*issue.Issue, error)
	SearchIssues(opts SearchOptions) ([]SearchResult, error)
}

// Store is the full persistence surface of a session.
type Store interface {
	PatchStore
	ActionStore
	StatusStore
	IssueStore
	GetMeta(key string) (string, error)
	SetMeta(key, value string) error
	Close() error
}

// SearchOptions filters issue listings and searches. Zero fields match
// everything.
type SearchOptions struct {
	Query    string
	RuleID   string
	Severity string
	Status   string
	Column   string
	Limit    int
}

func (o SearchOptions) match(i *issue.Issue) bool {
	if o.RuleID != "" && i.RuleID != o.RuleID {
		return false
	}
	if o.Severity != "" && string(i.Severity) != o.Severity {
		return false
	}
	if o.Status != "" && string(i.Status) != o.Status {
		return false
	}
	if o.Column != "" && i.Column != o.Column {
		return false
	}
	return true
}

func (o SearchOptions) limit() int {
	switch {
	case o.Limit == 0:
		return DefaultSearchLimit
	case o.Limit < 0:
		return 100_000 // Effectively unlimited for bleve.
	default:
		return o.Limit
	}
}

// SearchResult is an issue matched by a search, with its relevance score.
type SearchResult struct {
	Issue *issue.Issue `json:"issue"`
	Score float64      `json:"score"`
}
