// Package issue defines validation findings, the records emitted when cells
// are corrected, and the in-memory Store that keeps the current findings.
package issue

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Severity of a finding. Ordered ERROR > WARNING > SUSPICION.
type Severity string

const (
	SevError     Severity = "ERROR"
	SevWarning   Severity = "WARNING"
	SevSuspicion Severity = "SUSPICION"
)

// Severities lists every severity, most severe first.
var Severities = []Severity{SevError, SevWarning, SevSuspicion}

// Rank returns the sort rank of a severity: ERROR=0, WARNING=1,
// SUSPICION=2. Unknown values sort last.
func (s Severity) Rank() int {
	switch s {
	case SevError:
		return 0
	case SevWarning:
		return 1
	case SevSuspicion:
		return 2
	default:
		return 3
	}
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case SevError:
		return SevError, nil
	case SevWarning:
		return SevWarning, nil
	case SevSuspicion:
		return SevSuspicion, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Status of a finding.
type Status string

const (
	StatusOpen     Status = "OPEN"
	StatusFixed    Status = "FIXED"
	StatusIgnored  Status = "IGNORED"
	StatusExcepted Status = "EXCEPTED"
)

// ParseStatus parses a status name, case-insensitively.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(strings.TrimSpace(s))) {
	case StatusOpen:
		return StatusOpen, nil
	case StatusFixed:
		return StatusFixed, nil
	case StatusIgnored:
		return StatusIgnored, nil
	case StatusExcepted:
		return StatusExcepted, nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

// Dismissal reports whether the status is a user dismissal that should
// survive the issue disappearing and reappearing.
func (s Status) Dismissal() bool {
	return s == StatusIgnored || s == StatusExcepted
}

// WholeRow is the column name used by findings that concern a whole row
// rather than one cell.
const WholeRow = "__row__"

// Issue is a single validation finding.
type Issue struct {
	ID         string         `json:"id"`
	RuleID     string         `json:"rule_id"`
	Severity   Severity       `json:"severity"`
	Status     Status         `json:"status"`
	Row        int            `json:"row"`
	Column     string         `json:"column"`
	Original   string         `json:"original"`
	Message    string         `json:"message"`
	Suggestion *string        `json:"suggestion,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// Clone returns a copy of the issue. Extra is shallow-copied.
func (i *Issue) Clone() *Issue {
	c := *i
	if i.Suggestion != nil {
		s := *i.Suggestion
		c.Suggestion = &s
	}
	if i.Extra != nil {
		c.Extra = make(map[string]any, len(i.Extra))
		for k, v := range i.Extra {
			c.Extra[k] = v
		}
	}
	return &c
}

// Cell addresses one table cell.
type Cell struct {
	Row    int
	Column string
}

// Cell returns the address the issue points at.
func (i *Issue) Cell() Cell { return Cell{Row: i.Row, Column: i.Column} }

// idLength is the number of hex characters kept from the id digest.
const idLength = 16

// NewID derives the content-addressed id of a finding. The original value is
// NFC-normalised but not trimmed, so whitespace fixes change the id. Rules
// that can raise several findings on one cell pass a discriminator.
func NewID(ruleID, column string, row int, original string, discriminator ...string) string {
	parts := []any{ruleID, column, row, norm.NFC.String(original)}
	for _, d := range discriminator {
		if d != "" {
			parts = append(parts, norm.NFC.String(d))
		}
	}
	data, _ := json.Marshal(parts)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:idLength]
}

// Patch records one concrete cell mutation.
type Patch struct {
	PatchID   string    `json:"patch_id"`
	ActionID  string    `json:"action_id"`
	Row       int       `json:"row"`
	Column    string    `json:"column"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	IssueID   string    `json:"issue_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Action types recorded in the audit log.
const (
	ActionFix     = "fix"
	ActionBulkFix = "bulk_fix"
	ActionIgnore  = "ignore"
	ActionExcept  = "except"
	ActionReopen  = "reopen"
	ActionStatus  = "status"
	ActionUndo    = "undo"
	ActionRedo    = "redo"
)

// Action scopes.
const (
	ScopeCell   = "cell"
	ScopeColumn = "column"
	ScopeGlobal = "global"
	ScopeIssue  = "issue"
)

// ActionLogEntry is one append-only audit record.
type ActionLogEntry struct {
	ActionID   string         `json:"action_id"`
	Timestamp  time.Time      `json:"timestamp"`
	ActionType string         `json:"action_type"`
	Scope      string         `json:"scope"`
	Params     map[string]any `json:"params,omitempty"`
	Stats      map[string]int `json:"stats,omitempty"`
	PatchIDs   []string       `json:"patch_ids,omitempty"`
}

// Summary aggregates the current findings for display.
type Summary struct {
	Total      int              `json:"total"`
	Open       int              `json:"open"`
	BySeverity map[Severity]int `json:"by_severity"` // open findings only
	ByStatus   map[Status]int   `json:"by_status"`
}
