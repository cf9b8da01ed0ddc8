package history

import (
	"errors"
	"fmt"

	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/table"
	"github.com/oklog/ulid/v2"
)

// Fix is one cell replacement. IssueID optionally links the finding the fix
// resolves; it is marked FIXED while the fix is applied.
type Fix struct {
	Row     int
	Column  string
	Old     string
	New     string
	IssueID string
}

func (f Fix) String() string {
	return fmt.Sprintf("%s[%d]: %q -> %q", f.Column, f.Row+1, f.Old, f.New)
}

func newActionID() string { return ulid.Make().String() }

type linkedStatus struct {
	id     string
	status issue.Status
}

// cellEdit is the shared state of the cell-editing commands: the fixes, the
// patches recorded on first execution and the statuses of the linked issues
// before they were marked FIXED.
type cellEdit struct {
	fixes    []Fix
	actionID string
	patches  []issue.Patch
	priors   []linkedStatus
}

// writeCells moves every cell from its from() value to its to() value, or
// leaves the table untouched on error.
func writeCells(tbl table.Mutable, fixes []Fix, from, to func(Fix) string) error {
	seen := make(map[issue.Cell]bool, len(fixes))
	for _, f := range fixes {
		c := issue.Cell{Row: f.Row, Column: f.Column}
		if seen[c] {
			return fmt.Errorf("cell %s[%d] edited twice in one command", f.Column, f.Row+1)
		}
		seen[c] = true

		cur, ok := tbl.Cell(f.Row, f.Column)
		if !ok {
			if !table.HasColumn(tbl, f.Column) {
				return fmt.Errorf("%w: %s", table.ErrUnknownColumn, f.Column)
			}
			return fmt.Errorf("%w: %d", table.ErrRowOutOfRange, f.Row)
		}
		if cur != from(f) {
			return fmt.Errorf("%w: %s[%d] holds %q, expected %q", ErrStaleEdit, f.Column, f.Row+1, cur, from(f))
		}
	}
	for i, f := range fixes {
		if err := tbl.SetCell(f.Row, f.Column, to(f)); err != nil {
			for j := i - 1; j >= 0; j-- {
				if rerr := tbl.SetCell(fixes[j].Row, fixes[j].Column, from(fixes[j])); rerr != nil {
					historyLog.Printf("rollback %s: %v", fixes[j], rerr)
				}
			}
			return fmt.Errorf("set %s: %w", f, err)
		}
	}
	return nil
}

func oldValue(f Fix) string { return f.Old }
func newValue(f Fix) string { return f.New }

// apply writes the new values, marks linked issues FIXED and records the
// patches. On first execution the action id and patches are created; on redo
// the archived patches are restored.
func (e *cellEdit) apply(t *Target, redo bool) error {
	if err := writeCells(t.Table, e.fixes, oldValue, newValue); err != nil {
		return err
	}

	if !redo {
		e.actionID = newActionID()
		ts := t.now()
		e.patches = make([]issue.Patch, len(e.fixes))
		for i, f := range e.fixes {
			e.patches[i] = issue.Patch{
				PatchID:   fmt.Sprintf("%s_p%d", e.actionID, i),
				ActionID:  e.actionID,
				Row:       f.Row,
				Column:    f.Column,
				OldValue:  f.Old,
				NewValue:  f.New,
				IssueID:   f.IssueID,
				Timestamp: ts,
			}
		}
	}

	e.priors = e.priors[:0]
	linked := make(map[string]bool)
	for _, f := range e.fixes {
		if f.IssueID == "" || linked[f.IssueID] {
			continue
		}
		linked[f.IssueID] = true
		cur, ok := t.Issues.Get(f.IssueID)
		if !ok {
			historyLog.Printf("issue %s no longer exists, applying fix to %s[%d] unlinked", f.IssueID, f.Column, f.Row+1)
			continue
		}
		e.priors = append(e.priors, linkedStatus{id: f.IssueID, status: cur.Status})
		if err := t.Issues.SetStatus(f.IssueID, issue.StatusFixed); err != nil {
			historyLog.Printf("mark %s fixed: %v", f.IssueID, err)
		}
	}

	for _, p := range e.patches {
		if redo {
			t.restorePatch(p.PatchID)
		} else {
			t.writePatch(p)
		}
	}
	return nil
}

// revert restores the old values, the linked issues' prior statuses and
// archives the patches.
func (e *cellEdit) revert(t *Target) error {
	reversed := make([]Fix, len(e.fixes))
	for i, f := range e.fixes {
		reversed[len(e.fixes)-1-i] = f
	}
	if err := writeCells(t.Table, reversed, newValue, oldValue); err != nil {
		return err
	}
	for i := len(e.priors) - 1; i >= 0; i-- {
		restoreStatus(t.Issues, e.priors[i].id, e.priors[i].status)
	}
	for i := len(e.patches) - 1; i >= 0; i-- {
		t.archivePatch(e.patches[i].PatchID)
	}
	return nil
}

func (e *cellEdit) patchIDs() []string {
	ids := make([]string, len(e.patches))
	for i, p := range e.patches {
		ids[i] = p.PatchID
	}
	return ids
}

func (e *cellEdit) columns() []string {
	seen := make(map[string]bool)
	var cols []string
	for _, f := range e.fixes {
		if !seen[f.Column] {
			seen[f.Column] = true
			cols = append(cols, f.Column)
		}
	}
	return cols
}

func (e *cellEdit) logReversal(t *Target, actionType, scope string) {
	t.logAction(issue.ActionLogEntry{
		ActionID:   newActionID(),
		Timestamp:  t.now(),
		ActionType: actionType,
		Scope:      scope,
		Params:     map[string]any{"original_action_id": e.actionID},
		Stats:      map[string]int{"cells_changed": len(e.fixes)},
		PatchIDs:   e.patchIDs(),
	})
}

// restoreStatus puts an issue back to a previous status. When revalidation
// has since removed the issue, only the remembered dismissal is adjusted so
// the status still applies if the issue comes back.
func restoreStatus(s *issue.Store, id string, status issue.Status) {
	err := s.SetStatus(id, status)
	if err == nil {
		return
	}
	if !errors.Is(err, issue.ErrNotFound) {
		historyLog.Printf("restore status of %s: %v", id, err)
		return
	}
	if status.Dismissal() {
		s.Remember(map[string]issue.Status{id: status})
	} else {
		s.Forget(id)
	}
}

// =============================================================================
// ApplyCellFix
// =============================================================================

// ApplyCellFix replaces one cell value.
type ApplyCellFix struct {
	edit cellEdit
}

// NewApplyCellFix prepares a single-cell fix.
func NewApplyCellFix(f Fix) *ApplyCellFix {
	return &ApplyCellFix{edit: cellEdit{fixes: []Fix{f}}}
}

// Fix returns the cell replacement.
func (c *ApplyCellFix) Fix() Fix { return c.edit.fixes[0] }

// ActionID is the audit id of the fix, set by Execute.
func (c *ApplyCellFix) ActionID() string { return c.edit.actionID }

// Patch returns the patch recorded by Execute.
func (c *ApplyCellFix) Patch() (issue.Patch, bool) {
	if len(c.edit.patches) == 0 {
		return issue.Patch{}, false
	}
	return c.edit.patches[0], true
}

func (c *ApplyCellFix) Execute(t *Target) error {
	if err := c.edit.apply(t, false); err != nil {
		return err
	}
	f := c.Fix()
	t.logAction(issue.ActionLogEntry{
		ActionID:   c.edit.actionID,
		Timestamp:  t.now(),
		ActionType: issue.ActionFix,
		Scope:      issue.ScopeCell,
		Params: map[string]any{
			"row":       f.Row,
			"column":    f.Column,
			"old_value": f.Old,
			"new_value": f.New,
			"issue_id":  f.IssueID,
		},
		Stats:    map[string]int{"cells_changed": 1},
		PatchIDs: c.edit.patchIDs(),
	})
	return nil
}

func (c *ApplyCellFix) Undo(t *Target) error {
	if err := c.edit.revert(t); err != nil {
		return err
	}
	c.edit.logReversal(t, issue.ActionUndo, issue.ScopeCell)
	return nil
}

func (c *ApplyCellFix) Redo(t *Target) error {
	if err := c.edit.apply(t, true); err != nil {
		return err
	}
	c.edit.logReversal(t, issue.ActionRedo, issue.ScopeCell)
	return nil
}

func (c *ApplyCellFix) Description() string {
	return "Fix " + c.Fix().String()
}

func (c *ApplyCellFix) Columns() []string { return c.edit.columns() }

// =============================================================================
// BulkCellFix
// =============================================================================

// BulkCellFix replaces several cells as one undo unit. Either every cell
// changes or none does.
type BulkCellFix struct {
	label string
	edit  cellEdit
}

// NewBulkCellFix prepares a bulk fix. An empty label defaults to "Bulk fix".
func NewBulkCellFix(label string, fixes []Fix) *BulkCellFix {
	if label == "" {
		label = "Bulk fix"
	}
	return &BulkCellFix{label: label, edit: cellEdit{fixes: append([]Fix(nil), fixes...)}}
}

// Fixes returns the cell replacements.
func (c *BulkCellFix) Fixes() []Fix { return append([]Fix(nil), c.edit.fixes...) }

// ActionID is the audit id of the bulk fix, set by Execute.
func (c *BulkCellFix) ActionID() string { return c.edit.actionID }

func (c *BulkCellFix) scope() string {
	if len(c.edit.columns()) == 1 {
		return issue.ScopeColumn
	}
	return issue.ScopeGlobal
}

func (c *BulkCellFix) Execute(t *Target) error {
	if len(c.edit.fixes) == 0 {
		return errors.New("bulk fix has no cells")
	}
	if err := c.edit.apply(t, false); err != nil {
		return err
	}
	t.logAction(issue.ActionLogEntry{
		ActionID:   c.edit.actionID,
		Timestamp:  t.now(),
		ActionType: issue.ActionBulkFix,
		Scope:      c.scope(),
		Params: map[string]any{
			"label":   c.label,
			"columns": c.edit.columns(),
		},
		Stats: map[string]int{
			"cells_changed": len(c.edit.fixes),
			"issues_fixed":  len(c.edit.priors),
		},
		PatchIDs: c.edit.patchIDs(),
	})
	return nil
}

func (c *BulkCellFix) Undo(t *Target) error {
	if err := c.edit.revert(t); err != nil {
		return err
	}
	c.edit.logReversal(t, issue.ActionUndo, c.scope())
	return nil
}

func (c *BulkCellFix) Redo(t *Target) error {
	if err := c.edit.apply(t, true); err != nil {
		return err
	}
	c.edit.logReversal(t, issue.ActionRedo, c.scope())
	return nil
}

func (c *BulkCellFix) Description() string {
	return fmt.Sprintf("%s (%d cells)", c.label, len(c.edit.fixes))
}

func (c *BulkCellFix) Columns() []string { return c.edit.columns() }

// =============================================================================
// SetIssueStatus
// =============================================================================

// SetIssueStatus changes the status of one issue without touching cells.
type SetIssueStatus struct {
	IssueID string
	Status  issue.Status

	prior    issue.Status
	actionID string
}

// NewSetIssueStatus prepares a status change.
func NewSetIssueStatus(id string, status issue.Status) *SetIssueStatus {
	return &SetIssueStatus{IssueID: id, Status: status}
}

// Prior is the status the issue had before Execute.
func (c *SetIssueStatus) Prior() issue.Status { return c.prior }

func statusAction(s issue.Status) string {
	switch s {
	case issue.StatusIgnored:
		return issue.ActionIgnore
	case issue.StatusExcepted:
		return issue.ActionExcept
	case issue.StatusOpen:
		return issue.ActionReopen
	}
	return issue.ActionStatus
}

func (c *SetIssueStatus) Execute(t *Target) error {
	cur, ok := t.Issues.Get(c.IssueID)
	if !ok {
		return fmt.Errorf("%w: %s", issue.ErrNotFound, c.IssueID)
	}
	c.prior = cur.Status
	if err := t.Issues.SetStatus(c.IssueID, c.Status); err != nil {
		return err
	}
	c.actionID = newActionID()
	t.logAction(issue.ActionLogEntry{
		ActionID:   c.actionID,
		Timestamp:  t.now(),
		ActionType: statusAction(c.Status),
		Scope:      issue.ScopeIssue,
		Params: map[string]any{
			"issue_id": c.IssueID,
			"from":     string(c.prior),
			"to":       string(c.Status),
		},
	})
	return nil
}

func (c *SetIssueStatus) Undo(t *Target) error {
	restoreStatus(t.Issues, c.IssueID, c.prior)
	c.logReversal(t, issue.ActionUndo)
	return nil
}

func (c *SetIssueStatus) Redo(t *Target) error {
	restoreStatus(t.Issues, c.IssueID, c.Status)
	c.logReversal(t, issue.ActionRedo)
	return nil
}

func (c *SetIssueStatus) logReversal(t *Target, actionType string) {
	t.logAction(issue.ActionLogEntry{
		ActionID:   newActionID(),
		Timestamp:  t.now(),
		ActionType: actionType,
		Scope:      issue.ScopeIssue,
		Params: map[string]any{
			"original_action_id": c.actionID,
			"issue_id":           c.IssueID,
		},
	})
}

func (c *SetIssueStatus) Description() string {
	return fmt.Sprintf("Set issue %s to %s", c.IssueID, c.Status)
}

func (c *SetIssueStatus) Columns() []string { return nil }
