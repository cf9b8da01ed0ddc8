package issue

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an issue id is not in the store.
var ErrNotFound = errors.New("issue not found")

// Filter selects issues. Zero fields match everything.
type Filter struct {
	Severity Severity
	Status   Status
	Column   string
	RuleID   string
}

func (f Filter) match(i *Issue) bool {
	if f.Severity != "" && i.Severity != f.Severity {
		return false
	}
	if f.Status != "" && i.Status != f.Status {
		return false
	}
	if f.Column != "" && i.Column != f.Column {
		return false
	}
	if f.RuleID != "" && i.RuleID != f.RuleID {
		return false
	}
	return true
}

// Store is the indexed repository of the latest findings. It is not safe for
// concurrent use; one owner performs every call.
//
// Replacing findings keeps the status of any id that still reproduces, and
// remembers user dismissals by id so an issue that vanishes and later comes
// back is still dismissed.
type Store struct {
	columns    []string
	issues     []*Issue
	byID       map[string]*Issue
	byColumn   map[string][]*Issue
	byCell     map[Cell][]*Issue
	remembered map[string]Status
}

// NewStore creates an empty store that orders findings by the given column
// order.
func NewStore(columns []string) *Store {
	s := &Store{
		columns:    append([]string(nil), columns...),
		remembered: make(map[string]Status),
	}
	s.reindex()
	return s
}

// SetColumnOrder changes the ordering used by All and re-sorts.
func (s *Store) SetColumnOrder(columns []string) {
	s.columns = append([]string(nil), columns...)
	Sort(s.issues, s.columns)
}

// ReplaceAll swaps the full finding set.
func (s *Store) ReplaceAll(issues []*Issue) {
	s.replace(func(*Issue) bool { return true }, issues)
}

// ReplaceForColumns replaces only the findings of the given columns. Whole-row
// findings are never touched; incoming issues for other columns are ignored.
func (s *Store) ReplaceForColumns(columns []string, issues []*Issue) {
	set := make(map[string]bool, len(columns))
	for _, c := range columns {
		if c != WholeRow {
			set[c] = true
		}
	}
	in := func(i *Issue) bool { return set[i.Column] }

	var scoped []*Issue
	for _, i := range issues {
		if in(i) {
			scoped = append(scoped, i)
		}
	}
	s.replace(in, scoped)
}

func (s *Store) replace(shouldDrop func(*Issue) bool, incoming []*Issue) {
	prior := make(map[string]Status)
	kept := s.issues[:0:0]
	for _, i := range s.issues {
		if shouldDrop(i) {
			prior[i.ID] = i.Status
			continue
		}
		kept = append(kept, i)
	}

	seen := make(map[string]bool, len(kept)+len(incoming))
	for _, i := range kept {
		seen[i.ID] = true
	}
	for _, in := range incoming {
		if seen[in.ID] {
			continue
		}
		seen[in.ID] = true
		i := in.Clone()
		if st, ok := prior[i.ID]; ok && st != StatusOpen {
			i.Status = st
		} else if st, ok := s.remembered[i.ID]; ok {
			i.Status = st
		} else if i.Status == "" {
			i.Status = StatusOpen
		}
		kept = append(kept, i)
	}

	s.issues = kept
	Sort(s.issues, s.columns)
	s.reindex()
}

func (s *Store) reindex() {
	s.byID = make(map[string]*Issue, len(s.issues))
	s.byColumn = make(map[string][]*Issue)
	s.byCell = make(map[Cell][]*Issue)
	for _, i := range s.issues {
		s.byID[i.ID] = i
		s.byColumn[i.Column] = append(s.byColumn[i.Column], i)
		s.byCell[i.Cell()] = append(s.byCell[i.Cell()], i)
	}
}

// Get returns a copy of the issue with the given id.
func (s *Store) Get(id string) (*Issue, bool) {
	i, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	return i.Clone(), true
}

// SetStatus changes an issue's status. It is the only mutation available to
// commands.
func (s *Store) SetStatus(id string, status Status) error {
	i, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	i.Status = status
	if status.Dismissal() {
		s.remembered[id] = status
	} else {
		delete(s.remembered, id)
	}
	return nil
}

// ByColumn returns copies of the findings on one column.
func (s *Store) ByColumn(column string) []*Issue {
	return cloneAll(s.byColumn[column])
}

// ByCell returns copies of the findings on one cell.
func (s *Store) ByCell(row int, column string) []*Issue {
	return cloneAll(s.byCell[Cell{Row: row, Column: column}])
}

// All returns copies of every finding in display order.
func (s *Store) All() []*Issue {
	return cloneAll(s.issues)
}

// Find returns copies of the findings matching f.
func (s *Store) Find(f Filter) []*Issue {
	var out []*Issue
	for _, i := range s.issues {
		if f.match(i) {
			out = append(out, i.Clone())
		}
	}
	return out
}

// Open returns copies of the findings still awaiting a decision, in display
// order.
func (s *Store) Open() []*Issue {
	return s.Find(Filter{Status: StatusOpen})
}

// Len returns the number of findings held.
func (s *Store) Len() int { return len(s.issues) }

// Summary counts findings. Severity counts cover open findings only.
func (s *Store) Summary() Summary {
	sum := Summary{
		BySeverity: make(map[Severity]int),
		ByStatus:   make(map[Status]int),
	}
	for _, i := range s.issues {
		sum.Total++
		sum.ByStatus[i.Status]++
		if i.Status == StatusOpen {
			sum.Open++
			sum.BySeverity[i.Severity]++
		}
	}
	return sum
}

// WorstForCell returns the most severe open finding severity on a cell.
func (s *Store) WorstForCell(row int, column string) (Severity, bool) {
	var worst Severity
	found := false
	for _, i := range s.byCell[Cell{Row: row, Column: column}] {
		if i.Status != StatusOpen {
			continue
		}
		if !found || i.Severity.Rank() < worst.Rank() {
			worst = i.Severity
			found = true
		}
	}
	return worst, found
}

// Remembered returns the dismissals recorded by SetStatus, keyed by id.
func (s *Store) Remembered() map[string]Status {
	out := make(map[string]Status, len(s.remembered))
	for k, v := range s.remembered {
		out[k] = v
	}
	return out
}

// Remember seeds dismissals, typically loaded from persistence. Issues
// already present pick the status up immediately.
func (s *Store) Remember(statuses map[string]Status) {
	for id, st := range statuses {
		if !st.Dismissal() {
			continue
		}
		s.remembered[id] = st
		if i, ok := s.byID[id]; ok {
			i.Status = st
		}
	}
}

// Forget drops a remembered dismissal. The issue itself, if present, keeps
// its current status.
func (s *Store) Forget(id string) {
	delete(s.remembered, id)
}

func cloneAll(in []*Issue) []*Issue {
	if len(in) == 0 {
		return nil
	}
	out := make([]*Issue, len(in))
	for n, i := range in {
		out[n] = i.Clone()
	}
	return out
}
