package issue

import "sort"

// Sort orders issues by severity rank, column position, row, rule id and
// finally id. Whole-row findings sort after every real column; columns not
// in the given order sort after known ones by name.
func Sort(issues []*Issue, columns []string) {
	pos := make(map[string]int, len(columns))
	for i, c := range columns {
		pos[c] = i
	}
	colRank := func(c string) (int, string) {
		if c == WholeRow {
			return len(columns) + 1, ""
		}
		if p, ok := pos[c]; ok {
			return p, ""
		}
		return len(columns), c
	}

	sort.SliceStable(issues, func(a, b int) bool {
		x, y := issues[a], issues[b]
		if rx, ry := x.Severity.Rank(), y.Severity.Rank(); rx != ry {
			return rx < ry
		}
		cx, nx := colRank(x.Column)
		cy, ny := colRank(y.Column)
		if cx != cy {
			return cx < cy
		}
		if nx != ny {
			return nx < ny
		}
		if x.Row != y.Row {
			return x.Row < y.Row
		}
		if x.RuleID != y.RuleID {
			return x.RuleID < y.RuleID
		}
		return x.ID < y.ID
	})
}
