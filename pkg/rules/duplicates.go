package rules

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/table"
)

// duplicateRows runs once over the table. Rows with identical tuples share a
// key; by default the first occurrence is kept unflagged (keep_first) and
// fully blank rows are ignored (ignore_blank_rows).
type duplicateRows struct{ base }

func (r duplicateRows) Check(in Input) ([]*issue.Issue, error) {
	keepFirst := in.Params.Bool("keep_first", true)
	ignoreBlank := in.Params.Bool("ignore_blank_rows", true)

	groups := make(map[string][]int)
	var order []string
	for row := 0; row < in.Table.Len(); row++ {
		vals := table.RowValues(in.Table, row)
		if ignoreBlank && blank(vals) {
			continue
		}
		key := table.RowKey(vals)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	var out []*issue.Issue
	for _, key := range order {
		rows := groups[key]
		if len(rows) < 2 {
			continue
		}
		flagged := rows
		if keepFirst {
			flagged = rows[1:]
		}
		for _, row := range flagged {
			f := &issue.Issue{
				ID:       issue.NewID(r.id, issue.WholeRow, row, key),
				RuleID:   r.id,
				Severity: in.Severity,
				Status:   issue.StatusOpen,
				Row:      row,
				Column:   issue.WholeRow,
				Original: strings.Join(table.RowValues(in.Table, row), " | "),
				Message:  fmt.Sprintf("Duplicate of row %d", rows[0]+1),
				Extra: map[string]any{
					"duplicate_of": rows[0],
					"rows":         append([]int(nil), rows...),
				},
			}
			out = append(out, f)
		}
	}
	return out, nil
}

func blank(vals []string) bool {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

// uniqueColumn flags every occurrence of a repeated value in a column
// declared unique.
type uniqueColumn struct{ base }

func (r uniqueColumn) Check(in Input) ([]*issue.Issue, error) {
	if !in.Params.Bool("unique", false) {
		return nil, nil
	}
	cs := cells(in)
	counts := make(map[string]int, len(cs))
	for _, c := range cs {
		counts[c.value]++
	}

	var out []*issue.Issue
	for _, c := range cs {
		n := counts[c.value]
		if n < 2 {
			continue
		}
		f := r.finding(in, c.row, c.value, fmt.Sprintf("Value %s appears %d times in a unique column", quote(c.value), n))
		f.Extra = map[string]any{"count": n}
		out = append(out, f)
	}
	return out, nil
}
