package rules

import (
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/table"
)

type pseudoMissing struct{ base }

func (r pseudoMissing) Check(in Input) ([]*issue.Issue, error) {
	tokens, ok := in.Params.Strings("tokens")
	if !ok {
		tokens = DefaultPseudoMissingTokens
	}

	var out []*issue.Issue
	for _, c := range cells(in) {
		trimmed := strings.TrimSpace(c.value)
		for _, tok := range tokens {
			if strings.EqualFold(trimmed, tok) {
				out = append(out, r.finding(in, c.row, c.value, "Placeholder for a missing value: "+quote(trimmed)))
				break
			}
		}
	}
	return out, nil
}

type required struct{ base }

func (r required) Check(in Input) ([]*issue.Issue, error) {
	if !in.Params.Bool("required", false) {
		return nil, nil
	}
	tokens, ok := in.Params.Strings("empty_tokens")
	if !ok {
		tokens = DefaultEmptyTokens
	}
	empty := stringSet(tokens)

	vals, ok := table.ColumnValues(in.Table, in.Column)
	if !ok {
		return nil, nil
	}
	var out []*issue.Issue
	for row, v := range vals {
		trimmed := strings.TrimSpace(v)
		if trimmed != "" && !empty[trimmed] {
			continue
		}
		out = append(out, r.finding(in, row, v, "Required value is missing"))
	}
	return out, nil
}

func quote(s string) string {
	return `"` + truncate(s, 40) + `"`
}
