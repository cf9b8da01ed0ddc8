package rules

import (
	"fmt"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

// listItems treats each cell as a separator-delimited list and checks the
// items: no empty items, item count bounds, uniqueness and membership in
// allowed_values. A cell with an empty item gets only that finding.
type listItems struct{ base }

func (r listItems) Check(in Input) ([]*issue.Issue, error) {
	sep := in.Params.String("list_separator", "")
	if sep == "" {
		return nil, nil
	}
	trim := in.Params.Bool("list_trim", true)
	noEmpty := in.Params.Bool("list_no_empty", true)
	unique := in.Params.Bool("list_unique", false)
	minItems := in.Params.Int("list_min_items", 0)
	maxItems := in.Params.Int("list_max_items", 0)
	allowedList, _ := in.Params.Strings("allowed_values")
	allowed := stringSet(allowedList)

	var out []*issue.Issue
	for _, c := range cells(in) {
		items := splitList(c.value, sep, trim)

		if noEmpty {
			var kept []string
			for _, it := range items {
				if it != "" {
					kept = append(kept, it)
				}
			}
			if len(kept) != len(items) {
				f := r.finding(in, c.row, c.value, "List contains an empty item", "empty")
				f.Suggestion = suggest(strings.Join(kept, sep))
				out = append(out, f)
				continue
			}
		}

		if minItems > 0 && len(items) < minItems {
			out = append(out, r.finding(in, c.row, c.value,
				fmt.Sprintf("List has %d items, at least %d expected", len(items), minItems), "min_items"))
		}
		if maxItems > 0 && len(items) > maxItems {
			out = append(out, r.finding(in, c.row, c.value,
				fmt.Sprintf("List has %d items, at most %d expected", len(items), maxItems), "max_items"))
		}

		if unique {
			seen := make(map[string]bool, len(items))
			reported := make(map[string]bool)
			var deduped []string
			for _, it := range items {
				if !seen[it] {
					seen[it] = true
					deduped = append(deduped, it)
					continue
				}
				if reported[it] {
					continue
				}
				reported[it] = true
				f := r.finding(in, c.row, c.value, fmt.Sprintf("List item %s is repeated", quote(it)), "dup:"+it)
				f.Extra = map[string]any{"item": it}
				out = append(out, f)
			}
			if len(reported) > 0 {
				dedupSuggestion := strings.Join(deduped, sep)
				for _, f := range out[len(out)-len(reported):] {
					f.Suggestion = suggest(dedupSuggestion)
				}
			}
		}

		if len(allowed) > 0 {
			reported := make(map[string]bool)
			for _, it := range items {
				if it == "" || allowed[it] || reported[it] {
					continue
				}
				reported[it] = true
				f := r.finding(in, c.row, c.value,
					fmt.Sprintf("List item %s is not allowed (expected one of %s)", quote(it), listPreview(allowedList)), "item:"+it)
				f.Extra = map[string]any{"item": it}
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func splitList(v, sep string, trim bool) []string {
	items := strings.Split(v, sep)
	if trim {
		for i := range items {
			items[i] = strings.TrimSpace(items[i])
		}
	}
	return items
}
