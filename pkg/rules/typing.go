package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

type inferredType struct {
	name  string
	match func(string) bool
}

var (
	integerRe = regexp.MustCompile(`^-?\d+$`)
	numberRe  = regexp.MustCompile(`^-?\d+([.,]\d+)?$`)
	dateRe    = regexp.MustCompile(`^(\d{4}[-/]\d{2}[-/]\d{2}|\d{2}[-/]\d{2}[-/]\d{4})$`)
)

// inferredTypes are tried in order; the first to reach the threshold is the
// dominant type. integer precedes number so all-integer columns stay strict.
var inferredTypes = []inferredType{
	{"integer", integerRe.MatchString},
	{"number", numberRe.MatchString},
	{"date", dateRe.MatchString},
}

// softTyping infers a dominant type and flags the values that do not match
// it. The one configured threshold decides both whether a type is dominant
// and, by implication, which values are outliers.
type softTyping struct{ base }

func (r softTyping) Check(in Input) ([]*issue.Issue, error) {
	minCount := in.Params.Int("min_count", DefaultSoftTypingMinCount)
	threshold := in.Params.Float("threshold", DefaultSoftTypingThreshold)
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be in (0, 1], got %v", threshold)
	}

	cs := cells(in)
	if len(cs) == 0 || len(cs) < minCount {
		return nil, nil
	}

	for _, t := range inferredTypes {
		matches := 0
		for _, c := range cs {
			if t.match(strings.TrimSpace(c.value)) {
				matches++
			}
		}
		share := float64(matches) / float64(len(cs))
		if share < threshold {
			continue
		}

		var out []*issue.Issue
		for _, c := range cs {
			if t.match(strings.TrimSpace(c.value)) {
				continue
			}
			f := r.finding(in, c.row, c.value,
				fmt.Sprintf("Value %s is not %s like %.0f%% of the column", quote(c.value), article(t.name), share*100))
			f.Extra = map[string]any{"dominant_type": t.name, "share": share}
			out = append(out, f)
		}
		return out, nil
	}
	return nil, nil
}

func article(typ string) string {
	if typ == "integer" {
		return "an integer"
	}
	return "a " + typ
}
