package rules

import (
	"fmt"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

// rareValues flags values seen fewer than min_frequency times, but only in
// columns that look categorical: few distinct values overall and a low
// distinct/total ratio.
type rareValues struct{ base }

func (r rareValues) Check(in Input) ([]*issue.Issue, error) {
	minFreq := in.Params.Int("min_frequency", DefaultRareMinFrequency)
	maxDistinct := in.Params.Int("max_distinct", DefaultRareMaxDistinct)
	maxRatio := in.Params.Float("max_ratio", DefaultRareMaxRatio)

	cs := cells(in)
	if len(cs) == 0 {
		return nil, nil
	}
	counts := make(map[string]int)
	for _, c := range cs {
		counts[c.value]++
	}
	distinct := len(counts)
	if distinct > maxDistinct || float64(distinct)/float64(len(cs)) > maxRatio {
		return nil, nil
	}

	var out []*issue.Issue
	for _, c := range cs {
		n := counts[c.value]
		if n >= minFreq {
			continue
		}
		f := r.finding(in, c.row, c.value,
			fmt.Sprintf("Rare value %s (%d of %d values)", quote(c.value), n, len(cs)))
		f.Extra = map[string]any{"count": n, "distinct": distinct}
		out = append(out, f)
	}
	return out, nil
}
