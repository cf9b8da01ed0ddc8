package rules

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/adrg/strutil/metrics"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

// similarValues clusters near-identical spellings of the same value. It is
// dormant unless detect_similar_values is set, since pairwise comparison is
// quadratic in the number of distinct values.
//
// Values are compared case-insensitively with the Indel similarity ratio
// (0-100). Values scoring at least similar_threshold are joined into one
// cluster; the most frequent member is taken as canonical and every
// occurrence of every other member is flagged with it as the suggestion.
type similarValues struct{ base }

func (r similarValues) Check(in Input) ([]*issue.Issue, error) {
	if !in.Params.Bool("detect_similar_values", false) {
		return nil, nil
	}
	threshold := in.Params.Float("similar_threshold", DefaultSimilarThreshold)
	minDistinct := in.Params.Int("similar_min_distinct", DefaultSimilarMinDistinct)
	maxDistinct := in.Params.Int("similar_max_distinct", DefaultSimilarMaxDistinct)
	if threshold <= 0 || threshold > 100 {
		return nil, fmt.Errorf("similar_threshold must be in (0, 100], got %v", threshold)
	}

	cs := cells(in)
	counts := make(map[string]int)
	for _, c := range cs {
		counts[c.value]++
	}
	if len(counts) < minDistinct || len(counts) > maxDistinct {
		return nil, nil
	}

	values := make([]string, 0, len(counts))
	for v := range counts {
		values = append(values, v)
	}
	sort.Strings(values)

	folded := make([]string, len(values))
	for i, v := range values {
		folded[i] = fold(v)
	}

	uf := newUnionFind(len(values))
	for i := range values {
		for j := i + 1; j < len(values); j++ {
			if maxRatio(utf8.RuneCountInString(folded[i]), utf8.RuneCountInString(folded[j])) < threshold {
				continue
			}
			if indelRatio(folded[i], folded[j]) >= threshold {
				uf.union(i, j)
			}
		}
	}

	canonical := make(map[string]string)
	clusters := make(map[string][]string)
	for _, members := range uf.groups() {
		if len(members) < 2 {
			continue
		}
		best := members[0]
		for _, m := range members[1:] {
			if counts[values[m]] > counts[values[best]] {
				best = m
			}
		}
		names := make([]string, len(members))
		for n, m := range members {
			names[n] = values[m]
		}
		for _, m := range members {
			if m != best {
				canonical[values[m]] = values[best]
				clusters[values[m]] = names
			}
		}
	}

	var out []*issue.Issue
	for _, c := range cs {
		target, ok := canonical[c.value]
		if !ok {
			continue
		}
		score := indelRatio(fold(c.value), fold(target))
		f := r.finding(in, c.row, c.value, fmt.Sprintf("Value %s looks like a variant of %s", quote(c.value), quote(target)))
		f.Suggestion = suggest(target)
		f.Extra = map[string]any{
			"cluster":   clusters[c.value],
			"canonical": target,
			"score":     score,
		}
		out = append(out, f)
	}
	return out, nil
}

func fold(v string) string { return strings.ToLower(strings.TrimSpace(v)) }

// indel is Levenshtein with substitution priced as a delete plus an insert,
// so the distance is len(a)+len(b)-2*LCS(a, b).
var indel = &metrics.Levenshtein{
	CaseSensitive: true,
	InsertCost:    1,
	DeleteCost:    1,
	ReplaceCost:   2,
}

// indelRatio is the normalised Indel similarity on a 0-100 scale:
// 100 * 2*LCS(a, b) / (len(a) + len(b)), lengths in runes.
func indelRatio(a, b string) float64 {
	total := utf8.RuneCountInString(a) + utf8.RuneCountInString(b)
	if total == 0 {
		return 100
	}
	return 100 * float64(total-indel.Distance(a, b)) / float64(total)
}

// maxRatio is the best indelRatio two strings of these lengths can reach.
func maxRatio(la, lb int) float64 {
	if la+lb == 0 {
		return 100
	}
	return 100 * float64(2*min(la, lb)) / float64(la+lb)
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}

// groups returns the members of each set, in ascending index order.
func (u *unionFind) groups() [][]int {
	byRoot := make(map[int][]int)
	var roots []int
	for i := range u.parent {
		r := u.find(i)
		if _, ok := byRoot[r]; !ok {
			roots = append(roots, r)
		}
		byRoot[r] = append(byRoot[r], i)
	}
	sort.Ints(roots)
	out := make([][]int, len(roots))
	for n, r := range roots {
		out[n] = byRoot[r]
	}
	return out
}
