package rules

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/jmylchreest/sheetqa/pkg/issue"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// compileFull compiles a pattern anchored at both ends.
func compileFull(pattern string) (*regexp.Regexp, error) {
	re, err := regexp.Compile(`^(?:` + pattern + `)$`)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return re, nil
}

type regexRule struct{ base }

func (r regexRule) Check(in Input) ([]*issue.Issue, error) {
	pattern := in.Params.String("regex", "")
	if pattern == "" {
		return nil, nil
	}
	re, err := compileFull(pattern)
	if err != nil {
		return nil, err
	}
	var out []*issue.Issue
	for _, c := range cells(in) {
		if re.MatchString(c.value) {
			continue
		}
		out = append(out, r.finding(in, c.row, c.value, fmt.Sprintf("Value %s does not match the expected format", quote(c.value))))
	}
	return out, nil
}

var (
	ctIntegerRe = regexp.MustCompile(`^[+-]?\d+$`)
	ctDecimalRe = regexp.MustCompile(`^[+-]?\d+([.,]\d+)?$`)
	ctEmailRe   = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
	ctURLRe     = regexp.MustCompile(`(?i)^(https?://\S+|www\.[^\s/]+\.\S+)$`)
)

// dateLayouts are the accepted full-date layouts. Parsing enforces calendar
// ranges, so 2024-02-30 is rejected.
var dateLayouts = []string{"2006-01-02", "02/01/2006", "02-01-2006", "01/2006"}

func isDate(s string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	if len(s) == 4 {
		if y, err := strconv.Atoi(s); err == nil {
			return y >= 1000 && y <= 2099
		}
	}
	return false
}

var contentTypes = map[string]func(string) bool{
	"integer": ctIntegerRe.MatchString,
	"decimal": ctDecimalRe.MatchString,
	"date":    isDate,
	"email":   ctEmailRe.MatchString,
	"url":     ctURLRe.MatchString,
}

type contentType struct{ base }

func (r contentType) Check(in Input) ([]*issue.Issue, error) {
	kind := strings.ToLower(in.Params.String("content_type", ""))
	if kind == "" {
		return nil, nil
	}
	match, ok := contentTypes[kind]
	if !ok {
		return nil, fmt.Errorf("unknown content_type %q", kind)
	}
	var out []*issue.Issue
	for _, c := range cells(in) {
		if match(strings.TrimSpace(c.value)) {
			continue
		}
		out = append(out, r.finding(in, c.row, c.value, fmt.Sprintf("Value %s is not a valid %s", quote(c.value), kind)))
	}
	return out, nil
}

type length struct{ base }

func (r length) Check(in Input) ([]*issue.Issue, error) {
	minLen := in.Params.Int("min_length", 0)
	maxLen := in.Params.Int("max_length", 0)
	if minLen <= 0 && maxLen <= 0 {
		return nil, nil
	}
	if maxLen > 0 && minLen > maxLen {
		return nil, fmt.Errorf("min_length %d exceeds max_length %d", minLen, maxLen)
	}
	var out []*issue.Issue
	for _, c := range cells(in) {
		n := utf8.RuneCountInString(c.value)
		switch {
		case minLen > 0 && n < minLen:
			out = append(out, r.finding(in, c.row, c.value, fmt.Sprintf("Value is too short (%d < %d characters)", n, minLen)))
		case maxLen > 0 && n > maxLen:
			out = append(out, r.finding(in, c.row, c.value, fmt.Sprintf("Value is too long (%d > %d characters)", n, maxLen)))
		}
	}
	return out, nil
}

type forbiddenChars struct{ base }

func (r forbiddenChars) Check(in Input) ([]*issue.Issue, error) {
	forbidden := in.Params.String("forbidden_chars", "")
	if forbidden == "" {
		return nil, nil
	}
	var out []*issue.Issue
	for _, c := range cells(in) {
		var found []string
		seen := make(map[rune]bool)
		for _, ch := range c.value {
			if strings.ContainsRune(forbidden, ch) && !seen[ch] {
				seen[ch] = true
				found = append(found, describeRune(ch))
			}
		}
		if len(found) == 0 {
			continue
		}
		out = append(out, r.finding(in, c.row, c.value, "Forbidden characters: "+strings.Join(found, ", ")))
	}
	return out, nil
}

type caseRule struct{ base }

func (r caseRule) Check(in Input) ([]*issue.Issue, error) {
	expected := strings.ToLower(in.Params.String("expected_case", ""))
	if expected == "" {
		return nil, nil
	}
	var caser cases.Caser
	switch expected {
	case "upper":
		caser = cases.Upper(language.Und)
	case "lower":
		caser = cases.Lower(language.Und)
	case "title":
		caser = cases.Title(language.Und)
	default:
		return nil, fmt.Errorf("unknown expected_case %q (want upper, lower or title)", expected)
	}

	var out []*issue.Issue
	for _, c := range cells(in) {
		if !strings.ContainsFunc(c.value, unicode.IsLetter) {
			continue
		}
		want := caser.String(c.value)
		if want == c.value {
			continue
		}
		f := r.finding(in, c.row, c.value, fmt.Sprintf("Value is not %s case", expected))
		f.Suggestion = suggest(want)
		out = append(out, f)
	}
	return out, nil
}

// allowedValues checks single-value columns. Columns in list mode
// (list_separator set) are checked item by item by list_items instead.
type allowedValues struct{ base }

func (r allowedValues) Check(in Input) ([]*issue.Issue, error) {
	allowed, ok := in.Params.Strings("allowed_values")
	if !ok || len(allowed) == 0 || in.Params.String("list_separator", "") != "" {
		return nil, nil
	}
	set := stringSet(allowed)
	var out []*issue.Issue
	for _, c := range cells(in) {
		v := strings.TrimSpace(c.value)
		if set[v] {
			continue
		}
		out = append(out, r.finding(in, c.row, c.value,
			fmt.Sprintf("Value %s is not allowed (expected one of %s)", quote(v), listPreview(allowed))))
	}
	return out, nil
}

func listPreview(items []string) string {
	if len(items) <= maxMessageValues {
		return strings.Join(items, ", ")
	}
	return strings.Join(items[:maxMessageValues], ", ") + fmt.Sprintf(", … (%d more)", len(items)-maxMessageValues)
}
