package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/issue"
	"golang.org/x/text/unicode/runenames"
)

var (
	multipleSpacesRe = regexp.MustCompile(`  +`)
	invisibleRe      = regexp.MustCompile("[\u200b\u200c\u200d\u200e\u200f\u2028\u2029\u202a-\u202e\ufeff\u00ad]")
	newlineReplacer  = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")
)

// unicodeSuspects maps typographic look-alikes to their ASCII equivalent.
var unicodeSuspects = map[rune]string{
	'\u2018': "'",
	'\u2019': "'",
	'\u201c': `"`,
	'\u201d': `"`,
	'\u2013': "-",
	'\u2014': "-",
	'\u00a0': " ",
}

type leadingTrailingSpace struct{ base }

func (r leadingTrailingSpace) Check(in Input) ([]*issue.Issue, error) {
	var out []*issue.Issue
	for _, c := range rawCells(in) {
		trimmed := strings.TrimSpace(c.value)
		if trimmed == c.value {
			continue
		}
		f := r.finding(in, c.row, c.value, "Leading or trailing whitespace")
		f.Suggestion = suggest(trimmed)
		out = append(out, f)
	}
	return out, nil
}

type multipleSpaces struct{ base }

func (r multipleSpaces) Check(in Input) ([]*issue.Issue, error) {
	var out []*issue.Issue
	for _, c := range rawCells(in) {
		if !multipleSpacesRe.MatchString(c.value) {
			continue
		}
		f := r.finding(in, c.row, c.value, "Repeated spaces")
		f.Suggestion = suggest(strings.TrimSpace(multipleSpacesRe.ReplaceAllString(c.value, " ")))
		out = append(out, f)
	}
	return out, nil
}

type unicodeChars struct{ base }

func (r unicodeChars) Check(in Input) ([]*issue.Issue, error) {
	var out []*issue.Issue
	for _, c := range rawCells(in) {
		var found []string
		seen := make(map[rune]bool)
		var b strings.Builder
		for _, ch := range c.value {
			repl, ok := unicodeSuspects[ch]
			if !ok {
				b.WriteRune(ch)
				continue
			}
			b.WriteString(repl)
			if !seen[ch] {
				seen[ch] = true
				found = append(found, describeRune(ch))
			}
		}
		if len(found) == 0 {
			continue
		}
		f := r.finding(in, c.row, c.value, "Suspect characters: "+strings.Join(found, ", "))
		f.Suggestion = suggest(b.String())
		out = append(out, f)
	}
	return out, nil
}

type invisibleChars struct{ base }

func (r invisibleChars) Check(in Input) ([]*issue.Issue, error) {
	var out []*issue.Issue
	for _, c := range rawCells(in) {
		matches := invisibleRe.FindAllString(c.value, -1)
		if len(matches) == 0 {
			continue
		}
		var found []string
		seen := make(map[string]bool)
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				found = append(found, describeRune([]rune(m)[0]))
			}
		}
		f := r.finding(in, c.row, c.value, "Invisible characters: "+strings.Join(found, ", "))
		f.Suggestion = suggest(invisibleRe.ReplaceAllString(c.value, ""))
		out = append(out, f)
	}
	return out, nil
}

type unexpectedMultiline struct{ base }

func (r unexpectedMultiline) Check(in Input) ([]*issue.Issue, error) {
	if in.Params.Bool("multiline_ok", false) {
		return nil, nil
	}
	var out []*issue.Issue
	for _, c := range rawCells(in) {
		if !strings.ContainsAny(c.value, "\r\n") {
			continue
		}
		f := r.finding(in, c.row, c.value, "Unexpected line break")
		f.Suggestion = suggest(newlineReplacer.Replace(c.value))
		out = append(out, f)
	}
	return out, nil
}

func describeRune(r rune) string {
	name := runenames.Name(r)
	if name == "" {
		return fmt.Sprintf("U+%04X", r)
	}
	return fmt.Sprintf("U+%04X (%s)", r, name)
}
