package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

// Vocabulary names understood by the vocabulary collaborator.
const (
	VocabDepositTypes = "deposit_types"
	VocabLicenses     = "licenses"
	VocabLanguages    = "languages"
)

// Nakala metadata fields a column can be mapped to with nakala_field.
const (
	FieldCreated  = "nakala:created"
	FieldType     = "nakala:type"
	FieldLicense  = "nakala:license"
	FieldLanguage = "nakala:language"
)

var w3cdtfRe = regexp.MustCompile(`^\d{4}(-\d{2}(-\d{2})?)?$`)

// vocabularyRule checks membership in a controlled vocabulary. It fails open:
// with no provider, a provider error or an empty vocabulary it reports
// nothing.
type vocabularyRule struct {
	base
	provider VocabularyProvider
	// field gates the rule on the column's nakala_field. Empty means the
	// vocabulary name is read from the "vocabulary" parameter instead.
	field string
	vocab string
}

func (r vocabularyRule) Check(in Input) ([]*issue.Issue, error) {
	name := r.vocab
	if r.field != "" {
		if in.Params.String("nakala_field", "") != r.field {
			return nil, nil
		}
	} else {
		name = in.Params.String("vocabulary", "")
		if name == "" {
			return nil, nil
		}
	}
	if r.provider == nil {
		return nil, nil
	}

	values, err := r.provider.AllowedValues(name)
	if err != nil {
		rulesLog.Printf("%s: vocabulary %q unavailable, skipping column %q: %v", r.id, name, in.Column, err)
		return nil, nil
	}
	if len(values) == 0 {
		return nil, nil
	}
	allowed := stringSet(values)

	sep := in.Params.String("list_separator", "")
	var out []*issue.Issue
	for _, c := range cells(in) {
		items := []string{strings.TrimSpace(c.value)}
		if sep != "" {
			items = splitList(c.value, sep, true)
		}
		reported := make(map[string]bool)
		for _, it := range items {
			if it == "" || allowed[it] || reported[it] {
				continue
			}
			reported[it] = true
			f := r.finding(in, c.row, c.value, fmt.Sprintf("Value %s is not in the %s vocabulary", quote(it), name), discriminator(sep, it))
			f.Extra = map[string]any{"vocabulary": name, "item": it}
			out = append(out, f)
		}
	}
	return out, nil
}

func discriminator(sep, item string) string {
	if sep == "" {
		return ""
	}
	return "item:" + item
}

// createdFormat checks W3C-DTF dates (YYYY, YYYY-MM or YYYY-MM-DD) on the
// column mapped to nakala:created.
type createdFormat struct{ base }

func (r createdFormat) Check(in Input) ([]*issue.Issue, error) {
	if in.Params.String("nakala_field", "") != FieldCreated {
		return nil, nil
	}
	re := w3cdtfRe
	if p := in.Params.String("created_regex", ""); p != "" {
		custom, err := compileFull(p)
		if err != nil {
			return nil, err
		}
		re = custom
	}
	var out []*issue.Issue
	for _, c := range cells(in) {
		v := strings.TrimSpace(c.value)
		if re.MatchString(v) {
			continue
		}
		out = append(out, r.finding(in, c.row, c.value, fmt.Sprintf("Date %s is not in YYYY, YYYY-MM or YYYY-MM-DD form", quote(v))))
	}
	return out, nil
}
