package rules

import (
	"fmt"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

// Registry is an explicit, ordered rule set. There is no global
// registration: build one with Builtin or NewRegistry and hand it to the
// engine.
type Registry struct {
	rules []Rule
	byID  map[string]Rule
}

// NewRegistry builds a registry from rules. Ids must be unique.
func NewRegistry(rules ...Rule) (*Registry, error) {
	r := &Registry{byID: make(map[string]Rule, len(rules))}
	for _, rule := range rules {
		if _, dup := r.byID[rule.ID()]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", rule.ID())
		}
		r.byID[rule.ID()] = rule
		r.rules = append(r.rules, rule)
	}
	return r, nil
}

// All returns the rules in registration order.
func (r *Registry) All() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Get returns the rule with the given id.
func (r *Registry) Get(id string) (Rule, bool) {
	rule, ok := r.byID[id]
	return rule, ok
}

// IDs returns the rule ids in registration order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.rules))
	for i, rule := range r.rules {
		ids[i] = rule.ID()
	}
	return ids
}

// Len returns the number of rules.
func (r *Registry) Len() int { return len(r.rules) }

type builtinOptions struct {
	vocabulary VocabularyProvider
}

// Option configures Builtin.
type Option func(*builtinOptions)

// WithVocabulary injects the controlled-vocabulary provider used by the
// vocabulary rules. Without one those rules report nothing.
func WithVocabulary(p VocabularyProvider) Option {
	return func(o *builtinOptions) { o.vocabulary = p }
}

// Builtin returns the built-in rule set.
func Builtin(opts ...Option) *Registry {
	var o builtinOptions
	for _, opt := range opts {
		opt(&o)
	}
	vocab := func(id, name string, sev issue.Severity, field, vocabName string) Rule {
		return vocabularyRule{base: perColumn(id, name, sev), provider: o.vocabulary, field: field, vocab: vocabName}
	}

	reg, err := NewRegistry(
		leadingTrailingSpace{perColumn(IDLeadingTrailingSpace, "Leading/trailing whitespace", issue.SevWarning)},
		multipleSpaces{perColumn(IDMultipleSpaces, "Repeated spaces", issue.SevWarning)},
		unicodeChars{perColumn(IDUnicodeChars, "Suspect Unicode characters", issue.SevSuspicion)},
		invisibleChars{perColumn(IDInvisibleChars, "Invisible characters", issue.SevWarning)},
		pseudoMissing{perColumn(IDPseudoMissing, "Pseudo-missing values", issue.SevWarning)},
		duplicateRows{base{id: IDDuplicateRows, name: "Duplicate rows", severity: issue.SevWarning}},
		uniqueColumn{perColumn(IDUniqueColumn, "Unique column", issue.SevError)},
		softTyping{perColumn(IDSoftTyping, "Soft typing", issue.SevSuspicion)},
		rareValues{perColumn(IDRareValues, "Rare values", issue.SevSuspicion)},
		similarValues{perColumn(IDSimilarValues, "Similar values", issue.SevSuspicion)},
		unexpectedMultiline{perColumn(IDUnexpectedMultiline, "Unexpected line breaks", issue.SevWarning)},
		regexRule{perColumn(IDRegex, "Regular expression", issue.SevError)},
		contentType{perColumn(IDContentType, "Content type", issue.SevError)},
		length{perColumn(IDLength, "Length bounds", issue.SevWarning)},
		forbiddenChars{perColumn(IDForbiddenChars, "Forbidden characters", issue.SevWarning)},
		caseRule{perColumn(IDCase, "Letter case", issue.SevWarning)},
		required{perColumn(IDRequired, "Required value", issue.SevError)},
		allowedValues{perColumn(IDAllowedValues, "Allowed values", issue.SevError)},
		listItems{perColumn(IDListItems, "List items", issue.SevWarning)},
		vocab(IDVocabulary, "Controlled vocabulary", issue.SevError, "", ""),
		createdFormat{perColumn(IDCreatedFormat, "Nakala created date", issue.SevError)},
		vocab(IDDepositType, "Nakala deposit type", issue.SevError, FieldType, VocabDepositTypes),
		vocab(IDLicense, "Nakala license", issue.SevError, FieldLicense, VocabLicenses),
		vocab(IDLanguage, "Nakala language", issue.SevWarning, FieldLanguage, VocabLanguages),
	)
	if err != nil {
		panic(err) // built-in ids are constants
	}
	return reg
}
