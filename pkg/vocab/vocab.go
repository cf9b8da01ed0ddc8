// Package vocab supplies controlled vocabularies to the vocabulary rules,
// either from a fixed set or from the NAKALA vocabulary API.
package vocab

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/jmylchreest/sheetqa/pkg/rules"
	"gopkg.in/yaml.v3"
)

var vocabLog = log.New(os.Stderr, "[sheetqa:vocab] ", log.Ltime)

// ErrUnknownVocabulary is returned for a vocabulary name the provider does
// not serve.
var ErrUnknownVocabulary = errors.New("unknown vocabulary")

var (
	_ rules.VocabularyProvider = Static(nil)
	_ rules.VocabularyProvider = (*Client)(nil)
)

// Static serves vocabularies held in memory.
type Static map[string][]string

// AllowedValues returns a copy of the named vocabulary.
func (s Static) AllowedValues(name string) ([]string, error) {
	v, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVocabulary, name)
	}
	return append([]string(nil), v...), nil
}

// Names lists the vocabularies served, sorted.
func (s Static) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadStatic reads vocabularies from a YAML (or JSON) file mapping names to
// either a list of values or a list of objects carrying an id.
func LoadStatic(path string) (Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabularies: %w", err)
	}
	var raw map[string][]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse vocabularies %s: %w", path, err)
	}
	out := make(Static, len(raw))
	for name, items := range raw {
		out[name] = parseItems(items)
	}
	return out, nil
}

// itemKeys are tried in order on object items.
var itemKeys = []string{"id", "@id", "code"}

// parseItems extracts values from a vocabulary listing. Items are plain
// strings or objects; anything else, and empty values, are skipped.
func parseItems(items []any) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		switch v := it.(type) {
		case string:
			if v != "" {
				out = append(out, v)
			}
		case map[string]any:
			for _, k := range itemKeys {
				if s, ok := v[k].(string); ok && s != "" {
					out = append(out, s)
					break
				}
			}
		}
	}
	return out
}
