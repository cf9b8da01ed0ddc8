// Package config turns layered validation templates into concrete
// per-(rule, column) parameter sets.
//
// A template has three recognised top-level keys:
//
//	rules:          rule id -> parameters (severity, enabled, thresholds...)
//	columns:        column name (or "*") -> column metadata
//	column_groups:  glob pattern -> column metadata
//
// Column metadata may carry rule_overrides (rule id -> parameters). Any other
// key is preserved in Extra and otherwise ignored.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var configLog = log.New(os.Stderr, "[sheetqa:config] ", log.Ltime)

// Recognised top-level and column keys.
const (
	KeyRules         = "rules"
	KeyColumns       = "columns"
	KeyColumnGroups  = "column_groups"
	KeyRuleOverrides = "rule_overrides"
	KeyPattern       = "pattern"

	// AllColumns is the universal column selector.
	AllColumns = "*"
)

// Group is one column_groups entry. Declaration order matters: when two
// groups match the same column, the later one wins.
type Group struct {
	Pattern string
	Meta    map[string]any
}

// Document is a decoded, not yet resolved, template.
type Document struct {
	Rules   map[string]map[string]any
	Columns map[string]map[string]any
	Groups  []Group
	Extra   map[string]any
}

// NewDocument returns an empty document.
func NewDocument() *Document {
	return &Document{
		Rules:   make(map[string]map[string]any),
		Columns: make(map[string]map[string]any),
		Extra:   make(map[string]any),
	}
}

// Decode builds a Document from an already-deserialised object. Maps carry
// no order, so map-form column_groups are taken in lexical pattern order;
// the list form (entries with a "pattern" key) keeps its order.
func Decode(raw map[string]any) (*Document, []Diagnostic) {
	return decode(raw, nil)
}

// ParseYAML decodes template bytes. JSON is accepted as well. Map-form
// column_groups keep their declaration order.
func ParseYAML(data []byte) (*Document, []Diagnostic, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, nil, fmt.Errorf("parse template: %w", err)
	}
	if len(node.Content) == 0 {
		return NewDocument(), nil, nil
	}

	var raw map[string]any
	if err := node.Content[0].Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("decode template: %w", err)
	}
	doc, diags := decode(raw, groupOrder(node.Content[0]))
	return doc, diags, nil
}

// LoadFile reads and parses a template file.
func LoadFile(path string) (*Document, []Diagnostic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read template: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".json") {
		var raw map[string]any
		if err := json.Unmarshal(data, &raw); err != nil {
			return nil, nil, fmt.Errorf("parse template %s: %w", path, err)
		}
		doc, diags := Decode(raw)
		return doc, diags, nil
	}
	doc, diags, err := ParseYAML(data)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return doc, diags, nil
}

// groupOrder returns the column_groups keys in declaration order.
func groupOrder(root *yaml.Node) []string {
	if root.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != KeyColumnGroups {
			continue
		}
		groups := root.Content[i+1]
		if groups.Kind != yaml.MappingNode {
			return nil
		}
		var order []string
		for j := 0; j+1 < len(groups.Content); j += 2 {
			order = append(order, groups.Content[j].Value)
		}
		return order
	}
	return nil
}

func decode(raw map[string]any, order []string) (*Document, []Diagnostic) {
	doc := NewDocument()
	var diags []Diagnostic

	for key, val := range raw {
		switch key {
		case KeyRules:
			m, ok := asMap(val)
			if !ok {
				diags = append(diags, warnf("", "%s must be a mapping, got %T (ignored)", KeyRules, val))
				continue
			}
			for id, params := range m {
				switch p := params.(type) {
				case bool:
					doc.Rules[id] = map[string]any{"enabled": p}
				case nil:
					doc.Rules[id] = map[string]any{}
				default:
					pm, ok := asMap(p)
					if !ok {
						diags = append(diags, warnf(id, "rule parameters must be a mapping, got %T (dropped)", p))
						continue
					}
					doc.Rules[id] = pm
				}
			}

		case KeyColumns:
			m, ok := asMap(val)
			if !ok {
				diags = append(diags, warnf("", "%s must be a mapping, got %T (ignored)", KeyColumns, val))
				continue
			}
			for name, meta := range m {
				mm, ok := asMap(meta)
				if !ok && meta != nil {
					diags = append(diags, warnf("", "column %q metadata must be a mapping (dropped)", name))
					continue
				}
				if mm == nil {
					mm = map[string]any{}
				}
				doc.Columns[name] = mm
			}

		case KeyColumnGroups:
			groups, gd := decodeGroups(val, order)
			doc.Groups = groups
			diags = append(diags, gd...)

		default:
			doc.Extra[key] = val
		}
	}

	return doc, diags
}

func decodeGroups(val any, order []string) ([]Group, []Diagnostic) {
	var diags []Diagnostic

	if list, ok := val.([]any); ok {
		var groups []Group
		for n, item := range list {
			m, ok := asMap(item)
			if !ok {
				diags = append(diags, warnf("", "column_groups[%d] must be a mapping (dropped)", n))
				continue
			}
			pattern, _ := m[KeyPattern].(string)
			if pattern == "" {
				diags = append(diags, warnf("", "column_groups[%d] has no pattern (dropped)", n))
				continue
			}
			meta := make(map[string]any, len(m))
			for k, v := range m {
				if k != KeyPattern {
					meta[k] = v
				}
			}
			groups = append(groups, Group{Pattern: pattern, Meta: meta})
		}
		return groups, diags
	}

	m, ok := asMap(val)
	if !ok {
		return nil, []Diagnostic{warnf("", "%s must be a mapping or list, got %T (ignored)", KeyColumnGroups, val)}
	}

	patterns := make([]string, 0, len(m))
	seen := make(map[string]bool, len(m))
	for _, p := range order {
		if _, ok := m[p]; ok && !seen[p] {
			patterns = append(patterns, p)
			seen[p] = true
		}
	}
	var rest []string
	for p := range m {
		if !seen[p] {
			rest = append(rest, p)
		}
	}
	sort.Strings(rest)
	patterns = append(patterns, rest...)

	groups := make([]Group, 0, len(patterns))
	for _, p := range patterns {
		meta, ok := asMap(m[p])
		if !ok && m[p] != nil {
			diags = append(diags, warnf("", "column group %q metadata must be a mapping (dropped)", p))
			continue
		}
		if meta == nil {
			meta = map[string]any{}
		}
		groups = append(groups, Group{Pattern: p, Meta: meta})
	}
	return groups, diags
}

// toMap renders the document back to a plain object. Groups are keyed by
// pattern so that merging combines groups sharing a pattern.
func (d *Document) toMap() map[string]any {
	out := make(map[string]any, len(d.Extra)+3)
	for k, v := range d.Extra {
		out[k] = v
	}
	rules := make(map[string]any, len(d.Rules))
	for k, v := range d.Rules {
		rules[k] = v
	}
	cols := make(map[string]any, len(d.Columns))
	for k, v := range d.Columns {
		cols[k] = v
	}
	groups := make(map[string]any, len(d.Groups))
	for _, g := range d.Groups {
		groups[g.Pattern] = g.Meta
	}
	out[KeyRules] = rules
	out[KeyColumns] = cols
	out[KeyColumnGroups] = groups
	return out
}

// Merge deep-merges overlay onto base and returns a new document. Overlay
// values win at every level, lists are replaced and branches missing from the
// overlay are inherited. Groups keep base order; new overlay groups append.
func Merge(base, overlay *Document) *Document {
	if base == nil {
		base = NewDocument()
	}
	if overlay == nil {
		overlay = NewDocument()
	}

	merged := deepMerge(base.toMap(), overlay.toMap())

	var order []string
	seen := make(map[string]bool)
	for _, gs := range [][]Group{base.Groups, overlay.Groups} {
		for _, g := range gs {
			if !seen[g.Pattern] {
				seen[g.Pattern] = true
				order = append(order, g.Pattern)
			}
		}
	}

	doc, diags := decode(merged, order)
	for _, d := range diags {
		configLog.Printf("merge: %s", d)
	}
	return doc
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[fmt.Sprint(k)] = val
		}
		return out, true
	}
	return nil, false
}
