package config

import (
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// Level of a diagnostic.
type Level string

const (
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Diagnostic is a recovered configuration or rule problem. Diagnostics never
// stop validation.
type Diagnostic struct {
	Level   Level  `json:"level"`
	Source  string `json:"source,omitempty"` // rule id, when known
	Column  string `json:"column,omitempty"`
	Message string `json:"message"`
}

func (d Diagnostic) String() string {
	s := string(d.Level)
	if d.Source != "" {
		s += " [" + d.Source + "]"
	}
	if d.Column != "" {
		s += " column " + fmt.Sprintf("%q", d.Column)
	}
	return s + ": " + d.Message
}

func warnf(source, format string, args ...any) Diagnostic {
	return Diagnostic{Level: LevelWarning, Source: source, Message: fmt.Sprintf(format, args...)}
}

type ruleColumn struct {
	rule   string
	column string
}

// Resolved is the immutable result of Resolve: one Params per (rule, column)
// and one rule-level Params per rule.
type Resolved struct {
	columns     []string
	global      map[string]Params
	cells       map[ruleColumn]Params
	meta        map[string]ColumnMeta
	Diagnostics []Diagnostic
}

// Columns returns the table columns the configuration was resolved against.
func (r *Resolved) Columns() []string {
	return append([]string(nil), r.columns...)
}

// For returns the parameters of rule on column. Unknown pairs get the
// rule-level parameters.
func (r *Resolved) For(rule, column string) Params {
	if p, ok := r.cells[ruleColumn{rule, column}]; ok {
		return p
	}
	return r.Global(rule)
}

// Global returns the rule-level parameters, used by table-wide rules.
func (r *Resolved) Global(rule string) Params {
	if p, ok := r.global[rule]; ok {
		return p
	}
	return Params{}
}

// Meta returns the typed metadata of a column.
func (r *Resolved) Meta(column string) ColumnMeta {
	return r.meta[column]
}

// Resolve expands column selectors against the real column names and merges,
// for every known rule and column:
//
//	rule parameters < column metadata < rule_overrides[rule]
//
// Column metadata itself layers columns["*"] < matching column_groups (in
// declaration order, later wins) < the exact column entry. Group patterns use
// doublestar syntax: "*" does not cross "/", "**" does, and {a,b} alternation
// is supported.
//
// Problems are recorded in Diagnostics: unknown rule ids are kept but
// reported, overrides for unknown rules and malformed fragments are dropped.
func Resolve(doc *Document, columns []string, known []string) *Resolved {
	if doc == nil {
		doc = NewDocument()
	}
	res := &Resolved{
		columns: append([]string(nil), columns...),
		global:  make(map[string]Params, len(known)),
		cells:   make(map[ruleColumn]Params, len(known)*len(columns)),
		meta:    make(map[string]ColumnMeta, len(columns)),
	}
	diags := newDiagSet()

	knownSet := make(map[string]bool, len(known))
	for _, id := range known {
		knownSet[id] = true
	}
	for _, id := range sortedKeys(doc.Rules) {
		if !knownSet[id] {
			diags.add(warnf(id, "unknown rule id (kept, no rule consumes it)"))
		}
	}

	colSet := make(map[string]bool, len(columns))
	for _, c := range columns {
		colSet[c] = true
	}
	for _, name := range sortedKeys(doc.Columns) {
		if name != AllColumns && !colSet[name] {
			diags.add(warnf("", "column %q is configured but not present in the table", name))
		}
	}

	var groups []Group
	for _, g := range doc.Groups {
		if !doublestar.ValidatePattern(g.Pattern) {
			diags.add(warnf("", "invalid column group pattern %q (dropped)", g.Pattern))
			continue
		}
		groups = append(groups, g)
	}

	for _, id := range known {
		res.global[id] = Params(deepMerge(doc.Rules[id]))
	}

	for _, col := range columns {
		layers := []map[string]any{doc.Columns[AllColumns]}
		for _, g := range groups {
			if ok, _ := doublestar.Match(g.Pattern, col); ok {
				layers = append(layers, g.Meta)
			}
		}
		layers = append(layers, doc.Columns[col])
		meta := deepMerge(layers...)

		overrides := columnOverrides(meta, col, knownSet, diags)
		delete(meta, KeyRuleOverrides)

		var cm ColumnMeta
		if err := decodeInto(meta, &cm); err != nil {
			diags.add(Diagnostic{Level: LevelWarning, Column: col, Message: fmt.Sprintf("column metadata has invalid values: %v", err)})
		}
		res.meta[col] = cm

		for _, id := range known {
			res.cells[ruleColumn{id, col}] = Params(deepMerge(doc.Rules[id], meta, overrides[id]))
		}
	}

	res.Diagnostics = diags.list
	return res
}

func columnOverrides(meta map[string]any, col string, known map[string]bool, diags *diagSet) map[string]map[string]any {
	raw, ok := meta[KeyRuleOverrides]
	if !ok || raw == nil {
		return nil
	}
	m, ok := asMap(raw)
	if !ok {
		diags.add(Diagnostic{Level: LevelWarning, Column: col, Message: fmt.Sprintf("%s must be a mapping, got %T (dropped)", KeyRuleOverrides, raw)})
		return nil
	}

	out := make(map[string]map[string]any, len(m))
	for _, id := range sortedKeys(m) {
		if !known[id] {
			diags.add(Diagnostic{Level: LevelWarning, Source: id, Column: col, Message: "override for unknown rule (dropped)"})
			continue
		}
		switch v := m[id].(type) {
		case bool:
			out[id] = map[string]any{"enabled": v}
		default:
			pm, ok := asMap(v)
			if !ok {
				diags.add(Diagnostic{Level: LevelWarning, Source: id, Column: col, Message: fmt.Sprintf("override must be a mapping, got %T (dropped)", v)})
				continue
			}
			out[id] = pm
		}
	}
	return out
}

type diagSet struct {
	seen map[string]bool
	list []Diagnostic
}

func newDiagSet() *diagSet { return &diagSet{seen: make(map[string]bool)} }

func (s *diagSet) add(d Diagnostic) {
	key := d.String()
	if s.seen[key] {
		return
	}
	s.seen[key] = true
	s.list = append(s.list, d)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
