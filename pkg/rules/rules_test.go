package rules

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/jmylchreest/sheetqa/pkg/config"
	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/table"
)

// column builds a one-column table.
func column(t *testing.T, name string, values ...string) table.Table {
	t.Helper()
	rows := make([][]string, len(values))
	for i, v := range values {
		rows[i] = []string{v}
	}
	g, err := table.NewGrid([]string{name}, rows)
	if err != nil {
		t.Fatalf("NewGrid: %v", err)
	}
	return g
}

func run(t *testing.T, id string, tbl table.Table, col string, params config.Params) []*issue.Issue {
	t.Helper()
	got, err := runErr(t, id, tbl, col, params)
	if err != nil {
		t.Fatalf("%s: unexpected error: %v", id, err)
	}
	return got
}

func runErr(t *testing.T, id string, tbl table.Table, col string, params config.Params) ([]*issue.Issue, error) {
	t.Helper()
	return runWith(t, Builtin(), id, tbl, col, params)
}

func runWith(t *testing.T, reg *Registry, id string, tbl table.Table, col string, params config.Params) ([]*issue.Issue, error) {
	t.Helper()
	rule, ok := reg.Get(id)
	if !ok {
		t.Fatalf("rule %s not registered", id)
	}
	if params == nil {
		params = config.Params{}
	}
	return rule.Check(Input{Table: tbl, Column: col, Params: params, Severity: rule.DefaultSeverity()})
}

func rows(issues []*issue.Issue) []int {
	out := make([]int, len(issues))
	for i, is := range issues {
		out[i] = is.Row
	}
	return out
}

func sameRows(got []*issue.Issue, want ...int) bool {
	r := rows(got)
	if len(r) != len(want) {
		return false
	}
	for i := range r {
		if r[i] != want[i] {
			return false
		}
	}
	return true
}

// =============================================================================
// Registry
// =============================================================================

func TestBuiltinRegistry(t *testing.T) {
	reg := Builtin()
	if reg.Len() != 24 {
		t.Errorf("Len = %d, want 24", reg.Len())
	}
	for _, id := range reg.IDs() {
		rule, _ := reg.Get(id)
		if rule.Name() == "" {
			t.Errorf("%s has no name", id)
		}
		if rule.DefaultSeverity().Rank() > 2 {
			t.Errorf("%s has invalid severity %q", id, rule.DefaultSeverity())
		}
	}
	dup, _ := reg.Get(IDDuplicateRows)
	if dup.PerColumn() {
		t.Error("duplicate_rows must be table-wide")
	}
	if _, err := NewRegistry(dup, dup); err == nil {
		t.Error("expected duplicate id error")
	}
}

// =============================================================================
// Hygiene
// =============================================================================

func TestLeadingTrailingSpace(t *testing.T) {
	tbl := column(t, "city", " Paris ", "Lyon", "", "Nice ")
	got := run(t, IDLeadingTrailingSpace, tbl, "city", nil)

	if !sameRows(got, 0, 3) {
		t.Fatalf("rows = %v, want [0 3]", rows(got))
	}
	if got[0].Suggestion == nil || *got[0].Suggestion != "Paris" {
		t.Errorf("suggestion = %v, want Paris", got[0].Suggestion)
	}
	if got[0].Severity != issue.SevWarning || got[0].Status != issue.StatusOpen {
		t.Errorf("issue = %+v", got[0])
	}
}

func TestWhitespaceOnlyCells(t *testing.T) {
	tbl := column(t, "c", "   ", "ok", "")

	for _, id := range []string{IDLeadingTrailingSpace, IDMultipleSpaces} {
		t.Run(id, func(t *testing.T) {
			got := run(t, id, tbl, "c", nil)
			if !sameRows(got, 0) {
				t.Fatalf("rows = %v, want [0]", rows(got))
			}
			if got[0].Suggestion == nil || *got[0].Suggestion != "" {
				t.Errorf("suggestion = %v, want empty string", got[0].Suggestion)
			}
		})
	}
}

func TestMultipleSpaces(t *testing.T) {
	got := run(t, IDMultipleSpaces, column(t, "c", "a  b", "a b", "x   y  z"), "c", nil)
	if !sameRows(got, 0, 2) {
		t.Fatalf("rows = %v", rows(got))
	}
	if *got[1].Suggestion != "x y z" {
		t.Errorf("suggestion = %q", *got[1].Suggestion)
	}
}

func TestUnicodeChars(t *testing.T) {
	got := run(t, IDUnicodeChars, column(t, "c", "l\u2019arbre \u2014 ok", "plain"), "c", nil)
	if len(got) != 1 {
		t.Fatalf("got %d issues, want 1", len(got))
	}
	if *got[0].Suggestion != "l'arbre - ok" {
		t.Errorf("suggestion = %q", *got[0].Suggestion)
	}
	if !strings.Contains(got[0].Message, "U+2019 (RIGHT SINGLE QUOTATION MARK)") {
		t.Errorf("message = %q", got[0].Message)
	}
	if got[0].Severity != issue.SevSuspicion {
		t.Errorf("severity = %q", got[0].Severity)
	}
}

func TestInvisibleChars(t *testing.T) {
	got := run(t, IDInvisibleChars, column(t, "c", "ab\u200bc", "soft\u00adhyphen", "clean"), "c", nil)
	if !sameRows(got, 0, 1) {
		t.Fatalf("rows = %v", rows(got))
	}
	if *got[0].Suggestion != "abc" {
		t.Errorf("suggestion = %q", *got[0].Suggestion)
	}
}

func TestUnexpectedMultiline(t *testing.T) {
	tbl := column(t, "c", "one\ntwo", "single", "a\r\nb")
	got := run(t, IDUnexpectedMultiline, tbl, "c", nil)
	if !sameRows(got, 0, 2) {
		t.Fatalf("rows = %v", rows(got))
	}
	if *got[1].Suggestion != "a b" {
		t.Errorf("suggestion = %q", *got[1].Suggestion)
	}

	if got := run(t, IDUnexpectedMultiline, tbl, "c", config.Params{"multiline_ok": true}); len(got) != 0 {
		t.Errorf("multiline_ok column: got %d issues", len(got))
	}
}

// =============================================================================
// Missing values
// =============================================================================

func TestPseudoMissing(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"n/a", 1},
		{"N/A", 1},
		{" NuLL ", 1},
		{"Not available", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			got := run(t, IDPseudoMissing, column(t, "c", tt.value), "c", nil)
			if len(got) != tt.want {
				t.Errorf("got %d issues, want %d", len(got), tt.want)
			}
		})
	}

	custom := run(t, IDPseudoMissing, column(t, "c", "unknown", "n/a"), "c", config.Params{"tokens": []any{"UNKNOWN"}})
	if !sameRows(custom, 0) {
		t.Errorf("custom tokens: rows = %v", rows(custom))
	}
}

func TestRequired(t *testing.T) {
	tbl := column(t, "c", "x", "", "  ", "N/A", "#REF!", "y")
	if got := run(t, IDRequired, tbl, "c", nil); len(got) != 0 {
		t.Errorf("not required: got %d issues", len(got))
	}
	got := run(t, IDRequired, tbl, "c", config.Params{"required": true})
	if !sameRows(got, 1, 2, 3, 4) {
		t.Errorf("rows = %v, want [1 2 3 4]", rows(got))
	}
}

// =============================================================================
// Duplicates
// =============================================================================

func TestUniqueColumn(t *testing.T) {
	tbl := column(t, "id", "a", "b", "a")
	got := run(t, IDUniqueColumn, tbl, "id", config.Params{"unique": true})
	if !sameRows(got, 0, 2) {
		t.Fatalf("rows = %v, want [0 2]", rows(got))
	}
	if got[0].RuleID != IDUniqueColumn || got[0].Severity != issue.SevError {
		t.Errorf("issue = %+v", got[0])
	}
	if got[0].ID == got[1].ID {
		t.Error("issues on different rows must have different ids")
	}

	if got := run(t, IDUniqueColumn, tbl, "id", nil); len(got) != 0 {
		t.Errorf("column not unique: got %d issues", len(got))
	}
}

func TestDuplicateRows(t *testing.T) {
	g, _ := table.NewGrid([]string{"a", "b"}, [][]string{
		{"1", "x"},
		{"2", "y"},
		{"1", "x"},
		{"", ""},
		{"1", "x"},
		{"", ""},
	})

	t.Run("keep first", func(t *testing.T) {
		got := run(t, IDDuplicateRows, g, "", nil)
		if !sameRows(got, 2, 4) {
			t.Fatalf("rows = %v, want [2 4]", rows(got))
		}
		for _, is := range got {
			if is.Column != issue.WholeRow {
				t.Errorf("column = %q, want whole row", is.Column)
			}
			if is.Extra["duplicate_of"] != 0 {
				t.Errorf("duplicate_of = %v", is.Extra["duplicate_of"])
			}
		}
	})

	t.Run("flag all", func(t *testing.T) {
		got := run(t, IDDuplicateRows, g, "", config.Params{"keep_first": false})
		if !sameRows(got, 0, 2, 4) {
			t.Errorf("rows = %v, want [0 2 4]", rows(got))
		}
	})

	t.Run("blank rows", func(t *testing.T) {
		got := run(t, IDDuplicateRows, g, "", config.Params{"ignore_blank_rows": false})
		if !sameRows(got, 2, 4, 5) {
			t.Errorf("rows = %v, want [2 4 5]", rows(got))
		}
	})
}

// =============================================================================
// Statistical rules
// =============================================================================

func TestSoftTyping(t *testing.T) {
	vals := make([]string, 0, 20)
	for i := 0; i < 19; i++ {
		vals = append(vals, strconv.Itoa(i*7))
	}
	vals = append(vals, "abc")
	tbl := column(t, "n", vals...)
	params := config.Params{"threshold": 0.95, "min_count": 10}

	got := run(t, IDSoftTyping, tbl, "n", params)
	if !sameRows(got, 19) {
		t.Fatalf("rows = %v, want [19]", rows(got))
	}
	if got[0].Original != "abc" || got[0].Extra["dominant_type"] != "integer" {
		t.Errorf("issue = %+v", got[0])
	}

	t.Run("threshold governs flagging", func(t *testing.T) {
		got := run(t, IDSoftTyping, tbl, "n", config.Params{"threshold": 0.96, "min_count": 10})
		if len(got) != 0 {
			t.Errorf("share below threshold must not flag, got %d", len(got))
		}
	})

	t.Run("below min count", func(t *testing.T) {
		got := run(t, IDSoftTyping, tbl, "n", config.Params{"threshold": 0.95, "min_count": 21})
		if len(got) != 0 {
			t.Errorf("got %d issues, want 0", len(got))
		}
	})

	t.Run("decimals are numbers", func(t *testing.T) {
		mixed := append([]string{"1,5", "2.25"}, vals[:18]...)
		mixed = append(mixed, "n/a")
		got := run(t, IDSoftTyping, column(t, "n", mixed...), "n", params)
		if len(got) != 1 || got[0].Original != "n/a" || got[0].Extra["dominant_type"] != "number" {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("invalid threshold", func(t *testing.T) {
		if _, err := runErr(t, IDSoftTyping, tbl, "n", config.Params{"threshold": 5}); err == nil {
			t.Error("expected configuration error")
		}
	})
}

func TestRareValues(t *testing.T) {
	var vals []string
	for i := 0; i < 12; i++ {
		vals = append(vals, "yes", "no")
	}
	vals = append(vals, "maybe")
	tbl := column(t, "c", vals...)

	got := run(t, IDRareValues, tbl, "c", nil)
	if !sameRows(got, 24) {
		t.Fatalf("rows = %v, want [24]", rows(got))
	}

	t.Run("high cardinality skipped", func(t *testing.T) {
		var free []string
		for i := 0; i < 20; i++ {
			free = append(free, fmt.Sprintf("text %d", i))
		}
		if got := run(t, IDRareValues, column(t, "c", free...), "c", nil); len(got) != 0 {
			t.Errorf("got %d issues, want 0", len(got))
		}
	})
}

func TestSimilarValues(t *testing.T) {
	var vals []string
	for i := 0; i < 5; i++ {
		vals = append(vals, "Bordeaux")
	}
	vals = append(vals, "Bordeau", "bordeaux", "Marseille", "Toulouse", "Lille", "Nantes")
	tbl := column(t, "city", vals...)

	if got := run(t, IDSimilarValues, tbl, "city", nil); len(got) != 0 {
		t.Fatalf("rule must be dormant by default, got %d", len(got))
	}

	got := run(t, IDSimilarValues, tbl, "city", config.Params{"detect_similar_values": true})
	if !sameRows(got, 5, 6) {
		t.Fatalf("rows = %v, want [5 6]", rows(got))
	}
	for _, is := range got {
		if is.Suggestion == nil || *is.Suggestion != "Bordeaux" {
			t.Errorf("suggestion = %v, want Bordeaux", is.Suggestion)
		}
		cluster, _ := is.Extra["cluster"].([]string)
		if len(cluster) != 3 {
			t.Errorf("cluster = %v", is.Extra["cluster"])
		}
	}

	t.Run("distinct ceiling", func(t *testing.T) {
		got := run(t, IDSimilarValues, tbl, "city", config.Params{"detect_similar_values": true, "similar_max_distinct": 3})
		if len(got) != 0 {
			t.Errorf("got %d issues, want 0", len(got))
		}
	})
}

func TestIndelRatio(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"", "", 100},
		{"abc", "abc", 100},
		{"abc", "xyz", 0},
		{"bordeaux", "bordeau", 100 * 14.0 / 15.0},
		{"kitten", "sitting", 100 * 8.0 / 13.0},
		{"été", "ete", 100 * 2.0 / 6.0},
	}
	for _, tt := range tests {
		got := indelRatio(tt.a, tt.b)
		if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
			t.Errorf("indelRatio(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// =============================================================================
// Format rules
// =============================================================================

func TestRegex(t *testing.T) {
	tbl := column(t, "code", "AB12", "ab12", "AB123x", "")
	got := run(t, IDRegex, tbl, "code", config.Params{"regex": `[A-Z]{2}\d+`})
	if !sameRows(got, 1, 2) {
		t.Errorf("rows = %v, want [1 2] (full match)", rows(got))
	}

	_, err := runErr(t, IDRegex, tbl, "code", config.Params{"regex": "(["})
	if err == nil {
		t.Error("expected error for invalid regex")
	}
}

func TestContentType(t *testing.T) {
	tests := []struct {
		kind string
		good []string
		bad  []string
	}{
		{"integer", []string{"12", "-3"}, []string{"1.5", "x"}},
		{"decimal", []string{"1.5", "2,75", "3"}, []string{"1.", "abc"}},
		{"date", []string{"2024-02-29", "31/12/2020", "05-06-2021", "11/2020", "1999"}, []string{"2023-02-29", "13/2020", "0999", "2024/01/01"}},
		{"email", []string{"a@b.org"}, []string{"a@b", "a b@c.d"}},
		{"url", []string{"https://x.org/a", "www.example.com"}, []string{"ftp://x", "example"}},
	}
	for _, tt := range tests {
		t.Run(tt.kind, func(t *testing.T) {
			vals := append(append([]string(nil), tt.good...), tt.bad...)
			got := run(t, IDContentType, column(t, "c", vals...), "c", config.Params{"content_type": tt.kind})
			if len(got) != len(tt.bad) {
				t.Fatalf("got %d issues (%v), want %d", len(got), rows(got), len(tt.bad))
			}
			for i, is := range got {
				if is.Row != len(tt.good)+i {
					t.Errorf("flagged row %d (%q)", is.Row, is.Original)
				}
			}
		})
	}

	if _, err := runErr(t, IDContentType, column(t, "c", "x"), "c", config.Params{"content_type": "phone"}); err == nil {
		t.Error("expected error for unknown content type")
	}
}

func TestLength(t *testing.T) {
	tbl := column(t, "c", "ab", "abcd", "été", "abcdefg")
	got := run(t, IDLength, tbl, "c", config.Params{"min_length": 3, "max_length": 5})
	if !sameRows(got, 0, 3) {
		t.Errorf("rows = %v, want [0 3] (rune lengths)", rows(got))
	}
}

func TestForbiddenChars(t *testing.T) {
	got := run(t, IDForbiddenChars, column(t, "c", "a;b", "ok", "x#y;"), "c", config.Params{"forbidden_chars": ";#"})
	if !sameRows(got, 0, 2) {
		t.Errorf("rows = %v", rows(got))
	}
}

func TestCase(t *testing.T) {
	tbl := column(t, "c", "PARIS", "Paris", "123", "lyon")
	got := run(t, IDCase, tbl, "c", config.Params{"expected_case": "upper"})
	if !sameRows(got, 1, 3) {
		t.Fatalf("rows = %v, want [1 3]", rows(got))
	}
	if *got[1].Suggestion != "LYON" {
		t.Errorf("suggestion = %q", *got[1].Suggestion)
	}

	title := run(t, IDCase, tbl, "c", config.Params{"expected_case": "title"})
	if !sameRows(title, 0, 3) {
		t.Errorf("title rows = %v, want [0 3]", rows(title))
	}

	if _, err := runErr(t, IDCase, tbl, "c", config.Params{"expected_case": "camel"}); err == nil {
		t.Error("expected error for unknown case")
	}
}

func TestAllowedValues(t *testing.T) {
	tbl := column(t, "c", "red", "blue ", "green")
	got := run(t, IDAllowedValues, tbl, "c", config.Params{"allowed_values": []any{"red", "blue"}})
	if !sameRows(got, 2) {
		t.Errorf("rows = %v, want [2]", rows(got))
	}

	listMode := run(t, IDAllowedValues, tbl, "c", config.Params{"allowed_values": []any{"red"}, "list_separator": "|"})
	if len(listMode) != 0 {
		t.Errorf("list-mode columns belong to list_items, got %d", len(listMode))
	}
}

func TestListItems(t *testing.T) {
	tbl := column(t, "c", "a|b", "a||b", "a|a|b", "a|z", "a")
	params := config.Params{
		"list_separator": "|",
		"list_unique":    true,
		"list_min_items": 2,
		"allowed_values": []any{"a", "b"},
	}
	got := run(t, IDListItems, tbl, "c", params)

	byRow := make(map[int][]*issue.Issue)
	for _, is := range got {
		byRow[is.Row] = append(byRow[is.Row], is)
	}
	if len(byRow[0]) != 0 {
		t.Errorf("row 0: %d issues", len(byRow[0]))
	}
	if len(byRow[1]) != 1 || *byRow[1][0].Suggestion != "a|b" {
		t.Errorf("row 1 (empty item) = %+v", byRow[1])
	}
	if len(byRow[2]) != 1 || *byRow[2][0].Suggestion != "a|b" {
		t.Errorf("row 2 (duplicate) = %+v", byRow[2])
	}
	if len(byRow[3]) != 1 || byRow[3][0].Extra["item"] != "z" {
		t.Errorf("row 3 (not allowed) = %+v", byRow[3])
	}
	if len(byRow[4]) != 1 || !strings.Contains(byRow[4][0].Message, "at least 2") {
		t.Errorf("row 4 (min items) = %+v", byRow[4])
	}

	seen := make(map[string]bool)
	for _, is := range got {
		if seen[is.ID] {
			t.Errorf("duplicate id %s", is.ID)
		}
		seen[is.ID] = true
	}

	if got := run(t, IDListItems, tbl, "c", nil); len(got) != 0 {
		t.Error("rule must be dormant without list_separator")
	}
}

// =============================================================================
// Vocabulary rules
// =============================================================================

type fakeVocab struct {
	values map[string][]string
	err    error
}

func (f fakeVocab) AllowedValues(name string) ([]string, error) {
	return f.values[name], f.err
}

func TestVocabularyRules(t *testing.T) {
	tbl := column(t, "lang", "fr", "en", "xx", "")
	field := config.Params{"nakala_field": FieldLanguage}

	t.Run("membership", func(t *testing.T) {
		reg := Builtin(WithVocabulary(fakeVocab{values: map[string][]string{VocabLanguages: {"fr", "en"}}}))
		got, err := runWith(t, reg, IDLanguage, tbl, "lang", field)
		if err != nil {
			t.Fatal(err)
		}
		if !sameRows(got, 2) {
			t.Errorf("rows = %v, want [2]", rows(got))
		}
	})

	t.Run("gated on field", func(t *testing.T) {
		reg := Builtin(WithVocabulary(fakeVocab{values: map[string][]string{VocabLanguages: {"fr"}}}))
		got, _ := runWith(t, reg, IDLanguage, tbl, "lang", nil)
		if len(got) != 0 {
			t.Errorf("got %d issues without nakala_field", len(got))
		}
	})

	fails := []struct {
		name string
		reg  *Registry
	}{
		{"no provider", Builtin()},
		{"provider error", Builtin(WithVocabulary(fakeVocab{err: errors.New("offline")}))},
		{"empty vocabulary", Builtin(WithVocabulary(fakeVocab{values: map[string][]string{}}))},
	}
	for _, tt := range fails {
		t.Run("fail open: "+tt.name, func(t *testing.T) {
			got, err := runWith(t, tt.reg, IDLanguage, tbl, "lang", field)
			if err != nil || len(got) != 0 {
				t.Errorf("got %d issues, err %v; want none", len(got), err)
			}
		})
	}

	t.Run("generic vocabulary", func(t *testing.T) {
		reg := Builtin(WithVocabulary(fakeVocab{values: map[string][]string{"colours": {"red"}}}))
		got, _ := runWith(t, reg, IDVocabulary, column(t, "c", "red", "blue"), "c", config.Params{"vocabulary": "colours"})
		if !sameRows(got, 1) {
			t.Errorf("rows = %v, want [1]", rows(got))
		}
	})

	t.Run("repeated list item reported once", func(t *testing.T) {
		reg := Builtin(WithVocabulary(fakeVocab{values: map[string][]string{"letters": {"a"}}}))
		params := config.Params{"vocabulary": "letters", "list_separator": "|"}
		got, _ := runWith(t, reg, IDVocabulary, column(t, "c", "x|x|a|y"), "c", params)
		if len(got) != 2 {
			t.Fatalf("got %d issues, want 2 (x and y)", len(got))
		}
		if got[0].ID == got[1].ID {
			t.Errorf("issues share id %s", got[0].ID)
		}
	})
}

func TestCreatedFormat(t *testing.T) {
	tbl := column(t, "date", "2020", "2020-05", "2020-05-01", "05/2020", "2020-5")
	got := run(t, IDCreatedFormat, tbl, "date", config.Params{"nakala_field": FieldCreated})
	if !sameRows(got, 3, 4) {
		t.Errorf("rows = %v, want [3 4]", rows(got))
	}
	if got := run(t, IDCreatedFormat, tbl, "date", nil); len(got) != 0 {
		t.Error("rule must be gated on nakala_field")
	}
}
