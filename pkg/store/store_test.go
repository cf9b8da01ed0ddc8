package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

func setupTestDB(t *testing.T) (*BoltStore, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "sheetqa-store-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	store, err := NewBoltStore(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}

	return store, cleanup
}

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func strptr(s string) *string { return &s }

func sampleIssues() []*issue.Issue {
	return []*issue.Issue{
		{
			ID: "a1", RuleID: "leading_trailing_space", Severity: issue.SevWarning,
			Status: issue.StatusOpen, Row: 0, Column: "city", Original: " Paris ",
			Message: "leading or trailing whitespace", Suggestion: strptr("Paris"),
		},
		{
			ID: "b2", RuleID: "unique_column", Severity: issue.SevError,
			Status: issue.StatusIgnored, Row: 3, Column: "id", Original: "7",
			Message: "duplicate value 7",
		},
		{
			ID: "c3", RuleID: "rare_values", Severity: issue.SevSuspicion,
			Status: issue.StatusOpen, Row: 4, Column: "city", Original: "Lodnon",
			Message: "rare value",
		},
	}
}

// =============================================================================
// Meta
// =============================================================================

func TestMeta(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if _, err := store.GetMeta(MetaSource); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.SetMeta(MetaSource, "cities.csv"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	got, err := store.GetMeta(MetaSource)
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if got != "cities.csv" {
		t.Errorf("got %q, want cities.csv", got)
	}
}

// =============================================================================
// Patches
// =============================================================================

func TestPatchLifecycle(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	p := issue.Patch{
		PatchID: "act1_p0", ActionID: "act1", Row: 0, Column: "city",
		OldValue: " Paris ", NewValue: "Paris", IssueID: "a1", Timestamp: epoch,
	}
	if err := store.WritePatch(p); err != nil {
		t.Fatalf("WritePatch: %v", err)
	}

	t.Run("Active", func(t *testing.T) {
		got, undone, err := store.GetPatch("act1_p0")
		if err != nil {
			t.Fatalf("GetPatch: %v", err)
		}
		if undone {
			t.Error("fresh patch reported as undone")
		}
		if got.NewValue != "Paris" || !got.Timestamp.Equal(epoch) {
			t.Errorf("unexpected patch %+v", got)
		}
	})

	t.Run("Archive", func(t *testing.T) {
		if err := store.ArchivePatch("act1_p0"); err != nil {
			t.Fatalf("ArchivePatch: %v", err)
		}
		active, _ := store.ListPatches(false)
		undone, _ := store.ListPatches(true)
		if len(active) != 0 || len(undone) != 1 {
			t.Fatalf("expected 0 active and 1 undone, got %d and %d", len(active), len(undone))
		}
		if _, isUndone, _ := store.GetPatch("act1_p0"); !isUndone {
			t.Error("archived patch not reported as undone")
		}
	})

	t.Run("ArchiveTwice", func(t *testing.T) {
		if err := store.ArchivePatch("act1_p0"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Restore", func(t *testing.T) {
		if err := store.RestorePatch("act1_p0"); err != nil {
			t.Fatalf("RestorePatch: %v", err)
		}
		active, _ := store.ListPatches(false)
		if len(active) != 1 || active[0].PatchID != "act1_p0" {
			t.Fatalf("expected restored patch, got %+v", active)
		}
	})

	t.Run("Missing", func(t *testing.T) {
		if _, _, err := store.GetPatch("nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestWritePatchRequiresID(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if err := store.WritePatch(issue.Patch{Row: 1}); err == nil {
		t.Error("expected error for patch without id")
	}
}

func TestListPatchesOrder(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	later := epoch.Add(time.Minute)
	for _, p := range []issue.Patch{
		{PatchID: "b_p0", ActionID: "b", Timestamp: later},
		{PatchID: "a_p10", ActionID: "a", Timestamp: epoch},
		{PatchID: "a_p2", ActionID: "a", Timestamp: epoch},
		{PatchID: "a_p0", ActionID: "a", Timestamp: epoch},
	} {
		if err := store.WritePatch(p); err != nil {
			t.Fatalf("WritePatch %s: %v", p.PatchID, err)
		}
	}

	got, err := store.ListPatches(false)
	if err != nil {
		t.Fatalf("ListPatches: %v", err)
	}
	want := []string{"a_p0", "a_p2", "a_p10", "b_p0"}
	if len(got) != len(want) {
		t.Fatalf("expected %d patches, got %d", len(want), len(got))
	}
	for n, id := range want {
		if got[n].PatchID != id {
			t.Errorf("position %d: got %s, want %s", n, got[n].PatchID, id)
		}
	}
}

// =============================================================================
// Action log
// =============================================================================

func TestActionLog(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	types := []string{issue.ActionFix, issue.ActionUndo, issue.ActionRedo}
	for n, typ := range types {
		e := issue.ActionLogEntry{
			ActionID:   "act" + string(rune('0'+n)),
			Timestamp:  epoch.Add(time.Duration(n) * time.Second),
			ActionType: typ,
			Scope:      issue.ScopeCell,
			Stats:      map[string]int{"cells_changed": 1},
		}
		if err := store.AppendAction(e); err != nil {
			t.Fatalf("AppendAction: %v", err)
		}
	}

	t.Run("All", func(t *testing.T) {
		got, err := store.ListActions(0)
		if err != nil {
			t.Fatalf("ListActions: %v", err)
		}
		if len(got) != 3 {
			t.Fatalf("expected 3 entries, got %d", len(got))
		}
		for n, typ := range types {
			if got[n].ActionType != typ {
				t.Errorf("entry %d: got %s, want %s", n, got[n].ActionType, typ)
			}
		}
		if got[0].Stats["cells_changed"] != 1 {
			t.Errorf("stats not round-tripped: %+v", got[0].Stats)
		}
	})

	t.Run("Limit", func(t *testing.T) {
		got, err := store.ListActions(2)
		if err != nil {
			t.Fatalf("ListActions: %v", err)
		}
		if len(got) != 2 || got[0].ActionType != issue.ActionUndo || got[1].ActionType != issue.ActionRedo {
			t.Errorf("expected the last two entries oldest first, got %+v", got)
		}
	})
}

// =============================================================================
// Remembered statuses
// =============================================================================

func TestStatuses(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	got, err := store.LoadStatuses()
	if err != nil {
		t.Fatalf("LoadStatuses: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no statuses, got %v", got)
	}

	if err := store.SaveStatuses(map[string]issue.Status{
		"a1": issue.StatusIgnored,
		"b2": issue.StatusExcepted,
	}); err != nil {
		t.Fatalf("SaveStatuses: %v", err)
	}
	// A second save replaces rather than merges.
	if err := store.SaveStatuses(map[string]issue.Status{"b2": issue.StatusExcepted}); err != nil {
		t.Fatalf("SaveStatuses: %v", err)
	}

	got, err = store.LoadStatuses()
	if err != nil {
		t.Fatalf("LoadStatuses: %v", err)
	}
	if len(got) != 1 || got["b2"] != issue.StatusExcepted {
		t.Errorf("unexpected statuses %v", got)
	}
}

// =============================================================================
// Issue snapshot
// =============================================================================

func TestIssueSnapshot(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	if err := store.ReplaceIssues(sampleIssues()); err != nil {
		t.Fatalf("ReplaceIssues: %v", err)
	}

	t.Run("OrderPreserved", func(t *testing.T) {
		got, err := store.ListIssues(SearchOptions{})
		if err != nil {
			t.Fatalf("ListIssues: %v", err)
		}
		if len(got) != 3 || got[0].ID != "a1" || got[1].ID != "b2" || got[2].ID != "c3" {
			t.Errorf("unexpected order %v", ids(got))
		}
		if got[0].Suggestion == nil || *got[0].Suggestion != "Paris" {
			t.Error("suggestion not round-tripped")
		}
	})

	t.Run("Filters", func(t *testing.T) {
		got, _ := store.ListIssues(SearchOptions{Column: "city"})
		if len(got) != 2 {
			t.Errorf("expected 2 city issues, got %v", ids(got))
		}
		got, _ = store.ListIssues(SearchOptions{Status: string(issue.StatusIgnored)})
		if len(got) != 1 || got[0].ID != "b2" {
			t.Errorf("expected b2, got %v", ids(got))
		}
		got, _ = store.ListIssues(SearchOptions{Query: "paris"})
		if len(got) != 1 || got[0].ID != "a1" {
			t.Errorf("expected a1, got %v", ids(got))
		}
		got, _ = store.ListIssues(SearchOptions{Limit: 1})
		if len(got) != 1 {
			t.Errorf("expected limit 1, got %d", len(got))
		}
	})

	t.Run("ReplaceDropsMissing", func(t *testing.T) {
		if err := store.ReplaceIssues(sampleIssues()[1:]); err != nil {
			t.Fatalf("ReplaceIssues: %v", err)
		}
		if _, err := store.GetIssue("a1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected a1 gone, got %v", err)
		}
		got, _ := store.ListIssues(SearchOptions{})
		if len(got) != 2 || got[0].ID != "b2" {
			t.Errorf("unexpected snapshot %v", ids(got))
		}
	})
}

func ids(issues []*issue.Issue) []string {
	out := make([]string, len(issues))
	for n, i := range issues {
		out[n] = i.ID
	}
	return out
}
