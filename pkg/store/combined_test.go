package store

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

func setupTestCombinedStore(t *testing.T) (*CombinedStore, string, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "sheetqa-combined-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	dbPath := filepath.Join(tmpDir, "test.db")
	cs, err := Open(dbPath)
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("failed to open store: %v", err)
	}

	cleanup := func() {
		cs.Close()
		os.RemoveAll(tmpDir)
	}

	return cs, dbPath, cleanup
}

func TestCombinedStoreCreation(t *testing.T) {
	cs, _, cleanup := setupTestCombinedStore(t)
	defer cleanup()

	v, err := GetSchemaVersion(cs.db)
	if err != nil {
		t.Fatalf("GetSchemaVersion: %v", err)
	}
	if v != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, v)
	}

	hash, err := cs.GetMeta(MetaSearchMappingHash)
	if err != nil {
		t.Fatalf("mapping hash not stored: %v", err)
	}
	m, _ := buildIndexMapping()
	if hash != MappingHash(m) {
		t.Error("stored mapping hash does not match current mapping")
	}
}

func TestCombinedSearch(t *testing.T) {
	cs, _, cleanup := setupTestCombinedStore(t)
	defer cleanup()

	if err := cs.ReplaceIssues(sampleIssues()); err != nil {
		t.Fatalf("ReplaceIssues: %v", err)
	}

	t.Run("Text", func(t *testing.T) {
		got, err := cs.SearchIssues(SearchOptions{Query: "paris"})
		if err != nil {
			t.Fatalf("SearchIssues: %v", err)
		}
		if len(got) != 1 || got[0].Issue.ID != "a1" {
			t.Fatalf("expected a1, got %+v", got)
		}
		if got[0].Score <= 0 {
			t.Errorf("expected positive score, got %f", got[0].Score)
		}
	})

	t.Run("Message", func(t *testing.T) {
		got, err := cs.SearchIssues(SearchOptions{Query: "duplicate"})
		if err != nil {
			t.Fatalf("SearchIssues: %v", err)
		}
		if len(got) != 1 || got[0].Issue.ID != "b2" {
			t.Errorf("expected b2, got %+v", got)
		}
	})

	t.Run("KeywordOnly", func(t *testing.T) {
		got, err := cs.SearchIssues(SearchOptions{Column: "city"})
		if err != nil {
			t.Fatalf("SearchIssues: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 city issues, got %d", len(got))
		}
	})

	t.Run("TextAndKeyword", func(t *testing.T) {
		got, err := cs.SearchIssues(SearchOptions{Query: "paris", Column: "id"})
		if err != nil {
			t.Fatalf("SearchIssues: %v", err)
		}
		if len(got) != 0 {
			t.Errorf("expected no hits, got %+v", got)
		}
	})

	t.Run("RuleFilter", func(t *testing.T) {
		got, err := cs.SearchIssues(SearchOptions{RuleID: "rare_values"})
		if err != nil {
			t.Fatalf("SearchIssues: %v", err)
		}
		if len(got) != 1 || got[0].Issue.ID != "c3" {
			t.Errorf("expected c3, got %+v", got)
		}
	})
}

func TestCombinedReplaceRemovesFromIndex(t *testing.T) {
	cs, _, cleanup := setupTestCombinedStore(t)
	defer cleanup()

	if err := cs.ReplaceIssues(sampleIssues()); err != nil {
		t.Fatalf("ReplaceIssues: %v", err)
	}
	if err := cs.ReplaceIssues(sampleIssues()[1:]); err != nil {
		t.Fatalf("ReplaceIssues: %v", err)
	}

	count, err := cs.search.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 indexed issues, got %d", count)
	}
	got, _ := cs.SearchIssues(SearchOptions{Query: "paris"})
	if len(got) != 0 {
		t.Errorf("removed issue still searchable: %+v", got)
	}
}

func TestCombinedReopenRebuildsOnMappingChange(t *testing.T) {
	cs, dbPath, cleanup := setupTestCombinedStore(t)
	defer cleanup()

	if err := cs.ReplaceIssues(sampleIssues()); err != nil {
		t.Fatalf("ReplaceIssues: %v", err)
	}
	if err := cs.SetMeta(MetaSearchMappingHash, "stale"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	if err := cs.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.search.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if count != 3 {
		t.Errorf("expected rebuilt index with 3 docs, got %d", count)
	}
	hash, _ := reopened.GetMeta(MetaSearchMappingHash)
	if hash == "stale" {
		t.Error("mapping hash not refreshed")
	}
}

func TestCombinedStatusesSurviveReopen(t *testing.T) {
	cs, dbPath, cleanup := setupTestCombinedStore(t)
	defer cleanup()

	if err := cs.SaveStatuses(map[string]issue.Status{"a1": issue.StatusIgnored}); err != nil {
		t.Fatalf("SaveStatuses: %v", err)
	}
	cs.Close()

	reopened, err := Open(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.LoadStatuses()
	if err != nil {
		t.Fatalf("LoadStatuses: %v", err)
	}
	if got["a1"] != issue.StatusIgnored {
		t.Errorf("expected a1 ignored, got %v", got)
	}
}
