package store

import (
	"errors"
	"strings"

	"github.com/jmylchreest/sheetqa/pkg/issue"
)

// Verify CombinedStore implements Store at compile time.
var _ Store = (*CombinedStore)(nil)

// CombinedStore keeps the issue snapshot in both bbolt and the bleve index.
// Everything else is served by the embedded BoltStore, which stays the source
// of truth.
type CombinedStore struct {
	*BoltStore
	search *SearchStore
}

// Open opens the session database at dbPath with its search index alongside.
func Open(dbPath string) (*CombinedStore, error) {
	db, err := NewBoltStore(dbPath)
	if err != nil {
		return nil, err
	}

	search, err := NewSearchStore(SearchConfig{Path: GetSearchPath(dbPath)})
	if err != nil {
		db.Close()
		return nil, err
	}

	cs := &CombinedStore{BoltStore: db, search: search}
	if err := cs.ensureSearchMapping(); err != nil {
		search.Close()
		db.Close()
		return nil, err
	}
	return cs, nil
}

// ensureSearchMapping rebuilds the index from the snapshot when the mapping
// changed since it was built.
func (c *CombinedStore) ensureSearchMapping() error {
	m, err := buildIndexMapping()
	if err != nil {
		return err
	}
	hash := MappingHash(m)
	stored, err := c.GetMeta(MetaSearchMappingHash)
	if err == nil && hash == stored {
		return nil
	}

	if err == nil {
		storeLog.Printf("search mapping changed, rebuilding index")
	}
	if err := c.search.Clear(); err != nil {
		return err
	}
	if err := c.SyncSearchIndex(); err != nil {
		return err
	}
	return c.SetMeta(MetaSearchMappingHash, hash)
}

// SyncSearchIndex indexes every snapshot issue.
func (c *CombinedStore) SyncSearchIndex() error {
	issues, err := c.BoltStore.ListIssues(SearchOptions{Limit: -1})
	if err != nil {
		return err
	}
	return c.search.Reindex(issues)
}

// Close closes both stores.
func (c *CombinedStore) Close() error {
	var errs []string
	if err := c.search.Close(); err != nil {
		errs = append(errs, "search: "+err.Error())
	}
	if err := c.BoltStore.Close(); err != nil {
		errs = append(errs, "bolt: "+err.Error())
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// ReplaceIssues swaps the snapshot. Index mutations are applied after the
// bolt transaction commits so a rollback cannot leave the index ahead.
func (c *CombinedStore) ReplaceIssues(issues []*issue.Issue) error {
	removed, err := c.BoltStore.replaceIssues(issues)
	if err != nil {
		return err
	}
	for _, id := range removed {
		if err := c.search.DeleteIssue(id); err != nil {
			storeLog.Printf("failed to delete issue %s from search index: %v", id, err)
		}
	}
	return c.search.Reindex(issues)
}

// SearchIssues runs a full-text search, falling back to the snapshot
// substring match when the index fails.
func (c *CombinedStore) SearchIssues(opts SearchOptions) ([]SearchResult, error) {
	hits, err := c.search.Search(opts)
	if err != nil {
		storeLog.Printf("search failed, falling back to substring match: %v", err)
		issues, subErr := c.BoltStore.ListIssues(opts)
		if subErr != nil {
			return nil, err
		}
		out := make([]SearchResult, len(issues))
		for n, i := range issues {
			out[n] = SearchResult{Issue: i}
		}
		return out, nil
	}

	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		i, err := c.GetIssue(h.ID)
		if err != nil {
			continue
		}
		out = append(out, SearchResult{Issue: i, Score: h.Score})
	}
	return out, nil
}
