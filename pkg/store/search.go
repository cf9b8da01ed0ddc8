package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/token/edgengram"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/jmylchreest/sheetqa/pkg/issue"
)

var errSearchClosed = errors.New("search index is closed")

// SearchStore is the bleve full-text index over issues.
type SearchStore struct {
	index bleve.Index
	path  string
}

// SearchConfig configures the search store.
type SearchConfig struct {
	Path string // Path to persist the search index; empty keeps it in memory
}

// SearchHit is a raw index match.
type SearchHit struct {
	ID    string
	Score float64
}

func buildIndexMapping() (mapping.IndexMapping, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomAnalyzer("standard_lower", map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create standard analyzer: %w", err)
	}

	// Edge n-gram analyzer for prefix matching on cell values (pa, par, pari...)
	err = indexMapping.AddCustomTokenFilter("edge_ngram_filter", map[string]interface{}{
		"type": edgengram.Name,
		"min":  2.0,
		"max":  15.0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create edge ngram filter: %w", err)
	}
	err = indexMapping.AddCustomAnalyzer("edge_ngram", map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": unicode.Name,
		"token_filters": []string{
			lowercase.Name,
			"edge_ngram_filter",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create edge ngram analyzer: %w", err)
	}

	issueMapping := bleve.NewDocumentMapping()

	messageField := bleve.NewTextFieldMapping()
	messageField.Analyzer = "standard_lower"
	issueMapping.AddFieldMappingsAt("message", messageField)

	originalField := bleve.NewTextFieldMapping()
	originalField.Analyzer = "standard_lower"
	issueMapping.AddFieldMappingsAt("original", originalField)

	originalEdge := bleve.NewTextFieldMapping()
	originalEdge.Analyzer = "edge_ngram"
	originalEdge.IncludeInAll = false
	issueMapping.AddFieldMappingsAt("original_edge", originalEdge)

	suggestionField := bleve.NewTextFieldMapping()
	suggestionField.Analyzer = "standard_lower"
	issueMapping.AddFieldMappingsAt("suggestion", suggestionField)

	// Keyword fields (exact match filtering)
	for _, name := range []string{"rule_id", "severity", "status", "column"} {
		f := bleve.NewTextFieldMapping()
		f.Analyzer = keyword.Name
		f.IncludeInAll = false
		issueMapping.AddFieldMappingsAt(name, f)
	}

	rowField := bleve.NewNumericFieldMapping()
	rowField.IncludeInAll = false
	issueMapping.AddFieldMappingsAt("row", rowField)

	indexMapping.AddDocumentMapping("issue", issueMapping)
	indexMapping.DefaultMapping = issueMapping

	return indexMapping, nil
}

// NewSearchStore opens the index at config.Path, creating it when missing
// and rebuilding it when it cannot be opened.
func NewSearchStore(config SearchConfig) (*SearchStore, error) {
	var index bleve.Index
	var err error
	if config.Path == "" {
		m, mapErr := buildIndexMapping()
		if mapErr != nil {
			return nil, mapErr
		}
		index, err = bleve.NewMemOnly(m)
	} else {
		index, err = openOrCreateSearchIndex(config.Path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open search index: %w", err)
	}
	return &SearchStore{index: index, path: config.Path}, nil
}

func openOrCreateSearchIndex(path string) (bleve.Index, error) {
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return createSearchIndex(path)
	}

	index, err := bleve.Open(path)
	if err == nil {
		return index, nil
	}

	storeLog.Printf("search index corrupted at %s (%v), rebuilding", path, err)
	if removeErr := os.RemoveAll(path); removeErr != nil {
		return nil, fmt.Errorf("failed to remove corrupted search index: %w (original error: %v)", removeErr, err)
	}
	return createSearchIndex(path)
}

func createSearchIndex(path string) (bleve.Index, error) {
	m, err := buildIndexMapping()
	if err != nil {
		return nil, err
	}
	return bleve.New(path, m)
}

func issueToSearchDoc(i *issue.Issue) map[string]interface{} {
	doc := map[string]interface{}{
		"message":       i.Message,
		"original":      i.Original,
		"original_edge": i.Original,
		"rule_id":       i.RuleID,
		"severity":      string(i.Severity),
		"status":        string(i.Status),
		"column":        i.Column,
		"row":           float64(i.Row),
	}
	if i.Suggestion != nil {
		doc["suggestion"] = *i.Suggestion
	}
	return doc
}

// IndexIssue adds or replaces an issue in the index.
func (s *SearchStore) IndexIssue(i *issue.Issue) error {
	if s.index == nil {
		return errSearchClosed
	}
	return s.index.Index(i.ID, issueToSearchDoc(i))
}

// DeleteIssue removes an issue from the index.
func (s *SearchStore) DeleteIssue(id string) error {
	if s.index == nil {
		return errSearchClosed
	}
	return s.index.Delete(id)
}

// Search matches opts.Query against messages and values, narrowed by the
// keyword filters. Hits come back best first.
func (s *SearchStore) Search(opts SearchOptions) ([]SearchHit, error) {
	if s.index == nil {
		return nil, errSearchClosed
	}

	var queries []query.Query
	if opts.Query != "" {
		queries = append(queries, textQuery(opts.Query))
	}
	for field, value := range map[string]string{
		"rule_id":  opts.RuleID,
		"severity": opts.Severity,
		"status":   opts.Status,
		"column":   opts.Column,
	} {
		if value == "" {
			continue
		}
		q := bleve.NewTermQuery(value)
		q.SetField(field)
		queries = append(queries, q)
	}

	var searchQuery query.Query
	switch len(queries) {
	case 0:
		searchQuery = bleve.NewMatchAllQuery()
	case 1:
		searchQuery = queries[0]
	default:
		searchQuery = bleve.NewConjunctionQuery(queries...)
	}

	req := bleve.NewSearchRequestOptions(searchQuery, opts.limit(), 0, false)
	result, err := s.index.Search(req)
	if err != nil {
		return nil, fmt.Errorf("issue search failed: %w", err)
	}

	hits := make([]SearchHit, 0, len(result.Hits))
	for _, h := range result.Hits {
		hits = append(hits, SearchHit{ID: h.ID, Score: h.Score})
	}
	return hits, nil
}

// textQuery ORs a message match, a value match, a one-edit fuzzy value match
// and a value prefix match.
func textQuery(text string) query.Query {
	message := bleve.NewMatchQuery(text)
	message.SetField("message")

	original := bleve.NewMatchQuery(text)
	original.SetField("original")

	fuzzy := bleve.NewFuzzyQuery(text)
	fuzzy.SetField("original")
	fuzzy.SetFuzziness(1)

	prefix := bleve.NewMatchQuery(text)
	prefix.SetField("original_edge")

	return bleve.NewDisjunctionQuery(message, original, fuzzy, prefix)
}

// Count returns the number of documents in the index.
func (s *SearchStore) Count() (uint64, error) {
	if s.index == nil {
		return 0, errSearchClosed
	}
	return s.index.DocCount()
}

// Close closes the search index.
func (s *SearchStore) Close() error {
	if s.index == nil {
		return nil
	}
	err := s.index.Close()
	s.index = nil
	return err
}

// Reindex indexes issues in one batch.
func (s *SearchStore) Reindex(issues []*issue.Issue) error {
	if s.index == nil {
		return errSearchClosed
	}
	batch := s.index.NewBatch()
	for _, i := range issues {
		if err := batch.Index(i.ID, issueToSearchDoc(i)); err != nil {
			return err
		}
	}
	return s.index.Batch(batch)
}

// Clear removes all documents by recreating the index.
func (s *SearchStore) Clear() error {
	m, err := buildIndexMapping()
	if err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.Close(); err != nil {
			return err
		}
		s.index = nil
	}
	if s.path == "" {
		s.index, err = bleve.NewMemOnly(m)
		return err
	}
	if err := os.RemoveAll(s.path); err != nil {
		return err
	}
	s.index, err = bleve.New(s.path, m)
	return err
}

// GetSearchPath returns the default search index path given a db path.
func GetSearchPath(dbPath string) string {
	return filepath.Join(filepath.Dir(dbPath), "search.bleve")
}
