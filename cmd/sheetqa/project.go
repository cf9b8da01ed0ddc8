package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmylchreest/sheetqa/internal/version"
	"github.com/jmylchreest/sheetqa/pkg/config"
	"github.com/jmylchreest/sheetqa/pkg/engine"
	"github.com/jmylchreest/sheetqa/pkg/rules"
	"github.com/jmylchreest/sheetqa/pkg/session"
	"github.com/jmylchreest/sheetqa/pkg/store"
	"github.com/jmylchreest/sheetqa/pkg/table"
	"github.com/jmylchreest/sheetqa/pkg/vocab"
)

// project is one loaded data file with its workspace collaborators.
type project struct {
	dataPath     string
	templatePath string
	grid         *table.Grid
	meta         table.Meta
	store        *store.CombinedStore
	session      *session.Session
}

// openProject loads the data file and template named in args and builds a
// validated session persisting into the workspace store. With record false
// edits are neither logged nor published, which is what a dry run needs.
func openProject(ctx context.Context, e *env, dataPath string, args []string, record bool) (*project, error) {
	grid, meta, err := loadCSV(dataPath, parseFlag(args, "--delimiter="))
	if err != nil {
		return nil, err
	}

	templatePath := parseFlag(args, "--template=")
	doc, err := loadTemplate(templatePath)
	if err != nil {
		return nil, err
	}

	provider, err := vocabularyProvider(e, parseFlag(args, "--vocab="))
	if err != nil {
		return nil, err
	}
	var ruleOpts []rules.Option
	if provider != nil {
		ruleOpts = append(ruleOpts, rules.WithVocabulary(provider))
	}
	reg := rules.Builtin(ruleOpts...)

	st, err := store.Open(e.dbPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	recordSource(st, meta)

	opts := []session.Option{
		session.WithEngine(engine.New(reg, engine.WithConcurrency(e.settings.Concurrency))),
		session.WithStatusMemory(st),
		session.WithHistoryDepth(e.settings.HistoryDepth),
		session.WithAutoRevalidate(e.settings.AutoRevalidate),
		session.WithMeta(meta),
	}
	if record {
		opts = append(opts,
			session.WithPatchSink(st),
			session.WithActionLog(st),
			session.WithIssueSnapshot(st),
		)
	}
	sess, err := session.New(grid, doc, reg, opts...)
	if err != nil {
		st.Close()
		return nil, err
	}

	p := &project{
		dataPath:     dataPath,
		templatePath: templatePath,
		grid:         grid,
		meta:         meta,
		store:        st,
		session:      sess,
	}
	if err := sess.ValidateFull(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("validate: %w", err)
	}
	return p, nil
}

// Close closes the session, then the store it persists into.
func (p *project) Close() error {
	serr := p.session.Close()
	if err := p.store.Close(); err != nil {
		return err
	}
	return serr
}

func loadTemplate(path string) (*config.Document, error) {
	if path == "" {
		return config.NewDocument(), nil
	}
	doc, diags, err := config.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load template: %w", err)
	}
	for _, d := range diags {
		fmt.Fprintf(os.Stderr, "template: %s\n", d)
	}
	return doc, nil
}

// vocabularyProvider prefers a static file, then the remote service when
// enabled in settings. Without either the vocabulary rules stay silent.
func vocabularyProvider(e *env, staticPath string) (rules.VocabularyProvider, error) {
	if staticPath != "" {
		s, err := vocab.LoadStatic(staticPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load vocabularies: %w", err)
		}
		return s, nil
	}
	if !e.settings.Vocabulary.Enabled {
		return nil, nil
	}
	return vocab.NewClient(e.settings.Vocabulary.BaseURL,
		vocab.WithTimeout(e.settings.Vocabulary.Timeout),
		vocab.WithCachePath(filepath.Join(e.cacheDir(), vocabCacheName)),
		vocab.WithRateLimit(e.settings.Vocabulary.RateLimit, vocab.DefaultBurst),
	), nil
}

// recordSource notes which file the stored snapshot belongs to.
func recordSource(st *store.CombinedStore, meta table.Meta) {
	abs, err := filepath.Abs(meta.Source)
	if err != nil {
		abs = meta.Source
	}
	for key, value := range map[string]string{
		store.MetaSource:    abs,
		store.MetaEncoding:  meta.Encoding,
		store.MetaDelimiter: meta.Delimiter,
		"last_run":          time.Now().UTC().Format(time.RFC3339),
		"client":            version.UserAgent(),
	} {
		if err := st.SetMeta(key, value); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: failed to record %s: %v\n", key, err)
		}
	}
}

// openStore opens the workspace store for read-only commands.
func openStore(e *env) (*store.CombinedStore, error) {
	if _, err := os.Stat(e.dbPath()); os.IsNotExist(err) {
		return nil, fmt.Errorf("no results yet: run 'sheetqa validate <file>' first")
	}
	st, err := store.Open(e.dbPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return st, nil
}

// requireData returns the data file argument.
func requireData(args []string, usage string) (string, error) {
	pos := positional(args)
	if len(pos) < 1 {
		return "", fmt.Errorf("usage: %s", usage)
	}
	return pos[0], nil
}
