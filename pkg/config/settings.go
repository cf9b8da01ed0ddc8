package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	env "github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys use a double
// underscore: SHEETQA_VOCABULARY__BASE_URL.
const EnvPrefix = "SHEETQA_"

// Default application settings.
const (
	// DefaultHistoryDepth is the undo stack cap.
	DefaultHistoryDepth = 500

	// DefaultConcurrency bounds the number of rule checks run at once.
	DefaultConcurrency = 8

	// DefaultVocabularyURL is the controlled-vocabulary service root.
	DefaultVocabularyURL = "https://api.nakala.fr"

	// DefaultVocabularyTimeout bounds one vocabulary fetch.
	DefaultVocabularyTimeout = 10 * time.Second

	// DefaultVocabularyRate caps vocabulary requests per second.
	DefaultVocabularyRate = 4.0

	// DefaultWatchDebounce delays revalidation after a template edit.
	DefaultWatchDebounce = 500 * time.Millisecond

	// DefaultDBPath is the persistence database, relative to the workspace.
	DefaultDBPath = ".sheetqa/sheetqa.db"
)

// Settings is the application configuration, distinct from validation
// templates.
type Settings struct {
	HistoryDepth   int                `koanf:"history_depth"`
	Concurrency    int                `koanf:"concurrency"`
	DBPath         string             `koanf:"db_path"`
	AutoRevalidate bool               `koanf:"auto_revalidate"`
	WatchDebounce  time.Duration      `koanf:"watch_debounce"`
	Vocabulary     VocabularySettings `koanf:"vocabulary"`
}

// VocabularySettings configures the remote vocabulary collaborator.
type VocabularySettings struct {
	Enabled   bool          `koanf:"enabled"`
	BaseURL   string        `koanf:"base_url"`
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"`
}

func defaultSettings() map[string]any {
	return map[string]any{
		"history_depth":         DefaultHistoryDepth,
		"concurrency":           DefaultConcurrency,
		"db_path":               DefaultDBPath,
		"auto_revalidate":       true,
		"watch_debounce":        DefaultWatchDebounce.String(),
		"vocabulary.enabled":    false,
		"vocabulary.base_url":   DefaultVocabularyURL,
		"vocabulary.timeout":    DefaultVocabularyTimeout.String(),
		"vocabulary.rate_limit": DefaultVocabularyRate,
	}
}

// LoadSettings layers built-in defaults, an optional JSON settings file and
// SHEETQA_* environment variables. A missing file is not an error.
func LoadSettings(path string) (*Settings, error) {
	return loadSettings(path, os.Environ)
}

func loadSettings(path string, environ func() []string) (*Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultSettings(), "."), nil); err != nil {
		return nil, fmt.Errorf("load default settings: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), json.Parser()); err != nil {
				return nil, fmt.Errorf("load settings %s: %w", path, err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("stat settings %s: %w", path, err)
		}
	}

	envProvider := env.Provider(".", env.Opt{
		Prefix: EnvPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
		EnvironFunc: environ,
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load environment settings: %w", err)
	}

	var s Settings
	if err := k.Unmarshal("", &s); err != nil {
		return nil, fmt.Errorf("decode settings: %w", err)
	}
	if s.HistoryDepth <= 0 {
		s.HistoryDepth = DefaultHistoryDepth
	}
	if s.Concurrency <= 0 {
		s.Concurrency = DefaultConcurrency
	}
	if s.Vocabulary.RateLimit <= 0 {
		s.Vocabulary.RateLimit = DefaultVocabularyRate
	}
	return &s, nil
}
