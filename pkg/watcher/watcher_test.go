package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

const eventTimeout = 3 * time.Second

func startWatcher(t *testing.T, cfg Config) (*Watcher, <-chan map[string]fsnotify.Op) {
	t.Helper()
	if cfg.DebounceDelay == 0 {
		cfg.DebounceDelay = 50 * time.Millisecond
	}
	batches := make(chan map[string]fsnotify.Op, 16)
	w, err := New(cfg, FileChangeHandlerFunc(func(files map[string]fsnotify.Op) {
		batches <- files
	}))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Start(); err != nil {
		w.Stop()
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { w.Stop() })
	return w, batches
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func nextBatch(t *testing.T, batches <-chan map[string]fsnotify.Op) map[string]fsnotify.Op {
	t.Helper()
	select {
	case b := <-batches:
		return b
	case <-time.After(eventTimeout):
		t.Fatal("timed out waiting for change batch")
		return nil
	}
}

func TestWatchExplicitFile(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "template.yaml")
	other := filepath.Join(dir, "other.yaml")
	writeFile(t, tmpl, "rules: {}\n")

	_, batches := startWatcher(t, Config{Paths: []string{tmpl}})

	// A sibling template is not watched when only the file was named.
	writeFile(t, other, "x: 1\n")
	writeFile(t, tmpl, "rules: {generic.regex: {}}\n")

	b := nextBatch(t, batches)
	if _, ok := b[tmpl]; !ok {
		t.Errorf("expected %s in batch, got %v", tmpl, b)
	}
	if _, ok := b[other]; ok {
		t.Errorf("unwatched sibling reported: %v", b)
	}
}

func TestWatchDirectoryPatterns(t *testing.T) {
	dir := t.TempDir()
	_, batches := startWatcher(t, Config{Paths: []string{dir}})

	yml := filepath.Join(dir, "cities.yml")
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignore me")
	writeFile(t, filepath.Join(dir, ".hidden.yaml"), "ignore me")
	writeFile(t, yml, "columns: {}\n")

	b := nextBatch(t, batches)
	if len(b) != 1 {
		t.Fatalf("expected only the template, got %v", b)
	}
	if _, ok := b[yml]; !ok {
		t.Errorf("expected %s, got %v", yml, b)
	}
}

func TestDebounceCoalesces(t *testing.T) {
	dir := t.TempDir()
	tmpl := filepath.Join(dir, "t.yaml")
	writeFile(t, tmpl, "a: 1\n")

	_, batches := startWatcher(t, Config{Paths: []string{tmpl}, DebounceDelay: 300 * time.Millisecond})

	for _, v := range []string{"a: 2\n", "a: 3\n", "a: 4\n"} {
		writeFile(t, tmpl, v)
	}

	b := nextBatch(t, batches)
	if len(b) != 1 {
		t.Errorf("expected one coalesced entry, got %v", b)
	}
	select {
	case extra := <-batches:
		t.Errorf("expected a single batch, got another: %v", extra)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestRecursiveWatchSkipsDirs(t *testing.T) {
	dir := t.TempDir()
	nested := filepath.Join(dir, "nested")
	skipped := filepath.Join(dir, "node_modules")
	for _, d := range []string{nested, skipped} {
		if err := os.Mkdir(d, 0o755); err != nil {
			t.Fatal(err)
		}
	}

	w, batches := startWatcher(t, Config{Paths: []string{dir}, Recursive: true})
	if got := w.Stats().DirsWatched; got != 2 {
		t.Errorf("expected 2 watched directories, got %d", got)
	}

	writeFile(t, filepath.Join(skipped, "x.yaml"), "a: 1\n")
	target := filepath.Join(nested, "t.json")
	writeFile(t, target, "{}")

	b := nextBatch(t, batches)
	if len(b) != 1 {
		t.Fatalf("expected only the nested template, got %v", b)
	}
	if _, ok := b[target]; !ok {
		t.Errorf("expected %s, got %v", target, b)
	}
}

func TestStartErrors(t *testing.T) {
	w, err := New(Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w.Stop()
	if err := w.Start(); err == nil {
		t.Error("expected error with no paths")
	}

	w2, err := New(Config{Paths: []string{filepath.Join(t.TempDir(), "missing.yaml")}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer w2.Stop()
	if err := w2.Start(); err == nil {
		t.Error("expected error for a missing path")
	}
}

func TestInvalidPattern(t *testing.T) {
	if _, err := New(Config{Patterns: []string{"[a-"}}); err == nil {
		t.Error("expected error for invalid pattern")
	}
}

func TestIsRemove(t *testing.T) {
	if !IsRemove(fsnotify.Remove) || !IsRemove(fsnotify.Rename) {
		t.Error("remove and rename should count as removal")
	}
	if IsRemove(fsnotify.Write) {
		t.Error("write is not a removal")
	}
}
