// Package store persists a validation session: cell patches (active and
// undone), the append-only action log, remembered issue statuses and the
// latest issue snapshot.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/sheetqa/pkg/issue"
	bolt "go.etcd.io/bbolt"
)

// Common errors.
var (
	ErrNotFound = errors.New("not found")
)

// Bucket names.
var (
	BucketPatches       = []byte("patches")
	BucketPatchesUndone = []byte("patches_undone")
	BucketActions       = []byte("actions")
	BucketIssues        = []byte("issues")
	BucketIssueStatus   = []byte("issue_status")
	BucketMeta          = []byte("meta")
)

// Meta keys.
const (
	MetaSchemaVersion     = "schema_version"
	MetaSearchMappingHash = "search_mapping_hash"
	MetaSource            = "source"
	MetaEncoding          = "encoding"
	MetaDelimiter         = "delimiter"
)

// BoltStore implements storage using bbolt.
type BoltStore struct {
	db   *bolt.DB
	path string
}

// NewBoltStore creates a new bbolt-backed store, creating the parent
// directory when needed.
func NewBoltStore(path string) (*BoltStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	// Initialize buckets.
	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			BucketPatches,
			BucketPatchesUndone,
			BucketActions,
			BucketIssues,
			BucketIssueStatus,
			BucketMeta,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema migration failed: %w", err)
	}

	return &BoltStore{db: db, path: path}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *BoltStore) Path() string { return s.path }

// itob converts a uint64 to a byte slice.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := uint(0); i < 8; i++ {
		b[7-i] = byte(v >> (i * 8))
	}
	return b
}

// GetMeta reads a string value from the meta bucket.
func (s *BoltStore) GetMeta(key string) (string, error) {
	var val string
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketMeta)
		if b == nil {
			return ErrNotFound
		}
		data := b.Get([]byte(key))
		if data == nil {
			return ErrNotFound
		}
		val = string(data)
		return nil
	})
	return val, err
}

// SetMeta writes a string value to the meta bucket.
func (s *BoltStore) SetMeta(key, value string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketMeta)
		if b == nil {
			return fmt.Errorf("meta bucket not found")
		}
		return b.Put([]byte(key), []byte(value))
	})
}

// =============================================================================
// Patches
// =============================================================================

// WritePatch stores an active patch.
func (s *BoltStore) WritePatch(p issue.Patch) error {
	if p.PatchID == "" {
		return fmt.Errorf("patch has no id")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketPatches).Put([]byte(p.PatchID), data)
	})
}

// ArchivePatch moves an active patch to the undone namespace.
func (s *BoltStore) ArchivePatch(patchID string) error {
	return s.movePatch(patchID, BucketPatches, BucketPatchesUndone)
}

// RestorePatch moves an undone patch back to the active namespace.
func (s *BoltStore) RestorePatch(patchID string) error {
	return s.movePatch(patchID, BucketPatchesUndone, BucketPatches)
}

func (s *BoltStore) movePatch(patchID string, from, to []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		src := tx.Bucket(from)
		data := src.Get([]byte(patchID))
		if data == nil {
			return fmt.Errorf("%w: patch %s in %s", ErrNotFound, patchID, from)
		}
		// Copy: the value is only valid inside the transaction and the
		// source key is about to be deleted.
		data = append([]byte(nil), data...)
		if err := tx.Bucket(to).Put([]byte(patchID), data); err != nil {
			return err
		}
		return src.Delete([]byte(patchID))
	})
}

// GetPatch returns a patch and whether it is currently undone.
func (s *BoltStore) GetPatch(patchID string) (issue.Patch, bool, error) {
	var p issue.Patch
	var undone bool
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketPatches).Get([]byte(patchID))
		if data == nil {
			data = tx.Bucket(BucketPatchesUndone).Get([]byte(patchID))
			undone = true
		}
		if data == nil {
			return fmt.Errorf("%w: patch %s", ErrNotFound, patchID)
		}
		return json.Unmarshal(data, &p)
	})
	return p, undone, err
}

// ListPatches returns the active patches, or the undone ones, in the order
// they were made.
func (s *BoltStore) ListPatches(undone bool) ([]issue.Patch, error) {
	bucket := BucketPatches
	if undone {
		bucket = BucketPatchesUndone
	}
	var out []issue.Patch
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var p issue.Patch
			if err := json.Unmarshal(v, &p); err != nil {
				return fmt.Errorf("decode patch %s: %w", k, err)
			}
			out = append(out, p)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return patchLess(out[i], out[j]) })
	return out, nil
}

// patchLess orders by time, then action, then position within the action.
func patchLess(a, b issue.Patch) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	if a.ActionID != b.ActionID {
		return a.ActionID < b.ActionID
	}
	return patchIndex(a.PatchID) < patchIndex(b.PatchID)
}

func patchIndex(id string) int {
	i := strings.LastIndex(id, "_p")
	if i < 0 {
		return 0
	}
	n, err := strconv.Atoi(id[i+2:])
	if err != nil {
		return 0
	}
	return n
}

// =============================================================================
// Action log
// =============================================================================

// AppendAction appends an entry to the action log.
func (s *BoltStore) AppendAction(e issue.ActionLogEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal action: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketActions)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// ListActions returns the last limit entries of the action log, oldest
// first. A non-positive limit returns the whole log.
func (s *BoltStore) ListActions(limit int) ([]issue.ActionLogEntry, error) {
	var out []issue.ActionLogEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(BucketActions).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var e issue.ActionLogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decode action: %w", err)
			}
			out = append(out, e)
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// =============================================================================
// Remembered statuses
// =============================================================================

// LoadStatuses returns the remembered issue statuses keyed by issue id.
func (s *BoltStore) LoadStatuses() (map[string]issue.Status, error) {
	out := make(map[string]issue.Status)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketIssueStatus).ForEach(func(k, v []byte) error {
			st, err := issue.ParseStatus(string(v))
			if err != nil {
				return fmt.Errorf("issue %s: %w", k, err)
			}
			out[string(k)] = st
			return nil
		})
	})
	return out, err
}

// SaveStatuses replaces the remembered statuses.
func (s *BoltStore) SaveStatuses(statuses map[string]issue.Status) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if err := tx.DeleteBucket(BucketIssueStatus); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(BucketIssueStatus)
		if err != nil {
			return err
		}
		for id, st := range statuses {
			if err := b.Put([]byte(id), []byte(st)); err != nil {
				return err
			}
		}
		return nil
	})
}

// =============================================================================
// Issue snapshot
// =============================================================================

// snapshotEntry keeps an issue with its display position.
type snapshotEntry struct {
	Seq   int          `json:"seq"`
	Issue *issue.Issue `json:"issue"`
}

// replaceIssues swaps the snapshot and returns the ids removed, so a caller
// keeping a search index can apply the same change.
func (s *BoltStore) replaceIssues(issues []*issue.Issue) (removed []string, err error) {
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(BucketIssues)
		keep := make(map[string]bool, len(issues))
		for _, i := range issues {
			keep[i.ID] = true
		}
		c := b.Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if !keep[string(k)] {
				// Copy key: cursor keys are only valid for the current position.
				removed = append(removed, string(append([]byte(nil), k...)))
			}
		}
		for _, id := range removed {
			if err := b.Delete([]byte(id)); err != nil {
				return err
			}
		}
		for n, i := range issues {
			data, err := json.Marshal(snapshotEntry{Seq: n, Issue: i})
			if err != nil {
				return fmt.Errorf("marshal issue %s: %w", i.ID, err)
			}
			if err := b.Put([]byte(i.ID), data); err != nil {
				return err
			}
		}
		return nil
	})
	return removed, err
}

// ReplaceIssues stores issues as the current snapshot.
func (s *BoltStore) ReplaceIssues(issues []*issue.Issue) error {
	_, err := s.replaceIssues(issues)
	return err
}

// GetIssue returns an issue from the snapshot.
func (s *BoltStore) GetIssue(id string) (*issue.Issue, error) {
	var e snapshotEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(BucketIssues).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: issue %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &e)
	})
	if err != nil {
		return nil, err
	}
	return e.Issue, nil
}

// ListIssues returns the snapshot issues matching opts, in display order.
// Text matching is a case-insensitive substring test on message and value.
func (s *BoltStore) ListIssues(opts SearchOptions) ([]*issue.Issue, error) {
	var entries []snapshotEntry
	needle := strings.ToLower(opts.Query)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(BucketIssues).ForEach(func(_, v []byte) error {
			var e snapshotEntry
			if err := json.Unmarshal(v, &e); err != nil || e.Issue == nil {
				return nil
			}
			if !opts.match(e.Issue) {
				return nil
			}
			if needle != "" &&
				!strings.Contains(strings.ToLower(e.Issue.Message), needle) &&
				!strings.Contains(strings.ToLower(e.Issue.Original), needle) {
				return nil
			}
			entries = append(entries, e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })

	limit := opts.limit()
	out := make([]*issue.Issue, 0, min(len(entries), limit))
	for _, e := range entries {
		if len(out) >= limit {
			break
		}
		out = append(out, e.Issue)
	}
	return out, nil
}
