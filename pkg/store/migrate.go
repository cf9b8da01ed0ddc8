package store

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/blevesearch/bleve/v2/mapping"
	bolt "go.etcd.io/bbolt"
)

var storeLog = log.New(os.Stderr, "[sheetqa:store] ", log.Ltime)

// SchemaVersion is the layout this binary writes. Every step in migrations
// up to it must exist.
var SchemaVersion uint64 = 2

type migration struct {
	to    uint64
	name  string
	apply func(tx *bolt.Tx) error
}

// migrations are ordered by target version.
var migrations = []migration{
	{to: 1, name: "baseline schema stamp", apply: func(*bolt.Tx) error { return nil }},
	{to: 2, name: "remember dismissed statuses from the issue snapshot", apply: seedIssueStatuses},
}

// seedIssueStatuses copies dismissals from the issue snapshot into the
// issue_status bucket, leaving entries already there alone.
func seedIssueStatuses(tx *bolt.Tx) error {
	st, err := tx.CreateBucketIfNotExists(BucketIssueStatus)
	if err != nil {
		return err
	}
	snap := tx.Bucket(BucketIssues)
	if snap == nil {
		return nil
	}
	return snap.ForEach(func(id, raw []byte) error {
		var e snapshotEntry
		if json.Unmarshal(raw, &e) != nil || e.Issue == nil {
			return nil
		}
		if !e.Issue.Status.Dismissal() || st.Get(id) != nil {
			return nil
		}
		return st.Put(id, []byte(e.Issue.Status))
	})
}

// RunMigrations brings db up to SchemaVersion. Pending steps share one
// transaction, so a failing step leaves the database at its old version.
// A database newer than the binary is refused.
func RunMigrations(db *bolt.DB) error {
	from, err := GetSchemaVersion(db)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	switch {
	case from > SchemaVersion:
		return fmt.Errorf("schema version %d is newer than supported version %d", from, SchemaVersion)
	case from == SchemaVersion:
		return nil
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, m := range migrations {
			if m.to <= from || m.to > SchemaVersion {
				continue
			}
			storeLog.Printf("migrating to v%d: %s", m.to, m.name)
			if err := m.apply(tx); err != nil {
				return fmt.Errorf("v%d %s: %w", m.to, m.name, err)
			}
		}
		meta := tx.Bucket(BucketMeta)
		if meta == nil {
			return fmt.Errorf("bucket %s missing", BucketMeta)
		}
		return meta.Put([]byte(MetaSchemaVersion), encodeVersion(SchemaVersion))
	})
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// GetSchemaVersion returns the stored schema version, or 0 for a database
// that has never been stamped.
func GetSchemaVersion(db *bolt.DB) (uint64, error) {
	var v uint64
	err := db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(BucketMeta)
		if meta == nil {
			return nil
		}
		raw := meta.Get([]byte(MetaSchemaVersion))
		if raw == nil {
			return nil
		}
		var err error
		v, err = decodeVersion(raw)
		return err
	})
	return v, err
}

func encodeVersion(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func decodeVersion(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, fmt.Errorf("%s holds %d bytes, want 8", MetaSchemaVersion, len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

// MappingHash fingerprints a bleve mapping so a changed mapping triggers a
// rebuild of the search index.
func MappingHash(m mapping.IndexMapping) string {
	data, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
