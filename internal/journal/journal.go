// Package journal persists the last lifecycle state of every processed file so that an
// interrupted run can be detected and resumed.
package journal

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Buckets, one per action.
var (
	EncryptBucket = []byte("encrypt")
	DecryptBucket = []byte("decrypt")
)

// DefaultDir holds the journal inside the traversal root.
const DefaultDir = ".vaultseal"

// DefaultName is the journal file name inside DefaultDir.
const DefaultName = "journal.db"

const openTimeout = time.Second

// ErrUnknownAction is returned for actions without a bucket.
var ErrUnknownAction = errors.New("unknown action")

//nolint:gochecknoglobals
var terminal = []string{"done", "skipped", "failed"}

// Entry is the last recorded state of a file.
type Entry struct {
	Action  string    `json:"action"`
	Path    string    `json:"path"`
	State   string    `json:"state"`
	Detail  string    `json:"detail,omitempty"`
	Updated time.Time `json:"updated"`
}

// Terminal reports whether the entry reached a final state.
func (e Entry) Terminal() bool {
	return slices.Contains(terminal, e.State)
}

// Journal is a bbolt-backed state log.
type Journal struct {
	db  *bolt.DB
	now func() time.Time
}

// Open opens or creates the journal at path, creating parent directories.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: openTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening journal %q: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{EncryptBucket, DecryptBucket} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("creating bucket %s: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Path returns the journal file location.
func (j *Journal) Path() string {
	return j.db.Path()
}

// Record stores the latest state of path, replacing any earlier one.
func (j *Journal) Record(action, path, state, detail string) error {
	bucket, err := bucketFor(action)
	if err != nil {
		return err
	}

	data, err := json.Marshal(Entry{Action: action, Path: path, State: state, Detail: detail, Updated: j.now().UTC()})
	if err != nil {
		return fmt.Errorf("encoding journal entry: %w", err)
	}

	return j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Put([]byte(path), data)
	})
}

// Entries returns every entry of action, ordered by path.
func (j *Journal) Entries(action string) ([]Entry, error) {
	bucket, err := bucketFor(action)
	if err != nil {
		return nil, err
	}

	var entries []Entry

	err = j.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding journal entry %q: %w", k, err)
			}

			entries = append(entries, e)

			return nil
		})
	})

	return entries, err
}

// Pending returns entries of action that never reached a final state.
func (j *Journal) Pending(action string) ([]Entry, error) {
	entries, err := j.Entries(action)
	if err != nil {
		return nil, err
	}

	return slices.DeleteFunc(entries, Entry.Terminal), nil
}

// Prune removes entries of action that completed or were skipped, keeping failures
// and interrupted files. It returns the number of removed entries.
func (j *Journal) Prune(action string) (int, error) {
	bucket, err := bucketFor(action)
	if err != nil {
		return 0, err
	}

	var removed int

	err = j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucket)

		var keys [][]byte

		err := b.ForEach(func(k, v []byte) error {
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("decoding journal entry %q: %w", k, err)
			}

			if e.State == "done" || e.State == "skipped" {
				keys = append(keys, append([]byte(nil), k...))
			}

			return nil
		})
		if err != nil {
			return err
		}

		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		removed = len(keys)

		return nil
	})

	return removed, err
}

func bucketFor(action string) ([]byte, error) {
	switch action {
	case string(EncryptBucket):
		return EncryptBucket, nil
	case string(DecryptBucket):
		return DecryptBucket, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}
