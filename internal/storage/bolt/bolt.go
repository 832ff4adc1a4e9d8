package bolt

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/pedometer/internal/storage"
	"go.etcd.io/bbolt"
)

const bucketPreferences = "preferences"

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(bucketPreferences)); err != nil {
			return fmt.Errorf("create bucket %s: %w", bucketPreferences, err)
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Preferences returns the preference file with the given name.
func (s *Store) Preferences(name string) storage.PreferenceStore {
	return &preferenceStore{db: s.db, name: name}
}

// fileBucket returns the nested bucket for a preference file, or nil if it
// has never been written.
func fileBucket(tx *bbolt.Tx, name string) *bbolt.Bucket {
	root := tx.Bucket([]byte(bucketPreferences))
	if root == nil {
		return nil
	}
	return root.Bucket([]byte(name))
}

func ensureFileBucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	root := tx.Bucket([]byte(bucketPreferences))
	if root == nil {
		return nil, fmt.Errorf("preferences bucket missing")
	}
	b, err := root.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("create preference file %s: %w", name, err)
	}
	return b, nil
}

func viewFile(ctx context.Context, db *bbolt.DB, name string, fn func(*bbolt.Bucket) error) error {
	return db.View(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fn(fileBucket(tx, name))
	})
}

func updateFile(ctx context.Context, db *bbolt.DB, name string, fn func(*bbolt.Bucket) error) error {
	return db.Update(func(tx *bbolt.Tx) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		b, err := ensureFileBucket(tx, name)
		if err != nil {
			return err
		}
		return fn(b)
	})
}
