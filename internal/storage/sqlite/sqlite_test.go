package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/goodtune/pedometer/internal/storage"
)

func TestPreferenceStoreUpsert(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	prefs := store.Preferences(storage.DefaultPreferencesName)

	if _, err := prefs.GetString(ctx, storage.StateKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	for _, value := range []string{"first", "second"} {
		if err := prefs.PutString(ctx, storage.StateKey, value); err != nil {
			t.Fatalf("put %s: %v", value, err)
		}
	}

	value, err := prefs.GetString(ctx, storage.StateKey)
	if err != nil {
		t.Fatalf("get string: %v", err)
	}
	if value != "second" {
		t.Fatalf("expected second, got %s", value)
	}
}

func TestPreferenceStoreKeysAndRemove(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	prefs := store.Preferences("a")
	_ = prefs.PutString(ctx, "z", "1")
	_ = prefs.PutString(ctx, "y", "2")
	_ = store.Preferences("b").PutString(ctx, "x", "3")

	keys, err := prefs.Keys(ctx)
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 || keys[0] != "y" || keys[1] != "z" {
		t.Fatalf("expected [y z], got %v", keys)
	}

	if err := prefs.Remove(ctx, "y"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := prefs.Remove(ctx, "y"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pedometer.db")

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = store.Close() }()

	var version int
	if err := store.db.QueryRow("SELECT MAX(version) FROM migrations").Scan(&version); err != nil {
		t.Fatalf("query version: %v", err)
	}
	if version != len(getMigrations()) {
		t.Fatalf("expected version %d, got %d", len(getMigrations()), version)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "pedometer.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
