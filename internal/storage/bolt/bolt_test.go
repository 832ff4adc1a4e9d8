package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/goodtune/pedometer/internal/storage"
)

func TestPreferenceStorePutGet(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	prefs := store.Preferences(storage.DefaultPreferencesName)
	ctx := context.Background()

	if _, err := prefs.GetString(ctx, storage.StateKey); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first write, got %v", err)
	}

	if err := prefs.PutString(ctx, storage.StateKey, `{"stepsOnLastTimeStamp":1}`); err != nil {
		t.Fatalf("put string: %v", err)
	}
	if err := prefs.PutString(ctx, storage.StateKey, `{"stepsOnLastTimeStamp":2}`); err != nil {
		t.Fatalf("overwrite string: %v", err)
	}

	value, err := prefs.GetString(ctx, storage.StateKey)
	if err != nil {
		t.Fatalf("get string: %v", err)
	}
	if value != `{"stepsOnLastTimeStamp":2}` {
		t.Fatalf("expected last write to win, got %s", value)
	}
}

func TestPreferenceFilesAreIsolated(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	if err := store.Preferences("a").PutString(ctx, "k", "1"); err != nil {
		t.Fatalf("put string: %v", err)
	}

	if _, err := store.Preferences("b").GetString(ctx, "k"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound in other file, got %v", err)
	}

	keys, err := store.Preferences("b").Keys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 0 {
		t.Fatalf("expected no keys, got %v", keys)
	}
}

func TestPreferenceStoreRemoveAndKeys(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	prefs := store.Preferences("prefs")

	for _, key := range []string{"one", "two"} {
		if err := prefs.PutString(ctx, key, "v"); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	if err := prefs.Remove(ctx, "one"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := prefs.Remove(ctx, "one"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound removing twice, got %v", err)
	}

	keys, err := prefs.Keys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 1 || keys[0] != "two" {
		t.Fatalf("expected [two], got %v", keys)
	}
}

func TestStoreReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pedometer.bolt")
	ctx := context.Background()

	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Preferences("p").PutString(ctx, "k", "v"); err != nil {
		t.Fatalf("put string: %v", err)
	}
	_ = store.Close()

	store, err = Open(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer func() { _ = store.Close() }()

	value, err := store.Preferences("p").GetString(ctx, "k")
	if err != nil || value != "v" {
		t.Fatalf("expected v after reopen, got %q (%v)", value, err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "pedometer.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
