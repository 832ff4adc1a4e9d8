package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

const (
	// DefaultPreferencesName is the preference file the tracking state lives in.
	DefaultPreferencesName = "io.github.lokarzz.pedometer"

	// StateKey is the fixed key the serialized TrackingState is stored under.
	StateKey = "PedometerData"
)

// Store represents the root storage interface.
type Store interface {
	Close() error
	Preferences(name string) PreferenceStore
}

// PreferenceStore is a private key-value preference file.
// Values are opaque strings; the last write for a key wins.
type PreferenceStore interface {
	GetString(ctx context.Context, key string) (string, error)
	PutString(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}
