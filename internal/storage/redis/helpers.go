package redis

import (
	"fmt"
	"time"
)

const indexKey = "pedometer:prefs:index"

// prefsKey is the hash holding a preference file's values
func prefsKey(name string) string {
	return fmt.Sprintf("pedometer:prefs:%s", name)
}

// metaKey is the hash holding the last write time of each key
func metaKey(name string) string {
	return fmt.Sprintf("pedometer:prefs:%s:meta", name)
}

// parseUpdatedAt converts a stored write time
func parseUpdatedAt(value string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse updated_at: %w", err)
	}
	return ts, nil
}
