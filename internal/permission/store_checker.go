package permission

import (
	"context"
	"errors"

	"github.com/goodtune/pedometer/internal/storage"
	"github.com/rs/zerolog"
)

const grantedValue = "granted"

// StoreChecker keeps prompt results in a preference file so grants survive
// restarts. Provisioned permissions are always granted.
type StoreChecker struct {
	prefs       storage.PreferenceStore
	provisioned map[string]bool
	logger      zerolog.Logger
}

// NewStoreChecker creates a checker over prefs.
func NewStoreChecker(prefs storage.PreferenceStore, provisioned []string, logger zerolog.Logger) *StoreChecker {
	c := &StoreChecker{
		prefs:       prefs,
		provisioned: make(map[string]bool, len(provisioned)),
		logger:      logger.With().Str("component", "permission-store").Logger(),
	}
	for _, p := range provisioned {
		c.provisioned[p] = true
	}
	return c
}

// Granted implements Checker.
func (c *StoreChecker) Granted(ctx context.Context, permission string) bool {
	if c.provisioned[permission] {
		return true
	}

	value, err := c.prefs.GetString(ctx, permission)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			c.logger.Error().Err(err).Str("permission", permission).Msg("Failed to read permission grant")
		}
		return false
	}
	return value == grantedValue
}

// Record implements Recorder.
func (c *StoreChecker) Record(permission string, granted bool) {
	ctx := context.Background()

	var err error
	if granted {
		err = c.prefs.PutString(ctx, permission, grantedValue)
	} else {
		err = c.prefs.Remove(ctx, permission)
		if errors.Is(err, storage.ErrNotFound) {
			err = nil
		}
	}
	if err != nil {
		c.logger.Error().Err(err).Str("permission", permission).Bool("granted", granted).Msg("Failed to record permission grant")
	}
}
