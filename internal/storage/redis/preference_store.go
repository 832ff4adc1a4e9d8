package redis

import (
	"context"
	"errors"
	"time"

	"github.com/goodtune/pedometer/internal/storage"
	"github.com/redis/go-redis/v9"
)

var (
	putScript    = redis.NewScript(putPreferenceScript)
	removeScript = redis.NewScript(removePreferenceScript)
)

type preferenceStore struct {
	client *redis.Client
	name   string
}

// GetString returns the value stored under key
func (s *preferenceStore) GetString(ctx context.Context, key string) (string, error) {
	value, err := s.client.HGet(ctx, prefsKey(s.name), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

// PutString writes value under key, replacing any previous value
func (s *preferenceStore) PutString(ctx context.Context, key, value string) error {
	keys := []string{prefsKey(s.name), metaKey(s.name), indexKey}
	args := []interface{}{s.name, key, value, time.Now().UTC().Format(time.RFC3339Nano)}

	return putScript.Run(ctx, s.client, keys, args...).Err()
}

// Remove deletes key from the preference file
func (s *preferenceStore) Remove(ctx context.Context, key string) error {
	removed, err := removeScript.Run(ctx, s.client, []string{prefsKey(s.name), metaKey(s.name)}, key).Int()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Keys lists the keys of the preference file
func (s *preferenceStore) Keys(ctx context.Context) ([]string, error) {
	return s.client.HKeys(ctx, prefsKey(s.name)).Result()
}

// UpdatedAt returns when key was last written
func (s *preferenceStore) UpdatedAt(ctx context.Context, key string) (time.Time, error) {
	value, err := s.client.HGet(ctx, metaKey(s.name), key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, storage.ErrNotFound
	}
	if err != nil {
		return time.Time{}, err
	}
	return parseUpdatedAt(value)
}
