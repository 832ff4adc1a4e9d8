package bolt

import (
	"context"

	"github.com/goodtune/pedometer/internal/storage"
	"go.etcd.io/bbolt"
)

type preferenceStore struct {
	db   *bbolt.DB
	name string
}

func (s *preferenceStore) GetString(ctx context.Context, key string) (string, error) {
	var value string
	err := viewFile(ctx, s.db, s.name, func(b *bbolt.Bucket) error {
		if b == nil {
			return storage.ErrNotFound
		}
		data := b.Get([]byte(key))
		if data == nil {
			return storage.ErrNotFound
		}
		value = string(data)
		return nil
	})
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *preferenceStore) PutString(ctx context.Context, key, value string) error {
	return updateFile(ctx, s.db, s.name, func(b *bbolt.Bucket) error {
		return b.Put([]byte(key), []byte(value))
	})
}

func (s *preferenceStore) Remove(ctx context.Context, key string) error {
	return updateFile(ctx, s.db, s.name, func(b *bbolt.Bucket) error {
		if b.Get([]byte(key)) == nil {
			return storage.ErrNotFound
		}
		return b.Delete([]byte(key))
	})
}

func (s *preferenceStore) Keys(ctx context.Context) ([]string, error) {
	keys := make([]string, 0)
	err := viewFile(ctx, s.db, s.name, func(b *bbolt.Bucket) error {
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}
