package ports

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("key not found")

// KVStore хранилище сырых значений по ключу "namespace:id".
// Get возвращает ErrNotFound при промахе.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
}
