package driver

import (
	"context"
	"errors"
)

// ErrKeyNotFound returned by KeyValueDB.Get when the key is absent
var ErrKeyNotFound = errors.New("key not found")

// KeyValueDB define a key-value storage interface
//
// implementations must make Set visible to a subsequent Get on the same instance
type KeyValueDB interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value string) error
	Remove(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
