// Package metadata is a small key/value store in the local SQLite database.
// The sealed device identity, its publish flag and the device secret live
// here.
package metadata

import "context"

// Repository stores opaque byte values by key. Get returns (nil, nil) for
// missing keys.
type Repository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Has(ctx context.Context, key string) (bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}
