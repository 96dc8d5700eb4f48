// Package store defines the expiring key/value contract shared by tokens and
// sessions, with memory, Redis and Badger backends in sub-packages.
package store

import (
	"context"
	"errors"
	"time"
)

// Store is an expiring key/value store. Get on a missing or expired key
// returns ErrNotFound; any other error means the backend is unavailable.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Destroy(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}

// Sweeper is implemented by backends that need an explicit pass to drop
// expired entries.
type Sweeper interface {
	DeleteExpired() int
}

var ErrNotFound = errors.New("store: key not found")
