// Package memory implements an in-memory key/value store for development and
// testing.
package memory

import (
	"context"
	"sort"
	"sync"

	"parkmon/internal/domain"
)

// DB implements an in-memory key/value storage.
type DB struct {
	mu    sync.Mutex
	items map[string]string
}

// New creates a new in-memory database.
func New() *DB {
	return &DB{
		items: make(map[string]string),
	}
}

// Ensure interfaces are met.
var _ domain.KeyValueStore = (*DB)(nil)

// GetItem returns the value stored under key.
func (db *DB) GetItem(ctx context.Context, key string) (string, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	v, ok := db.items[key]
	return v, ok, nil
}

// SetItem stores value under key, replacing any previous value.
func (db *DB) SetItem(ctx context.Context, key, value string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.items[key] = value
	return nil
}

// RemoveItem deletes key. Removing a missing key is not an error.
func (db *DB) RemoveItem(ctx context.Context, key string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	delete(db.items, key)
	return nil
}

// Keys lists the stored keys in sorted order.
func (db *DB) Keys() []string {
	db.mu.Lock()
	defer db.mu.Unlock()

	keys := make([]string, 0, len(db.items))
	for k := range db.items {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
