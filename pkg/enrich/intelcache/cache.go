// Package intelcache is a TTL cache for enrichment provider results
// (geolocation, threat intelligence). It is badger-backed so cached
// verdicts survive restarts; an in-memory mode backs tests and deployments
// without a writable data directory.
package intelcache

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/securewatch/ingest/internal/logger"
)

// Cache is a key-value store with per-entry TTL.
type Cache struct {
	db *badger.DB
}

// Open opens (or creates) a persistent cache at path.
func Open(path string) (*Cache, error) {
	opts := badger.DefaultOptions(path).
		WithLogger(nil).
		WithCompactL0OnClose(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening intel cache at %s: %w", path, err)
	}
	logger.Debug("intel cache opened", "path", path)
	return &Cache{db: db}, nil
}

// OpenInMemory opens a cache that lives only for the process lifetime.
func OpenInMemory() (*Cache, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening in-memory intel cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Get returns the cached value for key, or ok=false when absent or expired.
func (c *Cache) Get(key string) (value []byte, ok bool, err error) {
	err = c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("intel cache get %q: %w", key, err)
	}
	return value, true, nil
}

// Set stores value under key for ttl. A non-positive ttl stores forever.
func (c *Cache) Set(key string, value []byte, ttl time.Duration) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("intel cache set %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting an absent key is not an error.
func (c *Cache) Delete(key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("intel cache delete %q: %w", key, err)
	}
	return nil
}

// Close flushes and closes the underlying store.
func (c *Cache) Close() error {
	return c.db.Close()
}
