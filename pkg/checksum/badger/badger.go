package badger

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittosync/pkg/checksum"
)

// Config contains configuration for the persistent checksum cache.
type Config struct {
	// DBPath is the directory where BadgerDB keeps its files.
	DBPath string `mapstructure:"db_path" validate:"required"`

	// InMemory runs Badger without touching disk (tests).
	InMemory bool `mapstructure:"in_memory"`
}

// Cache persists checksum records in BadgerDB so a restarted provider does
// not rehash its whole content tree.
//
// Key Layout:
//
//	"ck:" + path  ->  checksum.Record (JSON)
//
// Thread Safety:
// Badger transactions are safe for concurrent use; Cache adds no locking.
type Cache struct {
	db *badger.DB
}

var _ checksum.Cache = (*Cache)(nil)

const keyPrefix = "ck:"

func keyRecord(path string) []byte {
	return []byte(keyPrefix + path)
}

// New opens (or creates) the cache database.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.DBPath == "" {
			return nil, fmt.Errorf("badger checksum cache: db_path is required")
		}
		opts = badger.DefaultOptions(cfg.DBPath)
	}

	// Records are a few dozen bytes: no compression, small caches, quiet logs.
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)
	opts = opts.WithBlockCacheSize(16 << 20)
	opts = opts.WithIndexCacheSize(8 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", cfg.DBPath, err)
	}

	return &Cache{db: db}, nil
}

func (c *Cache) Get(ctx context.Context, path string) (checksum.Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return checksum.Record{}, false, err
	}

	var rec checksum.Record
	found := false

	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(keyRecord(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get checksum record: %w", err)
		}

		return item.Value(func(val []byte) error {
			if err := json.Unmarshal(val, &rec); err != nil {
				return fmt.Errorf("failed to decode checksum record: %w", err)
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return checksum.Record{}, false, mapClosed(err)
	}
	return rec, found, nil
}

func (c *Cache) Put(ctx context.Context, path string, rec checksum.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode checksum record: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(keyRecord(path), val)
	})
	return mapClosed(err)
}

func (c *Cache) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyRecord(path))
	})
	return mapClosed(err)
}

// Len counts stored records with a key-only iteration.
func (c *Cache) Len() (int, error) {
	n := 0
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	return n, mapClosed(err)
}

// Close closes the BadgerDB database and releases all resources.
func (c *Cache) Close() error {
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

func mapClosed(err error) error {
	if err == badger.ErrDBClosed {
		return checksum.ErrCacheClosed
	}
	return err
}
