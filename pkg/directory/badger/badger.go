// Package badger provides a persistent directory store backed by BadgerDB.
//
// Every entry is one key-value pair: the key is the slash-joined entry
// path under the "entry/" namespace, the value a JSON document holding the
// attribute map and timestamps. Point lookups serve reads and writes;
// prefix scans serve child counting. BadgerDB's transactions give each
// operation atomicity without any locking in this package.
package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/collabtree/collabd/pkg/directory"
)

// entryKeyPrefix namespaces entry documents so future key types (indexes,
// schema version) cannot collide with entry paths.
const entryKeyPrefix = "entry/"

// storedEntry is the on-disk document for one directory entry.
type storedEntry struct {
	Attributes map[string][]string `json:"attributes"`
	Created    time.Time           `json:"created"`
	Modified   time.Time           `json:"modified"`
}

// Config holds configuration for the BadgerDB directory store.
type Config struct {
	// Path is the directory where BadgerDB stores its files. Ignored when
	// InMemory is set.
	Path string `mapstructure:"path"`

	// InMemory runs the database without persistence. Used by tests.
	InMemory bool `mapstructure:"in_memory"`
}

// Store implements directory.Connector backed by a BadgerDB database.
// All connections share the one database handle; BadgerDB is internally
// thread-safe.
type Store struct {
	db *badger.DB
}

// New opens (or creates) the database and returns the store.
func New(config Config) (*Store, error) {
	if !config.InMemory && config.Path == "" {
		return nil, fmt.Errorf("badger directory store requires a path")
	}

	opts := badger.DefaultOptions(config.Path).
		WithInMemory(config.InMemory).
		WithLoggingLevel(badger.WARNING).
		WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.Path, err)
	}
	return &Store{db: db}, nil
}

// Connect returns a connection sharing the store's database handle.
func (s *Store) Connect(ctx context.Context) (directory.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &conn{db: s.db, alive: true}, nil
}

// Close closes the underlying database. Outstanding connections become
// unusable.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

type conn struct {
	db    *badger.DB
	alive bool
}

func (c *conn) Close() error {
	c.alive = false
	return nil
}

func (c *conn) IsAlive() bool {
	return c.alive && !c.db.IsClosed()
}

func entryKey(path directory.Path) []byte {
	return []byte(entryKeyPrefix + path.String())
}

func getEntry(txn *badger.Txn, path directory.Path) (*storedEntry, error) {
	item, err := txn.Get(entryKey(path))
	if err == badger.ErrKeyNotFound {
		return nil, directory.NotFound(path)
	}
	if err != nil {
		return nil, err
	}

	var e storedEntry
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &e)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode entry %s: %w", path, err)
	}
	return &e, nil
}

func putEntry(txn *badger.Txn, path directory.Path, e *storedEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry %s: %w", path, err)
	}
	return txn.Set(entryKey(path), data)
}

func newStoredEntry(attrs map[string][]string) *storedEntry {
	now := time.Now()
	e := &storedEntry{Attributes: make(map[string][]string), Created: now, Modified: now}
	for name, values := range attrs {
		e.Attributes[name] = append([]string(nil), values...)
	}
	return e
}

func (c *conn) Exists(ctx context.Context, path directory.Path) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	exists := false
	err := c.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(entryKey(path))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		exists = true
		return nil
	})
	return exists, err
}

func (c *conn) Create(ctx context.Context, path directory.Path, attrs map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(entryKey(path)); err == nil {
			return directory.ValueExists(path, "entry")
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		// Missing intermediate containers are created as empty entries.
		for i := 1; i < len(path); i++ {
			prefix := path[:i]
			_, err := txn.Get(entryKey(prefix))
			if err == badger.ErrKeyNotFound {
				if err := putEntry(txn, prefix, newStoredEntry(nil)); err != nil {
					return err
				}
			} else if err != nil {
				return err
			}
		}
		return putEntry(txn, path, newStoredEntry(attrs))
	})
}

func (c *conn) ReadAttribute(ctx context.Context, path directory.Path, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var values []string
	err := c.db.View(func(txn *badger.Txn) error {
		e, err := getEntry(txn, path)
		if err != nil {
			return err
		}
		stored, ok := e.Attributes[name]
		if !ok || len(stored) == 0 {
			return directory.NoSuchAttribute(path, name)
		}
		values = append([]string(nil), stored...)
		return nil
	})
	return values, err
}

func (c *conn) ReadAllAttributes(ctx context.Context, path directory.Path) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out map[string][]string
	err := c.db.View(func(txn *badger.Txn) error {
		e, err := getEntry(txn, path)
		if err != nil {
			return err
		}
		out = make(map[string][]string, len(e.Attributes))
		for name, values := range e.Attributes {
			out[name] = append([]string(nil), values...)
		}
		return nil
	})
	return out, err
}

// mutate loads the entry, applies fn and writes it back with a fresh
// modification time, all in one transaction.
func (c *conn) mutate(ctx context.Context, path directory.Path, fn func(e *storedEntry) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		e, err := getEntry(txn, path)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		e.Modified = time.Now()
		return putEntry(txn, path, e)
	})
}

func (c *conn) WriteAttribute(ctx context.Context, path directory.Path, name, value string) error {
	return c.mutate(ctx, path, func(e *storedEntry) error {
		e.Attributes[name] = []string{value}
		return nil
	})
}

func (c *conn) AddValue(ctx context.Context, path directory.Path, name, value string) error {
	return c.mutate(ctx, path, func(e *storedEntry) error {
		for _, existing := range e.Attributes[name] {
			if existing == value {
				return directory.ValueExists(path, name)
			}
		}
		e.Attributes[name] = append(e.Attributes[name], value)
		return nil
	})
}

func (c *conn) ModifyValue(ctx context.Context, path directory.Path, name, oldValue, newValue string) error {
	return c.mutate(ctx, path, func(e *storedEntry) error {
		values, ok := e.Attributes[name]
		if !ok {
			return directory.NoSuchAttribute(path, name)
		}
		for _, existing := range values {
			if existing == newValue {
				return directory.ValueExists(path, name)
			}
		}
		for i, existing := range values {
			if existing == oldValue {
				values[i] = newValue
				return nil
			}
		}
		return directory.NoSuchValue(path, name)
	})
}

func (c *conn) RemoveAttribute(ctx context.Context, path directory.Path, name string) error {
	return c.mutate(ctx, path, func(e *storedEntry) error {
		if _, ok := e.Attributes[name]; !ok {
			return directory.NoSuchAttribute(path, name)
		}
		delete(e.Attributes, name)
		return nil
	})
}

func (c *conn) RemoveValue(ctx context.Context, path directory.Path, name, value string) error {
	return c.mutate(ctx, path, func(e *storedEntry) error {
		values, ok := e.Attributes[name]
		if !ok {
			return directory.NoSuchAttribute(path, name)
		}
		for i, existing := range values {
			if existing == value {
				values = append(values[:i], values[i+1:]...)
				if len(values) == 0 {
					delete(e.Attributes, name)
				} else {
					e.Attributes[name] = values
				}
				return nil
			}
		}
		return directory.NoSuchValue(path, name)
	})
}

func (c *conn) CopyEntry(ctx context.Context, src, dst directory.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.db.Update(func(txn *badger.Txn) error {
		from, err := getEntry(txn, src)
		if err != nil {
			return err
		}

		to, err := getEntry(txn, dst)
		if err != nil {
			if !directory.IsCode(err, directory.ErrNotFound) {
				return err
			}
			for i := 1; i < len(dst); i++ {
				prefix := dst[:i]
				_, gerr := txn.Get(entryKey(prefix))
				if gerr == badger.ErrKeyNotFound {
					if perr := putEntry(txn, prefix, newStoredEntry(nil)); perr != nil {
						return perr
					}
				} else if gerr != nil {
					return gerr
				}
			}
			to = newStoredEntry(nil)
		}
		for name, values := range from.Attributes {
			to.Attributes[name] = append([]string(nil), values...)
		}
		to.Modified = time.Now()
		return putEntry(txn, dst, to)
	})
}

func (c *conn) ChildLabels(ctx context.Context, path directory.Path) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var labels []string
	prefix := []byte(entryKeyPrefix + path.String() + "/")
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			remainder := string(it.Item().Key()[len(prefix):])
			if !strings.Contains(remainder, "/") {
				labels = append(labels, remainder)
			}
		}
		return nil
	})
	return labels, err
}

func (c *conn) Timestamps(ctx context.Context, path directory.Path) (time.Time, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	var created, modified time.Time
	err := c.db.View(func(txn *badger.Txn) error {
		e, err := getEntry(txn, path)
		if err != nil {
			return err
		}
		created, modified = e.Created, e.Modified
		return nil
	})
	return created, modified, err
}
