// Package neo4j provides a directory store backed by a Neo4j database.
//
// Each entry is one (:Entry) node keyed by its slash-joined path, with the
// attribute map serialized to a JSON string property (Neo4j properties
// cannot hold nested maps). Child counting is a STARTS WITH scan over
// paths. Every operation runs in its own managed transaction.
package neo4j

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/collabtree/collabd/pkg/directory"
)

// Config holds Neo4j connection configuration.
type Config struct {
	URI      string `mapstructure:"uri" validate:"required"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

// Store implements directory.Connector over a shared Neo4j driver. The
// driver pools connections internally; Connect hands out lightweight
// handles on it.
type Store struct {
	driver   neo4j.DriverWithContext
	database string
}

// New creates the store and verifies connectivity.
func New(ctx context.Context, config Config) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(
		config.URI,
		neo4j.BasicAuth(config.Username, config.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("connecting to neo4j: %w", err)
	}

	database := config.Database
	if database == "" {
		database = "neo4j"
	}
	return &Store{driver: driver, database: database}, nil
}

// Connect returns a connection backed by the shared driver.
func (s *Store) Connect(ctx context.Context) (directory.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &conn{store: s, alive: true}, nil
}

// Close closes the underlying driver and its connection pool.
func (s *Store) Close() error {
	return s.driver.Close(context.Background())
}

type conn struct {
	store *Store
	alive bool
}

func (c *conn) Close() error {
	c.alive = false
	return nil
}

func (c *conn) IsAlive() bool { return c.alive }

func (c *conn) session(ctx context.Context) neo4j.SessionWithContext {
	return c.store.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: c.store.database})
}

// nodeEntry mirrors one (:Entry) node in Go.
type nodeEntry struct {
	attrs    map[string][]string
	created  time.Time
	modified time.Time
}

func getEntryTx(ctx context.Context, tx neo4j.ManagedTransaction, path directory.Path) (*nodeEntry, error) {
	result, err := tx.Run(ctx,
		`MATCH (n:Entry {path: $path}) RETURN n.attributes AS attributes, n.created AS created, n.modified AS modified`,
		map[string]any{"path": path.String()})
	if err != nil {
		return nil, err
	}
	if !result.Next(ctx) {
		return nil, directory.NotFound(path)
	}

	record := result.Record()
	e := &nodeEntry{attrs: make(map[string][]string)}

	if raw, ok := record.Get("attributes"); ok {
		if s, ok := raw.(string); ok && s != "" {
			if err := json.Unmarshal([]byte(s), &e.attrs); err != nil {
				return nil, fmt.Errorf("unmarshaling attributes of %s: %w", path, err)
			}
		}
	}
	if raw, ok := record.Get("created"); ok {
		if s, ok := raw.(string); ok {
			e.created, _ = time.Parse(time.RFC3339Nano, s)
		}
	}
	if raw, ok := record.Get("modified"); ok {
		if s, ok := raw.(string); ok {
			e.modified, _ = time.Parse(time.RFC3339Nano, s)
		}
	}
	return e, nil
}

func writeAttributesTx(ctx context.Context, tx neo4j.ManagedTransaction, path directory.Path, attrs map[string][]string) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshaling attributes of %s: %w", path, err)
	}
	_, err = tx.Run(ctx,
		`MATCH (n:Entry {path: $path}) SET n.attributes = $attributes, n.modified = $modified`,
		map[string]any{
			"path":       path.String(),
			"attributes": string(data),
			"modified":   time.Now().UTC().Format(time.RFC3339Nano),
		})
	return err
}

// mergeEntryTx creates the node if absent, leaving existing attributes
// untouched.
func mergeEntryTx(ctx context.Context, tx neo4j.ManagedTransaction, path directory.Path, attrs map[string][]string) error {
	data, err := json.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshaling attributes of %s: %w", path, err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = tx.Run(ctx,
		`MERGE (n:Entry {path: $path})
		 ON CREATE SET n.attributes = $attributes, n.created = $now, n.modified = $now`,
		map[string]any{
			"path":       path.String(),
			"attributes": string(data),
			"now":        now,
		})
	return err
}

func (c *conn) Exists(ctx context.Context, path directory.Path) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx,
			`MATCH (n:Entry {path: $path}) RETURN count(n) AS count`,
			map[string]any{"path": path.String()})
		if err != nil {
			return nil, err
		}
		record, err := result.Single(ctx)
		if err != nil {
			return nil, err
		}
		count, _ := record.Get("count")
		return count.(int64) > 0, nil
	})
	if err != nil {
		return false, err
	}
	return result.(bool), nil
}

func (c *conn) Create(ctx context.Context, path directory.Path, attrs map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	session := c.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := getEntryTx(ctx, tx, path); err == nil {
			return nil, directory.ValueExists(path, "entry")
		} else if !directory.IsCode(err, directory.ErrNotFound) {
			return nil, err
		}

		// Missing intermediate containers are created as empty entries.
		for i := 1; i < len(path); i++ {
			if err := mergeEntryTx(ctx, tx, path[:i], nil); err != nil {
				return nil, err
			}
		}
		return nil, mergeEntryTx(ctx, tx, path, attrs)
	})
	return err
}

func (c *conn) ReadAttribute(ctx context.Context, path directory.Path, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		e, err := getEntryTx(ctx, tx, path)
		if err != nil {
			return nil, err
		}
		values, ok := e.attrs[name]
		if !ok || len(values) == 0 {
			return nil, directory.NoSuchAttribute(path, name)
		}
		return values, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (c *conn) ReadAllAttributes(ctx context.Context, path directory.Path) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		e, err := getEntryTx(ctx, tx, path)
		if err != nil {
			return nil, err
		}
		return e.attrs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(map[string][]string), nil
}

// mutate loads the entry, applies fn to its attribute map and writes the
// map back, all in one managed transaction.
func (c *conn) mutate(ctx context.Context, path directory.Path, fn func(attrs map[string][]string) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	session := c.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		e, err := getEntryTx(ctx, tx, path)
		if err != nil {
			return nil, err
		}
		if err := fn(e.attrs); err != nil {
			return nil, err
		}
		return nil, writeAttributesTx(ctx, tx, path, e.attrs)
	})
	return err
}

func (c *conn) WriteAttribute(ctx context.Context, path directory.Path, name, value string) error {
	return c.mutate(ctx, path, func(attrs map[string][]string) error {
		attrs[name] = []string{value}
		return nil
	})
}

func (c *conn) AddValue(ctx context.Context, path directory.Path, name, value string) error {
	return c.mutate(ctx, path, func(attrs map[string][]string) error {
		for _, existing := range attrs[name] {
			if existing == value {
				return directory.ValueExists(path, name)
			}
		}
		attrs[name] = append(attrs[name], value)
		return nil
	})
}

func (c *conn) ModifyValue(ctx context.Context, path directory.Path, name, oldValue, newValue string) error {
	return c.mutate(ctx, path, func(attrs map[string][]string) error {
		values, ok := attrs[name]
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
	return c.mutate(ctx, path, func(attrs map[string][]string) error {
		if _, ok := attrs[name]; !ok {
			return directory.NoSuchAttribute(path, name)
		}
		delete(attrs, name)
		return nil
	})
}

func (c *conn) RemoveValue(ctx context.Context, path directory.Path, name, value string) error {
	return c.mutate(ctx, path, func(attrs map[string][]string) error {
		values, ok := attrs[name]
		if !ok {
			return directory.NoSuchAttribute(path, name)
		}
		for i, existing := range values {
			if existing == value {
				values = append(values[:i], values[i+1:]...)
				if len(values) == 0 {
					delete(attrs, name)
				} else {
					attrs[name] = values
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
	session := c.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		from, err := getEntryTx(ctx, tx, src)
		if err != nil {
			return nil, err
		}

		to, err := getEntryTx(ctx, tx, dst)
		if err != nil {
			if !directory.IsCode(err, directory.ErrNotFound) {
				return nil, err
			}
			for i := 1; i < len(dst); i++ {
				if err := mergeEntryTx(ctx, tx, dst[:i], nil); err != nil {
					return nil, err
				}
			}
			if err := mergeEntryTx(ctx, tx, dst, nil); err != nil {
				return nil, err
			}
			to = &nodeEntry{attrs: make(map[string][]string)}
		}
		for name, values := range from.attrs {
			to.attrs[name] = append([]string(nil), values...)
		}
		return nil, writeAttributesTx(ctx, tx, dst, to.attrs)
	})
	return err
}

func (c *conn) ChildLabels(ctx context.Context, path directory.Path) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	session := c.session(ctx)
	defer session.Close(ctx)

	prefix := path.String() + "/"
	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		// Direct children only: the path remainder after the prefix holds
		// no further separator.
		result, err := tx.Run(ctx,
			`MATCH (n:Entry)
			 WHERE n.path STARTS WITH $prefix
			   AND NOT substring(n.path, size($prefix)) CONTAINS '/'
			 RETURN substring(n.path, size($prefix)) AS label`,
			map[string]any{"prefix": prefix})
		if err != nil {
			return nil, err
		}
		var labels []string
		for result.Next(ctx) {
			if raw, ok := result.Record().Get("label"); ok {
				if label, ok := raw.(string); ok {
					labels = append(labels, label)
				}
			}
		}
		return labels, result.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]string), nil
}

func (c *conn) Timestamps(ctx context.Context, path directory.Path) (time.Time, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	session := c.session(ctx)
	defer session.Close(ctx)

	result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		e, err := getEntryTx(ctx, tx, path)
		if err != nil {
			return nil, err
		}
		return [2]time.Time{e.created, e.modified}, nil
	})
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	stamps := result.([2]time.Time)
	return stamps[0], stamps[1], nil
}
