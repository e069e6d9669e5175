// Package memory provides an in-memory directory store.
//
// It is the default backend for development and tests: no external
// process, no persistence. All connections returned by the connector share
// one mutex-guarded tree, mirroring how separate connections to a real
// directory service see the same data.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/collabtree/collabd/pkg/directory"
)

type entry struct {
	attrs    map[string][]string
	created  time.Time
	modified time.Time
}

// tree is the shared store state.
type tree struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// Store implements directory.Connector backed by process memory.
type Store struct {
	tree *tree
}

// Config holds memory store options. There are none yet; the type exists
// so the config factory can decode a (possibly empty) options map.
type Config struct{}

// New creates an empty in-memory directory store.
func New(Config) *Store {
	return &Store{tree: &tree{entries: make(map[string]*entry)}}
}

// Connect returns a new connection sharing the store's tree.
func (s *Store) Connect(ctx context.Context) (directory.Connection, error) {
	return &conn{tree: s.tree, alive: true}, nil
}

// Close releases the store. The tree is garbage collected with it.
func (s *Store) Close() error { return nil }

// conn is one session's handle on the shared tree.
type conn struct {
	tree  *tree
	alive bool
}

func (c *conn) Close() error {
	c.alive = false
	return nil
}

func (c *conn) IsAlive() bool { return c.alive }

func (c *conn) Exists(ctx context.Context, path directory.Path) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.tree.mu.RLock()
	defer c.tree.mu.RUnlock()
	_, ok := c.tree.entries[path.String()]
	return ok, nil
}

func (c *conn) Create(ctx context.Context, path directory.Path, attrs map[string][]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	key := path.String()
	if _, ok := c.tree.entries[key]; ok {
		return directory.ValueExists(path, "entry")
	}

	// Missing intermediate containers are created as empty entries.
	for i := 1; i < len(path); i++ {
		prefix := path[:i].String()
		if _, ok := c.tree.entries[prefix]; !ok {
			c.tree.entries[prefix] = newEntry(nil)
		}
	}
	c.tree.entries[key] = newEntry(attrs)
	return nil
}

func newEntry(attrs map[string][]string) *entry {
	now := time.Now()
	e := &entry{attrs: make(map[string][]string), created: now, modified: now}
	for name, values := range attrs {
		e.attrs[name] = append([]string(nil), values...)
	}
	return e
}

func (c *conn) get(path directory.Path) (*entry, error) {
	e, ok := c.tree.entries[path.String()]
	if !ok {
		return nil, directory.NotFound(path)
	}
	return e, nil
}

func (c *conn) ReadAttribute(ctx context.Context, path directory.Path, name string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.tree.mu.RLock()
	defer c.tree.mu.RUnlock()

	e, err := c.get(path)
	if err != nil {
		return nil, err
	}
	values, ok := e.attrs[name]
	if !ok || len(values) == 0 {
		return nil, directory.NoSuchAttribute(path, name)
	}
	return append([]string(nil), values...), nil
}

func (c *conn) ReadAllAttributes(ctx context.Context, path directory.Path) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.tree.mu.RLock()
	defer c.tree.mu.RUnlock()

	e, err := c.get(path)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string, len(e.attrs))
	for name, values := range e.attrs {
		out[name] = append([]string(nil), values...)
	}
	return out, nil
}

func (c *conn) WriteAttribute(ctx context.Context, path directory.Path, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	e, err := c.get(path)
	if err != nil {
		return err
	}
	e.attrs[name] = []string{value}
	e.modified = time.Now()
	return nil
}

func (c *conn) AddValue(ctx context.Context, path directory.Path, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	e, err := c.get(path)
	if err != nil {
		return err
	}
	for _, existing := range e.attrs[name] {
		if existing == value {
			return directory.ValueExists(path, name)
		}
	}
	e.attrs[name] = append(e.attrs[name], value)
	e.modified = time.Now()
	return nil
}

func (c *conn) ModifyValue(ctx context.Context, path directory.Path, name, oldValue, newValue string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	e, err := c.get(path)
	if err != nil {
		return err
	}
	values, ok := e.attrs[name]
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
			e.modified = time.Now()
			return nil
		}
	}
	return directory.NoSuchValue(path, name)
}

func (c *conn) RemoveAttribute(ctx context.Context, path directory.Path, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	e, err := c.get(path)
	if err != nil {
		return err
	}
	if _, ok := e.attrs[name]; !ok {
		return directory.NoSuchAttribute(path, name)
	}
	delete(e.attrs, name)
	e.modified = time.Now()
	return nil
}

func (c *conn) RemoveValue(ctx context.Context, path directory.Path, name, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	e, err := c.get(path)
	if err != nil {
		return err
	}
	values, ok := e.attrs[name]
	if !ok {
		return directory.NoSuchAttribute(path, name)
	}
	for i, existing := range values {
		if existing == value {
			values = append(values[:i], values[i+1:]...)
			if len(values) == 0 {
				delete(e.attrs, name)
			} else {
				e.attrs[name] = values
			}
			e.modified = time.Now()
			return nil
		}
	}
	return directory.NoSuchValue(path, name)
}

func (c *conn) CopyEntry(ctx context.Context, src, dst directory.Path) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.tree.mu.Lock()
	defer c.tree.mu.Unlock()

	from, err := c.get(src)
	if err != nil {
		return err
	}

	dstKey := dst.String()
	to, ok := c.tree.entries[dstKey]
	if !ok {
		for i := 1; i < len(dst); i++ {
			prefix := dst[:i].String()
			if _, ok := c.tree.entries[prefix]; !ok {
				c.tree.entries[prefix] = newEntry(nil)
			}
		}
		to = newEntry(nil)
		c.tree.entries[dstKey] = to
	}
	for name, values := range from.attrs {
		to.attrs[name] = append([]string(nil), values...)
	}
	to.modified = time.Now()
	return nil
}

func (c *conn) ChildLabels(ctx context.Context, path directory.Path) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.tree.mu.RLock()
	defer c.tree.mu.RUnlock()

	prefix := path.String() + "/"
	var labels []string
	for key := range c.tree.entries {
		if strings.HasPrefix(key, prefix) && !strings.Contains(key[len(prefix):], "/") {
			labels = append(labels, key[len(prefix):])
		}
	}
	return labels, nil
}

func (c *conn) Timestamps(ctx context.Context, path directory.Path) (time.Time, time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, time.Time{}, err
	}
	c.tree.mu.RLock()
	defer c.tree.mu.RUnlock()

	e, err := c.get(path)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return e.created, e.modified, nil
}
