// Package directory defines the capability surface of the external
// hierarchical attribute store that collabd persists records into.
//
// The directory is modeled as a tree of entries addressed by Path. Each
// entry carries a set of named attributes (single- or multi-valued strings)
// plus store-assigned creation/modification timestamps. The package defines
// the Connector/Connection capability consumed by the record layer; the
// concrete backends live in the memory, badger and neo4j subpackages.
package directory

import (
	"context"
	"strings"
	"time"
)

// Path addresses one entry in the hierarchical store.
//
// A Path is an ordered sequence of labels, outermost first. Paths are
// derived deterministically from URIs by the record package; callers must
// not assume the path of a parent URI is a prefix of its child's path.
type Path []string

// String renders the path with "/" separators. The rendering is canonical:
// equal paths always render identically, which backends rely on for keying.
func (p Path) String() string {
	return strings.Join(p, "/")
}

// Child returns a new path with one more label appended.
func (p Path) Child(label string) Path {
	child := make(Path, len(p), len(p)+1)
	copy(child, p)
	return append(child, label)
}

// Parent returns the path with the innermost label stripped.
// Returns nil for empty or single-label paths.
func (p Path) Parent() Path {
	if len(p) < 2 {
		return nil
	}
	parent := make(Path, len(p)-1)
	copy(parent, p[:len(p)-1])
	return parent
}

// Attribute names of the record attribute set as stored in the directory.
const (
	// AttrURI is the identity attribute written at entry creation.
	// It is never cleared, even when a revision is restored.
	AttrURI = "uri"

	// AttrLocation holds the URLs where the resource can be fetched (multi-valued).
	AttrLocation = "location"

	// AttrRequiredContainer holds required reference URIs (multi-valued).
	AttrRequiredContainer = "requiredContainer"

	// AttrOptionalContainer holds optional reference URIs (multi-valued).
	AttrOptionalContainer = "optionalContainer"

	// AttrDescription holds the free-text description (single-valued).
	AttrDescription = "description"

	// AttrType holds the resource type (single-valued).
	AttrType = "type"

	// AttrMetadata holds opaque free-text metadata, e.g. embedded markup
	// (single-valued).
	AttrMetadata = "metadata"

	// AttrContainerRevision holds the container revision tag (single-valued).
	AttrContainerRevision = "containerRevision"
)

// Connector creates directory connections and owns the backing resources.
//
// Each client session gets its own Connection so that one session's
// failures or timeouts cannot affect another's. The Connector itself is
// shared and must be safe for concurrent use.
type Connector interface {
	// Connect opens a new connection to the directory.
	Connect(ctx context.Context) (Connection, error)

	// Close releases the backing resources (database handles, drivers).
	// No Connect calls may follow Close.
	Close() error
}

// Connection is one session's handle on the directory.
//
// All operations return StoreError for business-logic failures (entry or
// attribute missing, duplicate value) and wrapped infrastructure errors
// otherwise. Connections are owned by exactly one session and are not
// safe for concurrent use; the underlying store is.
type Connection interface {
	// Close releases the connection. Safe to call once.
	Close() error

	// IsAlive reports whether the connection is still usable.
	IsAlive() bool

	// Exists reports whether an entry exists at the path.
	Exists(ctx context.Context, path Path) (bool, error)

	// Create creates an entry at the path with the given attributes,
	// creating any missing intermediate container entries.
	// Fails with ErrValueExists if the entry already exists.
	Create(ctx context.Context, path Path, attrs map[string][]string) error

	// ReadAttribute returns all values of one attribute.
	// Fails with ErrNotFound if the entry is missing and ErrNoSuchAttribute
	// if the entry exists but carries no such attribute.
	ReadAttribute(ctx context.Context, path Path, name string) ([]string, error)

	// ReadAllAttributes returns every attribute of the entry.
	// Fails with ErrNotFound if the entry is missing.
	ReadAllAttributes(ctx context.Context, path Path) (map[string][]string, error)

	// WriteAttribute sets a single-valued attribute, replacing any
	// existing values ("replace if exists else create").
	WriteAttribute(ctx context.Context, path Path, name, value string) error

	// AddValue appends one value to a multi-valued attribute, creating the
	// attribute if absent. Fails with ErrValueExists on duplicates.
	AddValue(ctx context.Context, path Path, name, value string) error

	// ModifyValue replaces one value of a multi-valued attribute.
	// Fails with ErrNoSuchValue if old is absent and ErrValueExists if
	// new is already present.
	ModifyValue(ctx context.Context, path Path, name, oldValue, newValue string) error

	// RemoveAttribute removes an attribute and all its values.
	// Fails with ErrNoSuchAttribute if absent.
	RemoveAttribute(ctx context.Context, path Path, name string) error

	// RemoveValue removes one value from a multi-valued attribute. The
	// attribute itself is removed when its last value goes. Fails with
	// ErrNoSuchAttribute if the attribute is absent and ErrNoSuchValue if
	// the value is.
	RemoveValue(ctx context.Context, path Path, name, value string) error

	// CopyEntry copies every attribute of src onto dst, creating dst (and
	// intermediates) if needed. Attributes dst carries that src also
	// carries are replaced; timestamps are store-assigned, not copied.
	CopyEntry(ctx context.Context, src, dst Path) error

	// ChildLabels returns the labels of the entry's immediate children.
	// Returns nil for entries without children and for missing entries.
	ChildLabels(ctx context.Context, path Path) ([]string, error)

	// Timestamps returns the store-assigned creation and last-modification
	// times of the entry. Fails with ErrNotFound if the entry is missing.
	Timestamps(ctx context.Context, path Path) (created, modified time.Time, err error)
}
