package record

import (
	"context"
	"fmt"
	"time"

	"github.com/collabtree/collabd/pkg/directory"
)

// attrKind distinguishes single-valued from multi-valued attributes.
type attrKind int

const (
	attrSingle attrKind = iota
	attrMulti
)

// attributes is the fixed attribute set of a record. Anything outside this
// table is rejected before touching the store.
var attributes = map[string]attrKind{
	directory.AttrLocation:          attrMulti,
	directory.AttrRequiredContainer: attrMulti,
	directory.AttrOptionalContainer: attrMulti,
	directory.AttrDescription:       attrSingle,
	directory.AttrType:              attrSingle,
	directory.AttrMetadata:          attrSingle,
	directory.AttrContainerRevision: attrSingle,
}

// VersionedRecord binds one URI to a revision of its record in the
// directory store.
//
// Revision 0 is the live, mutable record; revisions N>0 are immutable
// archived snapshots stored as numbered children of the live entry. Every
// mutating operation checks editability before touching the store, so a
// record bound to an archived revision can never change it.
//
// A VersionedRecord is owned by a single session and is not safe for
// concurrent use. The directory connection it holds is the session's own.
type VersionedRecord struct {
	conn directory.Connection
	cfg  PathConfig

	uri      string
	revision int
	basePath directory.Path
	bound    directory.Path
}

// Bind binds a URI to its live record (revision 0).
//
// If no entry exists at the derived path, Bind fails with ErrNotFound
// unless create is set, in which case the entry (and any missing
// intermediate containers) is created with its identity attribute set to
// the URI.
func Bind(ctx context.Context, conn directory.Connection, cfg PathConfig, uri string, create bool) (*VersionedRecord, error) {
	path, err := PathFor(cfg, uri)
	if err != nil {
		return nil, &directory.StoreError{Code: directory.ErrNotFound, Message: "unusable URI " + uri}
	}

	exists, err := conn.Exists(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("check entry %s: %w", path, err)
	}
	if !exists {
		if !create {
			return nil, directory.NotFound(path)
		}
		attrs := map[string][]string{directory.AttrURI: {uri}}
		if err := conn.Create(ctx, path, attrs); err != nil {
			return nil, fmt.Errorf("create entry %s: %w", path, err)
		}
	}

	return &VersionedRecord{
		conn:     conn,
		cfg:      cfg,
		uri:      uri,
		revision: 0,
		basePath: path,
		bound:    path,
	}, nil
}

// URI returns the bound URI.
func (r *VersionedRecord) URI() string { return r.uri }

// Revision returns the currently bound revision number.
func (r *VersionedRecord) Revision() int { return r.revision }

// IsEditable reports whether the bound revision accepts writes.
// Only revision 0 is ever editable.
func (r *VersionedRecord) IsEditable() bool { return r.revision == 0 }

// ensureEditable is the write guard called by every mutator before any
// store operation.
func (r *VersionedRecord) ensureEditable() error {
	if r.IsEditable() {
		return nil
	}
	return &directory.StoreError{
		Code:    directory.ErrNotEditable,
		Message: fmt.Sprintf("revision %d is not editable", r.revision),
		Path:    r.bound.String(),
	}
}

// checkAttr validates the attribute name and kind.
func checkAttr(name string, kind attrKind) error {
	k, ok := attributes[name]
	if !ok {
		return &directory.StoreError{Code: directory.ErrInvalidArgument, Message: "unknown attribute " + name}
	}
	if k != kind {
		return &directory.StoreError{Code: directory.ErrInvalidArgument, Message: "wrong arity for attribute " + name}
	}
	return nil
}

// Values returns all values of a multi-valued attribute on the bound
// revision.
func (r *VersionedRecord) Values(ctx context.Context, name string) ([]string, error) {
	if err := checkAttr(name, attrMulti); err != nil {
		return nil, err
	}
	return r.conn.ReadAttribute(ctx, r.bound, name)
}

// AddValue appends a value to a multi-valued attribute.
func (r *VersionedRecord) AddValue(ctx context.Context, name, value string) error {
	if err := checkAttr(name, attrMulti); err != nil {
		return err
	}
	if err := r.ensureEditable(); err != nil {
		return err
	}
	return r.conn.AddValue(ctx, r.bound, name, value)
}

// ModifyValue replaces one value of a multi-valued attribute.
func (r *VersionedRecord) ModifyValue(ctx context.Context, name, oldValue, newValue string) error {
	if err := checkAttr(name, attrMulti); err != nil {
		return err
	}
	if err := r.ensureEditable(); err != nil {
		return err
	}
	return r.conn.ModifyValue(ctx, r.bound, name, oldValue, newValue)
}

// RemoveValue removes one value from a multi-valued attribute.
func (r *VersionedRecord) RemoveValue(ctx context.Context, name, value string) error {
	if err := checkAttr(name, attrMulti); err != nil {
		return err
	}
	if err := r.ensureEditable(); err != nil {
		return err
	}
	return r.conn.RemoveValue(ctx, r.bound, name, value)
}

// Text returns the value of a single-valued attribute on the bound
// revision.
func (r *VersionedRecord) Text(ctx context.Context, name string) (string, error) {
	if err := checkAttr(name, attrSingle); err != nil {
		return "", err
	}
	values, err := r.conn.ReadAttribute(ctx, r.bound, name)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return "", directory.NoSuchAttribute(r.bound, name)
	}
	return values[0], nil
}

// SetText sets a single-valued attribute, replacing any existing value.
func (r *VersionedRecord) SetText(ctx context.Context, name, value string) error {
	if err := checkAttr(name, attrSingle); err != nil {
		return err
	}
	if err := r.ensureEditable(); err != nil {
		return err
	}
	return r.conn.WriteAttribute(ctx, r.bound, name, value)
}

// RemoveText removes a single-valued attribute.
func (r *VersionedRecord) RemoveText(ctx context.Context, name string) error {
	if err := checkAttr(name, attrSingle); err != nil {
		return err
	}
	if err := r.ensureEditable(); err != nil {
		return err
	}
	return r.conn.RemoveAttribute(ctx, r.bound, name)
}

// Typed accessors for the record attribute set. They delegate to the
// generic accessors above; the REST facade and the snapshot code use these.

func (r *VersionedRecord) Locations(ctx context.Context) ([]string, error) {
	return r.Values(ctx, directory.AttrLocation)
}

func (r *VersionedRecord) AddLocation(ctx context.Context, url string) error {
	return r.AddValue(ctx, directory.AttrLocation, url)
}

func (r *VersionedRecord) RequiredContainers(ctx context.Context) ([]string, error) {
	return r.Values(ctx, directory.AttrRequiredContainer)
}

func (r *VersionedRecord) OptionalContainers(ctx context.Context) ([]string, error) {
	return r.Values(ctx, directory.AttrOptionalContainer)
}

func (r *VersionedRecord) Description(ctx context.Context) (string, error) {
	return r.Text(ctx, directory.AttrDescription)
}

func (r *VersionedRecord) SetDescription(ctx context.Context, text string) error {
	return r.SetText(ctx, directory.AttrDescription, text)
}

func (r *VersionedRecord) Type(ctx context.Context) (string, error) {
	return r.Text(ctx, directory.AttrType)
}

func (r *VersionedRecord) Metadata(ctx context.Context) (string, error) {
	return r.Text(ctx, directory.AttrMetadata)
}

func (r *VersionedRecord) ContainerRevision(ctx context.Context) (string, error) {
	return r.Text(ctx, directory.AttrContainerRevision)
}

// Timestamps returns the store-assigned creation and modification times of
// the bound entry.
func (r *VersionedRecord) Timestamps(ctx context.Context) (created, modified time.Time, err error) {
	return r.conn.Timestamps(ctx, r.bound)
}

// DumpEntry returns every attribute of the bound entry as "name: value"
// lines, one line per value.
func (r *VersionedRecord) DumpEntry(ctx context.Context) ([]string, error) {
	attrs, err := r.conn.ReadAllAttributes(ctx, r.bound)
	if err != nil {
		return nil, err
	}
	// Identity first, then the record attributes in table order.
	ordered := []string{
		directory.AttrURI,
		directory.AttrLocation,
		directory.AttrRequiredContainer,
		directory.AttrOptionalContainer,
		directory.AttrDescription,
		directory.AttrType,
		directory.AttrMetadata,
		directory.AttrContainerRevision,
	}
	var lines []string
	for _, name := range ordered {
		for _, value := range attrs[name] {
			lines = append(lines, name+": "+EscapeText(value))
		}
	}
	return lines, nil
}
