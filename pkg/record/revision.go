package record

import (
	"context"
	"fmt"
	"strconv"

	"github.com/collabtree/collabd/pkg/directory"
)

// revisionPath returns the path of revision n: the base path for 0, a
// numbered child of the base path otherwise.
func (r *VersionedRecord) revisionPath(n int) directory.Path {
	if n == 0 {
		return r.basePath
	}
	return r.basePath.Child(strconv.Itoa(n))
}

// SetRevision rebinds the record to revision n.
//
// On any failure the previous revision and bound path are restored before
// returning, so callers observe no state change on error.
func (r *VersionedRecord) SetRevision(ctx context.Context, n int) error {
	if n < 0 {
		return &directory.StoreError{Code: directory.ErrInvalidArgument, Message: "negative revision"}
	}

	prevRevision, prevBound := r.revision, r.bound
	r.revision = n
	r.bound = r.revisionPath(n)

	exists, err := r.conn.Exists(ctx, r.bound)
	if err != nil || !exists {
		r.revision, r.bound = prevRevision, prevBound
		if err != nil {
			return fmt.Errorf("check revision %d: %w", n, err)
		}
		return directory.NotFound(r.revisionPath(n))
	}
	return nil
}

// RevisionCount returns the number of archived revisions of the record.
//
// Archived revisions are the numbered children of the live entry. Only
// labels parsing as positive integers count: a URI whose final segment
// happens to equal the leaf label puts its own record entry among the
// live entry's children, and that sibling is not a revision.
func (r *VersionedRecord) RevisionCount(ctx context.Context) (int, error) {
	labels, err := r.conn.ChildLabels(ctx, r.basePath)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, label := range labels {
		if n, err := strconv.Atoi(label); err == nil && n > 0 {
			count++
		}
	}
	return count, nil
}

// CreateRevision archives the current live attributes as a new numbered
// revision and returns the number it was filed under (prior count + 1).
//
// The record is forced back to revision 0 first; the live attributes are
// left untouched.
func (r *VersionedRecord) CreateRevision(ctx context.Context) (int, error) {
	r.revision = 0
	r.bound = r.basePath

	count, err := r.RevisionCount(ctx)
	if err != nil {
		return 0, fmt.Errorf("count revisions: %w", err)
	}
	next := count + 1
	if err := r.conn.CopyEntry(ctx, r.basePath, r.revisionPath(next)); err != nil {
		return 0, fmt.Errorf("archive revision %d: %w", next, err)
	}
	return next, nil
}

// RestoreRevision makes revision n's attributes the live state.
//
// The pre-restore live state is archived first, so no history is ever
// lost: after a successful restore the revision count has grown by one and
// the live attributes equal revision n's.
func (r *VersionedRecord) RestoreRevision(ctx context.Context, n int) error {
	count, err := r.RevisionCount(ctx)
	if err != nil {
		return fmt.Errorf("count revisions: %w", err)
	}
	if n < 1 || n > count {
		return directory.NotFound(r.revisionPath(n))
	}

	r.revision = 0
	r.bound = r.basePath

	if _, err := r.CreateRevision(ctx); err != nil {
		return err
	}
	if err := r.clearLiveAttributes(ctx); err != nil {
		return err
	}
	if err := r.conn.CopyEntry(ctx, r.revisionPath(n), r.basePath); err != nil {
		return fmt.Errorf("restore revision %d: %w", n, err)
	}
	return nil
}

// clearLiveAttributes removes every attribute of the live entry except the
// identity marker.
func (r *VersionedRecord) clearLiveAttributes(ctx context.Context) error {
	attrs, err := r.conn.ReadAllAttributes(ctx, r.basePath)
	if err != nil {
		return fmt.Errorf("read live attributes: %w", err)
	}
	for name := range attrs {
		if name == directory.AttrURI {
			continue
		}
		if err := r.conn.RemoveAttribute(ctx, r.basePath, name); err != nil {
			if directory.IsCode(err, directory.ErrNoSuchAttribute) {
				continue
			}
			return fmt.Errorf("clear attribute %s: %w", name, err)
		}
	}
	return nil
}

// RevisionInfo returns the snapshot of revision n without changing the
// record's binding: the revision is bound, exported and the previous
// binding restored even on failure.
func (r *VersionedRecord) RevisionInfo(ctx context.Context, n int) (*Snapshot, error) {
	prevRevision, prevBound := r.revision, r.bound
	defer func() {
		r.revision, r.bound = prevRevision, prevBound
	}()

	if err := r.SetRevision(ctx, n); err != nil {
		return nil, err
	}
	return r.Export(ctx)
}
