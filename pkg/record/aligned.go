package record

import (
	"context"
	"strings"

	"github.com/collabtree/collabd/pkg/directory"
)

// AlignedLocations resolves the record's location, inheriting from
// ancestors when the record itself has none.
//
// If the bound entry carries a location attribute its values are returned
// as-is. Otherwise the ancestor URIs are walked upward; the first ancestor
// whose entry carries a location wins, and the path suffix dropped between
// that ancestor and the original URI is appended to each of its URLs. A
// single slash collision at the join is collapsed.
//
// The walk temporarily rebinds the record to ancestor URIs; the original
// binding is always restored before returning, success or failure, so the
// record's identity is never left pointing at an ancestor.
//
// Fails with ErrNoSuchAttribute when no ancestor defines a location.
func (r *VersionedRecord) AlignedLocations(ctx context.Context) ([]string, error) {
	locations, err := r.Values(ctx, directory.AttrLocation)
	if err == nil {
		return locations, nil
	}
	if !isContinueCondition(err) {
		return nil, err
	}

	origURI, origRevision := r.uri, r.revision
	origBase, origBound := r.basePath, r.bound
	defer func() {
		r.uri, r.revision = origURI, origRevision
		r.basePath, r.bound = origBase, origBound
	}()

	current := origURI
	for {
		parent, ok := ParentURI(current)
		if !ok {
			return nil, &directory.StoreError{
				Code:    directory.ErrNoSuchAttribute,
				Message: "no location on " + origURI + " or any ancestor, cannot be aligned",
			}
		}
		current = parent

		path, err := PathFor(r.cfg, parent)
		if err != nil {
			continue
		}
		r.uri = parent
		r.revision = 0
		r.basePath, r.bound = path, path

		locations, err := r.Values(ctx, directory.AttrLocation)
		if err != nil {
			if isContinueCondition(err) {
				continue
			}
			return nil, err
		}

		suffix := strings.TrimPrefix(origURI, parent)
		aligned := make([]string, len(locations))
		for i, url := range locations {
			aligned[i] = joinLocation(url, suffix)
		}
		return aligned, nil
	}
}

// isContinueCondition reports whether an ancestor-walk error means "keep
// walking" rather than "give up".
func isContinueCondition(err error) bool {
	code, ok := directory.CodeOf(err)
	if !ok {
		return false
	}
	return code == directory.ErrNotFound || code == directory.ErrNoSuchAttribute
}

// joinLocation appends the dropped URI suffix to an inherited URL,
// collapsing a doubled slash at the seam.
func joinLocation(url, suffix string) string {
	if strings.HasSuffix(url, "/") && strings.HasPrefix(suffix, "/") {
		return url + suffix[1:]
	}
	return url + suffix
}
