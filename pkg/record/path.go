// Package record implements the revisioned-entry model: it binds URIs to
// entries in the hierarchical directory store, derives storage paths from
// URIs, and manages numbered historical revisions of each record.
package record

import (
	"strings"

	"github.com/collabtree/collabd/pkg/directory"
)

// PathConfig controls how URIs are mapped to directory paths.
//
// Root and ServerRoot prefix every derived path; LeafLabel suffixes it.
// Two equal URIs under the same configuration always derive the same path.
type PathConfig struct {
	// Root is an optional label prefixed to every path (the store root).
	Root string

	// ServerRoot is an optional namespace label for this server instance,
	// inserted after Root.
	ServerRoot string

	// LeafLabel is the fixed label appended to every record path. It keeps
	// record entries distinct from the synthetic container entries derived
	// from URI structure; archived revisions are the numbered children of
	// a record entry.
	LeafLabel string
}

// DefaultLeafLabel is used when PathConfig.LeafLabel is empty.
const DefaultLeafLabel = "entry"

func (c PathConfig) leaf() string {
	if c.LeafLabel == "" {
		return DefaultLeafLabel
	}
	return c.LeafLabel
}

// PathFor derives the directory path of a URI's live record.
//
// The URI is decomposed into scheme, host labels and path segments. Host
// labels become nested segments with the outermost label first, so
// "http://example.org/a/b" maps to
// [root, serverRoot, "http", "org", "example", "a", "b", leaf].
//
// Because of the synthetic scheme/host segments and the leaf label, the
// path of a parent URI is never a prefix of its child's path; callers must
// resolve ancestry on URIs, not on paths.
//
// Fails with ErrInvalidArgument if the URI contains no path separator at
// all, since no hierarchy can be derived from it.
func PathFor(cfg PathConfig, uri string) (directory.Path, error) {
	if !strings.Contains(uri, "/") {
		return nil, &directory.StoreError{
			Code:    directory.ErrInvalidArgument,
			Message: "no path can be derived from URI " + uri,
		}
	}

	var path directory.Path
	if cfg.Root != "" {
		path = append(path, cfg.Root)
	}
	if cfg.ServerRoot != "" {
		path = append(path, cfg.ServerRoot)
	}

	rest := uri
	if idx := strings.Index(uri, "://"); idx >= 0 {
		path = append(path, uri[:idx])
		rest = uri[idx+3:]
	}

	host := rest
	if idx := strings.Index(rest, "/"); idx >= 0 {
		host = rest[:idx]
		rest = rest[idx+1:]
	} else {
		rest = ""
	}

	if host != "" {
		labels := strings.Split(host, ".")
		for i := len(labels) - 1; i >= 0; i-- {
			if labels[i] != "" {
				path = append(path, labels[i])
			}
		}
	}

	for _, segment := range strings.Split(rest, "/") {
		if segment != "" {
			path = append(path, segment)
		}
	}

	return append(path, cfg.leaf()), nil
}

// ParentPath strips the innermost segment of a path.
func ParentPath(path directory.Path) directory.Path {
	return path.Parent()
}

// ParentURI strips the last "/"-delimited path segment of a URI.
//
// Returns false for syntactically unusable URIs and for URIs with no
// separator above the top level, which terminates ancestor walks:
// the parent of "http://example.org/a" is "http://example.org", which
// itself has no parent.
func ParentURI(uri string) (string, bool) {
	idx := strings.LastIndex(uri, "/")
	if idx < 0 {
		return "", false
	}
	// Never strip into the scheme separator.
	if s := strings.Index(uri, "://"); s >= 0 && idx <= s+2 {
		return "", false
	}
	if idx == len(uri)-1 {
		// Trailing slash carries no segment of its own.
		return ParentURI(uri[:idx])
	}
	return uri[:idx], true
}
