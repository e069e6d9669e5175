package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtree/collabd/pkg/directory"
)

func TestPathFor_FullURI(t *testing.T) {
	cfg := PathConfig{Root: "root", ServerRoot: "srv1"}

	path, err := PathFor(cfg, "http://example.org/a/b")
	require.NoError(t, err)

	expected := directory.Path{"root", "srv1", "http", "org", "example", "a", "b", "entry"}
	assert.Equal(t, expected, path)
}

func TestPathFor_Deterministic(t *testing.T) {
	cfg := PathConfig{Root: "root"}

	first, err := PathFor(cfg, "http://example.org/collection/item")
	require.NoError(t, err)
	second, err := PathFor(cfg, "http://example.org/collection/item")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestPathFor_NoScheme(t *testing.T) {
	path, err := PathFor(PathConfig{}, "example.org/docs")
	require.NoError(t, err)
	assert.Equal(t, directory.Path{"org", "example", "docs", "entry"}, path)
}

func TestPathFor_CustomLeafLabel(t *testing.T) {
	path, err := PathFor(PathConfig{LeafLabel: "record"}, "http://example.org/a")
	require.NoError(t, err)
	assert.Equal(t, "record", path[len(path)-1])
}

func TestPathFor_NoSeparator(t *testing.T) {
	_, err := PathFor(PathConfig{}, "opaque:data")
	require.Error(t, err)
	assert.True(t, directory.IsCode(err, directory.ErrInvalidArgument))
}

func TestPathFor_ParentNotPrefixOfChild(t *testing.T) {
	cfg := PathConfig{}

	parent, err := PathFor(cfg, "http://example.org/a")
	require.NoError(t, err)
	child, err := PathFor(cfg, "http://example.org/a/b")
	require.NoError(t, err)

	// The leaf label keeps record entries out of each other's subtrees:
	// the parent's full path is not a prefix of the child's.
	assert.NotEqual(t, parent, directory.Path(child[:len(parent)]))
}

func TestParentURI(t *testing.T) {
	tests := []struct {
		uri    string
		parent string
		ok     bool
	}{
		{"http://example.org/a/b", "http://example.org/a", true},
		{"http://example.org/a", "http://example.org", true},
		{"http://example.org", "", false},
		{"http://example.org/", "", false},
		{"http://example.org/a/b/", "http://example.org/a", true},
		{"example.org/a", "example.org", true},
		{"noseparator", "", false},
	}
	for _, tt := range tests {
		parent, ok := ParentURI(tt.uri)
		assert.Equal(t, tt.ok, ok, "uri=%q", tt.uri)
		if tt.ok {
			assert.Equal(t, tt.parent, parent, "uri=%q", tt.uri)
		}
	}
}

func TestPath_ChildAndParent(t *testing.T) {
	base := directory.Path{"a", "b"}

	child := base.Child("c")
	assert.Equal(t, directory.Path{"a", "b", "c"}, child)
	assert.Equal(t, base.String(), child.Parent().String())
	assert.Equal(t, "a/b/c", child.String())
}
