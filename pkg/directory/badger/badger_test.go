package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtree/collabd/pkg/directory"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newConn(t *testing.T) directory.Connection {
	t.Helper()
	conn, err := newStore(t).Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestNew_RequiresPathOrInMemory(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestCreateAndRead(t *testing.T) {
	conn := newConn(t)
	ctx := context.Background()
	path := directory.Path{"http", "org", "example", "doc", "entry"}

	require.NoError(t, conn.Create(ctx, path, map[string][]string{
		"uri": {"http://example.org/doc"},
	}))

	// Intermediate containers were persisted too.
	exists, err := conn.Exists(ctx, directory.Path{"http", "org"})
	require.NoError(t, err)
	assert.True(t, exists)

	values, err := conn.ReadAttribute(ctx, path, "uri")
	require.NoError(t, err)
	assert.Equal(t, []string{"http://example.org/doc"}, values)

	err = conn.Create(ctx, path, nil)
	assert.True(t, directory.IsCode(err, directory.ErrValueExists))
}

func TestValueSemantics(t *testing.T) {
	conn := newConn(t)
	ctx := context.Background()
	path := directory.Path{"a"}
	require.NoError(t, conn.Create(ctx, path, nil))

	require.NoError(t, conn.AddValue(ctx, path, "location", "one"))
	assert.True(t, directory.IsCode(
		conn.AddValue(ctx, path, "location", "one"), directory.ErrValueExists))
	assert.True(t, directory.IsCode(
		conn.ModifyValue(ctx, path, "location", "ghost", "two"), directory.ErrNoSuchValue))
	assert.True(t, directory.IsCode(
		conn.RemoveValue(ctx, path, "location", "ghost"), directory.ErrNoSuchValue))

	_, err := conn.ReadAttribute(ctx, path, "ghost")
	assert.True(t, directory.IsCode(err, directory.ErrNoSuchAttribute))
}

func TestCopyEntryAndChildLabels(t *testing.T) {
	conn := newConn(t)
	ctx := context.Background()
	base := directory.Path{"doc", "entry"}

	require.NoError(t, conn.Create(ctx, base, map[string][]string{
		"uri":         {"http://example.org/doc"},
		"description": {"v1"},
	}))

	require.NoError(t, conn.CopyEntry(ctx, base, base.Child("1")))
	require.NoError(t, conn.CopyEntry(ctx, base, base.Child("2")))

	labels, err := conn.ChildLabels(ctx, base)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, labels)

	// The copy is detached from the source.
	require.NoError(t, conn.WriteAttribute(ctx, base, "description", "v2"))
	values, err := conn.ReadAttribute(ctx, base.Child("1"), "description")
	require.NoError(t, err)
	assert.Equal(t, []string{"v1"}, values)
}

func TestTimestampsPersisted(t *testing.T) {
	conn := newConn(t)
	ctx := context.Background()
	path := directory.Path{"a"}

	require.NoError(t, conn.Create(ctx, path, nil))
	created, modified, err := conn.Timestamps(ctx, path)
	require.NoError(t, err)
	assert.False(t, created.IsZero())
	assert.False(t, modified.Before(created))
}
