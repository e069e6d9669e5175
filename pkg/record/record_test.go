package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtree/collabd/pkg/directory"
	"github.com/collabtree/collabd/pkg/directory/memory"
)

func testConn(t *testing.T) directory.Connection {
	t.Helper()
	store := memory.New(memory.Config{})
	conn, err := store.Connect(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func bindNew(t *testing.T, conn directory.Connection, uri string) *VersionedRecord {
	t.Helper()
	rec, err := Bind(context.Background(), conn, PathConfig{}, uri, true)
	require.NoError(t, err)
	return rec
}

func TestBind_MissingRecord(t *testing.T) {
	conn := testConn(t)

	_, err := Bind(context.Background(), conn, PathConfig{}, "http://example.org/missing", false)
	require.Error(t, err)
	assert.True(t, directory.IsCode(err, directory.ErrNotFound))
}

func TestBind_CreateThenBind(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()

	created := bindNew(t, conn, "http://example.org/doc")
	assert.Equal(t, "http://example.org/doc", created.URI())
	assert.Equal(t, 0, created.Revision())
	assert.True(t, created.IsEditable())

	// Binding again without create must now succeed.
	rec, err := Bind(ctx, conn, PathConfig{}, "http://example.org/doc", false)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Revision())
}

func TestBind_UnusableURI(t *testing.T) {
	conn := testConn(t)

	_, err := Bind(context.Background(), conn, PathConfig{}, "noseparator", false)
	require.Error(t, err)
	assert.True(t, directory.IsCode(err, directory.ErrNotFound))
}

func TestRecord_MultiValuedAttributes(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	rec := bindNew(t, conn, "http://example.org/doc")

	require.NoError(t, rec.AddLocation(ctx, "http://mirror-a.example.org/doc"))
	require.NoError(t, rec.AddLocation(ctx, "http://mirror-b.example.org/doc"))

	// Duplicate value is rejected.
	err := rec.AddLocation(ctx, "http://mirror-a.example.org/doc")
	require.Error(t, err)
	assert.True(t, directory.IsCode(err, directory.ErrValueExists))

	locations, err := rec.Locations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"http://mirror-a.example.org/doc",
		"http://mirror-b.example.org/doc",
	}, locations)

	require.NoError(t, rec.ModifyValue(ctx, directory.AttrLocation,
		"http://mirror-b.example.org/doc", "http://mirror-c.example.org/doc"))
	require.NoError(t, rec.RemoveValue(ctx, directory.AttrLocation,
		"http://mirror-a.example.org/doc"))

	locations, err = rec.Locations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://mirror-c.example.org/doc"}, locations)

	// Removing the last value removes the attribute itself.
	require.NoError(t, rec.RemoveValue(ctx, directory.AttrLocation,
		"http://mirror-c.example.org/doc"))
	_, err = rec.Locations(ctx)
	assert.True(t, directory.IsCode(err, directory.ErrNoSuchAttribute))
}

func TestRecord_SingleValuedAttributes(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	rec := bindNew(t, conn, "http://example.org/doc")

	require.NoError(t, rec.SetDescription(ctx, "first"))
	require.NoError(t, rec.SetDescription(ctx, "second"))

	desc, err := rec.Description(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", desc)

	require.NoError(t, rec.RemoveText(ctx, directory.AttrDescription))
	_, err = rec.Description(ctx)
	assert.True(t, directory.IsCode(err, directory.ErrNoSuchAttribute))
}

func TestRecord_UnknownAttributeRejected(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	rec := bindNew(t, conn, "http://example.org/doc")

	_, err := rec.Values(ctx, "bogus")
	assert.True(t, directory.IsCode(err, directory.ErrInvalidArgument))

	// Wrong arity: location is multi-valued.
	err = rec.SetText(ctx, directory.AttrLocation, "x")
	assert.True(t, directory.IsCode(err, directory.ErrInvalidArgument))
}

func TestRecord_WriteGuardOnArchivedRevision(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	rec := bindNew(t, conn, "http://example.org/doc")

	require.NoError(t, rec.SetDescription(ctx, "live"))
	_, err := rec.CreateRevision(ctx)
	require.NoError(t, err)

	require.NoError(t, rec.SetRevision(ctx, 1))
	assert.False(t, rec.IsEditable())

	for _, werr := range []error{
		rec.SetDescription(ctx, "nope"),
		rec.AddLocation(ctx, "http://example.org/x"),
		rec.RemoveText(ctx, directory.AttrDescription),
		rec.ModifyValue(ctx, directory.AttrLocation, "a", "b"),
		rec.RemoveValue(ctx, directory.AttrLocation, "a"),
	} {
		require.Error(t, werr)
		assert.True(t, directory.IsCode(werr, directory.ErrNotEditable))
	}

	// Reads still work against the archived revision.
	desc, err := rec.Description(ctx)
	require.NoError(t, err)
	assert.Equal(t, "live", desc)
}

func TestRecord_DumpEntry(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	rec := bindNew(t, conn, "http://example.org/doc")

	require.NoError(t, rec.SetDescription(ctx, "line one\nline two"))
	require.NoError(t, rec.AddLocation(ctx, "http://mirror.example.org/doc"))

	lines, err := rec.DumpEntry(ctx)
	require.NoError(t, err)

	assert.Contains(t, lines, "uri: http://example.org/doc")
	assert.Contains(t, lines, "location: http://mirror.example.org/doc")
	// Free text is escaped so the dump stays line-oriented.
	assert.Contains(t, lines, `description: line one\nline two`)
}

func TestSnapshot_ExportImport(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	rec := bindNew(t, conn, "http://example.org/doc")

	require.NoError(t, rec.SetDescription(ctx, "original"))
	require.NoError(t, rec.AddLocation(ctx, "http://mirror.example.org/doc"))

	snap, err := rec.Export(ctx)
	require.NoError(t, err)
	assert.Equal(t, "http://example.org/doc", snap.URI)
	assert.Equal(t, "original", snap.Description)
	assert.Equal(t, []string{"http://mirror.example.org/doc"}, snap.Locations)
	assert.False(t, snap.Created.IsZero())

	// Import onto a fresh URI clones the state there.
	snap.URI = "http://example.org/clone"
	require.NoError(t, rec.Import(ctx, snap))

	assert.Equal(t, "http://example.org/clone", rec.URI())
	desc, err := rec.Description(ctx)
	require.NoError(t, err)
	assert.Equal(t, "original", desc)
}
