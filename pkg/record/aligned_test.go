package record

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabtree/collabd/pkg/directory"
)

func TestAlignedLocations_OwnLocationWins(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	rec := bindNew(t, conn, "http://example.org/a/b")

	require.NoError(t, rec.AddLocation(ctx, "http://mirror.example.org/b"))

	urls, err := rec.AlignedLocations(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://mirror.example.org/b"}, urls)
}

func TestAlignedLocations_InheritsFromAncestor(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()

	parent := bindNew(t, conn, "http://example.org/collection")
	require.NoError(t, parent.AddLocation(ctx, "ftp://archive.example.org/pub"))
	require.NoError(t, parent.AddLocation(ctx, "http://mirror.example.org/pub/"))

	// The child entry does not even exist; the walk crosses the gap.
	rec, err := Bind(ctx, conn, PathConfig{}, "http://example.org/collection/sub/item", true)
	require.NoError(t, err)

	urls, err := rec.AlignedLocations(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"ftp://archive.example.org/pub/sub/item",
		"http://mirror.example.org/pub/sub/item",
	}, urls)
}

func TestAlignedLocations_RestoresBinding(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()

	parent := bindNew(t, conn, "http://example.org/collection")
	require.NoError(t, parent.AddLocation(ctx, "http://mirror.example.org/c"))

	rec := bindNew(t, conn, "http://example.org/collection/item")
	_, err := rec.AlignedLocations(ctx)
	require.NoError(t, err)

	// The walk rebound to the ancestor internally; identity must be back.
	assert.Equal(t, "http://example.org/collection/item", rec.URI())
	assert.Equal(t, 0, rec.Revision())
	require.NoError(t, rec.SetDescription(ctx, "still the child"))
}

func TestAlignedLocations_NoAncestorLocation(t *testing.T) {
	conn := testConn(t)
	ctx := context.Background()
	rec := bindNew(t, conn, "http://example.org/a/b/c")

	_, err := rec.AlignedLocations(ctx)
	require.Error(t, err)
	assert.True(t, directory.IsCode(err, directory.ErrNoSuchAttribute))

	// Failure leaves the binding usable.
	assert.Equal(t, "http://example.org/a/b/c", rec.URI())

	// And the failed walk changed nothing: a second call fails the same way.
	_, err = rec.AlignedLocations(ctx)
	assert.True(t, directory.IsCode(err, directory.ErrNoSuchAttribute))
}

func TestJoinLocation_CollapsesDoubledSlash(t *testing.T) {
	assert.Equal(t, "http://m.example.org/pub/x", joinLocation("http://m.example.org/pub/", "/x"))
	assert.Equal(t, "http://m.example.org/pub/x", joinLocation("http://m.example.org/pub", "/x"))
}
