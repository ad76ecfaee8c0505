package memwatchlist

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemWatchlist_Flow(t *testing.T) {
	s := New()
	ctx := context.Background()

	name := "gift"
	require.NoError(t, s.Upsert(ctx, "PKG1", &name))
	require.NoError(t, s.Upsert(ctx, "PKG2", nil))

	// Renaming keeps insertion order.
	renamed := "late gift"
	require.NoError(t, s.Upsert(ctx, "PKG1", &renamed))

	entries, err := s.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "PKG1", entries[0].TrackingNumber)
	require.Equal(t, "late gift", *entries[0].CustomName)
	require.Equal(t, "PKG2", entries[1].TrackingNumber)

	ok, err := s.Remove(ctx, "PKG1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Remove(ctx, "PKG1")
	require.NoError(t, err)
	require.False(t, ok)
}
