package pgwatchlist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGWatchlist_Flow(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "parcelwatch_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/parcelwatch_test?sslmode=disable"
	st, err := New(dsn)
	require.NoError(t, err)
	t.Cleanup(st.Close)

	name := "sneakers"
	require.NoError(t, st.Upsert(ctx, "PKG1", &name))
	require.NoError(t, st.Upsert(ctx, "PKG2", nil))

	entries, err := st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "PKG1", entries[0].TrackingNumber)
	require.NotNil(t, entries[0].CustomName)
	require.Equal(t, "sneakers", *entries[0].CustomName)
	require.Equal(t, "PKG2", entries[1].TrackingNumber)
	require.Nil(t, entries[1].CustomName)

	// Upsert on an existing number renames it without changing its position.
	renamed := "running shoes"
	require.NoError(t, st.Upsert(ctx, "PKG1", &renamed))
	entries, err = st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "PKG1", entries[0].TrackingNumber)
	require.Equal(t, "running shoes", *entries[0].CustomName)

	ok, err := st.Remove(ctx, "PKG1")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = st.Remove(ctx, "PKG1")
	require.NoError(t, err)
	require.False(t, ok)

	entries, err = st.Load(ctx)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "PKG2", entries[0].TrackingNumber)
}
