package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRowsRoundTrip(t *testing.T) {
	dsn := os.Getenv("CREDSYNC_PG_DSN")
	if dsn == "" {
		t.Skip("CREDSYNC_PG_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	rows, err := OpenPostgresRows(ctx, dsn, 4, 1)
	require.NoError(t, err)
	defer rows.Close()

	remote := NewRemoteStore(rows, 2*time.Second)
	t.Cleanup(func() { _ = remote.Delete(context.Background(), testKey) })
	_ = remote.Delete(ctx, testKey)

	require.NoError(t, remote.Set(ctx, testKey, testRecord(1, "v1")))
	require.NoError(t, remote.Set(ctx, testKey, testRecord(2, "v2")))

	err = remote.Set(ctx, testKey, testRecord(1, "old"))
	assert.ErrorIs(t, err, ErrStaleVersion)

	got, found, err := remote.Get(ctx, testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, "v2", got.Field("api_key"))
}

func TestOpenPostgresRowsRequiresDSN(t *testing.T) {
	_, err := OpenPostgresRows(context.Background(), "", 0, 0)
	assert.Error(t, err)
}
