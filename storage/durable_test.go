package storage

import (
	"bytes"
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/MrEthical07/credsync/seal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSealer(t *testing.T) *seal.Sealer {
	t.Helper()
	s, err := seal.New([]byte("durable tier passphrase"), bytes.Repeat([]byte{3}, 16),
		seal.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1})
	require.NoError(t, err)
	return s
}

func TestDurableStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	first, err := OpenDurableStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, testKey, testRecord(2, "v2")))
	require.NoError(t, first.Close())

	second, err := OpenDurableStore(path)
	require.NoError(t, err)
	defer second.Close()

	got, found, err := second.Get(ctx, testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, "v2", got.Field("api_key"))
}

func TestDurableStoreSealsPayloadAtRest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	store, err := OpenDurableStore(path, WithSealer(testSealer(t)))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, testKey, testRecord(1, "top-secret-key")))

	raw, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer raw.Close()

	var data []byte
	require.NoError(t, raw.QueryRow(`SELECT data FROM records WHERE key = ?`, testKey.String()).Scan(&data))
	assert.NotContains(t, string(data), "top-secret-key")

	got, found, err := store.Get(ctx, testKey)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "top-secret-key", got.Field("api_key"))
}

func TestDurableStoreWrongKeyIsCorrupt(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.db")

	sealed, err := OpenDurableStore(path, WithSealer(testSealer(t)))
	require.NoError(t, err)
	require.NoError(t, sealed.Set(ctx, testKey, testRecord(1, "v1")))
	require.NoError(t, sealed.Close())

	plain, err := OpenDurableStore(path)
	require.NoError(t, err)
	defer plain.Close()

	_, _, err = plain.Get(ctx, testKey)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCorrupt)
	assert.ErrorIs(t, err, ErrPermanentIO)
}

func TestDurableStoreAfterCloseIsPermanent(t *testing.T) {
	store, err := OpenDurableStore(filepath.Join(t.TempDir(), "records.db"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	err = store.Set(context.Background(), testKey, testRecord(1, "v1"))
	require.Error(t, err)
	assert.Equal(t, ClassPermanent, ClassOf(err))
}

func TestOpenDurableStoreRequiresPath(t *testing.T) {
	_, err := OpenDurableStore("  ")
	assert.Error(t, err)
}
