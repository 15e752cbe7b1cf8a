package syncer

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"

	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesTiers(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoTiers)

	_, err = New(Options{Remote: newFaultTier(storage.TierMemory)})
	assert.Error(t, err, "cache tier cannot serve as remote")

	_, err = New(Options{Caches: []storage.Backend{newFaultTier(storage.TierMemory), newFaultTier(storage.TierMemory)}})
	assert.Error(t, err, "duplicate tiers")

	h := newHarness(t)
	assert.Equal(t, []storage.Tier{
		storage.TierRemote, storage.TierDurable, storage.TierEphemeral, storage.TierMemory,
	}, h.engine.Tiers())
}

func TestSaveThenLoadHealthyRemote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.engine.Save(ctx, u1, record.KindCredential, fields("v1"))
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, res.Status)
	assert.Equal(t, uint64(1), res.Record.Version)
	assert.Equal(t, record.TenantID("t1"), res.Record.Tenant)

	res, err = h.engine.Save(ctx, u1, record.KindCredential, fields("v2"))
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, res.Status)
	assert.Equal(t, uint64(2), res.Record.Version)

	got, err := h.engine.Load(ctx, u1, record.KindCredential)
	require.NoError(t, err)
	assert.Equal(t, storage.TierRemote, got.Provenance)
	assert.Equal(t, "v2", got.Record.Field("k"))
	assert.False(t, got.Degraded)

	for _, tier := range []*faultTier{h.durable, h.ephemeral, h.memory} {
		rec, found := tier.peek(t, record.KeyFor(u1, record.KindCredential))
		require.True(t, found, tier.tier)
		assert.Equal(t, uint64(2), rec.Version, tier.tier)
	}

	st := h.engine.Status(u1)
	assert.Equal(t, storage.TierRemote, st.LastSuccessfulTier)
	assert.False(t, st.Degraded)
	assert.False(t, st.LastSyncedAt.IsZero())
}

func TestSaveDegradesToCachedOnlyWhenRemoteDown(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	_, err := h.engine.Save(ctx, u1, record.KindCredential, fields("v1"))
	require.NoError(t, err)

	h.remote.down()
	_, setsBefore := h.remote.counts()

	res, err := h.engine.Save(ctx, u1, record.KindCredential, fields("v2"))
	require.NoError(t, err, "cached-only is success with degraded durability")
	assert.Equal(t, StatusCachedOnly, res.Status)
	assert.Equal(t, uint64(2), res.Record.Version)
	assert.ErrorIs(t, res.Tiers[storage.TierRemote], storage.ErrTransientIO)

	_, setsAfter := h.remote.counts()
	assert.Equal(t, 4, setsAfter-setsBefore, "one attempt plus three retries")

	got, err := h.engine.Load(ctx, u1, record.KindCredential)
	require.NoError(t, err)
	assert.Equal(t, storage.TierDurable, got.Provenance)
	assert.Equal(t, "v2", got.Record.Field("k"))
	assert.True(t, got.Degraded)
	assert.True(t, h.engine.Status(u1).Degraded)

	assert.Equal(t, uint64(1), h.metrics.Value(metrics.SaveCachedOnly))
	assert.NotZero(t, h.metrics.Value(metrics.RemoteRetry))
}

func TestLoadFallsBackToDurableNeverNotFound(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := record.KeyFor(u1, record.KindCredential)
	h.durable.seed(t, key, stampedRecord("t1", "u1", 7, "durable"))
	h.remote.down()

	got, err := h.engine.Load(ctx, u1, record.KindCredential)
	require.NoError(t, err)
	assert.Equal(t, storage.TierDurable, got.Provenance)
	assert.True(t, got.Found())
	assert.Equal(t, uint64(7), got.Record.Version)
}

func TestLoadFallbackOrder(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := record.KeyFor(u1, record.KindCredential)
	h.remote.down()
	h.durable.down()
	h.ephemeral.seed(t, key, stampedRecord("t1", "u1", 2, "ephemeral"))
	h.memory.seed(t, key, stampedRecord("t1", "u1", 3, "memory"))

	got, err := h.engine.Load(ctx, u1, record.KindCredential)
	require.NoError(t, err)
	assert.Equal(t, storage.TierEphemeral, got.Provenance)
	assert.Equal(t, "ephemeral", got.Record.Field("k"))
}

func TestLoadNotFoundIsNotAnError(t *testing.T) {
	h := newHarness(t)

	got, err := h.engine.Load(context.Background(), u1, record.KindCredential)
	require.NoError(t, err)
	assert.False(t, got.Found())
	assert.Equal(t, storage.TierNone, got.Provenance)
	assert.Equal(t, uint64(1), h.metrics.Value(metrics.LoadNotFound))
}

func TestLoadDropsRecordFromAnotherTenant(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	// stamped for t1 but sitting under t2's key
	h.memory.seed(t, record.KeyFor(u2, record.KindCredential), stampedRecord("t1", "u1", 1, "leak"))

	got, err := h.engine.Load(ctx, u2, record.KindCredential)
	require.NoError(t, err)
	assert.Equal(t, storage.TierNone, got.Provenance)
	assert.Equal(t, uint64(1), h.guard.Contaminations())
}

func TestLoadSkipsContaminatedRemoteAndDoesNotWriteItThrough(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := record.KeyFor(u2, record.KindCredential)
	h.remote.seed(t, key, stampedRecord("t1", "u1", 4, "leak"))
	h.durable.seed(t, key, stampedRecord("t2", "u1", 2, "mine"))

	got, err := h.engine.Load(ctx, u2, record.KindCredential)
	require.NoError(t, err)
	assert.Equal(t, storage.TierDurable, got.Provenance)
	assert.Equal(t, "mine", got.Record.Field("k"))
	assert.Equal(t, uint64(1), h.guard.Contaminations())

	_, found := h.memory.peek(t, key)
	assert.False(t, found)
}

func TestSaveFailsOnlyWhenEveryTierFails(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	for _, f := range []*faultTier{h.remote, h.durable, h.ephemeral, h.memory} {
		f.down()
	}

	res, err := h.engine.Save(ctx, u1, record.KindCredential, fields("v1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllTiersFailed)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Len(t, res.Tiers, 4)
	assert.Equal(t, uint64(1), h.metrics.Value(metrics.SaveFailed))
}

func TestCacheWriteFailureIsNotPropagated(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.memory.down()

	res, err := h.engine.Save(ctx, u1, record.KindCredential, fields("v1"))
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, res.Status)
	assert.Contains(t, res.Tiers, storage.TierMemory)
	assert.Equal(t, uint64(1), h.metrics.Value(metrics.CacheWriteFailure))
}

func TestPermanentRemoteErrorIsNotRetried(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.remote.fail(storage.Permanent(storage.TierRemote, "set", storage.ErrCorrupt))

	res, err := h.engine.Save(ctx, u1, record.KindCredential, fields("v1"))
	require.NoError(t, err)
	assert.Equal(t, StatusCachedOnly, res.Status)

	// one read for the intent record and one for the credential, none retried
	gets, sets := h.remote.counts()
	assert.Equal(t, 2, gets)
	assert.Equal(t, 1, sets)
}

func TestSequentialSaveVersionsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	var last uint64
	for i := 0; i < 10; i++ {
		if i == 4 {
			h.remote.down()
		}
		if i == 7 {
			h.remote.up()
		}
		res, err := h.engine.Save(ctx, u1, record.KindCredential, fields(strconv.Itoa(i)))
		require.NoError(t, err)
		assert.Greater(t, res.Record.Version, last, "save %d", i)
		last = res.Record.Version
	}
}

func TestUpdateBuildsOnCachedOnlyWriteAfterRecovery(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := record.KeyFor(u1, record.KindLockout)

	_, err := h.engine.Save(ctx, u1, record.KindLockout, map[string]string{"n": "1"})
	require.NoError(t, err)

	h.remote.down()
	res, err := h.engine.Save(ctx, u1, record.KindLockout, map[string]string{"n": "2"})
	require.NoError(t, err)
	require.Equal(t, StatusCachedOnly, res.Status)
	h.remote.up()

	res, err = h.engine.Update(ctx, u1, record.KindLockout, func(cur record.Record, found bool) (map[string]string, error) {
		require.True(t, found)
		assert.Equal(t, "2", cur.Field("n"), "the cached-only write is newer than the remote copy")
		return map[string]string{"n": "3"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, res.Status)
	assert.Equal(t, uint64(3), res.Record.Version)

	rec, found := h.remote.peek(t, key)
	require.True(t, found)
	assert.Equal(t, "3", rec.Field("n"))
}

func TestLatestPushesNewerCacheCopyToRecoveredRemote(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	key := record.KeyFor(u1, record.KindSession)

	_, err := h.engine.Save(ctx, u1, record.KindSession, map[string]string{"sid": "s1"})
	require.NoError(t, err)

	h.remote.down()
	_, err = h.engine.Invalidate(ctx, u1, record.KindSession)
	require.NoError(t, err)
	h.remote.up()

	loaded, err := h.engine.Load(ctx, u1, record.KindSession)
	require.NoError(t, err)
	assert.False(t, loaded.Record.Stale, "Load still trusts the remote tier first")

	got, err := h.engine.Latest(ctx, u1, record.KindSession)
	require.NoError(t, err)
	assert.True(t, got.Record.Stale)
	assert.Equal(t, uint64(2), got.Record.Version)
	assert.False(t, got.Degraded)

	rec, found := h.remote.peek(t, key)
	require.True(t, found)
	assert.True(t, rec.Stale, "the invalidation reached the remote tier")
	assert.Equal(t, uint64(1), h.metrics.Value(metrics.ReconcilePushed))
}

func TestConcurrentSavesAreSerialized(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const writers = 20
	versions := make(chan uint64, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.engine.Save(ctx, u1, record.KindCredential, fields(strconv.Itoa(i)))
			assert.NoError(t, err)
			assert.Equal(t, StatusSynced, res.Status)
			versions <- res.Record.Version
		}(i)
	}
	wg.Wait()
	close(versions)

	seen := make(map[uint64]bool, writers)
	for v := range versions {
		assert.False(t, seen[v], "version %d assigned twice", v)
		seen[v] = true
	}
	for v := uint64(1); v <= writers; v++ {
		assert.True(t, seen[v], "version %d missing", v)
	}
	assert.Zero(t, h.engine.locks.size(), "per-principal locks are released")
}

func TestUpdateNeverLosesIncrements(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	const workers = 25
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.engine.Update(ctx, u1, record.KindLockout, func(cur record.Record, _ bool) (map[string]string, error) {
				n, _ := strconv.Atoi(cur.Field("n"))
				return map[string]string{"n": strconv.Itoa(n + 1)}, nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := h.engine.Load(ctx, u1, record.KindLockout)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers), got.Record.Field("n"))
}

func TestUpdateAbortsOnCallbackError(t *testing.T) {
	h := newHarness(t)
	boom := fmt.Errorf("boom")

	_, err := h.engine.Update(context.Background(), u1, record.KindCredential, func(record.Record, bool) (map[string]string, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	_, sets := h.remote.counts()
	assert.Zero(t, sets)
}

func TestInvalidateMarksStale(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	res, err := h.engine.Invalidate(ctx, u1, record.KindSession)
	require.NoError(t, err)
	assert.Empty(t, res.Status, "nothing to invalidate")

	_, err = h.engine.Save(ctx, u1, record.KindSession, map[string]string{"sid": "abc"})
	require.NoError(t, err)

	res, err = h.engine.Invalidate(ctx, u1, record.KindSession)
	require.NoError(t, err)
	assert.True(t, res.Record.Stale)
	assert.Equal(t, uint64(2), res.Record.Version)

	got, err := h.engine.Load(ctx, u1, record.KindSession)
	require.NoError(t, err)
	assert.True(t, got.Record.Stale)
	assert.Equal(t, "abc", got.Record.Field("sid"))
}

func TestInvalidPrincipalRejected(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine.Load(context.Background(), record.Principal{Tenant: "T1", ID: "u1"}, record.KindCredential)
	assert.ErrorIs(t, err, record.ErrInvalidPrincipal)

	_, err = h.engine.Save(context.Background(), record.Principal{Tenant: "t1"}, record.KindCredential, nil)
	assert.ErrorIs(t, err, record.ErrInvalidPrincipal)
}

func TestLoadReturnsIndependentCopies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	_, err := h.engine.Save(ctx, u1, record.KindCredential, fields("v1"))
	require.NoError(t, err)

	a, err := h.engine.Load(ctx, u1, record.KindCredential)
	require.NoError(t, err)
	a.Record.Fields["k"] = "mutated"

	b, err := h.engine.Load(ctx, u1, record.KindCredential)
	require.NoError(t, err)
	assert.Equal(t, "v1", b.Record.Field("k"))
}
