package credsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompleteLoginThenBootstrap(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())

	d, err := te.PreAuth(ctx, bob)
	require.NoError(t, err)
	require.True(t, d.Allowed)

	tok, d, err := te.CompleteLogin(WithClientIP(ctx, "10.0.0.7"), bob)
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.NotEmpty(t, tok.Value)
	assert.Equal(t, StatusSynced, tok.Status)
	assert.True(t, tok.ExpiresAt.Equal(te.clock.Now().Add(time.Hour)))

	ev := te.waitForAudit(t, AuditEventSessionIssued)
	assert.Equal(t, "acme", ev.TenantID)
	assert.Equal(t, "bob", ev.PrincipalID)
	assert.Equal(t, "10.0.0.7", ev.IP)
	assert.Equal(t, tok.SessionID, ev.Metadata["session_id"])

	p, d, err := te.Bootstrap(ctx, tok.Value)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, bob, p)

	sess, err := te.ValidateSession(ctx, tok.Value)
	require.NoError(t, err)
	assert.Equal(t, tok.SessionID, sess.ID)

	snap := te.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters[MetricSessionIssued])
	assert.Equal(t, uint64(0), snap.Counters[MetricBootstrapRejected])
}

func TestLockoutEnforcedAtEveryEntryPoint(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())

	d, err := te.RecordFailure(ctx, bob)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Counter.FailureCount)

	locked := te.lock(t, bob)
	assert.False(t, locked.Allowed)
	assert.Equal(t, 10*time.Minute, locked.Remaining)
	te.waitForAudit(t, AuditEventLocked)

	d, err = te.PreAuth(ctx, bob)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, StateLocked, d.State)
	assert.Equal(t, 10*time.Minute, d.Remaining)

	tok, d, err := te.CompleteLogin(ctx, bob)
	assert.ErrorIs(t, err, ErrAccountLocked)
	assert.Empty(t, tok.Value)
	assert.False(t, d.Allowed)

	res, err := te.Load(ctx, bob, KindSession)
	require.NoError(t, err)
	assert.False(t, res.Found(), "a locked principal must not gain session material")

	// other principals are unaffected
	d, err = te.PreAuth(ctx, alice)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	te.clock.Advance(10*time.Minute + time.Second)
	d, err = te.PreAuth(ctx, bob)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Counter.FailureCount)

	ev := te.waitForAudit(t, AuditEventUnlocked)
	assert.Equal(t, "expired", ev.Metadata["reason"])

	c, err := te.LockoutCounter(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 0, c.FailureCount)
	assert.False(t, c.Locked())
}

func TestLockingInvalidatesExistingSession(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())

	tok, _, err := te.CompleteLogin(ctx, bob)
	require.NoError(t, err)

	te.lock(t, bob)

	_, _, err = te.Bootstrap(ctx, tok.Value)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricBootstrapRejected])
	assert.GreaterOrEqual(t, te.MetricsSnapshot().Counters[MetricSessionInvalidated], uint64(1))
	te.waitForAudit(t, AuditEventBootstrapDenied)

	d, err := te.AdminUnlock(WithActor(ctx, "ops@acme"), bob)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	ev := te.waitForAudit(t, AuditEventUnlocked)
	assert.Equal(t, "ops@acme", ev.Actor)
	assert.Equal(t, "admin", ev.Metadata["reason"])

	fresh, _, err := te.CompleteLogin(ctx, bob)
	require.NoError(t, err)
	_, d, err = te.Bootstrap(ctx, fresh.Value)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	// the token from before the lock stays revoked
	_, _, err = te.Bootstrap(ctx, tok.Value)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestLockoutManualUnlockOnly(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Lockout.Duration = 0
	te := newTestEngine(t, cfg)

	te.lock(t, bob)
	te.clock.Advance(365 * 24 * time.Hour)

	d, err := te.PreAuth(ctx, bob)
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	_, err = te.AdminUnlock(ctx, bob)
	require.NoError(t, err)
	d, err = te.PreAuth(ctx, bob)
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestLockoutCounterIsSharedThroughRemote(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())

	te.lock(t, bob)
	assert.True(t, te.mr.Exists("cs:acme:lockout:bob"))

	// a second device with empty caches sees the same lock
	other := New().
		WithConfig(testConfig()).
		WithClock(te.clock.Now).
		WithRemote(te.rows)
	engine, err := other.Build()
	require.NoError(t, err)
	defer engine.Close()

	d, err := engine.PreAuth(ctx, bob)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.False(t, d.Degraded)
}

func TestLogoutGatesCredentialAccess(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())

	tok, _, err := te.CompleteLogin(ctx, bob)
	require.NoError(t, err)
	_, err = te.Save(ctx, bob, KindCredential, map[string]string{"api_key": "k1"})
	require.NoError(t, err)

	require.NoError(t, te.Logout(ctx, bob))
	assert.Equal(t, IntentLoggingOut, te.Intent(ctx, bob))
	te.waitForAudit(t, AuditEventLogout)

	_, err = te.Load(ctx, bob, KindCredential)
	assert.ErrorIs(t, err, ErrLoggedOut)
	_, err = te.Save(ctx, bob, KindCredential, map[string]string{"api_key": "k2"})
	assert.ErrorIs(t, err, ErrLoggedOut)

	_, _, err = te.Bootstrap(ctx, tok.Value)
	assert.ErrorIs(t, err, ErrSessionInvalid)
	assert.ErrorIs(t, err, ErrLoggedOut)

	// lockout keeps working while logging out
	d, err := te.PreAuth(ctx, bob)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	_, _, err = te.CompleteLogin(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, IntentActive, te.Intent(ctx, bob))

	res, err := te.Load(ctx, bob, KindCredential)
	require.NoError(t, err)
	assert.Equal(t, TierRemote, res.Provenance)
	assert.Equal(t, "k1", res.Record.Field("api_key"))

	// a revoked token does not come back with the new login
	_, _, err = te.Bootstrap(ctx, tok.Value)
	assert.ErrorIs(t, err, ErrSessionInvalid)
}

func TestReservedKindsRejected(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())

	_, err := te.Save(ctx, bob, KindLockout, map[string]string{"failure_count": "0"})
	assert.ErrorIs(t, err, ErrReservedKind)
	_, err = te.Save(ctx, bob, KindSession, map[string]string{"sid": "forged"})
	assert.ErrorIs(t, err, ErrReservedKind)
	_, err = te.Save(ctx, bob, KindIntent, map[string]string{"intent": "active"})
	assert.ErrorIs(t, err, ErrReservedKind, "a logout cannot be undone through Save")
	_, err = te.Update(ctx, bob, KindLockout, func(Record, bool) (map[string]string, error) {
		return map[string]string{}, nil
	})
	assert.ErrorIs(t, err, ErrReservedKind)
	_, err = te.Invalidate(ctx, bob, KindLockout)
	assert.ErrorIs(t, err, ErrReservedKind)

	_, err = te.Save(ctx, bob, Kind("profile"), nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrReservedKind))
	_, err = te.Load(ctx, bob, Kind("profile"))
	require.Error(t, err)
}

func TestInvalidPrincipalRejected(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())

	for _, p := range []Principal{
		{Tenant: "", ID: "bob"},
		{Tenant: "Acme", ID: "bob"},
		{Tenant: "acme", ID: ""},
	} {
		_, err := te.PreAuth(ctx, p)
		assert.ErrorIs(t, err, ErrInvalidPrincipal, "principal %v", p)
		_, err = te.Save(ctx, p, KindCredential, map[string]string{"k": "v"})
		assert.ErrorIs(t, err, ErrInvalidPrincipal, "principal %v", p)
	}
	assert.Equal(t, TenantID("acme"), NormalizeTenant("  ACME "))
}

func TestSaveVersionsAndInvalidate(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())

	first, err := te.Save(ctx, bob, KindCredential, map[string]string{"api_key": "k1"})
	require.NoError(t, err)
	assert.Equal(t, StatusSynced, first.Status)
	assert.Equal(t, uint64(1), first.Record.Version)
	assert.Equal(t, TenantID("acme"), first.Record.Tenant)

	second, err := te.Update(ctx, bob, KindCredential, func(cur Record, found bool) (map[string]string, error) {
		require.True(t, found)
		return map[string]string{"api_key": cur.Field("api_key") + "-rotated"}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), second.Record.Version)
	assert.Equal(t, "2", te.mr.HGet("cs:acme:credential:bob", "version"))

	inv, err := te.Invalidate(ctx, bob, KindCredential)
	require.NoError(t, err)
	assert.True(t, inv.Record.Stale)
	assert.Equal(t, uint64(3), inv.Record.Version)

	res, err := te.Load(ctx, bob, KindCredential)
	require.NoError(t, err)
	assert.True(t, res.Record.Stale)
	assert.Equal(t, "k1-rotated", res.Record.Field("api_key"))

	missing, err := te.Invalidate(ctx, alice, KindCredential)
	require.NoError(t, err)
	assert.True(t, missing.Record.IsZero())

	st := te.SyncStatus(bob)
	assert.Equal(t, TierRemote, st.LastSuccessfulTier)
	assert.False(t, st.Degraded)
}

func TestSaveCachedOnlyWhileRemoteDownThenReconcile(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())

	te.rows.down.Store(true)
	res, err := te.Save(ctx, bob, KindCredential, map[string]string{"api_key": "offline"})
	require.NoError(t, err)
	assert.Equal(t, StatusCachedOnly, res.Status)
	assert.ErrorIs(t, res.Tiers[TierRemote], ErrTransientIO)

	st := te.SyncStatus(bob)
	assert.True(t, st.Degraded)
	assert.Equal(t, TierEphemeral, st.LastSuccessfulTier)

	loaded, err := te.Load(ctx, bob, KindCredential)
	require.NoError(t, err)
	assert.Equal(t, TierEphemeral, loaded.Provenance)
	assert.True(t, loaded.Degraded)

	_, err = te.Reconcile(ctx, bob, KindCredential)
	assert.ErrorIs(t, err, ErrTransientIO)

	te.rows.down.Store(false)
	rep, err := te.Reconcile(ctx, bob, KindCredential)
	require.NoError(t, err)
	assert.True(t, rep.PushedToRemote)
	assert.Equal(t, TierEphemeral, rep.Winner)
	assert.Equal(t, uint64(1), rep.Version)
	assert.Equal(t, "1", te.mr.HGet("cs:acme:credential:bob", "version"))

	ev := te.waitForAudit(t, AuditEventReconcilePushed)
	assert.Equal(t, "ephemeral-local", ev.Metadata["winner"])

	loaded, err = te.Load(ctx, bob, KindCredential)
	require.NoError(t, err)
	assert.Equal(t, TierRemote, loaded.Provenance)
	assert.Equal(t, "offline", loaded.Record.Field("api_key"))

	snap := te.MetricsSnapshot()
	assert.Equal(t, uint64(1), snap.Counters[MetricSaveCachedOnly])
	assert.Equal(t, uint64(1), snap.Counters[MetricReconcilePushed])
	assert.GreaterOrEqual(t, snap.Counters[MetricRemoteRetry], uint64(1))
}

func TestSaveAllTiersFailed(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Ephemeral.Enabled = false
	te := newTestEngine(t, cfg, withCache(brokenCache{tier: storage.TierMemory}))
	te.rows.down.Store(true)

	res, err := te.Save(ctx, bob, KindCredential, map[string]string{"api_key": "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllTiersFailed)
	assert.Equal(t, StatusFailed, res.Status)

	ev := te.waitForAudit(t, AuditEventSaveFailed)
	assert.False(t, ev.Success)
	assert.Equal(t, "transient", ev.Metadata["remote"])
	assert.Equal(t, "permanent", ev.Metadata["memory"])
	assert.NotContains(t, ev.Error, "api_key")

	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricSaveFailed])
	assert.Equal(t, TierNone, te.SyncStatus(bob).LastSuccessfulTier)
}

func TestCacheOnlyEngine(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig(), withoutRemote())

	assert.Equal(t, []Tier{TierEphemeral, TierMemory}, te.Tiers())

	res, err := te.Save(ctx, bob, KindCredential, map[string]string{"api_key": "k"})
	require.NoError(t, err)
	assert.Equal(t, StatusCachedOnly, res.Status)

	loaded, err := te.Load(ctx, bob, KindCredential)
	require.NoError(t, err)
	assert.True(t, loaded.Degraded)

	_, err = te.Reconcile(ctx, bob, KindCredential)
	assert.ErrorIs(t, err, ErrNoRemote)

	te.EndEphemeralContext()
	loaded, err = te.Load(ctx, bob, KindCredential)
	require.NoError(t, err)
	assert.Equal(t, TierMemory, loaded.Provenance)
}

func TestContaminatedCacheRecordIsDropped(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	key := record.KeyFor(bob, KindCredential)
	require.NoError(t, mem.Set(ctx, key, Record{
		Owner:   bob.ID,
		Tenant:  "globex",
		Kind:    KindCredential,
		Fields:  map[string]string{"api_key": "globex-key"},
		Version: 7,
	}))

	te := newTestEngine(t, testConfig(), withoutRemote(), withCache(mem))

	res, err := te.Load(ctx, bob, KindCredential)
	require.NoError(t, err)
	assert.False(t, res.Found())
	assert.Equal(t, TierNone, res.Provenance)

	assert.Equal(t, uint64(1), te.ContaminationCount())
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricContaminationDropped])

	ev := te.waitForAudit(t, AuditEventContamination)
	assert.Equal(t, "acme", ev.TenantID)
	assert.Equal(t, "bob", ev.PrincipalID)
	assert.Equal(t, "globex", ev.Metadata["found_tenant"])
	assert.Equal(t, "memory", ev.Metadata["tier"])
	assert.NotContains(t, ev.Metadata, "api_key")

	// a new save for acme starts its own version line
	saved, err := te.Save(ctx, bob, KindCredential, map[string]string{"api_key": "acme-key"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), saved.Record.Version)
	assert.Equal(t, TenantID("acme"), saved.Record.Tenant)
}

func TestRepairContaminationMovesRecord(t *testing.T) {
	ctx := WithActor(context.Background(), "ops@acme")
	mem := storage.NewMemoryStore()
	key := record.KeyFor(bob, KindCredential)
	require.NoError(t, mem.Set(ctx, key, Record{
		Owner:   bob.ID,
		Tenant:  "globex",
		Kind:    KindCredential,
		Fields:  map[string]string{"api_key": "globex-key"},
		Version: 7,
	}))
	te := newTestEngine(t, testConfig(), withoutRemote(), withCache(mem))

	rep, err := te.RepairContamination(ctx, bob, KindCredential, "globex")
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Repaired())

	moved := Principal{Tenant: "globex", ID: "bob"}
	res, err := te.Load(ctx, moved, KindCredential)
	require.NoError(t, err)
	assert.Equal(t, TierMemory, res.Provenance)
	assert.Equal(t, "globex-key", res.Record.Field("api_key"))
	assert.Equal(t, uint64(7), res.Record.Version)

	_, found, err := mem.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, found)

	ev := te.waitForAudit(t, AuditEventRepair)
	assert.Equal(t, "ops@acme", ev.Actor)
	assert.True(t, ev.Success)
	assert.Equal(t, "memory", ev.Metadata["tier"])

	_, err = te.RepairContamination(ctx, bob, KindCredential, "Not A Tenant")
	assert.ErrorIs(t, err, ErrRepairRejected)
	assert.Equal(t, uint64(1), te.MetricsSnapshot().Counters[MetricContaminationRepaired])
}

func TestClosedEngineRejectsCalls(t *testing.T) {
	ctx := context.Background()
	te := newTestEngine(t, testConfig())
	require.NoError(t, te.Close())
	require.NoError(t, te.Close())

	_, err := te.PreAuth(ctx, bob)
	assert.ErrorIs(t, err, ErrEngineNotReady)
	_, _, err = te.CompleteLogin(ctx, bob)
	assert.ErrorIs(t, err, ErrEngineNotReady)
	_, _, err = te.Bootstrap(ctx, "token")
	assert.ErrorIs(t, err, ErrEngineNotReady)
	_, err = te.Load(ctx, bob, KindCredential)
	assert.ErrorIs(t, err, ErrEngineNotReady)
	assert.ErrorIs(t, te.Logout(ctx, bob), ErrEngineNotReady)
	assert.Nil(t, te.Tiers())

	var nilEngine *Engine
	_, err = nilEngine.Save(ctx, bob, KindCredential, nil)
	assert.ErrorIs(t, err, ErrEngineNotReady)
}

func TestBuilderRejectsReuseAndBadConfig(t *testing.T) {
	b := New().WithConfig(testConfig())
	engine, err := b.Build()
	require.NoError(t, err)
	defer engine.Close()

	_, err = b.Build()
	require.Error(t, err)

	cfg := testConfig()
	cfg.Lockout.Threshold = 0
	_, err = New().WithConfig(cfg).Build()
	require.Error(t, err)

	_, err = New().Build()
	require.Error(t, err, "default config carries no signing key")
}
