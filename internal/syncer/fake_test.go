package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/internal/retry"
	"github.com/MrEthical07/credsync/internal/tenant"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// faultTier wraps an in-memory store and fails on demand.
type faultTier struct {
	inner      *storage.MemoryStore
	tier       storage.Tier
	capability storage.Capability

	mu     sync.Mutex
	getErr error
	setErr error
	gets   int
	sets   int
}

func newFaultTier(tier storage.Tier) *faultTier {
	c := storage.CapabilityCache
	if tier == storage.TierRemote {
		c = storage.CapabilityAuthoritative
	}
	return &faultTier{inner: storage.NewMemoryStore(), tier: tier, capability: c}
}

func (f *faultTier) Tier() storage.Tier             { return f.tier }
func (f *faultTier) Capability() storage.Capability { return f.capability }

func (f *faultTier) Get(ctx context.Context, key record.Key) (record.Record, bool, error) {
	f.mu.Lock()
	f.gets++
	err := f.getErr
	f.mu.Unlock()
	if err != nil {
		return record.Record{}, false, err
	}
	return f.inner.Get(ctx, key)
}

func (f *faultTier) Set(ctx context.Context, key record.Key, rec record.Record) error {
	f.mu.Lock()
	f.sets++
	err := f.setErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.Set(ctx, key, rec)
}

func (f *faultTier) Delete(ctx context.Context, key record.Key) error {
	f.mu.Lock()
	err := f.setErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.inner.Delete(ctx, key)
}

// down makes every call fail with a transient error.
func (f *faultTier) down() {
	f.fail(storage.Transient(f.tier, "io", errors.New("connection refused")))
}

func (f *faultTier) fail(err error) {
	f.mu.Lock()
	f.getErr, f.setErr = err, err
	f.mu.Unlock()
}

func (f *faultTier) up() {
	f.fail(nil)
}

func (f *faultTier) counts() (gets, sets int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets, f.sets
}

// seed writes rec directly, bypassing the engine and its guard.
func (f *faultTier) seed(t *testing.T, key record.Key, rec record.Record) {
	t.Helper()
	require.NoError(t, f.inner.Set(context.Background(), key, rec))
}

func (f *faultTier) peek(t *testing.T, key record.Key) (record.Record, bool) {
	t.Helper()
	rec, found, err := f.inner.Get(context.Background(), key)
	require.NoError(t, err)
	return rec, found
}

type harness struct {
	engine    *Engine
	guard     *tenant.Guard
	metrics   *metrics.Metrics
	remote    *faultTier
	durable   *faultTier
	ephemeral *faultTier
	memory    *faultTier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		guard:     tenant.NewGuard(nil),
		metrics:   metrics.New(metrics.Config{Enabled: true, EnableLatencyHistograms: true}),
		remote:    newFaultTier(storage.TierRemote),
		durable:   newFaultTier(storage.TierDurable),
		ephemeral: newFaultTier(storage.TierEphemeral),
		memory:    newFaultTier(storage.TierMemory),
	}

	e, err := New(Options{
		Remote: h.remote,
		// deliberately out of priority order
		Caches:  []storage.Backend{h.memory, h.durable, h.ephemeral},
		Guard:   h.guard,
		Policy:  retry.Policy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond},
		Logger:  zaptest.NewLogger(t),
		Metrics: h.metrics,
	})
	require.NoError(t, err)
	h.engine = e
	return h
}

var (
	u1 = record.Principal{Tenant: "t1", ID: "u1"}
	u2 = record.Principal{Tenant: "t2", ID: "u1"}
)

func fields(v string) map[string]string {
	return map[string]string{"k": v}
}

func stampedRecord(tenantID record.TenantID, owner record.PrincipalID, version uint64, v string) record.Record {
	return record.Record{
		Owner:   owner,
		Tenant:  tenantID,
		Kind:    record.KindCredential,
		Fields:  fields(v),
		Version: version,
	}
}
