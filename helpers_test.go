package credsync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var (
	bob   = Principal{Tenant: "acme", ID: "bob"}
	alice = Principal{Tenant: "globex", ID: "alice"}

	testSigningKey = []byte("0123456789abcdef0123456789abcdef")
	errRemoteDown  = errors.New("remote unreachable")
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// switchableRows fails every call with a transient error while down is set.
type switchableRows struct {
	storage.RowClient
	down atomic.Bool
}

func (r *switchableRows) GetRow(ctx context.Context, tenant record.TenantID, row string) (storage.Row, bool, error) {
	if r.down.Load() {
		return storage.Row{}, false, storage.Transient(storage.TierRemote, "get", errRemoteDown)
	}
	return r.RowClient.GetRow(ctx, tenant, row)
}

func (r *switchableRows) UpsertRow(ctx context.Context, tenant record.TenantID, row string, v storage.Row) error {
	if r.down.Load() {
		return storage.Transient(storage.TierRemote, "set", errRemoteDown)
	}
	return r.RowClient.UpsertRow(ctx, tenant, row, v)
}

func (r *switchableRows) DeleteRow(ctx context.Context, tenant record.TenantID, row string) error {
	if r.down.Load() {
		return storage.Transient(storage.TierRemote, "delete", errRemoteDown)
	}
	return r.RowClient.DeleteRow(ctx, tenant, row)
}

// brokenCache is a cache tier that rejects every write.
type brokenCache struct {
	tier storage.Tier
}

func (b brokenCache) Tier() storage.Tier { return b.tier }

func (b brokenCache) Capability() storage.Capability { return storage.CapabilityCache }

func (b brokenCache) Delete(context.Context, record.Key) error { return nil }

func (b brokenCache) Get(context.Context, record.Key) (record.Record, bool, error) {
	return record.Record{}, false, nil
}

func (b brokenCache) Set(context.Context, record.Key, record.Record) error {
	return storage.Permanent(b.tier, "set", errors.New("disk full"))
}

type testEngine struct {
	*Engine
	clock *testClock
	mr    *miniredis.Miniredis
	rows  *switchableRows
	audit *ChannelSink
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Sync.MaxRetries = 1
	cfg.Sync.BaseBackoff = time.Millisecond
	cfg.Sync.MaxBackoff = 2 * time.Millisecond
	cfg.Sync.RemoteTimeout = time.Second
	cfg.Lockout.Threshold = 3
	cfg.Lockout.Duration = 10 * time.Minute
	cfg.Session.SigningMethod = "hs256"
	cfg.Session.PrivateKey = testSigningKey
	cfg.Session.TTL = time.Hour
	cfg.Audit = AuditConfig{Enabled: true, BufferSize: 256, DropIfFull: false}
	cfg.Metrics = MetricsConfig{Enabled: true, EnableLatencyHistograms: true}
	return cfg
}

type engineOption func(*Builder, *testEngine)

// withoutRemote builds a cache-only engine.
func withoutRemote() engineOption {
	return func(b *Builder, te *testEngine) {
		b.WithRemote(nil)
		te.rows = nil
	}
}

func withCache(backend storage.Backend) engineOption {
	return func(b *Builder, _ *testEngine) {
		b.WithCache(backend)
	}
}

func newTestEngine(t testing.TB, cfg Config, opts ...engineOption) *testEngine {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	te := &testEngine{
		clock: newTestClock(),
		mr:    mr,
		rows:  &switchableRows{RowClient: storage.NewRedisRows(rdb, cfg.Sync.KeyPrefix)},
		audit: NewChannelSink(1024),
	}

	b := New().
		WithConfig(cfg).
		WithLogger(zaptest.NewLogger(t)).
		WithClock(te.clock.Now).
		WithRemote(te.rows).
		WithAuditSink(te.audit)
	for _, opt := range opts {
		opt(b, te)
	}

	engine, err := b.Build()
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })
	te.Engine = engine
	return te
}

// waitForAudit reads audit events until one of the given type arrives.
func (te *testEngine) waitForAudit(t *testing.T, eventType string) AuditEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-te.audit.Events():
			if ev.EventType == eventType {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s audit event within timeout", eventType)
			return AuditEvent{}
		}
	}
}

// lock drives p into the locked state through failed attempts.
func (te *testEngine) lock(t *testing.T, p Principal) Decision {
	t.Helper()
	var d Decision
	var err error
	for i := 0; i < te.config.Lockout.Threshold; i++ {
		d, err = te.RecordFailure(context.Background(), p)
		require.NoError(t, err)
	}
	require.Equal(t, StateLocked, d.State)
	return d
}
