package credsync

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credsync/internal/audit"
	"github.com/MrEthical07/credsync/internal/lockout"
	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/internal/session"
	"github.com/MrEthical07/credsync/internal/syncer"
	"github.com/MrEthical07/credsync/internal/tenant"
	"github.com/MrEthical07/credsync/jwt"
	"github.com/MrEthical07/credsync/seal"
	"github.com/MrEthical07/credsync/storage"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an Engine.
//
// Builder instances are intended to be configured during initialization and then treated as immutable.
type Builder struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	rows        storage.RowClient
	redisClient redis.UniversalClient
	caches      []storage.Backend

	auditSink AuditSink

	built bool
}

// New returns a builder over the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLogger sets the structured logger. The default discards everything.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// WithRemote uses rows as the authoritative tier.
func (b *Builder) WithRemote(rows storage.RowClient) *Builder {
	b.rows = rows
	b.redisClient = nil
	return b
}

// WithRedisRemote uses client as the authoritative tier. Rows are namespaced
// under Sync.KeyPrefix.
func (b *Builder) WithRedisRemote(client redis.UniversalClient) *Builder {
	b.redisClient = client
	b.rows = nil
	return b
}

// WithPostgresRemote uses pool as the authoritative tier. The caller owns
// the pool and must have run storage.PostgresRows.EnsureSchema.
func (b *Builder) WithPostgresRemote(pool *pgxpool.Pool) *Builder {
	return b.WithRemote(storage.NewPostgresRows(pool))
}

// WithCache adds a caller-supplied cache tier. It replaces the built-in
// backend of the same tier.
func (b *Builder) WithCache(backend storage.Backend) *Builder {
	b.caches = append(b.caches, backend)
	return b
}

// WithAuditSink sets the audit destination. Audit must also be enabled in
// the configuration.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles counter collection.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the save latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component. A builder
// can be used once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config: cfg,
		logger: b.logger,
		now:    b.now,
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.metrics = metrics.New(cfg.Metrics)

	// -------- TIERS --------
	var remote storage.Backend
	switch {
	case b.rows != nil:
		remote = storage.NewRemoteStore(b.rows, cfg.Sync.RemoteTimeout)
	case b.redisClient != nil:
		remote = storage.NewRemoteStore(storage.NewRedisRows(b.redisClient, cfg.Sync.KeyPrefix), cfg.Sync.RemoteTimeout)
	}

	caches, err := e.buildCaches(cfg, b.caches)
	if err != nil {
		e.closeTiers()
		return nil, err
	}

	// -------- SYNC ENGINE --------
	guard := tenant.NewGuard(e.onContaminated)
	e.sync, err = syncer.New(syncer.Options{
		Remote:  remote,
		Caches:  caches,
		Guard:   guard,
		Policy:  cfg.retryPolicy(),
		Logger:  e.logger.Named("sync"),
		Metrics: e.metrics,
		Now:     e.now,
	})
	if err != nil {
		e.closeTiers()
		return nil, err
	}

	// -------- LOCKOUT --------
	e.lockout, err = lockout.New(lockout.Options{
		Config: lockout.Config{
			Threshold:              cfg.Lockout.Threshold,
			Duration:               cfg.Lockout.Duration,
			Window:                 cfg.Lockout.Window,
			FailClosedWhenDegraded: cfg.Lockout.FailClosedWhenDegraded,
		},
		Store: e.sync,
		Hooks: lockout.Hooks{
			OnLocked:   e.onLocked,
			OnUnlocked: e.onUnlocked,
			OnDenied:   e.onDenied,
		},
		Logger:  e.logger.Named("lockout"),
		Metrics: e.metrics,
		Now:     e.now,
	})
	if err != nil {
		e.closeTiers()
		return nil, err
	}

	// -------- SESSIONS --------
	tokens, err := jwt.NewManager(jwt.Config{
		TTL:           cfg.Session.TTL,
		SigningMethod: jwt.SigningMethod(cfg.Session.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Session.PrivateKey),
		PublicKey:     cloneBytes(cfg.Session.PublicKey),
		Issuer:        cfg.Session.Issuer,
		Audience:      cfg.Session.Audience,
		Leeway:        cfg.Session.Leeway,
		Now:           e.now,
	})
	if err != nil {
		e.closeTiers()
		return nil, err
	}
	e.sessions, err = session.NewManager(session.Options{
		Store:   e.sync,
		Tokens:  tokens,
		Logger:  e.logger.Named("session"),
		Metrics: e.metrics,
		Now:     e.now,
	})
	if err != nil {
		e.closeTiers()
		return nil, err
	}

	e.audit = audit.NewDispatcher(cfg.Audit, b.auditSink, e.logger.Named("audit"))

	b.built = true
	e.logger.Info("credsync engine ready", zap.Strings("tiers", tierNames(e.sync.Tiers())))
	return e, nil
}

// buildCaches opens the configured cache tiers. Caller-supplied backends
// take the place of the built-in backend for their tier.
func (e *Engine) buildCaches(cfg Config, custom []storage.Backend) ([]storage.Backend, error) {
	supplied := make(map[storage.Tier]bool, len(custom))
	out := make([]storage.Backend, 0, len(custom)+3)
	for _, c := range custom {
		if c == nil {
			continue
		}
		supplied[c.Tier()] = true
		out = append(out, c)
	}

	if cfg.Durable.Path != "" && !supplied[storage.TierDurable] {
		var opts []storage.DurableOption
		if cfg.Durable.SealPassphrase != "" {
			sealer, err := seal.New([]byte(cfg.Durable.SealPassphrase), []byte(cfg.Durable.SealSalt), seal.Config{
				Memory:      cfg.Durable.SealMemory,
				Time:        cfg.Durable.SealTime,
				Parallelism: cfg.Durable.SealParallelism,
			})
			if err != nil {
				return nil, fmt.Errorf("durable tier sealer: %w", err)
			}
			opts = append(opts, storage.WithSealer(sealer))
		}
		durable, err := storage.OpenDurableStore(cfg.Durable.Path, opts...)
		if err != nil {
			return nil, err
		}
		e.closers = append(e.closers, durable.Close)
		out = append(out, durable)
	}
	if cfg.Ephemeral.Enabled && !supplied[storage.TierEphemeral] {
		eph := storage.NewEphemeralStore(cfg.Ephemeral.Size, cfg.Ephemeral.TTL)
		e.ephemeral = eph
		out = append(out, eph)
	}
	if !supplied[storage.TierMemory] {
		out = append(out, storage.NewMemoryStore())
	}
	return out, nil
}

func tierNames(tiers []storage.Tier) []string {
	out := make([]string, len(tiers))
	for i, t := range tiers {
		out[i] = string(t)
	}
	return out
}
