package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/internal/retry"
	"github.com/MrEthical07/credsync/internal/tenant"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

var (
	// ErrAllTiersFailed is returned by writes that no tier accepted.
	ErrAllTiersFailed = errors.New("all storage tiers failed")
	// ErrLoggedOut is returned for credential and session access while the
	// principal's intent is LoggingOut.
	ErrLoggedOut = errors.New("principal is logging out")
	// ErrNoRemote is returned by Reconcile when no remote tier is configured.
	ErrNoRemote = errors.New("no remote tier configured")
	// ErrNoTiers is returned by New when no backend is configured at all.
	ErrNoTiers = errors.New("at least one storage tier is required")
)

// SaveStatus is the outcome of a write.
type SaveStatus string

const (
	StatusSynced     SaveStatus = "synced"
	StatusCachedOnly SaveStatus = "cached-only"
	StatusFailed     SaveStatus = "failed"
)

// Result is a Load outcome. Provenance is storage.TierNone when nothing was
// found, which is not an error.
type Result struct {
	Record     record.Record
	Provenance storage.Tier
	// Degraded is set when the remote tier could not be read.
	Degraded bool
}

// Found reports whether a record was returned.
func (r Result) Found() bool {
	return r.Provenance.Found()
}

// SaveResult is a write outcome. Tiers holds the failure of every tier that
// rejected the write; an absent entry means the tier accepted it.
type SaveResult struct {
	Record record.Record
	Status SaveStatus
	Tiers  map[storage.Tier]error
}

// Status is the observability view of a principal's last operation.
type Status struct {
	LastSuccessfulTier storage.Tier
	LastSyncedAt       time.Time
	Degraded           bool
}

// Options wires an Engine.
type Options struct {
	// Remote is the authoritative tier. Nil runs the engine cache-only.
	Remote storage.Backend
	// Caches are the non-authoritative tiers. They are consulted in
	// priority order regardless of the order given here.
	Caches  []storage.Backend
	Guard   *tenant.Guard
	Policy  retry.Policy
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Engine orchestrates tiered reads and writes. It holds no record state of
// its own; all records live in the tiers.
type Engine struct {
	remote  storage.Backend
	caches  []storage.Backend
	guard   *tenant.Guard
	policy  retry.Policy
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	locks  *keyedMutex
	flight singleflight.Group

	stateMu sync.RWMutex
	status  map[record.Principal]Status
	intents map[record.Principal]record.SessionIntent
}

// New validates opts and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.Remote == nil && len(opts.Caches) == 0 {
		return nil, ErrNoTiers
	}
	if opts.Remote != nil && opts.Remote.Capability() != storage.CapabilityAuthoritative {
		return nil, fmt.Errorf("remote tier %s is not authoritative", opts.Remote.Tier())
	}

	caches := make([]storage.Backend, 0, len(opts.Caches))
	seen := make(map[storage.Tier]bool, len(opts.Caches))
	for _, c := range opts.Caches {
		if c == nil {
			continue
		}
		if c.Capability() != storage.CapabilityCache {
			return nil, fmt.Errorf("tier %s is not a cache", c.Tier())
		}
		if seen[c.Tier()] {
			return nil, fmt.Errorf("duplicate cache tier %s", c.Tier())
		}
		seen[c.Tier()] = true
		caches = append(caches, c)
	}
	sort.SliceStable(caches, func(i, j int) bool {
		return caches[i].Tier().Priority() > caches[j].Tier().Priority()
	})

	e := &Engine{
		remote:  opts.Remote,
		caches:  caches,
		guard:   opts.Guard,
		policy:  opts.Policy,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
		locks:   newKeyedMutex(),
		status:  make(map[record.Principal]Status),
		intents: make(map[record.Principal]record.SessionIntent),
	}
	if e.guard == nil {
		e.guard = tenant.NewGuard(nil)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.remote == nil {
		e.logger.Warn("no remote tier configured, saves will be cached-only")
	}
	return e, nil
}

// Tiers lists the configured tiers in read order.
func (e *Engine) Tiers() []storage.Tier {
	out := make([]storage.Tier, 0, len(e.caches)+1)
	if e.remote != nil {
		out = append(out, e.remote.Tier())
	}
	for _, c := range e.caches {
		out = append(out, c.Tier())
	}
	return out
}

// Guard returns the tenant guard every read and write passes through.
func (e *Engine) Guard() *tenant.Guard {
	return e.guard
}

// Status returns the outcome of p's most recent operation. It is for display
// only and never consulted by the engine itself.
func (e *Engine) Status(p record.Principal) Status {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.status[p]
}

func (e *Engine) setStatus(p record.Principal, tier storage.Tier, degraded bool) {
	st := Status{LastSuccessfulTier: tier, Degraded: degraded}
	if tier.Found() {
		st.LastSyncedAt = e.now()
	}

	e.stateMu.Lock()
	if !tier.Found() {
		// keep the last good timestamp when nothing succeeded
		st.LastSyncedAt = e.status[p].LastSyncedAt
	}
	e.status[p] = st
	e.stateMu.Unlock()
}

func (e *Engine) remoteGet(ctx context.Context, key record.Key) (record.Record, bool, error) {
	type hit struct {
		rec   record.Record
		found bool
	}
	h, err := retry.Do(ctx, e.policy, func(ctx context.Context) (hit, error) {
		rec, found, err := e.remote.Get(ctx, key)
		return hit{rec: rec, found: found}, err
	}, e.onRetry(key, "get"))
	return h.rec, h.found, err
}

func (e *Engine) remoteSet(ctx context.Context, key record.Key, rec record.Record) error {
	_, err := retry.Do(ctx, e.policy, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.remote.Set(ctx, key, rec)
	}, e.onRetry(key, "set"))
	return err
}

func (e *Engine) onRetry(key record.Key, op string) retry.Notify {
	return func(attempt int, err error, delay time.Duration) {
		e.metrics.Inc(metrics.RemoteRetry)
		e.logger.Debug("retrying remote tier",
			zap.String("op", op),
			zap.String("tenant", string(key.Tenant)),
			zap.String("principal", string(key.Owner)),
			zap.String("kind", string(key.Kind)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
	}
}

func (e *Engine) logTierFailure(msg string, tier storage.Tier, key record.Key, err error) {
	e.logger.Warn(msg,
		zap.String("tier", string(tier)),
		zap.String("tenant", string(key.Tenant)),
		zap.String("principal", string(key.Owner)),
		zap.String("kind", string(key.Kind)),
		zap.Error(err))
}

func loadMetric(t storage.Tier) metrics.ID {
	switch t {
	case storage.TierRemote:
		return metrics.LoadRemote
	case storage.TierDurable:
		return metrics.LoadDurable
	case storage.TierEphemeral:
		return metrics.LoadEphemeral
	case storage.TierMemory:
		return metrics.LoadMemory
	default:
		return metrics.LoadNotFound
	}
}
