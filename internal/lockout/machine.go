package lockout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/internal/syncer"
	"github.com/MrEthical07/credsync/record"
	"go.uber.org/zap"
)

// ErrInvalidConfig is returned by New for unusable settings.
var ErrInvalidConfig = errors.New("invalid lockout config")

// manualUnlock is the lock expiry used when Duration is zero: the lock only
// ends through AdminUnlock.
var manualUnlock = time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)

// Config holds the lockout policy.
type Config struct {
	Threshold int
	// Duration is how long a lock lasts. Zero means manual unlock only.
	Duration time.Duration
	// Window, when positive, restarts counting for failures that arrive
	// after the window opened by the first failure has closed.
	Window time.Duration
	// FailClosedWhenDegraded denies access when no counter was found but the
	// remote tier could not be asked.
	FailClosedWhenDegraded bool
}

// State is the machine state observed by a decision.
type State uint8

const (
	StateOpen State = iota
	StateLocked
)

func (s State) String() string {
	if s == StateLocked {
		return "locked"
	}
	return "open"
}

// Decision is the outcome of an access check. A denial is not an error.
type Decision struct {
	Allowed   bool
	Remaining time.Duration
	State     State
	Counter   Counter
	// Degraded is set when the decision was made without the remote tier.
	Degraded bool
}

// UnlockReason says why a lock ended.
type UnlockReason string

const (
	UnlockExpired UnlockReason = "expired"
	UnlockAdmin   UnlockReason = "admin"
)

// Store is the persistence the machine needs; *syncer.Engine satisfies it.
// Counters are read with Latest so a lock written to the caches during a
// remote outage is never shadowed by the older remote counter.
type Store interface {
	Latest(ctx context.Context, p record.Principal, kind record.Kind) (syncer.Result, error)
	Update(ctx context.Context, p record.Principal, kind record.Kind, fn syncer.UpdateFunc) (syncer.SaveResult, error)
}

// Hooks observe transitions. OnLocked runs on every observation of an
// active lock, not only on the transition, so callers can invalidate
// sessions that appeared since.
type Hooks struct {
	OnLocked   func(ctx context.Context, p record.Principal, d Decision)
	OnUnlocked func(ctx context.Context, p record.Principal, reason UnlockReason)
	OnDenied   func(ctx context.Context, p record.Principal, d Decision)
}

// Machine evaluates and persists lockout transitions.
type Machine struct {
	cfg     Config
	store   Store
	hooks   Hooks
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Options wires a Machine.
type Options struct {
	Config  Config
	Store   Store
	Hooks   Hooks
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// New validates opts and builds a machine.
func New(opts Options) (*Machine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidConfig)
	}
	if opts.Config.Threshold < 1 {
		return nil, fmt.Errorf("%w: threshold must be >= 1", ErrInvalidConfig)
	}
	if opts.Config.Duration < 0 || opts.Config.Window < 0 {
		return nil, fmt.Errorf("%w: durations must be >= 0", ErrInvalidConfig)
	}

	m := &Machine{
		cfg:     opts.Config,
		store:   opts.Store,
		hooks:   opts.Hooks,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// Counter returns p's current counter. A principal without failures has a
// zero counter.
func (m *Machine) Counter(ctx context.Context, p record.Principal) (Counter, error) {
	res, err := m.store.Latest(ctx, p, record.KindLockout)
	if err != nil {
		return Counter{}, err
	}
	if !res.Found() {
		return Counter{Owner: p.ID, Tenant: p.Tenant}, nil
	}
	return decodeCounter(res.Record)
}

// CheckAccess reports whether p may proceed. An expired lock is cleared
// here, resetting the count and the lock together.
func (m *Machine) CheckAccess(ctx context.Context, p record.Principal) (Decision, error) {
	res, err := m.store.Latest(ctx, p, record.KindLockout)
	if err != nil {
		return Decision{}, err
	}
	now := m.now()

	if !res.Found() {
		if res.Degraded && m.cfg.FailClosedWhenDegraded {
			d := Decision{Allowed: false, Remaining: m.cfg.Duration, State: StateOpen, Degraded: true}
			m.deny(ctx, p, d)
			return d, nil
		}
		return Decision{Allowed: true, State: StateOpen, Degraded: res.Degraded,
			Counter: Counter{Owner: p.ID, Tenant: p.Tenant}}, nil
	}

	c, err := decodeCounter(res.Record)
	if err != nil {
		return Decision{}, err
	}

	if c.Locked() && !c.ActiveAt(now) {
		if c, err = m.resetExpired(ctx, p); err != nil {
			return Decision{}, err
		}
	}

	if c.ActiveAt(now) {
		d := Decision{
			Allowed:   false,
			Remaining: c.LockedUntil.Sub(now),
			State:     StateLocked,
			Counter:   c,
			Degraded:  res.Degraded,
		}
		m.deny(ctx, p, d)
		if m.hooks.OnLocked != nil {
			m.hooks.OnLocked(ctx, p, d)
		}
		return d, nil
	}
	return Decision{Allowed: true, State: StateOpen, Counter: c, Degraded: res.Degraded}, nil
}

// Clear runs CheckAccess and, when allowed, grants a Clearance for p.
func (m *Machine) Clear(ctx context.Context, p record.Principal) (Clearance, Decision, error) {
	d, err := m.CheckAccess(ctx, p)
	if err != nil || !d.Allowed {
		return Clearance{}, d, err
	}
	return Clearance{principal: p, issuedAt: m.now(), granted: true}, d, nil
}

// RecordFailure counts one failed authentication factor for p and locks p
// when the threshold is reached.
func (m *Machine) RecordFailure(ctx context.Context, p record.Principal) (Decision, error) {
	var (
		next      Counter
		locked    bool
		expired   bool
		wasLocked bool
	)
	now := m.now()

	_, err := m.store.Update(ctx, p, record.KindLockout, func(cur record.Record, found bool) (map[string]string, error) {
		c := Counter{Owner: p.ID, Tenant: p.Tenant}
		if found {
			var err error
			if c, err = decodeCounter(cur); err != nil {
				return nil, err
			}
		}
		wasLocked, expired, locked = c.ActiveAt(now), false, false

		if c.Locked() && !c.ActiveAt(now) {
			c = Counter{Owner: p.ID, Tenant: p.Tenant}
			expired = true
		}
		if !c.Locked() && m.cfg.Window > 0 && c.FailureCount > 0 && now.After(c.WindowStartedAt.Add(m.cfg.Window)) {
			c.FailureCount = 0
		}
		if c.FailureCount == 0 {
			c.WindowStartedAt = now
		}

		c.FailureCount++
		if !c.Locked() && c.FailureCount >= m.cfg.Threshold {
			c.LockedUntil = m.lockedUntil(now)
			locked = true
		}
		next = c
		return c.fields(), nil
	})
	if err != nil {
		return Decision{}, err
	}

	m.metrics.Inc(metrics.LockoutFailure)
	if expired {
		m.metrics.Inc(metrics.LockoutExpired)
		if m.hooks.OnUnlocked != nil {
			m.hooks.OnUnlocked(ctx, p, UnlockExpired)
		}
	}

	d := Decision{Allowed: !next.ActiveAt(now), State: StateOpen, Counter: next}
	if next.Locked() {
		d.State = StateLocked
		d.Remaining = next.LockedUntil.Sub(now)
	}

	if locked {
		m.metrics.Inc(metrics.LockoutLocked)
		m.logger.Warn("principal locked out",
			zap.String("tenant", string(p.Tenant)),
			zap.String("principal", string(p.ID)),
			zap.Int("failure_count", next.FailureCount),
			zap.Time("locked_until", next.LockedUntil))
	}
	if (locked || wasLocked) && m.hooks.OnLocked != nil {
		m.hooks.OnLocked(ctx, p, d)
	}
	return d, nil
}

// RecordSuccess clears the failures of an open counter after a successful
// authentication. It never lifts an active lock.
func (m *Machine) RecordSuccess(ctx context.Context, p record.Principal) error {
	c, err := m.Counter(ctx, p)
	if err != nil {
		return err
	}
	if c.FailureCount == 0 && !c.Locked() {
		return nil
	}
	if c.ActiveAt(m.now()) {
		return nil
	}

	now := m.now()
	_, err = m.store.Update(ctx, p, record.KindLockout, func(cur record.Record, found bool) (map[string]string, error) {
		if !found {
			return Counter{}.fields(), nil
		}
		latest, err := decodeCounter(cur)
		if err != nil {
			return nil, err
		}
		if latest.ActiveAt(now) {
			// locked between the read and the write; keep the lock
			return latest.fields(), nil
		}
		return Counter{}.fields(), nil
	})
	return err
}

// AdminUnlock resets p's counter regardless of its state.
func (m *Machine) AdminUnlock(ctx context.Context, p record.Principal) (Decision, error) {
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}
	_, err := m.store.Update(ctx, p, record.KindLockout, func(record.Record, bool) (map[string]string, error) {
		return Counter{}.fields(), nil
	})
	if err != nil {
		return Decision{}, err
	}

	m.metrics.Inc(metrics.LockoutAdminUnlock)
	m.logger.Info("principal unlocked by administrator",
		zap.String("tenant", string(p.Tenant)),
		zap.String("principal", string(p.ID)))
	if m.hooks.OnUnlocked != nil {
		m.hooks.OnUnlocked(ctx, p, UnlockAdmin)
	}
	return Decision{Allowed: true, State: StateOpen, Counter: Counter{Owner: p.ID, Tenant: p.Tenant}}, nil
}

// resetExpired clears a lock that has run out and returns the counter as
// written. The check is repeated inside the update so a lock re-armed
// concurrently is kept and returned.
func (m *Machine) resetExpired(ctx context.Context, p record.Principal) (Counter, error) {
	now := m.now()
	out := Counter{Owner: p.ID, Tenant: p.Tenant}
	cleared := false

	_, err := m.store.Update(ctx, p, record.KindLockout, func(cur record.Record, found bool) (map[string]string, error) {
		if !found {
			return Counter{}.fields(), nil
		}
		c, err := decodeCounter(cur)
		if err != nil {
			return nil, err
		}
		if c.ActiveAt(now) {
			out = c
			return c.fields(), nil
		}
		cleared = c.Locked()
		return Counter{}.fields(), nil
	})
	if err != nil {
		return Counter{}, err
	}

	if cleared {
		m.metrics.Inc(metrics.LockoutExpired)
		m.logger.Info("lockout expired",
			zap.String("tenant", string(p.Tenant)),
			zap.String("principal", string(p.ID)))
		if m.hooks.OnUnlocked != nil {
			m.hooks.OnUnlocked(ctx, p, UnlockExpired)
		}
	}
	return out, nil
}

func (m *Machine) deny(ctx context.Context, p record.Principal, d Decision) {
	m.metrics.Inc(metrics.LockoutDenied)
	if m.hooks.OnDenied != nil {
		m.hooks.OnDenied(ctx, p, d)
	}
}

func (m *Machine) lockedUntil(now time.Time) time.Time {
	if m.cfg.Duration == 0 {
		return manualUnlock
	}
	return now.Add(m.cfg.Duration)
}
