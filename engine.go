package credsync

import (
	"context"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/MrEthical07/credsync/internal/audit"
	"github.com/MrEthical07/credsync/internal/lockout"
	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/internal/session"
	"github.com/MrEthical07/credsync/internal/syncer"
	"github.com/MrEthical07/credsync/internal/tenant"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"go.uber.org/zap"
)

// Engine is the credential sync and lockout core. Build one with
// New().WithConfig(cfg)....Build(). All methods are safe for concurrent use.
type Engine struct {
	config  Config
	logger  *zap.Logger
	now     func() time.Time
	metrics *metrics.Metrics
	audit   *audit.Dispatcher

	sync     *syncer.Engine
	lockout  *lockout.Machine
	sessions *session.Manager

	ephemeral *storage.EphemeralStore
	closers   []func() error
	closed    atomic.Bool
}

func (e *Engine) ready() error {
	if e == nil || e.sync == nil || e.closed.Load() {
		return ErrEngineNotReady
	}
	return nil
}

/*
====================================
ACCESS ENTRY POINTS
====================================
*/

// PreAuth runs the lockout check before credentials are submitted. A
// denial is reported through the Decision, not as an error.
func (e *Engine) PreAuth(ctx context.Context, p Principal) (Decision, error) {
	return e.CheckAccess(ctx, p)
}

// CheckAccess reports whether p may proceed. An expired lock is cleared as
// part of the check. Observing an active lock invalidates p's sessions.
func (e *Engine) CheckAccess(ctx context.Context, p Principal) (Decision, error) {
	if err := e.ready(); err != nil {
		return Decision{}, err
	}
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}
	return e.lockout.CheckAccess(ctx, p)
}

// CompleteLogin runs after the caller verified p's credentials and before
// any session material exists. It repeats the lockout check, clears a
// pending logout intent, resets the failure count and issues a session.
// A locked principal gets ErrAccountLocked and no session.
func (e *Engine) CompleteLogin(ctx context.Context, p Principal) (SessionToken, Decision, error) {
	if err := e.ready(); err != nil {
		return SessionToken{}, Decision{}, err
	}
	if err := p.Validate(); err != nil {
		return SessionToken{}, Decision{}, err
	}

	clearance, d, err := e.lockout.Clear(ctx, p)
	if err != nil {
		return SessionToken{}, d, err
	}
	if !d.Allowed {
		return SessionToken{}, d, ErrAccountLocked
	}

	if err := e.sync.ClearIntent(ctx, p); err != nil {
		return SessionToken{}, d, err
	}
	if err := e.lockout.RecordSuccess(ctx, p); err != nil {
		e.logger.Warn("could not reset failure count after login",
			zap.String("tenant", string(p.Tenant)),
			zap.String("principal", string(p.ID)),
			zap.Error(err))
	}

	tok, err := e.sessions.Issue(ctx, clearance)
	if err != nil {
		return SessionToken{}, d, err
	}
	e.emitAudit(ctx, audit.EventSessionIssued, p, true, nil, map[string]string{
		"session_id": tok.SessionID,
		"status":     string(tok.Status),
	})
	return tok, d, nil
}

// Bootstrap runs at process start before a cached session is trusted. The
// token must verify, its session record must be live, and the lockout check
// must allow the principal. A locked principal's sessions are invalidated.
func (e *Engine) Bootstrap(ctx context.Context, token string) (Principal, Decision, error) {
	if err := e.ready(); err != nil {
		return Principal{}, Decision{}, err
	}

	sess, err := e.sessions.Validate(ctx, token)
	if err != nil {
		e.metrics.Inc(metrics.BootstrapRejected)
		e.emitAudit(ctx, audit.EventBootstrapDenied, Principal{}, false, err, nil)
		return Principal{}, Decision{}, err
	}

	p := sess.Principal
	d, err := e.lockout.CheckAccess(ctx, p)
	if err != nil {
		return p, Decision{}, err
	}
	if !d.Allowed {
		e.metrics.Inc(metrics.BootstrapRejected)
		e.emitAudit(ctx, audit.EventBootstrapDenied, p, false, ErrAccountLocked, map[string]string{
			"session_id": sess.ID,
			"state":      d.State.String(),
		})
		return p, d, ErrAccountLocked
	}
	return p, d, nil
}

// ValidateSession checks a token against its stored session record without
// running the lockout check.
func (e *Engine) ValidateSession(ctx context.Context, token string) (Session, error) {
	if err := e.ready(); err != nil {
		return Session{}, err
	}
	return e.sessions.Validate(ctx, token)
}

// RecordFailure counts one failed authentication factor for p.
func (e *Engine) RecordFailure(ctx context.Context, p Principal) (Decision, error) {
	if err := e.ready(); err != nil {
		return Decision{}, err
	}
	if err := p.Validate(); err != nil {
		return Decision{}, err
	}
	return e.lockout.RecordFailure(ctx, p)
}

// AdminUnlock clears p's lock and failure count together. Attach the
// administrator with WithActor for the audit trail.
func (e *Engine) AdminUnlock(ctx context.Context, p Principal) (Decision, error) {
	if err := e.ready(); err != nil {
		return Decision{}, err
	}
	return e.lockout.AdminUnlock(ctx, p)
}

// LockoutCounter returns p's decoded lockout counter.
func (e *Engine) LockoutCounter(ctx context.Context, p Principal) (LockoutCounter, error) {
	if err := e.ready(); err != nil {
		return LockoutCounter{}, err
	}
	if err := p.Validate(); err != nil {
		return LockoutCounter{}, err
	}
	return e.lockout.Counter(ctx, p)
}

// Logout moves p to the logging-out intent, drops cached credential and
// session copies and invalidates the stored session. Credential and session
// access fails with ErrLoggedOut until the next CompleteLogin.
func (e *Engine) Logout(ctx context.Context, p Principal) error {
	if err := e.ready(); err != nil {
		return err
	}
	err := e.sync.Logout(ctx, p)
	e.emitAudit(ctx, audit.EventLogout, p, err == nil, err, nil)
	return err
}

// Intent returns p's current session intent. A logout is persisted through
// the tiers, so it is reported here after a restart as well.
func (e *Engine) Intent(ctx context.Context, p Principal) SessionIntent {
	if e.ready() != nil || p.Validate() != nil {
		return IntentActive
	}
	return e.sync.Intent(ctx, p)
}

/*
====================================
LOCKOUT HOOKS
====================================
*/

func (e *Engine) onLocked(ctx context.Context, p record.Principal, d lockout.Decision) {
	if err := e.sessions.InvalidateAll(ctx, p); err != nil {
		e.logger.Warn("could not invalidate sessions of locked principal",
			zap.String("tenant", string(p.Tenant)),
			zap.String("principal", string(p.ID)),
			zap.Error(err))
	}
	e.emitAudit(ctx, audit.EventLocked, p, true, nil, map[string]string{
		"failure_count": strconv.Itoa(d.Counter.FailureCount),
		"remaining":     d.Remaining.String(),
	})
}

func (e *Engine) onUnlocked(ctx context.Context, p record.Principal, reason lockout.UnlockReason) {
	e.emitAudit(ctx, audit.EventUnlocked, p, true, nil, map[string]string{"reason": string(reason)})
}

func (e *Engine) onDenied(ctx context.Context, p record.Principal, d lockout.Decision) {
	e.emitAudit(ctx, audit.EventAccessDenied, p, false, nil, map[string]string{
		"state":     d.State.String(),
		"remaining": d.Remaining.String(),
		"degraded":  strconv.FormatBool(d.Degraded),
	})
}

func (e *Engine) onContaminated(c tenant.Contamination) {
	e.metrics.Inc(metrics.ContaminationDropped)
	e.logger.Warn("tenant contamination dropped",
		zap.String("tenant", string(c.Expected)),
		zap.String("found_tenant", string(c.Found)),
		zap.String("principal", string(c.Owner)),
		zap.String("kind", string(c.Kind)),
		zap.String("tier", c.Source))
	e.emitAudit(context.Background(), audit.EventContamination, record.Principal{Tenant: c.Expected, ID: c.Owner}, false, nil, map[string]string{
		"found_tenant": string(c.Found),
		"kind":         string(c.Kind),
		"tier":         c.Source,
	})
}

/*
====================================
OBSERVABILITY & LIFECYCLE
====================================
*/

// ContaminationCount is the number of records the tenant guard has dropped.
func (e *Engine) ContaminationCount() uint64 {
	if e.ready() != nil {
		return 0
	}
	return e.sync.Guard().Contaminations()
}

// MetricsSnapshot returns a copy of every counter. It is empty when
// metrics are disabled.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	return e.metrics.Snapshot()
}

// AuditDropped is the number of audit events dropped because the buffer
// was full.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Tiers lists the configured tiers in read order.
func (e *Engine) Tiers() []Tier {
	if e.ready() != nil {
		return nil
	}
	return e.sync.Tiers()
}

// EndEphemeralContext drops every record held by the ephemeral-local tier,
// as when the browsing context it models ends.
func (e *Engine) EndEphemeralContext() {
	if e == nil || e.ephemeral == nil {
		return
	}
	e.ephemeral.Purge()
}

// Close flushes the audit buffer and releases local tiers. The engine
// rejects every call afterwards. Remote clients passed to the builder stay
// open; they belong to the caller.
func (e *Engine) Close() error {
	if e == nil || !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.audit.Close()
	return e.closeTiers()
}

func (e *Engine) closeTiers() error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}
