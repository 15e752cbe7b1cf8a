package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credsync/internal/lockout"
	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/internal/syncer"
	"github.com/MrEthical07/credsync/jwt"
	"github.com/MrEthical07/credsync/record"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrClearanceRequired is returned by Issue when the clearance was not
	// granted for the principal or has gone stale.
	ErrClearanceRequired = errors.New("session requires a fresh access clearance")
	// ErrInvalid is returned by Validate for any token that must not be
	// trusted. The wrapped cause says why.
	ErrInvalid = errors.New("session invalid")
)

// Store is the persistence the manager needs; *syncer.Engine satisfies it.
// Session records are read with Latest so an invalidation that only reached
// the caches still revokes the token once the remote tier is back.
type Store interface {
	Latest(ctx context.Context, p record.Principal, kind record.Kind) (syncer.Result, error)
	Save(ctx context.Context, p record.Principal, kind record.Kind, fields map[string]string) (syncer.SaveResult, error)
	Invalidate(ctx context.Context, p record.Principal, kind record.Kind) (syncer.SaveResult, error)
}

// Token is an issued session token.
type Token struct {
	Value     string
	SessionID string
	ExpiresAt time.Time
	// Status is the persistence outcome of the session record.
	Status syncer.SaveStatus
}

// Options wires a Manager.
type Options struct {
	Store   Store
	Tokens  *jwt.Manager
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Manager ties signed tokens to stored session records.
type Manager struct {
	store   Store
	tokens  *jwt.Manager
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewManager validates opts and builds a manager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("session store is required")
	}
	if opts.Tokens == nil {
		return nil, errors.New("session token manager is required")
	}
	m := &Manager{
		store:   opts.Store,
		tokens:  opts.Tokens,
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

// Issue writes a new session record for the cleared principal and signs a
// token bound to it. Any earlier session of the principal stops validating.
func (m *Manager) Issue(ctx context.Context, c lockout.Clearance) (Token, error) {
	p := c.Principal()
	now := m.now()
	if !c.ValidFor(p, now) {
		return Token{}, ErrClearanceRequired
	}

	sess := Session{
		ID:        uuid.NewString(),
		Principal: p,
		CreatedAt: now,
		ExpiresAt: now.Add(m.tokens.TTL()),
	}
	res, err := m.store.Save(ctx, p, record.KindSession, sess.fields())
	if err != nil {
		return Token{}, err
	}

	value, expires, err := m.tokens.Issue(jwt.Subject{
		Tenant:    string(p.Tenant),
		Principal: string(p.ID),
		SessionID: sess.ID,
		Version:   res.Record.Version,
	})
	if err != nil {
		return Token{}, fmt.Errorf("sign session token: %w", err)
	}

	m.metrics.Inc(metrics.SessionIssued)
	m.logger.Debug("session issued",
		zap.String("tenant", string(p.Tenant)),
		zap.String("principal", string(p.ID)),
		zap.String("status", string(res.Status)))
	return Token{Value: value, SessionID: sess.ID, ExpiresAt: expires, Status: res.Status}, nil
}

// Validate checks the token signature and then the stored session record it
// is bound to. The record must exist, be live, carry the same session ID and
// the same version the token was issued against.
func (m *Manager) Validate(ctx context.Context, token string) (Session, error) {
	claims, err := m.tokens.Parse(token)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	subject := claims.Identity()
	p := record.Principal{Tenant: record.TenantID(subject.Tenant), ID: record.PrincipalID(subject.Principal)}
	if err := p.Validate(); err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	res, err := m.store.Latest(ctx, p, record.KindSession)
	if err != nil {
		return Session{}, errors.Join(ErrInvalid, err)
	}
	if !res.Found() {
		return Session{}, fmt.Errorf("%w: no session record", ErrInvalid)
	}
	sess, err := decode(res.Record)
	if err != nil {
		return Session{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	switch {
	case sess.Stale:
		return Session{}, fmt.Errorf("%w: session invalidated", ErrInvalid)
	case sess.ID != subject.SessionID:
		return Session{}, fmt.Errorf("%w: session replaced", ErrInvalid)
	case sess.Version != subject.Version:
		return Session{}, fmt.Errorf("%w: session version %d, token version %d", ErrInvalid, sess.Version, subject.Version)
	case sess.ExpiredAt(m.now()):
		return Session{}, fmt.Errorf("%w: session expired", ErrInvalid)
	}
	return sess, nil
}

// InvalidateAll revokes every token issued to p. A principal with no
// session record, or one already invalidated, is a no-op.
func (m *Manager) InvalidateAll(ctx context.Context, p record.Principal) error {
	cur, err := m.store.Latest(ctx, p, record.KindSession)
	if err == nil && (!cur.Found() || cur.Record.Stale) {
		return nil
	}

	res, err := m.store.Invalidate(ctx, p, record.KindSession)
	if err != nil {
		return err
	}
	if res.Record.IsZero() {
		return nil
	}
	m.metrics.Inc(metrics.SessionInvalidated)
	m.logger.Info("sessions invalidated",
		zap.String("tenant", string(p.Tenant)),
		zap.String("principal", string(p.ID)),
		zap.String("status", string(res.Status)))
	return nil
}
