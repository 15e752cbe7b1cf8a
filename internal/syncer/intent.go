package syncer

import (
	"context"
	"errors"

	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"go.uber.org/zap"
)

const intentField = "intent"

// sessionScoped are the tiers whose lifetime is bound to a session context.
// Logout drops credential and session copies from them outright.
var sessionScoped = map[storage.Tier]bool{
	storage.TierEphemeral: true,
	storage.TierMemory:    true,
}

// Intent returns p's session intent. The intent record is read from the
// tiers once and remembered; a principal without one is Active. An answer
// given while the remote tier is unreadable is not remembered, so a later
// call sees an intent written by another process.
func (e *Engine) Intent(ctx context.Context, p record.Principal) record.SessionIntent {
	e.stateMu.RLock()
	in, ok := e.intents[p]
	e.stateMu.RUnlock()
	if ok {
		return in
	}

	res := e.latest(ctx, record.KeyFor(p, record.KindIntent), false)
	in = record.IntentActive
	if res.Found() {
		parsed, ok := record.ParseSessionIntent(res.Record.Field(intentField))
		if !ok {
			// unreadable: keep credentials gated until a login rewrites it
			parsed = record.IntentLoggingOut
		}
		in = parsed
	}
	if res.Degraded {
		return in
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if cur, ok := e.intents[p]; ok {
		// a Logout or ClearIntent ran meanwhile
		return cur
	}
	e.intents[p] = in
	return in
}

// gated reports whether access to p's records of kind is blocked by intent.
// Kinds that are never gated skip the intent lookup.
func (e *Engine) gated(ctx context.Context, p record.Principal, kind record.Kind) bool {
	if !record.IntentLoggingOut.Gated(kind) {
		return false
	}
	return e.Intent(ctx, p).Gated(kind)
}

// Logout switches p to LoggingOut and persists that intent, drops credential
// and session copies from session-scoped tiers and marks the stored session
// stale. Until ClearIntent runs, in this process or any later one,
// credential and session records cannot be loaded or saved for p.
func (e *Engine) Logout(ctx context.Context, p record.Principal) error {
	if err := p.Validate(); err != nil {
		return err
	}

	e.stateMu.Lock()
	e.intents[p] = record.IntentLoggingOut
	e.stateMu.Unlock()

	var errs []error
	unlock := e.locks.Lock(p)
	if _, err := e.persistIntent(ctx, p, record.IntentLoggingOut); err != nil {
		e.logger.Warn("logout intent not persisted",
			zap.String("tenant", string(p.Tenant)),
			zap.String("principal", string(p.ID)),
			zap.Error(err))
		errs = append(errs, err)
	}
	for _, kind := range []record.Kind{record.KindCredential, record.KindSession} {
		key := record.KeyFor(p, kind)
		for _, c := range e.caches {
			if !sessionScoped[c.Tier()] {
				continue
			}
			if err := c.Delete(ctx, key); err != nil {
				e.logTierFailure("logout could not drop cached copy", c.Tier(), key, err)
			}
		}
	}
	unlock()

	e.metrics.Inc(metrics.Logout)
	e.logger.Info("principal logging out",
		zap.String("tenant", string(p.Tenant)),
		zap.String("principal", string(p.ID)))

	if _, err := e.Invalidate(ctx, p, record.KindSession); err != nil {
		if errors.Is(err, ErrAllTiersFailed) {
			errs = append(errs, err)
		} else {
			e.logger.Warn("logout could not invalidate session", zap.Error(err))
		}
	}
	return errors.Join(errs...)
}

// ClearIntent returns p to Active and persists it. Only a fresh,
// access-checked login may call it. A principal already Active is left as is.
func (e *Engine) ClearIntent(ctx context.Context, p record.Principal) error {
	if err := p.Validate(); err != nil {
		return err
	}

	unlock := e.locks.Lock(p)
	defer unlock()

	if e.Intent(ctx, p) == record.IntentActive {
		return nil
	}
	if _, err := e.persistIntent(ctx, p, record.IntentActive); err != nil {
		return err
	}

	e.stateMu.Lock()
	e.intents[p] = record.IntentActive
	e.stateMu.Unlock()
	return nil
}

// persistIntent writes in as p's intent record. Callers hold p's lock.
func (e *Engine) persistIntent(ctx context.Context, p record.Principal, in record.SessionIntent) (SaveResult, error) {
	key := record.KeyFor(p, record.KindIntent)
	cur := e.latest(ctx, key, false)
	return e.write(ctx, key, record.Record{
		Owner:  p.ID,
		Kind:   record.KindIntent,
		Fields: map[string]string{intentField: in.String()},
	}, cur)
}
