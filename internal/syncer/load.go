package syncer

import (
	"context"
	"errors"

	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"go.uber.org/zap"
)

// Load returns p's record of kind from the highest tier that holds a
// tenant-valid copy. A remote hit is written through to every cache.
// Concurrent Loads of the same key share one tier walk.
func (e *Engine) Load(ctx context.Context, p record.Principal, kind record.Kind) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if e.gated(ctx, p, kind) {
		return Result{}, ErrLoggedOut
	}

	key := record.KeyFor(p, kind)
	v, err, _ := e.flight.Do(key.String(), func() (any, error) {
		return e.load(ctx, key), nil
	})
	if err != nil {
		return Result{}, err
	}
	res := v.(Result)
	res.Record = res.Record.Clone()
	return res, nil
}

// load walks the tiers without coalescing. Writers call it under the
// principal lock so they never observe a read that started before them.
func (e *Engine) load(ctx context.Context, key record.Key) Result {
	p := key.Principal()
	degraded := false

	if e.remote != nil {
		rec, found, err := e.remoteGet(ctx, key)
		switch {
		case err != nil:
			degraded = true
			e.logTierFailure("remote load failed, falling back to cache tiers", storage.TierRemote, key, err)
		case found:
			if e.guard.Check(rec, p, key.Kind, string(storage.TierRemote)) == nil {
				e.writeCaches(ctx, key, rec, nil)
				e.metrics.Inc(metrics.LoadRemote)
				e.setStatus(p, storage.TierRemote, false)
				return Result{Record: rec, Provenance: storage.TierRemote}
			}
			e.logTierFailure("dropped contaminated record", storage.TierRemote, key, nil)
		}
	} else {
		degraded = true
	}

	for _, c := range e.caches {
		rec, found, err := c.Get(ctx, key)
		if err != nil {
			e.logTierFailure("cache tier read failed", c.Tier(), key, err)
			continue
		}
		if !found {
			continue
		}
		if e.guard.Check(rec, p, key.Kind, string(c.Tier())) != nil {
			e.logTierFailure("dropped contaminated record", c.Tier(), key, nil)
			continue
		}
		e.metrics.Inc(loadMetric(c.Tier()))
		e.setStatus(p, c.Tier(), degraded)
		return Result{Record: rec, Provenance: c.Tier(), Degraded: degraded}
	}

	e.metrics.Inc(metrics.LoadNotFound)
	if degraded {
		e.setStatus(p, storage.TierNone, true)
	} else {
		e.setStatus(p, storage.TierRemote, false)
	}
	return Result{Provenance: storage.TierNone, Degraded: degraded}
}

// writeCaches writes rec through to every cache except skip. Failures are
// logged and counted, never returned. It reports the tiers that accepted the
// write and the failures of the rest.
func (e *Engine) writeCaches(ctx context.Context, key record.Key, rec record.Record, skip map[storage.Tier]bool) (accepted int, failed map[storage.Tier]error) {
	for _, c := range e.caches {
		if skip[c.Tier()] {
			continue
		}
		err := c.Set(ctx, key, rec)
		if err == nil {
			accepted++
			continue
		}
		if failed == nil {
			failed = make(map[storage.Tier]error)
		}
		failed[c.Tier()] = err
		if errors.Is(err, storage.ErrStaleVersion) {
			// the cache holds a newer unsynced write; Reconcile resolves it
			e.logger.Debug("cache tier ahead of write-through",
				zap.String("tier", string(c.Tier())),
				zap.String("tenant", string(key.Tenant)),
				zap.String("principal", string(key.Owner)),
				zap.String("kind", string(key.Kind)),
				zap.Uint64("version", rec.Version))
			continue
		}
		e.metrics.Inc(metrics.CacheWriteFailure)
		e.logTierFailure("cache tier write failed", c.Tier(), key, err)
	}
	return accepted, failed
}

// Latest returns the newest tenant-valid copy of p's record of kind across
// every tier, whatever the tier order. It is the read for state that must
// not move backwards, such as lockout counters and session material: after
// a remote outage a cache may hold writes the remote tier never saw. Tiers
// holding an older copy are brought up to the winner best-effort.
func (e *Engine) Latest(ctx context.Context, p record.Principal, kind record.Kind) (Result, error) {
	if err := p.Validate(); err != nil {
		return Result{}, err
	}
	if e.gated(ctx, p, kind) {
		return Result{}, ErrLoggedOut
	}

	res := e.latest(ctx, record.KeyFor(p, kind), true)
	if res.Found() {
		e.metrics.Inc(loadMetric(res.Provenance))
		e.setStatus(p, res.Provenance, res.Degraded)
	} else {
		e.metrics.Inc(metrics.LoadNotFound)
		if res.Degraded {
			e.setStatus(p, storage.TierNone, true)
		} else {
			e.setStatus(p, storage.TierRemote, false)
		}
	}
	res.Record = res.Record.Clone()
	return res, nil
}

// latest reads every tier and returns the highest version; ties go to the
// higher priority tier. With catchUp set, lagging tiers are rewritten with
// the winner at its own version, so a racing newer write always prevails.
func (e *Engine) latest(ctx context.Context, key record.Key, catchUp bool) Result {
	obs := e.observe(ctx, key)
	degraded := e.remote == nil || obs[0].err != nil
	if e.remote != nil && obs[0].err != nil {
		e.logTierFailure("remote load failed, using cache tiers", storage.TierRemote, key, obs[0].err)
	}

	winner := newest(obs)
	if !winner.found {
		return Result{Provenance: storage.TierNone, Degraded: degraded}
	}
	if catchUp {
		e.catchUp(ctx, key, winner, obs)
	}
	return Result{Record: winner.rec, Provenance: winner.tier, Degraded: degraded}
}

// catchUp writes winner to every readable tier that holds an older copy or
// none. The remote tier is only written when it answered the read.
func (e *Engine) catchUp(ctx context.Context, key record.Key, winner observation, obs []observation) {
	remote := obs[0]
	if e.remote != nil && remote.err == nil && winner.tier != storage.TierRemote &&
		(!remote.found || remote.rec.Version < winner.rec.Version) {
		if err := e.remoteSet(ctx, key, winner.rec); err != nil {
			e.logTierFailure("could not push newer cached record to remote", storage.TierRemote, key, err)
		} else {
			e.metrics.Inc(metrics.ReconcilePushed)
			e.logger.Info("pushed newer cached record to remote",
				zap.String("from", string(winner.tier)),
				zap.String("tenant", string(key.Tenant)),
				zap.String("principal", string(key.Owner)),
				zap.String("kind", string(key.Kind)),
				zap.Uint64("version", winner.rec.Version))
		}
	}

	skip := make(map[storage.Tier]bool, len(obs))
	for _, o := range obs[1:] {
		if o.err != nil || (o.found && o.rec.Version >= winner.rec.Version) {
			skip[o.tier] = true
		}
	}
	if len(skip) < len(e.caches) {
		e.writeCaches(ctx, key, winner.rec, skip)
	}
}
