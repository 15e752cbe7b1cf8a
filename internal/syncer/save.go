package syncer

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"go.uber.org/zap"
)

// UpdateFunc computes the next fields from the current record. found is
// false when no tier holds one. Returning an error aborts the write.
type UpdateFunc func(current record.Record, found bool) (map[string]string, error)

// Save replaces p's fields for kind, assigning the next version.
func (e *Engine) Save(ctx context.Context, p record.Principal, kind record.Kind, fields map[string]string) (SaveResult, error) {
	fields = record.CloneFields(fields)
	return e.Update(ctx, p, kind, func(record.Record, bool) (map[string]string, error) {
		return fields, nil
	})
}

// Update performs a read-modify-write under p's lock so concurrent writers
// for the same principal never lose each other's changes. fn sees the newest
// copy held by any tier, so a cached-only write made during a remote outage
// is built upon rather than overwritten by the older remote copy.
func (e *Engine) Update(ctx context.Context, p record.Principal, kind record.Kind, fn UpdateFunc) (SaveResult, error) {
	if err := p.Validate(); err != nil {
		return SaveResult{}, err
	}
	if e.gated(ctx, p, kind) {
		return SaveResult{}, ErrLoggedOut
	}

	unlock := e.locks.Lock(p)
	defer unlock()

	key := record.KeyFor(p, kind)
	cur := e.latest(ctx, key, false)
	fields, err := fn(cur.Record.Clone(), cur.Found())
	if err != nil {
		return SaveResult{}, err
	}

	rec := record.Record{
		Owner:  p.ID,
		Kind:   kind,
		Fields: record.CloneFields(fields),
	}
	return e.write(ctx, key, rec, cur)
}

// Invalidate marks p's record of kind stale with a new version. A missing
// record is left absent. Invalidation is never blocked by session intent.
func (e *Engine) Invalidate(ctx context.Context, p record.Principal, kind record.Kind) (SaveResult, error) {
	if err := p.Validate(); err != nil {
		return SaveResult{}, err
	}

	unlock := e.locks.Lock(p)
	defer unlock()

	key := record.KeyFor(p, kind)
	cur := e.latest(ctx, key, false)
	if !cur.Found() {
		return SaveResult{}, nil
	}

	rec := cur.Record.Clone()
	rec.Stale = true
	return e.write(ctx, key, rec, cur)
}

// write stamps rec, assigns the version after cur and fans it out: remote
// first, then every cache regardless of the remote outcome. cur must come
// from latest, and callers hold p's lock.
func (e *Engine) write(ctx context.Context, key record.Key, rec record.Record, cur Result) (SaveResult, error) {
	started := e.now()
	p := key.Principal()

	rec = e.guard.Stamp(rec, p.Tenant)
	rec.Owner = p.ID
	rec.Kind = key.Kind
	rec.Version = cur.Record.Version + 1
	rec.UpdatedAt = e.now().UTC()

	failed := make(map[storage.Tier]error)
	remoteOK := false
	if e.remote != nil {
		if err := e.remoteSet(ctx, key, rec); err != nil {
			failed[storage.TierRemote] = err
			e.logTierFailure("remote save failed", storage.TierRemote, key, err)
		} else {
			remoteOK = true
		}
	}

	accepted, cacheFailed := e.writeCaches(ctx, key, rec, nil)
	for tier, err := range cacheFailed {
		failed[tier] = err
	}

	res := SaveResult{Record: rec.Clone(), Tiers: failed}
	switch {
	case remoteOK:
		res.Status = StatusSynced
		e.metrics.Inc(metrics.SaveSynced)
		e.setStatus(p, storage.TierRemote, false)
	case accepted > 0:
		res.Status = StatusCachedOnly
		e.metrics.Inc(metrics.SaveCachedOnly)
		e.setStatus(p, e.firstAccepted(failed), true)
		e.logger.Info("save kept in cache tiers only",
			zap.String("tenant", string(p.Tenant)),
			zap.String("principal", string(p.ID)),
			zap.String("kind", string(key.Kind)),
			zap.Uint64("version", rec.Version))
	default:
		res.Status = StatusFailed
		e.metrics.Inc(metrics.SaveFailed)
		e.setStatus(p, storage.TierNone, true)
		e.metrics.Observe(metrics.SaveLatency, e.now().Sub(started))
		return res, allTiersFailed(failed)
	}

	e.metrics.Observe(metrics.SaveLatency, e.now().Sub(started))
	return res, nil
}

func (e *Engine) firstAccepted(failed map[storage.Tier]error) storage.Tier {
	for _, c := range e.caches {
		if _, bad := failed[c.Tier()]; !bad {
			return c.Tier()
		}
	}
	return storage.TierNone
}

func allTiersFailed(failed map[storage.Tier]error) error {
	errs := make([]error, 0, len(failed)+1)
	errs = append(errs, ErrAllTiersFailed)
	for _, tier := range []storage.Tier{storage.TierRemote, storage.TierDurable, storage.TierEphemeral, storage.TierMemory} {
		if err, ok := failed[tier]; ok {
			errs = append(errs, fmt.Errorf("%s: %w", tier, err))
		}
	}
	return errors.Join(errs...)
}
