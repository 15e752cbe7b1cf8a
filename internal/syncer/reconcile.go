package syncer

import (
	"context"
	"maps"

	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ReconcileReport describes what Reconcile changed.
type ReconcileReport struct {
	// Winner is the tier whose copy every other tier now holds, or
	// storage.TierNone when no tier had a record.
	Winner  storage.Tier
	Version uint64
	// PushedToRemote is set when a cache was ahead of the remote tier.
	PushedToRemote bool
	// Refreshed lists the caches overwritten with the winner.
	Refreshed []storage.Tier
	// Failed holds cache tiers that could not be refreshed.
	Failed map[storage.Tier]error
}

type observation struct {
	tier  storage.Tier
	rec   record.Record
	found bool
	err   error
}

// Reconcile brings every tier in line with the newest tenant-valid copy of
// p's record. The higher version wins; ties go to the higher priority tier.
// A remote failure is returned, since Reconcile is an explicit request to
// talk to the remote tier. Cache failures are logged and reported.
func (e *Engine) Reconcile(ctx context.Context, p record.Principal, kind record.Kind) (ReconcileReport, error) {
	if err := p.Validate(); err != nil {
		return ReconcileReport{}, err
	}
	if e.remote == nil {
		return ReconcileReport{}, ErrNoRemote
	}
	if e.gated(ctx, p, kind) {
		return ReconcileReport{}, ErrLoggedOut
	}

	unlock := e.locks.Lock(p)
	defer unlock()

	key := record.KeyFor(p, kind)
	obs := e.observe(ctx, key)
	if err := obs[0].err; err != nil {
		e.logTierFailure("reconcile could not read remote tier", storage.TierRemote, key, err)
		e.setStatus(p, storage.TierNone, true)
		return ReconcileReport{}, err
	}

	remote := obs[0]
	winner := newest(obs)

	report := ReconcileReport{Winner: storage.TierNone}
	if !winner.found {
		e.setStatus(p, storage.TierRemote, false)
		return report, nil
	}
	report.Winner = winner.tier
	report.Version = winner.rec.Version

	if winner.tier != storage.TierRemote {
		if err := e.remoteSet(ctx, key, winner.rec); err != nil {
			e.setStatus(p, winner.tier, true)
			return report, err
		}
		report.PushedToRemote = true
		e.metrics.Inc(metrics.ReconcilePushed)
		e.logger.Info("pushed newer cached record to remote",
			zap.String("from", string(winner.tier)),
			zap.String("tenant", string(p.Tenant)),
			zap.String("principal", string(p.ID)),
			zap.String("kind", string(kind)),
			zap.Uint64("version", winner.rec.Version),
			zap.Uint64("remote_version", remote.rec.Version))
	}

	skip := make(map[storage.Tier]bool, len(obs))
	for _, o := range obs[1:] {
		if o.err == nil && o.found && o.tier == winner.tier {
			skip[o.tier] = true
		}
		if o.err == nil && o.found && o.rec.Version == winner.rec.Version && o.tier != winner.tier &&
			o.rec.Stale == winner.rec.Stale && maps.Equal(o.rec.Fields, winner.rec.Fields) {
			skip[o.tier] = true
		}
	}
	_, failed := e.writeCaches(ctx, key, winner.rec, skip)
	for _, c := range e.caches {
		if skip[c.Tier()] {
			continue
		}
		if _, bad := failed[c.Tier()]; !bad {
			report.Refreshed = append(report.Refreshed, c.Tier())
			e.metrics.Inc(metrics.ReconcilePulled)
		}
	}
	report.Failed = failed

	e.setStatus(p, storage.TierRemote, false)
	return report, nil
}

// observe reads every tier concurrently. Index 0 is always the remote tier;
// without one it stays absent. A failed read is recorded in its observation
// and counts as absent, as does a copy the tenant guard rejects.
func (e *Engine) observe(ctx context.Context, key record.Key) []observation {
	p := key.Principal()
	obs := make([]observation, len(e.caches)+1)
	obs[0].tier = storage.TierRemote

	var g errgroup.Group
	if e.remote != nil {
		g.Go(func() error {
			rec, found, err := e.remoteGet(ctx, key)
			if err == nil && found && e.guard.Check(rec, p, key.Kind, string(storage.TierRemote)) != nil {
				found = false
			}
			obs[0] = observation{tier: storage.TierRemote, rec: rec, found: found, err: err}
			return nil
		})
	}

	for i, c := range e.caches {
		g.Go(func() error {
			rec, found, err := c.Get(ctx, key)
			if err != nil {
				e.logTierFailure("cache tier read failed", c.Tier(), key, err)
				found = false
			} else if found && e.guard.Check(rec, p, key.Kind, string(c.Tier())) != nil {
				found = false
			}
			obs[i+1] = observation{tier: c.Tier(), rec: rec, found: found, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return obs
}

// newest picks the observation with the highest version. Observations are
// in priority order, so ties go to the higher priority tier.
func newest(obs []observation) observation {
	var w observation
	for _, o := range obs {
		if o.err != nil || !o.found {
			continue
		}
		if !w.found || o.rec.Version > w.rec.Version {
			w = o
		}
	}
	return w
}
