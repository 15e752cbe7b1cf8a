package syncer

import (
	"context"
	"fmt"

	"github.com/MrEthical07/credsync/internal/metrics"
	"github.com/MrEthical07/credsync/internal/tenant"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
	"go.uber.org/zap"
)

// RepairOutcome is what RepairContamination did in one tier.
type RepairOutcome struct {
	Tier storage.Tier
	// Clean is set when the tier held nothing, or a correctly stamped record.
	Clean bool
	// Repaired is set when a record was moved to Target.
	Repaired bool
	// Superseded is set when Target already held a newer record, so the
	// contaminated copy was only removed.
	Superseded bool
	Target     record.Key
	Err        error
}

// RepairReport lists the outcome for every tier.
type RepairReport struct {
	Found    record.Key
	Outcomes []RepairOutcome
}

// Repaired counts tiers where a record was moved or a stale copy removed.
func (r RepairReport) Repaired() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Repaired || o.Superseded {
			n++
		}
	}
	return n
}

// RepairContamination is the out-of-band maintenance path for records whose
// tenant stamp disagrees with the location they were found at. Each such
// record is rewritten for correct at its owner's key under correct and then
// removed from the wrong location. Clean tiers are left untouched.
func (e *Engine) RepairContamination(ctx context.Context, found record.Principal, kind record.Kind, correct record.TenantID) (RepairReport, error) {
	if err := found.Validate(); err != nil {
		return RepairReport{}, err
	}
	if !correct.Valid() {
		return RepairReport{}, fmt.Errorf("%w: invalid tenant %q", tenant.ErrRepairRejected, correct)
	}

	at := record.KeyFor(found, kind)
	report := RepairReport{Found: at}

	tiers := make([]storage.Backend, 0, len(e.caches)+1)
	if e.remote != nil {
		tiers = append(tiers, e.remote)
	}
	tiers = append(tiers, e.caches...)

	// every principal a record may be moved to is locked along with found
	locked := map[record.Principal]bool{
		found: true,
		{Tenant: correct, ID: found.ID}: true,
	}
	for _, b := range tiers {
		if rec, ok, err := e.tierGet(ctx, b, at); err == nil && ok && rec.Owner != "" {
			locked[record.Principal{Tenant: correct, ID: rec.Owner}] = true
		}
	}
	ps := make([]record.Principal, 0, len(locked))
	for p := range locked {
		ps = append(ps, p)
	}
	unlock := e.locks.LockAll(ps...)
	defer unlock()

	for _, b := range tiers {
		report.Outcomes = append(report.Outcomes, e.repairTier(ctx, b, at, correct, locked))
	}
	return report, nil
}

func (e *Engine) repairTier(ctx context.Context, b storage.Backend, at record.Key, correct record.TenantID, locked map[record.Principal]bool) RepairOutcome {
	out := RepairOutcome{Tier: b.Tier()}

	rec, found, err := e.tierGet(ctx, b, at)
	if err != nil {
		out.Err = err
		return out
	}
	if !found || (rec.Tenant == at.Tenant && rec.Owner == at.Owner) {
		out.Clean = true
		return out
	}

	owner := rec.Owner
	if owner == "" {
		owner = at.Owner
		rec.Owner = owner
	}
	fixed, err := e.guard.Repair(rec, correct)
	if err != nil {
		out.Err = err
		return out
	}
	fixed.Kind = at.Kind
	target := record.KeyFor(record.Principal{Tenant: correct, ID: owner}, at.Kind)
	out.Target = target
	if !locked[target.Principal()] {
		out.Err = fmt.Errorf("%w: owner of %s changed during repair", tenant.ErrRepairRejected, at)
		return out
	}

	existing, exists, err := e.tierGet(ctx, b, target)
	if err != nil {
		out.Err = err
		return out
	}

	if exists && existing.Tenant == correct && existing.Version > fixed.Version && target != at {
		out.Superseded = true
	} else {
		if exists && existing.Version > fixed.Version {
			fixed.Version = existing.Version
		}
		if err := e.tierSet(ctx, b, target, fixed); err != nil {
			out.Err = err
			return out
		}
		out.Repaired = true
	}

	if target != at {
		if err := e.tierDelete(ctx, b, at); err != nil {
			out.Err = err
			return out
		}
	}

	e.metrics.Inc(metrics.ContaminationRepaired)
	e.logger.Info("repaired contaminated record",
		zap.String("tier", string(b.Tier())),
		zap.String("found_tenant", string(at.Tenant)),
		zap.String("stamped_tenant", string(rec.Tenant)),
		zap.String("correct_tenant", string(correct)),
		zap.String("principal", string(owner)),
		zap.String("kind", string(at.Kind)),
		zap.Bool("superseded", out.Superseded))
	return out
}

// tierGet, tierSet and tierDelete apply the retry policy to the remote tier
// only; cache tiers are never retried.
func (e *Engine) tierGet(ctx context.Context, b storage.Backend, key record.Key) (record.Record, bool, error) {
	if b == e.remote {
		return e.remoteGet(ctx, key)
	}
	return b.Get(ctx, key)
}

func (e *Engine) tierSet(ctx context.Context, b storage.Backend, key record.Key, rec record.Record) error {
	if b == e.remote {
		return e.remoteSet(ctx, key, rec)
	}
	return b.Set(ctx, key, rec)
}

func (e *Engine) tierDelete(ctx context.Context, b storage.Backend, key record.Key) error {
	return b.Delete(ctx, key)
}
