package credsync

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/credsync/internal/audit"
	"github.com/MrEthical07/credsync/storage"
	"go.uber.org/zap"
)

func writableKind(kind Kind) error {
	switch kind {
	case KindCredential:
		return nil
	case KindLockout, KindSession, KindIntent:
		return fmt.Errorf("%w: %s", ErrReservedKind, kind)
	default:
		return fmt.Errorf("unknown record kind %q", kind)
	}
}

// Load returns p's record of kind from the first tier holding a
// tenant-valid copy. Nothing stored is not an error: the result's
// provenance is TierNone.
func (e *Engine) Load(ctx context.Context, p Principal, kind Kind) (LoadResult, error) {
	if err := e.ready(); err != nil {
		return LoadResult{}, err
	}
	if !kind.Valid() {
		return LoadResult{}, fmt.Errorf("unknown record kind %q", kind)
	}
	return e.sync.Load(ctx, p, kind)
}

// Save replaces p's credential fields with a new version. A save that only
// reached cache tiers returns StatusCachedOnly and no error.
func (e *Engine) Save(ctx context.Context, p Principal, kind Kind, fields map[string]string) (SaveResult, error) {
	if err := e.ready(); err != nil {
		return SaveResult{}, err
	}
	if err := writableKind(kind); err != nil {
		return SaveResult{}, err
	}
	res, err := e.sync.Save(ctx, p, kind, fields)
	e.auditSave(ctx, p, kind, res, err)
	return res, err
}

// Update is Save with the new fields computed from the current record
// under p's write lock.
func (e *Engine) Update(ctx context.Context, p Principal, kind Kind, fn UpdateFunc) (SaveResult, error) {
	if err := e.ready(); err != nil {
		return SaveResult{}, err
	}
	if err := writableKind(kind); err != nil {
		return SaveResult{}, err
	}
	res, err := e.sync.Update(ctx, p, kind, fn)
	e.auditSave(ctx, p, kind, res, err)
	return res, err
}

// Invalidate soft-invalidates p's record of kind: the record stays stored,
// flagged stale, under a new version. Invalidating session material revokes
// every token issued for it.
func (e *Engine) Invalidate(ctx context.Context, p Principal, kind Kind) (SaveResult, error) {
	if err := e.ready(); err != nil {
		return SaveResult{}, err
	}
	if kind == KindLockout {
		return SaveResult{}, fmt.Errorf("%w: %s", ErrReservedKind, kind)
	}
	if !kind.Valid() {
		return SaveResult{}, fmt.Errorf("unknown record kind %q", kind)
	}
	res, err := e.sync.Invalidate(ctx, p, kind)
	if err == nil && kind == KindSession && !res.Record.IsZero() {
		e.emitAudit(ctx, audit.EventSessionRevoked, p, true, nil, map[string]string{"status": string(res.Status)})
	}
	e.auditSave(ctx, p, kind, res, err)
	return res, err
}

// Reconcile brings every tier in line with the newest copy of p's record,
// pushing a cache copy to the remote tier when the cache is ahead.
func (e *Engine) Reconcile(ctx context.Context, p Principal, kind Kind) (ReconcileReport, error) {
	if err := e.ready(); err != nil {
		return ReconcileReport{}, err
	}
	if !kind.Valid() {
		return ReconcileReport{}, fmt.Errorf("unknown record kind %q", kind)
	}
	rep, err := e.sync.Reconcile(ctx, p, kind)
	if err == nil && rep.PushedToRemote {
		e.emitAudit(ctx, audit.EventReconcilePushed, p, true, nil, map[string]string{
			"kind":    string(kind),
			"winner":  string(rep.Winner),
			"version": fmt.Sprint(rep.Version),
		})
	}
	return rep, err
}

// SyncStatus reports the outcome of p's most recent operation. It is for
// display only.
func (e *Engine) SyncStatus(p Principal) SyncStatus {
	if e.ready() != nil {
		return SyncStatus{LastSuccessfulTier: TierNone}
	}
	return e.sync.Status(p)
}

// RepairContamination scans every tier at found's location for records
// stamped with another tenant and moves them to correct. It is a
// maintenance operation, never part of the hot path.
func (e *Engine) RepairContamination(ctx context.Context, found Principal, kind Kind, correct TenantID) (RepairReport, error) {
	if err := e.ready(); err != nil {
		return RepairReport{}, err
	}
	rep, err := e.sync.RepairContamination(ctx, found, kind, correct)
	if err != nil {
		return rep, err
	}
	for _, o := range rep.Outcomes {
		if o.Clean {
			continue
		}
		md := map[string]string{
			"tier":       string(o.Tier),
			"kind":       string(kind),
			"found_at":   rep.Found.String(),
			"superseded": fmt.Sprint(o.Superseded),
		}
		if o.Repaired || o.Superseded {
			md["target"] = o.Target.String()
		}
		e.emitAudit(ctx, audit.EventRepair, found, o.Err == nil, o.Err, md)
	}
	return rep, nil
}

func (e *Engine) auditSave(ctx context.Context, p Principal, kind Kind, res SaveResult, err error) {
	if err == nil || !errors.Is(err, ErrAllTiersFailed) {
		return
	}
	md := map[string]string{"kind": string(kind)}
	for tier, terr := range res.Tiers {
		md[string(tier)] = storage.ClassOf(terr).String()
	}
	e.logger.Warn("save failed in every tier",
		zap.String("tenant", string(p.Tenant)),
		zap.String("principal", string(p.ID)),
		zap.String("kind", string(kind)),
		zap.Error(err))
	e.emitAudit(ctx, audit.EventSaveFailed, p, false, err, md)
}
