package tenant

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/MrEthical07/credsync/record"
)

var (
	// ErrMismatch reports a record whose tenant stamp or owner does not match
	// the context it was found in.
	ErrMismatch = errors.New("tenant mismatch")
	// ErrRepairRejected is returned by Repair for inputs it cannot fix.
	ErrRepairRejected = errors.New("tenant repair rejected")
)

// Contamination describes one record dropped by the guard.
type Contamination struct {
	Expected record.TenantID
	Found    record.TenantID
	Owner    record.PrincipalID
	Kind     record.Kind
	Source   string
}

// Guard stamps writes and filters reads for one deployment. It holds no
// per-tenant state and is safe for concurrent use.
type Guard struct {
	contaminations atomic.Uint64
	onContaminated func(Contamination)
}

// NewGuard returns a guard. onContaminated, when non-nil, is called once for
// each record the guard drops.
func NewGuard(onContaminated func(Contamination)) *Guard {
	return &Guard{onContaminated: onContaminated}
}

// Stamp returns a copy of rec owned by tenant. The copy is what gets written.
func (g *Guard) Stamp(rec record.Record, tenant record.TenantID) record.Record {
	out := rec.Clone()
	out.Tenant = tenant
	return out
}

// Check reports whether rec may be served to principal p. A failed check is
// counted as a contamination.
func (g *Guard) Check(rec record.Record, p record.Principal, kind record.Kind, source string) error {
	if rec.Tenant == p.Tenant && rec.Owner == p.ID && (rec.Kind == "" || rec.Kind == kind) {
		return nil
	}
	g.flag(Contamination{
		Expected: p.Tenant,
		Found:    rec.Tenant,
		Owner:    rec.Owner,
		Kind:     kind,
		Source:   source,
	})
	return fmt.Errorf("%w: want %s, found %q", ErrMismatch, p, rec.Tenant)
}

// Filter drops every record whose tenant differs from tenant and counts each
// drop. It is the batch form for callers holding records of many principals;
// keyed reads of one principal use Check, which also compares the owner.
func (g *Guard) Filter(records []record.Record, tenant record.TenantID) []record.Record {
	out := make([]record.Record, 0, len(records))
	for _, rec := range records {
		if rec.Tenant != tenant {
			g.flag(Contamination{
				Expected: tenant,
				Found:    rec.Tenant,
				Owner:    rec.Owner,
				Kind:     rec.Kind,
			})
			continue
		}
		out = append(out, rec)
	}
	return out
}

// Repair returns a copy of a mis-tenanted record reassigned to correct. The
// stamp may already equal correct when only the record's location was wrong.
func (g *Guard) Repair(rec record.Record, correct record.TenantID) (record.Record, error) {
	if !correct.Valid() {
		return record.Record{}, fmt.Errorf("%w: invalid tenant %q", ErrRepairRejected, correct)
	}
	if rec.Owner == "" {
		return record.Record{}, fmt.Errorf("%w: record has no owner", ErrRepairRejected)
	}
	out := rec.Clone()
	out.Tenant = correct
	return out, nil
}

// Contaminations returns the number of records dropped since construction.
func (g *Guard) Contaminations() uint64 {
	return g.contaminations.Load()
}

func (g *Guard) flag(c Contamination) {
	g.contaminations.Add(1)
	if g.onContaminated != nil {
		g.onContaminated(c)
	}
}
