package lockout

import (
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/credsync/record"
)

const (
	fieldFailureCount    = "failure_count"
	fieldWindowStartedAt = "window_started_at"
	fieldLockedUntil     = "locked_until"
)

// Counter is a read-only view of a principal's failure counter.
type Counter struct {
	Owner           record.PrincipalID
	Tenant          record.TenantID
	FailureCount    int
	WindowStartedAt time.Time
	// LockedUntil is zero when the counter is not locked.
	LockedUntil time.Time
	Version     uint64
}

// Locked reports whether a lock is recorded, expired or not.
func (c Counter) Locked() bool {
	return !c.LockedUntil.IsZero()
}

// ActiveAt reports whether the lock is still in force at now.
func (c Counter) ActiveAt(now time.Time) bool {
	return c.Locked() && now.Before(c.LockedUntil)
}

func decodeCounter(rec record.Record) (Counter, error) {
	c := Counter{
		Owner:   rec.Owner,
		Tenant:  rec.Tenant,
		Version: rec.Version,
	}
	if raw := rec.Field(fieldFailureCount); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Counter{}, fmt.Errorf("lockout counter: bad %s %q", fieldFailureCount, raw)
		}
		c.FailureCount = n
	}
	var err error
	if c.WindowStartedAt, err = parseTime(rec.Field(fieldWindowStartedAt)); err != nil {
		return Counter{}, fmt.Errorf("lockout counter: bad %s: %w", fieldWindowStartedAt, err)
	}
	if c.LockedUntil, err = parseTime(rec.Field(fieldLockedUntil)); err != nil {
		return Counter{}, fmt.Errorf("lockout counter: bad %s: %w", fieldLockedUntil, err)
	}
	return c, nil
}

// fields encodes c as one record. An unlocked counter carries no
// locked_until field at all.
func (c Counter) fields() map[string]string {
	out := map[string]string{
		fieldFailureCount: strconv.Itoa(c.FailureCount),
	}
	if !c.WindowStartedAt.IsZero() {
		out[fieldWindowStartedAt] = c.WindowStartedAt.UTC().Format(time.RFC3339Nano)
	}
	if c.Locked() {
		out[fieldLockedUntil] = c.LockedUntil.UTC().Format(time.RFC3339Nano)
	}
	return out
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}
