package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/credsync/record"
)

const (
	fieldSessionID = "sid"
	fieldCreatedAt = "created_at"
	fieldExpiresAt = "expires_at"
)

var errMalformedRecord = errors.New("malformed session record")

// Session is the decoded session record.
type Session struct {
	ID        string
	Principal record.Principal
	CreatedAt time.Time
	ExpiresAt time.Time
	Version   uint64
	Stale     bool
}

// ExpiredAt reports whether s has expired at now.
func (s Session) ExpiredAt(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

func (s Session) fields() map[string]string {
	return map[string]string{
		fieldSessionID: s.ID,
		fieldCreatedAt: s.CreatedAt.UTC().Format(time.RFC3339Nano),
		fieldExpiresAt: s.ExpiresAt.UTC().Format(time.RFC3339Nano),
	}
}

func decode(rec record.Record) (Session, error) {
	s := Session{
		ID:        rec.Field(fieldSessionID),
		Principal: record.Principal{Tenant: rec.Tenant, ID: rec.Owner},
		Version:   rec.Version,
		Stale:     rec.Stale,
	}
	if s.ID == "" {
		return Session{}, fmt.Errorf("%w: missing %s", errMalformedRecord, fieldSessionID)
	}
	var err error
	if s.CreatedAt, err = time.Parse(time.RFC3339Nano, rec.Field(fieldCreatedAt)); err != nil {
		return Session{}, fmt.Errorf("%w: %s: %v", errMalformedRecord, fieldCreatedAt, err)
	}
	if s.ExpiresAt, err = time.Parse(time.RFC3339Nano, rec.Field(fieldExpiresAt)); err != nil {
		return Session{}, fmt.Errorf("%w: %s: %v", errMalformedRecord, fieldExpiresAt, err)
	}
	return s, nil
}
