package record

import (
	"errors"
	"fmt"
	"maps"
	"strings"
	"time"
)

// ErrInvalidPrincipal is returned when a tenant or principal identifier is empty or malformed.
var ErrInvalidPrincipal = errors.New("invalid principal")

// TenantID identifies an isolated customer instance. Valid values are
// lowercase and non-empty.
type TenantID string

// PrincipalID identifies an authenticated actor within a tenant.
type PrincipalID string

// NormalizeTenant trims and lowercases a raw tenant identifier.
func NormalizeTenant(raw string) TenantID {
	return TenantID(strings.ToLower(strings.TrimSpace(raw)))
}

// Valid reports whether t is non-empty and already normalized.
func (t TenantID) Valid() bool {
	return t != "" && string(t) == strings.ToLower(strings.TrimSpace(string(t)))
}

// Principal is the (tenant, principal) pair every engine operation runs on behalf of.
type Principal struct {
	Tenant TenantID
	ID     PrincipalID
}

// Validate rejects principals with an empty or non-normalized tenant, or an empty ID.
func (p Principal) Validate() error {
	if !p.Tenant.Valid() {
		return fmt.Errorf("%w: tenant %q must be lowercase and non-empty", ErrInvalidPrincipal, p.Tenant)
	}
	if strings.TrimSpace(string(p.ID)) == "" {
		return ErrInvalidPrincipal
	}
	return nil
}

func (p Principal) String() string {
	return string(p.Tenant) + "/" + string(p.ID)
}

// Kind names the record family stored under a principal.
type Kind string

const (
	KindCredential Kind = "credential"
	KindLockout    Kind = "lockout"
	KindSession    Kind = "session"
	// KindIntent holds the principal's SessionIntent so a logout survives
	// process restarts.
	KindIntent     Kind = "intent"
)

// Valid reports whether k is one of the known record kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindCredential, KindLockout, KindSession, KindIntent:
		return true
	default:
		return false
	}
}

// Record is the versioned unit persisted by every tier. CredentialRecord,
// LockoutCounter and session material all share this shape; Kind tells them
// apart and Fields carries the named values.
type Record struct {
	Owner     PrincipalID       `json:"owner"`
	Tenant    TenantID          `json:"tenant"`
	Kind      Kind              `json:"kind"`
	Fields    map[string]string `json:"fields,omitempty"`
	Version   uint64            `json:"version"`
	UpdatedAt time.Time         `json:"updated_at"`
	Stale     bool              `json:"stale,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	out := r
	out.Fields = CloneFields(r.Fields)
	return out
}

// Field returns the named field value, or "" when absent.
func (r Record) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// IsZero reports whether r carries no version, i.e. was never written.
func (r Record) IsZero() bool {
	return r.Version == 0
}

// CloneFields copies a field map. A nil map stays nil.
func CloneFields(fields map[string]string) map[string]string {
	if fields == nil {
		return nil
	}
	return maps.Clone(fields)
}
