package credsync

import (
	"github.com/MrEthical07/credsync/internal/lockout"
	"github.com/MrEthical07/credsync/internal/session"
	"github.com/MrEthical07/credsync/internal/syncer"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
)

type (
	// TenantID identifies an isolated customer instance.
	TenantID = record.TenantID
	// PrincipalID identifies an actor within a tenant.
	PrincipalID = record.PrincipalID
	// Principal is the (tenant, principal) pair every operation runs for.
	Principal = record.Principal
	// Kind names a record family: credential, lockout or session.
	Kind = record.Kind
	// Record is the versioned unit stored by every tier.
	Record = record.Record
	// SessionIntent gates credential restoration after logout.
	SessionIntent = record.SessionIntent

	// Tier names a storage backend and doubles as Load provenance.
	Tier = storage.Tier
	// Backend is the contract every storage tier implements.
	Backend = storage.Backend

	// LoadResult is the outcome of Load.
	LoadResult = syncer.Result
	// SaveResult is the outcome of Save and Invalidate.
	SaveResult = syncer.SaveResult
	// SaveStatus is synced, cached-only or failed.
	SaveStatus = syncer.SaveStatus
	// SyncStatus is the observability view of a principal's last operation.
	SyncStatus = syncer.Status
	// UpdateFunc computes the next fields of a record from the current one.
	UpdateFunc = syncer.UpdateFunc
	// ReconcileReport describes what Reconcile changed.
	ReconcileReport = syncer.ReconcileReport
	// RepairReport describes a contamination repair across tiers.
	RepairReport = syncer.RepairReport

	// Decision is the outcome of a lockout check.
	Decision = lockout.Decision
	// LockState is Open or Locked.
	LockState = lockout.State
	// LockoutCounter is the decoded lockout record.
	LockoutCounter = lockout.Counter

	// SessionToken is an issued session token.
	SessionToken = session.Token
	// Session is a validated session record.
	Session = session.Session
)

const (
	KindCredential = record.KindCredential
	KindLockout    = record.KindLockout
	KindSession    = record.KindSession
	KindIntent     = record.KindIntent

	TierRemote    = storage.TierRemote
	TierDurable   = storage.TierDurable
	TierEphemeral = storage.TierEphemeral
	TierMemory    = storage.TierMemory
	TierNone      = storage.TierNone

	StatusSynced     = syncer.StatusSynced
	StatusCachedOnly = syncer.StatusCachedOnly
	StatusFailed     = syncer.StatusFailed

	StateOpen   = lockout.StateOpen
	StateLocked = lockout.StateLocked

	IntentActive     = record.IntentActive
	IntentLoggingOut = record.IntentLoggingOut
)

// NormalizeTenant trims and lowercases a raw tenant identifier.
func NormalizeTenant(raw string) TenantID {
	return record.NormalizeTenant(raw)
}
