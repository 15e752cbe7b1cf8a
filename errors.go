package credsync

import (
	"errors"

	"github.com/MrEthical07/credsync/internal/session"
	"github.com/MrEthical07/credsync/internal/syncer"
	"github.com/MrEthical07/credsync/internal/tenant"
	"github.com/MrEthical07/credsync/record"
	"github.com/MrEthical07/credsync/storage"
)

var (
	// ErrAllTiersFailed is returned by writes that no storage tier accepted.
	ErrAllTiersFailed = syncer.ErrAllTiersFailed
	// ErrAccountLocked is returned by login and bootstrap paths while the
	// principal is locked out. The accompanying Decision carries the
	// remaining lock duration.
	ErrAccountLocked = errors.New("account locked")
	// ErrLoggedOut is returned for credential and session access after
	// Logout and before the next CompleteLogin.
	ErrLoggedOut = syncer.ErrLoggedOut
	// ErrInvalidPrincipal is returned for an empty or non-normalized tenant
	// or an empty principal ID.
	ErrInvalidPrincipal = record.ErrInvalidPrincipal
	// ErrSessionInvalid is returned when a session token must not be trusted.
	ErrSessionInvalid = session.ErrInvalid
	// ErrEngineNotReady is returned by every method of a nil or closed Engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrRepairRejected is returned when a contamination repair target is
	// not a valid tenant.
	ErrRepairRejected = tenant.ErrRepairRejected
	// ErrNoRemote is returned by Reconcile on an engine built without a
	// remote tier.
	ErrNoRemote = syncer.ErrNoRemote
	// ErrTransientIO matches storage failures that were eligible for retry.
	ErrTransientIO = storage.ErrTransientIO
	// ErrPermanentIO matches storage failures that are never retried.
	ErrPermanentIO = storage.ErrPermanentIO
)

// ErrReservedKind is returned when a caller tries to write a record kind
// that only the engine itself may write: lockout counters change through
// RecordFailure and AdminUnlock, session material through CompleteLogin.
var ErrReservedKind = errors.New("record kind is written by the engine only")
