// Package credsync keeps a principal's credential record, lockout counter and
// session material consistent across an ordered hierarchy of storage tiers,
// isolates every record by tenant, and enforces account lockout at every
// entry point that can lead to granting access.
//
// # Architecture boundaries
//
// The root package is the public surface: [Config], [Builder] and [Engine].
// Tier orchestration lives in internal/syncer, tenant isolation in
// internal/tenant, retry in internal/retry, the lockout state machine in
// internal/lockout and session material in internal/session. Storage
// backends live in the storage package so callers can supply their own.
//
// # Tiers
//
// Reads go remote, durable-local, ephemeral-local, memory, returning the
// first tenant-valid hit. Writes go to remote first and then to every cache
// tier. A save that reached only caches reports [StatusCachedOnly] and is
// not an error; only a save no tier accepted returns [ErrAllTiersFailed].
//
// # Access entry points
//
// [Engine.PreAuth], [Engine.CompleteLogin] and [Engine.Bootstrap] all run the
// lockout check. Session material can only be issued from a clearance the
// check grants, and a locked result invalidates any session already stored.
package credsync
