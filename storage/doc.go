// Package storage provides the uniform tier contract used by the sync engine
// and its four implementations.
//
// # Tiers
//
//   - [RemoteStore]: networked and authoritative. Talks to a [RowClient]
//     ([RedisRows] or [PostgresRows]) that is keyed by (tenant, row).
//   - [DurableStore]: SQLite file that survives restarts; secret fields can
//     be sealed at rest.
//   - [EphemeralStore]: expirable LRU scoped to one browsing/session context.
//   - [MemoryStore]: process memory only.
//
// Every backend rejects a Set whose version is lower than the stored one and
// returns every failure as a classified [*Error] (transient or permanent).
//
// # What this package must NOT do
//
//   - Filter by tenant. Isolation is enforced above this layer; backends
//     return whatever is stored at a key.
//   - Retry. Retry policy belongs to the caller.
//   - Swallow errors.
package storage
