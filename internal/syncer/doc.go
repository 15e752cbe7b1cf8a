// Package syncer keeps a principal's records consistent across an ordered
// list of storage tiers.
//
// Reads go remote first (with retry) and fall back through the cache tiers in
// priority order. Writes go remote first and then through to every cache;
// only a write that no tier accepted is an error. Reconcile is the single
// explicit point where diverging tiers are brought back in line.
//
// Writes and reconciliation for one principal are serialized by a
// per-principal lock. Loads never take it.
package syncer
