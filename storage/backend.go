package storage

import (
	"context"

	"github.com/MrEthical07/credsync/record"
)

// Tier names one storage backend in the fallback order. It doubles as the
// provenance of a Load result.
type Tier string

const (
	TierRemote    Tier = "remote"
	TierDurable   Tier = "durable-local"
	TierEphemeral Tier = "ephemeral-local"
	TierMemory    Tier = "memory"
	// TierNone is the provenance of a Load that found nothing.
	TierNone Tier = "not-found"
)

// Priority orders tiers for reads and tie-breaking: higher wins.
func (t Tier) Priority() int {
	switch t {
	case TierRemote:
		return 4
	case TierDurable:
		return 3
	case TierEphemeral:
		return 2
	case TierMemory:
		return 1
	default:
		return 0
	}
}

// Found reports whether t is the provenance of an actual hit.
func (t Tier) Found() bool {
	return t != TierNone && t != ""
}

// Capability tags a backend as the authoritative tier or as a cache.
type Capability uint8

const (
	CapabilityCache Capability = iota
	CapabilityAuthoritative
)

func (c Capability) String() string {
	if c == CapabilityAuthoritative {
		return "authoritative"
	}
	return "cache"
}

// Backend is the contract every tier implements.
type Backend interface {
	Tier() Tier
	Capability() Capability
	Get(ctx context.Context, key record.Key) (record.Record, bool, error)
	Set(ctx context.Context, key record.Key, rec record.Record) error
	Delete(ctx context.Context, key record.Key) error
}

// checkVersion enforces version monotonicity for a single tier: a write with
// a lower version than the stored record is rejected, equal versions overwrite.
func checkVersion(tier Tier, stored record.Record, found bool, incoming record.Record) error {
	if found && incoming.Version < stored.Version {
		return Permanent(tier, "set", ErrStaleVersion)
	}
	return nil
}
