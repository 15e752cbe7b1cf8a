package record

// DefaultKeyPrefix namespaces every storage key written by the engine.
const DefaultKeyPrefix = "cs"

// Key addresses one record slot in a tier. The tenant in a Key is the
// context the record is looked up under, which is not necessarily the
// tenant stamped inside the stored record.
type Key struct {
	Tenant TenantID
	Kind   Kind
	Owner  PrincipalID
}

// KeyFor builds the key for kind under principal p.
func KeyFor(p Principal, kind Kind) Key {
	return Key{Tenant: p.Tenant, Kind: kind, Owner: p.ID}
}

// Principal returns the principal the key is scoped to.
func (k Key) Principal() Principal {
	return Principal{Tenant: k.Tenant, ID: k.Owner}
}

// Row is the tenant-relative row name used by networked tiers that carry the
// tenant in a separate column or namespace.
func (k Key) Row() string {
	return string(k.Kind) + ":" + string(k.Owner)
}

// String renders the fully qualified key with the default prefix.
func (k Key) String() string {
	return k.WithPrefix(DefaultKeyPrefix)
}

// WithPrefix renders the fully qualified key under prefix.
func (k Key) WithPrefix(prefix string) string {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return prefix + ":" + string(k.Tenant) + ":" + k.Row()
}
