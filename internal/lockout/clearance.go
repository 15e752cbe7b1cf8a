package lockout

import (
	"time"

	"github.com/MrEthical07/credsync/record"
)

// ClearanceTTL bounds how long a Clearance may be presented after Clear.
const ClearanceTTL = time.Minute

// Clearance proves that CheckAccess allowed a principal. Its fields are
// unexported, so the zero value is the only one code outside this package
// can construct, and the zero value is never valid.
type Clearance struct {
	principal record.Principal
	issuedAt  time.Time
	granted   bool
}

// Principal is the principal the clearance was granted to.
func (c Clearance) Principal() record.Principal {
	return c.principal
}

// ValidFor reports whether c was granted to p and is still fresh at now.
func (c Clearance) ValidFor(p record.Principal, now time.Time) bool {
	if !c.granted || c.principal != p {
		return false
	}
	age := now.Sub(c.issuedAt)
	return age >= 0 && age <= ClearanceTTL
}
