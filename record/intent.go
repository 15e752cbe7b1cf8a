package record

// SessionIntent is the explicit per-principal session state that gates
// credential restoration. A principal in IntentLoggingOut never has its
// credentials or session material restored until a fresh login clears it.
type SessionIntent uint8

const (
	IntentActive SessionIntent = iota
	IntentLoggingOut
)

// ParseSessionIntent is the inverse of String. Unknown text reports false.
func ParseSessionIntent(s string) (SessionIntent, bool) {
	switch s {
	case "active":
		return IntentActive, true
	case "logging-out":
		return IntentLoggingOut, true
	default:
		return IntentActive, false
	}
}

func (i SessionIntent) String() string {
	switch i {
	case IntentActive:
		return "active"
	case IntentLoggingOut:
		return "logging-out"
	default:
		return "unknown"
	}
}

// Gated reports whether records of kind are blocked while in intent i.
// Lockout counters are never gated: they must stay enforceable while the
// principal is logged out.
func (i SessionIntent) Gated(kind Kind) bool {
	if i != IntentLoggingOut {
		return false
	}
	return kind == KindCredential || kind == KindSession
}
