// Package middleware exposes HTTP middleware that gates handlers on a
// credsync session token.
//
// # Guards
//
//   - [Guard] selects the check from a [Mode].
//   - [RequireSession] runs Engine.Bootstrap: token, session record and
//     lockout check.
//   - [RequireStrict] runs the same check and also refuses a lockout decision
//     made without the remote tier.
//
// Each guard reads the Authorization header, records the caller's address
// for audit, and injects the authenticated principal into the request
// context.
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Engine calls. It does not parse
// tokens, touch storage tiers, or make lockout decisions itself.
package middleware
