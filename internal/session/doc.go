// Package session issues and validates session material.
//
// A principal holds at most one session record. The record stores the
// session ID and expiry; the signed token carries the record version it was
// issued against, so bumping the version (Invalidate, Logout, a lock)
// revokes every outstanding token in one write.
//
// Issue takes a lockout.Clearance, which only a successful access check can
// produce. Session material is never built without one.
package session
