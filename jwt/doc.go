// Package jwt signs and verifies session tokens. A token binds a session ID
// to one (tenant, principal) pair and to the version of the stored session
// record it was issued against.
package jwt
