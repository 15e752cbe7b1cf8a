// Package lockout implements the account lockout state machine.
//
// A principal is Open while its failure count is under the threshold and
// Locked once it reaches it, until the lock expires or an administrator
// unlocks it. Counters persist through the tiered sync engine; every reset
// clears the count and the lock in one record write.
//
// CheckAccess must be consulted before credential submission, after
// credential verification and at bootstrap. Clear is the only source of a
// Clearance, which session issuance requires.
package lockout
