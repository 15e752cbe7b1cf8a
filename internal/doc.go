// Package internal holds the building blocks behind the credsync Engine.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations)
//   - lockout: failed-attempt state machine and login clearance
//   - metrics: lock-free counters and latency histograms
//   - retry: remote-tier retry policy over cenkalti/backoff
//   - session: session records and token issue/validation
//   - syncer: tiered load/save, reconciliation and logout intent
//   - tenant: tenant stamping and contamination checks
//
// # What this package must NOT do
//
//   - Export types that appear in the public credsync API except through
//     aliases in the root package.
//   - Be imported by any package outside the credsync module.
package internal
