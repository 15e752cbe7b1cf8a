// Package record defines the identity and record types shared by every
// storage tier and by the sync and lockout engines.
//
// # Architecture boundaries
//
// record is a leaf package: it owns value types, normalization and storage
// key formatting. It has no knowledge of where a record lives.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Hand out shared mutable references: records travel by value and
//     [Record.Clone] deep-copies the field map.
package record
