// Package tenant isolates records by tenant. Every write is stamped and every
// read is filtered through a Guard; Repair is the only way to move a record
// to another tenant.
package tenant
