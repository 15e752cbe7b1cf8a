package internaldefs

import (
	"github.com/MrEthical07/credsync"
)

// CounterDef binds a counter ID to its exported name.
type CounterDef struct {
	ID   credsync.MetricID
	Name string
	Help string
}

// HistogramDef binds a histogram ID to its exported name.
type HistogramDef struct {
	ID   credsync.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: credsync.MetricLoadRemote, Name: "credsync_load_remote_total", Help: "Loads served by the remote tier."},
	{ID: credsync.MetricLoadDurable, Name: "credsync_load_durable_total", Help: "Loads served by the durable-local tier."},
	{ID: credsync.MetricLoadEphemeral, Name: "credsync_load_ephemeral_total", Help: "Loads served by the ephemeral-local tier."},
	{ID: credsync.MetricLoadMemory, Name: "credsync_load_memory_total", Help: "Loads served by the memory tier."},
	{ID: credsync.MetricLoadNotFound, Name: "credsync_load_not_found_total", Help: "Loads that found no tenant-valid record."},
	{ID: credsync.MetricSaveSynced, Name: "credsync_save_synced_total", Help: "Saves accepted by the remote tier."},
	{ID: credsync.MetricSaveCachedOnly, Name: "credsync_save_cached_only_total", Help: "Saves kept in cache tiers only."},
	{ID: credsync.MetricSaveFailed, Name: "credsync_save_failed_total", Help: "Saves no tier accepted."},
	{ID: credsync.MetricRemoteRetry, Name: "credsync_remote_retry_total", Help: "Retries of transient remote failures."},
	{ID: credsync.MetricCacheWriteFailure, Name: "credsync_cache_write_failure_total", Help: "Failed cache tier writes."},
	{ID: credsync.MetricContaminationDropped, Name: "credsync_contamination_dropped_total", Help: "Records dropped for carrying another tenant's stamp."},
	{ID: credsync.MetricContaminationRepaired, Name: "credsync_contamination_repaired_total", Help: "Contaminated records moved or removed by repair."},
	{ID: credsync.MetricReconcilePushed, Name: "credsync_reconcile_pushed_total", Help: "Cached records pushed to the remote tier by reconcile."},
	{ID: credsync.MetricReconcilePulled, Name: "credsync_reconcile_pulled_total", Help: "Cache tiers refreshed by reconcile."},
	{ID: credsync.MetricLockoutFailure, Name: "credsync_lockout_failure_total", Help: "Failed authentication factors recorded."},
	{ID: credsync.MetricLockoutLocked, Name: "credsync_lockout_locked_total", Help: "Principals locked out."},
	{ID: credsync.MetricLockoutDenied, Name: "credsync_lockout_denied_total", Help: "Access checks denied by lockout."},
	{ID: credsync.MetricLockoutExpired, Name: "credsync_lockout_expired_total", Help: "Locks cleared on expiry."},
	{ID: credsync.MetricLockoutAdminUnlock, Name: "credsync_lockout_admin_unlock_total", Help: "Locks cleared by an administrator."},
	{ID: credsync.MetricSessionIssued, Name: "credsync_session_issued_total", Help: "Sessions issued after a cleared login."},
	{ID: credsync.MetricSessionInvalidated, Name: "credsync_session_invalidated_total", Help: "Sessions invalidated."},
	{ID: credsync.MetricBootstrapRejected, Name: "credsync_bootstrap_rejected_total", Help: "Cached sessions rejected at bootstrap."},
	{ID: credsync.MetricLogout, Name: "credsync_logout_total", Help: "Logout operations."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: credsync.MetricSaveLatency, Name: "credsync_save_latency_seconds", Help: "Save latency across all tiers."},
}

// HistogramUpperBounds are the bucket upper bounds in seconds, excluding +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBounds are the bucket labels, including +Inf.
var HistogramBounds = []string{
	"0.005",
	"0.01",
	"0.025",
	"0.05",
	"0.1",
	"0.25",
	"0.5",
	"+Inf",
}

// AuditDroppedName is the counter exported for dropped audit events.
const AuditDroppedName = "credsync_audit_dropped_total"

// NormalizeBuckets copies raw into a fixed-size bucket array.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
