package credsync

import "github.com/MrEthical07/credsync/internal/metrics"

// MetricID names one counter or histogram exposed by the engine.
type MetricID = metrics.ID

// MetricsConfig toggles metric collection.
type MetricsConfig = metrics.Config

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot = metrics.Snapshot

// MetricCount is the number of defined metric IDs.
const MetricCount = metrics.Count

const (
	MetricLoadRemote            = metrics.LoadRemote
	MetricLoadDurable           = metrics.LoadDurable
	MetricLoadEphemeral         = metrics.LoadEphemeral
	MetricLoadMemory            = metrics.LoadMemory
	MetricLoadNotFound          = metrics.LoadNotFound
	MetricSaveSynced            = metrics.SaveSynced
	MetricSaveCachedOnly        = metrics.SaveCachedOnly
	MetricSaveFailed            = metrics.SaveFailed
	MetricRemoteRetry           = metrics.RemoteRetry
	MetricCacheWriteFailure     = metrics.CacheWriteFailure
	MetricContaminationDropped  = metrics.ContaminationDropped
	MetricContaminationRepaired = metrics.ContaminationRepaired
	MetricReconcilePushed       = metrics.ReconcilePushed
	MetricReconcilePulled       = metrics.ReconcilePulled
	MetricLockoutFailure        = metrics.LockoutFailure
	MetricLockoutLocked         = metrics.LockoutLocked
	MetricLockoutDenied         = metrics.LockoutDenied
	MetricLockoutExpired        = metrics.LockoutExpired
	MetricLockoutAdminUnlock    = metrics.LockoutAdminUnlock
	MetricSessionIssued         = metrics.SessionIssued
	MetricSessionInvalidated    = metrics.SessionInvalidated
	MetricBootstrapRejected     = metrics.BootstrapRejected
	MetricLogout                = metrics.Logout
	MetricSaveLatency           = metrics.SaveLatency
)
