package credsync

import (
	"context"
	"io"

	"github.com/MrEthical07/credsync/internal/audit"
	"github.com/MrEthical07/credsync/record"
	"go.uber.org/zap"
)

// AuditEvent is one security-relevant engine event.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// AuditConfig controls audit buffering.
type AuditConfig = audit.Config

// NoOpSink drops audit events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers audit events in a channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// ZapSink writes audit events as structured log entries.
type ZapSink = audit.ZapSink

const (
	AuditEventLocked          = audit.EventLocked
	AuditEventUnlocked        = audit.EventUnlocked
	AuditEventAccessDenied    = audit.EventAccessDenied
	AuditEventContamination   = audit.EventContamination
	AuditEventRepair          = audit.EventRepair
	AuditEventSaveFailed      = audit.EventSaveFailed
	AuditEventSessionIssued   = audit.EventSessionIssued
	AuditEventSessionRevoked  = audit.EventSessionRevoked
	AuditEventBootstrapDenied = audit.EventBootstrapDenied
	AuditEventLogout          = audit.EventLogout
	AuditEventReconcilePushed = audit.EventReconcilePushed
)

// NewChannelSink returns a sink backed by a channel of the given buffer.
func NewChannelSink(buffer int) *ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

// NewZapSink returns a sink logging every event at Info on logger.
func NewZapSink(logger *zap.Logger) *ZapSink {
	return audit.NewZapSink(logger)
}

func (e *Engine) emitAudit(ctx context.Context, eventType string, p record.Principal, success bool, err error, metadata map[string]string) {
	if e == nil || e.audit == nil {
		return
	}
	ev := AuditEvent{
		Timestamp:   e.now().UTC(),
		EventType:   eventType,
		TenantID:    string(p.Tenant),
		PrincipalID: string(p.ID),
		Actor:       actorFromContext(ctx),
		IP:          clientIPFromContext(ctx),
		Success:     success,
		Metadata:    metadata,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	e.audit.Emit(ctx, ev)
}
