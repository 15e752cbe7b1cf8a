package audit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types emitted by the engine.
const (
	EventLocked          = "lockout_locked"
	EventUnlocked        = "lockout_unlocked"
	EventAccessDenied    = "access_denied"
	EventContamination   = "tenant_contamination"
	EventRepair          = "tenant_repair"
	EventSaveFailed      = "save_failed"
	EventSessionIssued   = "session_issued"
	EventSessionRevoked  = "session_invalidated"
	EventBootstrapDenied = "bootstrap_rejected"
	EventLogout          = "logout"
	EventReconcilePushed = "reconcile_pushed"
)

// Event is the canonical audit event model used by internal dispatching and root APIs.
// Field values of records are never carried; Metadata holds names and
// tier outcomes only.
type Event struct {
	Timestamp   time.Time         `json:"timestamp"`
	EventType   string            `json:"event_type"`
	TenantID    string            `json:"tenant_id,omitempty"`
	PrincipalID string            `json:"principal_id,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Tier        string            `json:"tier,omitempty"`
	SessionID   string            `json:"session_id,omitempty"`
	Actor       string            `json:"actor,omitempty"`
	IP          string            `json:"ip,omitempty"`
	Success     bool              `json:"success"`
	Error       string            `json:"error,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Sink receives emitted audit events.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// NoOpSink drops audit events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) {}

// ChannelSink writes audit events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan Event {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	if w == nil {
		return &JSONWriterSink{}
	}
	return &JSONWriterSink{enc: json.NewEncoder(w)}
}

func (s *JSONWriterSink) Emit(_ context.Context, event Event) {
	if s == nil || s.enc == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.enc.Encode(event)
}

// ZapSink writes every event as one structured log entry.
type ZapSink struct {
	logger *zap.Logger
}

func NewZapSink(logger *zap.Logger) *ZapSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapSink{logger: logger}
}

func (s *ZapSink) Emit(_ context.Context, event Event) {
	fields := make([]zap.Field, 0, 10+len(event.Metadata))
	fields = append(fields,
		zap.Time("timestamp", event.Timestamp),
		zap.String("tenant", event.TenantID),
		zap.String("principal", event.PrincipalID),
		zap.Bool("success", event.Success),
	)
	for k, v := range map[string]string{
		"kind":       event.Kind,
		"tier":       event.Tier,
		"session_id": event.SessionID,
		"actor":      event.Actor,
		"ip":         event.IP,
		"error":      event.Error,
	} {
		if v != "" {
			fields = append(fields, zap.String(k, v))
		}
	}
	for k, v := range event.Metadata {
		fields = append(fields, zap.String("meta."+k, v))
	}
	s.logger.Info(event.EventType, fields...)
}
