package telemetry

import (
	"context"
	"time"
)

// Audit event types emitted by the gateway and background tasks.
const (
	EventConnect       = "connection_opened"
	EventDisconnect    = "connection_closed"
	EventCallStarted   = "call_started"
	EventCallEnded     = "call_ended"
	EventUploadFailed  = "upload_failed"
	EventFlushFailed   = "ice_flush_failed"
	routingKeyLifecycle = "signaling.lifecycle"
)

// Publisher is the transport audit events go out on.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// AuditEmitter publishes structured audit envelopes.
type AuditEmitter struct {
	publisher   Publisher
	service     string
	environment string
}

// AuditEnvelope is the wire shape of one audit event.
type AuditEnvelope struct {
	SchemaVersion int            `json:"schema_version"`
	EventType     string         `json:"event_type"`
	OccurredAt    string         `json:"occurred_at"`
	Service       string         `json:"service"`
	Environment   string         `json:"environment"`
	UserID        string         `json:"user_id,omitempty"`
	Payload       map[string]any `json:"payload,omitempty"`
}

// NewAuditEmitter constructs an AuditEmitter.
func NewAuditEmitter(publisher Publisher, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		service:     service,
		environment: environment,
	}
}

// Emit publishes one audit event. A nil emitter or publisher is a no-op so
// call sites never need to guard.
func (e *AuditEmitter) Emit(ctx context.Context, eventType, userID string, payload map[string]any) {
	if e == nil || e.publisher == nil {
		return
	}

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     eventType,
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		UserID:        userID,
		Payload:       payload,
	}

	_ = e.publisher.Publish(ctx, routingKeyLifecycle, envelope)
}
