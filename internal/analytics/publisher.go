// Package analytics publishes session lifecycle events for downstream
// reporting pipelines.
package analytics

import (
	"context"
	"time"

	"github.com/livedesk/livedesk/internal/chat"
)

// Event types emitted by the orchestrator.
const (
	EventSessionCreated  = "session_created"
	EventSessionAssigned = "session_assigned"
	EventSessionArchived = "session_archived"
)

// Event is one lifecycle event on the analytics stream.
type Event struct {
	Type         string          `json:"type"`
	SessionID    string          `json:"sessionId"`
	SpecialistID string          `json:"specialistId,omitempty"`
	At           time.Time       `json:"at"`
	Record       *chat.Analytics `json:"record,omitempty"`
}

// Publisher delivers events to the reporting pipeline. Publishing is
// best-effort from the orchestrator's point of view; a lost event never
// fails a chat operation.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards all events. Used when no brokers are configured.
type Nop struct{}

// Publish discards the event.
func (Nop) Publish(context.Context, Event) error { return nil }

// Close is a no-op.
func (Nop) Close() error { return nil }
