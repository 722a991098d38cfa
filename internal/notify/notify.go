// Package notify pushes operational chat events to off-platform channels so
// specialists hear about new work without watching a dashboard.
package notify

import "context"

// Notifier receives orchestrator events. Implementations must be safe to
// call from any goroutine and must never block a chat operation on delivery.
type Notifier interface {
	SessionQueued(ctx context.Context, sessionID string, queueLength int)
	SpecialistAssigned(ctx context.Context, sessionID, specialistID string)
	SessionClosed(ctx context.Context, sessionID, reason string)
}

// Nop discards all notifications.
type Nop struct{}

func (Nop) SessionQueued(context.Context, string, int)         {}
func (Nop) SpecialistAssigned(context.Context, string, string) {}
func (Nop) SessionClosed(context.Context, string, string)      {}
