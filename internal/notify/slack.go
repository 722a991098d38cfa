package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/slack-go/slack"
)

// Slack posts notifications to a Slack channel. Delivery failures are
// logged and swallowed.
type Slack struct {
	api     *slack.Client
	channel string
	log     *slog.Logger
}

// NewSlack creates a Slack notifier for the given bot token and channel.
func NewSlack(token, channel string, log *slog.Logger) *Slack {
	if log == nil {
		log = slog.Default()
	}
	return &Slack{api: slack.New(token), channel: channel, log: log}
}

func (s *Slack) post(ctx context.Context, text string) {
	_, _, err := s.api.PostMessageContext(ctx, s.channel, slack.MsgOptionText(text, false))
	if err != nil {
		s.log.Warn("slack notification failed", "error", err)
	}
}

// SessionQueued announces a new waiting customer.
func (s *Slack) SessionQueued(ctx context.Context, sessionID string, queueLength int) {
	s.post(ctx, fmt.Sprintf("New chat waiting (session %s), %d in queue", sessionID, queueLength))
}

// SpecialistAssigned announces a completed handoff.
func (s *Slack) SpecialistAssigned(ctx context.Context, sessionID, specialistID string) {
	s.post(ctx, fmt.Sprintf("Session %s assigned to %s", sessionID, specialistID))
}

// SessionClosed announces a finished chat.
func (s *Slack) SessionClosed(ctx context.Context, sessionID, reason string) {
	s.post(ctx, fmt.Sprintf("Session %s closed (%s)", sessionID, reason))
}
