// Package client is the subscribe/dispatch glue a chat frontend embeds: one
// ChatClient per session, fanning store changes out to registered handlers.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livedesk/livedesk/internal/chat"
	"github.com/livedesk/livedesk/internal/orchestrator"
)

// Event kinds dispatched to handlers.
const (
	EventMessages = "messages"
	EventSession  = "session"
	EventQueue    = "queue"
)

// Event is one update delivered to a handler. Exactly one payload field is
// set, matching Kind.
type Event struct {
	Kind      string
	SessionID string
	Messages  []chat.Message
	Session   *chat.Session
	Queue     *chat.QueueStatus
}

// Handler consumes client events. Handlers run on the store's notification
// goroutine and must not block.
type Handler func(Event)

// defaultCallTimeout bounds direct store calls made through the client,
// since the underlying operations carry no timeouts of their own.
const defaultCallTimeout = 10 * time.Second

// ChatClient tracks one session for a frontend. Message events are
// idempotent: a message ID is dispatched at most once even when the
// underlying store re-delivers snapshots.
type ChatClient struct {
	orch      *orchestrator.Orchestrator
	sessionID string
	timeout   time.Duration
	log       *slog.Logger

	mu       sync.Mutex
	handlers []Handler
	seen     map[string]struct{}
	cancels  []func()
	started  bool
}

// New creates a client for the given session.
func New(orch *orchestrator.Orchestrator, sessionID string, log *slog.Logger) *ChatClient {
	if log == nil {
		log = slog.Default()
	}
	return &ChatClient{
		orch:      orch,
		sessionID: sessionID,
		timeout:   defaultCallTimeout,
		log:       log,
		seen:      make(map[string]struct{}),
	}
}

// OnEvent registers a handler. Handlers added after Start still receive
// subsequent events.
func (c *ChatClient) OnEvent(h Handler) {
	c.mu.Lock()
	c.handlers = append(c.handlers, h)
	c.mu.Unlock()
}

// Start subscribes to the session's messages, its mirrored record and the
// queue metrics.
func (c *ChatClient) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return fmt.Errorf("client for %s already started", c.sessionID)
	}
	c.started = true
	c.mu.Unlock()

	cancelMessages, err := c.orch.SubscribeMessages(ctx, c.sessionID, c.dispatchMessages)
	if err != nil {
		return fmt.Errorf("subscribe messages: %w", err)
	}
	cancelSession, err := c.orch.SubscribeSession(ctx, c.sessionID, func(s *chat.Session) {
		c.dispatch(Event{Kind: EventSession, SessionID: c.sessionID, Session: s})
	})
	if err != nil {
		cancelMessages()
		return fmt.Errorf("subscribe session: %w", err)
	}
	cancelQueue, err := c.orch.SubscribeQueue(ctx, func(qs chat.QueueStatus) {
		c.dispatch(Event{Kind: EventQueue, SessionID: c.sessionID, Queue: &qs})
	})
	if err != nil {
		cancelMessages()
		cancelSession()
		return fmt.Errorf("subscribe queue: %w", err)
	}

	c.mu.Lock()
	c.cancels = []func(){cancelMessages, cancelSession, cancelQueue}
	c.mu.Unlock()
	return nil
}

// Stop cancels all subscriptions.
func (c *ChatClient) Stop() {
	c.mu.Lock()
	cancels := c.cancels
	c.cancels = nil
	c.started = false
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

// Send posts a customer message on the session, bounded by the client
// timeout.
func (c *ChatClient) Send(ctx context.Context, content, senderID, senderType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.orch.SendMessage(ctx, c.sessionID, content, senderID, senderType)
}

// Recent reads the bounded message tail, bounded by the client timeout.
func (c *ChatClient) Recent(ctx context.Context, limit int) ([]chat.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.orch.RecentMessages(ctx, c.sessionID, limit)
}

func (c *ChatClient) dispatchMessages(msgs []chat.Message) {
	c.mu.Lock()
	fresh := msgs[:0]
	for _, m := range msgs {
		if _, ok := c.seen[m.ID]; ok {
			continue
		}
		c.seen[m.ID] = struct{}{}
		fresh = append(fresh, m)
	}
	c.mu.Unlock()

	if len(fresh) > 0 {
		c.dispatch(Event{Kind: EventMessages, SessionID: c.sessionID, Messages: fresh})
	}
}

func (c *ChatClient) dispatch(ev Event) {
	c.mu.Lock()
	handlers := make([]Handler, len(c.handlers))
	copy(handlers, c.handlers)
	c.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}
