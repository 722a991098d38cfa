package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/livedesk/livedesk/internal/store"
)

// DefaultMessageWindow bounds how many recent messages a read or
// subscription snapshot carries. Storage itself is unbounded.
const DefaultMessageWindow = 50

// Router is the append-only message channel between customer and
// specialist. Messages live only in the real-time tree; sending bumps the
// session's lastMessageAt in both tiers. Subscriptions deliver deltas: each
// subscriber sees every message ID at most once, so delivery is idempotent
// under repeated snapshots.
type Router struct {
	realtime store.RealtimePresenceStore
	sessions *Sessions
	window   int
	log      *slog.Logger
}

// NewRouter creates a message router with the default recency window.
func NewRouter(realtime store.RealtimePresenceStore, sessions *Sessions, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{realtime: realtime, sessions: sessions, window: DefaultMessageWindow, log: log}
}

func messagesPath(sessionID string) string {
	return sessionPath(sessionID) + "/messages"
}

// Send appends a message to the session stream and returns its time-ordered
// ID. The session's lastMessageAt bump is best-effort.
func (r *Router) Send(ctx context.Context, sessionID string, msg Message) (string, error) {
	msg.SessionID = sessionID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	if msg.Type == "" {
		msg.Type = MessageText
	}

	id, err := r.realtime.Push(ctx, messagesPath(sessionID), realtimeMessageDoc(&msg))
	if err != nil {
		return "", fmt.Errorf("send message to %s: %w", sessionID, err)
	}

	if err := r.sessions.Update(ctx, sessionID, store.Doc{"lastMessageAt": msg.Timestamp}); err != nil {
		r.log.Warn("lastMessageAt bump failed", "session", sessionID, "error", err)
	}
	return id, nil
}

// Recent returns up to limit messages, sorted ascending by timestamp.
func (r *Router) Recent(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > r.window {
		limit = r.window
	}
	v, err := r.realtime.Get(ctx, messagesPath(sessionID))
	if err != nil {
		return nil, fmt.Errorf("read messages of %s: %w", sessionID, err)
	}
	msgs := parseMessages(sessionID, v)
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	return msgs, nil
}

// Subscribe delivers new messages for the session as they arrive. Each
// snapshot from the store is re-sorted by timestamp and reduced to the
// messages the subscriber has not yet seen.
func (r *Router) Subscribe(ctx context.Context, sessionID string, fn func([]Message)) (func(), error) {
	var mu sync.Mutex
	seen := make(map[string]struct{})

	return r.realtime.Subscribe(ctx, messagesPath(sessionID), func(v any) {
		msgs := parseMessages(sessionID, v)
		if len(msgs) > r.window {
			msgs = msgs[len(msgs)-r.window:]
		}

		mu.Lock()
		var delta []Message
		for _, m := range msgs {
			if _, ok := seen[m.ID]; ok {
				continue
			}
			seen[m.ID] = struct{}{}
			delta = append(delta, m)
		}
		mu.Unlock()

		if len(delta) > 0 {
			fn(delta)
		}
	})
}

func realtimeMessageDoc(msg *Message) map[string]any {
	doc := map[string]any{
		"sessionId":  msg.SessionID,
		"senderId":   msg.SenderID,
		"senderType": msg.SenderType,
		"content":    msg.Content,
		"type":       msg.Type,
		"timestamp":  msg.Timestamp.UTC().UnixMilli(),
	}
	if len(msg.Metadata) > 0 {
		doc["metadata"] = msg.Metadata
	}
	return doc
}

// parseMessages turns the message subtree into a slice sorted by timestamp,
// falling back to ID order (IDs are time-ordered) on equal stamps.
func parseMessages(sessionID string, v any) []Message {
	tree, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	out := make([]Message, 0, len(tree))
	for id, raw := range tree {
		fields, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		msg := Message{
			ID:         id,
			SessionID:  sessionID,
			SenderID:   asString(fields["senderId"]),
			SenderType: asString(fields["senderType"]),
			Content:    asString(fields["content"]),
			Type:       asString(fields["type"]),
			Timestamp:  asMillis(fields["timestamp"]),
		}
		if md, ok := fields["metadata"].(map[string]any); ok {
			msg.Metadata = md
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID < out[j].ID
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
