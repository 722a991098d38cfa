package chat

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/livedesk/livedesk/internal/store"
)

// Sessions owns the canonical session lifecycle across both tiers. Every
// mutation writes the durable store first and then best-effort mirrors to
// the real-time tree; a failed mirror is logged, never returned, and Upsert
// repairs drift when the tiers diverge.
type Sessions struct {
	durable  store.DurableStore
	realtime store.RealtimePresenceStore
	log      *slog.Logger
}

// NewSessions creates the session store over the two tiers.
func NewSessions(durable store.DurableStore, realtime store.RealtimePresenceStore, log *slog.Logger) *Sessions {
	if log == nil {
		log = slog.Default()
	}
	return &Sessions{durable: durable, realtime: realtime, log: log}
}

func sessionPath(id string) string { return SessionCollection + "/" + id }

// Create persists a new session and mirrors it into the real-time tree
// under the durable-store-issued ID. Errors from the durable write are
// returned: the caller must know whether a session now exists.
func (s *Sessions) Create(ctx context.Context, session *Session) (string, error) {
	now := time.Now().UTC()
	if session.Status == "" {
		session.Status = StatusWaiting
	}
	if session.Context.Priority == "" {
		session.Context.Priority = PriorityMedium
	}
	session.CreatedAt = now
	session.UpdatedAt = now

	record := *session
	record.ID = ""
	doc, err := toDoc(&record)
	if err != nil {
		return "", err
	}
	id, err := s.durable.Add(ctx, SessionCollection, doc)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	session.ID = id

	if err := s.realtime.Set(ctx, sessionPath(id), realtimeSessionDoc(session)); err != nil {
		s.log.Warn("session mirror write failed", "session", id, "error", err)
	}
	return id, nil
}

// Get reads the canonical session record. Returns (nil, nil) when absent.
func (s *Sessions) Get(ctx context.Context, id string) (*Session, error) {
	doc, err := s.durable.Get(ctx, SessionCollection, id)
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	if doc == nil {
		return nil, nil
	}
	var session Session
	if err := fromDoc(doc, &session); err != nil {
		return nil, err
	}
	session.ID = id
	return &session, nil
}

// Update merges partial fields into the session, re-stamps updatedAt and
// mirrors the same fields into the real-time tree.
func (s *Sessions) Update(ctx context.Context, id string, fields store.Doc) error {
	if err := s.durable.Update(ctx, SessionCollection, id, fields); err != nil {
		return fmt.Errorf("update session %s: %w", id, err)
	}
	mirror := mirrorFields(fields)
	mirror["updatedAt"] = time.Now().UTC().UnixMilli()
	if err := s.realtime.Update(ctx, sessionPath(id), mirror); err != nil {
		s.log.Warn("session mirror update failed", "session", id, "error", err)
	}
	return nil
}

// Upsert creates the session when absent and merges when present. It is the
// reconciliation path for a session that reached one tier before the other.
func (s *Sessions) Upsert(ctx context.Context, id string, fields store.Doc) error {
	existing, err := s.durable.Get(ctx, SessionCollection, id)
	if err != nil {
		return fmt.Errorf("upsert session %s: %w", id, err)
	}
	if existing == nil {
		doc := make(store.Doc, len(fields))
		for k, v := range fields {
			doc[k] = v
		}
		if _, ok := doc["status"]; !ok {
			doc["status"] = StatusWaiting
		}
		if err := s.durable.Set(ctx, SessionCollection, id, doc); err != nil {
			return fmt.Errorf("upsert session %s: %w", id, err)
		}
	} else if err := s.durable.Update(ctx, SessionCollection, id, fields); err != nil {
		return fmt.Errorf("upsert session %s: %w", id, err)
	}

	mirror := mirrorFields(fields)
	mirror["updatedAt"] = time.Now().UTC().UnixMilli()
	if err := s.realtime.Update(ctx, sessionPath(id), mirror); err != nil {
		s.log.Warn("session mirror upsert failed", "session", id, "error", err)
	}
	return nil
}

// Archive derives the immutable analytics record from the session and marks
// it completed in both tiers. The session is logically frozen afterwards.
func (s *Sessions) Archive(ctx context.Context, id, closeReason string, messageCount int) (*Analytics, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("archive session %s: not found", id)
	}

	now := time.Now().UTC()
	record := &Analytics{
		SessionID:       id,
		UserID:          session.UserID,
		SpecialistID:    session.SpecialistID,
		Priority:        session.Priority(),
		CloseReason:     closeReason,
		StartedAt:       session.CreatedAt,
		EndedAt:         now,
		DurationSeconds: now.Sub(session.CreatedAt).Seconds(),
		MessageCount:    messageCount,
	}
	if !session.AssignedAt.IsZero() {
		record.WaitSeconds = session.AssignedAt.Sub(session.CreatedAt).Seconds()
	}

	doc, err := toDoc(record)
	if err != nil {
		return nil, err
	}
	recordID, err := s.durable.Add(ctx, AnalyticsCollection, doc)
	if err != nil {
		return nil, fmt.Errorf("archive session %s: %w", id, err)
	}
	record.ID = recordID

	fields := store.Doc{
		"status":       StatusCompleted,
		"specialistId": "",
		"metadata":     sessionCloseMetadata(session, closeReason),
	}
	if err := s.Update(ctx, id, fields); err != nil {
		return nil, err
	}
	return record, nil
}

// Subscribe delivers the mirrored session on every real-time change.
func (s *Sessions) Subscribe(ctx context.Context, id string, fn func(*Session)) (func(), error) {
	return s.realtime.Subscribe(ctx, sessionPath(id), func(v any) {
		if session := sessionFromRealtime(id, v); session != nil {
			fn(session)
		}
	})
}

func sessionCloseMetadata(session *Session, closeReason string) map[string]any {
	meta := session.Metadata
	meta.CloseReason = closeReason
	doc, err := toDoc(&meta)
	if err != nil {
		return map[string]any{"closeReason": closeReason}
	}
	return doc
}

// realtimeSessionDoc renders the session for the real-time tree: numeric
// epoch timestamps instead of store-native time values.
func realtimeSessionDoc(session *Session) map[string]any {
	doc := map[string]any{
		"userId":   session.UserID,
		"status":   session.Status,
		"priority": session.Priority(),
	}
	if session.SpecialistID != "" {
		doc["specialistId"] = session.SpecialistID
	}
	putMillis(doc, "createdAt", session.CreatedAt)
	putMillis(doc, "updatedAt", session.UpdatedAt)
	putMillis(doc, "assignedAt", session.AssignedAt)
	putMillis(doc, "lastMessageAt", session.LastMessageAt)
	if ui, err := toDoc(&session.UserInfo); err == nil {
		doc["userInfo"] = map[string]any(ui)
	}
	if md, err := toDoc(&session.Metadata); err == nil {
		doc["metadata"] = map[string]any(md)
	}
	return doc
}

func putMillis(doc map[string]any, key string, t time.Time) {
	if !t.IsZero() {
		doc[key] = t.UTC().UnixMilli()
	}
}

// mirrorFields converts a durable partial update into its real-time form.
func mirrorFields(fields store.Doc) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if t, ok := v.(time.Time); ok {
			out[k] = t.UTC().UnixMilli()
			continue
		}
		out[k] = v
	}
	return out
}

func sessionFromRealtime(id string, v any) *Session {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	session := &Session{
		ID:            id,
		UserID:        asString(m["userId"]),
		SpecialistID:  asString(m["specialistId"]),
		Status:        asString(m["status"]),
		CreatedAt:     asMillis(m["createdAt"]),
		UpdatedAt:     asMillis(m["updatedAt"]),
		AssignedAt:    asMillis(m["assignedAt"]),
		LastMessageAt: asMillis(m["lastMessageAt"]),
	}
	session.Context.Priority = asString(m["priority"])
	if ui, ok := m["userInfo"].(map[string]any); ok {
		_ = fromDoc(ui, &session.UserInfo)
	}
	if md, ok := m["metadata"].(map[string]any); ok {
		_ = fromDoc(md, &session.Metadata)
	}
	return session
}
