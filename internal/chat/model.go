// Package chat implements the live-chat core: session records, message
// routing, the waiting queue, the specialist directory and the assignment
// engine. All state lives in the two injected storage tiers; the durable
// store is the source of truth and the real-time tree is its mirror.
package chat

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/livedesk/livedesk/internal/store"
)

// NewID returns a fresh random identifier for records that have no stable
// contact address to derive one from.
func NewID() string { return uuid.NewString() }

// Session status values.
const (
	StatusWaiting     = "waiting"
	StatusActive      = "active"
	StatusCompleted   = "completed"
	StatusTransferred = "transferred"
)

// Specialist status values.
const (
	SpecialistOnline  = "online"
	SpecialistBusy    = "busy"
	SpecialistOffline = "offline"
)

// Session priority values.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

// Message sender types.
const (
	SenderUser       = "user"
	SenderSpecialist = "specialist"
	SenderSystem     = "system"
)

// Message content types.
const (
	MessageText   = "text"
	MessageSystem = "system"
	MessageFile   = "file"
	MessageImage  = "image"
)

// Collection names in the durable store. The real-time tree uses the same
// names as path roots so both tiers share one identity per entity.
const (
	SessionCollection    = "chat-sessions"
	SpecialistCollection = "specialists"
	AnalyticsCollection  = "chat-analytics"
)

// UserInfo is the customer-provided contact block on a session.
type UserInfo struct {
	Name          string `json:"name,omitempty"`
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	InitialIntent string `json:"initialIntent,omitempty"`
}

// SessionContext carries what the bot layer learned before hand-off.
type SessionContext struct {
	Transcript []string       `json:"transcript,omitempty"`
	Settlement map[string]any `json:"settlement,omitempty"`
	Priority   string         `json:"priority,omitempty"`
}

// SessionMetadata holds origin and termination details.
type SessionMetadata struct {
	Source      string `json:"source,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	CloseReason string `json:"closeReason,omitempty"`
}

// Session is the canonical conversation record. SpecialistID is set exactly
// when Status is active or transferred.
type Session struct {
	ID            string          `json:"id,omitempty"`
	UserID        string          `json:"userId"`
	SpecialistID  string          `json:"specialistId,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"createdAt,omitzero"`
	UpdatedAt     time.Time       `json:"updatedAt,omitzero"`
	AssignedAt    time.Time       `json:"assignedAt,omitzero"`
	LastMessageAt time.Time       `json:"lastMessageAt,omitzero"`
	UserInfo      UserInfo        `json:"userInfo"`
	Context       SessionContext  `json:"context"`
	Metadata      SessionMetadata `json:"metadata"`
}

// Priority returns the session priority, defaulting to medium.
func (s *Session) Priority() string {
	if s.Context.Priority == "" {
		return PriorityMedium
	}
	return s.Context.Priority
}

// Specialist is a human agent profile. CurrentChats never exceeds
// MaxConcurrentChats; Status is busy exactly when at capacity.
type Specialist struct {
	ID                 string    `json:"id,omitempty"`
	Name               string    `json:"name,omitempty"`
	Contact            string    `json:"contact"`
	Status             string    `json:"status"`
	Skills             []string  `json:"skills,omitempty"`
	CurrentChats       []string  `json:"currentChats"`
	MaxConcurrentChats int       `json:"maxConcurrentChats"`
	ResponseTime       float64   `json:"responseTime,omitempty"`
	Rating             float64   `json:"rating,omitempty"`
	TotalChats         int       `json:"totalChats"`
	Languages          []string  `json:"languages,omitempty"`
	LastSeen           time.Time `json:"lastSeen,omitzero"`
}

// AtCapacity reports whether the specialist can take no further chat.
func (sp *Specialist) AtCapacity() bool {
	return len(sp.CurrentChats) >= sp.MaxConcurrentChats
}

// Message is one entry in a session's append-only message stream. The ID is
// the time-ordered key issued by the real-time tier on send.
type Message struct {
	ID         string         `json:"id,omitempty"`
	SessionID  string         `json:"sessionId"`
	SenderID   string         `json:"senderId"`
	SenderType string         `json:"senderType"`
	Content    string         `json:"content"`
	Type       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp,omitzero"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Analytics is the immutable record derived from a session at archival.
type Analytics struct {
	ID              string    `json:"id,omitempty"`
	SessionID       string    `json:"sessionId"`
	UserID          string    `json:"userId"`
	SpecialistID    string    `json:"specialistId,omitempty"`
	Priority        string    `json:"priority"`
	CloseReason     string    `json:"closeReason,omitempty"`
	StartedAt       time.Time `json:"startedAt,omitzero"`
	EndedAt         time.Time `json:"endedAt,omitzero"`
	DurationSeconds float64   `json:"durationSeconds"`
	WaitSeconds     float64   `json:"waitSeconds"`
	MessageCount    int       `json:"messageCount"`
}

// QueueStatus is the derived view of the waiting list.
type QueueStatus struct {
	Length          int     `json:"length"`
	AverageWaitTime float64 `json:"averageWaitTime"`
}

// toDoc converts a typed record into a schemaless durable-store document.
func toDoc(v any) (store.Doc, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var doc store.Doc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return doc, nil
}

// fromDoc converts a durable-store document back into a typed record.
func fromDoc(doc store.Doc, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// asMillis converts a real-time tree value (int64 from the in-memory tier,
// float64 after a JSON round trip) into a timestamp.
func asMillis(v any) time.Time {
	switch t := v.(type) {
	case int64:
		return time.UnixMilli(t)
	case float64:
		return time.UnixMilli(int64(t))
	case int:
		return time.UnixMilli(int64(t))
	}
	return time.Time{}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
