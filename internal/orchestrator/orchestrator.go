// Package orchestrator composes the chat core into the public lifecycle
// operations: create, enqueue, assign, message, close, archive. This is the
// surface the (out-of-scope) UI and bot layers call.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/livedesk/livedesk/internal/analytics"
	"github.com/livedesk/livedesk/internal/chat"
	"github.com/livedesk/livedesk/internal/notify"
	"github.com/livedesk/livedesk/internal/store"
)

const systemSenderID = "system"

// Deps are the collaborators the orchestrator is composed from. Analytics
// and Notifier default to no-ops when nil.
type Deps struct {
	Sessions    *chat.Sessions
	Router      *chat.Router
	Queue       *chat.Queue
	Directory   *chat.Directory
	Assigner    *chat.Assigner
	Performance *chat.Performance
	Analytics   analytics.Publisher
	Notifier    notify.Notifier
	Log         *slog.Logger
}

// Orchestrator is the session lifecycle façade. It is constructed once at
// the composition root and passed by reference; it holds no global state.
type Orchestrator struct {
	sessions  *chat.Sessions
	router    *chat.Router
	queue     *chat.Queue
	directory *chat.Directory
	assigner  *chat.Assigner
	perf      *chat.Performance
	analytics analytics.Publisher
	notifier  notify.Notifier
	log       *slog.Logger
}

// New wires the orchestrator from its dependencies.
func New(deps Deps) *Orchestrator {
	if deps.Analytics == nil {
		deps.Analytics = analytics.Nop{}
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Orchestrator{
		sessions:  deps.Sessions,
		router:    deps.Router,
		queue:     deps.Queue,
		directory: deps.Directory,
		assigner:  deps.Assigner,
		perf:      deps.Performance,
		analytics: deps.Analytics,
		notifier:  deps.Notifier,
		log:       deps.Log,
	}
}

// CreateSession opens a new waiting session and enqueues it. The create
// error is returned as-is: the caller must know whether a session exists.
func (o *Orchestrator) CreateSession(ctx context.Context, userInfo chat.UserInfo, sctx chat.SessionContext, meta chat.SessionMetadata) (string, error) {
	session := &chat.Session{
		UserID:   newUserID(userInfo),
		Status:   chat.StatusWaiting,
		UserInfo: userInfo,
		Context:  sctx,
		Metadata: meta,
	}
	id, err := o.sessions.Create(ctx, session)
	if err != nil {
		return "", err
	}

	if err := o.queue.Enqueue(ctx, id, session.Priority()); err != nil {
		o.log.Warn("enqueue failed", "session", id, "error", err)
	}
	length, err := o.queue.Length(ctx)
	if err != nil {
		length = 0
	}
	o.notifier.SessionQueued(ctx, id, length)
	o.publish(ctx, analytics.Event{Type: analytics.EventSessionCreated, SessionID: id})

	o.log.Info("session created", "session", id, "user", session.UserID, "priority", session.Priority())
	return id, nil
}

// GetSession returns the canonical session, or nil when unknown.
func (o *Orchestrator) GetSession(ctx context.Context, sessionID string) (*chat.Session, error) {
	return o.sessions.Get(ctx, sessionID)
}

// AssignSpecialist matches the session to a specialist. Returns "" when no
// specialist is eligible; the session stays queued.
func (o *Orchestrator) AssignSpecialist(ctx context.Context, sessionID string) (string, error) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", fmt.Errorf("assign: session %s not found", sessionID)
	}
	switch session.Status {
	case chat.StatusCompleted:
		return "", fmt.Errorf("assign: session %s already closed", sessionID)
	case chat.StatusActive:
		return session.SpecialistID, nil
	}

	specialistID, err := o.assigner.Assign(ctx, sessionID, session.Priority())
	if err != nil {
		return "", err
	}
	if specialistID == "" {
		return "", nil
	}

	o.systemMessage(ctx, sessionID, "You are now connected to a specialist.")
	o.notifier.SpecialistAssigned(ctx, sessionID, specialistID)
	o.publish(ctx, analytics.Event{
		Type:         analytics.EventSessionAssigned,
		SessionID:    sessionID,
		SpecialistID: specialistID,
	})
	return specialistID, nil
}

// SendMessage appends a message to the session's stream. Archived sessions
// reject new messages.
func (o *Orchestrator) SendMessage(ctx context.Context, sessionID, content, senderID, senderType string) (string, error) {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return "", err
	}
	if session == nil {
		return "", fmt.Errorf("send: session %s not found", sessionID)
	}
	if session.Status == chat.StatusCompleted {
		return "", fmt.Errorf("send: session %s is closed", sessionID)
	}
	return o.router.Send(ctx, sessionID, chat.Message{
		SenderID:   senderID,
		SenderType: senderType,
		Content:    content,
	})
}

// SubscribeMessages delivers new messages for the session.
func (o *Orchestrator) SubscribeMessages(ctx context.Context, sessionID string, fn func([]chat.Message)) (func(), error) {
	return o.router.Subscribe(ctx, sessionID, fn)
}

// SubscribeSession delivers the mirrored session on every change.
func (o *Orchestrator) SubscribeSession(ctx context.Context, sessionID string, fn func(*chat.Session)) (func(), error) {
	return o.sessions.Subscribe(ctx, sessionID, fn)
}

// RecentMessages returns the bounded tail of the session's stream.
func (o *Orchestrator) RecentMessages(ctx context.Context, sessionID string, limit int) ([]chat.Message, error) {
	return o.router.Recent(ctx, sessionID, limit)
}

// EndSession closes the session: final system message, specialist detach,
// performance recompute, archive, analytics. Closing an already completed
// session is a no-op.
func (o *Orchestrator) EndSession(ctx context.Context, sessionID, reason string) error {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("close: session %s not found", sessionID)
	}
	if session.Status == chat.StatusCompleted {
		return nil
	}

	o.systemMessage(ctx, sessionID, "This chat has ended. Thank you for contacting us.")

	if session.Status == chat.StatusWaiting || session.Status == chat.StatusTransferred {
		if err := o.queue.Dequeue(ctx, sessionID); err != nil {
			o.log.Warn("dequeue on close failed", "session", sessionID, "error", err)
		}
	}

	messages, err := o.router.Recent(ctx, sessionID, chat.DefaultMessageWindow)
	if err != nil {
		o.log.Warn("message readback on close failed", "session", sessionID, "error", err)
	}

	if session.SpecialistID != "" {
		if err := o.assigner.Detach(ctx, session.SpecialistID, sessionID); err != nil {
			o.log.Warn("specialist detach failed", "session", sessionID, "specialist", session.SpecialistID, "error", err)
		}
		o.perf.RecordClosedChat(ctx, session.SpecialistID, firstResponseMillis(session, messages), 0)
	}

	record, err := o.sessions.Archive(ctx, sessionID, reason, len(messages))
	if err != nil {
		return err
	}
	o.publish(ctx, analytics.Event{
		Type:         analytics.EventSessionArchived,
		SessionID:    sessionID,
		SpecialistID: session.SpecialistID,
		Record:       record,
	})
	o.notifier.SessionClosed(ctx, sessionID, reason)

	o.log.Info("session closed", "session", sessionID, "reason", reason)
	return nil
}

// RemoveSpecialist detaches the session's specialist and returns the
// session to the queue as waiting.
func (o *Orchestrator) RemoveSpecialist(ctx context.Context, sessionID string) error {
	return o.detachAndRequeue(ctx, sessionID, chat.StatusWaiting, true)
}

// TransferSession hands the session back for re-assignment. The session is
// marked transferred and keeps its previous specialist reference until a
// new handoff replaces it.
func (o *Orchestrator) TransferSession(ctx context.Context, sessionID string) error {
	return o.detachAndRequeue(ctx, sessionID, chat.StatusTransferred, false)
}

func (o *Orchestrator) detachAndRequeue(ctx context.Context, sessionID, status string, clearSpecialist bool) error {
	session, err := o.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session == nil {
		return fmt.Errorf("requeue: session %s not found", sessionID)
	}
	if session.Status != chat.StatusActive && session.Status != chat.StatusTransferred {
		return fmt.Errorf("requeue: session %s is %s", sessionID, session.Status)
	}

	if session.SpecialistID != "" {
		if err := o.assigner.Detach(ctx, session.SpecialistID, sessionID); err != nil {
			o.log.Warn("specialist detach failed", "session", sessionID, "specialist", session.SpecialistID, "error", err)
		}
	}

	fields := store.Doc{"status": status}
	if clearSpecialist {
		fields["specialistId"] = ""
	}
	if err := o.sessions.Update(ctx, sessionID, fields); err != nil {
		return err
	}
	if err := o.queue.Enqueue(ctx, sessionID, session.Priority()); err != nil {
		o.log.Warn("re-enqueue failed", "session", sessionID, "error", err)
	}
	o.systemMessage(ctx, sessionID, "We are connecting you to another specialist.")
	return nil
}

// QueueStatus returns the derived waiting-list metrics.
func (o *Orchestrator) QueueStatus(ctx context.Context) (chat.QueueStatus, error) {
	return o.queue.Status(ctx)
}

// SubscribeQueue delivers queue metrics on every waiting-list change.
func (o *Orchestrator) SubscribeQueue(ctx context.Context, fn func(chat.QueueStatus)) (func(), error) {
	return o.queue.Subscribe(ctx, fn)
}

// RegisterSpecialist upserts a specialist profile.
func (o *Orchestrator) RegisterSpecialist(ctx context.Context, profile *chat.Specialist) (string, error) {
	return o.directory.Upsert(ctx, profile)
}

// UpdateSpecialistStatus fans a presence change out to both tiers.
func (o *Orchestrator) UpdateSpecialistStatus(ctx context.Context, specialistID, status string) error {
	return o.directory.UpdateStatus(ctx, specialistID, status)
}

// Specialists lists every specialist profile.
func (o *Orchestrator) Specialists(ctx context.Context) ([]*chat.Specialist, error) {
	return o.directory.ListAll(ctx)
}

func (o *Orchestrator) systemMessage(ctx context.Context, sessionID, content string) {
	_, err := o.router.Send(ctx, sessionID, chat.Message{
		SenderID:   systemSenderID,
		SenderType: chat.SenderSystem,
		Type:       chat.MessageSystem,
		Content:    content,
	})
	if err != nil {
		o.log.Warn("system message failed", "session", sessionID, "error", err)
	}
}

func (o *Orchestrator) publish(ctx context.Context, ev analytics.Event) {
	ev.At = time.Now().UTC()
	if err := o.analytics.Publish(ctx, ev); err != nil {
		o.log.Warn("analytics publish failed", "event", ev.Type, "session", ev.SessionID, "error", err)
	}
}

// firstResponseMillis measures assignment-to-first-specialist-reply.
func firstResponseMillis(session *chat.Session, messages []chat.Message) float64 {
	if session.AssignedAt.IsZero() {
		return 0
	}
	for _, m := range messages {
		if m.SenderType != chat.SenderSpecialist {
			continue
		}
		if d := m.Timestamp.Sub(session.AssignedAt); d > 0 {
			return float64(d.Milliseconds())
		}
	}
	return 0
}

func newUserID(userInfo chat.UserInfo) string {
	if userInfo.Email != "" {
		return chat.ContactID(userInfo.Email)
	}
	return "visitor-" + chat.NewID()
}
