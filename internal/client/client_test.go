package client

import (
	"context"
	"sync"
	"testing"

	"github.com/livedesk/livedesk/internal/chat"
	"github.com/livedesk/livedesk/internal/orchestrator"
	"github.com/livedesk/livedesk/internal/store"
)

type harness struct {
	orch      *orchestrator.Orchestrator
	sessionID string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	durable := store.NewMemoryDurable()
	realtime := store.NewMemoryRealtime()
	sessions := chat.NewSessions(durable, realtime, nil)
	router := chat.NewRouter(realtime, sessions, nil)
	queue := chat.NewQueue(realtime, nil)
	directory := chat.NewDirectory(durable, realtime, nil)
	assigner := chat.NewAssigner(directory, sessions, queue, nil)
	perf := chat.NewPerformance(directory, nil)

	orch := orchestrator.New(orchestrator.Deps{
		Sessions:    sessions,
		Router:      router,
		Queue:       queue,
		Directory:   directory,
		Assigner:    assigner,
		Performance: perf,
	})

	sessionID, err := orch.CreateSession(context.Background(),
		chat.UserInfo{Email: "u@x.y"}, chat.SessionContext{}, chat.SessionMetadata{})
	if err != nil {
		t.Fatalf("create session failed: %v", err)
	}
	return &harness{orch: orch, sessionID: sessionID}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) byKind(kind string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, ev := range r.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestClientReceivesMessages(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	c := New(h.orch, h.sessionID, nil)
	rec := &recorder{}
	c.OnEvent(rec.handle)

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	if _, err := c.Send(ctx, "hello", "u1", chat.SenderUser); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	batches := rec.byKind(EventMessages)
	if len(batches) == 0 {
		t.Fatal("no message events delivered")
	}
	var contents []string
	for _, ev := range batches {
		for _, m := range ev.Messages {
			contents = append(contents, m.Content)
		}
	}
	if len(contents) != 1 || contents[0] != "hello" {
		t.Errorf("delivered contents = %v", contents)
	}
}

func TestClientMessagesDeliveredOnce(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	c := New(h.orch, h.sessionID, nil)
	rec := &recorder{}
	c.OnEvent(rec.handle)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	c.Send(ctx, "one", "u1", chat.SenderUser)
	c.Send(ctx, "two", "u1", chat.SenderUser)

	counts := map[string]int{}
	for _, ev := range rec.byKind(EventMessages) {
		for _, m := range ev.Messages {
			counts[m.Content]++
		}
	}
	for content, n := range counts {
		if n != 1 {
			t.Errorf("message %q delivered %d times", content, n)
		}
	}
	if len(counts) != 2 {
		t.Errorf("delivered %d distinct messages, want 2", len(counts))
	}
}

func TestClientSessionEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	c := New(h.orch, h.sessionID, nil)
	rec := &recorder{}
	c.OnEvent(rec.handle)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	// The initial snapshot arrives on Start.
	initial := rec.byKind(EventSession)
	if len(initial) == 0 {
		t.Fatal("no initial session event")
	}
	if initial[0].Session.Status != chat.StatusWaiting {
		t.Errorf("initial status = %s", initial[0].Session.Status)
	}

	if _, err := h.orch.RegisterSpecialist(ctx, &chat.Specialist{
		Contact: "sp@x.y", Status: chat.SpecialistOnline,
	}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if _, err := h.orch.AssignSpecialist(ctx, h.sessionID); err != nil {
		t.Fatalf("assign failed: %v", err)
	}

	events := rec.byKind(EventSession)
	last := events[len(events)-1].Session
	if last.Status != chat.StatusActive {
		t.Errorf("final observed status = %s, want active", last.Status)
	}
}

func TestClientQueueEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	c := New(h.orch, h.sessionID, nil)
	rec := &recorder{}
	c.OnEvent(rec.handle)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop()

	// A second visitor joins the queue.
	h.orch.CreateSession(ctx, chat.UserInfo{Email: "v@x.y"}, chat.SessionContext{}, chat.SessionMetadata{})

	events := rec.byKind(EventQueue)
	if len(events) == 0 {
		t.Fatal("no queue events delivered")
	}
	last := events[len(events)-1].Queue
	if last.Length != 2 {
		t.Errorf("final queue length = %d, want 2", last.Length)
	}
}

func TestClientStartTwice(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	c := New(h.orch, h.sessionID, nil)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := c.Start(ctx); err == nil {
		t.Error("expected error starting twice")
	}
	c.Stop()

	// After Stop the client can start again.
	if err := c.Start(ctx); err != nil {
		t.Errorf("restart failed: %v", err)
	}
	c.Stop()
}

func TestClientStopSilences(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	c := New(h.orch, h.sessionID, nil)
	rec := &recorder{}
	c.OnEvent(rec.handle)
	c.Start(ctx)
	c.Stop()

	before := len(rec.byKind(EventMessages))
	h.orch.SendMessage(ctx, h.sessionID, "after stop", "u1", chat.SenderUser)
	after := len(rec.byKind(EventMessages))
	if after != before {
		t.Error("message event delivered after Stop")
	}
}

func TestClientRecent(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	c := New(h.orch, h.sessionID, nil)
	if _, err := c.Send(ctx, "logged", "u1", chat.SenderUser); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msgs, err := c.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "logged" {
		t.Errorf("recent = %+v", msgs)
	}
}
