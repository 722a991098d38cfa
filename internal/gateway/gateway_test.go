package gateway

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/livedesk/livedesk/internal/chat"
	"github.com/livedesk/livedesk/internal/orchestrator"
	"github.com/livedesk/livedesk/internal/store"
)

func newTestServer(t *testing.T) *httptest.Server {
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
	ts := httptest.NewServer(New(orch, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return resp, decodeResponse(t, resp)
}

func getJSON(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	return resp, decodeResponse(t, resp)
}

func decodeResponse(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createSession(t *testing.T, ts *httptest.Server) string {
	t.Helper()
	resp, body := postJSON(t, ts.URL+"/api/sessions", map[string]any{
		"userInfo": map[string]any{"name": "Ann", "email": "ann@example.com"},
		"metadata": map[string]any{"source": "web"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create session status = %d, body = %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatalf("create session returned no id: %v", body)
	}
	return id
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := getJSON(t, ts.URL+"/api/health")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("health = %d %v", resp.StatusCode, body)
	}
}

func TestCreateAndGetSession(t *testing.T) {
	ts := newTestServer(t)
	id := createSession(t, ts)

	resp, body := getJSON(t, ts.URL+"/api/sessions/"+id)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get session status = %d", resp.StatusCode)
	}
	if body["status"] != chat.StatusWaiting {
		t.Errorf("session status = %v, want waiting", body["status"])
	}
	if body["userId"] != "ann-example-com" {
		t.Errorf("userId = %v", body["userId"])
	}
}

func TestGetSessionNotFound(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := getJSON(t, ts.URL+"/api/sessions/nope")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestAssignEndpoint(t *testing.T) {
	ts := newTestServer(t)

	resp, body := postJSON(t, ts.URL+"/api/specialists", map[string]any{
		"contact":            "sp@example.com",
		"status":             chat.SpecialistOnline,
		"maxConcurrentChats": 2,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register specialist status = %d, body = %v", resp.StatusCode, body)
	}
	spID := body["id"].(string)

	sessionID := createSession(t, ts)
	resp, body = postJSON(t, ts.URL+"/api/sessions/"+sessionID+"/assign", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign status = %d, body = %v", resp.StatusCode, body)
	}
	if body["assigned"] != true || body["specialistId"] != spID {
		t.Errorf("assign body = %v", body)
	}
}

func TestAssignWithEmptyPool(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	resp, body := postJSON(t, ts.URL+"/api/sessions/"+sessionID+"/assign", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assign status = %d", resp.StatusCode)
	}
	if body["assigned"] != false {
		t.Errorf("assign body = %v, want assigned=false", body)
	}
}

func TestMessagesEndpoints(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	resp, body := postJSON(t, ts.URL+"/api/sessions/"+sessionID+"/messages", map[string]any{
		"content":  "hello there",
		"senderId": "ann-example-com",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("send status = %d, body = %v", resp.StatusCode, body)
	}
	if body["messageId"] == "" {
		t.Error("send returned no message id")
	}

	resp, body = getJSON(t, ts.URL+"/api/sessions/"+sessionID+"/messages?limit=10")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("recent status = %d", resp.StatusCode)
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages = %v", body["messages"])
	}
	first := msgs[0].(map[string]any)
	if first["content"] != "hello there" {
		t.Errorf("message content = %v", first["content"])
	}
	// The sender type defaults to user when omitted.
	if first["senderType"] != chat.SenderUser {
		t.Errorf("senderType = %v, want user", first["senderType"])
	}
}

func TestSendMessageValidation(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	resp, _ := postJSON(t, ts.URL+"/api/sessions/"+sessionID+"/messages", map[string]any{
		"content": "   ",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty content status = %d, want 400", resp.StatusCode)
	}

	badLimit, _ := getJSON(t, ts.URL+"/api/sessions/"+sessionID+"/messages?limit=abc")
	if badLimit.StatusCode != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", badLimit.StatusCode)
	}
}

func TestCloseEndpoint(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	resp, body := postJSON(t, ts.URL+"/api/sessions/"+sessionID+"/close", map[string]any{})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close status = %d, body = %v", resp.StatusCode, body)
	}

	// Messaging a closed session maps to 409.
	resp, _ = postJSON(t, ts.URL+"/api/sessions/"+sessionID+"/messages", map[string]any{
		"content": "too late",
	})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("send after close status = %d, want 409", resp.StatusCode)
	}

	// The default close reason lands on the record.
	_, session := getJSON(t, ts.URL+"/api/sessions/"+sessionID)
	meta, _ := session["metadata"].(map[string]any)
	if meta["closeReason"] != "user_ended" {
		t.Errorf("closeReason = %v, want user_ended", meta["closeReason"])
	}
}

func TestTransferEndpointRejectsWaiting(t *testing.T) {
	ts := newTestServer(t)
	sessionID := createSession(t, ts)

	resp, _ := postJSON(t, ts.URL+"/api/sessions/"+sessionID+"/transfer", map[string]any{})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("transfer of waiting session status = %d, want 500", resp.StatusCode)
	}
}

func TestQueueEndpoint(t *testing.T) {
	ts := newTestServer(t)
	createSession(t, ts)
	createSession(t, ts)

	resp, body := getJSON(t, ts.URL+"/api/queue")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("queue status = %d", resp.StatusCode)
	}
	if body["length"] != float64(2) {
		t.Errorf("queue length = %v, want 2", body["length"])
	}
	if body["averageWaitTime"] == nil {
		t.Error("averageWaitTime missing")
	}
}

func TestSpecialistStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	_, body := postJSON(t, ts.URL+"/api/specialists", map[string]any{
		"contact": "sp@example.com",
	})
	spID := body["id"].(string)

	resp, _ := postJSON(t, ts.URL+fmt.Sprintf("/api/specialists/%s/status", spID), map[string]any{
		"status": chat.SpecialistOnline,
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d", resp.StatusCode)
	}

	resp, _ = postJSON(t, ts.URL+fmt.Sprintf("/api/specialists/%s/status", spID), map[string]any{
		"status": "vacationing",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad status code = %d, want 400", resp.StatusCode)
	}

	_, listing := getJSON(t, ts.URL+"/api/specialists")
	specialists, ok := listing["specialists"].([]any)
	if !ok || len(specialists) != 1 {
		t.Fatalf("specialists = %v", listing["specialists"])
	}
	sp := specialists[0].(map[string]any)
	if sp["status"] != chat.SpecialistOnline {
		t.Errorf("listed status = %v, want online", sp["status"])
	}
}
