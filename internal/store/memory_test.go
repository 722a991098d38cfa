package store

import (
	"context"
	"testing"
	"time"
)

func TestMemoryDurableAddGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDurable()

	id, err := s.Add(ctx, "things", Doc{"name": "first"})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if id == "" {
		t.Fatal("Add returned empty id")
	}

	doc, err := s.Get(ctx, "things", id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc["name"] != "first" {
		t.Errorf("name = %v, want first", doc["name"])
	}
	if doc["createdAt"] == nil || doc["updatedAt"] == nil {
		t.Error("expected server timestamps to be stamped")
	}
}

func TestMemoryDurableGetAbsent(t *testing.T) {
	s := NewMemoryDurable()
	doc, err := s.Get(context.Background(), "things", "nope")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if doc != nil {
		t.Errorf("expected nil for absent document, got %v", doc)
	}
}

func TestMemoryDurableUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDurable()

	id, _ := s.Add(ctx, "things", Doc{"name": "first", "count": 1})
	if err := s.Update(ctx, "things", id, Doc{"count": 2}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	doc, _ := s.Get(ctx, "things", id)
	if doc["count"] != 2 {
		t.Errorf("count = %v, want 2", doc["count"])
	}
	if doc["name"] != "first" {
		t.Errorf("merge dropped untouched field: name = %v", doc["name"])
	}

	if err := s.Update(ctx, "things", "missing", Doc{"count": 3}); err == nil {
		t.Error("expected error updating missing document")
	}
}

func TestMemoryDurableQuery(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDurable()

	a, _ := s.Add(ctx, "agents", Doc{"status": "online", "load": 1})
	s.Add(ctx, "agents", Doc{"status": "offline", "load": 0})
	s.Add(ctx, "agents", Doc{"status": "online", "load": 5})

	online, err := s.Query(ctx, "agents", Filter{Field: "status", Op: OpEq, Value: "online"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(online) != 2 {
		t.Fatalf("got %d online agents, want 2", len(online))
	}
	for _, doc := range online {
		if doc["id"] == nil || doc["id"] == "" {
			t.Error("query result missing injected id")
		}
	}

	light, err := s.Query(ctx, "agents",
		Filter{Field: "status", Op: OpEq, Value: "online"},
		Filter{Field: "load", Op: OpLt, Value: 3})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(light) != 1 {
		t.Fatalf("got %d light agents, want 1", len(light))
	}
	if light[0]["id"] != a {
		t.Errorf("id = %v, want %s", light[0]["id"], a)
	}
}

func TestMemoryDurableDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDurable()

	id, _ := s.Add(ctx, "things", Doc{"name": "gone"})
	if err := s.Delete(ctx, "things", id); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	doc, _ := s.Get(ctx, "things", id)
	if doc != nil {
		t.Error("document still present after delete")
	}
	// Deleting again is a no-op.
	if err := s.Delete(ctx, "things", id); err != nil {
		t.Errorf("second delete failed: %v", err)
	}
}

func TestMemoryRealtimeSetGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRealtime()

	if err := m.Set(ctx, "a/b/c", map[string]any{"x": 1}); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	v, err := m.Get(ctx, "a/b/c")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	fields, ok := v.(map[string]any)
	if !ok || fields["x"] != 1 {
		t.Errorf("value at a/b/c = %v", v)
	}

	// Reading an ancestor returns the subtree.
	v, _ = m.Get(ctx, "a")
	tree, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("value at a = %v, want subtree", v)
	}
	if _, ok := tree["b"]; !ok {
		t.Error("subtree read missing child b")
	}

	v, _ = m.Get(ctx, "missing/path")
	if v != nil {
		t.Errorf("absent path = %v, want nil", v)
	}
}

func TestMemoryRealtimeUpdateMerges(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRealtime()

	m.Set(ctx, "node", map[string]any{"a": 1, "b": 2})
	m.Update(ctx, "node", map[string]any{"b": 3, "c": 4})

	v, _ := m.Get(ctx, "node")
	fields := v.(map[string]any)
	if fields["a"] != 1 || fields["b"] != 3 || fields["c"] != 4 {
		t.Errorf("merged node = %v", fields)
	}
}

func TestMemoryRealtimeDeleteSubtree(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRealtime()

	m.Set(ctx, "root/child/leaf", "v")
	m.Delete(ctx, "root/child")

	v, _ := m.Get(ctx, "root/child/leaf")
	if v != nil {
		t.Error("leaf survived subtree delete")
	}
}

func TestMemoryRealtimePushOrdering(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRealtime()

	var keys []string
	for i := 0; i < 5; i++ {
		k, err := m.Push(ctx, "stream", map[string]any{"seq": i})
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		keys = append(keys, k)
	}
	for i := 1; i < len(keys); i++ {
		if !(keys[i-1] < keys[i]) {
			t.Errorf("push keys out of order: %s >= %s", keys[i-1], keys[i])
		}
	}
}

func TestMemoryRealtimeSubscribe(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryRealtime()
	m.Set(ctx, "watch/me", map[string]any{"v": 1})

	var got []any
	cancel, err := m.Subscribe(ctx, "watch/me", func(v any) {
		got = append(got, v)
	})
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer cancel()

	// Initial snapshot fired synchronously.
	if len(got) != 1 {
		t.Fatalf("got %d initial callbacks, want 1", len(got))
	}

	m.Update(ctx, "watch/me", map[string]any{"v": 2})
	if len(got) != 2 {
		t.Fatalf("got %d callbacks after update, want 2", len(got))
	}
	fields := got[1].(map[string]any)
	if fields["v"] != 2 {
		t.Errorf("subscriber saw v = %v, want 2", fields["v"])
	}

	// A change below the path is visible.
	m.Set(ctx, "watch/me/deep", "x")
	if len(got) != 3 {
		t.Errorf("descendant change not delivered, callbacks = %d", len(got))
	}

	// Unrelated paths stay silent.
	m.Set(ctx, "elsewhere", "y")
	if len(got) != 3 {
		t.Errorf("unrelated change delivered, callbacks = %d", len(got))
	}

	cancel()
	m.Update(ctx, "watch/me", map[string]any{"v": 3})
	if len(got) != 3 {
		t.Errorf("callback fired after cancel, callbacks = %d", len(got))
	}
}

func TestPushKeyMonotonic(t *testing.T) {
	now := time.Now()
	a := pushKey(now)
	b := pushKey(now)
	if !(a < b) {
		t.Errorf("same-millisecond keys out of order: %s >= %s", a, b)
	}
}

func TestPathsRelated(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"a/b", "a/b", true},
		{"a/b/c", "a/b", true},
		{"a/b", "a/b/c", true},
		{"a/bc", "a/b", false},
		{"x", "y", false},
	}
	for _, c := range cases {
		if got := pathsRelated(c.a, c.b); got != c.want {
			t.Errorf("pathsRelated(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}
