package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var pushSeq atomic.Uint64

// pushKey generates a time-ordered child key: lexicographic order follows
// insertion order, matching the append-only message ID contract.
func pushKey(now time.Time) string {
	return fmt.Sprintf("%013d-%06d-%s", now.UnixMilli(), pushSeq.Add(1)%1_000_000, uuid.NewString()[:8])
}

func splitPath(path string) []string {
	var segs []string
	for _, s := range strings.Split(path, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// pathsRelated reports whether a change at one path is visible from the
// other (equal, ancestor, or descendant).
func pathsRelated(a, b string) bool {
	return a == b || strings.HasPrefix(a, b+"/") || strings.HasPrefix(b, a+"/")
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, c := range t {
			out[k] = deepCopy(c)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, c := range t {
			out[i] = deepCopy(c)
		}
		return out
	default:
		return v
	}
}

// MemoryDurable is an in-memory DurableStore. It backs component tests and
// lets the whole engine run without external services.
type MemoryDurable struct {
	mu          sync.RWMutex
	collections map[string]map[string]Doc
}

// NewMemoryDurable creates an empty in-memory durable store.
func NewMemoryDurable() *MemoryDurable {
	return &MemoryDurable{collections: make(map[string]map[string]Doc)}
}

func (m *MemoryDurable) collection(name string) map[string]Doc {
	c, ok := m.collections[name]
	if !ok {
		c = make(map[string]Doc)
		m.collections[name] = c
	}
	return c
}

func stamp() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// Add stores a new document under a generated ID.
func (m *MemoryDurable) Add(_ context.Context, collection string, doc Doc) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	stored := deepCopy(map[string]any(doc)).(map[string]any)
	if _, ok := stored["createdAt"]; !ok {
		stored["createdAt"] = stamp()
	}
	stored["updatedAt"] = stamp()
	m.collection(collection)[id] = stored
	return id, nil
}

// Get returns the document or (nil, nil) when absent.
func (m *MemoryDurable) Get(_ context.Context, collection, id string) (Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return deepCopy(map[string]any(doc)).(map[string]any), nil
}

// Set writes the document under an explicit ID, replacing any prior value.
func (m *MemoryDurable) Set(_ context.Context, collection, id string, doc Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := deepCopy(map[string]any(doc)).(map[string]any)
	if _, ok := stored["createdAt"]; !ok {
		stored["createdAt"] = stamp()
	}
	stored["updatedAt"] = stamp()
	m.collection(collection)[id] = stored
	return nil
}

// Update merges fields into an existing document.
func (m *MemoryDurable) Update(_ context.Context, collection, id string, fields Doc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.collections[collection][id]
	if !ok {
		return fmt.Errorf("update %s/%s: not found", collection, id)
	}
	for k, v := range fields {
		doc[k] = deepCopy(v)
	}
	doc["updatedAt"] = stamp()
	return nil
}

// Query returns documents matching every filter.
func (m *MemoryDurable) Query(_ context.Context, collection string, filters ...Filter) ([]Doc, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Doc
	for id, doc := range m.collections[collection] {
		if matchesFilters(doc, filters) {
			copied := deepCopy(map[string]any(doc)).(map[string]any)
			copied["id"] = id
			out = append(out, copied)
		}
	}
	return out, nil
}

// Delete removes a document. Deleting a missing document is a no-op.
func (m *MemoryDurable) Delete(_ context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.collections[collection], id)
	return nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryDurable) Close() error { return nil }

func matchesFilters(doc Doc, filters []Filter) bool {
	for _, f := range filters {
		cmp, ok := compareValues(doc[f.Field], f.Value)
		if !ok {
			return false
		}
		switch f.Op {
		case OpEq:
			if cmp != 0 {
				return false
			}
		case OpLt:
			if cmp >= 0 {
				return false
			}
		case OpGt:
			if cmp <= 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func compareValues(a, b any) (int, bool) {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		if !bok {
			return 0, false
		}
		switch {
		case af < bf:
			return -1, true
		case af > bf:
			return 1, true
		}
		return 0, true
	}
	switch at := a.(type) {
	case string:
		bt, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(at, bt), true
	case bool:
		bt, ok := b.(bool)
		if !ok {
			return 0, false
		}
		if at == bt {
			return 0, true
		}
		return 1, true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}

type memSub struct {
	path string
	fn   func(any)
}

// MemoryRealtime is an in-memory RealtimePresenceStore: a nested map tree
// with synchronous change notifications.
type MemoryRealtime struct {
	mu      sync.RWMutex
	root    map[string]any
	subs    map[uint64]*memSub
	nextSub uint64
}

// NewMemoryRealtime creates an empty in-memory real-time tree.
func NewMemoryRealtime() *MemoryRealtime {
	return &MemoryRealtime{
		root: make(map[string]any),
		subs: make(map[uint64]*memSub),
	}
}

func (m *MemoryRealtime) node(segs []string, create bool) (map[string]any, bool) {
	cur := m.root
	for _, s := range segs {
		next, ok := cur[s].(map[string]any)
		if !ok {
			if !create {
				return nil, false
			}
			next = make(map[string]any)
			cur[s] = next
		}
		cur = next
	}
	return cur, true
}

func (m *MemoryRealtime) valueAt(path string) (any, bool) {
	segs := splitPath(path)
	if len(segs) == 0 {
		return deepCopy(m.root), true
	}
	parent, ok := m.node(segs[:len(segs)-1], false)
	if !ok {
		return nil, false
	}
	v, ok := parent[segs[len(segs)-1]]
	if !ok {
		return nil, false
	}
	return deepCopy(v), true
}

// Get returns the value at path, or nil when absent.
func (m *MemoryRealtime) Get(_ context.Context, path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, _ := m.valueAt(path)
	return v, nil
}

// Set replaces the value at path.
func (m *MemoryRealtime) Set(_ context.Context, path string, value any) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("set: empty path")
	}
	m.mu.Lock()
	parent, _ := m.node(segs[:len(segs)-1], true)
	parent[segs[len(segs)-1]] = deepCopy(normalize(value))
	m.mu.Unlock()

	m.notify(path)
	return nil
}

// Update merges fields into the map at path, creating it when absent.
func (m *MemoryRealtime) Update(_ context.Context, path string, fields map[string]any) error {
	segs := splitPath(path)
	m.mu.Lock()
	target, _ := m.node(segs, true)
	for k, v := range fields {
		target[k] = deepCopy(normalize(v))
	}
	m.mu.Unlock()

	m.notify(path)
	return nil
}

// Delete removes the value at path and everything below it.
func (m *MemoryRealtime) Delete(_ context.Context, path string) error {
	segs := splitPath(path)
	if len(segs) == 0 {
		return fmt.Errorf("delete: empty path")
	}
	m.mu.Lock()
	parent, ok := m.node(segs[:len(segs)-1], false)
	if ok {
		delete(parent, segs[len(segs)-1])
	}
	m.mu.Unlock()

	m.notify(path)
	return nil
}

// Push stores value under a generated time-ordered child key.
func (m *MemoryRealtime) Push(ctx context.Context, path string, value any) (string, error) {
	key := pushKey(time.Now())
	if err := m.Set(ctx, path+"/"+key, value); err != nil {
		return "", err
	}
	return key, nil
}

// Subscribe registers fn for changes at or below path. The callback fires
// once with the current value before Subscribe returns.
func (m *MemoryRealtime) Subscribe(_ context.Context, path string, fn func(any)) (func(), error) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = &memSub{path: path, fn: fn}
	v, _ := m.valueAt(path)
	m.mu.Unlock()

	fn(v)

	cancel := func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
	return cancel, nil
}

// Close is a no-op for the in-memory store.
func (m *MemoryRealtime) Close() error { return nil }

func (m *MemoryRealtime) notify(changed string) {
	type pending struct {
		fn    func(any)
		value any
	}
	m.mu.RLock()
	var fire []pending
	var ids []uint64
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		sub := m.subs[id]
		if pathsRelated(changed, sub.path) {
			v, _ := m.valueAt(sub.path)
			fire = append(fire, pending{fn: sub.fn, value: v})
		}
	}
	m.mu.RUnlock()

	for _, p := range fire {
		p.fn(p.value)
	}
}

// normalize converts structured values into the plain map/slice/scalar forms
// the tree stores, so reads behave the same across backends.
func normalize(v any) any {
	switch t := v.(type) {
	case Doc:
		return map[string]any(t)
	default:
		return v
	}
}
