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

const (
	queuePath   = "chat-queue"
	waitingPath = queuePath + "/waitingUsers"

	// defaultWaitEstimate seeds averageWaitTime (seconds) until the first
	// real enqueue-to-assignment sample lands.
	defaultWaitEstimate = 120.0

	// waitDecay weights new wait samples into the moving average.
	waitDecay = 0.2
)

// Queue maintains the waiting list of unassigned sessions in the real-time
// tree plus derived metrics. The wait estimate is an exponentially decayed
// moving average of observed enqueue-to-dequeue deltas.
type Queue struct {
	realtime store.RealtimePresenceStore
	log      *slog.Logger

	mu      sync.Mutex
	avgWait float64
	samples int
}

// NewQueue creates the queue coordinator.
func NewQueue(realtime store.RealtimePresenceStore, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	return &Queue{realtime: realtime, log: log}
}

// Enqueue adds the session to the waiting list. Re-enqueueing an already
// waiting session only refreshes its entry, so a session appears at most
// once.
func (q *Queue) Enqueue(ctx context.Context, sessionID, priority string) error {
	if priority == "" {
		priority = PriorityMedium
	}
	entry := map[string]any{
		"enqueuedAt": time.Now().UTC().UnixMilli(),
		"priority":   priority,
	}
	if err := q.realtime.Set(ctx, waitingPath+"/"+sessionID, entry); err != nil {
		return fmt.Errorf("enqueue %s: %w", sessionID, err)
	}
	q.refreshMetrics(ctx)
	return nil
}

// Dequeue removes the session from the waiting list and folds its observed
// wait into the moving average. Dequeueing an absent session is a no-op.
func (q *Queue) Dequeue(ctx context.Context, sessionID string) error {
	v, err := q.realtime.Get(ctx, waitingPath+"/"+sessionID)
	if err != nil {
		return fmt.Errorf("dequeue %s: %w", sessionID, err)
	}
	if v == nil {
		return nil
	}
	if entry, ok := v.(map[string]any); ok {
		if enqueued := asMillis(entry["enqueuedAt"]); !enqueued.IsZero() {
			q.observeWait(time.Since(enqueued).Seconds())
		}
	}
	if err := q.realtime.Delete(ctx, waitingPath+"/"+sessionID); err != nil {
		return fmt.Errorf("dequeue %s: %w", sessionID, err)
	}
	q.refreshMetrics(ctx)
	return nil
}

// Length returns the number of waiting sessions.
func (q *Queue) Length(ctx context.Context) (int, error) {
	ids, err := q.Entries(ctx)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Entries returns the waiting session IDs, oldest first.
func (q *Queue) Entries(ctx context.Context) ([]string, error) {
	v, err := q.realtime.Get(ctx, waitingPath)
	if err != nil {
		return nil, fmt.Errorf("read queue: %w", err)
	}
	tree, ok := v.(map[string]any)
	if !ok {
		return nil, nil
	}
	type entry struct {
		id string
		at time.Time
	}
	entries := make([]entry, 0, len(tree))
	for id, raw := range tree {
		e := entry{id: id}
		if fields, ok := raw.(map[string]any); ok {
			e.at = asMillis(fields["enqueuedAt"])
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].at.Equal(entries[j].at) {
			return entries[i].id < entries[j].id
		}
		return entries[i].at.Before(entries[j].at)
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}
	return ids, nil
}

// EstimateWait returns the expected wait in seconds.
func (q *Queue) EstimateWait() float64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.samples == 0 {
		return defaultWaitEstimate
	}
	return q.avgWait
}

// Status returns the derived queue metrics.
func (q *Queue) Status(ctx context.Context) (QueueStatus, error) {
	length, err := q.Length(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{Length: length, AverageWaitTime: q.EstimateWait()}, nil
}

// Subscribe delivers the queue status on every waiting-list change.
func (q *Queue) Subscribe(ctx context.Context, fn func(QueueStatus)) (func(), error) {
	return q.realtime.Subscribe(ctx, waitingPath, func(v any) {
		length := 0
		if tree, ok := v.(map[string]any); ok {
			length = len(tree)
		}
		fn(QueueStatus{Length: length, AverageWaitTime: q.EstimateWait()})
	})
}

func (q *Queue) observeWait(seconds float64) {
	if seconds < 0 {
		return
	}
	q.mu.Lock()
	if q.samples == 0 {
		q.avgWait = seconds
	} else {
		q.avgWait = (1-waitDecay)*q.avgWait + waitDecay*seconds
	}
	q.samples++
	q.mu.Unlock()
}

// refreshMetrics mirrors the scalar metrics next to the waiting list so
// dashboards can read them without walking the tree.
func (q *Queue) refreshMetrics(ctx context.Context) {
	length, err := q.Length(ctx)
	if err != nil {
		q.log.Warn("queue metrics refresh failed", "error", err)
		return
	}
	fields := map[string]any{
		"queueLength":     length,
		"averageWaitTime": q.EstimateWait(),
	}
	if err := q.realtime.Update(ctx, queuePath, fields); err != nil {
		q.log.Warn("queue metrics write failed", "error", err)
	}
}
