package chat

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/livedesk/livedesk/internal/store"
)

// Assigner binds waiting sessions to eligible specialists. The capacity
// read-modify-write is serialized per specialist, so two racing assignments
// cannot both observe the same free slot.
type Assigner struct {
	directory *Directory
	sessions  *Sessions
	queue     *Queue
	log       *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewAssigner creates the assignment engine.
func NewAssigner(directory *Directory, sessions *Sessions, queue *Queue, log *slog.Logger) *Assigner {
	if log == nil {
		log = slog.Default()
	}
	return &Assigner{
		directory: directory,
		sessions:  sessions,
		queue:     queue,
		log:       log,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (a *Assigner) specialistLock(id string) *sync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.locks[id]
	if !ok {
		l = &sync.Mutex{}
		a.locks[id] = l
	}
	return l
}

// Assign selects a specialist for the session and performs the handoff.
// Returns "" (and no error) when no specialist is eligible: the session
// stays queued. The priority argument is carried for ranking but does not
// currently influence the order; whether it should is an open product
// question.
func (a *Assigner) Assign(ctx context.Context, sessionID, priority string) (string, error) {
	_ = priority

	candidates, err := a.directory.Eligible(ctx)
	if err != nil {
		return "", err
	}
	if len(candidates) == 0 {
		return "", nil
	}
	rankCandidates(candidates)

	for _, candidate := range candidates {
		id, ok, err := a.tryHandoff(ctx, sessionID, candidate.ID)
		if err != nil {
			return "", err
		}
		if ok {
			if err := a.queue.Dequeue(ctx, sessionID); err != nil {
				a.log.Warn("dequeue after assignment failed", "session", sessionID, "error", err)
			}
			a.log.Info("session assigned", "session", sessionID, "specialist", id)
			return id, nil
		}
	}
	return "", nil
}

// tryHandoff re-checks eligibility under the specialist's lock and, if the
// slot is still free, writes the session and specialist updates. A false
// return means the candidate filled up between ranking and locking.
func (a *Assigner) tryHandoff(ctx context.Context, sessionID, specialistID string) (string, bool, error) {
	lock := a.specialistLock(specialistID)
	lock.Lock()
	defer lock.Unlock()

	sp := a.directory.Get(ctx, specialistID)
	if sp == nil || sp.Status != SpecialistOnline {
		return "", false, nil
	}
	if slices.Contains(sp.CurrentChats, sessionID) {
		return specialistID, true, nil
	}
	if sp.AtCapacity() {
		return "", false, nil
	}

	err := a.sessions.Update(ctx, sessionID, store.Doc{
		"specialistId": specialistID,
		"status":       StatusActive,
		"assignedAt":   time.Now().UTC(),
	})
	if err != nil {
		return "", false, err
	}

	chats := append(slices.Clone(sp.CurrentChats), sessionID)
	status := SpecialistOnline
	if len(chats) >= sp.MaxConcurrentChats {
		status = SpecialistBusy
	}
	if err := a.directory.setChats(ctx, specialistID, chats, status); err != nil {
		// Session already points at the specialist; the under-loaded
		// specialist record is the recoverable inconsistency callers
		// reconcile on read.
		return "", false, fmt.Errorf("assign %s to %s: %w", sessionID, specialistID, err)
	}
	return specialistID, true, nil
}

// Detach removes the session from the specialist's load and flips a busy
// specialist back to online once under capacity.
func (a *Assigner) Detach(ctx context.Context, specialistID, sessionID string) error {
	lock := a.specialistLock(specialistID)
	lock.Lock()
	defer lock.Unlock()

	sp := a.directory.Get(ctx, specialistID)
	if sp == nil {
		return nil
	}
	chats := slices.DeleteFunc(slices.Clone(sp.CurrentChats), func(id string) bool {
		return id == sessionID
	})
	if len(chats) == len(sp.CurrentChats) {
		return nil
	}
	status := sp.Status
	if status == SpecialistBusy && len(chats) < sp.MaxConcurrentChats {
		status = SpecialistOnline
	}
	return a.directory.setChats(ctx, specialistID, chats, status)
}

// rankCandidates orders by ascending response time, then descending rating,
// then ascending current load.
func rankCandidates(candidates []*Specialist) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ResponseTime != b.ResponseTime {
			return a.ResponseTime < b.ResponseTime
		}
		if a.Rating != b.Rating {
			return a.Rating > b.Rating
		}
		return len(a.CurrentChats) < len(b.CurrentChats)
	})
}
