package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/livedesk/livedesk/internal/store"
)

// defaultMaxConcurrentChats applies when a profile is registered without an
// explicit capacity.
const defaultMaxConcurrentChats = 3

// ContactID derives a deterministic ID from a stable contact address.
// Specialist IDs come from here, so repeated upserts land on the same
// record.
func ContactID(contact string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(contact)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// Directory manages specialist profiles: the durable store is the record of
// truth, and a presence subset is mirrored into the real-time tree.
type Directory struct {
	durable  store.DurableStore
	realtime store.RealtimePresenceStore
	log      *slog.Logger
}

// NewDirectory creates the specialist directory over the two tiers.
func NewDirectory(durable store.DurableStore, realtime store.RealtimePresenceStore, log *slog.Logger) *Directory {
	if log == nil {
		log = slog.Default()
	}
	return &Directory{durable: durable, realtime: realtime, log: log}
}

func specialistPath(id string) string { return SpecialistCollection + "/" + id }

// Upsert registers or refreshes a profile and returns its deterministic ID.
func (d *Directory) Upsert(ctx context.Context, profile *Specialist) (string, error) {
	id := profile.ID
	if id == "" {
		id = ContactID(profile.Contact)
	}
	if id == "" {
		return "", fmt.Errorf("upsert specialist: empty contact")
	}

	if profile.Status == "" {
		profile.Status = SpecialistOffline
	}
	if profile.MaxConcurrentChats <= 0 {
		profile.MaxConcurrentChats = defaultMaxConcurrentChats
	}
	if profile.CurrentChats == nil {
		profile.CurrentChats = []string{}
	}
	profile.LastSeen = time.Now().UTC()

	existing, err := d.durable.Get(ctx, SpecialistCollection, id)
	if err != nil {
		return "", fmt.Errorf("upsert specialist %s: %w", id, err)
	}
	if existing != nil {
		// Live state stays with the directory: a profile refresh must not
		// clobber current load or rolling metrics.
		var prior Specialist
		if err := fromDoc(existing, &prior); err == nil {
			profile.CurrentChats = prior.CurrentChats
			profile.TotalChats = prior.TotalChats
			if profile.ResponseTime == 0 {
				profile.ResponseTime = prior.ResponseTime
			}
			if profile.Rating == 0 {
				profile.Rating = prior.Rating
			}
		}
	}

	record := *profile
	record.ID = ""
	doc, err := toDoc(&record)
	if err != nil {
		return "", err
	}
	if err := d.durable.Set(ctx, SpecialistCollection, id, doc); err != nil {
		return "", fmt.Errorf("upsert specialist %s: %w", id, err)
	}
	profile.ID = id

	if err := d.realtime.Set(ctx, specialistPath(id), realtimeSpecialistDoc(profile)); err != nil {
		d.log.Warn("specialist mirror write failed", "specialist", id, "error", err)
	}
	return id, nil
}

// Get returns the specialist, or nil when absent or when the durable store
// is unavailable. Callers always have a safe default for a missing
// specialist, so store failures degrade to absence here.
func (d *Directory) Get(ctx context.Context, id string) *Specialist {
	doc, err := d.durable.Get(ctx, SpecialistCollection, id)
	if err != nil {
		d.log.Warn("specialist read failed", "specialist", id, "error", err)
		return nil
	}
	if doc == nil {
		return nil
	}
	var sp Specialist
	if err := fromDoc(doc, &sp); err != nil {
		d.log.Warn("specialist record malformed", "specialist", id, "error", err)
		return nil
	}
	sp.ID = id
	if sp.CurrentChats == nil {
		sp.CurrentChats = []string{}
	}
	return &sp
}

// ListAll returns every specialist profile.
func (d *Directory) ListAll(ctx context.Context) ([]*Specialist, error) {
	docs, err := d.durable.Query(ctx, SpecialistCollection)
	if err != nil {
		return nil, fmt.Errorf("list specialists: %w", err)
	}
	return specialistsFromDocs(docs)
}

// Eligible returns specialists that are online and under capacity.
func (d *Directory) Eligible(ctx context.Context) ([]*Specialist, error) {
	docs, err := d.durable.Query(ctx, SpecialistCollection,
		store.Filter{Field: "status", Op: store.OpEq, Value: SpecialistOnline})
	if err != nil {
		return nil, fmt.Errorf("list eligible specialists: %w", err)
	}
	all, err := specialistsFromDocs(docs)
	if err != nil {
		return nil, err
	}
	eligible := all[:0]
	for _, sp := range all {
		if !sp.AtCapacity() {
			eligible = append(eligible, sp)
		}
	}
	return eligible, nil
}

// UpdateStatus fans the new status out to both tiers and refreshes
// lastSeen.
func (d *Directory) UpdateStatus(ctx context.Context, id, status string) error {
	now := time.Now().UTC()
	err := d.durable.Update(ctx, SpecialistCollection, id, store.Doc{
		"status":   status,
		"lastSeen": now,
	})
	if err != nil {
		return fmt.Errorf("update specialist %s status: %w", id, err)
	}
	d.mirrorUpdate(ctx, id, map[string]any{
		"status":   status,
		"lastSeen": now.UnixMilli(),
	})
	return nil
}

// UpdateMetrics merges metric fields (responseTime, rating, totalChats)
// into the durable record.
func (d *Directory) UpdateMetrics(ctx context.Context, id string, fields store.Doc) error {
	if err := d.durable.Update(ctx, SpecialistCollection, id, fields); err != nil {
		return fmt.Errorf("update specialist %s metrics: %w", id, err)
	}
	return nil
}

// Touch refreshes the presence heartbeat in both tiers.
func (d *Directory) Touch(ctx context.Context, id string) error {
	now := time.Now().UTC()
	if err := d.durable.Update(ctx, SpecialistCollection, id, store.Doc{"lastSeen": now}); err != nil {
		return fmt.Errorf("touch specialist %s: %w", id, err)
	}
	d.mirrorUpdate(ctx, id, map[string]any{"lastSeen": now.UnixMilli()})
	return nil
}

// setChats writes the specialist's chat load and recomputed status to both
// tiers. Callers hold the per-specialist assignment lock.
func (d *Directory) setChats(ctx context.Context, id string, chats []string, status string) error {
	err := d.durable.Update(ctx, SpecialistCollection, id, store.Doc{
		"currentChats": chats,
		"status":       status,
	})
	if err != nil {
		return fmt.Errorf("update specialist %s load: %w", id, err)
	}
	d.mirrorUpdate(ctx, id, map[string]any{
		"currentChats": chats,
		"activeChats":  len(chats),
		"status":       status,
	})
	return nil
}

func (d *Directory) mirrorUpdate(ctx context.Context, id string, fields map[string]any) {
	if err := d.realtime.Update(ctx, specialistPath(id), fields); err != nil {
		d.log.Warn("specialist mirror update failed", "specialist", id, "error", err)
	}
}

// realtimeSpecialistDoc is the presence subset mirrored for live dashboards.
func realtimeSpecialistDoc(sp *Specialist) map[string]any {
	return map[string]any{
		"name":         sp.Name,
		"status":       sp.Status,
		"currentChats": sp.CurrentChats,
		"activeChats":  len(sp.CurrentChats),
		"maxChats":     sp.MaxConcurrentChats,
		"lastSeen":     sp.LastSeen.UTC().UnixMilli(),
	}
}

func specialistsFromDocs(docs []store.Doc) ([]*Specialist, error) {
	out := make([]*Specialist, 0, len(docs))
	for _, doc := range docs {
		var sp Specialist
		if err := fromDoc(doc, &sp); err != nil {
			return nil, err
		}
		if sp.ID == "" {
			sp.ID = ContactID(sp.Contact)
		}
		if sp.CurrentChats == nil {
			sp.CurrentChats = []string{}
		}
		out = append(out, &sp)
	}
	return out, nil
}
