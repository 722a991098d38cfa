package chat

import (
	"context"
	"log/slog"

	"github.com/livedesk/livedesk/internal/store"
)

// Performance recomputes a specialist's rolling metrics after each closed
// session.
type Performance struct {
	directory *Directory
	log       *slog.Logger
}

// NewPerformance creates the performance manager.
func NewPerformance(directory *Directory, log *slog.Logger) *Performance {
	if log == nil {
		log = slog.Default()
	}
	return &Performance{directory: directory, log: log}
}

// RecordClosedChat folds the session's first-response time (ms) and the
// customer rating into the specialist's rolling averages and increments the
// chat total. Zero samples are skipped: an unrated chat must not drag the
// average down.
func (p *Performance) RecordClosedChat(ctx context.Context, specialistID string, responseTimeMs, rating float64) {
	sp := p.directory.Get(ctx, specialistID)
	if sp == nil {
		return
	}

	fields := store.Doc{"totalChats": sp.TotalChats + 1}
	if responseTimeMs > 0 {
		fields["responseTime"] = rollingAverage(sp.ResponseTime, sp.TotalChats, responseTimeMs)
	}
	if rating > 0 {
		fields["rating"] = rollingAverage(sp.Rating, sp.TotalChats, rating)
	}

	if err := p.directory.UpdateMetrics(ctx, specialistID, fields); err != nil {
		p.log.Warn("specialist metrics update failed", "specialist", specialistID, "error", err)
	}
}

func rollingAverage(current float64, samples int, value float64) float64 {
	if samples <= 0 || current == 0 {
		return value
	}
	return (current*float64(samples) + value) / float64(samples+1)
}
