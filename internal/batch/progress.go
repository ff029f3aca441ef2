package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/progress"
)

// reporter emits progress events in order. The percentage stays below 100
// until the final event.
type reporter struct {
	campaignID string
	total      int
	tracker    progress.Tracker
	callback   func(progress.Event)
	logger     *slog.Logger

	mu      sync.Mutex
	current int
	errors  []progress.RecipientError
}

func newReporter(campaignID string, total int, tracker progress.Tracker, callback func(progress.Event), logger *slog.Logger) *reporter {
	return &reporter{
		campaignID: campaignID,
		total:      total,
		tracker:    tracker,
		callback:   callback,
		logger:     logger,
	}
}

func (r *reporter) begin(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emit(ctx, "", progress.StatusProcessing, 0)
}

func (r *reporter) step(ctx context.Context, name string, recErr *progress.RecipientError) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.current++
	if recErr != nil {
		r.errors = append(r.errors, *recErr)
	}

	pct := r.current * 100 / r.total
	if pct > 99 {
		pct = 99
	}
	r.emit(ctx, name, progress.StatusProcessing, pct)
}

func (r *reporter) finish(ctx context.Context, campaignStatus string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	status := progress.StatusFailed
	pct := 100
	switch campaignStatus {
	case models.CampaignCompleted:
		status = progress.StatusCompleted
	case models.CampaignPaused:
		status = progress.StatusPaused
		pct = r.current * 100 / r.total
	}
	r.emit(ctx, "", status, pct)
}

// emit must be called with mu held
func (r *reporter) emit(ctx context.Context, name, status string, pct int) {
	ev := progress.Event{
		CampaignID:           r.campaignID,
		Current:              r.current,
		Total:                r.total,
		Percentage:           pct,
		CurrentRecipientName: name,
		Status:               status,
		Errors:               append([]progress.RecipientError{}, r.errors...),
	}

	if r.callback != nil {
		r.callback(ev)
	}
	if r.tracker != nil {
		if err := r.tracker.Publish(context.WithoutCancel(ctx), r.campaignID, ev); err != nil {
			r.logger.Warn("failed to publish progress", "error", err)
		}
	}
}
