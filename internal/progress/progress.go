// Package progress carries batch progress events to whoever watches a
// campaign: an in-process map by default, Redis when several instances
// share the work.
package progress

import (
	"context"
	"sync"
)

// Batch statuses reported in events
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusPaused     = "paused"
)

// RecipientError is a per-recipient failure
type RecipientError struct {
	RecipientID   string `json:"recipientId"`
	RecipientName string `json:"recipientName"`
	Error         string `json:"error"`
}

// Event is a progress snapshot of one campaign run
type Event struct {
	CampaignID           string           `json:"campaignId"`
	Current              int              `json:"current"`
	Total                int              `json:"total"`
	Percentage           int              `json:"percentage"`
	CurrentRecipientName string           `json:"currentRecipientName,omitempty"`
	Status               string           `json:"status"`
	Errors               []RecipientError `json:"errors"`
}

// Tracker stores the latest event per campaign
type Tracker interface {
	Publish(ctx context.Context, campaignID string, ev Event) error
	Latest(ctx context.Context, campaignID string) (*Event, error)
}

// Memory keeps events in process
type Memory struct {
	mu     sync.RWMutex
	events map[string]Event
}

func NewMemory() *Memory {
	return &Memory{events: make(map[string]Event)}
}

func (m *Memory) Publish(_ context.Context, campaignID string, ev Event) error {
	ev.Errors = append([]RecipientError(nil), ev.Errors...)

	m.mu.Lock()
	m.events[campaignID] = ev
	m.mu.Unlock()
	return nil
}

func (m *Memory) Latest(_ context.Context, campaignID string) (*Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ev, ok := m.events[campaignID]
	if !ok {
		return nil, nil
	}
	return &ev, nil
}
