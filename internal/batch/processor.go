// Package batch runs a campaign: every recipient of its list is
// personalized, rendered, stored and recorded. One recipient failing never
// stops the others.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/vdpress/internal/codegen"
	"github.com/foxzi/vdpress/internal/document"
	"github.com/foxzi/vdpress/internal/metrics"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/personalize"
	"github.com/foxzi/vdpress/internal/progress"
	"github.com/foxzi/vdpress/internal/render"
	"github.com/foxzi/vdpress/internal/validation"
)

// ErrAlreadyRunning is returned when the campaign is already being processed
var ErrAlreadyRunning = errors.New("campaign is already being processed")

// SetupError is a failed precheck. The campaign status is left untouched.
type SetupError struct {
	CampaignID string
	Reason     string
	Err        error
}

func (e *SetupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("campaign %s: %s: %v", e.CampaignID, e.Reason, e.Err)
	}
	return fmt.Sprintf("campaign %s: %s", e.CampaignID, e.Reason)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Store is the persistence the processor needs
type Store interface {
	GetCampaign(ctx context.Context, id, orgID string) (*models.Campaign, error)
	GetTemplate(ctx context.Context, id, orgID string) (*models.Template, error)
	GetRecipients(ctx context.Context, listID, orgID string) ([]*models.Recipient, error)
	MarkSending(ctx context.Context, id, orgID string) (bool, error)
	UpdateCampaignStatus(ctx context.Context, id, orgID, status string) error
	GetCampaignRecipient(ctx context.Context, campaignID, recipientID string) (*models.CampaignRecipient, error)
	SaveCampaignRecipient(ctx context.Context, cr *models.CampaignRecipient) error
	SaveLandingPage(ctx context.Context, lp *models.LandingPage) error
}

// ObjectStore keeps artifacts and hands out time-limited URLs
type ObjectStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)
}

// PDFRenderer produces the print artifact of a job
type PDFRenderer interface {
	RenderPDF(ctx context.Context, job render.Job) ([]byte, error)
}

// Config contains processor configuration
type Config struct {
	Concurrency   int
	CodeTimeout   time.Duration
	RenderTimeout time.Duration
	URLTTL        time.Duration
	DefaultFormat string
	ValidateFirst bool // refuse to start when validation finds systemic errors
}

// Result is the outcome of one run
type Result struct {
	Success         bool                      `json:"success"`
	CampaignID      string                    `json:"campaignId"`
	TotalRecipients int                       `json:"totalRecipients"`
	SuccessCount    int                       `json:"successCount"`
	FailureCount    int                       `json:"failureCount"`
	Errors          []progress.RecipientError `json:"errors"`
	DurationSeconds float64                   `json:"durationSeconds"`
	Status          string                    `json:"status"`
}

// Processor runs campaign batches
type Processor struct {
	store    Store
	blobs    ObjectStore
	renderer PDFRenderer
	codes    *codegen.Generator
	engine   *personalize.Engine
	tracker  progress.Tracker
	cfg      Config
	logger   *slog.Logger
}

// NewProcessor creates a new batch processor. tracker may be nil.
func NewProcessor(store Store, blobs ObjectStore, renderer PDFRenderer, codes *codegen.Generator,
	engine *personalize.Engine, tracker progress.Tracker, cfg Config, logger *slog.Logger) *Processor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.URLTTL <= 0 {
		cfg.URLTTL = 7 * 24 * time.Hour
	}
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = render.DefaultFormat
	}
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = personalize.NewEngine(logger, cfg.CodeTimeout)
	}

	return &Processor{
		store:    store,
		blobs:    blobs,
		renderer: renderer,
		codes:    codes,
		engine:   engine,
		tracker:  tracker,
		cfg:      cfg,
		logger:   logger.With("component", "batch"),
	}
}

// run is the resolved input of one campaign run
type run struct {
	campaign *models.Campaign
	orgID    string
	front    *document.Surface
	back     *document.Surface
	format   render.Format
	landing  *models.LandingPageConfig
}

// Process runs the campaign. Prechecks fail with *SetupError or
// ErrAlreadyRunning before any status change. Once the campaign is marked
// sending, a final status is always written, even when ctx is cancelled.
func (p *Processor) Process(ctx context.Context, campaignID, orgID string, onProgress func(progress.Event)) (*Result, error) {
	start := time.Now()

	r, recipients, err := p.prepare(ctx, campaignID, orgID)
	if err != nil {
		return nil, err
	}

	ok, err := p.store.MarkSending(ctx, campaignID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to mark campaign sending: %w", err)
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	logger := p.logger.With("campaign_id", campaignID, "organization_id", orgID)
	logger.Info("batch started", "recipients", len(recipients), "concurrency", p.cfg.Concurrency, "format", r.format.Name)
	metrics.BatchStarted()

	res := &Result{CampaignID: campaignID, TotalRecipients: len(recipients), Errors: []progress.RecipientError{}}
	prog := newReporter(campaignID, len(recipients), p.tracker, onProgress, logger)

	defer func() {
		res.Status = finalStatus(ctx, res)
		res.Success = res.Status == models.CampaignCompleted
		res.DurationSeconds = time.Since(start).Seconds()

		// the run may have been cancelled, the status write must still happen
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
		defer cancel()
		if err := p.store.UpdateCampaignStatus(writeCtx, campaignID, orgID, res.Status); err != nil {
			logger.Error("failed to write final campaign status", "status", res.Status, "error", err)
		}

		prog.finish(writeCtx, res.Status)
		metrics.BatchFinished(res.Status, time.Since(start))

		logger.Info("batch finished",
			"status", res.Status,
			"succeeded", res.SuccessCount,
			"failed", res.FailureCount,
			"duration", time.Since(start))
	}()

	prog.begin(ctx)

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(p.cfg.Concurrency)

	for _, rec := range recipients {
		rec := rec // per-iteration copy (go1.21 loop semantics)
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}

			err := p.processRecipient(ctx, r, rec)

			mu.Lock()
			var recErr *progress.RecipientError
			if err != nil {
				res.FailureCount++
				recErr = &progress.RecipientError{
					RecipientID:   rec.ID,
					RecipientName: rec.DisplayName(),
					Error:         err.Error(),
				}
				res.Errors = append(res.Errors, *recErr)
				metrics.IncRecipientsProcessed(metrics.OutcomeFailed)
				logger.Warn("recipient failed", "recipient_id", rec.ID, "error", err)
			} else {
				res.SuccessCount++
				metrics.IncRecipientsProcessed(metrics.OutcomeSuccess)
			}
			mu.Unlock()

			prog.step(ctx, rec.DisplayName(), recErr)
			return nil
		})
	}

	// tasks never return an error
	_ = g.Wait()

	return res, nil
}

// prepare runs the prechecks and loads everything the run needs
func (p *Processor) prepare(ctx context.Context, campaignID, orgID string) (*run, []*models.Recipient, error) {
	setupErr := func(reason string, err error) error {
		return &SetupError{CampaignID: campaignID, Reason: reason, Err: err}
	}

	campaign, err := p.store.GetCampaign(ctx, campaignID, orgID)
	if err != nil {
		return nil, nil, setupErr("failed to load campaign", err)
	}
	if campaign == nil {
		return nil, nil, setupErr("campaign not found", nil)
	}
	if campaign.Status == models.CampaignSending {
		return nil, nil, ErrAlreadyRunning
	}
	if campaign.TemplateID == "" {
		return nil, nil, setupErr("campaign has no template", nil)
	}
	if campaign.RecipientListID == "" {
		return nil, nil, setupErr("campaign has no recipient list", nil)
	}

	tmpl, err := p.store.GetTemplate(ctx, campaign.TemplateID, orgID)
	if err != nil {
		return nil, nil, setupErr("failed to load template", err)
	}
	if tmpl == nil {
		return nil, nil, setupErr("template not found", nil)
	}

	layout, err := tmpl.Layout()
	if err != nil {
		return nil, nil, setupErr("invalid template", err)
	}
	snapshot, err := document.ParseSlotMetadata([]byte(campaign.SlotMetadata))
	if err != nil {
		return nil, nil, setupErr("invalid campaign slot metadata", err)
	}
	surfaces, err := layout.Load(snapshot)
	if err != nil {
		return nil, nil, setupErr("invalid template", err)
	}
	front, back := document.Pick(surfaces)
	if front == nil {
		return nil, nil, setupErr("template has no front surface", nil)
	}
	for _, s := range surfaces {
		if len(s.Stale) > 0 {
			p.logger.Warn("slot metadata references missing objects",
				"campaign_id", campaignID, "side", s.Side, "keys", s.Stale)
		}
	}

	landing, err := campaign.LandingPage()
	if err != nil {
		return nil, nil, setupErr("invalid landing page config", err)
	}

	formatName := tmpl.PrintFormat
	if formatName == "" {
		formatName = p.cfg.DefaultFormat
	}
	format, known := render.LookupFormat(formatName)
	if !known {
		p.logger.Warn("unknown print format, using default", "campaign_id", campaignID, "format", formatName)
	}

	recipients, err := p.store.GetRecipients(ctx, campaign.RecipientListID, orgID)
	if err != nil {
		return nil, nil, setupErr("failed to load recipients", err)
	}
	if len(recipients) == 0 {
		return nil, nil, setupErr("recipient list is empty", nil)
	}

	if p.cfg.ValidateFirst {
		vr, err := validation.ValidateSurfaces([]*document.Surface{front, back}, recipients)
		if err != nil {
			return nil, nil, setupErr("validation failed", err)
		}
		if len(vr.CriticalErrors) > 0 {
			return nil, nil, setupErr("validation failed", errors.New(strings.Join(vr.CriticalErrors, "; ")))
		}
		if !vr.OverallValid {
			p.logger.Warn("some recipients failed validation",
				"campaign_id", campaignID, "invalid", vr.Summary.InvalidRecipients)
		}
	}

	return &run{
		campaign: campaign,
		orgID:    orgID,
		front:    front,
		back:     back,
		format:   format,
		landing:  landing,
	}, recipients, nil
}

func finalStatus(ctx context.Context, res *Result) string {
	switch {
	case ctx.Err() != nil && res.SuccessCount+res.FailureCount < res.TotalRecipients:
		return models.CampaignPaused
	case res.SuccessCount > 0:
		return models.CampaignCompleted
	default:
		return models.CampaignFailed
	}
}
