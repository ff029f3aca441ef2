package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/foxzi/vdpress/internal/codegen"
	"github.com/foxzi/vdpress/internal/document"
	"github.com/foxzi/vdpress/internal/metrics"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/personalize"
	"github.com/foxzi/vdpress/internal/render"
	"github.com/foxzi/vdpress/internal/validation"
)

const (
	artifactFile = "mailpiece.pdf"
	codeFile     = "code.png"
)

// ArtifactKey returns the storage key of a recipient's file
func ArtifactKey(campaignID, recipientID, file string) string {
	return path.Join("campaigns", campaignID, recipientID, file)
}

// processRecipient does all the work for one recipient. A panic is turned
// into that recipient's error.
func (p *Processor) processRecipient(ctx context.Context, r *run, rec *models.Recipient) (err error) {
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("panic: %v", v)
		}
	}()

	campaignID := r.campaign.ID
	logger := p.logger.With("campaign_id", campaignID, "recipient_id", rec.ID)

	existing, err := p.store.GetCampaignRecipient(ctx, campaignID, rec.ID)
	if err != nil {
		return fmt.Errorf("failed to load tracking row: %w", err)
	}

	// a stored row wins, then an id assigned upstream in metadata
	token := codegen.NewToken()
	if existing != nil && existing.TrackingCode != "" {
		token = existing.TrackingCode
	} else if id, ok := validation.TrackingID(rec); ok {
		token = id
	}
	trackingURL := p.codes.TrackingURL(campaignID, rec.ID, token)

	row := personalize.Flatten(rec).With("trackingUrl", trackingURL).With("trackingCode", token)

	// one code image per recipient, shared by both surfaces
	var code *codegen.Code
	codeFn := func(ctx context.Context, _, _ string) (string, error) {
		if code == nil {
			c, err := p.codes.Render(ctx, trackingURL)
			if err != nil {
				return "", err
			}
			c.Token = token
			code = c
		}
		return code.DataURI(), nil
	}

	front, err := p.personalizeSurface(ctx, r.front, campaignID, rec.ID, row, codeFn)
	if err != nil {
		return err
	}
	var back *personalize.Result
	if r.back != nil {
		back, err = p.personalizeSurface(ctx, r.back, campaignID, rec.ID, row, codeFn)
		if err != nil {
			return err
		}
	}

	job := render.Job{Front: front.Document, Format: r.format, Fields: row.Values()}
	if back != nil {
		job.Back = back.Document
	}

	renderCtx := ctx
	if p.cfg.RenderTimeout > 0 {
		var cancel context.CancelFunc
		renderCtx, cancel = context.WithTimeout(ctx, p.cfg.RenderTimeout)
		defer cancel()
	}
	renderStart := time.Now()
	pdf, err := p.renderer.RenderPDF(renderCtx, job)
	metrics.ObserveRender("pdf", time.Since(renderStart))
	if err != nil {
		return fmt.Errorf("failed to render artifact: %w", err)
	}

	cr := &models.CampaignRecipient{
		CampaignID:   campaignID,
		RecipientID:  rec.ID,
		OrgID:        r.orgID,
		TrackingCode: token,
	}
	if existing != nil {
		cr.ID = existing.ID
		cr.CreatedAt = existing.CreatedAt
	}

	cr.ArtifactPath = ArtifactKey(campaignID, rec.ID, artifactFile)
	cr.ArtifactURL, err = p.upload(ctx, cr.ArtifactPath, pdf, "application/pdf", "pdf")
	if err != nil {
		return err
	}

	if code == nil {
		// no code slot on the template, the tracking row still gets an image
		c, err := p.codes.Render(ctx, trackingURL)
		if err != nil {
			logger.Warn("failed to render code image", "error", err)
		} else {
			c.Token = token
			code = c
		}
	}
	if code != nil {
		cr.CodeImagePath = ArtifactKey(campaignID, rec.ID, codeFile)
		cr.CodeImageURL, err = p.upload(ctx, cr.CodeImagePath, code.PNG, "image/png", "code")
		if err != nil {
			return err
		}
	}

	snapshot, err := snapshotJSON(front, back, r)
	if err != nil {
		return err
	}
	cr.Document = snapshot

	if r.landing != nil {
		cr.LandingPageURL = trackingURL
	}

	if err := p.store.SaveCampaignRecipient(ctx, cr); err != nil {
		return fmt.Errorf("failed to save tracking row: %w", err)
	}

	if r.landing != nil {
		lp := landingPage(r, rec, token, row)
		if err := p.store.SaveLandingPage(ctx, lp); err != nil {
			return fmt.Errorf("failed to save landing page: %w", err)
		}
	}

	logger.Debug("recipient processed", "artifact", cr.ArtifactPath, "substituted", front.Substituted)
	return nil
}

func (p *Processor) personalizeSurface(ctx context.Context, s *document.Surface, campaignID, recipientID string,
	row personalize.Row, codeFn personalize.CodeFunc) (*personalize.Result, error) {
	res, err := p.engine.Personalize(ctx, personalize.Request{
		CampaignID:  campaignID,
		RecipientID: recipientID,
		Document:    s.Document,
		Slots:       s.Slots,
		Row:         row,
		Code:        codeFn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to personalize %s: %w", s.Side, err)
	}
	metrics.AddCodeFallbacks(res.CodeFallbacks)
	return res, nil
}

// upload stores one file and returns its signed URL
func (p *Processor) upload(ctx context.Context, key string, data []byte, contentType, kind string) (string, error) {
	if err := p.blobs.Upload(ctx, key, data, contentType); err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", kind, err)
	}
	metrics.IncArtifactsUploaded(kind)

	url, err := p.blobs.SignedURL(ctx, key, p.cfg.URLTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign %s url: %w", kind, err)
	}
	return url, nil
}

// snapshotJSON encodes the personalized surfaces in the template's surface shape
func snapshotJSON(front, back *personalize.Result, r *run) (string, error) {
	surfaces := make([]document.Source, 0, 2)

	raw, err := json.Marshal(front.Document)
	if err != nil {
		return "", fmt.Errorf("failed to encode personalized document: %w", err)
	}
	surfaces = append(surfaces, document.Source{Side: r.front.Side, Document: raw})

	if back != nil {
		raw, err := json.Marshal(back.Document)
		if err != nil {
			return "", fmt.Errorf("failed to encode personalized document: %w", err)
		}
		surfaces = append(surfaces, document.Source{Side: r.back.Side, Document: raw})
	}

	out, err := json.Marshal(surfaces)
	if err != nil {
		return "", fmt.Errorf("failed to encode personalized document: %w", err)
	}
	return string(out), nil
}

func landingPage(r *run, rec *models.Recipient, token string, row personalize.Row) *models.LandingPage {
	sub := func(s string) string {
		out, _ := personalize.Substitute(s, row)
		return out
	}
	cfg := r.landing
	return &models.LandingPage{
		OrgID:        r.orgID,
		CampaignID:   r.campaign.ID,
		RecipientID:  rec.ID,
		TrackingCode: token,
		Title:        sub(cfg.Title),
		Headline:     sub(cfg.Headline),
		Body:         sub(cfg.Body),
		CTAText:      cfg.CTAText,
		CTAURL:       cfg.CTAURL,
		RedirectURL:  cfg.RedirectURL,
	}
}
