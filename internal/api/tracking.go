package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/foxzi/vdpress/internal/metrics"
	"github.com/foxzi/vdpress/internal/models"
)

// Tracking scan outcomes
const (
	scanLanding  = "landing"
	scanRedirect = "redirect"
	scanFallback = "fallback"
	scanUnknown  = "unknown"
)

var landingTmpl = template.Must(template.New("landing").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
<style>
body { font-family: system-ui, sans-serif; margin: 0; padding: 3rem 1.5rem; color: #222; }
main { max-width: 36rem; margin: 0 auto; }
h1 { font-size: 2rem; margin: 0 0 1rem; }
p { line-height: 1.5; white-space: pre-line; }
a.cta { display: inline-block; margin-top: 1.5rem; padding: .75rem 1.5rem; background: #1f6feb; color: #fff; border-radius: .375rem; text-decoration: none; }
</style>
</head>
<body>
<main>
<h1>{{.Headline}}</h1>
{{if .Body}}<p>{{.Body}}</p>{{end}}
{{if .CTAURL}}<a class="cta" href="{{.CTAURL}}">{{if .CTAText}}{{.CTAText}}{{else}}Learn more{{end}}</a>{{end}}
</main>
</body>
</html>
`))

// handleTracking handles GET /t, the target of every printed code
func (s *Server) handleTracking(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	token := strings.TrimSpace(q.Get("token"))

	cr, ok := s.lookupScan(r, token, q.Get("campaignId"), q.Get("recipientId"))
	if !ok {
		s.fallback(w, r)
		return
	}

	lp, err := s.opts.Store.GetLandingPage(r.Context(), token)
	if err != nil {
		s.logger.Error("failed to get landing page", "campaign_id", cr.CampaignID, "error", err)
		metrics.IncAPIErrors("store")
	}
	if lp == nil {
		s.fallback(w, r)
		return
	}

	s.logger.Debug("tracking scan", "campaign_id", cr.CampaignID, "recipient_id", cr.RecipientID)

	if lp.RedirectURL != "" {
		metrics.IncTrackingScans(scanRedirect)
		http.Redirect(w, r, lp.RedirectURL, http.StatusFound)
		return
	}

	metrics.IncTrackingScans(scanLanding)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := landingTmpl.Execute(w, landingView(lp)); err != nil {
		s.logger.Debug("failed to write landing page", "error", err)
	}
}

// lookupScan resolves the tracking row; ids in the URL must match it
func (s *Server) lookupScan(r *http.Request, token, campaignID, recipientID string) (*models.CampaignRecipient, bool) {
	if token == "" {
		return nil, false
	}
	cr, err := s.opts.Store.GetCampaignRecipientByCode(r.Context(), token)
	if err != nil {
		s.logger.Error("failed to resolve tracking code", "error", err)
		metrics.IncAPIErrors("store")
		return nil, false
	}
	if cr == nil {
		return nil, false
	}
	if (campaignID != "" && campaignID != cr.CampaignID) || (recipientID != "" && recipientID != cr.RecipientID) {
		return nil, false
	}
	return cr, true
}

func (s *Server) fallback(w http.ResponseWriter, r *http.Request) {
	if s.opts.FallbackURL != "" {
		metrics.IncTrackingScans(scanFallback)
		http.Redirect(w, r, s.opts.FallbackURL, http.StatusFound)
		return
	}
	metrics.IncTrackingScans(scanUnknown)
	http.NotFound(w, r)
}

type landingData struct {
	Title    string
	Headline string
	Body     string
	CTAText  string
	CTAURL   string
}

func landingView(lp *models.LandingPage) landingData {
	v := landingData{
		Title:    lp.Title,
		Headline: lp.Headline,
		Body:     lp.Body,
		CTAText:  lp.CTAText,
		CTAURL:   lp.CTAURL,
	}
	if v.Headline == "" {
		v.Headline = v.Title
	}
	if v.Title == "" {
		v.Title = v.Headline
	}
	return v
}
