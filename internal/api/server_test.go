package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	bolt "go.etcd.io/bbolt"
	"golang.org/x/crypto/bcrypt"

	"github.com/foxzi/vdpress/internal/batch"
	"github.com/foxzi/vdpress/internal/codegen"
	"github.com/foxzi/vdpress/internal/config"
	"github.com/foxzi/vdpress/internal/models"
	"github.com/foxzi/vdpress/internal/progress"
	"github.com/foxzi/vdpress/internal/ratelimit"
	"github.com/foxzi/vdpress/internal/render"
)

const testTemplate = `{"width":1800,"height":1200,"objects":[
	{"type":"text","text":"Hi {firstName}"},
	{"type":"image","src":"https://example.com/qr.png"},
	{"type":"text","text":"{favorite_color}"}
]}`

// mockStore implements Store for testing
type mockStore struct {
	campaigns  map[string]*models.Campaign
	templates  map[string]*models.Template
	recipients map[string][]*models.Recipient
	rows       map[string]*models.CampaignRecipient
	landing    map[string]*models.LandingPage
}

func newMockStore() *mockStore {
	return &mockStore{
		campaigns: map[string]*models.Campaign{
			"camp-1": {ID: "camp-1", OrgID: "org-1", TemplateID: "tmpl-1", RecipientListID: "list-1", Status: models.CampaignDraft},
		},
		templates: map[string]*models.Template{
			"tmpl-1": {
				ID:           "tmpl-1",
				OrgID:        "org-1",
				Document:     testTemplate,
				SlotMetadata: `{"0":{"slotKind":"personName"},"1":{"slotKind":"trackingCode"},"2":{"slotKind":"plainText"},"7":{"slotKind":"plainText"}}`,
			},
		},
		recipients: map[string][]*models.Recipient{},
		rows:       map[string]*models.CampaignRecipient{},
		landing:    map[string]*models.LandingPage{},
	}
}

func (m *mockStore) GetCampaign(_ context.Context, id, orgID string) (*models.Campaign, error) {
	c, ok := m.campaigns[id]
	if !ok || c.OrgID != orgID {
		return nil, nil
	}
	return c, nil
}

func (m *mockStore) GetTemplate(_ context.Context, id, orgID string) (*models.Template, error) {
	t, ok := m.templates[id]
	if !ok || t.OrgID != orgID {
		return nil, nil
	}
	return t, nil
}

func (m *mockStore) GetRecipients(_ context.Context, listID, _ string) ([]*models.Recipient, error) {
	return m.recipients[listID], nil
}

func (m *mockStore) GetCampaignRecipientByCode(_ context.Context, code string) (*models.CampaignRecipient, error) {
	return m.rows[code], nil
}

func (m *mockStore) GetLandingPage(_ context.Context, code string) (*models.LandingPage, error) {
	return m.landing[code], nil
}

// mockProcessor records runs; block makes runs wait for cancellation
type mockProcessor struct {
	mu     sync.Mutex
	calls  []string
	result *batch.Result
	err    error
	block  bool
	done   chan struct{}
}

func (p *mockProcessor) Process(ctx context.Context, campaignID, _ string, _ func(progress.Event)) (*batch.Result, error) {
	p.mu.Lock()
	p.calls = append(p.calls, campaignID)
	p.mu.Unlock()
	if p.done != nil {
		defer close(p.done)
	}
	if p.block {
		<-ctx.Done()
		return &batch.Result{CampaignID: campaignID, Status: models.CampaignPaused}, nil
	}
	return p.result, p.err
}

type mockRenderer struct{}

func (mockRenderer) RenderPDF(context.Context, render.Job) ([]byte, error) {
	return []byte("%PDF"), nil
}

func (mockRenderer) RenderPreview(_ context.Context, job render.Job) ([]byte, error) {
	return []byte("PNG:" + job.Front.Objects[0].Text()), nil
}

type testEnv struct {
	server    *Server
	store     *mockStore
	processor *mockProcessor
	tracker   *progress.Memory
}

func setupTestServer(t *testing.T, cfg config.APIConfig) *testEnv {
	t.Helper()
	codes, err := codegen.New(codegen.Options{BaseURL: "https://mail.example/t", Size: 64})
	if err != nil {
		t.Fatalf("codegen.New() error = %v", err)
	}

	env := &testEnv{
		store:     newMockStore(),
		processor: &mockProcessor{result: &batch.Result{Success: true, Status: models.CampaignCompleted}},
		tracker:   progress.NewMemory(),
	}
	env.server = NewServer(ServerOptions{
		Config:      &cfg,
		Store:       env.store,
		Processor:   env.processor,
		Tracker:     env.tracker,
		Renderer:    mockRenderer{},
		Codes:       codes,
		FallbackURL: "https://brand.example/",
		Version:     "test",
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	t.Cleanup(func() {
		_ = env.server.Shutdown(context.Background())
	})
	return env
}

func (e *testEnv) do(method, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	req.Header.Set(OrgHeader, "org-1")
	for k, v := range headers {
		if v == "" {
			req.Header.Del(k)
			continue
		}
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	w := env.do("GET", "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[HealthResponse](t, w)
	if resp.Status != "ok" || resp.Version != "test" {
		t.Errorf("health = %+v", resp)
	}
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret-key"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	env := setupTestServer(t, config.APIConfig{APIKeyHash: string(hash)})

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"bearer", map[string]string{"Authorization": "Bearer secret-key"}, http.StatusOK},
		{"api key header", map[string]string{"X-API-Key": "secret-key"}, http.StatusOK},
		{"wrong key", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"missing", nil, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", "/api/v1/formats", tt.headers)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddlewareNoKeyConfigured(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	if w := env.do("GET", "/api/v1/formats", nil); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestOrganizationRequired(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	w := env.do("GET", "/api/v1/formats", map[string]string{OrgHeader: ""})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestIPFilterGuardsAPIOnly(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{AllowedIPs: []string{"10.0.0.0/8"}})

	if w := env.do("GET", "/api/v1/formats", nil); w.Code != http.StatusForbidden {
		t.Errorf("api status = %d, want 403", w.Code)
	}
	if w := env.do("GET", "/health", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}

func TestProcessAsync(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.processor.done = make(chan struct{})

	w := env.do("POST", "/api/v1/campaigns/camp-1/process", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202: %s", w.Code, w.Body)
	}
	resp := decode[ProcessResponse](t, w)
	if resp.ProgressURL != "/api/v1/campaigns/camp-1/progress" {
		t.Errorf("ProgressURL = %s", resp.ProgressURL)
	}

	select {
	case <-env.processor.done:
	case <-time.After(5 * time.Second):
		t.Fatal("processor was not called")
	}
}

func TestProcessConflicts(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	env.store.campaigns["camp-1"].Status = models.CampaignSending
	if w := env.do("POST", "/api/v1/campaigns/camp-1/process", nil); w.Code != http.StatusConflict {
		t.Errorf("sending campaign: status = %d, want 409", w.Code)
	}

	env.store.campaigns["camp-1"].Status = models.CampaignDraft
	env.processor.block = true
	env.processor.done = make(chan struct{})
	if w := env.do("POST", "/api/v1/campaigns/camp-1/process", nil); w.Code != http.StatusAccepted {
		t.Fatalf("first run: status = %d, want 202", w.Code)
	}
	if w := env.do("POST", "/api/v1/campaigns/camp-1/process", nil); w.Code != http.StatusConflict {
		t.Errorf("second run: status = %d, want 409", w.Code)
	}

	// shutdown cancels the blocked run
	if err := env.server.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}
	select {
	case <-env.processor.done:
	default:
		t.Error("run still active after shutdown")
	}
}

func TestProcessWait(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"completed", nil, http.StatusOK},
		{"setup error", &batch.SetupError{CampaignID: "camp-1", Reason: "recipient list is empty"}, http.StatusUnprocessableEntity},
		{"already running", batch.ErrAlreadyRunning, http.StatusConflict},
		{"store failure", errors.New("database is locked"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := setupTestServer(t, config.APIConfig{})
			env.processor.err = tt.err
			if tt.err != nil {
				env.processor.result = nil
			}

			w := env.do("POST", "/api/v1/campaigns/camp-1/process?wait=true", nil)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body)
			}
		})
	}
}

func TestProcessQuota(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.store.recipients["list-1"] = []*models.Recipient{
		{ID: "r1", FirstName: "Jane"}, {ID: "r2", FirstName: "John"}, {ID: "r3", FirstName: "Ann"},
	}

	db, err := bolt.Open(filepath.Join(t.TempDir(), "quota.db"), 0600, nil)
	if err != nil {
		t.Fatalf("bolt.Open() error = %v", err)
	}
	defer db.Close()
	limiter, err := ratelimit.NewLimiter(db, &ratelimit.Config{
		DefaultOrganization: &ratelimit.LimitConfig{PiecesPerHour: 4},
	})
	if err != nil {
		t.Fatalf("NewLimiter() error = %v", err)
	}
	defer limiter.Stop()
	env.server.opts.Quota = limiter

	if w := env.do("POST", "/api/v1/campaigns/camp-1/process?wait=true", nil); w.Code != http.StatusOK {
		t.Fatalf("first run: status = %d, want 200: %s", w.Code, w.Body)
	}

	w := env.do("POST", "/api/v1/campaigns/camp-1/process?wait=true", nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("second run: status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
	resp := decode[ErrorResponse](t, w)
	if len(resp.Details) != 1 || !strings.Contains(resp.Details[0], "allows 1 more pieces") {
		t.Errorf("unexpected details %v", resp.Details)
	}
	if len(env.processor.calls) != 1 {
		t.Errorf("processor calls = %v, want one", env.processor.calls)
	}

	// the claim is released after a denial
	env.server.opts.Quota = nil
	if w := env.do("POST", "/api/v1/campaigns/camp-1/process?wait=true", nil); w.Code != http.StatusOK {
		t.Errorf("run without quota: status = %d, want 200", w.Code)
	}
}

func TestProcessNotFound(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	if w := env.do("POST", "/api/v1/campaigns/missing/process", nil); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
	// another organization's campaign
	w := env.do("POST", "/api/v1/campaigns/camp-1/process", map[string]string{OrgHeader: "org-2"})
	if w.Code != http.StatusNotFound {
		t.Errorf("foreign org: status = %d, want 404", w.Code)
	}
	if len(env.processor.calls) != 0 {
		t.Errorf("processor calls = %v, want none", env.processor.calls)
	}
}

func TestProgressEndpoint(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	if w := env.do("GET", "/api/v1/campaigns/camp-1/progress", nil); w.Code != http.StatusNotFound {
		t.Errorf("before run: status = %d, want 404", w.Code)
	}

	_ = env.tracker.Publish(context.Background(), "camp-1", progress.Event{
		CampaignID: "camp-1", Current: 2, Total: 4, Percentage: 50, Status: progress.StatusProcessing,
	})

	w := env.do("GET", "/api/v1/campaigns/camp-1/progress", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	ev := decode[progress.Event](t, w)
	if ev.Current != 2 || ev.Percentage != 50 {
		t.Errorf("event = %+v", ev)
	}
}

func TestValidateEndpoint(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.store.recipients["list-1"] = []*models.Recipient{
		{ID: "r1", LastName: "Doe"},
		{ID: "r2", LastName: "Roe"},
		{ID: "r3", FirstName: "Cid", LastName: "Poe", Metadata: map[string]string{"favorite_color": "red"}},
	}
	env.store.campaigns["camp-1"].FieldMappings = `[{"templateVariableName":"firstName","recipientFieldName":"first_name"},{"templateVariableName":"favorite_color","recipientFieldName":"favorite_color"}]`

	w := env.do("POST", "/api/v1/campaigns/camp-1/validate", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}

	var resp struct {
		OverallValid   bool     `json:"overallValid"`
		CriticalErrors []string `json:"criticalErrors"`
		Mappings       []any    `json:"mappingFindings"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.OverallValid {
		t.Error("OverallValid = true, want false")
	}
	if len(resp.CriticalErrors) != 1 || !strings.Contains(resp.CriticalErrors[0], "affects 2/3 recipients") {
		t.Errorf("CriticalErrors = %v", resp.CriticalErrors)
	}
	if len(resp.Mappings) != 0 {
		t.Errorf("mapping findings = %v, want none", resp.Mappings)
	}
}

func TestValidateEndpointRejectsBadMappings(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.store.recipients["list-1"] = []*models.Recipient{{ID: "r1", FirstName: "Ann"}}
	env.store.campaigns["camp-1"].FieldMappings = `[{"recipientFieldName":"first_name"}]`

	if w := env.do("POST", "/api/v1/campaigns/camp-1/validate", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestValidateEndpointEmptyList(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	if w := env.do("POST", "/api/v1/campaigns/camp-1/validate", nil); w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422", w.Code)
	}
}

func TestVariablesEndpoint(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	w := env.do("GET", "/api/v1/templates/tmpl-1/variables", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decode[VariablesResponse](t, w)

	if len(resp.Variables) != 3 {
		t.Errorf("variables = %d, want 3", len(resp.Variables))
	}
	var names []string
	for _, v := range resp.NeedsMapping {
		names = append(names, v.DisplayName)
	}
	if strings.Join(names, ",") != "firstName,favorite_color" {
		t.Errorf("needsMapping = %v", names)
	}
	if len(resp.Stale) != 1 {
		t.Errorf("stale = %v, want the dangling index", resp.Stale)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})

	w := env.do("GET", "/api/v1/templates/tmpl-1/preview", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %s", ct)
	}
	if got := w.Body.String(); got != "PNG:Hi Jane" {
		t.Errorf("body = %q, want the sample recipient", got)
	}

	if w := env.do("GET", "/api/v1/templates/missing/preview", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing template: status = %d, want 404", w.Code)
	}
}

func TestTrackingRedirect(t *testing.T) {
	env := setupTestServer(t, config.APIConfig{})
	env.store.rows["tok-landing"] = &models.CampaignRecipient{CampaignID: "camp-1", RecipientID: "rec-1", TrackingCode: "tok-landing"}
	env.store.landing["tok-landing"] = &models.LandingPage{
		TrackingCode: "tok-landing",
		Title:        "Offer",
		Headline:     "Welcome, <Ann>!",
		CTAURL:       "https://shop.example",
	}
	env.store.rows["tok-redirect"] = &models.CampaignRecipient{CampaignID: "camp-1", RecipientID: "rec-2", TrackingCode: "tok-redirect"}
	env.store.landing["tok-redirect"] = &models.LandingPage{TrackingCode: "tok-redirect", RedirectURL: "https://shop.example/deal"}
	env.store.rows["tok-plain"] = &models.CampaignRecipient{CampaignID: "camp-1", RecipientID: "rec-3", TrackingCode: "tok-plain"}

	t.Run("landing page", func(t *testing.T) {
		w := env.do("GET", "/t?campaignId=camp-1&recipientId=rec-1&token=tok-landing", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		body := w.Body.String()
		if !strings.Contains(body, "Welcome, &lt;Ann&gt;!") || !strings.Contains(body, `href="https://shop.example"`) {
			t.Errorf("unexpected landing page:\n%s", body)
		}
	})

	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"redirect", "/t?campaignId=camp-1&recipientId=rec-2&token=tok-redirect", "https://shop.example/deal"},
		{"no landing page", "/t?campaignId=camp-1&recipientId=rec-3&token=tok-plain", "https://brand.example/"},
		{"unknown token", "/t?token=nope", "https://brand.example/"},
		{"mismatched campaign", "/t?campaignId=other&recipientId=rec-2&token=tok-redirect", "https://brand.example/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do("GET", tt.target, nil)
			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want 302", w.Code)
			}
			if got := w.Header().Get("Location"); got != tt.want {
				t.Errorf("Location = %s, want %s", got, tt.want)
			}
		})
	}
}
