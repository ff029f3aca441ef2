// Package codegen derives per-recipient tracking tokens and renders the
// tracking URL as a scannable QR code.
package codegen

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultSize        = 512
	placeholderContent = "https://example.com/preview"
)

// Code is a rendered tracking code
type Code struct {
	Token string
	URL   string
	PNG   []byte
}

// DataURI returns the PNG as an embeddable data URI
func (c *Code) DataURI() string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(c.PNG)
}

// RenderError is returned when a code image cannot be produced
type RenderError struct {
	Content string
	Err     error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("failed to render code for %q: %v", e.Content, e.Err)
}

func (e *RenderError) Unwrap() error {
	return e.Err
}

// Options configures a Generator
type Options struct {
	BaseURL string // tracking endpoint the code points to
	Size    int    // PNG side in pixels
	Level   string // low, medium, high, highest
}

// Generator produces tracking codes
type Generator struct {
	baseURL *url.URL
	size    int
	level   qrcode.RecoveryLevel

	placeholderOnce sync.Once
	placeholder     *Code
	placeholderErr  error
}

// New creates a generator
func New(opts Options) (*Generator, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("tracking base URL is required")
	}
	u, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid tracking base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid tracking base URL %q: scheme and host are required", opts.BaseURL)
	}

	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}

	return &Generator{baseURL: u, size: size, level: level}, nil
}

// ParseLevel maps a config value to a QR recovery level
func ParseLevel(s string) (qrcode.RecoveryLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "l":
		return qrcode.Low, nil
	case "", "medium", "m":
		return qrcode.Medium, nil
	case "high", "q":
		return qrcode.High, nil
	case "highest", "h":
		return qrcode.Highest, nil
	default:
		return 0, fmt.Errorf("unknown QR recovery level: %s", s)
	}
}

// NewToken returns a random 128-bit token in hex
func NewToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// TrackingURL builds the URL a recipient's code points to
func (g *Generator) TrackingURL(campaignID, recipientID, token string) string {
	u := *g.baseURL
	q := u.Query()
	q.Set("campaignId", campaignID)
	q.Set("recipientId", recipientID)
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

// Render encodes content as a QR PNG
func (g *Generator) Render(ctx context.Context, content string) (*Code, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RenderError{Content: content, Err: err}
	}

	png, err := qrcode.Encode(content, g.level, g.size)
	if err != nil {
		return nil, &RenderError{Content: content, Err: err}
	}

	if err := ctx.Err(); err != nil {
		return nil, &RenderError{Content: content, Err: err}
	}
	return &Code{URL: content, PNG: png}, nil
}

// Generate creates a fresh token for the recipient and renders its code
func (g *Generator) Generate(ctx context.Context, campaignID, recipientID string) (*Code, error) {
	token := NewToken()
	code, err := g.Render(ctx, g.TrackingURL(campaignID, recipientID, token))
	if err != nil {
		return nil, err
	}
	code.Token = token
	return code, nil
}

// Placeholder returns a fixed, non-unique code for design previews
func (g *Generator) Placeholder() (*Code, error) {
	g.placeholderOnce.Do(func() {
		g.placeholder, g.placeholderErr = g.Render(context.Background(), placeholderContent)
	})
	return g.placeholder, g.placeholderErr
}
