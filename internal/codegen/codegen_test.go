package codegen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"testing"
)

func newGenerator(t *testing.T) *Generator {
	t.Helper()
	g, err := New(Options{BaseURL: "https://trk.example.com/t", Size: 128})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return g
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"ok", Options{BaseURL: "https://x.test/t"}, false},
		{"empty url", Options{}, true},
		{"relative url", Options{BaseURL: "/t"}, true},
		{"bad level", Options{BaseURL: "https://x.test/t", Level: "ultra"}, true},
		{"high level", Options{BaseURL: "https://x.test/t", Level: "High"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTrackingURL(t *testing.T) {
	g := newGenerator(t)
	raw := g.TrackingURL("camp 1", "rec-2", "tok")

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse() error = %v", err)
	}
	if u.Host != "trk.example.com" || u.Path != "/t" {
		t.Errorf("url = %s", raw)
	}
	q := u.Query()
	if q.Get("campaignId") != "camp 1" || q.Get("recipientId") != "rec-2" || q.Get("token") != "tok" {
		t.Errorf("query = %v", q)
	}
}

func TestNewToken(t *testing.T) {
	tok := NewToken()
	if len(tok) != 32 {
		t.Errorf("len(token) = %d, want 32", len(tok))
	}
	if tok == NewToken() {
		t.Error("tokens must differ")
	}
}

func TestGenerateUnique(t *testing.T) {
	g := newGenerator(t)
	ctx := context.Background()

	urls := make(map[string]string)
	tokens := make(map[string]bool)
	var prev []byte
	for i := 0; i < 200; i++ {
		rid := fmt.Sprintf("recipient-%d", i)
		code, err := g.Generate(ctx, "campaign-1", rid)
		if err != nil {
			t.Fatalf("Generate(%s) error = %v", rid, err)
		}
		if other, ok := urls[code.URL]; ok {
			t.Fatalf("recipients %s and %s share payload %s", other, rid, code.URL)
		}
		urls[code.URL] = rid
		if tokens[code.Token] {
			t.Fatalf("duplicate token %s", code.Token)
		}
		tokens[code.Token] = true

		if !bytes.HasPrefix(code.PNG, []byte("\x89PNG")) {
			t.Fatalf("code for %s is not a PNG", rid)
		}
		if prev != nil && bytes.Equal(prev, code.PNG) {
			t.Fatalf("consecutive codes rendered identical images")
		}
		prev = code.PNG
	}
}

func TestGenerateSameRecipientTwice(t *testing.T) {
	g := newGenerator(t)
	a, err := g.Generate(context.Background(), "c", "r")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := g.Generate(context.Background(), "c", "r")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if a.URL == b.URL {
		t.Error("each generation must use a fresh token")
	}
}

func TestRenderCancelled(t *testing.T) {
	g := newGenerator(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Render(ctx, "https://trk.example.com/t")
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("error = %v, want *RenderError", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error should wrap context.Canceled, got %v", err)
	}
}

func TestRenderTooLong(t *testing.T) {
	g := newGenerator(t)
	long := bytes.Repeat([]byte("x"), 8000)

	_, err := g.Render(context.Background(), string(long))
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("error = %v, want *RenderError", err)
	}
}

func TestPlaceholder(t *testing.T) {
	g := newGenerator(t)
	a, err := g.Placeholder()
	if err != nil {
		t.Fatalf("Placeholder() error = %v", err)
	}
	b, _ := g.Placeholder()
	if a != b {
		t.Error("placeholder should be cached")
	}
	if a.Token != "" {
		t.Error("placeholder must not carry a token")
	}
	if len(a.DataURI()) < len("data:image/png;base64,")+10 {
		t.Errorf("DataURI() = %q", a.DataURI())
	}
}
