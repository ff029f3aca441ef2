// Package personalize produces a recipient-specific copy of a template
// surface: text tokens are substituted, tracking code slots get a fresh
// code image and shared slots are left exactly as stored.
package personalize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/foxzi/vdpress/internal/document"
)

var tokenRe = regexp.MustCompile(`\{([^{}]+)\}`)

// CodeFunc returns an embeddable image reference (URL or data URI) of the
// recipient's tracking code
type CodeFunc func(ctx context.Context, campaignID, recipientID string) (string, error)

// Request is one personalization call
type Request struct {
	CampaignID  string
	RecipientID string
	Document    *document.Document
	Slots       document.Slots
	Row         Row
	Code        CodeFunc
}

// Result holds the personalized copy and what happened to it
type Result struct {
	Document      *document.Document
	Substituted   int // text objects whose content changed
	CodeSlots     int
	CodeFallbacks int // code slots left with their placeholder
}

// Engine personalizes documents. It holds no per-call state.
type Engine struct {
	logger      *slog.Logger
	codeTimeout time.Duration
}

// NewEngine creates an engine. A zero codeTimeout disables the per-code deadline.
func NewEngine(logger *slog.Logger, codeTimeout time.Duration) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		logger:      logger.With("component", "personalize"),
		codeTimeout: codeTimeout,
	}
}

// Personalize returns a personalized deep copy of req.Document.
// Failing to generate a code is logged and leaves the placeholder in place;
// it is never returned as an error.
func (e *Engine) Personalize(ctx context.Context, req Request) (*Result, error) {
	if req.Document == nil {
		return nil, errors.New("no document to personalize")
	}

	out := req.Document.Clone()
	res := &Result{Document: out}

	for i, obj := range out.Objects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slot, hasSlot := req.Slots.Lookup(obj.ID)
		if hasSlot && slot.Shared {
			continue
		}

		if hasSlot && slot.Kind == document.SlotTrackingCode {
			res.CodeSlots++
			updated, ok := e.applyCode(ctx, req, obj)
			if !ok {
				res.CodeFallbacks++
				continue
			}
			out.Objects[i] = updated
			continue
		}

		updated, changed, err := substituteObject(obj, req.Row)
		if err != nil {
			return nil, fmt.Errorf("failed to personalize object %s: %w", obj.ID, err)
		}
		if changed > 0 {
			out.Objects[i] = updated
			res.Substituted += changed
		}
	}

	return res, nil
}

func (e *Engine) applyCode(ctx context.Context, req Request, obj document.Object) (document.Object, bool) {
	log := e.logger.With("campaign_id", req.CampaignID, "recipient_id", req.RecipientID, "object", obj.ID)

	if req.Code == nil {
		log.Debug("no code generator, keeping placeholder")
		return obj, false
	}

	codeCtx := ctx
	if e.codeTimeout > 0 {
		var cancel context.CancelFunc
		codeCtx, cancel = context.WithTimeout(ctx, e.codeTimeout)
		defer cancel()
	}

	src, err := req.Code(codeCtx, req.CampaignID, req.RecipientID)
	if err == nil && src == "" {
		err = errors.New("empty code image")
	}
	if err != nil {
		log.Warn("code generation failed, keeping placeholder", "error", err)
		return obj, false
	}

	updated, err := obj.WithImageSource(src)
	if err != nil {
		log.Warn("failed to embed code image, keeping placeholder", "error", err)
		return obj, false
	}
	return updated, true
}

// substituteObject runs token substitution on text objects and on the text
// children of groups. It returns the number of text objects changed.
func substituteObject(obj document.Object, row Row) (document.Object, int, error) {
	switch obj.Kind {
	case document.KindText:
		text := obj.Text()
		replaced, ok := Substitute(text, row)
		if !ok {
			return obj, 0, nil
		}
		updated, err := obj.WithText(replaced)
		if err != nil {
			return obj, 0, err
		}
		// character styles are keyed by offsets into the old text
		updated, err = updated.WithoutStyles()
		if err != nil {
			return obj, 0, err
		}
		return updated, 1, nil

	case document.KindGroup:
		children, err := obj.Children()
		if err != nil {
			return obj, 0, err
		}
		total := 0
		for i, child := range children {
			updated, n, err := substituteObject(child, row)
			if err != nil {
				return obj, 0, err
			}
			if n > 0 {
				children[i] = updated
				total += n
			}
		}
		if total == 0 {
			return obj, 0, nil
		}
		updated, err := obj.WithChildren(children)
		if err != nil {
			return obj, 0, err
		}
		return updated, total, nil
	}

	return obj, 0, nil
}

// Substitute replaces {field} tokens with row values. Tokens without a
// matching field are kept literally. The bool reports whether the text changed.
func Substitute(text string, row Row) (string, bool) {
	if !strings.Contains(text, "{") {
		return text, false
	}
	out := tokenRe.ReplaceAllStringFunc(text, func(tok string) string {
		name := strings.TrimSpace(tok[1 : len(tok)-1])
		if v, ok := row.Get(name); ok {
			return v
		}
		return tok
	})
	return out, out != text
}
