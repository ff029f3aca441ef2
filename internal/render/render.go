// Package render turns personalized documents into print artifacts.
package render

import (
	"context"
	"errors"

	"github.com/foxzi/vdpress/internal/document"
)

// ErrNoFront is returned for a job without a front surface
var ErrNoFront = errors.New("render job has no front surface")

// Job is one render call. Jobs share no state.
type Job struct {
	Front  *document.Document
	Back   *document.Document // optional
	Format Format
	Fields map[string]string // flattened recipient fields
}

// Renderer produces print artifacts
type Renderer interface {
	// RenderPDF returns a PDF with one page per surface
	RenderPDF(ctx context.Context, job Job) ([]byte, error)
	// RenderPreview returns a PNG of the front surface
	RenderPreview(ctx context.Context, job Job) ([]byte, error)
}

func (j Job) validate() error {
	if j.Front == nil {
		return ErrNoFront
	}
	return nil
}
