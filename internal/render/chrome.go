package render

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// waits for every <img> to finish loading or fail
const waitImagesJS = `() => Promise.all(Array.from(document.images).map(img =>
	img.complete ? null : new Promise(done => { img.onload = img.onerror = done; })))`

var _ Renderer = (*Chrome)(nil)

// ChromeOptions configures the headless Chrome backend
type ChromeOptions struct {
	Bin        string // browser binary, looked up when empty
	ControlURL string // connect to a running browser instead of launching one
	Pages      int    // concurrent pages
	NoSandbox  bool
	Timeout    time.Duration // per render call
}

// Chrome renders through one long-lived headless browser.
// Every call opens a fresh incognito page; at most Pages calls run at once.
type Chrome struct {
	opts   ChromeOptions
	logger *slog.Logger

	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher

	pages chan struct{}
}

// NewChrome creates the backend. The browser starts on first use or Start.
func NewChrome(opts ChromeOptions, logger *slog.Logger) *Chrome {
	if opts.Pages <= 0 {
		opts.Pages = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chrome{
		opts:   opts,
		logger: logger.With("component", "render"),
		pages:  make(chan struct{}, opts.Pages),
	}
}

// Start launches or connects to the browser
func (c *Chrome) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.browser != nil {
		if _, err := c.browser.Version(); err == nil {
			return nil
		}
		c.logger.Warn("stale browser connection, reconnecting")
		c.closeLocked()
	}

	controlURL := c.opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true).NoSandbox(c.opts.NoSandbox)
		if c.opts.Bin != "" {
			l = l.Bin(c.opts.Bin)
		}
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("failed to launch chrome: %w", err)
		}
		controlURL = u
		c.launcher = l
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		if c.launcher != nil {
			c.launcher.Kill()
			c.launcher = nil
		}
		return fmt.Errorf("failed to connect to chrome: %w", err)
	}

	c.browser = browser
	c.logger.Info("chrome connected", "pages", c.opts.Pages)
	return nil
}

// Close shuts the browser down
func (c *Chrome) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Chrome) closeLocked() error {
	var err error
	if c.browser != nil {
		err = c.browser.Close()
		c.browser = nil
	}
	if c.launcher != nil {
		c.launcher.Kill()
		c.launcher.Cleanup()
		c.launcher = nil
	}
	return err
}

func (c *Chrome) acquire(ctx context.Context) error {
	select {
	case c.pages <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Chrome) release() {
	<-c.pages
}

// RenderPDF prints the job as a PDF sized to its format
func (c *Chrome) RenderPDF(ctx context.Context, job Job) ([]byte, error) {
	var out []byte
	err := c.withPage(ctx, job, func(page *rod.Page) error {
		stream, err := page.PDF(&proto.PagePrintToPDF{
			PrintBackground:   true,
			PreferCSSPageSize: true,
			PaperWidth:        ptr(job.Format.WidthIn),
			PaperHeight:       ptr(job.Format.HeightIn),
			MarginTop:         ptr(0),
			MarginBottom:      ptr(0),
			MarginLeft:        ptr(0),
			MarginRight:       ptr(0),
		})
		if err != nil {
			return fmt.Errorf("failed to print pdf: %w", err)
		}
		out, err = io.ReadAll(stream)
		if err != nil {
			return fmt.Errorf("failed to read pdf: %w", err)
		}
		return nil
	})
	return out, err
}

// RenderPreview captures the front surface as PNG
func (c *Chrome) RenderPreview(ctx context.Context, job Job) ([]byte, error) {
	job.Back = nil

	var out []byte
	err := c.withPage(ctx, job, func(page *rod.Page) error {
		var err error
		out, err = page.Screenshot(false, &proto.PageCaptureScreenshot{
			Format: proto.PageCaptureScreenshotFormatPng,
		})
		if err != nil {
			return fmt.Errorf("failed to capture preview: %w", err)
		}
		return nil
	})
	return out, err
}

func (c *Chrome) withPage(ctx context.Context, job Job, fn func(*rod.Page) error) error {
	html, err := HTML(job)
	if err != nil {
		return err
	}

	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	if err := c.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	browser := c.browser
	c.mu.Unlock()
	if browser == nil {
		return errors.New("browser not connected")
	}

	incognito, err := browser.Incognito()
	if err != nil {
		return fmt.Errorf("failed to open browser context: %w", err)
	}
	defer func() {
		if err := incognito.Close(); err != nil {
			c.logger.Debug("failed to close browser context", "error", err)
		}
	}()

	page, err := incognito.Page(proto.TargetCreateTarget{})
	if err != nil {
		return fmt.Errorf("failed to create page: %w", err)
	}
	page = page.Context(ctx)

	css := job.Format.WidthIn * cssDPI
	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             int(css),
		Height:            int(job.Format.HeightIn * cssDPI),
		DeviceScaleFactor: float64(job.Format.WidthPx()) / css,
	}).Call(page); err != nil {
		return fmt.Errorf("failed to set viewport: %w", err)
	}

	if err := page.SetDocumentContent(string(html)); err != nil {
		return fmt.Errorf("failed to load page: %w", err)
	}
	if _, err := page.Eval(waitImagesJS); err != nil {
		return fmt.Errorf("failed waiting for images: %w", err)
	}

	return fn(page)
}

func ptr(f float64) *float64 {
	return &f
}
