package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonathan/role-audition/internal/fetch"
)

var (
	// ErrHTTPRequestFailed wraps fetch failures.
	ErrHTTPRequestFailed = errors.New("HTTP request failed")
	// ErrContentExtractionFailed wraps HTML parsing failures.
	ErrContentExtractionFailed = errors.New("content extraction failed")
	// ErrNoContent is returned when a page yields no text at all.
	ErrNoContent = errors.New("page contained no job description text")
)

// URLOptions configures IngestFromURL.
type URLOptions struct {
	Fetcher *fetch.Fetcher
	// Renderer is used when the plain fetch yields too little text. Nil
	// disables the browser fallback.
	Renderer fetch.Renderer
	Logger   *slog.Logger
}

// IngestFromURL fetches a job posting, extracts its main text with
// platform-aware selectors, and returns the sanitized text.
func IngestFromURL(ctx context.Context, urlStr string, opts URLOptions) (string, *Metadata, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = fetch.NewFetcher(nil)
	}

	platform := fetch.DetectPlatform(urlStr)
	logger.Debug("ingesting job posting", "url", urlStr, "platform", platform)

	page, err := fetcher.Get(ctx, urlStr)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrHTTPRequestFailed, err)
	}

	content := fetch.PlatformContentSelectors(platform)
	noise := fetch.PlatformNoiseSelectors(platform)

	text, err := fetch.ExtractMainText(page.HTML, content, noise...)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrContentExtractionFailed, err)
	}
	html := page.HTML
	rendered := false

	if opts.Renderer != nil && fetch.ShouldUseBrowser(text) {
		logger.Info("content too short, rendering in browser", "url", urlStr, "chars", len(text))
		browserHTML, renderErr := opts.Renderer.Render(ctx, urlStr)
		if renderErr != nil {
			logger.Warn("browser rendering failed, keeping HTTP content", "url", urlStr, "error", renderErr)
		} else if browserText, extractErr := fetch.ExtractMainText(browserHTML, content, noise...); extractErr != nil {
			logger.Warn("browser content extraction failed", "url", urlStr, "error", extractErr)
		} else {
			text, html, rendered = browserText, browserHTML, true
		}
	}

	cleaned := CleanText(text)
	if cleaned == "" {
		return "", nil, ErrNoContent
	}

	meta := NewMetadata(cleaned, urlStr)
	meta.Platform = string(platform)
	meta.Title = fetch.Title(html)
	meta.Rendered = rendered
	logger.Debug("ingested job posting", "url", urlStr, "chars", meta.Chars, "rendered", rendered)

	return cleaned, meta, nil
}
