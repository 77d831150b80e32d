package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/harvester/internal/models"
)

// BrowserHandle is one isolated browser session owned by a single pipeline run
type BrowserHandle interface {
	ID() string
}

// OpenOptions seeds a new browser handle
type OpenOptions struct {
	Cookies   []models.Cookie
	UserAgent string
}

// NavigateOptions bounds a navigation. MaxRetries is the total attempt budget.
type NavigateOptions struct {
	Timeout      time.Duration
	MaxRetries   int
	WaitSelector string // Wait condition: CSS selector that must be ready, "body" when empty
}

// ElementOptions bounds a type or click interaction
type ElementOptions struct {
	Timeout    time.Duration
	MaxRetries int
}

// ExtractionStrategy is one approach to pulling records out of a rendered page.
// Strategies are tried in rank order until one yields a non-empty result.
type ExtractionStrategy interface {
	Name() string
	Extract(page *models.PageContent) ([]*models.ExtractedRecord, error)
}

// BrowserAdapter is the browser automation capability the crawl core composes against.
// Navigate, Type and Click retry internally with increasing delays before surfacing
// NavigationError or ElementError.
type BrowserAdapter interface {
	Open(ctx context.Context, opts OpenOptions) (BrowserHandle, error)
	Navigate(ctx context.Context, handle BrowserHandle, target string, opts NavigateOptions) (*models.PageContent, error)
	Type(ctx context.Context, handle BrowserHandle, selector, text string, opts ElementOptions) error
	Click(ctx context.Context, handle BrowserHandle, selector string, opts ElementOptions) error
	// WaitVisible blocks until selector is visible, retrying like Type and Click
	WaitVisible(ctx context.Context, handle BrowserHandle, selector string, opts ElementOptions) error
	Extract(ctx context.Context, handle BrowserHandle, strategies []ExtractionStrategy) (*models.Extraction, error)
	GetCookies(ctx context.Context, handle BrowserHandle) ([]models.Cookie, error)
	// Close releases the handle. Safe to call more than once and with a nil handle.
	Close(handle BrowserHandle) error
}
