// Package browser drives headless Chrome through chromedp for the crawl pipeline.
package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"golang.org/x/time/rate"
)

// ErrHandleClosed is returned for operations on a closed or foreign handle
var ErrHandleClosed = errors.New("browser handle is closed")

// Runner executes chromedp actions; chromedp.Run in production
type Runner func(ctx context.Context, actions ...chromedp.Action) error

// ChromeAdapter implements interfaces.BrowserAdapter. Every handle owns its own
// exec allocator and browser context; nothing is shared between pipeline runs
// except the navigation rate limiter.
type ChromeAdapter struct {
	cfg     common.BrowserConfig
	policy  common.RetryPolicy
	limiter *rate.Limiter
	run     Runner
	logger  arbor.ILogger

	mu      sync.Mutex
	handles map[string]*chromeHandle
}

var _ interfaces.BrowserAdapter = (*ChromeAdapter)(nil)

type chromeHandle struct {
	id        string
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    chan struct{}
}

func (h *chromeHandle) ID() string { return h.id }

func newChromeHandle(id string, ctx context.Context, cancel context.CancelFunc) *chromeHandle {
	return &chromeHandle{id: id, ctx: ctx, cancel: cancel, closed: make(chan struct{})}
}

func (h *chromeHandle) isClosed() bool {
	select {
	case <-h.closed:
		return true
	default:
		return false
	}
}

// NewChromeAdapter creates an adapter from browser configuration
func NewChromeAdapter(cfg common.BrowserConfig, logger arbor.ILogger) *ChromeAdapter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &ChromeAdapter{
		cfg:     cfg,
		policy:  cfg.RetryPolicy(),
		limiter: rate.NewLimiter(limit, burst),
		run:     chromedp.Run,
		logger:  logger,
		handles: make(map[string]*chromeHandle),
	}
}

// Open starts a dedicated browser and seeds it with cookies
func (a *ChromeAdapter) Open(ctx context.Context, opts interfaces.OpenOptions) (interfaces.BrowserHandle, error) {
	userAgent := opts.UserAgent
	if userAgent == "" {
		userAgent = a.cfg.UserAgent
	}

	allocatorOpts := append(
		chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", a.cfg.Headless),
		chromedp.Flag("disable-gpu", a.cfg.DisableGPU),
		chromedp.Flag("no-sandbox", a.cfg.NoSandbox),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(userAgent),
	)
	if a.cfg.ExecPath != "" {
		allocatorOpts = append(allocatorOpts, chromedp.ExecPath(a.cfg.ExecPath))
	}

	// Handle lifetime is bounded by Close, not by the caller's context
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(context.Background(), allocatorOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	cancel := func() {
		browserCancel()
		allocatorCancel()
	}

	h := newChromeHandle(common.NewHandleID(), browserCtx, cancel)

	startCtx, stop := a.opContext(ctx, h, a.cfg.NavigationTimeoutDuration())
	defer stop()

	params := toCookieParams(opts.Cookies, time.Now())
	err := a.run(startCtx,
		network.Enable(),
		chromedp.ActionFunc(func(ctx context.Context) error {
			for _, c := range params {
				set := network.SetCookie(c.Name, c.Value).
					WithDomain(c.Domain).
					WithPath(c.Path).
					WithSecure(c.Secure).
					WithHTTPOnly(c.HTTPOnly).
					WithExpires(c.Expires)
				if c.SameSite != "" {
					set = set.WithSameSite(c.SameSite)
				}
				if err := set.Do(ctx); err != nil {
					a.logger.Warn().Err(err).Str("cookie_name", c.Name).Str("domain", c.Domain).Msg("Failed to inject cookie")
				}
			}
			return nil
		}),
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	a.register(h)

	a.logger.Debug().
		Str("handle", h.id).
		Int("cookies", len(params)).
		Msg("Browser handle opened")

	return h, nil
}

func (a *ChromeAdapter) register(h *chromeHandle) {
	a.mu.Lock()
	a.handles[h.id] = h
	a.mu.Unlock()
}

func (a *ChromeAdapter) lookup(handle interfaces.BrowserHandle) (*chromeHandle, error) {
	if handle == nil {
		return nil, ErrHandleClosed
	}
	a.mu.Lock()
	h, ok := a.handles[handle.ID()]
	a.mu.Unlock()
	if !ok || h.isClosed() {
		return nil, ErrHandleClosed
	}
	return h, nil
}

// opContext derives a per-operation context from the handle that also ends when
// the caller's context does
func (a *ChromeAdapter) opContext(ctx context.Context, h *chromeHandle, timeout time.Duration) (context.Context, context.CancelFunc) {
	opCtx, cancel := context.WithTimeout(h.ctx, timeout)
	stop := context.AfterFunc(ctx, cancel)
	return opCtx, func() {
		stop()
		cancel()
	}
}

func (a *ChromeAdapter) retryPolicy(maxRetries int) common.RetryPolicy {
	policy := a.policy
	if maxRetries > 0 {
		policy.MaxAttempts = maxRetries
	}
	return policy
}

// Navigate loads target, waits for the wait selector, and captures the rendered page
func (a *ChromeAdapter) Navigate(ctx context.Context, handle interfaces.BrowserHandle, target string, opts interfaces.NavigateOptions) (*models.PageContent, error) {
	h, err := a.lookup(handle)
	if err != nil {
		return nil, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = a.cfg.NavigationTimeoutDuration()
	}
	waitSelector := opts.WaitSelector
	if waitSelector == "" {
		waitSelector = "body"
	}

	page := &models.PageContent{URL: target}
	attempts, err := common.RetryWithBackoff(ctx, a.retryPolicy(opts.MaxRetries), a.logger, func(ctx context.Context, attempt int) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return common.Permanent(err)
		}

		opCtx, cancel := a.opContext(ctx, h, timeout)
		defer cancel()

		var location, title, html string
		if err := a.run(opCtx,
			chromedp.Navigate(target),
			chromedp.WaitReady(waitSelector, chromedp.ByQuery),
			chromedp.Location(&location),
			chromedp.Title(&title),
			chromedp.OuterHTML("html", &html, chromedp.ByQuery),
		); err != nil {
			return err
		}

		if location != "" {
			page.URL = location
		}
		page.Title = title
		page.HTML = html
		return nil
	})
	if err != nil {
		return nil, &models.NavigationError{Target: target, Attempts: attempts, Err: err}
	}

	a.logger.Debug().
		Str("handle", h.id).
		Str("url", page.URL).
		Int("attempts", attempts).
		Int("html_length", len(page.HTML)).
		Msg("Navigation complete")

	return page, nil
}

func (a *ChromeAdapter) Type(ctx context.Context, handle interfaces.BrowserHandle, selector, text string, opts interfaces.ElementOptions) error {
	return a.element(ctx, handle, "type", selector, opts,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, text, chromedp.ByQuery),
	)
}

func (a *ChromeAdapter) Click(ctx context.Context, handle interfaces.BrowserHandle, selector string, opts interfaces.ElementOptions) error {
	return a.element(ctx, handle, "click", selector, opts,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

func (a *ChromeAdapter) WaitVisible(ctx context.Context, handle interfaces.BrowserHandle, selector string, opts interfaces.ElementOptions) error {
	return a.element(ctx, handle, "wait", selector, opts,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
	)
}

// element runs an element interaction under the shared retry policy
func (a *ChromeAdapter) element(ctx context.Context, handle interfaces.BrowserHandle, action, selector string, opts interfaces.ElementOptions, actions ...chromedp.Action) error {
	h, err := a.lookup(handle)
	if err != nil {
		return err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = a.cfg.ElementTimeoutDuration()
	}

	attempts, err := common.RetryWithBackoff(ctx, a.retryPolicy(opts.MaxRetries), a.logger, func(ctx context.Context, attempt int) error {
		opCtx, cancel := a.opContext(ctx, h, timeout)
		defer cancel()
		return a.run(opCtx, actions...)
	})
	if err != nil {
		return &models.ElementError{Selector: selector, Action: action, Attempts: attempts, Err: err}
	}
	return nil
}

// Extract reads the current DOM and runs the ranked strategies against it
func (a *ChromeAdapter) Extract(ctx context.Context, handle interfaces.BrowserHandle, strategies []interfaces.ExtractionStrategy) (*models.Extraction, error) {
	h, err := a.lookup(handle)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := a.opContext(ctx, h, a.cfg.ElementTimeoutDuration())
	defer cancel()

	var location, title, html string
	if err := a.run(opCtx,
		chromedp.Location(&location),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	); err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	return RunStrategies(&models.PageContent{URL: location, Title: title, HTML: html}, strategies, a.logger), nil
}

// GetCookies reads the browser's cookies for the current page
func (a *ChromeAdapter) GetCookies(ctx context.Context, handle interfaces.BrowserHandle) ([]models.Cookie, error) {
	h, err := a.lookup(handle)
	if err != nil {
		return nil, err
	}

	opCtx, cancel := a.opContext(ctx, h, a.cfg.ElementTimeoutDuration())
	defer cancel()

	var cookies []*network.Cookie
	if err := a.run(opCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	})); err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	return fromNetworkCookies(cookies), nil
}

// Close shuts the handle's browser down. Repeated calls and nil handles are no-ops.
func (a *ChromeAdapter) Close(handle interfaces.BrowserHandle) error {
	if handle == nil {
		return nil
	}

	a.mu.Lock()
	h, ok := a.handles[handle.ID()]
	delete(a.handles, handle.ID())
	a.mu.Unlock()
	if !ok {
		return nil
	}

	h.closeOnce.Do(func() {
		close(h.closed)
		if h.cancel != nil {
			h.cancel()
		}
		a.logger.Debug().Str("handle", h.id).Msg("Browser handle closed")
	})
	return nil
}

// OpenHandles returns the number of handles not yet closed
func (a *ChromeAdapter) OpenHandles() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.handles)
}

// Shutdown closes every handle still open, for process exit
func (a *ChromeAdapter) Shutdown() {
	a.mu.Lock()
	open := make([]*chromeHandle, 0, len(a.handles))
	for _, h := range a.handles {
		open = append(open, h)
	}
	a.mu.Unlock()

	for _, h := range open {
		_ = a.Close(h)
	}
	if len(open) > 0 {
		a.logger.Warn().Int("count", len(open)).Msg("Closed browser handles left open at shutdown")
	}
}
