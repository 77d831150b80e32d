// Package platforms turns per-platform configuration into crawl profiles.
package platforms

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/harvester/internal/common"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/extract"
)

// Profile is a config-driven interfaces.PlatformProfile
type Profile struct {
	platform   models.Platform
	cfg        common.PlatformConfig
	navigate   interfaces.NavigateOptions
	element    interfaces.ElementOptions
	strategies []interfaces.ExtractionStrategy
}

var _ interfaces.PlatformProfile = (*Profile)(nil)

// NewProfile builds a profile; strategy configuration errors surface here, at startup
func NewProfile(platform models.Platform, cfg common.PlatformConfig, browser common.BrowserConfig) (*Profile, error) {
	if !platform.Valid() {
		return nil, &models.ConfigurationError{Field: "platforms." + string(platform), Reason: "unknown platform"}
	}
	if cfg.TargetURL == "" {
		return nil, &models.ConfigurationError{Field: "platforms." + string(platform) + ".target_url", Reason: "required"}
	}

	strategies, err := extract.FromConfigs(cfg.Strategies)
	if err != nil {
		return nil, err
	}

	policy := browser.RetryPolicy()
	return &Profile{
		platform: platform,
		cfg:      cfg,
		navigate: interfaces.NavigateOptions{
			Timeout:      browser.NavigationTimeoutDuration(),
			MaxRetries:   policy.MaxAttempts,
			WaitSelector: cfg.WaitSelector,
		},
		element: interfaces.ElementOptions{
			Timeout:    browser.ElementTimeoutDuration(),
			MaxRetries: policy.MaxAttempts,
		},
		strategies: strategies,
	}, nil
}

func (p *Profile) Platform() models.Platform {
	return p.platform
}

// TargetURL expands {store_id} and {tenant_id} in the configured template
func (p *Profile) TargetURL(conn *models.Connection) string {
	return strings.NewReplacer(
		"{store_id}", url.PathEscape(conn.ExternalStoreID),
		"{tenant_id}", url.PathEscape(conn.TenantID),
	).Replace(p.cfg.TargetURL)
}

func (p *Profile) NavigateOptions() interfaces.NavigateOptions {
	return p.navigate
}

func (p *Profile) Strategies() []interfaces.ExtractionStrategy {
	return p.strategies
}

// LoginRequired reports whether the page looks like a login wall: the URL carries a
// login marker, the visible text carries a login phrase, or a login form selector matches.
func (p *Profile) LoginRequired(page *models.PageContent) bool {
	if page == nil {
		return false
	}

	lowerURL := strings.ToLower(page.URL)
	for _, marker := range p.cfg.LoginURLMarkers {
		if marker != "" && strings.Contains(lowerURL, strings.ToLower(marker)) {
			return true
		}
	}

	if len(p.cfg.LoginTextMarkers) == 0 && len(p.cfg.LoginSelectors) == 0 {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
	if err != nil {
		return false
	}

	if len(p.cfg.LoginTextMarkers) > 0 {
		text := strings.ToLower(strings.Join(strings.Fields(doc.Find("body").Text()), " "))
		for _, marker := range p.cfg.LoginTextMarkers {
			if marker != "" && strings.Contains(text, strings.ToLower(marker)) {
				return true
			}
		}
	}

	for _, selector := range p.cfg.LoginSelectors {
		if selector != "" && doc.Find(selector).Length() > 0 {
			return true
		}
	}

	return false
}

// Login drives the configured login form: username, optional "next" step, password, submit,
// then waits for the post-login selector when one is configured.
func (p *Profile) Login(ctx context.Context, browser interfaces.BrowserAdapter, handle interfaces.BrowserHandle, creds *models.Credentials) error {
	if p.cfg.UsernameSelector == "" || p.cfg.PasswordSelector == "" || p.cfg.SubmitSelector == "" {
		return &models.ConfigurationError{Field: "platforms." + string(p.platform), Reason: "login selectors are not configured"}
	}

	if p.cfg.LoginURL != "" {
		if _, err := browser.Navigate(ctx, handle, p.cfg.LoginURL, p.navigate); err != nil {
			return fmt.Errorf("open login page: %w", err)
		}
	}

	if err := browser.Type(ctx, handle, p.cfg.UsernameSelector, creds.Username, p.element); err != nil {
		return fmt.Errorf("enter username: %w", err)
	}

	if p.cfg.NextSelector != "" {
		if err := browser.Click(ctx, handle, p.cfg.NextSelector, p.element); err != nil {
			return fmt.Errorf("advance login form: %w", err)
		}
	}

	if err := browser.Type(ctx, handle, p.cfg.PasswordSelector, creds.Password, p.element); err != nil {
		return fmt.Errorf("enter password: %w", err)
	}

	if err := browser.Click(ctx, handle, p.cfg.SubmitSelector, p.element); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	if p.cfg.PostLoginWaitSelector != "" {
		wait := interfaces.ElementOptions{Timeout: p.navigate.Timeout, MaxRetries: p.element.MaxRetries}
		if err := browser.WaitVisible(ctx, handle, p.cfg.PostLoginWaitSelector, wait); err != nil {
			return fmt.Errorf("wait for signed-in page: %w", err)
		}
	}

	return nil
}
