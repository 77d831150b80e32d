// Package browsertest provides a scriptable interfaces.BrowserAdapter for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/harvester/internal/interfaces"
	"github.com/ternarybob/harvester/internal/models"
	"github.com/ternarybob/harvester/internal/services/browser"
)

type handle struct {
	id string
}

func (h *handle) ID() string { return h.id }

// Fake records every call and serves pages from NavigateFunc or Pages.
// Element errors are keyed by selector.
type Fake struct {
	mu sync.Mutex

	Pages        map[string]*models.PageContent
	NavigateFunc func(target string) (*models.PageContent, error)
	Cookies      []models.Cookie
	CookiesErr   error
	OpenErr      error
	ElementErrs  map[string]error
	ExtractErr   error
	PanicOn      string // call name that panics, e.g. "extract"

	Calls       []string
	OpenCookies [][]models.Cookie
	Typed       map[string]string
	opened      int
	closed      map[string]bool
	current     map[string]*models.PageContent // last page per handle
	logger      arbor.ILogger
}

var _ interfaces.BrowserAdapter = (*Fake)(nil)

func NewFake() *Fake {
	return &Fake{
		Pages:       map[string]*models.PageContent{},
		ElementErrs: map[string]error{},
		Typed:       map[string]string{},
		closed:      map[string]bool{},
		current:     map[string]*models.PageContent{},
		logger:      arbor.NewLogger(),
	}
}

// SetPage serves html for target
func (f *Fake) SetPage(target, html string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Pages[target] = &models.PageContent{URL: target, HTML: html}
}

func (f *Fake) record(call string) {
	f.Calls = append(f.Calls, call)
	if f.PanicOn != "" && f.PanicOn == call {
		panic("browsertest: induced panic on " + call)
	}
}

func (f *Fake) Open(ctx context.Context, opts interfaces.OpenOptions) (interfaces.BrowserHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("open")
	if f.OpenErr != nil {
		return nil, f.OpenErr
	}
	f.opened++
	f.OpenCookies = append(f.OpenCookies, opts.Cookies)
	return &handle{id: fmt.Sprintf("fake_%d", f.opened)}, nil
}

func (f *Fake) check(h interfaces.BrowserHandle) error {
	if h == nil || f.closed[h.ID()] {
		return browser.ErrHandleClosed
	}
	return nil
}

// Navigate serves NavigateFunc when set, otherwise Pages. NavigateFunc runs
// under the fake's lock and must not call back into the Fake.
func (f *Fake) Navigate(ctx context.Context, h interfaces.BrowserHandle, target string, opts interfaces.NavigateOptions) (*models.PageContent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("navigate:" + target)
	if err := f.check(h); err != nil {
		return nil, err
	}

	var (
		page *models.PageContent
		err  error
	)
	if f.NavigateFunc != nil {
		page, err = f.NavigateFunc(target)
	} else if page = f.Pages[target]; page == nil {
		err = &models.NavigationError{Target: target, Attempts: 1, Err: errors.New("no page")}
	}
	if err != nil {
		return nil, err
	}
	f.current[h.ID()] = page
	return page, nil
}

func (f *Fake) element(h interfaces.BrowserHandle, action, selector string) error {
	f.record(action + ":" + selector)
	if err := f.check(h); err != nil {
		return err
	}
	if err := f.ElementErrs[selector]; err != nil {
		return &models.ElementError{Selector: selector, Action: action, Attempts: 1, Err: err}
	}
	return nil
}

func (f *Fake) Type(ctx context.Context, h interfaces.BrowserHandle, selector, text string, opts interfaces.ElementOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.element(h, "type", selector); err != nil {
		return err
	}
	f.Typed[selector] = text
	return nil
}

func (f *Fake) Click(ctx context.Context, h interfaces.BrowserHandle, selector string, opts interfaces.ElementOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.element(h, "click", selector)
}

func (f *Fake) WaitVisible(ctx context.Context, h interfaces.BrowserHandle, selector string, opts interfaces.ElementOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.element(h, "wait", selector)
}

// Extract runs the strategies against the page last navigated on h
func (f *Fake) Extract(ctx context.Context, h interfaces.BrowserHandle, strategies []interfaces.ExtractionStrategy) (*models.Extraction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("extract")
	if err := f.check(h); err != nil {
		return nil, err
	}
	if f.ExtractErr != nil {
		return nil, f.ExtractErr
	}
	page := f.current[h.ID()]
	if page == nil {
		page = &models.PageContent{}
	}
	return browser.RunStrategies(page, strategies, f.logger), nil
}

func (f *Fake) GetCookies(ctx context.Context, h interfaces.BrowserHandle) ([]models.Cookie, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("cookies")
	if err := f.check(h); err != nil {
		return nil, err
	}
	if f.CookiesErr != nil {
		return nil, f.CookiesErr
	}
	return append([]models.Cookie(nil), f.Cookies...), nil
}

func (f *Fake) Close(h interfaces.BrowserHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if h == nil {
		return nil
	}
	if !f.closed[h.ID()] {
		f.Calls = append(f.Calls, "close")
		f.closed[h.ID()] = true
	}
	return nil
}

// Opened returns how many handles were opened
func (f *Fake) Opened() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

// OpenHandles returns how many opened handles were never closed
func (f *Fake) OpenHandles() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened - len(f.closed)
}

// CallLog returns a copy of the recorded calls
func (f *Fake) CallLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.Calls...)
}

// Count returns how many times call was recorded
func (f *Fake) Count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == call {
			n++
		}
	}
	return n
}
