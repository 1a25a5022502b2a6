// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package browsertest provides a scripted in-memory browser.Page.
package browsertest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/carabiner-dev/podauth/pkg/client/browser"
)

// Target computes the URL a click navigates to. It runs with the page lock
// held and must not call the Page accessors.
type Target func(p *Page) string

// To navigates to a fixed URL.
func To(u string) Target {
	return func(*Page) string { return u }
}

// RedirectWithCode sends the browser to the redirect_uri of the last
// authorization request, echoing its state and carrying code.
func RedirectWithCode(code string) Target {
	return func(p *Page) string {
		return p.redirect(url.Values{"code": {code}})
	}
}

// RedirectWithError sends the browser to the redirect_uri with an OAuth error.
func RedirectWithError(errCode, description string) Target {
	return func(p *Page) string {
		return p.redirect(url.Values{"error": {errCode}, "error_description": {description}})
	}
}

// FromAuthURL lets fn pick the navigation from the last authorization
// request URL, for providers that issue real codes.
func FromAuthURL(fn func(authURL string) string) Target {
	return func(p *Page) string { return fn(p.authURL) }
}

// Screen is one document the fake browser can show.
type Screen struct {
	// Match is a URL prefix selecting this screen.
	Match string

	// Selectors visible on the screen. Matching is by exact string.
	Selectors []string

	// Elements returned by Elements for a selector.
	Elements map[string][]browser.Element

	// OnClick maps a selector (or "selector[index]" for ClickElement) to
	// the navigation it triggers.
	OnClick map[string]Target
}

// Page is a fake browser.Page driven by a list of screens.
type Page struct {
	Screens []*Screen

	// FetchFunc answers Fetch calls. When nil, HTTPClient performs a real
	// request.
	FetchFunc  func(ctx context.Context, req browser.FetchRequest) (*browser.FetchResponse, error)
	HTTPClient *http.Client

	mu       sync.Mutex
	url      string
	current  *Screen
	authURL  string
	handler  browser.RequestHandler
	typed    map[string]string
	clicks   []string
	aborted  []string
	fetches  []browser.FetchRequest
	stopped  bool
	navCount int
}

var _ browser.Page = (*Page)(nil)

// NewPage returns a fake page showing screens.
func NewPage(screens ...*Screen) *Page {
	return &Page{
		Screens: screens,
		typed:   map[string]string{},
	}
}

func (p *Page) match(u string) *Screen {
	var best *Screen
	for _, s := range p.Screens {
		if strings.HasPrefix(u, s.Match) && (best == nil || len(s.Match) > len(best.Match)) {
			best = s
		}
	}
	return best
}

// navigate must be called with p.mu held. Requests the handler aborts leave
// the current document in place.
func (p *Page) navigate(u string) {
	if strings.Contains(u, "redirect_uri=") {
		p.authURL = u
	}
	if p.handler != nil && p.handler(u) == browser.Abort {
		p.aborted = append(p.aborted, u)
		return
	}
	p.url = u
	p.current = p.match(u)
	p.navCount++
}

func (p *Page) redirect(params url.Values) string {
	auth, err := url.Parse(p.authURL)
	if err != nil {
		return ""
	}
	q := auth.Query()
	if s := q.Get("state"); s != "" {
		params.Set("state", s)
	}
	return q.Get("redirect_uri") + "?" + params.Encode()
}

func (p *Page) has(selector string) bool {
	return p.current != nil && slices.Contains(p.current.Selectors, selector)
}

func (p *Page) Navigate(_ context.Context, u string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigate(u)
	return nil
}

func (p *Page) URL(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

func (p *Page) WaitForSelector(_ context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has(selector) {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	return nil
}

func (p *Page) WaitForNavigation(context.Context, time.Duration) error {
	return nil
}

func (p *Page) Type(_ context.Context, selector, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has(selector) {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	p.typed[selector] += text
	return nil
}

func (p *Page) Click(_ context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.has(selector) {
		return fmt.Errorf("%w: %s", browser.ErrNotFound, selector)
	}
	p.clicks = append(p.clicks, selector)
	if t, ok := p.current.OnClick[selector]; ok {
		p.navigate(t(p))
	}
	return nil
}

func (p *Page) Elements(_ context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil, nil
	}
	return p.current.Elements[selector], nil
}

func (p *Page) ClickElement(_ context.Context, selector string, index int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil || index >= len(p.current.Elements[selector]) {
		return fmt.Errorf("%w: %s[%d]", browser.ErrNotFound, selector, index)
	}
	key := fmt.Sprintf("%s[%d]", selector, index)
	p.clicks = append(p.clicks, key)
	if t, ok := p.current.OnClick[key]; ok {
		p.navigate(t(p))
	}
	return nil
}

func (p *Page) Fetch(ctx context.Context, req browser.FetchRequest) (*browser.FetchResponse, error) {
	p.mu.Lock()
	p.fetches = append(p.fetches, req)
	fn := p.FetchFunc
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}

	client := p.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, strings.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return &browser.FetchResponse{Status: resp.StatusCode, Body: string(body)}, nil
}

func (p *Page) InterceptRequests(_ context.Context, h browser.RequestHandler) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = h
	p.stopped = false
	return nil
}

func (p *Page) StopIntercepting(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handler = nil
	p.stopped = true
	return nil
}

// AuthURL returns the last authorization request URL the page loaded.
func (p *Page) AuthURL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.authURL
}

// Typed returns the text typed into selector.
func (p *Page) Typed(selector string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.typed[selector]
}

// Clicks returns the clicked selectors in order.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.clicks)
}

// Aborted returns the URLs the request handler aborted.
func (p *Page) Aborted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.aborted)
}

// Fetches returns every request issued through Fetch.
func (p *Page) Fetches() []browser.FetchRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.fetches)
}

// InterceptionStopped reports whether StopIntercepting was called.
func (p *Page) InterceptionStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Launcher hands out a fixed page.
type Launcher struct {
	Page *Page
	Err  error

	mu       sync.Mutex
	launched int
	closed   int
}

func (l *Launcher) Launch(context.Context, browser.LaunchOptions) (browser.Page, func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, nil, l.Err
	}
	l.launched++
	return l.Page, func() {
		l.mu.Lock()
		l.closed++
		l.mu.Unlock()
	}, nil
}

// Closed reports whether every launched browser was closed.
func (l *Launcher) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.launched > 0 && l.launched == l.closed
}
