// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// settleDelay is waited after a document reports ready so late XHRs issued
// by the login pages can finish.
const settleDelay = 500 * time.Millisecond

// ChromeLauncher starts Chrome through chromedp.
type ChromeLauncher struct {
	Logger *zap.Logger
}

// Launch starts a browser process and opens one tab.
func (l *ChromeLauncher) Launch(ctx context.Context, opts LaunchOptions) (Page, func(), error) {
	logger := l.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.WindowSize(1280, 900),
	)
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	closeFn := func() {
		cancelTab()
		cancelAlloc()
	}

	// The first Run starts the process. It must not run under a timeout
	// context or the browser would be killed when the timeout fires.
	if err := chromedp.Run(tabCtx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("starting browser: %w", err)
	}

	logger.Debug("browser started", zap.Bool("headless", opts.Headless))
	return &chromePage{ctx: tabCtx, logger: logger}, closeFn, nil
}

type chromePage struct {
	ctx    context.Context
	logger *zap.Logger

	mu        sync.Mutex
	handler   RequestHandler
	listening bool
}

// bound derives a context from the tab context that is also cancelled when
// ctx is done or timeout elapses.
func (p *chromePage) bound(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.ctx)
	stop := context.AfterFunc(ctx, cancel)
	if timeout <= 0 {
		return runCtx, func() {
			stop()
			cancel()
		}
	}
	runCtx, cancelTimeout := context.WithTimeout(runCtx, timeout)
	return runCtx, func() {
		cancelTimeout()
		stop()
		cancel()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	rc, cancel := p.bound(ctx, 0)
	defer cancel()

	if err := chromedp.Run(rc,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(settleDelay),
	); err != nil {
		return fmt.Errorf("navigating to %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	rc, cancel := p.bound(ctx, 0)
	defer cancel()

	var loc string
	if err := chromedp.Run(rc, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return loc, nil
}

func (p *chromePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	rc, cancel := p.bound(ctx, timeout)
	defer cancel()

	if err := chromedp.Run(rc, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(rc.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrNotFound, selector)
		}
		return fmt.Errorf("waiting for %s: %w", selector, err)
	}
	return nil
}

func (p *chromePage) WaitForNavigation(ctx context.Context, timeout time.Duration) error {
	rc, cancel := p.bound(ctx, timeout)
	defer cancel()

	var start string
	if err := chromedp.Run(rc, chromedp.Location(&start)); err != nil {
		return fmt.Errorf("reading location: %w", err)
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-rc.Done():
			return fmt.Errorf("waiting for navigation from %s: %w", start, rc.Err())
		case <-ticker.C:
		}

		var loc string
		if err := chromedp.Run(rc, chromedp.Location(&loc)); err != nil {
			return fmt.Errorf("reading location: %w", err)
		}
		if loc == start {
			continue
		}
		return chromedp.Run(rc,
			chromedp.WaitReady("body", chromedp.ByQuery),
			chromedp.Sleep(settleDelay),
		)
	}
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	rc, cancel := p.bound(ctx, 0)
	defer cancel()

	if err := chromedp.Run(rc, chromedp.SendKeys(selector, text, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("typing into %s: %w", selector, err)
	}
	return nil
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	rc, cancel := p.bound(ctx, 0)
	defer cancel()

	if err := chromedp.Run(rc, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("clicking %s: %w", selector, err)
	}
	return nil
}

const elementsScript = `Array.from(document.querySelectorAll(%s)).map(e => ({
	text: (e.innerText || e.textContent || "").trim(),
	value: e.value || "",
	type: (e.getAttribute("type") || "").toLowerCase()
}))`

func (p *chromePage) Elements(ctx context.Context, selector string) ([]Element, error) {
	rc, cancel := p.bound(ctx, 0)
	defer cancel()

	sel, err := json.Marshal(selector)
	if err != nil {
		return nil, err
	}

	var res []Element
	if err := chromedp.Run(rc, chromedp.Evaluate(fmt.Sprintf(elementsScript, sel), &res)); err != nil {
		return nil, fmt.Errorf("querying %s: %w", selector, err)
	}
	return res, nil
}

const clickNthScript = `(() => {
	const els = document.querySelectorAll(%s);
	if (%d >= els.length) return false;
	els[%d].click();
	return true;
})()`

func (p *chromePage) ClickElement(ctx context.Context, selector string, index int) error {
	rc, cancel := p.bound(ctx, 0)
	defer cancel()

	sel, err := json.Marshal(selector)
	if err != nil {
		return err
	}

	var clicked bool
	if err := chromedp.Run(rc, chromedp.Evaluate(fmt.Sprintf(clickNthScript, sel, index, index), &clicked)); err != nil {
		return fmt.Errorf("clicking %s[%d]: %w", selector, index, err)
	}
	if !clicked {
		return fmt.Errorf("%w: %s[%d]", ErrNotFound, selector, index)
	}
	return nil
}

const fetchScript = `(async () => {
	const resp = await fetch(%s, %s);
	return { status: resp.status, body: await resp.text() };
})()`

// Fetch runs window.fetch inside the page and awaits the result.
func (p *chromePage) Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error) {
	rc, cancel := p.bound(ctx, 0)
	defer cancel()

	init := map[string]any{
		"method":      req.Method,
		"credentials": "include",
	}
	if len(req.Headers) > 0 {
		init["headers"] = req.Headers
	}
	if req.Body != "" {
		init["body"] = req.Body
	}
	initJSON, err := json.Marshal(init)
	if err != nil {
		return nil, fmt.Errorf("encoding fetch options: %w", err)
	}
	urlJSON, err := json.Marshal(req.URL)
	if err != nil {
		return nil, err
	}

	var res struct {
		Status int    `json:"status"`
		Body   string `json:"body"`
	}
	awaitPromise := func(params *runtime.EvaluateParams) *runtime.EvaluateParams {
		return params.WithAwaitPromise(true)
	}
	if err := chromedp.Run(rc, chromedp.Evaluate(fmt.Sprintf(fetchScript, urlJSON, initJSON), &res, awaitPromise)); err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	return &FetchResponse{Status: res.Status, Body: res.Body}, nil
}

func (p *chromePage) InterceptRequests(ctx context.Context, h RequestHandler) error {
	p.mu.Lock()
	p.handler = h
	listening := p.listening
	p.listening = true
	p.mu.Unlock()

	// Listeners cannot be removed, StopIntercepting clears the handler instead
	if !listening {
		chromedp.ListenTarget(p.ctx, p.onTargetEvent)
	}

	rc, cancel := p.bound(ctx, 0)
	defer cancel()
	return chromedp.Run(rc, fetch.Enable().WithPatterns([]*fetch.RequestPattern{
		{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
	}))
}

func (p *chromePage) StopIntercepting(ctx context.Context) error {
	p.mu.Lock()
	p.handler = nil
	p.mu.Unlock()

	rc, cancel := p.bound(ctx, 0)
	defer cancel()
	return chromedp.Run(rc, fetch.Disable())
}

func (p *chromePage) onTargetEvent(ev interface{}) {
	paused, ok := ev.(*fetch.EventRequestPaused)
	if !ok {
		return
	}

	// Commands cannot be issued from the listener goroutine
	go func() {
		p.mu.Lock()
		h := p.handler
		p.mu.Unlock()

		decision := Continue
		if h != nil {
			decision = h(paused.Request.URL)
		}

		execCtx := cdp.WithExecutor(p.ctx, chromedp.FromContext(p.ctx).Target)
		var err error
		if decision == Abort {
			err = fetch.FailRequest(paused.RequestID, network.ErrorReasonAborted).Do(execCtx)
		} else {
			err = fetch.ContinueRequest(paused.RequestID).Do(execCtx)
		}
		if err != nil && p.ctx.Err() == nil {
			p.logger.Debug("resolving paused request", zap.String("request_id", string(paused.RequestID)), zap.Error(err))
		}
	}()
}
