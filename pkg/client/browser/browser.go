// SPDX-FileCopyrightText: Copyright 2026 Carabiner Systems, Inc
// SPDX-License-Identifier: Apache-2.0

// Package browser defines the small set of browser capabilities the login
// automation needs. The chromedp implementation drives a real Chrome; the
// browsertest package provides a scripted fake.
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a selector does not match before the timeout.
var ErrNotFound = errors.New("element not found")

// Decision tells the browser what to do with an intercepted request.
type Decision int

const (
	// Continue lets the request proceed unmodified.
	Continue Decision = iota
	// Abort fails the request before it is dispatched.
	Abort
)

// RequestHandler inspects an outgoing request URL.
type RequestHandler func(url string) Decision

// Element is a snapshot of a DOM element matched by a selector.
type Element struct {
	Text  string `json:"text"`  // visible text
	Value string `json:"value"` // value attribute
	Type  string `json:"type"`  // type attribute
}

// FetchRequest is an HTTP request issued from inside the page so it carries
// the browser origin, cookies and TLS context.
type FetchRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    string
}

// FetchResponse is the result of a FetchRequest.
type FetchResponse struct {
	Status int
	Body   string
}

// OK reports a 2xx status.
func (r *FetchResponse) OK() bool {
	return r != nil && r.Status >= 200 && r.Status < 300
}

// Fetcher issues HTTP requests through a browser's network stack.
type Fetcher interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchResponse, error)
}

// Page is the browser tab the automation drives.
type Page interface {
	Fetcher

	// Navigate loads url and waits for the page to settle.
	Navigate(ctx context.Context, url string) error

	// URL returns the current location.
	URL(ctx context.Context) (string, error)

	// WaitForSelector waits until selector is visible, returning ErrNotFound
	// after timeout.
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error

	// WaitForNavigation waits until the location changes away from the
	// current one and the new document is ready.
	WaitForNavigation(ctx context.Context, timeout time.Duration) error

	// Type sends keystrokes to the first element matching selector.
	Type(ctx context.Context, selector, text string) error

	// Click clicks the first element matching selector.
	Click(ctx context.Context, selector string) error

	// Elements returns a snapshot of every element matching selector.
	Elements(ctx context.Context, selector string) ([]Element, error)

	// ClickElement clicks the index-th element matching selector.
	ClickElement(ctx context.Context, selector string, index int) error

	// InterceptRequests routes every outgoing request through h until
	// StopIntercepting is called.
	InterceptRequests(ctx context.Context, h RequestHandler) error

	// StopIntercepting disables request interception.
	StopIntercepting(ctx context.Context) error
}

// Launcher starts a browser and opens a page. The returned close function
// terminates the browser process and must always be called.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Page, func(), error)
}

// LaunchOptions control the browser process.
type LaunchOptions struct {
	Headless bool
	// ExecPath overrides the browser binary, empty autodetects.
	ExecPath string
}
