// Package browser defines the automation host capability contract the
// mining core depends on, plus a chromedp-backed implementation. The core
// never embeds markup knowledge beyond passing a script string and
// interpreting a JSON-encoded result.
package browser

import (
	"context"
	"time"
)

// ResponseMatcher decides whether a captured network response satisfies a
// capture request. It receives the response URL and body.
type ResponseMatcher func(url, body string) bool

// Host is a controllable page session. One instance exists per platform and
// page operations against the same host are sequenced, never concurrent.
// Capture operations are passive reads of already-observed traffic and may
// run alongside page operations.
type Host interface {
	EnsureInitialized(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	// ExecuteScript evaluates js in the page and returns the JSON-encoded
	// result value.
	ExecuteScript(ctx context.Context, js string) (string, error)
	GetCookieValue(ctx context.Context, url, name string) (string, error)
	AddOrUpdateCookie(ctx context.Context, name, value, domain, path string) error
	// CaptureRequestHeader waits for an outbound request whose URL contains
	// urlSubstring and returns the named header value.
	CaptureRequestHeader(ctx context.Context, header, urlSubstring string, timeout time.Duration) (string, error)
	// CaptureRequestBodyContaining waits for an outbound request whose body
	// contains trigger and returns the body.
	CaptureRequestBodyContaining(ctx context.Context, trigger string, timeout time.Duration) (string, error)
	// CaptureResponseMatching waits for a network response accepted by match
	// and returns its body.
	CaptureResponseMatching(ctx context.Context, match ResponseMatcher, timeout time.Duration) (string, error)
}
