package browser

import (
	"context"
	"encoding/json"
	neturl "net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"drops-miner-backend/internal/common/apperr"
)

const (
	navigationTimeout   = 60 * time.Second
	scriptTimeout       = 15 * time.Second
	cookieTimeout       = 10 * time.Second
	capturePollInterval = 250 * time.Millisecond
)

// Options configures a ChromeHost.
type Options struct {
	Headless    bool
	ExecPath    string
	UserDataDir string
	Log         zerolog.Logger
}

// ChromeHost drives a single Chrome page session over the DevTools
// protocol. Page operations (navigate, script, cookies) hold the host lock
// so only one is ever in flight; captures read the traffic buffer and may
// overlap with them.
type ChromeHost struct {
	opts Options
	buf  *captureBuffer
	log  zerolog.Logger

	mu          sync.Mutex
	allocCancel context.CancelFunc
	cancel      context.CancelFunc
	ctx         context.Context
	initialized bool
}

func NewChromeHost(opts Options) *ChromeHost {
	return &ChromeHost{
		opts: opts,
		buf:  newCaptureBuffer(),
		log:  opts.Log,
	}
}

func (h *ChromeHost) EnsureInitialized(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initialized {
		return nil
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	allocOpts = append(allocOpts,
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("autoplay-policy", "no-user-gesture-required"),
	)
	if !h.opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if h.opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(h.opts.ExecPath))
	}
	if h.opts.UserDataDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(h.opts.UserDataDir))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	h.allocCancel = allocCancel
	h.cancel = cancel
	h.ctx = browserCtx
	h.listen()

	if err := chromedp.Run(browserCtx, network.Enable()); err != nil {
		cancel()
		allocCancel()
		h.ctx = nil
		return apperr.Wrap(err, apperr.CodeInternal, "browser session start failed")
	}

	h.initialized = true
	h.log.Info().Bool("headless", h.opts.Headless).Msg("browser session initialized")
	return nil
}

// Close tears the browser session down.
func (h *ChromeHost) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return
	}
	h.cancel()
	h.allocCancel()
	h.initialized = false
}

// listen records all outbound requests and JSON responses into the capture
// buffer. Bodies are fetched asynchronously; the CDP only exposes them via
// follow-up commands.
func (h *ChromeHost) listen() {
	tctx := h.ctx
	chromedp.ListenTarget(tctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			headers := make(map[string]string, len(e.Request.Headers))
			for k, v := range e.Request.Headers {
				if s, ok := v.(string); ok {
					headers[canonicalHeaderKey(k)] = s
				}
			}
			req := capturedRequest{
				URL:     e.Request.URL,
				Method:  e.Request.Method,
				Headers: headers,
				At:      time.Now(),
			}
			if !e.Request.HasPostData {
				h.buf.addRequest(req)
				return
			}
			id := e.RequestID
			go func() {
				c := chromedp.FromContext(tctx)
				if c == nil || c.Target == nil {
					return
				}
				body, err := network.GetRequestPostData(id).Do(cdp.WithExecutor(tctx, c.Target))
				if err == nil {
					req.Body = body
				}
				h.buf.addRequest(req)
			}()
		case *network.EventLoadingFinished:
			// no-op; bodies are fetched on EventResponseReceived
		case *network.EventResponseReceived:
			if !strings.Contains(e.Response.MimeType, "json") {
				return
			}
			id := e.RequestID
			url := e.Response.URL
			status := e.Response.Status
			go func() {
				c := chromedp.FromContext(tctx)
				if c == nil || c.Target == nil {
					return
				}
				// The body may not be available until loading finishes.
				time.Sleep(200 * time.Millisecond)
				body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(tctx, c.Target))
				if err != nil {
					return
				}
				h.buf.addResponse(capturedResponse{URL: url, Status: status, Body: string(body), At: time.Now()})
			}()
		}
	})
}

// run executes chromedp actions against the session with a timeout, honoring
// caller cancellation.
func (h *ChromeHost) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if !h.initialized || h.ctx == nil {
		return apperr.New(apperr.CodeInternal, "browser session not initialized")
	}
	tctx, cancel := context.WithTimeout(h.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(tctx, actions...)
}

func (h *ChromeHost) Navigate(ctx context.Context, url string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.run(ctx, navigationTimeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return apperr.Wrap(err, apperr.CodeExternalAPI, "navigation failed").WithDetail("url", url)
	}
	return nil
}

func (h *ChromeHost) ExecuteScript(ctx context.Context, js string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	var raw json.RawMessage
	err := h.run(ctx, scriptTimeout, chromedp.Evaluate(js, &raw,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeExternalAPI, "script evaluation failed")
	}
	return string(raw), nil
}

func (h *ChromeHost) GetCookieValue(ctx context.Context, url, name string) (string, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	parsed, err := neturl.Parse(url)
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeInternal, "invalid cookie url")
	}
	host := parsed.Hostname()

	var value string
	err = h.run(ctx, cookieTimeout, chromedp.ActionFunc(func(cctx context.Context) error {
		cookies, err := storage.GetCookies().Do(cctx)
		if err != nil {
			return err
		}
		for _, ck := range cookies {
			if ck.Name != name {
				continue
			}
			if strings.HasSuffix(host, strings.TrimPrefix(ck.Domain, ".")) {
				value = ck.Value
				return nil
			}
		}
		return nil
	}))
	if err != nil {
		return "", apperr.Wrap(err, apperr.CodeExternalAPI, "cookie read failed")
	}
	return value, nil
}

func (h *ChromeHost) AddOrUpdateCookie(ctx context.Context, name, value, domain, path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	err := h.run(ctx, cookieTimeout, chromedp.ActionFunc(func(cctx context.Context) error {
		return network.SetCookie(name, value).
			WithDomain(domain).
			WithPath(path).
			WithSecure(true).
			Do(cctx)
	}))
	if err != nil {
		return apperr.Wrap(err, apperr.CodeExternalAPI, "cookie write failed").WithDetail("name", name)
	}
	return nil
}

func (h *ChromeHost) CaptureRequestHeader(ctx context.Context, header, urlSubstring string, timeout time.Duration) (string, error) {
	return h.poll(ctx, timeout, "request header "+header, func() (string, bool) {
		return h.buf.findHeader(header, urlSubstring)
	})
}

func (h *ChromeHost) CaptureRequestBodyContaining(ctx context.Context, trigger string, timeout time.Duration) (string, error) {
	return h.poll(ctx, timeout, "request body", func() (string, bool) {
		return h.buf.findRequestBody(trigger)
	})
}

func (h *ChromeHost) CaptureResponseMatching(ctx context.Context, match ResponseMatcher, timeout time.Duration) (string, error) {
	return h.poll(ctx, timeout, "response", func() (string, bool) {
		return h.buf.findResponse(match)
	})
}

func (h *ChromeHost) poll(ctx context.Context, timeout time.Duration, what string, find func() (string, bool)) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		if v, ok := find(); ok {
			return v, nil
		}
		if time.Now().After(deadline) {
			return "", apperr.New(apperr.CodeCaptureTimeout, "no matching "+what+" observed")
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(capturePollInterval):
		}
	}
}

func canonicalHeaderKey(k string) string {
	// CDP reports header names with arbitrary casing.
	return strings.ToLower(k)
}
