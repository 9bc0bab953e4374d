package browser

import (
	"strings"
	"sync"
	"time"
)

// captureBufferLimit bounds how many observed requests/responses are kept.
// Older entries are discarded first.
const captureBufferLimit = 256

type capturedRequest struct {
	URL     string
	Method  string
	Body    string
	Headers map[string]string
	At      time.Time
}

type capturedResponse struct {
	URL    string
	Status int64
	Body   string
	At     time.Time
}

// captureBuffer is the passive record of network traffic the host has
// observed. Capture operations poll it until a match appears or their
// deadline passes.
type captureBuffer struct {
	mu        sync.Mutex
	requests  []capturedRequest
	responses []capturedResponse
}

func newCaptureBuffer() *captureBuffer {
	return &captureBuffer{}
}

func (b *captureBuffer) addRequest(r capturedRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, r)
	if len(b.requests) > captureBufferLimit {
		b.requests = b.requests[len(b.requests)-captureBufferLimit:]
	}
}

func (b *captureBuffer) addResponse(r capturedResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.responses = append(b.responses, r)
	if len(b.responses) > captureBufferLimit {
		b.responses = b.responses[len(b.responses)-captureBufferLimit:]
	}
}

// findHeader returns the newest value of header on a request whose URL
// contains urlSubstring.
func (b *captureBuffer) findHeader(header, urlSubstring string) (string, bool) {
	key := canonicalHeaderKey(header)
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		req := b.requests[i]
		if !strings.Contains(req.URL, urlSubstring) {
			continue
		}
		if v, ok := req.Headers[key]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// findRequestBody returns the newest request body containing trigger.
func (b *captureBuffer) findRequestBody(trigger string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.requests) - 1; i >= 0; i-- {
		if strings.Contains(b.requests[i].Body, trigger) {
			return b.requests[i].Body, true
		}
	}
	return "", false
}

// findResponse returns the newest response accepted by match.
func (b *captureBuffer) findResponse(match ResponseMatcher) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := len(b.responses) - 1; i >= 0; i-- {
		if match(b.responses[i].URL, b.responses[i].Body) {
			return b.responses[i].Body, true
		}
	}
	return "", false
}
