package cnl

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Capture is a link submission lifted out of page traffic.
type Capture struct {
	ID        string   `json:"id,omitempty"`
	Type      Endpoint `json:"type"`
	URL       string   `json:"url"`
	FormData  FormData `json:"formData"`
	SourceURL string   `json:"sourceUrl"`
	Timestamp int64    `json:"timestamp"`
}

// Sink receives captures. Implementations forward them to the router.
type Sink interface {
	SubmitCapture(ctx context.Context, c Capture) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, c Capture) error

func (f SinkFunc) SubmitCapture(ctx context.Context, c Capture) error { return f(ctx, c) }

// Request is the part of an outbound page request the interceptor inspects.
type Request struct {
	URL         string
	Body        any
	ContentType string
	// SourceURL overrides the page URL the interceptor was created with.
	SourceURL string
}

// PingStatus answers the router's liveness probe.
type PingStatus struct {
	Status    string `json:"status"`
	URL       string `json:"url"`
	Installed bool   `json:"installed"`
}

// Interceptor impersonates a local CNL service for one page context.
type Interceptor struct {
	sink      Sink
	installed atomic.Bool
	now       func() time.Time

	mu      sync.RWMutex
	pageURL string
}

// New creates an interceptor for the page at pageURL.
func New(sink Sink, pageURL string) *Interceptor {
	return &Interceptor{sink: sink, pageURL: pageURL, now: time.Now}
}

// MarkInstalled flips the install guard. It returns false when the
// interceptor was already installed, in which case callers do nothing.
func (ic *Interceptor) MarkInstalled() bool {
	return ic.installed.CompareAndSwap(false, true)
}

// Installed reports whether MarkInstalled has succeeded once.
func (ic *Interceptor) Installed() bool {
	return ic.installed.Load()
}

// SetPageURL records a navigation of the page context.
func (ic *Interceptor) SetPageURL(u string) {
	ic.mu.Lock()
	ic.pageURL = u
	ic.mu.Unlock()
}

// PageURL returns the current page URL.
func (ic *Interceptor) PageURL() string {
	ic.mu.RLock()
	defer ic.mu.RUnlock()
	return ic.pageURL
}

// Ping answers the liveness probe with installation status and page URL.
func (ic *Interceptor) Ping() PingStatus {
	return PingStatus{Status: "active", URL: ic.PageURL(), Installed: ic.Installed()}
}

// Intercept decides whether req is CNL traffic. When handled is false the
// caller must pass the request through untouched.
func (ic *Interceptor) Intercept(ctx context.Context, req Request) (resp Response, handled bool) {
	if !IsCNLURL(req.URL) {
		return Response{}, false
	}

	endpoint := Classify(req.URL)
	slog.Debug("cnl request intercepted", "url", req.URL, "endpoint", endpoint)

	switch endpoint {
	case EndpointCapabilityCheck:
		return capabilityResponse(), true
	case EndpointCrossDomain:
		return crossDomainResponse(), true
	case EndpointAddCrypted, EndpointAdd:
		ic.forward(ctx, endpoint, req)
		return submissionResponse(), true
	default:
		slog.Warn("cnl request to unrecognized endpoint suppressed", "url", req.URL)
		return suppressedResponse(), true
	}
}

func (ic *Interceptor) forward(ctx context.Context, endpoint Endpoint, req Request) {
	source := req.SourceURL
	if source == "" {
		source = ic.PageURL()
	}
	capture := Capture{
		Type:      endpoint,
		URL:       req.URL,
		FormData:  ExtractFormData(req.Body, req.ContentType),
		SourceURL: source,
		Timestamp: ic.now().UnixMilli(),
	}
	if ic.sink == nil {
		slog.Error("cnl capture dropped: no sink", "type", endpoint, "url", req.URL)
		return
	}
	if err := ic.sink.SubmitCapture(ctx, capture); err != nil {
		slog.Error("cnl capture forward failed", "type", endpoint, "url", req.URL, "error", err)
		return
	}
	slog.Info("cnl capture forwarded", "type", endpoint, "source_url", source)
}
