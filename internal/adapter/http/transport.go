package adapthttp

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries a per-request id for correlating client and
// server logs.
const RequestIDHeader = "X-Request-ID"

// authTransport passes every request through the installed Decorator.
type authTransport struct {
	next http.RoundTripper

	mu        sync.RWMutex
	decorator Decorator
}

func (t *authTransport) set(d Decorator) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.decorator = d
}

func (t *authTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.mu.RLock()
	d := t.decorator
	t.mu.RUnlock()

	if d != nil {
		req = d.Decorate(req)
	}
	return t.next.RoundTrip(req)
}

// loggingTransport tags requests with an id and logs their outcome.
type loggingTransport struct {
	next http.RoundTripper
	log  *slog.Logger
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	id := req.Header.Get(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
		req = req.Clone(req.Context())
		req.Header.Set(RequestIDHeader, id)
	}

	start := time.Now()
	resp, err := t.next.RoundTrip(req)
	attrs := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"request_id", id,
		"duration", time.Since(start),
	}
	if err != nil {
		t.log.Warn("api request failed", append(attrs, "error", err)...)
		return nil, err
	}
	t.log.Debug("api request", append(attrs, "status", resp.StatusCode)...)
	return resp, nil
}
