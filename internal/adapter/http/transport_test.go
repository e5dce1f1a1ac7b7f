package adapthttp

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestLoggingTransport(t *testing.T) {
	var seenID string
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seenID = r.Header.Get(RequestIDHeader)
		rec := httptest.NewRecorder()
		rec.WriteHeader(http.StatusTeapot)
		return rec.Result(), nil
	})

	// Capture log output
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	tr := &loggingTransport{next: next, log: logger}

	req := httptest.NewRequest("GET", "http://api.test/test-path", nil)
	resp, err := tr.RoundTrip(req)
	if err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("Expected status %d, got %d", http.StatusTeapot, resp.StatusCode)
	}

	if _, err := uuid.Parse(seenID); err != nil {
		t.Errorf("expected a uuid request id, got %q", seenID)
	}
	if req.Header.Get(RequestIDHeader) != "" {
		t.Error("expected the caller's request to be left untouched")
	}

	logOutput := buf.String()
	if !strings.Contains(logOutput, "GET") || !strings.Contains(logOutput, "/test-path") || !strings.Contains(logOutput, "418") || !strings.Contains(logOutput, seenID) {
		t.Errorf("Log output missing expected fields. Got: %s", logOutput)
	}
}

func TestLoggingTransport_KeepsRequestID(t *testing.T) {
	var seenID string
	next := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		seenID = r.Header.Get(RequestIDHeader)
		return httptest.NewRecorder().Result(), nil
	})
	tr := &loggingTransport{next: next, log: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))}

	req := httptest.NewRequest("GET", "http://api.test/", nil)
	req.Header.Set(RequestIDHeader, "fixed-id")
	if _, err := tr.RoundTrip(req); err != nil {
		t.Fatalf("RoundTrip: %v", err)
	}
	if seenID != "fixed-id" {
		t.Errorf("expected caller's id, got %q", seenID)
	}
}

func TestAuthTransport(t *testing.T) {
	var auth string
	tr := &authTransport{next: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		auth = r.Header.Get("Authorization")
		return httptest.NewRecorder().Result(), nil
	})}

	req := httptest.NewRequest("GET", "http://api.test/", nil)
	_, _ = tr.RoundTrip(req)
	if auth != "" {
		t.Errorf("expected no header without a decorator, got %q", auth)
	}

	tr.set(decorate(func(r *http.Request) *http.Request {
		r = r.Clone(r.Context())
		r.Header.Set("Authorization", "JWT abc")
		return r
	}))
	_, _ = tr.RoundTrip(req)
	if auth != "JWT abc" {
		t.Errorf("expected decorated header, got %q", auth)
	}

	tr.set(nil)
	_, _ = tr.RoundTrip(req)
	if auth != "" {
		t.Errorf("expected decorator removed, got %q", auth)
	}
}

type decorate func(*http.Request) *http.Request

func (f decorate) Decorate(r *http.Request) *http.Request { return f(r) }

func TestEndpoint(t *testing.T) {
	tests := []struct {
		base string
		want string
	}{
		{"https://api.parkkiopas.fi/", "https://api.parkkiopas.fi/auth/v1/get-code/"},
		{"https://api.parkkiopas.fi", "https://api.parkkiopas.fi/auth/v1/get-code/"},
		{"https://example.com/parking", "https://example.com/parking/auth/v1/get-code/"},
	}
	for _, tt := range tests {
		c, err := New(tt.base)
		if err != nil {
			t.Fatalf("New(%q): %v", tt.base, err)
		}
		if got := c.endpoint(pathCodeToken, nil); got != tt.want {
			t.Errorf("%s: expected %s, got %s", tt.base, tt.want, got)
		}
	}
}

func TestResolve(t *testing.T) {
	from := "https://api.test/monitoring/v1/region/?page=1"
	tests := []struct {
		ref  string
		want string
	}{
		{"https://other.test/x/?page=2", "https://other.test/x/?page=2"},
		{"/monitoring/v1/region/?page=2", "https://api.test/monitoring/v1/region/?page=2"},
		{"?page=2", "https://api.test/monitoring/v1/region/?page=2"},
	}
	for _, tt := range tests {
		got, err := resolve(from, tt.ref)
		if err != nil {
			t.Fatalf("resolve(%q): %v", tt.ref, err)
		}
		if got != tt.want {
			t.Errorf("resolve(%q): expected %s, got %s", tt.ref, tt.want, got)
		}
	}
}

func TestSuggestedFilename(t *testing.T) {
	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="a.csv"`)
	if got := suggestedFilename(h); got != "a.csv" {
		t.Errorf("got %q", got)
	}
	h.Set(SuggestedFilenameHeader, "b.csv")
	if got := suggestedFilename(h); got != "b.csv" {
		t.Errorf("expected header to win, got %q", got)
	}
}
