// Package apitest runs an in-process fake of the monitoring API for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"parkmon/internal/domain"
)

// Credentials accepted by a fresh Server.
const (
	Username  = "operator"
	Password  = "secret"
	Code      = "123456"
	CodeToken = "code-token-1"
	Scheme    = "JWT"
)

// Request is a request as the server saw it.
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	RequestID     string
}

// Server is a fake monitoring API. Collections are served in pages of
// PageSize items; the exported fields may be changed between requests.
type Server struct {
	*httptest.Server

	mu            sync.Mutex
	Regions       []domain.Region
	Stats         []domain.RegionStats
	Parkings      []domain.Parking
	PageSize      int
	RelativeNext  bool
	ExportCSV     string
	ExportHeaders map[string]string
	// Fail maps a path to a status the server answers with instead.
	Fail map[string]int

	failTimes  map[string]failure
	tokens     map[string]bool
	issued     int
	requests   []Request
	lastExport map[string]any
}

// New starts a Server and stops it when t ends.
func New(t testing.TB) *Server {
	s := &Server{
		PageSize:  2,
		ExportCSV: "registration_number;time_start\nABC-123;01.03.2024 12.00\n",
		ExportHeaders: map[string]string{
			"X-Suggested-Filename": "parkings_2024-02-01_2024-03-01.csv",
		},
		Fail:      map[string]int{},
		failTimes: map[string]failure{},
		tokens:    map[string]bool{},
	}
	s.Server = httptest.NewServer(s.routes())
	t.Cleanup(s.Close)
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Use(s.failures)

	r.Route("/auth/v1", func(r chi.Router) {
		r.Post("/get-code/", s.handleGetCode)
		r.Post("/auth/", s.handleAuth)
		r.Post("/refresh/", s.handleRefresh)
		r.Post("/verify/", s.handleVerify)
	})
	r.Route("/monitoring/v1", func(r chi.Router) {
		r.Use(s.requireToken)
		r.Get("/region/", func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			items := append([]domain.Region(nil), s.Regions...)
			s.mu.Unlock()
			servePage(s, w, r, "FeatureCollection", items)
		})
		r.Get("/region_statistics/", func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			items := append([]domain.RegionStats(nil), s.Stats...)
			s.mu.Unlock()
			servePage(s, w, r, "", items)
		})
		r.Get("/valid_parking/", func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			items := append([]domain.Parking(nil), s.Parkings...)
			s.mu.Unlock()
			servePage(s, w, r, "FeatureCollection", items)
		})
		r.Post("/export/download/", s.handleExport)
	})
	return r
}

// Requests returns every request received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// RequestsTo returns the requests received for path.
func (s *Server) RequestsTo(path string) []Request {
	var out []Request
	for _, r := range s.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// LastExport returns the decoded body of the last export request.
func (s *Server) LastExport() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastExport
}

// IssueToken makes the server accept a new token and returns it.
func (s *Server) IssueToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueLocked()
}

// RevokeAll makes the server reject every token issued so far.
func (s *Server) RevokeAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = map[string]bool{}
}

func (s *Server) issueLocked() string {
	s.issued++
	tok := "token-" + strconv.Itoa(s.issued)
	s.tokens[tok] = true
	return tok
}

func (s *Server) valid(tok string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens[tok]
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, Request{
			Method:        r.Method,
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			Authorization: r.Header.Get("Authorization"),
			RequestID:     r.Header.Get("X-Request-ID"),
		})
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

type failure struct {
	status int
	left   int
}

// FailTimes makes the next n requests to path fail with status. It is safe
// to call while requests are being served.
func (s *Server) FailTimes(path string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failTimes[path] = failure{status: status, left: n}
}

func (s *Server) failures(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		status, ok := s.Fail[r.URL.Path]
		if f := s.failTimes[r.URL.Path]; !ok && f.left > 0 {
			status, ok = f.status, true
			f.left--
			s.failTimes[r.URL.Path] = f
		}
		s.mu.Unlock()
		if ok {
			writeJSON(w, status, map[string]any{"detail": http.StatusText(status)})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, tok, _ := strings.Cut(r.Header.Get("Authorization"), " ")
		if scheme != Scheme || !s.valid(tok) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"detail": "Authentication credentials were not provided.",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetCode(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Username != Username || body.Password != Password {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"non_field_errors": []string{"Unable to log in with provided credentials."},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"code_token": CodeToken})
}

func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CodeToken string `json:"code_token"`
		Code      string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.CodeToken != CodeToken || body.Code != Code {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"non_field_errors": []string{"Invalid verification code."},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": s.IssueToken()})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !s.valid(body.Token) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"non_field_errors": []string{"Signature has expired."},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": s.IssueToken()})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || !s.valid(body.Token) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"non_field_errors": []string{"Error decoding signature."},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": body.Token})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"detail": err.Error()})
		return
	}

	s.mu.Lock()
	s.lastExport = body
	csv := s.ExportCSV
	headers := s.ExportHeaders
	s.mu.Unlock()

	for k, v := range headers {
		w.Header().Set(k, v)
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(csv))
}

func servePage[T any](s *Server, w http.ResponseWriter, r *http.Request, typ string, items []T) {
	s.mu.Lock()
	size := s.PageSize
	relative := s.RelativeNext
	s.mu.Unlock()
	if size <= 0 {
		size = len(items) + 1
	}

	page := 1
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSON(w, http.StatusNotFound, map[string]any{"detail": "Invalid page."})
			return
		}
		page = n
	}

	start := (page - 1) * size
	if start > len(items) {
		start = len(items)
	}
	end := min(start+size, len(items))

	link := func(n int) any {
		q := r.URL.Query()
		q.Set("page", strconv.Itoa(n))
		u := fmt.Sprintf("%s?%s", r.URL.Path, q.Encode())
		if !relative {
			u = "http://" + r.Host + u
		}
		return u
	}
	var next, prev any
	if end < len(items) {
		next = link(page + 1)
	}
	if page > 1 {
		prev = link(page - 1)
	}

	out := map[string]any{
		"count":    len(items),
		"next":     next,
		"previous": prev,
	}
	if typ != "" {
		out["type"] = typ
		out["features"] = items[start:end]
	} else {
		out["results"] = items[start:end]
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
