// Package fakeapi implements an in-memory stand-in for the provider API and
// the GitHub commits endpoint.
//
// This package provides:
//   - Project listing with cursor pagination (/v9/projects)
//   - Deployment listing with "until" cursor pagination (/v6/deployments)
//   - Deployment deletion (/v13/deployments/{id})
//   - Commit listing (/repos/{owner}/{repo}/commits)
//   - Injectable rate limiting and per-deployment delete failures
//
// It is used by client and command tests through httptest.
package fakeapi

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"deploysweep/internal/vercel"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// projectCursorBase anchors the synthetic update timestamps used as project cursors
const projectCursorBase int64 = 1_700_000_000_000

// Commit is a commit served by the commits endpoint
type Commit struct {
	SHA           string
	AuthorDate    string
	CommitterDate string
}

// Request is a recorded API call
type Request struct {
	Method string
	Path   string
	Query  url.Values
}

// Server holds the fake API state
type Server struct {
	mu sync.Mutex

	Logger *slog.Logger

	// Token, when set, is required as a bearer token on provider routes
	Token string

	projects     []vercel.Project
	deployments  map[string][]vercel.Deployment
	commits      []Commit
	deleted      []string
	failDelete   map[string]int
	requests     []Request
	rateLimited  int
	rateReset    time.Time
	retryAfter   string
	projectsPage int
}

// New creates an empty fake API
func New() *Server {
	return &Server{
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		deployments: make(map[string][]vercel.Deployment),
		failDelete:  make(map[string]int),
	}
}

// AddProject registers a project and its deployments
func (s *Server) AddProject(p vercel.Project, deployments ...vercel.Deployment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projects = append(s.projects, p)
	s.deployments[p.ID] = append(s.deployments[p.ID], deployments...)
}

// SetCommits replaces the commit history, newest first
func (s *Server) SetCommits(commits ...Commit) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.commits = commits
}

// SetProjectsPageSize caps the projects page size below the requested limit
func (s *Server) SetProjectsPageSize(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.projectsPage = n
}

// RateLimit makes the next n requests fail with 429. A zero reset omits the
// reset field from the payload; a non-empty retryAfter sets the header.
func (s *Server) RateLimit(n int, reset time.Time, retryAfter string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rateLimited = n
	s.rateReset = reset
	s.retryAfter = retryAfter
}

// FailDelete makes deleting uid fail with status
func (s *Server) FailDelete(uid string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failDelete[uid] = status
}

// Deleted returns the uids deleted so far, in order
func (s *Server) Deleted() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return slices.Clone(s.deleted)
}

// Requests returns recorded calls matching method and path prefix.
// An empty method matches any method.
func (s *Server) Requests(method, pathPrefix string) []Request {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Request
	for _, r := range s.requests {
		if (method == "" || r.Method == method) && strings.HasPrefix(r.Path, pathPrefix) {
			out = append(out, r)
		}
	}
	return out
}

// Router creates and configures the HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.record)
	r.Use(s.rateLimit)

	r.Get("/repos/{owner}/{repo}/commits", s.handleCommits)

	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Get("/v9/projects", s.handleProjects)
		r.Get("/v6/deployments", s.handleDeployments)
		r.Delete("/v13/deployments/{id}", s.handleDelete)
	})

	return r
}

func (s *Server) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		s.mu.Lock()
		s.requests = append(s.requests, Request{Method: r.Method, Path: r.URL.Path, Query: r.URL.Query()})
		s.mu.Unlock()

		defer func() {
			s.Logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration_ms", time.Since(start).Milliseconds())
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		limited := s.rateLimited > 0
		if limited {
			s.rateLimited--
		}
		reset, retryAfter := s.rateReset, s.retryAfter
		s.mu.Unlock()

		if !limited {
			next.ServeHTTP(w, r)
			return
		}

		limit := map[string]any{"remaining": 0, "total": 100}
		if !reset.IsZero() {
			limit["reset"] = reset.Unix()
		}
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": map[string]any{
				"code":    "rate_limited",
				"message": "Rate limit exceeded",
				"limit":   limit,
			},
		})
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.Token != "" && r.Header.Get("Authorization") != "Bearer "+s.Token {
			writeError(w, http.StatusForbidden, "forbidden", "Not authorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleProjects(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 20)
	until, hasUntil := queryInt64(r, "until")

	s.mu.Lock()
	if s.projectsPage > 0 && s.projectsPage < limit {
		limit = s.projectsPage
	}
	var page []vercel.Project
	var cursors []int64
	for i, p := range s.projects {
		cursor := projectCursorBase - int64(i)*1000
		if hasUntil && cursor >= until {
			continue
		}
		if len(page) == limit {
			break
		}
		page = append(page, p)
		cursors = append(cursors, cursor)
	}
	more := len(page) > 0 && cursors[len(cursors)-1] > projectCursorBase-int64(len(s.projects)-1)*1000
	s.mu.Unlock()

	var next any
	if more {
		next = cursors[len(cursors)-1]
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projects":   emptyIfNil(page),
		"pagination": map[string]any{"count": len(page), "next": next, "prev": nil},
	})
}

func (s *Server) handleDeployments(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("projectId")
	limit := queryInt(r, "limit", 20)
	until, hasUntil := queryInt64(r, "until")

	s.mu.Lock()
	all := slices.Clone(s.deployments[projectID])
	s.mu.Unlock()

	slices.SortStableFunc(all, func(a, b vercel.Deployment) int {
		switch {
		case a.Created > b.Created:
			return -1
		case a.Created < b.Created:
			return 1
		}
		return 0
	})

	var page []vercel.Deployment
	for _, d := range all {
		if hasUntil && d.Created >= until {
			continue
		}
		if len(page) == limit {
			break
		}
		page = append(page, d)
	}

	var next any
	if len(page) == limit {
		next = page[len(page)-1].Created
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deployments": emptyIfNil(page),
		"pagination":  map[string]any{"count": len(page), "next": next, "prev": nil},
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	s.mu.Lock()
	defer s.mu.Unlock()

	if status, ok := s.failDelete[id]; ok {
		writeError(w, status, "delete_failed", fmt.Sprintf("Could not delete %s", id))
		return
	}

	for projectID, list := range s.deployments {
		for i, d := range list {
			if d.UID == id {
				s.deployments[projectID] = slices.Delete(list, i, i+1)
				s.deleted = append(s.deleted, id)
				writeJSON(w, http.StatusOK, map[string]any{"uid": id, "state": "DELETED"})
				return
			}
		}
	}

	writeError(w, http.StatusNotFound, "not_found", "Deployment not found")
}

func (s *Server) handleCommits(w http.ResponseWriter, r *http.Request) {
	perPage := queryInt(r, "per_page", 30)

	s.mu.Lock()
	commits := slices.Clone(s.commits)
	s.mu.Unlock()

	if len(commits) > perPage {
		commits = commits[:perPage]
	}

	out := make([]map[string]any, 0, len(commits))
	for _, c := range commits {
		inner := map[string]any{"message": "commit " + c.SHA}
		if c.AuthorDate != "" {
			inner["author"] = map[string]any{"name": "dev", "date": c.AuthorDate}
		}
		if c.CommitterDate != "" {
			inner["committer"] = map[string]any{"name": "dev", "date": c.CommitterDate}
		}
		out = append(out, map[string]any{"sha": c.SHA, "commit": inner})
	}
	writeJSON(w, http.StatusOK, out)
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func queryInt64(r *http.Request, key string) (int64, bool) {
	v, err := strconv.ParseInt(r.URL.Query().Get(key), 10, 64)
	return v, err == nil
}

func emptyIfNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]any{"code": code, "message": message},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
