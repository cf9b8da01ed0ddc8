// Package server provides an HTTP review API over one session: list and
// search issues, apply suggestions, change statuses, undo and redo.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jmylchreest/sheetqa/pkg/history"
	"github.com/jmylchreest/sheetqa/pkg/issue"
	"github.com/jmylchreest/sheetqa/pkg/session"
	"github.com/jmylchreest/sheetqa/pkg/store"
)

var serverLog = log.New(os.Stderr, "[sheetqa:server] ", log.Ltime)

// Searcher is the full-text search over the published issue snapshot.
type Searcher interface {
	SearchIssues(opts store.SearchOptions) ([]store.SearchResult, error)
}

// ActionLister reads the audit log.
type ActionLister interface {
	ListActions(limit int) ([]issue.ActionLogEntry, error)
}

// Server provides the HTTP API for a session.
type Server struct {
	session *session.Session
	search  Searcher
	actions ActionLister
	save    func() error
	origins []string
	addr    string
	router  chi.Router
	srv     *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithSearch enables /api/search.
func WithSearch(s Searcher) Option {
	return func(srv *Server) { srv.search = s }
}

// WithActionLog enables /api/log.
func WithActionLog(l ActionLister) Option {
	return func(srv *Server) { srv.actions = l }
}

// WithSave enables /api/save, which writes the corrected table.
func WithSave(fn func() error) Option {
	return func(srv *Server) { srv.save = fn }
}

// WithAllowedOrigins sets the CORS origins a browser front end may call
// from. The default allows any origin without credentials.
func WithAllowedOrigins(origins ...string) Option {
	return func(srv *Server) { srv.origins = origins }
}

// NewServer creates a new HTTP server.
func NewServer(sess *session.Session, addr string, opts ...Option) *Server {
	s := &Server{
		session: sess,
		origins: []string{"*"},
		addr:    addr,
		router:  chi.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Recoverer)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/issues", func(r chi.Router) {
			r.Get("/", s.handleIssues)
			r.Get("/{id}", s.handleIssue)
			r.Patch("/{id}", s.handleSetStatus)
			r.Post("/{id}/fix", s.handleFix)
		})
		r.Post("/fixes", s.handleBulkFix)
		r.Post("/undo", s.handleUndo)
		r.Post("/redo", s.handleRedo)
		r.Get("/summary", s.handleSummary)
		r.Get("/diagnostics", s.handleDiagnostics)
		r.Get("/search", s.handleSearch)
		r.Get("/log", s.handleLog)
		r.Post("/save", s.handleSave)
	})
}

// Handler exposes the routes, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	serverLog.Printf("listening on %s", s.addr)
	s.srv = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

// MaxRequestBodySize limits request body size to 1MB.
const MaxRequestBodySize = 1 << 20 // 1MB

// limitRequestBody wraps the request body with a size limit.
func limitRequestBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
}

// Response helpers
func jsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		serverLog.Printf("failed to encode response: %v", err)
	}
}

func errorResponse(w http.ResponseWriter, message string, status int) {
	jsonResponse(w, map[string]string{"error": message}, status)
}

// mutationError maps session and history errors onto status codes.
func mutationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, issue.ErrNotFound):
		errorResponse(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, history.ErrStaleEdit):
		errorResponse(w, err.Error(), http.StatusConflict)
	case errors.Is(err, session.ErrNoSuggestion), errors.Is(err, session.ErrNotCellIssue):
		errorResponse(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, session.ErrClosed):
		errorResponse(w, err.Error(), http.StatusServiceUnavailable)
	default:
		errorResponse(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, map[string]string{"status": "ok", "session": s.session.ID()}, http.StatusOK)
}

// filterFromQuery reads severity, status, column and rule parameters.
func filterFromQuery(r *http.Request) (issue.Filter, error) {
	q := r.URL.Query()
	f := issue.Filter{Column: q.Get("column"), RuleID: q.Get("rule")}
	if v := q.Get("severity"); v != "" {
		sev, err := issue.ParseSeverity(v)
		if err != nil {
			return f, err
		}
		f.Severity = sev
	}
	if v := q.Get("status"); v != "" {
		st, err := issue.ParseStatus(v)
		if err != nil {
			return f, err
		}
		f.Status = st
	}
	return f, nil
}

func (s *Server) handleIssues(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	jsonResponse(w, s.session.Find(f), http.StatusOK)
}

func (s *Server) handleIssue(w http.ResponseWriter, r *http.Request) {
	i, ok := s.session.Issue(chi.URLParam(r, "id"))
	if !ok {
		errorResponse(w, "issue not found", http.StatusNotFound)
		return
	}
	jsonResponse(w, i, http.StatusOK)
}

func (s *Server) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	limitRequestBody(w, r)
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, "invalid JSON or request too large", http.StatusBadRequest)
		return
	}
	status, err := issue.ParseStatus(req.Status)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	out, err := s.session.SetStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		mutationError(w, err)
		return
	}
	jsonResponse(w, out, http.StatusOK)
}

func (s *Server) handleFix(w http.ResponseWriter, r *http.Request) {
	out, err := s.session.ApplySuggestion(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		mutationError(w, err)
		return
	}
	jsonResponse(w, out, http.StatusOK)
}

// handleBulkFix applies the suggestions of every open issue matching the
// query filter as one undoable step.
func (s *Server) handleBulkFix(w http.ResponseWriter, r *http.Request) {
	f, err := filterFromQuery(r)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusBadRequest)
		return
	}
	if f.RuleID == "" && f.Column == "" {
		errorResponse(w, "rule or column required", http.StatusBadRequest)
		return
	}
	label := r.URL.Query().Get("label")
	if label == "" {
		label = fmt.Sprintf("Apply suggestions (rule=%s column=%s)", f.RuleID, f.Column)
	}
	out, err := s.session.ApplySuggestions(r.Context(), label, f)
	if err != nil {
		mutationError(w, err)
		return
	}
	jsonResponse(w, out, http.StatusOK)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	out, err := s.session.Undo(r.Context())
	if err != nil {
		mutationError(w, err)
		return
	}
	jsonResponse(w, out, http.StatusOK)
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	out, err := s.session.Redo(r.Context())
	if err != nil {
		mutationError(w, err)
		return
	}
	jsonResponse(w, out, http.StatusOK)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	undo, _ := s.session.UndoDescription()
	redo, _ := s.session.RedoDescription()
	jsonResponse(w, struct {
		issue.Summary
		Version uint64 `json:"version"`
		Undo    string `json:"undo,omitempty"`
		Redo    string `json:"redo,omitempty"`
	}{s.session.Summary(), s.session.Version(), undo, redo}, http.StatusOK)
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, s.session.Diagnostics(), http.StatusOK)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		errorResponse(w, "search not available", http.StatusNotImplemented)
		return
	}
	q := r.URL.Query()
	query := q.Get("q")
	if query == "" {
		errorResponse(w, "query parameter 'q' required", http.StatusBadRequest)
		return
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	results, err := s.search.SearchIssues(store.SearchOptions{
		Query:    query,
		RuleID:   q.Get("rule"),
		Severity: strings.ToUpper(q.Get("severity")),
		Status:   strings.ToUpper(q.Get("status")),
		Column:   q.Get("column"),
		Limit:    limit,
	})
	if err != nil {
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, results, http.StatusOK)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	if s.actions == nil {
		errorResponse(w, "action log not available", http.StatusNotImplemented)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := s.actions.ListActions(limit)
	if err != nil {
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, entries, http.StatusOK)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	if s.save == nil {
		errorResponse(w, "save not available", http.StatusNotImplemented)
		return
	}
	if err := s.save(); err != nil {
		errorResponse(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]uint64{"saved_version": s.session.Version()}, http.StatusOK)
}
