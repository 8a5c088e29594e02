// Package web exposes the calendar controller over a local HTTP API, plus an
// iCalendar feed and a printable day sheet.
package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"agendacal/internal/api"
	"agendacal/internal/calendar"
	"agendacal/internal/capture"
	"agendacal/internal/config"
	"agendacal/internal/directory"
	"agendacal/internal/eventcache"
	"agendacal/internal/holidays"
	appLog "agendacal/internal/log"
	"agendacal/internal/prefs"
	"agendacal/internal/timecodec"
)

// Deps are the components the server routes into. Printer is optional;
// without it /print.pdf answers 503.
type Deps struct {
	Controller *calendar.Controller
	Mini       *calendar.MiniController
	Cache      *eventcache.Coordinator
	Directory  *directory.Cache
	Holidays   *holidays.Cache
	Prefs      *prefs.Preferences
	Printer    capture.Printer
}

// Server provides the HTTP API.
type Server struct {
	cfg  *config.Config
	deps Deps
	loc  *time.Location
	mux  *http.ServeMux

	// Printed sheets are kept briefly so repeated downloads do not start
	// Chromium again.
	pdfMu    sync.RWMutex
	pdfCache map[string]pdfEntry
}

type pdfEntry struct {
	body      []byte
	updatedAt time.Time
}

const pdfCacheTTL = 30 * time.Second

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:      cfg,
		deps:     deps,
		loc:      deps.Cache.Location(),
		mux:      http.NewServeMux(),
		pdfCache: make(map[string]pdfEntry),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return logRequests(h)
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware protects every route except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="agendacal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"took", time.Since(started).String(),
		)
	})
}

// StartServer serves until ctx is canceled, then shuts down gracefully.
func StartServer(ctx context.Context, cfg *config.Config, deps Deps) error {
	s := NewServer(cfg, deps)
	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)

	s.mux.HandleFunc("GET /api/events", s.handleListEvents)
	s.mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	s.mux.HandleFunc("DELETE /api/events/{id}", s.handleDeleteEvent)
	s.mux.HandleFunc("PATCH /api/events/{id}/move", s.handleMoveEvent)
	s.mux.HandleFunc("PATCH /api/events/{id}/notes", s.handleEditNotes)
	s.mux.HandleFunc("PATCH /api/events/{id}/practitioner", s.handleEditPractitioner)
	s.mux.HandleFunc("PATCH /api/events/{id}/color", s.handleEditColor)
	s.mux.HandleFunc("POST /api/events/{id}/duplicate", s.handleDuplicate)

	s.mux.HandleFunc("GET /api/search", s.handleSearch)
	s.mux.HandleFunc("POST /api/navigate", s.handleNavigate)
	s.mux.HandleFunc("GET /api/indicators", s.handleIndicators)
	s.mux.HandleFunc("POST /api/mini/month", s.handleMiniMonth)
	s.mux.HandleFunc("GET /api/holidays", s.handleHolidays)
	s.mux.HandleFunc("GET /api/practitioners", s.handlePractitioners)
	s.mux.HandleFunc("PUT /api/practitioners/selection", s.handleSelection)
	s.mux.HandleFunc("GET /api/preferences", s.handleGetPreferences)
	s.mux.HandleFunc("PUT /api/preferences", s.handlePutPreferences)
	s.mux.HandleFunc("POST /api/cache/clear", s.handleCacheClear)

	s.mux.HandleFunc("GET /calendar.ics", s.handleICS)
	s.mux.HandleFunc("GET /print", s.handlePrint)
	s.mux.HandleFunc("GET /print.pdf", s.handlePrintPDF)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// parseTimeParam reads a wire timestamp or date from the query string.
func (s *Server) parseTimeParam(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, errors.New(name + " is required")
	}
	t, err := timecodec.ParseWire(v, s.loc)
	if err != nil {
		return time.Time{}, errors.New(name + ": " + err.Error())
	}
	return t, nil
}

func (s *Server) parseRange(r *http.Request) (time.Time, time.Time, error) {
	start, err := s.parseTimeParam(r, "start")
	if err != nil {
		return start, start, err
	}
	end, err := s.parseTimeParam(r, "end")
	if err != nil {
		return start, end, err
	}
	if end.Before(start) {
		return start, end, errors.New("end before start")
	}
	return start, end, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// statusFor maps controller and client errors onto HTTP codes.
func statusFor(err error) int {
	var se *api.StatusError
	switch {
	case errors.Is(err, calendar.ErrInvalidDraft), errors.Is(err, prefs.ErrInvalidValue):
		return http.StatusBadRequest
	case errors.Is(err, calendar.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, api.ErrRejected):
		return http.StatusUnprocessableEntity
	case errors.As(err, &se):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

func writeFailure(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
