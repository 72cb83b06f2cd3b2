package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	json "github.com/goccy/go-json"

	"saroolsync/internal/civil"
	"saroolsync/internal/config"
	"saroolsync/internal/ics"
	appLog "saroolsync/internal/log"
	"saroolsync/internal/model"
	"saroolsync/internal/scheduler"
	"saroolsync/internal/snapshot"
	"saroolsync/internal/views"
)

const (
	defaultBackfill = 24 * time.Hour
	defaultAhead    = 7 * 24 * time.Hour
	shutdownTimeout = 5 * time.Second
)

// Source is what the HTTP layer reads from. *scheduler.Scheduler
// implements it.
type Source interface {
	Latest() (*snapshot.Snapshot, error)
	RefreshNow(ctx context.Context) error
	Status() scheduler.Status
}

// Server exposes the latest snapshot over HTTP.
type Server struct {
	cfg   *config.Config
	src   Source
	clock func() time.Time
	mux   *http.ServeMux

	// Normalized lessons of the last snapshot seen, so each request does
	// not re-parse every record.
	lessonsMu    sync.Mutex
	lessonsCache *lessonsCache
}

type lessonsCache struct {
	snap    *snapshot.Snapshot
	lessons []model.Lesson
}

// NewServer constructs a new Server.
func NewServer(cfg *config.Config, src Source) *Server {
	s := &Server{
		cfg:   cfg,
		src:   src,
		clock: time.Now,
		mux:   http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		return s.basicAuthMiddleware(h)
	}
	return h
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	if s.cfg.BasicAuth.Username == "" || s.cfg.BasicAuth.Password == "" {
		return false
	}
	return true
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
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
			w.Header().Set("WWW-Authenticate", `Basic realm="saroolsync", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

// ListenAndServe serves on cfg.Listen until ctx is cancelled, then shuts
// down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+s.cfg.Listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/next-event", s.handleNextEvent)
	s.mux.HandleFunc("GET /api/balance", s.handleBalance)
	s.mux.HandleFunc("GET /api/notifications", s.handleNotifications)
	s.mux.HandleFunc("GET /api/events", s.handleEvents)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /calendar.ics", s.handleCalendar)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if snap, _ := s.src.Latest(); snap == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// current returns the latest snapshot and its lessons, or writes 503 and
// returns false.
func (s *Server) current(w http.ResponseWriter) (*snapshot.Snapshot, []model.Lesson, bool) {
	snap, lastErr := s.src.Latest()
	if snap == nil {
		msg := "no data yet"
		if lastErr != nil {
			msg = lastErr.Error()
		}
		writeError(w, http.StatusServiceUnavailable, msg)
		return nil, nil, false
	}

	s.lessonsMu.Lock()
	defer s.lessonsMu.Unlock()
	if s.lessonsCache == nil || s.lessonsCache.snap != snap {
		s.lessonsCache = &lessonsCache{snap: snap, lessons: views.Normalize(snap)}
	}
	return snap, s.lessonsCache.lessons, true
}

func (s *Server) handleNextEvent(w http.ResponseWriter, _ *http.Request) {
	_, lessons, ok := s.current(w)
	if !ok {
		return
	}
	v, found := views.NextLesson(lessons, s.clock())
	if !found {
		writeJSON(w, http.StatusOK, map[string]any{"next_event": nil})
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleBalance(w http.ResponseWriter, _ *http.Request) {
	snap, _, ok := s.current(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, views.Balance(snap))
}

func (s *Server) handleNotifications(w http.ResponseWriter, _ *http.Request) {
	snap, _, ok := s.current(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, views.Notifications(snap.UserData))
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Events     []eventDTO `json:"events"`
	RangeStart time.Time  `json:"range_start"`
	RangeEnd   time.Time  `json:"range_end"`
	TimeZone   string     `json:"timezone"`
	FetchedAt  time.Time  `json:"fetched_at"`
}

// eventDTO is a JSON-friendly view of an event.
type eventDTO struct {
	UID         string    `json:"uid"`
	Kind        string    `json:"kind"`
	Summary     string    `json:"summary"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
}

// handleEvents returns the events overlapping a window.
//
// GET /api/events?start=...&end=...
//   - start, end: RFC 3339 or Europe/Paris wall-clock times
//     (2006-01-02T15:04:05, 2006-01-02T15:04, 2006-01-02).
//   - defaults: one day back to seven days ahead.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snap, lessons, ok := s.current(w)
	if !ok {
		return
	}

	now := civil.Now(s.clock)
	q := r.URL.Query()
	from, err := parseTimeDefault(q.Get("start"), now.Add(-defaultBackfill))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start: "+err.Error())
		return
	}
	to, err := parseTimeDefault(q.Get("end"), now.Add(defaultAhead))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end: "+err.Error())
		return
	}
	if to.Before(from) {
		writeError(w, http.StatusBadRequest, "end is before start")
		return
	}

	appLog.Debug("api events request",
		"range_start", from.Format(time.RFC3339),
		"range_end", to.Format(time.RFC3339),
	)

	events := views.EventsInWindow(lessons, from, to)
	dtos := make([]eventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, eventDTO{
			UID:         e.UID,
			Kind:        string(e.Lesson.Kind),
			Summary:     e.Summary,
			Description: e.Description,
			Location:    e.Location,
			Start:       e.Start,
			End:         e.End,
		})
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		Events:     dtos,
		RangeStart: from,
		RangeEnd:   to,
		TimeZone:   civil.ZoneName,
		FetchedAt:  snap.FetchedAt,
	})
}

// handleCalendar publishes the default window, widened to everything the
// snapshot fetched.
func (s *Server) handleCalendar(w http.ResponseWriter, _ *http.Request) {
	snap, lessons, ok := s.current(w)
	if !ok {
		return
	}

	now := civil.Now(s.clock)
	from := now.Add(-defaultBackfill)
	to := now.Add(defaultAhead)
	if !snap.From.IsZero() && snap.From.Before(from) {
		from = snap.From
	}
	if snap.To.After(to) {
		to = snap.To
	}

	body, err := ics.Render(views.EventsInWindow(lessons, from, to), now)
	if err != nil {
		appLog.Error("calendar render failed", err)
		writeError(w, http.StatusInternalServerError, "failed to render calendar")
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `inline; filename="sarool.ics"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.src.RefreshNow(r.Context())
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "refreshed"})
	case errors.Is(err, scheduler.ErrThrottled):
		writeError(w, http.StatusTooManyRequests, err.Error())
	default:
		appLog.Warn("manual refresh failed", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.src.Status())
}

func parseTimeDefault(v string, def time.Time) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(civil.Zone()), nil
	}
	return civil.Parse(v)
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
