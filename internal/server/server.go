// Package server exposes a read-only HTTP status API over the store.
//
// Routes:
//
//	GET /healthz            liveness probe
//	GET /api/jobs           all job records
//	GET /api/jobs/{id}      one job with full status history
//
// The server never mutates the store; it is safe to run next to an active
// runner and external command invocations.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sbsched/sbs/pkg/store"
)

// Config configures the status API.
type Config struct {
	Addr string

	// RateLimit is the maximum requests per second across all clients.
	// Zero disables limiting.
	RateLimit float64
}

// Server serves the status API.
type Server struct {
	store   *store.Store
	logger  *zap.Logger
	limiter *rate.Limiter
	cfg     Config
}

// New creates a server over st.
func New(st *store.Store, logger *zap.Logger, cfg Config) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{store: st, logger: logger, cfg: cfg}
	if cfg.RateLimit > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit))
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.rateLimit)

	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{id}", s.handleGetJob)
	})
	return r
}

// ListenAndServe blocks serving the API on the configured address.
func (s *Server) ListenAndServe() error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("Status API listening", zap.String("addr", s.cfg.Addr))
	return srv.ListenAndServe()
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// JobView is the API representation of one job.
type JobView struct {
	ID         int            `json:"id"`
	Name       string         `json:"name,omitempty"`
	State      string         `json:"state"`
	Procs      int            `json:"procs"`
	MemMB      int64          `json:"mem_mb,omitempty"`
	AfterOK    string         `json:"afterok,omitempty"`
	BecauseOf  string         `json:"because_of_jobid,omitempty"`
	PID        int            `json:"pid,omitempty"`
	ReturnCode *int           `json:"return_code,omitempty"`
	Submitted  time.Time      `json:"submitted"`
	Updated    time.Time      `json:"updated"`
	History    []HistoryEntry `json:"history,omitempty"`
}

// HistoryEntry is one status transition.
type HistoryEntry struct {
	State string    `json:"state"`
	Time  time.Time `json:"time"`
}

func (s *Server) handleListJobs(w http.ResponseWriter, _ *http.Request) {
	ids, err := s.store.ListIDs()
	if err != nil {
		s.logger.Error("Failed to list jobs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	views := make([]JobView, 0, len(ids))
	for _, id := range ids {
		view, err := s.jobView(id, false)
		if err != nil {
			// Racing a cleanup; skip records that vanished mid-listing.
			continue
		}
		views = append(views, *view)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id < 1 {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	view, err := s.jobView(id, true)
	if err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.logger.Error("Failed to read job", zap.Int("job_id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read job")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) jobView(id int, withHistory bool) (*JobView, error) {
	history, err := s.store.StatusHistory(id)
	if err != nil {
		return nil, err
	}
	settings, err := s.store.ReadSettings(id)
	if err != nil {
		return nil, err
	}

	view := &JobView{
		ID:        id,
		Name:      settings[store.SettingName],
		Procs:     settings.Procs(),
		AfterOK:   settings[store.SettingAfterOK],
		BecauseOf: settings[store.SettingBecauseOf],
	}
	if mem, err := settings.MemMB(); err == nil && mem > 0 {
		view.MemMB = mem
	}
	if len(history) > 0 {
		view.State = history[len(history)-1].State.Name()
		view.Submitted = history[0].Time.UTC()
		view.Updated = history[len(history)-1].Time.UTC()
	}
	if pid, err := s.store.ReadPID(id); err == nil {
		view.PID = pid
	}
	if rc, ok, _ := s.store.ReadReturnCode(id); ok {
		view.ReturnCode = &rc
	}
	if withHistory {
		view.History = make([]HistoryEntry, 0, len(history))
		for _, entry := range history {
			view.History = append(view.History, HistoryEntry{
				State: entry.State.Name(),
				Time:  entry.Time.UTC(),
			})
		}
	}
	return view, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
