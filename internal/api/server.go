// Package api exposes a read-mostly HTTP view of the orchestrator state and
// lets operators requeue failed orders while the poll loop runs.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"orderflow/internal/domain"
	"orderflow/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

// Inspector is the view of the running poller the API needs.
type Inspector interface {
	Snapshot() *domain.State
	Loaded() bool
	Requeue(id domain.OrderID) error
}

type Server struct {
	router *chi.Mux
	poller Inspector
}

func NewServer(poller Inspector) *Server {
	s := &Server{router: chi.NewRouter(), poller: poller}

	s.router.Use(
		middleware.RequestID,
		middleware.RealIP,
		loggerHandler(func(r *http.Request) bool { return r.URL.Path == "/healthz" }),
		middleware.Recoverer,
	)
	s.router.Get("/healthz", s.health)
	s.router.Get("/state", s.state)
	s.router.Get("/failed", s.failed)
	s.router.Delete("/failed/{id}", s.requeue)

	return s
}

func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	httpServer := http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan error, 1)
	go func() {
		<-ctx.Done()
		log.Info().Msg("API server is shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		done <- httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("API server serving on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	err := <-done
	log.Info().Msg("API server stopped")
	return err
}

type StateView struct {
	Processed       int        `json:"processed"`
	LastProcessedID *int64     `json:"last_processed_id"`
	LastProcessedAt *time.Time `json:"last_processed_at"`
	Failed          int        `json:"failed"`
	Terminal        int        `json:"terminal"`
}

type FailureView struct {
	ID int64 `json:"id"`
	domain.FailureRecord
	NextAttempt time.Time `json:"next_attempt"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if !s.poller.Loaded() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) state(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Summarize(s.poller.Snapshot()))
}

// Summarize reduces the state to the counters shown to operators.
func Summarize(st *domain.State) StateView {
	v := StateView{Processed: len(st.ProcessedIDs), Failed: len(st.Failed)}
	if !st.LastProcessedAt.IsZero() {
		id := int64(st.LastProcessedID)
		at := st.LastProcessedAt.UTC()
		v.LastProcessedID = &id
		v.LastProcessedAt = &at
	}
	for _, rec := range st.Failed {
		if rec.Terminal {
			v.Terminal++
		}
	}
	return v
}

func (s *Server) failed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Failures(s.poller.Snapshot()))
}

// Failures lists the failure records ordered by order id.
func Failures(st *domain.State) []FailureView {
	out := make([]FailureView, 0, len(st.Failed))
	for _, id := range st.FailedIDs() {
		rec, _ := st.Failure(id)
		out = append(out, FailureView{ID: int64(id), FailureRecord: rec, NextAttempt: rec.NextAttempt().UTC()})
	}
	return out
}

func (s *Server) requeue(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseOrderID(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if _, ok := s.poller.Snapshot().Failure(id); !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "order has no failure record"})
		return
	}
	if err := s.poller.Requeue(id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, usecase.ErrRequeueBusy) {
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}
	log.Ctx(r.Context()).Info().Stringer("order", id).Msg("requeue requested")
	writeJSON(w, http.StatusAccepted, map[string]string{"id": strconv.FormatInt(int64(id), 10), "status": "requeued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
