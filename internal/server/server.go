// Package server exposes the HTTP surface: resolution-channel callback
// events from the chat transport and manual run triggers.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/nbarak/shekelbot/internal/common"
	"github.com/nbarak/shekelbot/internal/model"
	"github.com/nbarak/shekelbot/internal/runner"
)

// ResolutionChannel handles inbound resolution events.
type ResolutionChannel interface {
	Choose(ctx context.Context, transactionID string, txType model.CategoryType, entity model.Entity) error
	ChooseCategory(ctx context.Context, transactionID, categoryID string, createRule bool) error
	Ignore(ctx context.Context, transactionID string) error
	ConfirmIgnore(ctx context.Context, transactionID string) error
	CancelIgnore(ctx context.Context, transactionID string) error
	Back(ctx context.Context, transactionID string) error
	Page(ctx context.Context, transactionID string, pageIndex int) error
}

// Server wires the router over the runner and resolution channel.
type Server struct {
	runner  *runner.Runner
	channel ResolutionChannel
}

// New creates the HTTP server.
func New(jobRunner *runner.Runner, channel ResolutionChannel) *Server {
	return &Server{runner: jobRunner, channel: channel}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Minute))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/choose", s.handleChoose)
		r.Post("/category", s.handleCategory)
		r.Post("/ignore", s.handleIgnore)
		r.Post("/ignore/confirm", s.handleConfirmIgnore)
		r.Post("/ignore/cancel", s.handleCancelIgnore)
		r.Post("/back", s.handleBack)
		r.Post("/page", s.handlePage)
	})

	r.Post("/run/scrape", s.handleRunScrape)
	r.Post("/run/classify", s.handleRunClassify)

	return r
}

type chooseEvent struct {
	TransactionID string             `json:"transaction_id"`
	Type          model.CategoryType `json:"type"`
	Entity        model.Entity       `json:"entity"`
}

func (s *Server) handleChoose(w http.ResponseWriter, r *http.Request) {
	var event chooseEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil || event.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	s.eventResponse(w, r, s.channel.Choose(r.Context(), event.TransactionID, event.Type, event.Entity))
}

type categoryEvent struct {
	TransactionID string `json:"transaction_id"`
	CategoryID    string `json:"category_id"`
	CreateRule    bool   `json:"create_rule"`
}

func (s *Server) handleCategory(w http.ResponseWriter, r *http.Request) {
	var event categoryEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil || event.TransactionID == "" || event.CategoryID == "" {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	s.eventResponse(w, r, s.channel.ChooseCategory(r.Context(), event.TransactionID, event.CategoryID, event.CreateRule))
}

type transactionEvent struct {
	TransactionID string `json:"transaction_id"`
}

func (s *Server) handleIgnore(w http.ResponseWriter, r *http.Request) {
	s.simpleEvent(w, r, s.channel.Ignore)
}

func (s *Server) handleConfirmIgnore(w http.ResponseWriter, r *http.Request) {
	s.simpleEvent(w, r, s.channel.ConfirmIgnore)
}

func (s *Server) handleCancelIgnore(w http.ResponseWriter, r *http.Request) {
	s.simpleEvent(w, r, s.channel.CancelIgnore)
}

func (s *Server) handleBack(w http.ResponseWriter, r *http.Request) {
	s.simpleEvent(w, r, s.channel.Back)
}

type pageEvent struct {
	TransactionID string `json:"transaction_id"`
	Page          int    `json:"page"`
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	var event pageEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil || event.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	s.eventResponse(w, r, s.channel.Page(r.Context(), event.TransactionID, event.Page))
}

func (s *Server) simpleEvent(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) error) {
	var event transactionEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil || event.TransactionID == "" {
		writeError(w, http.StatusBadRequest, "invalid event payload")
		return
	}
	s.eventResponse(w, r, fn(r.Context(), event.TransactionID))
}

func (s *Server) eventResponse(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case errors.Is(err, common.ErrNoPendingFlow):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrInvalidFlowState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		slog.Error("Resolution event failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "event handling failed")
	}
}

func (s *Server) handleRunScrape(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.RunScrape(r.Context())
	if err != nil {
		runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRunClassify(w http.ResponseWriter, r *http.Request) {
	summary, err := s.runner.RunClassify(r.Context())
	if err != nil {
		runError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func runError(w http.ResponseWriter, err error) {
	if errors.Is(err, common.ErrAlreadyRunning) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	slog.Error("Manual run failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
