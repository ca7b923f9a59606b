/*
Package server exposes the query path over HTTP.

Endpoints:

	POST /v1/answers            answer a query
	POST /v1/feedback           attach an outcome signal to a past query
	GET  /v1/insights           list insights for a category
	GET  /v1/insights/sources   list sources contributing to a category
	GET  /healthz               liveness

Typed service failures map to status codes: deadline -> 504,
all tiers down -> 503. Everything else is a 500 with a generic body.
*/
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/khanglvm/knowledge-router/internal/category"
	"github.com/khanglvm/knowledge-router/internal/insight"
	"github.com/khanglvm/knowledge-router/internal/service"
)

const maxBodyBytes = 1 << 20

// Server is the HTTP front of the router.
type Server struct {
	svc        *service.Service
	insights   *insight.Store
	categories *category.Set
	http       *http.Server
}

// New creates a server listening on addr.
func New(addr string, svc *service.Service, insights *insight.Store, categories *category.Set) *Server {
	s := &Server{
		svc:        svc,
		insights:   insights,
		categories: categories,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Post("/v1/answers", s.handleAnswer)
	r.Post("/v1/feedback", s.handleFeedback)
	r.Get("/v1/insights", s.handleInsights)
	r.Get("/v1/insights/sources", s.handleInsightSources)
	r.Get("/healthz", s.handleHealthz)

	s.http = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// ListenAndServe blocks until the server stops.
func (s *Server) ListenAndServe() error {
	log.Printf("HTTP server listening on %s", s.http.Addr)
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the routes for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

type answerRequest struct {
	Query      string `json:"query"`
	SessionID  string `json:"session_id"`
	DeadlineMs int64  `json:"deadline_ms"`
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	answer, err := s.svc.AnswerQuery(r.Context(), req.Query, req.SessionID, time.Duration(req.DeadlineMs)*time.Millisecond)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDeadlineExceeded):
			writeError(w, http.StatusGatewayTimeout, "query deadline exceeded")
		case errors.Is(err, service.ErrAllTiersUnavailable):
			writeError(w, http.StatusServiceUnavailable, "all model tiers unavailable, try again later")
		default:
			log.Printf("Warning: answer failed: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

type feedbackRequest struct {
	TraceID       string  `json:"trace_id"`
	OutcomeSignal float64 `json:"outcome_signal"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TraceID == "" {
		writeError(w, http.StatusBadRequest, "trace_id is required")
		return
	}

	found, err := s.svc.SubmitFeedback(req.TraceID, req.OutcomeSignal)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "unknown trace_id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"recorded": true})
}

func (s *Server) handleInsights(w http.ResponseWriter, r *http.Request) {
	categoryLabel := r.URL.Query().Get("category")
	if categoryLabel == "" {
		categoryLabel = category.Unclassified
	}

	insights, err := s.insights.ListByCategory(categoryLabel)
	if err != nil {
		log.Printf("Warning: insight listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": categoryLabel,
		"insights": insights,
	})
}

func (s *Server) handleInsightSources(w http.ResponseWriter, r *http.Request) {
	categoryLabel := r.URL.Query().Get("category")
	if categoryLabel == "" {
		writeError(w, http.StatusBadRequest, "category is required")
		return
	}

	sources, err := s.insights.ContributingSources(categoryLabel)
	if err != nil {
		log.Printf("Warning: insight source listing failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"category": categoryLabel,
		"sources":  sources,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Warning: failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
