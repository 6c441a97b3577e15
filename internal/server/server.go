// Package server exposes the pipeline over JSON HTTP and aggregates
// dependency liveness for the health endpoint.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/elghonerox/solarsentinel-depin/internal/classifier"
	"github.com/elghonerox/solarsentinel-depin/internal/config"
	"github.com/elghonerox/solarsentinel-depin/internal/faults"
	"github.com/elghonerox/solarsentinel-depin/internal/models"
	"github.com/elghonerox/solarsentinel-depin/internal/pipeline"
)

// PipelineRunner executes one pipeline run.
type PipelineRunner interface {
	Run(ctx context.Context, req pipeline.RunRequest) (*models.PipelineResult, error)
}

// SampleSource produces synthetic telemetry.
type SampleSource interface {
	Sample() models.TelemetrySample
	Batch(count int) []models.TelemetrySample
}

// LedgerAPI is the read-side of the ledger client used by handlers.
type LedgerAPI interface {
	TopicInfo(ctx context.Context) (models.TopicInfo, error)
	Ping(ctx context.Context) error
	Topic() string
}

// RewardAPI reports the session account's reward state.
type RewardAPI interface {
	Balance() float64
	TokenID() string
	Simulated() bool
}

// HistoryAPI reads recent entries from the secondary index.
type HistoryAPI interface {
	Recent(ctx context.Context, limit int) []models.LedgerEntry
	Enabled() bool
	Health(ctx context.Context) error
}

// ClassifierAPI polls the classification service's liveness.
type ClassifierAPI interface {
	Health(ctx context.Context) (classifier.HealthStatus, error)
}

// Deps collects the server's collaborators.
type Deps struct {
	Runner     PipelineRunner
	Generator  SampleSource
	Ledger     LedgerAPI
	Reward     RewardAPI
	History    HistoryAPI
	Classifier ClassifierAPI
	Metrics    http.Handler
	AccountID  string
}

// Server is the HTTP surface of the pipeline.
type Server struct {
	bind   string
	logger *slog.Logger
	deps   Deps

	listener net.Listener
	server   *http.Server
}

// New builds the server and its routing table.
func New(cfg config.ServerConfig, deps Deps, logger *slog.Logger) *Server {
	s := &Server{
		bind:   cfg.Bind,
		logger: logger,
		deps:   deps,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/pipeline/run", s.handleRun)
	mux.HandleFunc("/ledger/balance", s.handleBalance)
	mux.HandleFunc("/ledger/entries", s.handleEntries)
	mux.HandleFunc("/ledger/topic", s.handleTopic)
	mux.HandleFunc("/telemetry/sample", s.handleSample)
	mux.HandleFunc("/telemetry/batch", s.handleBatch)
	mux.HandleFunc("/health", s.handleHealth)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}

	s.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler exposes the routing table for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving and returns once the listener is bound.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.bind, err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "address", listener.Addr().String())
	return nil
}

// Shutdown drains in-flight requests within the given timeout.
func (s *Server) Shutdown(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	_ = s.server.Shutdown(ctx)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, faults.Validation, "use POST", "method not allowed")
		return
	}

	// An empty body is a valid request: generate and classify internally.
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req pipeline.RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, http.StatusBadRequest, faults.Validation, "send a JSON body", "malformed request body")
		return
	}

	result, err := s.deps.Runner.Run(r.Context(), req)
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, faults.Validation, "use GET", "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, balanceResponse{
		AccountID: s.deps.AccountID,
		TokenID:   s.deps.Reward.TokenID(),
		Balance:   s.deps.Reward.Balance(),
		Simulated: s.deps.Reward.Simulated(),
	})
}

func (s *Server) handleEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, faults.Validation, "use GET", "method not allowed")
		return
	}
	limit := 25
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, faults.Validation, "limit must be a positive integer", "invalid limit")
			return
		}
		limit = parsed
	}
	entries := s.deps.History.Recent(r.Context(), limit)
	s.writeJSON(w, http.StatusOK, entriesResponse{Entries: entries, Count: len(entries)})
}

func (s *Server) handleTopic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, faults.Validation, "use GET", "method not allowed")
		return
	}
	info, err := s.deps.Ledger.TopicInfo(r.Context())
	if err != nil {
		s.writeFault(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleSample(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, faults.Validation, "use GET", "method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.deps.Generator.Sample())
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, faults.Validation, "use GET", "method not allowed")
		return
	}
	count := 10
	if raw := r.URL.Query().Get("count"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, faults.Validation, "count must be a non-negative integer", "invalid count")
			return
		}
		count = parsed
	}
	samples := s.deps.Generator.Batch(count)
	s.writeJSON(w, http.StatusOK, batchResponse{Count: len(samples), Samples: samples})
}

type balanceResponse struct {
	AccountID string  `json:"accountId"`
	TokenID   string  `json:"tokenId,omitempty"`
	Balance   float64 `json:"balance"`
	Simulated bool    `json:"simulated"`
}

type entriesResponse struct {
	Entries []models.LedgerEntry `json:"entries"`
	Count   int                  `json:"count"`
}

type batchResponse struct {
	Count   int                      `json:"count"`
	Samples []models.TelemetrySample `json:"samples"`
}

type errorResponse struct {
	Error    string          `json:"error"`
	Category faults.Category `json:"category"`
	Hint     string          `json:"hint,omitempty"`
}

func (s *Server) writeFault(w http.ResponseWriter, err error) {
	s.writeError(w, faults.HTTPStatus(err), faults.CategoryOf(err), faults.HintOf(err), err.Error())
}

func (s *Server) writeError(w http.ResponseWriter, status int, category faults.Category, hint, message string) {
	s.writeJSON(w, status, errorResponse{Error: message, Category: category, Hint: hint})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("write response failed", "error", err)
	}
}
