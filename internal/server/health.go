package server

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const probeTimeout = 3 * time.Second

// DependencyStatus is one dependency's liveness as seen by the aggregator.
type DependencyStatus struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type healthResponse struct {
	Status       string             `json:"status"`
	Dependencies []DependencyStatus `json:"dependencies"`
}

// handleHealth reports aggregated liveness. It always answers 200: one dead
// dependency degrades the report, it never fails the whole check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSON(w, http.StatusMethodNotAllowed, healthResponse{Status: "error"})
		return
	}

	probes := []struct {
		name  string
		check func(ctx context.Context) DependencyStatus
	}{
		{"generator", s.probeGenerator},
		{"classifier", s.probeClassifier},
		{"ledger", s.probeLedger},
		{"index", s.probeIndex},
	}

	statuses := make([]DependencyStatus, len(probes))
	var wg sync.WaitGroup
	wg.Add(len(probes))
	for i, probe := range probes {
		go func(i int, check func(ctx context.Context) DependencyStatus) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
			defer cancel()
			statuses[i] = check(ctx)
		}(i, probe.check)
	}
	wg.Wait()

	overall := "ok"
	for _, dep := range statuses {
		if dep.Status == "down" {
			overall = "degraded"
			break
		}
	}
	s.writeJSON(w, http.StatusOK, healthResponse{Status: overall, Dependencies: statuses})
}

func (s *Server) probeGenerator(ctx context.Context) DependencyStatus {
	// In-process and effect-free; it cannot be down.
	return DependencyStatus{Name: "generator", Status: "up"}
}

func (s *Server) probeClassifier(ctx context.Context) DependencyStatus {
	status, err := s.deps.Classifier.Health(ctx)
	if err != nil {
		return DependencyStatus{Name: "classifier", Status: "down", Detail: err.Error()}
	}
	if !status.ModelTrained {
		return DependencyStatus{Name: "classifier", Status: "down", Detail: "model not trained"}
	}
	return DependencyStatus{Name: "classifier", Status: "up", Detail: status.ModelVersion}
}

func (s *Server) probeLedger(ctx context.Context) DependencyStatus {
	if err := s.deps.Ledger.Ping(ctx); err != nil {
		return DependencyStatus{Name: "ledger", Status: "down", Detail: err.Error()}
	}
	detail := "topic " + s.deps.Ledger.Topic()
	if s.deps.Ledger.Topic() == "" {
		detail = "topic not yet provisioned"
	}
	return DependencyStatus{Name: "ledger", Status: "up", Detail: detail}
}

func (s *Server) probeIndex(ctx context.Context) DependencyStatus {
	if !s.deps.History.Enabled() {
		return DependencyStatus{Name: "index", Status: "disabled", Detail: "historical reads degrade to empty"}
	}
	if err := s.deps.History.Health(ctx); err != nil {
		return DependencyStatus{Name: "index", Status: "down", Detail: err.Error()}
	}
	return DependencyStatus{Name: "index", Status: "up"}
}
