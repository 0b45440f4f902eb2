package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
)

// Version is reported by the readiness probe and tagged on traces.
const Version = "0.1.0"

// HealthChecker is a dependency the gateway needs before it can relay:
// the credential cache, and the shared token store or usage database when
// those are configured.
type HealthChecker interface {
	Check(ctx context.Context) error
	Name() string
}

// Readiness is the /health/ready body.
type Readiness struct {
	Status  string                     `json:"status"`
	Model   string                     `json:"model"`
	Version string                     `json:"version"`
	Checks  map[string]DependencyState `json:"checks,omitempty"`
}

type DependencyState struct {
	OK        bool    `json:"ok"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

// probe runs every checker concurrently under ctx. A failing checker does not
// cut the others short.
func probe(ctx context.Context, checkers []HealthChecker) (map[string]DependencyState, bool) {
	states := make([]DependencyState, len(checkers))

	var g errgroup.Group
	for i, c := range checkers {
		g.Go(func() error {
			start := time.Now()
			err := c.Check(ctx)

			states[i] = DependencyState{
				OK:        err == nil,
				LatencyMS: float64(time.Since(start).Microseconds()) / 1000,
			}
			if err != nil {
				states[i].Error = err.Error()
			}
			return nil
		})
	}
	g.Wait()

	ready := true
	byName := make(map[string]DependencyState, len(checkers))
	for i, c := range checkers {
		byName[c.Name()] = states[i]
		ready = ready && states[i].OK
	}
	return byName, ready
}

func (h *Handler) handleLive(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.healthTimeout)
	defer cancel()

	checks, ready := probe(ctx, h.checkers)

	body := Readiness{
		Status:  "ready",
		Model:   h.model,
		Version: Version,
		Checks:  checks,
	}
	status := http.StatusOK
	if !ready {
		body.Status = "not_ready"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
