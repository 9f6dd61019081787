package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"
)

const healthTimeout = 5 * time.Second

type HealthChecker interface {
	Health(ctx context.Context) error
}

// Gateway is the websocket hub as seen by health checks.
type Gateway interface {
	TotalClients() int
	Done() <-chan struct{}
}

type HealthHandler struct {
	deps    map[string]HealthChecker
	gateway Gateway
}

func NewHealthHandler(db, redis HealthChecker, gateway Gateway) *HealthHandler {
	return &HealthHandler{
		deps:    map[string]HealthChecker{"postgres": db, "redis": redis},
		gateway: gateway,
	}
}

type CheckResult struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type HealthResponse struct {
	Status      string                 `json:"status"`
	Checks      map[string]CheckResult `json:"checks"`
	Connections int                    `json:"connections"`
	Timestamp   string                 `json:"timestamp"`
}

// check probes every dependency concurrently, so one slow backend does not
// push the others past the deadline.
func (h *HealthHandler) check(ctx context.Context) map[string]CheckResult {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]CheckResult, len(h.deps)+1)
	)
	for name, dep := range h.deps {
		if dep == nil {
			continue
		}
		wg.Add(1)
		go func(name string, dep HealthChecker) {
			defer wg.Done()
			start := time.Now()
			err := dep.Health(ctx)
			res := CheckResult{Status: "healthy", LatencyMS: time.Since(start).Milliseconds()}
			if err != nil {
				res.Status = "unhealthy"
				res.Error = err.Error()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, dep)
	}
	wg.Wait()

	if h.gateway != nil {
		res := CheckResult{Status: "healthy"}
		select {
		case <-h.gateway.Done():
			res = CheckResult{Status: "unhealthy", Error: "hub stopped"}
		default:
		}
		results["websocket"] = res
	}
	return results
}

func healthy(results map[string]CheckResult) bool {
	for _, res := range results {
		if res.Status != "healthy" {
			return false
		}
	}
	return true
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	results := h.check(r.Context())
	response := HealthResponse{
		Status:    "healthy",
		Checks:    results,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if h.gateway != nil {
		response.Connections = h.gateway.TotalClients()
	}

	status := http.StatusOK
	if !healthy(results) {
		response.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, response)
}

// Ready fails once any dependency is down or the hub has stopped, so the load
// balancer drains this instance.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if !healthy(h.check(r.Context())) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("alive"))
}
