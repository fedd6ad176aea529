package monitoring

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

var startTime = time.Now()

// HealthChecker tracks liveness of the trading loop.
type HealthChecker struct {
	mu         sync.RWMutex
	lastCycle  time.Time
	maxSilence time.Duration
	halted     bool
	haltReason string
	lastErrors []string
}

type HealthStatus struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	LastCycle  time.Time `json:"last_cycle"`
	Halted     bool      `json:"halted"`
	HaltReason string    `json:"halt_reason,omitempty"`
	Uptime     string    `json:"uptime"`
	Errors     []string  `json:"errors,omitempty"`
}

// NewHealthChecker reports degraded when no cycle completed within maxSilence.
func NewHealthChecker(maxSilence time.Duration) *HealthChecker {
	if maxSilence <= 0 {
		maxSilence = 10 * time.Minute
	}
	return &HealthChecker{maxSilence: maxSilence}
}

// CycleCompleted marks a finished orchestration cycle and records its errors.
func (h *HealthChecker) CycleCompleted(at time.Time, errs []error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.lastCycle = at
	h.lastErrors = h.lastErrors[:0]
	for _, err := range errs {
		h.lastErrors = append(h.lastErrors, err.Error())
	}
}

// SetHalted mirrors the safety halt.
func (h *HealthChecker) SetHalted(halted bool, reason string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.halted = halted
	h.haltReason = reason
}

// Status evaluates health at now.
func (h *HealthChecker) Status(now time.Time) (HealthStatus, int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	status, code := "healthy", http.StatusOK
	switch {
	case h.halted:
		status, code = "halted", http.StatusServiceUnavailable
	case h.lastCycle.IsZero() || now.Sub(h.lastCycle) > h.maxSilence:
		status, code = "degraded", http.StatusServiceUnavailable
	case len(h.lastErrors) > 0:
		status = "degraded"
	}

	errs := make([]string, len(h.lastErrors))
	copy(errs, h.lastErrors)
	return HealthStatus{
		Status:     status,
		Timestamp:  now,
		LastCycle:  h.lastCycle,
		Halted:     h.halted,
		HaltReason: h.haltReason,
		Uptime:     now.Sub(startTime).Round(time.Second).String(),
		Errors:     errs,
	}, code
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	health, code := h.Status(time.Now())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(health)
}

// NewServeMux exposes /metrics and /health.
func NewServeMux(health *HealthChecker) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", NewMetricsHandler())
	mux.Handle("/health", health)
	return mux
}
