// Package apihttp exposes the minimal admin surface each worker
// serves: health, per-notification status lookup, circuit breaker
// state, and a root landing route. One instance runs per worker
// process; there are no business-mutating routes, since jobs only
// ever arrive off the broker.
package apihttp

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"notifications/internal/breaker"
	"notifications/internal/jobs"
	"notifications/internal/metrics"
	"notifications/internal/middleware"
)

// Healthable reports whether the worker's dependencies are reachable.
type Healthable interface {
	Health(ctx context.Context) bool
}

// StatusReader looks up a notification's last known delivery status.
type StatusReader interface {
	GetStatus(ctx context.Context, notificationID string) (jobs.StatusRecord, error)
}

// NewRouter wires the admin routes and middleware for one worker.
// workerName identifies which binary is answering (email-worker or
// push-worker) in the root route, and breakers names every breaker
// the worker owns for the /circuits endpoint.
func NewRouter(workerName string, store Healthable, statusReader StatusReader, breakers []*breaker.Breaker, logger *zap.Logger) http.Handler {
	mux := chi.NewRouter()

	mux.Use(middleware.Recovery(logger))
	mux.Use(middleware.RequestLogger(logger))
	mux.Use(middleware.MetricsMiddleware)

	mux.Get("/", rootHandler(workerName))
	mux.Get("/health", healthHandler(store))
	mux.Get("/metrics", promhttp.Handler().ServeHTTP)
	mux.Get("/status/{notification_id}", statusHandler(statusReader))
	mux.Get("/circuits", circuitsHandler(breakers))

	return mux
}

func rootHandler(workerName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"service": workerName})
	}
}

func healthHandler(store Healthable) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		healthy := store.Health(r.Context())
		status := "ok"
		if !healthy {
			status = "degraded"
		}

		resp := HealthResponse{
			Status:    status,
			Timestamp: time.Now(),
			Checks:    map[string]string{"status_store": boolToCheck(healthy)},
		}

		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func statusHandler(reader StatusReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		notificationID := chi.URLParam(r, "notification_id")

		record, err := reader.GetStatus(r.Context(), notificationID)
		if err != nil {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "status not found", Code: "NOT_FOUND"})
			return
		}
		_ = json.NewEncoder(w).Encode(record)
	}
}

func circuitsHandler(breakers []*breaker.Breaker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		snapshots := make([]breaker.Snapshot, 0, len(breakers))
		for _, b := range breakers {
			snap := b.State()
			snapshots = append(snapshots, snap)
			metrics.SetCircuitState(snap.Name, circuitStateValue(snap.State))
		}
		_ = json.NewEncoder(w).Encode(map[string][]breaker.Snapshot{"circuits": snapshots})
	}
}

func circuitStateValue(s breaker.State) int {
	switch s {
	case breaker.Open:
		return 1
	case breaker.HalfOpen:
		return 2
	default:
		return 0
	}
}

func boolToCheck(healthy bool) string {
	if healthy {
		return "healthy"
	}
	return "unhealthy"
}
