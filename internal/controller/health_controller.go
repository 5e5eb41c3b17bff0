package controller

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
)

// BreakerReporter exposes circuit breaker states by name.
type BreakerReporter interface {
	States() map[string]gobreaker.State
}

type HealthController struct {
	pool     *pgxpool.Pool
	redis    *redis.Client
	breakers BreakerReporter
}

// NewHealthController builds the health endpoints. Pool and redis are optional;
// a nil dependency is not checked.
func NewHealthController(pool *pgxpool.Pool, redis *redis.Client, breakers BreakerReporter) *HealthController {
	return &HealthController{pool: pool, redis: redis, breakers: breakers}
}

func (h *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"status": "ok"}
	if h.breakers != nil {
		states := make(map[string]string)
		for name, st := range h.breakers.States() {
			states[name] = st.String()
		}
		resp["terminal"] = states
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *HealthController) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

func (h *HealthController) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "database unavailable",
			})
			return
		}
	}

	if h.redis != nil {
		if err := h.redis.Ping(ctx).Err(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not ready",
				"reason": "redis unavailable",
			})
			return
		}
	}

	if h.breakers != nil {
		for name, st := range h.breakers.States() {
			if st == gobreaker.StateOpen {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "not ready",
					"reason": "terminal circuit open: " + name,
				})
				return
			}
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
