// internal/handlers/health.go
package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// HealthHandler reports liveness of the service and its backends. Backends
// that are not configured are reported as "skipped" rather than failing the
// check.
func HealthHandler(pool *pgxpool.Pool, rdb *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := map[string]string{"service": "ok"}
		healthy := true

		if pool != nil {
			if err := pool.Ping(ctx); err != nil {
				status["postgres"] = err.Error()
				healthy = false
			} else {
				status["postgres"] = "ok"
			}
		} else {
			status["postgres"] = "skipped"
		}

		if rdb != nil {
			if err := rdb.Ping(ctx).Err(); err != nil {
				status["redis"] = err.Error()
				healthy = false
			} else {
				status["redis"] = "ok"
			}
		} else {
			status["redis"] = "skipped"
		}

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(status)
	}
}
