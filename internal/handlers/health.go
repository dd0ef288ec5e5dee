package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/begonlabs/unified-agent-pro-sub001/pkg/httputil"
)

// Pinger checks a dependency.
type Pinger func(ctx context.Context) error

// Health reports 200 when the database answers, 503 otherwise.
func Health(ping Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ping(ctx); err != nil {
			hlog.FromRequest(r).Error().Err(err).Msg("Health check failed")
			httputil.RespondWithJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "database": err.Error()})
			return
		}
		httputil.RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
	}
}
