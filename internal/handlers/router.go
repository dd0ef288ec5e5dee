package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/justinas/alice"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/begonlabs/unified-agent-pro-sub001/internal/inbound"
	"github.com/begonlabs/unified-agent-pro-sub001/internal/metrics"
	"github.com/begonlabs/unified-agent-pro-sub001/pkg/httputil"
)

// NewRouter mounts every endpoint behind the logging and recovery chain.
func NewRouter(webhooks *Webhooks, health http.Handler) http.Handler {
	r := mux.NewRouter()
	r.Use(metrics.Middleware(routeTemplate))

	r.HandleFunc("/webhooks/whatsapp", webhooks.Gateway).Methods(http.MethodPost)
	for _, ch := range []inbound.Channel{inbound.Messenger, inbound.Instagram} {
		path := "/webhooks/" + string(ch)
		r.HandleFunc(path, webhooks.MetaVerify).Methods(http.MethodGet)
		r.HandleFunc(path, webhooks.Meta(ch)).Methods(http.MethodPost)
	}
	r.Handle("/health", health).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	c := alice.New(
		hlog.NewHandler(log.Logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			hlog.FromRequest(r).Info().
				Str("method", r.Method).
				Stringer("url", r.URL).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("Request handled")
		}),
		Recover,
	)
	return c.Then(r)
}

// Recover turns a panic into a 500 JSON response.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				hlog.FromRequest(r).Error().Str("panic", fmt.Sprint(rec)).Msg("Recovered from panic in handler")
				httputil.RespondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
