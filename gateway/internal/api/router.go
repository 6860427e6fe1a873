// Package api builds the gateway's plain-HTTP surface: the WebSocket
// upgrade route, health checks, and the Prometheus scrape endpoint.
// Grounded on the teacher's server/internal/api.NewRouter (go-chi
// router construction, RequestLogger/Recoverer middleware chain).
package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/rockmesh/im/gateway/internal/session"
	"github.com/rockmesh/im/gateway/internal/ws"
)

// RouterConfig holds all dependencies needed to build the HTTP router.
type RouterConfig struct {
	WS       *ws.Handler
	Registry *session.Registry
	Metrics  *prometheus.Registry
	Logger   *zap.Logger
}

// NewRouter builds the Chi router serving /wss (WebSocket edge per spec
// §6), /healthz, and /metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)

	r.Get("/wss/default.io", cfg.WS.ServeHTTP)
	r.Get("/wss/*", cfg.WS.ServeHTTP)

	r.Get("/healthz", healthHandler(cfg.Registry))
	r.Handle("/metrics", promhttp.HandlerFor(cfg.Metrics, promhttp.HandlerOpts{}))

	return r
}

// RequestLogger returns a Chi-compatible middleware that logs each
// request using the provided zap logger.
func RequestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			logger.Info("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote_addr", r.RemoteAddr),
			)
		})
	}
}

func healthHandler(registry *session.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		body := `{"status":"ok","sessions":` + strconv.Itoa(registry.Count()) + `,"uids":` + strconv.Itoa(registry.UIDCount()) + `}`
		w.Write([]byte(body))
	}
}
