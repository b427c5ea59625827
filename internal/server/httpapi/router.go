// Package httpapi serves the websocket endpoint and health probes.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

const readyTimeout = 2 * time.Second

// NewRouter mounts ws under /ws, liveness under /healthz and readiness under /readyz.
// Every entry in ready must answer Ping for /readyz to return 200.
func NewRouter(log *zap.Logger, ws http.Handler, ready map[string]Pinger) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/ws", ws).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	r.HandleFunc("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), readyTimeout)
		defer cancel()
		for name, p := range ready {
			if err := p.Ping(ctx); err != nil {
				log.Warn("not ready", zap.String("dependency", name), zap.Error(err))
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ready"))
	}).Methods(http.MethodGet)
	r.Use(accessLog(log))
	return r
}

func accessLog(log *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			log.Debug("http",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Duration("dur", time.Since(start)),
				zap.String("peer", r.RemoteAddr),
			)
		})
	}
}
