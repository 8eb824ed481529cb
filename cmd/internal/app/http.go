package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mam/cmd/internal/archive"
	"mam/cmd/internal/realtime"
)

const readinessTimeout = 2 * time.Second

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	svc *archive.Service,
	ws *realtime.Gateway,
	reg *prometheus.Registry,
) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		if err := svc.Ping(ctx); err != nil {
			http.Error(w, "archive not ready", http.StatusServiceUnavailable)
			log.Info("readyz.archive.not_ready", "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.HandleFunc("/ws", ws.HandleWS)
}
