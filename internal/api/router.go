// Package api exposes the pipeline over HTTP: on-demand processing, item
// listing and retries, discovery scheduling, queue stats and a WebSocket
// push channel.
package api

import (
	"net/http"

	"github.com/makaronz/stillontime/internal/auth"
)

// NewRouter wires all handlers into a mux. Every /api/v1 route except the
// WebSocket endpoint goes through bearer-token auth; the WebSocket handler
// authenticates itself from the query string.
func NewRouter(
	validator auth.TokenValidator,
	process *ProcessHandler,
	discovery *DiscoveryHandler,
	ws *WebSocketHandler,
	metricsHandler http.Handler,
) http.Handler {
	mux := http.NewServeMux()

	protected := func(handler http.HandlerFunc) http.Handler {
		return auth.RequireAuth(validator, handler)
	}

	mux.Handle("POST /api/v1/process", protected(process.HandleProcess))
	mux.Handle("GET /api/v1/items", protected(process.HandleListItems))
	mux.Handle("POST /api/v1/items/{id}/retry", protected(process.HandleRetry))

	mux.Handle("POST /api/v1/discovery/enable", protected(discovery.HandleEnable))
	mux.Handle("POST /api/v1/discovery/disable", protected(discovery.HandleDisable))
	mux.Handle("GET /api/v1/stats", protected(discovery.HandleStats))

	mux.HandleFunc("GET /api/v1/ws", ws.Handle)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	return mux
}
