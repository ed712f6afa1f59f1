// Package server implements the admin HTTP API, its middleware and request handlers.
package server

import (
	"net/http"

	"github.com/woozymasta/arkstatus/internal/config"
)

// New creates the admin API server.
func New(deps Deps, cfg config.Server) *Server {
	return &Server{
		tenants:    deps.Tenants,
		cycles:     deps.Cycles,
		accounts:   deps.Accounts,
		prober:     deps.Prober,
		failures:   deps.Failures,
		metrics:    deps.Metrics,
		authToken:  cfg.AuthToken,
		maxBody:    cfg.MaxBodySize,
		trustProxy: cfg.TrustProxy,
		rateCount:  cfg.RateCount,
		rateWindow: cfg.RateWindow,
		shutdown:   make(chan struct{}),
	}
}

// Close stops background routines started by Handler.
func (s *Server) Close() {
	select {
	case <-s.shutdown:
	default:
		close(s.shutdown)
	}
}

// Handler configures the HTTP routes and returns the main handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	admin := func(h http.HandlerFunc) http.Handler {
		return AdminAuthMiddleware(s.authToken, h)
	}

	mux.Handle("POST /api/tenants/{id}/refresh", admin(s.handleRefresh))
	mux.Handle("GET /api/tenants/{id}/channel", admin(s.handleGetChannel))
	mux.Handle("PUT /api/tenants/{id}/channel", admin(s.handleSetChannel))
	mux.Handle("DELETE /api/tenants/{id}/channel", admin(s.handleDisableChannel))
	mux.Handle("POST /api/tenants/{id}/token", admin(s.handleLinkToken))
	mux.Handle("GET /api/tenants/{id}/report", admin(s.handlePreview))
	mux.Handle("GET /api/a2s", admin(s.handleServerQuery))
	mux.Handle("GET /api/version", admin(s.handleVersion))

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return s.LoggingMiddleware(s.RateLimitMiddleware(mux))
}
