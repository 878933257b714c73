/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client IP from X-Forwarded-For / X-Real-IP (audit context)
  3. Logging:    One structured log line per request, request-scoped logger
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. CORS:       Cross-origin requests for the frontend
  6. RateLimit:  Token bucket shared by all clients (429 when empty)

ROUTE GROUPS:
  /api/transfers/*   Transfer lifecycle
  /api/ledger/*      Balance queries
  /api/admin/*       Reference data upserts
  /healthz           Liveness + database ping

SECURITY NOTE:
  No authentication middleware. The audit headers are trusted as sent; an
  upstream gateway is expected to set them.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/warp/commodity-ledger/logger"
	"golang.org/x/time/rate"
)

// RouterOptions tunes the middleware stack.
type RouterOptions struct {
	AllowedOrigins []string
	// RateLimit is the sustained requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-User-ID", "X-User-Role"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.RateLimit > 0 {
		r.Use(rateLimit(rate.NewLimiter(rate.Limit(opts.RateLimit), max(opts.Burst, 1))))
	}

	r.Get("/healthz", h.Health)

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/transfers", func(r chi.Router) {
			r.Get("/", h.ListTransfers)
			r.Post("/", h.CreateTransfer)
			r.Get("/{id}", h.GetTransfer)
			r.Put("/{id}", h.UpdateTransfer)
			r.Delete("/{id}", h.DeleteTransfer)
			r.Put("/{id}/status", h.UpdateTransferStatus)
			r.Get("/{id}/audit", h.GetTransferAudit)
		})

		r.Route("/ledger", func(r chi.Router) {
			r.Get("/groupage", h.GroupageBalances)
			r.Get("/stores", h.StockBalances)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/actors", h.UpsertActor)
			r.Post("/stores", h.UpsertStore)
			r.Post("/campaigns", h.UpsertCampaign)
		})
	})

	return r
}

// requestLogger logs one line per request and hands handlers a logger
// carrying the request id.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		l := logger.L.With("requestId", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logger.WithContext(r.Context(), l)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		l.Log(r.Context(), level, "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
			"remoteAddr", r.RemoteAddr)
	})
}

func rateLimit(limiter *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				logger.FromContext(r.Context()).Warn("rate limit exceeded",
					"method", r.Method,
					"path", r.URL.Path,
					"remoteAddr", r.RemoteAddr)
				writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
					Error: http.StatusText(http.StatusTooManyRequests),
					Code:  "RATE_LIMITED",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
