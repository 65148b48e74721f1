/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack and routes. This is the
  wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zap request log
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Request count and latency by route
  6. CORS:       Configured origins with credentials; /api/v0/reports
                allows any origin (*) without credentials

ROUTE GROUPS:
  /api/v0/market/*   Liquidity
  /api/v0/quests/*   Quest completion
  /api/v0/reports    Moderation feed
  /api/v0/txns       Ledger history
  /api/v0/format     Formatting helper
  /health, /metrics  Ops

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/warp/market-engine/metrics"
)

const reportsPath = "/api/v0/reports"

// RouterOptions configures NewRouter.
type RouterOptions struct {
	// AllowedOrigins for CORS on everything except /reports.
	AllowedOrigins []string
	Metrics        *metrics.Metrics
	Logger         *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"http://localhost:3000"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger.Named("http")))
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(corsByPath(
		cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
			AllowCredentials: true,
		}),
		// Reports are read by moderation tools on any origin, without
		// credentials.
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}),
	))

	r.Get("/health", h.Health)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}

	r.Route("/api/v0", func(r chi.Router) {
		r.Post("/market/{contractId}/add-liquidity", h.AddLiquidity)

		r.Route("/quests", func(r chi.Router) {
			r.Post("/shares", h.CompleteSharesQuest)
			r.Post("/referrals", h.CompleteReferralsQuest)
			r.Post("/markets-created", h.CompleteMarketsCreatedQuest)
		})

		r.Get("/reports", h.ListReports)
		r.Get("/txns", h.ListTxns)
		r.Get("/format", h.Format)
	})

	return r
}

// corsByPath applies open CORS to the reports feed and app CORS to the
// rest. It runs before routing so preflight requests are answered too.
func corsByPath(app, open func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		appNext, openNext := app(next), open(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == reportsPath {
				openNext.ServeHTTP(w, r)
				return
			}
			appNext.ServeHTTP(w, r)
		})
	}
}

// requestLogger logs one line per request.
func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			defer func() {
				logger.Info("request",
					zap.String("method", r.Method),
					zap.String("path", r.URL.Path),
					zap.Int("status", ww.Status()),
					zap.Int("bytes", ww.BytesWritten()),
					zap.Duration("elapsed", time.Since(start)),
					zap.String("request_id", middleware.GetReqID(r.Context())),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
