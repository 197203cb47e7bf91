package handler

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-referral-engine/pkg/config"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/metrics"
	"github.com/wadjakorntonsri/go-referral-engine/pkg/ports"
)

// Deps are the collaborators the router wires into handlers
type Deps struct {
	Service  ports.ReferralService
	Accounts ports.AccountDirectory
	Metrics  *metrics.Metrics
	// Gatherer backs /metrics; nil leaves the route out
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewRouter creates and configures the main application router
func NewRouter(cfg *config.Config, deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	trusted, err := cfg.TrustedProxyNets()
	if err != nil {
		// Fall back to peer addresses only
		logger.Error("ignoring trusted proxies", zap.Error(err))
		trusted = nil
	}
	ips := NewIPResolver(trusted)

	h := NewHTTPHandler(deps.Service, cfg.SignupURL, cfg.IsProduction(), ips, logger)
	mw := NewMiddleware(cfg)
	authHandler := NewAuthHandler(cfg, deps.Accounts, logger)
	throttle := NewClickThrottle(cfg.ClickRatePerMinute, cfg.ClickRateBurst, ips, deps.Metrics)

	mux := http.NewServeMux()

	// Public Routes
	mux.HandleFunc("GET /healthz", healthz)
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	mux.Handle("GET /r/{code}", throttle.Middleware(http.HandlerFunc(h.Follow)))
	mux.Handle("POST /api/v1/public/clicks", throttle.Middleware(http.HandlerFunc(h.RecordClick)))
	mux.HandleFunc("GET /auth/google/login", authHandler.Login)
	mux.HandleFunc("GET /auth/google/callback", authHandler.Callback)
	mux.HandleFunc("GET /auth/logout", authHandler.Logout)

	// Protected Routes
	protectedMux := http.NewServeMux()
	protectedMux.HandleFunc("POST /api/v1/referrals/signups", h.RecordSignup)
	protectedMux.HandleFunc("GET /api/v1/referrals/stats", h.Stats)
	protectedMux.HandleFunc("GET /api/v1/referrals/users", h.ReferredUsers)
	protectedMux.HandleFunc("GET /api/v1/referrals/clicks", h.Clicks)
	protectedMux.HandleFunc("GET /api/v1/referrals/tier", h.Tier)
	protectedMux.HandleFunc("POST /api/v1/referrals/claim", h.Claim)

	// More specific patterns above win over this prefix
	mux.Handle("/api/v1/", mw.AuthMiddleware(protectedMux))

	return mux
}
