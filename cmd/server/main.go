package main

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"wompi-pay/internal/config"
	"wompi-pay/internal/db"
	"wompi-pay/internal/logger"
	"wompi-pay/internal/metrics"
	"wompi-pay/internal/middleware"
	"wompi-pay/internal/payment"
	"wompi-pay/internal/payment/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var (
	initDBFunc      = db.NewDatabase
	startServerFunc = func(addr string, handler http.Handler) error {
		srv := &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}
		return srv.ListenAndServe()
	}
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	metrics.Init()

	database, err := initDBFunc(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	router := newServer(cfg, database)

	logger.L().Info("Wompi payment service running",
		zap.String("port", cfg.AppPort),
		zap.String("wompi_state", cfg.WompiState),
	)
	return startServerFunc(":"+cfg.AppPort, router)
}

func newServer(cfg *config.Config, database *sql.DB) http.Handler {
	paymentRepo := payment.NewRepository(database)
	gateway := payment.NewWompiGateway(cfg.WompiHTTPTimeout)
	verifier := payment.NewVerifier(gateway)
	paymentSvc := payment.NewService(paymentRepo)

	wompiConfig := cfg.Wompi()
	if err := wompiConfig.Validate(); err != nil {
		logger.L().Warn("Wompi keys incomplete; notifications will be rejected", zap.Error(err))
	}

	h := webhook.NewWebhookHandler(paymentSvc, verifier, paymentRepo, wompiConfig, cfg.BaseURL)
	h.Policy = webhook.AckPolicy{Mode: webhook.ParseAckMode(cfg.WebhookAckMode)}
	if guard := newReplayGuard(cfg); guard != nil {
		h.Replay = guard
	}

	return setupRouter(h)
}

// newReplayGuard returns nil when no Redis address is configured.
func newReplayGuard(cfg *config.Config) payment.ReplayGuard {
	if cfg.RedisAddr == "" {
		logger.L().Info("REDIS_ADDR not set; webhook replay window disabled")
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.L().Warn("Redis unreachable at startup; replay checks will fail open",
			zap.String("addr", cfg.RedisAddr),
			zap.Error(err),
		)
	}

	return payment.NewRedisReplayGuard(rdb, cfg.ReplayWindow)
}

func setupRouter(h *webhook.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(logger.RequestIDMiddleware, logger.LoggingMiddleware, middleware.HTTPMetrics)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	// Customers coming back from the gateway always get the status redirect.
	r.Get(payment.ReturnPath, h.ReturnHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitMiddleware)

		r.Post(payment.WebhookPath, h.PaymentWebhookHandler)

		// The storefront fetches checkout values from the browser.
		r.Route("/payment/wompi/checkout", func(r chi.Router) {
			r.Use(cors.Handler(cors.Options{
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{http.MethodGet, http.MethodOptions},
				AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
				MaxAge:         300,
			}))
			r.Get("/{reference}", h.CheckoutHandler)
		})
	})

	return r
}
