package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"digishop-be/internal/api"
	"digishop-be/internal/auth"
	"digishop-be/internal/checkout"
	"digishop-be/internal/config"
	"digishop-be/internal/db"
	"digishop-be/internal/logger"
	"digishop-be/internal/metrics"
	"digishop-be/internal/middleware"
	"digishop-be/internal/notify"
	"digishop-be/internal/order"
	"digishop-be/internal/payment"
	"digishop-be/internal/payment/webhook"
	"digishop-be/internal/product"
	"digishop-be/internal/sealer"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const callbackPath = "/payment/callback"

var (
	initDBFunc      = db.InitDB
	startServerFunc = http.ListenAndServe
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	cfg := config.LoadConfig()
	logger.Init(cfg.AppEnv)
	if err := logger.SetLevel(cfg.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	defer logger.L().Sync()

	database := initDBFunc(cfg)
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	srv, err := newServer(ctx, cfg, database, reg)
	if err != nil {
		return err
	}

	logger.L().Info("🚀 Server running", zap.String("port", cfg.AppPort))
	return startServerFunc(":"+cfg.AppPort, srv)
}

// newServer wires every component against database and returns the root
// handler. Background work stops when ctx is cancelled.
func newServer(ctx context.Context, cfg *config.Config, database *sql.DB, reg *prometheus.Registry) (http.Handler, error) {
	tokens, err := auth.NewTokens(cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("auth: %w", err)
	}

	seal, err := sealer.New(cfg.RequirementKey)
	if err != nil {
		return nil, fmt.Errorf("requirement key: %w", err)
	}

	registry, err := product.NewRegistry(product.DefaultTypes)
	if err != nil {
		return nil, fmt.Errorf("product registry: %w", err)
	}

	rt := cfg.Runtime()
	rec := metrics.New(reg, "digishop")

	var alerter notify.Alerter = notify.Log{}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		alerter = notify.NewTelegram(cfg.TelegramBotToken, cfg.TelegramChatID, rt)
	}

	gateway := payment.NewSepGateway(payment.SepOptions{
		TerminalID:  cfg.SepTerminalID,
		CallbackURL: cfg.SepCallbackURL,
		BaseURL:     cfg.SepBaseURL,
		Runtime:     rt,
		Records:     payment.NewRepository(database),
		Alerter:     alerter,
		Metrics:     rec,
		Wage:        payment.SepWage{},
	})

	products := product.NewRepository()
	orderSvc := order.NewService(
		database,
		db.NewTransactor(database),
		order.NewRepository(),
		products,
		registry,
		rec,
	)
	checkoutSvc := checkout.NewService(orderSvc, gateway, payment.NewCardRepository(database), alerter)

	handler := &api.Handler{
		Orders:       orderSvc,
		Checkout:     checkoutSvc,
		Products:     product.NewService(database, products),
		Sealer:       seal,
		Gateway:      "sep",
		ImageBaseURL: cfg.ImageBaseURL,
	}

	limiter := middleware.NewRateLimiter(cfg.InternalAPIKey, callbackPath)
	go limiter.Run(ctx)

	return setupRouter(handler, webhook.NewSepWebhookHandler(checkoutSvc, cfg.PaymentResultURL),
		tokens, limiter, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})), nil
}

func setupRouter(
	handler *api.Handler,
	callback http.Handler,
	tokens middleware.TokenParser,
	limiter *middleware.RateLimiter,
	metricsHandler http.Handler,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("GET /metrics", metricsHandler)
	mux.Handle("POST "+callbackPath, callback)
	handler.Register(mux, middleware.RequireUser)

	var h http.Handler = mux
	h = limiter.Middleware(h)
	h = middleware.Auth(tokens)(h)
	h = logger.LoggingMiddleware(h)
	h = logger.RequestIDMiddleware(h)
	return h
}
