package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/familyfund/backend/docs"
	"github.com/familyfund/backend/internal/audit"
	"github.com/familyfund/backend/internal/config"
	"github.com/familyfund/backend/internal/database"
	"github.com/familyfund/backend/internal/gateway"
	"github.com/familyfund/backend/internal/handlers"
	"github.com/familyfund/backend/internal/idempotency"
	"github.com/familyfund/backend/internal/metrics"
	mW "github.com/familyfund/backend/internal/middleware"
	"github.com/familyfund/backend/internal/services"
	"github.com/familyfund/backend/internal/tokenizer"
	"github.com/familyfund/backend/pkg/logging"
)

// @title Family Fund API
// @version 1.0
// @description Family group funds backed by card payments
// @host localhost:8080
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.LogLevel)

	docs.SwaggerInfo.Host = "localhost:" + cfg.Port

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := database.OpenStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	redisClient := database.InitRedis(ctx, cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}
	locker := idempotency.NewLocker(redisClient, cfg.Redis.LockTTL)

	tok, vault, err := tokenizer.New(cfg.Tokenizer)
	if err != nil {
		slog.Error("failed to initialize tokenizer", "error", err)
		os.Exit(1)
	}
	var resolve gateway.CardResolver
	if vault != nil {
		resolve = vault.Last4
	}
	gw := gateway.New(cfg.Gateway, resolve)

	auditLogger := audit.NewLogger(slog.Default())
	ledgerService := services.NewLedgerService(store, auditLogger)
	onboardingService := services.NewOnboardingService(store, ledgerService, gw, locker, auditLogger, services.OnboardingConfig{
		Fee:            cfg.Fund.OnboardingFee,
		Currency:       cfg.Fund.Currency,
		MaxCommitTries: cfg.Reconcile.MaxCommitTries,
	})
	topUpService := services.NewTopUpService(store, ledgerService, gw, locker, auditLogger, cfg.Reconcile.MaxCommitTries)
	groupService := services.NewGroupService(store, ledgerService)
	reconciler := services.NewReconciler(store, gw, locker, auditLogger, onboardingService, topUpService, services.ReconcileConfig{
		StaleAfter:   cfg.Reconcile.StaleAfter,
		AbandonAfter: cfg.Reconcile.AbandonAfter,
		BatchSize:    cfg.Reconcile.BatchSize,
	})

	tokenizeHandler := handlers.NewTokenizeHandler(tok)
	groupHandler := handlers.NewGroupHandler(onboardingService, groupService)
	fundHandler := handlers.NewFundHandler(topUpService)
	attemptHandler := handlers.NewAttemptHandler(groupService)

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status, code := "healthy", http.StatusOK
		if err := store.Ping(r.Context()); err != nil {
			status, code = "degraded", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Handle("/static/group-images/*", http.StripPrefix("/static/group-images/",
		mW.GroupImageServer("./static/group-images")))

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(mW.Auth(cfg.JWT.SecretKey))
			r.Use(middleware.Timeout(60 * time.Second))

			r.Post("/tokenize", tokenizeHandler.Tokenize)

			r.Post("/groups", groupHandler.CreateGroup)
			r.Get("/groups/{groupId}/fund", groupHandler.GetGroupFund)
			r.Get("/groups/{groupId}/transactions", groupHandler.ListTransactions)
			r.Post("/groups/{groupId}/recipients", groupHandler.AddRecipient)

			r.Post("/funds/add", fundHandler.AddFunds)
			r.Get("/attempts/{attemptId}", attemptHandler.GetAttempt)
		})
	})

	go reconciler.Run(ctx, cfg.Reconcile.Interval)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Gateway.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", server.Addr, "storage", store.Dialect(), "gateway", cfg.Gateway.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	slog.Info("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	slog.Info("server stopped")
}
