// Triage agents HTTP service.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/triage-agents/internal/agentsvc"
	"github.com/ashureev/triage-agents/internal/api"
	"github.com/ashureev/triage-agents/internal/config"
	"github.com/ashureev/triage-agents/internal/domain"
	"github.com/ashureev/triage-agents/internal/envstore"
	"github.com/ashureev/triage-agents/internal/middleware"
	"github.com/ashureev/triage-agents/internal/store"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const (
	triageRateLimit  = 30
	triageRateWindow = time.Minute
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}
	envstore.ApplyEndpointAlias()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if err := cfg.RequireEndpoint(); err != nil && cfg.Transport == config.TransportREST {
		slog.Error("Missing project endpoint", "error", err)
		os.Exit(1)
	}

	slog.Info("Starting server", "port", cfg.Port, "transport", cfg.Transport, "dev", cfg.IsDevelopment(), "container", config.IsContainer())

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected")

	agents := resolveAgents(context.Background(), cfg.Agents, repo)
	if missing := agents.Missing(); len(missing) > 0 {
		slog.Warn("Some agents are not configured", "missing", missing)
	}

	svc, closeSvc, err := agentsvc.Open(cfg.Service(), logger)
	if err != nil {
		slog.Error("Failed to initialize agent service client", "error", err)
		os.Exit(1)
	}
	defer closeSvc()

	if checker, ok := svc.(interface{ Health(context.Context) error }); ok {
		healthCtx, cancelHealth := context.WithTimeout(context.Background(), 5*time.Second)
		if err := checker.Health(healthCtx); err != nil {
			slog.Warn("Agent service gateway is not serving", "error", err)
		}
		cancelHealth()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize handlers.
	baseHandler := api.NewHandler(svc, repo, api.Options{
		Endpoint: cfg.Foundry.Endpoint,
		Agents:   agents,
		Schedule: cfg.Schedule(),
		Logger:   logger,
		// Same-host sockets are always accepted.
		OriginPatterns: websocketOrigins(cfg),
	})
	healthHandler := api.NewHealthHandler(baseHandler)
	limiter := middleware.NewRateLimiter(ctx, triageRateLimit, triageRateWindow)
	triageHandler := api.NewTriageHandler(baseHandler, middleware.RateLimit(limiter))

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(allowedOrigins(cfg)))

	healthHandler.RegisterHealth(r)
	triageHandler.RegisterRoutes(r)

	// Watch sockets stay open for the whole run, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	grpcSrv := startGateway(cfg.GRPCPort, svc)

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// resolveAgents fills roles missing from the environment with the last
// bootstrapped registry.
func resolveAgents(ctx context.Context, fromEnv domain.AgentSet, repo store.Repository) domain.AgentSet {
	if len(fromEnv.Missing()) == 0 {
		return fromEnv
	}
	stored, err := repo.GetAgents(ctx)
	if err != nil {
		slog.Warn("Failed to load stored agents", "error", err)
		return fromEnv
	}
	return fromEnv.WithFallback(stored)
}

func allowedOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	return []string{cfg.FrontendURL}
}

func websocketOrigins(cfg *config.Config) []string {
	if cfg.IsDevelopment() {
		return []string{"*"}
	}
	u, err := url.Parse(cfg.FrontendURL)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

// startGateway exposes the agent service over gRPC when port is set.
func startGateway(port string, svc agentsvc.Service) *grpc.Server {
	if port == "" {
		return nil
	}
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		slog.Error("Failed to listen for gRPC", "port", port, "error", err)
		os.Exit(1)
	}

	srv := grpc.NewServer()
	agentsvc.RegisterGrpcServer(srv, svc)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus(agentsvc.ServiceName(), healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)

	go func() {
		slog.Info("gRPC gateway listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			slog.Error("gRPC gateway failed", "error", err)
		}
	}()
	return srv
}
