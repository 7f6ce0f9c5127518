package main

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"homestats.org/internal/account"
	"homestats.org/internal/audit"
	"homestats.org/internal/cleanup"
	"homestats.org/internal/config"
	"homestats.org/internal/httpapi"
	"homestats.org/internal/obs"
	"homestats.org/internal/password"
	"homestats.org/internal/service"
	"homestats.org/internal/token"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		obs.InitLogger("info")
		lg := obs.Logger()
		lg.Fatal().Err(err).Msg("load config")
	}

	obs.InitLogger(cfg.LogLevel)
	obs.Init()
	obs.InitBuildInfo(version, commit)
	log := obs.Logger()

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	defer db.Close()

	store := account.NewPGStore(db)
	codec, err := token.NewCodec(cfg.AuthSecret,
		token.WithIssuer(cfg.Issuer),
		token.WithAccessTTL(cfg.AccessTTL),
		token.WithRefreshTTL(cfg.RefreshTTL))
	if err != nil {
		log.Fatal().Err(err).Msg("token codec")
	}
	hasher := password.NewHasher(cfg.BcryptCost)

	grace := time.Duration(cfg.GracePeriodDays) * 24 * time.Hour
	svc, err := service.New(store, codec, hasher,
		service.WithGracePeriod(grace),
		service.WithLogger(obs.Component("service")))
	if err != nil {
		log.Fatal().Err(err).Msg("auth service")
	}

	sched := cleanup.New(store, grace,
		cleanup.WithInterval(cfg.CleanupInterval),
		cleanup.WithLogger(obs.Component("cleanup")))

	rec := audit.NewRecorder(obs.Component("audit"))

	api := httpapi.New(svc, sched, httpapi.ReadyProbe{DB: db}, version,
		httpapi.WithLogger(obs.Component("http")),
		httpapi.WithRateLimit(cfg.RateBurst, cfg.RatePerSec),
		httpapi.WithAudit(rec))

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched.Start(ctx)

	// gRPC health surface for infra probes.
	grpcSrv := grpc.NewServer()
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.GRPCAddr).Msg("grpc listen")
			return
		}
		log.Info().Str("addr", cfg.GRPCAddr).Msg("grpc health server listening")
		if err := grpcSrv.Serve(lis); err != nil {
			log.Error().Err(err).Msg("grpc serve")
		}
	}()

	log.Info().
		Str("version", version).
		Str("addr", cfg.HTTPAddr).
		Str("env", cfg.AppEnv).
		Msg("starting homestats-api")

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Info().Msg("shutting down")

	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	grpcSrv.GracefulStop()
	sched.Stop()
	cancel()

	log.Info().Msg("stopped")
}
