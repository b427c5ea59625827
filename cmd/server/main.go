// Command relay-server starts the cipher-relay gRPC API and websocket endpoint.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	relayv1 "github.com/and161185/cipher-relay/api/relay/v1"
	"github.com/and161185/cipher-relay/internal/config"
	"github.com/and161185/cipher-relay/internal/limiter"
	"github.com/and161185/cipher-relay/internal/migrate"
	"github.com/and161185/cipher-relay/internal/presence"
	"github.com/and161185/cipher-relay/internal/realtime"
	"github.com/and161185/cipher-relay/internal/repository/postgres"
	grpcserver "github.com/and161185/cipher-relay/internal/server/grpc"
	"github.com/and161185/cipher-relay/internal/server/httpapi"
	"github.com/and161185/cipher-relay/internal/service"
	"github.com/and161185/cipher-relay/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

const shutdownTimeout = 5 * time.Second

// main loads configuration, runs migrations and serves gRPC and websocket traffic until signalled.
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	var logger *zap.Logger
	if cfg.Dev {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("grpc", cfg.GRPCAddr),
		zap.String("http", cfg.HTTPAddr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := migrate.Up(ctx, cfg.DSN, logger); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	chatRepo := postgres.NewChatRepo(db)
	msgRepo := postgres.NewMessageRepo(db)

	ready := map[string]httpapi.Pinger{"postgres": db}
	policy := limiter.Policy{Window: cfg.LoginWindow, MaxFails: cfg.LoginMaxFails, BlockFor: cfg.LoginBlock}

	var (
		lim   limiter.Limiter
		bus   realtime.Bus
		store presence.Store
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatal("redis url", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis ping", zap.Error(err))
		}
		lim = limiter.NewRedis(rdb, policy)
		bus = realtime.NewRedisBus(rdb, realtime.DefaultRedisChannel, logger.Named("bus"))
		store = presence.NewRedis(rdb, nodeName())
		ready["redis"] = httpapi.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	} else {
		lim = limiter.NewPostgres(db.Pool, policy)
		bus = realtime.NewLocalBus()
		store = presence.New()
	}

	// Realtime
	hub := realtime.NewHub(logger.Named("hub"), bus, store)
	if err := hub.Start(ctx); err != nil {
		logger.Fatal("event bus", zap.Error(err))
	}

	// Services
	tokens := token.NewManager([]byte(cfg.JWTKey), cfg.AccessTTL)
	authSvc := service.NewAuthService(userRepo, tokens, lim)
	chatSvc := service.NewChatService(chatRepo, userRepo)
	memberSvc := service.NewMembershipService(chatRepo, hub)
	msgSvc := service.NewMessageService(chatRepo, msgRepo, hub, cfg.PageSize, cfg.MaxPageSize)

	// gRPC server with interceptors
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.AuthUnary(tokens),
			grpcserver.LoggingUnary(logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("serving gRPC without TLS")
	}
	gs := grpc.NewServer(opts...)
	relayv1.RegisterRelayServer(gs, grpcserver.New(logger, grpcserver.Services{
		Auth:     authSvc,
		Chats:    chatSvc,
		Members:  memberSvc,
		Messages: msgSvc,
		Presence: store,
	}))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	if cfg.Dev {
		reflection.Register(gs)
	}

	ws := realtime.NewHandler(hub, tokens, chatRepo, msgSvc, logger.Named("ws"), realtime.HandlerConfig{SendBuffer: cfg.SendBuffer})
	hsrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(logger, ws, ready),
		ReadHeaderTimeout: 10 * time.Second,
	}
	// Shutdown does not wait for hijacked websocket connections.
	hsrv.RegisterOnShutdown(hub.Shutdown)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("grpc listening", zap.String("addr", cfg.GRPCAddr))
		errCh <- gs.Serve(lis)
	}()
	go func() {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr))
		if err := hsrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	// graceful shutdown
	hs.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := hsrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	done := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		gs.Stop()
	}

	logger.Info("shutdown complete")
}

// nodeName identifies this process in the shared presence handle set.
func nodeName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "relay"
	}
	return host + "-" + strconv.Itoa(os.Getpid())
}
