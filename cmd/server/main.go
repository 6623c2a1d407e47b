package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/rl1809/ticket-ledger/internal/adapter/handler"
	"github.com/rl1809/ticket-ledger/internal/adapter/ledger"
	"github.com/rl1809/ticket-ledger/internal/adapter/storage"
	"github.com/rl1809/ticket-ledger/internal/config"
	"github.com/rl1809/ticket-ledger/internal/core/service"
	"github.com/rl1809/ticket-ledger/internal/port"
)

func main() {
	if err := run(); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()

	flagSet := pflag.NewFlagSet("ticket-ledger", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "HTTP listen address")
	flagSet.StringVar(&cfg.GRPCAddr, "grpc-addr", cfg.GRPCAddr, "gRPC listen address")
	flagSet.StringVar(&cfg.StorageBackend, "storage", cfg.StorageBackend, "storage backend (mysql|memory)")
	flagSet.StringVar(&cfg.LedgerBackend, "ledger", cfg.LedgerBackend, "ledger backend (gateway|devnet)")
	flagSet.StringVar(&cfg.LedgerURL, "ledger-url", cfg.LedgerURL, "ledger node base URL")
	flagSet.IntVar(&cfg.ConfirmationRounds, "confirmation-rounds", cfg.ConfirmationRounds, "rounds to wait for confirmation within a request")
	flagSet.IntVar(&cfg.ReconcileWorkers, "reconcile-workers", cfg.ReconcileWorkers, "background reconciliation workers")
	flagSet.BoolVar(&cfg.DevnetHTTP, "devnet-http", cfg.DevnetHTTP, "serve the devnet node API under /devnet/")
	flagSet.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (debug|info|warn|error)")
	flagSet.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "log format (json|text)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tickets, ops, sequence, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStorage()

	// the service keeps running without a credential and issues fallback ids
	signer := service.LoadSigningAuthority(cfg.PlatformSeed, logger)

	var client port.AssetLedgerClient
	var devnet *ledger.Devnet
	switch cfg.LedgerBackend {
	case config.LedgerDevnet:
		devnet = ledger.NewDevnet(signer, ledger.DevnetOptions{
			ConfirmationLag: cfg.DevnetConfirmationLag,
			PollInterval:    cfg.PollInterval,
		})
		client = devnet
		logger.Warn("using in-process devnet ledger")
	default:
		client = ledger.NewGateway(ledger.GatewayConfig{
			BaseURL:      cfg.LedgerURL,
			Token:        cfg.LedgerToken,
			Timeout:      cfg.LedgerTimeout,
			PollInterval: cfg.PollInterval,
		}, signer, logger)
		logger.Info("using ledger gateway", "url", cfg.LedgerURL)
	}

	opts := service.DefaultOptions()
	opts.ConfirmationRounds = cfg.ConfirmationRounds
	opts.SubmitTimeout = cfg.LedgerTimeout
	opts.AssetNameMaxLength = cfg.AssetNameMaxLength
	opts.AssetUnitName = cfg.AssetUnitName
	opts.ReconcileWorkers = cfg.ReconcileWorkers
	opts.ReconcileQueueSize = cfg.ReconcileQueueSize
	opts.ReconcileMaxAttempts = cfg.ReconcileMaxAttempts
	opts.ReconcileRetryDelay = cfg.ReconcileRetryDelay
	opts.ReconcileSweepInterval = cfg.ReconcileSweepInterval

	ledgerService := service.NewLedgerService(service.Dependencies{
		Ledger:     tickets,
		Operations: ops,
		Sequence:   sequence,
		Client:     client,
		Signer:     signer,
		Logger:     logger,
	}, opts)

	if err := ledgerService.Reconciler.Resume(ctx); err != nil {
		return fmt.Errorf("resume pending operations: %w", err)
	}

	// Initialize gRPC server
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(handler.Codec{}))
	handler.RegisterTicketLedgerServer(grpcServer, handler.NewGRPCHandler(ledgerService, logger))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
	}

	// Initialize HTTP server
	mux := http.NewServeMux()
	handler.NewHTTPHandler(ledgerService, logger).Register(mux)
	if devnet != nil && cfg.DevnetHTTP {
		mux.Handle("/devnet/", http.StripPrefix("/devnet", devnet.Handler(cfg.LedgerToken)))
		logger.Info("devnet node API mounted", "prefix", "/devnet/")
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ledgerService.Reconciler.Run(gctx)
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP shutdown failed", "error", err)
		}
		logger.Info("HTTP server stopped")

		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// openStorage returns the ownership ledger, the operation store and the
// fallback sequence for the configured backend, plus a close func.
func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (port.OwnershipLedger, port.OperationStore, port.SequenceGenerator, func(), error) {
	if cfg.StorageBackend == config.StorageMemory {
		logger.Warn("using in-memory storage, state is lost on restart")
		ops := storage.NewMemoryOperationStore()
		return storage.NewMemoryLedger(), ops, ops, func() {}, nil
	}

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQLDSN)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open mysql: %w", err)
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("ping mysql: %w", err)
	}
	tickets := storage.NewMySQLAdapter(db)
	if err := tickets.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, nil, nil, fmt.Errorf("migrate mysql: %w", err)
	}
	logger.Info("connected to mysql")

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		db.Close()
		rdb.Close()
		return nil, nil, nil, nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis")

	ops := storage.NewRedisAdapter(rdb)
	closeFn := func() {
		rdb.Close()
		db.Close()
		logger.Info("connections closed")
	}
	return tickets, ops, ops, closeFn, nil
}
