package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	httpdelivery "github.com/Xausdorf/ledger-core/internal/delivery/http"
	kafkadelivery "github.com/Xausdorf/ledger-core/internal/delivery/kafka"
	"github.com/Xausdorf/ledger-core/internal/domain/entity"
	"github.com/Xausdorf/ledger-core/internal/domain/repository"
	"github.com/Xausdorf/ledger-core/internal/idgen"
	"github.com/Xausdorf/ledger-core/internal/infrastructure/config"
	kafkainfra "github.com/Xausdorf/ledger-core/internal/infrastructure/kafka"
	"github.com/Xausdorf/ledger-core/internal/infrastructure/memory"
	"github.com/Xausdorf/ledger-core/internal/infrastructure/postgres"
	"github.com/Xausdorf/ledger-core/internal/usecase/ledgerwriter"
	"github.com/Xausdorf/ledger-core/internal/usecase/payment"
	"github.com/Xausdorf/ledger-core/internal/usecase/retry"
	"github.com/Xausdorf/ledger-core/internal/usecase/transfer"
)

const (
	dbMaxConns        = 10
	dbMinConns        = 2
	dbMaxConnLifetime = 30 * time.Minute
	dbMaxConnIdleTime = 5 * time.Minute

	railMaxLatency  = 300 * time.Millisecond
	shutdownTimeout = 10 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()

	ids, err := idgen.New(cfg.NodeID)
	if err != nil {
		logger.Error("id generator init failed", "error", err)
		os.Exit(1)
	}

	var uow repository.UnitOfWork
	if cfg.InMemory {
		logger.Warn("running with in-memory store, state will not survive restarts")
		uow = memory.NewUnitOfWork(memory.NewStore())
	} else {
		pool, err := initDB(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("database init failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		uow = postgres.NewUnitOfWork(pool)
	}

	publisher := kafkainfra.NewPublisher(cfg.KafkaBrokers, cfg.CompletedTopic)
	defer publisher.Close()

	seed := uint64(time.Now().UnixNano())
	engines := transfer.NewRegistry(map[entity.BankCode]transfer.Engine{
		entity.BankSelf:  transfer.NewInternalEngine(uow),
		entity.BankApex:  transfer.NewSimulatedRail(entity.BankApex, railMaxLatency, seed),
		entity.BankOrbit: transfer.NewSimulatedRail(entity.BankOrbit, railMaxLatency, seed+1),
	})

	svc := payment.NewService(uow, engines, publisher, ids, logger, cfg.MaxRetries)
	writer := ledgerwriter.NewWriter(uow, ids, logger)

	scheduler := retry.NewScheduler(uow, svc, ids, logger, retry.Config{
		Interval:       cfg.ScanInterval,
		StuckThreshold: cfg.StuckThreshold,
		BaseDelay:      cfg.BaseRetryDelay,
		ClaimTimeout:   cfg.ClaimTimeout,
		MaxRetries:     cfg.MaxRetries,
	})
	go func() {
		if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("retry scheduler stopped", "error", err)
		}
	}()

	paymentConsumer := kafkainfra.NewConsumer(
		cfg.KafkaBrokers, cfg.InitiationTopic, cfg.ConsumerGroup+".payments", logger)
	go func() {
		if err := paymentConsumer.Run(ctx, kafkadelivery.NewPaymentHandler(svc, logger).Handle); err != nil {
			logger.Error("payment consumer stopped", "error", err)
		}
	}()

	ledgerConsumer := kafkainfra.NewConsumer(
		cfg.KafkaBrokers, cfg.CompletedTopic, cfg.ConsumerGroup+".ledger", logger)
	go func() {
		if err := ledgerConsumer.Run(ctx, kafkadelivery.NewLedgerHandler(writer, logger).Handle); err != nil {
			logger.Error("ledger consumer stopped", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpdelivery.NewRouter(httpdelivery.NewHandler(uow, logger)),
	}
	go func() {
		logger.Info("HTTP server starting", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve failed", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
}

func initDB(ctx context.Context, url string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = dbMaxConns
	cfg.MinConns = dbMinConns
	cfg.MaxConnLifetime = dbMaxConnLifetime
	cfg.MaxConnIdleTime = dbMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return pool, nil
}
