package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/loanserve/core/internal/broker"
	"github.com/loanserve/core/internal/broker/consumer"
	"github.com/loanserve/core/internal/config"
	"github.com/loanserve/core/internal/httpapi"
	"github.com/loanserve/core/internal/ledger"
	"github.com/loanserve/core/internal/logging"
	"github.com/loanserve/core/internal/metrics"
	"github.com/loanserve/core/internal/migrations"
	"github.com/loanserve/core/internal/outbox"
)

func main() {
	start := time.Now()

	logger, err := logging.New()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("startup: load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, startCancel := context.WithTimeout(ctx, 15*time.Second)
	defer startCancel()

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("startup: parse dsn", zap.Error(err))
	}
	poolCfg.MaxConns = cfg.DBMaxConns
	poolCfg.MinConns = 1
	poolCfg.HealthCheckPeriod = 10 * time.Second
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(startCtx, poolCfg)
	if err != nil {
		logger.Fatal("startup: db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(startCtx); err != nil {
		logger.Fatal("startup: db ping", zap.Error(err))
	}

	if err := migrations.Migrate(startCtx, pool); err != nil {
		logger.Fatal("startup: migrations", zap.Error(err))
	}
	logger.Info("startup: migrations complete")

	reg := metrics.New()

	// Outbox dispatcher: publishes rows the payment poster writes inside
	// its own transaction (spec §4.4 step 4 / §4.5). Runs only when a
	// broker URL is configured; HTTP intake still works without one, the
	// rows simply queue until a dispatcher process picks them up.
	var conn *broker.Connection
	if cfg.BrokerURL != "" {
		conn, err = broker.Dial(cfg.BrokerURL)
		if err != nil {
			logger.Fatal("startup: broker dial", zap.Error(err))
		}
		defer conn.Close()

		pub, err := broker.NewPublisher(conn)
		if err != nil {
			logger.Fatal("startup: broker publisher", zap.Error(err))
		}
		defer pub.Close()

		dispatcher := outbox.NewDispatcher(pool, pub, logger, outbox.DispatcherConfig{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
		})
		go func() {
			if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("outbox dispatcher stopped", zap.Error(err))
			}
		}()

		// payments.reversal / payments.returned: the bank-side
		// consumer-driven half of the payment state machine (spec
		// §3.1's posted -> {reversed, returned}), run from the same
		// connection as the dispatcher's publisher.
		reversalConsumer := consumer.New(conn, pool, logger, consumer.Config[ledger.TransitionMessage]{
			Queue:   "payments.reversal",
			Handler: ledger.ReversalHandler(logger),
		})
		go func() {
			if err := reversalConsumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("payments.reversal consumer stopped", zap.Error(err))
			}
		}()

		returnedConsumer := consumer.New(conn, pool, logger, consumer.Config[ledger.TransitionMessage]{
			Queue:   "payments.returned",
			Handler: ledger.ReturnedHandler(logger),
		})
		go func() {
			if err := returnedConsumer.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("payments.returned consumer stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Warn("startup: BROKER_URL unset, outbox dispatcher and consumers disabled")
	}

	h := httpapi.NewHandlers(pool, logger)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.Router(h),

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: reg.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		_ = metricsSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("startup: ready",
		zap.Duration("elapsed", time.Since(start).Truncate(time.Millisecond)),
		zap.String("addr", cfg.HTTPAddr),
		zap.String("metrics_addr", cfg.MetricsAddr),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
