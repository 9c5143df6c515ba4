package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rl1809/balance-ledger/internal/adapter/alert"
	"github.com/rl1809/balance-ledger/internal/adapter/handler"
	"github.com/rl1809/balance-ledger/internal/adapter/storage"
	"github.com/rl1809/balance-ledger/internal/config"
	"github.com/rl1809/balance-ledger/internal/core/service"
	"github.com/rl1809/balance-ledger/internal/port"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	logger, err := newLogger(cfg.Server.AppEnv)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize MySQL
	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logger.Fatal("failed to connect mysql", zap.Error(err))
	}
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		logger.Fatal("failed to ping mysql", zap.Error(err))
	}
	logger.Info("connected to mysql")

	mysqlAdapter := storage.NewMySQLAdapter(db)
	if err := mysqlAdapter.InitSchema(ctx); err != nil {
		logger.Fatal("failed to init schema", zap.Error(err))
	}

	// Initialize Redis
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Fatal("failed to connect redis", zap.Error(err))
	}
	logger.Info("connected to redis")

	redisAdapter := storage.NewRedisAdapter(rdb)

	// Alert sink: Kafka when brokers are configured, log otherwise
	var alerts port.AlertSink
	var kafkaSink *alert.KafkaSink
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink = alert.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		alerts = kafkaSink
		logger.Info("alerts routed to kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	} else {
		alerts = alert.NewLogSink(logger)
	}

	ledgerService := service.NewLedgerService(mysqlAdapter, mysqlAdapter, redisAdapter, alerts, logger)

	// Start background verifier
	verifier := service.NewVerifier(mysqlAdapter, mysqlAdapter, alerts, logger, cfg.Verifier.Interval)
	verifierDone := make(chan struct{})
	go func() {
		defer close(verifierDone)
		verifier.Run(ctx)
	}()
	logger.Info("verifier started", zap.Duration("interval", cfg.Verifier.Interval))

	// Initialize HTTP server
	httpHandler := handler.NewHTTPHandler(ledgerService, logger)
	mux := http.NewServeMux()
	httpHandler.Register(mux)

	httpServer := &http.Server{
		Addr:    cfg.Server.HTTPPort,
		Handler: mux,
	}

	go func() {
		logger.Info("HTTP server listening", zap.String("addr", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpServer.Shutdown(shutdownCtx)
	logger.Info("HTTP server stopped")

	cancel()
	<-verifierDone
	logger.Info("verifier stopped")

	if kafkaSink != nil {
		kafkaSink.Close()
	}
	rdb.Close()
	db.Close()
	logger.Info("connections closed")
}

func newLogger(appEnv string) (*zap.Logger, error) {
	if appEnv == "dev" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
