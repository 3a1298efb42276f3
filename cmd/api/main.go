package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/punchamoorthee/rewardledger/internal/api"
	"github.com/punchamoorthee/rewardledger/internal/auth"
	"github.com/punchamoorthee/rewardledger/internal/config"
	"github.com/punchamoorthee/rewardledger/internal/events"
	"github.com/punchamoorthee/rewardledger/internal/logging"
	"github.com/punchamoorthee/rewardledger/internal/service"
	"github.com/punchamoorthee/rewardledger/internal/store"
	"github.com/punchamoorthee/rewardledger/internal/store/memory"
	"github.com/punchamoorthee/rewardledger/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found; relying on existing environment")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	ledgerStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Unable to connect to database", zap.Error(err))
	}
	defer ledgerStore.Close()

	publisher, closeEvents := openEvents(ctx, cfg, logger)
	defer closeEvents()

	tokens := auth.NewTokenManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTTTL)
	handler := api.NewHandler(
		service.NewAccounts(ledgerStore, tokens, logger),
		service.NewWorkflow(ledgerStore, cfg.Ledger, publisher, logger),
		tokens,
		logger,
		cfg.PublicURL,
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr), zap.String("storage", cfg.StorageDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctxShutdown); err != nil {
		logger.Warn("graceful shutdown error", zap.Error(err))
	}
	logger.Info("Server stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	if cfg.StorageDriver == config.DriverMemory {
		logger.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil
	}
	return postgres.Open(ctx, cfg.DBSource)
}

// openEvents connects the configured event sinks. A sink that cannot be reached is
// skipped; the ledger never depends on delivery.
func openEvents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (events.Publisher, func()) {
	var (
		sinks   events.Multi
		closers []func()
	)

	if cfg.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			logger.Warn("amqp publisher disabled", zap.Error(err))
		} else {
			sinks = append(sinks, pub)
			closers = append(closers, pub.Close)
		}
	}

	if cfg.MongoURI != "" {
		audit, err := events.NewMongoAudit(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			logger.Warn("mongo audit disabled", zap.Error(err))
		} else {
			sinks = append(sinks, audit)
			closers = append(closers, func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				audit.Close(ctx)
			})
		}
	}

	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}
	if len(sinks) == 0 {
		return events.Nop{}, closeAll
	}
	return sinks, closeAll
}
