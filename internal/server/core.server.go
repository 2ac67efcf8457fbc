package server

import (
	"context"
	"log"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"ledger-core/internal/config"
	hrest "ledger-core/internal/handler/rest"
	publisher "ledger-core/internal/pub"
	"ledger-core/internal/repository"
	"ledger-core/internal/service"
	"ledger-core/internal/usecase"
	"ledger-core/pkg/utils"
)

// NewLedgerServer wires the core and serves REST until the process exits.
func NewLedgerServer(ctx context.Context, cfg config.AppConfig) {
	// --- DB connection ---
	dbpool, err := config.ConnectDB()
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	idGen := utils.NewRefGenerator()

	// --- Redis client ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       0,
	})

	// --- Kafka writer ---
	kafkaWriter := &kafka.Writer{
		Addr:     kafka.TCP(cfg.KafkaBrokers...),
		Topic:    cfg.KafkaTopic,
		Balancer: &kafka.LeastBytes{},
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("failed to init zap logger: %v", err)
	}
	defer zapLogger.Sync()

	// --- Repositories ---
	accountRepo := repository.NewAccountRepo(dbpool)
	txnRepo := repository.NewTransactionRepo(dbpool)
	journalRepo := repository.NewJournalRepo(dbpool)
	limitRepo := repository.NewLimitRepo(dbpool)
	reversalRepo := repository.NewReversalRepo(dbpool)
	transferRepo := repository.NewTransferRepo(dbpool, accountRepo, txnRepo, journalRepo, limitRepo, idGen)

	// Strict guard: money movement fails closed when Redis is down.
	guard := repository.NewIdempotencyGuard(rdb, true)

	// --- Publisher ---
	eventPub := publisher.NewTransferEventPublisher(kafkaWriter, rdb)

	// --- Usecases ---
	accountUC := usecase.NewAccountUsecase(accountRepo, rdb, idGen)
	limitUC := usecase.NewLimitUsecase(limitRepo)
	ledgerUC := usecase.NewLedgerUsecase(journalRepo)
	transferUC := usecase.NewTransferUsecase(
		transferRepo, txnRepo, accountRepo, limitUC, guard, eventPub, idGen,
		cfg.IdempotencyTTL, cfg.TransferMaxRetries,
	)
	reversalUC := usecase.NewReversalUsecase(
		reversalRepo, txnRepo, transferRepo, eventPub, idGen, cfg.ReversalWindow,
	)

	// --- Services ---
	seeder := service.NewSystemSeeder(accountRepo, []string{"NGN", "USD"})
	go func() {
		if err := seeder.SeedSystem(ctx); err != nil {
			log.Printf("⚠️  System seeding failed: %v", err)
		}
	}()

	sweeper := service.NewLimitSweeper(limitRepo, cfg.LimitSweepInterval, zapLogger)
	go sweeper.Run(ctx)

	// --- REST handler ---
	handler := hrest.NewLedgerRestHandler(accountUC, transferUC, ledgerUC, limitUC, reversalUC)
	handler.Start(cfg.HTTPAddr)
}
