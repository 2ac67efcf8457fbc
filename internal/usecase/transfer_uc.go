package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-core/internal/domain"
	"ledger-core/internal/repository"
	"ledger-core/pkg/utils"
	"ledger-core/pkg/xerrors"
)

const (
	// DefaultIdempotencyTTL is the retention window for request dedup.
	DefaultIdempotencyTTL = 24 * time.Hour

	// DefaultMaxRetries bounds internal retries on transient conflicts.
	DefaultMaxRetries = 3

	retryBackoff   = 50 * time.Millisecond
	publishTimeout = 5 * time.Second
)

// EventPublisher is the outbound event surface the core depends on but does
// not implement.
type EventPublisher interface {
	PublishTransferCommitted(ctx context.Context, pair *domain.TransferPair) error
	PublishTransferReversed(ctx context.Context, rec *domain.ReversalRecord, pair *domain.TransferPair) error
	PublishLimitThreshold(ctx context.Context, crossing domain.ThresholdCrossing) error
}

// IdempotencyGuard is the reservation surface the processor needs.
type IdempotencyGuard interface {
	Reserve(ctx context.Context, ownerID, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, ownerID, key string) error
}

// TransferUsecase orchestrates one movement end to end: validation, the
// idempotency reservation, the limit gate, the atomic commit unit and the
// post-commit event.
type TransferUsecase struct {
	transferRepo repository.TransferRepository
	txnRepo      repository.TransactionRepository
	accountRepo  repository.AccountRepository
	limitUC      *LimitUsecase
	guard        IdempotencyGuard
	publisher    EventPublisher
	idGen        *utils.RefGenerator

	idemTTL    time.Duration
	maxRetries int
}

func NewTransferUsecase(
	transferRepo repository.TransferRepository,
	txnRepo repository.TransactionRepository,
	accountRepo repository.AccountRepository,
	limitUC *LimitUsecase,
	guard IdempotencyGuard,
	publisher EventPublisher,
	idGen *utils.RefGenerator,
	idemTTL time.Duration,
	maxRetries int,
) *TransferUsecase {
	if idemTTL <= 0 {
		idemTTL = DefaultIdempotencyTTL
	}
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &TransferUsecase{
		transferRepo: transferRepo,
		txnRepo:      txnRepo,
		accountRepo:  accountRepo,
		limitUC:      limitUC,
		guard:        guard,
		publisher:    publisher,
		idGen:        idGen,
		idemTTL:      idemTTL,
		maxRetries:   maxRetries,
	}
}

// Execute commits one movement. Every failure before the atomic unit leaves
// zero durable effect except the idempotency reservation, which is released so
// a legitimate retry with the same key can succeed.
func (uc *TransferUsecase) Execute(ctx context.Context, req *domain.TransferRequest) (*domain.TransferPair, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Resolve the source up front: account-not-found must fail before any
	// reservation or mutation, and the limit gate is keyed by account id.
	source, err := uc.accountRepo.GetByNumber(ctx, req.SourceAccountNumber)
	if err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		isNew, err := uc.guard.Reserve(ctx, req.InitiatorID, req.IdempotencyKey, uc.idemTTL)
		if err != nil {
			// Strict guard, store down: reject rather than risk a
			// duplicate movement.
			return nil, err
		}
		if !isNew {
			return uc.replay(ctx, source.ID, req.IdempotencyKey)
		}
	}

	pair, err := uc.execute(ctx, req, source.ID)
	if err != nil {
		if req.IdempotencyKey != "" {
			if relErr := uc.guard.Release(context.WithoutCancel(ctx), req.InitiatorID, req.IdempotencyKey); relErr != nil {
				fmt.Printf("[TRANSFER WARN] Failed to release idempotency key %s: %v\n", req.IdempotencyKey, relErr)
			}
		}
		return nil, err
	}
	return pair, nil
}

func (uc *TransferUsecase) execute(ctx context.Context, req *domain.TransferRequest, sourceID int64) (*domain.TransferPair, error) {
	if err := uc.limitUC.CanUse(ctx, sourceID, req.Category, req.Amount); err != nil {
		return nil, err
	}

	transferRef := uc.idGen.TransferRef()

	var pair *domain.TransferPair
	var crossings []domain.ThresholdCrossing
	var err error

	for attempt := 1; attempt <= uc.maxRetries; attempt++ {
		pair, crossings, err = uc.transferRepo.ExecuteTransfer(ctx, req, transferRef)
		if err == nil || !errors.Is(err, xerrors.ErrConcurrentModification) {
			break
		}
		fmt.Printf("[TRANSFER RETRY] Ref: %s | Attempt: %d/%d | Conflict\n", transferRef, attempt, uc.maxRetries)
		time.Sleep(retryBackoff * time.Duration(attempt))
	}
	if err != nil {
		return nil, err
	}

	fmt.Printf("[TRANSFER SUCCESS] Ref: %s | %s -> %s | Amount: %s %s\n",
		transferRef, req.SourceAccountNumber, req.DestAccountNumber, req.Amount.String(), req.Currency)

	uc.publishCommitted(pair, crossings)
	return pair, nil
}

// replay returns the outcome of the original request for a repeated key.
// The lookup is scoped to the caller's source account: the same client key
// reused by a different initiator names a different reservation and must
// never surface this caller's pair.
func (uc *TransferUsecase) replay(ctx context.Context, sourceID int64, key string) (*domain.TransferPair, error) {
	pair, err := uc.txnRepo.GetPairByIdempotencyKey(ctx, sourceID, key)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			// Reservation taken but no commit yet: a concurrent attempt
			// is in flight.
			return nil, xerrors.ErrDuplicateRequest
		}
		return nil, err
	}
	pair.Duplicate = true
	return pair, nil
}

// publishCommitted emits post-commit events. Best effort: the transfer is
// already durable, so a publish failure is logged and swallowed.
func (uc *TransferUsecase) publishCommitted(pair *domain.TransferPair, crossings []domain.ThresholdCrossing) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := uc.publisher.PublishTransferCommitted(ctx, pair); err != nil {
		fmt.Printf("[EVENT ERROR] Failed to publish commit for %s: %v\n", pair.TransferRef, err)
	}
	for _, c := range crossings {
		if err := uc.publisher.PublishLimitThreshold(ctx, c); err != nil {
			fmt.Printf("[EVENT ERROR] Failed to publish limit threshold for limit %d: %v\n", c.LimitID, err)
		}
	}
}

// ===============================
// QUERIES
// ===============================

func (uc *TransferUsecase) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return uc.txnRepo.GetByID(ctx, id)
}

func (uc *TransferUsecase) GetTransferByRef(ctx context.Context, ref string) (*domain.TransferPair, error) {
	return uc.txnRepo.GetPairByTransferRef(ctx, ref)
}

func (uc *TransferUsecase) ListAccountTransactions(ctx context.Context, accountNumber string, limit, offset int) ([]*domain.Transaction, error) {
	account, err := uc.accountRepo.GetByNumber(ctx, accountNumber)
	if err != nil {
		return nil, err
	}
	return uc.txnRepo.ListByAccount(ctx, account.ID, limit, offset)
}
