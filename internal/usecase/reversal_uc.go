package usecase

import (
	"context"
	"fmt"
	"time"

	"ledger-core/internal/domain"
	"ledger-core/internal/repository"
	"ledger-core/pkg/utils"
)

// DefaultReversalWindow bounds how long after commit a transfer stays
// reversible. Overridable through config per deployment.
const DefaultReversalWindow = 24 * time.Hour

// finalizeAttempts bounds retries on the post-commit COMPLETED flip.
const finalizeAttempts = 3

// ReversalUsecase drives the compensating-transfer state machine:
// PENDING -> APPROVED -> PROCESSING -> COMPLETED/FAILED, with a PENDING ->
// CANCELLED escape hatch.
type ReversalUsecase struct {
	reversalRepo repository.ReversalRepository
	txnRepo      repository.TransactionRepository
	transferRepo repository.TransferRepository
	publisher    EventPublisher
	idGen        *utils.RefGenerator
	window       time.Duration
}

func NewReversalUsecase(
	reversalRepo repository.ReversalRepository,
	txnRepo repository.TransactionRepository,
	transferRepo repository.TransferRepository,
	publisher EventPublisher,
	idGen *utils.RefGenerator,
	window time.Duration,
) *ReversalUsecase {
	if window <= 0 {
		window = DefaultReversalWindow
	}
	return &ReversalUsecase{
		reversalRepo: reversalRepo,
		txnRepo:      txnRepo,
		transferRepo: transferRepo,
		publisher:    publisher,
		idGen:        idGen,
		window:       window,
	}
}

// Request opens a reversal for a committed transfer. Eligibility is checked
// here; the single-live-record rule is enforced at insert time so two
// concurrent requests cannot both survive.
func (uc *ReversalUsecase) Request(ctx context.Context, req *domain.ReversalRequest) (*domain.ReversalRecord, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pair, err := uc.txnRepo.GetPairByTransferRef(ctx, req.OriginalTransferRef)
	if err != nil {
		return nil, err
	}
	if err := domain.EligibleForReversal(pair, uc.window, time.Now().UTC()); err != nil {
		return nil, err
	}

	rec := &domain.ReversalRecord{
		ID:                  uc.idGen.ReversalRecordID(),
		OriginalTransferRef: req.OriginalTransferRef,
		InitiatorID:         req.InitiatorID,
		ReasonCode:          req.ReasonCode,
		Status:              domain.ReversalStatusPending,
	}
	if err := uc.reversalRepo.Create(ctx, rec); err != nil {
		return nil, err
	}

	fmt.Printf("[REVERSAL REQUESTED] ID: %s | Original: %s | Reason: %s\n", rec.ID, rec.OriginalTransferRef, rec.ReasonCode)
	return rec, nil
}

// Approve records the approver and immediately runs the compensating
// transfer. The guarded PENDING -> APPROVED transition makes double approval
// a no-op failure rather than a double execution.
func (uc *ReversalUsecase) Approve(ctx context.Context, reversalID, approverID string) (*domain.ReversalRecord, error) {
	if err := uc.reversalRepo.TransitionStatus(ctx, reversalID, domain.ReversalStatusPending, domain.ReversalStatusApproved); err != nil {
		return nil, err
	}
	if err := uc.reversalRepo.SetApprover(ctx, reversalID, approverID); err != nil {
		return nil, err
	}
	return uc.Process(ctx, reversalID)
}

// Cancel withdraws a reversal that has not been approved yet.
func (uc *ReversalUsecase) Cancel(ctx context.Context, reversalID string) (*domain.ReversalRecord, error) {
	if err := uc.reversalRepo.TransitionStatus(ctx, reversalID, domain.ReversalStatusPending, domain.ReversalStatusCancelled); err != nil {
		return nil, err
	}
	return uc.reversalRepo.GetByID(ctx, reversalID)
}

func (uc *ReversalUsecase) GetByID(ctx context.Context, reversalID string) (*domain.ReversalRecord, error) {
	return uc.reversalRepo.GetByID(ctx, reversalID)
}

func (uc *ReversalUsecase) GetByOriginalRef(ctx context.Context, originalRef string) (*domain.ReversalRecord, error) {
	return uc.reversalRepo.GetByOriginalRef(ctx, originalRef)
}

// Process executes one approved reversal. Eligibility is re-checked under
// PROCESSING: the window may have expired between request and approval.
func (uc *ReversalUsecase) Process(ctx context.Context, reversalID string) (*domain.ReversalRecord, error) {
	if err := uc.reversalRepo.TransitionStatus(ctx, reversalID, domain.ReversalStatusApproved, domain.ReversalStatusProcessing); err != nil {
		return nil, err
	}

	rec, err := uc.reversalRepo.GetByID(ctx, reversalID)
	if err != nil {
		return nil, err
	}

	pair, err := uc.txnRepo.GetPairByTransferRef(ctx, rec.OriginalTransferRef)
	if err == nil {
		err = domain.EligibleForReversal(pair, uc.window, time.Now().UTC())
	}

	var reversalPair *domain.TransferPair
	if err == nil {
		reversalRef := uc.idGen.ReversalRef()
		reversalPair, err = uc.transferRepo.ExecuteReversal(ctx, pair, reversalRef, rec.InitiatorID)
		if err == nil {
			rec.ReversalTransferRef = &reversalRef
		}
	}

	if err != nil {
		return uc.fail(ctx, reversalID, err)
	}

	if err := uc.finalize(ctx, reversalID, rec.ReversalTransferRef); err != nil {
		// The compensating transfer is already durable. A record stuck in
		// PROCESSING needs an operator, not a silent error return.
		fmt.Printf("[REVERSAL ALERT] Reversal %s committed as %s but could not be marked COMPLETED: %v\n",
			reversalID, *rec.ReversalTransferRef, err)
		return nil, fmt.Errorf("reversal %s committed but status update failed: %w", reversalID, err)
	}

	rec, err = uc.reversalRepo.GetByID(ctx, reversalID)
	if err != nil {
		return nil, err
	}

	fmt.Printf("[REVERSAL SUCCESS] ID: %s | Original: %s | Compensating: %s\n",
		rec.ID, rec.OriginalTransferRef, *rec.ReversalTransferRef)
	uc.publishReversed(rec, reversalPair)
	return rec, nil
}

// finalize records the compensating reference and flips PROCESSING ->
// COMPLETED, retrying transient store failures: by this point the money has
// moved, so giving up on the first attempt would strand the record.
func (uc *ReversalUsecase) finalize(ctx context.Context, reversalID string, reversalRef *string) error {
	var err error
	for attempt := 1; attempt <= finalizeAttempts; attempt++ {
		if err = uc.reversalRepo.SetResult(ctx, reversalID, reversalRef, nil); err == nil {
			if err = uc.reversalRepo.TransitionStatus(ctx, reversalID, domain.ReversalStatusProcessing, domain.ReversalStatusCompleted); err == nil {
				return nil
			}
		}
		time.Sleep(retryBackoff * time.Duration(attempt))
	}
	return err
}

// fail parks the record in FAILED with the cause. The original transfer is
// untouched and a new reversal may be requested.
func (uc *ReversalUsecase) fail(ctx context.Context, reversalID string, cause error) (*domain.ReversalRecord, error) {
	msg := cause.Error()
	if err := uc.reversalRepo.SetResult(ctx, reversalID, nil, &msg); err != nil {
		fmt.Printf("[REVERSAL ERROR] Failed to record failure for %s: %v\n", reversalID, err)
	}
	if err := uc.reversalRepo.TransitionStatus(ctx, reversalID, domain.ReversalStatusProcessing, domain.ReversalStatusFailed); err != nil {
		fmt.Printf("[REVERSAL ERROR] Failed to mark %s failed: %v\n", reversalID, err)
	}
	return nil, cause
}

func (uc *ReversalUsecase) publishReversed(rec *domain.ReversalRecord, pair *domain.TransferPair) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := uc.publisher.PublishTransferReversed(ctx, rec, pair); err != nil {
		fmt.Printf("[EVENT ERROR] Failed to publish reversal %s: %v\n", rec.ID, err)
	}
}
