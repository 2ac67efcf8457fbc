package usecase

import (
	"context"

	"ledger-core/internal/domain"
	"ledger-core/internal/repository"
	"ledger-core/pkg/xerrors"
)

// LedgerUsecase exposes the journal read side and the balance audit.
type LedgerUsecase struct {
	journalRepo repository.JournalRepository
}

func NewLedgerUsecase(journalRepo repository.JournalRepository) *LedgerUsecase {
	return &LedgerUsecase{journalRepo: journalRepo}
}

func (uc *LedgerUsecase) ListEntries(ctx context.Context, transactionID string) ([]*domain.JournalEntry, error) {
	return uc.journalRepo.ListByTransaction(ctx, transactionID)
}

// ValidateBalance audits one transaction: debit and credit totals across its
// entries must match. Returns ErrLedgerInconsistency on a mismatch, which
// means entries were mutated outside the posting path.
func (uc *LedgerUsecase) ValidateBalance(ctx context.Context, transactionID string) error {
	dr, cr, err := uc.journalRepo.SumByTransaction(ctx, transactionID)
	if err != nil {
		return err
	}
	if !dr.Equal(cr) {
		return xerrors.ErrLedgerInconsistency
	}
	return nil
}
