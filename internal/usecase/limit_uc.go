package usecase

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/repository"
	"ledger-core/pkg/xerrors"
)

// LimitUsecase fronts the limit gate. The pre-check here is advisory; the
// binding check happens under row locks inside the commit unit.
type LimitUsecase struct {
	limitRepo repository.LimitRepository
}

func NewLimitUsecase(limitRepo repository.LimitRepository) *LimitUsecase {
	return &LimitUsecase{limitRepo: limitRepo}
}

// CanUse rejects an amount that would breach any active limit for the
// account and category. Accounts with no configured limits pass.
func (uc *LimitUsecase) CanUse(ctx context.Context, accountID int64, category domain.LimitCategory, amount decimal.Decimal) error {
	limits, err := uc.limitRepo.ListActive(ctx, accountID, category)
	if err != nil {
		return err
	}
	for _, l := range limits {
		if !l.Allows(amount) {
			return fmt.Errorf("%w: %s %s limit %s, remaining %s",
				xerrors.ErrLimitExceeded, l.Category, l.LimitType, l.LimitAmount.String(), l.Remaining().String())
		}
	}
	return nil
}

func (uc *LimitUsecase) CreateLimit(ctx context.Context, limit *domain.TransferLimit) error {
	if limit.LimitAmount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: limit amount must be positive", xerrors.ErrInvalidInput)
	}
	switch limit.LimitType {
	case domain.LimitTypePerTransaction, domain.LimitTypeDaily, domain.LimitTypeMonthly:
	default:
		return fmt.Errorf("%w: unknown limit type %q", xerrors.ErrInvalidInput, limit.LimitType)
	}
	switch limit.Category {
	case domain.LimitCategoryInternal, domain.LimitCategoryExternal:
	default:
		return fmt.Errorf("%w: unknown limit category %q", xerrors.ErrInvalidInput, limit.Category)
	}
	return uc.limitRepo.Create(ctx, limit)
}

// GetUsage returns all limits configured for an account, consumption
// included.
func (uc *LimitUsecase) GetUsage(ctx context.Context, accountID int64) ([]*domain.TransferLimit, error) {
	return uc.limitRepo.ListByAccount(ctx, accountID)
}
