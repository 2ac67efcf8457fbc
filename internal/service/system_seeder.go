package service

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/repository"
	"ledger-core/pkg/xerrors"
)

// SystemSeeder creates the system wallet accounts the core settles against
// (liquidity and suspense per currency) on boot. Safe to run on every start:
// accounts that already exist are left alone.
type SystemSeeder struct {
	accountRepo repository.AccountRepository
	currencies  []string
}

const systemOwnerID = "system"

func NewSystemSeeder(accountRepo repository.AccountRepository, currencies []string) *SystemSeeder {
	if len(currencies) == 0 {
		currencies = []string{"NGN"}
	}
	return &SystemSeeder{
		accountRepo: accountRepo,
		currencies:  currencies,
	}
}

// SeedSystem ensures the system accounts exist for every supported currency.
func (s *SystemSeeder) SeedSystem(ctx context.Context) error {
	log.Println("🚀 Seeding system accounts...")

	created := 0
	for _, currency := range s.currencies {
		for _, purpose := range []string{"LIQUIDITY", "SUSPENSE"} {
			ok, err := s.ensureAccount(ctx, currency, purpose)
			if err != nil {
				return err
			}
			if ok {
				created++
			}
		}
	}

	log.Printf("✅ System seeding completed (%d accounts created)", created)
	return nil
}

// SystemAccountNumber returns the fixed account number for a system wallet,
// e.g. SYS-NGN-LIQUIDITY. Fixed numbers keep seeding idempotent.
func SystemAccountNumber(currency, purpose string) string {
	return fmt.Sprintf("SYS-%s-%s", currency, purpose)
}

func (s *SystemSeeder) ensureAccount(ctx context.Context, currency, purpose string) (bool, error) {
	number := SystemAccountNumber(currency, purpose)

	_, err := s.accountRepo.GetByNumber(ctx, number)
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, xerrors.ErrAccountNotFound) {
		return false, fmt.Errorf("failed to check system account %s: %w", number, err)
	}

	account := &domain.Account{
		OwnerID:       systemOwnerID,
		OwnerName:     fmt.Sprintf("System %s (%s)", purpose, currency),
		AccountNumber: number,
		Currency:      currency,
		Balance:       decimal.Zero,
		Status:        domain.AccountStatusActive,
	}
	if err := s.accountRepo.Create(ctx, account); err != nil {
		return false, fmt.Errorf("failed to seed system account %s: %w", number, err)
	}

	log.Printf("[SEED] Created system account %s", number)
	return true, nil
}
