package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/internal/repository"
	"ledger-core/pkg/utils"
	"ledger-core/pkg/xerrors"
)

const accountCacheTTL = 2 * time.Minute

// AccountUsecase manages wallet accounts. Query-surface reads are cached
// briefly in Redis; the transfer path reads rows under locks through the
// repository and never consults this cache.
type AccountUsecase struct {
	accountRepo repository.AccountRepository
	redisClient *redis.Client
	idGen       *utils.RefGenerator
}

func NewAccountUsecase(accountRepo repository.AccountRepository, redisClient *redis.Client, idGen *utils.RefGenerator) *AccountUsecase {
	return &AccountUsecase{
		accountRepo: accountRepo,
		redisClient: redisClient,
		idGen:       idGen,
	}
}

// CreateAccountRequest carries the onboarding inputs for a new wallet.
type CreateAccountRequest struct {
	OwnerID        string          `json:"owner_id"`
	OwnerName      string          `json:"owner_name"`
	Currency       string          `json:"currency"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
	AliasNumber    string          `json:"alias_number,omitempty"`
}

// Create opens a new active account with a generated account number.
func (uc *AccountUsecase) Create(ctx context.Context, req *CreateAccountRequest) (*domain.Account, error) {
	if req.OwnerID == "" || req.Currency == "" {
		return nil, xerrors.ErrInvalidInput
	}
	if req.OpeningBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance cannot be negative", xerrors.ErrInvalidInput)
	}

	account := &domain.Account{
		OwnerID:       req.OwnerID,
		OwnerName:     req.OwnerName,
		AccountNumber: uc.idGen.AccountNumber("ACC", req.Currency),
		Currency:      req.Currency,
		Balance:       req.OpeningBalance,
		Status:        domain.AccountStatusActive,
	}
	if req.AliasNumber != "" {
		alias := req.AliasNumber
		account.AliasNumber = &alias
	}

	if err := uc.accountRepo.Create(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// GetByNumber resolves an account by primary or alias number, cache first.
func (uc *AccountUsecase) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	cacheKey := "account:" + number

	if uc.redisClient != nil {
		if val, err := uc.redisClient.Get(ctx, cacheKey).Result(); err == nil {
			var account domain.Account
			if jsonErr := json.Unmarshal([]byte(val), &account); jsonErr == nil {
				return &account, nil
			}
		}
	}

	account, err := uc.accountRepo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	if uc.redisClient != nil {
		if data, err := json.Marshal(account); err == nil {
			_ = uc.redisClient.Set(ctx, cacheKey, data, accountCacheTTL).Err()
		}
	}
	return account, nil
}

// SetStatus freezes or unfreezes an account and drops its cache entry.
func (uc *AccountUsecase) SetStatus(ctx context.Context, number string, status domain.AccountStatus) (*domain.Account, error) {
	switch status {
	case domain.AccountStatusActive, domain.AccountStatusFrozen:
	default:
		return nil, fmt.Errorf("%w: unknown account status %q", xerrors.ErrInvalidInput, status)
	}

	account, err := uc.accountRepo.GetByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if err := uc.accountRepo.SetStatus(ctx, account.ID, status); err != nil {
		return nil, err
	}
	account.Status = status

	if uc.redisClient != nil {
		_ = uc.redisClient.Del(ctx, "account:"+account.AccountNumber).Err()
		if account.AliasNumber != nil {
			_ = uc.redisClient.Del(ctx, "account:"+*account.AliasNumber).Err()
		}
	}
	return account, nil
}
