package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"ledger-core/pkg/xerrors"
)

// AccountStatus represents the lifecycle state of a wallet account
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "active"
	AccountStatusFrozen AccountStatus = "frozen"
)

// Account represents a customer wallet. The balance is mutated only by the
// transfer processor inside its atomic unit, never recomputed from history.
type Account struct {
	ID            int64           `json:"id"`
	OwnerID       string          `json:"owner_id"`
	OwnerName     string          `json:"owner_name"`
	AccountNumber string          `json:"account_number"`
	AliasNumber   *string         `json:"alias_number,omitempty"` // alternate alias, optional
	Currency      string          `json:"currency"`
	Balance       decimal.Decimal `json:"balance"`
	Status        AccountStatus   `json:"status"`
	Version       int64           `json:"-"` // bumped on every balance write
	CreatedAt     time.Time       `json:"-"`
	UpdatedAt     time.Time       `json:"-"`
}

// CanTransact reports whether the account may take part in a movement.
func (a *Account) CanTransact() error {
	if a.Status == AccountStatusFrozen {
		return xerrors.ErrAccountFrozen
	}
	if a.Status != AccountStatusActive {
		return xerrors.ErrAccountInactive
	}
	return nil
}

// HasFunds reports whether the account can cover a debit of amount.
func (a *Account) HasFunds(amount decimal.Decimal) bool {
	return a.Balance.GreaterThanOrEqual(amount)
}
