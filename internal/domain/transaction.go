package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"ledger-core/pkg/xerrors"
)

// EntryType represents the direction of a transaction record
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// TransactionStatus represents the state of a committed transaction record
type TransactionStatus string

const (
	TransactionStatusSuccess  TransactionStatus = "SUCCESS"
	TransactionStatusFailed   TransactionStatus = "FAILED"
	TransactionStatusReversed TransactionStatus = "REVERSED"
)

// Channel identifies the origin of a movement
type Channel string

const (
	ChannelInternal Channel = "internal"
	ChannelExternal Channel = "external"
	ChannelSystem   Channel = "system"
)

// Counterparty carries opaque metadata about the other side of a movement
type Counterparty struct {
	AccountNumber string `json:"account_number"`
	Name          string `json:"name,omitempty"`
}

// Transaction is one leg of a movement. Immutable once committed; the only
// permitted update is the status transition SUCCESS -> REVERSED.
type Transaction struct {
	ID             string            `json:"id"`
	AccountID      int64             `json:"account_id"`
	AccountNumber  string            `json:"account_number"`
	Amount         decimal.Decimal   `json:"amount"`
	Currency       string            `json:"currency"`
	Type           EntryType         `json:"type"`
	Channel        Channel           `json:"channel"`
	Description    string            `json:"description,omitempty"`
	Status         TransactionStatus `json:"status"`
	BalanceAfter   decimal.Decimal   `json:"balance_after"`
	IdempotencyKey *string           `json:"idempotency_key,omitempty"`
	TransferRef    string            `json:"transfer_ref"`
	Counterparty   Counterparty      `json:"counterparty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// TransferPair is the result of one committed movement: exactly one DEBIT on
// the source account and one CREDIT on the destination, equal amounts, linked
// by a shared transfer reference.
type TransferPair struct {
	TransferRef string       `json:"transfer_ref"`
	Debit       *Transaction `json:"debit"`
	Credit      *Transaction `json:"credit"`

	// Duplicate marks a pair returned from a replayed idempotency key
	// rather than a fresh commit.
	Duplicate bool `json:"duplicate,omitempty"`
}

// TransferRequest represents a request to move money between two accounts.
type TransferRequest struct {
	SourceAccountNumber string
	DestAccountNumber   string
	Amount              decimal.Decimal
	Currency            string
	Channel             Channel
	Category            LimitCategory
	Description         string
	IdempotencyKey      string
	InitiatorID         string
}

// Validate checks the request before any state is touched.
func (r *TransferRequest) Validate() error {
	if r.SourceAccountNumber == "" || r.DestAccountNumber == "" {
		return xerrors.ErrInvalidInput
	}
	if r.SourceAccountNumber == r.DestAccountNumber {
		return xerrors.ErrSelfTransfer
	}
	if r.Amount.LessThanOrEqual(decimal.Zero) {
		return xerrors.ErrInvalidAmount
	}
	if r.Currency == "" {
		return xerrors.ErrInvalidInput
	}
	if r.Channel == "" {
		r.Channel = ChannelInternal
	}
	if r.Category == "" {
		r.Category = LimitCategoryInternal
	}
	return nil
}

// BuildPair constructs the in-memory DEBIT/CREDIT pair for a transfer, with
// balance-after snapshots computed from the locked source/destination
// balances. The records are not durable until the transfer repository commits
// them.
func BuildPair(
	req *TransferRequest,
	source, dest *Account,
	debitID, creditID, transferRef string,
	now time.Time,
) *TransferPair {
	idemKey := req.IdempotencyKey

	debit := &Transaction{
		ID:            debitID,
		AccountID:     source.ID,
		AccountNumber: source.AccountNumber,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Type:          EntryTypeDebit,
		Channel:       req.Channel,
		Description:   req.Description,
		Status:        TransactionStatusSuccess,
		BalanceAfter:  source.Balance.Sub(req.Amount),
		TransferRef:   transferRef,
		Counterparty: Counterparty{
			AccountNumber: dest.AccountNumber,
			Name:          dest.OwnerName,
		},
		CreatedAt: now,
	}
	credit := &Transaction{
		ID:            creditID,
		AccountID:     dest.ID,
		AccountNumber: dest.AccountNumber,
		Amount:        req.Amount,
		Currency:      req.Currency,
		Type:          EntryTypeCredit,
		Channel:       req.Channel,
		Description:   req.Description,
		Status:        TransactionStatusSuccess,
		BalanceAfter:  dest.Balance.Add(req.Amount),
		TransferRef:   transferRef,
		Counterparty: Counterparty{
			AccountNumber: source.AccountNumber,
			Name:          source.OwnerName,
		},
		CreatedAt: now,
	}
	if idemKey != "" {
		debit.IdempotencyKey = &idemKey
	}

	return &TransferPair{
		TransferRef: transferRef,
		Debit:       debit,
		Credit:      credit,
	}
}
