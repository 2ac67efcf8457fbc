package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/pkg/xerrors"
)

type TransactionRepository interface {
	// CreateTx inserts one transaction leg inside the caller's transaction.
	CreateTx(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error

	// MarkReversedTx flips both legs of a transfer to REVERSED inside the
	// caller's transaction. The only status mutation the table allows.
	MarkReversedTx(ctx context.Context, tx pgx.Tx, transferRef string) error

	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetPairByTransferRef(ctx context.Context, ref string) (*domain.TransferPair, error)

	// GetPairByIdempotencyKey resolves the pair committed for (source
	// account, client key). The key alone is not unique: the guard
	// namespaces reservations per caller, so two initiators may legally
	// reuse the same client key for unrelated transfers.
	GetPairByIdempotencyKey(ctx context.Context, accountID int64, key string) (*domain.TransferPair, error)
	ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*domain.Transaction, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepo(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, account_id, account_number, amount::text, currency, type, channel,
	description, status, balance_after::text, idempotency_key, transfer_ref,
	counterparty, created_at
`

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var t domain.Transaction
	var amountStr, balanceStr string
	var counterparty []byte

	err := row.Scan(
		&t.ID,
		&t.AccountID,
		&t.AccountNumber,
		&amountStr,
		&t.Currency,
		&t.Type,
		&t.Channel,
		&t.Description,
		&t.Status,
		&balanceStr,
		&t.IdempotencyKey,
		&t.TransferRef,
		&counterparty,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan transaction: %w", err)
	}

	if t.Amount, err = decimal.NewFromString(amountStr); err != nil {
		return nil, fmt.Errorf("failed to parse amount: %w", err)
	}
	if t.BalanceAfter, err = decimal.NewFromString(balanceStr); err != nil {
		return nil, fmt.Errorf("failed to parse balance_after: %w", err)
	}
	if len(counterparty) > 0 {
		if err := json.Unmarshal(counterparty, &t.Counterparty); err != nil {
			return nil, fmt.Errorf("failed to parse counterparty: %w", err)
		}
	}
	return &t, nil
}

func (r *transactionRepo) CreateTx(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	counterparty, err := json.Marshal(txn.Counterparty)
	if err != nil {
		return fmt.Errorf("failed to marshal counterparty: %w", err)
	}

	query := `
		INSERT INTO transactions (
			id, account_id, account_number, amount, currency, type, channel,
			description, status, balance_after, idempotency_key, transfer_ref,
			counterparty, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = tx.Exec(ctx, query,
		txn.ID,
		txn.AccountID,
		txn.AccountNumber,
		txn.Amount.String(),
		txn.Currency,
		txn.Type,
		txn.Channel,
		txn.Description,
		txn.Status,
		txn.BalanceAfter.String(),
		txn.IdempotencyKey,
		txn.TransferRef,
		counterparty,
		txn.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}
	return nil
}

func (r *transactionRepo) MarkReversedTx(ctx context.Context, tx pgx.Tx, transferRef string) error {
	tag, err := tx.Exec(ctx,
		`UPDATE transactions SET status = $1 WHERE transfer_ref = $2 AND status = $3`,
		domain.TransactionStatusReversed, transferRef, domain.TransactionStatusSuccess,
	)
	if err != nil {
		return fmt.Errorf("failed to mark transfer reversed: %w", err)
	}
	if tag.RowsAffected() != 2 {
		return xerrors.ErrReversalIneligible
	}
	return nil
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	return scanTransaction(r.db.QueryRow(ctx, query, id))
}

func (r *transactionRepo) GetPairByTransferRef(ctx context.Context, ref string) (*domain.TransferPair, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE transfer_ref = $1 ORDER BY type`

	rows, err := r.db.Query(ctx, query, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfer pair: %w", err)
	}
	defer rows.Close()

	pair := &domain.TransferPair{TransferRef: ref}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		switch t.Type {
		case domain.EntryTypeDebit:
			pair.Debit = t
		case domain.EntryTypeCredit:
			pair.Credit = t
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transfer pair: %w", err)
	}
	if pair.Debit == nil || pair.Credit == nil {
		return nil, xerrors.ErrNotFound
	}
	return pair, nil
}

func (r *transactionRepo) GetPairByIdempotencyKey(ctx context.Context, accountID int64, key string) (*domain.TransferPair, error) {
	var ref string
	err := r.db.QueryRow(ctx, `
		SELECT transfer_ref FROM transactions
		WHERE idempotency_key = $1 AND account_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`, key, accountID).Scan(&ref)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return r.GetPairByTransferRef(ctx, ref)
}

func (r *transactionRepo) ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*domain.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	var out []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
