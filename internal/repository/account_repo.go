package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/pkg/xerrors"
)

type AccountRepository interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByID(ctx context.Context, id int64) (*domain.Account, error)
	GetByNumber(ctx context.Context, number string) (*domain.Account, error)

	// GetByNumberForUpdateTx locks the account row (SELECT FOR UPDATE)
	// inside the caller's transaction. Matches primary or alias number.
	GetByNumberForUpdateTx(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error)

	// UpdateBalanceTx writes the new balance guarded by the version read
	// under the lock. Returns ErrConcurrentModification when the version
	// moved underneath us.
	UpdateBalanceTx(ctx context.Context, tx pgx.Tx, accountID int64, balance decimal.Decimal, expectedVersion int64) error

	SetStatus(ctx context.Context, accountID int64, status domain.AccountStatus) error
}

type accountRepo struct {
	db *pgxpool.Pool
}

func NewAccountRepo(db *pgxpool.Pool) AccountRepository {
	return &accountRepo{db: db}
}

const accountColumns = `
	id, owner_id, owner_name, account_number, alias_number,
	currency, balance::text, status, version, created_at, updated_at
`

func scanAccount(row pgx.Row) (*domain.Account, error) {
	var a domain.Account
	var balanceStr string

	err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.OwnerName,
		&a.AccountNumber,
		&a.AliasNumber,
		&a.Currency,
		&balanceStr,
		&a.Status,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to scan account: %w", err)
	}

	a.Balance, err = decimal.NewFromString(balanceStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse account balance: %w", err)
	}
	return &a, nil
}

func (r *accountRepo) Create(ctx context.Context, account *domain.Account) error {
	query := `
		INSERT INTO accounts (
			owner_id, owner_name, account_number, alias_number,
			currency, balance, status, version
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		account.OwnerID,
		account.OwnerName,
		account.AccountNumber,
		account.AliasNumber,
		account.Currency,
		account.Balance.String(),
		account.Status,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (r *accountRepo) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccount(r.db.QueryRow(ctx, query, id))
}

func (r *accountRepo) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE account_number = $1 OR alias_number = $1
	`
	return scanAccount(r.db.QueryRow(ctx, query, number))
}

func (r *accountRepo) GetByNumberForUpdateTx(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
	if tx == nil {
		return nil, errors.New("transaction cannot be nil for locked query")
	}

	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE account_number = $1 OR alias_number = $1
		FOR UPDATE
	`
	return scanAccount(tx.QueryRow(ctx, query, number))
}

func (r *accountRepo) UpdateBalanceTx(ctx context.Context, tx pgx.Tx, accountID int64, balance decimal.Decimal, expectedVersion int64) error {
	query := `
		UPDATE accounts
		SET balance = $1, version = version + 1, updated_at = now()
		WHERE id = $2 AND version = $3
	`

	tag, err := tx.Exec(ctx, query, balance.String(), accountID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrConcurrentModification
	}
	return nil
}

func (r *accountRepo) SetStatus(ctx context.Context, accountID int64, status domain.AccountStatus) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE accounts SET status = $1, updated_at = now() WHERE id = $2`,
		status, accountID,
	)
	if err != nil {
		return fmt.Errorf("failed to set account status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrAccountNotFound
	}
	return nil
}
