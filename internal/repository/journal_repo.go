package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/pkg/xerrors"
)

type JournalRepository interface {
	// PostEntriesTx derives and inserts the balanced DR/CR pair for a
	// transaction inside the caller's transaction. A transaction row must
	// never commit without its pair, so failures here roll back the whole
	// unit.
	PostEntriesTx(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) (*domain.JournalEntry, *domain.JournalEntry, error)

	// ReverseEntriesTx inserts the mirror-image pair referencing the
	// ORIGINAL transaction id. Exactly once per original transaction.
	ReverseEntriesTx(ctx context.Context, tx pgx.Tx, original *domain.Transaction) (*domain.JournalEntry, *domain.JournalEntry, error)

	ListByTransaction(ctx context.Context, transactionID string) ([]*domain.JournalEntry, error)
	SumByTransaction(ctx context.Context, transactionID string) (debits, credits decimal.Decimal, err error)
}

type journalRepo struct {
	db *pgxpool.Pool
}

func NewJournalRepo(db *pgxpool.Pool) JournalRepository {
	return &journalRepo{db: db}
}

func (r *journalRepo) insertTx(ctx context.Context, tx pgx.Tx, e *domain.JournalEntry) error {
	query := `
		INSERT INTO journal_entries (transaction_id, gl_account_code, dr_cr, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := tx.QueryRow(ctx, query,
		e.TransactionID,
		e.GLAccountCode,
		e.DrCr,
		e.Amount.String(),
		e.Currency,
		e.CreatedAt,
	).Scan(&e.ID)
	if err != nil {
		return fmt.Errorf("failed to insert journal entry: %w", err)
	}
	return nil
}

func (r *journalRepo) PostEntriesTx(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) (*domain.JournalEntry, *domain.JournalEntry, error) {
	dr, cr := domain.BuildEntries(txn)

	if !domain.Balanced([]*domain.JournalEntry{dr, cr}) {
		return nil, nil, xerrors.ErrLedgerInconsistency
	}

	if err := r.insertTx(ctx, tx, dr); err != nil {
		return nil, nil, err
	}
	if err := r.insertTx(ctx, tx, cr); err != nil {
		return nil, nil, err
	}
	return dr, cr, nil
}

func (r *journalRepo) ReverseEntriesTx(ctx context.Context, tx pgx.Tx, original *domain.Transaction) (*domain.JournalEntry, *domain.JournalEntry, error) {
	// A posted transaction carries exactly one pair; more means it was
	// already reversed.
	var count int
	err := tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM journal_entries WHERE transaction_id = $1`,
		original.ID,
	).Scan(&count)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to count journal entries: %w", err)
	}
	if count > 2 {
		return nil, nil, xerrors.ErrEntriesAlreadyPosted
	}

	dr, cr := domain.BuildReversalEntries(original, time.Now().UTC())

	if err := r.insertTx(ctx, tx, dr); err != nil {
		return nil, nil, err
	}
	if err := r.insertTx(ctx, tx, cr); err != nil {
		return nil, nil, err
	}
	return dr, cr, nil
}

func (r *journalRepo) ListByTransaction(ctx context.Context, transactionID string) ([]*domain.JournalEntry, error) {
	query := `
		SELECT id, transaction_id, gl_account_code, dr_cr, amount::text, currency, created_at
		FROM journal_entries
		WHERE transaction_id = $1
		ORDER BY id
	`

	rows, err := r.db.Query(ctx, query, transactionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.JournalEntry
	for rows.Next() {
		var e domain.JournalEntry
		var amountStr string
		if err := rows.Scan(&e.ID, &e.TransactionID, &e.GLAccountCode, &e.DrCr, &amountStr, &e.Currency, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		if e.Amount, err = decimal.NewFromString(amountStr); err != nil {
			return nil, fmt.Errorf("failed to parse journal amount: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (r *journalRepo) SumByTransaction(ctx context.Context, transactionID string) (decimal.Decimal, decimal.Decimal, error) {
	query := `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE dr_cr = 'DR'), 0)::text,
			COALESCE(SUM(amount) FILTER (WHERE dr_cr = 'CR'), 0)::text
		FROM journal_entries
		WHERE transaction_id = $1
	`

	var drStr, crStr string
	if err := r.db.QueryRow(ctx, query, transactionID).Scan(&drStr, &crStr); err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to sum journal entries: %w", err)
	}

	dr, err := decimal.NewFromString(drStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to parse debit sum: %w", err)
	}
	cr, err := decimal.NewFromString(crStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("failed to parse credit sum: %w", err)
	}
	return dr, cr, nil
}
