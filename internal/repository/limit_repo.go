package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/pkg/xerrors"
)

type LimitRepository interface {
	Create(ctx context.Context, limit *domain.TransferLimit) error
	ListActive(ctx context.Context, accountID int64, category domain.LimitCategory) ([]*domain.TransferLimit, error)
	ListByAccount(ctx context.Context, accountID int64) ([]*domain.TransferLimit, error)

	// CommitUsageTx increments used_amount on every active matching limit
	// inside the caller's transaction. Rows are locked FOR UPDATE so usage
	// commits and scheduled resets on the same limit serialize. Returns the
	// limits whose usage crossed the warning threshold during this commit.
	CommitUsageTx(ctx context.Context, tx pgx.Tx, accountID int64, category domain.LimitCategory, amount decimal.Decimal) ([]domain.ThresholdCrossing, error)

	// ResetDue zeroes used_amount and advances the boundary for every limit
	// whose reset time has passed. Returns the number of limits reset.
	ResetDue(ctx context.Context, now time.Time) (int64, error)
}

type limitRepo struct {
	db *pgxpool.Pool
}

func NewLimitRepo(db *pgxpool.Pool) LimitRepository {
	return &limitRepo{db: db}
}

const limitColumns = `
	id, account_id, limit_type, category, limit_amount::text, used_amount::text,
	next_reset_at, is_active, created_at, updated_at
`

func scanLimit(row pgx.Row) (*domain.TransferLimit, error) {
	var l domain.TransferLimit
	var limitStr, usedStr string

	err := row.Scan(
		&l.ID,
		&l.AccountID,
		&l.LimitType,
		&l.Category,
		&limitStr,
		&usedStr,
		&l.NextResetAt,
		&l.IsActive,
		&l.CreatedAt,
		&l.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan limit: %w", err)
	}

	if l.LimitAmount, err = decimal.NewFromString(limitStr); err != nil {
		return nil, fmt.Errorf("failed to parse limit amount: %w", err)
	}
	if l.UsedAmount, err = decimal.NewFromString(usedStr); err != nil {
		return nil, fmt.Errorf("failed to parse used amount: %w", err)
	}
	return &l, nil
}

func (r *limitRepo) Create(ctx context.Context, limit *domain.TransferLimit) error {
	if limit.NextResetAt == nil {
		limit.NextResetAt = domain.NextBoundary(limit.LimitType, time.Now())
	}

	query := `
		INSERT INTO transfer_limits (
			account_id, limit_type, category, limit_amount, used_amount,
			next_reset_at, is_active
		)
		VALUES ($1, $2, $3, $4, 0, $5, $6)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(ctx, query,
		limit.AccountID,
		limit.LimitType,
		limit.Category,
		limit.LimitAmount.String(),
		limit.NextResetAt,
		limit.IsActive,
	).Scan(&limit.ID, &limit.CreatedAt, &limit.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create transfer limit: %w", err)
	}
	return nil
}

func (r *limitRepo) ListActive(ctx context.Context, accountID int64, category domain.LimitCategory) ([]*domain.TransferLimit, error) {
	query := `
		SELECT ` + limitColumns + `
		FROM transfer_limits
		WHERE account_id = $1 AND category = $2 AND is_active = true
		ORDER BY id
	`
	return r.list(ctx, query, accountID, category)
}

func (r *limitRepo) ListByAccount(ctx context.Context, accountID int64) ([]*domain.TransferLimit, error) {
	query := `
		SELECT ` + limitColumns + `
		FROM transfer_limits
		WHERE account_id = $1
		ORDER BY id
	`
	return r.list(ctx, query, accountID)
}

func (r *limitRepo) list(ctx context.Context, query string, args ...any) ([]*domain.TransferLimit, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list limits: %w", err)
	}
	defer rows.Close()

	var out []*domain.TransferLimit
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *limitRepo) CommitUsageTx(ctx context.Context, tx pgx.Tx, accountID int64, category domain.LimitCategory, amount decimal.Decimal) ([]domain.ThresholdCrossing, error) {
	// Lock matching rows so a concurrent reset sweep cannot interleave.
	query := `
		SELECT ` + limitColumns + `
		FROM transfer_limits
		WHERE account_id = $1 AND category = $2 AND is_active = true
		ORDER BY id
		FOR UPDATE
	`

	rows, err := tx.Query(ctx, query, accountID, category)
	if err != nil {
		return nil, fmt.Errorf("failed to lock limits: %w", err)
	}

	var limits []*domain.TransferLimit
	for rows.Next() {
		l, err := scanLimit(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		limits = append(limits, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read locked limits: %w", err)
	}

	var crossings []domain.ThresholdCrossing
	for _, l := range limits {
		// Re-check under the lock: the advisory CanUse pre-check ran
		// without one.
		if !l.Allows(amount) {
			return nil, xerrors.ErrLimitExceeded
		}
		if l.LimitType == domain.LimitTypePerTransaction {
			continue // no cumulative usage to commit
		}

		if l.CrossesThreshold(amount) {
			crossings = append(crossings, domain.ThresholdCrossing{
				LimitID:     l.ID,
				AccountID:   l.AccountID,
				LimitType:   l.LimitType,
				Category:    l.Category,
				LimitAmount: l.LimitAmount,
				UsedAmount:  l.UsedAmount.Add(amount),
			})
		}

		_, err := tx.Exec(ctx,
			`UPDATE transfer_limits SET used_amount = used_amount + $1, updated_at = now() WHERE id = $2`,
			amount.String(), l.ID,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to commit limit usage: %w", err)
		}
	}
	return crossings, nil
}

func (r *limitRepo) ResetDue(ctx context.Context, now time.Time) (int64, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("failed to begin reset transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock due rows first so in-flight usage commits holding the same rows
	// finish before the reset lands.
	rows, err := tx.Query(ctx, `
		SELECT id, limit_type
		FROM transfer_limits
		WHERE is_active = true AND next_reset_at IS NOT NULL AND next_reset_at <= $1
		ORDER BY id
		FOR UPDATE
	`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to lock due limits: %w", err)
	}

	type due struct {
		id        int64
		limitType domain.LimitType
	}
	var dues []due
	for rows.Next() {
		var d due
		if err := rows.Scan(&d.id, &d.limitType); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan due limit: %w", err)
		}
		dues = append(dues, d)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("failed to read due limits: %w", err)
	}

	for _, d := range dues {
		next := domain.NextBoundary(d.limitType, now)
		_, err := tx.Exec(ctx,
			`UPDATE transfer_limits SET used_amount = 0, next_reset_at = $1, updated_at = now() WHERE id = $2`,
			next, d.id,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to reset limit %d: %w", d.id, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit limit reset: %w", err)
	}
	return int64(len(dues)), nil
}
