package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-core/internal/domain"
	"ledger-core/pkg/xerrors"
)

type ReversalRepository interface {
	// Create inserts a new PENDING record unless a live (non-cancelled,
	// non-failed) record already exists for the same original transfer, in
	// which case it returns ErrAlreadyReversed. Creates for the same
	// original transfer serialize on an advisory lock so concurrent
	// requests cannot both pass.
	Create(ctx context.Context, rec *domain.ReversalRecord) error

	GetByID(ctx context.Context, id string) (*domain.ReversalRecord, error)
	GetByOriginalRef(ctx context.Context, originalRef string) (*domain.ReversalRecord, error)

	// TransitionStatus moves the record from -> to, guarded by the expected
	// current status. Returns ErrInvalidReversalState when the record moved.
	TransitionStatus(ctx context.Context, id string, from, to domain.ReversalStatus) error

	// SetApprover records who approved the reversal.
	SetApprover(ctx context.Context, id, approverID string) error

	// SetResult records the reversal transfer reference (on success) or the
	// failure message, and stamps completion.
	SetResult(ctx context.Context, id string, reversalRef *string, errMsg *string) error
}

type reversalRepo struct {
	db *pgxpool.Pool
}

func NewReversalRepo(db *pgxpool.Pool) ReversalRepository {
	return &reversalRepo{db: db}
}

const reversalColumns = `
	id, original_transfer_ref, reversal_transfer_ref, initiator_id, approver_id,
	reason_code, status, error_message, created_at, updated_at, completed_at
`

func scanReversal(row pgx.Row) (*domain.ReversalRecord, error) {
	var rec domain.ReversalRecord
	err := row.Scan(
		&rec.ID,
		&rec.OriginalTransferRef,
		&rec.ReversalTransferRef,
		&rec.InitiatorID,
		&rec.ApproverID,
		&rec.ReasonCode,
		&rec.Status,
		&rec.ErrorMessage,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan reversal record: %w", err)
	}
	return &rec, nil
}

func (r *reversalRepo) Create(ctx context.Context, rec *domain.ReversalRecord) error {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin reversal create: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize per original transfer. Under READ COMMITTED two concurrent
	// NOT EXISTS checks each miss the other's uncommitted row; the advisory
	// lock makes the second creator wait until the first has committed.
	_, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, rec.OriginalTransferRef)
	if err != nil {
		return fmt.Errorf("failed to lock transfer ref for reversal: %w", err)
	}

	query := `
		INSERT INTO reversal_records (
			id, original_transfer_ref, initiator_id, reason_code, status
		)
		SELECT $1, $2, $3, $4, $5
		WHERE NOT EXISTS (
			SELECT 1 FROM reversal_records
			WHERE original_transfer_ref = $2
			AND status NOT IN ('CANCELLED', 'FAILED')
		)
		RETURNING created_at, updated_at
	`

	err = tx.QueryRow(ctx, query,
		rec.ID,
		rec.OriginalTransferRef,
		rec.InitiatorID,
		rec.ReasonCode,
		rec.Status,
	).Scan(&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return xerrors.ErrAlreadyReversed
		}
		return fmt.Errorf("failed to create reversal record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit reversal record: %w", err)
	}
	return nil
}

func (r *reversalRepo) GetByID(ctx context.Context, id string) (*domain.ReversalRecord, error) {
	query := `SELECT ` + reversalColumns + ` FROM reversal_records WHERE id = $1`
	return scanReversal(r.db.QueryRow(ctx, query, id))
}

func (r *reversalRepo) GetByOriginalRef(ctx context.Context, originalRef string) (*domain.ReversalRecord, error) {
	query := `
		SELECT ` + reversalColumns + `
		FROM reversal_records
		WHERE original_transfer_ref = $1
		ORDER BY created_at DESC
		LIMIT 1
	`
	return scanReversal(r.db.QueryRow(ctx, query, originalRef))
}

func (r *reversalRepo) TransitionStatus(ctx context.Context, id string, from, to domain.ReversalStatus) error {
	if !domain.CanTransition(from, to) {
		return xerrors.ErrInvalidReversalState
	}

	tag, err := r.db.Exec(ctx,
		`UPDATE reversal_records SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		to, id, from,
	)
	if err != nil {
		return fmt.Errorf("failed to transition reversal %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrInvalidReversalState
	}
	return nil
}

func (r *reversalRepo) SetApprover(ctx context.Context, id, approverID string) error {
	_, err := r.db.Exec(ctx,
		`UPDATE reversal_records SET approver_id = $1, updated_at = now() WHERE id = $2`,
		approverID, id,
	)
	if err != nil {
		return fmt.Errorf("failed to set approver: %w", err)
	}
	return nil
}

func (r *reversalRepo) SetResult(ctx context.Context, id string, reversalRef *string, errMsg *string) error {
	var completedAt *time.Time
	if reversalRef != nil {
		now := time.Now().UTC()
		completedAt = &now
	}

	_, err := r.db.Exec(ctx, `
		UPDATE reversal_records
		SET reversal_transfer_ref = $1, error_message = $2, completed_at = $3, updated_at = now()
		WHERE id = $4
	`, reversalRef, errMsg, completedAt, id)
	if err != nil {
		return fmt.Errorf("failed to set reversal result: %w", err)
	}
	return nil
}
