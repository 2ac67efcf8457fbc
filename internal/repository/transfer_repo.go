package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"ledger-core/internal/domain"
	"ledger-core/pkg/utils"
	"ledger-core/pkg/xerrors"
)

type TransferRepository interface {
	// ExecuteTransfer applies one movement as a single atomic unit: balance
	// mutations, the DEBIT/CREDIT transaction pair, their journal entries
	// and the limit usage commit either all land or none do.
	ExecuteTransfer(ctx context.Context, req *domain.TransferRequest, transferRef string) (*domain.TransferPair, []domain.ThresholdCrossing, error)

	// ExecuteReversal applies the compensating movement for a committed
	// pair: direction swapped, mirror journal entries posted against the
	// ORIGINAL transaction ids, originals marked REVERSED. Same atomicity
	// rule as a normal transfer. Limits are not consulted.
	ExecuteReversal(ctx context.Context, original *domain.TransferPair, reversalRef, initiatorID string) (*domain.TransferPair, error)
}

type transferRepo struct {
	db          *pgxpool.Pool
	accountRepo AccountRepository
	txnRepo     TransactionRepository
	journalRepo JournalRepository
	limitRepo   LimitRepository
	idGen       *utils.RefGenerator
}

func NewTransferRepo(
	db *pgxpool.Pool,
	accountRepo AccountRepository,
	txnRepo TransactionRepository,
	journalRepo JournalRepository,
	limitRepo LimitRepository,
	idGen *utils.RefGenerator,
) TransferRepository {
	return &transferRepo{
		db:          db,
		accountRepo: accountRepo,
		txnRepo:     txnRepo,
		journalRepo: journalRepo,
		limitRepo:   limitRepo,
		idGen:       idGen,
	}
}

func (r *transferRepo) beginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// lockAccounts acquires row locks on both accounts in sorted account-number
// order so concurrent transfers on the same pair cannot deadlock.
func (r *transferRepo) lockAccounts(ctx context.Context, tx pgx.Tx, numberA, numberB string) (map[string]*domain.Account, error) {
	order := []string{numberA, numberB}
	sort.Strings(order)

	locked := make(map[string]*domain.Account, 2)
	for _, number := range order {
		account, err := r.accountRepo.GetByNumberForUpdateTx(ctx, tx, number)
		if err != nil {
			return nil, fmt.Errorf("account %s: %w", number, err)
		}
		if err := account.CanTransact(); err != nil {
			return nil, fmt.Errorf("account %s: %w", number, err)
		}
		locked[number] = account
	}
	return locked, nil
}

func (r *transferRepo) ExecuteTransfer(ctx context.Context, req *domain.TransferRequest, transferRef string) (*domain.TransferPair, []domain.ThresholdCrossing, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	locked, err := r.lockAccounts(ctx, tx, req.SourceAccountNumber, req.DestAccountNumber)
	if err != nil {
		return nil, nil, mapPGError(err)
	}

	// The request may carry an alias; resolve through the locked rows.
	source := locked[req.SourceAccountNumber]
	dest := locked[req.DestAccountNumber]

	// Distinct request numbers can still name one account (primary vs
	// alias). Only the resolved rows can tell.
	if source.ID == dest.ID {
		return nil, nil, xerrors.ErrSelfTransfer
	}

	if source.Currency != req.Currency || dest.Currency != req.Currency {
		return nil, nil, xerrors.ErrCurrencyMismatch
	}
	if !source.HasFunds(req.Amount) {
		return nil, nil, xerrors.ErrInsufficientBalance
	}

	now := time.Now().UTC()
	pair := domain.BuildPair(req, source, dest,
		r.idGen.TransactionID(), r.idGen.TransactionID(), transferRef, now)

	if err := r.txnRepo.CreateTx(ctx, tx, pair.Debit); err != nil {
		return nil, nil, mapPGError(err)
	}
	if err := r.txnRepo.CreateTx(ctx, tx, pair.Credit); err != nil {
		return nil, nil, mapPGError(err)
	}

	if _, _, err := r.journalRepo.PostEntriesTx(ctx, tx, pair.Debit); err != nil {
		return nil, nil, err
	}
	if _, _, err := r.journalRepo.PostEntriesTx(ctx, tx, pair.Credit); err != nil {
		return nil, nil, err
	}

	// Limit usage commits in the same unit as the balance mutation so an
	// aborted transfer never consumes quota.
	crossings, err := r.limitRepo.CommitUsageTx(ctx, tx, source.ID, req.Category, req.Amount)
	if err != nil {
		return nil, nil, err
	}

	if err := r.accountRepo.UpdateBalanceTx(ctx, tx, source.ID, pair.Debit.BalanceAfter, source.Version); err != nil {
		return nil, nil, err
	}
	if err := r.accountRepo.UpdateBalanceTx(ctx, tx, dest.ID, pair.Credit.BalanceAfter, dest.Version); err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, mapPGError(fmt.Errorf("failed to commit transfer: %w", err))
	}
	return pair, crossings, nil
}

func (r *transferRepo) ExecuteReversal(ctx context.Context, original *domain.TransferPair, reversalRef, initiatorID string) (*domain.TransferPair, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	locked, err := r.lockAccounts(ctx, tx, original.Credit.AccountNumber, original.Debit.AccountNumber)
	if err != nil {
		return nil, mapPGError(err)
	}

	// Direction swapped: the original destination is debited back.
	source := locked[original.Credit.AccountNumber]
	dest := locked[original.Debit.AccountNumber]

	if !source.HasFunds(original.Credit.Amount) {
		return nil, xerrors.ErrInsufficientBalance
	}

	req := &domain.TransferRequest{
		SourceAccountNumber: source.AccountNumber,
		DestAccountNumber:   dest.AccountNumber,
		Amount:              original.Credit.Amount,
		Currency:            original.Credit.Currency,
		Channel:             domain.ChannelSystem,
		Description:         fmt.Sprintf("reversal of %s", original.TransferRef),
		InitiatorID:         initiatorID,
	}

	now := time.Now().UTC()
	pair := domain.BuildPair(req, source, dest,
		r.idGen.TransactionID(), r.idGen.TransactionID(), reversalRef, now)

	if err := r.txnRepo.CreateTx(ctx, tx, pair.Debit); err != nil {
		return nil, mapPGError(err)
	}
	if err := r.txnRepo.CreateTx(ctx, tx, pair.Credit); err != nil {
		return nil, mapPGError(err)
	}

	// Mirror entries reference the ORIGINAL transaction ids; the original
	// entries stay untouched.
	if _, _, err := r.journalRepo.ReverseEntriesTx(ctx, tx, original.Debit); err != nil {
		return nil, err
	}
	if _, _, err := r.journalRepo.ReverseEntriesTx(ctx, tx, original.Credit); err != nil {
		return nil, err
	}

	if err := r.txnRepo.MarkReversedTx(ctx, tx, original.TransferRef); err != nil {
		return nil, err
	}

	if err := r.accountRepo.UpdateBalanceTx(ctx, tx, source.ID, pair.Debit.BalanceAfter, source.Version); err != nil {
		return nil, err
	}
	if err := r.accountRepo.UpdateBalanceTx(ctx, tx, dest.ID, pair.Credit.BalanceAfter, dest.Version); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapPGError(fmt.Errorf("failed to commit reversal: %w", err))
	}
	return pair, nil
}

// mapPGError translates transient serialization/deadlock failures into the
// retryable sentinel and leaves everything else alone.
func mapPGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return xerrors.ErrConcurrentModification
		}
	}
	return err
}
