package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"ledger-core/internal/domain"
	"ledger-core/pkg/utils"
	"ledger-core/pkg/xerrors"
)

var errTransientStore = errors.New("store briefly unavailable")

// memStore is a single in-memory stand-in for the Postgres-backed
// repositories. One instance backs all fakes in a test so the atomicity of
// the real transfer unit is mirrored: either every mutation lands or none.
type memStore struct {
	mu sync.Mutex

	accounts map[string]*domain.Account // by primary number
	nextID   int64

	pairs   map[string]*domain.TransferPair // by transfer ref
	byIdem  map[string]string               // (source account, key) -> transfer ref
	entries map[string][]*domain.JournalEntry

	limits      []*domain.TransferLimit
	nextLimitID int64

	reversals map[string]*domain.ReversalRecord

	// conflictsLeft makes the next N ExecuteTransfer calls fail with
	// ErrConcurrentModification before succeeding.
	conflictsLeft int
}

func newMemStore() *memStore {
	return &memStore{
		accounts:  make(map[string]*domain.Account),
		pairs:     make(map[string]*domain.TransferPair),
		byIdem:    make(map[string]string),
		entries:   make(map[string][]*domain.JournalEntry),
		reversals: make(map[string]*domain.ReversalRecord),
	}
}

func (s *memStore) addAccount(number, currency string, balance decimal.Decimal) *domain.Account {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	a := &domain.Account{
		ID:            s.nextID,
		OwnerID:       "owner-" + number,
		OwnerName:     "Owner of " + number,
		AccountNumber: number,
		Currency:      currency,
		Balance:       balance,
		Status:        domain.AccountStatusActive,
	}
	s.accounts[number] = a
	return a
}

func (s *memStore) addLimit(accountID int64, lt domain.LimitType, cat domain.LimitCategory, amount decimal.Decimal) *domain.TransferLimit {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLimitID++
	l := &domain.TransferLimit{
		ID:          s.nextLimitID,
		AccountID:   accountID,
		LimitType:   lt,
		Category:    cat,
		LimitAmount: amount,
		UsedAmount:  decimal.Zero,
		IsActive:    true,
	}
	s.limits = append(s.limits, l)
	return l
}

func (s *memStore) setAlias(number, alias string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[number].AliasNumber = &alias
}

func (s *memStore) balance(number string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[number].Balance
}

// findAccount resolves a primary or alias number, mirroring the repository's
// alias-aware lookup. Callers hold s.mu.
func (s *memStore) findAccount(number string) *domain.Account {
	if a, ok := s.accounts[number]; ok {
		return a
	}
	for _, a := range s.accounts {
		if a.AliasNumber != nil && *a.AliasNumber == number {
			return a
		}
	}
	return nil
}

func idemStoreKey(accountID int64, key string) string {
	return fmt.Sprintf("%d|%s", accountID, key)
}

// ---- transfer repository fake ----

type fakeTransferRepo struct {
	store *memStore
	idGen *utils.RefGenerator
}

func (r *fakeTransferRepo) ExecuteTransfer(ctx context.Context, req *domain.TransferRequest, transferRef string) (*domain.TransferPair, []domain.ThresholdCrossing, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conflictsLeft > 0 {
		s.conflictsLeft--
		return nil, nil, xerrors.ErrConcurrentModification
	}

	source := s.findAccount(req.SourceAccountNumber)
	if source == nil {
		return nil, nil, xerrors.ErrAccountNotFound
	}
	dest := s.findAccount(req.DestAccountNumber)
	if dest == nil {
		return nil, nil, xerrors.ErrAccountNotFound
	}
	// Distinct numbers can alias one account; only the resolved rows tell.
	if source.ID == dest.ID {
		return nil, nil, xerrors.ErrSelfTransfer
	}
	if err := source.CanTransact(); err != nil {
		return nil, nil, err
	}
	if err := dest.CanTransact(); err != nil {
		return nil, nil, err
	}
	if source.Currency != req.Currency || dest.Currency != req.Currency {
		return nil, nil, xerrors.ErrCurrencyMismatch
	}
	if !source.HasFunds(req.Amount) {
		return nil, nil, xerrors.ErrInsufficientBalance
	}

	var crossings []domain.ThresholdCrossing
	for _, l := range s.limits {
		if l.AccountID != source.ID || l.Category != req.Category || !l.IsActive {
			continue
		}
		if !l.Allows(req.Amount) {
			return nil, nil, xerrors.ErrLimitExceeded
		}
		if l.LimitType == domain.LimitTypePerTransaction {
			continue
		}
		if l.CrossesThreshold(req.Amount) {
			crossings = append(crossings, domain.ThresholdCrossing{
				LimitID:    l.ID,
				AccountID:  l.AccountID,
				LimitType:  l.LimitType,
				Category:   l.Category,
				UsedAmount: l.UsedAmount.Add(req.Amount),
			})
		}
		l.UsedAmount = l.UsedAmount.Add(req.Amount)
	}

	pair := domain.BuildPair(req, source, dest,
		r.idGen.TransactionID(), r.idGen.TransactionID(), transferRef, time.Now().UTC())

	for _, txn := range []*domain.Transaction{pair.Debit, pair.Credit} {
		dr, cr := domain.BuildEntries(txn)
		s.entries[txn.ID] = append(s.entries[txn.ID], dr, cr)
	}

	source.Balance = pair.Debit.BalanceAfter
	dest.Balance = pair.Credit.BalanceAfter

	s.pairs[transferRef] = pair
	if req.IdempotencyKey != "" {
		s.byIdem[idemStoreKey(source.ID, req.IdempotencyKey)] = transferRef
	}
	return pair, crossings, nil
}

func (r *fakeTransferRepo) ExecuteReversal(ctx context.Context, original *domain.TransferPair, reversalRef, initiatorID string) (*domain.TransferPair, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.pairs[original.TransferRef]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	if stored.Debit.Status != domain.TransactionStatusSuccess || stored.Credit.Status != domain.TransactionStatusSuccess {
		return nil, xerrors.ErrReversalIneligible
	}

	// Direction swapped: the original destination pays back.
	source := s.accounts[stored.Credit.AccountNumber]
	dest := s.accounts[stored.Debit.AccountNumber]
	if err := source.CanTransact(); err != nil {
		return nil, err
	}
	if err := dest.CanTransact(); err != nil {
		return nil, err
	}
	if !source.HasFunds(stored.Credit.Amount) {
		return nil, xerrors.ErrInsufficientBalance
	}

	req := &domain.TransferRequest{
		SourceAccountNumber: source.AccountNumber,
		DestAccountNumber:   dest.AccountNumber,
		Amount:              stored.Credit.Amount,
		Currency:            stored.Credit.Currency,
		Channel:             domain.ChannelSystem,
		Description:         fmt.Sprintf("reversal of %s", stored.TransferRef),
		InitiatorID:         initiatorID,
	}
	pair := domain.BuildPair(req, source, dest,
		r.idGen.TransactionID(), r.idGen.TransactionID(), reversalRef, time.Now().UTC())

	for _, orig := range []*domain.Transaction{stored.Debit, stored.Credit} {
		dr, cr := domain.BuildReversalEntries(orig, time.Now().UTC())
		s.entries[orig.ID] = append(s.entries[orig.ID], dr, cr)
		orig.Status = domain.TransactionStatusReversed
	}

	source.Balance = pair.Debit.BalanceAfter
	dest.Balance = pair.Credit.BalanceAfter
	s.pairs[reversalRef] = pair
	return pair, nil
}

// ---- transaction repository fake ----

type fakeTxnRepo struct {
	store *memStore
}

func (r *fakeTxnRepo) CreateTx(ctx context.Context, tx pgx.Tx, txn *domain.Transaction) error {
	panic("not used: the transfer fake owns inserts")
}

func (r *fakeTxnRepo) MarkReversedTx(ctx context.Context, tx pgx.Tx, transferRef string) error {
	panic("not used: the transfer fake owns status flips")
}

func (r *fakeTxnRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, pair := range s.pairs {
		for _, txn := range []*domain.Transaction{pair.Debit, pair.Credit} {
			if txn.ID == id {
				return txn, nil
			}
		}
	}
	return nil, xerrors.ErrNotFound
}

func (r *fakeTxnRepo) GetPairByTransferRef(ctx context.Context, ref string) (*domain.TransferPair, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	pair, ok := s.pairs[ref]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return pair, nil
}

func (r *fakeTxnRepo) GetPairByIdempotencyKey(ctx context.Context, accountID int64, key string) (*domain.TransferPair, error) {
	s := r.store
	s.mu.Lock()
	ref, ok := s.byIdem[idemStoreKey(accountID, key)]
	s.mu.Unlock()
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return r.GetPairByTransferRef(ctx, ref)
}

func (r *fakeTxnRepo) ListByAccount(ctx context.Context, accountID int64, limit, offset int) ([]*domain.Transaction, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.Transaction
	for _, pair := range s.pairs {
		for _, txn := range []*domain.Transaction{pair.Debit, pair.Credit} {
			if txn.AccountID == accountID {
				out = append(out, txn)
			}
		}
	}
	return out, nil
}

// ---- account repository fake ----

type fakeAccountRepo struct {
	store *memStore
}

func (r *fakeAccountRepo) Create(ctx context.Context, account *domain.Account) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	account.ID = s.nextID
	s.accounts[account.AccountNumber] = account
	return nil
}

func (r *fakeAccountRepo) GetByID(ctx context.Context, id int64) (*domain.Account, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.accounts {
		if a.ID == id {
			return a, nil
		}
	}
	return nil, xerrors.ErrAccountNotFound
}

func (r *fakeAccountRepo) GetByNumber(ctx context.Context, number string) (*domain.Account, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if a := s.findAccount(number); a != nil {
		return a, nil
	}
	return nil, xerrors.ErrAccountNotFound
}

func (r *fakeAccountRepo) GetByNumberForUpdateTx(ctx context.Context, tx pgx.Tx, number string) (*domain.Account, error) {
	return r.GetByNumber(ctx, number)
}

func (r *fakeAccountRepo) UpdateBalanceTx(ctx context.Context, tx pgx.Tx, accountID int64, balance decimal.Decimal, expectedVersion int64) error {
	panic("not used: the transfer fake owns balance writes")
}

func (r *fakeAccountRepo) SetStatus(ctx context.Context, accountID int64, status domain.AccountStatus) error {
	a, err := r.GetByID(ctx, accountID)
	if err != nil {
		return err
	}
	a.Status = status
	return nil
}

// ---- limit repository fake ----

type fakeLimitRepo struct {
	store *memStore
}

func (r *fakeLimitRepo) Create(ctx context.Context, limit *domain.TransferLimit) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextLimitID++
	limit.ID = s.nextLimitID
	s.limits = append(s.limits, limit)
	return nil
}

func (r *fakeLimitRepo) ListActive(ctx context.Context, accountID int64, category domain.LimitCategory) ([]*domain.TransferLimit, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.TransferLimit
	for _, l := range s.limits {
		if l.AccountID == accountID && l.Category == category && l.IsActive {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeLimitRepo) ListByAccount(ctx context.Context, accountID int64) ([]*domain.TransferLimit, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*domain.TransferLimit
	for _, l := range s.limits {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (r *fakeLimitRepo) CommitUsageTx(ctx context.Context, tx pgx.Tx, accountID int64, category domain.LimitCategory, amount decimal.Decimal) ([]domain.ThresholdCrossing, error) {
	panic("not used: the transfer fake owns usage commits")
}

func (r *fakeLimitRepo) ResetDue(ctx context.Context, now time.Time) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, l := range s.limits {
		if l.IsActive && l.ResetDue(now) {
			l.UsedAmount = decimal.Zero
			l.NextResetAt = domain.NextBoundary(l.LimitType, now)
			n++
		}
	}
	return n, nil
}

// ---- reversal repository fake ----

type fakeReversalRepo struct {
	store *memStore

	// setResultFailures makes the next N SetResult calls fail with a
	// transient store error.
	setResultFailures int
}

func (r *fakeReversalRepo) Create(ctx context.Context, rec *domain.ReversalRecord) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.reversals {
		if existing.OriginalTransferRef == rec.OriginalTransferRef && existing.Status.IsLive() {
			return xerrors.ErrAlreadyReversed
		}
	}
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	s.reversals[rec.ID] = rec
	return nil
}

func (r *fakeReversalRepo) GetByID(ctx context.Context, id string) (*domain.ReversalRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.reversals[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return rec, nil
}

func (r *fakeReversalRepo) GetByOriginalRef(ctx context.Context, originalRef string) (*domain.ReversalRecord, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.reversals {
		if rec.OriginalTransferRef == originalRef {
			return rec, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (r *fakeReversalRepo) TransitionStatus(ctx context.Context, id string, from, to domain.ReversalStatus) error {
	if !domain.CanTransition(from, to) {
		return xerrors.ErrInvalidReversalState
	}

	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.reversals[id]
	if !ok || rec.Status != from {
		return xerrors.ErrInvalidReversalState
	}
	rec.Status = to
	rec.UpdatedAt = time.Now().UTC()
	return nil
}

func (r *fakeReversalRepo) SetApprover(ctx context.Context, id, approverID string) error {
	rec, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	rec.ApproverID = &approverID
	return nil
}

func (r *fakeReversalRepo) SetResult(ctx context.Context, id string, reversalRef *string, errMsg *string) error {
	if r.setResultFailures > 0 {
		r.setResultFailures--
		return errTransientStore
	}

	rec, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	rec.ReversalTransferRef = reversalRef
	rec.ErrorMessage = errMsg
	if reversalRef != nil {
		now := time.Now().UTC()
		rec.CompletedAt = &now
	}
	return nil
}

// ---- idempotency guard fake ----

type fakeGuard struct {
	mu       sync.Mutex
	reserved map[string]bool
	releases int
	downErr  error
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{reserved: make(map[string]bool)}
}

func (g *fakeGuard) Reserve(ctx context.Context, ownerID, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.downErr != nil {
		return false, g.downErr
	}
	k := ownerID + ":" + key
	if g.reserved[k] {
		return false, nil
	}
	g.reserved[k] = true
	return true, nil
}

func (g *fakeGuard) Release(ctx context.Context, ownerID, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.reserved, ownerID+":"+key)
	g.releases++
	return nil
}

// ---- publisher fake ----

type fakePublisher struct {
	mu        sync.Mutex
	committed []*domain.TransferPair
	reversed  []*domain.ReversalRecord
	crossings []domain.ThresholdCrossing
}

func (p *fakePublisher) PublishTransferCommitted(ctx context.Context, pair *domain.TransferPair) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.committed = append(p.committed, pair)
	return nil
}

func (p *fakePublisher) PublishTransferReversed(ctx context.Context, rec *domain.ReversalRecord, pair *domain.TransferPair) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reversed = append(p.reversed, rec)
	return nil
}

func (p *fakePublisher) PublishLimitThreshold(ctx context.Context, crossing domain.ThresholdCrossing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.crossings = append(p.crossings, crossing)
	return nil
}

// ---- harness ----

type fixture struct {
	store        *memStore
	guard        *fakeGuard
	publisher    *fakePublisher
	txnRepo      *fakeTxnRepo
	reversalRepo *fakeReversalRepo
	transferUC   *TransferUsecase
	reversalUC   *ReversalUsecase
}

func newFixture() *fixture {
	store := newMemStore()
	idGen := utils.NewRefGenerator()
	guard := newFakeGuard()
	pub := &fakePublisher{}

	transferRepo := &fakeTransferRepo{store: store, idGen: idGen}
	txnRepo := &fakeTxnRepo{store: store}
	accountRepo := &fakeAccountRepo{store: store}
	limitUC := NewLimitUsecase(&fakeLimitRepo{store: store})

	reversalRepo := &fakeReversalRepo{store: store}
	transferUC := NewTransferUsecase(
		transferRepo, txnRepo, accountRepo, limitUC, guard, pub, idGen, 0, 0,
	)
	reversalUC := NewReversalUsecase(
		reversalRepo, txnRepo, transferRepo, pub, idGen, 0,
	)

	return &fixture{
		store:        store,
		guard:        guard,
		publisher:    pub,
		txnRepo:      txnRepo,
		reversalRepo: reversalRepo,
		transferUC:   transferUC,
		reversalUC:   reversalUC,
	}
}
