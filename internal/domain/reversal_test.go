package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledger-core/pkg/xerrors"
)

func TestReversalTransitions(t *testing.T) {
	legal := []struct{ from, to ReversalStatus }{
		{ReversalStatusPending, ReversalStatusApproved},
		{ReversalStatusPending, ReversalStatusCancelled},
		{ReversalStatusApproved, ReversalStatusProcessing},
		{ReversalStatusProcessing, ReversalStatusCompleted},
		{ReversalStatusProcessing, ReversalStatusFailed},
	}
	for _, tr := range legal {
		assert.True(t, CanTransition(tr.from, tr.to), "%s -> %s should be legal", tr.from, tr.to)
	}

	illegal := []struct{ from, to ReversalStatus }{
		{ReversalStatusPending, ReversalStatusProcessing}, // must go through APPROVED
		{ReversalStatusPending, ReversalStatusCompleted},
		{ReversalStatusApproved, ReversalStatusCancelled}, // cancel only while PENDING
		{ReversalStatusProcessing, ReversalStatusCancelled},
		{ReversalStatusCompleted, ReversalStatusPending},
		{ReversalStatusFailed, ReversalStatusApproved},
		{ReversalStatusCancelled, ReversalStatusApproved},
	}
	for _, tr := range illegal {
		assert.False(t, CanTransition(tr.from, tr.to), "%s -> %s should be illegal", tr.from, tr.to)
	}
}

func TestReversalStatusPredicates(t *testing.T) {
	for _, s := range []ReversalStatus{ReversalStatusCompleted, ReversalStatusFailed, ReversalStatusCancelled} {
		assert.True(t, s.IsTerminal(), "%s should be terminal", s)
	}
	for _, s := range []ReversalStatus{ReversalStatusPending, ReversalStatusApproved, ReversalStatusProcessing} {
		assert.False(t, s.IsTerminal(), "%s should not be terminal", s)
	}

	// Only cancelled and failed records free the original for another try.
	assert.False(t, ReversalStatusCancelled.IsLive())
	assert.False(t, ReversalStatusFailed.IsLive())
	assert.True(t, ReversalStatusPending.IsLive())
	assert.True(t, ReversalStatusCompleted.IsLive())
}

func eligiblePair(age time.Duration) *TransferPair {
	created := time.Now().UTC().Add(-age)
	leg := func(t EntryType) *Transaction {
		return &Transaction{
			Amount:    decimal.NewFromInt(100),
			Type:      t,
			Status:    TransactionStatusSuccess,
			CreatedAt: created,
		}
	}
	return &TransferPair{Debit: leg(EntryTypeDebit), Credit: leg(EntryTypeCredit)}
}

func TestEligibleForReversal(t *testing.T) {
	now := time.Now().UTC()
	window := 24 * time.Hour

	require.NoError(t, EligibleForReversal(eligiblePair(time.Hour), window, now))

	err := EligibleForReversal(eligiblePair(25*time.Hour), window, now)
	require.ErrorIs(t, err, xerrors.ErrReversalWindowExpired)

	reversed := eligiblePair(time.Hour)
	reversed.Debit.Status = TransactionStatusReversed
	err = EligibleForReversal(reversed, window, now)
	require.ErrorIs(t, err, xerrors.ErrReversalIneligible)

	require.ErrorIs(t, EligibleForReversal(nil, window, now), xerrors.ErrNotFound)
	require.ErrorIs(t, EligibleForReversal(&TransferPair{}, window, now), xerrors.ErrNotFound)
}

func TestReversalRequestValidate(t *testing.T) {
	valid := &ReversalRequest{
		OriginalTransferRef: "TRF-01ARZ3NDEKTSV4RRFFQ69G5FAV",
		InitiatorID:         "ops-1",
		ReasonCode:          "CUSTOMER_DISPUTE",
	}
	require.NoError(t, valid.Validate())

	for _, mutate := range []func(*ReversalRequest){
		func(r *ReversalRequest) { r.OriginalTransferRef = "" },
		func(r *ReversalRequest) { r.InitiatorID = "" },
		func(r *ReversalRequest) { r.ReasonCode = "" },
	} {
		r := *valid
		mutate(&r)
		require.ErrorIs(t, r.Validate(), xerrors.ErrInvalidInput)
	}
}
