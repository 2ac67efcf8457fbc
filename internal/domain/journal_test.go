package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTxn(entryType EntryType) *Transaction {
	return &Transaction{
		ID:        "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Amount:    decimal.NewFromInt(250),
		Currency:  "NGN",
		Type:      entryType,
		CreatedAt: time.Now().UTC(),
	}
}

func TestGLPairFor(t *testing.T) {
	dr, cr := GLPairFor(EntryTypeDebit)
	assert.Equal(t, GLCustomerLiability, dr)
	assert.Equal(t, GLTransferClearing, cr)

	// The credit leg mirrors the debit leg's chart positions.
	dr, cr = GLPairFor(EntryTypeCredit)
	assert.Equal(t, GLTransferClearing, dr)
	assert.Equal(t, GLCustomerLiability, cr)
}

func TestBuildEntries(t *testing.T) {
	txn := sampleTxn(EntryTypeDebit)
	dr, cr := BuildEntries(txn)

	assert.Equal(t, txn.ID, dr.TransactionID)
	assert.Equal(t, txn.ID, cr.TransactionID)
	assert.Equal(t, DrCrDebit, dr.DrCr)
	assert.Equal(t, DrCrCredit, cr.DrCr)
	assert.True(t, dr.Amount.Equal(txn.Amount))
	assert.True(t, cr.Amount.Equal(txn.Amount))
	assert.NotEqual(t, dr.GLAccountCode, cr.GLAccountCode)
	assert.True(t, Balanced([]*JournalEntry{dr, cr}))
}

func TestBuildReversalEntries_SwapsRoles(t *testing.T) {
	txn := sampleTxn(EntryTypeCredit)
	dr, cr := BuildEntries(txn)

	now := time.Now().UTC()
	rdr, rcr := BuildReversalEntries(txn, now)

	// Mirror image: the original credit account is debited back and vice
	// versa, still referencing the original transaction.
	assert.Equal(t, cr.GLAccountCode, rdr.GLAccountCode)
	assert.Equal(t, dr.GLAccountCode, rcr.GLAccountCode)
	assert.Equal(t, txn.ID, rdr.TransactionID)
	assert.Equal(t, txn.ID, rcr.TransactionID)

	// Original plus reversal still balances.
	assert.True(t, Balanced([]*JournalEntry{dr, cr, rdr, rcr}))
}

func TestBalanced(t *testing.T) {
	dr, cr := BuildEntries(sampleTxn(EntryTypeDebit))
	require.True(t, Balanced([]*JournalEntry{dr, cr}))

	cr.Amount = cr.Amount.Add(decimal.NewFromInt(1))
	assert.False(t, Balanced([]*JournalEntry{dr, cr}))

	assert.True(t, Balanced(nil))
	assert.False(t, Balanced([]*JournalEntry{dr}))
}
