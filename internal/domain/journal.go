package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DrCr marks a journal entry as a debit or credit line
type DrCr string

const (
	DrCrDebit  DrCr = "DR"
	DrCrCredit DrCr = "CR"
)

// JournalEntry is one immutable line in the general ledger. Entries are only
// ever created in balanced DR/CR pairs and never updated or deleted.
type JournalEntry struct {
	ID            int64           `json:"id"`
	TransactionID string          `json:"transaction_id"`
	GLAccountCode string          `json:"gl_account_code"`
	DrCr          DrCr            `json:"dr_cr"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	CreatedAt     time.Time       `json:"created_at"`
}

// GL chart of accounts. Placeholder chart pending the authoritative
// chart-of-accounts mapping from finance; adjusting the table below is the
// only change needed to re-map.
const (
	GLCustomerLiability = "2100" // customer deposits (liability)
	GLTransferClearing  = "1200" // transfer clearing / settlement (asset)
)

type glPair struct {
	DrCode string
	CrCode string
}

// glChart maps the transaction leg type to the GL accounts its journal pair
// touches. Deterministic and side-effect free.
var glChart = map[EntryType]glPair{
	// Money leaves a customer wallet: the liability shrinks (DR) and the
	// clearing account receives the value (CR).
	EntryTypeDebit: {DrCode: GLCustomerLiability, CrCode: GLTransferClearing},

	// Money enters a customer wallet: clearing is drawn down (DR) and the
	// liability grows (CR).
	EntryTypeCredit: {DrCode: GLTransferClearing, CrCode: GLCustomerLiability},
}

// GLPairFor returns the (debit GL code, credit GL code) for a transaction leg.
func GLPairFor(t EntryType) (string, string) {
	p := glChart[t]
	return p.DrCode, p.CrCode
}

// BuildEntries derives the balanced DR/CR journal pair for a transaction.
// Pure: the caller persists both entries in the same atomic unit as the
// transaction row.
func BuildEntries(txn *Transaction) (*JournalEntry, *JournalEntry) {
	drCode, crCode := GLPairFor(txn.Type)

	dr := &JournalEntry{
		TransactionID: txn.ID,
		GLAccountCode: drCode,
		DrCr:          DrCrDebit,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		CreatedAt:     txn.CreatedAt,
	}
	cr := &JournalEntry{
		TransactionID: txn.ID,
		GLAccountCode: crCode,
		DrCr:          DrCrCredit,
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		CreatedAt:     txn.CreatedAt,
	}
	return dr, cr
}

// BuildReversalEntries derives the mirror-image pair for a previously posted
// transaction: GL account roles swapped, referencing the ORIGINAL transaction
// id. The original entries are never touched.
func BuildReversalEntries(original *Transaction, now time.Time) (*JournalEntry, *JournalEntry) {
	drCode, crCode := GLPairFor(original.Type)

	// Swap roles: the original CR account is now debited and vice versa.
	dr := &JournalEntry{
		TransactionID: original.ID,
		GLAccountCode: crCode,
		DrCr:          DrCrDebit,
		Amount:        original.Amount,
		Currency:      original.Currency,
		CreatedAt:     now,
	}
	cr := &JournalEntry{
		TransactionID: original.ID,
		GLAccountCode: drCode,
		DrCr:          DrCrCredit,
		Amount:        original.Amount,
		Currency:      original.Currency,
		CreatedAt:     now,
	}
	return dr, cr
}

// Balanced reports whether sum(DR) == sum(CR) across the given entries.
func Balanced(entries []*JournalEntry) bool {
	dr, cr := decimal.Zero, decimal.Zero
	for _, e := range entries {
		if e.DrCr == DrCrDebit {
			dr = dr.Add(e.Amount)
		} else {
			cr = cr.Add(e.Amount)
		}
	}
	return dr.Equal(cr)
}
