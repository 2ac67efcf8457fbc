package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RefGenerator generates unique identifiers for transactions, transfer
// references and account numbers. ULIDs are sortable by creation time, which
// keeps transaction ids naturally ordered in the ledger.
type RefGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

const (
	// PrefixTransfer marks an external transfer reference.
	// Example: TRF-01ARZ3NDEKTSV4RRFFQ69G5FAV
	PrefixTransfer = "TRF"

	// PrefixReversal marks a compensating transfer reference.
	// Example: RVS-01ARZ3NDEKTSV4RRFFQ69G5FAV
	PrefixReversal = "RVS"

	// PrefixReversalRecord marks a reversal request record id.
	PrefixReversalRecord = "REV"
)

// NewRefGenerator creates a new reference generator.
func NewRefGenerator() *RefGenerator {
	return &RefGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// TransactionID generates a bare ULID used as a transaction primary key.
func (g *RefGenerator) TransactionID() string {
	return g.next()
}

// TransferRef generates a prefixed reference shared by the debit/credit pair
// of one transfer.
func (g *RefGenerator) TransferRef() string {
	return fmt.Sprintf("%s-%s", PrefixTransfer, g.next())
}

// ReversalRef generates a reference for a compensating transfer.
func (g *RefGenerator) ReversalRef() string {
	return fmt.Sprintf("%s-%s", PrefixReversal, g.next())
}

// ReversalRecordID generates an id for a reversal request record.
func (g *RefGenerator) ReversalRecordID() string {
	return fmt.Sprintf("%s-%s", PrefixReversalRecord, g.next())
}

// AccountNumber generates a prefixed account number, e.g. ACC-NGN-01ARZ...
func (g *RefGenerator) AccountNumber(prefix, currency string) string {
	p := "ACC"
	if prefix != "" {
		p = strings.ToUpper(prefix)
	}
	return fmt.Sprintf("%s-%s-%s", p, strings.ToUpper(currency), g.next())
}

func (g *RefGenerator) next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
	return id.String()
}

// IsValidRef reports whether s looks like a reference produced by this
// generator: an optional known prefix followed by a parseable ULID.
func IsValidRef(s string) bool {
	body := s
	if idx := strings.LastIndex(s, "-"); idx >= 0 {
		body = s[idx+1:]
	}
	_, err := ulid.Parse(body)
	return err == nil
}
