package domain

import (
	"time"

	"ledger-core/pkg/xerrors"
)

// ReversalStatus is the state of a reversal request
type ReversalStatus string

const (
	ReversalStatusPending    ReversalStatus = "PENDING"
	ReversalStatusApproved   ReversalStatus = "APPROVED"
	ReversalStatusProcessing ReversalStatus = "PROCESSING"
	ReversalStatusCompleted  ReversalStatus = "COMPLETED"
	ReversalStatusFailed     ReversalStatus = "FAILED"
	ReversalStatusCancelled  ReversalStatus = "CANCELLED"
)

// reversalTransitions is the exhaustive legal state machine. Anything not
// listed is rejected.
var reversalTransitions = map[ReversalStatus][]ReversalStatus{
	ReversalStatusPending:    {ReversalStatusApproved, ReversalStatusCancelled},
	ReversalStatusApproved:   {ReversalStatusProcessing},
	ReversalStatusProcessing: {ReversalStatusCompleted, ReversalStatusFailed},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to ReversalStatus) bool {
	for _, next := range reversalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func (s ReversalStatus) IsTerminal() bool {
	return len(reversalTransitions[s]) == 0
}

// IsLive reports whether the record still blocks a new reversal of the same
// transfer. Cancelled and failed reversals may be retried with a new record.
func (s ReversalStatus) IsLive() bool {
	return s != ReversalStatusCancelled && s != ReversalStatusFailed
}

// ReversalRecord tracks one compensating-transfer request through its state
// machine. At most one live record may exist per original transfer.
type ReversalRecord struct {
	ID                  string         `json:"id"`
	OriginalTransferRef string         `json:"original_transfer_ref"`
	ReversalTransferRef *string        `json:"reversal_transfer_ref,omitempty"`
	InitiatorID         string         `json:"initiator_id"`
	ApproverID          *string        `json:"approver_id,omitempty"`
	ReasonCode          string         `json:"reason_code"`
	Status              ReversalStatus `json:"status"`
	ErrorMessage        *string        `json:"error_message,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

// ReversalRequest asks for a committed transfer to be compensated.
type ReversalRequest struct {
	OriginalTransferRef string
	InitiatorID         string
	ReasonCode          string
}

// Validate checks required fields.
func (r *ReversalRequest) Validate() error {
	if r.OriginalTransferRef == "" || r.InitiatorID == "" {
		return xerrors.ErrInvalidInput
	}
	if r.ReasonCode == "" {
		return xerrors.ErrInvalidInput
	}
	return nil
}

// EligibleForReversal checks that the original pair can be compensated: both
// legs committed successfully and the commit is within the eligibility window.
func EligibleForReversal(pair *TransferPair, window time.Duration, now time.Time) error {
	if pair == nil || pair.Debit == nil || pair.Credit == nil {
		return xerrors.ErrNotFound
	}
	if pair.Debit.Status != TransactionStatusSuccess || pair.Credit.Status != TransactionStatusSuccess {
		return xerrors.ErrReversalIneligible
	}
	if now.Sub(pair.Debit.CreatedAt) > window {
		return xerrors.ErrReversalWindowExpired
	}
	return nil
}
