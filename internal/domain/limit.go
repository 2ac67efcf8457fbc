package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LimitType represents the window a transfer limit applies to
type LimitType string

const (
	LimitTypePerTransaction LimitType = "per_transaction"
	LimitTypeDaily          LimitType = "daily"
	LimitTypeMonthly        LimitType = "monthly"
)

// LimitCategory groups limits by movement category
type LimitCategory string

const (
	LimitCategoryInternal LimitCategory = "internal"
	LimitCategoryExternal LimitCategory = "external"
)

// ThresholdRatio is the usage fraction at which a non-blocking warning event
// is emitted.
var ThresholdRatio = decimal.NewFromFloat(0.8)

// TransferLimit caps cumulative money moved by an account within a period, or
// the size of a single movement.
type TransferLimit struct {
	ID          int64           `json:"id"`
	AccountID   int64           `json:"account_id"`
	LimitType   LimitType       `json:"limit_type"`
	Category    LimitCategory   `json:"category"`
	LimitAmount decimal.Decimal `json:"limit_amount"`
	UsedAmount  decimal.Decimal `json:"used_amount"`
	NextResetAt *time.Time      `json:"next_reset_at,omitempty"` // nil for per_transaction
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"-"`
	UpdatedAt   time.Time       `json:"-"`
}

// Remaining returns how much headroom is left under the limit.
func (l *TransferLimit) Remaining() decimal.Decimal {
	if l.LimitType == LimitTypePerTransaction {
		return l.LimitAmount
	}
	return l.LimitAmount.Sub(l.UsedAmount)
}

// Allows reports whether a movement of amount fits under this limit.
func (l *TransferLimit) Allows(amount decimal.Decimal) bool {
	if !l.IsActive {
		return true
	}
	if l.LimitType == LimitTypePerTransaction {
		return amount.LessThanOrEqual(l.LimitAmount)
	}
	return l.UsedAmount.Add(amount).LessThanOrEqual(l.LimitAmount)
}

// CrossesThreshold reports whether committing amount moves usage from below
// the warning threshold to at or above it. Per-transaction limits have no
// cumulative usage and never cross.
func (l *TransferLimit) CrossesThreshold(amount decimal.Decimal) bool {
	if l.LimitType == LimitTypePerTransaction || l.LimitAmount.IsZero() {
		return false
	}
	mark := l.LimitAmount.Mul(ThresholdRatio)
	return l.UsedAmount.LessThan(mark) && l.UsedAmount.Add(amount).GreaterThanOrEqual(mark)
}

// ResetDue reports whether the scheduled reset boundary has passed.
func (l *TransferLimit) ResetDue(now time.Time) bool {
	return l.NextResetAt != nil && !now.Before(*l.NextResetAt)
}

// NextBoundary computes the reset boundary following now for the limit type,
// in UTC. Per-transaction limits have no boundary.
func NextBoundary(t LimitType, now time.Time) *time.Time {
	now = now.UTC()
	var b time.Time
	switch t {
	case LimitTypeDaily:
		b = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	case LimitTypeMonthly:
		b = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	default:
		return nil
	}
	return &b
}

// ThresholdCrossing describes a limit whose usage crossed the warning mark
// during a commit. Published as a notification event, never blocking.
type ThresholdCrossing struct {
	LimitID     int64           `json:"limit_id"`
	AccountID   int64           `json:"account_id"`
	LimitType   LimitType       `json:"limit_type"`
	Category    LimitCategory   `json:"category"`
	LimitAmount decimal.Decimal `json:"limit_amount"`
	UsedAmount  decimal.Decimal `json:"used_amount"`
}
