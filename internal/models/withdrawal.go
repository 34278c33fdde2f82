package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalStatus string

const (
	WithdrawalPending   WithdrawalStatus = "PENDING"
	WithdrawalConfirmed WithdrawalStatus = "CONFIRMED"
	WithdrawalExpired   WithdrawalStatus = "EXPIRED"
	WithdrawalRejected  WithdrawalStatus = "REJECTED"
)

// WithdrawalRequest holds a pending two-phase withdrawal. The confirmation code
// is only ever stored as a salted hash.
type WithdrawalRequest struct {
	ID          string           `json:"id" db:"id"`
	AccountID   string           `json:"account_id" db:"account_id"`
	UserID      string           `json:"user_id" db:"user_id"`
	Asset       string           `json:"asset" db:"asset"`
	Network     string           `json:"network" db:"network"`
	Address     string           `json:"address" db:"address"`
	Amount      decimal.Decimal  `json:"amount" db:"amount"`
	Fee         decimal.Decimal  `json:"fee" db:"fee"`
	CodeHash    string           `json:"-" db:"code_hash"`
	Attempts    int              `json:"attempts" db:"attempts"`
	MaxAttempts int              `json:"max_attempts" db:"max_attempts"`
	Status      WithdrawalStatus `json:"status" db:"status"`
	Consumed    bool             `json:"consumed" db:"consumed"`
	ExpiresAt   time.Time        `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at" db:"updated_at"`
	ConsumedAt  *time.Time       `json:"consumed_at,omitempty" db:"consumed_at"`
}

// LockedTotal is the amount held against the account while the request is pending.
func (w *WithdrawalRequest) LockedTotal() decimal.Decimal {
	return w.Amount.Add(w.Fee)
}

func (w *WithdrawalRequest) ExpiredAt(now time.Time) bool {
	return !now.Before(w.ExpiresAt)
}
