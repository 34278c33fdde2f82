package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeStatus string

const (
	TradeCreated        TradeStatus = "CREATED"
	TradeWaitingPayment TradeStatus = "WAITING_PAYMENT"
	TradePaid           TradeStatus = "PAID"
	TradeCompleted      TradeStatus = "COMPLETED"
	TradeDisputed       TradeStatus = "DISPUTED"
	TradeResolved       TradeStatus = "RESOLVED"
	TradeCancelled      TradeStatus = "CANCELLED"
)

// TradeTransitions is the closed set of allowed status changes. Anything not
// listed here is rejected.
var TradeTransitions = map[TradeStatus][]TradeStatus{
	TradeCreated:        {TradeWaitingPayment, TradeCancelled},
	TradeWaitingPayment: {TradePaid, TradeCancelled, TradeDisputed},
	TradePaid:           {TradeCompleted, TradeDisputed},
	TradeDisputed:       {TradeResolved},
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to TradeStatus) bool {
	allowed, ok := TradeTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

func (s TradeStatus) Valid() bool {
	switch s {
	case TradeCreated, TradeWaitingPayment, TradePaid, TradeCompleted,
		TradeDisputed, TradeResolved, TradeCancelled:
		return true
	}
	return false
}

// IsTerminal returns true once the escrow lock has been settled.
func (s TradeStatus) IsTerminal() bool {
	return s == TradeCompleted || s == TradeResolved || s == TradeCancelled
}

type DisputeOutcome string

const (
	BuyerWins  DisputeOutcome = "BUYER_WINS"
	SellerWins DisputeOutcome = "SELLER_WINS"
)

func (o DisputeOutcome) Valid() bool {
	return o == BuyerWins || o == SellerWins
}

type Trade struct {
	ID              string          `json:"id" db:"id"`
	OfferID         string          `json:"offer_id" db:"offer_id"`
	BuyerID         string          `json:"buyer_id" db:"buyer_id"`
	SellerID        string          `json:"seller_id" db:"seller_id"`
	Asset           string          `json:"asset" db:"asset"`
	Network         string          `json:"network" db:"network"`
	SellerAccountID string          `json:"seller_account_id" db:"seller_account_id"`
	BuyerAccountID  string          `json:"buyer_account_id" db:"buyer_account_id"`
	CryptoAmount    decimal.Decimal `json:"crypto_amount" db:"crypto_amount"`
	FiatAmount      decimal.Decimal `json:"fiat_amount" db:"fiat_amount"`
	UnitPrice       decimal.Decimal `json:"unit_price" db:"unit_price"`
	FiatCurrency    string          `json:"fiat_currency" db:"fiat_currency"`
	PaymentMethod   string          `json:"payment_method" db:"payment_method"`
	Status          TradeStatus     `json:"status" db:"status"`
	Outcome         DisputeOutcome  `json:"outcome,omitempty" db:"outcome"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
	PaidAt          *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
	ResolvedAt      *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// IsParty reports whether userID is the buyer or the seller.
func (t *Trade) IsParty(userID string) bool {
	return userID != "" && (userID == t.BuyerID || userID == t.SellerID)
}

// TradeEvent is one row of the trade's status history.
type TradeEvent struct {
	ID         string      `json:"id" db:"id"`
	TradeID    string      `json:"trade_id" db:"trade_id"`
	FromStatus TradeStatus `json:"from_status" db:"from_status"`
	ToStatus   TradeStatus `json:"to_status" db:"to_status"`
	ActorID    string      `json:"actor_id" db:"actor_id"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}
