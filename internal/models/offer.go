package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Offer is a seller's standing advertisement to sell an asset for fiat.
type Offer struct {
	ID              string          `json:"id" db:"id"`
	SellerID        string          `json:"seller_id" db:"seller_id"`
	Asset           string          `json:"asset" db:"asset"`
	Network         string          `json:"network" db:"network"`
	FiatCurrency    string          `json:"fiat_currency" db:"fiat_currency"`
	UnitPrice       decimal.Decimal `json:"unit_price" db:"unit_price"`
	TotalAmount     decimal.Decimal `json:"total_amount" db:"total_amount"`
	AvailableAmount decimal.Decimal `json:"available_amount" db:"available_amount"`
	MinLimit        decimal.Decimal `json:"min_limit" db:"min_limit"`
	MaxLimit        decimal.Decimal `json:"max_limit" db:"max_limit"`
	PaymentMethods  []string        `json:"payment_methods" db:"payment_methods"`
	Active          bool            `json:"active" db:"active"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" db:"updated_at"`
}

func (o *Offer) AcceptsPaymentMethod(method string) bool {
	for _, m := range o.PaymentMethods {
		if m == method {
			return true
		}
	}
	return false
}

type OfferFilter struct {
	Asset        string
	Network      string
	FiatCurrency string
	SellerID     string
	ActiveOnly   bool
}
