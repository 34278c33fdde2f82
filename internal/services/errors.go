package services

import "errors"

// Ledger
var (
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidReference  = errors.New("reference is required")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrReferenceConflict = errors.New("reference already used with different parameters")
	ErrSameAccount       = errors.New("source and destination account are the same")
	// ErrInvalidState marks an internal invariant violation, never a user mistake.
	ErrInvalidState = errors.New("ledger invariant violation")
)

// Trades and offers
var (
	ErrInvalidTransition       = errors.New("invalid trade status transition")
	ErrAlreadyResolved         = errors.New("dispute already resolved")
	ErrInvalidOutcome          = errors.New("invalid dispute outcome")
	ErrInsufficientOfferLimit  = errors.New("amount outside offer limits")
	ErrInsufficientSellerFunds = errors.New("seller has insufficient funds")
	ErrOfferInactive           = errors.New("offer is not active")
	ErrInvalidOffer            = errors.New("invalid offer parameters")
	ErrSelfTrade               = errors.New("cannot trade against own offer")
	ErrPaymentMethod           = errors.New("payment method not accepted by offer")
)

// Withdrawals
var (
	ErrUnsupportedNetwork = errors.New("unsupported network")
	ErrInvalidAddress     = errors.New("invalid destination address")
	ErrInvalidCode        = errors.New("invalid confirmation code")
	ErrExpired            = errors.New("withdrawal request expired")
	ErrAlreadyConsumed    = errors.New("withdrawal request already consumed")
	ErrRequestRejected    = errors.New("withdrawal request rejected after too many attempts")
	ErrRateLimited        = errors.New("too many confirmation attempts, try again later")
)

// Shared
var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)
