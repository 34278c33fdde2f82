// Package store is the durable record of accounts, ledger entries, offers,
// trades and withdrawal requests. Every mutation happens inside WithTx; rows
// fetched through the Lock* methods stay locked until the unit commits or rolls back.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/stablep2p/backend/internal/models"
)

var (
	ErrNotFound  = errors.New("store: not found")
	ErrDuplicate = errors.New("store: duplicate key")
	// ErrVersionConflict means an account row changed under a caller that
	// did not hold its lock.
	ErrVersionConflict = errors.New("store: optimistic lock failed")
)

// Store opens atomic units of work and serves committed reads.
type Store interface {
	Reader
	// WithTx runs fn in one atomic unit. Any error returned by fn rolls the
	// whole unit back.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
}

type Reader interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListAccounts(ctx context.Context, userID string) ([]models.Account, error)
	ListEntries(ctx context.Context, filter models.EntryFilter) ([]models.LedgerEntry, error)
	// AccountEntries returns the full history of one account, oldest first.
	AccountEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error)

	GetOffer(ctx context.Context, id string) (*models.Offer, error)
	ListOffers(ctx context.Context, filter models.OfferFilter) ([]models.Offer, error)

	GetTrade(ctx context.Context, id string) (*models.Trade, error)
	ListTrades(ctx context.Context, userID string) ([]models.Trade, error)
	ListTradeEvents(ctx context.Context, tradeID string) ([]models.TradeEvent, error)

	GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	// ExpiredWithdrawals returns ids of pending requests whose expiry is at or before now.
	ExpiredWithdrawals(ctx context.Context, now time.Time, limit int) ([]string, error)
}

// Tx is the write side of a unit of work.
type Tx interface {
	// EnsureAccount creates the account for key if absent and returns its id.
	// The row is not locked.
	EnsureAccount(ctx context.Context, key models.AccountKey) (string, error)
	LockAccount(ctx context.Context, id string) (*models.Account, error)
	// UpdateAccount persists balances of a locked account and bumps its version.
	UpdateAccount(ctx context.Context, account *models.Account) error

	FindEntry(ctx context.Context, accountID, reference string, kind models.EntryKind) (*models.LedgerEntry, error)
	InsertEntry(ctx context.Context, entry *models.LedgerEntry) error

	InsertOffer(ctx context.Context, offer *models.Offer) error
	LockOffer(ctx context.Context, id string) (*models.Offer, error)
	UpdateOffer(ctx context.Context, offer *models.Offer) error

	InsertTrade(ctx context.Context, trade *models.Trade) error
	LockTrade(ctx context.Context, id string) (*models.Trade, error)
	UpdateTrade(ctx context.Context, trade *models.Trade) error
	AppendTradeEvent(ctx context.Context, event *models.TradeEvent) error

	InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
	LockWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error)
	UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error
}
