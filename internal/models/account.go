package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	AccountFunding AccountType = "FUNDING"
	AccountSpot    AccountType = "SPOT"
	AccountFee     AccountType = "FEE"
)

// SystemUserID owns the fee collector accounts.
const SystemUserID = "SYSTEM"

// AccountKey identifies a wallet account. Accounts are created lazily per key.
type AccountKey struct {
	UserID  string      `json:"user_id"`
	Asset   string      `json:"asset"`
	Network string      `json:"network"`
	Type    AccountType `json:"account_type"`
}

// FundingKey is the account used by P2P trades and withdrawals.
func FundingKey(userID, asset, network string) AccountKey {
	return AccountKey{UserID: userID, Asset: asset, Network: network, Type: AccountFunding}
}

// FeeKey is the system account that collects withdrawal fees for an asset.
func FeeKey(asset, network string) AccountKey {
	return AccountKey{UserID: SystemUserID, Asset: asset, Network: network, Type: AccountFee}
}

type Account struct {
	ID            string          `json:"id" db:"id"`
	UserID        string          `json:"user_id" db:"user_id"`
	Asset         string          `json:"asset" db:"asset"`
	Network       string          `json:"network" db:"network"`
	Type          AccountType     `json:"account_type" db:"account_type"`
	Balance       decimal.Decimal `json:"balance" db:"balance"`
	LockedBalance decimal.Decimal `json:"locked_balance" db:"locked_balance"`
	Version       int64           `json:"version" db:"version"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

func (a *Account) Key() AccountKey {
	return AccountKey{UserID: a.UserID, Asset: a.Asset, Network: a.Network, Type: a.Type}
}

// Total is balance plus locked balance.
func (a *Account) Total() decimal.Decimal {
	return a.Balance.Add(a.LockedBalance)
}

type EntryKind string

const (
	EntryCredit   EntryKind = "CREDIT"
	EntryDebit    EntryKind = "DEBIT"
	EntryLock     EntryKind = "LOCK"
	EntryUnlock   EntryKind = "UNLOCK"
	EntryTransfer EntryKind = "TRANSFER"
)

// LedgerEntry is an append-only record of one balance mutation. For TRANSFER
// entries AccountID is the debited (locked) side and CounterAccountID the credited side.
type LedgerEntry struct {
	ID                  string          `json:"id" db:"id"`
	AccountID           string          `json:"account_id" db:"account_id"`
	CounterAccountID    string          `json:"counter_account_id,omitempty" db:"counter_account_id"`
	Kind                EntryKind       `json:"kind" db:"kind"`
	Amount              decimal.Decimal `json:"amount" db:"amount"`
	FromLocked          bool            `json:"from_locked,omitempty" db:"from_locked"`
	BalanceAfter        decimal.Decimal `json:"balance_after" db:"balance_after"`
	LockedAfter         decimal.Decimal `json:"locked_after" db:"locked_after"`
	CounterBalanceAfter decimal.Decimal `json:"counter_balance_after,omitempty" db:"counter_balance_after"`
	Reference           string          `json:"reference" db:"reference"`
	CreatedAt           time.Time       `json:"created_at" db:"created_at"`
}

// EntryView is a ledger entry as seen by one user. Balance snapshots are only
// present for the sides of the entry the viewer owns.
type EntryView struct {
	ID                  string           `json:"id"`
	AccountID           string           `json:"account_id"`
	CounterAccountID    string           `json:"counter_account_id,omitempty"`
	Kind                EntryKind        `json:"kind"`
	Amount              decimal.Decimal  `json:"amount"`
	FromLocked          bool             `json:"from_locked,omitempty"`
	BalanceAfter        *decimal.Decimal `json:"balance_after,omitempty"`
	LockedAfter         *decimal.Decimal `json:"locked_after,omitempty"`
	CounterBalanceAfter *decimal.Decimal `json:"counter_balance_after,omitempty"`
	Reference           string           `json:"reference"`
	CreatedAt           time.Time        `json:"created_at"`
}

// ViewFor projects the entry for a viewer owning the accounts in owned.
func (e LedgerEntry) ViewFor(owned map[string]bool) EntryView {
	v := EntryView{
		ID:               e.ID,
		AccountID:        e.AccountID,
		CounterAccountID: e.CounterAccountID,
		Kind:             e.Kind,
		Amount:           e.Amount,
		FromLocked:       e.FromLocked,
		Reference:        e.Reference,
		CreatedAt:        e.CreatedAt,
	}
	if owned[e.AccountID] {
		balance, locked := e.BalanceAfter, e.LockedAfter
		v.BalanceAfter, v.LockedAfter = &balance, &locked
	}
	if e.CounterAccountID != "" && owned[e.CounterAccountID] {
		counter := e.CounterBalanceAfter
		v.CounterBalanceAfter = &counter
	}
	return v
}

// EntryFilter narrows ledger history reads. Zero values match everything.
type EntryFilter struct {
	AccountID string
	UserID    string
	Reference string
	Limit     int
}
