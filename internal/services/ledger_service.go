package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/stablep2p/backend/internal/events"
	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/store"
)

// MaxAmountScale is the number of decimal places an amount may carry.
const MaxAmountScale = 18

// MaxAmount is the exclusive upper bound of any amount or balance, matching
// the NUMERIC(36, 18) columns.
var MaxAmount = decimal.New(1, 36-MaxAmountScale)

// LedgerService is the only writer of account balances. Every operation runs
// as one unit of work and appends exactly one ledger entry.
type LedgerService struct {
	store   store.Store
	emitter events.Emitter
	metrics *Metrics
}

func NewLedgerService(st store.Store, emitter events.Emitter, metrics *Metrics) *LedgerService {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	if emitter == nil {
		emitter = events.Discard
	}
	return &LedgerService{store: st, emitter: emitter, metrics: metrics}
}

type mutation struct {
	kind       models.EntryKind
	accountID  string
	counterID  string
	amount     decimal.Decimal
	reference  string
	fromLocked bool
}

// Credit adds amount to the account balance.
func (l *LedgerService) Credit(ctx context.Context, key models.AccountKey, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	return l.execute(ctx, mutation{kind: models.EntryCredit, amount: amount, reference: ref}, key)
}

// Debit removes amount from the available balance.
func (l *LedgerService) Debit(ctx context.Context, key models.AccountKey, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	return l.execute(ctx, mutation{kind: models.EntryDebit, amount: amount, reference: ref}, key)
}

// DebitLocked removes amount from the locked balance.
func (l *LedgerService) DebitLocked(ctx context.Context, key models.AccountKey, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	return l.execute(ctx, mutation{kind: models.EntryDebit, amount: amount, reference: ref, fromLocked: true}, key)
}

// Lock moves amount from balance to locked balance.
func (l *LedgerService) Lock(ctx context.Context, key models.AccountKey, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	return l.execute(ctx, mutation{kind: models.EntryLock, amount: amount, reference: ref}, key)
}

// Unlock moves amount from locked balance back to balance.
func (l *LedgerService) Unlock(ctx context.Context, key models.AccountKey, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	return l.execute(ctx, mutation{kind: models.EntryUnlock, amount: amount, reference: ref}, key)
}

// TransferLocked moves amount from the locked balance of from to the balance of to.
func (l *LedgerService) TransferLocked(ctx context.Context, from, to models.AccountKey, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	if from == to {
		return nil, ErrSameAccount
	}
	return l.execute(ctx, mutation{kind: models.EntryTransfer, amount: amount, reference: ref}, from, to)
}

func (l *LedgerService) CreditTx(ctx context.Context, tx store.Tx, accountID string, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	e, _, err := l.apply(ctx, tx, mutation{kind: models.EntryCredit, accountID: accountID, amount: amount, reference: ref})
	return e, err
}

func (l *LedgerService) DebitLockedTx(ctx context.Context, tx store.Tx, accountID string, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	e, _, err := l.apply(ctx, tx, mutation{kind: models.EntryDebit, accountID: accountID, amount: amount, reference: ref, fromLocked: true})
	return e, err
}

func (l *LedgerService) LockTx(ctx context.Context, tx store.Tx, accountID string, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	e, _, err := l.apply(ctx, tx, mutation{kind: models.EntryLock, accountID: accountID, amount: amount, reference: ref})
	return e, err
}

func (l *LedgerService) UnlockTx(ctx context.Context, tx store.Tx, accountID string, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	e, _, err := l.apply(ctx, tx, mutation{kind: models.EntryUnlock, accountID: accountID, amount: amount, reference: ref})
	return e, err
}

func (l *LedgerService) TransferLockedTx(ctx context.Context, tx store.Tx, fromID, toID string, amount decimal.Decimal, ref string) (*models.LedgerEntry, error) {
	if fromID == toID {
		return nil, ErrSameAccount
	}
	e, _, err := l.apply(ctx, tx, mutation{kind: models.EntryTransfer, accountID: fromID, counterID: toID, amount: amount, reference: ref})
	return e, err
}

func (l *LedgerService) execute(ctx context.Context, m mutation, keys ...models.AccountKey) (*models.LedgerEntry, error) {
	if err := validateAmount(m.amount); err != nil {
		return nil, err
	}
	if m.reference == "" {
		return nil, ErrInvalidReference
	}

	start := time.Now()
	var (
		entry    *models.LedgerEntry
		replayed bool
	)
	err := l.store.WithTx(ctx, func(tx store.Tx) error {
		ids := make([]string, len(keys))
		for i, k := range keys {
			id, err := tx.EnsureAccount(ctx, k)
			if err != nil {
				return err
			}
			ids[i] = id
		}
		m.accountID = ids[0]
		if len(ids) > 1 {
			m.counterID = ids[1]
		}

		var err error
		entry, replayed, err = l.apply(ctx, tx, m)
		return err
	})
	l.observe(m.kind, err, start)
	if err != nil {
		return nil, err
	}

	if !replayed {
		l.emitter.Emit(ctx, EntryEvents(entry)...)
	}
	return entry, nil
}

// apply locks the rows involved in ascending id order, short-circuits on a
// previously applied reference and otherwise mutates balances and appends the entry.
func (l *LedgerService) apply(ctx context.Context, tx store.Tx, m mutation) (*models.LedgerEntry, bool, error) {
	if err := validateAmount(m.amount); err != nil {
		return nil, false, err
	}
	if m.reference == "" {
		return nil, false, ErrInvalidReference
	}

	ids := []string{m.accountID}
	if m.counterID != "" {
		ids = append(ids, m.counterID)
	}
	sort.Strings(ids)

	locked := make(map[string]*models.Account, len(ids))
	for _, id := range ids {
		acc, err := tx.LockAccount(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, false, fmt.Errorf("%w: account %s", ErrNotFound, id)
			}
			return nil, false, err
		}
		locked[id] = acc
	}

	existing, err := tx.FindEntry(ctx, m.accountID, m.reference, m.kind)
	switch {
	case err == nil:
		if !existing.Amount.Equal(m.amount) || existing.CounterAccountID != m.counterID || existing.FromLocked != m.fromLocked {
			return nil, false, fmt.Errorf("%w: %s %s", ErrReferenceConflict, m.kind, m.reference)
		}
		return existing, true, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, false, err
	}

	acc := locked[m.accountID]
	switch m.kind {
	case models.EntryCredit:
		acc.Balance = acc.Balance.Add(m.amount)
	case models.EntryDebit:
		if m.fromLocked {
			if acc.LockedBalance.LessThan(m.amount) {
				return nil, false, l.invariantViolation(m, acc)
			}
			acc.LockedBalance = acc.LockedBalance.Sub(m.amount)
		} else {
			if acc.Balance.LessThan(m.amount) {
				return nil, false, ErrInsufficientFunds
			}
			acc.Balance = acc.Balance.Sub(m.amount)
		}
	case models.EntryLock:
		if acc.Balance.LessThan(m.amount) {
			return nil, false, ErrInsufficientFunds
		}
		acc.Balance = acc.Balance.Sub(m.amount)
		acc.LockedBalance = acc.LockedBalance.Add(m.amount)
	case models.EntryUnlock:
		if acc.LockedBalance.LessThan(m.amount) {
			return nil, false, l.invariantViolation(m, acc)
		}
		acc.LockedBalance = acc.LockedBalance.Sub(m.amount)
		acc.Balance = acc.Balance.Add(m.amount)
	case models.EntryTransfer:
		if acc.LockedBalance.LessThan(m.amount) {
			return nil, false, l.invariantViolation(m, acc)
		}
		acc.LockedBalance = acc.LockedBalance.Sub(m.amount)
		counter := locked[m.counterID]
		counter.Balance = counter.Balance.Add(m.amount)
	default:
		return nil, false, fmt.Errorf("unknown entry kind %q", m.kind)
	}

	for _, id := range ids {
		if !withinBounds(locked[id].Balance) || !withinBounds(locked[id].LockedBalance) {
			return nil, false, fmt.Errorf("%w: balance of account %s would exceed %s", ErrInvalidAmount, id, MaxAmount)
		}
	}

	for _, id := range ids {
		if err := tx.UpdateAccount(ctx, locked[id]); err != nil {
			return nil, false, err
		}
	}

	entry := &models.LedgerEntry{
		ID:           uuid.NewString(),
		AccountID:    acc.ID,
		Kind:         m.kind,
		Amount:       m.amount,
		FromLocked:   m.fromLocked,
		BalanceAfter: acc.Balance,
		LockedAfter:  acc.LockedBalance,
		Reference:    m.reference,
		CreatedAt:    time.Now().UTC(),
	}
	if m.counterID != "" {
		entry.CounterAccountID = m.counterID
		entry.CounterBalanceAfter = locked[m.counterID].Balance
	}

	if err := tx.InsertEntry(ctx, entry); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, false, fmt.Errorf("%w: %s %s", ErrReferenceConflict, m.kind, m.reference)
		}
		return nil, false, err
	}
	return entry, false, nil
}

func (l *LedgerService) invariantViolation(m mutation, acc *models.Account) error {
	l.metrics.InvariantViolations.WithLabelValues(string(m.kind)).Inc()
	log.Printf("[LEDGER] INVARIANT VIOLATION kind=%s account=%s balance=%s locked=%s amount=%s reference=%s",
		m.kind, acc.ID, acc.Balance, acc.LockedBalance, m.amount, m.reference)
	return fmt.Errorf("%w: %s of %s exceeds locked balance %s on account %s",
		ErrInvalidState, m.kind, m.amount, acc.LockedBalance, acc.ID)
}

func (l *LedgerService) observe(kind models.EntryKind, err error, start time.Time) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	l.metrics.LedgerOps.WithLabelValues(string(kind), result).Inc()
	l.metrics.LedgerLatency.WithLabelValues(string(kind)).Observe(time.Since(start).Seconds())
}

// Balances returns every account the user owns.
func (l *LedgerService) Balances(ctx context.Context, userID string) ([]models.Account, error) {
	return l.store.ListAccounts(ctx, userID)
}

func (l *LedgerService) Entries(ctx context.Context, filter models.EntryFilter) ([]models.LedgerEntry, error) {
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return l.store.ListEntries(ctx, filter)
}

// UserEntries returns the history of the user's accounts. Snapshots of a
// counterparty's account on the same entry are left out.
func (l *LedgerService) UserEntries(ctx context.Context, userID string, filter models.EntryFilter) ([]models.EntryView, error) {
	filter.UserID = userID
	entries, err := l.Entries(ctx, filter)
	if err != nil {
		return nil, err
	}
	accounts, err := l.store.ListAccounts(ctx, userID)
	if err != nil {
		return nil, err
	}

	owned := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		owned[a.ID] = true
	}
	views := make([]models.EntryView, 0, len(entries))
	for _, e := range entries {
		views = append(views, e.ViewFor(owned))
	}
	return views, nil
}

// Reconciliation compares an account's live balances with a replay of its entries.
type Reconciliation struct {
	AccountID       string          `json:"account_id"`
	Balance         decimal.Decimal `json:"balance"`
	LockedBalance   decimal.Decimal `json:"locked_balance"`
	ReplayedBalance decimal.Decimal `json:"replayed_balance"`
	ReplayedLocked  decimal.Decimal `json:"replayed_locked"`
	Entries         int             `json:"entries"`
	FirstMismatch   string          `json:"first_mismatch,omitempty"`
	Consistent      bool            `json:"consistent"`
}

// Reconcile replays the account history from zero and checks every balance
// snapshot along the way against the live row.
func (l *LedgerService) Reconcile(ctx context.Context, accountID string) (*Reconciliation, error) {
	acc, err := l.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	entries, err := l.store.AccountEntries(ctx, accountID)
	if err != nil {
		return nil, err
	}

	bal, locked := decimal.Zero, decimal.Zero
	r := &Reconciliation{AccountID: accountID, Balance: acc.Balance, LockedBalance: acc.LockedBalance, Entries: len(entries)}
	for _, e := range entries {
		ok := true
		if e.AccountID == accountID {
			switch e.Kind {
			case models.EntryCredit:
				bal = bal.Add(e.Amount)
			case models.EntryDebit:
				if e.FromLocked {
					locked = locked.Sub(e.Amount)
				} else {
					bal = bal.Sub(e.Amount)
				}
			case models.EntryLock:
				bal = bal.Sub(e.Amount)
				locked = locked.Add(e.Amount)
			case models.EntryUnlock:
				locked = locked.Sub(e.Amount)
				bal = bal.Add(e.Amount)
			case models.EntryTransfer:
				locked = locked.Sub(e.Amount)
			}
			ok = bal.Equal(e.BalanceAfter) && locked.Equal(e.LockedAfter)
		} else if e.CounterAccountID == accountID {
			bal = bal.Add(e.Amount)
			ok = bal.Equal(e.CounterBalanceAfter)
		}
		if (!ok || bal.IsNegative() || locked.IsNegative()) && r.FirstMismatch == "" {
			r.FirstMismatch = e.ID
		}
	}

	r.ReplayedBalance = bal
	r.ReplayedLocked = locked
	r.Consistent = r.FirstMismatch == "" && bal.Equal(acc.Balance) && locked.Equal(acc.LockedBalance)
	if !r.Consistent {
		log.Printf("[LEDGER] reconciliation mismatch account=%s live=%s/%s replayed=%s/%s first_mismatch=%s",
			accountID, acc.Balance, acc.LockedBalance, bal, locked, r.FirstMismatch)
	}
	return r, nil
}

// EntryEvents maps ledger entries onto audit events.
func EntryEvents(entries ...*models.LedgerEntry) []events.Event {
	out := make([]events.Event, 0, len(entries))
	for _, e := range entries {
		if e == nil {
			continue
		}
		out = append(out, events.New(entryEventType(e.Kind), e.Reference, e, e.AccountID))
	}
	return out
}

func entryEventType(kind models.EntryKind) string {
	switch kind {
	case models.EntryCredit:
		return events.LedgerCredit
	case models.EntryDebit:
		return events.LedgerDebit
	case models.EntryLock:
		return events.LedgerLock
	case models.EntryUnlock:
		return events.LedgerUnlock
	default:
		return events.LedgerTransfer
	}
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if !amount.Equal(amount.Truncate(MaxAmountScale)) {
		return fmt.Errorf("%w: more than %d decimal places", ErrInvalidAmount, MaxAmountScale)
	}
	if !withinBounds(amount) {
		return fmt.Errorf("%w: must be below %s", ErrInvalidAmount, MaxAmount)
	}
	return nil
}

func withinBounds(d decimal.Decimal) bool {
	return d.LessThan(MaxAmount)
}
