package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stablep2p/backend/internal/models"
)

type entryKey struct {
	accountID string
	reference string
	kind      models.EntryKind
}

type memState struct {
	accounts    map[string]models.Account
	accountKeys map[models.AccountKey]string
	entries     []models.LedgerEntry
	entryIndex  map[entryKey]int
	offers      map[string]models.Offer
	trades      map[string]models.Trade
	tradeEvents map[string][]models.TradeEvent
	withdrawals map[string]models.WithdrawalRequest
}

func newMemState() *memState {
	return &memState{
		accounts:    make(map[string]models.Account),
		accountKeys: make(map[models.AccountKey]string),
		entryIndex:  make(map[entryKey]int),
		offers:      make(map[string]models.Offer),
		trades:      make(map[string]models.Trade),
		tradeEvents: make(map[string][]models.TradeEvent),
		withdrawals: make(map[string]models.WithdrawalRequest),
	}
}

func (s *memState) clone() *memState {
	c := &memState{
		accounts:    make(map[string]models.Account, len(s.accounts)),
		accountKeys: make(map[models.AccountKey]string, len(s.accountKeys)),
		entries:     s.entries[:len(s.entries):len(s.entries)],
		entryIndex:  make(map[entryKey]int, len(s.entryIndex)),
		offers:      make(map[string]models.Offer, len(s.offers)),
		trades:      make(map[string]models.Trade, len(s.trades)),
		tradeEvents: make(map[string][]models.TradeEvent, len(s.tradeEvents)),
		withdrawals: make(map[string]models.WithdrawalRequest, len(s.withdrawals)),
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.accountKeys {
		c.accountKeys[k] = v
	}
	for k, v := range s.entryIndex {
		c.entryIndex[k] = v
	}
	for k, v := range s.offers {
		c.offers[k] = v
	}
	for k, v := range s.trades {
		c.trades[k] = v
	}
	for k, v := range s.tradeEvents {
		c.tradeEvents[k] = v[:len(v):len(v)]
	}
	for k, v := range s.withdrawals {
		c.withdrawals[k] = v
	}
	return c
}

// MemoryStore is an in-process Store. Writers are serialized by a single
// lock; each unit works on a copy of the state that replaces the committed
// state only when the unit succeeds.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		state: newMemState(),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&memTx{state: work, now: s.now}); err != nil {
		return err
	}
	s.state = work
	return nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.state.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account", ErrNotFound)
	}
	return &a, nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Account
	for _, a := range s.state.accounts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Asset != out[j].Asset {
			return out[i].Asset < out[j].Asset
		}
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Type < out[j].Type
	})
	return out, nil
}

func (s *MemoryStore) ListEntries(ctx context.Context, filter models.EntryFilter) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := func(accountID string) bool {
		if accountID == "" {
			return false
		}
		return s.state.accounts[accountID].UserID == filter.UserID
	}

	var out []models.LedgerEntry
	for i := len(s.state.entries) - 1; i >= 0; i-- {
		e := s.state.entries[i]
		if filter.AccountID != "" && e.AccountID != filter.AccountID && e.CounterAccountID != filter.AccountID {
			continue
		}
		if filter.UserID != "" && !owned(e.AccountID) && !owned(e.CounterAccountID) {
			continue
		}
		if filter.Reference != "" && e.Reference != filter.Reference {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStore) AccountEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.LedgerEntry
	for _, e := range s.state.entries {
		if e.AccountID == accountID || e.CounterAccountID == accountID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *MemoryStore) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.state.offers[id]
	if !ok {
		return nil, fmt.Errorf("%w: offer", ErrNotFound)
	}
	o.PaymentMethods = append([]string(nil), o.PaymentMethods...)
	return &o, nil
}

func (s *MemoryStore) ListOffers(ctx context.Context, filter models.OfferFilter) ([]models.Offer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Offer
	for _, o := range s.state.offers {
		if filter.Asset != "" && o.Asset != filter.Asset {
			continue
		}
		if filter.Network != "" && o.Network != filter.Network {
			continue
		}
		if filter.FiatCurrency != "" && o.FiatCurrency != filter.FiatCurrency {
			continue
		}
		if filter.SellerID != "" && o.SellerID != filter.SellerID {
			continue
		}
		if filter.ActiveOnly && !o.Active {
			continue
		}
		o.PaymentMethods = append([]string(nil), o.PaymentMethods...)
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UnitPrice.Equal(out[j].UnitPrice) {
			return out[i].UnitPrice.LessThan(out[j].UnitPrice)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.state.trades[id]
	if !ok {
		return nil, fmt.Errorf("%w: trade", ErrNotFound)
	}
	return &t, nil
}

func (s *MemoryStore) ListTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Trade
	for _, t := range s.state.trades {
		if t.BuyerID == userID || t.SellerID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) ListTradeEvents(ctx context.Context, tradeID string) ([]models.TradeEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]models.TradeEvent(nil), s.state.tradeEvents[tradeID]...), nil
}

func (s *MemoryStore) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.state.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("%w: withdrawal", ErrNotFound)
	}
	return &w, nil
}

func (s *MemoryStore) ExpiredWithdrawals(ctx context.Context, now time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []models.WithdrawalRequest
	for _, w := range s.state.withdrawals {
		if w.Status == models.WithdrawalPending && w.ExpiredAt(now) {
			pending = append(pending, w)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ExpiresAt.Before(pending[j].ExpiresAt) })

	var ids []string
	for _, w := range pending {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, w.ID)
	}
	return ids, nil
}

type memTx struct {
	state *memState
	now   func() time.Time
}

func (t *memTx) EnsureAccount(ctx context.Context, key models.AccountKey) (string, error) {
	if id, ok := t.state.accountKeys[key]; ok {
		return id, nil
	}
	now := t.now()
	a := models.Account{
		ID:        uuid.NewString(),
		UserID:    key.UserID,
		Asset:     key.Asset,
		Network:   key.Network,
		Type:      key.Type,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.state.accounts[a.ID] = a
	t.state.accountKeys[key] = a.ID
	return a.ID, nil
}

func (t *memTx) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	a, ok := t.state.accounts[id]
	if !ok {
		return nil, fmt.Errorf("%w: account", ErrNotFound)
	}
	return &a, nil
}

func (t *memTx) UpdateAccount(ctx context.Context, account *models.Account) error {
	current, ok := t.state.accounts[account.ID]
	if !ok {
		return fmt.Errorf("%w: account %s", ErrNotFound, account.ID)
	}
	if current.Version != account.Version {
		return fmt.Errorf("%w: account %s", ErrVersionConflict, account.ID)
	}
	if account.Balance.IsNegative() || account.LockedBalance.IsNegative() {
		return fmt.Errorf("negative balance on account %s", account.ID)
	}
	account.Version++
	account.UpdatedAt = t.now()
	t.state.accounts[account.ID] = *account
	return nil
}

func (t *memTx) FindEntry(ctx context.Context, accountID, reference string, kind models.EntryKind) (*models.LedgerEntry, error) {
	i, ok := t.state.entryIndex[entryKey{accountID: accountID, reference: reference, kind: kind}]
	if !ok {
		return nil, fmt.Errorf("%w: ledger entry", ErrNotFound)
	}
	e := t.state.entries[i]
	return &e, nil
}

func (t *memTx) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	key := entryKey{accountID: e.AccountID, reference: e.Reference, kind: e.Kind}
	if _, ok := t.state.entryIndex[key]; ok {
		return fmt.Errorf("%w: ledger entry %s/%s", ErrDuplicate, e.Reference, e.Kind)
	}
	t.state.entries = append(t.state.entries, *e)
	t.state.entryIndex[key] = len(t.state.entries) - 1
	return nil
}

func (t *memTx) InsertOffer(ctx context.Context, o *models.Offer) error {
	if _, ok := t.state.offers[o.ID]; ok {
		return fmt.Errorf("%w: offer %s", ErrDuplicate, o.ID)
	}
	t.putOffer(o)
	return nil
}

func (t *memTx) LockOffer(ctx context.Context, id string) (*models.Offer, error) {
	o, ok := t.state.offers[id]
	if !ok {
		return nil, fmt.Errorf("%w: offer", ErrNotFound)
	}
	o.PaymentMethods = append([]string(nil), o.PaymentMethods...)
	return &o, nil
}

func (t *memTx) UpdateOffer(ctx context.Context, o *models.Offer) error {
	if _, ok := t.state.offers[o.ID]; !ok {
		return fmt.Errorf("%w: offer %s", ErrNotFound, o.ID)
	}
	t.putOffer(o)
	return nil
}

func (t *memTx) putOffer(o *models.Offer) {
	stored := *o
	stored.PaymentMethods = append([]string(nil), o.PaymentMethods...)
	t.state.offers[o.ID] = stored
}

func (t *memTx) InsertTrade(ctx context.Context, tr *models.Trade) error {
	if _, ok := t.state.trades[tr.ID]; ok {
		return fmt.Errorf("%w: trade %s", ErrDuplicate, tr.ID)
	}
	t.state.trades[tr.ID] = *tr
	return nil
}

func (t *memTx) LockTrade(ctx context.Context, id string) (*models.Trade, error) {
	tr, ok := t.state.trades[id]
	if !ok {
		return nil, fmt.Errorf("%w: trade", ErrNotFound)
	}
	return &tr, nil
}

func (t *memTx) UpdateTrade(ctx context.Context, tr *models.Trade) error {
	if _, ok := t.state.trades[tr.ID]; !ok {
		return fmt.Errorf("%w: trade %s", ErrNotFound, tr.ID)
	}
	t.state.trades[tr.ID] = *tr
	return nil
}

func (t *memTx) AppendTradeEvent(ctx context.Context, ev *models.TradeEvent) error {
	t.state.tradeEvents[ev.TradeID] = append(t.state.tradeEvents[ev.TradeID], *ev)
	return nil
}

func (t *memTx) InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	if _, ok := t.state.withdrawals[w.ID]; ok {
		return fmt.Errorf("%w: withdrawal %s", ErrDuplicate, w.ID)
	}
	t.state.withdrawals[w.ID] = *w
	return nil
}

func (t *memTx) LockWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	w, ok := t.state.withdrawals[id]
	if !ok {
		return nil, fmt.Errorf("%w: withdrawal", ErrNotFound)
	}
	return &w, nil
}

func (t *memTx) UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	if _, ok := t.state.withdrawals[w.ID]; !ok {
		return fmt.Errorf("%w: withdrawal %s", ErrNotFound, w.ID)
	}
	t.state.withdrawals[w.ID] = *w
	return nil
}
