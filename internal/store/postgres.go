package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/stablep2p/backend/internal/models"
)

const (
	accountColumns    = `id, user_id, asset, network, account_type, balance, locked_balance, version, created_at, updated_at`
	entryColumns      = `id, account_id, counter_account_id, kind, amount, from_locked, balance_after, locked_after, counter_balance_after, reference, created_at`
	offerColumns      = `id, seller_id, asset, network, fiat_currency, unit_price, total_amount, available_amount, min_limit, max_limit, payment_methods, active, created_at, updated_at`
	tradeColumns      = `id, offer_id, buyer_id, seller_id, asset, network, seller_account_id, buyer_account_id, crypto_amount, fiat_amount, unit_price, fiat_currency, payment_method, status, outcome, created_at, updated_at, paid_at, completed_at, resolved_at`
	withdrawalColumns = `id, account_id, user_id, asset, network, address, amount, fee, code_hash, attempts, max_attempts, status, consumed, expires_at, created_at, updated_at, consumed_at`
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type rowScanner interface {
	Scan(dest ...any) error
}

// PostgresStore keeps all state in Postgres and serializes writers with
// SELECT ... FOR UPDATE row locks.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	return scanAccount(s.db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

func (s *PostgresStore) ListAccounts(ctx context.Context, userID string) ([]models.Account, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 ORDER BY asset, network, account_type`, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListEntries(ctx context.Context, filter models.EntryFilter) ([]models.LedgerEntry, error) {
	var (
		conds []string
		args  []any
	)
	if filter.AccountID != "" {
		args = append(args, filter.AccountID)
		conds = append(conds, fmt.Sprintf("(account_id = $%d OR counter_account_id = $%d)", len(args), len(args)))
	}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		conds = append(conds, fmt.Sprintf(
			"(account_id IN (SELECT id FROM accounts WHERE user_id = $%d) OR counter_account_id IN (SELECT id FROM accounts WHERE user_id = $%d))",
			len(args), len(args)))
	}
	if filter.Reference != "" {
		args = append(args, filter.Reference)
		conds = append(conds, fmt.Sprintf("reference = $%d", len(args)))
	}

	query := `SELECT ` + entryColumns + ` FROM ledger_entries`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	return queryEntries(ctx, s.db, query, args...)
}

func (s *PostgresStore) AccountEntries(ctx context.Context, accountID string) ([]models.LedgerEntry, error) {
	return queryEntries(ctx, s.db,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 OR counter_account_id = $1 ORDER BY seq`,
		accountID)
}

func (s *PostgresStore) GetOffer(ctx context.Context, id string) (*models.Offer, error) {
	return scanOffer(s.db.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1`, id))
}

func (s *PostgresStore) ListOffers(ctx context.Context, filter models.OfferFilter) ([]models.Offer, error) {
	var (
		conds []string
		args  []any
	)
	add := func(col, val string) {
		if val == "" {
			return
		}
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	add("asset", filter.Asset)
	add("network", filter.Network)
	add("fiat_currency", filter.FiatCurrency)
	add("seller_id", filter.SellerID)
	if filter.ActiveOnly {
		conds = append(conds, "active = TRUE")
	}

	query := `SELECT ` + offerColumns + ` FROM offers`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY unit_price, created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list offers: %w", err)
	}
	defer rows.Close()

	var out []models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetTrade(ctx context.Context, id string) (*models.Trade, error) {
	return scanTrade(s.db.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1`, id))
}

func (s *PostgresStore) ListTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+tradeColumns+` FROM trades WHERE buyer_id = $1 OR seller_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTradeEvents(ctx context.Context, tradeID string) ([]models.TradeEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trade_id, from_status, to_status, actor_id, created_at
		FROM trade_events
		WHERE trade_id = $1
		ORDER BY seq`, tradeID)
	if err != nil {
		return nil, fmt.Errorf("list trade events: %w", err)
	}
	defer rows.Close()

	var out []models.TradeEvent
	for rows.Next() {
		var ev models.TradeEvent
		if err := rows.Scan(&ev.ID, &ev.TradeID, &ev.FromStatus, &ev.ToStatus, &ev.ActorID, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	return scanWithdrawal(s.db.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1`, id))
}

func (s *PostgresStore) ExpiredWithdrawals(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM withdrawal_requests
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at
		LIMIT $3`, string(models.WithdrawalPending), now, limit)
	if err != nil {
		return nil, fmt.Errorf("list expired withdrawals: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type pgTx struct {
	q querier
}

func (t *pgTx) EnsureAccount(ctx context.Context, key models.AccountKey) (string, error) {
	now := time.Now().UTC()
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO accounts (id, user_id, asset, network, account_type, balance, locked_balance, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, 0, 0, $6, $6)
		ON CONFLICT (user_id, asset, network, account_type) DO NOTHING`,
		uuid.NewString(), key.UserID, key.Asset, key.Network, string(key.Type), now)
	if err != nil {
		return "", fmt.Errorf("ensure account: %w", err)
	}

	var id string
	err = t.q.QueryRowContext(ctx, `
		SELECT id FROM accounts
		WHERE user_id = $1 AND asset = $2 AND network = $3 AND account_type = $4`,
		key.UserID, key.Asset, key.Network, string(key.Type)).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("resolve account: %w", err)
	}
	return id, nil
}

func (t *pgTx) LockAccount(ctx context.Context, id string) (*models.Account, error) {
	return scanAccount(t.q.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateAccount(ctx context.Context, account *models.Account) error {
	now := time.Now().UTC()
	result, err := t.q.ExecContext(ctx, `
		UPDATE accounts
		SET balance = $1, locked_balance = $2, version = version + 1, updated_at = $3
		WHERE id = $4 AND version = $5`,
		account.Balance.String(), account.LockedBalance.String(), now, account.ID, account.Version)
	if err != nil {
		return fmt.Errorf("update account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: account %s", ErrVersionConflict, account.ID)
	}

	account.Version++
	account.UpdatedAt = now
	return nil
}

func (t *pgTx) FindEntry(ctx context.Context, accountID, reference string, kind models.EntryKind) (*models.LedgerEntry, error) {
	return scanEntry(t.q.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM ledger_entries WHERE account_id = $1 AND reference = $2 AND kind = $3`,
		accountID, reference, string(kind)))
}

func (t *pgTx) InsertEntry(ctx context.Context, e *models.LedgerEntry) error {
	var counterBalance any
	if e.CounterAccountID != "" {
		counterBalance = e.CounterBalanceAfter.String()
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.AccountID, nullString(e.CounterAccountID), string(e.Kind), e.Amount.String(), e.FromLocked,
		e.BalanceAfter.String(), e.LockedAfter.String(), counterBalance, e.Reference, e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: ledger entry %s/%s", ErrDuplicate, e.Reference, e.Kind)
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (t *pgTx) InsertOffer(ctx context.Context, o *models.Offer) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO offers (`+offerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		o.ID, o.SellerID, o.Asset, o.Network, o.FiatCurrency, o.UnitPrice.String(), o.TotalAmount.String(),
		o.AvailableAmount.String(), o.MinLimit.String(), o.MaxLimit.String(), pq.Array(o.PaymentMethods),
		o.Active, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert offer: %w", err)
	}
	return nil
}

func (t *pgTx) LockOffer(ctx context.Context, id string) (*models.Offer, error) {
	return scanOffer(t.q.QueryRowContext(ctx, `SELECT `+offerColumns+` FROM offers WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateOffer(ctx context.Context, o *models.Offer) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE offers
		SET unit_price = $1, total_amount = $2, available_amount = $3, min_limit = $4, max_limit = $5,
			payment_methods = $6, active = $7, updated_at = $8
		WHERE id = $9`,
		o.UnitPrice.String(), o.TotalAmount.String(), o.AvailableAmount.String(), o.MinLimit.String(),
		o.MaxLimit.String(), pq.Array(o.PaymentMethods), o.Active, o.UpdatedAt, o.ID)
	return checkAffected(result, err, "offer", o.ID)
}

func (t *pgTx) InsertTrade(ctx context.Context, tr *models.Trade) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO trades (`+tradeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		tr.ID, tr.OfferID, tr.BuyerID, tr.SellerID, tr.Asset, tr.Network, tr.SellerAccountID, tr.BuyerAccountID,
		tr.CryptoAmount.String(), tr.FiatAmount.String(), tr.UnitPrice.String(), tr.FiatCurrency, tr.PaymentMethod,
		string(tr.Status), nullString(string(tr.Outcome)), tr.CreatedAt, tr.UpdatedAt,
		tr.PaidAt, tr.CompletedAt, tr.ResolvedAt)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

func (t *pgTx) LockTrade(ctx context.Context, id string) (*models.Trade, error) {
	return scanTrade(t.q.QueryRowContext(ctx, `SELECT `+tradeColumns+` FROM trades WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateTrade(ctx context.Context, tr *models.Trade) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE trades
		SET status = $1, outcome = $2, updated_at = $3, paid_at = $4, completed_at = $5, resolved_at = $6
		WHERE id = $7`,
		string(tr.Status), nullString(string(tr.Outcome)), tr.UpdatedAt, tr.PaidAt, tr.CompletedAt, tr.ResolvedAt, tr.ID)
	return checkAffected(result, err, "trade", tr.ID)
}

func (t *pgTx) AppendTradeEvent(ctx context.Context, ev *models.TradeEvent) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO trade_events (id, trade_id, from_status, to_status, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.TradeID, string(ev.FromStatus), string(ev.ToStatus), ev.ActorID, ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("append trade event: %w", err)
	}
	return nil
}

func (t *pgTx) InsertWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO withdrawal_requests (`+withdrawalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		w.ID, w.AccountID, w.UserID, w.Asset, w.Network, w.Address, w.Amount.String(), w.Fee.String(),
		w.CodeHash, w.Attempts, w.MaxAttempts, string(w.Status), w.Consumed, w.ExpiresAt,
		w.CreatedAt, w.UpdatedAt, w.ConsumedAt)
	if err != nil {
		return fmt.Errorf("insert withdrawal: %w", err)
	}
	return nil
}

func (t *pgTx) LockWithdrawal(ctx context.Context, id string) (*models.WithdrawalRequest, error) {
	return scanWithdrawal(t.q.QueryRowContext(ctx,
		`SELECT `+withdrawalColumns+` FROM withdrawal_requests WHERE id = $1 FOR UPDATE`, id))
}

func (t *pgTx) UpdateWithdrawal(ctx context.Context, w *models.WithdrawalRequest) error {
	result, err := t.q.ExecContext(ctx, `
		UPDATE withdrawal_requests
		SET attempts = $1, status = $2, consumed = $3, updated_at = $4, consumed_at = $5
		WHERE id = $6`,
		w.Attempts, string(w.Status), w.Consumed, w.UpdatedAt, w.ConsumedAt, w.ID)
	return checkAffected(result, err, "withdrawal", w.ID)
}

func scanAccount(r rowScanner) (*models.Account, error) {
	var a models.Account
	err := r.Scan(&a.ID, &a.UserID, &a.Asset, &a.Network, &a.Type, &a.Balance, &a.LockedBalance,
		&a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "account")
	}
	return &a, nil
}

func scanEntry(r rowScanner) (*models.LedgerEntry, error) {
	var (
		e              models.LedgerEntry
		counter        sql.NullString
		counterBalance decimal.NullDecimal
	)
	err := r.Scan(&e.ID, &e.AccountID, &counter, &e.Kind, &e.Amount, &e.FromLocked, &e.BalanceAfter,
		&e.LockedAfter, &counterBalance, &e.Reference, &e.CreatedAt)
	if err != nil {
		return nil, notFound(err, "ledger entry")
	}
	e.CounterAccountID = counter.String
	if counterBalance.Valid {
		e.CounterBalanceAfter = counterBalance.Decimal
	}
	return &e, nil
}

func queryEntries(ctx context.Context, q querier, query string, args ...any) ([]models.LedgerEntry, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var out []models.LedgerEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanOffer(r rowScanner) (*models.Offer, error) {
	var o models.Offer
	err := r.Scan(&o.ID, &o.SellerID, &o.Asset, &o.Network, &o.FiatCurrency, &o.UnitPrice, &o.TotalAmount,
		&o.AvailableAmount, &o.MinLimit, &o.MaxLimit, pq.Array(&o.PaymentMethods), &o.Active,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "offer")
	}
	return &o, nil
}

func scanTrade(r rowScanner) (*models.Trade, error) {
	var (
		t       models.Trade
		outcome sql.NullString
	)
	err := r.Scan(&t.ID, &t.OfferID, &t.BuyerID, &t.SellerID, &t.Asset, &t.Network, &t.SellerAccountID,
		&t.BuyerAccountID, &t.CryptoAmount, &t.FiatAmount, &t.UnitPrice, &t.FiatCurrency, &t.PaymentMethod,
		&t.Status, &outcome, &t.CreatedAt, &t.UpdatedAt, &t.PaidAt, &t.CompletedAt, &t.ResolvedAt)
	if err != nil {
		return nil, notFound(err, "trade")
	}
	t.Outcome = models.DisputeOutcome(outcome.String)
	return &t, nil
}

func scanWithdrawal(r rowScanner) (*models.WithdrawalRequest, error) {
	var w models.WithdrawalRequest
	err := r.Scan(&w.ID, &w.AccountID, &w.UserID, &w.Asset, &w.Network, &w.Address, &w.Amount, &w.Fee,
		&w.CodeHash, &w.Attempts, &w.MaxAttempts, &w.Status, &w.Consumed, &w.ExpiresAt,
		&w.CreatedAt, &w.UpdatedAt, &w.ConsumedAt)
	if err != nil {
		return nil, notFound(err, "withdrawal")
	}
	return &w, nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("scan %s: %w", what, err)
}

func checkAffected(result sql.Result, err error, what, id string) error {
	if err != nil {
		return fmt.Errorf("update %s: %w", what, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, what, id)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
