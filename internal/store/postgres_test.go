package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablep2p/backend/internal/models"
)

var accountRowColumns = []string{"id", "user_id", "asset", "network", "account_type", "balance", "locked_balance", "version", "created_at", "updated_at"}

func TestPostgresStore_WithTx(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	ctx := context.Background()

	t.Run("ensure and lock account", func(t *testing.T) {
		now := time.Now()
		key := models.FundingKey("user-1", "USDT", "TRC20")

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO accounts (.+) ON CONFLICT \\(user_id, asset, network, account_type\\) DO NOTHING").
			WithArgs(sqlmock.AnyArg(), "user-1", "USDT", "TRC20", "FUNDING", sqlmock.AnyArg()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT id FROM accounts WHERE user_id = \\$1 AND asset = \\$2 AND network = \\$3 AND account_type = \\$4").
			WithArgs("user-1", "USDT", "TRC20", "FUNDING").
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("acc-1"))
		mock.ExpectQuery("SELECT (.+) FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs("acc-1").
			WillReturnRows(sqlmock.NewRows(accountRowColumns).
				AddRow("acc-1", "user-1", "USDT", "TRC20", "FUNDING", "1000", "0", 3, now, now))
		mock.ExpectCommit()

		var locked *models.Account
		err := s.WithTx(ctx, func(tx Tx) error {
			id, err := tx.EnsureAccount(ctx, key)
			if err != nil {
				return err
			}
			locked, err = tx.LockAccount(ctx, id)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, "acc-1", locked.ID)
		assert.Equal(t, models.AccountFunding, locked.Type)
		assert.True(t, locked.Balance.Equal(decimal.NewFromInt(1000)))
		assert.Equal(t, int64(3), locked.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error inside unit rolls back", func(t *testing.T) {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT (.+) FROM accounts WHERE id = \\$1 FOR UPDATE").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(accountRowColumns))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(tx Tx) error {
			_, err := tx.LockAccount(ctx, "missing")
			return err
		})
		assert.True(t, errors.Is(err, ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("optimistic version check", func(t *testing.T) {
		account := &models.Account{
			ID:            "acc-1",
			Balance:       decimal.NewFromInt(950),
			LockedBalance: decimal.NewFromInt(50),
			Version:       3,
		}

		mock.ExpectBegin()
		mock.ExpectExec("UPDATE accounts SET balance = \\$1, locked_balance = \\$2, version = version \\+ 1, updated_at = \\$3 WHERE id = \\$4 AND version = \\$5").
			WithArgs("950", "50", sqlmock.AnyArg(), "acc-1", 3).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(tx Tx) error {
			return tx.UpdateAccount(ctx, account)
		})
		assert.True(t, errors.Is(err, ErrVersionConflict))
		assert.Equal(t, int64(3), account.Version)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation on entry maps to duplicate", func(t *testing.T) {
		entry := &models.LedgerEntry{
			ID:           "entry-1",
			AccountID:    "acc-1",
			Kind:         models.EntryLock,
			Amount:       decimal.NewFromInt(50),
			BalanceAfter: decimal.NewFromInt(950),
			LockedAfter:  decimal.NewFromInt(50),
			Reference:    "trade-1",
			CreatedAt:    time.Now(),
		}

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO ledger_entries").
			WithArgs("entry-1", "acc-1", sqlmock.AnyArg(), "LOCK", "50", false, "950", "50", nil, "trade-1", sqlmock.AnyArg()).
			WillReturnError(&pq.Error{Code: "23505"})
		mock.ExpectRollback()

		err := s.WithTx(ctx, func(tx Tx) error {
			return tx.InsertEntry(ctx, entry)
		})
		assert.True(t, errors.Is(err, ErrDuplicate))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresStore_Reads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := NewPostgresStore(db)
	ctx := context.Background()

	t.Run("expired withdrawals", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT id FROM withdrawal_requests WHERE status = \\$1 AND expires_at <= \\$2").
			WithArgs("PENDING", now, 100).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("wd-1").AddRow("wd-2"))

		ids, err := s.ExpiredWithdrawals(ctx, now, 100)
		require.NoError(t, err)
		assert.Equal(t, []string{"wd-1", "wd-2"}, ids)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("offer with payment methods", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM offers WHERE id = \\$1").
			WithArgs("offer-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "seller_id", "asset", "network", "fiat_currency", "unit_price",
				"total_amount", "available_amount", "min_limit", "max_limit", "payment_methods", "active", "created_at", "updated_at"}).
				AddRow("offer-1", "seller-1", "USDT", "TRC20", "EUR", "5.50", "1000", "900", "10", "500", "{SEPA,REVOLUT}", true, now, now))

		offer, err := s.GetOffer(ctx, "offer-1")
		require.NoError(t, err)
		assert.Equal(t, []string{"SEPA", "REVOLUT"}, offer.PaymentMethods)
		assert.True(t, offer.UnitPrice.Equal(decimal.RequireFromString("5.5")))
		assert.True(t, offer.AvailableAmount.Equal(decimal.NewFromInt(900)))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("entries filtered by user", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery("SELECT (.+) FROM ledger_entries WHERE \\(account_id IN \\(SELECT id FROM accounts WHERE user_id = \\$1\\)(.+) ORDER BY seq DESC LIMIT \\$2").
			WithArgs("user-1", 20).
			WillReturnRows(sqlmock.NewRows([]string{"id", "account_id", "counter_account_id", "kind", "amount", "from_locked",
				"balance_after", "locked_after", "counter_balance_after", "reference", "created_at"}).
				AddRow("e-2", "acc-s", "acc-b", "TRANSFER", "50", false, "950", "0", "50", "trade-1", now).
				AddRow("e-1", "acc-s", nil, "LOCK", "50", false, "950", "50", nil, "trade-1", now))

		entries, err := s.ListEntries(ctx, models.EntryFilter{UserID: "user-1", Limit: 20})
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, "acc-b", entries[0].CounterAccountID)
		assert.True(t, entries[0].CounterBalanceAfter.Equal(decimal.NewFromInt(50)))
		assert.Equal(t, "", entries[1].CounterAccountID)
		assert.Equal(t, models.EntryLock, entries[1].Kind)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
