package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablep2p/backend/internal/events"
	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/store"
)

type tradeFixture struct {
	store   *store.MemoryStore
	ledger  *LedgerService
	offers  *OfferService
	trades  *TradeService
	events  *events.Recorder
	metrics *Metrics
	offer   *models.Offer
	seller  models.AccountKey
	buyer   models.AccountKey
}

func newTradeFixture(t *testing.T, sellerFunds string) *tradeFixture {
	t.Helper()
	ledger, st, rec, metrics := newTestLedger(t)
	f := &tradeFixture{
		store:   st,
		ledger:  ledger,
		offers:  NewOfferService(st),
		trades:  NewTradeService(st, ledger, rec, metrics),
		events:  rec,
		metrics: metrics,
		seller:  models.FundingKey("seller", "USDT", "TRC20"),
		buyer:   models.FundingKey("buyer", "USDT", "TRC20"),
	}

	ctx := context.Background()
	if sellerFunds != "" {
		_, err := ledger.Credit(ctx, f.seller, dec(sellerFunds), "deposit-seller")
		require.NoError(t, err)
	}

	offer, err := f.offers.CreateOffer(ctx, CreateOfferRequest{
		SellerID:       "seller",
		Asset:          "usdt",
		Network:        "trc20",
		FiatCurrency:   "eur",
		UnitPrice:      dec("5.50"),
		TotalAmount:    dec("1000"),
		MinLimit:       dec("10"),
		MaxLimit:       dec("500"),
		PaymentMethods: []string{"sepa"},
	})
	require.NoError(t, err)
	f.offer = offer
	return f
}

func (f *tradeFixture) open(t *testing.T, amount string) *models.Trade {
	t.Helper()
	tr, err := f.trades.CreateTrade(context.Background(), CreateTradeRequest{
		OfferID: f.offer.ID,
		BuyerID: "buyer",
		Amount:  dec(amount),
	})
	require.NoError(t, err)
	return tr
}

func (f *tradeFixture) balances(t *testing.T, key models.AccountKey) (string, string) {
	t.Helper()
	acc := accountOf(t, f.store, key)
	return acc.Balance.String(), acc.LockedBalance.String()
}

func (f *tradeFixture) available(t *testing.T) string {
	t.Helper()
	o, err := f.offers.GetOffer(context.Background(), f.offer.ID)
	require.NoError(t, err)
	return o.AvailableAmount.String()
}

func TestTradeService_HappyPath(t *testing.T) {
	f := newTradeFixture(t, "1000")
	ctx := context.Background()

	tr := f.open(t, "100")
	assert.Equal(t, models.TradeWaitingPayment, tr.Status)
	assert.Equal(t, "550", tr.FiatAmount.String())
	assert.Equal(t, "SEPA", tr.PaymentMethod)
	assert.Equal(t, "900", f.available(t))

	bal, locked := f.balances(t, f.seller)
	assert.Equal(t, "900", bal)
	assert.Equal(t, "100", locked)

	_, err := f.trades.MarkPaid(ctx, tr.ID, "seller")
	assert.True(t, errors.Is(err, ErrForbidden))

	tr, err = f.trades.MarkPaid(ctx, tr.ID, "buyer")
	require.NoError(t, err)
	assert.Equal(t, models.TradePaid, tr.Status)
	assert.NotNil(t, tr.PaidAt)

	_, err = f.trades.ReleaseTrade(ctx, tr.ID, "buyer")
	assert.True(t, errors.Is(err, ErrForbidden))

	tr, err = f.trades.ReleaseTrade(ctx, tr.ID, "seller")
	require.NoError(t, err)
	assert.Equal(t, models.TradeCompleted, tr.Status)

	bal, locked = f.balances(t, f.seller)
	assert.Equal(t, "900", bal)
	assert.Equal(t, "0", locked)
	bal, _ = f.balances(t, f.buyer)
	assert.Equal(t, "100", bal)

	history, err := f.trades.History(ctx, tr.ID, "buyer")
	require.NoError(t, err)
	var statuses []models.TradeStatus
	for _, h := range history {
		statuses = append(statuses, h.ToStatus)
	}
	assert.Equal(t, []models.TradeStatus{models.TradeCreated, models.TradeWaitingPayment, models.TradePaid, models.TradeCompleted}, statuses)

	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.TradeTransitions.WithLabelValues("PAID", "COMPLETED")))
	assert.Contains(t, f.events.Types(), events.LedgerTransfer)
	assert.Contains(t, f.events.Types(), events.TradeStatusChanged)
}

func TestTradeService_DisputeBuyerWins(t *testing.T) {
	f := newTradeFixture(t, "1000")
	ctx := context.Background()

	tr := f.open(t, "50")
	bal, locked := f.balances(t, f.seller)
	assert.Equal(t, "950", bal)
	assert.Equal(t, "50", locked)

	_, err := f.trades.MarkPaid(ctx, tr.ID, "buyer")
	require.NoError(t, err)
	_, err = f.trades.OpenDispute(ctx, tr.ID, "buyer")
	require.NoError(t, err)

	_, err = f.trades.ResolveDispute(ctx, tr.ID, "BOTH_WIN", "arbiter")
	assert.True(t, errors.Is(err, ErrInvalidOutcome))

	tr, err = f.trades.ResolveDispute(ctx, tr.ID, models.BuyerWins, "arbiter")
	require.NoError(t, err)
	assert.Equal(t, models.TradeResolved, tr.Status)
	assert.Equal(t, models.BuyerWins, tr.Outcome)

	bal, locked = f.balances(t, f.seller)
	assert.Equal(t, "950", bal)
	assert.Equal(t, "0", locked)
	bal, _ = f.balances(t, f.buyer)
	assert.Equal(t, "50", bal)

	_, err = f.trades.ResolveDispute(ctx, tr.ID, models.SellerWins, "arbiter")
	assert.True(t, errors.Is(err, ErrAlreadyResolved))
}

func TestTradeService_DisputeSellerWins(t *testing.T) {
	f := newTradeFixture(t, "1000")
	ctx := context.Background()

	tr := f.open(t, "50")
	_, err := f.trades.OpenDispute(ctx, tr.ID, "seller")
	require.NoError(t, err)

	tr, err = f.trades.ResolveDispute(ctx, tr.ID, models.SellerWins, "arbiter")
	require.NoError(t, err)
	assert.Equal(t, models.SellerWins, tr.Outcome)

	bal, locked := f.balances(t, f.seller)
	assert.Equal(t, "1000", bal)
	assert.Equal(t, "0", locked)
	assert.Equal(t, "1000", f.available(t))
}

func TestTradeService_Cancel(t *testing.T) {
	f := newTradeFixture(t, "1000")
	ctx := context.Background()

	t.Run("before payment returns the escrow", func(t *testing.T) {
		tr := f.open(t, "200")

		_, err := f.trades.CancelTrade(ctx, tr.ID, "stranger")
		assert.True(t, errors.Is(err, ErrForbidden))

		tr, err = f.trades.CancelTrade(ctx, tr.ID, "buyer")
		require.NoError(t, err)
		assert.Equal(t, models.TradeCancelled, tr.Status)

		bal, locked := f.balances(t, f.seller)
		assert.Equal(t, "1000", bal)
		assert.Equal(t, "0", locked)
		assert.Equal(t, "1000", f.available(t))
	})

	t.Run("after payment is rejected", func(t *testing.T) {
		tr := f.open(t, "100")
		_, err := f.trades.MarkPaid(ctx, tr.ID, "buyer")
		require.NoError(t, err)

		_, err = f.trades.CancelTrade(ctx, tr.ID, "seller")
		assert.True(t, errors.Is(err, ErrInvalidTransition))

		got, err := f.trades.GetTrade(ctx, tr.ID, "seller")
		require.NoError(t, err)
		assert.Equal(t, models.TradePaid, got.Status)

		_, locked := f.balances(t, f.seller)
		assert.Equal(t, "100", locked)
	})
}

func TestTradeService_CreateTradeFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("seller cannot cover the amount", func(t *testing.T) {
		f := newTradeFixture(t, "30")
		_, err := f.trades.CreateTrade(ctx, CreateTradeRequest{OfferID: f.offer.ID, BuyerID: "buyer", Amount: dec("50")})
		assert.True(t, errors.Is(err, ErrInsufficientSellerFunds))

		trades, err := f.trades.ListTrades(ctx, "buyer")
		require.NoError(t, err)
		assert.Empty(t, trades)
		assert.Equal(t, "1000", f.available(t))

		bal, locked := f.balances(t, f.seller)
		assert.Equal(t, "30", bal)
		assert.Equal(t, "0", locked)
	})

	f := newTradeFixture(t, "1000")
	cases := []struct {
		name string
		req  CreateTradeRequest
		want error
	}{
		{"below minimum", CreateTradeRequest{OfferID: f.offer.ID, BuyerID: "buyer", Amount: dec("5")}, ErrInsufficientOfferLimit},
		{"above maximum", CreateTradeRequest{OfferID: f.offer.ID, BuyerID: "buyer", Amount: dec("501")}, ErrInsufficientOfferLimit},
		{"own offer", CreateTradeRequest{OfferID: f.offer.ID, BuyerID: "seller", Amount: dec("50")}, ErrSelfTrade},
		{"payment method", CreateTradeRequest{OfferID: f.offer.ID, BuyerID: "buyer", Amount: dec("50"), PaymentMethod: "paypal"}, ErrPaymentMethod},
		{"zero amount", CreateTradeRequest{OfferID: f.offer.ID, BuyerID: "buyer", Amount: dec("0")}, ErrInvalidAmount},
		{"unknown offer", CreateTradeRequest{OfferID: "missing", BuyerID: "buyer", Amount: dec("50")}, ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.trades.CreateTrade(ctx, tc.req)
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	t.Run("inactive offer", func(t *testing.T) {
		_, err := f.offers.SetOfferActive(ctx, f.offer.ID, "seller", false)
		require.NoError(t, err)
		_, err = f.trades.CreateTrade(ctx, CreateTradeRequest{OfferID: f.offer.ID, BuyerID: "buyer", Amount: dec("50")})
		assert.True(t, errors.Is(err, ErrOfferInactive))
	})

	trades, err := f.trades.ListTrades(ctx, "buyer")
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestTradeService_OfferAvailabilityIsShared(t *testing.T) {
	f := newTradeFixture(t, "1000")
	ctx := context.Background()

	f.open(t, "500")
	f.open(t, "450")
	assert.Equal(t, "50", f.available(t))

	_, err := f.trades.CreateTrade(ctx, CreateTradeRequest{OfferID: f.offer.ID, BuyerID: "buyer", Amount: dec("60")})
	assert.True(t, errors.Is(err, ErrInsufficientOfferLimit))
}

func TestTradeService_GetTradeVisibility(t *testing.T) {
	f := newTradeFixture(t, "1000")
	ctx := context.Background()
	tr := f.open(t, "20")

	_, err := f.trades.GetTrade(ctx, tr.ID, "stranger")
	assert.True(t, errors.Is(err, ErrForbidden))

	got, err := f.trades.GetTrade(ctx, tr.ID, "")
	require.NoError(t, err)
	assert.Equal(t, tr.ID, got.ID)

	_, err = f.trades.GetTrade(ctx, "missing", "buyer")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestTradeService_LedgerFailureKeepsStatus(t *testing.T) {
	ctx := context.Background()

	// drain moves part of the escrow back to the available balance under a
	// foreign reference, so the trade's own ledger step can no longer apply.
	drain := func(t *testing.T, f *tradeFixture) {
		t.Helper()
		_, err := f.ledger.Unlock(ctx, f.seller, dec("60"), "ops-adjustment")
		require.NoError(t, err)
	}

	t.Run("release", func(t *testing.T) {
		f := newTradeFixture(t, "1000")
		tr := f.open(t, "100")
		_, err := f.trades.MarkPaid(ctx, tr.ID, "buyer")
		require.NoError(t, err)
		before, err := f.trades.History(ctx, tr.ID, "buyer")
		require.NoError(t, err)
		drain(t, f)

		_, err = f.trades.ReleaseTrade(ctx, tr.ID, "seller")
		assert.True(t, errors.Is(err, ErrInvalidState))

		got, err := f.trades.GetTrade(ctx, tr.ID, "buyer")
		require.NoError(t, err)
		assert.Equal(t, models.TradePaid, got.Status)
		assert.Nil(t, got.CompletedAt)
		after, err := f.trades.History(ctx, tr.ID, "buyer")
		require.NoError(t, err)
		assert.Len(t, after, len(before))

		bal, locked := f.balances(t, f.buyer)
		assert.Equal(t, "0", bal)
		assert.Equal(t, "0", locked)
	})

	t.Run("dispute won by buyer", func(t *testing.T) {
		f := newTradeFixture(t, "1000")
		tr := f.open(t, "100")
		_, err := f.trades.OpenDispute(ctx, tr.ID, "buyer")
		require.NoError(t, err)
		before, err := f.trades.History(ctx, tr.ID, "")
		require.NoError(t, err)
		drain(t, f)

		_, err = f.trades.ResolveDispute(ctx, tr.ID, models.BuyerWins, "ops")
		assert.True(t, errors.Is(err, ErrInvalidState))

		got, err := f.trades.GetTrade(ctx, tr.ID, "")
		require.NoError(t, err)
		assert.Equal(t, models.TradeDisputed, got.Status)
		after, err := f.trades.History(ctx, tr.ID, "")
		require.NoError(t, err)
		assert.Len(t, after, len(before))
	})

	t.Run("cancel", func(t *testing.T) {
		f := newTradeFixture(t, "1000")
		tr := f.open(t, "100")
		drain(t, f)

		_, err := f.trades.CancelTrade(ctx, tr.ID, "buyer")
		assert.True(t, errors.Is(err, ErrInvalidState))

		got, err := f.trades.GetTrade(ctx, tr.ID, "buyer")
		require.NoError(t, err)
		assert.Equal(t, models.TradeWaitingPayment, got.Status)
		assert.Equal(t, "900", f.available(t))
	})
}

func TestTradeService_ConcurrentCreateOnOneOffer(t *testing.T) {
	f := newTradeFixture(t, "5000")
	ctx := context.Background()

	const buyers = 25
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		failures  []error
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.trades.CreateTrade(ctx, CreateTradeRequest{
				OfferID: f.offer.ID,
				BuyerID: fmt.Sprintf("buyer-%d", i),
				Amount:  dec("100"),
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures = append(failures, err)
				return
			}
			succeeded++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, succeeded)
	for _, err := range failures {
		assert.True(t, errors.Is(err, ErrInsufficientOfferLimit), err.Error())
	}
	assert.Equal(t, "0", f.available(t))

	bal, locked := f.balances(t, f.seller)
	assert.Equal(t, "4000", bal)
	assert.Equal(t, "1000", locked)
}
