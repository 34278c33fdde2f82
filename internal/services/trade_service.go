package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/stablep2p/backend/internal/events"
	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/store"
)

// TradeService drives the P2P escrow state machine. Within a unit of work
// rows are locked trade first, then offer, then accounts in ascending id.
type TradeService struct {
	store   store.Store
	ledger  *LedgerService
	emitter events.Emitter
	metrics *Metrics
	now     func() time.Time
}

func NewTradeService(st store.Store, ledger *LedgerService, emitter events.Emitter, metrics *Metrics) *TradeService {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	if emitter == nil {
		emitter = events.Discard
	}
	return &TradeService{
		store:   st,
		ledger:  ledger,
		emitter: emitter,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

type CreateTradeRequest struct {
	OfferID       string
	BuyerID       string
	Amount        decimal.Decimal
	PaymentMethod string
}

// tradeEffects collects what a unit of work did so it can be emitted after commit.
type tradeEffects struct {
	entries     []*models.LedgerEntry
	transitions []*models.TradeEvent
}

// CreateTrade snapshots the offer price, locks the seller's funds under the
// trade id and reserves the amount on the offer, all in one unit.
func (s *TradeService) CreateTrade(ctx context.Context, req CreateTradeRequest) (*models.Trade, error) {
	if err := validateAmount(req.Amount); err != nil {
		return nil, err
	}

	var (
		trade   *models.Trade
		effects tradeEffects
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		offer, err := tx.LockOffer(ctx, req.OfferID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: offer %s", ErrNotFound, req.OfferID)
			}
			return err
		}

		if !offer.Active {
			return ErrOfferInactive
		}
		if offer.SellerID == req.BuyerID {
			return ErrSelfTrade
		}
		if req.Amount.LessThan(offer.MinLimit) || req.Amount.GreaterThan(offer.MaxLimit) ||
			req.Amount.GreaterThan(offer.AvailableAmount) {
			return fmt.Errorf("%w: %s not within [%s, %s] or above available %s",
				ErrInsufficientOfferLimit, req.Amount, offer.MinLimit, offer.MaxLimit, offer.AvailableAmount)
		}
		method, err := pickPaymentMethod(offer, req.PaymentMethod)
		if err != nil {
			return err
		}

		sellerAccountID, err := tx.EnsureAccount(ctx, models.FundingKey(offer.SellerID, offer.Asset, offer.Network))
		if err != nil {
			return err
		}
		buyerAccountID, err := tx.EnsureAccount(ctx, models.FundingKey(req.BuyerID, offer.Asset, offer.Network))
		if err != nil {
			return err
		}

		fiat := req.Amount.Mul(offer.UnitPrice).Round(2)
		if !withinBounds(fiat) {
			return fmt.Errorf("%w: fiat amount %s out of range", ErrInvalidAmount, fiat)
		}

		now := s.now()
		t := &models.Trade{
			ID:              uuid.NewString(),
			OfferID:         offer.ID,
			BuyerID:         req.BuyerID,
			SellerID:        offer.SellerID,
			Asset:           offer.Asset,
			Network:         offer.Network,
			SellerAccountID: sellerAccountID,
			BuyerAccountID:  buyerAccountID,
			CryptoAmount:    req.Amount,
			FiatAmount:      fiat,
			UnitPrice:       offer.UnitPrice,
			FiatCurrency:    offer.FiatCurrency,
			PaymentMethod:   method,
			Status:          models.TradeCreated,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := tx.InsertTrade(ctx, t); err != nil {
			return err
		}
		created := &models.TradeEvent{ID: uuid.NewString(), TradeID: t.ID, ToStatus: models.TradeCreated, ActorID: req.BuyerID, CreatedAt: now}
		if err := tx.AppendTradeEvent(ctx, created); err != nil {
			return err
		}
		effects.transitions = append(effects.transitions, created)

		offer.AvailableAmount = offer.AvailableAmount.Sub(req.Amount)
		offer.UpdatedAt = now
		if err := tx.UpdateOffer(ctx, offer); err != nil {
			return err
		}

		entry, err := s.ledger.LockTx(ctx, tx, sellerAccountID, req.Amount, t.ID)
		if err != nil {
			if errors.Is(err, ErrInsufficientFunds) {
				return ErrInsufficientSellerFunds
			}
			return err
		}
		effects.entries = append(effects.entries, entry)

		if err := s.transition(ctx, tx, t, models.TradeWaitingPayment, req.BuyerID, &effects); err != nil {
			return err
		}
		trade = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[TRADE] created %s offer=%s buyer=%s seller=%s amount=%s %s", trade.ID, trade.OfferID,
		trade.BuyerID, trade.SellerID, trade.CryptoAmount, trade.Asset)
	s.publish(ctx, trade, effects)
	return trade, nil
}

// MarkPaid records the buyer's claim that fiat was sent.
func (s *TradeService) MarkPaid(ctx context.Context, tradeID, actorID string) (*models.Trade, error) {
	return s.mutate(ctx, tradeID, func(tx store.Tx, t *models.Trade, fx *tradeEffects) error {
		if actorID != t.BuyerID {
			return ErrForbidden
		}
		return s.transition(ctx, tx, t, models.TradePaid, actorID, fx)
	})
}

// ReleaseTrade moves the escrowed funds to the buyer once the seller confirms receipt.
func (s *TradeService) ReleaseTrade(ctx context.Context, tradeID, actorID string) (*models.Trade, error) {
	return s.mutate(ctx, tradeID, func(tx store.Tx, t *models.Trade, fx *tradeEffects) error {
		if actorID != t.SellerID {
			return ErrForbidden
		}
		if err := s.transition(ctx, tx, t, models.TradeCompleted, actorID, fx); err != nil {
			return err
		}
		entry, err := s.ledger.TransferLockedTx(ctx, tx, t.SellerAccountID, t.BuyerAccountID, t.CryptoAmount, t.ID)
		if err != nil {
			return err
		}
		fx.entries = append(fx.entries, entry)
		return nil
	})
}

// CancelTrade returns the escrow to the seller. Only allowed before payment is marked.
func (s *TradeService) CancelTrade(ctx context.Context, tradeID, actorID string) (*models.Trade, error) {
	return s.mutate(ctx, tradeID, func(tx store.Tx, t *models.Trade, fx *tradeEffects) error {
		if !t.IsParty(actorID) {
			return ErrForbidden
		}
		if err := s.transition(ctx, tx, t, models.TradeCancelled, actorID, fx); err != nil {
			return err
		}
		return s.refundSeller(ctx, tx, t, fx)
	})
}

// OpenDispute freezes the trade until an arbiter rules on it.
func (s *TradeService) OpenDispute(ctx context.Context, tradeID, actorID string) (*models.Trade, error) {
	return s.mutate(ctx, tradeID, func(tx store.Tx, t *models.Trade, fx *tradeEffects) error {
		if !t.IsParty(actorID) {
			return ErrForbidden
		}
		return s.transition(ctx, tx, t, models.TradeDisputed, actorID, fx)
	})
}

// ResolveDispute settles a disputed trade in favour of one party.
func (s *TradeService) ResolveDispute(ctx context.Context, tradeID string, outcome models.DisputeOutcome, arbiterID string) (*models.Trade, error) {
	if !outcome.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidOutcome, outcome)
	}
	return s.mutate(ctx, tradeID, func(tx store.Tx, t *models.Trade, fx *tradeEffects) error {
		if t.Status == models.TradeResolved {
			return ErrAlreadyResolved
		}
		t.Outcome = outcome
		if err := s.transition(ctx, tx, t, models.TradeResolved, arbiterID, fx); err != nil {
			return err
		}

		if outcome == models.BuyerWins {
			entry, err := s.ledger.TransferLockedTx(ctx, tx, t.SellerAccountID, t.BuyerAccountID, t.CryptoAmount, t.ID)
			if err != nil {
				return err
			}
			fx.entries = append(fx.entries, entry)
			return nil
		}
		return s.refundSeller(ctx, tx, t, fx)
	})
}

// refundSeller puts the amount back on the offer and releases the lock.
func (s *TradeService) refundSeller(ctx context.Context, tx store.Tx, t *models.Trade, fx *tradeEffects) error {
	offer, err := tx.LockOffer(ctx, t.OfferID)
	if err != nil {
		return err
	}
	offer.AvailableAmount = offer.AvailableAmount.Add(t.CryptoAmount)
	offer.UpdatedAt = s.now()
	if err := tx.UpdateOffer(ctx, offer); err != nil {
		return err
	}

	entry, err := s.ledger.UnlockTx(ctx, tx, t.SellerAccountID, t.CryptoAmount, t.ID)
	if err != nil {
		return err
	}
	fx.entries = append(fx.entries, entry)
	return nil
}

func (s *TradeService) mutate(ctx context.Context, tradeID string, fn func(tx store.Tx, t *models.Trade, fx *tradeEffects) error) (*models.Trade, error) {
	var (
		trade   *models.Trade
		effects tradeEffects
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		t, err := tx.LockTrade(ctx, tradeID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: trade %s", ErrNotFound, tradeID)
			}
			return err
		}
		if err := fn(tx, t, &effects); err != nil {
			return err
		}
		trade = t
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, trade, effects)
	return trade, nil
}

func (s *TradeService) transition(ctx context.Context, tx store.Tx, t *models.Trade, to models.TradeStatus, actorID string, fx *tradeEffects) error {
	if !models.CanTransition(t.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	now := s.now()
	ev := &models.TradeEvent{
		ID:         uuid.NewString(),
		TradeID:    t.ID,
		FromStatus: t.Status,
		ToStatus:   to,
		ActorID:    actorID,
		CreatedAt:  now,
	}

	t.Status = to
	t.UpdatedAt = now
	switch to {
	case models.TradePaid:
		t.PaidAt = &now
	case models.TradeCompleted:
		t.CompletedAt = &now
	case models.TradeResolved:
		t.ResolvedAt = &now
	}

	if err := tx.UpdateTrade(ctx, t); err != nil {
		return err
	}
	if err := tx.AppendTradeEvent(ctx, ev); err != nil {
		return err
	}
	fx.transitions = append(fx.transitions, ev)
	return nil
}

type tradeStatusPayload struct {
	TradeID  string                `json:"trade_id"`
	From     models.TradeStatus    `json:"from,omitempty"`
	To       models.TradeStatus    `json:"to"`
	ActorID  string                `json:"actor_id"`
	Outcome  models.DisputeOutcome `json:"outcome,omitempty"`
	Amount   decimal.Decimal       `json:"crypto_amount"`
	Asset    string                `json:"asset"`
	BuyerID  string                `json:"buyer_id"`
	SellerID string                `json:"seller_id"`
}

func (s *TradeService) publish(ctx context.Context, t *models.Trade, fx tradeEffects) {
	out := EntryEvents(fx.entries...)
	for _, tr := range fx.transitions {
		if tr.FromStatus != "" {
			s.metrics.TradeTransitions.WithLabelValues(string(tr.FromStatus), string(tr.ToStatus)).Inc()
		}
		payload := tradeStatusPayload{
			TradeID:  t.ID,
			From:     tr.FromStatus,
			To:       tr.ToStatus,
			ActorID:  tr.ActorID,
			Amount:   t.CryptoAmount,
			Asset:    t.Asset,
			BuyerID:  t.BuyerID,
			SellerID: t.SellerID,
		}
		if tr.ToStatus == models.TradeResolved {
			payload.Outcome = t.Outcome
		}
		out = append(out, events.New(events.TradeStatusChanged, t.ID, payload, string(tr.ToStatus)))
	}
	s.emitter.Emit(ctx, out...)
}

// GetTrade returns the trade if viewerID is a party. An empty viewerID skips the check.
func (s *TradeService) GetTrade(ctx context.Context, tradeID, viewerID string) (*models.Trade, error) {
	t, err := s.store.GetTrade(ctx, tradeID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if viewerID != "" && !t.IsParty(viewerID) {
		return nil, ErrForbidden
	}
	return t, nil
}

func (s *TradeService) ListTrades(ctx context.Context, userID string) ([]models.Trade, error) {
	return s.store.ListTrades(ctx, userID)
}

// History returns the ordered status history of a trade.
func (s *TradeService) History(ctx context.Context, tradeID, viewerID string) ([]models.TradeEvent, error) {
	if _, err := s.GetTrade(ctx, tradeID, viewerID); err != nil {
		return nil, err
	}
	return s.store.ListTradeEvents(ctx, tradeID)
}

func pickPaymentMethod(offer *models.Offer, requested string) (string, error) {
	requested = strings.ToUpper(strings.TrimSpace(requested))
	if len(offer.PaymentMethods) == 0 {
		return requested, nil
	}
	if requested == "" {
		if len(offer.PaymentMethods) == 1 {
			return offer.PaymentMethods[0], nil
		}
		return "", fmt.Errorf("%w: one of %v is required", ErrPaymentMethod, offer.PaymentMethods)
	}
	if !offer.AcceptsPaymentMethod(requested) {
		return "", fmt.Errorf("%w: %s", ErrPaymentMethod, requested)
	}
	return requested, nil
}
