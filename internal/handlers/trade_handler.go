package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/services"
)

type TradeHandler struct {
	service   *services.TradeService
	validator *services.ValidationHelper
}

func NewTradeHandler(service *services.TradeService) *TradeHandler {
	return &TradeHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

type createTradeRequest struct {
	OfferID       string          `json:"offer_id" validate:"required,uuid"`
	Amount        decimal.Decimal `json:"amount" validate:"required,positive"`
	PaymentMethod string          `json:"payment_method,omitempty" validate:"omitempty,max=32"`
}

type resolveDisputeRequest struct {
	Outcome models.DisputeOutcome `json:"outcome" validate:"required,oneof=BUYER_WINS SELLER_WINS"`
}

// Create opens a trade against an offer and escrows the seller's funds
// @Summary Create trade
// @Tags Trades
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createTradeRequest true "Trade"
// @Success 201 {object} models.Trade
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /trades [post]
func (h *TradeHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createTradeRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	trade, err := h.service.CreateTrade(r.Context(), services.CreateTradeRequest{
		OfferID:       req.OfferID,
		BuyerID:       userID,
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
	})
	if err != nil {
		writeServiceError(w, "create trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, trade)
}

// List returns trades where the caller is buyer or seller
// @Summary List trades
// @Tags Trades
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Trade
// @Router /trades [get]
func (h *TradeHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	trades, err := h.service.ListTrades(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "list trades", err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// Get returns a trade with its status history
// @Summary Get trade
// @Tags Trades
// @Produce json
// @Security BearerAuth
// @Param tradeId path string true "Trade ID"
// @Success 200 {object} object{trade=models.Trade,history=[]models.TradeEvent}
// @Failure 403 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /trades/{tradeId} [get]
func (h *TradeHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	tradeID := chi.URLParam(r, "tradeId")
	trade, err := h.service.GetTrade(r.Context(), tradeID, userID)
	if err != nil {
		writeServiceError(w, "get trade", err)
		return
	}
	history, err := h.service.History(r.Context(), tradeID, userID)
	if err != nil {
		writeServiceError(w, "trade history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trade":   trade,
		"history": history,
	})
}

// @Summary Mark trade paid
// @Description Buyer declares the fiat payment sent
// @Tags Trades
// @Security BearerAuth
// @Param tradeId path string true "Trade ID"
// @Success 200 {object} models.Trade
// @Failure 409 {object} services.ErrorResponse
// @Router /trades/{tradeId}/paid [post]
func (h *TradeHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "mark paid", h.service.MarkPaid)
}

// @Summary Release escrow
// @Description Seller confirms fiat received; escrow moves to the buyer
// @Tags Trades
// @Security BearerAuth
// @Param tradeId path string true "Trade ID"
// @Success 200 {object} models.Trade
// @Failure 409 {object} services.ErrorResponse
// @Router /trades/{tradeId}/release [post]
func (h *TradeHandler) Release(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "release", h.service.ReleaseTrade)
}

// @Summary Cancel trade
// @Tags Trades
// @Security BearerAuth
// @Param tradeId path string true "Trade ID"
// @Success 200 {object} models.Trade
// @Failure 409 {object} services.ErrorResponse
// @Router /trades/{tradeId}/cancel [post]
func (h *TradeHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "cancel", h.service.CancelTrade)
}

// @Summary Open dispute
// @Tags Trades
// @Security BearerAuth
// @Param tradeId path string true "Trade ID"
// @Success 200 {object} models.Trade
// @Failure 409 {object} services.ErrorResponse
// @Router /trades/{tradeId}/dispute [post]
func (h *TradeHandler) Dispute(w http.ResponseWriter, r *http.Request) {
	h.act(w, r, "dispute", h.service.OpenDispute)
}

func (h *TradeHandler) act(w http.ResponseWriter, r *http.Request, op string,
	fn func(ctx context.Context, tradeID, actorID string) (*models.Trade, error)) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	trade, err := fn(r.Context(), chi.URLParam(r, "tradeId"), userID)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// Resolve rules on a disputed trade
// @Summary Resolve dispute
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param tradeId path string true "Trade ID"
// @Param request body resolveDisputeRequest true "Outcome"
// @Success 200 {object} models.Trade
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/trades/{tradeId}/resolve [post]
func (h *TradeHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	arbiterID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req resolveDisputeRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	trade, err := h.service.ResolveDispute(r.Context(), chi.URLParam(r, "tradeId"), req.Outcome, arbiterID)
	if err != nil {
		writeServiceError(w, "resolve dispute", err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}
