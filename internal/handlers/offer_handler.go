package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/services"
)

type OfferHandler struct {
	service   *services.OfferService
	validator *services.ValidationHelper
}

func NewOfferHandler(service *services.OfferService) *OfferHandler {
	return &OfferHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

type createOfferRequest struct {
	Asset          string          `json:"asset" validate:"required,alphanum,max=10"`
	Network        string          `json:"network" validate:"required,alphanum,max=16"`
	FiatCurrency   string          `json:"fiat_currency" validate:"required,len=3"`
	UnitPrice      decimal.Decimal `json:"unit_price" validate:"required,positive"`
	TotalAmount    decimal.Decimal `json:"total_amount" validate:"required,positive"`
	MinLimit       decimal.Decimal `json:"min_limit" validate:"required,positive"`
	MaxLimit       decimal.Decimal `json:"max_limit" validate:"required,positive"`
	PaymentMethods []string        `json:"payment_methods" validate:"required,min=1,dive,required,max=32"`
}

type updateOfferRequest struct {
	UnitPrice      *decimal.Decimal `json:"unit_price,omitempty"`
	MinLimit       *decimal.Decimal `json:"min_limit,omitempty"`
	MaxLimit       *decimal.Decimal `json:"max_limit,omitempty"`
	PaymentMethods []string         `json:"payment_methods,omitempty" validate:"omitempty,min=1,dive,required,max=32"`
}

// Create publishes a new sell offer
// @Summary Create offer
// @Tags Offers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body createOfferRequest true "Offer"
// @Success 201 {object} models.Offer
// @Failure 400 {object} services.ErrorResponse
// @Router /offers [post]
func (h *OfferHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req createOfferRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	offer, err := h.service.CreateOffer(r.Context(), services.CreateOfferRequest{
		SellerID:       userID,
		Asset:          req.Asset,
		Network:        req.Network,
		FiatCurrency:   req.FiatCurrency,
		UnitPrice:      req.UnitPrice,
		TotalAmount:    req.TotalAmount,
		MinLimit:       req.MinLimit,
		MaxLimit:       req.MaxLimit,
		PaymentMethods: req.PaymentMethods,
	})
	if err != nil {
		writeServiceError(w, "create offer", err)
		return
	}
	writeJSON(w, http.StatusCreated, offer)
}

// Update changes price, limits or payment methods of the caller's offer
// @Summary Update offer
// @Tags Offers
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param offerId path string true "Offer ID"
// @Param request body updateOfferRequest true "Fields to change"
// @Success 200 {object} models.Offer
// @Failure 403 {object} services.ErrorResponse
// @Router /offers/{offerId} [put]
func (h *OfferHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req updateOfferRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	offer, err := h.service.UpdateOffer(r.Context(), chi.URLParam(r, "offerId"), userID, services.UpdateOfferRequest{
		UnitPrice:      req.UnitPrice,
		MinLimit:       req.MinLimit,
		MaxLimit:       req.MaxLimit,
		PaymentMethods: req.PaymentMethods,
	})
	if err != nil {
		writeServiceError(w, "update offer", err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// @Summary Activate offer
// @Tags Offers
// @Security BearerAuth
// @Param offerId path string true "Offer ID"
// @Success 200 {object} models.Offer
// @Router /offers/{offerId}/activate [post]
func (h *OfferHandler) Activate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

// @Summary Deactivate offer
// @Tags Offers
// @Security BearerAuth
// @Param offerId path string true "Offer ID"
// @Success 200 {object} models.Offer
// @Router /offers/{offerId}/deactivate [post]
func (h *OfferHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *OfferHandler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	offer, err := h.service.SetOfferActive(r.Context(), chi.URLParam(r, "offerId"), userID, active)
	if err != nil {
		writeServiceError(w, "toggle offer", err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// @Summary Get offer
// @Tags Offers
// @Produce json
// @Param offerId path string true "Offer ID"
// @Success 200 {object} models.Offer
// @Failure 404 {object} services.ErrorResponse
// @Router /offers/{offerId} [get]
func (h *OfferHandler) Get(w http.ResponseWriter, r *http.Request) {
	offer, err := h.service.GetOffer(r.Context(), chi.URLParam(r, "offerId"))
	if err != nil {
		writeServiceError(w, "get offer", err)
		return
	}
	writeJSON(w, http.StatusOK, offer)
}

// List returns offers, cheapest first
// @Summary List offers
// @Tags Offers
// @Produce json
// @Param asset query string false "Asset"
// @Param network query string false "Network"
// @Param fiat query string false "Fiat currency"
// @Param seller query string false "Seller id"
// @Param all query bool false "Include inactive offers"
// @Success 200 {array} models.Offer
// @Router /offers [get]
func (h *OfferHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	offers, err := h.service.ListOffers(r.Context(), models.OfferFilter{
		Asset:        q.Get("asset"),
		Network:      q.Get("network"),
		FiatCurrency: q.Get("fiat"),
		SellerID:     q.Get("seller"),
		ActiveOnly:   q.Get("all") != "true",
	})
	if err != nil {
		writeServiceError(w, "list offers", err)
		return
	}
	if offers == nil {
		offers = []models.Offer{}
	}
	writeJSON(w, http.StatusOK, offers)
}
