package handlers

import (
	"bytes"
	"encoding/base64"
	"image/png"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/skip2/go-qrcode"

	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/services"
)

type WithdrawalHandler struct {
	service   *services.WithdrawalService
	validator *services.ValidationHelper
}

func NewWithdrawalHandler(service *services.WithdrawalService) *WithdrawalHandler {
	return &WithdrawalHandler{
		service:   service,
		validator: services.NewValidationHelper(),
	}
}

type requestWithdrawalRequest struct {
	Asset   string          `json:"asset" validate:"required,alphanum,max=10"`
	Network string          `json:"network" validate:"required,alphanum,max=16"`
	Address string          `json:"address" validate:"required,max=128"`
	Amount  decimal.Decimal `json:"amount" validate:"required,positive"`
}

type confirmWithdrawalRequest struct {
	Code string `json:"code" validate:"required,numeric,min=4,max=10"`
}

// Request starts a withdrawal and sends a confirmation code to the user
// @Summary Request withdrawal
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body requestWithdrawalRequest true "Withdrawal"
// @Success 202 {object} services.WithdrawalTicket
// @Failure 400 {object} services.ErrorResponse
// @Failure 422 {object} services.ErrorResponse
// @Router /withdrawals [post]
func (h *WithdrawalHandler) Request(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req requestWithdrawalRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	ticket, err := h.service.RequestWithdrawal(r.Context(), services.WithdrawalInput{
		UserID:  userID,
		Asset:   req.Asset,
		Network: req.Network,
		Address: req.Address,
		Amount:  req.Amount,
	})
	if err != nil {
		writeServiceError(w, "request withdrawal", err)
		return
	}
	writeJSON(w, http.StatusAccepted, ticket)
}

// Confirm submits the one-time code
// @Summary Confirm withdrawal
// @Tags Withdrawals
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Withdrawal request ID"
// @Param request body confirmWithdrawalRequest true "Code"
// @Success 200 {object} models.WithdrawalRequest
// @Failure 400 {object} services.ErrorResponse
// @Failure 410 {object} services.ErrorResponse
// @Failure 423 {object} services.ErrorResponse
// @Router /withdrawals/{requestId}/confirm [post]
func (h *WithdrawalHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	var req confirmWithdrawalRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	wr, err := h.service.ConfirmWithdrawal(r.Context(), chi.URLParam(r, "requestId"), userID, req.Code)
	if err != nil {
		writeServiceError(w, "confirm withdrawal", err)
		return
	}
	writeJSON(w, http.StatusOK, wr)
}

// Get returns the request status with a QR of the destination address
// @Summary Get withdrawal
// @Tags Withdrawals
// @Produce json
// @Security BearerAuth
// @Param requestId path string true "Withdrawal request ID"
// @Success 200 {object} object{withdrawal=models.WithdrawalRequest,addressQr=string}
// @Failure 404 {object} services.ErrorResponse
// @Router /withdrawals/{requestId} [get]
func (h *WithdrawalHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	wr, err := h.service.GetWithdrawal(r.Context(), chi.URLParam(r, "requestId"), userID)
	if err != nil {
		writeServiceError(w, "get withdrawal", err)
		return
	}

	resp := map[string]any{"withdrawal": wr}
	if qr, err := destinationQR(wr); err != nil {
		log.Printf("[WITHDRAWAL] QR rendering failed for %s: %v", wr.ID, err)
	} else {
		resp["addressQr"] = qr
	}
	writeJSON(w, http.StatusOK, resp)
}

// destinationQR renders the destination address as a base64 PNG so the user
// can compare it with their wallet app.
func destinationQR(wr *models.WithdrawalRequest) (string, error) {
	qr, err := qrcode.New(wr.Address, qrcode.Medium)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(256)); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
