package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/services"
)

// AdminHandler exposes operator-only ledger tooling.
type AdminHandler struct {
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewAdminHandler(ledger *services.LedgerService) *AdminHandler {
	return &AdminHandler{
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

type depositRequest struct {
	UserID    string          `json:"user_id" validate:"required,max=64"`
	Asset     string          `json:"asset" validate:"required,alphanum,max=10"`
	Network   string          `json:"network" validate:"required,alphanum,max=16"`
	Amount    decimal.Decimal `json:"amount" validate:"required,positive"`
	Reference string          `json:"reference" validate:"required,max=128"`
}

// Deposit credits a confirmed on-chain deposit
// @Summary Credit deposit
// @Description Called by the deposit watcher once a transfer is final. Idempotent per reference.
// @Tags Admin
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body depositRequest true "Deposit"
// @Success 201 {object} models.LedgerEntry
// @Failure 409 {object} services.ErrorResponse
// @Router /admin/deposits [post]
func (h *AdminHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	if !decodeBody(w, r, h.validator, &req) {
		return
	}

	key := models.FundingKey(req.UserID, strings.ToUpper(req.Asset), strings.ToUpper(req.Network))
	entry, err := h.ledger.Credit(r.Context(), key, req.Amount, req.Reference)
	if err != nil {
		writeServiceError(w, "deposit", err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// Entries lists ledger entries across all users
// @Summary Ledger entries
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param account_id query string false "Account"
// @Param user_id query string false "User"
// @Param reference query string false "Reference"
// @Param limit query int false "Page size (max 500)"
// @Success 200 {array} models.LedgerEntry
// @Router /admin/ledger/entries [get]
func (h *AdminHandler) Entries(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	entries, err := h.ledger.Entries(r.Context(), models.EntryFilter{
		AccountID: q.Get("account_id"),
		UserID:    q.Get("user_id"),
		Reference: q.Get("reference"),
		Limit:     queryInt(r, "limit"),
	})
	if err != nil {
		writeServiceError(w, "ledger entries", err)
		return
	}
	if entries == nil {
		entries = []models.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

// Reconcile replays an account's entries and compares them with the live row
// @Summary Reconcile account
// @Tags Admin
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Success 200 {object} services.Reconciliation
// @Failure 404 {object} services.ErrorResponse
// @Router /admin/accounts/{accountId}/reconcile [get]
func (h *AdminHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	result, err := h.ledger.Reconcile(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		writeServiceError(w, "reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
