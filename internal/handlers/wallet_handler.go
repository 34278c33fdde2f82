package handlers

import (
	"net/http"
	"strconv"

	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/services"
)

type WalletHandler struct {
	ledger *services.LedgerService
}

func NewWalletHandler(ledger *services.LedgerService) *WalletHandler {
	return &WalletHandler{ledger: ledger}
}

// Balances returns the caller's accounts
// @Summary Wallet balances
// @Description List every account of the caller with available and locked balances
// @Tags Wallets
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Account
// @Failure 401 {object} services.ErrorResponse
// @Router /wallets [get]
func (h *WalletHandler) Balances(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	accounts, err := h.ledger.Balances(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "balances", err)
		return
	}
	if accounts == nil {
		accounts = []models.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

// Entries returns the caller's ledger history, newest first
// @Summary Wallet history
// @Tags Wallets
// @Produce json
// @Security BearerAuth
// @Param reference query string false "Filter by reference"
// @Param limit query int false "Page size (max 500)"
// @Success 200 {array} models.EntryView
// @Failure 401 {object} services.ErrorResponse
// @Router /wallets/entries [get]
func (h *WalletHandler) Entries(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}

	entries, err := h.ledger.UserEntries(r.Context(), userID, models.EntryFilter{
		Reference: r.URL.Query().Get("reference"),
		Limit:     queryInt(r, "limit"),
	})
	if err != nil {
		writeServiceError(w, "wallet entries", err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func queryInt(r *http.Request, name string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil {
		return 0
	}
	return n
}
