package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mW "github.com/stablep2p/backend/internal/middleware"
	"github.com/stablep2p/backend/internal/services"
)

type API struct {
	Wallets     *WalletHandler
	Offers      *OfferHandler
	Trades      *TradeHandler
	Withdrawals *WithdrawalHandler
	Admin       *AdminHandler
}

func NewAPI(ledger *services.LedgerService, offers *services.OfferService, trades *services.TradeService, withdrawals *services.WithdrawalService) *API {
	return &API{
		Wallets:     NewWalletHandler(ledger),
		Offers:      NewOfferHandler(offers),
		Trades:      NewTradeHandler(trades),
		Withdrawals: NewWithdrawalHandler(withdrawals),
		Admin:       NewAdminHandler(ledger),
	}
}

// Routes mounts the /api/v1 surface. Everything but offer browsing requires a token.
func (a *API) Routes(r chi.Router) {
	r.Get("/offers", a.Offers.List)
	r.Get("/offers/{offerId}", a.Offers.Get)

	r.Group(func(r chi.Router) {
		r.Use(mW.AuthMiddleware)

		r.Post("/auth/logout", logout)

		r.Get("/wallets", a.Wallets.Balances)
		r.Get("/wallets/entries", a.Wallets.Entries)

		r.Post("/offers", a.Offers.Create)
		r.Put("/offers/{offerId}", a.Offers.Update)
		r.Post("/offers/{offerId}/activate", a.Offers.Activate)
		r.Post("/offers/{offerId}/deactivate", a.Offers.Deactivate)

		r.Post("/trades", a.Trades.Create)
		r.Get("/trades", a.Trades.List)
		r.Get("/trades/{tradeId}", a.Trades.Get)
		r.Post("/trades/{tradeId}/paid", a.Trades.MarkPaid)
		r.Post("/trades/{tradeId}/release", a.Trades.Release)
		r.Post("/trades/{tradeId}/cancel", a.Trades.Cancel)
		r.Post("/trades/{tradeId}/dispute", a.Trades.Dispute)

		r.Post("/withdrawals", a.Withdrawals.Request)
		r.Get("/withdrawals/{requestId}", a.Withdrawals.Get)
		r.Post("/withdrawals/{requestId}/confirm", a.Withdrawals.Confirm)

		r.Route("/admin", func(r chi.Router) {
			r.Use(mW.AdminOnly)

			r.Post("/trades/{tradeId}/resolve", a.Trades.Resolve)
			r.Get("/ledger/entries", a.Admin.Entries)
			r.Get("/accounts/{accountId}/reconcile", a.Admin.Reconcile)
			r.Post("/deposits", a.Admin.Deposit)
		})
	})
}

// logout revokes the caller's token
// @Summary Logout
// @Tags Auth
// @Security BearerAuth
// @Success 200 {object} object{success=bool}
// @Router /auth/logout [post]
func logout(w http.ResponseWriter, r *http.Request) {
	if err := mW.RevokeToken(r.Context(), r); err != nil {
		services.SendErrorResponse(w, "Logout unavailable", http.StatusServiceUnavailable, nil)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
