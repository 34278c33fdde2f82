package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	mW "github.com/stablep2p/backend/internal/middleware"
	"github.com/stablep2p/backend/internal/services"
)

const maxBodyBytes = 1_048_576

// decodeBody reads exactly one JSON object into dst and validates it.
// It writes the error response itself and reports whether the caller may continue.
func decodeBody(w http.ResponseWriter, r *http.Request, v *services.ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := v.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := mW.UserIDFromContext(r.Context())
	if userID == "" {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return "", false
	}
	return userID, true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"data":    data,
	})
}

var errorStatuses = []struct {
	err    error
	status int
}{
	{services.ErrInvalidAmount, http.StatusBadRequest},
	{services.ErrInvalidReference, http.StatusBadRequest},
	{services.ErrInvalidAddress, http.StatusBadRequest},
	{services.ErrUnsupportedNetwork, http.StatusBadRequest},
	{services.ErrInvalidOffer, http.StatusBadRequest},
	{services.ErrInvalidOutcome, http.StatusBadRequest},
	{services.ErrPaymentMethod, http.StatusBadRequest},
	{services.ErrSelfTrade, http.StatusBadRequest},
	{services.ErrSameAccount, http.StatusBadRequest},
	{services.ErrInvalidCode, http.StatusBadRequest},
	{services.ErrNotFound, http.StatusNotFound},
	{services.ErrForbidden, http.StatusForbidden},
	{services.ErrInsufficientFunds, http.StatusUnprocessableEntity},
	{services.ErrInsufficientSellerFunds, http.StatusUnprocessableEntity},
	{services.ErrInsufficientOfferLimit, http.StatusUnprocessableEntity},
	{services.ErrOfferInactive, http.StatusUnprocessableEntity},
	{services.ErrInvalidTransition, http.StatusConflict},
	{services.ErrAlreadyResolved, http.StatusConflict},
	{services.ErrAlreadyConsumed, http.StatusConflict},
	{services.ErrReferenceConflict, http.StatusConflict},
	{services.ErrExpired, http.StatusGone},
	{services.ErrRequestRejected, http.StatusLocked},
	{services.ErrRateLimited, http.StatusTooManyRequests},
}

// writeServiceError maps service errors onto HTTP statuses. Anything unknown,
// invariant violations included, is logged and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	for _, e := range errorStatuses {
		if errors.Is(err, e.err) {
			services.SendErrorResponse(w, err.Error(), e.status, nil)
			return
		}
	}

	log.Printf("[HTTP] %s failed: %v", op, err)
	services.SendErrorResponse(w, "Internal server error", http.StatusInternalServerError, nil)
}
