package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/store"
)

func validOfferRequest() CreateOfferRequest {
	return CreateOfferRequest{
		SellerID:       "seller",
		Asset:          "usdt",
		Network:        "trc20",
		FiatCurrency:   "ngn",
		UnitPrice:      dec("1520.75"),
		TotalAmount:    dec("300"),
		MinLimit:       dec("5"),
		MaxLimit:       dec("100"),
		PaymentMethods: []string{"bank_transfer", " BANK_TRANSFER ", "opay"},
	}
}

func TestOfferService_CreateOffer(t *testing.T) {
	svc := NewOfferService(store.NewMemoryStore())
	ctx := context.Background()

	offer, err := svc.CreateOffer(ctx, validOfferRequest())
	require.NoError(t, err)
	assert.Equal(t, "USDT", offer.Asset)
	assert.Equal(t, "TRC20", offer.Network)
	assert.Equal(t, "NGN", offer.FiatCurrency)
	assert.True(t, offer.Active)
	assert.True(t, offer.AvailableAmount.Equal(offer.TotalAmount))
	assert.Equal(t, []string{"BANK_TRANSFER", "OPAY"}, offer.PaymentMethods)

	tests := []struct {
		name   string
		modify func(r *CreateOfferRequest)
	}{
		{"zero price", func(r *CreateOfferRequest) { r.UnitPrice = dec("0") }},
		{"negative total", func(r *CreateOfferRequest) { r.TotalAmount = dec("-1") }},
		{"min above max", func(r *CreateOfferRequest) { r.MinLimit = dec("200") }},
		{"missing fiat", func(r *CreateOfferRequest) { r.FiatCurrency = "" }},
		{"missing seller", func(r *CreateOfferRequest) { r.SellerID = "" }},
		{"total beyond column range", func(r *CreateOfferRequest) { r.TotalAmount = dec("1000000000000000000") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validOfferRequest()
			tt.modify(&req)
			_, err := svc.CreateOffer(ctx, req)
			assert.True(t, errors.Is(err, ErrInvalidOffer))
		})
	}
}

func TestOfferService_UpdateAndList(t *testing.T) {
	svc := NewOfferService(store.NewMemoryStore())
	ctx := context.Background()

	offer, err := svc.CreateOffer(ctx, validOfferRequest())
	require.NoError(t, err)

	price := dec("1600")
	_, err = svc.UpdateOffer(ctx, offer.ID, "intruder", UpdateOfferRequest{UnitPrice: &price})
	assert.True(t, errors.Is(err, ErrForbidden))

	updated, err := svc.UpdateOffer(ctx, offer.ID, "seller", UpdateOfferRequest{UnitPrice: &price})
	require.NoError(t, err)
	assert.True(t, updated.UnitPrice.Equal(price))

	tooHigh := dec("1")
	_, err = svc.UpdateOffer(ctx, offer.ID, "seller", UpdateOfferRequest{MaxLimit: &tooHigh})
	assert.True(t, errors.Is(err, ErrInvalidOffer))

	_, err = svc.SetOfferActive(ctx, "missing", "seller", false)
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = svc.SetOfferActive(ctx, offer.ID, "seller", false)
	require.NoError(t, err)

	active, err := svc.ListOffers(ctx, models.OfferFilter{Asset: "usdt", ActiveOnly: true})
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := svc.ListOffers(ctx, models.OfferFilter{Asset: "usdt"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.False(t, all[0].Active)
	assert.True(t, all[0].UnitPrice.Equal(price))
}
