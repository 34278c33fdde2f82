package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/store"
)

type OfferService struct {
	store store.Store
	now   func() time.Time
}

func NewOfferService(st store.Store) *OfferService {
	return &OfferService{store: st, now: func() time.Time { return time.Now().UTC() }}
}

type CreateOfferRequest struct {
	SellerID       string
	Asset          string
	Network        string
	FiatCurrency   string
	UnitPrice      decimal.Decimal
	TotalAmount    decimal.Decimal
	MinLimit       decimal.Decimal
	MaxLimit       decimal.Decimal
	PaymentMethods []string
}

// UpdateOfferRequest changes only the fields that are set.
type UpdateOfferRequest struct {
	UnitPrice      *decimal.Decimal
	MinLimit       *decimal.Decimal
	MaxLimit       *decimal.Decimal
	PaymentMethods []string
}

func (s *OfferService) CreateOffer(ctx context.Context, req CreateOfferRequest) (*models.Offer, error) {
	if req.SellerID == "" {
		return nil, fmt.Errorf("%w: seller is required", ErrInvalidOffer)
	}
	now := s.now()
	offer := &models.Offer{
		ID:              uuid.NewString(),
		SellerID:        req.SellerID,
		Asset:           strings.ToUpper(req.Asset),
		Network:         strings.ToUpper(req.Network),
		FiatCurrency:    strings.ToUpper(req.FiatCurrency),
		UnitPrice:       req.UnitPrice,
		TotalAmount:     req.TotalAmount,
		AvailableAmount: req.TotalAmount,
		MinLimit:        req.MinLimit,
		MaxLimit:        req.MaxLimit,
		PaymentMethods:  normalizeMethods(req.PaymentMethods),
		Active:          true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := validateOffer(offer); err != nil {
		return nil, err
	}

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.InsertOffer(ctx, offer)
	})
	if err != nil {
		return nil, err
	}
	return offer, nil
}

func (s *OfferService) UpdateOffer(ctx context.Context, offerID, sellerID string, req UpdateOfferRequest) (*models.Offer, error) {
	return s.mutate(ctx, offerID, sellerID, func(o *models.Offer) {
		if req.UnitPrice != nil {
			o.UnitPrice = *req.UnitPrice
		}
		if req.MinLimit != nil {
			o.MinLimit = *req.MinLimit
		}
		if req.MaxLimit != nil {
			o.MaxLimit = *req.MaxLimit
		}
		if req.PaymentMethods != nil {
			o.PaymentMethods = normalizeMethods(req.PaymentMethods)
		}
	})
}

// SetOfferActive deactivates or reactivates an offer. Offers are never deleted.
func (s *OfferService) SetOfferActive(ctx context.Context, offerID, sellerID string, active bool) (*models.Offer, error) {
	return s.mutate(ctx, offerID, sellerID, func(o *models.Offer) {
		o.Active = active
	})
}

func (s *OfferService) mutate(ctx context.Context, offerID, sellerID string, apply func(o *models.Offer)) (*models.Offer, error) {
	var updated *models.Offer
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		o, err := tx.LockOffer(ctx, offerID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if o.SellerID != sellerID {
			return ErrForbidden
		}

		apply(o)
		if err := validateOffer(o); err != nil {
			return err
		}
		o.UpdatedAt = s.now()
		if err := tx.UpdateOffer(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *OfferService) GetOffer(ctx context.Context, offerID string) (*models.Offer, error) {
	o, err := s.store.GetOffer(ctx, offerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	return o, err
}

func (s *OfferService) ListOffers(ctx context.Context, filter models.OfferFilter) ([]models.Offer, error) {
	filter.Asset = strings.ToUpper(filter.Asset)
	filter.Network = strings.ToUpper(filter.Network)
	filter.FiatCurrency = strings.ToUpper(filter.FiatCurrency)
	return s.store.ListOffers(ctx, filter)
}

func validateOffer(o *models.Offer) error {
	switch {
	case o.Asset == "" || o.Network == "" || o.FiatCurrency == "":
		return fmt.Errorf("%w: asset, network and fiat currency are required", ErrInvalidOffer)
	case !o.UnitPrice.IsPositive():
		return fmt.Errorf("%w: unit price must be positive", ErrInvalidOffer)
	case !o.TotalAmount.IsPositive():
		return fmt.Errorf("%w: total amount must be positive", ErrInvalidOffer)
	case !o.MinLimit.IsPositive() || o.MinLimit.GreaterThan(o.MaxLimit):
		return fmt.Errorf("%w: limits must satisfy 0 < min <= max", ErrInvalidOffer)
	case !withinBounds(o.UnitPrice) || !withinBounds(o.TotalAmount) || !withinBounds(o.MaxLimit):
		return fmt.Errorf("%w: amounts must be below %s", ErrInvalidOffer, MaxAmount)
	case o.AvailableAmount.IsNegative():
		return fmt.Errorf("%w: available amount is negative", ErrInvalidOffer)
	}
	return nil
}

func normalizeMethods(methods []string) []string {
	out := make([]string, 0, len(methods))
	seen := make(map[string]bool, len(methods))
	for _, m := range methods {
		m = strings.ToUpper(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
