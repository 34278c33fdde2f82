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

	"github.com/stablep2p/backend/internal/config"
	"github.com/stablep2p/backend/internal/events"
	"github.com/stablep2p/backend/internal/hsm"
	"github.com/stablep2p/backend/internal/models"
	"github.com/stablep2p/backend/internal/store"
)

// CodeSender delivers one-time confirmation codes out of band.
type CodeSender interface {
	SendCode(ctx context.Context, d events.CodeDelivery) error
}

type WithdrawalService struct {
	store   store.Store
	ledger  *LedgerService
	hsm     hsm.HSMInterface
	sender  CodeSender
	emitter events.Emitter
	config  *config.WithdrawalConfig
	metrics *Metrics
	limiter AttemptLimiter
	now     func() time.Time
}

func NewWithdrawalService(
	st store.Store,
	ledger *LedgerService,
	h hsm.HSMInterface,
	sender CodeSender,
	emitter events.Emitter,
	cfg *config.WithdrawalConfig,
	metrics *Metrics,
) *WithdrawalService {
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	if emitter == nil {
		emitter = events.Discard
	}
	return &WithdrawalService{
		store:   st,
		ledger:  ledger,
		hsm:     h,
		sender:  sender,
		emitter: emitter,
		config:  cfg,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithLimiter caps confirmation attempts per user across requests.
func (s *WithdrawalService) WithLimiter(l AttemptLimiter) *WithdrawalService {
	s.limiter = l
	return s
}

type WithdrawalInput struct {
	UserID  string
	Asset   string
	Network string
	Address string
	Amount  decimal.Decimal
}

type WithdrawalTicket struct {
	RequestID string          `json:"request_id"`
	Amount    decimal.Decimal `json:"amount"`
	Fee       decimal.Decimal `json:"fee"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// RequestWithdrawal locks amount plus fee, stores the hashed code and sends
// the plaintext code to the user. The code never leaves this function otherwise.
func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, in WithdrawalInput) (*WithdrawalTicket, error) {
	network, ok := s.config.Network(in.Network)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedNetwork, in.Network)
	}
	if !network.ValidAddress(in.Address) {
		return nil, fmt.Errorf("%w for %s", ErrInvalidAddress, network.Name)
	}
	if err := validateAmount(in.Amount); err != nil {
		return nil, err
	}
	if in.Amount.LessThan(network.MinAmount) {
		return nil, fmt.Errorf("%w: minimum withdrawal on %s is %s", ErrInvalidAmount, network.Name, network.MinAmount)
	}

	code, err := s.hsm.GenerateCode(s.config.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("generate code: %w", err)
	}
	hash, err := s.hsm.HashCode(code)
	if err != nil {
		return nil, fmt.Errorf("hash code: %w", err)
	}

	now := s.now()
	req := &models.WithdrawalRequest{
		ID:          uuid.NewString(),
		UserID:      in.UserID,
		Asset:       strings.ToUpper(in.Asset),
		Network:     network.Name,
		Address:     in.Address,
		Amount:      in.Amount,
		Fee:         network.Fee(in.Amount),
		CodeHash:    hash,
		MaxAttempts: s.config.MaxAttempts,
		Status:      models.WithdrawalPending,
		ExpiresAt:   now.Add(s.config.CodeTTL),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	var lock *models.LedgerEntry
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		accountID, err := tx.EnsureAccount(ctx, models.FundingKey(req.UserID, req.Asset, req.Network))
		if err != nil {
			return err
		}
		req.AccountID = accountID

		lock, err = s.ledger.LockTx(ctx, tx, accountID, req.LockedTotal(), req.ID)
		if err != nil {
			return err
		}
		return tx.InsertWithdrawal(ctx, req)
	})
	if err != nil {
		return nil, err
	}

	if err := s.sender.SendCode(ctx, events.CodeDelivery{
		UserID:    req.UserID,
		RequestID: req.ID,
		Code:      code,
		Purpose:   "withdrawal",
		ExpiresAt: req.ExpiresAt,
	}); err != nil {
		// The request stays pending; the sweeper releases the lock at expiry.
		log.Printf("[WITHDRAWAL] code delivery failed for %s: %v", req.ID, err)
	}

	s.metrics.WithdrawalOutcomes.WithLabelValues("requested").Inc()
	out := EntryEvents(lock)
	out = append(out, events.New(events.WithdrawalRequested, req.ID, req))
	s.emitter.Emit(ctx, out...)

	return &WithdrawalTicket{RequestID: req.ID, Amount: req.Amount, Fee: req.Fee, ExpiresAt: req.ExpiresAt}, nil
}

// ConfirmWithdrawal checks the code and, on success, debits the locked funds,
// credits the fee account and hands a signed payout instruction to the broadcaster.
// Failed attempts and expiry are persisted before the error is returned.
func (s *WithdrawalService) ConfirmWithdrawal(ctx context.Context, requestID, userID, code string) (*models.WithdrawalRequest, error) {
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(ctx, "withdrawal-confirm:"+userID)
		if err != nil {
			log.Printf("[WITHDRAWAL] rate limiter unavailable: %v", err)
		} else if !allowed {
			return nil, ErrRateLimited
		}
	}

	var (
		req     *models.WithdrawalRequest
		entries []*models.LedgerEntry
		outcome error
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		w, err := tx.LockWithdrawal(ctx, requestID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		if w.UserID != userID {
			return ErrNotFound
		}

		switch {
		case w.Consumed || w.Status == models.WithdrawalConfirmed:
			return ErrAlreadyConsumed
		case w.Status == models.WithdrawalRejected:
			return ErrRequestRejected
		case w.Status == models.WithdrawalExpired:
			return ErrExpired
		}

		now := s.now()
		if w.ExpiredAt(now) {
			e, err := s.release(ctx, tx, w, models.WithdrawalExpired, now)
			if err != nil {
				return err
			}
			entries = append(entries, e)
			req, outcome = w, ErrExpired
			return nil
		}

		ok, err := s.hsm.VerifyCode(code, w.CodeHash)
		if err != nil {
			return fmt.Errorf("verify code: %w", err)
		}
		if !ok {
			w.Attempts++
			w.UpdatedAt = now
			outcome = ErrInvalidCode
			if w.Attempts >= w.MaxAttempts {
				e, err := s.release(ctx, tx, w, models.WithdrawalRejected, now)
				if err != nil {
					return err
				}
				entries = append(entries, e)
				outcome = ErrRequestRejected
			} else if err := tx.UpdateWithdrawal(ctx, w); err != nil {
				return err
			}
			req = w
			return nil
		}

		debit, err := s.ledger.DebitLockedTx(ctx, tx, w.AccountID, w.LockedTotal(), w.ID)
		if err != nil {
			return err
		}
		entries = append(entries, debit)

		if w.Fee.IsPositive() {
			feeAccountID, err := tx.EnsureAccount(ctx, models.FeeKey(w.Asset, w.Network))
			if err != nil {
				return err
			}
			credit, err := s.ledger.CreditTx(ctx, tx, feeAccountID, w.Fee, w.ID)
			if err != nil {
				return err
			}
			entries = append(entries, credit)
		}

		w.Consumed = true
		w.ConsumedAt = &now
		w.Status = models.WithdrawalConfirmed
		w.UpdatedAt = now
		if err := tx.UpdateWithdrawal(ctx, w); err != nil {
			return err
		}
		req = w
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishOutcome(ctx, req, entries)
	if outcome != nil {
		return req, outcome
	}
	return req, nil
}

// release marks the request terminal and returns the locked funds.
func (s *WithdrawalService) release(ctx context.Context, tx store.Tx, w *models.WithdrawalRequest, status models.WithdrawalStatus, now time.Time) (*models.LedgerEntry, error) {
	w.Status = status
	w.UpdatedAt = now
	if err := tx.UpdateWithdrawal(ctx, w); err != nil {
		return nil, err
	}
	return s.ledger.UnlockTx(ctx, tx, w.AccountID, w.LockedTotal(), w.ID)
}

func (s *WithdrawalService) publishOutcome(ctx context.Context, w *models.WithdrawalRequest, entries []*models.LedgerEntry) {
	out := EntryEvents(entries...)
	switch w.Status {
	case models.WithdrawalConfirmed:
		out = append(out, events.New(events.WithdrawalConfirmed, w.ID, w))
		if payout, err := s.payout(w); err != nil {
			log.Printf("[WITHDRAWAL] failed to sign payout for %s: %v", w.ID, err)
		} else {
			out = append(out, events.New(events.WithdrawalSubmitOnchain, w.ID, payout))
		}
	case models.WithdrawalExpired:
		out = append(out, events.New(events.WithdrawalExpired, w.ID, w))
	case models.WithdrawalRejected:
		out = append(out, events.New(events.WithdrawalRejected, w.ID, w))
	default:
		s.metrics.WithdrawalOutcomes.WithLabelValues("invalid_code").Inc()
		return
	}
	s.metrics.WithdrawalOutcomes.WithLabelValues(strings.ToLower(string(w.Status))).Inc()
	s.emitter.Emit(ctx, out...)
}

// SignedPayout is what the on-chain broadcaster consumes.
type SignedPayout struct {
	Instruction *hsm.PayoutInstruction `json:"instruction"`
	Signature   string                 `json:"signature"`
}

func (s *WithdrawalService) payout(w *models.WithdrawalRequest) (*SignedPayout, error) {
	p := &hsm.PayoutInstruction{
		RequestID: w.ID,
		Asset:     w.Asset,
		Network:   w.Network,
		Address:   w.Address,
		Amount:    w.Amount.String(),
		Nonce:     uuid.NewSHA1(uuid.NameSpaceOID, []byte(w.ID)).String(),
		Timestamp: s.now(),
	}
	sig, err := s.hsm.SignPayout(p)
	if err != nil {
		return nil, err
	}
	return &SignedPayout{Instruction: p, Signature: sig}, nil
}

// GetWithdrawal returns the request if it belongs to userID.
func (s *WithdrawalService) GetWithdrawal(ctx context.Context, requestID, userID string) (*models.WithdrawalRequest, error) {
	w, err := s.store.GetWithdrawal(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if w.UserID != userID {
		return nil, ErrNotFound
	}
	return w, nil
}

// ExpireWithdrawals releases every pending request whose code expired at or
// before now. Each request is handled in its own unit of work.
func (s *WithdrawalService) ExpireWithdrawals(ctx context.Context, now time.Time, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = 100
	}
	expired := 0
	for {
		ids, err := s.store.ExpiredWithdrawals(ctx, now, batchSize)
		if err != nil {
			return expired, err
		}
		if len(ids) == 0 {
			return expired, nil
		}

		progressed := false
		for _, id := range ids {
			ok, err := s.expireOne(ctx, id, now)
			if err != nil {
				log.Printf("[WITHDRAWAL] failed to expire %s: %v", id, err)
				continue
			}
			if ok {
				expired++
				progressed = true
			}
		}
		if !progressed || len(ids) < batchSize {
			return expired, nil
		}
	}
}

func (s *WithdrawalService) expireOne(ctx context.Context, id string, now time.Time) (bool, error) {
	var (
		req   *models.WithdrawalRequest
		entry *models.LedgerEntry
	)
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		w, err := tx.LockWithdrawal(ctx, id)
		if err != nil {
			return err
		}
		// Confirmed or rejected between the scan and the lock.
		if w.Status != models.WithdrawalPending || !w.ExpiredAt(now) {
			return nil
		}
		entry, err = s.release(ctx, tx, w, models.WithdrawalExpired, now)
		if err != nil {
			return err
		}
		req = w
		return nil
	})
	if err != nil || req == nil {
		return false, err
	}

	s.metrics.SweptWithdrawals.Inc()
	s.publishOutcome(ctx, req, []*models.LedgerEntry{entry})
	return true, nil
}
