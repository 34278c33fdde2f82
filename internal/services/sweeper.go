package services

import (
	"context"
	"log"
	"time"
)

// WithdrawalSweeper periodically expires pending withdrawals so their funds
// are released even when the user never comes back.
type WithdrawalSweeper struct {
	withdrawals *WithdrawalService
	interval    time.Duration
	batchSize   int
}

func NewWithdrawalSweeper(ws *WithdrawalService, interval time.Duration, batchSize int) *WithdrawalSweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &WithdrawalSweeper{withdrawals: ws, interval: interval, batchSize: batchSize}
}

// Run blocks until ctx is cancelled.
func (s *WithdrawalSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	log.Printf("[SWEEPER] started, interval=%s batch=%d", s.interval, s.batchSize)
	for {
		select {
		case <-ctx.Done():
			log.Println("[SWEEPER] stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *WithdrawalSweeper) sweep(ctx context.Context) {
	n, err := s.withdrawals.ExpireWithdrawals(ctx, s.withdrawals.now(), s.batchSize)
	if err != nil {
		log.Printf("[SWEEPER] sweep failed after %d expirations: %v", n, err)
		return
	}
	if n > 0 {
		log.Printf("[SWEEPER] expired %d withdrawal requests", n)
	}
}
