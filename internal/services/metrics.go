package services

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	LedgerOps           *prometheus.CounterVec
	LedgerLatency       *prometheus.HistogramVec
	InvariantViolations *prometheus.CounterVec
	TradeTransitions    *prometheus.CounterVec
	WithdrawalOutcomes  *prometheus.CounterVec
	SweptWithdrawals    prometheus.Counter
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		LedgerOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_operations_total",
				Help: "Ledger operations by kind and result.",
			},
			[]string{"kind", "result"},
		),
		LedgerLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ledger_operation_duration_seconds",
				Help:    "Latency of ledger units of work.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
		InvariantViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ledger_invariant_violations_total",
				Help: "Ledger invariant violations detected at mutation time.",
			},
			[]string{"kind"},
		),
		TradeTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_transitions_total",
				Help: "Trade status transitions.",
			},
			[]string{"from", "to"},
		),
		WithdrawalOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "withdrawal_outcomes_total",
				Help: "Withdrawal request outcomes.",
			},
			[]string{"outcome"},
		),
		SweptWithdrawals: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "withdrawal_expired_swept_total",
				Help: "Expired withdrawal requests released by the sweeper.",
			},
		),
	}

	registry.MustRegister(m.LedgerOps, m.LedgerLatency, m.InvariantViolations,
		m.TradeTransitions, m.WithdrawalOutcomes, m.SweptWithdrawals)
	return m
}
