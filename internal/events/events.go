// Package events carries the audit feed. Events are emitted after the unit of
// work that produced them commits; delivery is best effort because the ledger
// and trade history tables are the durable record.
package events

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	LedgerCredit   = "ledger.credit"
	LedgerDebit    = "ledger.debit"
	LedgerLock     = "ledger.lock"
	LedgerUnlock   = "ledger.unlock"
	LedgerTransfer = "ledger.transfer"

	TradeStatusChanged = "trade.status_changed"

	WithdrawalRequested      = "withdrawal.requested"
	WithdrawalConfirmed      = "withdrawal.confirmed"
	WithdrawalSubmitOnchain  = "withdrawal.submit_onchain"
	WithdrawalExpired        = "withdrawal.expired"
	WithdrawalRejected       = "withdrawal.rejected"
	NotificationCodeDelivery = "notification.otp"
)

const eventVersion = 1

// Event is the envelope written to every sink.
type Event struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	EventVersion int       `json:"event_version"`
	Timestamp    time.Time `json:"timestamp"`
	Reference    string    `json:"reference"`
	Payload      any       `json:"payload"`
}

// New builds an event whose id is derived from its type, reference and the
// optional discriminators, so redelivery of the same fact carries the same id.
func New(eventType, reference string, payload any, discriminators ...string) Event {
	parts := append([]string{eventType, reference}, discriminators...)
	return Event{
		EventID:      DeterministicEventID(parts...),
		EventType:    eventType,
		EventVersion: eventVersion,
		Timestamp:    time.Now().UTC(),
		Reference:    reference,
		Payload:      payload,
	}
}

func DeterministicEventID(parts ...string) string {
	joined := strings.Join(parts, "|")
	if joined == "" {
		return uuid.Nil.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(joined)).String()
}

func (e Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.EventType == "" {
		return fmt.Errorf("event_type is required")
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("timestamp is required")
	}
	return nil
}

// Emitter is handed to the engines. It never fails the caller.
type Emitter interface {
	Emit(ctx context.Context, events ...Event)
}

type discard struct{}

func (discard) Emit(context.Context, ...Event) {}

// Discard drops every event.
var Discard Emitter = discard{}

// Topics maps event families onto sink topics.
type Topics struct {
	Ledger       string
	Trade        string
	Withdrawal   string
	Payout       string
	Notification string
}

func DefaultTopics() Topics {
	return Topics{
		Ledger:       "wallet.ledger",
		Trade:        "wallet.trades",
		Withdrawal:   "wallet.withdrawals",
		Payout:       "wallet.payouts",
		Notification: "notifications.otp",
	}
}

func (t Topics) For(eventType string) string {
	switch {
	case eventType == WithdrawalSubmitOnchain:
		return t.Payout
	case eventType == NotificationCodeDelivery:
		return t.Notification
	case strings.HasPrefix(eventType, "ledger."):
		return t.Ledger
	case strings.HasPrefix(eventType, "trade."):
		return t.Trade
	default:
		return t.Withdrawal
	}
}

// Dispatcher is the Emitter backed by a Publisher.
type Dispatcher struct {
	publisher Publisher
	topics    Topics
	metrics   *Metrics
}

func NewDispatcher(publisher Publisher, topics Topics, metrics *Metrics) *Dispatcher {
	return &Dispatcher{publisher: publisher, topics: topics, metrics: metrics}
}

func (d *Dispatcher) Emit(ctx context.Context, events ...Event) {
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			log.Printf("[EVENTS] dropping invalid event %s: %v", ev.EventType, err)
			continue
		}
		topic := d.topics.For(ev.EventType)
		err := d.publisher.Publish(ctx, topic, ev.Reference, ev)
		if d.metrics != nil {
			d.metrics.observe(topic, err)
		}
		if err != nil {
			log.Printf("[EVENTS] publish %s (%s) to %s failed: %v", ev.EventType, ev.EventID, topic, err)
		}
	}
}

// Recorder keeps emitted events in memory. Used by tests and local runs.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Emit(ctx context.Context, events ...Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the event types recorded so far, in order.
func (r *Recorder) Types() []string {
	var out []string
	for _, ev := range r.Events() {
		out = append(out, ev.EventType)
	}
	return out
}
