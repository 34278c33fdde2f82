package events

import (
	"context"
	"time"
)

// CodeDelivery is the request handed to the notification service.
type CodeDelivery struct {
	UserID    string    `json:"user_id"`
	RequestID string    `json:"request_id"`
	Code      string    `json:"code"`
	Purpose   string    `json:"purpose"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Redacted masks the code for sinks that persist what they receive in plain text.
func (d CodeDelivery) Redacted() any {
	d.Code = "******"
	return d
}

// NotificationCodeSender hands one-time codes to the notification transport.
// Unlike audit events, a failed hand-off is returned to the caller.
type NotificationCodeSender struct {
	publisher Publisher
	topic     string
}

func NewNotificationCodeSender(publisher Publisher, topic string) *NotificationCodeSender {
	return &NotificationCodeSender{publisher: publisher, topic: topic}
}

func (s *NotificationCodeSender) SendCode(ctx context.Context, d CodeDelivery) error {
	ev := New(NotificationCodeDelivery, d.RequestID, d)
	return s.publisher.Publish(ctx, s.topic, d.UserID, ev)
}
