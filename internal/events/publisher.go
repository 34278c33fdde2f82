package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/go-redis/redis/v8"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value any) error
	Close() error
}

// Fanout publishes to every sink and reports the joined failures.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic, key string, value any) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, key, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// KafkaPublisher writes JSON messages keyed by reference so every event of one
// trade or withdrawal lands on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
}

func NewKafkaPublisher(brokers []string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V3_7_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(producer), nil
}

func NewKafkaPublisherWithProducer(producer sarama.SyncProducer) *KafkaPublisher {
	return &KafkaPublisher{producer: producer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, topic, key string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal kafka payload: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	if p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// RedisPublisher appends JSON messages to a Redis list named after the topic.
type RedisPublisher struct {
	client *redis.Client
	prefix string
}

func NewRedisPublisher(client *redis.Client, prefix string) *RedisPublisher {
	return &RedisPublisher{client: client, prefix: prefix}
}

func (p *RedisPublisher) Publish(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return p.client.RPush(ctx, p.prefix+topic, data).Err()
}

func (p *RedisPublisher) Close() error { return nil }

// redactor is implemented by payloads carrying secrets that must not reach logs.
type redactor interface {
	Redacted() any
}

func redact(value any) any {
	switch v := value.(type) {
	case redactor:
		return v.Redacted()
	case Event:
		if r, ok := v.Payload.(redactor); ok {
			v.Payload = r.Redacted()
		}
		return v
	}
	return value
}

// LogPublisher writes each message as an audit line to the standard logger.
// Secret-bearing payloads are redacted first.
type LogPublisher struct{}

func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

func (LogPublisher) Publish(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(struct {
		Topic string `json:"topic"`
		Key   string `json:"key"`
		Value any    `json:"value"`
	}{topic, key, redact(value)})
	if err != nil {
		return err
	}
	log.Printf("AUDIT: %s", string(data))
	return nil
}

func (LogPublisher) Close() error { return nil }
