package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gitsignal/incident-engine/internal/models"
)

// KafkaProducerConfig contains configurable parameters for the Kafka sink.
type KafkaProducerConfig struct {
	// Brokers is the list of Kafka broker addresses (host:port).
	Brokers []string

	// Topic is the alert topic to write to.
	Topic string

	// MaxAttempts is how many times the producer will retry a produce on
	// transient error. Defaults to 3 if <= 0.
	MaxAttempts int

	// WriteTimeout is the per-attempt timeout for write operations.
	// Defaults to 10s if zero.
	WriteTimeout time.Duration

	// Balancer decides partition selection. If nil, a Hash balancer is used,
	// so alerts with the same dedupKey land on the same partition and
	// downstream consumers see per-incident ordering.
	Balancer kafka.Balancer
}

// KafkaProducer publishes emitted alerts to the notification bus. The Slack
// delivery worker and the email dispatcher consume from this topic.
type KafkaProducer struct {
	writer      *kafka.Writer
	topic       string
	maxAttempts int
}

// NewKafkaProducer constructs a KafkaProducer.
func NewKafkaProducer(cfg KafkaProducerConfig) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.Balancer == nil {
		cfg.Balancer = &kafka.Hash{}
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     cfg.Balancer,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})

	return &KafkaProducer{
		writer:      w,
		topic:       cfg.Topic,
		maxAttempts: cfg.MaxAttempts,
	}, nil
}

// Deliver produces the alert keyed by its dedupKey, retrying transient
// failures with capped exponential backoff. Test alerts carry a header so
// consumers can keep them off the production priority path.
func (p *KafkaProducer) Deliver(ctx context.Context, alert models.Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(alert.DedupKey),
		Value: value,
		Time:  time.Now().UTC(),
	}
	if alert.Test {
		msg.Headers = append(msg.Headers, kafka.Header{Key: "x-alert-test", Value: []byte("true")})
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		ctxAttempt, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.writer.WriteMessages(ctxAttempt, msg)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// Name implements Sink.
func (p *KafkaProducer) Name() string { return "kafka" }

// Close shuts down the underlying writer and releases resources.
func (p *KafkaProducer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
