package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"bloodlink/pkg/domain"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// MessageProducer publishes one Kafka message at a time.
type MessageProducer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaConfig configures the traced Kafka writer.
type KafkaConfig struct {
	Broker       string
	Topic        string
	ClientID     string
	BatchTimeout time.Duration
	BatchSize    int
}

// NewKafkaProducer builds a kafka-go writer wrapped with trace propagation.
func NewKafkaProducer(cfg KafkaConfig, tp trace.TracerProvider) (MessageProducer, error) {
	if cfg.Broker == "" || cfg.Topic == "" {
		return nil, errors.New("notify: kafka broker and topic are required")
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 10 * time.Millisecond
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "bloodlink"
	}
	base := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Broker),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: batchTimeout,
		BatchSize:    batchSize,
		RequiredAcks: kafka.RequireOne,
	}
	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(tp),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes([]attribute.KeyValue{
			semconv.MessagingDestinationNameKey.String(cfg.Topic),
			attribute.String("messaging.kafka.client_id", clientID),
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka writer: %w", err)
	}
	return writer, nil
}

// KafkaEvent is the JSON value published per notification.
type KafkaEvent struct {
	RecipientID string    `json:"recipient_id"`
	RequestID   string    `json:"request_id"`
	Message     string    `json:"message"`
	SentAt      time.Time `json:"sent_at"`
}

// Kafka publishes notifications keyed by recipient so one donor's messages
// stay ordered on a partition.
type Kafka struct {
	producer MessageProducer
	now      func() time.Time
}

// NewKafka returns a sink over producer.
func NewKafka(producer MessageProducer) *Kafka {
	return &Kafka{producer: producer, now: time.Now}
}

// Deliver publishes the event and returns once the broker acknowledged it.
func (s *Kafka) Deliver(ctx context.Context, recipientID, requestID, message string) error {
	payload, err := json.Marshal(KafkaEvent{
		RecipientID: recipientID,
		RequestID:   requestID,
		Message:     message,
		SentAt:      s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: encode: %w", domain.ErrDeliveryFailed, err)
	}
	if err := s.producer.WriteMessage(ctx, kafka.Message{Key: []byte(recipientID), Value: payload}); err != nil {
		return fmt.Errorf("%w: kafka: %w", domain.ErrDeliveryFailed, err)
	}
	return nil
}

// Close closes the producer.
func (s *Kafka) Close() error { return s.producer.Close() }
