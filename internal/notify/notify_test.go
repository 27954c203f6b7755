package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"bloodlink/internal/infra/persistence/memory"
	"bloodlink/pkg/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/segmentio/kafka-go"
)

func TestInboxDeliver(t *testing.T) {
	store := memory.NewStore(domain.NewRulesEngine())
	sink := NewInbox(store)

	if err := sink.Deliver(context.Background(), "donor-123", "req-1", "please donate"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	notes := store.ListNotifications()
	if len(notes) != 1 {
		t.Fatalf("expected one notification, got %d", len(notes))
	}
	n := notes[0]
	if n.RecipientID != "donor-123" || n.RequestID != "req-1" || n.Message != "please donate" || n.Read {
		t.Fatalf("unexpected notification %+v", n)
	}
	if err := sink.Deliver(context.Background(), "", "req-1", "x"); !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure for empty recipient, got %v", err)
	}
}

func TestRecorder(t *testing.T) {
	r := NewRecorder()
	r.Fail("bad")
	if err := r.Deliver(context.Background(), "bad", "req", "m"); !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Fatalf("expected failure, got %v", err)
	}
	if err := r.Deliver(context.Background(), "good", "req", "m"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0].RecipientID != "good" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
}

type captureProducer struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (p *captureProducer) WriteMessage(_ context.Context, msg kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.messages = append(p.messages, msg)
	return nil
}

func (p *captureProducer) Close() error {
	p.closed = true
	return nil
}

func TestKafkaDeliver(t *testing.T) {
	producer := &captureProducer{}
	sink := NewKafka(producer)
	sink.now = func() time.Time { return time.Date(2025, 9, 28, 10, 0, 0, 0, time.UTC) }

	if err := sink.Deliver(context.Background(), "donor-123", "req-1", "hello"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(producer.messages) != 1 {
		t.Fatalf("expected one message, got %d", len(producer.messages))
	}
	msg := producer.messages[0]
	if string(msg.Key) != "donor-123" {
		t.Fatalf("expected recipient key, got %q", msg.Key)
	}
	var event KafkaEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.RequestID != "req-1" || event.Message != "hello" || !event.SentAt.Equal(sink.now()) {
		t.Fatalf("unexpected event %+v", event)
	}

	producer.err = errors.New("broker down")
	if err := sink.Deliver(context.Background(), "donor-123", "req-1", "hello"); !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
	if err := sink.Close(); err != nil || !producer.closed {
		t.Fatalf("expected producer closed, err=%v", err)
	}
}

func TestNewKafkaProducerRequiresBrokerAndTopic(t *testing.T) {
	if _, err := NewKafkaProducer(KafkaConfig{Topic: "t"}, nil); err == nil {
		t.Fatalf("expected error without broker")
	}
	if _, err := NewKafkaProducer(KafkaConfig{Broker: "localhost:9092"}, nil); err == nil {
		t.Fatalf("expected error without topic")
	}
}

type captureSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (s *captureSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if s.err != nil {
		return tgbotapi.Message{}, s.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		s.sent = append(s.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func TestTelegramDeliver(t *testing.T) {
	store := memory.NewStore(domain.NewRulesEngine())
	if _, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateIdentity(domain.Identity{ID: "donor-123", Username: "John Doe", Profile: domain.DonorProfile{BloodType: domain.BloodTypeBNeg, ChatID: 4242}}); err != nil {
			return err
		}
		_, err := tx.CreateIdentity(domain.Identity{ID: "donor-456", Username: "Jane Smith", Profile: domain.DonorProfile{BloodType: domain.BloodTypeAPos}})
		return err
	}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	sender := &captureSender{}
	sink := NewTelegram(sender, NewStoreChats(store))

	if err := sink.Deliver(context.Background(), "donor-123", "req-1", "hello"); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if len(sender.sent) != 1 || sender.sent[0].ChatID != 4242 || sender.sent[0].Text != "hello" {
		t.Fatalf("unexpected sends %+v", sender.sent)
	}

	err := sink.Deliver(context.Background(), "donor-456", "req-1", "hello")
	if !errors.Is(err, domain.ErrDeliveryFailed) || !errors.Is(err, ErrNoChat) {
		t.Fatalf("expected no chat failure, got %v", err)
	}
	if err := sink.Deliver(context.Background(), "ghost", "req-1", "hello"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	sender.err = errors.New("blocked by user")
	if err := sink.Deliver(context.Background(), "donor-123", "req-1", "hello"); !errors.Is(err, domain.ErrDeliveryFailed) {
		t.Fatalf("expected delivery failure, got %v", err)
	}
}
