// Package notify implements the donor notification sinks: the in-app inbox,
// Kafka, Telegram and an in-memory recorder.
package notify

import (
	"context"
	"fmt"
	"sync"

	"bloodlink/pkg/domain"
)

// Inbox delivers into the store's notification records.
type Inbox struct {
	store domain.PersistentStore
}

// NewInbox returns a sink that writes Notification records to store.
func NewInbox(store domain.PersistentStore) *Inbox {
	return &Inbox{store: store}
}

// Deliver creates one unread notification for recipientID.
func (s *Inbox) Deliver(ctx context.Context, recipientID, requestID, message string) error {
	if recipientID == "" {
		return fmt.Errorf("%w: empty recipient", domain.ErrDeliveryFailed)
	}
	_, err := s.store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		_, err := tx.CreateNotification(domain.Notification{
			RecipientID: recipientID,
			RequestID:   requestID,
			Message:     message,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: inbox %s: %w", domain.ErrDeliveryFailed, recipientID, err)
	}
	return nil
}

// Message is one delivered notification.
type Message struct {
	RecipientID string `json:"recipient_id"`
	RequestID   string `json:"request_id,omitempty"`
	Text        string `json:"message"`
}

// Recorder keeps deliveries in memory. Recipients marked with Fail are rejected.
type Recorder struct {
	mu       sync.Mutex
	messages []Message
	failing  map[string]bool
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{failing: make(map[string]bool)}
}

// Fail makes deliveries to recipientID fail.
func (r *Recorder) Fail(recipientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing[recipientID] = true
}

// Deliver records the message.
func (r *Recorder) Deliver(_ context.Context, recipientID, requestID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failing[recipientID] {
		return fmt.Errorf("%w: recipient %s rejected", domain.ErrDeliveryFailed, recipientID)
	}
	r.messages = append(r.messages, Message{RecipientID: recipientID, RequestID: requestID, Text: message})
	return nil
}

// Messages returns the recorded deliveries in order.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.messages...)
}
