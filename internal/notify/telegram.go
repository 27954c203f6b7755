package notify

import (
	"context"
	"errors"
	"fmt"

	"bloodlink/pkg/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// ErrNoChat reports a recipient without a Telegram chat.
var ErrNoChat = errors.New("recipient has no telegram chat")

// TelegramSender is satisfied by *tgbotapi.BotAPI.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// ChatResolver maps a recipient id to a Telegram chat id.
type ChatResolver interface {
	ChatID(ctx context.Context, recipientID string) (int64, error)
}

// NewTelegramBot authorizes token against the Bot API.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	return api, nil
}

// StoreChats resolves chats from donor profiles in the identity store.
type StoreChats struct {
	store domain.PersistentStore
}

// NewStoreChats returns a resolver over store.
func NewStoreChats(store domain.PersistentStore) StoreChats {
	return StoreChats{store: store}
}

// ChatID implements ChatResolver.
func (r StoreChats) ChatID(ctx context.Context, recipientID string) (int64, error) {
	var chat int64
	err := r.store.View(ctx, func(v domain.TransactionView) error {
		identity, ok := v.FindIdentity(recipientID)
		if !ok {
			return fmt.Errorf("identity %q: %w", recipientID, domain.ErrNotFound)
		}
		if p, ok := identity.Profile.(domain.DonorProfile); ok {
			chat = p.ChatID
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if chat == 0 {
		return 0, fmt.Errorf("%s: %w", recipientID, ErrNoChat)
	}
	return chat, nil
}

// Telegram sends notifications as bot messages.
type Telegram struct {
	sender TelegramSender
	chats  ChatResolver
}

// NewTelegram returns a sink sending through sender.
func NewTelegram(sender TelegramSender, chats ChatResolver) *Telegram {
	return &Telegram{sender: sender, chats: chats}
}

// Deliver sends message to the recipient's chat.
func (s *Telegram) Deliver(ctx context.Context, recipientID, _ string, message string) error {
	chatID, err := s.chats.ChatID(ctx, recipientID)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}
	if _, err := s.sender.Send(tgbotapi.NewMessage(chatID, message)); err != nil {
		return fmt.Errorf("%w: telegram: %w", domain.ErrDeliveryFailed, err)
	}
	return nil
}
