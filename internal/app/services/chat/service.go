// Package chat stores messages posted to the shared room and hands them to
// the realtime distributor.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/storage"
	"github.com/impnet/service_layer/pkg/logger"
)

const (
	// MaxMessageLength is measured in runes.
	MaxMessageLength = 2000
	// MaxPageSize caps message listings.
	MaxPageSize = 100
)

var (
	ErrEmptyMessage   = errors.New("message cannot be empty")
	ErrMessageTooLong = fmt.Errorf("message exceeds %d characters", MaxMessageLength)
	ErrInvalidType    = errors.New("unsupported message type")
	ErrMissingSender  = errors.New("sender id required")
)

// Publisher receives stored messages.
type Publisher interface {
	PublishChat(msg chat.Message)
}

// Service posts and lists chat messages.
type Service struct {
	store     storage.ChatStore
	publisher Publisher
	log       *logger.Logger
}

// New creates a chat service.
func New(store storage.ChatStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("chat")
	}
	return &Service{store: store, log: log}
}

// AttachPublisher sets the sink for stored messages.
func (s *Service) AttachPublisher(p Publisher) {
	s.publisher = p
}

// Post stores a message from senderID and publishes it. An empty type means
// text.
func (s *Service) Post(ctx context.Context, senderID, body string, typ chat.MessageType) (chat.Message, error) {
	senderID = strings.TrimSpace(senderID)
	body = strings.TrimSpace(body)
	switch {
	case senderID == "":
		return chat.Message{}, ErrMissingSender
	case body == "":
		return chat.Message{}, ErrEmptyMessage
	case utf8.RuneCountInString(body) > MaxMessageLength:
		return chat.Message{}, ErrMessageTooLong
	}

	switch typ {
	case "":
		typ = chat.TypeText
	case chat.TypeText, chat.TypeSystem:
	default:
		return chat.Message{}, fmt.Errorf("%w: %s", ErrInvalidType, typ)
	}

	msg, err := s.store.CreateMessage(ctx, chat.Message{
		SenderID:  senderID,
		Body:      body,
		Type:      typ,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("store chat message: %w", err)
	}
	s.log.WithField("message_id", msg.ID).WithField("sender_id", senderID).Debug("chat message posted")

	if s.publisher != nil {
		s.publisher.PublishChat(msg)
	}
	return msg, nil
}

// List returns the most recent messages, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	return s.store.ListMessages(ctx, limit)
}

// IsValidationError reports whether err was caused by bad input.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrMessageTooLong) ||
		errors.Is(err, ErrInvalidType) ||
		errors.Is(err, ErrMissingSender)
}
