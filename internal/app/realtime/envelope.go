package realtime

import (
	"time"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/money"
)

// Event types.
const (
	EventTransactionCreated = "transaction.created"
	EventChatMessage        = "chat.message"
	EventPong               = "pong"
)

// Envelope is the frame written to every client.
type Envelope struct {
	Type      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}

// TransactionPayload is the client view of a committed transaction.
type TransactionPayload struct {
	ID          string    `json:"id"`
	FromAccount string    `json:"from_account,omitempty"`
	ToAccount   string    `json:"to_account"`
	Amount      string    `json:"amount"`
	AmountMinor int64     `json:"amount_minor"`
	Currency    string    `json:"currency,omitempty"`
	Kind        string    `json:"kind"`
	Description string    `json:"description,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTransactionPayload renders tx with codec.
func NewTransactionPayload(tx ledger.Transaction, codec money.Codec) TransactionPayload {
	return TransactionPayload{
		ID:          tx.ID,
		FromAccount: tx.FromAccount,
		ToAccount:   tx.ToAccount,
		Amount:      codec.Format(tx.Amount),
		AmountMinor: tx.Amount,
		Currency:    codec.Currency,
		Kind:        string(tx.Kind),
		Description: tx.Description,
		Status:      string(tx.Status),
		CreatedAt:   tx.CreatedAt,
	}
}

// ChatPayload is the client view of a chat message.
type ChatPayload struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"sender_id"`
	Message   string    `json:"message"`
	Type      string    `json:"message_type"`
	CreatedAt time.Time `json:"created_at"`
}

// NewChatPayload renders msg.
func NewChatPayload(msg chat.Message) ChatPayload {
	return ChatPayload{
		ID:        msg.ID,
		SenderID:  msg.SenderID,
		Message:   msg.Body,
		Type:      string(msg.Type),
		CreatedAt: msg.CreatedAt,
	}
}
