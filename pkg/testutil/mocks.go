// Package testutil provides common testing utilities and mock implementations.
package testutil

import (
	"errors"
	"sync"

	"github.com/tidwall/gjson"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/domain/ledger"
)

// ErrChannelClosed is returned by RecordingChannel.Send after Close.
var ErrChannelClosed = errors.New("testutil: channel closed")

// RecordingChannel is an in-memory realtime channel that keeps every frame it
// is sent.
type RecordingChannel struct {
	id string

	mu      sync.Mutex
	frames  [][]byte
	sendErr error
	closed  bool
}

// NewRecordingChannel creates a channel with the given connection id.
func NewRecordingChannel(id string) *RecordingChannel {
	return &RecordingChannel{id: id}
}

// ID returns the connection id.
func (c *RecordingChannel) ID() string { return c.id }

// Send records payload unless the channel is closed or failing.
func (c *RecordingChannel) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	if c.sendErr != nil {
		return c.sendErr
	}
	c.frames = append(c.frames, append([]byte(nil), payload...))
	return nil
}

// Close marks the channel closed.
func (c *RecordingChannel) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

// FailWith makes every subsequent Send return err.
func (c *RecordingChannel) FailWith(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

// Closed reports whether Close has been called.
func (c *RecordingChannel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Frames returns the recorded frames as strings.
func (c *RecordingChannel) Frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.frames))
	for i, b := range c.frames {
		out[i] = string(b)
	}
	return out
}

// Types returns the "type" field of each recorded JSON frame.
func (c *RecordingChannel) Types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, b := range c.frames {
		if t := gjson.GetBytes(b, "type"); t.Exists() {
			out = append(out, t.String())
		}
	}
	return out
}

// RecordingPublisher captures ledger and chat events in publish order.
type RecordingPublisher struct {
	mu           sync.Mutex
	transactions []ledger.Transaction
	messages     []chat.Message
}

// PublishTransaction records tx.
func (p *RecordingPublisher) PublishTransaction(tx ledger.Transaction) {
	p.mu.Lock()
	p.transactions = append(p.transactions, tx)
	p.mu.Unlock()
}

// PublishChat records msg.
func (p *RecordingPublisher) PublishChat(msg chat.Message) {
	p.mu.Lock()
	p.messages = append(p.messages, msg)
	p.mu.Unlock()
}

// Transactions returns a copy of the recorded transactions.
func (p *RecordingPublisher) Transactions() []ledger.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ledger.Transaction(nil), p.transactions...)
}

// Messages returns a copy of the recorded chat messages.
func (p *RecordingPublisher) Messages() []chat.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]chat.Message(nil), p.messages...)
}
