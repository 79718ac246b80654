// Package realtime tracks live client connections and pushes ledger and chat
// events to them.
package realtime

import (
	"context"
	"errors"
	"sync"

	"github.com/impnet/service_layer/internal/app/metrics"
	"github.com/impnet/service_layer/internal/app/system"
	"github.com/impnet/service_layer/pkg/logger"
)

var (
	// ErrClosed is returned by Send on a closed channel.
	ErrClosed = errors.New("channel closed")
	// ErrSendBufferFull is returned by Send when the outbound queue is full.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Channel is one live connection. Send must not block: it queues payload for
// the channel's own writer or fails.
type Channel interface {
	ID() string
	Send(payload []byte) error
	Close() error
}

// Registry maps identities to their open channels. An identity may hold any
// number of channels at once.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]map[string]Channel
	log   *logger.Logger
}

var _ system.Service = (*Registry)(nil)

// NewRegistry creates an initialized registry.
func NewRegistry(log *logger.Logger) *Registry {
	if log == nil {
		log = logger.NewDefault("realtime-registry")
	}
	r := &Registry{log: log}
	r.Init()
	return r
}

func (r *Registry) Name() string { return "realtime-registry" }

func (r *Registry) Start(context.Context) error {
	r.Init()
	return nil
}

func (r *Registry) Stop(context.Context) error {
	r.Clear()
	return nil
}

// Init prepares an empty registry. It keeps existing entries if already
// initialized.
func (r *Registry) Init() {
	r.mu.Lock()
	if r.conns == nil {
		r.conns = make(map[string]map[string]Channel)
	}
	r.mu.Unlock()
}

// Clear closes and forgets every channel.
func (r *Registry) Clear() {
	r.mu.Lock()
	old := r.conns
	r.conns = make(map[string]map[string]Channel)
	r.mu.Unlock()

	closed := 0
	for _, set := range old {
		for _, ch := range set {
			_ = ch.Close()
			closed++
		}
	}
	metrics.SetRealtimeConnections(0)
	if closed > 0 {
		r.log.Infof("closed %d realtime connections", closed)
	}
}

// Register adds ch to identityID's set.
func (r *Registry) Register(identityID string, ch Channel) {
	r.mu.Lock()
	set, ok := r.conns[identityID]
	if !ok {
		set = make(map[string]Channel)
		r.conns[identityID] = set
	}
	set[ch.ID()] = ch
	n := r.lenLocked()
	r.mu.Unlock()

	metrics.SetRealtimeConnections(n)
	r.log.WithField("identity_id", identityID).WithField("channel_id", ch.ID()).Debug("channel registered")
}

// Unregister removes exactly ch from identityID's set and reports whether it
// was present. It does not close ch.
func (r *Registry) Unregister(identityID string, ch Channel) bool {
	r.mu.Lock()
	set, ok := r.conns[identityID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	current, ok := set[ch.ID()]
	if !ok || current != ch {
		r.mu.Unlock()
		return false
	}
	delete(set, ch.ID())
	if len(set) == 0 {
		delete(r.conns, identityID)
	}
	n := r.lenLocked()
	r.mu.Unlock()

	metrics.SetRealtimeConnections(n)
	r.log.WithField("identity_id", identityID).WithField("channel_id", ch.ID()).Debug("channel unregistered")
	return true
}

// SendTo queues payload on every channel of identityID and returns the number
// of successful deliveries. Failed channels are dropped.
func (r *Registry) SendTo(identityID string, payload []byte) int {
	r.mu.RLock()
	targets := make([]target, 0, len(r.conns[identityID]))
	for _, ch := range r.conns[identityID] {
		targets = append(targets, target{identity: identityID, ch: ch})
	}
	r.mu.RUnlock()

	return r.deliver(targets, payload)
}

// Broadcast queues payload on every channel and returns the number of
// successful deliveries.
func (r *Registry) Broadcast(payload []byte) int {
	r.mu.RLock()
	targets := make([]target, 0, r.lenLocked())
	for identity, set := range r.conns {
		for _, ch := range set {
			targets = append(targets, target{identity: identity, ch: ch})
		}
	}
	r.mu.RUnlock()

	return r.deliver(targets, payload)
}

// Connections returns the number of channels identityID holds.
func (r *Registry) Connections(identityID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns[identityID])
}

// Len returns the total number of channels.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lenLocked()
}

type target struct {
	identity string
	ch       Channel
}

func (r *Registry) deliver(targets []target, payload []byte) int {
	delivered := 0
	for _, t := range targets {
		if err := t.ch.Send(payload); err != nil {
			metrics.RecordDelivery(false)
			r.log.WithError(err).
				WithField("identity_id", t.identity).
				WithField("channel_id", t.ch.ID()).
				Warn("realtime delivery failed; dropping channel")
			if r.Unregister(t.identity, t.ch) {
				_ = t.ch.Close()
			}
			continue
		}
		metrics.RecordDelivery(true)
		delivered++
	}
	return delivered
}

func (r *Registry) lenLocked() int {
	n := 0
	for _, set := range r.conns {
		n += len(set)
	}
	return n
}
