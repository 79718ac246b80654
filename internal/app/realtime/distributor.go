package realtime

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/app/domain/ledger"
	"github.com/impnet/service_layer/internal/app/metrics"
	"github.com/impnet/service_layer/internal/app/money"
	"github.com/impnet/service_layer/internal/app/system"
	"github.com/impnet/service_layer/pkg/logger"
)

// Sender delivers encoded envelopes to connections.
type Sender interface {
	SendTo(identityID string, payload []byte) int
	Broadcast(payload []byte) int
}

const (
	// RelayQueueSize bounds the events waiting to be forwarded to other
	// instances. Overflow is dropped.
	RelayQueueSize = 256
	relayTimeout   = 2 * time.Second
)

// Relay forwards encoded events to other instances.
type Relay interface {
	Publish(ctx context.Context, data []byte) error
}

// relayMessage is what travels between instances. An empty Targets list
// means broadcast.
type relayMessage struct {
	Targets  []string        `json:"targets,omitempty"`
	Envelope json.RawMessage `json:"envelope"`
}

type event struct {
	envType string
	source  string
	targets []string
	encoded []byte
	env     *Envelope
	remote  bool
}

// Distributor turns ledger and chat events into envelopes and delivers them
// through a Sender. Events are queued without bound and delivered by a single
// goroutine in the order they were published. Forwarding to a Relay happens on
// a separate goroutine behind a bounded queue, so a slow relay never delays
// local delivery.
type Distributor struct {
	sender Sender
	codec  money.Codec
	log    *logger.Logger

	relayMu      sync.RWMutex
	relay        Relay
	relayQueue   chan []byte
	relayStopped chan struct{}
	relayCancel  context.CancelFunc

	mu      sync.Mutex
	pending []event
	signal  chan struct{}
	done    chan struct{}
	stopped chan struct{}
	running bool
	closed  bool
}

var _ system.Service = (*Distributor)(nil)

// NewDistributor creates a distributor delivering through sender.
func NewDistributor(sender Sender, codec money.Codec, log *logger.Logger) *Distributor {
	if log == nil {
		log = logger.NewDefault("realtime-distributor")
	}
	return &Distributor{
		sender: sender,
		codec:  codec,
		log:    log,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// AttachRelay enables cross-instance fan-out.
func (d *Distributor) AttachRelay(r Relay) {
	d.relayMu.Lock()
	d.relay = r
	d.relayMu.Unlock()
}

func (d *Distributor) Name() string { return "realtime-distributor" }

func (d *Distributor) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running || d.closed {
		return nil
	}
	d.running = true
	d.stopped = make(chan struct{})
	d.relayQueue = make(chan []byte, RelayQueueSize)
	d.relayStopped = make(chan struct{})
	relayCtx, cancel := context.WithCancel(context.Background())
	d.relayCancel = cancel
	go d.loop()
	go d.forward(relayCtx, d.relayQueue, d.relayStopped)
	d.log.Info("realtime distributor started")
	return nil
}

// Stop delivers what is already queued and then stops the dispatcher.
func (d *Distributor) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.closed = true
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.closed = true
	stopped, relayStopped, relayCancel := d.stopped, d.relayStopped, d.relayCancel
	close(d.done)
	d.mu.Unlock()

	select {
	case <-stopped:
	case <-ctx.Done():
		relayCancel()
		return ctx.Err()
	}
	// the dispatcher has exited, so nothing sends on relayQueue any more
	close(d.relayQueue)
	grace := time.NewTimer(relayTimeout)
	defer grace.Stop()
	defer relayCancel()
	select {
	case <-relayStopped:
	case <-grace.C:
		d.log.Warn("relay backlog not flushed before shutdown")
	case <-ctx.Done():
		return ctx.Err()
	}
	d.log.Info("realtime distributor stopped")
	return nil
}

// PublishTransaction queues a transaction.created event for the sender and
// receiver of tx.
func (d *Distributor) PublishTransaction(tx ledger.Transaction) {
	targets := make([]string, 0, 2)
	if tx.FromAccount != "" {
		targets = append(targets, tx.FromAccount)
	}
	if tx.ToAccount != "" && tx.ToAccount != tx.FromAccount {
		targets = append(targets, tx.ToAccount)
	}
	d.enqueue(event{
		envType: EventTransactionCreated,
		source:  "local",
		targets: targets,
		env: &Envelope{
			Type:      EventTransactionCreated,
			Payload:   NewTransactionPayload(tx, d.codec),
			Timestamp: time.Now().UTC(),
		},
	})
}

// PublishChat queues a chat.message event for everyone.
func (d *Distributor) PublishChat(msg chat.Message) {
	d.enqueue(event{
		envType: EventChatMessage,
		source:  "local",
		env: &Envelope{
			Type:      EventChatMessage,
			Payload:   NewChatPayload(msg),
			Timestamp: time.Now().UTC(),
		},
	})
}

// DeliverRemote queues an event relayed from another instance. It is not
// relayed again.
func (d *Distributor) DeliverRemote(data []byte) {
	var msg relayMessage
	if err := json.Unmarshal(data, &msg); err != nil || len(msg.Envelope) == 0 {
		d.log.WithError(err).Warn("discarding malformed relay message")
		return
	}
	var head struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(msg.Envelope, &head)

	d.enqueue(event{
		envType: head.Type,
		source:  "relay",
		targets: msg.Targets,
		encoded: msg.Envelope,
		remote:  true,
	})
}

// Pending returns the number of queued events.
func (d *Distributor) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

func (d *Distributor) enqueue(ev event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.WithField("type", ev.envType).Debug("distributor stopped; event dropped")
		return
	}
	d.pending = append(d.pending, ev)
	d.mu.Unlock()

	metrics.RecordEvent(ev.envType, ev.source)
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

func (d *Distributor) loop() {
	defer close(d.stopped)
	for {
		select {
		case <-d.signal:
			d.drain()
		case <-d.done:
			d.drain()
			return
		}
	}
}

func (d *Distributor) drain() {
	for {
		d.mu.Lock()
		batch := d.pending
		d.pending = nil
		d.mu.Unlock()
		if len(batch) == 0 {
			return
		}
		for _, ev := range batch {
			d.dispatch(ev)
		}
	}
}

func (d *Distributor) dispatch(ev event) {
	data := ev.encoded
	if data == nil {
		var err error
		if data, err = json.Marshal(ev.env); err != nil {
			d.log.WithError(err).WithField("type", ev.envType).Error("encode envelope")
			return
		}
	}

	if len(ev.targets) == 0 {
		d.sender.Broadcast(data)
	} else {
		for _, id := range ev.targets {
			d.sender.SendTo(id, data)
		}
	}

	if ev.remote {
		return
	}
	d.relayMu.RLock()
	relay := d.relay
	d.relayMu.RUnlock()
	if relay == nil {
		return
	}
	msg, err := json.Marshal(relayMessage{Targets: ev.targets, Envelope: data})
	if err != nil {
		return
	}
	select {
	case d.relayQueue <- msg:
	default:
		metrics.RecordRelayPublish("dropped")
		d.log.WithField("type", ev.envType).Warn("relay queue full; event not forwarded")
	}
}

// forward publishes queued relay messages until queue is closed or ctx is
// cancelled.
func (d *Distributor) forward(ctx context.Context, queue <-chan []byte, stopped chan<- struct{}) {
	defer close(stopped)
	for {
		var msg []byte
		select {
		case <-ctx.Done():
			return
		case m, ok := <-queue:
			if !ok {
				return
			}
			msg = m
		}

		d.relayMu.RLock()
		relay := d.relay
		d.relayMu.RUnlock()
		if relay == nil {
			continue
		}
		pubCtx, cancel := context.WithTimeout(ctx, relayTimeout)
		err := relay.Publish(pubCtx, msg)
		cancel()
		if err != nil {
			metrics.RecordRelayPublish("failed")
			d.log.WithError(err).Warn("relay publish failed")
			continue
		}
		metrics.RecordRelayPublish("ok")
	}
}

// RelayBacklog returns the number of events waiting to be forwarded.
func (d *Distributor) RelayBacklog() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.relayQueue == nil {
		return 0
	}
	return len(d.relayQueue)
}
