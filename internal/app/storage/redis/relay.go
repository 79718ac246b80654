package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	goredis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/impnet/service_layer/internal/app/system"
	"github.com/impnet/service_layer/pkg/logger"
)

// Relay publishes opaque payloads on a Redis channel and hands payloads
// published by other instances to a local handler. An instance never receives
// its own messages.
type Relay struct {
	client  *goredis.Client
	channel string
	origin  string
	log     *logger.Logger

	mu      sync.Mutex
	handler func([]byte)
	sub     *goredis.PubSub
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

var _ system.Service = (*Relay)(nil)

type relayFrame struct {
	Origin string          `json:"origin"`
	Data   json.RawMessage `json:"data"`
}

// NewRelay creates a relay on channel.
func NewRelay(client *goredis.Client, channel string, log *logger.Logger) *Relay {
	if log == nil {
		log = logger.NewDefault("realtime-relay")
	}
	return &Relay{
		client:  client,
		channel: channel,
		origin:  uuid.NewString(),
		log:     log,
	}
}

// OnMessage sets the handler for remote payloads. Call before Start.
func (r *Relay) OnMessage(handler func([]byte)) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
}

// Publish sends data to every other instance. data must be valid JSON.
func (r *Relay) Publish(ctx context.Context, data []byte) error {
	frame, err := json.Marshal(relayFrame{Origin: r.origin, Data: data})
	if err != nil {
		return fmt.Errorf("encode relay frame: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, frame).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", r.channel, err)
	}
	return nil
}

func (r *Relay) Name() string { return "realtime-relay" }

// Start subscribes and begins delivering remote payloads. It returns once the
// subscription is confirmed.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	sub := r.client.Subscribe(runCtx, r.channel)
	if _, err := sub.Receive(ctx); err != nil {
		cancel()
		_ = sub.Close()
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	r.sub = sub
	r.cancel = cancel
	r.running = true

	ch := sub.Channel()
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-runCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				r.dispatch(msg.Payload)
			}
		}
	}()

	r.log.Infof("realtime relay subscribed to %s", r.channel)
	return nil
}

func (r *Relay) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	cancel, sub := r.cancel, r.sub
	r.running = false
	r.cancel = nil
	r.sub = nil
	r.mu.Unlock()

	cancel()
	if err := sub.Close(); err != nil {
		r.log.WithError(err).Warn("close relay subscription")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Relay) dispatch(payload string) {
	var frame relayFrame
	if err := json.Unmarshal([]byte(payload), &frame); err != nil {
		r.log.WithError(err).Warn("discard malformed relay frame")
		return
	}
	if frame.Origin == r.origin {
		return
	}
	r.mu.Lock()
	handler := r.handler
	r.mu.Unlock()
	if handler != nil {
		handler(frame.Data)
	}
}
