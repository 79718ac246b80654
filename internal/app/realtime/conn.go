package realtime

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/impnet/service_layer/pkg/logger"
)

// ConnConfig tunes WebSocket channels.
type ConnConfig struct {
	SendBuffer     int
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

// DefaultConnConfig returns the defaults used when a field is zero.
func DefaultConnConfig() ConnConfig {
	return ConnConfig{
		SendBuffer:     64,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 8 << 10,
	}
}

func (c ConnConfig) withDefaults() ConnConfig {
	d := DefaultConnConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	return c
}

// pongWait is how long a connection may stay silent before reads fail.
func (c ConnConfig) pongWait() time.Duration {
	return c.PingInterval * 2
}

// Conn is a Channel over a WebSocket. Outbound frames go through a bounded
// queue drained by one writer goroutine, which also sends pings.
type Conn struct {
	id         string
	identityID string
	ws         *websocket.Conn
	cfg        ConnConfig
	log        *logger.Logger

	// mu orders Send against Close so nothing is queued once closed is set
	mu        sync.Mutex
	closed    bool
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ Channel = (*Conn)(nil)

// NewConn wraps ws and starts its writer.
func NewConn(ws *websocket.Conn, identityID string, cfg ConnConfig, log *logger.Logger) *Conn {
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.NewDefault("realtime-conn")
	}
	c := &Conn{
		id:         uuid.NewString(),
		identityID: identityID,
		ws:         ws,
		cfg:        cfg,
		log:        log,
		send:       make(chan []byte, cfg.SendBuffer),
		done:       make(chan struct{}),
	}
	c.wg.Add(1)
	go c.writePump()
	return c
}

func (c *Conn) ID() string { return c.id }

// IdentityID returns the identity that owns the connection.
func (c *Conn) IdentityID() string { return c.identityID }

// Send queues payload. It fails immediately when the queue is full or the
// connection is closed.
func (c *Conn) Send(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. It is safe to call more than
// once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)
		c.wg.Wait()
		_ = c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		err = c.ws.Close()
	})
	return err
}

// ReadLoop reads text frames until the peer goes away, passing each to
// handle. It returns the read error that ended the loop.
func (c *Conn) ReadLoop(handle func(data []byte)) error {
	c.ws.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.cfg.pongWait()))
	})

	for {
		kind, data, err := c.ws.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.TextMessage {
			continue
		}
		handle(data)
	}
}

func (c *Conn) writePump() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.WithError(err).WithField("channel_id", c.id).Debug("websocket write failed")
				go c.Close()
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteTimeout)); err != nil {
				c.log.WithError(err).WithField("channel_id", c.id).Debug("websocket ping failed")
				go c.Close()
				return
			}
		}
	}
}
