package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"

	"github.com/impnet/service_layer/internal/app/domain/chat"
	"github.com/impnet/service_layer/internal/httputil"
	"github.com/impnet/service_layer/pkg/logger"
)

// ChatPoster stores inbound chat frames.
type ChatPoster interface {
	Post(ctx context.Context, senderID, body string, typ chat.MessageType) (chat.Message, error)
}

// Handler upgrades authenticated requests to WebSocket channels.
type Handler struct {
	registry *Registry
	chat     ChatPoster
	upgrader websocket.Upgrader
	cfg      ConnConfig
	log      *logger.Logger
}

// NewHandler creates the WebSocket endpoint. checkOrigin may be nil to accept
// any origin.
func NewHandler(registry *Registry, poster ChatPoster, cfg ConnConfig, checkOrigin func(*http.Request) bool, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.NewDefault("realtime-ws")
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Handler{
		registry: registry,
		chat:     poster,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      checkOrigin,
		},
		cfg: cfg.withDefaults(),
		log: log,
	}
}

// ServeHTTP registers the connection for the authenticated identity and
// blocks reading inbound frames until the peer disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	identityID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		h.log.WithError(err).WithField("identity_id", identityID).Debug("websocket upgrade failed")
		return
	}

	conn := NewConn(ws, identityID, h.cfg, h.log)
	h.registry.Register(identityID, conn)
	defer func() {
		h.registry.Unregister(identityID, conn)
		_ = conn.Close()
	}()

	ctx := context.WithoutCancel(r.Context())
	err = conn.ReadLoop(func(data []byte) { h.handleFrame(ctx, conn, data) })
	if err != nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		h.log.WithError(err).WithField("identity_id", identityID).Debug("websocket closed")
	}
}

// handleFrame accepts {"type":"ping"}, {"message":"...","type":"text"} or a
// bare text line, which is posted as a chat message. Other frame types are
// ignored.
func (h *Handler) handleFrame(ctx context.Context, conn *Conn, data []byte) {
	body := strings.TrimSpace(string(data))

	if gjson.Valid(body) && strings.HasPrefix(body, "{") {
		frame := gjson.Parse(body)
		kind := frame.Get("type").String()
		if kind == "ping" {
			h.reply(conn, Envelope{Type: EventPong, Payload: struct{}{}, Timestamp: time.Now().UTC()})
			return
		}
		if kind != "" && kind != string(chat.TypeText) {
			return
		}
		body = frame.Get("message").String()
	}

	if h.chat == nil || body == "" {
		return
	}
	if _, err := h.chat.Post(ctx, conn.IdentityID(), body, chat.TypeText); err != nil {
		h.log.WithError(err).WithField("identity_id", conn.IdentityID()).Debug("inbound chat rejected")
	}
}

func (h *Handler) reply(conn *Conn, env Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	_ = conn.Send(data)
}
