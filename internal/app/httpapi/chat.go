package httpapi

import (
	"net/http"
	"time"

	"github.com/impnet/service_layer/internal/app/authz"
	"github.com/impnet/service_layer/internal/app/domain/chat"
	svcerrors "github.com/impnet/service_layer/internal/errors"
	"github.com/impnet/service_layer/internal/httputil"
	"github.com/impnet/service_layer/internal/middleware"
)

type postMessageRequest struct {
	Message     string `json:"message" validate:"required"`
	MessageType string `json:"message_type" validate:"omitempty,oneof=text system"`
}

type messageView struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	Message     string    `json:"message"`
	MessageType string    `json:"message_type"`
	CreatedAt   time.Time `json:"created_at"`
}

func newMessageView(msg chat.Message) messageView {
	return messageView{
		ID:          msg.ID,
		SenderID:    msg.SenderID,
		Message:     msg.Body,
		MessageType: string(msg.Type),
		CreatedAt:   msg.CreatedAt,
	}
}

func (h *handler) postMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if err := validateRequest(req); err != nil {
		h.writeError(w, r, err)
		return
	}

	typ := chat.TypeText
	if req.MessageType == string(chat.TypeSystem) {
		if !h.policy.Allow(middleware.PrincipalFromContext(r.Context()), authz.PermAdmin) {
			h.writeError(w, r, svcerrors.Forbidden("system messages require admin"))
			return
		}
		typ = chat.TypeSystem
	}

	msg, err := h.app.Chat.Post(r.Context(), middleware.GetUserID(r.Context()), req.Message, typ)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, newMessageView(msg))
}

func (h *handler) listMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msgs, err := h.app.Chat.List(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]messageView, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, newMessageView(msg))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}
