package relay

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"go-chat-sync/internal/event"
	"go-chat-sync/internal/logger"
	myMiddleware "go-chat-sync/internal/middleware"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Handler struct {
	hub          *Hub
	messages     MessageStore
	reactions    ReactionStore
	historyLimit int
}

func NewHandler(hub *Hub, historyLimit int) *Handler {
	return &Handler{
		hub:          hub,
		messages:     hub.messages,
		reactions:    hub.reactions,
		historyLimit: historyLimit,
	}
}

func (h *Handler) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	username, _ := myMiddleware.Username(r.Context())

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	// The request context ends when this handler returns.
	ctx := context.WithoutCancel(r.Context())
	client := NewClient(h.hub, conn, userID, username)
	go client.WritePump()
	if err := h.hub.Register(ctx, client); err != nil {
		logger.Log.Warn("register client failed", zap.Int64("user_id", userID), zap.Error(err))
	}
	go client.ReadPump(ctx)
}

// History serves GET /api/chats/{id}/messages: the newest messages of one
// chat, oldest first, each with its reaction records.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	chatID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || chatID <= 0 {
		http.Error(w, "invalid chat id", http.StatusBadRequest)
		return
	}

	msgs, err := h.messages.History(r.Context(), chatID, h.historyLimit)
	if err != nil {
		logger.Log.Error("history query failed", zap.Int64("chat_id", chatID), zap.Error(err))
		http.Error(w, "could not load history", http.StatusInternalServerError)
		return
	}
	for i := range msgs {
		rs, err := h.reactions.ForMessage(r.Context(), msgs[i].ID)
		if err != nil {
			logger.Log.Error("reaction query failed", zap.Int64("message_id", msgs[i].ID), zap.Error(err))
			http.Error(w, "could not load history", http.StatusInternalServerError)
			return
		}
		msgs[i].Reactions = rs
	}
	if msgs == nil {
		msgs = []event.Message{}
	}
	writeJSON(w, msgs)
}

// Notifications serves GET /api/notifications for the caller.
func (h *Handler) Notifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := myMiddleware.UserID(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	list, err := h.messages.Notifications(r.Context(), userID)
	if err != nil {
		logger.Log.Error("notification query failed", zap.Int64("user_id", userID), zap.Error(err))
		http.Error(w, "could not load notifications", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []event.Notification{}
	}
	writeJSON(w, list)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.Warn("write response failed", zap.Error(err))
	}
}
