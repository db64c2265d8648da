// Package realtime pushes ledger events to connected users over websockets
// and answers their conversation and message queries.
package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/armando3069/zottis/internal/conversation"
	"github.com/armando3069/zottis/internal/message"
)

// Event names.
const (
	EventNewMessage       = "newMessage"
	EventNewConversation  = "newConversation"
	EventConversations    = "conversations"
	EventMessages         = "messages"
	EventError            = "error"
	EventGetConversations = "getConversations"
	EventGetMessages      = "getMessages"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Hub keeps one room per user. Every session of the user is in it.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]map[*Client]struct{}
	logger *slog.Logger
}

// NewHub creates an empty Hub.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		rooms:  make(map[string]map[*Client]struct{}),
		logger: log.With(slog.String("component", "realtime")),
	}
}

// RoomName is the room of a user.
func RoomName(userID string) string {
	return "user:" + userID
}

// Join adds the client to its user's room.
func (h *Hub) Join(c *Client) {
	room := RoomName(c.UserID)
	h.mu.Lock()
	members := h.rooms[room]
	if members == nil {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("client joined", slog.String("room", room), slog.String("client_id", c.ID))
}

// Leave removes the client from its room.
func (h *Hub) Leave(c *Client) {
	room := RoomName(c.UserID)
	h.mu.Lock()
	if members := h.rooms[room]; members != nil {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	h.mu.Unlock()
}

// RoomSize returns the number of sessions of a user.
func (h *Hub) RoomSize(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[RoomName(userID)])
}

// EmitToUser sends event to every session of userID and returns how many
// sessions accepted it.
func (h *Hub) EmitToUser(userID, event string, payload any) int {
	frame, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Warn("encode realtime frame failed", slog.String("event", event), slog.Any("error", err))
		return 0
	}
	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[RoomName(userID)]))
	for c := range h.rooms[RoomName(userID)] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range members {
		if err := c.Send(frame); err == nil {
			delivered++
		}
	}
	return delivered
}

// EmitNewMessage pushes a persisted message to its owner.
func (h *Hub) EmitNewMessage(userID string, msg message.Message) {
	h.EmitToUser(userID, EventNewMessage, msg)
}

// EmitNewConversation pushes a newly created conversation to its owner.
func (h *Hub) EmitNewConversation(userID string, conv conversation.Conversation) {
	h.EmitToUser(userID, EventNewConversation, conv)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	var clients []*Client
	for _, members := range h.rooms {
		for c := range members {
			clients = append(clients, c)
		}
	}
	h.rooms = make(map[string]map[*Client]struct{})
	h.mu.Unlock()
	for _, c := range clients {
		c.Close(websocket.CloseGoingAway, "server shutdown")
	}
}

func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Frame{Event: event, Data: data})
}
