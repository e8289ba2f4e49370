package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/worship-room/internal/room"
	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // the auth middleware guards the endpoint
	},
}

// Engine is the part of the room service reachable over a socket.
type Engine interface {
	AuthorizeSubscription(ctx context.Context, roomID, userID uuid.UUID) error
	CastVote(ctx context.Context, entryID, userID uuid.UUID, kind models.VoteKind) (*room.VoteResult, error)
	GetPlaybackState(ctx context.Context, roomID uuid.UUID) (*room.PlaybackState, error)
}

type inbound struct {
	Type    string          `json:"type"`
	EntryID uuid.UUID       `json:"entry_id"`
	Kind    models.VoteKind `json:"kind"`
}

type outbound struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
	Code    string      `json:"code,omitempty"`
}

type client struct {
	userID string
	send   chan []byte
}

// Hub fans room events out to the websocket clients of that room.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[*client]struct{}
	logger zerolog.Logger
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[*client]struct{}),
		logger: logger.With().Str("component", "ws").Logger(),
	}
}

// Publish delivers the event to local clients. It satisfies events.Publisher
// for single-node deployments.
func (h *Hub) Publish(_ context.Context, event events.Event) error {
	return h.Deliver(event)
}

// Deliver sends an event to every client of its room. Clients whose buffer
// is full are disconnected.
func (h *Hub) Deliver(event events.Event) error {
	msg, err := json.Marshal(event)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[event.RoomID] {
		select {
		case c.send <- msg:
		default:
			h.logger.Warn().Str("room_id", event.RoomID).Str("user_id", c.userID).Msg("dropping slow client")
			h.removeLocked(event.RoomID, c)
		}
	}
	return nil
}

// ClientCount returns the number of connected clients in a room.
func (h *Hub) ClientCount(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[roomID])
}

func (h *Hub) add(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*client]struct{})
	}
	h.rooms[roomID][c] = struct{}{}
}

func (h *Hub) remove(roomID string, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(roomID, c)
}

func (h *Hub) removeLocked(roomID string, c *client) {
	clients, ok := h.rooms[roomID]
	if !ok {
		return
	}
	if _, ok := clients[c]; !ok {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.rooms, roomID)
	}
}

// reply queues msg for a single client if it is still connected.
func (h *Hub) reply(roomID string, c *client, msg outbound) {
	raw, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal reply")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID][c]; !ok {
		return
	}
	select {
	case c.send <- raw:
	default:
		h.removeLocked(roomID, c)
	}
}

// Handler upgrades GET /ws/:roomId for users allowed to follow the room.
// Clients receive every event of the room and may send "vote" and "sync"
// messages.
func (h *Hub) Handler(engine Engine) gin.HandlerFunc {
	return func(c *gin.Context) {
		roomID, err := uuid.Parse(c.Param("roomId"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
			return
		}
		userID, err := uuid.Parse(c.GetString("user_id"))
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		if err := engine.AuthorizeSubscription(c.Request.Context(), roomID, userID); err != nil {
			switch room.Code(err) {
			case "permission_denied":
				c.JSON(http.StatusForbidden, gin.H{"error": err.Error(), "code": "permission_denied"})
			case "not_found":
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": "not_found"})
			default:
				h.logger.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to authorize subscription")
				c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			}
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to upgrade connection")
			return
		}

		cl := &client{userID: userID.String(), send: make(chan []byte, sendBuffer)}
		key := roomID.String()
		h.add(key, cl)
		go h.writePump(conn, cl)

		h.readPump(c.Request.Context(), conn, engine, roomID, userID, cl)
		h.remove(key, cl)
	}
}

func (h *Hub) readPump(ctx context.Context, conn *websocket.Conn, engine Engine, roomID, userID uuid.UUID, cl *client) {
	key := roomID.String()
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Str("room_id", key).Msg("websocket closed")
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(raw, &msg); err != nil {
			h.reply(key, cl, outbound{Type: "ERROR", Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case "vote":
			result, err := engine.CastVote(ctx, msg.EntryID, userID, msg.Kind)
			if err != nil {
				h.reply(key, cl, errorReply(err))
				continue
			}
			h.reply(key, cl, outbound{Type: "VOTE_RESULT", Payload: result})
		case "sync":
			state, err := engine.GetPlaybackState(ctx, roomID)
			if err != nil {
				h.reply(key, cl, errorReply(err))
				continue
			}
			h.reply(key, cl, outbound{Type: "SYNC", Payload: state})
		default:
			h.reply(key, cl, outbound{Type: "ERROR", Error: "unknown message type"})
		}
	}
}

func errorReply(err error) outbound {
	code := room.Code(err)
	if code == "" {
		return outbound{Type: "ERROR", Error: "internal error"}
	}
	return outbound{Type: "ERROR", Error: err.Error(), Code: code}
}

func (h *Hub) writePump(conn *websocket.Conn, cl *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
