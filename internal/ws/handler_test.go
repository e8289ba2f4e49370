package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worship-room/internal/room"
	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/models"
)

type fakeEngine struct {
	mu    sync.Mutex
	votes []uuid.UUID
	deny  error
}

func (e *fakeEngine) AuthorizeSubscription(context.Context, uuid.UUID, uuid.UUID) error {
	return e.deny
}

func (e *fakeEngine) CastVote(_ context.Context, entryID, _ uuid.UUID, kind models.VoteKind) (*room.VoteResult, error) {
	if !kind.Valid() {
		return nil, room.ErrInvalidArgument
	}
	e.mu.Lock()
	e.votes = append(e.votes, entryID)
	e.mu.Unlock()
	return &room.VoteResult{
		Entry: &room.EntryView{QueueEntry: &models.QueueEntry{ID: entryID}, Upvotes: 1},
		Voted: true,
	}, nil
}

func (e *fakeEngine) GetPlaybackState(_ context.Context, roomID uuid.UUID) (*room.PlaybackState, error) {
	return &room.PlaybackState{RoomID: roomID, Status: models.PlaybackPaused, Position: 42}, nil
}

type message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Code    string          `json:"code"`
}

func newServer(t *testing.T, engine Engine) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(zerolog.Nop())
	router := gin.New()
	router.GET("/ws/:roomId", func(c *gin.Context) {
		c.Set("user_id", c.Query("user"))
		c.Next()
	}, hub.Handler(engine))

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return hub, srv
}

func wsURL(srv *httptest.Server, roomID uuid.UUID) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/" + roomID.String() + "?user=" + uuid.NewString()
}

func setup(t *testing.T) (*Hub, *fakeEngine, *websocket.Conn, uuid.UUID) {
	t.Helper()
	engine := &fakeEngine{}
	hub, srv := newServer(t, engine)

	roomID := uuid.New()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, roomID), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool {
		return hub.ClientCount(roomID.String()) == 1
	}, time.Second, 5*time.Millisecond)
	return hub, engine, conn, roomID
}

func TestHandlerRejectsUnauthorizedSubscriber(t *testing.T) {
	tests := []struct {
		name   string
		deny   error
		status int
	}{
		{"private room", room.ErrPermissionDenied, http.StatusForbidden},
		{"unknown room", room.ErrNotFound, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hub, srv := newServer(t, &fakeEngine{deny: tt.deny})
			roomID := uuid.New()

			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, roomID), nil)
			if conn != nil {
				conn.Close()
			}
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			require.NotNil(t, resp)
			assert.Equal(t, tt.status, resp.StatusCode)
			assert.Zero(t, hub.ClientCount(roomID.String()))
		})
	}
}

func read(t *testing.T, conn *websocket.Conn) message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubDeliversRoomEvents(t *testing.T) {
	hub, _, conn, roomID := setup(t)

	other, err := events.NewEvent(events.EventTypeSongAdded, uuid.NewString(), "", events.ChannelQueue, nil, time.Now())
	require.NoError(t, err)
	require.NoError(t, hub.Publish(context.Background(), other))

	ev, err := events.NewEvent(events.EventTypeNowPlaying, roomID.String(), "", events.ChannelNowPlaying,
		map[string]string{"video_id": "abc"}, time.Now())
	require.NoError(t, err)
	require.NoError(t, hub.Publish(context.Background(), ev))

	msg := read(t, conn)
	assert.Equal(t, string(events.EventTypeNowPlaying), msg.Type)
	assert.JSONEq(t, `{"video_id":"abc"}`, string(msg.Payload))
}

func TestHubSync(t *testing.T) {
	_, _, conn, roomID := setup(t)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "sync"}))
	msg := read(t, conn)
	assert.Equal(t, "SYNC", msg.Type)

	var state room.PlaybackState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	assert.Equal(t, roomID, state.RoomID)
	assert.Equal(t, 42.0, state.Position)
}

func TestHubVote(t *testing.T) {
	_, engine, conn, _ := setup(t)
	entryID := uuid.New()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "vote", "entry_id": entryID.String(), "kind": "UPVOTE"}))
	msg := read(t, conn)
	assert.Equal(t, "VOTE_RESULT", msg.Type)

	engine.mu.Lock()
	assert.Equal(t, []uuid.UUID{entryID}, engine.votes)
	engine.mu.Unlock()

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "vote", "entry_id": entryID.String(), "kind": "MEH"}))
	msg = read(t, conn)
	assert.Equal(t, "ERROR", msg.Type)
	assert.Equal(t, "invalid_argument", msg.Code)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "dance"}))
	assert.Equal(t, "ERROR", read(t, conn).Type)
}

func TestHubUnregistersOnClose(t *testing.T) {
	hub, _, conn, roomID := setup(t)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return hub.ClientCount(roomID.String()) == 0
	}, time.Second, 5*time.Millisecond)
}
