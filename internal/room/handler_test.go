package room

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worship-room/internal/permission"
	"github.com/worship-room/pkg/models"
)

type apiClient struct {
	t      *testing.T
	router *gin.Engine
}

func newAPI(t *testing.T, gate permission.Gate) (*apiClient, *fixture) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	f := newFixture(t, gate)
	router := gin.New()
	api := router.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		if user := c.GetHeader("X-Test-User"); user != "" {
			c.Set("user_id", user)
		}
		c.Next()
	})
	NewHandler(f.svc).RegisterRoutes(api)
	return &apiClient{t: t, router: router}, f
}

func (a *apiClient) do(method, path string, user uuid.UUID, body interface{}) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != uuid.Nil {
		req.Header.Set("X-Test-User", user.String())
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), dst))
}

func TestHandlerQueueFlow(t *testing.T) {
	api, f := newAPI(t, nil)

	w := api.do(http.MethodPost, "/rooms", f.owner, gin.H{"name": "Youth night"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var room models.Room
	decode(t, w, &room)
	base := "/rooms/" + room.ID.String()

	w = api.do(http.MethodPost, base+"/queue", f.owner, gin.H{"id": "abc", "title": "Be Thou My Vision", "duration_sec": 200})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var entry EntryView
	decode(t, w, &entry)
	assert.Equal(t, int64(10000), entry.Position)

	w = api.do(http.MethodPost, "/entries/"+entry.ID.String()+"/vote", f.owner, gin.H{"kind": "UPVOTE"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var vote VoteResult
	decode(t, w, &vote)
	assert.True(t, vote.Voted)
	assert.Equal(t, int64(1), vote.Entry.Upvotes)

	w = api.do(http.MethodGet, base+"/queue", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var queue []EntryView
	decode(t, w, &queue)
	require.Len(t, queue, 1)
	assert.Equal(t, int64(1), queue[0].Upvotes)

	w = api.do(http.MethodPost, base+"/playback/next", f.owner, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var state PlaybackState
	decode(t, w, &state)
	assert.Equal(t, models.PlaybackPlaying, state.Status)

	w = api.do(http.MethodGet, base+"/playback", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = api.do(http.MethodPost, base+"/playback/next", f.owner, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	var errBody struct {
		Code string `json:"code"`
	}
	decode(t, w, &errBody)
	assert.Equal(t, "queue_exhausted", errBody.Code)

	w = api.do(http.MethodGet, base+"/history?limit=5", uuid.Nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hs []models.PlayHistory
	decode(t, w, &hs)
	assert.Len(t, hs, 1)
}

func TestHandlerErrorMapping(t *testing.T) {
	api, f := newAPI(t, nil)
	room := f.newRoom(t, CreateRoomParams{})
	base := "/rooms/" + room.ID.String()

	tests := []struct {
		name   string
		method string
		path   string
		user   uuid.UUID
		body   interface{}
		status int
	}{
		{"missing user", http.MethodPost, base + "/queue", uuid.Nil, gin.H{"id": "x", "duration_sec": 100}, http.StatusUnauthorized},
		{"bad room id", http.MethodGet, "/rooms/not-a-uuid", f.owner, nil, http.StatusBadRequest},
		{"unknown room", http.MethodGet, "/rooms/" + uuid.NewString(), f.owner, nil, http.StatusNotFound},
		{"duration policy", http.MethodPost, base + "/queue", f.owner, gin.H{"id": "x", "duration_sec": 5}, http.StatusUnprocessableEntity},
		{"missing video id", http.MethodPost, base + "/queue", f.owner, gin.H{"duration_sec": 100}, http.StatusBadRequest},
		{"bad vote kind", http.MethodPost, "/entries/" + uuid.NewString() + "/vote", f.owner, gin.H{"kind": "MEH"}, http.StatusBadRequest},
		{"skip nothing playing", http.MethodPost, base + "/playback/skip", f.owner, nil, http.StatusConflict},
		{"unknown action", http.MethodPost, base + "/playback", f.owner, gin.H{"action": "REWIND"}, http.StatusBadRequest},
		{"leave waitlist not joined", http.MethodDelete, base + "/waitlist", f.owner, nil, http.StatusConflict},
		{"bad history limit", http.MethodGet, base + "/history?limit=x", f.owner, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestHandlerPermissionDenied(t *testing.T) {
	api, f := newAPI(t, nil)
	room := f.newRoom(t, CreateRoomParams{})
	f.svc.gate = permission.NewRoleGate(f.db)

	stranger := uuid.New()
	w := api.do(http.MethodPost, "/rooms/"+room.ID.String()+"/queue", stranger, gin.H{"id": "x", "duration_sec": 100})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, "/rooms/"+room.ID.String()+"/join", stranger, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = api.do(http.MethodPost, "/rooms/"+room.ID.String()+"/queue", stranger, gin.H{"id": "x", "duration_sec": 100})
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodPost, "/rooms/"+room.ID.String()+"/playback/next", stranger, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandlerInvite(t *testing.T) {
	api, f := newAPI(t, nil)
	room := f.newRoom(t, CreateRoomParams{IsPrivate: true})
	f.svc.gate = permission.NewRoleGate(f.db)
	base := "/rooms/" + room.ID.String()
	guest := uuid.New()

	w := api.do(http.MethodPost, base+"/join", guest, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, base+"/invites", f.owner, gin.H{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(http.MethodPost, base+"/invites", guest, gin.H{"user_id": guest})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = api.do(http.MethodPost, base+"/invites", f.owner, gin.H{"user_id": guest})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = api.do(http.MethodPost, base+"/join", guest, nil)
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
}
