package room

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worship-room/pkg/models"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	rooms := r.Group("/rooms")
	{
		rooms.POST("", h.createRoom)
		rooms.GET("/:id", h.getRoom)
		rooms.PATCH("/:id", h.updateRoom)
		rooms.DELETE("/:id", h.deleteRoom)

		rooms.GET("/:id/queue", h.listQueue)
		rooms.POST("/:id/queue", h.addToQueue)
		rooms.GET("/:id/queue/current", h.currentlyPlaying)
		rooms.POST("/:id/queue/rebalance", h.rebalance)

		rooms.GET("/:id/playback", h.playbackState)
		rooms.POST("/:id/playback", h.updatePlayback)
		rooms.POST("/:id/playback/next", h.playNext)
		rooms.POST("/:id/playback/skip", h.skip)

		rooms.POST("/:id/join", h.join)
		rooms.POST("/:id/leave", h.leave)
		rooms.GET("/:id/participants", h.listParticipants)
		rooms.POST("/:id/invites", h.invite)
		rooms.GET("/:id/waitlist", h.listWaitlist)
		rooms.POST("/:id/waitlist", h.joinWaitlist)
		rooms.DELETE("/:id/waitlist", h.leaveWaitlist)

		rooms.GET("/:id/history", h.history)
	}

	entries := r.Group("/entries")
	{
		entries.DELETE("/:entryId", h.removeFromQueue)
		entries.POST("/:entryId/vote", h.vote)
		entries.POST("/:entryId/move", h.move)
	}
}

// writeError maps domain errors to HTTP statuses. Unknown errors are logged
// and reported without detail.
func writeError(c *gin.Context, err error) {
	var status int
	switch {
	case errors.Is(err, ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrQueueExhausted):
		status = http.StatusConflict
	case errors.Is(err, ErrCapacityExceeded), errors.Is(err, ErrPolicyViolation):
		status = http.StatusUnprocessableEntity
	default:
		zerolog.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": Code(err)})
}

func userID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString("user_id"))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return uuid.Nil, false
	}
	return id, true
}

func pathID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return uuid.Nil, false
	}
	return id, true
}

// ids resolves the path id and the caller for room routes.
func ids(c *gin.Context, param string) (uuid.UUID, uuid.UUID, bool) {
	user, ok := userID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	id, ok := pathID(c, param)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	return id, user, true
}

type CreateRoomRequest struct {
	Name            string          `json:"name" binding:"required"`
	IsPrivate       bool            `json:"is_private"`
	Kind            models.RoomKind `json:"kind"`
	StartsAt        *time.Time      `json:"starts_at"`
	EndsAt          *time.Time      `json:"ends_at"`
	Description     string          `json:"description"`
	SkipThreshold   float64         `json:"skip_threshold"`
	MaxParticipants int             `json:"max_participants"`
	Settings        SettingsPatch   `json:"settings"`
}

func (r CreateRoomRequest) variant() (models.RoomVariant, error) {
	switch r.Kind {
	case models.RoomKindLive, "":
		return models.LiveSession{}, nil
	case models.RoomKindLiveEvent:
		if r.StartsAt == nil {
			return nil, errors.New("starts_at is required for live events")
		}
		return models.LiveEvent{StartsAt: *r.StartsAt, EndsAt: r.EndsAt}, nil
	case models.RoomKindTemplate:
		return models.Template{Description: r.Description}, nil
	default:
		return nil, errors.New("unknown room kind")
	}
}

func (h *Handler) createRoom(c *gin.Context) {
	user, ok := userID(c)
	if !ok {
		return
	}

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	variant, err := req.variant()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.CreateRoom(c.Request.Context(), user, CreateRoomParams{
		Name:            req.Name,
		IsPrivate:       req.IsPrivate,
		Variant:         variant,
		SkipThreshold:   req.SkipThreshold,
		MaxParticipants: req.MaxParticipants,
		Settings:        req.Settings,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, room)
}

func (h *Handler) getRoom(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	room, err := h.service.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

type UpdateRoomRequest struct {
	Name            *string       `json:"name"`
	IsPrivate       *bool         `json:"is_private"`
	SkipThreshold   *float64      `json:"skip_threshold"`
	MaxParticipants *int          `json:"max_participants"`
	Settings        SettingsPatch `json:"settings"`
}

func (h *Handler) updateRoom(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}

	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	room, err := h.service.UpdateRoom(c.Request.Context(), roomID, user, UpdateRoomParams{
		Name:            req.Name,
		IsPrivate:       req.IsPrivate,
		SkipThreshold:   req.SkipThreshold,
		MaxParticipants: req.MaxParticipants,
		Settings:        req.Settings,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, room)
}

func (h *Handler) deleteRoom(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}
	if err := h.service.DeleteRoom(c.Request.Context(), roomID, user); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) listQueue(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	queue, err := h.service.ListQueue(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, queue)
}

func (h *Handler) addToQueue(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}

	var req VideoMeta
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.service.AddToQueue(c.Request.Context(), roomID, user, req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, entry)
}

func (h *Handler) currentlyPlaying(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	entry, err := h.service.GetCurrentlyPlaying(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *Handler) rebalance(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}
	if err := h.service.Rebalance(c.Request.Context(), roomID, user); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) removeFromQueue(c *gin.Context) {
	entryID, user, ok := ids(c, "entryId")
	if !ok {
		return
	}
	if err := h.service.RemoveFromQueue(c.Request.Context(), entryID, user); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

type VoteRequest struct {
	Kind models.VoteKind `json:"kind" binding:"required,oneof=UPVOTE SKIP"`
}

func (h *Handler) vote(c *gin.Context) {
	entryID, user, ok := ids(c, "entryId")
	if !ok {
		return
	}

	var req VoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.CastVote(c.Request.Context(), entryID, user, req.Kind)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

type MoveRequest struct {
	BeforeID *uuid.UUID `json:"before_id"`
}

func (h *Handler) move(c *gin.Context) {
	entryID, user, ok := ids(c, "entryId")
	if !ok {
		return
	}

	var req MoveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	entry, err := h.service.MoveEntry(c.Request.Context(), entryID, user, req.BeforeID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, entry)
}

func (h *Handler) playbackState(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	state, err := h.service.GetPlaybackState(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *Handler) updatePlayback(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}

	var cmd PlaybackCommand
	if err := c.ShouldBindJSON(&cmd); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	state, err := h.service.UpdatePlayback(c.Request.Context(), roomID, user, cmd)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *Handler) playNext(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}
	state, err := h.service.PlayNext(c.Request.Context(), roomID, user)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *Handler) skip(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}
	state, err := h.service.Skip(c.Request.Context(), roomID, user)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, state)
}

func (h *Handler) join(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}
	p, err := h.service.Join(c.Request.Context(), roomID, user)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

type InviteRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

func (h *Handler) invite(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}

	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	p, err := h.service.Invite(c.Request.Context(), roomID, user, req.UserID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, p)
}

func (h *Handler) leave(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}
	if err := h.service.Leave(c.Request.Context(), roomID, user); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) listParticipants(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ps, err := h.service.ListParticipants(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ps)
}

func (h *Handler) listWaitlist(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	ps, err := h.service.ListWaitlist(c.Request.Context(), roomID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, ps)
}

func (h *Handler) joinWaitlist(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}
	p, err := h.service.JoinWaitlist(c.Request.Context(), roomID, user)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, p)
}

func (h *Handler) leaveWaitlist(c *gin.Context) {
	roomID, user, ok := ids(c, "id")
	if !ok {
		return
	}
	if err := h.service.LeaveWaitlist(c.Request.Context(), roomID, user); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) history(c *gin.Context) {
	roomID, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	hs, err := h.service.History(c.Request.Context(), roomID, limit)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, hs)
}
