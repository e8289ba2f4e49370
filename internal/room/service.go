package room

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/worship-room/internal/history"
	"github.com/worship-room/internal/permission"
	"github.com/worship-room/pkg/database"
	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/models"
)

// DefaultSyncBuffer is how far in the future NOW_PLAYING schedules the
// synchronized start so clients can pre-buffer.
const DefaultSyncBuffer = 2 * time.Second

// PlaybackCache stores the last committed playback snapshot of a room.
type PlaybackCache interface {
	Store(ctx context.Context, roomID string, snapshot interface{}) error
	Load(ctx context.Context, roomID string, dst interface{}) (bool, error)
	Invalidate(ctx context.Context, roomID string) error
}

type Service struct {
	db         *database.DB
	gate       permission.Gate
	history    *history.Recorder
	events     events.Publisher
	locker     Locker
	cache      PlaybackCache
	clock      clock.Clock
	syncBuffer time.Duration
	logger     zerolog.Logger
}

type Option func(*Service)

func WithLocker(l Locker) Option { return func(s *Service) { s.locker = l } }

func WithPlaybackCache(c PlaybackCache) Option { return func(s *Service) { s.cache = c } }

func WithClock(c clock.Clock) Option { return func(s *Service) { s.clock = c } }

func WithSyncBuffer(d time.Duration) Option { return func(s *Service) { s.syncBuffer = d } }

func WithLogger(l zerolog.Logger) Option { return func(s *Service) { s.logger = l } }

func NewService(db *database.DB, gate permission.Gate, recorder *history.Recorder, publisher events.Publisher, opts ...Option) *Service {
	s := &Service{
		db:         db,
		gate:       gate,
		history:    recorder,
		events:     publisher,
		locker:     NewLocalLocker(),
		clock:      clock.New(),
		syncBuffer: DefaultSyncBuffer,
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.events == nil {
		s.events = events.Discard{}
	}
	s.logger = s.logger.With().Str("component", "room").Logger()
	return s
}

// withRoomLock runs fn while holding the room's lock.
func (s *Service) withRoomLock(ctx context.Context, roomID uuid.UUID, fn func() error) error {
	unlock, err := s.locker.Lock(ctx, roomID.String())
	if err != nil {
		return fmt.Errorf("failed to lock room: %w", err)
	}
	defer unlock()
	return fn()
}

// publish sends an event to the room topic. Failures are logged and
// swallowed.
func (s *Service) publish(ctx context.Context, t events.EventType, roomID, userID uuid.UUID, ch events.Channel, payload interface{}) {
	var user string
	if userID != uuid.Nil {
		user = userID.String()
	}
	ev, err := events.NewEvent(t, roomID.String(), user, ch, payload, s.clock.Now())
	if err == nil {
		err = s.events.Publish(ctx, ev)
	}
	if err != nil {
		s.logger.Warn().Err(err).
			Str("room_id", roomID.String()).
			Str("event", string(t)).
			Msg("failed to publish event")
	}
}

type CreateRoomParams struct {
	Name            string
	IsPrivate       bool
	Variant         models.RoomVariant
	SkipThreshold   float64
	MaxParticipants int
	Settings        SettingsPatch
}

type UpdateRoomParams struct {
	Name            *string
	IsPrivate       *bool
	SkipThreshold   *float64
	MaxParticipants *int
	Settings        SettingsPatch
}

// SettingsPatch updates the non-nil fields of RoomSettings.
type SettingsPatch struct {
	QueueCapacity       *int      `json:"queue_capacity"`
	PerUserLimit        *int      `json:"per_user_limit"`
	MinDurationSec      *int      `json:"min_duration_sec"`
	MaxDurationSec      *int      `json:"max_duration_sec"`
	AllowDuplicates     *bool     `json:"allow_duplicates"`
	ReplayCooldownHours *int      `json:"replay_cooldown_hours"`
	BannedVideos        *[]string `json:"banned_videos"`
}

func (p SettingsPatch) apply(st *models.RoomSettings) error {
	if p.QueueCapacity != nil {
		st.QueueCapacity = *p.QueueCapacity
	}
	if p.PerUserLimit != nil {
		st.PerUserLimit = *p.PerUserLimit
	}
	if p.MinDurationSec != nil {
		st.MinDurationSec = *p.MinDurationSec
	}
	if p.MaxDurationSec != nil {
		st.MaxDurationSec = *p.MaxDurationSec
	}
	if p.AllowDuplicates != nil {
		st.AllowDuplicates = *p.AllowDuplicates
	}
	if p.ReplayCooldownHours != nil {
		st.ReplayCooldownHours = *p.ReplayCooldownHours
	}
	if p.BannedVideos != nil {
		st.BannedVideos = append(st.BannedVideos[:0:0], (*p.BannedVideos)...)
	}

	switch {
	case st.QueueCapacity < 0, st.PerUserLimit < 0, st.ReplayCooldownHours < 0:
		return fmt.Errorf("%w: limits must not be negative", ErrInvalidArgument)
	case st.MinDurationSec < 0 || (st.MaxDurationSec > 0 && st.MinDurationSec > st.MaxDurationSec):
		return fmt.Errorf("%w: invalid duration range [%d, %d]", ErrInvalidArgument, st.MinDurationSec, st.MaxDurationSec)
	}
	return nil
}

func validThreshold(v float64) bool {
	return v > 0 && v <= 1
}

// CreateRoom creates a stopped room with default settings. The creator
// becomes its leader and first moderator.
func (s *Service) CreateRoom(ctx context.Context, userID uuid.UUID, params CreateRoomParams) (*models.Room, error) {
	if err := checkPermission(s.gate.CanCreateRoom(ctx, userID)); err != nil {
		return nil, err
	}

	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: room name is required", ErrInvalidArgument)
	}
	threshold := params.SkipThreshold
	if threshold == 0 {
		threshold = 0.5
	}
	if !validThreshold(threshold) {
		return nil, fmt.Errorf("%w: skip threshold must be in (0, 1]", ErrInvalidArgument)
	}
	if params.MaxParticipants < 0 {
		return nil, fmt.Errorf("%w: max participants must not be negative", ErrInvalidArgument)
	}

	now := s.clock.Now()
	leader := userID
	room := &models.Room{
		ID:              uuid.New(),
		Name:            name,
		IsPrivate:       params.IsPrivate,
		CreatedBy:       userID,
		LeaderID:        &leader,
		PlaybackStatus:  models.PlaybackStopped,
		SkipThreshold:   threshold,
		MaxParticipants: params.MaxParticipants,
	}
	if err := room.SetVariant(params.Variant); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}

	settings := models.DefaultSettings(room.ID)
	if err := params.Settings.apply(settings); err != nil {
		return nil, err
	}

	err := s.db.Transaction(ctx, func(tx *database.DB) error {
		if err := tx.CreateRoom(ctx, room); err != nil {
			return fmt.Errorf("failed to create room: %w", err)
		}
		if err := tx.CreateSettings(ctx, settings); err != nil {
			return fmt.Errorf("failed to create room settings: %w", err)
		}
		return tx.CreateParticipant(ctx, &models.Participant{
			ID:           uuid.New(),
			RoomID:       room.ID,
			UserID:       userID,
			Role:         models.RoleModerator,
			Active:       true,
			JoinedAt:     now,
			LastActiveAt: now,
		})
	})
	if err != nil {
		return nil, err
	}
	room.Settings = settings

	s.logger.Info().Str("room_id", room.ID.String()).Str("kind", string(room.Kind)).Msg("room created")
	s.publish(ctx, events.EventTypeRoomCreated, room.ID, userID, events.ChannelRoom, room)
	return room, nil
}

func (s *Service) GetRoom(ctx context.Context, roomID uuid.UUID) (*models.Room, error) {
	room, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		return nil, notFound("room", err)
	}
	return room, nil
}

func (s *Service) UpdateRoom(ctx context.Context, roomID, userID uuid.UUID, params UpdateRoomParams) (*models.Room, error) {
	if err := checkPermission(s.gate.CanEditRoom(ctx, userID, roomID)); err != nil {
		return nil, err
	}

	var room *models.Room
	err := s.withRoomLock(ctx, roomID, func() error {
		return s.db.Transaction(ctx, func(tx *database.DB) error {
			var err error
			room, err = tx.LockRoom(ctx, roomID)
			if err != nil {
				return notFound("room", err)
			}

			if params.Name != nil {
				name := strings.TrimSpace(*params.Name)
				if name == "" {
					return fmt.Errorf("%w: room name is required", ErrInvalidArgument)
				}
				room.Name = name
			}
			if params.IsPrivate != nil {
				room.IsPrivate = *params.IsPrivate
			}
			if params.SkipThreshold != nil {
				if !validThreshold(*params.SkipThreshold) {
					return fmt.Errorf("%w: skip threshold must be in (0, 1]", ErrInvalidArgument)
				}
				room.SkipThreshold = *params.SkipThreshold
			}
			if params.MaxParticipants != nil {
				if *params.MaxParticipants < 0 {
					return fmt.Errorf("%w: max participants must not be negative", ErrInvalidArgument)
				}
				room.MaxParticipants = *params.MaxParticipants
			}

			settings, err := s.loadSettings(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if err := params.Settings.apply(settings); err != nil {
				return err
			}

			if err := tx.SaveRoom(ctx, room); err != nil {
				return fmt.Errorf("failed to update room: %w", err)
			}
			if err := tx.SaveSettings(ctx, settings); err != nil {
				return fmt.Errorf("failed to update room settings: %w", err)
			}
			room.Settings = settings
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventTypeRoomUpdated, roomID, userID, events.ChannelRoom, room)
	return room, nil
}

func (s *Service) DeleteRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := checkPermission(s.gate.CanDeleteRoom(ctx, userID, roomID)); err != nil {
		return err
	}

	err := s.withRoomLock(ctx, roomID, func() error {
		err := s.db.Transaction(ctx, func(tx *database.DB) error {
			if _, err := tx.LockRoom(ctx, roomID); err != nil {
				return notFound("room", err)
			}
			if err := tx.DeleteRoom(ctx, roomID); err != nil {
				return fmt.Errorf("failed to delete room: %w", err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		if s.cache != nil {
			if err := s.cache.Invalidate(ctx, roomID.String()); err != nil {
				s.logger.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to invalidate playback cache")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info().Str("room_id", roomID.String()).Msg("room deleted")
	s.publish(ctx, events.EventTypeRoomDeleted, roomID, userID, events.ChannelRoom, fields{"room_id": roomID})
	return nil
}

// History returns the room's resolved plays, newest first.
func (s *Service) History(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.PlayHistory, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	return s.history.List(ctx, roomID, limit)
}

// loadSettings returns the room settings, falling back to defaults for
// rooms created before settings existed.
func (s *Service) loadSettings(ctx context.Context, tx *database.DB, roomID uuid.UUID) (*models.RoomSettings, error) {
	settings, err := tx.GetSettings(ctx, roomID)
	if err == nil {
		return settings, nil
	}
	if database.IsNotFound(err) {
		return models.DefaultSettings(roomID), nil
	}
	return nil, fmt.Errorf("failed to load room settings: %w", err)
}

// fields is an ad-hoc event payload.
type fields map[string]interface{}
