package room

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/worship-room/internal/history"
	"github.com/worship-room/pkg/database"
	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/models"
)

type PlaybackAction string

const (
	ActionPlay   PlaybackAction = "PLAY"
	ActionResume PlaybackAction = "RESUME"
	ActionPause  PlaybackAction = "PAUSE"
	ActionStop   PlaybackAction = "STOP"
	ActionSeek   PlaybackAction = "SEEK"
)

// VideoRef replaces the room's current video on PLAY.
type VideoRef struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Thumbnail string `json:"thumbnail"`
}

type PlaybackCommand struct {
	Action   PlaybackAction `json:"action"`
	Position *float64       `json:"position,omitempty"`
	Video    *VideoRef      `json:"video,omitempty"`
}

// PlaybackState is a point-in-time view of a room's player. Position is
// reconstructed for ServerTime.
type PlaybackState struct {
	RoomID         uuid.UUID             `json:"room_id"`
	Status         models.PlaybackStatus `json:"status"`
	LeaderID       *uuid.UUID            `json:"leader_id"`
	VideoID        *string               `json:"video_id"`
	Title          *string               `json:"title"`
	Thumbnail      *string               `json:"thumbnail"`
	Position       float64               `json:"position"`
	StoredPosition float64               `json:"stored_position"`
	StartedAt      *time.Time            `json:"started_at"`
	ServerTime     time.Time             `json:"server_time"`
	ScheduledStart *time.Time            `json:"scheduled_start,omitempty"`
	Entry          *models.QueueEntry    `json:"entry,omitempty"`
}

// ReconstructPosition derives the current playback offset in seconds from
// the stored offset and the start of the running segment. The elapsed part
// never goes negative.
func ReconstructPosition(status models.PlaybackStatus, stored float64, startedAt *time.Time, now time.Time) float64 {
	if status != models.PlaybackPlaying || startedAt == nil {
		return stored
	}
	elapsed := now.Sub(*startedAt).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return stored + elapsed
}

func newPlaybackState(room *models.Room, entry *models.QueueEntry, now time.Time) *PlaybackState {
	return &PlaybackState{
		RoomID:         room.ID,
		Status:         room.PlaybackStatus,
		LeaderID:       room.LeaderID,
		VideoID:        room.CurrentVideoID,
		Title:          room.CurrentTitle,
		Thumbnail:      room.CurrentThumbnail,
		Position:       ReconstructPosition(room.PlaybackStatus, room.PlaybackPosition, room.PlaybackStartedAt, now),
		StoredPosition: room.PlaybackPosition,
		StartedAt:      room.PlaybackStartedAt,
		ServerTime:     now,
		Entry:          entry,
	}
}

// checkPlayable rejects playback in rooms whose variant forbids it right now.
func checkPlayable(room *models.Room, now time.Time) error {
	variant, err := room.Variant()
	if err != nil {
		return fmt.Errorf("failed to decode room variant: %w", err)
	}
	switch v := variant.(type) {
	case models.Template:
		return fmt.Errorf("%w: template rooms cannot play", ErrInvalidState)
	case models.LiveEvent:
		if now.Before(v.StartsAt) {
			return fmt.Errorf("%w: event starts at %s", ErrInvalidState, v.StartsAt.Format(time.RFC3339))
		}
		if v.EndsAt != nil && now.After(*v.EndsAt) {
			return fmt.Errorf("%w: event has ended", ErrInvalidState)
		}
	}
	return nil
}

// errThresholdNotMet aborts an automatic skip whose ratio is insufficient.
var errThresholdNotMet = errors.New("skip threshold not met")

type advanceMode struct {
	skip bool
	// auto skips only if entry is still PLAYING and the skip ratio holds.
	auto  bool
	entry uuid.UUID
}

type advanceResult struct {
	room     *models.Room
	resolved *models.QueueEntry
	next     *models.QueueEntry
}

// advance resolves the PLAYING entry, if any, and promotes the next WAITING
// one. When nothing is waiting the room is stopped and ErrQueueExhausted is
// returned after the stop has been committed.
func (s *Service) advance(ctx context.Context, roomID, actor uuid.UUID, mode advanceMode) (*PlaybackState, error) {
	var (
		res   advanceResult
		state *PlaybackState
	)
	now := s.clock.Now()

	err := s.withRoomLock(ctx, roomID, func() error {
		err := s.db.Transaction(ctx, func(tx *database.DB) error {
			room, err := tx.LockRoom(ctx, roomID)
			if err != nil {
				return notFound("room", err)
			}
			res.room = room

			current, err := tx.PlayingEntry(ctx, roomID)
			if err != nil {
				if !database.IsNotFound(err) {
					return fmt.Errorf("failed to load playing entry: %w", err)
				}
				current = nil
			}

			if mode.skip && !mode.auto && current == nil {
				return fmt.Errorf("%w: nothing is playing", ErrInvalidState)
			}
			if mode.auto {
				if current == nil || current.ID != mode.entry || room.PlaybackStatus == models.PlaybackStopped {
					return errThresholdNotMet
				}
				met, err := thresholdMet(ctx, tx, room, current.ID)
				if err != nil {
					return err
				}
				if !met {
					return errThresholdNotMet
				}
			}
			if !mode.auto {
				if err := checkPlayable(room, now); err != nil {
					return err
				}
			}

			if current != nil {
				if err := s.resolve(ctx, tx, room, current, mode.skip, now); err != nil {
					return err
				}
				res.resolved = current
			}

			next, err := tx.NextWaiting(ctx, roomID)
			if err != nil {
				if !database.IsNotFound(err) {
					return fmt.Errorf("failed to load next entry: %w", err)
				}
				room.PlaybackStatus = models.PlaybackStopped
				room.PlaybackPosition = 0
				room.ClearVideo()
				return tx.SaveRoom(ctx, room)
			}

			next.Status = models.EntryPlaying
			next.StartedAt = &now
			if err := tx.SaveEntry(ctx, next); err != nil {
				return fmt.Errorf("failed to promote entry: %w", err)
			}
			if err := tx.ClearVotes(ctx, next.ID); err != nil {
				return fmt.Errorf("failed to clear votes: %w", err)
			}

			room.PlaybackStatus = models.PlaybackPlaying
			room.CurrentVideoID = &next.VideoID
			room.CurrentTitle = &next.Title
			room.CurrentThumbnail = &next.Thumbnail
			room.PlaybackPosition = 0
			room.PlaybackStartedAt = &now
			if err := tx.SaveRoom(ctx, room); err != nil {
				return fmt.Errorf("failed to update room: %w", err)
			}
			res.next = next
			return nil
		})
		if err != nil {
			return err
		}
		state = newPlaybackState(res.room, res.next, now)
		s.storeState(ctx, state)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if res.resolved != nil && mode.skip {
		s.publish(ctx, events.EventTypeSongSkipped, roomID, actor, events.ChannelNowPlaying, fields{
			"entry":     res.resolved,
			"automatic": mode.auto,
		})
	}

	if res.next == nil {
		s.logger.Info().Str("room_id", roomID.String()).Msg("queue exhausted, playback stopped")
		s.publish(ctx, events.EventTypePlaybackStopped, roomID, actor, events.ChannelNowPlaying, state)
		return nil, ErrQueueExhausted
	}

	s.logger.Info().
		Str("room_id", roomID.String()).
		Str("entry_id", res.next.ID.String()).
		Str("video_id", res.next.VideoID).
		Msg("now playing")
	s.publishNowPlaying(ctx, actor, state)
	return state, nil
}

// resolve moves the PLAYING entry to its terminal status and records the
// outcome with the tallies of this instant.
func (s *Service) resolve(ctx context.Context, tx *database.DB, room *models.Room, entry *models.QueueEntry, skipped bool, now time.Time) error {
	tallies, err := tx.Tallies(ctx, []uuid.UUID{entry.ID})
	if err != nil {
		return fmt.Errorf("failed to count votes: %w", err)
	}
	participants, err := tx.CountActiveParticipants(ctx, room.ID)
	if err != nil {
		return fmt.Errorf("failed to count participants: %w", err)
	}

	entry.Status = models.EntryCompleted
	if skipped {
		entry.Status = models.EntrySkipped
	}
	entry.ResolvedAt = &now
	if err := tx.SaveEntry(ctx, entry); err != nil {
		return fmt.Errorf("failed to resolve entry: %w", err)
	}

	t := tallies[entry.ID]
	_, err = s.history.Record(ctx, tx, history.Resolution{
		Entry:            entry,
		LeaderID:         room.LeaderID,
		Skipped:          skipped,
		Upvotes:          t.Upvotes,
		SkipVotes:        t.SkipVotes,
		ParticipantCount: participants,
		ResolvedAt:       now,
	})
	return err
}

// thresholdMet reports whether skip votes on entryID reach the room's skip
// ratio. A room without active participants never auto-skips.
func thresholdMet(ctx context.Context, tx *database.DB, room *models.Room, entryID uuid.UUID) (bool, error) {
	skips, err := tx.CountVotes(ctx, entryID, models.VoteSkip)
	if err != nil {
		return false, fmt.Errorf("failed to count skip votes: %w", err)
	}
	participants, err := tx.CountActiveParticipants(ctx, room.ID)
	if err != nil {
		return false, fmt.Errorf("failed to count participants: %w", err)
	}
	if participants == 0 {
		return false, nil
	}
	return float64(skips)/float64(participants) >= room.SkipThreshold, nil
}

// PlayNext completes the current entry and starts the next one.
func (s *Service) PlayNext(ctx context.Context, roomID, userID uuid.UUID) (*PlaybackState, error) {
	if err := checkPermission(s.gate.CanControlPlayback(ctx, userID, roomID)); err != nil {
		return nil, err
	}
	return s.advance(ctx, roomID, userID, advanceMode{})
}

// Skip marks the current entry skipped and starts the next one.
func (s *Service) Skip(ctx context.Context, roomID, userID uuid.UUID) (*PlaybackState, error) {
	if err := checkPermission(s.gate.CanControlPlayback(ctx, userID, roomID)); err != nil {
		return nil, err
	}
	return s.advance(ctx, roomID, userID, advanceMode{skip: true})
}

// autoSkip skips entryID if it is still playing and its skip votes meet the
// room threshold. It reports whether a skip happened.
func (s *Service) autoSkip(ctx context.Context, roomID, entryID uuid.UUID) (bool, error) {
	_, err := s.advance(ctx, roomID, uuid.Nil, advanceMode{skip: true, auto: true, entry: entryID})
	switch {
	case err == nil, errors.Is(err, ErrQueueExhausted):
		s.logger.Info().Str("room_id", roomID.String()).Str("entry_id", entryID.String()).Msg("skip threshold reached")
		return true, nil
	case errors.Is(err, errThresholdNotMet):
		return false, nil
	default:
		return false, err
	}
}

// UpdatePlayback applies a leader or moderator command to the player.
func (s *Service) UpdatePlayback(ctx context.Context, roomID, userID uuid.UUID, cmd PlaybackCommand) (*PlaybackState, error) {
	switch cmd.Action {
	case ActionPlay, ActionResume, ActionPause, ActionStop, ActionSeek:
	default:
		return nil, fmt.Errorf("%w: unknown playback action %q", ErrInvalidArgument, cmd.Action)
	}
	if cmd.Position != nil && *cmd.Position < 0 {
		return nil, fmt.Errorf("%w: position must not be negative", ErrInvalidArgument)
	}
	if cmd.Action == ActionSeek && cmd.Position == nil {
		return nil, fmt.Errorf("%w: seek requires a position", ErrInvalidArgument)
	}
	if cmd.Video != nil && cmd.Video.ID == "" {
		return nil, fmt.Errorf("%w: video id is required", ErrInvalidArgument)
	}
	if err := checkPermission(s.gate.CanControlPlayback(ctx, userID, roomID)); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var (
		room  *models.Room
		state *PlaybackState
	)

	err := s.withRoomLock(ctx, roomID, func() error {
		var entry *models.QueueEntry
		err := s.db.Transaction(ctx, func(tx *database.DB) error {
			var err error
			room, err = tx.LockRoom(ctx, roomID)
			if err != nil {
				return notFound("room", err)
			}
			if err := applyCommand(room, userID, cmd, now); err != nil {
				return err
			}
			if err := tx.SaveRoom(ctx, room); err != nil {
				return fmt.Errorf("failed to update playback: %w", err)
			}

			entry, err = tx.PlayingEntry(ctx, roomID)
			if err != nil {
				if !database.IsNotFound(err) {
					return fmt.Errorf("failed to load playing entry: %w", err)
				}
				entry = nil
			}
			return nil
		})
		if err != nil {
			return err
		}
		state = newPlaybackState(room, entry, now)
		s.storeState(ctx, state)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("room_id", roomID.String()).
		Str("action", string(cmd.Action)).
		Float64("position", room.PlaybackPosition).
		Msg("playback updated")

	switch room.PlaybackStatus {
	case models.PlaybackPlaying:
		s.publishNowPlaying(ctx, userID, state)
	case models.PlaybackPaused:
		s.publish(ctx, events.EventTypePlaybackPaused, roomID, userID, events.ChannelNowPlaying, state)
	default:
		s.publish(ctx, events.EventTypePlaybackStopped, roomID, userID, events.ChannelNowPlaying, state)
	}
	return state, nil
}

// applyCommand mutates room according to cmd. Entry statuses are left alone.
func applyCommand(room *models.Room, userID uuid.UUID, cmd PlaybackCommand, now time.Time) error {
	current := ReconstructPosition(room.PlaybackStatus, room.PlaybackPosition, room.PlaybackStartedAt, now)

	switch cmd.Action {
	case ActionPlay, ActionResume:
		if err := checkPlayable(room, now); err != nil {
			return err
		}
		if cmd.Video != nil {
			room.CurrentVideoID = &cmd.Video.ID
			room.CurrentTitle = &cmd.Video.Title
			room.CurrentThumbnail = &cmd.Video.Thumbnail
		}
		if room.CurrentVideoID == nil {
			return fmt.Errorf("%w: no video to play", ErrInvalidState)
		}

		position := 0.0
		if cmd.Action == ActionResume {
			position = current
		}
		if cmd.Position != nil {
			position = *cmd.Position
		}

		leader := userID
		room.LeaderID = &leader
		room.PlaybackStatus = models.PlaybackPlaying
		room.PlaybackPosition = position
		room.PlaybackStartedAt = &now

	case ActionPause:
		if room.PlaybackStatus == models.PlaybackStopped {
			return fmt.Errorf("%w: playback is stopped", ErrInvalidState)
		}
		room.PlaybackPosition = current
		room.PlaybackStartedAt = nil
		room.PlaybackStatus = models.PlaybackPaused

	case ActionStop:
		room.PlaybackStatus = models.PlaybackStopped
		room.PlaybackPosition = 0
		room.ClearVideo()

	case ActionSeek:
		if room.PlaybackStatus == models.PlaybackStopped {
			return fmt.Errorf("%w: playback is stopped", ErrInvalidState)
		}
		room.PlaybackPosition = *cmd.Position
		if room.PlaybackStatus == models.PlaybackPlaying {
			room.PlaybackStartedAt = &now
		}
	}
	return nil
}

// GetPlaybackState returns the room's player state reconstructed for now.
// A cache miss is refilled under the room lock so a refill never replaces
// the snapshot of a newer transition.
func (s *Service) GetPlaybackState(ctx context.Context, roomID uuid.UUID) (*PlaybackState, error) {
	if s.cache == nil {
		return s.loadPlaybackState(ctx, roomID)
	}

	var cached PlaybackState
	ok, err := s.cache.Load(ctx, roomID.String(), &cached)
	if err != nil {
		s.logger.Warn().Err(err).Str("room_id", roomID.String()).Msg("failed to load playback cache")
	}
	if ok {
		now := s.clock.Now()
		cached.Position = ReconstructPosition(cached.Status, cached.StoredPosition, cached.StartedAt, now)
		cached.ServerTime = now
		cached.ScheduledStart = nil
		return &cached, nil
	}

	var state *PlaybackState
	err = s.withRoomLock(ctx, roomID, func() error {
		var err error
		state, err = s.loadPlaybackState(ctx, roomID)
		if err != nil {
			return err
		}
		s.storeState(ctx, state)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

func (s *Service) loadPlaybackState(ctx context.Context, roomID uuid.UUID) (*PlaybackState, error) {
	room, err := s.db.GetRoom(ctx, roomID)
	if err != nil {
		return nil, notFound("room", err)
	}
	entry, err := s.db.PlayingEntry(ctx, roomID)
	if err != nil {
		if !database.IsNotFound(err) {
			return nil, fmt.Errorf("failed to load playing entry: %w", err)
		}
		entry = nil
	}
	return newPlaybackState(room, entry, s.clock.Now()), nil
}

func (s *Service) publishNowPlaying(ctx context.Context, actor uuid.UUID, state *PlaybackState) {
	scheduled := state.ServerTime.Add(s.syncBuffer)
	payload := *state
	payload.ScheduledStart = &scheduled
	s.publish(ctx, events.EventTypeNowPlaying, state.RoomID, actor, events.ChannelNowPlaying, payload)
}

// storeState caches state. Callers hold the room lock.
func (s *Service) storeState(ctx context.Context, state *PlaybackState) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Store(ctx, state.RoomID.String(), state); err != nil {
		s.logger.Warn().Err(err).Str("room_id", state.RoomID.String()).Msg("failed to store playback cache")
	}
}
