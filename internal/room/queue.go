package room

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/worship-room/pkg/database"
	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/models"
)

// VideoMeta describes a video a participant wants to queue. The catalog
// lookup happens on the client.
type VideoMeta struct {
	ID          string `json:"id" binding:"required"`
	Title       string `json:"title"`
	Thumbnail   string `json:"thumbnail"`
	DurationSec int    `json:"duration_sec"`
}

// EntryView is a queue entry with tallies counted from the vote ledger.
type EntryView struct {
	*models.QueueEntry
	Upvotes   int64 `json:"upvotes"`
	SkipVotes int64 `json:"skip_votes"`
}

func newEntryView(entry *models.QueueEntry, t database.Tally) *EntryView {
	return &EntryView{QueueEntry: entry, Upvotes: t.Upvotes, SkipVotes: t.SkipVotes}
}

func (s *Service) AddToQueue(ctx context.Context, roomID, userID uuid.UUID, video VideoMeta) (*EntryView, error) {
	video.ID = strings.TrimSpace(video.ID)
	if video.ID == "" {
		return nil, fmt.Errorf("%w: video id is required", ErrInvalidArgument)
	}
	if err := checkPermission(s.gate.CanAddToQueue(ctx, userID, roomID)); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	var entry *models.QueueEntry

	err := s.withRoomLock(ctx, roomID, func() error {
		return s.db.Transaction(ctx, func(tx *database.DB) error {
			if _, err := tx.LockRoom(ctx, roomID); err != nil {
				return notFound("room", err)
			}
			settings, err := s.loadSettings(ctx, tx, roomID)
			if err != nil {
				return err
			}
			if err := s.checkQueuePolicy(ctx, tx, settings, roomID, userID, video, now); err != nil {
				return err
			}

			maxPosition, err := tx.MaxActivePosition(ctx, roomID)
			if err != nil {
				return fmt.Errorf("failed to read queue positions: %w", err)
			}

			entry = &models.QueueEntry{
				ID:          uuid.New(),
				RoomID:      roomID,
				UserID:      userID,
				VideoID:     video.ID,
				Title:       video.Title,
				Thumbnail:   video.Thumbnail,
				DurationSec: video.DurationSec,
				Position:    maxPosition + models.PositionGap,
				Status:      models.EntryWaiting,
			}
			if err := tx.CreateEntry(ctx, entry); err != nil {
				return fmt.Errorf("failed to add entry: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	view := newEntryView(entry, database.Tally{})
	s.logger.Debug().
		Str("room_id", roomID.String()).
		Str("entry_id", entry.ID.String()).
		Int64("position", entry.Position).
		Msg("entry added")
	s.publish(ctx, events.EventTypeSongAdded, roomID, userID, events.ChannelQueue, view)
	return view, nil
}

// checkQueuePolicy applies the room settings to a queue request in order:
// per-user cap, capacity, duration range, duplicates, cooldown, banned list.
func (s *Service) checkQueuePolicy(ctx context.Context, tx *database.DB, settings *models.RoomSettings, roomID, userID uuid.UUID, video VideoMeta, now time.Time) error {
	if settings.PerUserLimit > 0 {
		n, err := tx.CountWaitingByUser(ctx, roomID, userID)
		if err != nil {
			return fmt.Errorf("failed to count user entries: %w", err)
		}
		if n >= int64(settings.PerUserLimit) {
			return fmt.Errorf("%w: per-user limit of %d songs reached", ErrCapacityExceeded, settings.PerUserLimit)
		}
	}

	if settings.QueueCapacity > 0 {
		n, err := tx.CountWaiting(ctx, roomID)
		if err != nil {
			return fmt.Errorf("failed to count queue: %w", err)
		}
		if n >= int64(settings.QueueCapacity) {
			return fmt.Errorf("%w: queue is full (%d songs)", ErrCapacityExceeded, settings.QueueCapacity)
		}
	}

	if video.DurationSec < settings.MinDurationSec ||
		(settings.MaxDurationSec > 0 && video.DurationSec > settings.MaxDurationSec) {
		return fmt.Errorf("%w: duration %ds outside [%d, %d]", ErrPolicyViolation,
			video.DurationSec, settings.MinDurationSec, settings.MaxDurationSec)
	}

	if !settings.AllowDuplicates {
		exists, err := tx.WaitingVideoExists(ctx, roomID, video.ID)
		if err != nil {
			return fmt.Errorf("failed to check duplicates: %w", err)
		}
		if exists {
			return fmt.Errorf("%w: video is already queued", ErrPolicyViolation)
		}
	}

	if settings.ReplayCooldownHours > 0 {
		last, err := tx.LastResolvedAt(ctx, roomID, video.ID)
		if err != nil {
			return fmt.Errorf("failed to check cooldown: %w", err)
		}
		cooldown := time.Duration(settings.ReplayCooldownHours) * time.Hour
		if last != nil && now.Before(last.Add(cooldown)) {
			return fmt.Errorf("%w: video played recently, available after %s", ErrPolicyViolation,
				last.Add(cooldown).UTC().Format(time.RFC3339))
		}
	}

	if settings.IsBanned(video.ID) {
		return fmt.Errorf("%w: video is banned in this room", ErrPolicyViolation)
	}
	return nil
}

// RemoveFromQueue deletes a waiting entry. Only its owner or a moderator may
// remove it.
func (s *Service) RemoveFromQueue(ctx context.Context, entryID, userID uuid.UUID) error {
	entry, err := s.db.GetEntry(ctx, entryID)
	if err != nil {
		return notFound("entry", err)
	}
	if entry.UserID != userID {
		if err := checkPermission(s.gate.CanModerate(ctx, userID, entry.RoomID)); err != nil {
			return err
		}
	}

	err = s.withRoomLock(ctx, entry.RoomID, func() error {
		return s.db.Transaction(ctx, func(tx *database.DB) error {
			entry, err = tx.GetEntry(ctx, entryID)
			if err != nil {
				return notFound("entry", err)
			}
			switch {
			case entry.Status == models.EntryPlaying:
				return fmt.Errorf("%w: entry is playing, skip it instead", ErrInvalidState)
			case entry.Status.Terminal():
				return fmt.Errorf("%w: entry already resolved", ErrInvalidState)
			}
			if err := tx.DeleteEntry(ctx, entryID); err != nil {
				return fmt.Errorf("failed to remove entry: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.EventTypeSongRemoved, entry.RoomID, userID, events.ChannelQueue, fields{
		"entry_id": entry.ID,
		"video_id": entry.VideoID,
	})
	return nil
}

// ListQueue returns the waiting entries in play order.
func (s *Service) ListQueue(ctx context.Context, roomID uuid.UUID) ([]*EntryView, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	entries, err := s.db.ListWaiting(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	return s.views(ctx, entries)
}

func (s *Service) GetCurrentlyPlaying(ctx context.Context, roomID uuid.UUID) (*EntryView, error) {
	entry, err := s.db.PlayingEntry(ctx, roomID)
	if err != nil {
		return nil, notFound("playing entry", err)
	}
	return s.view(ctx, entry)
}

func (s *Service) view(ctx context.Context, entry *models.QueueEntry) (*EntryView, error) {
	views, err := s.views(ctx, []*models.QueueEntry{entry})
	if err != nil {
		return nil, err
	}
	return views[0], nil
}

func (s *Service) views(ctx context.Context, entries []*models.QueueEntry) ([]*EntryView, error) {
	ids := make([]uuid.UUID, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	tallies, err := s.db.Tallies(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to count votes: %w", err)
	}

	views := make([]*EntryView, len(entries))
	for i, e := range entries {
		views[i] = newEntryView(e, tallies[e.ID])
	}
	return views, nil
}

// MoveEntry places a waiting entry directly before beforeID, or at the end of
// the queue when beforeID is nil. Only the moved entry is rewritten unless
// its neighbours have no gap left, in which case the queue is rebalanced.
func (s *Service) MoveEntry(ctx context.Context, entryID, userID uuid.UUID, beforeID *uuid.UUID) (*EntryView, error) {
	if beforeID != nil && *beforeID == entryID {
		return nil, fmt.Errorf("%w: cannot move an entry before itself", ErrInvalidArgument)
	}
	entry, err := s.db.GetEntry(ctx, entryID)
	if err != nil {
		return nil, notFound("entry", err)
	}
	if err := checkPermission(s.gate.CanModerate(ctx, userID, entry.RoomID)); err != nil {
		return nil, err
	}

	err = s.withRoomLock(ctx, entry.RoomID, func() error {
		return s.db.Transaction(ctx, func(tx *database.DB) error {
			entry, err = tx.GetEntry(ctx, entryID)
			if err != nil {
				return notFound("entry", err)
			}
			if entry.Status != models.EntryWaiting {
				return fmt.Errorf("%w: only waiting entries can move", ErrInvalidState)
			}

			waiting, err := tx.ListWaiting(ctx, entry.RoomID)
			if err != nil {
				return fmt.Errorf("failed to list queue: %w", err)
			}
			others := make([]*models.QueueEntry, 0, len(waiting))
			for _, e := range waiting {
				if e.ID != entry.ID {
					others = append(others, e)
				}
			}

			idx := len(others)
			if beforeID != nil {
				idx = -1
				for i, e := range others {
					if e.ID == *beforeID {
						idx = i
						break
					}
				}
				if idx < 0 {
					return fmt.Errorf("%w: entry %s is not waiting in this room", ErrNotFound, *beforeID)
				}
			}

			var position int64
			if idx == len(others) {
				maxPosition, err := tx.MaxActivePosition(ctx, entry.RoomID)
				if err != nil {
					return fmt.Errorf("failed to read queue positions: %w", err)
				}
				position = maxPosition + models.PositionGap
			} else {
				var ok bool
				position, ok = positionBefore(others, idx)
				if !ok {
					if err := rebalance(ctx, tx, others); err != nil {
						return err
					}
					position, _ = positionBefore(others, idx)
					s.logger.Info().Str("room_id", entry.RoomID.String()).Msg("queue rebalanced")
				}
			}

			if err := tx.UpdateEntryPosition(ctx, entry.ID, position); err != nil {
				return fmt.Errorf("failed to move entry: %w", err)
			}
			entry.Position = position
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventTypeQueueReordered, entry.RoomID, userID, events.ChannelQueue, fields{
		"entry_id":  entry.ID,
		"position":  entry.Position,
		"before_id": beforeID,
	})
	return s.view(ctx, entry)
}

// positionBefore returns a position strictly between others[idx-1] and
// others[idx]. The front of the queue is bounded by 0.
func positionBefore(others []*models.QueueEntry, idx int) (int64, bool) {
	var lower int64
	if idx > 0 {
		lower = others[idx-1].Position
	}
	upper := others[idx].Position
	if upper-lower < 2 {
		return 0, false
	}
	return lower + (upper-lower)/2, true
}

// Rebalance renumbers the waiting entries of a room to multiples of the
// position gap, keeping their order.
func (s *Service) Rebalance(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := checkPermission(s.gate.CanModerate(ctx, userID, roomID)); err != nil {
		return err
	}

	err := s.withRoomLock(ctx, roomID, func() error {
		return s.db.Transaction(ctx, func(tx *database.DB) error {
			if _, err := tx.LockRoom(ctx, roomID); err != nil {
				return notFound("room", err)
			}
			waiting, err := tx.ListWaiting(ctx, roomID)
			if err != nil {
				return fmt.Errorf("failed to list queue: %w", err)
			}
			return rebalance(ctx, tx, waiting)
		})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.EventTypeQueueReordered, roomID, userID, events.ChannelQueue, fields{"rebalanced": true})
	return nil
}

// rebalance rewrites entries, already in queue order, to (i+1)*PositionGap.
func rebalance(ctx context.Context, tx *database.DB, entries []*models.QueueEntry) error {
	for i, e := range entries {
		position := int64(i+1) * models.PositionGap
		if e.Position == position {
			continue
		}
		if err := tx.UpdateEntryPosition(ctx, e.ID, position); err != nil {
			return fmt.Errorf("failed to rebalance queue: %w", err)
		}
		e.Position = position
	}
	return nil
}
