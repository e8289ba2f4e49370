package room

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/worship-room/pkg/database"
	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/models"
)

// Join adds the user to the room, reactivating an earlier membership if one
// exists. Joining while already active only refreshes LastActiveAt.
func (s *Service) Join(ctx context.Context, roomID, userID uuid.UUID) (*models.Participant, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}

	var (
		p        *models.Participant
		joined   bool
		rejoined bool
	)
	err := s.withRoomLock(ctx, roomID, func() error {
		existing, err := s.db.GetParticipant(ctx, roomID, userID)
		if err != nil {
			if !database.IsNotFound(err) {
				return fmt.Errorf("failed to load participant: %w", err)
			}
			if err := checkPermission(s.gate.CanJoinRoom(ctx, userID, roomID)); err != nil {
				return err
			}
			existing = nil
		}

		return s.db.Transaction(ctx, func(tx *database.DB) error {
			room, err := tx.LockRoom(ctx, roomID)
			if err != nil {
				return notFound("room", err)
			}
			now := s.clock.Now()

			if existing != nil && existing.Active {
				existing.LastActiveAt = now
				p = existing
				return tx.SaveParticipant(ctx, existing)
			}

			if room.MaxParticipants > 0 {
				n, err := tx.CountActiveParticipants(ctx, roomID)
				if err != nil {
					return fmt.Errorf("failed to count participants: %w", err)
				}
				if n >= int64(room.MaxParticipants) {
					return fmt.Errorf("%w: room is full (%d participants)", ErrCapacityExceeded, room.MaxParticipants)
				}
			}

			if existing != nil {
				// invited users hold a record that was never active
				rejoined = existing.LeftAt != nil
				joined = !rejoined
				existing.Active = true
				existing.LeftAt = nil
				existing.LastActiveAt = now
				p = existing
				return tx.SaveParticipant(ctx, existing)
			}

			p = &models.Participant{
				ID:           uuid.New(),
				RoomID:       roomID,
				UserID:       userID,
				Role:         models.RoleListener,
				Active:       true,
				JoinedAt:     now,
				LastActiveAt: now,
			}
			joined = true
			if err := tx.CreateParticipant(ctx, p); err != nil {
				return fmt.Errorf("failed to join room: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if joined || rejoined {
		s.publish(ctx, events.EventTypeUserJoined, roomID, userID, events.ChannelParticipants, fields{
			"participant": p,
			"rejoined":    rejoined,
		})
	}
	return p, nil
}

// Leave deactivates the user's membership. A leaving leader stops playback
// first. The skip threshold of the playing entry is evaluated again since
// the participant count dropped.
func (s *Service) Leave(ctx context.Context, roomID, userID uuid.UUID) error {
	var (
		room       *models.Room
		left       bool
		stopped    bool
		waitlisted bool
		playing    *models.QueueEntry
		state      *PlaybackState
	)

	err := s.withRoomLock(ctx, roomID, func() error {
		err := s.db.Transaction(ctx, func(tx *database.DB) error {
			var err error
			room, err = tx.LockRoom(ctx, roomID)
			if err != nil {
				return notFound("room", err)
			}
			p, err := tx.GetParticipant(ctx, roomID, userID)
			if err != nil {
				return notFound("participant", err)
			}
			if !p.Active {
				return nil
			}
			now := s.clock.Now()

			if room.LeaderID != nil && *room.LeaderID == userID {
				if room.PlaybackStatus != models.PlaybackStopped {
					room.PlaybackStatus = models.PlaybackStopped
					room.PlaybackPosition = 0
					room.ClearVideo()
					stopped = true
				}
				room.LeaderID = nil
				if err := tx.SaveRoom(ctx, room); err != nil {
					return fmt.Errorf("failed to update room: %w", err)
				}
			}

			waitlisted = p.InWaitlist
			p.InWaitlist = false
			p.WaitlistPosition = nil
			p.Active = false
			p.LeftAt = &now
			if err := tx.SaveParticipant(ctx, p); err != nil {
				return fmt.Errorf("failed to leave room: %w", err)
			}
			left = true

			if room.PlaybackStatus != models.PlaybackStopped {
				playing, err = tx.PlayingEntry(ctx, roomID)
				if err != nil {
					if !database.IsNotFound(err) {
						return fmt.Errorf("failed to load playing entry: %w", err)
					}
					playing = nil
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		if stopped {
			state = newPlaybackState(room, nil, s.clock.Now())
			s.storeState(ctx, state)
		}
		return nil
	})
	if err != nil || !left {
		return err
	}

	if stopped {
		s.logger.Info().Str("room_id", roomID.String()).Msg("leader left, playback stopped")
		s.publish(ctx, events.EventTypePlaybackStopped, roomID, userID, events.ChannelNowPlaying, state)
	}
	if waitlisted {
		s.publish(ctx, events.EventTypeUserLeftWaitlist, roomID, userID, events.ChannelWaitlist, fields{"user_id": userID})
	}
	s.publish(ctx, events.EventTypeUserLeft, roomID, userID, events.ChannelParticipants, fields{"user_id": userID})

	if playing != nil {
		if _, err := s.autoSkip(ctx, roomID, playing.ID); err != nil {
			s.logger.Error().Err(err).Str("room_id", roomID.String()).Msg("failed to evaluate skip threshold")
		}
	}
	return nil
}

// Invite records userID as an inactive listener of the room. The record is
// what admits the user to a private room; Join activates it. Inviting a
// current or former participant changes nothing.
func (s *Service) Invite(ctx context.Context, roomID, moderatorID, userID uuid.UUID) (*models.Participant, error) {
	if userID == uuid.Nil {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidArgument)
	}
	if err := checkPermission(s.gate.CanModerate(ctx, moderatorID, roomID)); err != nil {
		return nil, err
	}

	var (
		p       *models.Participant
		invited bool
	)
	err := s.withRoomLock(ctx, roomID, func() error {
		return s.db.Transaction(ctx, func(tx *database.DB) error {
			if _, err := tx.LockRoom(ctx, roomID); err != nil {
				return notFound("room", err)
			}
			existing, err := tx.GetParticipant(ctx, roomID, userID)
			if err == nil {
				p = existing
				return nil
			}
			if !database.IsNotFound(err) {
				return fmt.Errorf("failed to load participant: %w", err)
			}

			now := s.clock.Now()
			p = &models.Participant{
				ID:           uuid.New(),
				RoomID:       roomID,
				UserID:       userID,
				Role:         models.RoleListener,
				JoinedAt:     now,
				LastActiveAt: now,
			}
			invited = true
			if err := tx.CreateParticipant(ctx, p); err != nil {
				return fmt.Errorf("failed to invite user: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if invited {
		s.publish(ctx, events.EventTypeUserInvited, roomID, moderatorID, events.ChannelParticipants, fields{"user_id": userID})
	}
	return p, nil
}

// AuthorizeSubscription reports whether userID may follow the room's event
// stream: active participants may, anyone else only if they could join.
func (s *Service) AuthorizeSubscription(ctx context.Context, roomID, userID uuid.UUID) error {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return err
	}
	p, err := s.db.GetParticipant(ctx, roomID, userID)
	switch {
	case err == nil && p.Active:
		return nil
	case err != nil && !database.IsNotFound(err):
		return fmt.Errorf("failed to load participant: %w", err)
	}
	return checkPermission(s.gate.CanJoinRoom(ctx, userID, roomID))
}

func (s *Service) ListParticipants(ctx context.Context, roomID uuid.UUID) ([]*models.Participant, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	ps, err := s.db.ListActiveParticipants(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}
	return ps, nil
}

// JoinWaitlist appends the user to the waitlist. Joining twice keeps the
// original position.
func (s *Service) JoinWaitlist(ctx context.Context, roomID, userID uuid.UUID) (*models.Participant, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if err := checkPermission(s.gate.CanJoinWaitlist(ctx, userID, roomID)); err != nil {
		return nil, err
	}

	var (
		p     *models.Participant
		added bool
	)
	err := s.withRoomLock(ctx, roomID, func() error {
		return s.db.Transaction(ctx, func(tx *database.DB) error {
			var err error
			p, err = tx.GetParticipant(ctx, roomID, userID)
			if err != nil {
				return notFound("participant", err)
			}
			if !p.Active {
				return fmt.Errorf("%w: not in the room", ErrInvalidState)
			}
			if p.InWaitlist {
				return nil
			}

			maxPosition, err := tx.MaxWaitlistPosition(ctx, roomID)
			if err != nil {
				return fmt.Errorf("failed to read waitlist: %w", err)
			}
			position := maxPosition + 1
			p.InWaitlist = true
			p.WaitlistPosition = &position
			p.LastActiveAt = s.clock.Now()
			if err := tx.SaveParticipant(ctx, p); err != nil {
				return fmt.Errorf("failed to join waitlist: %w", err)
			}
			added = true
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if added {
		s.publish(ctx, events.EventTypeUserJoinedWaitlist, roomID, userID, events.ChannelWaitlist, p)
	}
	return p, nil
}

func (s *Service) LeaveWaitlist(ctx context.Context, roomID, userID uuid.UUID) error {
	err := s.withRoomLock(ctx, roomID, func() error {
		return s.db.Transaction(ctx, func(tx *database.DB) error {
			p, err := tx.GetParticipant(ctx, roomID, userID)
			if err != nil {
				return notFound("participant", err)
			}
			if !p.InWaitlist {
				return fmt.Errorf("%w: not on the waitlist", ErrInvalidState)
			}
			p.InWaitlist = false
			p.WaitlistPosition = nil
			if err := tx.SaveParticipant(ctx, p); err != nil {
				return fmt.Errorf("failed to leave waitlist: %w", err)
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	s.publish(ctx, events.EventTypeUserLeftWaitlist, roomID, userID, events.ChannelWaitlist, fields{"user_id": userID})
	return nil
}

// ListWaitlist returns waitlisted participants by position.
func (s *Service) ListWaitlist(ctx context.Context, roomID uuid.UUID) ([]*models.Participant, error) {
	if _, err := s.GetRoom(ctx, roomID); err != nil {
		return nil, err
	}
	ps, err := s.db.ListWaitlist(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to list waitlist: %w", err)
	}
	return ps, nil
}
