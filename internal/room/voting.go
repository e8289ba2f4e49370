package room

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/worship-room/pkg/database"
	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/models"
)

type VoteResult struct {
	Entry *EntryView `json:"entry"`
	// Voted is false when the call removed an existing vote.
	Voted       bool `json:"voted"`
	AutoSkipped bool `json:"auto_skipped"`
}

// CastVote toggles the user's vote of the given kind on an entry. Tallies
// are counted from the ledger after the toggle commits. A skip vote on the
// playing entry may trigger an automatic skip.
func (s *Service) CastVote(ctx context.Context, entryID, userID uuid.UUID, kind models.VoteKind) (*VoteResult, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown vote kind %q", ErrInvalidArgument, kind)
	}
	entry, err := s.db.GetEntry(ctx, entryID)
	if err != nil {
		return nil, notFound("entry", err)
	}
	if err := checkPermission(s.gate.CanVote(ctx, userID, entry.RoomID)); err != nil {
		return nil, err
	}

	var voted bool
	err = s.db.Transaction(ctx, func(tx *database.DB) error {
		// The entry row lock orders concurrent toggles of the same vote.
		entry, err = tx.LockEntry(ctx, entryID)
		if err != nil {
			return notFound("entry", err)
		}
		if entry.Status.Terminal() {
			return fmt.Errorf("%w: entry already resolved", ErrInvalidState)
		}

		existing, err := tx.FindVote(ctx, entryID, userID, kind)
		switch {
		case err == nil:
			if err := tx.DeleteVote(ctx, existing.ID); err != nil {
				return fmt.Errorf("failed to remove vote: %w", err)
			}
			return nil
		case !database.IsNotFound(err):
			return fmt.Errorf("failed to load vote: %w", err)
		}

		if err := tx.CreateVote(ctx, &models.SongVote{
			ID:      uuid.New(),
			EntryID: entryID,
			UserID:  userID,
			Kind:    kind,
		}); err != nil {
			return fmt.Errorf("failed to cast vote: %w", err)
		}
		voted = true
		return nil
	})
	if err != nil {
		return nil, err
	}

	view, err := s.view(ctx, entry)
	if err != nil {
		return nil, err
	}
	result := &VoteResult{Entry: view, Voted: voted}

	s.publish(ctx, events.EventTypeVoteUpdated, entry.RoomID, userID, events.ChannelQueue, fields{
		"entry": view,
		"kind":  kind,
		"voted": voted,
		"voter": userID,
	})

	if kind != models.VoteSkip || !voted || entry.Status != models.EntryPlaying {
		return result, nil
	}

	skipped, err := s.autoSkip(ctx, entry.RoomID, entry.ID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("room_id", entry.RoomID.String()).
			Str("entry_id", entry.ID.String()).
			Msg("failed to evaluate skip threshold")
		return result, nil
	}
	if skipped {
		result.AutoSkipped = true
		if refreshed, err := s.db.GetEntry(ctx, entry.ID); err == nil {
			result.Entry.QueueEntry = refreshed
		}
	}
	return result, nil
}
