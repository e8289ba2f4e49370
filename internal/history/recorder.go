// Package history keeps the append-only log of resolved queue entries.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/worship-room/pkg/database"
	"github.com/worship-room/pkg/models"
)

// Resolution describes how a queue entry left the PLAYING state.
type Resolution struct {
	Entry            *models.QueueEntry
	LeaderID         *uuid.UUID
	Skipped          bool
	Upvotes          int64
	SkipVotes        int64
	ParticipantCount int64
	ResolvedAt       time.Time
}

// Recorder appends PlayHistory rows. Rows are never updated or deleted.
type Recorder struct {
	db *database.DB
}

func NewRecorder(db *database.DB) *Recorder {
	return &Recorder{db: db}
}

// Record appends one history row using tx, the transaction that resolved
// the entry.
func (r *Recorder) Record(ctx context.Context, tx *database.DB, res Resolution) (*models.PlayHistory, error) {
	if res.Entry == nil {
		return nil, fmt.Errorf("history: resolution without entry")
	}
	h := &models.PlayHistory{
		ID:               uuid.New(),
		RoomID:           res.Entry.RoomID,
		EntryID:          res.Entry.ID,
		LeaderID:         res.LeaderID,
		RequestedBy:      res.Entry.UserID,
		VideoID:          res.Entry.VideoID,
		Title:            res.Entry.Title,
		Thumbnail:        res.Entry.Thumbnail,
		DurationSec:      res.Entry.DurationSec,
		Skipped:          res.Skipped,
		Upvotes:          res.Upvotes,
		SkipVotes:        res.SkipVotes,
		ParticipantCount: res.ParticipantCount,
		PlayedAt:         res.Entry.StartedAt,
		ResolvedAt:       res.ResolvedAt,
	}
	if err := tx.CreateHistory(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to record history: %w", err)
	}
	return h, nil
}

// List returns the most recent history of a room, newest first. A limit
// of 0 returns everything.
func (r *Recorder) List(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.PlayHistory, error) {
	hs, err := r.db.ListHistory(ctx, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	return hs, nil
}
