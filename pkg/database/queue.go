package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/worship-room/pkg/models"
)

var activeStatuses = []models.EntryStatus{models.EntryWaiting, models.EntryPlaying}

// Queue operations

func (db *DB) CreateEntry(ctx context.Context, entry *models.QueueEntry) error {
	return db.withCtx(ctx).Create(entry).Error
}

func (db *DB) GetEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := db.withCtx(ctx).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// LockEntry loads the entry row for update.
func (db *DB) LockEntry(ctx context.Context, id uuid.UUID) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := db.forUpdate(db.withCtx(ctx)).First(&entry, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (db *DB) SaveEntry(ctx context.Context, entry *models.QueueEntry) error {
	return db.withCtx(ctx).Save(entry).Error
}

// DeleteEntry removes the entry together with its votes.
func (db *DB) DeleteEntry(ctx context.Context, id uuid.UUID) error {
	if err := db.withCtx(ctx).Delete(&models.SongVote{}, "entry_id = ?", id).Error; err != nil {
		return err
	}
	return db.withCtx(ctx).Delete(&models.QueueEntry{}, "id = ?", id).Error
}

// MaxActivePosition returns the highest position among WAITING and PLAYING
// entries, or 0 when there are none.
func (db *DB) MaxActivePosition(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var row struct {
		MaxPosition int64
	}
	err := db.withCtx(ctx).Model(&models.QueueEntry{}).
		Select("COALESCE(MAX(position), 0) AS max_position").
		Where("room_id = ? AND status IN ?", roomID, activeStatuses).
		Scan(&row).Error
	return row.MaxPosition, err
}

func (db *DB) CountWaiting(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var n int64
	err := db.withCtx(ctx).Model(&models.QueueEntry{}).
		Where("room_id = ? AND status = ?", roomID, models.EntryWaiting).
		Count(&n).Error
	return n, err
}

func (db *DB) CountWaitingByUser(ctx context.Context, roomID, userID uuid.UUID) (int64, error) {
	var n int64
	err := db.withCtx(ctx).Model(&models.QueueEntry{}).
		Where("room_id = ? AND user_id = ? AND status = ?", roomID, userID, models.EntryWaiting).
		Count(&n).Error
	return n, err
}

func (db *DB) WaitingVideoExists(ctx context.Context, roomID uuid.UUID, videoID string) (bool, error) {
	var n int64
	err := db.withCtx(ctx).Model(&models.QueueEntry{}).
		Where("room_id = ? AND video_id = ? AND status = ?", roomID, videoID, models.EntryWaiting).
		Count(&n).Error
	return n > 0, err
}

// LastResolvedAt returns when videoID was last completed or skipped in the
// room, or nil if it never was.
func (db *DB) LastResolvedAt(ctx context.Context, roomID uuid.UUID, videoID string) (*time.Time, error) {
	var entries []*models.QueueEntry
	if err := db.withCtx(ctx).
		Select("id", "resolved_at").
		Where("room_id = ? AND video_id = ? AND status IN ?", roomID, videoID,
			[]models.EntryStatus{models.EntryCompleted, models.EntrySkipped}).
		Find(&entries).Error; err != nil {
		return nil, err
	}

	var last *time.Time
	for _, e := range entries {
		if e.ResolvedAt == nil {
			continue
		}
		if last == nil || e.ResolvedAt.After(*last) {
			t := *e.ResolvedAt
			last = &t
		}
	}
	return last, nil
}

// ListWaiting returns WAITING entries in queue order.
func (db *DB) ListWaiting(ctx context.Context, roomID uuid.UUID) ([]*models.QueueEntry, error) {
	var entries []*models.QueueEntry
	if err := db.withCtx(ctx).
		Where("room_id = ? AND status = ?", roomID, models.EntryWaiting).
		Order("position ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (db *DB) PlayingEntry(ctx context.Context, roomID uuid.UUID) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := db.withCtx(ctx).
		Where("room_id = ? AND status = ?", roomID, models.EntryPlaying).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (db *DB) NextWaiting(ctx context.Context, roomID uuid.UUID) (*models.QueueEntry, error) {
	var entry models.QueueEntry
	if err := db.withCtx(ctx).
		Where("room_id = ? AND status = ?", roomID, models.EntryWaiting).
		Order("position ASC").
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (db *DB) UpdateEntryPosition(ctx context.Context, id uuid.UUID, position int64) error {
	return db.withCtx(ctx).Model(&models.QueueEntry{}).
		Where("id = ?", id).
		Update("position", position).Error
}

// Vote operations

func (db *DB) FindVote(ctx context.Context, entryID, userID uuid.UUID, kind models.VoteKind) (*models.SongVote, error) {
	var vote models.SongVote
	if err := db.withCtx(ctx).
		First(&vote, "entry_id = ? AND user_id = ? AND kind = ?", entryID, userID, kind).Error; err != nil {
		return nil, err
	}
	return &vote, nil
}

func (db *DB) CreateVote(ctx context.Context, vote *models.SongVote) error {
	return db.withCtx(ctx).Create(vote).Error
}

func (db *DB) DeleteVote(ctx context.Context, id uuid.UUID) error {
	return db.withCtx(ctx).Delete(&models.SongVote{}, "id = ?", id).Error
}

func (db *DB) ClearVotes(ctx context.Context, entryID uuid.UUID) error {
	return db.withCtx(ctx).Delete(&models.SongVote{}, "entry_id = ?", entryID).Error
}

func (db *DB) CountVotes(ctx context.Context, entryID uuid.UUID, kind models.VoteKind) (int64, error) {
	var n int64
	err := db.withCtx(ctx).Model(&models.SongVote{}).
		Where("entry_id = ? AND kind = ?", entryID, kind).
		Count(&n).Error
	return n, err
}

type Tally struct {
	Upvotes   int64
	SkipVotes int64
}

// Tallies counts votes for several entries at once.
func (db *DB) Tallies(ctx context.Context, entryIDs []uuid.UUID) (map[uuid.UUID]Tally, error) {
	out := make(map[uuid.UUID]Tally, len(entryIDs))
	if len(entryIDs) == 0 {
		return out, nil
	}

	var rows []struct {
		EntryID uuid.UUID
		Kind    models.VoteKind
		Total   int64
	}
	if err := db.withCtx(ctx).Model(&models.SongVote{}).
		Select("entry_id, kind, COUNT(*) AS total").
		Where("entry_id IN ?", entryIDs).
		Group("entry_id, kind").
		Scan(&rows).Error; err != nil {
		return nil, err
	}

	for _, r := range rows {
		t := out[r.EntryID]
		switch r.Kind {
		case models.VoteUpvote:
			t.Upvotes = r.Total
		case models.VoteSkip:
			t.SkipVotes = r.Total
		}
		out[r.EntryID] = t
	}
	return out, nil
}
