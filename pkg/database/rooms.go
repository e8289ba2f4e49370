package database

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/worship-room/pkg/models"
)

// Room operations

func (db *DB) CreateRoom(ctx context.Context, room *models.Room) error {
	return db.withCtx(ctx).Omit(clause.Associations).Create(room).Error
}

func (db *DB) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := db.withCtx(ctx).Preload("Settings").First(&room, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

// LockRoom loads the room row for update.
func (db *DB) LockRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	var room models.Room
	if err := db.forUpdate(db.withCtx(ctx)).First(&room, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &room, nil
}

func (db *DB) SaveRoom(ctx context.Context, room *models.Room) error {
	return db.withCtx(ctx).Omit(clause.Associations).Save(room).Error
}

func (db *DB) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	return db.withCtx(ctx).Delete(&models.Room{}, "id = ?", id).Error
}

// Settings operations

func (db *DB) CreateSettings(ctx context.Context, settings *models.RoomSettings) error {
	return db.withCtx(ctx).Create(settings).Error
}

func (db *DB) GetSettings(ctx context.Context, roomID uuid.UUID) (*models.RoomSettings, error) {
	var settings models.RoomSettings
	if err := db.withCtx(ctx).First(&settings, "room_id = ?", roomID).Error; err != nil {
		return nil, err
	}
	return &settings, nil
}

func (db *DB) SaveSettings(ctx context.Context, settings *models.RoomSettings) error {
	return db.withCtx(ctx).Save(settings).Error
}

// Participant operations

func (db *DB) CreateParticipant(ctx context.Context, p *models.Participant) error {
	return db.withCtx(ctx).Create(p).Error
}

func (db *DB) GetParticipant(ctx context.Context, roomID, userID uuid.UUID) (*models.Participant, error) {
	var p models.Participant
	if err := db.withCtx(ctx).First(&p, "room_id = ? AND user_id = ?", roomID, userID).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (db *DB) SaveParticipant(ctx context.Context, p *models.Participant) error {
	return db.withCtx(ctx).Save(p).Error
}

func (db *DB) CountActiveParticipants(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var n int64
	err := db.withCtx(ctx).Model(&models.Participant{}).
		Where("room_id = ? AND active = ?", roomID, true).
		Count(&n).Error
	return n, err
}

func (db *DB) ListActiveParticipants(ctx context.Context, roomID uuid.UUID) ([]*models.Participant, error) {
	var ps []*models.Participant
	if err := db.withCtx(ctx).
		Where("room_id = ? AND active = ?", roomID, true).
		Order("joined_at ASC").
		Find(&ps).Error; err != nil {
		return nil, err
	}
	return ps, nil
}

func (db *DB) ListWaitlist(ctx context.Context, roomID uuid.UUID) ([]*models.Participant, error) {
	var ps []*models.Participant
	if err := db.withCtx(ctx).
		Where("room_id = ? AND active = ? AND in_waitlist = ?", roomID, true, true).
		Order("waitlist_position ASC").
		Find(&ps).Error; err != nil {
		return nil, err
	}
	return ps, nil
}

func (db *DB) MaxWaitlistPosition(ctx context.Context, roomID uuid.UUID) (int, error) {
	var row struct {
		MaxPosition int
	}
	err := db.withCtx(ctx).Model(&models.Participant{}).
		Select("COALESCE(MAX(waitlist_position), 0) AS max_position").
		Where("room_id = ? AND in_waitlist = ?", roomID, true).
		Scan(&row).Error
	return row.MaxPosition, err
}

// History operations

func (db *DB) CreateHistory(ctx context.Context, h *models.PlayHistory) error {
	return db.withCtx(ctx).Create(h).Error
}

func (db *DB) ListHistory(ctx context.Context, roomID uuid.UUID, limit int) ([]*models.PlayHistory, error) {
	var hs []*models.PlayHistory
	q := db.withCtx(ctx).Where("room_id = ?", roomID).Order("resolved_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&hs).Error; err != nil {
		return nil, err
	}
	return hs, nil
}
