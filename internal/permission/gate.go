// Package permission answers capability questions about a user in a room.
package permission

import (
	"context"

	"github.com/google/uuid"

	"github.com/worship-room/pkg/database"
	"github.com/worship-room/pkg/models"
)

// Gate is the capability check consumed by the room engine. A false answer
// is a denial; an error means the question could not be answered.
type Gate interface {
	CanCreateRoom(ctx context.Context, userID uuid.UUID) (bool, error)
	CanEditRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	CanDeleteRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	CanJoinRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	CanJoinWaitlist(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	CanAddToQueue(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	CanVote(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	CanControlPlayback(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
	CanModerate(ctx context.Context, userID, roomID uuid.UUID) (bool, error)
}

// RoleGate decides from room ownership and participant roles.
type RoleGate struct {
	db *database.DB
}

func NewRoleGate(db *database.DB) *RoleGate {
	return &RoleGate{db: db}
}

func (g *RoleGate) CanCreateRoom(ctx context.Context, userID uuid.UUID) (bool, error) {
	return userID != uuid.Nil, nil
}

func (g *RoleGate) CanEditRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	return g.ownerOrModerator(ctx, userID, roomID)
}

func (g *RoleGate) CanDeleteRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	room, err := g.db.GetRoom(ctx, roomID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	return room.CreatedBy == userID, nil
}

// CanJoinRoom admits anyone to public rooms. Private rooms admit their
// creator and users holding a participant record, which a moderator creates
// with Service.Invite or an earlier join left behind.
func (g *RoleGate) CanJoinRoom(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	room, err := g.db.GetRoom(ctx, roomID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	if !room.IsPrivate || room.CreatedBy == userID {
		return true, nil
	}
	_, err = g.db.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	return true, nil
}

func (g *RoleGate) CanJoinWaitlist(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	return g.activeParticipant(ctx, userID, roomID)
}

func (g *RoleGate) CanAddToQueue(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	return g.activeParticipant(ctx, userID, roomID)
}

func (g *RoleGate) CanVote(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	return g.activeParticipant(ctx, userID, roomID)
}

// CanControlPlayback allows moderators and the current leader.
func (g *RoleGate) CanControlPlayback(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	room, err := g.db.GetRoom(ctx, roomID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	if room.LeaderID != nil && *room.LeaderID == userID {
		return true, nil
	}
	return g.CanModerate(ctx, userID, roomID)
}

func (g *RoleGate) CanModerate(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	p, err := g.db.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	return p.Active && p.Role == models.RoleModerator, nil
}

func (g *RoleGate) activeParticipant(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	p, err := g.db.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	return p.Active, nil
}

func (g *RoleGate) ownerOrModerator(ctx context.Context, userID, roomID uuid.UUID) (bool, error) {
	room, err := g.db.GetRoom(ctx, roomID)
	if err != nil {
		return false, ignoreNotFound(err)
	}
	if room.CreatedBy == userID {
		return true, nil
	}
	return g.CanModerate(ctx, userID, roomID)
}

// A missing room or participant is a denial, not a failure.
func ignoreNotFound(err error) error {
	if database.IsNotFound(err) {
		return nil
	}
	return err
}

// AllowAll grants every capability. Intended for tests and local tooling.
type AllowAll struct{}

func (AllowAll) CanCreateRoom(context.Context, uuid.UUID) (bool, error)                 { return true, nil }
func (AllowAll) CanEditRoom(context.Context, uuid.UUID, uuid.UUID) (bool, error)        { return true, nil }
func (AllowAll) CanDeleteRoom(context.Context, uuid.UUID, uuid.UUID) (bool, error)      { return true, nil }
func (AllowAll) CanJoinRoom(context.Context, uuid.UUID, uuid.UUID) (bool, error)        { return true, nil }
func (AllowAll) CanJoinWaitlist(context.Context, uuid.UUID, uuid.UUID) (bool, error)    { return true, nil }
func (AllowAll) CanAddToQueue(context.Context, uuid.UUID, uuid.UUID) (bool, error)      { return true, nil }
func (AllowAll) CanVote(context.Context, uuid.UUID, uuid.UUID) (bool, error)            { return true, nil }
func (AllowAll) CanControlPlayback(context.Context, uuid.UUID, uuid.UUID) (bool, error) { return true, nil }
func (AllowAll) CanModerate(context.Context, uuid.UUID, uuid.UUID) (bool, error)        { return true, nil }
