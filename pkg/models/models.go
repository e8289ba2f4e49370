package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PositionGap is the spacing between adjacent queue entries at creation.
const PositionGap int64 = 10000

type PlaybackStatus string

const (
	PlaybackStopped PlaybackStatus = "stopped"
	PlaybackPlaying PlaybackStatus = "playing"
	PlaybackPaused  PlaybackStatus = "paused"
)

type EntryStatus string

const (
	EntryWaiting   EntryStatus = "WAITING"
	EntryPlaying   EntryStatus = "PLAYING"
	EntryCompleted EntryStatus = "COMPLETED"
	EntrySkipped   EntryStatus = "SKIPPED"
)

// Terminal reports whether the entry has been resolved.
func (s EntryStatus) Terminal() bool {
	return s == EntryCompleted || s == EntrySkipped
}

type VoteKind string

const (
	VoteUpvote VoteKind = "UPVOTE"
	VoteSkip   VoteKind = "SKIP"
)

func (k VoteKind) Valid() bool {
	return k == VoteUpvote || k == VoteSkip
}

type Role string

const (
	RoleListener  Role = "LISTENER"
	RoleModerator Role = "MODERATOR"
)

type Room struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	Name      string    `json:"name"`
	IsPrivate bool      `json:"is_private"`
	Kind      RoomKind  `json:"kind" gorm:"type:varchar(16);index"`
	// Details holds the kind-specific payload, see Variant.
	Details   datatypes.JSON `json:"details"`
	CreatedBy uuid.UUID      `json:"created_by" gorm:"type:char(36);index"`
	LeaderID  *uuid.UUID     `json:"leader_id" gorm:"type:char(36)"`

	PlaybackStatus    PlaybackStatus `json:"playback_status" gorm:"type:varchar(16)"`
	CurrentVideoID    *string        `json:"current_video_id"`
	CurrentTitle      *string        `json:"current_title"`
	CurrentThumbnail  *string        `json:"current_thumbnail"`
	PlaybackPosition  float64        `json:"playback_position"`
	PlaybackStartedAt *time.Time     `json:"playback_started_at"`

	SkipThreshold   float64 `json:"skip_threshold"`
	MaxParticipants int     `json:"max_participants"`

	Settings *RoomSettings `json:"settings,omitempty" gorm:"foreignKey:RoomID"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// ClearVideo resets the current-video fields and the playing segment stamp.
func (r *Room) ClearVideo() {
	r.CurrentVideoID = nil
	r.CurrentTitle = nil
	r.CurrentThumbnail = nil
	r.PlaybackStartedAt = nil
}

type RoomSettings struct {
	ID                  uuid.UUID                   `json:"id" gorm:"type:char(36);primaryKey"`
	RoomID              uuid.UUID                   `json:"room_id" gorm:"type:char(36);uniqueIndex"`
	QueueCapacity       int                         `json:"queue_capacity"`
	PerUserLimit        int                         `json:"per_user_limit"`
	MinDurationSec      int                         `json:"min_duration_sec"`
	MaxDurationSec      int                         `json:"max_duration_sec"`
	AllowDuplicates     bool                        `json:"allow_duplicates"`
	ReplayCooldownHours int                         `json:"replay_cooldown_hours"`
	BannedVideos        datatypes.JSONSlice[string] `json:"banned_videos"`
	CreatedAt           time.Time                   `json:"created_at"`
	UpdatedAt           time.Time                   `json:"updated_at"`
}

// DefaultSettings returns the policy a new room starts with.
func DefaultSettings(roomID uuid.UUID) *RoomSettings {
	return &RoomSettings{
		ID:                  uuid.New(),
		RoomID:              roomID,
		QueueCapacity:       50,
		PerUserLimit:        3,
		MinDurationSec:      30,
		MaxDurationSec:      600,
		AllowDuplicates:     false,
		ReplayCooldownHours: 24,
		BannedVideos:        datatypes.JSONSlice[string]{},
	}
}

// IsBanned reports whether videoID is on the banned list.
func (s *RoomSettings) IsBanned(videoID string) bool {
	for _, v := range s.BannedVideos {
		if v == videoID {
			return true
		}
	}
	return false
}

type QueueEntry struct {
	ID          uuid.UUID   `json:"id" gorm:"type:char(36);primaryKey"`
	RoomID      uuid.UUID   `json:"room_id" gorm:"type:char(36);index:idx_entry_room_status"`
	UserID      uuid.UUID   `json:"user_id" gorm:"type:char(36);index"`
	VideoID     string      `json:"video_id" gorm:"type:varchar(64);index"`
	Title       string      `json:"title"`
	Thumbnail   string      `json:"thumbnail"`
	DurationSec int         `json:"duration_sec"`
	Position    int64       `json:"position"`
	Status      EntryStatus `json:"status" gorm:"type:varchar(16);index:idx_entry_room_status"`
	StartedAt   *time.Time  `json:"started_at"`
	ResolvedAt  *time.Time  `json:"resolved_at"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type SongVote struct {
	ID        uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	EntryID   uuid.UUID `json:"entry_id" gorm:"type:char(36);uniqueIndex:idx_vote_entry_user_kind"`
	UserID    uuid.UUID `json:"user_id" gorm:"type:char(36);uniqueIndex:idx_vote_entry_user_kind"`
	Kind      VoteKind  `json:"kind" gorm:"type:varchar(16);uniqueIndex:idx_vote_entry_user_kind"`
	CreatedAt time.Time `json:"created_at"`
}

type Participant struct {
	ID               uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	RoomID           uuid.UUID  `json:"room_id" gorm:"type:char(36);uniqueIndex:idx_participant_room_user"`
	UserID           uuid.UUID  `json:"user_id" gorm:"type:char(36);uniqueIndex:idx_participant_room_user"`
	Role             Role       `json:"role" gorm:"type:varchar(16)"`
	Active           bool       `json:"active"`
	JoinedAt         time.Time  `json:"joined_at"`
	LeftAt           *time.Time `json:"left_at"`
	LastActiveAt     time.Time  `json:"last_active_at"`
	InWaitlist       bool       `json:"in_waitlist"`
	WaitlistPosition *int       `json:"waitlist_position"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PlayHistory is written once per resolved entry and never updated.
type PlayHistory struct {
	ID               uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	RoomID           uuid.UUID  `json:"room_id" gorm:"type:char(36);index"`
	EntryID          uuid.UUID  `json:"entry_id" gorm:"type:char(36)"`
	LeaderID         *uuid.UUID `json:"leader_id" gorm:"type:char(36)"`
	RequestedBy      uuid.UUID  `json:"requested_by" gorm:"type:char(36)"`
	VideoID          string     `json:"video_id" gorm:"type:varchar(64)"`
	Title            string     `json:"title"`
	Thumbnail        string     `json:"thumbnail"`
	DurationSec      int        `json:"duration_sec"`
	Skipped          bool       `json:"skipped"`
	Upvotes          int64      `json:"upvotes"`
	SkipVotes        int64      `json:"skip_votes"`
	ParticipantCount int64      `json:"participant_count"`
	PlayedAt         *time.Time `json:"played_at"`
	ResolvedAt       time.Time  `json:"resolved_at" gorm:"index"`
}

func (PlayHistory) TableName() string {
	return "play_history"
}

// All lists every model for migrations.
func All() []interface{} {
	return []interface{}{
		&Room{},
		&RoomSettings{},
		&QueueEntry{},
		&SongVote{},
		&Participant{},
		&PlayHistory{},
	}
}
