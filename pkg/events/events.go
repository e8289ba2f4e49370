package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

type EventType string

const (
	EventTypeSongAdded          EventType = "SONG_ADDED"
	EventTypeSongRemoved        EventType = "SONG_REMOVED"
	EventTypeQueueReordered     EventType = "QUEUE_REORDERED"
	EventTypeVoteUpdated        EventType = "VOTE_UPDATED"
	EventTypeNowPlaying         EventType = "NOW_PLAYING"
	EventTypePlaybackPaused     EventType = "PLAYBACK_PAUSED"
	EventTypePlaybackStopped    EventType = "PLAYBACK_STOPPED"
	EventTypeSongSkipped        EventType = "SONG_SKIPPED"
	EventTypeUserJoined         EventType = "USER_JOINED"
	EventTypeUserLeft           EventType = "USER_LEFT"
	EventTypeUserInvited        EventType = "USER_INVITED"
	EventTypeUserJoinedWaitlist EventType = "USER_JOINED_WAITLIST"
	EventTypeUserLeftWaitlist   EventType = "USER_LEFT_WAITLIST"
	EventTypeRoomCreated        EventType = "ROOM_CREATED"
	EventTypeRoomUpdated        EventType = "ROOM_UPDATED"
	EventTypeRoomDeleted        EventType = "ROOM_DELETED"
)

// Channel is the per-room sub-topic an event is published on.
type Channel string

const (
	ChannelRoom         Channel = ""
	ChannelQueue        Channel = "queue"
	ChannelNowPlaying   Channel = "nowPlaying"
	ChannelWaitlist     Channel = "waitlist"
	ChannelParticipants Channel = "participants"
)

// Topic returns the topic path for a room channel, e.g. room/{id}/queue.
func Topic(roomID string, ch Channel) string {
	if ch == ChannelRoom {
		return fmt.Sprintf("room/%s", roomID)
	}
	return fmt.Sprintf("room/%s/%s", roomID, ch)
}

type Event struct {
	Type      EventType       `json:"type"`
	RoomID    string          `json:"room_id"`
	UserID    string          `json:"user_id,omitempty"`
	Topic     string          `json:"topic"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// NewEvent builds an event for the given room channel.
func NewEvent(t EventType, roomID, userID string, ch Channel, payload interface{}, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return Event{
		Type:      t,
		RoomID:    roomID,
		UserID:    userID,
		Topic:     Topic(roomID, ch),
		Timestamp: now,
		Payload:   raw,
	}, nil
}

// Publisher delivers events to room subscribers. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Handler consumes events read back from a broker.
type Handler func(Event) error

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
