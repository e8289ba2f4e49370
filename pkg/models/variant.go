package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type RoomKind string

const (
	RoomKindLive      RoomKind = "LIVE"
	RoomKindLiveEvent RoomKind = "LIVE_EVENT"
	RoomKindTemplate  RoomKind = "TEMPLATE"
)

// RoomVariant is the closed set of kind-specific room payloads.
type RoomVariant interface {
	Kind() RoomKind
	isRoomVariant()
}

// LiveSession is an ad-hoc room that can play at any time.
type LiveSession struct{}

// LiveEvent is a scheduled session; playback is allowed from StartsAt on.
type LiveEvent struct {
	StartsAt time.Time  `json:"starts_at"`
	EndsAt   *time.Time `json:"ends_at,omitempty"`
}

// Template is a reusable setlist. It holds a queue but never plays.
type Template struct {
	Description string `json:"description,omitempty"`
}

func (LiveSession) Kind() RoomKind { return RoomKindLive }
func (LiveEvent) Kind() RoomKind   { return RoomKindLiveEvent }
func (Template) Kind() RoomKind    { return RoomKindTemplate }

func (LiveSession) isRoomVariant() {}
func (LiveEvent) isRoomVariant()   {}
func (Template) isRoomVariant()    {}

// Variant decodes the kind-specific payload stored in Details.
func (r *Room) Variant() (RoomVariant, error) {
	switch r.Kind {
	case RoomKindLive, "":
		return LiveSession{}, nil
	case RoomKindLiveEvent:
		var v LiveEvent
		if err := decodeDetails(r.Details, &v); err != nil {
			return nil, err
		}
		return v, nil
	case RoomKindTemplate:
		var v Template
		if err := decodeDetails(r.Details, &v); err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown room kind %q", r.Kind)
	}
}

// SetVariant stores v and sets the room kind to match.
func (r *Room) SetVariant(v RoomVariant) error {
	if v == nil {
		v = LiveSession{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal room details: %w", err)
	}
	r.Kind = v.Kind()
	r.Details = raw
	return nil
}

func decodeDetails(raw []byte, dst interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("failed to unmarshal room details: %w", err)
	}
	return nil
}
