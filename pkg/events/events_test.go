package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopic(t *testing.T) {
	assert.Equal(t, "room/r1", Topic("r1", ChannelRoom))
	assert.Equal(t, "room/r1/queue", Topic("r1", ChannelQueue))
	assert.Equal(t, "room/r1/nowPlaying", Topic("r1", ChannelNowPlaying))
	assert.Equal(t, "room/r1/waitlist", Topic("r1", ChannelWaitlist))
}

func TestRoutingKey(t *testing.T) {
	assert.Equal(t, "room.r1.queue", RoutingKey(Topic("r1", ChannelQueue)))
	assert.Equal(t, "room.r1", RoutingKey(Topic("r1", ChannelRoom)))
}

func TestNewEvent(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	ev, err := NewEvent(EventTypeSongAdded, "r1", "u1", ChannelQueue, map[string]int{"position": 10000}, now)
	require.NoError(t, err)

	assert.Equal(t, EventTypeSongAdded, ev.Type)
	assert.Equal(t, "room/r1/queue", ev.Topic)
	assert.Equal(t, now, ev.Timestamp)

	var payload map[string]int
	require.NoError(t, json.Unmarshal(ev.Payload, &payload))
	assert.Equal(t, 10000, payload["position"])
}

func TestNewEventRejectsUnmarshalablePayload(t *testing.T) {
	_, err := NewEvent(EventTypeSongAdded, "r1", "", ChannelQueue, make(chan int), time.Now())
	assert.Error(t, err)
}
