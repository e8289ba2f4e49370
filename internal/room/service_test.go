package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worship-room/internal/history"
	"github.com/worship-room/internal/permission"
	"github.com/worship-room/pkg/database"
	"github.com/worship-room/pkg/database/databasetest"
	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/models"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, e events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.EventType, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func (p *recordingPublisher) last(t events.EventType) (events.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == t {
			return p.events[i], true
		}
	}
	return events.Event{}, false
}

func (p *recordingPublisher) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type fixture struct {
	ctx    context.Context
	svc    *Service
	db     *database.DB
	clock  *clock.Mock
	events *recordingPublisher
	owner  uuid.UUID
}

var start = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T, gate permission.Gate, opts ...Option) *fixture {
	t.Helper()
	db := databasetest.Open(t)
	mock := clock.NewMock()
	mock.Set(start)
	pub := &recordingPublisher{}

	if gate == nil {
		gate = permission.AllowAll{}
	}
	opts = append([]Option{WithClock(mock)}, opts...)
	return &fixture{
		ctx:    context.Background(),
		svc:    NewService(db, gate, history.NewRecorder(db), pub, opts...),
		db:     db,
		clock:  mock,
		events: pub,
		owner:  uuid.New(),
	}
}

func intPtr(v int) *int { return &v }

// newRoom creates a live room with a generous per-user limit.
func (f *fixture) newRoom(t *testing.T, params CreateRoomParams) *models.Room {
	t.Helper()
	if params.Name == "" {
		params.Name = "Sunday service"
	}
	if params.Settings.PerUserLimit == nil {
		params.Settings.PerUserLimit = intPtr(100)
	}
	room, err := f.svc.CreateRoom(f.ctx, f.owner, params)
	require.NoError(t, err)
	return room
}

func (f *fixture) joinUsers(t *testing.T, roomID uuid.UUID, n int) []uuid.UUID {
	t.Helper()
	users := make([]uuid.UUID, n)
	for i := range users {
		users[i] = uuid.New()
		_, err := f.svc.Join(f.ctx, roomID, users[i])
		require.NoError(t, err)
	}
	return users
}

func (f *fixture) add(t *testing.T, roomID uuid.UUID, videoID string) *EntryView {
	t.Helper()
	entry, err := f.svc.AddToQueue(f.ctx, roomID, f.owner, VideoMeta{
		ID:          videoID,
		Title:       "Song " + videoID,
		DurationSec: 180,
	})
	require.NoError(t, err)
	return entry
}

func (f *fixture) entry(t *testing.T, id uuid.UUID) *models.QueueEntry {
	t.Helper()
	e, err := f.db.GetEntry(f.ctx, id)
	require.NoError(t, err)
	return e
}

func (f *fixture) room(t *testing.T, id uuid.UUID) *models.Room {
	t.Helper()
	r, err := f.db.GetRoom(f.ctx, id)
	require.NoError(t, err)
	return r
}

func TestCreateRoom(t *testing.T) {
	f := newFixture(t, nil)

	room := f.newRoom(t, CreateRoomParams{})
	assert.Equal(t, models.PlaybackStopped, room.PlaybackStatus)
	assert.Equal(t, models.RoomKindLive, room.Kind)
	assert.Equal(t, 0.5, room.SkipThreshold)
	require.NotNil(t, room.LeaderID)
	assert.Equal(t, f.owner, *room.LeaderID)

	p, err := f.db.GetParticipant(f.ctx, room.ID, f.owner)
	require.NoError(t, err)
	assert.Equal(t, models.RoleModerator, p.Role)
	assert.True(t, p.Active)

	stored := f.room(t, room.ID)
	require.NotNil(t, stored.Settings)
	assert.Equal(t, 50, stored.Settings.QueueCapacity)
	assert.Equal(t, 100, stored.Settings.PerUserLimit)

	assert.Equal(t, []events.EventType{events.EventTypeRoomCreated}, f.events.types())
	ev, _ := f.events.last(events.EventTypeRoomCreated)
	assert.Equal(t, "room/"+room.ID.String(), ev.Topic)
}

func TestCreateRoomValidation(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.svc.CreateRoom(f.ctx, f.owner, CreateRoomParams{Name: "  "})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.CreateRoom(f.ctx, f.owner, CreateRoomParams{Name: "x", SkipThreshold: 1.5})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.CreateRoom(f.ctx, f.owner, CreateRoomParams{
		Name:     "x",
		Settings: SettingsPatch{MinDurationSec: intPtr(300), MaxDurationSec: intPtr(100)},
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCreateRoomVariant(t *testing.T) {
	f := newFixture(t, nil)
	starts := start.Add(time.Hour)

	room := f.newRoom(t, CreateRoomParams{Variant: models.LiveEvent{StartsAt: starts}})
	assert.Equal(t, models.RoomKindLiveEvent, room.Kind)

	v, err := f.room(t, room.ID).Variant()
	require.NoError(t, err)
	event, ok := v.(models.LiveEvent)
	require.True(t, ok)
	assert.True(t, event.StartsAt.Equal(starts))
}

func TestUpdateRoom(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{})

	name := "Evening worship"
	threshold := 0.75
	banned := []string{"bad"}
	updated, err := f.svc.UpdateRoom(f.ctx, room.ID, f.owner, UpdateRoomParams{
		Name:          &name,
		SkipThreshold: &threshold,
		Settings:      SettingsPatch{QueueCapacity: intPtr(5), BannedVideos: &banned},
	})
	require.NoError(t, err)
	assert.Equal(t, name, updated.Name)
	assert.Equal(t, 0.75, updated.SkipThreshold)

	stored := f.room(t, room.ID)
	assert.Equal(t, name, stored.Name)
	assert.Equal(t, 5, stored.Settings.QueueCapacity)
	assert.True(t, stored.Settings.IsBanned("bad"))

	zero := 0.0
	_, err = f.svc.UpdateRoom(f.ctx, room.ID, f.owner, UpdateRoomParams{SkipThreshold: &zero})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.UpdateRoom(f.ctx, uuid.New(), f.owner, UpdateRoomParams{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)

	_, ok := f.events.last(events.EventTypeRoomUpdated)
	assert.True(t, ok)
}

func TestDeleteRoom(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{})

	require.NoError(t, f.svc.DeleteRoom(f.ctx, room.ID, f.owner))

	_, err := f.svc.GetRoom(f.ctx, room.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteRoom(f.ctx, room.ID, f.owner), ErrNotFound)

	_, ok := f.events.last(events.EventTypeRoomDeleted)
	assert.True(t, ok)
}

func TestPermissionDenied(t *testing.T) {
	db := databasetest.Open(t)
	svc := NewService(db, permission.NewRoleGate(db), history.NewRecorder(db), nil)
	ctx := context.Background()
	owner, stranger := uuid.New(), uuid.New()

	room, err := svc.CreateRoom(ctx, owner, CreateRoomParams{Name: "Private", IsPrivate: true})
	require.NoError(t, err)

	_, err = svc.Join(ctx, room.ID, stranger)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = svc.AddToQueue(ctx, room.ID, stranger, VideoMeta{ID: "x", DurationSec: 120})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = svc.PlayNext(ctx, room.ID, stranger)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	assert.ErrorIs(t, svc.DeleteRoom(ctx, room.ID, stranger), ErrPermissionDenied)

	_, err = svc.AddToQueue(ctx, room.ID, owner, VideoMeta{ID: "x", DurationSec: 120})
	assert.NoError(t, err)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "queue_exhausted", Code(ErrQueueExhausted))
	assert.Equal(t, "policy_violation", Code(ErrPolicyViolation))
	assert.Equal(t, "", Code(assert.AnError))
}
