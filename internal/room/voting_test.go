package room

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worship-room/pkg/events"
	"github.com/worship-room/pkg/models"
)

func TestCastVoteToggles(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{})
	entry := f.add(t, room.ID, "a")
	user := uuid.New()

	res, err := f.svc.CastVote(f.ctx, entry.ID, user, models.VoteUpvote)
	require.NoError(t, err)
	assert.True(t, res.Voted)
	assert.Equal(t, int64(1), res.Entry.Upvotes)

	res, err = f.svc.CastVote(f.ctx, entry.ID, user, models.VoteUpvote)
	require.NoError(t, err)
	assert.False(t, res.Voted)
	assert.Zero(t, res.Entry.Upvotes)

	ev, ok := f.events.last(events.EventTypeVoteUpdated)
	require.True(t, ok)
	assert.Equal(t, "room/"+room.ID.String()+"/queue", ev.Topic)
}

func TestCastVoteKindsAreIndependent(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{})
	entry := f.add(t, room.ID, "a")
	user := uuid.New()

	_, err := f.svc.CastVote(f.ctx, entry.ID, user, models.VoteUpvote)
	require.NoError(t, err)
	res, err := f.svc.CastVote(f.ctx, entry.ID, user, models.VoteSkip)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Entry.Upvotes)
	assert.Equal(t, int64(1), res.Entry.SkipVotes)
	assert.False(t, res.AutoSkipped)
}

func TestCastVoteConcurrentUpvotes(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{})
	entry := f.add(t, room.ID, "a")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.CastVote(f.ctx, entry.ID, uuid.New(), models.VoteUpvote)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	queue, err := f.svc.ListQueue(f.ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, int64(n), queue[0].Upvotes)
}

func TestCastVoteErrors(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{})
	entry := f.add(t, room.ID, "a")

	_, err := f.svc.CastVote(f.ctx, entry.ID, f.owner, models.VoteKind("DOWNVOTE"))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = f.svc.CastVote(f.ctx, uuid.New(), f.owner, models.VoteUpvote)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.PlayNext(f.ctx, room.ID, f.owner)
	require.NoError(t, err)
	_, err = f.svc.PlayNext(f.ctx, room.ID, f.owner)
	require.ErrorIs(t, err, ErrQueueExhausted)

	_, err = f.svc.CastVote(f.ctx, entry.ID, f.owner, models.VoteUpvote)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestSkipThreshold(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{SkipThreshold: 0.5})
	users := f.joinUsers(t, room.ID, 3) // four active with the owner

	playing := f.add(t, room.ID, "a")
	next := f.add(t, room.ID, "b")
	_, err := f.svc.PlayNext(f.ctx, room.ID, f.owner)
	require.NoError(t, err)

	res, err := f.svc.CastVote(f.ctx, playing.ID, users[0], models.VoteSkip)
	require.NoError(t, err)
	assert.False(t, res.AutoSkipped)
	assert.Equal(t, models.EntryPlaying, f.entry(t, playing.ID).Status)

	res, err = f.svc.CastVote(f.ctx, playing.ID, users[1], models.VoteSkip)
	require.NoError(t, err)
	assert.True(t, res.AutoSkipped)
	assert.Equal(t, models.EntrySkipped, res.Entry.Status)
	assert.Equal(t, int64(2), res.Entry.SkipVotes)

	assert.Equal(t, models.EntrySkipped, f.entry(t, playing.ID).Status)
	assert.Equal(t, models.EntryPlaying, f.entry(t, next.ID).Status)

	hs, err := f.svc.History(f.ctx, room.ID, 0)
	require.NoError(t, err)
	require.Len(t, hs, 1)
	assert.True(t, hs[0].Skipped)
	assert.Equal(t, int64(2), hs[0].SkipVotes)
	assert.Equal(t, int64(4), hs[0].ParticipantCount)

	skipped, ok := f.events.last(events.EventTypeSongSkipped)
	require.True(t, ok)
	assert.Empty(t, skipped.UserID)
}

func TestSkipVoteOnWaitingEntryDoesNotSkip(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{SkipThreshold: 0.1})

	f.add(t, room.ID, "a")
	waiting := f.add(t, room.ID, "b")
	_, err := f.svc.PlayNext(f.ctx, room.ID, f.owner)
	require.NoError(t, err)

	res, err := f.svc.CastVote(f.ctx, waiting.ID, f.owner, models.VoteSkip)
	require.NoError(t, err)
	assert.False(t, res.AutoSkipped)
	assert.Equal(t, models.EntryWaiting, f.entry(t, waiting.ID).Status)
}

func TestVotesClearedWhenEntryStartsPlaying(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{})
	entry := f.add(t, room.ID, "a")

	_, err := f.svc.CastVote(f.ctx, entry.ID, uuid.New(), models.VoteUpvote)
	require.NoError(t, err)

	_, err = f.svc.PlayNext(f.ctx, room.ID, f.owner)
	require.NoError(t, err)

	current, err := f.svc.GetCurrentlyPlaying(f.ctx, room.ID)
	require.NoError(t, err)
	assert.Zero(t, current.Upvotes)
}

func TestCastVoteConcurrentTogglesBySameUser(t *testing.T) {
	f := newFixture(t, nil)
	room := f.newRoom(t, CreateRoomParams{})
	entry := f.add(t, room.ID, "a")
	user := uuid.New()

	const n = 10
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		voted int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.CastVote(f.ctx, entry.ID, user, models.VoteUpvote)
			assert.NoError(t, err)
			if err == nil && res.Voted {
				mu.Lock()
				voted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, n/2, voted)
	count, err := f.db.CountVotes(f.ctx, entry.ID, models.VoteUpvote)
	require.NoError(t, err)
	assert.Zero(t, count)
}
