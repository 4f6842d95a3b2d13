package routing_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/routing"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDispatcher(t *testing.T) *routing.Dispatcher {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := registry.NewRedisStore(client, logrus.WithField("test", t.Name()))

	pool := mediaworker.NewPool(mediaworker.Config{WorkerCount: 1})
	t.Cleanup(pool.Close)

	d := routing.NewDispatcher(meeting.DefaultConfig(), pool, store, logrus.WithField("test", t.Name()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		d.Close(ctx)
	})
	return d
}

func TestCreateAndLookup(t *testing.T) {
	d := newDispatcher(t)
	ctx := context.Background()

	created, err := d.CreateMeeting(ctx, "meet-1", "@alice", meeting.Options{})
	require.NoError(t, err)

	found, err := d.Meeting("meet-1")
	require.NoError(t, err)
	assert.Same(t, created, found)

	_, err = d.Meeting("meet-2")
	assert.ErrorIs(t, err, meeting.NewError(meeting.CodeNotFound, ""))
}

func TestCreateGeneratesID(t *testing.T) {
	d := newDispatcher(t)

	created, err := d.CreateMeeting(context.Background(), "", "@alice", meeting.Options{})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID())
}

func TestDuplicateMeetingConflicts(t *testing.T) {
	d := newDispatcher(t)
	ctx := context.Background()

	_, err := d.CreateMeeting(ctx, "meet-1", "@alice", meeting.Options{})
	require.NoError(t, err)

	_, err = d.CreateMeeting(ctx, "meet-1", "@bob", meeting.Options{})
	assert.ErrorIs(t, err, meeting.NewError(meeting.CodeConflict, ""))
}

func TestCreateMeetingAppliesOptions(t *testing.T) {
	d := newDispatcher(t)
	ctx := context.Background()

	options := meeting.Options{MaxParticipants: 2, Encryption: true}
	m, err := d.CreateMeeting(ctx, "meet-1", "@alice", options)
	require.NoError(t, err)

	info, err := m.Info(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, info.MaxParticipants)
	assert.True(t, info.Encryption)

	_, err = m.Join(ctx, "@alice", "Alice", "sock-a")
	require.NoError(t, err)
	_, err = m.Join(ctx, "@bob", "Bob", "sock-b")
	require.NoError(t, err)
	_, err = m.Join(ctx, "@carol", "Carol", "sock-c")
	assert.ErrorIs(t, err, meeting.NewError(meeting.CodeCapacity, ""))
}

func TestEndedMeetingIsReaped(t *testing.T) {
	d := newDispatcher(t)
	ctx := context.Background()

	m, err := d.CreateMeeting(ctx, "meet-1", "@alice", meeting.Options{})
	require.NoError(t, err)

	require.NoError(t, d.EndMeeting(ctx, "meet-1", "done"))
	<-m.Done()

	assert.Eventually(t, func() bool {
		_, err := d.Meeting("meet-1")
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventsAreMerged(t *testing.T) {
	d := newDispatcher(t)
	ctx := context.Background()

	m, err := d.CreateMeeting(ctx, "meet-1", "@alice", meeting.Options{})
	require.NoError(t, err)
	_, err = m.Join(ctx, "@alice", "Alice", "sock-a")
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case event := <-d.Events():
			if joined, ok := event.(meeting.PeerJoined); ok {
				assert.Equal(t, registry.MeetingID("meet-1"), joined.EventMeeting())
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for the merged event")
		}
	}
}
