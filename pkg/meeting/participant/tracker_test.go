package participant_test

import (
	"testing"

	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newParticipant(id participant.ID) *participant.Participant {
	return participant.New(id, "Test User", false, logrus.WithField("test", "tracker"))
}

func TestTrackerAddGetRemove(t *testing.T) {
	tracker := participant.NewTracker()
	assert.False(t, tracker.HasParticipants())

	alice := newParticipant("@alice")
	tracker.Add(alice)

	assert.True(t, tracker.Has("@alice"))
	assert.Equal(t, 1, tracker.Count())
	assert.Same(t, alice, tracker.Get("@alice"))

	removed := tracker.Remove("@alice")
	require.Same(t, alice, removed)
	assert.False(t, tracker.Has("@alice"))
	assert.Nil(t, tracker.Remove("@alice"))
}

func TestTrackerForEach(t *testing.T) {
	tracker := participant.NewTracker()
	tracker.Add(newParticipant("@alice"))
	tracker.Add(newParticipant("@bob"))

	seen := map[participant.ID]bool{}
	tracker.ForEach(func(id participant.ID, p *participant.Participant) {
		seen[id] = true
	})

	assert.Len(t, seen, 2)
	assert.True(t, seen["@alice"])
	assert.True(t, seen["@bob"])
}

func TestSuspendedParticipantKeepsSeat(t *testing.T) {
	tracker := participant.NewTracker()
	ghost := newParticipant("@ghost")
	ghost.Suspended = true
	tracker.Add(ghost)

	assert.Equal(t, 1, tracker.Count())
}
