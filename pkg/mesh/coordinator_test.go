package mesh_test

import (
	"testing"

	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/mesh"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoordinator(ids ...participant.ID) (*mesh.Coordinator, *participant.Tracker) {
	tracker := participant.NewTracker()
	for _, id := range ids {
		tracker.Add(participant.New(id, string(id), false, logrus.WithField("test", "mesh")))
	}
	return mesh.NewCoordinator(tracker, logrus.WithField("test", "mesh")), tracker
}

func TestRelayValidation(t *testing.T) {
	c, tracker := newCoordinator("@alice", "@bob", "@ghost")
	tracker.Get("@ghost").Suspended = true

	ok := mesh.Signal{Kind: mesh.SignalOffer, From: "@alice", To: "@bob"}
	assert.NoError(t, c.Relay("@alice", ok))

	spoofed := mesh.Signal{Kind: mesh.SignalOffer, From: "@bob", To: "@alice"}
	assert.ErrorIs(t, c.Relay("@alice", spoofed), mesh.ErrSpoofedSender)

	unknown := mesh.Signal{Kind: mesh.SignalAnswer, From: "@alice", To: "@mallory"}
	assert.ErrorIs(t, c.Relay("@alice", unknown), mesh.ErrUnknownPeer)

	suspended := mesh.Signal{Kind: mesh.SignalICECandidate, From: "@alice", To: "@ghost"}
	assert.ErrorIs(t, c.Relay("@alice", suspended), mesh.ErrPeerSuspended)

	refresh := mesh.Signal{Kind: mesh.SignalConnectionRefresh, From: "@alice", To: "@bob"}
	assert.NoError(t, c.Relay("@alice", refresh))

	bogus := mesh.Signal{Kind: "renegotiate", From: "@alice", To: "@bob"}
	assert.ErrorIs(t, c.Relay("@alice", bogus), mesh.ErrUnknownSignal)
}

func TestRecordQualityAveragesAcrossPeers(t *testing.T) {
	c, _ := newCoordinator("@alice", "@bob")

	_, _, err := c.RecordQuality("@mallory", participant.Sample{})
	assert.ErrorIs(t, err, mesh.ErrUnknownSampler)

	loss, rtt, err := c.RecordQuality("@alice", participant.Sample{PacketLossPct: 6, RoundTripMs: 300})
	require.NoError(t, err)
	assert.Equal(t, 6.0, loss)
	assert.Equal(t, 300.0, rtt)

	// Bob's clean report halves the meeting-wide averages.
	loss, rtt, err = c.RecordQuality("@bob", participant.Sample{PacketLossPct: 0, RoundTripMs: 100})
	require.NoError(t, err)
	assert.Equal(t, 3.0, loss)
	assert.Equal(t, 200.0, rtt)
}

func TestPeersExcludesSelf(t *testing.T) {
	c, _ := newCoordinator("@alice", "@bob", "@carol")

	peers := c.Peers("@alice")
	assert.ElementsMatch(t, []participant.ID{"@bob", "@carol"}, peers)
}
