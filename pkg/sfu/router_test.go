package sfu_test

import (
	"testing"
	"time"

	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/sfu"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	router  *sfu.Router
	tracker *participant.Tracker
}

func newEnv(t *testing.T) *env {
	t.Helper()
	pool := mediaworker.NewPool(mediaworker.Config{WorkerCount: 1})
	t.Cleanup(pool.Close)

	media, err := pool.CreateRouter(nil)
	require.NoError(t, err)

	tracker := participant.NewTracker()
	router := sfu.NewRouter(media, tracker, sfu.Config{MaxDataPayloadBytes: 32}, logrus.WithField("test", "sfu"))
	t.Cleanup(router.Close)

	return &env{router: router, tracker: tracker}
}

func (e *env) addParticipant(t *testing.T, id participant.ID, withCapabilities bool) *participant.Participant {
	t.Helper()
	p := participant.New(id, string(id), false, logrus.WithField("test", "sfu"))
	e.tracker.Add(p)

	_, err := e.router.CreateTransport(p, mediaworker.DirectionSend)
	require.NoError(t, err)
	_, err = e.router.CreateTransport(p, mediaworker.DirectionRecv)
	require.NoError(t, err)

	dtls := webrtc.DTLSParameters{Role: webrtc.DTLSRoleClient}
	require.NoError(t, e.router.ConnectTransport(p, p.SendTransport.ID(), dtls))
	require.NoError(t, e.router.ConnectTransport(p, p.RecvTransport.ID(), dtls))

	if withCapabilities {
		e.router.SetRTPCapabilities(p, e.router.RTPCapabilities())
	}
	return p
}

func produceCamera(t *testing.T, e *env, p *participant.Participant) (*mediaworker.Producer, []sfu.ConsumerInfo) {
	t.Helper()
	producer, wired, err := e.router.Produce(p, mediaworker.KindVideo, mediaworker.SourceCamera, mediaworker.RTPParameters{}, nil)
	require.NoError(t, err)
	return producer, wired
}

func TestProduceFillsSimulcastDefaults(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)

	producer, _ := produceCamera(t, e, alice)
	encodings := producer.Encodings()
	require.Len(t, encodings, 3)
	assert.Equal(t, 100_000, encodings[0].MaxBitrate)
	assert.Equal(t, 300_000, encodings[1].MaxBitrate)
	assert.Equal(t, 900_000, encodings[2].MaxBitrate)

	screen, _, err := e.router.Produce(alice, mediaworker.KindVideo, mediaworker.SourceScreen, mediaworker.RTPParameters{}, nil)
	require.NoError(t, err)
	encodings = screen.Encodings()
	require.Len(t, encodings, 1)
	assert.Equal(t, 1_500_000, encodings[0].MaxBitrate)
	assert.Equal(t, 30, encodings[0].MaxFramerate)
}

func TestProduceAutowiresConsumers(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)
	bob := e.addParticipant(t, "@bob", true)
	e.addParticipant(t, "@carol", false)

	producer, wired := produceCamera(t, e, alice)

	require.Len(t, wired, 1, "only bob has registered capabilities")
	assert.Equal(t, participant.ID("@bob"), wired[0].ParticipantID)
	assert.Equal(t, participant.ID("@alice"), wired[0].ProducerOwner)
	assert.Equal(t, producer.ID(), wired[0].ProducerID)
	assert.Len(t, bob.Consumers, 1)
	assert.Empty(t, alice.Consumers)
}

func TestSetCapabilitiesWiresExistingProducers(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)
	produceCamera(t, e, alice)

	carol := e.addParticipant(t, "@carol", false)
	assert.Empty(t, carol.Consumers)

	wired, _ := e.router.SetRTPCapabilities(carol, e.router.RTPCapabilities())
	require.Len(t, wired, 1)
	assert.Equal(t, participant.ID("@carol"), wired[0].ParticipantID)

	// Re-registering capabilities must not duplicate consumers.
	wired, _ = e.router.SetRTPCapabilities(carol, e.router.RTPCapabilities())
	assert.Empty(t, wired)
	assert.Len(t, carol.Consumers, 1)
}

func TestConsumeRejectsOwnProducer(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)
	producer, _ := produceCamera(t, e, alice)

	_, err := e.router.Consume(alice, producer.ID())
	assert.ErrorIs(t, err, sfu.ErrSelfConsumption)

	_, err = e.router.Consume(alice, "no-such-producer")
	assert.ErrorIs(t, err, mediaworker.ErrProducerNotFound)
}

func TestScoreDrivenLayerAdaptation(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)
	bob := e.addParticipant(t, "@bob", true)

	_, wired := produceCamera(t, e, alice)
	require.Len(t, wired, 1)
	consumer := bob.Consumers[wired[0].ConsumerID]
	require.NotNil(t, consumer)

	spatial, temporal := consumer.PreferredLayers()
	assert.Equal(t, 1, spatial)
	assert.Equal(t, 2, temporal)

	// Two bad observations push the smoothed score below the threshold.
	consumer.UpdateScore(0)
	consumer.UpdateScore(0)
	spatial, temporal = consumer.PreferredLayers()
	assert.Equal(t, 0, spatial)
	assert.Equal(t, 1, temporal)

	// Sustained good scores climb back up.
	consumer.UpdateScore(10)
	consumer.UpdateScore(10)
	spatial, temporal = consumer.PreferredLayers()
	assert.Equal(t, 1, spatial)
	assert.Equal(t, 2, temporal)
}

// waitSpeakers drains the router's event stream until an active speaker set
// shows up.
func waitSpeakers(t *testing.T, e *env) sfu.SpeakersChangedEvent {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case event := <-e.router.Events():
			if speakers, ok := event.(sfu.SpeakersChangedEvent); ok {
				return speakers
			}
		case <-deadline:
			t.Fatal("no active speaker event")
			return sfu.SpeakersChangedEvent{}
		}
	}
}

func TestAudioProduceFeedsActiveSpeakers(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)

	_, _, err := e.router.Produce(alice, mediaworker.KindAudio, mediaworker.SourceMicrophone,
		mediaworker.RTPParameters{}, map[string]any{"audioLevel": -20.0})
	require.NoError(t, err)

	speakers := waitSpeakers(t, e)
	assert.Equal(t, []participant.ID{"@alice"}, speakers.ParticipantIDs)
}

func TestReportAudioLevelDrivesSpeakers(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)

	producer, _, err := e.router.Produce(alice, mediaworker.KindAudio, mediaworker.SourceMicrophone,
		mediaworker.RTPParameters{}, nil)
	require.NoError(t, err)

	err = e.router.ReportAudioLevel(alice, "no-such-producer", -20)
	assert.ErrorIs(t, err, mediaworker.ErrProducerNotFound)

	require.NoError(t, e.router.ReportAudioLevel(alice, producer.ID(), -20))
	speakers := waitSpeakers(t, e)
	assert.Equal(t, []participant.ID{"@alice"}, speakers.ParticipantIDs)
}

func TestQualityReportsAdaptConsumerLayers(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)
	bob := e.addParticipant(t, "@bob", true)

	_, wired := produceCamera(t, e, alice)
	require.Len(t, wired, 1)
	consumer := bob.Consumers[wired[0].ConsumerID]
	require.NotNil(t, consumer)

	// Lossy, slow reports drag the delivery score below the threshold.
	sample := participant.Sample{PacketLossPct: 10, RoundTripMs: 400}
	e.router.ScoreConsumers(bob, sample)
	e.router.ScoreConsumers(bob, sample)

	spatial, temporal := consumer.PreferredLayers()
	assert.Equal(t, 0, spatial)
	assert.Equal(t, 1, temporal)
}

func TestDataFanout(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)
	bob := e.addParticipant(t, "@bob", true)

	dataProducer, wired, err := e.router.ProduceData(alice, "chat", nil)
	require.NoError(t, err)
	require.Len(t, wired, 1)
	assert.Equal(t, participant.ID("@bob"), wired[0].ParticipantID)
	assert.Equal(t, "chat", wired[0].Label)
	assert.Len(t, bob.DataConsumers, 1)

	require.NoError(t, e.router.SendData(alice, dataProducer.ID(), []byte("hi")))

	select {
	case event := <-e.router.Events():
		data, ok := event.(sfu.DataEvent)
		require.True(t, ok)
		assert.Equal(t, participant.ID("@bob"), data.ParticipantID)
		assert.Equal(t, []byte("hi"), data.Payload)
	case <-time.After(time.Second):
		t.Fatal("no data event")
	}

	assert.ErrorIs(t, e.router.SendData(alice, dataProducer.ID(), make([]byte, 64)), mediaworker.ErrPayloadTooLarge)
}

func TestCollectStatsAggregatesPerParticipant(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)
	producer, _ := produceCamera(t, e, alice)

	producer.SetStats(mediaworker.Stats{BitrateBps: 500_000, PacketLossPct: 2, JitterMs: 10, RoundTripMs: 80})

	samples := e.router.CollectStats()
	sample, ok := samples["@alice"]
	require.True(t, ok)
	assert.Equal(t, 500_000, sample.BitrateBps)
	assert.Equal(t, 1, alice.Quality.Len())
}

func TestCloseProducerPrunesConsumers(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)
	bob := e.addParticipant(t, "@bob", true)

	producer, wired := produceCamera(t, e, alice)
	require.Len(t, wired, 1)

	require.NoError(t, e.router.CloseProducer(alice, producer.ID()))
	assert.Empty(t, alice.Producers)
	assert.Empty(t, bob.Consumers)

	_, err := e.router.Consume(bob, producer.ID())
	assert.ErrorIs(t, err, mediaworker.ErrProducerNotFound)
}

func TestRemoveParticipantReleasesMedia(t *testing.T) {
	e := newEnv(t)
	alice := e.addParticipant(t, "@alice", true)
	bob := e.addParticipant(t, "@bob", true)

	produceCamera(t, e, alice)
	require.Len(t, bob.Consumers, 1)

	e.router.RemoveParticipant(alice)
	e.tracker.Remove("@alice")

	assert.Nil(t, alice.SendTransport)
	assert.Empty(t, bob.Consumers)
}
