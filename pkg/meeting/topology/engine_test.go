package topology

import (
	"testing"
	"time"

	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Internal test: drives the engine clock directly for determinism.

func newTestEngine() (*Engine, *time.Time) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(DefaultConfig(), logrus.WithField("test", "topology"))
	e.now = func() time.Time { return now }
	return e, &now
}

func TestUpgradeOnCapacity(t *testing.T) {
	e, _ := newTestEngine()

	assert.Nil(t, e.Evaluate(3))

	decision := e.Evaluate(4)
	require.NotNil(t, decision)
	assert.Equal(t, ModeSFU, decision.Target)
	assert.Equal(t, ReasonCapacity, decision.Reason)
}

func TestUpgradeOnPoorQuality(t *testing.T) {
	e, _ := newTestEngine()

	e.ObserveQuality(7, 230)
	assert.Nil(t, e.Evaluate(3), "one poor window is not enough")

	e.ObserveQuality(7, 230)
	decision := e.Evaluate(3)
	require.NotNil(t, decision)
	assert.Equal(t, ModeSFU, decision.Target)
	assert.Equal(t, ReasonPoorQuality, decision.Reason)
}

func TestGoodWindowResetsPoorStreak(t *testing.T) {
	e, _ := newTestEngine()

	e.ObserveQuality(7, 230)
	e.ObserveQuality(1, 50)
	e.ObserveQuality(7, 230)
	assert.Nil(t, e.Evaluate(3))
}

func TestPoorQualityNeedsTwoParticipants(t *testing.T) {
	e, _ := newTestEngine()

	e.ObserveQuality(10, 400)
	e.ObserveQuality(10, 400)
	assert.Nil(t, e.Evaluate(1))
}

func commitTo(t *testing.T, e *Engine, target Mode, reason Reason) {
	t.Helper()
	require.NoError(t, e.Begin(target, reason, nil))
	_, ok := e.Commit()
	require.True(t, ok)
}

func TestDowngradeWaitsForStability(t *testing.T) {
	e, now := newTestEngine()
	commitTo(t, e, ModeSFU, ReasonCapacity)

	// Occupancy dropped to 3, but the stability window has not elapsed.
	assert.Nil(t, e.Evaluate(3))
	*now = now.Add(5 * time.Second)
	assert.Nil(t, e.Evaluate(3))

	*now = now.Add(6 * time.Second)
	decision := e.Evaluate(3)
	require.NotNil(t, decision)
	assert.Equal(t, ModeMesh, decision.Target)
	assert.Equal(t, ReasonOccupancyDrop, decision.Reason)
}

func TestJoinCancelsDowngrade(t *testing.T) {
	e, now := newTestEngine()
	commitTo(t, e, ModeSFU, ReasonCapacity)

	assert.Nil(t, e.Evaluate(3))
	*now = now.Add(8 * time.Second)

	// A fourth participant joins; the stability clock restarts.
	assert.Nil(t, e.Evaluate(4))
	*now = now.Add(4 * time.Second)
	assert.Nil(t, e.Evaluate(3))

	*now = now.Add(11 * time.Second)
	assert.NotNil(t, e.Evaluate(3))
}

func TestPoorQualityBlocksDowngrade(t *testing.T) {
	e, now := newTestEngine()
	commitTo(t, e, ModeSFU, ReasonCapacity)

	assert.Nil(t, e.Evaluate(2))
	*now = now.Add(11 * time.Second)

	e.ObserveQuality(9, 300)
	e.ObserveQuality(9, 300)
	assert.Nil(t, e.Evaluate(2))
}

func TestSingleFlight(t *testing.T) {
	e, _ := newTestEngine()

	require.NoError(t, e.Begin(ModeSFU, ReasonCapacity, nil))
	assert.ErrorIs(t, e.Begin(ModeMesh, ReasonOccupancyDrop, nil), ErrTransitionInFlight)
	assert.Nil(t, e.Evaluate(10), "no new decision while one is in flight")
	assert.Equal(t, ModeTransitioning, e.Mode())
	assert.Equal(t, ModeMesh, e.CommittedMode())
}

func TestAcknowledgeTracksAwaitedParticipants(t *testing.T) {
	e, _ := newTestEngine()
	waitFor := []participant.ID{"@alice", "@bob"}

	require.NoError(t, e.Begin(ModeSFU, ReasonCapacity, waitFor))

	assert.False(t, e.Acknowledge("@alice"))
	assert.False(t, e.Acknowledge("@stranger"))
	assert.ElementsMatch(t, []participant.ID{"@bob"}, e.Unacked())
	assert.True(t, e.Acknowledge("@bob"))

	done, ok := e.Commit()
	require.True(t, ok)
	assert.True(t, done.Committed)
	assert.Equal(t, ModeSFU, e.Mode())
	assert.Len(t, e.History(), 1)
}

func TestRollbackKeepsMode(t *testing.T) {
	e, _ := newTestEngine()

	require.NoError(t, e.Begin(ModeSFU, ReasonCapacity, nil))
	failed, ok := e.Rollback(ReasonRouterFailure)
	require.True(t, ok)

	assert.False(t, failed.Committed)
	assert.Equal(t, ReasonRouterFailure, failed.Reason)
	assert.Equal(t, ModeMesh, e.Mode())
	assert.Len(t, e.History(), 1)
}

func TestHysteresisAfterCommit(t *testing.T) {
	e, now := newTestEngine()
	commitTo(t, e, ModeSFU, ReasonCapacity)

	// Occupancy is low immediately after the upgrade; the downgrade must
	// wait out both the stability window and the hysteresis interval.
	assert.Nil(t, e.Evaluate(2))
	*now = now.Add(10 * time.Second)
	assert.NotNil(t, e.Evaluate(2))
}

func TestShouldPrewarm(t *testing.T) {
	e, _ := newTestEngine()

	assert.False(t, e.ShouldPrewarm(2))
	assert.True(t, e.ShouldPrewarm(3))

	commitTo(t, e, ModeSFU, ReasonCapacity)
	assert.False(t, e.ShouldPrewarm(3), "prewarm applies to mesh mode only")
}
