package participant_test

import (
	"testing"

	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQualityWindowEvictsOldest(t *testing.T) {
	w := participant.NewQualityWindow(3)
	for i := 0; i < 5; i++ {
		w.Append(participant.Sample{PacketLossPct: float64(i)})
	}

	assert.Equal(t, 3, w.Len())
	require.NotNil(t, w.Latest())
	assert.Equal(t, 4.0, w.Latest().PacketLossPct)

	loss, _ := w.Averages()
	assert.Equal(t, 3.0, loss)
}

func TestQualityWindowAverages(t *testing.T) {
	w := participant.NewQualityWindow(participant.DefaultWindowSize)

	loss, rtt := w.Averages()
	assert.Zero(t, loss)
	assert.Zero(t, rtt)

	w.Append(participant.Sample{PacketLossPct: 2, RoundTripMs: 100})
	w.Append(participant.Sample{PacketLossPct: 8, RoundTripMs: 300})

	loss, rtt = w.Averages()
	assert.Equal(t, 5.0, loss)
	assert.Equal(t, 200.0, rtt)
}

func TestQualityWindowClear(t *testing.T) {
	w := participant.NewQualityWindow(3)
	w.Append(participant.Sample{PacketLossPct: 10})
	w.Clear()

	assert.Zero(t, w.Len())
	assert.Nil(t, w.Latest())
}
