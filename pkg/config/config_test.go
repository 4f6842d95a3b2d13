package config_test

import (
	"testing"
	"time"

	"github.com/confab-dev/confab/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalConfig = `
redis:
  addr: localhost:6379
`

func TestDefaultsApplied(t *testing.T) {
	loaded, err := config.LoadConfigFromString(minimalConfig)
	require.NoError(t, err)

	assert.Equal(t, ":8080", loaded.ListenAddr)
	assert.Equal(t, 8, loaded.Meeting.MaxParticipants)
	assert.Equal(t, 4, loaded.Meeting.Topology.SFUThreshold)
	assert.Equal(t, 30*time.Second, loaded.Signaling.HeartbeatInterval)
}

func TestOverrides(t *testing.T) {
	loaded, err := config.LoadConfigFromString(`
listenAddr: ":9000"
log: debug
redis:
  addr: redis:6379
  db: 2
meeting:
  maxParticipants: 16
  topology:
    sfuThreshold: 6
    p2pThreshold: 4
signaling:
  authSecret: s3cret
media:
  workerCount: 4
`)
	require.NoError(t, err)

	assert.Equal(t, ":9000", loaded.ListenAddr)
	assert.Equal(t, 2, loaded.Redis.DB)
	assert.Equal(t, 16, loaded.Meeting.MaxParticipants)
	assert.Equal(t, 6, loaded.Meeting.Topology.SFUThreshold)
	assert.Equal(t, "s3cret", loaded.Signaling.AuthSecret)
	assert.Equal(t, 4, loaded.Media.WorkerCount)
}

func TestValidation(t *testing.T) {
	_, err := config.LoadConfigFromString(`listenAddr: ":9000"`)
	assert.Error(t, err, "missing redis address")

	_, err = config.LoadConfigFromString(minimalConfig + `
meeting:
  topology:
    sfuThreshold: 3
    p2pThreshold: 3
`)
	assert.Error(t, err, "thresholds must not overlap")

	_, err = config.LoadConfigFromString(`not yaml at all: [`)
	assert.Error(t, err)
}
