package mediaworker_test

import (
	"testing"
	"time"

	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoolPicksLeastLoadedWorker(t *testing.T) {
	pool := mediaworker.NewPool(mediaworker.Config{WorkerCount: 3})
	defer pool.Close()

	workers := pool.Workers()
	require.Len(t, workers, 3)

	workers[0].SetLoad(0.5)
	workers[1].SetLoad(0.1)
	workers[2].SetLoad(0.3)

	picked, err := pool.PickWorker()
	require.NoError(t, err)
	assert.Equal(t, workers[1].ID(), picked.ID())
}

func TestPoolRouterCountWeighsIntoScore(t *testing.T) {
	pool := mediaworker.NewPool(mediaworker.Config{WorkerCount: 2})
	defer pool.Close()

	workers := pool.Workers()
	workers[0].SetLoad(0.1)
	workers[1].SetLoad(0.1)

	// Five routers on worker 0 outweigh its equal CPU load.
	for i := 0; i < 5; i++ {
		_, err := workers[0].CreateRouter(nil)
		require.NoError(t, err)
	}

	picked, err := pool.PickWorker()
	require.NoError(t, err)
	assert.Equal(t, workers[1].ID(), picked.ID())
}

func TestPoolRoundRobinWhenSaturated(t *testing.T) {
	pool := mediaworker.NewPool(mediaworker.Config{WorkerCount: 2})
	defer pool.Close()

	for _, w := range pool.Workers() {
		w.SetLoad(0.95)
	}

	first, err := pool.PickWorker()
	require.NoError(t, err)
	second, err := pool.PickWorker()
	require.NoError(t, err)
	assert.NotEqual(t, first.ID(), second.ID())
}

func TestPoolRespawnsDeadWorker(t *testing.T) {
	pool := mediaworker.NewPool(mediaworker.Config{WorkerCount: 1})
	defer pool.Close()

	notified := make(chan struct{})
	pool.OnWorkerDeath(func(dead, replacement *mediaworker.Worker) {
		assert.NotEqual(t, dead.ID(), replacement.ID())
		close(notified)
	})

	worker := pool.Workers()[0]
	router, err := worker.CreateRouter(nil)
	require.NoError(t, err)

	worker.Kill()

	select {
	case <-notified:
	case <-time.After(pool.RespawnDelay()):
		t.Fatal("no replacement within the respawn window")
	}

	require.Len(t, pool.Workers(), 1)
	assert.NotEqual(t, worker.ID(), pool.Workers()[0].ID())

	// The dead worker's routers are gone.
	_, err = router.CreateWebRtcTransport(mediaworker.DirectionSend)
	assert.ErrorIs(t, err, mediaworker.ErrRouterClosed)
}
