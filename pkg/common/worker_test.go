package common_test

import (
	"testing"
	"time"

	"github.com/confab-dev/confab/pkg/common"
	"github.com/stretchr/testify/assert"
)

func TestWorkerExecutesTasks(t *testing.T) {
	done := make(chan int, 1)
	w := common.StartWorker(common.WorkerConfig[int]{
		ChannelSize: 4,
		Timeout:     time.Second,
		OnTimeout:   func() {},
		OnTask:      func(task int) { done <- task },
	})
	defer w.Stop()

	assert.NoError(t, w.Send(7))
	assert.Equal(t, 7, <-done)
}

func TestWorkerRejectsWhenClosed(t *testing.T) {
	w := common.StartWorker(common.WorkerConfig[int]{
		ChannelSize: 1,
		Timeout:     time.Second,
		OnTimeout:   func() {},
		OnTask:      func(int) {},
	})

	w.Stop()
	assert.ErrorIs(t, w.Send(1), common.ErrWorkerClosed)
}

func BenchmarkWorker_Send(b *testing.B) {
	w := common.StartWorker(common.WorkerConfig[struct{}]{
		ChannelSize: 1024,
		Timeout:     2 * time.Second,
		OnTimeout:   func() {},
		OnTask:      func(struct{}) {},
	})
	defer w.Stop()

	for n := 0; n < b.N; n++ {
		_ = w.Send(struct{}{})
	}
}
