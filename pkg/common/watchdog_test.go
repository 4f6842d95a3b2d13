package common_test

import (
	"sync"
	"testing"
	"time"

	"github.com/confab-dev/confab/pkg/common"
	"github.com/stretchr/testify/assert"
)

func testSetup(t *testing.T) *common.Watchdog {
	t.Helper()
	w := common.NewWatchdog(2*time.Second, func() {})

	t.Cleanup(func() {
		w.Close()
	})
	return w
}

func TestWatchdog_Start(t *testing.T) {
	w := testSetup(t)
	terminated := w.Start()
	select {
	case <-terminated:
		t.Fatal("should terminate only after Close")
	default:
	}
}

func TestWatchdog_Close(t *testing.T) {
	w := testSetup(t)
	terminated := w.Start()

	w.Close()
	assert.Empty(t, <-terminated)
}

func TestWatchdog_Notify(t *testing.T) {
	w := testSetup(t)
	w.Start()

	assert.True(t, w.Notify())
	assert.True(t, w.Notify())

	w.Close()
	assert.False(t, w.Notify())

	// Closing twice is a no-op.
	w.Close()
	assert.False(t, w.Notify())
}

func TestWatchdog_Fires(t *testing.T) {
	fired := make(chan struct{})
	w := common.NewWatchdog(10*time.Millisecond, func() { close(fired) })
	terminated := w.Start()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("watchdog did not fire")
	}
	<-terminated
}

func TestWatchdog_NotifyPostponesFiring(t *testing.T) {
	var mu sync.Mutex
	fired := false
	w := common.NewWatchdog(50*time.Millisecond, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	w.Start()
	defer w.Close()

	for i := 0; i < 5; i++ {
		time.Sleep(20 * time.Millisecond)
		w.Notify()
	}

	mu.Lock()
	defer mu.Unlock()
	assert.False(t, fired)
}
