package mediaworker

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

const (
	// How often a worker re-estimates its CPU load for the pool's scoring.
	loadSampleInterval = 5 * time.Second
	// Approximate CPU fraction one live transport costs this worker.
	transportLoadShare = 0.01
)

// Worker owns a set of routers. It is the in-process implementation of the
// native media worker contract: the rest of the system only talks to it
// through the router/transport/producer/consumer handles, so a subprocess
// implementation can be swapped in without touching the callers.
type Worker struct {
	id     int
	config Config
	logger *logrus.Entry

	mutex   sync.Mutex
	routers map[RouterID]*Router
	// Fraction of CPU the worker currently burns, [0..1]. Reported by the
	// worker liveness channel in a subprocess deployment; sampled from the
	// live transports here.
	cpuLoad float64
	dead    chan struct{}
	stop    chan struct{}
	closed  bool
}

func newWorker(id int, config Config) *Worker {
	w := &Worker{
		id:      id,
		config:  config,
		logger:  logrus.WithField("media_worker", id),
		routers: make(map[RouterID]*Router),
		dead:    make(chan struct{}),
		stop:    make(chan struct{}),
	}
	go w.sampleLoad()
	return w
}

func (w *Worker) ID() int { return w.id }

// Dead is closed once the worker dies. The pool supervises this channel.
func (w *Worker) Dead() <-chan struct{} { return w.dead }

// CreateRouter allocates a new router on this worker.
func (w *Worker) CreateRouter(mediaCodecs []webrtc.RTPCodecCapability) (*Router, error) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.closed {
		return nil, ErrWorkerDead
	}

	router := newRouter(RouterID(uuid.NewString()), w, mediaCodecs)
	w.routers[router.id] = router
	w.logger.WithField("router_id", router.id).Debug("created router")
	return router, nil
}

func (w *Worker) RouterCount() int {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return len(w.routers)
}

// Load returns the worker's CPU fraction, [0..1].
func (w *Worker) Load() float64 {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.cpuLoad
}

// SetLoad records a CPU load observation for this worker.
func (w *Worker) SetLoad(load float64) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	w.cpuLoad = load
}

// sampleLoad keeps the load estimate fresh so the pool's worker scoring
// reacts to traffic, not just router counts.
func (w *Worker) sampleLoad() {
	ticker := time.NewTicker(loadSampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.SetLoad(w.estimateLoad())
		}
	}
}

// estimateLoad derives the CPU fraction from the live transports. A real
// subprocess worker would report this over its liveness channel instead.
func (w *Worker) estimateLoad() float64 {
	w.mutex.Lock()
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.mutex.Unlock()

	var transports int
	for _, r := range routers {
		transports += r.TransportCount()
	}

	load := transportLoadShare * float64(transports)
	if load > 1 {
		load = 1
	}
	return load
}

func (w *Worker) removeRouter(id RouterID) {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	delete(w.routers, id)
}

// Kill simulates (or reacts to) a worker death: every router it owns is
// closed and the dead channel fires so the pool can respawn.
func (w *Worker) Kill() {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[RouterID]*Router)
	w.mutex.Unlock()

	for _, r := range routers {
		r.Close()
	}
	close(w.stop)
	close(w.dead)
	w.logger.Warn("media worker died")
}

// Close shuts the worker down without signaling death to the pool.
func (w *Worker) Close() {
	w.mutex.Lock()
	if w.closed {
		w.mutex.Unlock()
		return
	}
	w.closed = true
	routers := make([]*Router, 0, len(w.routers))
	for _, r := range w.routers {
		routers = append(routers, r)
	}
	w.routers = make(map[RouterID]*Router)
	w.mutex.Unlock()

	for _, r := range routers {
		r.Close()
	}
	close(w.stop)
}
