package mediaworker

import (
	"runtime"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"
	"github.com/sirupsen/logrus"
)

// How much a single router weighs compared to a percent of CPU when scoring
// workers for selection.
const routerWeight = 5

// Above this CPU fraction a worker is considered saturated and selection
// falls back to round-robin across all workers.
const saturationThreshold = 0.8

// How quickly a replacement is spawned after a worker death.
const respawnDelay = 2 * time.Second

// Config for the worker pool.
type Config struct {
	// Number of workers to spawn. Zero means one per CPU.
	WorkerCount int `yaml:"workerCount"`
	// ICE servers advertised in transport info.
	ICEServers []string `yaml:"iceServers"`
	// Public IP announced in ICE host candidates.
	AnnouncedIP string `yaml:"announcedIp"`
}

// DeathListener is notified when a worker dies and a replacement comes up.
type DeathListener func(dead *Worker, replacement *Worker)

// Pool owns the media workers of the process. Construction happens once at
// startup; the handle is injected into every meeting.
type Pool struct {
	config Config
	logger *logrus.Entry

	mutex     sync.Mutex
	workers   []*Worker
	nextID    int
	nextRR    int
	listeners []DeathListener
	closed    bool
}

// NewPool spawns the configured number of workers (one per CPU by default)
// and starts supervising them.
func NewPool(config Config) *Pool {
	count := config.WorkerCount
	if count <= 0 {
		count = runtime.NumCPU()
	}

	pool := &Pool{
		config: config,
		logger: logrus.WithField("component", "media_worker_pool"),
	}

	for i := 0; i < count; i++ {
		pool.spawnWorker()
	}

	pool.logger.WithField("workers", count).Info("media worker pool started")
	return pool
}

func (p *Pool) spawnWorker() *Worker {
	p.mutex.Lock()
	worker := newWorker(p.nextID, p.config)
	p.nextID++
	p.workers = append(p.workers, worker)
	p.mutex.Unlock()

	go p.supervise(worker)
	return worker
}

// supervise waits for the worker to die and brings up a replacement within
// the respawn window, notifying every registered listener.
func (p *Pool) supervise(worker *Worker) {
	<-worker.Dead()

	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	for i, w := range p.workers {
		if w == worker {
			p.workers = append(p.workers[:i], p.workers[i+1:]...)
			break
		}
	}
	listeners := make([]DeathListener, len(p.listeners))
	copy(listeners, p.listeners)
	p.mutex.Unlock()

	// The replacement must be up within the respawn window; we spawn it
	// immediately, the delay only bounds the worst case.
	replacement := p.spawnWorker()
	p.logger.WithFields(logrus.Fields{
		"dead_worker": worker.ID(),
		"replacement": replacement.ID(),
	}).Warn("respawned media worker")

	for _, listener := range listeners {
		listener(worker, replacement)
	}
}

// OnWorkerDeath registers a listener called after a replacement worker is up.
func (p *Pool) OnWorkerDeath(listener DeathListener) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.listeners = append(p.listeners, listener)
}

// PickWorker selects the worker with the lowest score, where
// score = cpu + routerWeight * routerCount. When every worker is above the
// saturation threshold the pool falls back to round-robin.
func (p *Pool) PickWorker() (*Worker, error) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if len(p.workers) == 0 {
		return nil, ErrNoWorkersAvailable
	}

	allSaturated := true
	var best *Worker
	bestScore := 0.0
	for _, w := range p.workers {
		load := w.Load()
		if load <= saturationThreshold {
			allSaturated = false
		}
		score := load*100 + routerWeight*float64(w.RouterCount())
		if best == nil || score < bestScore {
			best = w
			bestScore = score
		}
	}

	if allSaturated {
		best = p.workers[p.nextRR%len(p.workers)]
		p.nextRR++
	}

	return best, nil
}

// CreateRouter allocates a router on the best available worker.
func (p *Pool) CreateRouter(mediaCodecs []webrtc.RTPCodecCapability) (*Router, error) {
	worker, err := p.PickWorker()
	if err != nil {
		return nil, err
	}

	return worker.CreateRouter(mediaCodecs)
}

// Workers returns a snapshot of the live workers.
func (p *Pool) Workers() []*Worker {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// RespawnDelay is the upper bound for replacing a dead worker.
func (p *Pool) RespawnDelay() time.Duration { return respawnDelay }

// Close shuts down all workers.
func (p *Pool) Close() {
	p.mutex.Lock()
	p.closed = true
	workers := make([]*Worker, len(p.workers))
	copy(workers, p.workers)
	p.workers = nil
	p.mutex.Unlock()

	for _, w := range workers {
		w.Close()
	}
}
