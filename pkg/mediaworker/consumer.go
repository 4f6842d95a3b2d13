package mediaworker

import (
	"sync"
)

// A consumer starts at mid simulcast to bound the initial bandwidth.
const (
	initialSpatialLayer  = 1
	initialTemporalLayer = 2
	maxTemporalLayer     = 2
)

// Consumer is the server-side handle of an incoming media stream at the SFU.
type Consumer struct {
	id         ConsumerID
	transport  *Transport
	producerID ProducerID
	kind       MediaKind

	mutex             sync.Mutex
	preferredSpatial  int
	preferredTemporal int
	maxSpatial        int
	paused            bool
	priority          int
	score             float64
	onScore           func(score float64)
	stats             Stats
	closed            bool
}

func newConsumer(id ConsumerID, transport *Transport, producer *Producer) *Consumer {
	maxSpatial := producer.MaxSpatialLayer()

	spatial := initialSpatialLayer
	if spatial > maxSpatial {
		spatial = maxSpatial
	}

	return &Consumer{
		id:                id,
		transport:         transport,
		producerID:        producer.id,
		kind:              producer.kind,
		preferredSpatial:  spatial,
		preferredTemporal: initialTemporalLayer,
		maxSpatial:        maxSpatial,
		priority:          1,
		score:             10,
	}
}

func (c *Consumer) ID() ConsumerID { return c.id }

func (c *Consumer) ProducerID() ProducerID { return c.producerID }

func (c *Consumer) Kind() MediaKind { return c.kind }

func (c *Consumer) Transport() *Transport { return c.transport }

// PreferredLayers returns the spatial and temporal layer the consumer asked for.
func (c *Consumer) PreferredLayers() (spatial, temporal int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.preferredSpatial, c.preferredTemporal
}

func (c *Consumer) MaxSpatialLayer() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.maxSpatial
}

// SetPreferredLayers selects the simulcast layers forwarded to this consumer.
func (c *Consumer) SetPreferredLayers(spatial, temporal int) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrConsumerNotFound
	}
	if spatial < 0 || spatial > c.maxSpatial || temporal < 0 || temporal > maxTemporalLayer {
		return ErrLayerOutOfRange
	}

	c.preferredSpatial = spatial
	c.preferredTemporal = temporal
	return nil
}

func (c *Consumer) Priority() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.priority
}

func (c *Consumer) SetPriority(priority int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.priority = priority
}

func (c *Consumer) Pause() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.paused = true
}

func (c *Consumer) Resume() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.paused = false
}

func (c *Consumer) Paused() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.paused
}

// OnScore registers the callback invoked whenever the smoothed delivery
// score changes. The SFU router uses it to adapt preferred layers.
func (c *Consumer) OnScore(callback func(score float64)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onScore = callback
}

// UpdateScore feeds a raw delivery score observation, [0..10]. The stored
// score is smoothed (EWMA) so a single bad observation does not flap layers.
func (c *Consumer) UpdateScore(raw float64) {
	c.mutex.Lock()
	c.score = (c.score + raw) / 2
	smoothed := c.score
	callback := c.onScore
	c.mutex.Unlock()

	if callback != nil {
		callback(smoothed)
	}
}

// Score returns the smoothed delivery score.
func (c *Consumer) Score() float64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.score
}

func (c *Consumer) Stats() Stats {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.stats
}

func (c *Consumer) SetStats(stats Stats) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.stats = stats
}

func (c *Consumer) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.closed
}

func (c *Consumer) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	c.mutex.Unlock()

	c.transport.router.unregisterConsumer(c.id)
}
