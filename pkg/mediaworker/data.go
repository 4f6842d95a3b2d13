package mediaworker

import (
	"sync"

	"github.com/google/uuid"
)

// DataProducer is the server-side handle of an outgoing data channel
// (chat, reactions). Payloads are opaque; only their size is policed.
type DataProducer struct {
	id         ProducerID
	transport  *Transport
	label      string
	maxPayload int
	appData    map[string]any

	mutex     sync.Mutex
	consumers map[ConsumerID]*DataConsumer
	closed    bool
}

// ProduceData creates a data producer on this (send) transport.
func (t *Transport) ProduceData(label string, maxPayload int, appData map[string]any) (*DataProducer, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.direction != DirectionSend {
		return nil, ErrWrongDirection
	}

	return &DataProducer{
		id:         ProducerID(uuid.NewString()),
		transport:  t,
		label:      label,
		maxPayload: maxPayload,
		appData:    appData,
		consumers:  make(map[ConsumerID]*DataConsumer),
	}, nil
}

func (p *DataProducer) ID() ProducerID { return p.id }

func (p *DataProducer) Label() string { return p.label }

func (p *DataProducer) AppData() map[string]any { return p.appData }

// Send fans a payload out to every attached data consumer.
func (p *DataProducer) Send(payload []byte) error {
	if p.maxPayload > 0 && len(payload) > p.maxPayload {
		return ErrPayloadTooLarge
	}

	p.mutex.Lock()
	consumers := make([]*DataConsumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.mutex.Unlock()

	for _, c := range consumers {
		c.deliver(payload)
	}
	return nil
}

func (p *DataProducer) attach(c *DataConsumer) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.consumers[c.id] = c
}

func (p *DataProducer) detach(id ConsumerID) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	delete(p.consumers, id)
}

func (p *DataProducer) Close() {
	p.mutex.Lock()
	if p.closed {
		p.mutex.Unlock()
		return
	}
	p.closed = true
	consumers := make([]*DataConsumer, 0, len(p.consumers))
	for _, c := range p.consumers {
		consumers = append(consumers, c)
	}
	p.consumers = make(map[ConsumerID]*DataConsumer)
	p.mutex.Unlock()

	for _, c := range consumers {
		c.Close()
	}
}

// DataConsumer receives the payloads of one data producer.
type DataConsumer struct {
	id        ConsumerID
	producer  *DataProducer
	transport *Transport

	mutex     sync.Mutex
	onMessage func(payload []byte)
	closed    bool
}

// ConsumeData creates a data consumer on this (recv) transport.
func (t *Transport) ConsumeData(producer *DataProducer) (*DataConsumer, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.closed {
		return nil, ErrTransportClosed
	}
	if t.direction != DirectionRecv {
		return nil, ErrWrongDirection
	}

	consumer := &DataConsumer{
		id:        ConsumerID(uuid.NewString()),
		producer:  producer,
		transport: t,
	}
	producer.attach(consumer)
	return consumer, nil
}

func (c *DataConsumer) ID() ConsumerID { return c.id }

func (c *DataConsumer) ProducerID() ProducerID { return c.producer.id }

func (c *DataConsumer) Label() string { return c.producer.label }

// OnMessage registers the delivery callback for this consumer.
func (c *DataConsumer) OnMessage(callback func(payload []byte)) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.onMessage = callback
}

func (c *DataConsumer) deliver(payload []byte) {
	c.mutex.Lock()
	callback := c.onMessage
	closed := c.closed
	c.mutex.Unlock()

	if !closed && callback != nil {
		callback(payload)
	}
}

func (c *DataConsumer) Close() {
	c.mutex.Lock()
	if c.closed {
		c.mutex.Unlock()
		return
	}
	c.closed = true
	c.mutex.Unlock()

	c.producer.detach(c.id)
}
