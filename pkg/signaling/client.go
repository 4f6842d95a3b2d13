package signaling

import (
	"sync"
	"time"

	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/metrics"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 64 * 1024
)

type outboundFrame struct {
	frame     Frame
	droppable bool
}

// client is one signaling connection. Reads happen on the gateway's read
// loop, writes are serialized through the outbound queue.
type client struct {
	socket registry.SocketID
	peer   participant.ID
	conn   *websocket.Conn
	logger *logrus.Entry

	outbound  chan outboundFrame
	closed    chan struct{}
	closeOnce sync.Once

	mutex   sync.Mutex
	meeting *meeting.Meeting
}

func newClient(socket registry.SocketID, peer participant.ID, conn *websocket.Conn, queueSize int, logger *logrus.Entry) *client {
	return &client{
		socket:   socket,
		peer:     peer,
		conn:     conn,
		logger:   logger.WithFields(logrus.Fields{"socket_id": socket, "peer_id": peer}),
		outbound: make(chan outboundFrame, queueSize),
		closed:   make(chan struct{}),
	}
}

func (c *client) bind(m *meeting.Meeting) {
	c.mutex.Lock()
	c.meeting = m
	c.mutex.Unlock()
}

func (c *client) unbind() {
	c.bind(nil)
}

func (c *client) currentMeeting() (*meeting.Meeting, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.meeting == nil {
		return nil, meeting.NewError(meeting.CodeValidation, "join a meeting first")
	}
	return c.meeting, nil
}

// send queues a frame for delivery. Droppable frames are discarded when the
// queue is full instead of stalling the meeting's event pump.
func (c *client) send(frame Frame, droppable bool) {
	message := outboundFrame{frame: frame, droppable: droppable}

	if droppable {
		select {
		case c.outbound <- message:
		case <-c.closed:
		default:
			metrics.DroppedEvents.Inc()
		}
		return
	}

	select {
	case c.outbound <- message:
	case <-c.closed:
	}
}

func (c *client) sendReply(id string, payload any) {
	frame := Frame{Type: TypeResponse, ID: id}
	if payload != nil {
		frame.Data = mustMarshal(payload)
	}
	c.send(frame, false)
}

func (c *client) sendError(id string, err error) {
	c.send(Frame{Type: TypeError, ID: id, Data: mustMarshal(meeting.Classify(err))}, false)
}

func (c *client) writePump() {
	defer func() { _ = c.conn.Close() }()

	for {
		select {
		case message := <-c.outbound:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message.frame); err != nil {
				c.logger.WithError(err).Debug("write failed, closing the socket")
				c.close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

func (c *client) ping() bool {
	err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
	return err == nil
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
