// Package signaling is the WebSocket gateway: it authenticates sockets,
// translates wire frames into meeting operations and pushes meeting events
// back to the clients.
package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/confab-dev/confab/pkg/common"
	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/metrics"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/routing"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Config of the gateway.
type Config struct {
	// AuthSecret is the shared bearer token. Empty accepts any token, for
	// development setups.
	AuthSecret string `yaml:"authSecret"`
	// HeartbeatInterval between pings; a socket missing a pong for the same
	// duration is considered dead.
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	// RequestTimeout bounds a single meeting operation.
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	// OutboundQueueSize bounds the per-socket push queue.
	OutboundQueueSize int `yaml:"outboundQueueSize"`
}

func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 30 * time.Second,
		RequestTimeout:    30 * time.Second,
		OutboundQueueSize: 64,
	}
}

type Gateway struct {
	config     Config
	dispatcher *routing.Dispatcher
	logger     *logrus.Entry
	upgrader   websocket.Upgrader

	mutex   sync.Mutex
	clients map[registry.MeetingID]map[participant.ID]*client
}

func NewGateway(config Config, dispatcher *routing.Dispatcher, logger *logrus.Entry) *Gateway {
	g := &Gateway{
		config:     config,
		dispatcher: dispatcher,
		logger:     logger.WithField("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[registry.MeetingID]map[participant.ID]*client),
	}

	go g.pump()
	return g
}

// pump routes the merged meeting event stream to the connected sockets.
func (g *Gateway) pump() {
	for event := range g.dispatcher.Events() {
		g.route(event)
	}
}

func (g *Gateway) route(event meeting.Event) {
	frame, to, ok := convertEvent(event)
	if !ok {
		return
	}
	droppable := meeting.Droppable(event)
	meetingID := event.EventMeeting()

	g.mutex.Lock()
	var targets []*client
	for peer, c := range g.clients[meetingID] {
		if to == "" || to == peer {
			targets = append(targets, c)
		}
	}
	g.mutex.Unlock()

	for _, c := range targets {
		c.send(frame, droppable)
	}

	if _, ended := event.(meeting.Ended); ended {
		g.dropMeeting(meetingID)
	}
}

func (g *Gateway) dropMeeting(id registry.MeetingID) {
	g.mutex.Lock()
	room := g.clients[id]
	delete(g.clients, id)
	g.mutex.Unlock()

	for _, c := range room {
		c.unbind()
	}
}

// Handler upgrades HTTP requests into signaling sockets.
func (g *Gateway) Handler() http.HandlerFunc {
	return g.serve
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request) {
	peer, err := g.authenticate(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WithError(err).Warn("websocket upgrade failed")
		return
	}

	c := newClient(registry.SocketID(uuid.NewString()), peer, conn, g.config.OutboundQueueSize, g.logger)
	c.logger.Info("socket connected")
	metrics.ConnectedSockets.Inc()
	go c.writePump()

	heartbeat := &common.Heartbeat{
		Interval: g.config.HeartbeatInterval,
		Timeout:  g.config.HeartbeatInterval,
		SendPing: c.ping,
		OnTimeout: func() {
			c.logger.Warn("heartbeat timed out, closing the socket")
			c.close()
		},
	}
	pong := heartbeat.Start()
	conn.SetPongHandler(func(string) error {
		pong <- common.Pong{}
		return nil
	})

	g.readLoop(c)

	close(pong)
	c.close()
	metrics.ConnectedSockets.Dec()
	g.disconnect(c)
	c.logger.Info("socket disconnected")
}

func (g *Gateway) authenticate(r *http.Request) (participant.ID, error) {
	token := r.URL.Query().Get("access_token")
	if header := r.Header.Get("Authorization"); strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	}
	if g.config.AuthSecret != "" && token != g.config.AuthSecret {
		return "", meeting.NewError(meeting.CodeAuthorization, "invalid access token")
	}

	peer := participant.ID(r.URL.Query().Get("peer_id"))
	if peer == "" {
		return "", meeting.NewError(meeting.CodeValidation, "missing peer_id")
	}
	return peer, nil
}

func (g *Gateway) readLoop(c *client) {
	c.conn.SetReadLimit(maxMessageSize)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.WithError(err).Debug("socket read ended")
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendError("", meeting.NewError(meeting.CodeValidation, "malformed frame"))
			continue
		}

		// Each request runs on its own goroutine so a slow operation does
		// not starve the pong handler.
		go g.handleFrame(c, frame)
	}
}

// disconnect reports the socket loss to the bound meeting, which keeps the
// seat for the ghost grace window.
func (g *Gateway) disconnect(c *client) {
	if m, err := c.currentMeeting(); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), g.config.RequestTimeout)
		defer cancel()
		if err := m.SocketLost(ctx, c.peer); err != nil {
			c.logger.WithError(err).Debug("socket loss report failed")
		}
	}
	g.unregister(c)
}

func (g *Gateway) register(c *client, id registry.MeetingID) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	room, ok := g.clients[id]
	if !ok {
		room = make(map[participant.ID]*client)
		g.clients[id] = room
	}
	room[c.peer] = c
}

func (g *Gateway) unregister(c *client) {
	m, err := c.currentMeeting()
	if err != nil {
		return
	}
	c.unbind()

	g.mutex.Lock()
	defer g.mutex.Unlock()
	if room, ok := g.clients[m.ID()]; ok && room[c.peer] == c {
		delete(room, c.peer)
		if len(room) == 0 {
			delete(g.clients, m.ID())
		}
	}
}
