package meeting

import (
	"context"
	"errors"
	"time"

	"github.com/confab-dev/confab/pkg/common"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/meeting/topology"
	"github.com/confab-dev/confab/pkg/mesh"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/sfu"
)

// run is the actor loop. Everything that mutates meeting state happens here.
func (m *Meeting) run() {
	m.logger.Info("meeting started")

	for {
		// The router event channels move as topologies come and go; a nil
		// channel simply never fires.
		var routerEvents, pendingEvents <-chan sfu.Event
		if m.router != nil {
			routerEvents = m.router.Events()
		}
		if m.pendingRouter != nil {
			pendingEvents = m.pendingRouter.Events()
		}

		select {
		case req := <-m.requests:
			m.handleRequest(req)
		case message := <-m.internal:
			m.handleInternal(message)
		case event := <-routerEvents:
			m.handleRouterEvent(event)
		case event := <-pendingEvents:
			m.handleRouterEvent(event)
		case <-m.ended:
			return
		}
	}
}

func (m *Meeting) handleRequest(req request) {
	var payload any
	var err error

	switch content := req.content.(type) {
	case joinRequest:
		payload, err = m.handleJoin(req.caller, content)
	case leaveRequest:
		err = m.handleLeave(req.caller)
	case endRequest:
		m.shutdown(content.reason)
	case infoRequest:
		payload = m.buildInfo()
	case mediaStateRequest:
		err = m.handleMediaState(req.caller, content.state)
	case relayRequest:
		err = m.handleRelay(req.caller, content.signal)
	case qualityRequest:
		err = m.handleQuality(req.caller, content.sample)
	case ackRequest:
		err = m.handleAck(req.caller)
	case socketLostRequest:
		err = m.handleSocketLost(req.caller)
	default:
		payload, err = m.handleMediaRequest(req)
	}

	if err != nil {
		err = Classify(err)
	}
	req.respond <- response{payload: payload, err: err}
}

func (m *Meeting) handleInternal(message any) {
	switch content := message.(type) {
	case ghostExpired:
		m.handleGhostExpired(content.id)
	case transitionTimedOut:
		m.commitTransition(true)
	case prewarmExpired:
		m.handlePrewarmExpired()
	case emptyExpired:
		if !m.tracker.HasParticipants() {
			m.shutdown("empty")
		}
	case workerDied:
		m.handleWorkerDeath(content)
	}
}

func (m *Meeting) handleRouterEvent(event sfu.Event) {
	switch content := event.(type) {
	case sfu.SpeakersChangedEvent:
		m.emit(ActiveSpeakersChanged{eventBase: m.base(), ParticipantIDs: content.ParticipantIDs})
	case sfu.StatsTickEvent:
		m.handleStatsTick()
	case sfu.DataEvent:
		m.emit(DataDelivery{
			eventBase:  m.base(),
			To:         content.ParticipantID,
			ProducerID: content.ProducerID,
			Label:      content.Label,
			Payload:    content.Payload,
		})
	}
}

func (m *Meeting) handleStatsTick() {
	router := m.activeRouter()
	if router == nil {
		return
	}

	samples := router.CollectStats()
	if len(samples) > 0 {
		var loss, rtt float64
		for _, sample := range samples {
			loss += sample.PacketLossPct
			rtt += sample.RoundTripMs
		}
		n := float64(len(samples))
		m.engine.ObserveQuality(loss/n, rtt/n)
	}
	m.evaluateTopology()
	m.emit(StatsUpdated{eventBase: m.base(), Samples: samples})
}

func (m *Meeting) base() eventBase {
	return eventBase{Meeting: m.id}
}

// emit delivers an event to the meeting's event stream. Droppable events
// are discarded under backpressure; the rest wait for the consumer.
func (m *Meeting) emit(event Event) {
	if Droppable(event) {
		select {
		case m.events <- event:
		default:
			m.logger.Debug("dropping event under backpressure")
		}
		return
	}

	select {
	case m.events <- event:
	case <-m.ended:
	}
}

func (m *Meeting) requireParticipant(id participant.ID) (*participant.Participant, error) {
	p := m.tracker.Get(id)
	if p == nil {
		return nil, Errorf(CodeNotFound, "participant %s is not in the meeting", id)
	}
	return p, nil
}

func (m *Meeting) handleJoin(caller participant.ID, content joinRequest) (JoinResult, error) {
	if existing := m.tracker.Get(caller); existing != nil {
		if !existing.Suspended {
			return JoinResult{}, Errorf(CodeConflict, "participant %s is already in the meeting", caller)
		}
		// Ghost resume: the seat and its media survive.
		if watchdog := m.ghosts[caller]; watchdog != nil {
			watchdog.Close()
			delete(m.ghosts, caller)
		}
		existing.Suspended = false
		m.sockets[caller] = content.socket
		m.bindSocket(content.socket, caller)
		existing.Logger.Info("participant resumed within the ghost grace window")
		return m.joinResult(caller, true), nil
	}

	if m.tracker.Count() >= m.config.MaxParticipants {
		return JoinResult{}, Errorf(CodeCapacity, "meeting is full (%d participants)", m.config.MaxParticipants)
	}

	p := participant.New(caller, content.displayName, caller == m.host, m.logger)
	m.tracker.Add(p)
	m.sockets[caller] = content.socket
	m.cancelEmptyTimer()
	m.bindSocket(content.socket, caller)

	p.Logger.Info("participant joined")
	m.emit(PeerJoined{eventBase: m.base(), Participant: caller, DisplayName: content.displayName})
	m.evaluateTopology()

	return m.joinResult(caller, false), nil
}

func (m *Meeting) joinResult(caller participant.ID, resumed bool) JoinResult {
	result := JoinResult{
		Mode:    m.engine.Mode(),
		Resumed: resumed,
		Peers:   m.peerList(caller),
	}
	if router := m.activeRouter(); router != nil {
		capabilities := router.RTPCapabilities()
		result.RouterCapabilities = &capabilities
	}
	return result
}

func (m *Meeting) peerList(exclude participant.ID) []PeerInfo {
	peers := make([]PeerInfo, 0, m.tracker.Count())
	m.tracker.ForEach(func(id participant.ID, p *participant.Participant) {
		if id == exclude {
			return
		}
		peers = append(peers, PeerInfo{
			ID:          id,
			DisplayName: p.DisplayName,
			JoinedAt:    p.JoinedAt,
			Host:        p.Host,
			MediaState:  p.MediaState,
			Suspended:   p.Suspended,
		})
	})
	return peers
}

func (m *Meeting) buildInfo() Info {
	return Info{
		ID:              m.id,
		CreatedAt:       m.createdAt,
		HostPeerID:      m.host,
		Mode:            m.engine.Mode(),
		MaxParticipants: m.config.MaxParticipants,
		Encryption:      m.config.Encryption,
		Participants:    m.peerList(""),
		Transitions:     m.engine.History(),
	}
}

// handleLeave is idempotent: leaving a meeting one is not in succeeds.
func (m *Meeting) handleLeave(caller participant.ID) error {
	p := m.tracker.Get(caller)
	if p == nil {
		return nil
	}
	m.removeParticipant(p, "left")
	return nil
}

func (m *Meeting) removeParticipant(p *participant.Participant, reason string) {
	if watchdog := m.ghosts[p.ID]; watchdog != nil {
		watchdog.Close()
		delete(m.ghosts, p.ID)
	}
	if router := m.activeRouter(); router != nil {
		router.RemoveParticipant(p)
	}

	socket := m.sockets[p.ID]
	delete(m.sockets, p.ID)
	m.tracker.Remove(p.ID)
	m.cleanupSocket(socket)

	p.Logger.Infof("participant removed (%s)", reason)
	m.emit(PeerLeft{eventBase: m.base(), Participant: p.ID, Reason: reason})

	if !m.tracker.HasParticipants() {
		m.scheduleEnd()
		return
	}
	m.evaluateTopology()
}

func (m *Meeting) scheduleEnd() {
	if m.config.EmptyLinger <= 0 {
		m.shutdown("empty")
		return
	}
	m.cancelEmptyTimer()
	m.emptyTimer = time.AfterFunc(m.config.EmptyLinger, func() {
		m.postInternal(emptyExpired{})
	})
}

func (m *Meeting) cancelEmptyTimer() {
	if m.emptyTimer != nil {
		m.emptyTimer.Stop()
		m.emptyTimer = nil
	}
}

func (m *Meeting) handleMediaState(caller participant.ID, state participant.MediaState) error {
	p, err := m.requireParticipant(caller)
	if err != nil {
		return err
	}

	p.MediaState = state
	m.persist()
	m.emit(MediaStateChanged{eventBase: m.base(), Participant: caller, State: state})
	return nil
}

func (m *Meeting) handleRelay(caller participant.ID, signal mesh.Signal) error {
	if m.engine.CommittedMode() != topology.ModeMesh {
		return NewError(CodeValidation, "signal relay is only available in mesh mode")
	}
	if err := m.coordinator.Relay(caller, signal); err != nil {
		return err
	}
	m.emit(SignalRelayed{eventBase: m.base(), To: signal.To, Signal: signal})
	return nil
}

func (m *Meeting) handleQuality(caller participant.ID, sample participant.Sample) error {
	loss, rtt, err := m.coordinator.RecordQuality(caller, sample)
	if err != nil {
		return err
	}
	// In sfu mode the report also scores the caller's consumers, so layer
	// adaptation reacts to what the client actually experiences.
	if router := m.activeRouter(); router != nil {
		router.ScoreConsumers(m.tracker.Get(caller), sample)
	}
	m.engine.ObserveQuality(loss, rtt)
	m.evaluateTopology()
	return nil
}

func (m *Meeting) handleAck(caller participant.ID) error {
	if !m.engine.InTransition() {
		return NewError(CodeValidation, "no transition in progress")
	}
	if allAcked := m.engine.Acknowledge(caller); allAcked {
		m.commitTransition(false)
	}
	return nil
}

func (m *Meeting) handleSocketLost(caller participant.ID) error {
	if m.tracker.Get(caller) == nil {
		return nil
	}
	m.suspendParticipant(caller)
	return nil
}

func (m *Meeting) suspendParticipant(id participant.ID) {
	p := m.tracker.Get(id)
	if p == nil || p.Suspended {
		return
	}

	p.Suspended = true
	watchdog := common.NewWatchdog(m.config.GhostGrace, func() {
		m.postInternal(ghostExpired{id: id})
	})
	watchdog.Start()
	m.ghosts[id] = watchdog
	p.Logger.Info("participant suspended, awaiting reconnect")
}

func (m *Meeting) handleGhostExpired(id participant.ID) {
	p := m.tracker.Get(id)
	if p == nil || !p.Suspended {
		return
	}
	delete(m.ghosts, id)
	m.removeParticipant(p, "ghost-timeout")
}

// shutdown ends the meeting: one Ended event, then full teardown. Safe to
// call more than once.
func (m *Meeting) shutdown(reason string) {
	m.endOnce.Do(func() {
		m.logger.Infof("meeting ended: %s", reason)
		m.emit(Ended{eventBase: m.base(), Reason: reason})

		if m.transitionTimer != nil {
			m.transitionTimer.Stop()
		}
		m.cancelEmptyTimer()
		for _, watchdog := range m.ghosts {
			watchdog.Close()
		}
		if m.prewarmGuard != nil {
			m.prewarmGuard.Close()
		}
		if m.prewarmed != nil {
			m.prewarmed.Close()
		}
		if m.pendingRouter != nil {
			m.pendingRouter.Close()
		}
		if m.router != nil {
			m.router.Close()
		}
		m.tracker.ForEach(func(_ participant.ID, p *participant.Participant) {
			p.CloseMedia()
		})

		ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
		defer cancel()
		for _, socket := range m.sockets {
			_ = m.store.UnbindSocket(ctx, socket)
		}
		if err := m.store.DeleteSnapshot(ctx, m.id); err != nil {
			m.logger.WithError(err).Warn("failed to delete meeting snapshot")
		}

		close(m.ended)
	})
}

func (m *Meeting) snapshot() registry.Snapshot {
	peers := make(map[participant.ID]registry.PeerSnapshot, m.tracker.Count())
	m.tracker.ForEach(func(id participant.ID, p *participant.Participant) {
		peers[id] = registry.PeerSnapshot{
			SocketID:    m.sockets[id],
			DisplayName: p.DisplayName,
			JoinedAt:    p.JoinedAt,
			MediaState:  p.MediaState,
		}
	})
	return registry.Snapshot{ID: m.id, CreatedAt: m.createdAt, HostPeerID: m.host, Peers: peers}
}

// Registry failures are logged, not surfaced: the meeting keeps serving its
// participants even when the shared store is unreachable.
func (m *Meeting) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if err := m.store.SaveSnapshot(ctx, m.snapshot()); err != nil {
		m.logger.WithError(err).Warn("failed to persist meeting snapshot")
	}
}

func (m *Meeting) bindSocket(socket registry.SocketID, id participant.ID) {
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	binding := registry.Binding{MeetingID: m.id, ParticipantID: id}
	if err := m.store.BindSocket(ctx, socket, binding, m.snapshot()); err != nil {
		m.logger.WithError(err).Warn("failed to bind socket in the registry")
	}
}

func (m *Meeting) cleanupSocket(socket registry.SocketID) {
	if socket == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), registryTimeout)
	defer cancel()
	if _, _, err := m.store.CleanupSocket(ctx, socket); err != nil && !errors.Is(err, registry.ErrNotFound) {
		m.logger.WithError(err).Warn("failed to clean up socket in the registry")
	}
}
