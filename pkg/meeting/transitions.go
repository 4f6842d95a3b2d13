package meeting

import (
	"time"

	"github.com/confab-dev/confab/pkg/common"
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/meeting/topology"
	"github.com/confab-dev/confab/pkg/sfu"
)

// activeRouter is the SFU router new media operations should target. During
// a mesh->sfu migration that is the pending router, so participants publish
// into the topology they are about to commit to.
func (m *Meeting) activeRouter() *sfu.Router {
	if m.pendingRouter != nil {
		return m.pendingRouter
	}
	return m.router
}

func (m *Meeting) evaluateTopology() {
	if decision := m.engine.Evaluate(m.tracker.Count()); decision != nil {
		m.startTransition(decision.Target, decision.Reason)
	}
	if m.engine.ShouldPrewarm(m.tracker.Count()) {
		m.prewarm()
	}
}

func (m *Meeting) startTransition(target topology.Mode, reason topology.Reason) {
	var waitFor []participant.ID
	m.tracker.ForEach(func(id participant.ID, p *participant.Participant) {
		if !p.Suspended {
			waitFor = append(waitFor, id)
		}
	})

	if err := m.engine.Begin(target, reason, waitFor); err != nil {
		return
	}
	from := m.engine.CommittedMode()
	m.logger.Infof("topology transition %s -> %s (%s)", from, target, reason)

	// Announced before any router allocation: when the allocation fails the
	// participants see the started/failed pair, not a failure out of nowhere.
	m.emit(TransitionStarted{eventBase: m.base(), From: from, To: target, Reason: reason})

	if target == topology.ModeSFU {
		media := m.takePrewarmed()
		if media == nil {
			var err error
			media, err = m.createRouterWithRetry()
			if err != nil {
				m.logger.WithError(err).Error("cannot allocate a router, transition aborted")
				m.engine.Rollback(topology.ReasonRouterFailure)
				m.emit(TransitionFailed{eventBase: m.base(), Reason: topology.ReasonRouterFailure})
				return
			}
		}
		m.pendingRouter = sfu.NewRouter(media, m.tracker, m.sfuConfig(), m.logger)
	}

	m.tracker.ForEach(func(id participant.ID, p *participant.Participant) {
		if p.Suspended {
			return
		}
		info := TransitionInfo{eventBase: m.base(), To: id, Mode: target}
		if target == topology.ModeSFU {
			capabilities := m.pendingRouter.RTPCapabilities()
			info.RouterCapabilities = &capabilities
		} else {
			info.Peers = m.coordinator.Peers(id)
		}
		m.emit(info)
	})

	if len(waitFor) == 0 {
		m.commitTransition(false)
		return
	}
	m.transitionTimer = time.AfterFunc(m.config.Topology.TransitionTimeout, func() {
		m.postInternal(transitionTimedOut{})
	})
}

// commitTransition finalizes the pending transition. On ack timeout the
// commit happens anyway and the laggards are treated as disconnected.
func (m *Meeting) commitTransition(timedOut bool) {
	if !m.engine.InTransition() {
		return
	}

	laggards := m.engine.Unacked()
	done, ok := m.engine.Commit()
	if !ok {
		return
	}
	if m.transitionTimer != nil {
		m.transitionTimer.Stop()
		m.transitionTimer = nil
	}

	if done.To == topology.ModeSFU {
		m.router = m.pendingRouter
		m.pendingRouter = nil
	} else if m.router != nil {
		m.tracker.ForEach(func(_ participant.ID, p *participant.Participant) {
			m.router.RemoveParticipant(p)
		})
		m.router.Close()
		m.router = nil
	}

	m.logger.Infof("topology transition committed, now in %s mode", done.To)
	m.emit(TransitionCompleted{eventBase: m.base(), Mode: done.To})

	if timedOut {
		for _, id := range laggards {
			m.logger.Warnf("participant %s did not acknowledge the transition", id)
			m.suspendParticipant(id)
		}
	}
	if done.To == topology.ModeMesh {
		m.evaluateTopology()
	}
}

func (m *Meeting) sfuConfig() sfu.Config {
	return sfu.Config{MaxDataPayloadBytes: m.config.MaxDataPayloadBytes}
}

// prewarm allocates a media router ahead of the capacity threshold, so the
// eventual mesh->sfu migration does not wait on the pool.
func (m *Meeting) prewarm() {
	if m.prewarmed != nil || m.router != nil || m.pendingRouter != nil {
		return
	}

	media, err := m.createRouterWithRetry()
	if err != nil {
		m.logger.WithError(err).Warn("cannot prewarm a router")
		return
	}
	m.prewarmed = media
	m.prewarmGuard = common.NewWatchdog(m.config.PrewarmIdleTimeout, func() {
		m.postInternal(prewarmExpired{})
	})
	m.prewarmGuard.Start()
	m.logger.Debug("prewarmed an sfu router")
}

func (m *Meeting) takePrewarmed() *mediaworker.Router {
	if m.prewarmed == nil {
		return nil
	}
	m.prewarmGuard.Close()
	m.prewarmGuard = nil
	media := m.prewarmed
	m.prewarmed = nil
	return media
}

func (m *Meeting) handlePrewarmExpired() {
	if m.prewarmed == nil {
		return
	}
	m.prewarmed.Close()
	m.prewarmed = nil
	m.prewarmGuard = nil
	m.logger.Debug("reclaimed an unused prewarmed router")
}

// createRouterWithRetry retries transient allocation failures with a short
// backoff before giving up.
func (m *Meeting) createRouterWithRetry() (*mediaworker.Router, error) {
	media, err := m.pool.CreateRouter(nil)
	if err == nil || !transient(err) {
		return media, err
	}
	for _, backoff := range []time.Duration{100 * time.Millisecond, 500 * time.Millisecond} {
		time.Sleep(backoff)
		media, err = m.pool.CreateRouter(nil)
		if err == nil || !transient(err) {
			return media, err
		}
	}
	return nil, err
}

// handleWorkerDeath re-allocates the meeting's router on a fresh worker and
// asks the affected participants to re-establish their transports.
func (m *Meeting) handleWorkerDeath(message workerDied) {
	if m.prewarmed != nil && m.prewarmed.Worker() == message.dead {
		m.prewarmed = nil
		if m.prewarmGuard != nil {
			m.prewarmGuard.Close()
			m.prewarmGuard = nil
		}
	}

	current := m.activeRouter()
	if current == nil || current.Media().Worker() != message.dead {
		return
	}
	m.logger.Warn("media worker died, re-allocating the meeting's router")
	current.Close()

	media, err := m.createRouterWithRetry()
	if err != nil {
		m.logger.WithError(err).Error("cannot replace the dead router, media is down")
		if m.pendingRouter == current {
			m.pendingRouter = nil
			m.engine.Rollback(topology.ReasonRouterFailure)
			m.emit(TransitionFailed{eventBase: m.base(), Reason: topology.ReasonRouterFailure})
		} else {
			m.router = nil
		}
		return
	}

	fresh := sfu.NewRouter(media, m.tracker, m.sfuConfig(), m.logger)
	if m.pendingRouter == current {
		m.pendingRouter = fresh
	} else {
		m.router = fresh
	}

	m.tracker.ForEach(func(id participant.ID, p *participant.Participant) {
		hadSend := p.SendTransport != nil
		hadRecv := p.RecvTransport != nil
		p.CloseMedia()

		var transports []mediaworker.TransportInfo
		if hadSend {
			if info, err := fresh.CreateTransport(p, mediaworker.DirectionSend); err == nil {
				transports = append(transports, info)
			}
		}
		if hadRecv {
			if info, err := fresh.CreateTransport(p, mediaworker.DirectionRecv); err == nil {
				transports = append(transports, info)
			}
		}
		if len(transports) > 0 && !p.Suspended {
			m.emit(RestartICENeeded{eventBase: m.base(), Participant: id, Transports: transports})
		}
	})
}
