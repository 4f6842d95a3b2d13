package topology

import (
	"errors"
	"time"

	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
)

// Mode is the media topology a meeting currently runs on.
type Mode string

const (
	// ModeMesh routes media peer-to-peer; the server only relays signaling.
	ModeMesh Mode = "mesh"
	// ModeSFU routes media through a server-side router.
	ModeSFU Mode = "sfu"
	// ModeTransitioning is reported while a migration is in flight.
	ModeTransitioning Mode = "transitioning"
)

// Reason explains why a transition was started or abandoned.
type Reason string

const (
	ReasonCapacity      Reason = "capacity"
	ReasonPoorQuality   Reason = "poor-quality"
	ReasonOccupancyDrop Reason = "occupancy-drop"
	ReasonRouterFailure Reason = "router-unavailable"
)

// poorWindowStreak is how many consecutive poor quality windows trigger an
// upward migration.
const poorWindowStreak = 2

var ErrTransitionInFlight = errors.New("a topology transition is already in flight")

// Config carries the thresholds of the mode selection policy.
type Config struct {
	// SFUThreshold is the participant count at which mesh migrates to SFU.
	SFUThreshold int `yaml:"sfuThreshold"`
	// P2PThreshold is the maximum occupancy for mesh mode.
	P2PThreshold int `yaml:"p2pThreshold"`
	// TransitionTimeout bounds the wait for client acknowledgements.
	TransitionTimeout time.Duration `yaml:"transitionTimeout"`
	// MinTimeBetweenTransitions suppresses oscillation around the thresholds.
	MinTimeBetweenTransitions time.Duration `yaml:"minTimeBetweenTransitions"`
	// PoorPacketLossPct and PoorRoundTripMs define a poor quality window.
	// Both must be exceeded for the window to count.
	PoorPacketLossPct float64 `yaml:"poorPacketLossPct"`
	PoorRoundTripMs   float64 `yaml:"poorRoundTripMs"`
}

func DefaultConfig() Config {
	return Config{
		SFUThreshold:              4,
		P2PThreshold:              3,
		TransitionTimeout:         2 * time.Second,
		MinTimeBetweenTransitions: 10 * time.Second,
		PoorPacketLossPct:         5,
		PoorRoundTripMs:           200,
	}
}

// Decision is the outcome of a policy evaluation: the mode the meeting
// should migrate to and why.
type Decision struct {
	Target Mode
	Reason Reason
}

// Transition is one entry of a meeting's migration history.
type Transition struct {
	From      Mode      `json:"from"`
	To        Mode      `json:"to"`
	Reason    Reason    `json:"reason"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt"`
	Committed bool      `json:"committed"`
}

type pendingTransition struct {
	transition Transition
	awaiting   map[participant.ID]bool
}

// Engine decides when a meeting changes topology and tracks the progress of
// the migration the meeting actor executes. It is owned by the actor and
// needs no locking.
type Engine struct {
	config Config
	logger *logrus.Entry

	mode    Mode
	pending *pendingTransition

	lastTransition time.Time
	poorWindows    int
	stableSince    time.Time

	history []Transition

	now func() time.Time
}

// NewEngine creates an engine for a meeting that starts in mesh mode.
func NewEngine(config Config, logger *logrus.Entry) *Engine {
	return &Engine{
		config: config,
		logger: logger,
		mode:   ModeMesh,
		now:    time.Now,
	}
}

// Mode returns the externally visible mode, ModeTransitioning while a
// migration is in flight.
func (e *Engine) Mode() Mode {
	if e.pending != nil {
		return ModeTransitioning
	}
	return e.mode
}

// CommittedMode returns the last committed mode, ignoring any in-flight
// migration. Media keeps flowing through this topology until commit.
func (e *Engine) CommittedMode() Mode {
	return e.mode
}

func (e *Engine) InTransition() bool {
	return e.pending != nil
}

// TargetMode returns the mode of the in-flight migration, or the committed
// mode when none is pending.
func (e *Engine) TargetMode() Mode {
	if e.pending != nil {
		return e.pending.transition.To
	}
	return e.mode
}

// History returns the completed transitions, oldest first.
func (e *Engine) History() []Transition {
	return e.history
}

// ObserveQuality records one aggregated quality window for the whole meeting.
func (e *Engine) ObserveQuality(packetLossPct, roundTripMs float64) {
	if packetLossPct > e.config.PoorPacketLossPct && roundTripMs > e.config.PoorRoundTripMs {
		e.poorWindows++
		e.logger.Debugf("poor quality window %d (loss %.1f%%, rtt %.0fms)", e.poorWindows, packetLossPct, roundTripMs)
	} else {
		e.poorWindows = 0
	}
}

// qualityPoor reports whether the latest windows look bad enough to avoid a
// downgrade or to force an upgrade.
func (e *Engine) qualityPoor() bool {
	return e.poorWindows >= poorWindowStreak
}

// Evaluate applies the mode selection policy. It returns a decision when the
// meeting should migrate and nil when it should stay put. Call it on every
// membership change and on every quality tick.
func (e *Engine) Evaluate(participantCount int) *Decision {
	if e.pending != nil {
		return nil
	}

	now := e.now()

	switch e.mode {
	case ModeMesh:
		if participantCount >= e.config.SFUThreshold {
			return &Decision{Target: ModeSFU, Reason: ReasonCapacity}
		}
		if e.qualityPoor() && participantCount >= 2 {
			return &Decision{Target: ModeSFU, Reason: ReasonPoorQuality}
		}

	case ModeSFU:
		if participantCount > e.config.P2PThreshold || e.qualityPoor() {
			// Not a downgrade candidate; restart the stability clock.
			e.stableSince = time.Time{}
			return nil
		}
		if e.stableSince.IsZero() {
			e.stableSince = now
			return nil
		}
		if now.Sub(e.stableSince) < e.config.MinTimeBetweenTransitions {
			return nil
		}
		if now.Sub(e.lastTransition) < e.config.MinTimeBetweenTransitions {
			return nil
		}
		return &Decision{Target: ModeMesh, Reason: ReasonOccupancyDrop}
	}

	return nil
}

// ShouldPrewarm reports whether a mesh meeting is one participant away from
// the SFU threshold, the point at which a router is created eagerly.
func (e *Engine) ShouldPrewarm(participantCount int) bool {
	return e.mode == ModeMesh && e.pending == nil && participantCount >= e.config.P2PThreshold
}

// Begin starts a migration toward target and registers the participants
// whose acknowledgements are awaited. The single-flight gate makes a second
// Begin fail until the first commits or rolls back.
func (e *Engine) Begin(target Mode, reason Reason, waitFor []participant.ID) error {
	if e.pending != nil {
		return ErrTransitionInFlight
	}

	awaiting := make(map[participant.ID]bool, len(waitFor))
	for _, id := range waitFor {
		awaiting[id] = true
	}

	e.pending = &pendingTransition{
		transition: Transition{
			From:      e.mode,
			To:        target,
			Reason:    reason,
			StartedAt: e.now(),
		},
		awaiting: awaiting,
	}
	e.stableSince = time.Time{}

	e.logger.Infof("transition started: %s -> %s (%s)", e.mode, target, reason)
	return nil
}

// Acknowledge marks one participant's transition ack and reports whether all
// awaited acks have now arrived. Unknown or repeated acks are ignored.
func (e *Engine) Acknowledge(id participant.ID) (allAcked bool) {
	if e.pending == nil {
		return false
	}
	delete(e.pending.awaiting, id)
	return len(e.pending.awaiting) == 0
}

// Unacked returns the participants that have not acknowledged yet. At the
// transition timeout these are treated as disconnected.
func (e *Engine) Unacked() []participant.ID {
	if e.pending == nil {
		return nil
	}
	return maps.Keys(e.pending.awaiting)
}

// Commit finalizes the in-flight migration: the target mode becomes the
// committed mode and the transition is appended to history.
func (e *Engine) Commit() (Transition, bool) {
	if e.pending == nil {
		return Transition{}, false
	}

	done := e.pending.transition
	done.EndedAt = e.now()
	done.Committed = true

	e.mode = done.To
	e.pending = nil
	e.lastTransition = done.EndedAt
	e.poorWindows = 0
	e.stableSince = time.Time{}
	e.history = append(e.history, done)

	e.logger.Infof("transition completed: mode is now %s", e.mode)
	return done, true
}

// Rollback abandons the in-flight migration; the committed mode is
// unchanged. The failed attempt is recorded in history.
func (e *Engine) Rollback(reason Reason) (Transition, bool) {
	if e.pending == nil {
		return Transition{}, false
	}

	failed := e.pending.transition
	failed.EndedAt = e.now()
	failed.Reason = reason

	e.pending = nil
	e.lastTransition = failed.EndedAt
	e.history = append(e.history, failed)

	e.logger.Warnf("transition failed, staying on %s (%s)", e.mode, reason)
	return failed, true
}
