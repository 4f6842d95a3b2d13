// Package routing owns the live meetings of this node: it creates them,
// looks them up for the gateways, fans worker deaths out to them and merges
// their event streams for delivery.
package routing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/meeting/participant"
	"github.com/confab-dev/confab/pkg/metrics"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/telemetry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const mergedEventBuffer = 1024

type Dispatcher struct {
	config meeting.Config
	pool   *mediaworker.Pool
	store  registry.Store
	logger *logrus.Entry

	events chan meeting.Event

	mutex    sync.Mutex
	meetings map[registry.MeetingID]*meeting.Meeting
	spans    map[registry.MeetingID]*telemetry.MeetingSpan
	closed   bool
}

func NewDispatcher(
	config meeting.Config,
	pool *mediaworker.Pool,
	store registry.Store,
	logger *logrus.Entry,
) *Dispatcher {
	d := &Dispatcher{
		config:   config,
		pool:     pool,
		store:    store,
		logger:   logger.WithField("component", "dispatcher"),
		events:   make(chan meeting.Event, mergedEventBuffer),
		meetings: make(map[registry.MeetingID]*meeting.Meeting),
		spans:    make(map[registry.MeetingID]*telemetry.MeetingSpan),
	}
	pool.OnWorkerDeath(d.onWorkerDeath)
	return d
}

// Events is the merged event stream of every meeting on this node.
func (d *Dispatcher) Events() <-chan meeting.Event { return d.events }

// CreateMeeting starts a new meeting actor. An empty id gets a generated
// one; options override the node-level meeting defaults.
func (d *Dispatcher) CreateMeeting(ctx context.Context, id registry.MeetingID, host participant.ID, options meeting.Options) (*meeting.Meeting, error) {
	if id == "" {
		id = registry.MeetingID(uuid.NewString())
	}

	d.mutex.Lock()
	if d.closed {
		d.mutex.Unlock()
		return nil, meeting.NewError(meeting.CodeTransient, "node is shutting down")
	}
	if _, exists := d.meetings[id]; exists {
		d.mutex.Unlock()
		return nil, meeting.Errorf(meeting.CodeConflict, "meeting %s already exists", id)
	}
	d.mutex.Unlock()

	// The registry catches collisions with meetings hosted elsewhere.
	if _, err := d.store.Snapshot(ctx, id); err == nil {
		return nil, meeting.Errorf(meeting.CodeConflict, "meeting %s already exists", id)
	} else if !errors.Is(err, registry.ErrNotFound) {
		d.logger.WithError(err).Warn("registry lookup failed, creating the meeting anyway")
	}

	m := meeting.New(id, host, options.Apply(d.config), d.pool, d.store, d.logger.Logger.WithField("component", "meeting"))

	d.mutex.Lock()
	if _, exists := d.meetings[id]; exists {
		d.mutex.Unlock()
		_ = m.End(ctx, "duplicate")
		return nil, meeting.Errorf(meeting.CodeConflict, "meeting %s already exists", id)
	}
	d.meetings[id] = m
	d.spans[id] = telemetry.StartMeetingSpan(ctx, string(id), string(host))
	d.mutex.Unlock()

	metrics.LiveMeetings.Inc()
	go d.forward(m)

	d.logger.Infof("created meeting %s hosted by %s", id, host)
	return m, nil
}

// Meeting looks up a live meeting on this node.
func (d *Dispatcher) Meeting(id registry.MeetingID) (*meeting.Meeting, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	m, ok := d.meetings[id]
	if !ok {
		return nil, meeting.Errorf(meeting.CodeNotFound, "meeting %s does not exist", id)
	}
	return m, nil
}

// EndMeeting ends a meeting; its forwarder reaps it once the loop exits.
func (d *Dispatcher) EndMeeting(ctx context.Context, id registry.MeetingID, reason string) error {
	m, err := d.Meeting(id)
	if err != nil {
		return err
	}
	return m.End(ctx, reason)
}

// ListMeetings returns the meeting ids known to the shared registry, which
// may include meetings hosted by other nodes.
func (d *Dispatcher) ListMeetings(ctx context.Context) ([]registry.MeetingID, error) {
	return d.store.ListMeetings(ctx)
}

// LiveMeetingCount is the number of meetings hosted by this node.
func (d *Dispatcher) LiveMeetingCount() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return len(d.meetings)
}

// WorkerCount is the number of live media workers backing this node.
func (d *Dispatcher) WorkerCount() int {
	return len(d.pool.Workers())
}

// forward pumps one meeting's events into the merged stream and reaps the
// meeting when it ends.
func (d *Dispatcher) forward(m *meeting.Meeting) {
	for {
		select {
		case event := <-m.Events():
			d.deliver(event)
		case <-m.Done():
			// Drain what the actor emitted before exiting.
			for {
				select {
				case event := <-m.Events():
					d.deliver(event)
				default:
					d.remove(m.ID())
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event meeting.Event) {
	switch typed := event.(type) {
	case meeting.PeerJoined:
		metrics.LiveParticipants.Inc()
	case meeting.PeerLeft:
		metrics.LiveParticipants.Dec()
	case meeting.TransitionStarted:
		metrics.Transitions.WithLabelValues(string(typed.To), string(typed.Reason)).Inc()
		if span := d.meetingSpan(event.EventMeeting()); span != nil {
			span.Transition(string(typed.To), string(typed.Reason))
		}
	case meeting.TransitionFailed:
		if span := d.meetingSpan(event.EventMeeting()); span != nil {
			span.TransitionFailed(string(typed.Reason))
			span.Fail(fmt.Errorf("topology transition failed: %s", typed.Reason))
		}
	}

	if meeting.Droppable(event) {
		select {
		case d.events <- event:
		default:
			metrics.DroppedEvents.Inc()
		}
		return
	}
	d.events <- event
}

func (d *Dispatcher) meetingSpan(id registry.MeetingID) *telemetry.MeetingSpan {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.spans[id]
}

func (d *Dispatcher) remove(id registry.MeetingID) {
	d.mutex.Lock()
	span := d.spans[id]
	delete(d.spans, id)
	if _, ok := d.meetings[id]; ok {
		delete(d.meetings, id)
		metrics.LiveMeetings.Dec()
	}
	d.mutex.Unlock()

	if span != nil {
		span.End()
	}
	d.logger.Infof("meeting %s reaped", id)
}

func (d *Dispatcher) onWorkerDeath(dead, replacement *mediaworker.Worker) {
	metrics.WorkerRespawns.Inc()

	d.mutex.Lock()
	live := make([]*meeting.Meeting, 0, len(d.meetings))
	for _, m := range d.meetings {
		live = append(live, m)
	}
	d.mutex.Unlock()

	for _, m := range live {
		m.NotifyWorkerDeath(dead, replacement)
	}
}

// Close ends every meeting and waits for their loops to exit.
func (d *Dispatcher) Close(ctx context.Context) {
	d.mutex.Lock()
	d.closed = true
	live := make([]*meeting.Meeting, 0, len(d.meetings))
	for _, m := range d.meetings {
		live = append(live, m)
	}
	d.mutex.Unlock()

	for _, m := range live {
		_ = m.End(ctx, "server shutting down")
	}
	for _, m := range live {
		select {
		case <-m.Done():
		case <-ctx.Done():
			return
		}
	}
}
