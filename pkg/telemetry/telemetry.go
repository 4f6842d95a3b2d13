// Package telemetry wires distributed tracing. Every meeting gets a span
// covering its whole lifetime; topology switches show up as span events.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const PACKAGE = "confab"

var tracer = otel.Tracer(PACKAGE)

// MeetingSpan traces one meeting from creation to teardown.
type MeetingSpan struct {
	span    trace.Span
	context context.Context //nolint:containedctx
}

func StartMeetingSpan(ctx context.Context, meetingID, hostPeerID string) *MeetingSpan {
	ctx, span := tracer.Start(ctx, "meeting", trace.WithAttributes(
		attribute.String("meeting_id", meetingID),
		attribute.String("host_peer_id", hostPeerID),
	))

	return &MeetingSpan{
		span:    span,
		context: ctx,
	}
}

func (s *MeetingSpan) Transition(to, reason string) {
	s.span.AddEvent("topology transition", trace.WithAttributes(
		attribute.String("to", to),
		attribute.String("reason", reason),
	))
}

func (s *MeetingSpan) TransitionFailed(reason string) {
	s.span.AddEvent("topology transition failed", trace.WithAttributes(
		attribute.String("reason", reason),
	))
}

func (s *MeetingSpan) Fail(err error) {
	s.span.SetStatus(codes.Error, err.Error())
	s.span.RecordError(err)
}

func (s *MeetingSpan) End() {
	s.span.End()
}
