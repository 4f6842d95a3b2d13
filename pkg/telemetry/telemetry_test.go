package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/confab-dev/confab/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestMeetingSpanLifecycle(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	span := telemetry.StartMeetingSpan(context.Background(), "meet-1", "@alice")
	span.Transition("sfu", "capacity")
	span.TransitionFailed("router-unavailable")
	span.Fail(errors.New("topology transition failed: router-unavailable"))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	recorded := ended[0]
	assert.Equal(t, "meeting", recorded.Name())
	assert.Len(t, recorded.Events(), 3, "two transition events plus the recorded error")
	assert.Equal(t, codes.Error, recorded.Status().Code)
	assert.Equal(t, "topology transition failed: router-unavailable", recorded.Status().Description)
}
