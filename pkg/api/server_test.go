package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/confab-dev/confab/pkg/api"
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/routing"
	"github.com/confab-dev/confab/pkg/signaling"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(t *testing.T) http.Handler {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	store := registry.NewRedisStore(client, logrus.WithField("test", t.Name()))

	pool := mediaworker.NewPool(mediaworker.Config{WorkerCount: 1})
	t.Cleanup(pool.Close)

	dispatcher := routing.NewDispatcher(meeting.DefaultConfig(), pool, store, logrus.WithField("test", t.Name()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		dispatcher.Close(ctx)
	})

	gateway := signaling.NewGateway(signaling.DefaultConfig(), dispatcher, logrus.WithField("test", t.Name()))
	config := api.Config{PublicURL: "https://confab.test"}
	return api.NewHandler(config, dispatcher, gateway, logrus.WithField("test", t.Name()))
}

func do(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var request *http.Request
	if body == "" {
		request = httptest.NewRequest(method, path, nil)
	} else {
		request = httptest.NewRequest(method, path, strings.NewReader(body))
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func TestHealth(t *testing.T) {
	handler := newHandler(t)

	response := do(t, handler, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, response.Code)

	var health struct {
		Status string `json:"status"`
		Uptime string `json:"uptime"`
		Stats  struct {
			LiveMeetings int `json:"liveMeetings"`
			MediaWorkers int `json:"mediaWorkers"`
		} `json:"stats"`
	}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &health))
	assert.Equal(t, "ok", health.Status)
	assert.NotEmpty(t, health.Uptime)
	assert.Equal(t, 0, health.Stats.LiveMeetings)
	assert.Equal(t, 1, health.Stats.MediaWorkers)
}

func TestRoomLifecycle(t *testing.T) {
	handler := newHandler(t)

	body := `{"id":"meet-1","hostPeerId":"@alice","maxParticipants":4,"encryption":true}`
	response := do(t, handler, http.MethodPost, "/api/v1/rooms", body)
	require.Equal(t, http.StatusCreated, response.Code)

	var created struct {
		meeting.Info
		JoinLink string `json:"joinLink"`
	}
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &created))
	assert.Equal(t, registry.MeetingID("meet-1"), created.ID)
	assert.Equal(t, 4, created.MaxParticipants)
	assert.True(t, created.Encryption)
	assert.Equal(t, "https://confab.test/rooms/meet-1", created.JoinLink)

	response = do(t, handler, http.MethodGet, "/api/v1/rooms/meet-1", "")
	assert.Equal(t, http.StatusOK, response.Code)

	response = do(t, handler, http.MethodGet, "/api/v1/rooms", "")
	require.Equal(t, http.StatusOK, response.Code)
	assert.Contains(t, response.Body.String(), "meet-1")

	response = do(t, handler, http.MethodDelete, "/api/v1/rooms/meet-1", "")
	assert.Equal(t, http.StatusNoContent, response.Code)

	assert.Eventually(t, func() bool {
		return do(t, handler, http.MethodGet, "/api/v1/rooms/meet-1", "").Code == http.StatusNotFound
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateRoomValidation(t *testing.T) {
	handler := newHandler(t)

	response := do(t, handler, http.MethodPost, "/api/v1/rooms", `{"id":"meet-1"}`)
	assert.Equal(t, http.StatusBadRequest, response.Code)

	response = do(t, handler, http.MethodPost, "/api/v1/rooms", `not json`)
	assert.Equal(t, http.StatusBadRequest, response.Code)
}

func TestDuplicateRoomConflicts(t *testing.T) {
	handler := newHandler(t)

	response := do(t, handler, http.MethodPost, "/api/v1/rooms", `{"id":"meet-1","hostPeerId":"@alice"}`)
	require.Equal(t, http.StatusCreated, response.Code)

	response = do(t, handler, http.MethodPost, "/api/v1/rooms", `{"id":"meet-1","hostPeerId":"@bob"}`)
	assert.Equal(t, http.StatusConflict, response.Code)

	var wireError meeting.Error
	require.NoError(t, json.Unmarshal(response.Body.Bytes(), &wireError))
	assert.Equal(t, meeting.CodeConflict, wireError.Code)
}

func TestUnknownRoomIs404(t *testing.T) {
	handler := newHandler(t)

	response := do(t, handler, http.MethodGet, "/api/v1/rooms/nope", "")
	assert.Equal(t, http.StatusNotFound, response.Code)

	response = do(t, handler, http.MethodDelete, "/api/v1/rooms/nope", "")
	assert.Equal(t, http.StatusNotFound, response.Code)
}
