package signaling_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/confab-dev/confab/pkg/mediaworker"
	"github.com/confab-dev/confab/pkg/meeting"
	"github.com/confab-dev/confab/pkg/registry"
	"github.com/confab-dev/confab/pkg/routing"
	"github.com/confab-dev/confab/pkg/signaling"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, config signaling.Config) *httptest.Server {
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

	gateway := signaling.NewGateway(config, dispatcher, logrus.WithField("test", t.Name()))
	httpServer := httptest.NewServer(gateway.Handler())
	t.Cleanup(httpServer.Close)
	return httpServer
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, id, frameType string, payload any) {
	t.Helper()

	frame := signaling.Frame{Type: frameType, ID: id}
	if payload != nil {
		data, err := json.Marshal(payload)
		require.NoError(t, err)
		frame.Data = data
	}
	require.NoError(t, conn.WriteJSON(frame))
}

// readReply scans past pushes until the reply for the given id shows up.
func readReply(t *testing.T, conn *websocket.Conn, id string) signaling.Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame signaling.Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.ID == id {
			return frame
		}
	}
}

// readPush scans past other traffic until a push of the given type shows up.
func readPush(t *testing.T, conn *websocket.Conn, frameType string) signaling.Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame signaling.Frame
		require.NoError(t, conn.ReadJSON(&frame))
		if frame.Type == frameType {
			return frame
		}
	}
}

func request(t *testing.T, conn *websocket.Conn, id, frameType string, payload any) signaling.Frame {
	t.Helper()
	send(t, conn, id, frameType, payload)
	reply := readReply(t, conn, id)
	require.Equal(t, signaling.TypeResponse, reply.Type, "request %s failed: %s", frameType, reply.Data)
	return reply
}

func TestAuthSecret(t *testing.T) {
	config := signaling.DefaultConfig()
	config.AuthSecret = "s3cret"
	server := newTestServer(t, config)

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?peer_id=@alice"
	_, response, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, response)
	assert.Equal(t, 401, response.StatusCode)

	dial(t, server, "peer_id=@alice&access_token=s3cret")
}

func TestPeerIDRequired(t *testing.T) {
	server := newTestServer(t, signaling.DefaultConfig())

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	_, response, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, response)
	assert.Equal(t, 401, response.StatusCode)
}

func TestCreateJoinAndRelay(t *testing.T) {
	server := newTestServer(t, signaling.DefaultConfig())

	alice := dial(t, server, "peer_id=@alice")
	bob := dial(t, server, "peer_id=@bob")

	reply := request(t, alice, "1", signaling.TypeCreateMeeting, signaling.CreateMeetingRequest{MeetingID: "meet-1"})
	var created signaling.CreateMeetingResponse
	require.NoError(t, json.Unmarshal(reply.Data, &created))
	assert.Equal(t, registry.MeetingID("meet-1"), created.MeetingID)

	reply = request(t, alice, "2", signaling.TypeJoin, signaling.JoinRequest{MeetingID: "meet-1", DisplayName: "Alice"})
	var joined meeting.JoinResult
	require.NoError(t, json.Unmarshal(reply.Data, &joined))
	assert.Equal(t, "mesh", string(joined.Mode))

	request(t, bob, "1", signaling.TypeJoin, signaling.JoinRequest{MeetingID: "meet-1", DisplayName: "Bob"})

	// Alice is told about the new peer. Her own join push comes first.
	var peerJoined signaling.PeerJoinedPush
	for peerJoined.PeerID != "@bob" {
		push := readPush(t, alice, signaling.TypePeerJoined)
		require.NoError(t, json.Unmarshal(push.Data, &peerJoined))
	}

	// Mesh offer from alice lands at bob only, as a top-level offer frame.
	send(t, alice, "3", signaling.TypeOffer, map[string]any{
		"fromPeerId": "@alice",
		"toPeerId":   "@bob",
		"payload":    map[string]string{"sdp": "v=0"},
	})
	readReply(t, alice, "3")

	push := readPush(t, bob, signaling.TypeOffer)
	assert.Contains(t, string(push.Data), `"fromPeerId":"@alice"`)
}

func TestSpoofedSignalRejected(t *testing.T) {
	server := newTestServer(t, signaling.DefaultConfig())

	alice := dial(t, server, "peer_id=@alice")
	bob := dial(t, server, "peer_id=@bob")

	request(t, alice, "1", signaling.TypeCreateMeeting, signaling.CreateMeetingRequest{MeetingID: "meet-1"})
	request(t, alice, "2", signaling.TypeJoin, signaling.JoinRequest{MeetingID: "meet-1", DisplayName: "Alice"})
	request(t, bob, "1", signaling.TypeJoin, signaling.JoinRequest{MeetingID: "meet-1", DisplayName: "Bob"})

	send(t, bob, "2", signaling.TypeOffer, map[string]any{
		"fromPeerId": "@alice",
		"toPeerId":   "@bob",
	})
	reply := readReply(t, bob, "2")
	require.Equal(t, signaling.TypeError, reply.Type)

	var wireError meeting.Error
	require.NoError(t, json.Unmarshal(reply.Data, &wireError))
	assert.Equal(t, meeting.CodeAuthorization, wireError.Code)
}

func TestRequestsNeedAMeeting(t *testing.T) {
	server := newTestServer(t, signaling.DefaultConfig())
	alice := dial(t, server, "peer_id=@alice")

	send(t, alice, "1", signaling.TypeStats, nil)
	reply := readReply(t, alice, "1")
	assert.Equal(t, signaling.TypeError, reply.Type)
}

func TestUnknownTypeRejected(t *testing.T) {
	server := newTestServer(t, signaling.DefaultConfig())
	alice := dial(t, server, "peer_id=@alice")

	send(t, alice, "1", "bogus", nil)
	reply := readReply(t, alice, "1")
	require.Equal(t, signaling.TypeError, reply.Type)

	var wireError meeting.Error
	require.NoError(t, json.Unmarshal(reply.Data, &wireError))
	assert.Equal(t, meeting.CodeValidation, wireError.Code)
}

func TestEndRequiresHost(t *testing.T) {
	server := newTestServer(t, signaling.DefaultConfig())

	alice := dial(t, server, "peer_id=@alice")
	bob := dial(t, server, "peer_id=@bob")

	request(t, alice, "1", signaling.TypeCreateMeeting, signaling.CreateMeetingRequest{MeetingID: "meet-1"})
	request(t, alice, "2", signaling.TypeJoin, signaling.JoinRequest{MeetingID: "meet-1", DisplayName: "Alice"})
	request(t, bob, "1", signaling.TypeJoin, signaling.JoinRequest{MeetingID: "meet-1", DisplayName: "Bob"})

	send(t, bob, "2", signaling.TypeEnd, signaling.EndRequest{Reason: "hostile takeover"})
	reply := readReply(t, bob, "2")
	require.Equal(t, signaling.TypeError, reply.Type)

	request(t, alice, "3", signaling.TypeEnd, signaling.EndRequest{})
	push := readPush(t, bob, signaling.TypeMeetingEnded)
	assert.Contains(t, string(push.Data), "ended by host")
}
