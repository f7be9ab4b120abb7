package httpapi

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalsfoundry/orbit-tracker/internal/query"
	"github.com/signalsfoundry/orbit-tracker/kb"
	"github.com/signalsfoundry/orbit-tracker/model"
	"github.com/signalsfoundry/orbit-tracker/timectrl"
	"github.com/signalsfoundry/orbit-tracker/tle"
)

func dialStream(t *testing.T, hub *Hub, handler *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(handler.URL, "http") + "/api/orbit/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 5*time.Millisecond)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) StreamMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestStreamForwardsStoreEvents(t *testing.T) {
	hub := NewHub(nil)
	f := newFixture(t, WithHub(hub))
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	unsubscribe := f.store.Subscribe(hub.PublishEvent)
	defer unsubscribe()

	conn := dialStream(t, hub, srv)

	require.NoError(t, f.store.DeleteAll(context.Background()))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageWiped, msg.Type)
	assert.False(t, msg.Time.IsZero())

	set, err := tle.ParseLines("ISS", iss1, iss2)
	require.NoError(t, err)
	_, err = f.store.InsertMany(context.Background(), []model.TrackedObject{model.NewTrackedObject(set)})
	require.NoError(t, err)
	msg = readMessage(t, conn)
	assert.Equal(t, MessageIngested, msg.Type)
	assert.Equal(t, 1, msg.Count)
}

func TestStreamPublishesPositions(t *testing.T) {
	hub := NewHub(nil)
	f := newFixture(t, WithHub(hub))
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	svc := query.NewService(f.store, query.WithClock(timectrl.NewManualClock(f.epoch.Add(time.Minute))))

	// Nobody listening yet: nothing is computed or sent.
	require.NoError(t, hub.PublishPositions(context.Background(), svc))

	conn := dialStream(t, hub, srv)
	require.NoError(t, hub.PublishPositions(context.Background(), svc))

	msg := readMessage(t, conn)
	assert.Equal(t, MessagePositions, msg.Type)
	require.Len(t, msg.Positions, 1)
	assert.Equal(t, "ISS", msg.Positions[0].Name)
	require.Len(t, msg.Failures, 1)
	assert.Equal(t, "VANGUARD 1", msg.Failures[0].Name)
}

func TestHubDropsClientOnClose(t *testing.T) {
	hub := NewHub(nil)
	f := newFixture(t, WithHub(hub))
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn := dialStream(t, hub, srv)
	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Len() == 0 }, 2*time.Second, 5*time.Millisecond)

	// Broadcasting to nobody is fine.
	assert.NoError(t, hub.Broadcast(StreamMessage{Type: MessagePositions}))
	hub.PublishEvent(kb.Event{Type: kb.EventWiped})
}

func TestHubClose(t *testing.T) {
	hub := NewHub(nil)
	f := newFixture(t, WithHub(hub))
	srv := httptest.NewServer(f.handler)
	defer srv.Close()

	conn := dialStream(t, hub, srv)
	hub.Close()
	assert.Equal(t, 0, hub.Len())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived), "%v", err)
}
