package statusfeed

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/larriantoniy/device_gateway/internal/domain"
	"github.com/larriantoniy/device_gateway/internal/ports"
	"github.com/larriantoniy/device_gateway/internal/storage"
)

func newTestHub(t *testing.T) (*Hub, *websocket.Conn) {
	t.Helper()
	hub := NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	return hub, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestHub_HooksBroadcast(t *testing.T) {
	hub, conn := newTestHub(t)

	var alerted domain.Reason
	hooks := hub.Hooks(storage.Hooks{
		OnAlert: func(_ context.Context, _ string, v domain.Verdict, _ error) { alerted = v.Reason },
	})
	ctx := context.Background()

	require.NoError(t, hooks.OnStateChange(ctx, "dev-1", ports.ConnectionUpdate{Status: ports.StatusOpen}))
	require.NoError(t, hooks.OnConnected(ctx, "dev-1", domain.Profile{ID: "628123@s.whatsapp.net", Name: "Sales"}))
	hooks.OnAlert(ctx, "dev-1", domain.Verdict{Reason: domain.ReasonLoggedOut}, errors.New("logged out"))

	ev := readEvent(t, conn)
	assert.Equal(t, "dev-1", ev.DeviceID)
	assert.Equal(t, TypeConnectionUpdate, ev.Type)
	require.NotNil(t, ev.Update)

	ev = readEvent(t, conn)
	assert.Equal(t, TypeConnected, ev.Type)
	require.NotNil(t, ev.Profile)
	assert.Equal(t, "Sales", ev.Profile.Name)

	ev = readEvent(t, conn)
	assert.Equal(t, TypeAlert, ev.Type)
	assert.Equal(t, "logged_out", ev.Reason)
	assert.Equal(t, "logged out", ev.Error)
	assert.False(t, ev.At.IsZero())

	assert.Equal(t, domain.ReasonLoggedOut, alerted)
}

func TestHub_UpdateWireFormat(t *testing.T) {
	hub, conn := newTestHub(t)

	hub.Broadcast(Event{DeviceID: "dev-1", Type: TypeConnectionUpdate, Update: &ports.ConnectionUpdate{
		Status:         ports.StatusClosed,
		LastDisconnect: &ports.DisconnectError{StatusCode: 428, Message: "Connection Closed"},
	}})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	update := raw["update"].(map[string]any)
	assert.Equal(t, "close", update["connection"])
	assert.EqualValues(t, 428, update["lastDisconnect"].(map[string]any)["statusCode"])
}

func TestHub_ClientGone(t *testing.T) {
	hub, conn := newTestHub(t)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
	hub.Broadcast(Event{DeviceID: "dev-1", Type: TypeAlert})
}

func TestHub_Close(t *testing.T) {
	hub, conn := newTestHub(t)
	hub.Close()
	assert.Zero(t, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}
