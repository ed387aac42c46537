package httpapi_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kitchen-voice/internal/domain"
	"kitchen-voice/internal/infra/httpapi"
)

type fakeSource struct {
	wake   []func()
	status []func(string)
	errs   []func(string)
}

func (f *fakeSource) OnWakeWord(fn func()) { f.wake = append(f.wake, fn) }
func (f *fakeSource) OnStatusChanged(fn func(string)) { f.status = append(f.status, fn) }
func (f *fakeSource) OnErrorOccurred(fn func(string)) { f.errs = append(f.errs, fn) }

func dialEvents(t *testing.T, srv *httpapi.Server) (*websocket.Conn, func()) {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Events().ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return conn, func() {
		conn.Close()
		srv.Events().Close()
		ts.Close()
	}
}

func readEvent(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev map[string]any
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestEvents_BroadcastsEngineEvents(t *testing.T) {
	srv := httpapi.NewServer(httpapi.Config{}, httpapi.Deps{Parser: &fakeParser{}}, discardLogger())
	conn, cleanup := dialEvents(t, srv)
	defer cleanup()

	hub := srv.Events()
	src := &fakeSource{}
	hub.Attach(src)

	src.wake[0]()
	ev := readEvent(t, conn)
	assert.Equal(t, httpapi.EventWake, ev["type"])
	assert.NotContains(t, ev, "data")

	hub.StateChanged(domain.StateWakeArmed, domain.StateCommandListening)
	ev = readEvent(t, conn)
	assert.Equal(t, httpapi.EventState, ev["type"])
	assert.Equal(t, map[string]any{"from": "wake_armed", "to": "command_listening"}, ev["data"])

	src.status[0]("Listening...")
	ev = readEvent(t, conn)
	assert.Equal(t, httpapi.EventStatus, ev["type"])
	assert.Equal(t, "Listening...", ev["data"])

	n := 2
	hub.CommandDispatched(domain.VoiceCommand{
		CommandResult: domain.CommandResult{Action: domain.ActionUpdateStatus, OrderNumber: &n, Status: domain.StatusReady, Confidence: 0.9},
		OrderID:       "ord-2",
	})
	ev = readEvent(t, conn)
	assert.Equal(t, httpapi.EventCommand, ev["type"])
	data := ev["data"].(map[string]any)
	assert.Equal(t, "update_status", data["action"])
	assert.Equal(t, "ord-2", data["orderId"])

	src.errs[0]("microphone permission denied")
	ev = readEvent(t, conn)
	assert.Equal(t, httpapi.EventError, ev["type"])
}

func TestEvents_RequiresToken(t *testing.T) {
	srv := httpapi.NewServer(httpapi.Config{AuthToken: "secret"}, httpapi.Deps{Parser: &fakeParser{}}, discardLogger())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()
	defer srv.Events().Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	conn, _, err := websocket.DefaultDialer.Dial(url+"?token=secret", nil)
	require.NoError(t, err)
	conn.Close()
}

func TestEvents_CloseDisconnectsSubscribers(t *testing.T) {
	srv := httpapi.NewServer(httpapi.Config{}, httpapi.Deps{Parser: &fakeParser{}}, discardLogger())
	conn, cleanup := dialEvents(t, srv)
	defer cleanup()

	srv.Events().Close()
	assert.Zero(t, srv.Events().ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	srv.Events().Publish(httpapi.EventStatus, "after close")
}

func TestEvents_ClientDisconnectIsRemoved(t *testing.T) {
	srv := httpapi.NewServer(httpapi.Config{}, httpapi.Deps{Parser: &fakeParser{}}, discardLogger())
	conn, cleanup := dialEvents(t, srv)
	defer cleanup()

	conn.Close()
	require.Eventually(t, func() bool { return srv.Events().ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
