package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub(zap.NewNop())
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ServeWs(hub, w, r, r.URL.Query().Get("bidder_id"))
	}))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, bidderID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "?bidder_id=" + bidderID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var ev Event
	require.NoError(t, json.Unmarshal(data, &ev))
	return ev
}

func TestBroadcastReachesAllSessions(t *testing.T) {
	hub, srv := newTestServer(t)
	connA := dial(t, srv, "bidder-a")
	connB := dial(t, srv, "bidder-b")

	// Registration goes through the hub's channel; give it a beat.
	time.Sleep(50 * time.Millisecond)

	hub.Broadcast(Event{Type: EventSubmitted, CallID: "OBRA-001", SubmissionID: "abc123"})

	for _, conn := range []*websocket.Conn{connA, connB} {
		ev := readEvent(t, conn)
		require.Equal(t, EventSubmitted, ev.Type)
		require.Equal(t, "OBRA-001", ev.CallID)
		require.Equal(t, "abc123", ev.SubmissionID)
	}
}

func TestSendToBidderTargetsOneSession(t *testing.T) {
	hub, srv := newTestServer(t)
	connA := dial(t, srv, "bidder-a")
	connB := dial(t, srv, "bidder-b")

	time.Sleep(50 * time.Millisecond)

	hub.SendToBidder("bidder-a", Event{
		Type:     EventAccepted,
		CallID:   "OBRA-001",
		BidderID: "bidder-a",
		Decision: "accepted",
	})

	ev := readEvent(t, connA)
	require.Equal(t, EventAccepted, ev.Type)
	require.Equal(t, "accepted", ev.Decision)

	// The other bidder's session stays quiet.
	require.NoError(t, connB.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, _, err := connB.ReadMessage()
	require.Error(t, err)
}

func TestBroadcastDoesNotBlockWhenSaturated(t *testing.T) {
	hub := NewHub(zap.NewNop())
	// No Run loop draining the queue; the caller must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Broadcast(Event{Type: EventNewCall, CallID: "OBRA-001"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Broadcast blocked on a saturated queue")
	}
}
