package subscription

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

type serverSeen struct {
	userID   string
	commands []clientCommand
}

// newPushServer accepts one session, waits for a subscribe, pushes messages and closes the
// session once the client unsubscribes.
func newPushServer(t *testing.T, messages []string) (*httptest.Server, chan serverSeen) {
	t.Helper()
	seen := make(chan serverSeen, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/lots" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		result := serverSeen{userID: r.URL.Query().Get("user_id")}
		defer func() { seen <- result }()

		var cmd clientCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			return
		}
		result.commands = append(result.commands, cmd)

		for _, m := range messages {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
				return
			}
		}

		if err := ws.ReadJSON(&cmd); err != nil {
			return
		}
		result.commands = append(result.commands, cmd)

		ws.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	}))
	t.Cleanup(srv.Close)
	return srv, seen
}

func TestWebSocketTransportRoundTrip(t *testing.T) {
	messages := []string{
		`{"eventId":"e1","eventType":"bidAccepted","lotId":"lot-1","timestamp":"2026-03-01T12:00:00Z","sequence":7,"payload":{"new_price":150,"leading_user_id":"u-2"}}`,
		`not json`,
		`{"eventId":"e2","eventType":"auctionEnded","lotId":"lot-1","timestamp":"2026-03-01T12:05:00Z","payload":{"final_price":150}}`,
	}
	srv, seen := newPushServer(t, messages)

	cfg := DefaultWebSocketConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/lots"
	cfg.UserID = "u-1"
	transport := NewWebSocketTransport(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, err := transport.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	if err := conn.Subscribe(ctx, "lot-1"); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	first, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if first.EventID != "e1" || first.Sequence == nil || *first.Sequence != 7 {
		t.Fatalf("first envelope = %+v, want e1 with sequence 7", first)
	}
	var payload map[string]any
	if err := json.Unmarshal(first.Payload, &payload); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}

	second, err := conn.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if second.EventID != "e2" || second.EventType != "auctionEnded" {
		t.Fatalf("second envelope = %+v, want auctionEnded e2", second)
	}

	if err := conn.Unsubscribe(ctx, "lot-1"); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if _, err := conn.Receive(ctx); err == nil {
		t.Fatal("Receive() after server close error = nil, want error")
	}

	got := <-seen
	if got.userID != "u-1" {
		t.Errorf("user_id = %q, want u-1", got.userID)
	}
	want := []clientCommand{
		{Action: "subscribe", LotID: "lot-1"},
		{Action: "unsubscribe", LotID: "lot-1"},
	}
	if len(got.commands) != len(want) {
		t.Fatalf("commands = %+v, want %+v", got.commands, want)
	}
	for i := range want {
		if got.commands[i] != want[i] {
			t.Errorf("command %d = %+v, want %+v", i, got.commands[i], want[i])
		}
	}
}

func TestWebSocketTransportDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	cfg := DefaultWebSocketConfig()
	cfg.URL = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/lots"

	if _, err := NewWebSocketTransport(cfg).Dial(context.Background()); err == nil {
		t.Fatal("Dial() error = nil, want handshake failure")
	}
}
