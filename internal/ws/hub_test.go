package ws_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/talkhouse/talkhouse/internal/broker"
	"github.com/talkhouse/talkhouse/internal/channel"
	"github.com/talkhouse/talkhouse/internal/config"
	"github.com/talkhouse/talkhouse/internal/session"
	wsHub "github.com/talkhouse/talkhouse/internal/ws"
)

// envelope mirrors the wire frame for test-side decoding.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// --- helpers ----------------------------------------------------------------

// startServer wires a store, registry, hub and broker together and exposes
// the hub on a test HTTP server. Returns the ws:// URL and the hub.
func startServer(t *testing.T) (wsURL string, hub *wsHub.Hub) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := channel.NewStore([]string{"general", "random"}, 300, 100)
	sessions := session.NewRegistry("general", 24)

	hub = wsHub.NewHub(log)
	bk := broker.New(store, sessions, hub, config.LimitsConfig{MessageMaxLen: 500, UsernameMaxLen: 24}, log)
	hub.SetHandler(bk)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), hub
}

// dial connects a WebSocket client with the given candidate username.
func dial(t *testing.T, wsURL, username string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?username="+username, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", wsURL, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEnvelope reads one frame from conn with a short deadline.
func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		t.Fatalf("unmarshal frame %s: %v", msg, err)
	}
	return env
}

// expectEvent reads one frame and fails unless it carries the given event.
func expectEvent(t *testing.T, conn *websocket.Conn, event string) envelope {
	t.Helper()
	env := readEnvelope(t, conn)
	if env.Event != event {
		t.Fatalf("event: got %q (%s), want %q", env.Event, env.Data, event)
	}
	return env
}

// writeEvent sends one envelope frame to the server.
func writeEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(map[string]any{"event": event, "data": data})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
}

func decode(t *testing.T, data json.RawMessage, v any) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
}

// --- tests ------------------------------------------------------------------

func TestConnect_ReceivesBootstrapThenPresence(t *testing.T) {
	wsURL, _ := startServer(t)
	conn := dial(t, wsURL, "alice")

	env := expectEvent(t, conn, broker.EventBootstrap)
	var bs broker.Bootstrap
	decode(t, env.Data, &bs)
	if bs.Username != "alice" {
		t.Errorf("username: got %q, want alice", bs.Username)
	}
	if len(bs.Channels) != 2 {
		t.Fatalf("channels: got %d, want 2", len(bs.Channels))
	}
	if bs.Channels[0].Name != "general" || bs.Channels[1].Name != "random" {
		t.Errorf("channel order: got %q,%q", bs.Channels[0].Name, bs.Channels[1].Name)
	}

	env = expectEvent(t, conn, broker.EventPresence)
	var p broker.Presence
	decode(t, env.Data, &p)
	if p.Count != 1 || len(p.Users) != 1 || p.Users[0] != "alice" {
		t.Errorf("presence: got %+v, want count=1 users=[alice]", p)
	}
}

func TestConnect_EmptyUsernameResolvesToGuest(t *testing.T) {
	wsURL, _ := startServer(t)
	conn := dial(t, wsURL, "")

	env := expectEvent(t, conn, broker.EventBootstrap)
	var bs broker.Bootstrap
	decode(t, env.Data, &bs)
	if !strings.HasPrefix(bs.Username, "guest-") {
		t.Errorf("username: got %q, want guest- prefix", bs.Username)
	}
}

func TestSecondConnect_BroadcastsPresenceToAll(t *testing.T) {
	wsURL, _ := startServer(t)

	alice := dial(t, wsURL, "alice")
	expectEvent(t, alice, broker.EventBootstrap)
	expectEvent(t, alice, broker.EventPresence) // count=1

	bob := dial(t, wsURL, "bob")
	expectEvent(t, bob, broker.EventBootstrap)

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		env := expectEvent(t, conn, broker.EventPresence)
		var p broker.Presence
		decode(t, env.Data, &p)
		if p.Count != 2 || len(p.Users) != 2 {
			t.Errorf("%s presence: got %+v, want count=2 with 2 users", name, p)
		}
	}
}

func TestSend_BroadcastsToChannelGroup(t *testing.T) {
	wsURL, _ := startServer(t)

	alice := dial(t, wsURL, "alice")
	expectEvent(t, alice, broker.EventBootstrap)
	expectEvent(t, alice, broker.EventPresence)

	bob := dial(t, wsURL, "bob")
	expectEvent(t, bob, broker.EventBootstrap)
	expectEvent(t, bob, broker.EventPresence)
	expectEvent(t, alice, broker.EventPresence) // bob's arrival

	writeEvent(t, alice, "message:send", map[string]string{"text": "  hello  "})

	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		env := expectEvent(t, conn, broker.EventMessageNew)
		var m channel.Message
		decode(t, env.Data, &m)
		if m.Text != "hello" {
			t.Errorf("%s text: got %q, want hello (trimmed)", name, m.Text)
		}
		if m.Author != "alice" || m.Channel != "general" {
			t.Errorf("%s message: got %+v", name, m)
		}
		if m.ID == "" || m.Timestamp.IsZero() {
			t.Errorf("%s message: missing id or timestamp: %+v", name, m)
		}
	}
}

func TestSend_BlankText_NothingBroadcast(t *testing.T) {
	wsURL, _ := startServer(t)

	conn := dial(t, wsURL, "alice")
	expectEvent(t, conn, broker.EventBootstrap)
	expectEvent(t, conn, broker.EventPresence)

	writeEvent(t, conn, "message:send", map[string]string{"text": "   "})
	// A real message right after must be the next frame — nothing was sent
	// for the blank one.
	writeEvent(t, conn, "message:send", map[string]string{"text": "after"})

	env := expectEvent(t, conn, broker.EventMessageNew)
	var m channel.Message
	decode(t, env.Data, &m)
	if m.Text != "after" {
		t.Errorf("text: got %q, want after", m.Text)
	}
}

func TestSend_OversizedText_CappedNotDisconnected(t *testing.T) {
	wsURL, _ := startServer(t)

	conn := dial(t, wsURL, "alice")
	expectEvent(t, conn, broker.EventBootstrap)
	expectEvent(t, conn, broker.EventPresence)

	// 3000 two-byte runes: well past the 500-rune cap and past 4 KiB on
	// the wire, but within the frame limit. The text must be capped, not
	// the connection dropped.
	writeEvent(t, conn, "message:send", map[string]string{"text": strings.Repeat("é", 3000)})

	env := expectEvent(t, conn, broker.EventMessageNew)
	var m channel.Message
	decode(t, env.Data, &m)
	if got := len([]rune(m.Text)); got != 500 {
		t.Errorf("text length: got %d runes, want 500", got)
	}

	// The connection is still usable.
	writeEvent(t, conn, "message:send", map[string]string{"text": "after"})
	env = expectEvent(t, conn, broker.EventMessageNew)
	decode(t, env.Data, &m)
	if m.Text != "after" {
		t.Errorf("text: got %q, want after", m.Text)
	}
}

func TestJoin_ReceivesHistoryAndMovesGroups(t *testing.T) {
	wsURL, hub := startServer(t)

	conn := dial(t, wsURL, "alice")
	expectEvent(t, conn, broker.EventBootstrap)
	expectEvent(t, conn, broker.EventPresence)

	writeEvent(t, conn, "channel:join", "random")

	env := expectEvent(t, conn, broker.EventHistory)
	var h channel.History
	decode(t, env.Data, &h)
	if h.Name != "random" || len(h.Messages) != 0 {
		t.Errorf("history: got %+v, want empty random", h)
	}

	if n := hub.GroupCount("random"); n != 1 {
		t.Errorf("random group: got %d, want 1", n)
	}
	if n := hub.GroupCount("general"); n != 0 {
		t.Errorf("general group: got %d, want 0", n)
	}
}

func TestJoin_UnknownChannel_ToastOnly(t *testing.T) {
	wsURL, hub := startServer(t)

	conn := dial(t, wsURL, "alice")
	expectEvent(t, conn, broker.EventBootstrap)
	expectEvent(t, conn, broker.EventPresence)

	writeEvent(t, conn, "channel:join", "nope")

	env := expectEvent(t, conn, broker.EventToast)
	var toast broker.Toast
	decode(t, env.Data, &toast)
	if toast.Type != "error" {
		t.Errorf("toast type: got %q, want error", toast.Type)
	}
	if toast.Message != "Channel #nope does not exist" {
		t.Errorf("toast message: got %q", toast.Message)
	}

	// Still in general: a send still lands there.
	writeEvent(t, conn, "message:send", map[string]string{"text": "still here"})
	env = expectEvent(t, conn, broker.EventMessageNew)
	var m channel.Message
	decode(t, env.Data, &m)
	if m.Channel != "general" {
		t.Errorf("channel after failed join: got %q, want general", m.Channel)
	}
	if n := hub.GroupCount("general"); n != 1 {
		t.Errorf("general group: got %d, want 1", n)
	}
}

func TestDisconnect_RemainingClientsSeePresence(t *testing.T) {
	wsURL, hub := startServer(t)

	conns := make([]*websocket.Conn, 3)
	for i := range conns {
		conns[i] = dial(t, wsURL, fmt.Sprintf("user%d", i))
		expectEvent(t, conns[i], broker.EventBootstrap)
	}
	// Drain the presence updates from the three connects: conn i sees one
	// per connect that happened at or after its own.
	for i, conn := range conns {
		for j := i; j < 3; j++ {
			expectEvent(t, conn, broker.EventPresence)
		}
	}

	conns[2].Close()

	for i := 0; i < 2; i++ {
		env := expectEvent(t, conns[i], broker.EventPresence)
		var p broker.Presence
		decode(t, env.Data, &p)
		if p.Count != 2 || len(p.Users) != 2 {
			t.Errorf("conn %d presence: got %+v, want count=2 with 2 users", i, p)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count() != 2 {
		if time.Now().After(deadline) {
			t.Fatalf("Count: got %d, want 2", hub.Count())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestMalformedFrames_Ignored(t *testing.T) {
	wsURL, _ := startServer(t)

	conn := dial(t, wsURL, "alice")
	expectEvent(t, conn, broker.EventBootstrap)
	expectEvent(t, conn, broker.EventPresence)

	// None of these may kill the connection or produce a reply.
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	writeEvent(t, conn, "bogus:event", "x")
	writeEvent(t, conn, "channel:join", map[string]string{"wrong": "shape"})

	writeEvent(t, conn, "message:send", map[string]string{"text": "alive"})
	env := expectEvent(t, conn, broker.EventMessageNew)
	var m channel.Message
	decode(t, env.Data, &m)
	if m.Text != "alive" {
		t.Errorf("text: got %q, want alive", m.Text)
	}
}

func TestNonWebSocketRequest_Returns400(t *testing.T) {
	wsURL, _ := startServer(t)
	url := "http" + strings.TrimPrefix(wsURL, "ws")

	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status: got %d, want 400", resp.StatusCode)
	}
}
