package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Wyydra/yacall/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/yacall/internal/adapter/driven/persistence/memory"
	"github.com/Wyydra/yacall/internal/adapter/wire"
	"github.com/Wyydra/yacall/internal/core/service"
	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

const testSignal = `{"type":"offer","sdp":"v=0"}`

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	hub := ws.NewHub()
	go hub.Run()
	h := NewHandler(service.NewRelayService(memory.NewParticipantRepository(), hub), hub)
	ts := httptest.NewServer(h.NewRouter())
	t.Cleanup(func() {
		hub.Stop()
		ts.Close()
	})
	return ts
}

func wsURL(ts *httptest.Server, query string) string {
	u := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	return u
}

func dial(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(wsURL(ts, query), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func readJSON(t *testing.T, c *websocket.Conn) wire.Envelope {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env wire.Envelope
	if err := c.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	return env
}

// readUntil skips frames until one matches event and accept.
func readUntil(t *testing.T, c *websocket.Conn, event wire.Event, accept func(wire.Envelope) bool) wire.Envelope {
	t.Helper()
	for i := 0; i < 20; i++ {
		env := readJSON(t, c)
		if env.Event == event && (accept == nil || accept(env)) {
			return env
		}
	}
	t.Fatalf("no %s frame", event)
	return wire.Envelope{}
}

func TestServeWSGreetingAndPresence(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts, "")

	hello := readJSON(t, c)
	if hello.Event != wire.EventUserID || hello.ID == "" {
		t.Fatalf("first frame = %+v, want user_id", hello)
	}
	list := readUntil(t, c, wire.EventOnlineUserList, nil)
	if _, ok := list.Users[hello.ID]; !ok {
		t.Fatalf("presence %+v misses self", list.Users)
	}

	// The id in the frame is ignored; renames always apply to the sender.
	if err := c.WriteJSON(wire.Envelope{Event: wire.EventUpdateUser, ID: "someone-else", Name: "alice"}); err != nil {
		t.Fatal(err)
	}
	readUntil(t, c, wire.EventOnlineUserList, func(env wire.Envelope) bool {
		return env.Users[hello.ID].Name == "alice"
	})

	resp, err := http.Get(ts.URL + "/participants")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got []struct{ ID, Name string }
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != hello.ID || got[0].Name != "alice" {
		t.Fatalf("/participants = %+v", got)
	}
}

func TestServeWSRoutesCallControl(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts, "")
	aID := readJSON(t, a).ID
	b := dial(t, ts, "")
	bID := readJSON(t, b).ID

	if err := a.WriteJSON(wire.Envelope{Event: wire.EventCallSomeone, To: bID, From: "spoofed", Signal: json.RawMessage(testSignal)}); err != nil {
		t.Fatal(err)
	}
	offer := readUntil(t, b, wire.EventSomeoneCalling, nil)
	if offer.From != aID || offer.To != bID || string(offer.Signal) != testSignal {
		t.Fatalf("offer = %+v", offer)
	}

	if err := b.WriteJSON(wire.Envelope{Event: wire.EventAnswerCall, To: aID, Signal: json.RawMessage(`{"type":"answer"}`)}); err != nil {
		t.Fatal(err)
	}
	if got := readUntil(t, a, wire.EventCallAccepted, nil); got.From != bID {
		t.Fatalf("accepted = %+v", got)
	}

	if err := b.WriteJSON(wire.Envelope{Event: wire.EventHangUp, To: aID}); err != nil {
		t.Fatal(err)
	}
	if got := readUntil(t, a, wire.EventHangUp, nil); got.From != bID {
		t.Fatalf("hang up = %+v", got)
	}

	if err := a.WriteJSON(wire.Envelope{Event: wire.EventCallBusy, To: bID}); err != nil {
		t.Fatal(err)
	}
	if got := readUntil(t, b, wire.EventCallBusy, nil); got.From != aID {
		t.Fatalf("busy = %+v", got)
	}
}

func TestServeWSUnknownCallee(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts, "")
	readJSON(t, a)

	if err := a.WriteJSON(wire.Envelope{Event: wire.EventCallSomeone, To: "gone", Signal: json.RawMessage(testSignal)}); err != nil {
		t.Fatal(err)
	}
	if got := readUntil(t, a, wire.EventHangUp, nil); got.From != "gone" {
		t.Fatalf("hang up = %+v", got)
	}
}

func TestServeWSSurvivesGarbage(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts, "")
	id := readJSON(t, a).ID

	if err := a.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	if err := a.WriteJSON(wire.Envelope{Event: "bogus"}); err != nil {
		t.Fatal(err)
	}
	if err := a.WriteJSON(wire.UpdateUser("", "still-here")); err != nil {
		t.Fatal(err)
	}
	readUntil(t, a, wire.EventOnlineUserList, func(env wire.Envelope) bool {
		return env.Users[id].Name == "still-here"
	})
}

func TestServeWSMsgpack(t *testing.T) {
	ts := newTestServer(t)
	c := dial(t, ts, "codec=msgpack")

	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	mt, data, err := c.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if mt != websocket.BinaryMessage {
		t.Fatalf("frame type = %d, want binary", mt)
	}
	var env wire.Envelope
	if err := msgpack.Unmarshal(data, &env); err != nil {
		t.Fatal(err)
	}
	if env.Event != wire.EventUserID || env.ID == "" {
		t.Fatalf("first frame = %+v", env)
	}
}

func TestServeWSRejectsUnknownCodec(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/ws?codec=xml")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("healthz = %d %q", resp.StatusCode, body)
	}
}

func TestLeaveUpdatesPresence(t *testing.T) {
	ts := newTestServer(t)
	a := dial(t, ts, "")
	aID := readJSON(t, a).ID
	b := dial(t, ts, "")
	bID := readJSON(t, b).ID
	readUntil(t, a, wire.EventOnlineUserList, func(env wire.Envelope) bool { return len(env.Users) == 2 })

	b.Close()
	list := readUntil(t, a, wire.EventOnlineUserList, func(env wire.Envelope) bool { return len(env.Users) == 1 })
	if _, ok := list.Users[bID]; ok {
		t.Fatal("closed client still listed")
	}
	if _, ok := list.Users[aID]; !ok {
		t.Fatal("remaining client missing")
	}
}
