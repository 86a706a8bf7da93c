package wire

import (
	"encoding/json"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/gorilla/websocket"
)

const sdp = `{"type":"offer","sdp":"v=0"}`

func TestJSONFrameShape(t *testing.T) {
	offer := domain.CallOffer{CalleeID: "b", CallerID: "a", CallerName: "alice", Payload: domain.NegotiationPayload(sdp)}
	data, err := JSON.Marshal(SomeoneCalling(offer))
	if err != nil {
		t.Fatal(err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["event"] != "someone_calling" || raw["from"] != "a" || raw["name"] != "alice" {
		t.Fatalf("frame = %s", data)
	}
	signal, ok := raw["signal"].(map[string]any)
	if !ok || signal["type"] != "offer" {
		t.Fatalf("signal not embedded as an object: %s", data)
	}
	if _, ok := raw["users"]; ok {
		t.Fatalf("empty fields not omitted: %s", data)
	}
}

func TestEventNames(t *testing.T) {
	for ev, want := range map[Event]string{
		EventUserID:         "user_id",
		EventOnlineUserList: "online_user_list",
		EventUpdateUser:     "update_user",
		EventCallSomeone:    "call_someone",
		EventSomeoneCalling: "someone_calling",
		EventAnswerCall:     "answer_call",
		EventCallAccepted:   "call_accepted",
		EventHangUp:         "hang_up",
		EventCallBusy:       "call_busy",
	} {
		if string(ev) != want {
			t.Errorf("event %q, want %q", ev, want)
		}
	}
}

func TestRelayEvent(t *testing.T) {
	tests := []struct {
		name    string
		env     Envelope
		want    domain.RelayEventKind
		from    domain.ParticipantID
		wantErr bool
	}{
		{name: "user id", env: UserID("me"), want: domain.EventAssignedID},
		{name: "user id missing", env: Envelope{Event: EventUserID}, wantErr: true},
		{name: "presence", env: OnlineUserList(domain.PresenceSnapshot{"a": {ID: "a", Name: "alice"}}), want: domain.EventPresenceUpdated},
		{name: "offer", env: SomeoneCalling(domain.CallOffer{CalleeID: "me", CallerID: "a", Payload: domain.NegotiationPayload(sdp)}), want: domain.EventIncomingOffer, from: "a"},
		{name: "offer without caller", env: Envelope{Event: EventSomeoneCalling, To: "me", Signal: json.RawMessage(sdp)}, wantErr: true},
		{name: "offer without signal", env: Envelope{Event: EventSomeoneCalling, To: "me", From: "a"}, wantErr: true},
		{name: "accepted", env: Accepted("b", domain.NegotiationPayload(sdp)), want: domain.EventCallAccepted, from: "b"},
		{name: "accepted without signal", env: Envelope{Event: EventCallAccepted, From: "b"}, wantErr: true},
		{name: "hang up", env: HangUp("b", "me"), want: domain.EventCallHungUp, from: "b"},
		{name: "hang up without sender", env: Envelope{Event: EventHangUp}, want: domain.EventCallHungUp},
		{name: "busy", env: Busy("b", "me"), want: domain.EventCallBusy, from: "b"},
		{name: "client frame", env: UpdateUser("me", "x"), wantErr: true},
		{name: "unknown", env: Envelope{Event: "nope"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := tt.env.RelayEvent()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("RelayEvent() = %+v, want error", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("RelayEvent(): %v", err)
			}
			if ev.Kind != tt.want || ev.From != tt.from {
				t.Fatalf("RelayEvent() = %s from %q, want %s from %q", ev.Kind, ev.From, tt.want, tt.from)
			}
		})
	}
}

func TestSnapshotFallsBackToKey(t *testing.T) {
	env := Envelope{Event: EventOnlineUserList, Users: map[string]User{
		"a": {Name: "alice"},
		"b": {ID: "b"},
	}}
	snap := env.Snapshot()
	if snap["a"].ID != "a" || snap["a"].Name != "alice" {
		t.Fatalf("a = %+v", snap["a"])
	}
	if snap["b"].Name != "" {
		t.Fatalf("b = %+v", snap["b"])
	}
}

func TestCodecs(t *testing.T) {
	env := CallSomeone(domain.CallOffer{CalleeID: "b", CallerID: "a", CallerName: "alice", Payload: domain.NegotiationPayload(sdp)})

	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			c, err := CodecByName(name)
			if err != nil {
				t.Fatal(err)
			}
			data, err := c.Marshal(env)
			if err != nil {
				t.Fatal(err)
			}
			var got Envelope
			if err := c.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			offer, err := got.Offer()
			if err != nil {
				t.Fatal(err)
			}
			if offer.CalleeID != "b" || offer.CallerName != "alice" || string(offer.Payload) != sdp {
				t.Fatalf("offer = %+v", offer)
			}
		})
	}

	if JSON.FrameType() != websocket.TextMessage || Msgpack.FrameType() != websocket.BinaryMessage {
		t.Fatal("frame types")
	}
	if c, err := CodecByName(""); err != nil || c != JSON {
		t.Fatalf("default codec = %v, %v", c, err)
	}
	if _, err := CodecByName("xml"); err == nil {
		t.Fatal("unknown codec accepted")
	}
}
