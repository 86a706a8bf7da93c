package service_test

import (
	"context"
	"sync"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
	"github.com/Wyydra/yacall/internal/core/service"
)

type nameUpdate struct {
	id   domain.ParticipantID
	name string
}

type fakeBroadcaster struct {
	mu        sync.Mutex
	connected bool
	updates   []nameUpdate
}

func (b *fakeBroadcaster) UpdateName(ctx context.Context, id domain.ParticipantID, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.updates = append(b.updates, nameUpdate{id, name})
	return nil
}

func (b *fakeBroadcaster) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroadcaster) sent() []nameUpdate {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]nameUpdate(nil), b.updates...)
}

func TestPresenceNameDeferredUntilID(t *testing.T) {
	ctx := context.Background()
	relay := &fakeBroadcaster{connected: true}
	r := service.NewPresenceRegistry(relay)

	r.UpdateLocalName(ctx, "alice")
	if n := len(relay.sent()); n != 0 {
		t.Fatalf("name sent before id assignment: %d updates", n)
	}

	r.SetLocalID(ctx, "id-1")
	got := relay.sent()
	if len(got) != 1 || got[0] != (nameUpdate{"id-1", "alice"}) {
		t.Fatalf("updates = %+v", got)
	}

	// Same name again is not re-sent.
	r.UpdateLocalName(ctx, "alice")
	if n := len(relay.sent()); n != 1 {
		t.Fatalf("duplicate name re-sent: %d updates", n)
	}

	r.UpdateLocalName(ctx, "alice2")
	got = relay.sent()
	if len(got) != 2 || got[1] != (nameUpdate{"id-1", "alice2"}) {
		t.Fatalf("updates = %+v", got)
	}
}

func TestPresenceReannouncesAfterReconnect(t *testing.T) {
	ctx := context.Background()
	relay := &fakeBroadcaster{connected: true}
	r := service.NewPresenceRegistry(relay)

	r.SetLocalID(ctx, "id-1")
	r.UpdateLocalName(ctx, "alice")
	r.Clear()

	if !r.LocalID().IsZero() {
		t.Fatalf("id kept after Clear: %s", r.LocalID())
	}
	if r.LocalName() != "alice" {
		t.Fatalf("name lost after Clear: %q", r.LocalName())
	}

	r.SetLocalID(ctx, "id-2")
	got := relay.sent()
	if len(got) != 2 || got[1] != (nameUpdate{"id-2", "alice"}) {
		t.Fatalf("updates = %+v", got)
	}
}

func TestPresenceSkipsWhileDisconnected(t *testing.T) {
	ctx := context.Background()
	relay := &fakeBroadcaster{}
	r := service.NewPresenceRegistry(relay)

	r.SetLocalID(ctx, "id-1")
	r.UpdateLocalName(ctx, "alice")
	if n := len(relay.sent()); n != 0 {
		t.Fatalf("sent while disconnected: %d", n)
	}

	relay.mu.Lock()
	relay.connected = true
	relay.mu.Unlock()
	r.UpdateLocalName(ctx, "alice")
	if n := len(relay.sent()); n != 1 {
		t.Fatalf("unsent name not retried: %d", n)
	}
}

func TestPresenceSnapshotReplacedWholesale(t *testing.T) {
	r := service.NewPresenceRegistry(&fakeBroadcaster{})

	snap := domain.PresenceSnapshot{
		"a": {ID: "a", Name: "zed"},
		"b": {ID: "b", Name: "amy"},
		"c": {ID: "c"},
	}
	r.OnSnapshot(snap)
	snap["d"] = domain.Participant{ID: "d"}

	others := r.ListOthers("a")
	if len(others) != 2 {
		t.Fatalf("others = %+v", others)
	}
	if others[0].ID != "b" || others[1].ID != "c" {
		t.Fatalf("order = %+v, want amy then c", others)
	}
	if _, ok := r.Lookup("d"); ok {
		t.Fatal("registry aliased the caller's snapshot")
	}

	r.OnSnapshot(domain.PresenceSnapshot{"e": {ID: "e"}})
	if _, ok := r.Lookup("a"); ok {
		t.Fatal("old entries survived a new snapshot")
	}
	if p, ok := r.Lookup("e"); !ok || p.ID != "e" {
		t.Fatalf("Lookup(e) = %+v, %v", p, ok)
	}
}
