package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Wyydra/yacall/internal/core/domain"
)

func TestParticipantRepository(t *testing.T) {
	ctx := context.Background()
	r := NewParticipantRepository()

	if err := r.Add(ctx, domain.Participant{ID: "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := r.Add(ctx, domain.Participant{ID: "a"}); err == nil {
		t.Fatal("duplicate Add accepted")
	}
	if err := r.Rename(ctx, "a", "alice"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if err := r.Rename(ctx, "b", "bob"); !errors.Is(err, domain.ErrUnknownParticipant) {
		t.Fatalf("Rename unknown = %v", err)
	}

	p, err := r.Get(ctx, "a")
	if err != nil || p.Name != "alice" {
		t.Fatalf("Get = %+v, %v", p, err)
	}

	snap, err := r.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	snap["x"] = domain.Participant{ID: "x"}
	if _, err := r.Get(ctx, "x"); !errors.Is(err, domain.ErrUnknownParticipant) {
		t.Fatal("snapshot aliases repository state")
	}

	if err := r.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Remove(ctx, "a"); err != nil {
		t.Fatalf("second Remove: %v", err)
	}
	if snap, _ := r.Snapshot(ctx); len(snap) != 0 {
		t.Fatalf("snapshot after remove = %+v", snap)
	}
}
