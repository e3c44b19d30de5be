package mempool

import (
	"testing"
	"time"

	"srishti/core/event"
)

func pendingEvent(t *testing.T, id string) event.Event {
	t.Helper()
	ev, err := event.NewNodeJoin(id, "name-"+id, "", "", 1700000000000)
	if err != nil {
		t.Fatal(err)
	}
	return ev
}

func TestAddDeduplicates(t *testing.T) {
	mp := NewMempool(10)
	ev := pendingEvent(t, "a")
	if !mp.Add(ev) {
		t.Fatal("first add refused")
	}
	if mp.Add(ev) {
		t.Fatal("duplicate accepted")
	}
	if mp.Len() != 1 {
		t.Fatalf("len = %d", mp.Len())
	}
}

func TestAddEvictsOldestAtCapacity(t *testing.T) {
	mp := NewMempool(2)
	first := pendingEvent(t, "a")
	mp.Add(first)
	mp.Add(pendingEvent(t, "b"))
	mp.Add(pendingEvent(t, "c"))
	if mp.Len() != 2 {
		t.Fatalf("len = %d", mp.Len())
	}
	// the oldest entry made room; re-adding it succeeds
	if !mp.Add(first) {
		t.Fatal("evicted event still counted as present")
	}
}

func TestTakePreservesArrivalOrder(t *testing.T) {
	mp := NewMempool(10)
	mp.Add(pendingEvent(t, "a"))
	mp.Add(pendingEvent(t, "b"))
	mp.Add(pendingEvent(t, "c"))

	got := mp.Take(2)
	if len(got) != 2 {
		t.Fatalf("took %d", len(got))
	}
	if got[0].NodeID != "a" || got[1].NodeID != "b" {
		t.Fatalf("order broken: %s, %s", got[0].NodeID, got[1].NodeID)
	}
	if mp.Len() != 1 {
		t.Fatalf("len after take = %d", mp.Len())
	}
	rest := mp.Take(10)
	if len(rest) != 1 || rest[0].NodeID != "c" {
		t.Fatalf("remainder wrong: %v", rest)
	}
}

func TestRemoveByHash(t *testing.T) {
	mp := NewMempool(10)
	a := pendingEvent(t, "a")
	b := pendingEvent(t, "b")
	mp.Add(a)
	mp.Add(b)
	hashA, err := a.Hash()
	if err != nil {
		t.Fatal(err)
	}
	mp.Remove([]string{hashA})
	if mp.Len() != 1 {
		t.Fatalf("len = %d", mp.Len())
	}
	got := mp.Take(1)
	if got[0].NodeID != "b" {
		t.Fatal("removed the wrong event")
	}
}

func TestPurgeExpired(t *testing.T) {
	mp := NewMempool(10)
	mp.Add(pendingEvent(t, "a"))
	mp.Add(pendingEvent(t, "b"))
	if removed := mp.PurgeExpired(time.Hour); removed != 0 {
		t.Fatalf("fresh events purged: %d", removed)
	}
	time.Sleep(5 * time.Millisecond)
	if removed := mp.PurgeExpired(time.Millisecond); removed != 2 {
		t.Fatalf("expected everything purged, got %d", removed)
	}
	if mp.Len() != 0 {
		t.Fatalf("len = %d", mp.Len())
	}
}
