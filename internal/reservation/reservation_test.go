package reservation

import (
	"sort"
	"sync"
	"testing"
)

func TestTracker_ReserveAndRelease(t *testing.T) {
	tr := NewTracker()

	tr.Reserve("a1")
	if !tr.IsReserved("a1") {
		t.Error("a1 should be reserved")
	}
	if tr.IsReserved("a2") {
		t.Error("a2 should not be reserved")
	}

	tr.Release("a1")
	if tr.IsReserved("a1") {
		t.Error("a1 should be released")
	}
}

func TestTracker_ReserveIdempotent(t *testing.T) {
	tr := NewTracker()

	tr.Reserve("a1")
	tr.Reserve("a1")
	tr.Reserve("a1")

	if tr.Len() != 1 {
		t.Errorf("expected 1 reservation, got %d", tr.Len())
	}

	// A single release fully clears a repeatedly reserved id.
	tr.Release("a1")
	if tr.IsReserved("a1") {
		t.Error("a1 should be released after one Release")
	}
}

func TestTracker_ReleaseUnreservedIsNoOp(t *testing.T) {
	tr := NewTracker()
	tr.Release("never_reserved")
	if tr.Len() != 0 {
		t.Errorf("expected empty tracker, got %d", tr.Len())
	}
}

func TestTracker_Snapshot(t *testing.T) {
	tr := NewTracker()
	tr.Reserve("b")
	tr.Reserve("a")
	tr.Reserve("c")

	ids := tr.Snapshot()
	sort.Strings(ids)
	want := []string{"a", "b", "c"}
	if len(ids) != len(want) {
		t.Fatalf("expected %d ids, got %d", len(want), len(ids))
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Errorf("ids[%d] = %q, want %q", i, ids[i], want[i])
		}
	}
}

func TestTracker_ConcurrentAccess(t *testing.T) {
	tr := NewTracker()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.Reserve("shared")
				tr.IsReserved("shared")
				tr.Release("shared")
			}
		}()
	}
	wg.Wait()

	if tr.IsReserved("shared") {
		t.Error("shared should end released")
	}
}
