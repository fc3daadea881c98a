package population

import (
	"sync"
	"testing"
	"time"

	"waveline/internal/domain"
)

func TestDoubleRemoveKeepsCount(t *testing.T) {
	r := New()
	r.Add("a")
	r.Add("b")
	if !r.Remove("a") {
		t.Fatalf("first remove should succeed")
	}
	if r.Remove("a") {
		t.Fatalf("second remove should be a no-op")
	}
	if r.Count() != 1 {
		t.Fatalf("count %d, want 1", r.Count())
	}
}

func TestRemoveBeforeAddIsTombstoned(t *testing.T) {
	r := New()
	if r.Remove("early") {
		t.Fatalf("unknown handle reported as live")
	}
	if r.Add("early") {
		t.Fatalf("late add after removal should be refused")
	}
	if r.Count() != 0 {
		t.Fatalf("count %d, want 0", r.Count())
	}
	if !r.Add("early") {
		t.Fatalf("tombstone should be consumed by the refused add")
	}
}

func TestClearReturnsLiveAndWakesWaiters(t *testing.T) {
	r := New()
	for _, h := range []domain.EntityHandle{"a", "b", "c"} {
		r.Add(h)
	}
	r.Remove("ghost")
	empty := r.Empty()
	select {
	case <-empty:
		t.Fatalf("empty closed while entities are live")
	default:
	}
	if got := r.Clear(); len(got) != 3 {
		t.Fatalf("clear returned %v", got)
	}
	select {
	case <-empty:
	case <-time.After(time.Second):
		t.Fatalf("empty not closed by clear")
	}
	if !r.Add("ghost") {
		t.Fatalf("clear should drop tombstones")
	}
}

func TestEmptyClosesOnLastRemoval(t *testing.T) {
	r := New()
	select {
	case <-r.Empty():
	default:
		t.Fatalf("empty registry should report empty immediately")
	}
	r.Add("x")
	r.Add("y")
	ch := r.Empty()
	r.Remove("x")
	select {
	case <-ch:
		t.Fatalf("closed too early")
	default:
	}
	r.Remove("y")
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("empty not closed")
	}
}

func TestConcurrentMutationsStayConsistent(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		h := domain.EntityHandle(string(rune('A' + i)))
		wg.Add(2)
		go func() { defer wg.Done(); r.Add(h) }()
		go func() { defer wg.Done(); r.Remove(h) }()
	}
	wg.Wait()
	if n := r.Count(); n != 0 {
		t.Fatalf("add/remove pairs left %d live entities", n)
	}
	if len(r.Handles()) != r.Count() {
		t.Fatalf("handles and count disagree")
	}
}
