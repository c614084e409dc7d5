package session

import (
	"sync"
	"testing"
)

func TestSessionIndexAddAndGetByStatus(t *testing.T) {
	idx := NewSessionIndex()

	idx.Add("sess-1", StatusActive)
	idx.Add("sess-2", StatusEnded)

	active := idx.GetByStatus(StatusActive)
	if len(active) != 1 || active[0] != "sess-1" {
		t.Errorf("GetByStatus(active) = %v, want [sess-1]", active)
	}

	ended := idx.GetByStatus(StatusEnded)
	if len(ended) != 1 || ended[0] != "sess-2" {
		t.Errorf("GetByStatus(ended) = %v, want [sess-2]", ended)
	}
}

func TestSessionIndexUpdateStatusMovesEntry(t *testing.T) {
	idx := NewSessionIndex()
	idx.Add("sess-1", StatusActive)

	idx.UpdateStatus("sess-1", StatusEnded)

	if len(idx.GetByStatus(StatusActive)) != 0 {
		t.Error("expected sess-1 removed from active index")
	}
	if len(idx.GetByStatus(StatusEnded)) != 1 {
		t.Error("expected sess-1 present in ended index")
	}
}

func TestSessionIndexUpdateStatusNonExistentIsNoop(t *testing.T) {
	idx := NewSessionIndex()
	idx.UpdateStatus("missing", StatusEnded)
	if idx.Count() != 0 {
		t.Error("expected no entries created for unknown session")
	}
}

func TestSessionIndexRemove(t *testing.T) {
	idx := NewSessionIndex()
	idx.Add("sess-1", StatusActive)
	idx.Remove("sess-1")

	if idx.Count() != 0 {
		t.Errorf("Count() = %d, want 0", idx.Count())
	}
	if len(idx.GetByStatus(StatusActive)) != 0 {
		t.Error("expected active index cleared after Remove")
	}
}

func TestSessionIndexRemoveNonExistentDoesNotPanic(t *testing.T) {
	idx := NewSessionIndex()
	idx.Remove("missing")
}

func TestSessionIndexAddReplacesPriorStatus(t *testing.T) {
	idx := NewSessionIndex()
	idx.Add("sess-1", StatusActive)
	idx.Add("sess-1", StatusEnded)

	if idx.Count() != 1 {
		t.Errorf("Count() = %d, want 1 (no duplicate)", idx.Count())
	}
	if len(idx.GetByStatus(StatusActive)) != 0 {
		t.Error("expected stale active entry cleaned up on re-Add")
	}
	if len(idx.GetByStatus(StatusEnded)) != 1 {
		t.Error("expected ended entry present after re-Add")
	}
}

func TestSessionIndexConcurrentAccess(t *testing.T) {
	idx := NewSessionIndex()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			idx.Add(string(rune('a'+i%10)), StatusActive)
		}(i)
	}
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			idx.GetByStatus(StatusActive)
			idx.Count()
		}()
	}
	wg.Wait()

	if idx.Count() < 1 {
		t.Error("expected at least one indexed session")
	}
}
