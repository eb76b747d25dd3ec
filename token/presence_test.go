package token_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pubnub-go/pncore/pnerror"
	"github.com/pubnub-go/pncore/token"
)

func TestPresenceManager_RecordsStateForEachContext(t *testing.T) {
	m := token.NewPresenceManager(5 * time.Millisecond)
	defer m.Stop()

	var calls int64
	m.Start([]int{0, 1, 2}, func(contextID int) pnerror.Result {
		atomic.AddInt64(&calls, 1)
		return pnerror.Ok
	})

	time.Sleep(30 * time.Millisecond)
	m.Stop()

	if atomic.LoadInt64(&calls) == 0 {
		t.Fatal("expected at least one heartbeat round")
	}
	for _, id := range []int{0, 1, 2} {
		s := m.State(id)
		if s == nil {
			t.Fatalf("expected presence state for context %d", id)
		}
		if s.LastResult != pnerror.Ok {
			t.Errorf("context %d: got result %v, want Ok", id, s.LastResult)
		}
	}
	if len(m.AllStates()) != 3 {
		t.Errorf("got %d states, want 3", len(m.AllStates()))
	}
}

func TestPresenceManager_StopIsIdempotent(t *testing.T) {
	m := token.NewPresenceManager(time.Millisecond)
	m.Start([]int{0}, func(int) pnerror.Result { return pnerror.Ok })
	m.Stop()
	m.Stop()
}
