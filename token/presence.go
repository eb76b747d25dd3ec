package token

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pubnub-go/pncore/pnerror"
)

// PresenceState records the last known heartbeat outcome for one Context.
// All fields are safe to read without a lock because the struct is replaced
// atomically in the sync.Map; callers should never mutate a retrieved
// pointer.
type PresenceState struct {
	// ContextID is the owning Context's position within its Pool.
	ContextID int

	// LastResult is the pnerror.Result of the most recent heartbeat call.
	LastResult pnerror.Result

	// LastHeartbeat records when the heartbeat last completed.
	LastHeartbeat time.Time
}

// HeartbeatFunc performs a single presence heartbeat for the given context id
// and reports its outcome.
type HeartbeatFunc func(contextID int) pnerror.Result

// PresenceManager drives periodic presence heartbeats across every Context in
// a Pool and records each one's outcome in a sync.Map, so thousands of
// goroutines can read the latest presence state concurrently with zero lock
// contention while a single background goroutine is the sole writer.
type PresenceManager struct {
	states sync.Map // int (context id) -> *PresenceState

	interval time.Duration
	stopCh   chan struct{}
	once     sync.Once

	heartbeatCount atomic.Int64
}

// NewPresenceManager creates a PresenceManager that heartbeats every
// interval. A non-positive interval defaults to 30s, the protocol's typical
// presence timeout divisor.
func NewPresenceManager(interval time.Duration) *PresenceManager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &PresenceManager{interval: interval, stopCh: make(chan struct{})}
}

// State returns the PresenceState for contextID, or nil if no heartbeat has
// completed for it yet.
func (m *PresenceManager) State(contextID int) *PresenceState {
	v, ok := m.states.Load(contextID)
	if !ok {
		return nil
	}
	s, _ := v.(*PresenceState)
	return s
}

// AllStates returns a snapshot of every stored PresenceState. The result is a
// newly allocated map; mutations do not affect the manager's state.
func (m *PresenceManager) AllStates() map[int]*PresenceState {
	out := make(map[int]*PresenceState)
	m.states.Range(func(k, v any) bool {
		id, ok1 := k.(int)
		s, ok2 := v.(*PresenceState)
		if ok1 && ok2 {
			out[id] = s
		}
		return true
	})
	return out
}

// HeartbeatCount returns how many heartbeat rounds have completed across all
// contexts since the manager started.
func (m *PresenceManager) HeartbeatCount() int64 { return m.heartbeatCount.Load() }

// Start launches the background heartbeat goroutine for the given context
// ids, invoking heartbeatFn for each one every interval. Start is idempotent
// and non-blocking.
func (m *PresenceManager) Start(contextIDs []int, heartbeatFn HeartbeatFunc) {
	m.once.Do(func() {
		go m.loop(contextIDs, heartbeatFn)
	})
}

// Stop signals the background goroutine to exit. Idempotent.
func (m *PresenceManager) Stop() {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
}

func (m *PresenceManager) loop(contextIDs []int, heartbeatFn HeartbeatFunc) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.sendRound(contextIDs, heartbeatFn)
		}
	}
}

func (m *PresenceManager) sendRound(contextIDs []int, heartbeatFn HeartbeatFunc) {
	for _, id := range contextIDs {
		res := heartbeatFn(id)
		m.states.Store(id, &PresenceState{
			ContextID:     id,
			LastResult:    res,
			LastHeartbeat: time.Now(),
		})
	}
	m.heartbeatCount.Add(1)
}
