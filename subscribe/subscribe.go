// Package subscribe implements the long-poll subscribe event engine (§4.6):
// unsubscribed -> handshaking -> handshake_failed|handshake_reconnecting|
// receiving -> receive_failed|receive_reconnecting|unsubscribed, interleaved
// with a periodic heartbeat. The engine is driven by a background goroutine
// in the teacher's ticker+stopCh+sync.Once idiom (see token.PresenceManager
// and token.AuthTokenManager), not by a caller-polled Advance method, because
// a subscribe loop has no useful non-blocking boundary: each cycle is itself
// one long-poll HTTP transaction.
package subscribe

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pubnub-go/pncore/pnerror"
)

// State names one node of the subscribe event engine's state graph.
type State int

const (
	Unsubscribed State = iota
	Handshaking
	HandshakeFailed
	HandshakeReconnecting
	Receiving
	ReceiveFailed
	ReceiveReconnecting
)

func (s State) String() string {
	switch s {
	case Unsubscribed:
		return "unsubscribed"
	case Handshaking:
		return "handshaking"
	case HandshakeFailed:
		return "handshake_failed"
	case HandshakeReconnecting:
		return "handshake_reconnecting"
	case Receiving:
		return "receiving"
	case ReceiveFailed:
		return "receive_failed"
	case ReceiveReconnecting:
		return "receive_reconnecting"
	default:
		return "unknown"
	}
}

// Cursor is the opaque timetoken/region pair the engine advances on every
// successful receive (§2: timetoken is never reparsed, only round-tripped).
type Cursor struct {
	Timetoken string
	Region    string
}

// StatusEvent is delivered to EmitStatus on every state transition.
type StatusEvent struct {
	State  State
	Result pnerror.Result
}

// MessageEvent is delivered to EmitMessages for each message/signal/presence
// event returned by a receive cycle. Payload is left as raw JSON: full JSON
// decoding is the caller's concern, not the core engine's.
type MessageEvent struct {
	Channel string
	Payload []byte
}

// Transport is the engine's dependency on the transaction layer: Handshake
// performs the zero-timetoken subscribe call that establishes a cursor;
// Receive performs the long-poll subscribe call from a cursor; Heartbeat
// performs a heartbeat call. Handshake and Receive return a Cursor, zero or
// more messages, and a pnerror.Result; Heartbeat returns only a
// pnerror.Result.
type Transport interface {
	Handshake(ctx context.Context, channels, groups string) (Cursor, []MessageEvent, pnerror.Result)
	Receive(ctx context.Context, channels, groups string, cur Cursor) (Cursor, []MessageEvent, pnerror.Result)
	Heartbeat(ctx context.Context, channels, groups string) pnerror.Result
}

// Engine runs the subscribe event engine for one set of channels/groups.
type Engine struct {
	Channels string
	Groups   string

	Transport       Transport
	HeartbeatPeriod time.Duration

	EmitStatus   func(StatusEvent)
	EmitMessages func([]MessageEvent)

	reconnectDelay func(attempt int) time.Duration

	mu    sync.RWMutex
	state State
	cur   Cursor

	failedAttempts atomic.Int32
	stopCh         chan struct{}
	stopOnce       sync.Once
	wg             sync.WaitGroup
}

// NewEngine constructs an Engine in the Unsubscribed state.
func NewEngine(transport Transport, channels, groups string, heartbeatPeriod time.Duration) *Engine {
	return &Engine{
		Channels:        channels,
		Groups:          groups,
		Transport:       transport,
		HeartbeatPeriod: heartbeatPeriod,
		state:           Unsubscribed,
		stopCh:          make(chan struct{}),
		reconnectDelay:  exponentialBackoff,
	}
}

func exponentialBackoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// State returns the engine's current state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Cursor returns the engine's current timetoken/region.
func (e *Engine) Cursor() Cursor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cur
}

func (e *Engine) setState(s State, res pnerror.Result) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	if e.EmitStatus != nil {
		e.EmitStatus(StatusEvent{State: s, Result: res})
	}
}

// Start begins driving the engine in a background goroutine: a handshake,
// then a receive loop, interleaved with heartbeat calls every
// HeartbeatPeriod (§4.6). Start is not idempotent: every call launches
// another set of loops on the same Engine.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)

	if e.HeartbeatPeriod > 0 {
		e.wg.Add(1)
		go e.heartbeatLoop(ctx)
	}
}

// Cancel stops the engine: the running handshake/receive call is allowed to
// finish, then the loops exit and the state becomes Unsubscribed. Cancel is
// idempotent and blocks until both loops have exited.
func (e *Engine) Cancel() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
	e.setState(Unsubscribed, pnerror.Cancelled)
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()

	e.setState(Handshaking, pnerror.Started)
	cur, msgs, res := e.Transport.Handshake(ctx, e.Channels, e.Groups)
	if e.stopped() {
		return
	}
	if res.IsError() {
		e.handleFailure(true, res)
	} else {
		e.mu.Lock()
		e.cur = cur
		e.mu.Unlock()
		e.deliver(msgs)
		e.failedAttempts.Store(0)
		e.setState(Receiving, pnerror.Ok)
	}

	for !e.stopped() {
		if e.State() != Receiving {
			if !e.waitAndRetry() {
				return
			}
			continue
		}

		cur, msgs, res := e.Transport.Receive(ctx, e.Channels, e.Groups, e.Cursor())
		if e.stopped() {
			return
		}
		if res.IsError() {
			e.handleFailure(false, res)
			continue
		}
		e.mu.Lock()
		e.cur = cur
		e.mu.Unlock()
		e.deliver(msgs)
		e.failedAttempts.Store(0)
	}
}

func (e *Engine) handleFailure(duringHandshake bool, res pnerror.Result) {
	if duringHandshake {
		e.setState(HandshakeFailed, res)
	} else {
		e.setState(ReceiveFailed, res)
	}
}

// waitAndRetry backs off and transitions to the matching *_reconnecting
// state, returning false if Cancel fired during the wait.
func (e *Engine) waitAndRetry() bool {
	attempt := int(e.failedAttempts.Add(1))
	cur := e.State()
	if cur == HandshakeFailed {
		e.setState(HandshakeReconnecting, pnerror.InProgress)
	} else {
		e.setState(ReceiveReconnecting, pnerror.InProgress)
	}

	select {
	case <-time.After(e.reconnectDelay(attempt)):
	case <-e.stopCh:
		return false
	}

	if cur == HandshakeFailed {
		c, msgs, res := e.Transport.Handshake(context.Background(), e.Channels, e.Groups)
		if res.IsError() {
			e.setState(HandshakeFailed, res)
			return true
		}
		e.mu.Lock()
		e.cur = c
		e.mu.Unlock()
		e.deliver(msgs)
		e.failedAttempts.Store(0)
		e.setState(Receiving, pnerror.Ok)
	} else {
		e.setState(Receiving, pnerror.Ok)
	}
	return true
}

func (e *Engine) heartbeatLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.HeartbeatPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.State() == Receiving {
				e.Transport.Heartbeat(ctx, e.Channels, e.Groups)
			}
		}
	}
}

func (e *Engine) deliver(msgs []MessageEvent) {
	if len(msgs) > 0 && e.EmitMessages != nil {
		e.EmitMessages(msgs)
	}
}

func (e *Engine) stopped() bool {
	select {
	case <-e.stopCh:
		return true
	default:
		return false
	}
}
