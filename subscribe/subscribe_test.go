package subscribe_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pubnub-go/pncore/pnerror"
	"github.com/pubnub-go/pncore/subscribe"
)

type fakeTransport struct {
	mu            sync.Mutex
	handshakeErr  bool
	receiveCalls  int
	heartbeatHits int
}

func (f *fakeTransport) Handshake(ctx context.Context, channels, groups string) (subscribe.Cursor, []subscribe.MessageEvent, pnerror.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handshakeErr {
		return subscribe.Cursor{}, nil, pnerror.IOError
	}
	return subscribe.Cursor{Timetoken: "100", Region: "1"}, nil, pnerror.Ok
}

func (f *fakeTransport) Receive(ctx context.Context, channels, groups string, cur subscribe.Cursor) (subscribe.Cursor, []subscribe.MessageEvent, pnerror.Result) {
	f.mu.Lock()
	f.receiveCalls++
	n := f.receiveCalls
	f.mu.Unlock()

	if n == 1 {
		return subscribe.Cursor{Timetoken: "200", Region: "1"}, []subscribe.MessageEvent{{Channel: "demo", Payload: []byte(`"hi"`)}}, pnerror.Ok
	}
	<-ctx.Done()
	return cur, nil, pnerror.Cancelled
}

func (f *fakeTransport) Heartbeat(ctx context.Context, channels, groups string) pnerror.Result {
	f.mu.Lock()
	f.heartbeatHits++
	f.mu.Unlock()
	return pnerror.Ok
}

func TestEngine_HandshakeThenReceiveDeliversMessages(t *testing.T) {
	ft := &fakeTransport{}
	var delivered []subscribe.MessageEvent
	var mu sync.Mutex

	e := subscribe.NewEngine(ft, "demo", "", 0)
	e.EmitMessages = func(m []subscribe.MessageEvent) {
		mu.Lock()
		delivered = append(delivered, m...)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(delivered)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	e.Cancel()

	mu.Lock()
	defer mu.Unlock()
	if len(delivered) != 1 || delivered[0].Channel != "demo" {
		t.Fatalf("got %+v", delivered)
	}
	if e.Cursor().Timetoken != "200" {
		t.Errorf("got cursor %+v", e.Cursor())
	}
}

func TestEngine_HandshakeFailureEmitsStatus(t *testing.T) {
	ft := &fakeTransport{handshakeErr: true}
	var states []subscribe.State
	var mu sync.Mutex

	e := subscribe.NewEngine(ft, "demo", "", 0)
	e.EmitStatus = func(s subscribe.StatusEvent) {
		mu.Lock()
		states = append(states, s.State)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.Start(ctx)

	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		found := false
		for _, s := range states {
			if s == subscribe.HandshakeFailed {
				found = true
			}
		}
		mu.Unlock()
		if found {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	e.Cancel()

	mu.Lock()
	defer mu.Unlock()
	var sawFailed bool
	for _, s := range states {
		if s == subscribe.HandshakeFailed {
			sawFailed = true
		}
	}
	if !sawFailed {
		t.Errorf("expected HandshakeFailed among %v", states)
	}
}

func TestState_String(t *testing.T) {
	if subscribe.Receiving.String() != "receiving" {
		t.Errorf("got %q", subscribe.Receiving.String())
	}
	if subscribe.Unsubscribed.String() != "unsubscribed" {
		t.Errorf("got %q", subscribe.Unsubscribed.String())
	}
}
