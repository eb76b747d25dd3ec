package connengine_test

import (
	"context"
	"testing"
	"time"

	"github.com/pubnub-go/pncore/connengine"
)

func TestKeepAliveBudget_ReusableWithinMaxOps(t *testing.T) {
	c := connengine.NewConn(nil, connengine.KeepAliveBudget{MaxOps: 3})
	for i := 0; i < 2; i++ {
		c.MarkOpDone(time.Time{})
	}
	if !c.Reusable(time.Time{}) {
		t.Error("expected reusable before hitting MaxOps")
	}
	c.MarkOpDone(time.Time{})
	if c.Reusable(time.Time{}) {
		t.Error("expected not reusable once MaxOps reached")
	}
}

func TestKeepAliveBudget_ExpiresAfterTimeout(t *testing.T) {
	c := connengine.NewConn(nil, connengine.KeepAliveBudget{Timeout: 5 * time.Second})
	base := time.Unix(1000, 0)
	c.MarkOpDone(base)

	if !c.Reusable(base.Add(2 * time.Second)) {
		t.Error("expected reusable within timeout window")
	}
	if c.Reusable(base.Add(10 * time.Second)) {
		t.Error("expected expired after timeout window")
	}
}

func TestDNSResolver_ResolveLiteralIP(t *testing.T) {
	r := connengine.NewDNSResolver(nil, false, 1)
	addrs, err := r.Resolve(context.Background(), "127.0.0.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 1 || addrs[0].IP.String() != "127.0.0.1" {
		t.Errorf("got %+v", addrs)
	}
}

func TestDNSResolver_LiteralIPv6(t *testing.T) {
	r := connengine.NewDNSResolver(nil, true, 1)
	addrs, err := r.Resolve(context.Background(), "::1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(addrs) != 1 {
		t.Errorf("got %+v", addrs)
	}
}
