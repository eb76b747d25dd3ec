package scheduler_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/pubnub-go/pncore/config"
	"github.com/pubnub-go/pncore/pubnub"
	"github.com/pubnub-go/pncore/scheduler"
	"github.com/pubnub-go/pncore/worker"
)

func TestScheduler_DispatchesToEveryContext(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Origin = "127.0.0.1"
	cfg.Port = 1
	cfg.UseStaticPool = false

	pool, err := pubnub.NewPool(cfg)
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if err := pool.CreateContexts(3); err != nil {
		t.Fatalf("CreateContexts: %v", err)
	}

	wp := worker.NewWorkerPool(2)
	wp.Start()
	defer wp.Stop()

	var calls int64
	sc := scheduler.NewScheduler(pool, wp)
	sc.Start(func(c *pubnub.Context) {
		atomic.AddInt64(&calls, 1)
	})

	time.Sleep(100 * time.Millisecond)
	sc.Stop()

	if atomic.LoadInt64(&calls) == 0 {
		t.Error("expected scheduler to dispatch at least one job")
	}
}
