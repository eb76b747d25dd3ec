// Package scheduler fans periodic work out across every Context in a
// pubnub.Pool, using a worker.WorkerPool to bound concurrency.
package scheduler

import (
	"sync"

	"github.com/pubnub-go/pncore/pubnub"
	"github.com/pubnub-go/pncore/worker"
)

// Scheduler bridges a pubnub.Pool and a worker.WorkerPool.
//
// Architecture:
//   - Scheduler.Start spawns a control goroutine that iterates over every
//     Context in the Pool and submits a job for each one to the WorkerPool.
//     The job calls jobFn (a caller-supplied closure stored at Start time),
//     typically a heartbeat or a subscribe-loop health check.
//   - A stop channel allows clean shutdown: calling Stop closes the channel,
//     which causes the control goroutine to exit after the current iteration
//     completes.
//   - The design is intentionally decoupled: Scheduler does not know what the
//     job does; it only knows how to fan work out to Contexts efficiently.
type Scheduler struct {
	pool       *pubnub.Pool
	workerPool *worker.WorkerPool
	stopCh     chan struct{}
	once       sync.Once
}

// NewScheduler creates a Scheduler that uses pool to enumerate Contexts and
// wp to execute jobs.
func NewScheduler(pool *pubnub.Pool, wp *worker.WorkerPool) *Scheduler {
	return &Scheduler{
		pool:       pool,
		workerPool: wp,
		stopCh:     make(chan struct{}),
	}
}

// Start begins continuous job assignment. For every Context currently
// registered in the Pool, the Scheduler submits a job to the WorkerPool via
// jobFn(ctx). The loop runs until Stop is called.
//
// Start is non-blocking: the control goroutine runs in the background.
// jobFn must be safe for concurrent use by multiple goroutines.
func (sc *Scheduler) Start(jobFn func(c *pubnub.Context)) {
	go func() {
		for {
			select {
			case <-sc.stopCh:
				return
			default:
				sc.dispatchJobs(jobFn)
			}
		}
	}()
}

// dispatchJobs iterates over every registered Context and submits a job for
// each one. Internally it queries the pool by id so it does not need to hold
// any locks while waiting for the worker pool to accept the job.
func (sc *Scheduler) dispatchJobs(jobFn func(c *pubnub.Context)) {
	count := sc.pool.Count()
	for id := 0; id < count; id++ {
		c, ok := sc.pool.Get(id)
		if !ok {
			continue
		}
		captured := c
		sc.workerPool.Submit(func() {
			jobFn(captured)
		})
	}
}

// Stop signals the Scheduler to stop dispatching new jobs. It does not wait
// for in-flight jobs to complete; call WorkerPool.Stop for that. Stop is
// idempotent.
func (sc *Scheduler) Stop() {
	sc.once.Do(func() {
		close(sc.stopCh)
	})
}
