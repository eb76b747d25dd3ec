package metrics_test

import (
	"sync"
	"testing"

	"github.com/pubnub-go/pncore/metrics"
)

func TestIncrements(t *testing.T) {
	m := metrics.NewMetrics()
	m.IncrementTotal()
	m.IncrementTotal()
	m.IncrementSuccess()
	m.IncrementFailed()
	m.IncrementMessagesReceived(3)

	total, success, failed, messagesReceived := m.Snapshot()
	if total != 2 {
		t.Errorf("TotalRequests: got %d, want 2", total)
	}
	if success != 1 {
		t.Errorf("Success: got %d, want 1", success)
	}
	if failed != 1 {
		t.Errorf("Failed: got %d, want 1", failed)
	}
	if messagesReceived != 3 {
		t.Errorf("MessagesReceived: got %d, want 3", messagesReceived)
	}
}

func TestIncrementMessagesReceivedIgnoresNonPositive(t *testing.T) {
	m := metrics.NewMetrics()
	m.IncrementMessagesReceived(0)
	m.IncrementMessagesReceived(-5)
	if _, _, _, messagesReceived := m.Snapshot(); messagesReceived != 0 {
		t.Errorf("MessagesReceived: got %d, want 0", messagesReceived)
	}
}

func TestConcurrentIncrements(t *testing.T) {
	m := metrics.NewMetrics()
	const goroutines = 1000
	var wg sync.WaitGroup
	wg.Add(goroutines)
	for i := 0; i < goroutines; i++ {
		go func() {
			defer wg.Done()
			m.IncrementTotal()
			m.IncrementSuccess()
		}()
	}
	wg.Wait()

	total, success, _, _ := m.Snapshot()
	if total != goroutines {
		t.Errorf("TotalRequests: got %d, want %d", total, goroutines)
	}
	if success != goroutines {
		t.Errorf("Success: got %d, want %d", success, goroutines)
	}
}
