package safego

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/license-console/license-console/internal/telemetry"
)

func waitOrFail(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine did not complete within timeout")
	}
}

func TestGo_RunsFunction(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	Go("test_run", func() {
		defer wg.Done()
	})
	waitOrFail(t, &wg)
}

func TestGo_RecoversPanicAndCountsIt(t *testing.T) {
	before := testutil.ToFloat64(telemetry.BackgroundPanicsTotal.WithLabelValues("test_panic"))

	var wg sync.WaitGroup
	wg.Add(1)
	Go("test_panic", func() {
		defer wg.Done()
		panic("intentional panic in test")
	})
	waitOrFail(t, &wg)

	// The deferred recover runs after wg.Done, so poll briefly for the counter.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if testutil.ToFloat64(telemetry.BackgroundPanicsTotal.WithLabelValues("test_panic")) == before+1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Errorf("background_panics_total{task=test_panic} did not increase")
}
