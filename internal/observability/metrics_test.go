// ABOUTME: Tests for the propagation metrics collector
// ABOUTME: Verifies counters, adopt/mint split, and concurrent recording

package observability_test

import (
	"sync"
	"testing"

	"github.com/loomtrace-io/loomtrace/internal/observability"
)

func TestMetrics_RecordRequest(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics()
	m.RecordRequest(true)
	m.RecordRequest(true)
	m.RecordRequest(false)

	snap := m.Snapshot()
	if snap.RequestsTraced != 3 {
		t.Errorf("RequestsTraced = %d, want 3", snap.RequestsTraced)
	}
	if snap.IDsAdopted != 2 {
		t.Errorf("IDsAdopted = %d, want 2", snap.IDsAdopted)
	}
	if snap.IDsMinted != 1 {
		t.Errorf("IDsMinted = %d, want 1", snap.IDsMinted)
	}
}

func TestMetrics_EnvelopeCounters(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics()
	m.RecordPublish()
	m.RecordConsume()
	m.RecordRetry()
	m.RecordDeadLetter()
	m.RecordDedupDrop()
	m.RecordScheduledRun()

	snap := m.Snapshot()
	if snap.EnvelopesPublished != 1 {
		t.Errorf("EnvelopesPublished = %d, want 1", snap.EnvelopesPublished)
	}
	if snap.EnvelopesConsumed != 1 {
		t.Errorf("EnvelopesConsumed = %d, want 1", snap.EnvelopesConsumed)
	}
	if snap.Retries != 1 {
		t.Errorf("Retries = %d, want 1", snap.Retries)
	}
	if snap.DeadLetters != 1 {
		t.Errorf("DeadLetters = %d, want 1", snap.DeadLetters)
	}
	if snap.DedupDrops != 1 {
		t.Errorf("DedupDrops = %d, want 1", snap.DedupDrops)
	}
	if snap.ScheduledRuns != 1 {
		t.Errorf("ScheduledRuns = %d, want 1", snap.ScheduledRuns)
	}
	if snap.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}

func TestMetrics_ConcurrentRecording(t *testing.T) {
	t.Parallel()

	m := observability.NewMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.RecordPublish()
				m.RecordConsume()
			}
		}()
	}
	wg.Wait()

	snap := m.Snapshot()
	if snap.EnvelopesPublished != 1000 {
		t.Errorf("EnvelopesPublished = %d, want 1000", snap.EnvelopesPublished)
	}
	if snap.EnvelopesConsumed != 1000 {
		t.Errorf("EnvelopesConsumed = %d, want 1000", snap.EnvelopesConsumed)
	}
}
