package engine

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/store"
)

func quietSamples(t *testing.T, st *store.MemoryStore, service string, now time.Time) {
	t.Helper()
	samples := make([]models.MetricSample, 0, 12)
	for i := 0; i < 12; i++ {
		samples = append(samples, models.MetricSample{
			Service:    service,
			MetricName: "response_time_ms",
			Value:      200,
			Timestamp:  now.Add(time.Duration(i-12) * time.Minute),
		})
	}
	if err := st.SaveSamples(context.Background(), samples); err != nil {
		t.Fatalf("SaveSamples: %v", err)
	}
}

func TestSchedulerSweepCoversAllServices(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	quietSamples(t, st, "checkout", now)
	quietSamples(t, st, "billing", now)

	orch := newTestOrchestrator(t, st, &fakeAlertSink{}, Options{})
	sched := NewScheduler(orch, time.Minute, nil)

	sched.Sweep(context.Background())

	for _, service := range []string{"billing", "checkout"} {
		last, err := st.GetLastAnalysis(context.Background(), service)
		if err != nil {
			t.Fatalf("GetLastAnalysis(%s): %v", service, err)
		}
		if last.IsZero() {
			t.Errorf("service %s was not analyzed", service)
		}
	}
}

func TestSchedulerSkipsOverlappingSweep(t *testing.T) {
	st := store.NewMemoryStore()
	now := time.Now().UTC()
	quietSamples(t, st, "checkout", now)

	orch := newTestOrchestrator(t, st, &fakeAlertSink{}, Options{})
	sched := NewScheduler(orch, time.Minute, nil)

	sched.inFlight.Store(true)
	sched.Sweep(context.Background())

	last, err := st.GetLastAnalysis(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("GetLastAnalysis: %v", err)
	}
	if !last.IsZero() {
		t.Fatal("sweep ran while another was marked in flight")
	}

	sched.inFlight.Store(false)
	sched.Sweep(context.Background())

	last, err = st.GetLastAnalysis(context.Background(), "checkout")
	if err != nil {
		t.Fatalf("GetLastAnalysis: %v", err)
	}
	if last.IsZero() {
		t.Fatal("sweep did not run after the in-flight flag cleared")
	}
}

func TestSchedulerRunStopsOnCancel(t *testing.T) {
	st := store.NewMemoryStore()
	orch := newTestOrchestrator(t, st, &fakeAlertSink{}, Options{})
	sched := NewScheduler(orch, 10*time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}
