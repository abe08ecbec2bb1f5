package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/lagopus-go/dpqueue/internal/telemetry"
	"github.com/lagopus-go/dpqueue/registry"
)

func TestNewRejectsInvalidCron(t *testing.T) {
	reg := registry.New(0)
	if _, err := New(reg, telemetry.New(), Config{Cron: "not a cron"}); err == nil {
		t.Fatal("expected invalid cron to be rejected")
	}
}

func TestRunOnceSamplesTelemetryAndFlagsSaturation(t *testing.T) {
	reg := registry.New(0)
	ctx := context.Background()
	if err := reg.Register(ctx, 1, "br0", "", registry.QueueInfo{
		UpCapacity: 2, DataCapacity: 2, DownCapacity: 2,
		UpMaxBatch: 2, DataMaxBatch: 2, DownMaxBatch: 2,
	}); err != nil {
		t.Fatalf("register: %v", err)
	}
	ent, err := reg.Lookup(1)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if err := ent.UpQueue().Put(registry.EventRecord{Kind: "a"}, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := ent.UpQueue().Put(registry.EventRecord{Kind: "b"}, 0); err != nil {
		t.Fatalf("put: %v", err)
	}
	reg.EntryFree(ent)

	tel := telemetry.New()
	sw, err := New(reg, tel, Config{Cron: "*/1 * * * *"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sw.runOnce()

	mf, err := tel.Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	found := false
	for _, f := range mf {
		if f.GetName() == "dpqueue_sweep_anomalies_total" {
			for _, m := range f.Metric {
				if m.GetCounter().GetValue() >= 1 {
					found = true
				}
			}
		}
	}
	if !found {
		t.Fatal("expected sweep_anomalies_total to be incremented for a full up_q")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	reg := registry.New(0)
	sw, err := New(reg, telemetry.New(), Config{Cron: "*/1 * * * *"})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
