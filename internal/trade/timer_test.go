package trade

import (
	"context"
	"testing"
	"time"

	"github.com/swiftramp/swiftramp/internal/logging"
)

func TestTimer_SweepsStalledTrades(t *testing.T) {
	svc, _, _ := newTestService(t)
	svc.WithTTL(time.Millisecond)

	tr := openTrade(t, svc)

	timer := NewTimer(svc, svc.store, 5*time.Millisecond, logging.New("error", "text"))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go timer.Start(ctx)
	defer timer.Stop()

	deadline := time.After(2 * time.Second)
	for {
		got, err := svc.Get(context.Background(), tr.ID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Status == StatusExpired {
			if got.Resolution != "ttl_elapsed" {
				t.Errorf("Expected ttl_elapsed resolution, got %q", got.Resolution)
			}
			return
		}
		select {
		case <-deadline:
			t.Fatalf("Timer never expired the trade, status %s", got.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestTimer_RunningFlag(t *testing.T) {
	svc, _, _ := newTestService(t)
	timer := NewTimer(svc, svc.store, 10*time.Millisecond, logging.New("error", "text"))

	if timer.Running() {
		t.Error("Expected not running before Start")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go timer.Start(ctx)

	deadline := time.After(time.Second)
	for !timer.Running() {
		select {
		case <-deadline:
			t.Fatal("Timer never reported running")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	deadline = time.After(time.Second)
	for timer.Running() {
		select {
		case <-deadline:
			t.Fatal("Timer never stopped")
		case <-time.After(time.Millisecond):
		}
	}
}
