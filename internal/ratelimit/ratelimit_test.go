package ratelimit

import (
	"testing"
	"time"
)

func TestAllow_BurstThenReject(t *testing.T) {
	l := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.Allow("usr_1") {
			t.Fatalf("Expected request %d within burst to be allowed", i+1)
		}
	}
	if l.Allow("usr_1") {
		t.Error("Expected request beyond burst to be rejected")
	}
}

func TestAllow_KeysAreIndependent(t *testing.T) {
	l := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	if !l.Allow("usr_a") {
		t.Fatal("Expected first request for usr_a to pass")
	}
	if !l.Allow("usr_b") {
		t.Error("Expected usr_b to have its own bucket")
	}
	if l.Allow("usr_a") {
		t.Error("Expected usr_a bucket to be drained")
	}
}

func TestAllow_RefillsOverTime(t *testing.T) {
	l := New(Config{
		RequestsPerMinute: 6000, // 100 tokens/sec so the test stays fast
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer l.Stop()

	if !l.Allow("adm_1") {
		t.Fatal("Expected first request to pass")
	}
	if l.Allow("adm_1") {
		t.Fatal("Expected bucket drained")
	}

	time.Sleep(20 * time.Millisecond)
	if !l.Allow("adm_1") {
		t.Error("Expected bucket to refill after waiting")
	}
}
