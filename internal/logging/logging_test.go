package logging

import (
	"context"
	"testing"
)

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()

	if got := RequestID(ctx); got != "" {
		t.Errorf("Expected empty request ID on fresh context, got %q", got)
	}

	ctx = WithRequestID(ctx, "req-123")
	if got := RequestID(ctx); got != "req-123" {
		t.Errorf("Expected req-123, got %q", got)
	}
}

func TestActorIDRoundTrip(t *testing.T) {
	ctx := WithActorID(context.Background(), "usr_9")
	if got := ActorID(ctx); got != "usr_9" {
		t.Errorf("Expected usr_9, got %q", got)
	}
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	if FromContext(context.Background()) == nil {
		t.Error("Expected default logger, got nil")
	}
}

func TestL_AttachesRequestContext(t *testing.T) {
	logger := New("debug", "text")
	ctx := WithLogger(context.Background(), logger)
	ctx = WithRequestID(ctx, "req-1")
	ctx = WithActorID(ctx, "adm_1")

	if L(ctx) == nil {
		t.Error("Expected contextual logger, got nil")
	}
}

func TestNew_Levels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		if New(level, "json") == nil {
			t.Errorf("New(%q) returned nil", level)
		}
	}
}
