package telemetry

import (
	"context"
	"testing"
	"time"
)

func TestSetup_NoEndpointInstallsNonExportingProvider(t *testing.T) {
	shutdown, err := Setup(context.Background(), Config{ServiceName: "test-agent"})
	if err != nil {
		t.Fatalf("Setup: %v", err)
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	}()

	tracer := Tracer()
	if tracer == nil {
		t.Fatal("expected a non-nil tracer")
	}
}

func TestStartTransitionSpan_ReturnsSpanAndContext(t *testing.T) {
	ctx, span := StartTransitionSpan(context.Background(), "agent-1", "plan", 0)
	if span == nil {
		t.Fatal("expected a non-nil span")
	}
	if ctx == nil {
		t.Fatal("expected a non-nil context")
	}
	span.End()
}

func TestStartAndEndToolSpan(t *testing.T) {
	_, span := StartToolSpan(context.Background(), "echo", "trace-1")
	EndToolSpan(span, time.Now(), true, "")
}
