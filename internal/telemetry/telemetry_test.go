package telemetry

import (
	"context"
	"errors"
	"testing"
)

func TestStartSpanFinishWithoutErrorDoesNotPanic(t *testing.T) {
	tr := NewTracer("test")
	ctx, finish := tr.StartSpan(context.Background(), "tool.store_memory", map[string]string{"agent_id": "a1"})
	if ctx == nil {
		t.Fatal("expected non-nil context")
	}
	finish(nil)
}

func TestStartSpanFinishWithErrorDoesNotPanic(t *testing.T) {
	tr := NewTracer("test")
	_, finish := tr.StartSpan(context.Background(), "tool.delete_memory", nil)
	finish(errors.New("boom"))
}
