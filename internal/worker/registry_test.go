package worker

import (
	"context"
	"testing"

	"github.com/qflowio/queueworker/internal/model"
)

func noopFunc(_ context.Context, rec model.QueueRecord) (model.Payload, error) {
	return rec.Payload, nil
}

func TestRegistryRejectsEmptyName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("", noopFunc); err == nil {
		t.Fatalf("expected error for empty flow name")
	}
}

func TestRegistryRejectsNilFunc(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("ingest", nil); err == nil {
		t.Fatalf("expected error for nil ProcessFunc")
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("ingest", noopFunc); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("ingest", noopFunc); err == nil {
		t.Fatalf("expected error for duplicate registration")
	}
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Get("missing"); ok {
		t.Fatalf("expected no ProcessFunc for an unregistered flow")
	}
}

func TestRegistryGetFound(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("ingest", noopFunc); err != nil {
		t.Fatalf("Register: %v", err)
	}
	fn, ok := r.Get("ingest")
	if !ok || fn == nil {
		t.Fatalf("expected a registered ProcessFunc for ingest")
	}
}

func TestEchoProcessFuncMergesOwnPayload(t *testing.T) {
	rec := model.QueueRecord{ID: 42, Payload: model.Payload{"in": "x"}}
	result, err := EchoProcessFunc(context.Background(), rec)
	if err != nil {
		t.Fatalf("EchoProcessFunc: %v", err)
	}
	if result["in"] != "x" {
		t.Fatalf("expected original payload preserved, got %#v", result)
	}
	if result["echoed_from"] != rec.ID {
		t.Fatalf("expected echoed_from to carry the record id, got %#v", result["echoed_from"])
	}
}
