package health

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/qflowio/queueworker/internal/config"
	"github.com/qflowio/queueworker/internal/lifecycle"
	"github.com/qflowio/queueworker/internal/logger"
)

func TestHandleLiveReturns503WhenNotLive(t *testing.T) {
	s := NewServer(&Surface{machine: lifecycle.NewMachine()}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 for a not-yet-started machine, got %d", rec.Code)
	}
}

func TestHandleLiveReturns200WhenRunning(t *testing.T) {
	m := lifecycle.NewMachine()
	m.Transition(lifecycle.StateStarting, "test")
	m.Transition(lifecycle.StateRunning, "test")
	s := NewServer(&Surface{machine: m}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when Running, got %d", rec.Code)
	}
}

func TestHandleReadyReturns503BeforeRunning(t *testing.T) {
	s := NewServer(&Surface{machine: lifecycle.NewMachine(), cfg: config.Config{}}, logger.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	rec := httptest.NewRecorder()
	s.engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before Running, got %d", rec.Code)
	}
}
