package probe

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fleetops/healthwatch/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestProbeClassifiesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(map[string]string{"svc": srv.URL}, time.Second, testLogger())
	check := p.Probe(context.Background(), "req-1", "svc")

	if check.Status != types.StatusUp {
		t.Fatalf("expected UP, got %s", check.Status)
	}
	if check.IsFailure() {
		t.Fatal("UP must not be a failure")
	}
}

func TestProbeClassifiesDegraded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := New(map[string]string{"svc": srv.URL}, time.Second, testLogger())
	check := p.Probe(context.Background(), "req-1", "svc")

	if check.Status != types.StatusDegraded {
		t.Fatalf("expected DEGRADED, got %s", check.Status)
	}
	if check.IsFailure() {
		t.Fatal("DEGRADED must not count as a failure")
	}
}

func TestProbeClassifiesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(map[string]string{"svc": srv.URL}, 5*time.Millisecond, testLogger())
	check := p.Probe(context.Background(), "req-1", "svc")

	if check.Status != types.StatusTimeout {
		t.Fatalf("expected TIMEOUT, got %s", check.Status)
	}
	if !check.IsTimeout {
		t.Fatal("expected IsTimeout to be set")
	}
	if !check.IsFailure() {
		t.Fatal("TIMEOUT must count as a failure")
	}
}

func TestProbeClassifiesDownOnConnectionRefused(t *testing.T) {
	p := New(map[string]string{"svc": "http://127.0.0.1:1"}, time.Second, testLogger())
	check := p.Probe(context.Background(), "req-1", "svc")

	if check.Status != types.StatusDown {
		t.Fatalf("expected DOWN, got %s", check.Status)
	}
	if !check.IsFailure() {
		t.Fatal("DOWN must count as a failure")
	}
}

func TestProbeAllRunsConcurrentlyAndPreservesOrder(t *testing.T) {
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer up.Close()
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	p := New(map[string]string{"a": up.URL, "b": down.URL}, time.Second, testLogger())
	results := p.ProbeAll(context.Background(), "req-1", []string{"a", "b"})

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Service != "a" || results[0].Status != types.StatusUp {
		t.Fatalf("unexpected result[0]: %+v", results[0])
	}
	if results[1].Service != "b" || results[1].Status != types.StatusDegraded {
		t.Fatalf("unexpected result[1]: %+v", results[1])
	}
}
