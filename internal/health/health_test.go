package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) result {
	t.Helper()
	var body result
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode JSON: %v", err)
	}
	return body
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()
	h := New(StorePing(func(context.Context) error {
		return errors.New("store is down")
	}))

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest("GET", "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := decodeResult(t, rec).Status; got != "ok" {
		t.Errorf("status = %q, want %q", got, "ok")
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestReadyzAllPass(t *testing.T) {
	t.Parallel()
	h := New(
		StorePing(func(context.Context) error { return nil }),
		LoopAlive(time.Now, time.Minute),
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	body := decodeResult(t, rec)
	if body.Status != "ok" {
		t.Errorf("status = %q, want %q", body.Status, "ok")
	}
	for _, name := range []string{"store", "game_loop"} {
		if got := body.Checks[name].Status; got != "ok" {
			t.Errorf("check %s = %q, want %q", name, got, "ok")
		}
	}
}

func TestReadyzFailingStore(t *testing.T) {
	t.Parallel()
	h := New(
		StorePing(func(context.Context) error {
			return errors.New("connection refused")
		}),
		LoopAlive(time.Now, time.Minute),
	)

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
	body := decodeResult(t, rec)
	if body.Status != "fail" {
		t.Errorf("status = %q, want %q", body.Status, "fail")
	}
	if got := body.Checks["store"]; got.Status != "fail" || got.Error != "connection refused" {
		t.Errorf("store check = %+v, want fail/connection refused", got)
	}
	// One failing dependency does not taint the others.
	if got := body.Checks["game_loop"].Status; got != "ok" {
		t.Errorf("game_loop check = %q, want %q", got, "ok")
	}
}

type stubBus struct{ connected bool }

func (s stubBus) IsConnected() bool { return s.connected }

func TestBusConnectedChecker(t *testing.T) {
	t.Parallel()

	if err := BusConnected(stubBus{connected: true}).Check(context.Background()); err != nil {
		t.Errorf("connected bus: %v, want nil", err)
	}
	err := BusConnected(stubBus{connected: false}).Check(context.Background())
	if err == nil {
		t.Error("disconnected bus reported ready")
	}
}

func TestLoopAliveChecker(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	fresh := LoopAlive(time.Now, time.Minute)
	if err := fresh.Check(ctx); err != nil {
		t.Errorf("fresh tick: %v, want nil", err)
	}

	stale := LoopAlive(func() time.Time {
		return time.Now().Add(-5 * time.Minute)
	}, time.Minute)
	err := stale.Check(ctx)
	if err == nil || !strings.Contains(err.Error(), "stalled") {
		t.Errorf("stale tick err = %v, want stalled", err)
	}

	never := LoopAlive(func() time.Time { return time.Time{} }, time.Minute)
	if never.Check(ctx) == nil {
		t.Error("loop that never ticked reported ready")
	}
}

func TestReadyzNoCheckers(t *testing.T) {
	t.Parallel()
	h := New()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()
	mux := http.NewServeMux()
	New(LoopAlive(time.Now, time.Minute)).Register(mux)

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want %d", path, rec.Code, http.StatusOK)
		}
	}
}

func TestReadyzRespectsCancellation(t *testing.T) {
	t.Parallel()
	h := New(Checker{Name: "slow", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest("GET", "/readyz", nil).WithContext(ctx))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
