package server

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/guidectl/internal/observability"
	"github.com/danmuck/guidectl/internal/testutil/testlog"
)

func TestHealthReportsName(t *testing.T) {
	testlog.Start(t)

	s := New(Config{Name: "Guider Agent"})
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["status"] != "ok" || body["name"] != "Guider Agent" || body["version"] != Version {
		t.Fatalf("unexpected health body: %v", body)
	}
	if rec.Header().Get(observability.RequestIDHeader) == "" {
		t.Fatalf("expected a request id header")
	}
}

func TestRequestIDIsEchoed(t *testing.T) {
	testlog.Start(t)

	s := New(Config{Name: "a"})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(observability.RequestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, req)
	if got := rec.Header().Get(observability.RequestIDHeader); got != "req-42" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestMetricsExposeGuiderFamilies(t *testing.T) {
	testlog.Start(t)

	s := New(Config{Name: "metrics-agent"})
	observability.RecordFrame("metrics-agent", "donuts", observability.FrameTracked, time.Millisecond)

	rec := httptest.NewRecorder()
	s.Engine().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status: %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "guidectl_intake_frames_total") {
		t.Fatalf("expected guider metric family in output")
	}
}

func TestServeStopsOnContextCancel(t *testing.T) {
	testlog.Start(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := New(Config{Name: "serve-test", ShutdownTimeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("get health: %v", err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not stop")
	}
}

func TestRunRequiresAddr(t *testing.T) {
	testlog.Start(t)

	if err := New(Config{}).Run(context.Background(), " "); err != ErrAddrRequired {
		t.Fatalf("expected ErrAddrRequired, got %v", err)
	}
}
