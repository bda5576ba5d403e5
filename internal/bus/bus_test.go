package bus

import (
	"context"
	"errors"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/guidectl/internal/property"
	"github.com/danmuck/guidectl/internal/testutil/testlog"
)

func TestMemoryDeliversInPublishOrder(t *testing.T) {
	testlog.Start(t)

	b := NewMemory()
	defer b.Close()

	var mu sync.Mutex
	var got []float64
	cancel, err := b.Subscribe(func(msg property.Message) {
		if m, ok := msg.(property.StartExposure); ok {
			mu.Lock()
			got = append(got, m.Seconds)
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer cancel()

	ctx := context.Background()
	for i := 0; i < 50; i++ {
		if err := b.Publish(ctx, property.StartExposure{Device: "ccd", Seconds: float64(i)}); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 50 {
		t.Fatalf("expected 50 deliveries, got %d", len(got))
	}
	for i, v := range got {
		if v != float64(i) {
			t.Fatalf("out of order at %d: %v", i, got)
		}
	}
}

func TestMemoryHandlerMayPublish(t *testing.T) {
	testlog.Start(t)

	b := NewMemory()
	defer b.Close()

	var mu sync.Mutex
	var aborts int
	_, err := b.Subscribe(func(msg property.Message) {
		switch m := msg.(type) {
		case property.RequestAbort:
			_ = b.Publish(context.Background(), property.AbortExposure{Device: m.Agent + ".ccd"})
		case property.AbortExposure:
			mu.Lock()
			aborts++
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Publish(context.Background(), property.RequestAbort{Agent: "agent"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	ok := waitForCondition(time.Second, 5*time.Millisecond, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return aborts == 1
	})
	if !ok {
		t.Fatalf("expected nested publish to be delivered")
	}
}

func TestMemoryCancelStopsDelivery(t *testing.T) {
	testlog.Start(t)

	b := NewMemory()
	defer b.Close()

	var mu sync.Mutex
	count := 0
	cancel, err := b.Subscribe(func(property.Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	ctx := context.Background()
	_ = b.Publish(ctx, property.RequestStop{Agent: "a"})
	_ = b.Flush(ctx)
	cancel()
	cancel()
	_ = b.Publish(ctx, property.RequestStop{Agent: "a"})
	_ = b.Flush(ctx)

	mu.Lock()
	defer mu.Unlock()
	if count != 1 {
		t.Fatalf("expected 1 delivery, got %d", count)
	}
}

func TestMemoryRecoversHandlerPanic(t *testing.T) {
	testlog.Start(t)

	b := NewMemory()
	defer b.Close()

	var mu sync.Mutex
	seen := 0
	_, _ = b.Subscribe(func(property.Message) { panic("boom") })
	_, _ = b.Subscribe(func(property.Message) {
		mu.Lock()
		seen++
		mu.Unlock()
	})
	ctx := context.Background()
	_ = b.Publish(ctx, property.RequestAbort{Agent: "a"})
	_ = b.Publish(ctx, property.RequestAbort{Agent: "a"})
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if seen != 2 {
		t.Fatalf("expected dispatch to survive panics, saw %d", seen)
	}
}

func TestMemoryRejectsAfterClose(t *testing.T) {
	testlog.Start(t)

	b := NewMemory()
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := b.Publish(context.Background(), property.RequestStop{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := b.Subscribe(func(property.Message) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on subscribe, got %v", err)
	}
	if err := b.Publish(context.Background(), nil); !errors.Is(err, ErrNilMessage) {
		t.Fatalf("expected ErrNilMessage, got %v", err)
	}
}

func TestNextBackoffDelay(t *testing.T) {
	testlog.Start(t)

	cfg := BackoffConfig{InitialDelay: 100 * time.Millisecond, Multiplier: 2, MaxDelay: time.Second}
	if got := NextBackoffDelay(cfg, 1, nil); got != 100*time.Millisecond {
		t.Fatalf("attempt 1: %v", got)
	}
	if got := NextBackoffDelay(cfg, 3, nil); got != 400*time.Millisecond {
		t.Fatalf("attempt 3: %v", got)
	}
	if got := NextBackoffDelay(cfg, 10, nil); got != time.Second {
		t.Fatalf("attempt 10 should cap: %v", got)
	}
	cfg.Jitter = true
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 20; i++ {
		got := NextBackoffDelay(cfg, 2, rng)
		if got < 100*time.Millisecond || got > 300*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestConnectNATSRequiresURL(t *testing.T) {
	testlog.Start(t)

	if _, err := ConnectNATS(context.Background(), NATSConfig{}); !errors.Is(err, ErrURLRequired) {
		t.Fatalf("expected ErrURLRequired, got %v", err)
	}
}

func TestConnectNATSGivesUpAfterMaxAttempts(t *testing.T) {
	testlog.Start(t)

	cfg := NATSConfig{
		URL:     "nats://127.0.0.1:1",
		Backoff: BackoffConfig{InitialDelay: time.Millisecond, MaxAttempts: 2},
	}
	if _, err := ConnectNATS(context.Background(), cfg); err == nil {
		t.Fatalf("expected connect failure")
	}
}

func TestNATSRoundTrip(t *testing.T) {
	testlog.Start(t)

	url := os.Getenv("GUIDECTL_NATS_URL")
	if url == "" {
		t.Skip("GUIDECTL_NATS_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	b, err := ConnectNATS(ctx, NATSConfig{URL: url, SubjectPrefix: "guidectl_test"})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer b.Close()

	got := make(chan property.Message, 1)
	stop, err := b.Subscribe(func(msg property.Message) {
		select {
		case got <- msg:
		default:
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()
	if err := b.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	want := property.GuidePulse{Device: "Mount Simulator", North: 120, West: 40}
	if err := b.Publish(ctx, want); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-got:
		if msg != property.Message(want) {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-ctx.Done():
		t.Fatalf("timed out waiting for message")
	}
}

func waitForCondition(timeout time.Duration, interval time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(interval)
	}
	return fn()
}
