package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/guidectl/internal/property"
	"github.com/danmuck/guidectl/internal/testutil/testlog"
)

func openTemp(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "guide.db"))
	if err != nil {
		t.Fatalf("open journal: %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  "); !errors.Is(err, ErrPathRequired) {
		t.Fatalf("expected ErrPathRequired, got %v", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	testlog.Start(t)
	j := openTemp(t)
	ctx := context.Background()
	start := time.Unix(1700000000, 0)

	if err := j.BeginSession(ctx, "s1", "guiding", property.AlgorithmCentroid, "CCD A", "Mount A", start); err != nil {
		t.Fatalf("begin: %v", err)
	}
	s, err := j.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if !s.Open() || s.Mode != "guiding" || s.Algorithm != "centroid" || s.CCD != "CCD A" || s.Guider != "Mount A" {
		t.Fatalf("unexpected open session: %+v", s)
	}
	if !s.StartedAt.Equal(start) {
		t.Fatalf("unexpected start: %v", s.StartedAt)
	}

	end := start.Add(time.Minute)
	if err := j.EndSession(ctx, "s1", "alert", "Guider Agent: aborted", end); err != nil {
		t.Fatalf("end: %v", err)
	}
	s, err = j.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	if s.Open() || !s.EndedAt.Equal(end) || s.EndState != "alert" || s.Message != "Guider Agent: aborted" {
		t.Fatalf("unexpected closed session: %+v", s)
	}
}

func TestEndUnknownSession(t *testing.T) {
	j := openTemp(t)
	err := j.EndSession(context.Background(), "missing", "idle", "", time.Now())
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := j.Session(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestSamplesInFrameOrder(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	at := time.Unix(1700000000, 0)
	if err := j.BeginSession(ctx, "s1", "preview", property.AlgorithmDonuts, "CCD", "", at); err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, frame := range []int64{3, 1, 2} {
		stats := property.Stats{Frame: frame, DriftX: float64(frame), DriftY: -float64(frame), RMSERA: 0.5}
		if err := j.RecordSample(ctx, "s1", stats, at.Add(time.Duration(frame)*time.Second)); err != nil {
			t.Fatalf("record %d: %v", frame, err)
		}
	}
	samples, err := j.Samples(ctx, "s1")
	if err != nil {
		t.Fatalf("samples: %v", err)
	}
	if len(samples) != 3 {
		t.Fatalf("expected 3 samples, got %d", len(samples))
	}
	for i, s := range samples {
		want := int64(i + 1)
		if s.Stats.Frame != want || s.Stats.DriftX != float64(want) || s.Stats.DriftY != -float64(want) {
			t.Fatalf("unexpected sample %d: %+v", i, s)
		}
		if s.Stats.RMSERA != 0.5 || s.SessionID != "s1" {
			t.Fatalf("unexpected sample %d: %+v", i, s)
		}
	}
}

func TestSessionsNewestFirst(t *testing.T) {
	j := openTemp(t)
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	for i, id := range []string{"a", "b", "c"} {
		if err := j.BeginSession(ctx, id, "preview", property.AlgorithmDonuts, "CCD", "", base.Add(time.Duration(i)*time.Second)); err != nil {
			t.Fatalf("begin %s: %v", id, err)
		}
	}
	sessions, err := j.Sessions(ctx, 2)
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "c" || sessions[1].ID != "b" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
}
