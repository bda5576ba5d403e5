package guider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/guidectl/internal/observability"
	"github.com/danmuck/guidectl/internal/property"
)

// exposureWatch tracks the bound CCD's exposure vector. Every update closes
// and replaces changed so waiters wake without polling.
type exposureWatch struct {
	mu        sync.Mutex
	state     property.State
	remaining float64
	seq       uint64
	busy      uint64
	changed   chan struct{}
}

type exposureSnapshot struct {
	state     property.State
	remaining float64
	seq       uint64
	busy      uint64
	changed   <-chan struct{}
}

func newExposureWatch() *exposureWatch {
	return &exposureWatch{state: property.StateIdle, changed: make(chan struct{})}
}

func (w *exposureWatch) update(state property.State, remaining float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
	w.remaining = remaining
	w.seq++
	if state == property.StateBusy {
		w.busy++
	}
	close(w.changed)
	w.changed = make(chan struct{})
}

// reset forgets the observed vector, used when the CCD binding changes.
func (w *exposureWatch) reset() {
	w.update(property.StateIdle, 0)
}

func (w *exposureWatch) snapshot() exposureSnapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return exposureSnapshot{
		state:     w.state,
		remaining: w.remaining,
		seq:       w.seq,
		busy:      w.busy,
		changed:   w.changed,
	}
}

func (a *Agent) observeExposure(m property.ExposureState) {
	a.mu.Lock()
	ccd := a.binding.ccd
	a.mu.Unlock()
	if ccd == "" || m.Device != ccd {
		return
	}
	a.watch.update(m.State, m.Remaining)
}

// exposureLoop runs exposure cycles until the session ends. It returns the
// session's cancel cause or the failure that ended it.
func (a *Agent) exposureLoop(s *session) error {
	for {
		if s.ctx.Err() != nil {
			return context.Cause(s.ctx)
		}
		a.mu.Lock()
		ccd := a.binding.ccd
		seconds := a.exposure
		a.mu.Unlock()
		if ccd == "" {
			return ErrNoDeviceSelected
		}
		if err := a.exposeOnce(s, ccd, seconds); err != nil {
			return err
		}
	}
}

func (a *Agent) exposeOnce(s *session, ccd string, seconds float64) error {
	mark := a.watch.snapshot().busy
	a.publish(s.ctx, property.StartExposure{Device: ccd, Seconds: seconds})

	if err := a.awaitBusy(s.ctx, mark); err != nil {
		if s.ctx.Err() == nil {
			observability.RecordExposureCycle(a.cfg.Name, s.mode.String(), observability.ExposureTimeout)
		}
		return err
	}
	if err := a.awaitCompletion(s.ctx, seconds); err != nil {
		return err
	}
	observability.RecordExposureCycle(a.cfg.Name, s.mode.String(), observability.ExposureCompleted)
	return nil
}

// awaitBusy waits for a Busy exposure update newer than mark.
func (a *Agent) awaitBusy(ctx context.Context, mark uint64) error {
	timer := time.NewTimer(a.cfg.BusyAckTimeout)
	defer timer.Stop()
	for {
		snap := a.watch.snapshot()
		if snap.busy > mark {
			return nil
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-timer.C:
			return fmt.Errorf("%w in %s", ErrExposureTimeout, a.cfg.BusyAckTimeout)
		case <-snap.changed:
		}
	}
}

// awaitCompletion waits while the exposure is Busy. The local estimate of the
// remaining time starts at the exposure target, is refreshed from every device
// update and picks the coarse or fine step.
func (a *Agent) awaitCompletion(ctx context.Context, seconds float64) error {
	remaining := seconds
	var lastSeq uint64
	first := true
	for {
		snap := a.watch.snapshot()
		if snap.state != property.StateBusy {
			return nil
		}
		if !first && snap.seq != lastSeq && snap.remaining >= 0 {
			remaining = snap.remaining
		}
		first = false
		lastSeq = snap.seq

		step := a.completionStep(remaining)
		if a.stepObserver != nil {
			a.stepObserver(step)
		}
		timer := time.NewTimer(step)
		select {
		case <-ctx.Done():
			timer.Stop()
			return context.Cause(ctx)
		case <-snap.changed:
			timer.Stop()
		case <-timer.C:
			remaining -= step.Seconds()
		}
	}
}

// completionStep is CoarseStep while more than one coarse step of exposure
// remains, FineStep after.
func (a *Agent) completionStep(remaining float64) time.Duration {
	if remaining > a.cfg.CoarseStep.Seconds() {
		return a.cfg.CoarseStep
	}
	return a.cfg.FineStep
}
