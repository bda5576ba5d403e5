package guider

import (
	"context"
	"fmt"

	"github.com/danmuck/guidectl/internal/observability"
	"github.com/danmuck/guidectl/internal/property"
	"github.com/rs/zerolog/log"
)

type abortion struct {
	session *session
	ccd     string
}

// Abort cancels the running mode, sends one abort-exposure command to the
// bound CCD and leaves the agent in Alert. It is a no-op when no mode is busy.
func (a *Agent) Abort(ctx context.Context) error {
	a.mu.Lock()
	if !a.state.Busy() {
		a.mu.Unlock()
		return nil
	}
	ab := a.abortLocked()
	reports := a.reportsLocked()
	a.mu.Unlock()

	a.finishAbort(ctx, ab)
	a.publish(ctx, reports...)
	return nil
}

// abortLocked ends the busy session in Alert. The caller runs finishAbort
// once the lock is released.
func (a *Agent) abortLocked() *abortion {
	ccd := a.binding.ccd
	s := a.endSessionLocked(StateAlert, fmt.Sprintf("%s: aborted", a.cfg.Name))
	return &abortion{session: s, ccd: ccd}
}

func (a *Agent) finishAbort(ctx context.Context, ab *abortion) {
	mode := ModeNone
	if ab.session != nil {
		mode = ab.session.mode
		ab.session.cancel(ErrAborted)
	}
	if ab.ccd != "" {
		a.publish(ctx, property.AbortExposure{Device: ab.ccd})
	}
	observability.RecordExposureCycle(a.cfg.Name, mode.String(), observability.ExposureAborted)
	log.Warn().
		Str("agent", a.cfg.Name).
		Str("ccd", ab.ccd).
		Str("mode", mode.String()).
		Msg("guider.Agent.Abort")
}
