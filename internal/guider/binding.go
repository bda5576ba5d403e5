package guider

import (
	"context"
	"strings"

	"github.com/danmuck/guidectl/internal/property"
	"github.com/rs/zerolog/log"
)

// binding names the devices the agent drives. Names are not validated; an
// unknown device shows up as an exposure that never becomes busy.
type binding struct {
	ccd    string
	guider string
}

// Bind selects the CCD and guider. Empty names clear the slot. Changing the
// binding while a mode is busy aborts that mode first.
func (a *Agent) Bind(ctx context.Context, ccd, guider string) error {
	next := binding{ccd: strings.TrimSpace(ccd), guider: strings.TrimSpace(guider)}

	a.mu.Lock()
	prev := a.binding
	if next == prev {
		a.mu.Unlock()
		return nil
	}
	var ab *abortion
	if a.state.Busy() {
		ab = a.abortLocked()
	}
	if next.ccd != prev.ccd {
		a.watch.reset()
		a.resetReferenceLocked()
	}
	a.binding = next
	var reports []property.Message
	if ab != nil {
		reports = a.reportsLocked()
	}
	a.mu.Unlock()

	log.Info().
		Str("agent", a.cfg.Name).
		Str("ccd", next.ccd).
		Str("guider", next.guider).
		Bool("aborted", ab != nil).
		Msg("guider.Agent.Bind")
	if ab != nil {
		a.finishAbort(ctx, ab)
		a.publish(ctx, reports...)
	}
	return nil
}

// Binding returns the selected CCD and guider names.
func (a *Agent) Binding() (ccd, guider string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.binding.ccd, a.binding.guider
}
