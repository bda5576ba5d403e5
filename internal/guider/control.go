package guider

import (
	"context"
	"time"

	"github.com/danmuck/guidectl/internal/digest"
	"github.com/danmuck/guidectl/internal/property"
)

// Correction is the output of a Corrector for one frame. Pulse durations are
// in milliseconds; a zero correction emits no pulse.
type Correction struct {
	DriftRA       float64
	DriftDec      float64
	CorrectionRA  float64
	CorrectionDec float64
	RMSERA        float64
	RMSEDec       float64

	North float64
	South float64
	East  float64
	West  float64
}

func (c Correction) pulse() bool {
	return c.North > 0 || c.South > 0 || c.East > 0 || c.West > 0
}

// Corrector turns drift into guider output while guiding.
type Corrector interface {
	// Reset is called when a guiding session starts.
	Reset()
	Correct(frame int64, drift digest.Drift) (Correction, error)
}

// Calibrator observes drift while calibrating.
type Calibrator interface {
	Reset()
	Observe(frame int64, drift digest.Drift) error
}

// Recorder journals sessions and published stats.
type Recorder interface {
	BeginSession(ctx context.Context, id, mode string, algorithm property.Algorithm, ccd, guider string, at time.Time) error
	EndSession(ctx context.Context, id, state, message string, at time.Time) error
	RecordSample(ctx context.Context, sessionID string, stats property.Stats, at time.Time) error
}
