package guider

import (
	"context"
	"fmt"
	"time"

	"github.com/danmuck/guidectl/internal/digest"
	"github.com/danmuck/guidectl/internal/observability"
	"github.com/danmuck/guidectl/internal/property"
	"github.com/rs/zerolog/log"
)

type frameJob struct {
	generation uint64
	frame      digest.Frame
}

// observeImage queues a completed frame from the bound CCD. Frames in an
// unsupported format, or arriving while the queue is full, are dropped.
func (a *Agent) observeImage(m property.ImageReady) {
	a.mu.Lock()
	ccd := a.binding.ccd
	gen := a.generation
	alg := a.algorithm
	a.mu.Unlock()
	if ccd == "" || m.Device != ccd || m.State != property.StateOK {
		return
	}

	f, err := digest.ParseRaw(m.Blob)
	if err != nil {
		log.Debug().Err(err).Str("agent", a.cfg.Name).Str("ccd", ccd).Msg("guider.Agent.observeImage skip")
		return
	}
	select {
	case a.intake <- frameJob{generation: gen, frame: f}:
	default:
		observability.RecordFrame(a.cfg.Name, alg.String(), observability.FrameDropped, 0)
		log.Debug().Str("agent", a.cfg.Name).Msg("guider.Agent.observeImage queue full")
	}
}

func (a *Agent) intakeLoop() {
	defer a.wg.Done()
	for {
		select {
		case <-a.ctx.Done():
			return
		case job := <-a.intake:
			if err := a.processRecovered(job); err != nil {
				log.Debug().Err(err).Str("agent", a.cfg.Name).Msg("guider.Agent.intakeLoop frame dropped")
			}
		}
	}
}

// processRecovered turns a panic while digesting one frame into a dropped
// frame so the intake worker keeps running.
func (a *Agent) processRecovered(job frameJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("agent", a.cfg.Name).
				Msg("guider.Agent.intakeLoop frame panic")
			a.mu.Lock()
			alg := a.algorithm
			a.mu.Unlock()
			observability.RecordFrame(a.cfg.Name, alg.String(), observability.FrameFailed, 0)
			err = fmt.Errorf("%w: %v", ErrFramePanic, r)
		}
	}()
	return a.process(job)
}

// ProcessFrame runs one frame through intake synchronously, as if it had just
// been received from the bound CCD.
func (a *Agent) ProcessFrame(f digest.Frame) error {
	a.mu.Lock()
	gen := a.generation
	a.mu.Unlock()
	return a.process(frameJob{generation: gen, frame: f})
}

// process digests one frame. The first success of a generation becomes the
// reference; later ones publish drift. Nothing is mutated on failure.
func (a *Agent) process(job frameJob) error {
	a.intakeMu.Lock()
	defer a.intakeMu.Unlock()

	a.mu.Lock()
	if job.generation != a.generation {
		a.mu.Unlock()
		return ErrStaleFrame
	}
	alg := a.algorithm
	ref := a.reference
	mode := a.state.Mode()
	a.mu.Unlock()

	start := time.Now()
	d, err := digest.Compute(alg, job.frame)
	if err != nil {
		observability.RecordFrame(a.cfg.Name, alg.String(), observability.FrameFailed, time.Since(start))
		return err
	}

	if ref == nil {
		a.mu.Lock()
		if job.generation != a.generation {
			a.mu.Unlock()
			return ErrStaleFrame
		}
		a.reference = &d
		a.frame = 1
		a.mu.Unlock()
		observability.RecordFrame(a.cfg.Name, alg.String(), observability.FrameReference, time.Since(start))
		return nil
	}

	drift, err := digest.Estimate(*ref, d)
	if err != nil {
		observability.RecordFrame(a.cfg.Name, alg.String(), observability.FrameFailed, time.Since(start))
		return err
	}

	stats := property.Stats{DriftX: drift.X, DriftY: drift.Y}
	var correction Correction
	a.mu.Lock()
	next := a.frame + 1
	a.mu.Unlock()
	switch mode {
	case ModeGuiding:
		if a.cfg.Corrector != nil {
			correction, err = a.cfg.Corrector.Correct(next, drift)
			if err != nil {
				log.Warn().Err(err).Str("agent", a.cfg.Name).Int64("frame", next).Msg("guider.Agent.process correction failed")
				correction = Correction{}
			}
			stats.DriftRA = correction.DriftRA
			stats.DriftDec = correction.DriftDec
			stats.CorrectionRA = correction.CorrectionRA
			stats.CorrectionDec = correction.CorrectionDec
			stats.RMSERA = correction.RMSERA
			stats.RMSEDec = correction.RMSEDec
		}
	case ModeCalibration:
		if a.cfg.Calibrator != nil {
			if err := a.cfg.Calibrator.Observe(next, drift); err != nil {
				log.Warn().Err(err).Str("agent", a.cfg.Name).Int64("frame", next).Msg("guider.Agent.process calibration failed")
			}
		}
	}

	a.mu.Lock()
	if job.generation != a.generation {
		a.mu.Unlock()
		return ErrStaleFrame
	}
	a.frame++
	stats.Frame = a.frame
	a.stats = stats
	guider := a.binding.guider
	sessionID := ""
	if a.session != nil {
		sessionID = a.session.id
	}
	a.mu.Unlock()

	observability.RecordFrame(a.cfg.Name, alg.String(), observability.FrameTracked, time.Since(start))
	observability.RecordDrift(a.cfg.Name, drift.X, drift.Y)

	msgs := []property.Message{property.StatsReport{Agent: a.cfg.Name, Stats: stats}}
	if mode == ModeGuiding && guider != "" && correction.pulse() {
		msgs = append(msgs, property.GuidePulse{
			Device: guider,
			North:  correction.North,
			South:  correction.South,
			East:   correction.East,
			West:   correction.West,
		})
		observability.RecordGuidePulse(a.cfg.Name)
	}
	a.publish(a.ctx, msgs...)
	a.recordSample(sessionID, stats)
	return nil
}

func (a *Agent) recordSample(sessionID string, stats property.Stats) {
	if a.cfg.Recorder == nil || sessionID == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CommandTimeout)
	defer cancel()
	if err := a.cfg.Recorder.RecordSample(ctx, sessionID, stats, time.Now()); err != nil {
		log.Warn().Err(err).Str("session", sessionID).Msg("guider.Agent.recordSample failed")
	}
}
