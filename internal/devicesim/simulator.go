// Package devicesim provides a simulated CCD and guider output that speak the
// property protocol on a bus. Exposures produce synthetic star fields whose
// star drifts by a fixed amount per frame and moves in response to guide
// pulses.
package devicesim

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/guidectl/internal/bus"
	"github.com/danmuck/guidectl/internal/digest"
	"github.com/danmuck/guidectl/internal/property"
	"github.com/rs/zerolog/log"
)

var (
	ErrNilBus         = errors.New("devicesim: nil bus")
	ErrAlreadyStarted = errors.New("devicesim: already started")
)

type Config struct {
	CCD    string
	Guider string

	Format digest.PixelFormat
	Width  int
	Height int
	StarX  float64
	StarY  float64
	// DriftX and DriftY move the star by this many pixels per frame.
	DriftX float64
	DriftY float64
	Noise  float64
	Seed   int64
	// TimeScale converts requested exposure seconds into wall time.
	TimeScale float64
	// GuideRate is the star motion in pixels per pulse millisecond.
	GuideRate float64
	// IgnoreExposures leaves start commands unanswered.
	IgnoreExposures bool
}

func DefaultConfig() Config {
	return Config{
		CCD:       "CCD Simulator",
		Guider:    "Guider Simulator",
		Format:    digest.FormatMono16,
		Width:     160,
		Height:    120,
		StarX:     80,
		StarY:     60,
		DriftX:    0.25,
		DriftY:    -0.1,
		TimeScale: 1,
		GuideRate: 0.005,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.CCD) == "" {
		c.CCD = def.CCD
	}
	if strings.TrimSpace(c.Guider) == "" {
		c.Guider = def.Guider
	}
	if !c.Format.Supported() {
		c.Format = def.Format
	}
	if c.Width <= 0 || c.Height <= 0 {
		c.Width, c.Height = def.Width, def.Height
	}
	if c.TimeScale <= 0 {
		c.TimeScale = def.TimeScale
	}
	return c
}

// Simulator owns one simulated CCD and one guider output.
type Simulator struct {
	cfg Config
	bus bus.Bus

	mu        sync.Mutex
	rng       *rand.Rand
	starX     float64
	starY     float64
	exposure  *exposure
	exposures int
	aborts    int
	pulses    []property.GuidePulse
	unsub     func()
	wg        sync.WaitGroup
}

type exposure struct {
	timer *time.Timer
}

func New(cfg Config, b bus.Bus) (*Simulator, error) {
	if b == nil {
		return nil, ErrNilBus
	}
	cfg = cfg.withDefaults()
	return &Simulator{
		cfg:   cfg,
		bus:   b,
		rng:   rand.New(rand.NewSource(cfg.Seed)),
		starX: cfg.StarX,
		starY: cfg.StarY,
	}, nil
}

func (s *Simulator) CCD() string    { return s.cfg.CCD }
func (s *Simulator) Guider() string { return s.cfg.Guider }

// Start subscribes the simulated devices to the bus.
func (s *Simulator) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unsub != nil {
		return ErrAlreadyStarted
	}
	unsub, err := s.bus.Subscribe(s.handle)
	if err != nil {
		return err
	}
	s.unsub = unsub
	log.Info().Str("ccd", s.cfg.CCD).Str("guider", s.cfg.Guider).Msg("devicesim.Simulator.Start")
	return nil
}

// Close unsubscribes, cancels a pending exposure and waits for in-flight
// frame publication.
func (s *Simulator) Close() error {
	s.mu.Lock()
	unsub := s.unsub
	s.unsub = nil
	if s.exposure != nil {
		if s.exposure.timer.Stop() {
			s.wg.Done()
		}
		s.exposure = nil
	}
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	s.wg.Wait()
	return nil
}

func (s *Simulator) handle(msg property.Message) {
	switch m := msg.(type) {
	case property.StartExposure:
		if m.Device == s.cfg.CCD {
			s.startExposure(m.Seconds)
		}
	case property.AbortExposure:
		if m.Device == s.cfg.CCD {
			s.abortExposure()
		}
	case property.GuidePulse:
		if m.Device == s.cfg.Guider {
			s.pulse(m)
		}
	}
}

func (s *Simulator) publish(msg property.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.bus.Publish(ctx, msg); err != nil {
		log.Debug().Err(err).Str("kind", msg.Kind().String()).Msg("devicesim.Simulator.publish failed")
	}
}

func (s *Simulator) startExposure(seconds float64) {
	s.mu.Lock()
	if s.cfg.IgnoreExposures || s.unsub == nil {
		s.mu.Unlock()
		return
	}
	if s.exposure != nil {
		// A new start replaces the running exposure.
		if s.exposure.timer.Stop() {
			s.wg.Done()
		}
	}
	s.exposures++
	exp := &exposure{}
	s.exposure = exp
	// Busy goes out before the timer is armed so it always precedes the frame.
	s.publish(property.ExposureState{Device: s.cfg.CCD, State: property.StateBusy, Remaining: seconds})
	wall := time.Duration(seconds * s.cfg.TimeScale * float64(time.Second))
	s.wg.Add(1)
	exp.timer = time.AfterFunc(wall, func() { s.completeExposure(exp) })
	s.mu.Unlock()
}

func (s *Simulator) completeExposure(exp *exposure) {
	defer s.wg.Done()
	s.mu.Lock()
	if s.exposure != exp {
		s.mu.Unlock()
		return
	}
	s.exposure = nil
	field := Field{
		Format:     s.cfg.Format,
		Width:      s.cfg.Width,
		Height:     s.cfg.Height,
		Background: 10,
		Noise:      s.cfg.Noise,
		Stars:      []Star{{X: s.starX, Y: s.starY, Peak: 200, Sigma: 2}},
	}
	frame := field.Render(s.rng)
	s.starX += s.cfg.DriftX
	s.starY += s.cfg.DriftY
	s.mu.Unlock()

	s.publish(property.ImageReady{Device: s.cfg.CCD, State: property.StateOK, Blob: digest.EncodeRaw(frame)})
	s.publish(property.ExposureState{Device: s.cfg.CCD, State: property.StateOK})
}

func (s *Simulator) abortExposure() {
	s.mu.Lock()
	s.aborts++
	if s.exposure != nil {
		if s.exposure.timer.Stop() {
			s.wg.Done()
		}
		s.exposure = nil
	}
	s.mu.Unlock()
	s.publish(property.ExposureState{Device: s.cfg.CCD, State: property.StateAlert})
}

// pulse moves the star against the commanded direction.
func (s *Simulator) pulse(m property.GuidePulse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pulses = append(s.pulses, m)
	s.starY -= (m.North - m.South) * s.cfg.GuideRate
	s.starX -= (m.West - m.East) * s.cfg.GuideRate
}

// Position returns the star position of the next frame.
func (s *Simulator) Position() (float64, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.starX, s.starY
}

func (s *Simulator) Exposures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exposures
}

func (s *Simulator) Aborts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aborts
}

func (s *Simulator) Pulses() []property.GuidePulse {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]property.GuidePulse, len(s.pulses))
	copy(out, s.pulses)
	return out
}
