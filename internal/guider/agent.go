package guider

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/guidectl/internal/digest"
	"github.com/danmuck/guidectl/internal/observability"
	"github.com/danmuck/guidectl/internal/property"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const DefaultAgentName = "Guider Agent"

var ErrNilPublisher = errors.New("guider: nil publisher")

// Publisher sends property messages to devices and observers.
type Publisher interface {
	Publish(ctx context.Context, msg property.Message) error
}

// Config configures one agent.
type Config struct {
	Name            string
	Algorithm       property.Algorithm
	ExposureSeconds float64
	// BusyAckTimeout bounds the wait for the CCD to report a started exposure.
	BusyAckTimeout time.Duration
	// CoarseStep and FineStep are the completion poll granularity above and
	// below one CoarseStep of estimated remaining exposure.
	CoarseStep     time.Duration
	FineStep       time.Duration
	CommandTimeout time.Duration
	IntakeQueue    int

	Corrector  Corrector
	Calibrator Calibrator
	Recorder   Recorder
}

func DefaultConfig() Config {
	return Config{
		Name:            DefaultAgentName,
		Algorithm:       property.AlgorithmDonuts,
		ExposureSeconds: 1,
		BusyAckTimeout:  time.Second,
		CoarseStep:      time.Second,
		FineStep:        10 * time.Millisecond,
		CommandTimeout:  2 * time.Second,
		IntakeQueue:     2,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		c.Name = def.Name
	}
	if c.Algorithm != property.AlgorithmCentroid {
		c.Algorithm = property.AlgorithmDonuts
	}
	if c.ExposureSeconds <= 0 || math.IsNaN(c.ExposureSeconds) || math.IsInf(c.ExposureSeconds, 0) {
		c.ExposureSeconds = def.ExposureSeconds
	}
	if c.BusyAckTimeout <= 0 {
		c.BusyAckTimeout = def.BusyAckTimeout
	}
	if c.CoarseStep <= 0 {
		c.CoarseStep = def.CoarseStep
	}
	if c.FineStep <= 0 {
		c.FineStep = def.FineStep
	}
	if c.CommandTimeout <= 0 {
		c.CommandTimeout = def.CommandTimeout
	}
	if c.IntakeQueue <= 0 {
		c.IntakeQueue = def.IntakeQueue
	}
	return c
}

type session struct {
	id      string
	mode    Mode
	started time.Time
	ctx     context.Context
	cancel  context.CancelCauseFunc
	done    chan struct{}
}

// Agent is the guider agent. The zero value is not usable; construct with New.
type Agent struct {
	cfg Config
	pub Publisher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool

	mu      sync.Mutex
	binding binding
	state   ProcessState
	message string
	// selected is the mode selector value. algorithm is the one digests use;
	// it follows selected at every mode start, or at once while idle.
	selected  property.Algorithm
	algorithm property.Algorithm
	exposure  float64
	session   *session
	lastID    string
	// generation is bumped on every mode start and whenever the reference
	// becomes meaningless (CCD or algorithm change). Frames queued under an
	// older generation never commit.
	generation uint64
	frame      int64
	reference  *digest.Digest
	stats      property.Stats

	watch    *exposureWatch
	intake   chan frameJob
	intakeMu sync.Mutex

	// stepObserver, when set before a mode starts, sees every completion
	// wait step.
	stepObserver func(time.Duration)
}

func New(cfg Config, pub Publisher) (*Agent, error) {
	if pub == nil {
		return nil, ErrNilPublisher
	}
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		cfg:       cfg,
		pub:       pub,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		selected:  cfg.Algorithm,
		algorithm: cfg.Algorithm,
		exposure:  cfg.ExposureSeconds,
		watch:     newExposureWatch(),
		intake:    make(chan frameJob, cfg.IntakeQueue),
	}
	a.wg.Add(1)
	go a.intakeLoop()
	return a, nil
}

func (a *Agent) Name() string {
	return a.cfg.Name
}

// Close stops the running mode, if any, and waits for agent goroutines.
func (a *Agent) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	_ = a.Stop(context.Background())
	a.cancel()
	a.wg.Wait()
	log.Debug().Str("agent", a.cfg.Name).Msg("guider.Agent.Close done")
	return nil
}

func (a *Agent) addressed(target string) bool {
	return target == "" || target == a.cfg.Name
}

// Handle dispatches one inbound message. It never blocks on device I/O and is
// safe to register directly as a bus handler.
func (a *Agent) Handle(msg property.Message) {
	if msg == nil || a.closed.Load() {
		return
	}
	ctx := a.ctx
	var err error
	switch m := msg.(type) {
	case property.SelectDevices:
		if a.addressed(m.Agent) {
			err = a.Bind(ctx, m.CCD, m.Guider)
		}
	case property.SelectMode:
		if a.addressed(m.Agent) {
			err = a.SelectAlgorithm(ctx, m.Algorithm)
		}
	case property.RequestProcess:
		if a.addressed(m.Agent) {
			err = a.Request(ctx, m)
		}
	case property.RequestAbort:
		if a.addressed(m.Agent) {
			err = a.Abort(ctx)
		}
	case property.RequestStop:
		if a.addressed(m.Agent) {
			err = a.Stop(ctx)
		}
	case property.SetExposure:
		if a.addressed(m.Agent) {
			err = a.SetExposure(ctx, m.Seconds)
		}
	case property.ExposureState:
		a.observeExposure(m)
	case property.ImageReady:
		a.observeImage(m)
	case property.StartExposure, property.AbortExposure, property.GuidePulse:
		// device commands, ours or another agent's
	case property.ProcessState, property.StatsReport, property.ModeReport:
		// agent reports
	default:
		log.Warn().Str("agent", a.cfg.Name).Str("kind", msg.Kind().String()).Msg("guider.Agent.Handle unhandled message")
	}
	if err != nil {
		log.Warn().Err(err).Str("agent", a.cfg.Name).Str("kind", msg.Kind().String()).Msg("guider.Agent.Handle rejected")
	}
}

// Request starts the mode named by a single-flag process request. A request
// with no flag set is a no-op.
func (a *Agent) Request(ctx context.Context, req property.RequestProcess) error {
	switch req.Requested() {
	case 0:
		return nil
	case 1:
		return a.Start(ctx, modeOf(req))
	default:
		return ErrAmbiguousRequest
	}
}

// Start enters mode. Requesting the running mode again is a no-op.
func (a *Agent) Start(ctx context.Context, mode Mode) error {
	if mode == ModeNone || busyState(mode) == StateIdle {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	if a.closed.Load() {
		return ErrClosed
	}

	a.mu.Lock()
	if a.closed.Load() {
		a.mu.Unlock()
		return ErrClosed
	}
	if a.state.Busy() {
		running := a.state.Mode()
		a.mu.Unlock()
		if running == mode {
			return nil
		}
		return fmt.Errorf("%w: %s running, %s requested", ErrModeBusy, running, mode)
	}
	if a.binding.ccd == "" {
		a.setStateLocked(StateAlert, fmt.Sprintf("%s: No CCD is selected", a.cfg.Name))
		reports := a.reportsLocked()
		a.mu.Unlock()
		a.publish(ctx, reports...)
		return ErrNoDeviceSelected
	}
	s := a.beginSessionLocked(mode)
	reports := a.reportsLocked()
	a.wg.Add(1)
	a.mu.Unlock()

	log.Info().
		Str("agent", a.cfg.Name).
		Str("mode", mode.String()).
		Str("session", s.id).
		Msg("guider.Agent.Start")
	a.publish(ctx, reports...)
	go a.runMode(s)
	return nil
}

// Stop ends the running mode cooperatively. The agent returns to Idle.
func (a *Agent) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.state.Busy() {
		a.mu.Unlock()
		return nil
	}
	s := a.endSessionLocked(StateIdle, "")
	reports := a.reportsLocked()
	a.mu.Unlock()

	s.cancel(ErrStopped)
	a.publish(ctx, reports...)
	return nil
}

// SelectAlgorithm sets the mode selector. A running mode keeps its algorithm
// and reference; the selection applies at the next mode start. While idle it
// applies at once and a reference computed with the previous algorithm is
// discarded.
func (a *Agent) SelectAlgorithm(ctx context.Context, alg property.Algorithm) error {
	if alg != property.AlgorithmDonuts && alg != property.AlgorithmCentroid {
		return fmt.Errorf("%w: %s", ErrInvalidAlgorithm, alg)
	}
	a.mu.Lock()
	a.selected = alg
	if !a.state.Busy() && alg != a.algorithm {
		a.algorithm = alg
		a.resetReferenceLocked()
	}
	report := a.modeReportLocked()
	a.mu.Unlock()

	a.publish(ctx, report)
	return nil
}

// SetExposure changes the exposure time used from the next cycle on.
func (a *Agent) SetExposure(_ context.Context, seconds float64) error {
	if seconds <= 0 || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidExposure, seconds)
	}
	a.mu.Lock()
	a.exposure = seconds
	a.mu.Unlock()
	return nil
}

// Status is a point-in-time view of the agent.
type Status struct {
	Agent     string `json:"agent"`
	CCD       string `json:"ccd"`
	Guider    string `json:"guider"`
	State     string `json:"state"`
	Mode      string `json:"mode"`
	Algorithm string `json:"algorithm"`
	// Active is the algorithm digesting frames now; it differs from
	// Algorithm while a selection waits for the next mode start.
	Active    string         `json:"active_algorithm"`
	Exposure  float64        `json:"exposure_seconds"`
	Message   string         `json:"message,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Frame     int64          `json:"frame"`
	Stats     property.Stats `json:"stats"`
}

func (a *Agent) Snapshot() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Agent:     a.cfg.Name,
		CCD:       a.binding.ccd,
		Guider:    a.binding.guider,
		State:     a.state.String(),
		Mode:      a.state.Mode().String(),
		Algorithm: a.selected.String(),
		Active:    a.algorithm.String(),
		Exposure:  a.exposure,
		Message:   a.message,
		SessionID: a.lastID,
		Frame:     a.frame,
		Stats:     a.stats,
	}
}

func (a *Agent) State() ProcessState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Frame returns the number of successfully digested frames this session.
func (a *Agent) Frame() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.frame
}

func (a *Agent) Stats() property.Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stats
}

func (a *Agent) beginSessionLocked(mode Mode) *session {
	ctx, cancel := context.WithCancelCause(a.ctx)
	s := &session{
		id:      uuid.NewString(),
		mode:    mode,
		started: time.Now(),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	a.session = s
	a.lastID = s.id
	a.algorithm = a.selected
	a.resetReferenceLocked()
	a.stats = property.Stats{}
	switch mode {
	case ModeGuiding:
		if a.cfg.Corrector != nil {
			a.cfg.Corrector.Reset()
		}
	case ModeCalibration:
		if a.cfg.Calibrator != nil {
			a.cfg.Calibrator.Reset()
		}
	}
	a.setStateLocked(busyState(mode), "")
	return s
}

// endSessionLocked detaches the running session and moves to state. The
// caller cancels the returned session after releasing the lock.
func (a *Agent) endSessionLocked(state ProcessState, message string) *session {
	s := a.session
	a.session = nil
	a.setStateLocked(state, message)
	return s
}

func (a *Agent) resetReferenceLocked() {
	a.generation++
	a.frame = 0
	a.reference = nil
}

func (a *Agent) setStateLocked(state ProcessState, message string) {
	mode := state.Mode()
	if mode == ModeNone {
		mode = a.state.Mode()
	}
	a.state = state
	a.message = message
	observability.RecordProcessTransition(a.cfg.Name, mode.String(), state.String())
}

func (a *Agent) processReportLocked() property.ProcessState {
	return property.ProcessState{
		Agent:   a.cfg.Name,
		State:   a.state.Property(),
		Mode:    a.state.Mode().String(),
		Message: a.message,
	}
}

func (a *Agent) modeReportLocked() property.ModeReport {
	state := property.StateOK
	if a.state.Busy() {
		state = property.StateBusy
	}
	return property.ModeReport{Agent: a.cfg.Name, Algorithm: a.selected, State: state}
}

func (a *Agent) reportsLocked() []property.Message {
	return []property.Message{a.processReportLocked(), a.modeReportLocked()}
}

// publish sends msgs in order. Each send is bounded by CommandTimeout and
// survives cancellation of the caller's context.
func (a *Agent) publish(ctx context.Context, msgs ...property.Message) {
	base := context.WithoutCancel(ctx)
	for _, msg := range msgs {
		pctx, cancel := context.WithTimeout(base, a.cfg.CommandTimeout)
		err := a.pub.Publish(pctx, msg)
		cancel()
		if err != nil {
			log.Warn().
				Err(err).
				Str("agent", a.cfg.Name).
				Str("kind", msg.Kind().String()).
				Str("target", msg.Target()).
				Msg("guider.Agent.publish failed")
		}
	}
}

// runMode drives exposures for one session and records how it ended.
func (a *Agent) runMode(s *session) {
	defer a.wg.Done()
	defer close(s.done)

	a.recordBegin(s)
	err := a.exposureLoop(s)

	a.mu.Lock()
	current := a.session == s
	var reports []property.Message
	endState, endMessage := a.endOf(err)
	if current {
		a.endSessionLocked(endState, endMessage)
		reports = a.reportsLocked()
	}
	a.mu.Unlock()

	if current {
		s.cancel(err)
		a.publish(a.ctx, reports...)
	}
	log.Info().
		Err(err).
		Str("agent", a.cfg.Name).
		Str("mode", s.mode.String()).
		Str("session", s.id).
		Str("state", endState.String()).
		Msg("guider.Agent.runMode done")
	a.recordEnd(s, endState, endMessage)
}

// endOf maps a mode worker exit to the state the session ends in.
func (a *Agent) endOf(err error) (ProcessState, string) {
	switch {
	case errors.Is(err, ErrStopped), errors.Is(err, context.Canceled):
		return StateIdle, ""
	case errors.Is(err, ErrAborted):
		return StateAlert, fmt.Sprintf("%s: aborted", a.cfg.Name)
	case errors.Is(err, ErrExposureTimeout):
		return StateAlert, fmt.Sprintf("%s: CCD exposure didn't become busy in %s", a.cfg.Name, a.cfg.BusyAckTimeout)
	case errors.Is(err, ErrNoDeviceSelected):
		return StateAlert, fmt.Sprintf("%s: No CCD is selected", a.cfg.Name)
	default:
		return StateAlert, fmt.Sprintf("%s: %v", a.cfg.Name, err)
	}
}

func (a *Agent) recordBegin(s *session) {
	if a.cfg.Recorder == nil {
		return
	}
	a.mu.Lock()
	alg, b := a.algorithm, a.binding
	a.mu.Unlock()
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CommandTimeout)
	defer cancel()
	if err := a.cfg.Recorder.BeginSession(ctx, s.id, s.mode.String(), alg, b.ccd, b.guider, s.started); err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("guider.Agent.recordBegin failed")
	}
}

func (a *Agent) recordEnd(s *session, state ProcessState, message string) {
	if a.cfg.Recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.CommandTimeout)
	defer cancel()
	if err := a.cfg.Recorder.EndSession(ctx, s.id, state.String(), message, time.Now()); err != nil {
		log.Warn().Err(err).Str("session", s.id).Msg("guider.Agent.recordEnd failed")
	}
}
