package guider

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/guidectl/internal/auth"
	"github.com/danmuck/guidectl/internal/bus"
	"github.com/danmuck/guidectl/internal/devicesim"
	"github.com/danmuck/guidectl/internal/journal"
	"github.com/danmuck/guidectl/internal/property"
	"github.com/danmuck/guidectl/internal/server"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("guider: invalid heartbeat interval")
	ErrAlreadyBootstrapped      = errors.New("guider: service already bootstrapped")
)

var _ Recorder = (*journal.Journal)(nil)

// NATSConfig selects the NATS transport. An empty URL keeps the agent on the
// in-process bus.
type NATSConfig struct {
	URL           string
	SubjectPrefix string
	Backoff       bus.BackoffConfig
}

// SimulatorConfig attaches a simulated CCD and guider output to the bus.
type SimulatorConfig struct {
	Enabled bool
	Devices devicesim.Config
}

// ServiceConfig configures the standalone guider runtime.
type ServiceConfig struct {
	Agent             Config
	HeartbeatInterval time.Duration
	AdminListenAddr   string
	// AdminToken, when set, is required as a bearer token on /agent routes.
	AdminToken  string
	CORSOrigins []string
	NATS        NATSConfig
	// JournalPath enables the sqlite session journal when set.
	JournalPath string
	Simulator   SimulatorConfig
	// CCD and Guider are bound at startup when set. With the simulator
	// enabled they default to the simulated device names.
	CCD    string
	Guider string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Agent:             DefaultConfig(),
		HeartbeatInterval: 5 * time.Second,
		AdminListenAddr:   "",
		NATS: NATSConfig{
			SubjectPrefix: bus.DefaultSubjectPrefix,
			Backoff:       bus.DefaultBackoff(),
		},
		Simulator: SimulatorConfig{Devices: devicesim.DefaultConfig()},
	}
}

// Service wires one agent to its transport, journal, optional simulator and
// admin listener.
type Service struct {
	cfg ServiceConfig

	mu      sync.Mutex
	bus     bus.Bus
	agent   *Agent
	journal *journal.Journal
	sim     *devicesim.Simulator
	unsub   func()
	server  *server.Server
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	return &Service{cfg: cfg}
}

// Run blocks until SIGINT or SIGTERM.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext bootstraps the service and serves until ctx ends.
func (s *Service) RunContext(ctx context.Context) error {
	if err := s.bootstrap(ctx); err != nil {
		s.shutdown()
		return err
	}
	defer s.shutdown()

	var ln net.Listener
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		var err error
		ln, err = net.Listen("tcp", addr)
		if err != nil {
			return err
		}
	}
	return s.serve(ctx, ln)
}

// Agent returns the running agent, or nil before bootstrap.
func (s *Service) Agent() *Agent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// Bus returns the transport the agent is attached to.
func (s *Service) Bus() bus.Bus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bus
}

func (s *Service) Simulator() *devicesim.Simulator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sim
}

func (s *Service) Journal() *journal.Journal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.journal
}

// Handler exposes the admin engine, or nil before bootstrap.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.server == nil {
		return nil
	}
	return s.server.Engine()
}

func (s *Service) bootstrap(ctx context.Context) error {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.agent != nil {
		return ErrAlreadyBootstrapped
	}

	if url := strings.TrimSpace(s.cfg.NATS.URL); url != "" {
		nb, err := bus.ConnectNATS(ctx, bus.NATSConfig{
			URL:           url,
			SubjectPrefix: s.cfg.NATS.SubjectPrefix,
			Name:          s.cfg.Agent.Name,
			Backoff:       s.cfg.NATS.Backoff,
		})
		if err != nil {
			return err
		}
		s.bus = nb
	} else {
		s.bus = bus.NewMemory()
	}

	agentCfg := s.cfg.Agent
	if path := strings.TrimSpace(s.cfg.JournalPath); path != "" {
		j, err := journal.Open(path)
		if err != nil {
			return err
		}
		s.journal = j
		if agentCfg.Recorder == nil {
			agentCfg.Recorder = j
		}
	}

	agent, err := New(agentCfg, s.bus)
	if err != nil {
		return err
	}
	s.agent = agent
	unsub, err := s.bus.Subscribe(agent.Handle)
	if err != nil {
		return err
	}
	s.unsub = unsub

	ccd, guider := s.cfg.CCD, s.cfg.Guider
	if s.cfg.Simulator.Enabled {
		sim, err := devicesim.New(s.cfg.Simulator.Devices, s.bus)
		if err != nil {
			return err
		}
		if err := sim.Start(); err != nil {
			return err
		}
		s.sim = sim
		if strings.TrimSpace(ccd) == "" {
			ccd = sim.CCD()
		}
		if strings.TrimSpace(guider) == "" {
			guider = sim.Guider()
		}
	}
	if strings.TrimSpace(ccd) != "" || strings.TrimSpace(guider) != "" {
		if err := agent.Bind(ctx, ccd, guider); err != nil {
			return err
		}
	}

	srv := server.New(server.Config{Name: agent.Name(), CORSOrigins: s.cfg.CORSOrigins})
	api := srv.Engine().Group("/agent")
	if token := strings.TrimSpace(s.cfg.AdminToken); token != "" {
		api.Use(auth.RequireToken(auth.StaticToken{Token: token}))
	}
	agent.RegisterRoutes(api)
	if s.journal != nil {
		registerJournalRoutes(api, s.journal)
	}
	s.server = srv

	boundCCD, boundGuider := agent.Binding()
	log.Info().
		Str("agent", agent.Name()).
		Str("ccd", boundCCD).
		Str("guider", boundGuider).
		Bool("nats", s.cfg.NATS.URL != "").
		Bool("journal", s.journal != nil).
		Bool("simulator", s.sim != nil).
		Msg("guider.Service.bootstrap ready")
	return nil
}

func (s *Service) serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	agent, srv := s.agent, s.server
	s.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				log.Info().Str("agent", agent.Name()).Msg("guider.Service.serve shutdown")
				return nil
			case <-ticker.C:
				st := agent.Snapshot()
				log.Info().
					Str("agent", st.Agent).
					Str("state", st.State).
					Str("ccd", st.CCD).
					Str("guider", st.Guider).
					Int64("frame", st.Frame).
					Float64("drift_x", st.Stats.DriftX).
					Float64("drift_y", st.Stats.DriftY).
					Msg("guider.Service.heartbeat")
			}
		}
	})
	if ln != nil {
		g.Go(func() error {
			return srv.Serve(gctx, ln)
		})
	}
	return g.Wait()
}

// shutdown tears down in reverse bootstrap order.
func (s *Service) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sim != nil {
		_ = s.sim.Close()
	}
	if s.agent != nil {
		_ = s.agent.Close()
	}
	if s.unsub != nil {
		s.unsub()
		s.unsub = nil
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			log.Warn().Err(err).Msg("guider.Service.shutdown bus close")
		}
	}
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			log.Warn().Err(err).Msg("guider.Service.shutdown journal close")
		}
	}
}

type sampleView struct {
	Frame      int64          `json:"frame"`
	Stats      property.Stats `json:"stats"`
	RecordedAt time.Time      `json:"recorded_at"`
}

type sessionView struct {
	ID        string     `json:"id"`
	Mode      string     `json:"mode"`
	Algorithm string     `json:"algorithm"`
	CCD       string     `json:"ccd"`
	Guider    string     `json:"guider"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	EndState  string     `json:"end_state,omitempty"`
	Message   string     `json:"message,omitempty"`
}

func viewSession(js journal.Session) sessionView {
	v := sessionView{
		ID:        js.ID,
		Mode:      js.Mode,
		Algorithm: js.Algorithm,
		CCD:       js.CCD,
		Guider:    js.Guider,
		StartedAt: js.StartedAt,
		EndState:  js.EndState,
		Message:   js.Message,
	}
	if !js.Open() {
		ended := js.EndedAt
		v.EndedAt = &ended
	}
	return v
}

func registerJournalRoutes(r gin.IRouter, j *journal.Journal) {
	r.GET("/sessions", func(c *gin.Context) {
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		sessions, err := j.Sessions(c.Request.Context(), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]sessionView, 0, len(sessions))
		for _, js := range sessions {
			out = append(out, viewSession(js))
		}
		c.JSON(http.StatusOK, gin.H{"sessions": out})
	})

	r.GET("/sessions/:id", func(c *gin.Context) {
		id := c.Param("id")
		js, err := j.Session(c.Request.Context(), id)
		if errors.Is(err, journal.ErrSessionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		samples, err := j.Samples(c.Request.Context(), id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		views := make([]sampleView, 0, len(samples))
		for _, sm := range samples {
			views = append(views, sampleView{Frame: sm.Stats.Frame, Stats: sm.Stats, RecordedAt: sm.RecordedAt})
		}
		c.JSON(http.StatusOK, gin.H{"session": viewSession(js), "samples": views})
	})
}
