package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/guidectl/internal/digest"
	"github.com/danmuck/guidectl/internal/guider"
	"github.com/danmuck/guidectl/internal/property"
)

type fileConfig struct {
	Name              string   `toml:"name"`
	Algorithm         string   `toml:"algorithm"`
	Exposure          float64  `toml:"exposure_seconds"`
	BusyAckTimeout    string   `toml:"busy_ack_timeout"`
	CommandTimeout    string   `toml:"command_timeout"`
	HeartbeatInterval string   `toml:"heartbeat_interval"`
	AdminListenAddr   string   `toml:"admin_listen_addr"`
	AdminToken        string   `toml:"admin_token"`
	CORSOrigins       []string `toml:"cors_origins"`
	JournalPath       string   `toml:"journal_path"`
	CCD               string   `toml:"ccd"`
	Guider            string   `toml:"guider"`

	NATS      natsFileConfig      `toml:"nats"`
	Simulator simulatorFileConfig `toml:"simulator"`
}

type natsFileConfig struct {
	URL           string `toml:"url"`
	SubjectPrefix string `toml:"subject_prefix"`
	MaxAttempts   int    `toml:"max_connect_attempts"`
}

type simulatorFileConfig struct {
	Enabled   bool    `toml:"enabled"`
	CCD       string  `toml:"ccd"`
	Guider    string  `toml:"guider"`
	Format    string  `toml:"format"`
	Width     int     `toml:"width"`
	Height    int     `toml:"height"`
	DriftX    float64 `toml:"drift_x"`
	DriftY    float64 `toml:"drift_y"`
	Noise     float64 `toml:"noise"`
	TimeScale float64 `toml:"time_scale"`
}

func loadServiceConfig(path string) (guider.ServiceConfig, error) {
	cfg := guider.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return guider.ServiceConfig{}, fmt.Errorf("load guider config: %w", err)
	}

	if meta.IsDefined("name") {
		if name := strings.TrimSpace(raw.Name); name != "" {
			cfg.Agent.Name = name
		}
	}
	if meta.IsDefined("algorithm") {
		alg, err := property.ParseAlgorithm(raw.Algorithm)
		if err != nil {
			return guider.ServiceConfig{}, fmt.Errorf("parse algorithm: %w", err)
		}
		cfg.Agent.Algorithm = alg
	}
	if meta.IsDefined("exposure_seconds") {
		if raw.Exposure <= 0 {
			return guider.ServiceConfig{}, fmt.Errorf("%w: %v", guider.ErrInvalidExposure, raw.Exposure)
		}
		cfg.Agent.ExposureSeconds = raw.Exposure
	}
	if meta.IsDefined("busy_ack_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.BusyAckTimeout))
		if err != nil {
			return guider.ServiceConfig{}, fmt.Errorf("parse busy_ack_timeout: %w", err)
		}
		cfg.Agent.BusyAckTimeout = d
	}
	if meta.IsDefined("command_timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.CommandTimeout))
		if err != nil {
			return guider.ServiceConfig{}, fmt.Errorf("parse command_timeout: %w", err)
		}
		cfg.Agent.CommandTimeout = d
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.HeartbeatInterval))
		if err != nil {
			return guider.ServiceConfig{}, fmt.Errorf("parse heartbeat_interval: %w", err)
		}
		cfg.HeartbeatInterval = d
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CORSOrigins = raw.CORSOrigins
	}
	if meta.IsDefined("journal_path") {
		cfg.JournalPath = strings.TrimSpace(raw.JournalPath)
	}
	if meta.IsDefined("ccd") {
		cfg.CCD = strings.TrimSpace(raw.CCD)
	}
	if meta.IsDefined("guider") {
		cfg.Guider = strings.TrimSpace(raw.Guider)
	}

	if meta.IsDefined("nats", "url") {
		cfg.NATS.URL = strings.TrimSpace(raw.NATS.URL)
	}
	if meta.IsDefined("nats", "subject_prefix") {
		cfg.NATS.SubjectPrefix = strings.TrimSpace(raw.NATS.SubjectPrefix)
	}
	if meta.IsDefined("nats", "max_connect_attempts") {
		cfg.NATS.Backoff.MaxAttempts = raw.NATS.MaxAttempts
	}

	if err := applySimulator(&cfg, raw.Simulator, meta); err != nil {
		return guider.ServiceConfig{}, err
	}
	return cfg, nil
}

func applySimulator(cfg *guider.ServiceConfig, raw simulatorFileConfig, meta toml.MetaData) error {
	sim := &cfg.Simulator
	if meta.IsDefined("simulator", "enabled") {
		sim.Enabled = raw.Enabled
	}
	if meta.IsDefined("simulator", "ccd") {
		sim.Devices.CCD = strings.TrimSpace(raw.CCD)
	}
	if meta.IsDefined("simulator", "guider") {
		sim.Devices.Guider = strings.TrimSpace(raw.Guider)
	}
	if meta.IsDefined("simulator", "format") {
		format, err := parseFormat(raw.Format)
		if err != nil {
			return err
		}
		sim.Devices.Format = format
	}
	if meta.IsDefined("simulator", "width") && meta.IsDefined("simulator", "height") {
		sim.Devices.Width, sim.Devices.Height = raw.Width, raw.Height
		sim.Devices.StarX = float64(raw.Width) / 2
		sim.Devices.StarY = float64(raw.Height) / 2
	}
	if meta.IsDefined("simulator", "drift_x") {
		sim.Devices.DriftX = raw.DriftX
	}
	if meta.IsDefined("simulator", "drift_y") {
		sim.Devices.DriftY = raw.DriftY
	}
	if meta.IsDefined("simulator", "noise") {
		sim.Devices.Noise = raw.Noise
	}
	if meta.IsDefined("simulator", "time_scale") {
		sim.Devices.TimeScale = raw.TimeScale
	}
	return nil
}

func parseFormat(raw string) (digest.PixelFormat, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "mono8":
		return digest.FormatMono8, nil
	case "mono16":
		return digest.FormatMono16, nil
	case "rgb24":
		return digest.FormatRGB24, nil
	case "rgb48":
		return digest.FormatRGB48, nil
	default:
		return 0, fmt.Errorf("parse simulator format: unknown format %q", raw)
	}
}
