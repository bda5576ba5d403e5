package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/guidectl/internal/digest"
	"github.com/danmuck/guidectl/internal/guider"
	"github.com/danmuck/guidectl/internal/property"
)

func TestLoadServiceConfigDefaultsAndOverrides(t *testing.T) {
	cfg, err := loadServiceConfig("ex.config.toml")
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Agent.Name != "Guider Agent" {
		t.Fatalf("unexpected name: %q", cfg.Agent.Name)
	}
	if cfg.Agent.Algorithm != property.AlgorithmCentroid {
		t.Fatalf("unexpected algorithm: %s", cfg.Agent.Algorithm)
	}
	if cfg.Agent.ExposureSeconds != 2 {
		t.Fatalf("unexpected exposure: %v", cfg.Agent.ExposureSeconds)
	}
	if cfg.Agent.BusyAckTimeout != time.Second || cfg.Agent.CommandTimeout != 2*time.Second {
		t.Fatalf("unexpected timeouts: %v %v", cfg.Agent.BusyAckTimeout, cfg.Agent.CommandTimeout)
	}
	if cfg.Agent.FineStep != 10*time.Millisecond {
		t.Fatalf("expected default fine step, got %v", cfg.Agent.FineStep)
	}
	if cfg.HeartbeatInterval != 5*time.Second {
		t.Fatalf("unexpected heartbeat: %v", cfg.HeartbeatInterval)
	}
	if cfg.AdminListenAddr != "127.0.0.1:7420" {
		t.Fatalf("unexpected admin listen: %q", cfg.AdminListenAddr)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("unexpected cors origins: %+v", cfg.CORSOrigins)
	}
	if cfg.JournalPath != "local/guider.db" {
		t.Fatalf("unexpected journal path: %q", cfg.JournalPath)
	}
	if cfg.NATS.URL != "" || cfg.NATS.SubjectPrefix != "guider" || cfg.NATS.Backoff.MaxAttempts != 5 {
		t.Fatalf("unexpected nats config: %+v", cfg.NATS)
	}
	if cfg.NATS.Backoff.InitialDelay <= 0 {
		t.Fatalf("expected default backoff delay kept")
	}
	sim := cfg.Simulator
	if !sim.Enabled || sim.Devices.Format != digest.FormatMono16 {
		t.Fatalf("unexpected simulator: %+v", sim)
	}
	if sim.Devices.Width != 320 || sim.Devices.Height != 240 || sim.Devices.StarX != 160 || sim.Devices.StarY != 120 {
		t.Fatalf("unexpected simulator geometry: %+v", sim.Devices)
	}
	if sim.Devices.DriftX != 0.2 || sim.Devices.DriftY != -0.1 || sim.Devices.TimeScale != 0.1 {
		t.Fatalf("unexpected simulator motion: %+v", sim.Devices)
	}
	if sim.Devices.CCD != "CCD Simulator" {
		t.Fatalf("expected default simulator ccd, got %q", sim.Devices.CCD)
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadServiceConfigEmptyFileKeepsDefaults(t *testing.T) {
	cfg, err := loadServiceConfig(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	def := guider.DefaultServiceConfig()
	if cfg.Agent.Name != def.Agent.Name || cfg.Agent.Algorithm != property.AlgorithmDonuts {
		t.Fatalf("unexpected agent config: %+v", cfg.Agent)
	}
	if cfg.HeartbeatInterval != def.HeartbeatInterval || cfg.Simulator.Enabled {
		t.Fatalf("unexpected service config: %+v", cfg)
	}
}

func TestLoadServiceConfigRejectsBadValues(t *testing.T) {
	cases := map[string]string{
		"algorithm": `algorithm = "sextant"`,
		"exposure":  `exposure_seconds = 0.0`,
		"heartbeat": `heartbeat_interval = "soon"`,
		"format":    "[simulator]\nformat = \"bayer\"",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := loadServiceConfig(writeConfig(t, body)); err == nil {
				t.Fatalf("expected error for %s", name)
			}
		})
	}
}

func TestFlagsOverrideConfigFile(t *testing.T) {
	path := writeConfig(t, "admin_listen_addr = \"127.0.0.1:1\"\n[simulator]\nenabled = true\n")
	cmd := newRootCmd()
	if err := cmd.ParseFlags([]string{"--config", path, "--admin-addr", "127.0.0.1:7421", "--simulate=false", "--ccd", " Main CCD "}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}
	f := flags{
		config:    path,
		adminAddr: "127.0.0.1:7421",
		ccd:       " Main CCD ",
	}
	cfg, err := resolveConfig(cmd, f)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if cfg.AdminListenAddr != "127.0.0.1:7421" {
		t.Fatalf("unexpected admin addr: %q", cfg.AdminListenAddr)
	}
	if cfg.Simulator.Enabled {
		t.Fatalf("expected --simulate=false to win over the file")
	}
	if cfg.CCD != "Main CCD" {
		t.Fatalf("unexpected ccd: %q", cfg.CCD)
	}
	if cfg.JournalPath != "" {
		t.Fatalf("unexpected journal path: %q", cfg.JournalPath)
	}
}
