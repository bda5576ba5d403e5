package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/guidectl/internal/guider"
	"github.com/danmuck/guidectl/internal/logging"
	"github.com/spf13/cobra"
)

type flags struct {
	config    string
	simulate  bool
	natsURL   string
	adminAddr string
	journal   string
	ccd       string
	guider    string
}

func newRootCmd() *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:           "guiderctl",
		Short:         "Autoguiding agent",
		Long:          `Runs the guider agent: binds a CCD and guider output, digests frames and publishes drift statistics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd, f)
			if err != nil {
				return err
			}
			return guider.NewServiceWithConfig(cfg).Run()
		},
	}
	cmd.Flags().StringVar(&f.config, "config", "", "TOML config file")
	cmd.Flags().BoolVar(&f.simulate, "simulate", false, "attach a simulated CCD and guider output")
	cmd.Flags().StringVar(&f.natsURL, "nats-url", "", "NATS server URL; empty uses the in-process bus")
	cmd.Flags().StringVar(&f.adminAddr, "admin-addr", "", "admin HTTP listen address")
	cmd.Flags().StringVar(&f.journal, "journal", "", "sqlite session journal path")
	cmd.Flags().StringVar(&f.ccd, "ccd", "", "CCD device to bind at startup")
	cmd.Flags().StringVar(&f.guider, "guider", "", "guider output device to bind at startup")
	return cmd
}

// resolveConfig layers the config file over defaults, then explicitly set
// flags over the file.
func resolveConfig(cmd *cobra.Command, f flags) (guider.ServiceConfig, error) {
	cfg := guider.DefaultServiceConfig()
	if path := strings.TrimSpace(f.config); path != "" {
		var err error
		cfg, err = loadServiceConfig(path)
		if err != nil {
			return guider.ServiceConfig{}, err
		}
	}
	set := cmd.Flags().Changed
	if set("simulate") {
		cfg.Simulator.Enabled = f.simulate
	}
	if set("nats-url") {
		cfg.NATS.URL = strings.TrimSpace(f.natsURL)
	}
	if set("admin-addr") {
		cfg.AdminListenAddr = strings.TrimSpace(f.adminAddr)
	}
	if set("journal") {
		cfg.JournalPath = strings.TrimSpace(f.journal)
	}
	if set("ccd") {
		cfg.CCD = strings.TrimSpace(f.ccd)
	}
	if set("guider") {
		cfg.Guider = strings.TrimSpace(f.guider)
	}
	return cfg, nil
}

func main() {
	logging.ConfigureRuntime()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "guiderctl: %v\n", err)
		os.Exit(1)
	}
}
