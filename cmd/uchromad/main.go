// uchromad is the Chroma control daemon: it discovers supported devices,
// drives their lighting and animation, and exposes the remote interface.
package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperb1iss/uchroma/internal/api"
	"github.com/hyperb1iss/uchroma/internal/config"
	"github.com/hyperb1iss/uchroma/internal/hardware"
	"github.com/hyperb1iss/uchroma/internal/manager"
	"github.com/hyperb1iss/uchroma/internal/prefs"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to uchromad.toml (default: $XDG_CONFIG_HOME/uchroma/uchromad.toml)")
		listen     = flag.String("listen", "", "remote interface listen address (overrides config)")
		debug      = flag.Bool("debug", false, "force debug logging")
	)
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	level, _ := cfg.Level()
	if *debug {
		level = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(level)

	store, err := hardware.LoadStore(cfg.HardwareDir)
	if err != nil {
		log.Warn().Err(err).Str("dir", cfg.HardwareDir).Msg("hardware database unavailable, no devices will match")
		store = hardware.NewStore()
	}
	log.Info().Int("models", store.Len()).Msg("hardware database loaded")

	pstore, err := prefs.NewStore(filepath.Join(cfg.ConfigDir, "prefs"), log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open preference store")
	}
	if err := pstore.Watch(); err != nil {
		log.Warn().Err(err).Msg("preference watcher unavailable")
	}
	defer pstore.Close()

	mgr := manager.New(store, pstore, log.Logger)
	mgr.SetThermalSource(manager.NewSysfsThermal())
	if err := mgr.Start(); err != nil {
		log.Fatal().Err(err).Msg("device manager failed to start")
	}

	server := api.NewServer(mgr, pstore, cfg, log.Logger)
	go func() {
		if err := server.Start(); err != nil {
			log.Error().Err(err).Msg("remote interface stopped")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutting down")
	_ = server.Stop()
	mgr.Stop()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			base = "/etc"
		}
		path = filepath.Join(base, "uchroma", "uchromad.toml")
	}
	return config.Load(path)
}
