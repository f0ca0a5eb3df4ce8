package main

import (
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/host"

	"github.com/greenops/greenops/internal/agent/client"
	"github.com/greenops/greenops/internal/agent/config"
	"github.com/greenops/greenops/internal/agent/idle"
	"github.com/greenops/greenops/internal/agent/service"
	"github.com/greenops/greenops/pkg/file"
	"github.com/greenops/greenops/pkg/macaddr"
)

func main() {
	configPath := flag.String("config", filepath.Join(config.DefaultDir(), "agent.yaml"), "path to agent configuration file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	fileClient := file.NewFileService()
	cfg, err := config.Load(*configPath, fileClient)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration")
	}

	mac, err := macaddr.Primary()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to determine primary MAC address")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	identity := service.Identity{
		MACAddress: mac,
		Hostname:   hostname,
		OSType:     runtime.GOOS,
	}
	if info, err := host.Info(); err == nil {
		identity.OSVersion = info.PlatformVersion
	}

	apiClient := client.New(cfg.Server.URL, cfg.Server.Timeout, logger)
	detector := idle.NewDetector(cfg.Idle.Probe, logger)

	agent := service.New(cfg, identity, apiClient, detector, service.PowerExecutor{}, fileClient, logger)
	if err := agent.Start(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start agent")
	}

	// Handle graceful shutdown
	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)
	<-stopCh

	logger.Info().Msg("Shutting down gracefully...")
	if err := agent.Stop(); err != nil {
		logger.Error().Err(err).Msg("Agent shutdown failed")
	}
}
