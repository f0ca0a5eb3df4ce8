// Package ingest is the single entry point for agent heartbeats. It is the
// only place the machine registry and the command queue are composed, which
// keeps both independently testable.
package ingest

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/greenops/greenops/internal/server/commands"
	"github.com/greenops/greenops/internal/server/metrics"
	"github.com/greenops/greenops/internal/server/models"
	"github.com/greenops/greenops/internal/server/registry"
)

// Service orchestrates heartbeat application and command delivery.
type Service struct {
	registry *registry.Registry
	queue    *commands.Queue
	logger   zerolog.Logger
}

// NewService returns a heartbeat ingest service.
func NewService(reg *registry.Registry, queue *commands.Queue, logger zerolog.Logger) *Service {
	return &Service{registry: reg, queue: queue, logger: logger}
}

// Input is one parsed heartbeat payload.
type Input struct {
	IdleSeconds   int64
	CPUUsage      *float64
	MemoryUsage   *float64
	UptimeSeconds *int64
	Timestamp     *time.Time
}

// Result is everything the agent needs back: its derived status, cumulative
// energy figure and any deliverable commands.
type Result struct {
	MachineStatus   models.MachineStatus
	EnergyWastedKWH float64
	IsIdle          bool
	Commands        []*models.Command
}

// Ingest applies one heartbeat and attaches the machine's pending commands.
// The heartbeat either fully applies or is rejected wholesale; command
// delivery failures after a successful apply are logged but do not fail the
// heartbeat, since polling remains retryable.
func (s *Service) Ingest(machineID string, in Input) (*Result, error) {
	hbResult, err := s.registry.ApplyHeartbeat(machineID, registry.HeartbeatInput{
		IdleSeconds:   in.IdleSeconds,
		CPUUsage:      in.CPUUsage,
		MemoryUsage:   in.MemoryUsage,
		UptimeSeconds: in.UptimeSeconds,
		Timestamp:     in.Timestamp,
	})
	if err != nil {
		metrics.HeartbeatsRejected.Inc()
		return nil, err
	}
	metrics.HeartbeatsIngested.Inc()

	pending, err := s.queue.Poll(machineID)
	if err != nil {
		s.logger.Error().Err(err).Str("machine_id", machineID).Msg("Failed to fetch pending commands for heartbeat response")
		pending = nil
	}
	if len(pending) > 0 {
		metrics.CommandsDelivered.Add(float64(len(pending)))
	}

	energyTotal, _ := hbResult.EnergyWastedKWH.Round(3).Float64()
	return &Result{
		MachineStatus:   hbResult.MachineStatus,
		EnergyWastedKWH: energyTotal,
		IsIdle:          hbResult.IsIdle,
		Commands:        pending,
	}, nil
}
