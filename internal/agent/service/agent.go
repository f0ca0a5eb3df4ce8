// Package service contains the agent's run loop: register, heartbeat on an
// interval, execute delivered commands, and back off exponentially on
// failure. The loop never gives up.
package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/host"
	"github.com/shirou/gopsutil/mem"

	"github.com/greenops/greenops/internal/agent/client"
	"github.com/greenops/greenops/internal/agent/config"
	"github.com/greenops/greenops/internal/agent/idle"
	"github.com/greenops/greenops/pkg/file"
)

// Identity is the static machine identity reported at registration.
type Identity struct {
	MACAddress string
	Hostname   string
	OSType     string
	OSVersion  string
}

// Agent drives the heartbeat loop against the server.
type Agent struct {
	cfg        *config.Config
	identity   Identity
	client     *client.Client
	detector   idle.Detector
	executor   CommandExecutor
	fileClient file.FileOperations
	logger     zerolog.Logger

	token      string
	retryDelay time.Duration
	failures   int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New assembles an agent from its dependencies.
func New(cfg *config.Config, identity Identity, apiClient *client.Client, detector idle.Detector,
	executor CommandExecutor, fileClient file.FileOperations, logger zerolog.Logger) *Agent {

	return &Agent{
		cfg:        cfg,
		identity:   identity,
		client:     apiClient,
		detector:   detector,
		executor:   executor,
		fileClient: fileClient,
		logger:     logger,
		retryDelay: cfg.Heartbeat.BackoffBase,
	}
}

// Start launches the agent loop in a separate goroutine.
func (a *Agent) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx != nil {
		a.logger.Warn().Msg("Agent is already running")
		return errors.New("agent is already running")
	}

	a.token = config.LoadToken(a.cfg, a.fileClient)
	if a.token != "" {
		a.logger.Info().Msg("Loaded existing credential")
		a.client.SetToken(a.token)
	} else {
		a.logger.Info().Msg("No existing credential found, will register")
	}

	a.ctx, a.cancel = context.WithCancel(context.Background())
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run()
	}()

	a.logger.Info().Str("server", a.cfg.Server.URL).Msg("Agent started successfully")
	return nil
}

// Stop gracefully stops the agent, sending one final best-effort heartbeat.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ctx == nil {
		a.logger.Warn().Msg("Agent is not running")
		return errors.New("agent is not running")
	}

	a.cancel()
	a.wg.Wait()
	a.ctx = nil
	a.cancel = nil

	if a.token != "" {
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.Timeout)
		defer cancel()
		if _, err := a.client.Heartbeat(ctx, a.buildHeartbeat(ctx)); err != nil {
			a.logger.Debug().Err(err).Msg("Final heartbeat failed")
		}
	}

	a.logger.Info().Msg("Agent stopped successfully")
	return nil
}

func (a *Agent) run() {
	for {
		if a.ctx.Err() != nil {
			return
		}

		if a.token == "" {
			if err := a.register(); err != nil {
				a.logger.Error().Err(err).Msg("Registration failed")
				if !a.backoff() {
					return
				}
				continue
			}
		}

		if err := a.heartbeat(); err != nil {
			if errors.Is(err, client.ErrUnauthorized) {
				a.logger.Warn().Msg("Credential rejected, re-registering")
				a.token = ""
				continue
			}
			a.logger.Error().Err(err).Msg("Heartbeat failed")
			if !a.backoff() {
				return
			}
			continue
		}

		a.retryDelay = a.cfg.Heartbeat.BackoffBase
		a.failures = 0

		select {
		case <-time.After(a.cfg.Heartbeat.Interval):
		case <-a.ctx.Done():
			return
		}
	}
}

func (a *Agent) register() error {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.Server.Timeout)
	defer cancel()

	resp, err := a.client.Register(ctx, client.RegistrationRequest{
		MACAddress: a.identity.MACAddress,
		Hostname:   a.identity.Hostname,
		OSType:     a.identity.OSType,
		OSVersion:  a.identity.OSVersion,
	})
	if err != nil {
		return err
	}

	a.token = resp.Token
	a.client.SetToken(resp.Token)
	if err := config.SaveToken(a.cfg, a.fileClient, resp.Token); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to persist credential; will re-register next run")
	}

	a.logger.Info().Str("machine_id", resp.MachineID).Str("message", resp.Message).Msg("Registered with server")
	return nil
}

func (a *Agent) heartbeat() error {
	ctx, cancel := context.WithTimeout(a.ctx, a.cfg.Server.Timeout)
	defer cancel()

	resp, err := a.client.Heartbeat(ctx, a.buildHeartbeat(ctx))
	if err != nil {
		return err
	}

	a.logger.Debug().Str("status", resp.MachineStatus).Bool("is_idle", resp.IsIdle).Msg("Heartbeat acknowledged")

	for _, cmd := range resp.Commands {
		a.handleCommand(cmd)
	}
	return nil
}

func (a *Agent) buildHeartbeat(ctx context.Context) client.HeartbeatRequest {
	req := client.HeartbeatRequest{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	idleSeconds, err := a.detector.IdleSeconds(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Idle detection failed, reporting zero")
		idleSeconds = 0
	}
	req.IdleSeconds = idleSeconds

	if percentages, err := cpu.Percent(0, false); err == nil && len(percentages) > 0 {
		req.CPUUsage = percentages[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		req.MemoryUsage = vm.UsedPercent
	}
	if uptime, err := host.Uptime(); err == nil {
		req.UptimeSeconds = int64(uptime)
	}
	return req
}

// handleCommand executes one delivered command and reports its outcome. The
// report must land before the machine powers down, so it runs synchronously.
func (a *Agent) handleCommand(cmd client.Command) {
	a.logger.Info().Str("command_id", cmd.ID).Str("kind", cmd.Command).Msg("Executing remote command")

	status := "executed"
	message := "completed"
	if err := a.executor.Execute(a.ctx, cmd.Command); err != nil {
		status = "failed"
		message = err.Error()
		a.logger.Error().Err(err).Str("command_id", cmd.ID).Msg("Command execution failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.Timeout)
	defer cancel()
	if err := a.client.ReportResult(ctx, cmd.ID, status, message); err != nil {
		a.logger.Error().Err(err).Str("command_id", cmd.ID).Msg("Failed to report command result")
	}
}

// backoff sleeps for the current retry delay, doubling it up to the cap.
// Returns false when the agent is shutting down.
func (a *Agent) backoff() bool {
	a.failures++
	a.logger.Info().Dur("delay", a.retryDelay).Int("consecutive_failures", a.failures).Msg("Retrying after delay")

	select {
	case <-time.After(a.retryDelay):
	case <-a.ctx.Done():
		return false
	}

	a.retryDelay *= 2
	if a.retryDelay > a.cfg.Heartbeat.BackoffMax {
		a.retryDelay = a.cfg.Heartbeat.BackoffMax
	}
	return true
}
