// Package sweeper runs the background loop that re-evaluates machine status
// and expires stale commands for the lifetime of the server process.
package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenops/greenops/internal/server/metrics"
)

// MachineSweeper marks stale machines offline.
type MachineSweeper interface {
	SweepOffline() (int, error)
}

// CommandExpirer expires stale pending commands.
type CommandExpirer interface {
	ExpireStale() (int, error)
}

// Pinger verifies storage is reachable again after a failed tick.
type Pinger interface {
	Ping() error
}

// Sweeper periodically runs the offline sweep and command expiry. A failed
// tick never crashes the process or disables the loop; the next tick probes
// storage and retries. A sweeper that silently stops after one transient
// disconnect is a production outage.
type Sweeper struct {
	machines MachineSweeper
	commands CommandExpirer
	pinger   Pinger
	interval time.Duration
	logger   zerolog.Logger

	degraded bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New returns a sweeper ticking at interval.
func New(machines MachineSweeper, commands CommandExpirer, pinger Pinger, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		machines: machines,
		commands: commands,
		pinger:   pinger,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the sweep loop in a separate goroutine.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		s.logger.Warn().Msg("Sweeper is already running")
		return errors.New("sweeper is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.logger.Info().Dur("interval", s.interval).Msg("Sweeper started successfully")
	return nil
}

// Stop gracefully stops the sweep loop.
func (s *Sweeper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.logger.Warn().Msg("Sweeper is not running")
		return errors.New("sweeper is not running")
	}

	s.cancel()
	s.wg.Wait()
	s.ctx = nil
	s.cancel = nil

	s.logger.Info().Msg("Sweeper stopped successfully")
	return nil
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Tick()
		case <-s.ctx.Done():
			s.logger.Info().Msg("Sweeper stopping gracefully")
			return
		}
	}
}

// Tick runs one sweep pass. Exported so tests and startup can run a pass
// directly.
func (s *Sweeper) Tick() {
	// After a failed tick, confirm storage is reachable before re-running
	// the sweep, so a dead backend produces one cheap probe per tick rather
	// than two failing scans.
	if s.degraded {
		if err := s.pinger.Ping(); err != nil {
			s.logger.Error().Err(err).Msg("Storage still unreachable, skipping sweep tick")
			metrics.SweepFailures.Inc()
			return
		}
		s.logger.Info().Msg("Storage reachable again, resuming sweeps")
		s.degraded = false
	}

	failed := false

	swept, err := s.machines.SweepOffline()
	if err != nil {
		s.logger.Error().Err(err).Msg("Offline sweep failed")
		failed = true
	} else if swept > 0 {
		metrics.MachinesSweptOffline.Add(float64(swept))
	}

	expired, err := s.commands.ExpireStale()
	if err != nil {
		s.logger.Error().Err(err).Msg("Command expiry sweep failed")
		failed = true
	} else if expired > 0 {
		metrics.CommandsExpired.Add(float64(expired))
	}

	if failed {
		metrics.SweepFailures.Inc()
		s.degraded = true
	}
}
