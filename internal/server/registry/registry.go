// Package registry owns machine records: idempotent registration, heartbeat
// application and the offline sweep. All status values leaving this package
// are recomputed, never read back from storage as-is.
package registry

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/greenops/greenops/internal/server/auth"
	"github.com/greenops/greenops/internal/server/energy"
	"github.com/greenops/greenops/internal/server/models"
	"github.com/greenops/greenops/internal/server/settings"
	"github.com/greenops/greenops/internal/server/status"
	"github.com/greenops/greenops/internal/server/storage"
	"github.com/greenops/greenops/pkg/macaddr"
)

// Registry manages machine records and their heartbeat-driven state.
type Registry struct {
	store    *storage.Store
	energy   *energy.Accountant
	settings *settings.Store
	logger   zerolog.Logger
}

// New returns a Registry over the given store.
func New(store *storage.Store, accountant *energy.Accountant, settingsStore *settings.Store, logger zerolog.Logger) *Registry {
	return &Registry{
		store:    store,
		energy:   accountant,
		settings: settingsStore,
		logger:   logger,
	}
}

// RegistrationResult is what an agent gets back from Register.
type RegistrationResult struct {
	MachineID string
	Token     string
	Message   string
	Created   bool
}

// HeartbeatInput is a validated heartbeat ready to apply.
type HeartbeatInput struct {
	IdleSeconds   int64
	CPUUsage      *float64
	MemoryUsage   *float64
	UptimeSeconds *int64
	Timestamp     *time.Time
}

// HeartbeatResult reports the outcome of one applied heartbeat.
type HeartbeatResult struct {
	MachineStatus   models.MachineStatus
	EnergyWastedKWH decimal.Decimal
	IsIdle          bool
}

// Register upserts a machine keyed by its normalized MAC address. A fresh
// registration creates the record with status online; a repeat registration
// updates the host/OS fields, refreshes last_seen and rotates the credential.
// The previous credential cannot be returned since only its hash is kept, so
// re-registration always issues a new one.
func (r *Registry) Register(mac, hostname, osType, osVersion string) (*RegistrationResult, error) {
	normalized, err := macaddr.Normalize(mac)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrValidation, err)
	}

	token, tokenHash, err := auth.NewAgentToken()
	if err != nil {
		return nil, err
	}

	now := status.Now()

	existing, err := r.store.GetMachineByMAC(normalized)
	switch {
	case err == nil:
		_, err := r.store.UpdateMachine(existing.ID, func(m *models.Machine) error {
			m.Hostname = hostname
			m.OSType = osType
			if osVersion != "" {
				m.OSVersion = osVersion
			}
			m.LastSeen = &now
			m.TokenHash = tokenHash
			return nil
		})
		if err != nil {
			return nil, err
		}
		r.logger.Info().Str("mac", normalized).Str("machine_id", existing.ID).Msg("Machine re-registered, credential rotated")
		return &RegistrationResult{
			MachineID: existing.ID,
			Token:     token,
			Message:   "Machine already registered",
		}, nil

	case errors.Is(err, models.ErrNotFound):
		machine := &models.Machine{
			ID:              uuid.NewString(),
			MACAddress:      normalized,
			Hostname:        hostname,
			OSType:          osType,
			OSVersion:       osVersion,
			LastSeen:        &now,
			Status:          models.StatusOnline,
			EnergyWastedKWH: "0",
			TokenHash:       tokenHash,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if err := r.store.InsertMachine(machine); err != nil {
			return nil, err
		}
		r.logger.Info().Str("mac", normalized).Str("machine_id", machine.ID).Msg("New machine registered")
		return &RegistrationResult{
			MachineID: machine.ID,
			Token:     token,
			Message:   "Machine registered successfully",
			Created:   true,
		}, nil

	default:
		return nil, err
	}
}

// ApplyHeartbeat validates and applies one heartbeat: it derives status and
// is_idle, credits incremental idle time against the previous heartbeat, and
// atomically appends the heartbeat row while updating the machine's
// last_seen, latest readings and cumulative totals.
//
// A machine id that does not resolve is a hard failure, not silently ignored,
// since it implies the credential and registry have desynced.
func (r *Registry) ApplyHeartbeat(machineID string, in HeartbeatInput) (*HeartbeatResult, error) {
	if in.IdleSeconds < 0 {
		return nil, fmt.Errorf("%w: idle_seconds must be >= 0, got %d", models.ErrValidation, in.IdleSeconds)
	}

	ts := status.Now()
	if in.Timestamp != nil {
		ts = in.Timestamp.UTC()
	}

	idleThreshold := r.settings.GetInt(settings.KeyIdleThreshold)
	heartbeatTimeout := r.settings.GetInt(settings.KeyHeartbeatTimeout)
	idlePowerWatts := r.settings.GetInt(settings.KeyIdlePowerWatts)

	isIdle := in.IdleSeconds >= idleThreshold
	machineStatus := status.Compute(status.Now(), &ts, in.IdleSeconds, heartbeatTimeout, idleThreshold)

	var totalEnergy decimal.Decimal
	_, err := r.store.ApplyHeartbeat(machineID, func(m *models.Machine, prev *models.Heartbeat) (*models.Heartbeat, error) {
		incremental := r.energy.IncrementalIdle(prev, ts, in.IdleSeconds, idleThreshold)
		delta := r.energy.EnergyKWH(incremental, idlePowerWatts)

		cumulative, err := decimal.NewFromString(m.EnergyWastedKWH)
		if err != nil {
			cumulative = decimal.Zero
		}
		cumulative = cumulative.Add(delta)

		// Out-of-order delivery must never move last_seen backwards.
		if m.LastSeen == nil || ts.After(*m.LastSeen) {
			m.LastSeen = &ts
		}
		m.IdleSeconds = in.IdleSeconds
		m.Status = machineStatus
		m.TotalIdleSeconds += incremental
		m.EnergyWastedKWH = cumulative.String()
		if in.CPUUsage != nil {
			m.CPUUsage = *in.CPUUsage
		}
		if in.MemoryUsage != nil {
			m.MemoryUsage = *in.MemoryUsage
		}
		if in.UptimeSeconds != nil {
			m.UptimeSeconds = *in.UptimeSeconds
		}

		totalEnergy = cumulative

		hb := &models.Heartbeat{
			MachineID:   machineID,
			Timestamp:   ts,
			IdleSeconds: in.IdleSeconds,
			IsIdle:      isIdle,
		}
		if in.CPUUsage != nil {
			hb.CPUUsage = *in.CPUUsage
		}
		if in.MemoryUsage != nil {
			hb.MemoryUsage = *in.MemoryUsage
		}
		if in.UptimeSeconds != nil {
			hb.UptimeSeconds = *in.UptimeSeconds
		}
		return hb, nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Str("machine_id", machineID).
		Str("status", string(machineStatus)).
		Int64("idle_seconds", in.IdleSeconds).
		Msg("Heartbeat applied")

	return &HeartbeatResult{
		MachineStatus:   machineStatus,
		EnergyWastedKWH: totalEnergy,
		IsIdle:          isIdle,
	}, nil
}

// SweepOffline transitions every machine whose last heartbeat is older than
// the timeout to offline and returns the count. Running it again with no new
// heartbeats transitions nothing.
func (r *Registry) SweepOffline() (int, error) {
	machines, err := r.store.ListMachines()
	if err != nil {
		return 0, err
	}

	heartbeatTimeout := r.settings.GetInt(settings.KeyHeartbeatTimeout)
	idleThreshold := r.settings.GetInt(settings.KeyIdleThreshold)
	now := status.Now()

	swept := 0
	for _, m := range machines {
		if m.Status == models.StatusOffline {
			continue
		}
		current := status.Compute(now, m.LastSeen, m.IdleSeconds, heartbeatTimeout, idleThreshold)
		if current != models.StatusOffline {
			continue
		}

		_, err := r.store.UpdateMachine(m.ID, func(stored *models.Machine) error {
			stored.Status = models.StatusOffline
			return nil
		})
		if err != nil {
			// One machine failing must not stop the sweep for the rest.
			r.logger.Error().Err(err).Str("machine_id", m.ID).Msg("Failed to mark machine offline")
			continue
		}
		r.logger.Debug().Str("machine_id", m.ID).Str("hostname", m.Hostname).Msg("Machine marked offline")
		swept++
	}

	if swept > 0 {
		r.logger.Info().Int("count", swept).Msg("Marked machines offline")
	}
	return swept, nil
}

// Get returns one machine with its status freshly recomputed.
func (r *Registry) Get(machineID string) (*models.Machine, error) {
	m, err := r.store.GetMachine(machineID)
	if err != nil {
		return nil, err
	}
	r.refreshStatus(m)
	return m, nil
}

// List returns machines with recomputed status, optionally filtered by that
// computed status, paginated by limit/offset.
func (r *Registry) List(statusFilter models.MachineStatus, limit, offset int) ([]*models.Machine, error) {
	machines, err := r.store.ListMachines()
	if err != nil {
		return nil, err
	}

	heartbeatTimeout := r.settings.GetInt(settings.KeyHeartbeatTimeout)
	idleThreshold := r.settings.GetInt(settings.KeyIdleThreshold)
	now := status.Now()

	filtered := machines[:0]
	for _, m := range machines {
		m.Status = status.Compute(now, m.LastSeen, m.IdleSeconds, heartbeatTimeout, idleThreshold)
		if statusFilter != "" && m.Status != statusFilter {
			continue
		}
		filtered = append(filtered, m)
	}

	if offset >= len(filtered) {
		return []*models.Machine{}, nil
	}
	filtered = filtered[offset:]
	if limit > 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}
	return filtered, nil
}

// Delete removes a machine together with its heartbeats and commands.
func (r *Registry) Delete(machineID string) error {
	return r.store.DeleteMachine(machineID)
}

// AuthenticateAgent resolves a bearer token to a machine id.
func (r *Registry) AuthenticateAgent(token string) (string, error) {
	id, err := r.store.MachineIDForToken(auth.HashAgentToken(token))
	if err != nil {
		return "", models.ErrUnauthorized
	}
	return id, nil
}

func (r *Registry) refreshStatus(m *models.Machine) {
	heartbeatTimeout := r.settings.GetInt(settings.KeyHeartbeatTimeout)
	idleThreshold := r.settings.GetInt(settings.KeyIdleThreshold)
	m.Status = status.Compute(status.Now(), m.LastSeen, m.IdleSeconds, heartbeatTimeout, idleThreshold)
}
