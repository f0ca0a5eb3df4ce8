package models

import "time"

// MachineStatus is the derived online/idle/offline state of a machine.
// The stored value is a convenience cache; read paths always recompute it.
type MachineStatus string

const (
	StatusOnline  MachineStatus = "online"
	StatusIdle    MachineStatus = "idle"
	StatusOffline MachineStatus = "offline"
)

// Machine represents a monitored machine, keyed by its normalized MAC address.
type Machine struct {
	ID         string `json:"id"`
	MACAddress string `json:"mac_address"`
	Hostname   string `json:"hostname"`
	OSType     string `json:"os_type"`
	OSVersion  string `json:"os_version,omitempty"`

	LastSeen      *time.Time    `json:"last_seen,omitempty"`
	IdleSeconds   int64         `json:"idle_seconds"`
	UptimeSeconds int64         `json:"uptime_seconds,omitempty"`
	CPUUsage      float64       `json:"cpu_usage"`
	MemoryUsage   float64       `json:"memory_usage"`
	Status        MachineStatus `json:"status"`

	TotalIdleSeconds int64 `json:"total_idle_seconds"`
	// EnergyWastedKWH is a decimal string ("12.345") so cumulative energy
	// survives JSON round-trips without binary-float drift.
	EnergyWastedKWH string `json:"energy_wasted_kwh"`

	// TokenHash is the SHA-256 of the agent credential. The plaintext token
	// is returned once at registration and never stored.
	TokenHash string `json:"token_hash,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
