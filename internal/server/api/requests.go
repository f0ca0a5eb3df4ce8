package api

import (
	"time"

	"github.com/greenops/greenops/internal/server/models"
)

// Request and response schemas are strongly typed per endpoint; validation
// failures surface as 4xx before any core logic runs.

type registerRequest struct {
	MACAddress string `json:"mac_address"`
	Hostname   string `json:"hostname"`
	OSType     string `json:"os_type"`
	OSVersion  string `json:"os_version,omitempty"`
}

type registerResponse struct {
	MachineID string `json:"machine_id"`
	Token     string `json:"token"`
	Message   string `json:"message"`
}

// heartbeatRequest uses pointers for all fields so a missing idle_seconds is
// distinguishable from a literal zero.
type heartbeatRequest struct {
	IdleSeconds   *int64   `json:"idle_seconds"`
	CPUUsage      *float64 `json:"cpu_usage,omitempty"`
	MemoryUsage   *float64 `json:"memory_usage,omitempty"`
	UptimeSeconds *int64   `json:"uptime_seconds,omitempty"`
	Timestamp     *string  `json:"timestamp,omitempty"`
}

type heartbeatResponse struct {
	Status          string               `json:"status"`
	MachineStatus   models.MachineStatus `json:"machine_status"`
	EnergyWastedKWH float64              `json:"energy_wasted_kwh"`
	IsIdle          bool                 `json:"is_idle"`
	Commands        []commandPayload     `json:"commands,omitempty"`
}

type commandPayload struct {
	ID      string             `json:"id"`
	Command models.CommandKind `json:"command"`
}

type commandsResponse struct {
	Commands []commandPayload `json:"commands"`
}

type commandResultRequest struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
}

type settingUpdateRequest struct {
	Value *string `json:"value"`
}

type machinePayload struct {
	ID               string               `json:"id"`
	MACAddress       string               `json:"mac_address"`
	Hostname         string               `json:"hostname"`
	OSType           string               `json:"os_type"`
	OSVersion        string               `json:"os_version,omitempty"`
	LastSeen         *time.Time           `json:"last_seen"`
	IdleSeconds      int64                `json:"idle_seconds"`
	UptimeSeconds    int64                `json:"uptime_seconds,omitempty"`
	CPUUsage         float64              `json:"cpu_usage"`
	MemoryUsage      float64              `json:"memory_usage"`
	Status           models.MachineStatus `json:"status"`
	TotalIdleSeconds int64                `json:"total_idle_seconds"`
	EnergyWastedKWH  string               `json:"energy_wasted_kwh"`
	CreatedAt        time.Time            `json:"created_at"`
}

func toMachinePayload(m *models.Machine) machinePayload {
	return machinePayload{
		ID:               m.ID,
		MACAddress:       m.MACAddress,
		Hostname:         m.Hostname,
		OSType:           m.OSType,
		OSVersion:        m.OSVersion,
		LastSeen:         m.LastSeen,
		IdleSeconds:      m.IdleSeconds,
		UptimeSeconds:    m.UptimeSeconds,
		CPUUsage:         m.CPUUsage,
		MemoryUsage:      m.MemoryUsage,
		Status:           m.Status,
		TotalIdleSeconds: m.TotalIdleSeconds,
		EnergyWastedKWH:  m.EnergyWastedKWH,
		CreatedAt:        m.CreatedAt,
	}
}
