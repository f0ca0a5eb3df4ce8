package models

import "time"

// Heartbeat is an immutable record of a single agent report. IsIdle is fixed
// at ingestion time against the threshold in effect then and never re-derived.
type Heartbeat struct {
	MachineID     string    `json:"machine_id"`
	Timestamp     time.Time `json:"timestamp"`
	IdleSeconds   int64     `json:"idle_seconds"`
	CPUUsage      float64   `json:"cpu_usage,omitempty"`
	MemoryUsage   float64   `json:"memory_usage,omitempty"`
	UptimeSeconds int64     `json:"uptime_seconds,omitempty"`
	IsIdle        bool      `json:"is_idle"`
}
