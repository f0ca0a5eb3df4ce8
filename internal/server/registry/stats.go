package registry

import (
	"github.com/shopspring/decimal"

	"github.com/greenops/greenops/internal/server/models"
	"github.com/greenops/greenops/internal/server/settings"
	"github.com/greenops/greenops/internal/server/status"
)

// FleetStats are the dashboard aggregates, recomputed from live machine state
// on every call.
type FleetStats struct {
	TotalMachines         int     `json:"total_machines"`
	OnlineMachines        int     `json:"online_machines"`
	IdleMachines          int     `json:"idle_machines"`
	OfflineMachines       int     `json:"offline_machines"`
	TotalEnergyWastedKWH  float64 `json:"total_energy_wasted_kwh"`
	EstimatedCostUSD      float64 `json:"estimated_cost_usd"`
	TotalCO2Kg            float64 `json:"total_co2_kg"`
	AverageIdlePercentage float64 `json:"average_idle_percentage"`
	TotalIdleSeconds      int64   `json:"total_idle_seconds"`
}

// Stats aggregates fleet-wide counts and energy figures. Status counts come
// from recomputation, never from the stored status cache.
func (r *Registry) Stats() (*FleetStats, error) {
	machines, err := r.store.ListMachines()
	if err != nil {
		return nil, err
	}

	heartbeatTimeout := r.settings.GetInt(settings.KeyHeartbeatTimeout)
	idleThreshold := r.settings.GetInt(settings.KeyIdleThreshold)
	rate := decimal.NewFromFloat(r.settings.GetFloat(settings.KeyElectricityCost))
	now := status.Now()

	stats := &FleetStats{TotalMachines: len(machines)}
	totalEnergy := decimal.Zero
	var totalIdle, totalUptime int64

	for _, m := range machines {
		switch status.Compute(now, m.LastSeen, m.IdleSeconds, heartbeatTimeout, idleThreshold) {
		case models.StatusOnline:
			stats.OnlineMachines++
		case models.StatusIdle:
			stats.IdleMachines++
		case models.StatusOffline:
			stats.OfflineMachines++
		}

		if e, err := decimal.NewFromString(m.EnergyWastedKWH); err == nil {
			totalEnergy = totalEnergy.Add(e)
		}
		totalIdle += m.TotalIdleSeconds
		totalUptime += m.UptimeSeconds
	}

	stats.TotalIdleSeconds = totalIdle
	stats.TotalEnergyWastedKWH, _ = totalEnergy.Round(3).Float64()
	stats.EstimatedCostUSD, _ = r.energy.Cost(totalEnergy, rate).Float64()
	stats.TotalCO2Kg, _ = r.energy.CO2Kg(totalEnergy).Float64()

	if totalUptime > 0 {
		pct := decimal.NewFromInt(totalIdle).
			Div(decimal.NewFromInt(totalUptime)).
			Mul(decimal.NewFromInt(100)).
			Round(1)
		stats.AverageIdlePercentage, _ = pct.Float64()
	}
	return stats, nil
}
