// Package energy implements the incremental energy-waste accounting.
//
// Power model (desktop-class hardware): an idle PC draws roughly 65W. Energy
// is credited only for sustained idle runs between consecutive heartbeats;
// see IncrementalIdle for the exact policy.
package energy

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/greenops/greenops/internal/server/models"
)

var (
	secondsPerHour = decimal.NewFromInt(3600)
	wattsPerKW     = decimal.NewFromInt(1000)
	co2KgPerKWH    = decimal.RequireFromString("0.42") // US grid average
)

// Accountant converts idle-time deltas into kWh, cost and CO2 figures using
// decimal arithmetic so cumulative sums stay auditable.
type Accountant struct {
	logger zerolog.Logger
}

// NewAccountant returns an Accountant logging through the given logger.
func NewAccountant(logger zerolog.Logger) *Accountant {
	return &Accountant{logger: logger}
}

// IncrementalIdle returns the idle seconds newly credited since the previous
// heartbeat.
//
// With no prior heartbeat the current idle reading is credited only if the
// machine is idle right now; idle time from before the agent existed is never
// invented. With a prior heartbeat, credit is given only when both samples
// are idle, capped at the agent's own reported idle span so clock skew cannot
// inflate the delta. An active sample anywhere in between resets the credit
// to zero; that conservative policy is deliberate, since changing it would
// retroactively change reported energy figures.
func (a *Accountant) IncrementalIdle(prev *models.Heartbeat, ts time.Time, idleSeconds int64, idleThreshold int64) int64 {
	if idleSeconds < 0 {
		a.logger.Warn().Int64("idle_seconds", idleSeconds).Msg("Negative idle reading, treating as zero")
		return 0
	}

	currIdle := idleSeconds >= idleThreshold

	if prev == nil {
		if currIdle {
			return idleSeconds
		}
		return 0
	}

	elapsed := int64(ts.UTC().Sub(prev.Timestamp.UTC()).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}

	prevIdle := prev.IdleSeconds >= idleThreshold
	if currIdle && prevIdle {
		if elapsed < idleSeconds {
			return elapsed
		}
		return idleSeconds
	}

	return 0
}

// EnergyKWH converts idle seconds at the given idle power draw into kWh,
// rounded half-up to 3 decimal places.
//
//	energy_kwh = (idle_seconds / 3600) * (idle_power_watts / 1000)
func (a *Accountant) EnergyKWH(idleSeconds int64, idlePowerWatts int64) decimal.Decimal {
	if idleSeconds < 0 {
		a.logger.Warn().Int64("idle_seconds", idleSeconds).Msg("Negative idle seconds in energy calculation, treating as zero")
		idleSeconds = 0
	}

	hours := decimal.NewFromInt(idleSeconds).Div(secondsPerHour)
	kw := decimal.NewFromInt(idlePowerWatts).Div(wattsPerKW)
	return hours.Mul(kw).Round(3)
}

// Cost prices the given energy at the given rate per kWh, rounded half-up to
// whole cents.
func (a *Accountant) Cost(energyKWH decimal.Decimal, ratePerKWH decimal.Decimal) decimal.Decimal {
	return energyKWH.Mul(ratePerKWH).Round(2)
}

// CO2Kg estimates the CO2 emitted generating the given energy, in kg, rounded
// to 3 decimal places.
func (a *Accountant) CO2Kg(energyKWH decimal.Decimal) decimal.Decimal {
	return energyKWH.Mul(co2KgPerKWH).Round(3)
}
