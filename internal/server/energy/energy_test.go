package energy

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/greenops/greenops/internal/server/models"
)

func TestEnergyKWH(t *testing.T) {
	a := NewAccountant(zerolog.Nop())

	tests := []struct {
		name        string
		idleSeconds int64
		watts       int64
		expected    string
	}{
		{"one hour at 65W", 3600, 65, "0.065"},
		{"one minute at 65W", 60, 65, "0.001"},
		{"zero idle", 0, 65, "0"},
		{"one hour at 1kW", 3600, 1000, "1"},
		{"eight hours at 65W", 8 * 3600, 65, "0.52"},
		{"negative treated as zero", -100, 65, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.EnergyKWH(tt.idleSeconds, tt.watts)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.expected)),
				"got %s, want %s", got, tt.expected)
		})
	}
}

func TestCost(t *testing.T) {
	a := NewAccountant(zerolog.Nop())

	// 0.065 kWh * $0.12/kWh = $0.0078, rounds half-up to whole cents.
	cost := a.Cost(decimal.RequireFromString("0.065"), decimal.RequireFromString("0.12"))
	assert.Equal(t, "0.01", cost.String())

	cost = a.Cost(decimal.RequireFromString("10"), decimal.RequireFromString("0.12"))
	assert.Equal(t, "1.2", cost.String())
}

func TestCO2Kg(t *testing.T) {
	a := NewAccountant(zerolog.Nop())

	assert.Equal(t, "0.42", a.CO2Kg(decimal.NewFromInt(1)).String())
	assert.Equal(t, "0.027", a.CO2Kg(decimal.RequireFromString("0.065")).String())
}

func TestIncrementalIdle(t *testing.T) {
	a := NewAccountant(zerolog.Nop())
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	prev := func(secondsAgo, idle int64) *models.Heartbeat {
		return &models.Heartbeat{
			Timestamp:   base.Add(-time.Duration(secondsAgo) * time.Second),
			IdleSeconds: idle,
		}
	}

	tests := []struct {
		name        string
		prev        *models.Heartbeat
		idleSeconds int64
		expected    int64
	}{
		{"first sample idle credits full reading", nil, 400, 400},
		{"first sample active credits nothing", nil, 100, 0},
		{"idle to idle credits elapsed", prev(60, 400), 460, 60},
		{"idle to idle capped at reported idle", prev(600, 400), 350, 350},
		{"active to idle resets credit", prev(60, 10), 400, 0},
		{"idle to active resets credit", prev(60, 400), 10, 0},
		{"active to active credits nothing", prev(60, 10), 20, 0},
		{"negative reading credits nothing", prev(60, 400), -5, 0},
		{"out of order heartbeat credits nothing", prev(-60, 400), 500, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := a.IncrementalIdle(tt.prev, base, tt.idleSeconds, 300)
			assert.Equal(t, tt.expected, got)
		})
	}
}
