package status

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/greenops/greenops/internal/server/models"
)

func TestCompute(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ago := func(d time.Duration) *time.Time {
		ts := now.Add(-d)
		return &ts
	}

	tests := []struct {
		name        string
		lastSeen    *time.Time
		idleSeconds int64
		expected    models.MachineStatus
	}{
		{"never seen", nil, 0, models.StatusOffline},
		{"recent and active", ago(10 * time.Second), 0, models.StatusOnline},
		{"recent just under threshold", ago(10 * time.Second), 299, models.StatusOnline},
		{"recent at threshold", ago(10 * time.Second), 300, models.StatusIdle},
		{"recent far past threshold", ago(10 * time.Second), 7200, models.StatusIdle},
		{"exactly at timeout", ago(180 * time.Second), 0, models.StatusOnline},
		{"just past timeout", ago(181 * time.Second), 0, models.StatusOffline},
		{"stale beats idle", ago(200 * time.Second), 7200, models.StatusOffline},
		{"very stale", ago(24 * time.Hour), 300, models.StatusOffline},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compute(now, tt.lastSeen, tt.idleSeconds, 180, 300)
			assert.Equal(t, tt.expected, got)
		})
	}
}

// A last_seen stored in a non-UTC zone must compare correctly.
func TestCompute_MixedTimezones(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	est := time.FixedZone("EST", -5*3600)
	lastSeen := time.Date(2025, 6, 1, 6, 59, 50, 0, est) // 11:59:50 UTC

	got := Compute(now, &lastSeen, 0, 180, 300)
	assert.Equal(t, models.StatusOnline, got)
}
