// Package status holds the single source of truth for deriving a machine's
// online/idle/offline state. The stored status column is only a cache; every
// read path recomputes through this package.
package status

import (
	"time"

	"github.com/greenops/greenops/internal/server/models"
)

// Now returns the current time as UTC. All status comparisons go through UTC
// so that timestamps deserialized without zone information never get compared
// naively.
func Now() time.Time {
	return time.Now().UTC()
}

// Compute derives a machine status from its last heartbeat and latest idle
// reading. The precedence is strict and not negotiable:
//
//  1. no heartbeat, or last one older than heartbeatTimeout -> offline
//  2. idleSeconds >= idleThreshold                          -> idle
//  3. otherwise                                             -> online
//
// Offline wins over idle regardless of the idle value.
func Compute(now time.Time, lastSeen *time.Time, idleSeconds int64, heartbeatTimeout, idleThreshold int64) models.MachineStatus {
	if lastSeen == nil {
		return models.StatusOffline
	}

	if now.UTC().Sub(lastSeen.UTC()) > time.Duration(heartbeatTimeout)*time.Second {
		return models.StatusOffline
	}

	if idleSeconds >= idleThreshold {
		return models.StatusIdle
	}

	return models.StatusOnline
}
