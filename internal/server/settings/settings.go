// Package settings supplies live-tunable thresholds and constants to the rest
// of the server. The authoritative values live in storage; reads go through a
// bounded-staleness cache so heartbeat traffic never hammers the store, and
// hardcoded defaults keep the server functional when storage is unreachable.
package settings

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/greenops/greenops/internal/server/models"
)

// Backend is the slice of storage the settings store needs.
type Backend interface {
	SettingValues() (map[string]string, error)
	PutSetting(key, value string) error
}

// DefaultTTL bounds how stale a cached setting may be.
const DefaultTTL = 30 * time.Second

// Keys tunable through the API.
const (
	KeyIdleThreshold      = "idle_threshold_seconds"
	KeyHeartbeatTimeout   = "heartbeat_timeout_seconds"
	KeyIdlePowerWatts     = "idle_power_watts"
	KeyElectricityCost    = "electricity_cost_per_kwh"
	KeyCommandTTL         = "command_ttl_seconds"
	KeyHeartbeatInterval  = "agent_heartbeat_interval"
	KeySweepInterval      = "offline_check_interval_seconds"
	KeyCurrency           = "currency"
	KeyOrganizationName   = "organization_name"
	KeyLogLevel           = "log_level"
)

var defaults = map[string]string{
	KeyIdleThreshold:     "300",
	KeyHeartbeatTimeout:  "180",
	KeyIdlePowerWatts:    "65",
	KeyElectricityCost:   "0.12",
	KeyCommandTTL:        "300",
	KeyHeartbeatInterval: "60",
	KeySweepInterval:     "60",
	KeyCurrency:          "USD",
	KeyOrganizationName:  "GreenOps",
	KeyLogLevel:          "info",
}

// numericRanges validates writes to numeric keys. String keys take any value.
var numericRanges = map[string][2]float64{
	KeyIdleThreshold:     {30, 86400},
	KeyHeartbeatTimeout:  {30, 86400},
	KeyIdlePowerWatts:    {1, 2000},
	KeyElectricityCost:   {0, 10},
	KeyCommandTTL:        {60, 3600},
	KeyHeartbeatInterval: {10, 3600},
	KeySweepInterval:     {10, 3600},
}

// Store caches settings from a Backend with a bounded TTL.
type Store struct {
	backend Backend
	ttl     time.Duration
	logger  zerolog.Logger

	mu       sync.RWMutex
	cache    map[string]string
	cachedAt time.Time
}

// NewStore returns a settings store reading through backend with the given
// cache TTL. A zero ttl uses DefaultTTL.
func NewStore(backend Backend, ttl time.Duration, logger zerolog.Logger) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{backend: backend, ttl: ttl, logger: logger}
}

// Get returns the value for key, falling back to the hardcoded default when
// neither the cache nor storage has one.
func (s *Store) Get(key string) string {
	values := s.snapshot()
	if v, ok := values[key]; ok {
		return v
	}
	if v, ok := defaults[key]; ok {
		s.logger.Warn().Str("key", key).Msg("Setting missing from storage, using default")
		return v
	}
	return ""
}

// GetInt returns key parsed as an integer, using the default on parse failure.
func (s *Store) GetInt(key string) int64 {
	if v, err := strconv.ParseFloat(s.Get(key), 64); err == nil {
		return int64(v)
	}
	v, _ := strconv.ParseFloat(defaults[key], 64)
	return int64(v)
}

// GetFloat returns key parsed as a float, using the default on parse failure.
func (s *Store) GetFloat(key string) float64 {
	if v, err := strconv.ParseFloat(s.Get(key), 64); err == nil {
		return v
	}
	v, _ := strconv.ParseFloat(defaults[key], 64)
	return v
}

// All returns every known setting, defaults overlaid with stored values.
func (s *Store) All() map[string]string {
	merged := make(map[string]string, len(defaults))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range s.snapshot() {
		merged[k] = v
	}
	return merged
}

// Set validates and persists one setting, then invalidates the cache so the
// next read is fresh.
func (s *Store) Set(key, value string) error {
	if err := Validate(key, value); err != nil {
		return err
	}
	if err := s.backend.PutSetting(key, value); err != nil {
		return fmt.Errorf("persist setting %s: %w", key, err)
	}
	s.Invalidate()
	return nil
}

// Validate checks that key is whitelisted and, for numeric keys, that value
// parses and falls within the declared range.
func Validate(key, value string) error {
	if _, ok := defaults[key]; !ok {
		return fmt.Errorf("%w: unknown or read-only setting %q", models.ErrValidation, key)
	}
	r, numeric := numericRanges[key]
	if !numeric {
		return nil
	}
	v, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("%w: setting %q requires a numeric value", models.ErrValidation, key)
	}
	if v < r[0] || v > r[1] {
		return fmt.Errorf("%w: setting %q must be between %g and %g", models.ErrValidation, key, r[0], r[1])
	}
	return nil
}

// IsKnownKey reports whether key is in the settings whitelist.
func IsKnownKey(key string) bool {
	_, ok := defaults[key]
	return ok
}

// Invalidate drops the cache; the next read refreshes from storage.
func (s *Store) Invalidate() {
	s.mu.Lock()
	s.cachedAt = time.Time{}
	s.mu.Unlock()
}

func (s *Store) snapshot() map[string]string {
	s.mu.RLock()
	if s.cache != nil && time.Since(s.cachedAt) <= s.ttl {
		cached := s.cache
		s.mu.RUnlock()
		return cached
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache != nil && time.Since(s.cachedAt) <= s.ttl {
		return s.cache
	}

	values, err := s.backend.SettingValues()
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh settings from storage")
		if s.cache != nil {
			// Keep serving the stale cache; retry halfway into the next TTL.
			s.cachedAt = time.Now().Add(-s.ttl / 2)
			return s.cache
		}
		return map[string]string{}
	}

	s.cache = values
	s.cachedAt = time.Now()
	return s.cache
}
