package settings

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/greenops/greenops/internal/server/models"
)

// fakeBackend is an in-memory Backend with injectable failures.
type fakeBackend struct {
	values map[string]string
	err    error
	reads  int
}

func (f *fakeBackend) SettingValues() (map[string]string, error) {
	f.reads++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string]string, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out, nil
}

func (f *fakeBackend) PutSetting(key, value string) error {
	if f.err != nil {
		return f.err
	}
	f.values[key] = value
	return nil
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{values: make(map[string]string)}
}

func TestStore_Get_DefaultsWhenUnset(t *testing.T) {
	s := NewStore(newFakeBackend(), time.Minute, zerolog.Nop())

	assert.Equal(t, "300", s.Get(KeyIdleThreshold))
	assert.Equal(t, int64(180), s.GetInt(KeyHeartbeatTimeout))
	assert.Equal(t, 0.12, s.GetFloat(KeyElectricityCost))
	assert.Equal(t, "USD", s.Get(KeyCurrency))
}

func TestStore_SetAndGet(t *testing.T) {
	backend := newFakeBackend()
	s := NewStore(backend, time.Minute, zerolog.Nop())

	err := s.Set(KeyIdleThreshold, "600")
	assert.NoError(t, err)
	assert.Equal(t, "600", backend.values[KeyIdleThreshold])
	// Set invalidates the cache, so the new value is visible immediately.
	assert.Equal(t, int64(600), s.GetInt(KeyIdleThreshold))
}

func TestStore_Set_Validation(t *testing.T) {
	s := NewStore(newFakeBackend(), time.Minute, zerolog.Nop())

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "nonexistent_key", "1"},
		{"non-numeric value for numeric key", KeyIdleThreshold, "fast"},
		{"below range", KeyIdleThreshold, "10"},
		{"above range", KeyIdleThreshold, "100000"},
		{"negative cost", KeyElectricityCost, "-0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Set(tt.key, tt.value)
			assert.ErrorIs(t, err, models.ErrValidation)
		})
	}

	// String keys take any value.
	assert.NoError(t, s.Set(KeyOrganizationName, "Acme Corp"))
	assert.NoError(t, s.Set(KeyCurrency, "EUR"))
}

func TestStore_CachesWithinTTL(t *testing.T) {
	backend := newFakeBackend()
	backend.values[KeyIdleThreshold] = "450"
	s := NewStore(backend, time.Minute, zerolog.Nop())

	for i := 0; i < 10; i++ {
		assert.Equal(t, int64(450), s.GetInt(KeyIdleThreshold))
	}
	assert.Equal(t, 1, backend.reads)
}

func TestStore_ServesStaleCacheOnBackendFailure(t *testing.T) {
	backend := newFakeBackend()
	backend.values[KeyIdleThreshold] = "450"
	s := NewStore(backend, time.Minute, zerolog.Nop())

	// Prime the cache, then kill the backend and force a refresh.
	assert.Equal(t, int64(450), s.GetInt(KeyIdleThreshold))
	backend.err = errors.New("storage unreachable")
	s.Invalidate()

	assert.Equal(t, int64(450), s.GetInt(KeyIdleThreshold))
}

func TestStore_All_MergesDefaultsAndStored(t *testing.T) {
	backend := newFakeBackend()
	backend.values[KeyIdleThreshold] = "900"
	s := NewStore(backend, time.Minute, zerolog.Nop())

	all := s.All()
	assert.Equal(t, "900", all[KeyIdleThreshold])
	assert.Equal(t, "180", all[KeyHeartbeatTimeout])
	assert.Len(t, all, len(defaults))
}

func TestIsKnownKey(t *testing.T) {
	assert.True(t, IsKnownKey(KeyIdleThreshold))
	assert.True(t, IsKnownKey(KeyLogLevel))
	assert.False(t, IsKnownKey("jwt_secret"))
	assert.False(t, IsKnownKey(""))
}
