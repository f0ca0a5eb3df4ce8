package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/greenops/greenops/internal/server/auth"
	"github.com/greenops/greenops/internal/server/commands"
	"github.com/greenops/greenops/internal/server/ingest"
	"github.com/greenops/greenops/internal/server/models"
	"github.com/greenops/greenops/internal/server/registry"
	"github.com/greenops/greenops/internal/server/settings"
	"github.com/greenops/greenops/internal/server/storage"
)

// Handlers binds the core services to the wire protocol.
type Handlers struct {
	store        *storage.Store
	registry     *registry.Registry
	queue        *commands.Queue
	ingest       *ingest.Service
	settings     *settings.Store
	jwt          *auth.JWTManager
	loginLimiter *auth.RateLimiter
	logger       zerolog.Logger
}

// NewHandlers wires the API handlers.
func NewHandlers(
	store *storage.Store,
	reg *registry.Registry,
	queue *commands.Queue,
	ingestService *ingest.Service,
	settingsStore *settings.Store,
	jwtManager *auth.JWTManager,
	loginLimiter *auth.RateLimiter,
	logger zerolog.Logger,
) *Handlers {
	return &Handlers{
		store:        store,
		registry:     reg,
		queue:        queue,
		ingest:       ingestService,
		settings:     settingsStore,
		jwt:          jwtManager,
		loginLimiter: loginLimiter,
		logger:       logger,
	}
}

// ─── Agent endpoints ────────────────────────────────────────────────────────

func (h *Handlers) health(w http.ResponseWriter, _ *http.Request) {
	if err := h.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":    "unhealthy",
			"storage":   "disconnected",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"storage":   "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "JSON body required")
		return
	}

	var missing []string
	if req.MACAddress == "" {
		missing = append(missing, "mac_address")
	}
	if req.Hostname == "" {
		missing = append(missing, "hostname")
	}
	if req.OSType == "" {
		missing = append(missing, "os_type")
	}
	if len(missing) > 0 {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("missing required fields: %s", strings.Join(missing, ", ")))
		return
	}

	result, err := h.registry.Register(req.MACAddress, req.Hostname, req.OSType, req.OSVersion)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, registerResponse{
		MachineID: result.MachineID,
		Token:     result.Token,
		Message:   result.Message,
	})
}

func (h *Handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "JSON body required")
		return
	}

	if req.IdleSeconds == nil {
		writeError(w, http.StatusUnprocessableEntity, "idle_seconds is required")
		return
	}

	in := ingest.Input{
		IdleSeconds:   *req.IdleSeconds,
		CPUUsage:      req.CPUUsage,
		MemoryUsage:   req.MemoryUsage,
		UptimeSeconds: req.UptimeSeconds,
	}
	if req.Timestamp != nil {
		ts, err := parseTimestamp(*req.Timestamp)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "invalid timestamp format, use ISO 8601")
			return
		}
		in.Timestamp = &ts
	}

	result, err := h.ingest.Ingest(machineIDFrom(r), in)
	if err != nil {
		// A vanished machine behind a valid credential is an identity
		// desync, not a client error.
		if errors.Is(err, models.ErrNotFound) {
			h.logger.Error().Str("machine_id", machineIDFrom(r)).Msg("Heartbeat for machine that no longer exists")
			writeError(w, http.StatusInternalServerError, "machine record missing")
			return
		}
		h.writeDomainError(w, err)
		return
	}

	resp := heartbeatResponse{
		Status:          "ok",
		MachineStatus:   result.MachineStatus,
		EnergyWastedKWH: result.EnergyWastedKWH,
		IsIdle:          result.IsIdle,
	}
	for _, cmd := range result.Commands {
		resp.Commands = append(resp.Commands, commandPayload{ID: cmd.ID, Command: cmd.Kind})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) pollCommands(w http.ResponseWriter, r *http.Request) {
	pending, err := h.queue.Poll(machineIDFrom(r))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := commandsResponse{Commands: []commandPayload{}}
	for _, cmd := range pending {
		resp.Commands = append(resp.Commands, commandPayload{ID: cmd.ID, Command: cmd.Kind})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) commandResult(w http.ResponseWriter, r *http.Request) {
	var req commandResultRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "JSON body required")
		return
	}

	var outcome models.CommandStatus
	switch req.Status {
	case "executed":
		outcome = models.CommandExecuted
	case "failed":
		outcome = models.CommandFailed
	default:
		writeError(w, http.StatusUnprocessableEntity, `status must be "executed" or "failed"`)
		return
	}

	commandID := mux.Vars(r)["id"]
	if err := h.queue.ReportResult(commandID, machineIDFrom(r), outcome, req.Message); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "result recorded"})
}

// ─── Operator auth ──────────────────────────────────────────────────────────

func (h *Handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil || req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}

	user, err := h.store.GetUser(req.Username)
	if err != nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		h.logger.Warn().Str("remote", r.RemoteAddr).Msg("Login failed")
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwt.Issue(user.ID, user.Username, user.Role)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		Username:  user.Username,
		Role:      user.Role,
	})
}

func (h *Handlers) verify(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    true,
		"username": claims.Username,
		"role":     claims.Role,
		"user_id":  claims.UserID,
	})
}

// ─── Dashboard endpoints ────────────────────────────────────────────────────

func (h *Handlers) listMachines(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	statusFilter := models.MachineStatus(r.URL.Query().Get("status"))

	machines, err := h.registry.List(statusFilter, limit, offset)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	payload := make([]machinePayload, 0, len(machines))
	for _, m := range machines {
		payload = append(payload, toMachinePayload(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"machines": payload, "count": len(payload)})
}

func (h *Handlers) getMachine(w http.ResponseWriter, r *http.Request) {
	m, err := h.registry.Get(mux.Vars(r)["id"])
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMachinePayload(m))
}

func (h *Handlers) deleteMachine(w http.ResponseWriter, r *http.Request) {
	machineID := mux.Vars(r)["id"]
	if err := h.registry.Delete(machineID); err != nil {
		h.writeDomainError(w, err)
		return
	}
	h.logger.Info().Str("machine_id", machineID).Str("operator", claimsFrom(r).Username).Msg("Machine deleted")
	writeJSON(w, http.StatusOK, map[string]string{"message": "machine removed"})
}

func (h *Handlers) queueSleep(w http.ResponseWriter, r *http.Request) {
	h.enqueueCommand(w, r, models.CommandSleep)
}

func (h *Handlers) queueShutdown(w http.ResponseWriter, r *http.Request) {
	h.enqueueCommand(w, r, models.CommandShutdown)
}

func (h *Handlers) enqueueCommand(w http.ResponseWriter, r *http.Request, kind models.CommandKind) {
	machineID := mux.Vars(r)["id"]
	commandID, err := h.queue.Enqueue(machineID, kind, claimsFrom(r).Username)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message":    fmt.Sprintf("command %q queued for machine %s", kind, machineID),
		"command_id": commandID,
		"command":    string(kind),
	})
}

func (h *Handlers) dashboardStats(w http.ResponseWriter, _ *http.Request) {
	stats, err := h.registry.Stats()
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ─── Settings endpoints ─────────────────────────────────────────────────────

func (h *Handlers) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.settings.All())
}

func (h *Handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]string
	if err := decodeJSON(r, &updates); err != nil || len(updates) == 0 {
		writeError(w, http.StatusBadRequest, "JSON object of settings required")
		return
	}

	// Validate the whole batch before applying any of it.
	applied := make([]string, 0, len(updates))
	for key, value := range updates {
		if !settings.IsKnownKey(key) {
			continue
		}
		if err := settings.Validate(key, value); err != nil {
			h.writeDomainError(w, err)
			return
		}
		applied = append(applied, key)
	}
	if len(applied) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no valid settings keys provided")
		return
	}

	for _, key := range applied {
		if err := h.settings.Set(key, updates[key]); err != nil {
			h.writeDomainError(w, err)
			return
		}
	}

	h.logger.Info().Strs("keys", applied).Str("operator", claimsFrom(r).Username).Msg("Settings updated")
	writeJSON(w, http.StatusOK, map[string]any{"message": "settings updated", "updated": applied})
}

func (h *Handlers) putSetting(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if !settings.IsKnownKey(key) {
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("unknown or read-only setting: %s", key))
		return
	}

	var req settingUpdateRequest
	if err := decodeJSON(r, &req); err != nil || req.Value == nil {
		writeError(w, http.StatusBadRequest, `JSON body with "value" field required`)
		return
	}

	if err := h.settings.Set(key, *req.Value); err != nil {
		h.writeDomainError(w, err)
		return
	}

	h.logger.Info().Str("key", key).Str("operator", claimsFrom(r).Username).Msg("Setting updated")
	writeJSON(w, http.StatusOK, map[string]string{"message": "setting updated", "key": key, "value": *req.Value})
}

// parseTimestamp accepts ISO 8601 with or without a zone offset; a zone-less
// timestamp is taken as UTC.
func parseTimestamp(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
