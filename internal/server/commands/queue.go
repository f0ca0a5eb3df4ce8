// Package commands owns the per-machine remote-command queue. Invariant: a
// machine has at most one pending command; enqueueing a new one atomically
// expires whatever was still pending.
package commands

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/greenops/greenops/internal/server/models"
	"github.com/greenops/greenops/internal/server/settings"
	"github.com/greenops/greenops/internal/server/status"
	"github.com/greenops/greenops/internal/server/storage"
)

// PollBatchSize caps how many pending commands one poll returns.
const PollBatchSize = 5

// Queue manages queued remote actions.
type Queue struct {
	store    *storage.Store
	settings *settings.Store
	logger   zerolog.Logger
}

// NewQueue returns a command queue over the given store.
func NewQueue(store *storage.Store, settingsStore *settings.Store, logger zerolog.Logger) *Queue {
	return &Queue{store: store, settings: settingsStore, logger: logger}
}

// Enqueue queues a command for a machine. It refuses machines that currently
// compute as offline, since nothing is listening to deliver to; idle machines
// still accept commands. Any prior pending command is expired in the same
// atomic step as the insert.
func (q *Queue) Enqueue(machineID string, kind models.CommandKind, createdBy string) (string, error) {
	if !models.ValidCommandKind(kind) {
		return "", fmt.Errorf("%w: unknown command kind %q", models.ErrValidation, kind)
	}

	m, err := q.store.GetMachine(machineID)
	if err != nil {
		return "", err
	}

	heartbeatTimeout := q.settings.GetInt(settings.KeyHeartbeatTimeout)
	idleThreshold := q.settings.GetInt(settings.KeyIdleThreshold)
	if status.Compute(status.Now(), m.LastSeen, m.IdleSeconds, heartbeatTimeout, idleThreshold) == models.StatusOffline {
		return "", fmt.Errorf("%w: machine %s is offline", models.ErrConflict, machineID)
	}

	cmd := &models.Command{
		ID:        uuid.NewString(),
		MachineID: machineID,
		Kind:      kind,
		Status:    models.CommandPending,
		CreatedBy: createdBy,
		CreatedAt: status.Now(),
	}

	displaced, err := q.store.EnqueueCommand(cmd)
	if err != nil {
		return "", err
	}

	q.logger.Info().
		Str("machine_id", machineID).
		Str("command_id", cmd.ID).
		Str("kind", string(kind)).
		Int("displaced", displaced).
		Str("created_by", createdBy).
		Msg("Command queued")
	return cmd.ID, nil
}

// Poll returns the machine's pending commands without changing their state,
// so retrying a poll is always safe.
func (q *Queue) Poll(machineID string) ([]*models.Command, error) {
	return q.store.PendingCommands(machineID, PollBatchSize)
}

// ReportResult transitions a pending command to executed or failed, scoped to
// the reporting machine. A command that is missing, already terminal, or
// belongs to another machine comes back as ErrNotFound.
func (q *Queue) ReportResult(commandID, machineID string, outcome models.CommandStatus, message string) error {
	if outcome != models.CommandExecuted && outcome != models.CommandFailed {
		return fmt.Errorf("%w: result status must be executed or failed, got %q", models.ErrValidation, outcome)
	}

	if err := q.store.CompleteCommand(commandID, machineID, outcome, message, status.Now()); err != nil {
		return err
	}

	q.logger.Info().
		Str("command_id", commandID).
		Str("machine_id", machineID).
		Str("outcome", string(outcome)).
		Msg("Command result recorded")
	return nil
}

// ExpireStale marks pending commands older than the configured TTL as
// expired, guarding against commands queued for machines that never
// reconnect. Returns the count expired.
func (q *Queue) ExpireStale() (int, error) {
	ttl := time.Duration(q.settings.GetInt(settings.KeyCommandTTL)) * time.Second
	cutoff := status.Now().Add(-ttl)

	expired, err := q.store.ExpireStaleCommands(cutoff)
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		q.logger.Info().Int("count", expired).Msg("Expired stale commands")
	}
	return expired, nil
}
