package models

import "time"

// CommandKind is the closed set of remote power actions.
type CommandKind string

const (
	CommandSleep    CommandKind = "sleep"
	CommandShutdown CommandKind = "shutdown"
)

// ValidCommandKind reports whether k is a known command kind.
func ValidCommandKind(k CommandKind) bool {
	return k == CommandSleep || k == CommandShutdown
}

// CommandStatus tracks the command lifecycle. Pending is the only non-terminal
// state; there is no transition out of executed, failed or expired.
type CommandStatus string

const (
	CommandPending  CommandStatus = "pending"
	CommandExecuted CommandStatus = "executed"
	CommandFailed   CommandStatus = "failed"
	CommandExpired  CommandStatus = "expired"
)

// Command is a single queued remote action for one machine.
type Command struct {
	ID         string        `json:"id"`
	MachineID  string        `json:"machine_id"`
	Kind       CommandKind   `json:"command"`
	Status     CommandStatus `json:"status"`
	CreatedBy  string        `json:"created_by"`
	CreatedAt  time.Time     `json:"created_at"`
	ExecutedAt *time.Time    `json:"executed_at,omitempty"`
	Result     string        `json:"result,omitempty"`
}
