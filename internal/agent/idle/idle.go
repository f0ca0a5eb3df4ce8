// Package idle abstracts platform idle-time detection. The probes themselves
// are pluggable data sources; the agent only needs seconds-since-last-input.
package idle

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Detector reports how long the machine has been without user input.
type Detector interface {
	IdleSeconds(ctx context.Context) (int64, error)
}

// CommandDetector shells out to an external probe (xprintidle on X11,
// ioreg-based scripts on macOS) that prints idle time on stdout.
type CommandDetector struct {
	Command string
	Args    []string
	// Millis marks probes that report milliseconds rather than seconds,
	// such as xprintidle.
	Millis bool
	Logger zerolog.Logger
}

// IdleSeconds runs the probe and parses its output.
func (d *CommandDetector) IdleSeconds(ctx context.Context) (int64, error) {
	out, err := exec.CommandContext(ctx, d.Command, d.Args...).Output()
	if err != nil {
		return 0, fmt.Errorf("idle probe %s: %w", d.Command, err)
	}

	value, err := strconv.ParseInt(strings.TrimSpace(string(out)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("idle probe %s returned unparsable output: %w", d.Command, err)
	}
	if d.Millis {
		value /= 1000
	}
	if value < 0 {
		value = 0
	}
	return value, nil
}

// NoopDetector always reports zero idle time. Used where no probe is
// available so the agent still heartbeats.
type NoopDetector struct{}

// IdleSeconds always returns 0.
func (NoopDetector) IdleSeconds(context.Context) (int64, error) {
	return 0, nil
}

// NewDetector builds a detector for the configured probe command, falling
// back to the no-op detector when none is configured.
func NewDetector(probe string, logger zerolog.Logger) Detector {
	if probe == "" {
		logger.Warn().Msg("No idle probe configured; reporting zero idle time")
		return NoopDetector{}
	}

	parts := strings.Fields(probe)
	return &CommandDetector{
		Command: parts[0],
		Args:    parts[1:],
		Millis:  strings.Contains(parts[0], "xprintidle"),
		Logger:  logger,
	}
}
