package service

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
)

// CommandExecutor carries out a remote command on the local machine.
type CommandExecutor interface {
	Execute(ctx context.Context, command string) error
}

// PowerExecutor maps the server's command vocabulary onto platform power
// management tools.
type PowerExecutor struct{}

// Execute runs the platform action for the given command kind.
func (PowerExecutor) Execute(ctx context.Context, command string) error {
	name, args, err := powerCommand(command)
	if err != nil {
		return err
	}

	if out, err := exec.CommandContext(ctx, name, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", command, err, out)
	}
	return nil
}

func powerCommand(command string) (string, []string, error) {
	switch command {
	case "sleep":
		switch runtime.GOOS {
		case "linux":
			return "systemctl", []string{"suspend"}, nil
		case "darwin":
			return "pmset", []string{"sleepnow"}, nil
		case "windows":
			return "rundll32.exe", []string{"powrprof.dll,SetSuspendState", "0,1,0"}, nil
		}
	case "shutdown":
		switch runtime.GOOS {
		case "linux", "darwin":
			return "shutdown", []string{"-h", "now"}, nil
		case "windows":
			return "shutdown", []string{"/s", "/t", "0"}, nil
		}
	default:
		return "", nil, fmt.Errorf("unsupported command %q", command)
	}
	return "", nil, fmt.Errorf("command %q not supported on %s", command, runtime.GOOS)
}
