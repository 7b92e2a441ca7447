package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
)

// Executor builds the command for one worker process. Each call must
// return a fresh, unstarted command.
type Executor interface {
	Command() (*exec.Cmd, error)
}

// CommandExecutor runs a fixed command line.
type CommandExecutor struct {
	Path string
	Args []string
	// Env is appended to the parent environment.
	Env []string
}

func (e *CommandExecutor) Command() (*exec.Cmd, error) {
	if e.Path == "" {
		return nil, errors.New("supervisor: worker command path is empty")
	}
	cmd := exec.Command(e.Path, e.Args...)
	cmd.Env = append(os.Environ(), e.Env...)
	return cmd, nil
}

// SelfExecutor re-executes the running binary with the given arguments,
// typically the hidden worker subcommand plus data flags.
func SelfExecutor(args ...string) (*CommandExecutor, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve executable: %w", err)
	}
	return &CommandExecutor{Path: exe, Args: args}, nil
}
