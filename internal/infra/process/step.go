package process

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"orderflow/internal/ports"
)

var _ ports.Step = (*Command)(nil)

// waitDelay bounds how long Run waits for output pipes after the process
// has been killed on timeout.
const waitDelay = 5 * time.Second

// Command runs a step as an external process. Input is passed only through
// the environment; stdout and stderr are captured for diagnostics.
type Command struct {
	Key  string
	Argv []string
	Dir  string
}

func New(key string, argv []string) *Command {
	return &Command{Key: key, Argv: argv}
}

func (c *Command) Name() string { return c.Key }

func (c *Command) Run(ctx context.Context, env []string) ports.StepResult {
	if len(c.Argv) == 0 {
		return ports.StepResult{ExitCode: -1, Err: errors.New("empty command")}
	}

	cmd := exec.CommandContext(ctx, c.Argv[0], c.Argv[1:]...)
	cmd.Env = env
	cmd.Dir = c.Dir
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := ports.StepResult{
		ExitCode: cmd.ProcessState.ExitCode(),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}
	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		return res
	}
	if ctx.Err() != nil {
		res.Err = ctx.Err()
		return res
	}
	res.Err = err
	return res
}
