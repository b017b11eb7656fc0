package ai

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ExecCommandRunner runs the model CLI as a subprocess. On context
// cancellation the process gets SIGTERM, then SIGKILL after a grace period.
type ExecCommandRunner struct{}

const execKillGrace = 10 * time.Second

func (r *ExecCommandRunner) Run(ctx context.Context, dir string, name string, args []string, stdin string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.Stdin = strings.NewReader(stdin)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = execKillGrace

	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return stdout.String(), stderr.String(), fmt.Errorf("%s: %w", name, err)
	}
	return stdout.String(), stderr.String(), nil
}
