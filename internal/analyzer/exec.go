package analyzer

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// ExecLauncher runs the analyzer as a local child process.
type ExecLauncher struct {
	Command   string
	ExtraArgs []string
}

func NewExecLauncher(command string, extraArgs []string) *ExecLauncher {
	return &ExecLauncher{Command: command, ExtraArgs: extraArgs}
}

func (l *ExecLauncher) Start(ctx context.Context, spec Spec) (Process, error) {
	args := append(append([]string{}, l.ExtraArgs...), spec.Args()...)
	cmd := exec.CommandContext(ctx, l.Command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, pkgerrors.Wrap(err, "stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, pkgerrors.Wrapf(err, "spawn %s", l.Command)
	}

	return &execProcess{cmd: cmd, stdout: stdout, stderr: stderr}, nil
}

type execProcess struct {
	cmd    *exec.Cmd
	stdout io.Reader
	stderr io.Reader
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }
func (p *execProcess) Stderr() io.Reader { return p.stderr }

func (p *execProcess) Wait() ExitStatus {
	err := p.cmd.Wait()
	if err == nil {
		return ExitStatus{Code: 0}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		status := ExitStatus{Code: exitErr.ExitCode()}
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			status.Signal = ws.Signal().String()
		}
		return status
	}
	return ExitStatus{Code: -1, Err: err}
}

func (p *execProcess) Terminate() bool {
	if p.cmd.Process == nil {
		return false
	}
	// Fails once the process has exited; the handle is inert by then.
	return p.cmd.Process.Signal(syscall.SIGTERM) == nil
}
