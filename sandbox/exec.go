package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/kballard/go-shellquote"
	"go.uber.org/zap"
)

const shellPath = "/bin/sh"

// launchWaitDelay bounds how long a launched process is waited on for its
// output pipes once it has exited.
const launchWaitDelay = time.Second

// command builds the child process for argv. The sandbox environment is
// appended to whatever environment the command already carries.
func (s *Sandbox) command(ctx context.Context, argv []string, useShell bool) *exec.Cmd {
	name, args := argv[0], argv[1:]
	if useShell {
		name, args = shellPath, []string{"-c", shellquote.Join(argv...)}
	}

	cmd := s.execCommand(ctx, name, args...) //nolint:gosec // argv is assembled from config and caller input
	cmd.Env = append(cmd.Environ(), s.env...)
	return cmd
}

// Run executes podman with subcommand and args, waits for it to exit and
// returns the captured output. A non-zero exit is reported through
// RunResult.ExitCode unless opts.CheckExitCode is set, in which case a
// *CommandFailedError is returned alongside the result. No timeout is applied
// here; cancelling ctx kills the child.
func (s *Sandbox) Run(ctx context.Context, opts RunOptions, subcommand string, args ...string) (*RunResult, error) {
	argv := s.Args(subcommand, args...)
	cmd := s.command(ctx, argv, opts.UseShell)

	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &stdoutBuf
	cmd.Stderr = &stderrBuf

	s.logger.Debug("running podman",
		zap.String("subcommand", subcommand),
		zap.Strings("args", argv),
		zap.Bool("shell", opts.UseShell))

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("podman %s interrupted: %w", subcommand, ctxErr)
	}

	result := &RunResult{
		Args:   argv,
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run podman %s: %w", subcommand, err)
		}
		result.ExitCode = exitErr.ExitCode()
	}

	s.logger.Debug("podman exited",
		zap.String("subcommand", subcommand),
		zap.Int("exit_code", result.ExitCode),
		zap.Int("stdout_len", len(result.Stdout)),
		zap.Int("stderr_len", len(result.Stderr)))

	if opts.CheckExitCode && result.ExitCode != 0 {
		return result, &CommandFailedError{
			Args:     result.Args,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
		}
	}

	return result, nil
}

// Launch starts podman with subcommand and args and returns without waiting.
// Standard input is the null device. Output goes to opts.Stdout/opts.Stderr,
// or is discarded when they are nil. The process leads its own process group
// so that Stop reaches anything it forks. The caller stops the process with
// Process.Stop or waits for it with Process.Wait.
func (s *Sandbox) Launch(opts LaunchOptions, subcommand string, args ...string) (*Process, error) {
	argv := s.Args(subcommand, args...)
	cmd := s.command(context.Background(), argv, opts.UseShell)
	cmd.Stdin = nil
	cmd.Stdout = opts.Stdout
	cmd.Stderr = opts.Stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.WaitDelay = launchWaitDelay

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch podman %s: %w", subcommand, err)
	}

	s.logger.Info("podman launched",
		zap.String("subcommand", subcommand),
		zap.Int("pid", cmd.Process.Pid))

	p := &Process{
		cmd:  cmd,
		args: argv,
		done: make(chan struct{}),
	}
	go p.reap()

	return p, nil
}

// Process is a podman child started by Launch. It is reaped in the
// background, so Wait and Stop may be called from any goroutine.
type Process struct {
	cmd  *exec.Cmd
	args []string
	done chan struct{}

	exitCode int
	err      error
}

func (p *Process) reap() {
	err := p.cmd.Wait()
	p.exitCode = p.cmd.ProcessState.ExitCode()

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, exec.ErrWaitDelay) {
		p.err = err
	}
	close(p.done)
}

// Pid returns the operating system process ID.
func (p *Process) Pid() int { return p.cmd.Process.Pid }

// Args returns the argv the process was started with.
func (p *Process) Args() []string { return append([]string(nil), p.args...) }

// Done is closed once the process has exited.
func (p *Process) Done() <-chan struct{} { return p.done }

// Wait blocks until the process exits and returns its exit code. The code is
// -1 when the process was terminated by a signal.
func (p *Process) Wait() (int, error) {
	<-p.done
	return p.exitCode, p.err
}

// Signal sends sig to the process.
func (p *Process) Signal(sig os.Signal) error {
	return p.cmd.Process.Signal(sig)
}

// signalGroup sends sig to every process in the process group.
func (p *Process) signalGroup(sig syscall.Signal) error {
	if err := syscall.Kill(-p.cmd.Process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// Stop sends SIGTERM to the process group and waits for the process to exit.
// When ctx expires first the group is killed; Stop then returns within
// the launch wait delay even if a leftover child still holds the output pipes.
func (p *Process) Stop(ctx context.Context) error {
	select {
	case <-p.done:
		return nil
	default:
	}

	if err := p.signalGroup(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal podman: %w", err)
	}

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
		if err := p.signalGroup(syscall.SIGKILL); err != nil {
			return fmt.Errorf("failed to kill podman: %w", err)
		}
		<-p.done
		return ctx.Err()
	}
}
