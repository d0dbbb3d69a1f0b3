package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

// ErrCommandFailed is the sentinel error wrapped by CommandFailedError.
var ErrCommandFailed = errors.New("podman command failed")

// File permission constants
const (
	DirPermission  = 0o755
	FilePermission = 0o644
)

// ExecCommandFunc creates the *exec.Cmd for one podman invocation.
// Tests replace it to record or redirect invocations.
type ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// ImageClient pulls an image and streams it as a docker-save tarball.
type ImageClient interface {
	Save(ctx context.Context, ref string, w io.Writer) error
}

// RunOptions controls Run.
type RunOptions struct {
	// CheckExitCode turns a non-zero exit into a *CommandFailedError.
	CheckExitCode bool
	// UseShell runs the shell-quoted argv through /bin/sh -c.
	UseShell bool
}

// LaunchOptions controls Launch. Nil writers discard the stream.
type LaunchOptions struct {
	UseShell bool
	Stdout   io.Writer
	Stderr   io.Writer
}

// RunResult is the outcome of a podman invocation that ran to completion.
type RunResult struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// CommandFailedError is returned by Run when CheckExitCode is set and podman
// exits non-zero. It carries the captured output.
type CommandFailedError struct {
	Args     []string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Error implements the error interface.
func (e *CommandFailedError) Error() string {
	msg := fmt.Sprintf("%q exited with code %d", strings.Join(e.Args, " "), e.ExitCode)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Unwrap returns ErrCommandFailed so callers can use errors.Is.
func (e *CommandFailedError) Unwrap() error { return ErrCommandFailed }

// RemovalStatus describes what a cleanup step did to one path.
type RemovalStatus string

const (
	Removed  RemovalStatus = "removed"
	NotFound RemovalStatus = "not_found"
	Failed   RemovalStatus = "failed"
)

// RemovalOutcome reports the result of removing one path. Err is set only
// when Status is Failed.
type RemovalOutcome struct {
	Path   string
	Status RemovalStatus
	Err    error
}

// CacheStatus reports what RestoreImageFromCache did.
type CacheStatus string

const (
	// CachePopulated means the image was pulled and saved into the cache.
	CachePopulated CacheStatus = "populated"
	// CacheLoaded means the cached tarball was loaded into sandbox storage.
	CacheLoaded CacheStatus = "loaded"
)
