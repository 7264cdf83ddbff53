// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"errors"
	"fmt"
)

// ErrHelperNotFound is returned when the sandbox helper binary (the
// bubblewrap-equivalent launcher) cannot be located on $PATH.
var ErrHelperNotFound = errors.New("sandbox helper not found on PATH")

// MandatoryPathMissingError is returned by Prepare when a non-optional
// whitelist entry's source does not exist on the host.
type MandatoryPathMissingError struct {
	Path string
}

func (e *MandatoryPathMissingError) Error() string {
	return fmt.Sprintf("mandatory whitelist path does not exist: %s", e.Path)
}

// SeccompBuildError wraps a failure constructing the BPF program (C5).
type SeccompBuildError struct {
	Err error
}

func (e *SeccompBuildError) Error() string { return fmt.Sprintf("building seccomp filter: %v", e.Err) }
func (e *SeccompBuildError) Unwrap() error  { return e.Err }

// SeccompInstallError wraps a failure handing the serialized filter to
// the helper: creating the seccomp pipe or writing the program into it.
type SeccompInstallError struct {
	Err error
}

func (e *SeccompInstallError) Error() string {
	return fmt.Sprintf("installing seccomp filter: %v", e.Err)
}
func (e *SeccompInstallError) Unwrap() error { return e.Err }

// TerminalModeError wraps a failure saving the controlling terminal's
// state before an attached launch.
type TerminalModeError struct {
	Err error
}

func (e *TerminalModeError) Error() string {
	return fmt.Sprintf("saving terminal state: %v", e.Err)
}
func (e *TerminalModeError) Unwrap() error { return e.Err }

// SpawnFailedError wraps a failure starting the sandbox helper or, in
// no-sandbox mode, the editor itself.
type SpawnFailedError struct {
	Err error
}

func (e *SpawnFailedError) Error() string { return fmt.Sprintf("spawning sandbox: %v", e.Err) }
func (e *SpawnFailedError) Unwrap() error  { return e.Err }

// ExitError reports the exit status of an attached launch, mirroring the
// teacher's sandbox.ExitError (sandbox/sandbox.go): a typed wrapper
// around the process exit code rather than a raw *exec.ExitError, so
// callers don't need to know the child was run via os/exec.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string { return fmt.Sprintf("exited with status %d", e.Code) }

// ChildSignalledError reports that the child was terminated by a signal
// rather than exiting normally.
type ChildSignalledError struct {
	Signal string
}

func (e *ChildSignalledError) Error() string {
	return fmt.Sprintf("child terminated by signal %s", e.Signal)
}

// IsExitError reports whether err is (or wraps) an *ExitError and returns
// its code.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
