// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// EscapeTest defines a runtime probe meant to run inside a live sandbox.
// A successful test means the escape attempt was BLOCKED (Run returns
// nil); a failed test means it SUCCEEDED (Run returns an error
// describing what happened). This is spec.md §8 scenario 6's
// runtime-probe check given a concrete shape.
//
// Grounded on the teacher's sandbox/escape.go EscapeTest/EscapeTestRunner
// pattern; the catalogue itself is rewritten against spec.md §4.5's
// specific required-deny list (connect, socket AF_INET/AF_INET6,
// ptrace, kexec_load, bpf, userfaultfd, perf_event_open) rather than
// the teacher's bureau-specific worktree/overlay/systemd concerns.
type EscapeTest struct {
	Name        string
	Description string
	Category    string // "seccomp", "filesystem", "process", "terminal"
	Run         func(ctx context.Context) error
}

// EscapeTestResult holds the result of running an escape test.
type EscapeTestResult struct {
	Test   *EscapeTest
	Passed bool   // true if the escape attempt was blocked
	Error  string // if the escape succeeded, describes how
}

// denyBlocked reports whether errno is the specific EPERM a seccomp
// default-deny filter returns, as opposed to some unrelated failure
// (ENOSYS on a kernel too old to have the syscall, EINVAL from bogus
// arguments tripping a real validation path, etc). Only EPERM is
// evidence the filter did its job; anything else is inconclusive and
// reported as such rather than silently counted as a pass.
func denyBlocked(err error) (blocked bool, detail string) {
	errno, ok := err.(unix.Errno)
	if !ok {
		return false, fmt.Sprintf("unexpected error type: %v", err)
	}
	if errno == unix.EPERM {
		return true, ""
	}
	return false, fmt.Sprintf("got errno %s (%v), want EPERM", unix.ErrnoName(errno), errno)
}

// EscapeTests is the fixed catalogue run by EscapeTestRunner.
var EscapeTests = []EscapeTest{
	{
		Name:        "seccomp-connect",
		Description: "connect() must be denied regardless of socket family",
		Category:    "seccomp",
		Run: func(ctx context.Context) error {
			fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
			if err != nil {
				return fmt.Errorf("could not even create an AF_UNIX socket to test with: %v", err)
			}
			defer unix.Close(fd)

			err = unix.Connect(fd, &unix.SockaddrUnix{Name: "/nonexistent-skeld-escape-probe"})
			if err == nil {
				return fmt.Errorf("connect() succeeded, should have been denied")
			}
			if blocked, detail := denyBlocked(err); !blocked {
				return fmt.Errorf("connect() denied but not via seccomp EPERM: %s", detail)
			}
			return nil
		},
	},
	{
		Name:        "seccomp-socket-inet",
		Description: "socket(AF_INET, ...) must be denied",
		Category:    "seccomp",
		Run: func(ctx context.Context) error {
			_, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
			if err == nil {
				return fmt.Errorf("socket(AF_INET) succeeded, should have been denied")
			}
			if blocked, detail := denyBlocked(err); !blocked {
				return fmt.Errorf("socket(AF_INET) denied but not via seccomp EPERM: %s", detail)
			}
			return nil
		},
	},
	{
		Name:        "seccomp-socket-inet6",
		Description: "socket(AF_INET6, ...) must be denied",
		Category:    "seccomp",
		Run: func(ctx context.Context) error {
			_, err := unix.Socket(unix.AF_INET6, unix.SOCK_STREAM, 0)
			if err == nil {
				return fmt.Errorf("socket(AF_INET6) succeeded, should have been denied")
			}
			if blocked, detail := denyBlocked(err); !blocked {
				return fmt.Errorf("socket(AF_INET6) denied but not via seccomp EPERM: %s", detail)
			}
			return nil
		},
	},
	{
		Name:        "seccomp-ptrace",
		Description: "ptrace() must be denied",
		Category:    "seccomp",
		Run: func(ctx context.Context) error {
			err := unix.PtraceAttach(os.Getpid())
			if err == nil {
				unix.PtraceDetach(os.Getpid())
				return fmt.Errorf("ptrace(PTRACE_ATTACH) succeeded, should have been denied")
			}
			if blocked, detail := denyBlocked(err); !blocked {
				return fmt.Errorf("ptrace() denied but not via seccomp EPERM: %s", detail)
			}
			return nil
		},
	},
	{
		Name:        "seccomp-kexec-load",
		Description: "kexec_load() must be denied",
		Category:    "seccomp",
		Run: func(ctx context.Context) error {
			_, _, errno := unix.Syscall(unix.SYS_KEXEC_LOAD, 0, 0, 0)
			return checkDenySyscall("kexec_load", errno)
		},
	},
	{
		Name:        "seccomp-bpf",
		Description: "bpf() must be denied",
		Category:    "seccomp",
		Run: func(ctx context.Context) error {
			_, _, errno := unix.Syscall(unix.SYS_BPF, 0, 0, 0)
			return checkDenySyscall("bpf", errno)
		},
	},
	{
		Name:        "seccomp-userfaultfd",
		Description: "userfaultfd() must be denied",
		Category:    "seccomp",
		Run: func(ctx context.Context) error {
			_, _, errno := unix.Syscall(unix.SYS_USERFAULTFD, 0, 0, 0)
			return checkDenySyscall("userfaultfd", errno)
		},
	},
	{
		Name:        "seccomp-perf-event-open",
		Description: "perf_event_open() must be denied",
		Category:    "seccomp",
		Run: func(ctx context.Context) error {
			_, _, errno := unix.Syscall6(unix.SYS_PERF_EVENT_OPEN, 0, 0, 0, 0, 0, 0)
			return checkDenySyscall("perf_event_open", errno)
		},
	},
	{
		Name:        "filesystem-shadow",
		Description: "reading /etc/shadow must fail unless explicitly whitelisted",
		Category:    "filesystem",
		Run: func(ctx context.Context) error {
			if _, err := os.ReadFile("/etc/shadow"); err != nil {
				return nil
			}
			return fmt.Errorf("read /etc/shadow succeeded")
		},
	},
	{
		Name:        "process-host-pids",
		Description: "the PID namespace must hide the host's process tree",
		Category:    "process",
		Run: func(ctx context.Context) error {
			entries, err := os.ReadDir("/proc")
			if err != nil {
				return nil
			}
			pidCount := 0
			for _, entry := range entries {
				if entry.IsDir() && isAllDigits(entry.Name()) {
					pidCount++
				}
			}
			if pidCount > 20 {
				return fmt.Errorf("host PIDs visible: found %d process entries in /proc", pidCount)
			}
			return nil
		},
	},
	{
		Name:        "terminal-new-session",
		Description: "the sandboxed process must not be its own session leader's target for TIOCSTI",
		Category:    "terminal",
		Run: func(ctx context.Context) error {
			pid := os.Getpid()
			statData, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
			if err != nil {
				return nil
			}
			fields := strings.Fields(string(statData))
			if len(fields) < 6 {
				return nil
			}
			// Field 6 (index 5) is the session ID; a value equal to our own
			// pid would mean we are the session leader, which --new-session
			// is specifically meant to prevent.
			var sid int
			if _, err := fmt.Sscanf(fields[5], "%d", &sid); err != nil {
				return nil
			}
			if sid == pid {
				return fmt.Errorf("sandboxed process is its own session leader (sid == pid == %d)", pid)
			}
			return nil
		},
	},
}

func checkDenySyscall(name string, errno unix.Errno) error {
	if errno == 0 {
		return fmt.Errorf("%s() succeeded, should have been denied", name)
	}
	if blocked, detail := denyBlocked(errno); !blocked {
		return fmt.Errorf("%s() denied but not via seccomp EPERM: %s", name, detail)
	}
	return nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// EscapeTestRunner runs escape tests inside a sandbox.
type EscapeTestRunner struct {
	tests   []EscapeTest
	results []EscapeTestResult
}

// NewEscapeTestRunner creates a new runner with all tests.
func NewEscapeTestRunner() *EscapeTestRunner {
	return &EscapeTestRunner{tests: EscapeTests}
}

// RunAll runs all escape tests and returns results.
func (r *EscapeTestRunner) RunAll(ctx context.Context) []EscapeTestResult {
	return r.runMatching(ctx, func(*EscapeTest) bool { return true })
}

// RunCategory runs tests in a specific category.
func (r *EscapeTestRunner) RunCategory(ctx context.Context, category string) []EscapeTestResult {
	return r.runMatching(ctx, func(t *EscapeTest) bool { return t.Category == category })
}

func (r *EscapeTestRunner) runMatching(ctx context.Context, match func(*EscapeTest) bool) []EscapeTestResult {
	r.results = make([]EscapeTestResult, 0, len(r.tests))
	for i := range r.tests {
		test := &r.tests[i]
		if !match(test) {
			continue
		}
		result := EscapeTestResult{Test: test, Passed: true}

		testCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := test.Run(testCtx)
		cancel()

		if err != nil {
			result.Passed = false
			result.Error = err.Error()
		}
		r.results = append(r.results, result)
	}
	return r.results
}

// Summary returns a summary of test results.
func (r *EscapeTestRunner) Summary() (passed, failed int) {
	for _, result := range r.results {
		if result.Passed {
			passed++
		} else {
			failed++
		}
	}
	return
}

// PrintResults writes test results to a writer.
func (r *EscapeTestRunner) PrintResults(w io.Writer) {
	fmt.Fprintf(w, "Running escape detection tests...\n\n")

	for _, result := range r.results {
		status := "[PASS]"
		if !result.Passed {
			status = "[FAIL]"
		}
		fmt.Fprintf(w, "%s %s: %s\n", status, result.Test.Name, result.Test.Description)
		if !result.Passed {
			fmt.Fprintf(w, "       Escape vector: %s\n", result.Error)
		}
	}

	passed, failed := r.Summary()
	fmt.Fprintf(w, "\n%d/%d tests passed", passed, passed+failed)
	if failed == 0 {
		fmt.Fprintf(w, " - sandbox isolation verified\n")
	} else {
		fmt.Fprintf(w, " - %d escape vectors detected!\n", failed)
	}
}

// HasFailures returns true if any escape succeeded.
func (r *EscapeTestRunner) HasFailures() bool {
	_, failed := r.Summary()
	return failed > 0
}
