// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// HelperName is the executable the sandbox helper argv built by
// Spec.ToHelperArgv targets, looked up on $PATH. Conceptually
// bubblewrap; Skeld never shells out to anything else for isolation.
const HelperName = "bwrap"

// helperLookPath is a seam over exec.LookPath for tests.
var helperLookPath = exec.LookPath

// pathExists is a seam over a stat-based existence check for tests.
var pathExists = func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// State is a position in the launcher's state machine, per spec.md
// §4.6 step 3: Preparing -> Spawning -> Running -> Exited, with an
// error edge from any state to Failed.
type State int

const (
	Preparing State = iota
	Spawning
	Running
	Exited
	Failed
)

func (s State) String() string {
	switch s {
	case Preparing:
		return "Preparing"
	case Spawning:
		return "Spawning"
	case Running:
		return "Running"
	case Exited:
		return "Exited"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// LaunchPlan is the output of Prepare: a fully-resolved helper argv and
// seccomp program, ready to spawn without any further decision-making.
type LaunchPlan struct {
	Spec          *Spec
	HelperPath    string // empty when Spec.NoSandbox
	HelperArgv    []string
	SeccompFilter []unix.SockFilter // nil when Spec.NoSandbox
}

// seccompFD is the file descriptor number the helper sees its
// seccomp-program pipe at. exec.Cmd always attaches ExtraFiles starting
// at fd 3, and every launch path here passes the filter as the sole
// extra file, so this is a constant rather than something threaded
// through as a parameter.
const seccompFD = 3

// targetAndArgv returns the literal program and argv to execute: the
// helper and its argv when sandboxed, or the editor directly when
// Spec.NoSandbox skips the helper entirely (spec.md §4.5's "no-sandbox
// skips C5 and C6 execs the editor directly").
func (p *LaunchPlan) targetAndArgv() (string, []string) {
	if p.Spec.NoSandbox {
		return p.Spec.EditorArgv[0], p.Spec.EditorArgv[1:]
	}
	return p.HelperPath, p.HelperArgv[1:]
}

// Prepare implements C6 operation 1: resolve the helper, build the
// seccomp program, compute the helper argv, and pre-verify that every
// mandatory whitelist entry exists on the host.
//
// Grounded on the teacher's Sandbox.Command (sandbox/sandbox.go), which
// also separates "build the invocation" from "run it"; Skeld's split is
// sharper because seccomp construction (C5) and argv construction (C4)
// are independent of each other and both need to finish before
// spawning.
func Prepare(spec *Spec) (*LaunchPlan, error) {
	if missing := spec.MissingMandatoryPaths(pathExists); len(missing) > 0 {
		return nil, &MandatoryPathMissingError{Path: missing[0]}
	}

	plan := &LaunchPlan{Spec: spec}
	if spec.NoSandbox {
		return plan, nil
	}

	helperPath, err := helperLookPath(HelperName)
	if err != nil {
		return nil, ErrHelperNotFound
	}
	plan.HelperPath = helperPath

	filter, err := BuildFilter()
	if err != nil {
		return nil, err // already a *SeccompBuildError
	}
	plan.SeccompFilter = filter
	plan.HelperArgv = spec.ToHelperArgv(helperPath, seccompFD)
	return plan, nil
}

// serializeFilter encodes a BPF program in the wire layout the kernel's
// sock_fprog expects: each instruction is 8 bytes (u16 code, u8 jt, u8
// jf, u32 k), little-endian, which is the native byte order of both
// architectures BuildFilter supports (amd64, arm64).
func serializeFilter(filter []unix.SockFilter) []byte {
	buf := &bytes.Buffer{}
	buf.Grow(len(filter) * 8)
	for _, insn := range filter {
		binary.Write(buf, binary.LittleEndian, insn.Code)
		binary.Write(buf, binary.LittleEndian, insn.Jt)
		binary.Write(buf, binary.LittleEndian, insn.Jf)
		binary.Write(buf, binary.LittleEndian, insn.K)
	}
	return buf.Bytes()
}

// openSeccompPipe writes the serialized filter into a pipe and returns
// the read end for the child and the write end for the parent to close
// once the child has inherited it. The write happens synchronously
// before Start: the compiled filter is under a hundred 8-byte
// instructions, well under a pipe's kernel buffer, so there is no
// blocking risk in writing
// before the reader exists.
func openSeccompPipe(filter []unix.SockFilter) (r, w *os.File, err error) {
	r, w, err = os.Pipe()
	if err != nil {
		return nil, nil, err
	}
	if _, err := w.Write(serializeFilter(filter)); err != nil {
		r.Close()
		w.Close()
		return nil, nil, err
	}
	return r, w, nil
}

// environForPolicy computes the process environment to hand an exec.Cmd
// that execs the editor directly (no-sandbox mode, where there is no
// helper to do --clearenv/--setenv on Skeld's behalf).
func environForPolicy(policy EnvPolicy) []string {
	if policy.PassAll {
		return os.Environ()
	}
	env := make([]string, 0, len(policy.Allowlist))
	for _, name := range policy.Allowlist {
		if value, ok := os.LookupEnv(name); ok {
			env = append(env, name+"="+value)
		}
	}
	return env
}

// ExitOutcome reports how a launch ended.
type ExitOutcome struct {
	Code      int
	Signalled bool  // the child died from a signal rather than exiting
	Detached  bool  // this was a detached launch; Code is always 0
	Aborted   bool  // a second SIGINT/SIGTERM within 1s ended the launcher early
}

// Launcher drives one launch through the C6 state machine. Zero value
// is ready to use; a Launcher is not meant to be reused across launches.
type Launcher struct {
	state State
}

// State returns the launcher's current position in the state machine.
func (l *Launcher) State() State { return l.state }

func (l *Launcher) setState(s State) { l.state = s }

// Launch implements C6 operation 2, dispatching to the attached or
// detached path per plan.Spec.Detach.
func (l *Launcher) Launch(plan *LaunchPlan) (*ExitOutcome, error) {
	l.setState(Spawning)
	if plan.Spec.Detach {
		return l.launchDetached(plan)
	}
	return l.launchAttached(plan)
}

// launchAttached implements the synchronous path: spawn, forward
// SIGINT/SIGTERM to the child, wait for it, and report its exit status.
// A second signal delivered within one second of the first aborts the
// launcher immediately instead of waiting further; the helper still
// tears down the sandbox namespace because its argv carries
// --die-with-parent.
//
// Grounded on cmd/bureau/observe/observe.go's signal.Notify + goroutine
// pattern for forwarding termination to a live session, extended with
// the double-signal escalation spec.md §5 requires and that the
// teacher's simpler one-shot restore-and-exit does not need.
func (l *Launcher) launchAttached(plan *LaunchPlan) (*ExitOutcome, error) {
	target, argv := plan.targetAndArgv()
	cmd := exec.Command(target, argv...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = os.Stdin, os.Stdout, os.Stderr

	// Whatever put the terminal in its current mode (a TUI selector, an
	// interactive shell) owns getting it back afterward, and the editor
	// may die from a signal or a crash before its own restore runs. The
	// launcher is the only thing guaranteed to still be alive to put it
	// back, on every exit path including the double-signal abort below.
	stdinFd := int(os.Stdin.Fd())
	if term.IsTerminal(stdinFd) {
		oldState, err := term.MakeRaw(stdinFd)
		if err != nil {
			l.setState(Failed)
			return nil, &TerminalModeError{Err: err}
		}
		defer term.Restore(stdinFd, oldState)
	}

	var seccompR *os.File
	if !plan.Spec.NoSandbox {
		cmd.Dir = ""
		r, w, err := openSeccompPipe(plan.SeccompFilter)
		if err != nil {
			l.setState(Failed)
			return nil, &SeccompInstallError{Err: err}
		}
		defer w.Close()
		cmd.ExtraFiles = []*os.File{r}
		seccompR = r
	} else {
		cmd.Dir = plan.Spec.WorkingDir
		cmd.Env = environForPolicy(plan.Spec.Env)
	}

	if err := cmd.Start(); err != nil {
		if seccompR != nil {
			seccompR.Close()
		}
		l.setState(Failed)
		return nil, &SpawnFailedError{Err: err}
	}
	if seccompR != nil {
		seccompR.Close()
	}
	l.setState(Running)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var lastSignal time.Time
	for {
		select {
		case sig := <-sigCh:
			now := time.Now()
			if !lastSignal.IsZero() && now.Sub(lastSignal) < time.Second {
				l.setState(Exited)
				return &ExitOutcome{Aborted: true}, nil
			}
			lastSignal = now
			if s, ok := sig.(syscall.Signal); ok && cmd.Process != nil {
				cmd.Process.Signal(s)
			}
		case err := <-done:
			return l.outcomeFromWait(err)
		}
	}
}

// launchDetached implements the double-fork path: it re-execs the
// running binary with the internal DetachHelperArg subcommand, which
// forks a second time, execs the real target with stdio redirected to
// /dev/null, and exits without waiting — orphaning the grandchild so
// the kernel reparents it to pid 1. Launch returns once the
// intermediate has exited, which happens almost immediately since the
// intermediate's only job is that second fork+exec.
//
// When sandboxed, the helper argv already carries --chdir/--clearenv/--setenv,
// so the grandchild's cwd and environment are the bwrap process's own
// (same convention launchAttached uses: cmd.Dir left empty, cmd.Env
// inherited). When Spec.NoSandbox, there is no helper to apply that
// policy on Skeld's behalf, so the working directory and the resolved
// env-policy environment are threaded through the re-exec argv for
// RunDetachHelper to apply directly to the grandchild's ProcAttr.
func (l *Launcher) launchDetached(plan *LaunchPlan) (*ExitOutcome, error) {
	target, argv := plan.targetAndArgv()

	self, err := os.Executable()
	if err != nil {
		self = os.Args[0]
	}

	hasSeccomp := !plan.Spec.NoSandbox
	var envArgs []string
	if !hasSeccomp {
		envArgs = environForPolicy(plan.Spec.Env)
	}
	reexecArgv := []string{
		DetachHelperArg,
		fmt.Sprintf("%v", hasSeccomp),
		plan.Spec.WorkingDir,
		strconv.Itoa(len(envArgs)),
	}
	reexecArgv = append(reexecArgv, envArgs...)
	reexecArgv = append(reexecArgv, target)
	reexecArgv = append(reexecArgv, argv...)
	cmd := exec.Command(self, reexecArgv...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = nil, nil, nil

	var seccompR *os.File
	if hasSeccomp {
		r, w, err := openSeccompPipe(plan.SeccompFilter)
		if err != nil {
			l.setState(Failed)
			return nil, &SeccompInstallError{Err: err}
		}
		defer w.Close()
		cmd.ExtraFiles = []*os.File{r}
		seccompR = r
	}

	if err := cmd.Start(); err != nil {
		if seccompR != nil {
			seccompR.Close()
		}
		l.setState(Failed)
		return nil, &SpawnFailedError{Err: err}
	}
	if seccompR != nil {
		seccompR.Close()
	}
	l.setState(Running)

	if err := cmd.Wait(); err != nil {
		l.setState(Failed)
		return nil, &SpawnFailedError{Err: err}
	}
	l.setState(Exited)
	return &ExitOutcome{Detached: true}, nil
}

func (l *Launcher) outcomeFromWait(err error) (*ExitOutcome, error) {
	if err == nil {
		l.setState(Exited)
		return &ExitOutcome{Code: 0}, nil
	}
	var exitErr *exec.ExitError
	if ee, ok := err.(*exec.ExitError); ok {
		exitErr = ee
	}
	if exitErr == nil {
		l.setState(Failed)
		return nil, &SpawnFailedError{Err: err}
	}
	if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
		l.setState(Exited)
		return &ExitOutcome{Signalled: true}, &ChildSignalledError{Signal: status.Signal().String()}
	}
	l.setState(Exited)
	return &ExitOutcome{Code: exitErr.ExitCode()}, &ExitError{Code: exitErr.ExitCode()}
}

// DetachHelperArg is the first argv element that selects the internal
// second-fork helper in cmd/skeld's main, rather than a normal
// subcommand. It is never documented to users.
const DetachHelperArg = "__skeld-detach-exec"

// RunDetachHelper is the body of the second fork in detached launches.
// cmd/skeld dispatches to it when os.Args[1] == DetachHelperArg. argv is
// [hasSeccomp, workingDir, envCount, env..., target, target-args...] as
// built by launchDetached. It never returns; both success and failure
// end in os.Exit so the intermediate process cannot fall back into any
// other code path.
func RunDetachHelper(argv []string) {
	if len(argv) < 3 {
		os.Exit(1)
	}
	hasSeccomp := argv[0] == "true"
	workingDir := argv[1]
	envCount, err := strconv.Atoi(argv[2])
	if err != nil || envCount < 0 || len(argv) < 3+envCount+1 {
		os.Exit(1)
	}
	env := argv[3 : 3+envCount]
	rest := argv[3+envCount:]
	target := rest[0]
	targetArgv := rest // argv[0] of the exec'd process is the target path itself

	devnull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		os.Exit(1)
	}
	defer devnull.Close()

	files := []uintptr{devnull.Fd(), devnull.Fd(), devnull.Fd()}
	attr := &syscall.ProcAttr{
		Env:   os.Environ(),
		Files: files,
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}
	if hasSeccomp {
		// fd 3 was inherited from this process's own ExtraFiles; hand it
		// to the grandchild at the same fd number the helper argv expects.
		// The bwrap invocation applies its own --chdir/--clearenv/--setenv,
		// so the grandchild's cwd and environment here are this process's
		// own, same as launchAttached leaves cmd.Dir/cmd.Env untouched for
		// the sandboxed path.
		files = append(files, seccompFD)
		attr.Files = files
	} else {
		// No helper runs on Skeld's behalf in no-sandbox mode: apply the
		// working directory and the resolved env-policy environment
		// directly, matching launchAttached's no-sandbox branch.
		attr.Dir = workingDir
		attr.Env = env
	}

	if _, err := syscall.ForkExec(target, targetArgv, attr); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}
