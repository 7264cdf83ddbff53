// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"fmt"
	"os"
	"sort"
)

// lookupEnv is a seam over os.LookupEnv so ToHelperArgv's environment
// lookups are reproducible in tests that don't want to touch the real
// process environment; production callers get the real environment.
var lookupEnv = os.LookupEnv

// AccessLevel is the semantic class of a mount entry. The five variants
// are exhaustive per spec.md §3 — there is deliberately no sixth kind
// (e.g. an overlay/copy-on-write level): conflict detection in the
// config package's merger is a simple lookup against exactly these five.
type AccessLevel int

const (
	ReadOnly AccessLevel = iota
	ReadWrite
	Device
	Symlink
	Tmpfs
)

func (l AccessLevel) String() string {
	switch l {
	case ReadOnly:
		return "ReadOnly"
	case ReadWrite:
		return "ReadWrite"
	case Device:
		return "Device"
	case Symlink:
		return "Symlink"
	case Tmpfs:
		return "Tmpfs"
	default:
		return fmt.Sprintf("AccessLevel(%d)", int(l))
	}
}

// argvOrder is the fixed ordering spec.md §4.4 mandates for deterministic
// argv construction: Symlink, ReadOnly, ReadWrite, Device. Tmpfs entries
// are not part of this ordering; they are emitted in their own pass.
var argvOrder = map[AccessLevel]int{
	Symlink:   0,
	ReadOnly:  1,
	ReadWrite: 2,
	Device:    3,
}

// Entry is one resolved mount in the Sandbox Spec: a whitelist entry
// after C1/C3 have expanded its path and resolved access-level conflicts.
type Entry struct {
	// Path is the resolved, absolute host path — also the in-sandbox
	// path, since Skeld never remaps a path to a different location
	// inside the sandbox.
	Path string
	// Level is the access level this path is mounted at.
	Level AccessLevel
	// Optional marks an entry whose host path may be absent: Prepare
	// skips it silently instead of failing, and ToHelperArgv emits the
	// helper's "-try" variant of the bind flag.
	Optional bool
	// SymlinkTarget holds the verbatim target string for a Symlink
	// entry, read from the host symlink at resolution time. Unused for
	// other levels.
	SymlinkTarget string
}

// EnvPolicy is either pass-all (inherit the full host environment) or an
// allowlist of variable names, per spec.md §3.
type EnvPolicy struct {
	PassAll   bool
	Allowlist []string // variable names; order not significant, ToHelperArgv sorts
}

// Spec is the canonical, normalized description of a sandbox: the output
// of C3's merge and the input to C5 (seccomp) and C6 (the launcher).
//
// Spec is a pure data container: its only behavior is ToHelperArgv and
// the MissingMandatoryPaths pre-flight check. This
// mirrors the teacher's BwrapBuilder (sandbox/bwrap.go) in spirit — an
// accumulator that turns structured mount/namespace/environment data
// into a flat argv — but Spec itself holds no builder state; the
// accumulation happens inline in ToHelperArgv since, unlike the teacher's
// profile model, spec.md fixes one deterministic emission order rather
// than letting construction order leak into the result.
type Spec struct {
	Entries     []Entry
	Tmpfs       []string // resolved absolute paths, deduplicated
	Env         EnvPolicy
	WorkingDir  string // resolved project-dir
	EditorArgv  []string
	Detach      bool
	NoSandbox   bool // when true, C6 execs EditorArgv directly, skipping the helper and seccomp
}

// ToHelperArgv builds the exact argv to invoke the sandbox helper with,
// per spec.md §4.4. helperPath is argv[0]. seccompFD is the file
// descriptor number in the helper's process (after exec.Cmd.ExtraFiles
// attachment, always 3 for the first extra file) that holds the
// serialized BPF program; pass a negative number to omit the
// "--seccomp" flag entirely. Prepare always passes its seccompFD, and
// builds no helper argv at all when no-sandbox is set.
func (s *Spec) ToHelperArgv(helperPath string, seccompFD int) []string {
	argv := []string{helperPath}

	entries := make([]Entry, len(s.Entries))
	copy(entries, s.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		oi, oj := argvOrder[entries[i].Level], argvOrder[entries[j].Level]
		if oi != oj {
			return oi < oj
		}
		return entries[i].Path < entries[j].Path
	})
	for _, e := range entries {
		argv = append(argv, entryArgv(e)...)
	}

	tmpfs := make([]string, len(s.Tmpfs))
	copy(tmpfs, s.Tmpfs)
	sort.Strings(tmpfs)
	for _, path := range tmpfs {
		argv = append(argv, "--tmpfs", path)
	}

	argv = append(argv,
		"--unshare-user",
		"--unshare-ipc",
		"--unshare-pid",
		"--unshare-uts",
		"--unshare-cgroup",
		"--proc", "/proc",
		"--dev", "/dev",
		"--die-with-parent",
		"--new-session",
	)

	if seccompFD >= 0 {
		argv = append(argv, "--seccomp", fmt.Sprintf("%d", seccompFD))
	}

	if !s.Env.PassAll {
		argv = append(argv, "--clearenv")
		names := make([]string, len(s.Env.Allowlist))
		copy(names, s.Env.Allowlist)
		sort.Strings(names)
		for _, name := range names {
			if value, ok := lookupEnv(name); ok {
				argv = append(argv, "--setenv", name, value)
			}
		}
	}

	argv = append(argv, "--chdir", s.WorkingDir)
	argv = append(argv, "--")
	argv = append(argv, s.EditorArgv...)
	return argv
}

func entryArgv(e Entry) []string {
	try := ""
	if e.Optional {
		try = "-try"
	}
	switch e.Level {
	case ReadOnly:
		return []string{"--ro-bind" + try, e.Path, e.Path}
	case ReadWrite:
		return []string{"--bind" + try, e.Path, e.Path}
	case Device:
		return []string{"--dev-bind" + try, e.Path, e.Path}
	case Symlink:
		return []string{"--symlink", e.SymlinkTarget, e.Path}
	default:
		return nil
	}
}

// MissingMandatoryPaths stats every non-optional entry's host path and
// returns those that do not exist, for Prepare's pre-flight check
// (spec.md §4.6 step 1).
func (s *Spec) MissingMandatoryPaths(exists func(path string) bool) []string {
	var missing []string
	for _, e := range s.Entries {
		if e.Optional {
			continue
		}
		if !exists(e.Path) {
			missing = append(missing, e.Path)
		}
	}
	return missing
}
