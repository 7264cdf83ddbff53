// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sandbox

import (
	"os"
	"os/exec"
	"strings"
)

// BwrapPath locates bwrap on $PATH, the one external binary every
// sandboxed launch depends on.
func BwrapPath() (string, error) {
	path, err := helperLookPath(HelperName)
	if err != nil {
		return "", ErrHelperNotFound
	}
	return path, nil
}

// Capabilities reports whether a launch can actually be sandboxed on
// this host: bwrap has to be installed, and unprivileged user
// namespaces have to work, since bwrap's --unshare-user needs them.
// There is no resource-limit or overlay-mount concept in Skeld's data
// model, so unlike a general-purpose sandbox runner there is nothing
// else here to probe for (see DESIGN.md).
type Capabilities struct {
	// BwrapAvailable is true if the sandbox helper is installed.
	BwrapAvailable bool

	// BwrapPath is the path to the helper if available.
	BwrapPath string

	// BwrapVersion is the helper's reported version string.
	BwrapVersion string

	// UserNamespacesEnabled is true if unprivileged user namespaces work.
	UserNamespacesEnabled bool
}

// DetectCapabilities probes the host once; cmd/skeld's capabilities
// subcommand calls it to report whether a launch can run sandboxed at
// all.
func DetectCapabilities() *Capabilities {
	caps := &Capabilities{}

	if path, err := BwrapPath(); err == nil {
		caps.BwrapAvailable = true
		caps.BwrapPath = path
		if out, err := exec.Command(path, "--version").Output(); err == nil {
			caps.BwrapVersion = strings.TrimSpace(string(out))
		}
	}

	caps.UserNamespacesEnabled = checkUserNamespaces()
	return caps
}

// CanRunSandbox returns true if basic sandbox execution is possible.
func (c *Capabilities) CanRunSandbox() bool {
	return c.BwrapAvailable && c.UserNamespacesEnabled
}

// checkUserNamespaces tests whether bwrap can actually unshare the user
// namespace here, rather than trusting the sysctl alone: some
// distributions ship the knob enabled but still deny it via AppArmor/LSM
// policy, which only a real attempt surfaces.
func checkUserNamespaces() bool {
	data, err := os.ReadFile("/proc/sys/kernel/unprivileged_userns_clone")
	if err == nil && strings.TrimSpace(string(data)) == "0" {
		return false
	}
	// Missing file: the knob doesn't exist on this kernel, which
	// usually means userns is unconditionally allowed.

	bwrapPath, err := BwrapPath()
	if err != nil {
		return false
	}

	cmd := exec.Command(bwrapPath,
		"--unshare-user",
		"--ro-bind", "/", "/",
		"--",
		"true",
	)
	return cmd.Run() == nil
}

// SkipReason returns a human-readable reason why sandboxing isn't
// available, or the empty string if it is available.
func (c *Capabilities) SkipReason() string {
	if !c.BwrapAvailable {
		return "bubblewrap not installed"
	}
	if !c.UserNamespacesEnabled {
		return "unprivileged user namespaces not enabled (set kernel.unprivileged_userns_clone=1)"
	}
	return ""
}
