// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sandbox turns a merged sandbox specification into a running,
// isolated editor process.
//
// A Spec (this package) is a canonical, already-resolved description of
// what the sandbox should look like: bind mounts at fixed access levels,
// tmpfs mounts, an environment policy, a working directory, and an
// editor argv. Spec itself does nothing but describe; ToHelperArgv turns
// it into the exact argv for the external sandbox helper (conceptually
// bubblewrap), and the seccomp builder in this package produces the
// syscall filter installed alongside it.
//
// The sandbox helper and the kernel are the enforcement boundary, not
// this package. Skeld builds the helper invocation and the seccomp
// filter once, from configuration, and hands both to a Launcher; there
// is no runtime policy engine and no later revocation.
package sandbox
