// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"os"
	"testing"

	"github.com/hacrvlq/skeld/interp"
	"github.com/hacrvlq/skeld/sandbox"
)

// withFakeFS swaps the config package's filesystem seams for in-memory
// stand-ins and restores the real ones when the test ends, mirroring
// sandbox/launcher_linux_test.go's stubPathExists pattern.
func withFakeFS(t *testing.T, files map[string]string, exists map[string]bool, links map[string]string) {
	t.Helper()
	origRead, origExists, origLink := readFile, statExists, readlink
	readFile = func(path string) ([]byte, error) {
		if data, ok := files[path]; ok {
			return []byte(data), nil
		}
		return nil, os.ErrNotExist
	}
	statExists = func(path string) bool {
		return exists[path]
	}
	readlink = func(path string) (string, error) {
		if target, ok := links[path]; ok {
			return target, nil
		}
		return "", os.ErrNotExist
	}
	t.Cleanup(func() {
		readFile, statExists, readlink = origRead, origExists, origLink
	})
}

// testResolver builds a Resolver against a $HOME with no XDG overrides,
// so SkeldDataDirs is deterministic: <home>/.config/skeld and
// <home>/.local/share/skeld.
func testResolver(t *testing.T, home string) *Resolver {
	t.Helper()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	ctx, err := interp.NewContext()
	if err != nil {
		t.Fatalf("interp.NewContext: %v", err)
	}
	r, err := NewResolver(ctx)
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	return r
}

func entryLevel(t *testing.T, spec *sandbox.Spec, path string) sandbox.AccessLevel {
	t.Helper()
	for _, e := range spec.Entries {
		if e.Path == path {
			return e.Level
		}
	}
	t.Fatalf("no entry for %s among %v", path, spec.Entries)
	return 0
}

func TestResolveBuildsSpecFromRootFragment(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
whitelist-ro = ["/usr"]
[editor]
cmd-without-file = ["vim"]
`,
	}, nil, nil)

	spec, err := r.Resolve("/root.toml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if spec.WorkingDir != "/home/u/proj" {
		t.Fatalf("WorkingDir = %q", spec.WorkingDir)
	}
	if entryLevel(t, spec, "/usr") != sandbox.ReadOnly {
		t.Fatalf("/usr should be ReadOnly")
	}
	if entryLevel(t, spec, "/home/u/proj") != sandbox.ReadWrite {
		t.Fatalf("project-dir should be implicitly ReadWrite")
	}
	if len(spec.EditorArgv) != 1 || spec.EditorArgv[0] != "vim" {
		t.Fatalf("EditorArgv = %v", spec.EditorArgv)
	}
}

func TestResolveProjectDirExplicitLevelIsNotOverriddenByImplicitRule(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
whitelist-ro = ["/home/u/proj"]
[editor]
cmd-without-file = ["vim"]
`,
	}, nil, nil)

	spec, err := r.Resolve("/root.toml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entryLevel(t, spec, "/home/u/proj") != sandbox.ReadOnly {
		t.Fatalf("explicit whitelist-ro on project-dir should not be promoted to ReadWrite")
	}
}

func TestResolveIncludeRootWinsOverInclude(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
no-sandbox = true
include = ["/inc.toml"]
[editor]
cmd-without-file = ["vim"]
`,
		"/inc.toml": `
no-sandbox = false
whitelist-rw = ["/tmp/shared"]
`,
	}, nil, nil)

	spec, err := r.Resolve("/root.toml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if !spec.NoSandbox {
		t.Fatalf("root's explicit no-sandbox=true should win over the include's false")
	}
	if entryLevel(t, spec, "/tmp/shared") != sandbox.ReadWrite {
		t.Fatalf("include's whitelist-rw entry should still be merged in")
	}
}

func TestResolveIncludeCycleTerminates(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
include = ["/a.toml"]
[editor]
cmd-without-file = ["vim"]
`,
		"/a.toml": `
whitelist-ro = ["/from-a"]
include = ["/b.toml"]
`,
		"/b.toml": `
whitelist-ro = ["/from-b"]
include = ["/a.toml"]
`,
	}, nil, nil)

	spec, err := r.Resolve("/root.toml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entryLevel(t, spec, "/from-a") != sandbox.ReadOnly || entryLevel(t, spec, "/from-b") != sandbox.ReadOnly {
		t.Fatalf("both cyclic includes should still contribute their entries exactly once")
	}
}

func TestResolveAccessLevelConflictPromotesToMax(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
whitelist-ro = ["/x"]
whitelist-rw = ["/x"]
[editor]
cmd-without-file = ["vim"]
`,
	}, nil, nil)

	spec, err := r.Resolve("/root.toml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entryLevel(t, spec, "/x") != sandbox.ReadWrite {
		t.Fatalf("conflicting ReadOnly/ReadWrite at the same path should resolve to ReadWrite")
	}
}

func TestResolveSymlinkConflictsWithMountLevel(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
whitelist-ro = ["/x"]
whitelist-ln = ["/x"]
[editor]
cmd-without-file = ["vim"]
`,
	}, nil, map[string]string{"/x": "/elsewhere"})

	_, err := r.Resolve("/root.toml")
	var target *AccessLevelConflictError
	if !errors.As(err, &target) {
		t.Fatalf("expected AccessLevelConflictError, got %v", err)
	}
}

func TestResolveMissingInitialFileWarnsAndDropsIt(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
initial-file = "missing.go"
[editor]
cmd-with-file = ["vim", "$(FILE)"]
cmd-without-file = ["vim"]
`,
	}, nil, nil)

	spec, err := r.Resolve("/root.toml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(spec.EditorArgv) != 1 || spec.EditorArgv[0] != "vim" {
		t.Fatalf("EditorArgv = %v, want cmd-without-file since initial-file does not exist", spec.EditorArgv)
	}
}

func TestResolveFileVarDroppedWhenNoFileBound(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
[editor]
cmd-without-file = ["vim", "$(FILE)"]
`,
	}, nil, nil)

	spec, err := r.Resolve("/root.toml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(spec.EditorArgv) != 1 || spec.EditorArgv[0] != "vim" {
		t.Fatalf("EditorArgv = %v, want the unresolved $(FILE) token dropped", spec.EditorArgv)
	}
}

func TestResolveMissingProjectDirIsError(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
[editor]
cmd-without-file = ["vim"]
`,
	}, nil, nil)

	_, err := r.Resolve("/root.toml")
	var target *MissingRequiredFieldError
	if !errors.As(err, &target) {
		t.Fatalf("expected MissingRequiredFieldError, got %v", err)
	}
}

func TestResolveIncludeNotFoundIsError(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
include = ["does-not-exist"]
[editor]
cmd-without-file = ["vim"]
`,
	}, nil, nil)

	_, err := r.Resolve("/root.toml")
	var target *IncludeNotFoundError
	if !errors.As(err, &target) {
		t.Fatalf("expected IncludeNotFoundError, got %v", err)
	}
}

func TestResolveUserWideConfigMergedAsBaseline(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/home/u/.config/skeld/config.toml": `
whitelist-ro = ["/etc/shared"]
`,
		"/root.toml": `
project-dir = "/home/u/proj"
[editor]
cmd-without-file = ["vim"]
`,
	}, map[string]bool{
		"/home/u/.config/skeld/config.toml": true,
	}, nil)

	spec, err := r.Resolve("/root.toml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if entryLevel(t, spec, "/etc/shared") != sandbox.ReadOnly {
		t.Fatalf("user-wide config.toml entry should be merged in as a baseline")
	}
}

func TestResolveAutoNixShellWrapsEditorArgv(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
auto-nixshell = true
[editor]
cmd-without-file = ["vim"]
`,
	}, map[string]bool{
		"/home/u/proj/shell.nix": true,
	}, nil)

	spec, err := r.Resolve("/root.toml")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(spec.EditorArgv) < 2 || spec.EditorArgv[0] != "nix-shell" {
		t.Fatalf("EditorArgv = %v, want a nix-shell wrap", spec.EditorArgv)
	}
}

func TestResolveEmptyEditorArgvIsError(t *testing.T) {
	r := testResolver(t, "/home/u")
	withFakeFS(t, map[string]string{
		"/root.toml": `
project-dir = "/home/u/proj"
[editor]
cmd-without-file = ["$(FILE)"]
`,
	}, nil, nil)

	_, err := r.Resolve("/root.toml")
	var target *EmptyEditorArgvError
	if !errors.As(err, &target) {
		t.Fatalf("expected EmptyEditorArgvError, got %v", err)
	}
}
