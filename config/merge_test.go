// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"reflect"
	"testing"

	"github.com/hacrvlq/skeld/sandbox"
)

func boolPtr(b bool) *bool { return &b }

func TestMergeScalarsRootWinsOverInclude(t *testing.T) {
	m := newMergedFragment()
	m.mergeScalars(&Fragment{ProjectDir: "/root-project", NoSandbox: boolPtr(true)}, true)
	m.mergeScalars(&Fragment{ProjectDir: "/include-project", NoSandbox: boolPtr(false)}, false)

	if m.ProjectDir != "/root-project" {
		t.Fatalf("project-dir = %q, want root's value preserved", m.ProjectDir)
	}
	if !m.NoSandbox {
		t.Fatalf("no-sandbox = %v, want root's explicit true preserved over include's false", m.NoSandbox)
	}
}

func TestMergeScalarsIncludeFillsHoleLeftByRoot(t *testing.T) {
	m := newMergedFragment()
	m.mergeScalars(&Fragment{ProjectDir: "/p"}, true)
	m.mergeScalars(&Fragment{InitialFile: "main.go"}, false)

	if m.InitialFile != "main.go" {
		t.Fatalf("initial-file = %q, want include's value to fill the hole", m.InitialFile)
	}
}

func TestMergeScalarsExplicitFalseBeatsUnsetInclude(t *testing.T) {
	m := newMergedFragment()
	// The root fragment never mentions auto-nixshell; an include sets it
	// explicitly to false. Since root leaves a hole, the include's
	// explicit value should be recorded (not treated as "absent" just
	// because it's false).
	m.mergeScalars(&Fragment{ProjectDir: "/p"}, true)
	m.mergeScalars(&Fragment{AutoNixShell: boolPtr(false)}, false)

	if m.AutoNixShell {
		t.Fatalf("auto-nixshell = %v, want false", m.AutoNixShell)
	}
	if !m.autoNixShellSet {
		t.Fatalf("auto-nixshell should be recorded as explicitly set by the include")
	}
}

func TestMergeScalarsSecondIncludeDoesNotOverrideFirst(t *testing.T) {
	m := newMergedFragment()
	m.mergeScalars(&Fragment{ProjectDir: "/p"}, true)
	m.mergeScalars(&Fragment{InitialFile: "first.go"}, false)
	m.mergeScalars(&Fragment{InitialFile: "second.go"}, false)

	if m.InitialFile != "first.go" {
		t.Fatalf("initial-file = %q, want first include's value to win over a later include", m.InitialFile)
	}
}

func TestMergeUnionsDeduplicatesPreservingOrder(t *testing.T) {
	m := newMergedFragment()
	m.mergeUnions(&Fragment{WhitelistRO: []string{"/a", "/b"}})
	m.mergeUnions(&Fragment{WhitelistRO: []string{"/b", "/c"}})

	want := []string{"/a", "/b", "/c"}
	if !reflect.DeepEqual(m.WhitelistRO, want) {
		t.Fatalf("whitelist-ro = %v, want %v", m.WhitelistRO, want)
	}
}

func TestMergeUnionsWhitelistAllEnvvarsIsOrSticky(t *testing.T) {
	m := newMergedFragment()
	m.mergeUnions(&Fragment{WhitelistAllEnvvars: false})
	m.mergeUnions(&Fragment{WhitelistAllEnvvars: true})
	m.mergeUnions(&Fragment{WhitelistAllEnvvars: false})

	if !m.WhitelistAllEnvvars {
		t.Fatalf("whitelist-all-envvars = false, want true once any fragment sets it")
	}
}

func TestMergeIsIdempotentForUnions(t *testing.T) {
	f := &Fragment{WhitelistRW: []string{"/x", "/y"}}
	m := newMergedFragment()
	m.mergeUnions(f)
	first := append([]string(nil), m.WhitelistRW...)
	m.mergeUnions(f)

	if !reflect.DeepEqual(m.WhitelistRW, first) {
		t.Fatalf("merging the same fragment twice changed the union: %v -> %v", first, m.WhitelistRW)
	}
}

func TestMergeEmptyFragmentIsIdentity(t *testing.T) {
	m := newMergedFragment()
	m.mergeScalars(&Fragment{ProjectDir: "/p", InitialFile: "f.go"}, true)
	m.mergeUnions(&Fragment{WhitelistRO: []string{"/a"}})

	before := *m
	m.mergeScalars(&Fragment{}, false)
	m.mergeUnions(&Fragment{})

	if m.ProjectDir != before.ProjectDir || m.InitialFile != before.InitialFile {
		t.Fatalf("merging an empty fragment changed scalars: %+v -> %+v", before, *m)
	}
	if !reflect.DeepEqual(m.WhitelistRO, before.WhitelistRO) {
		t.Fatalf("merging an empty fragment changed unions: %v -> %v", before.WhitelistRO, m.WhitelistRO)
	}
}

func TestRawEntriesTagsEachListWithItsLevel(t *testing.T) {
	m := newMergedFragment()
	m.mergeUnions(&Fragment{
		WhitelistRO:  []string{"/ro"},
		WhitelistRW:  []string{"/rw"},
		WhitelistDev: []string{"/dev/x"},
		WhitelistLn:  []string{"/ln"},
	})

	got := m.rawEntries()
	want := []rawEntry{
		{"/ro", sandbox.ReadOnly},
		{"/rw", sandbox.ReadWrite},
		{"/dev/x", sandbox.Device},
		{"/ln", sandbox.Symlink},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("rawEntries() = %v, want %v", got, want)
	}
}
