// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import "github.com/hacrvlq/skeld/sandbox"

// mergedFragment is the accumulator C3's merge step folds fragments
// into, in raw (pre-interpolation) form. Its fields mirror Fragment's,
// minus Include (consumed entirely by the graph walk rather than
// surviving into the merged result).
//
// Grounded on the teacher's MergeProfiles (sandbox/config.go): a single
// accumulator struct, one merge rule per field, table-driven by field
// category rather than a generic deep-merge. spec.md §4.3/§9 name three
// categories (union, OR-sticky, last-writer-wins); merge (below)
// implements exactly those three, field by field.
type mergedFragment struct {
	ProjectDir      string
	projectDirSet   bool
	InitialFile     string
	initialFileSet  bool
	AutoNixShell    bool
	autoNixShellSet bool
	NoSandbox       bool
	noSandboxSet    bool

	WhitelistRO  []string
	WhitelistRW  []string
	WhitelistDev []string
	WhitelistLn  []string
	AddTmpfs     []string

	WhitelistAllEnvvars bool
	WhitelistEnvvar     []string

	EditorCmdWithFile       []string
	editorCmdWithFileSet    bool
	EditorCmdWithoutFile    []string
	editorCmdWithoutFileSet bool
	EditorDetach            bool
	editorDetachSet         bool
}

// newMergedFragment returns an empty accumulator, ready for scalars to
// be set by the first (highest-priority) writer that touches them.
func newMergedFragment() *mergedFragment {
	return &mergedFragment{}
}

// mergeScalars applies f's scalar fields to m using last-writer-wins
// semantics gated by force: when force is true (the root fragment, or
// the user-wide fragment acting as baseline), a value present in f
// always overwrites m's current value. When force is false (an include
// fragment), a value in f is applied only if m's slot is still unset —
// spec.md §4.3 step 3's "scalars found in includes only fill holes left
// by the root". Bool fields are *bool on Fragment specifically so "not
// present in this fragment" and "explicitly false" are distinguishable
// here.
func (m *mergedFragment) mergeScalars(f *Fragment, force bool) {
	setString := func(cur *string, curSet *bool, val string) {
		if val == "" {
			return
		}
		if force || !*curSet {
			*cur = val
			*curSet = true
		}
	}
	setBool := func(cur *bool, curSet *bool, val *bool) {
		if val == nil {
			return
		}
		if force || !*curSet {
			*cur = *val
			*curSet = true
		}
	}

	setString(&m.ProjectDir, &m.projectDirSet, f.ProjectDir)
	setString(&m.InitialFile, &m.initialFileSet, f.InitialFile)

	setBool(&m.AutoNixShell, &m.autoNixShellSet, f.AutoNixShell)
	setBool(&m.NoSandbox, &m.noSandboxSet, f.NoSandbox)
	setBool(&m.EditorDetach, &m.editorDetachSet, f.Editor.Detach)

	if len(f.Editor.CmdWithFile) > 0 {
		if force || !m.editorCmdWithFileSet {
			m.EditorCmdWithFile = append([]string(nil), f.Editor.CmdWithFile...)
			m.editorCmdWithFileSet = true
		}
	}
	if len(f.Editor.CmdWithoutFile) > 0 {
		if force || !m.editorCmdWithoutFileSet {
			m.EditorCmdWithoutFile = append([]string(nil), f.Editor.CmdWithoutFile...)
			m.editorCmdWithoutFileSet = true
		}
	}
}

// mergeUnions applies f's list-valued and OR-sticky fields to m. Unlike
// scalars, these never depend on force/priority: every fragment that is
// ever merged, root or include, contributes to the union, per spec.md
// §4.3 step 3's "union (order-preserving, de-duplicated)" and
// "whitelist-all-envvars: logical OR".
func (m *mergedFragment) mergeUnions(f *Fragment) {
	m.WhitelistRO = unionAppend(m.WhitelistRO, f.WhitelistRO)
	m.WhitelistRW = unionAppend(m.WhitelistRW, f.WhitelistRW)
	m.WhitelistDev = unionAppend(m.WhitelistDev, f.WhitelistDev)
	m.WhitelistLn = unionAppend(m.WhitelistLn, f.WhitelistLn)
	m.AddTmpfs = unionAppend(m.AddTmpfs, f.AddTmpfs)
	m.WhitelistEnvvar = unionAppend(m.WhitelistEnvvar, f.WhitelistEnvvar)
	m.WhitelistAllEnvvars = m.WhitelistAllEnvvars || f.WhitelistAllEnvvars
}

// unionAppend appends the elements of next not already present in cur,
// preserving cur's existing order and next's relative order among new
// elements — spec.md §4.3's "union (order-preserving, de-duplicated)".
func unionAppend(cur, next []string) []string {
	if len(next) == 0 {
		return cur
	}
	seen := make(map[string]bool, len(cur))
	for _, v := range cur {
		seen[v] = true
	}
	for _, v := range next {
		if !seen[v] {
			seen[v] = true
			cur = append(cur, v)
		}
	}
	return cur
}

// rawEntry pairs a raw, unresolved whitelist Path Term with the access
// level its source list implies; normalization expands the template via
// interp once project-dir and conflict resolution are ready for it.
type rawEntry struct {
	Template string
	Level    sandbox.AccessLevel
}

// rawEntries returns one rawEntry per whitelist list item, level-tagged,
// in the order ReadOnly, ReadWrite, Device, then Symlink. Tmpfs entries
// are not included; normalization handles AddTmpfs separately.
func (m *mergedFragment) rawEntries() []rawEntry {
	var out []rawEntry
	for _, p := range m.WhitelistRO {
		out = append(out, rawEntry{p, sandbox.ReadOnly})
	}
	for _, p := range m.WhitelistRW {
		out = append(out, rawEntry{p, sandbox.ReadWrite})
	}
	for _, p := range m.WhitelistDev {
		out = append(out, rawEntry{p, sandbox.Device})
	}
	for _, p := range m.WhitelistLn {
		out = append(out, rawEntry{p, sandbox.Symlink})
	}
	return out
}
