// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hacrvlq/skeld/interp"
	"github.com/hacrvlq/skeld/sandbox"
)

// discardLogger is the default when a caller never sets Resolver.Logger
// (or sets it to nil): a text handler writing into discardWriter.
var discardLogger = slog.New(slog.NewTextHandler(discardWriter{}, nil))

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// readFile is a seam over os.ReadFile so tests can supply an in-memory
// fragment set without touching the real filesystem.
var readFile = os.ReadFile

// statExists is a seam over a stat-based existence check, used to find
// the user-wide config and include files and to probe for the
// initial-file and nix-shell files during normalization.
var statExists = func(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// readlink is a seam over os.Readlink for Symlink entry resolution.
var readlink = os.Readlink

// Resolver implements C3: it walks the include graph rooted at a chosen
// project (or bookmark) fragment, always merging the user-wide config
// first, and folds the result into a normalized sandbox.Spec.
//
// Grounded on the teacher's ProfileLoader (sandbox/profile.go): a small
// struct holding a logger and exposing one entry point that does the
// graph walk plus merge, adapted from bureau's single-parent Inherit
// chain to spec.md's cycle-tolerant multi-include graph.
type Resolver struct {
	SkeldDataDirs []string // union of $XDG_CONFIG_HOME/skeld and $XDG_DATA_HOME/skeld
	Ctx           interp.Context
	Logger        *slog.Logger
}

// NewResolver builds a Resolver from an interpolation context, deriving
// SkeldDataDirs from it per spec.md §6.
func NewResolver(ctx interp.Context) (*Resolver, error) {
	dirs, err := ctx.SkeldDataDirs()
	if err != nil {
		return nil, err
	}
	return &Resolver{SkeldDataDirs: dirs, Ctx: ctx, Logger: discardLogger}, nil
}

func (r *Resolver) log() *slog.Logger {
	if r.Logger == nil {
		return discardLogger
	}
	return r.Logger
}

// UserWideConfigPath returns the first existing config.toml under the
// search roots, or "" if none exists — a user-wide fragment is not
// required for a valid launch, only implicitly included when present.
func (r *Resolver) UserWideConfigPath() string {
	for _, dir := range r.SkeldDataDirs {
		p := filepath.Join(dir, "config.toml")
		if statExists(p) {
			return p
		}
	}
	return ""
}

// Resolve loads rootPath as the user-selected project fragment,
// unconditionally merges the user-wide config first, walks the include
// graph, and normalizes the result into a Spec.
func (r *Resolver) Resolve(rootPath string) (*sandbox.Spec, error) {
	rootFrag, err := r.loadFragmentFile(rootPath)
	if err != nil {
		return nil, err
	}
	return r.resolveFragment(rootFrag, rootPath)
}

// ResolveBookmarkFragment resolves an already-decoded bookmark's nested
// project fragment the same way Resolve resolves a projects/*.toml
// file: user-wide config merged first, then this fragment as the root,
// then its own include graph. label (the bookmark file's path) is used
// for logging and, like a project file's path, as the root's key in the
// visited set, so an include pointing back at it is skipped.
//
// This exists because spec.md §6 describes bookmarks as carrying a
// nested project table, not a second top-level file; see
// SUPPLEMENTED FEATURES #3 in SPEC_FULL.md.
func (r *Resolver) ResolveBookmarkFragment(frag *Fragment, label string) (*sandbox.Spec, error) {
	return r.resolveFragment(frag, label)
}

func (r *Resolver) resolveFragment(rootFrag *Fragment, label string) (*sandbox.Spec, error) {
	acc := newMergedFragment()
	visited := make(map[string]bool)

	if userWide := r.UserWideConfigPath(); userWide != "" {
		r.log().Debug("merging user-wide config", "path", userWide)
		frag, err := r.loadFragmentFile(userWide)
		if err != nil {
			return nil, err
		}
		acc.mergeScalars(frag, true)
		acc.mergeUnions(frag)
		if c, err := canonicalPath(userWide); err == nil {
			visited[c] = true
		}
		if err := r.walkIncludes(frag, acc, visited); err != nil {
			return nil, err
		}
	}

	r.log().Debug("merging root fragment", "path", label)
	acc.mergeScalars(rootFrag, true)
	acc.mergeUnions(rootFrag)
	if c, err := canonicalPath(label); err == nil {
		visited[c] = true
	}
	if err := r.walkIncludes(rootFrag, acc, visited); err != nil {
		return nil, err
	}

	return r.normalize(acc)
}

// walkIncludes performs the worklist traversal spec.md §4.3 step 2
// describes: depth-first in declared order, visited-set deduplication
// by canonical absolute path, cycles tolerated as a no-op re-visit.
func (r *Resolver) walkIncludes(frag *Fragment, acc *mergedFragment, visited map[string]bool) error {
	worklist := append([]string(nil), frag.Include...)
	for len(worklist) > 0 {
		item := worklist[0]
		worklist = worklist[1:]

		path, err := r.resolveIncludeItem(item)
		if err != nil {
			return err
		}
		canon, err := canonicalPath(path)
		if err != nil {
			return &IncludeReadError{Path: path, Err: err}
		}
		if visited[canon] {
			r.log().Debug("include already visited, skipping", "path", path)
			continue
		}
		visited[canon] = true

		r.log().Debug("merging include", "path", path)
		included, err := r.loadFragmentFile(path)
		if err != nil {
			return err
		}
		acc.mergeScalars(included, false)
		acc.mergeUnions(included)
		// Prepend this fragment's own includes so they are visited before
		// its later siblings: depth-first, in declared order.
		worklist = append(append([]string(nil), included.Include...), worklist...)
	}
	return nil
}

// resolveIncludeItem expands item as a Path Term, then — if the result
// is a relative bare name — appends .toml and searches for it under
// each <SKELD-DATA>/include directory, per spec.md §4.3 step 2.
func (r *Resolver) resolveIncludeItem(item string) (string, error) {
	expanded, err := r.Ctx.Expand(item)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(expanded) {
		return expanded, nil
	}

	name := expanded
	if filepath.Ext(name) == "" {
		name += ".toml"
	}
	var candidates []string
	for _, dir := range r.SkeldDataDirs {
		p := filepath.Join(dir, "include", name)
		candidates = append(candidates, p)
		if statExists(p) {
			return p, nil
		}
	}
	r.log().Warn("include not found in any search root", "name", item, "tried", candidates)
	return "", &IncludeNotFoundError{Name: item}
}

func (r *Resolver) loadFragmentFile(path string) (*Fragment, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, &IncludeReadError{Path: path, Err: err}
	}
	frag, err := Parse(path, data)
	if err != nil {
		return nil, err
	}
	return frag, nil
}

// canonicalPath returns an absolute, cleaned form of path suitable as a
// visited-set key. It does not require path to exist: the include graph
// walk needs a stable dedup key even for fragments that will fail to
// load a moment later with a clearer IncludeReadError.
func canonicalPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(abs), nil
}

// normalize implements spec.md §4.3 step 4: expand every Path Term,
// canonicalize, detect access-level conflicts, apply the implicit
// project-dir rule, and build the editor argv (including the
// auto-nixshell wrap).
func (r *Resolver) normalize(acc *mergedFragment) (*sandbox.Spec, error) {
	if acc.ProjectDir == "" {
		return nil, &MissingRequiredFieldError{Field: "project-dir"}
	}
	projectDir, err := r.Ctx.Expand(acc.ProjectDir)
	if err != nil {
		return nil, err
	}
	projectDir = filepath.Clean(projectDir)

	levels := make(map[string]sandbox.AccessLevel)
	symlinkTargets := make(map[string]string)
	order := []string{} // first-seen order, for deterministic-ish diagnostics

	addLevel := func(path string, level sandbox.AccessLevel) error {
		existing, ok := levels[path]
		if !ok {
			levels[path] = level
			order = append(order, path)
			return nil
		}
		resolved, err := resolveLevelConflict(path, existing, level)
		if err != nil {
			return err
		}
		levels[path] = resolved
		return nil
	}

	for _, re := range acc.rawEntries() {
		path, err := r.Ctx.Expand(re.Template)
		if err != nil {
			return nil, err
		}
		path = filepath.Clean(path)
		if re.Level == sandbox.Symlink {
			target, err := readlink(path)
			if err != nil {
				return nil, &SymlinkReadError{Path: path, Err: err}
			}
			symlinkTargets[path] = target
		}
		if err := addLevel(path, re.Level); err != nil {
			return nil, err
		}
	}

	tmpfsSet := make(map[string]bool)
	var tmpfs []string
	for _, t := range acc.AddTmpfs {
		path, err := r.Ctx.Expand(t)
		if err != nil {
			return nil, err
		}
		path = filepath.Clean(path)
		if existing, ok := levels[path]; ok {
			return nil, &AccessLevelConflictError{Path: path, Existing: existing, Incoming: sandbox.Tmpfs}
		}
		if !tmpfsSet[path] {
			tmpfsSet[path] = true
			tmpfs = append(tmpfs, path)
		}
	}
	// A Tmpfs entry conflicting with another Tmpfs entry at the same
	// path is not a conflict (both describe the same empty mount); only
	// cross-category collisions are fatal, checked above.

	if _, ok := levels[projectDir]; !ok {
		levels[projectDir] = sandbox.ReadWrite
		order = append(order, projectDir)
	}

	entries := make([]sandbox.Entry, 0, len(order))
	for _, path := range order {
		level := levels[path]
		entries = append(entries, sandbox.Entry{
			Path:          path,
			Level:         level,
			SymlinkTarget: symlinkTargets[path],
		})
	}

	envPolicy := sandbox.EnvPolicy{
		PassAll:   acc.WhitelistAllEnvvars,
		Allowlist: append([]string(nil), acc.WhitelistEnvvar...),
	}

	editorArgv, detach, err := r.buildEditorArgv(acc, projectDir)
	if err != nil {
		return nil, err
	}

	return &sandbox.Spec{
		Entries:    entries,
		Tmpfs:      tmpfs,
		Env:        envPolicy,
		WorkingDir: projectDir,
		EditorArgv: editorArgv,
		Detach:     detach,
		NoSandbox:  acc.NoSandbox,
	}, nil
}

// resolveLevelConflict implements spec.md §3's conflict rule: mount
// levels resolve to their max (Device > ReadWrite > ReadOnly); Symlink
// and Tmpfs are mutually exclusive with every other level, including
// each other.
func resolveLevelConflict(path string, existing, incoming sandbox.AccessLevel) (sandbox.AccessLevel, error) {
	if existing == incoming {
		return existing, nil
	}
	rank := func(l sandbox.AccessLevel) (int, bool) {
		switch l {
		case sandbox.ReadOnly:
			return 0, true
		case sandbox.ReadWrite:
			return 1, true
		case sandbox.Device:
			return 2, true
		default:
			return 0, false
		}
	}
	er, eok := rank(existing)
	ir, iok := rank(incoming)
	if !eok || !iok {
		return 0, &AccessLevelConflictError{Path: path, Existing: existing, Incoming: incoming}
	}
	if ir > er {
		return incoming, nil
	}
	return existing, nil
}

// buildEditorArgv picks cmd-with-file or cmd-without-file depending on
// whether initial-file is set and exists under project-dir, expands
// every token, drops unresolved $(FILE) occurrences, and applies the
// auto-nixshell wrap.
//
// The "missing initial-file is a warning, not a fatal error" rule is
// original_source/src/project.rs's behavior, supplemented in per
// SPEC_FULL.md since spec.md itself is silent on what happens when
// initial-file doesn't exist.
func (r *Resolver) buildEditorArgv(acc *mergedFragment, projectDir string) ([]string, bool, error) {
	var file *string
	if acc.InitialFile != "" {
		abs := filepath.Join(projectDir, acc.InitialFile)
		if statExists(abs) {
			// $(FILE) is bound to the path as written, relative to
			// project-dir, which is also the editor's working directory.
			rel := acc.InitialFile
			file = &rel
		} else {
			r.log().Warn("initial-file does not exist, launching without a bound file",
				"project-dir", projectDir, "initial-file", acc.InitialFile)
		}
	}

	template := acc.EditorCmdWithoutFile
	if file != nil {
		template = acc.EditorCmdWithFile
	}
	if len(template) == 0 {
		return nil, false, &EmptyEditorArgvError{}
	}

	argv := make([]string, 0, len(template))
	for _, tok := range template {
		resolved, ok, err := r.Ctx.ExpandEditorArg(tok, file)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		argv = append(argv, resolved)
	}
	if len(argv) == 0 {
		return nil, false, &EmptyEditorArgvError{}
	}

	if acc.AutoNixShell && sandbox.HasNixShellFile(projectDir, statExists) {
		argv = sandbox.BuildNixShellArgv(argv)
	}

	return argv, acc.EditorDetach, nil
}

